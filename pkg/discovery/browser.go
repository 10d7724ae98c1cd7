package discovery

import (
	"context"
	"time"
)

// Browser provides mDNS service browsing capabilities.
type Browser interface {
	// Browse searches for ports. The channel delivers each instance once
	// and is closed when ctx is cancelled.
	Browse(ctx context.Context) (<-chan *Service, error)

	// Find returns the first port matching filter, or ErrNotFound when
	// ctx ends first.
	Find(ctx context.Context, filter FilterFunc) (*Service, error)

	// Stop stops all active browsing operations.
	Stop()
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout is the default timeout for Find.
	// Default: 10 seconds.
	BrowseTimeout time.Duration

	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		BrowseTimeout: BrowseTimeout,
	}
}

// FilterFunc is a function that filters browse results.
type FilterFunc func(*Service) bool

// FilterByTransport matches ports carrying the given transport.
func FilterByTransport(t Transport) FilterFunc {
	return func(s *Service) bool {
		return s.Info.Transport == t
	}
}

// FilterByName matches ports whose instance or advertised name equals name.
func FilterByName(name string) FilterFunc {
	return func(s *Service) bool {
		return s.InstanceName == name || s.Info.Name == name
	}
}

// All combines filters; a service must pass every one.
func All(filters ...FilterFunc) FilterFunc {
	return func(s *Service) bool {
		for _, f := range filters {
			if !f(s) {
				return false
			}
		}
		return true
	}
}

// FilterBrowseResults passes on the services accepted by filter.
func FilterBrowseResults(in <-chan *Service, filter FilterFunc) <-chan *Service {
	out := make(chan *Service)
	go func() {
		defer close(out)
		for svc := range in {
			if filter(svc) {
				out <- svc
			}
		}
	}()
	return out
}
