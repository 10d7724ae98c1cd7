package discovery

import (
	"context"
	"time"
)

// Advertiser publishes ports over mDNS.
type Advertiser interface {
	// Advertise starts advertising a port. Advertising the same instance
	// name again replaces the earlier record.
	Advertise(ctx context.Context, info *PortInfo) error

	// Withdraw stops advertising one instance.
	Withdraw(instanceName string) error

	// Stop withdraws every advertised port.
	Stop()
}

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface specifies which network interface to advertise on.
	// Empty string means all interfaces.
	Interface string

	// TTL is the record time-to-live. Zero uses the library default.
	TTL time.Duration
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{
		TTL: 120 * time.Second,
	}
}
