package subscription

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/midici-protocol/midici-go/pkg/muid"
)

// Subscription errors.
var (
	ErrInvalidResource      = errors.New("invalid subscription resource")
	ErrResourceExhausted    = errors.New("maximum subscriptions reached")
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// Default subscription limits.
const (
	DefaultMaxSubscriptions = 64
	DefaultMinInterval      = 0
)

// Config holds subscription manager configuration.
type Config struct {
	// MaxSubscriptions is the maximum number of subscriptions allowed.
	MaxSubscriptions int

	// MinInterval is the coalescing window for change notifications.
	MinInterval time.Duration

	// SuppressBounceBack enables bounce-back suppression.
	SuppressBounceBack bool

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// DefaultConfig returns the default subscription configuration.
func DefaultConfig() Config {
	return Config{
		MaxSubscriptions:   DefaultMaxSubscriptions,
		MinInterval:        DefaultMinInterval,
		SuppressBounceBack: true,
	}
}

// Info is a read-only view of a subscription.
type Info struct {
	ID       string
	Peer     muid.MUID
	Resource string
	ResID    string
}

// Subscription represents an active subscription.
type Subscription struct {
	mu sync.RWMutex

	// ID is the subscribeId handed to the initiator.
	ID string

	// Peer is the subscribing initiator.
	Peer muid.MUID

	// Resource and ResID identify the subscribed property.
	Resource string
	ResID    string

	// MinInterval is the minimum time between notifications.
	MinInterval time.Duration

	now func() time.Time

	lastNotified      time.Time
	lastBody          []byte
	pending           []byte
	changeWindowStart time.Time
	hasChanges        bool
	active            bool
}

// NewSubscription creates a new subscription. A nil clock uses time.Now.
func NewSubscription(id string, peer muid.MUID, resource, resID string, minInterval time.Duration, clock func() time.Time) *Subscription {
	if clock == nil {
		clock = time.Now
	}
	return &Subscription{
		ID:           id,
		Peer:         peer,
		Resource:     resource,
		ResID:        resID,
		MinInterval:  minInterval,
		now:          clock,
		lastNotified: clock(),
		active:       true,
	}
}

// Info returns a read-only view of the subscription.
func (s *Subscription) Info() Info {
	return Info{ID: s.ID, Peer: s.Peer, Resource: s.Resource, ResID: s.ResID}
}

// Matches reports whether a change to resource/resID concerns s. An empty
// ResID on the subscription matches every resource ID.
func (s *Subscription) Matches(resource, resID string) bool {
	return s.Resource == resource && (s.ResID == "" || s.ResID == resID)
}

// IsActive returns whether the subscription is active.
func (s *Subscription) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Deactivate marks the subscription as inactive.
func (s *Subscription) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}

// RecordChange records a new resource body.
// Returns true if this change starts the coalescing window.
func (s *Subscription) RecordChange(body []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return false
	}

	isNewWindow := !s.hasChanges
	if isNewWindow {
		s.changeWindowStart = s.now()
	}
	s.pending = append(s.pending[:0:0], body...)
	s.hasChanges = true
	return isNewWindow
}

// PendingNotification returns the body to notify, or nil when nothing is due.
// It clears the pending change.
func (s *Subscription) PendingNotification(suppressBounceBack bool) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active || !s.hasChanges {
		return nil
	}
	now := s.now()
	if now.Sub(s.changeWindowStart) < s.MinInterval {
		return nil
	}

	body := s.pending
	s.pending = nil
	s.hasChanges = false

	if suppressBounceBack && s.lastBody != nil && bytes.Equal(s.lastBody, body) {
		return nil
	}
	if body == nil {
		body = []byte{}
	}
	s.lastBody = body
	s.lastNotified = now
	return body
}

// SetPrimingBody records the body the subscriber already holds.
func (s *Subscription) SetPrimingBody(body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastBody = append([]byte{}, body...)
	s.lastNotified = s.now()
}

// TimeSinceLastNotification returns time since the last notification.
func (s *Subscription) TimeSinceLastNotification() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now().Sub(s.lastNotified)
}

// TimeUntilCoalesceExpiry returns time until the coalescing window expires.
// Returns 0 if no changes are pending.
func (s *Subscription) TimeUntilCoalesceExpiry() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasChanges {
		return 0
	}
	elapsed := s.now().Sub(s.changeWindowStart)
	if elapsed >= s.MinInterval {
		return 0
	}
	return s.MinInterval - elapsed
}
