package subscription

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/midici-protocol/midici-go/pkg/muid"
)

// Notification represents a subscription update to send.
type Notification struct {
	// SubscriptionID is the subscribeId.
	SubscriptionID string

	// Peer is the subscriber's MUID.
	Peer muid.MUID

	Resource string
	ResID    string

	// Body is the full new resource body.
	Body []byte

	// Timestamp is when the notification was generated.
	Timestamp time.Time
}

// Manager manages property subscriptions for a responder.
type Manager struct {
	mu sync.RWMutex

	config Config

	// Active subscriptions by subscribeId
	subscriptions map[string]*Subscription

	// Index by resource for change dispatch
	resourceIndex map[string][]*Subscription

	seq uint32

	onNotification func(Notification)
}

// NewManager creates a new subscription manager with default configuration.
func NewManager() *Manager {
	return NewManagerWithConfig(DefaultConfig())
}

// NewManagerWithConfig creates a new subscription manager with custom configuration.
func NewManagerWithConfig(config Config) *Manager {
	if config.MaxSubscriptions <= 0 {
		config.MaxSubscriptions = DefaultMaxSubscriptions
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &Manager{
		config:        config,
		subscriptions: make(map[string]*Subscription),
		resourceIndex: make(map[string][]*Subscription),
	}
}

// Subscribe creates a subscription for peer and returns its subscribeId.
// current is the body the subscriber is assumed to hold.
func (m *Manager) Subscribe(peer muid.MUID, resource, resID string, current []byte) (string, error) {
	if resource == "" {
		return "", ErrInvalidResource
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// A repeated subscription from the same peer reuses its id.
	for _, sub := range m.resourceIndex[resource] {
		if sub.Peer == peer && sub.ResID == resID {
			sub.SetPrimingBody(current)
			return sub.ID, nil
		}
	}

	if len(m.subscriptions) >= m.config.MaxSubscriptions {
		return "", ErrResourceExhausted
	}

	m.seq++
	id := fmt.Sprintf("sub%d", m.seq)
	sub := NewSubscription(id, peer, resource, resID, m.config.MinInterval, m.config.Clock)
	sub.SetPrimingBody(current)

	m.subscriptions[id] = sub
	m.resourceIndex[resource] = append(m.resourceIndex[resource], sub)
	return id, nil
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, exists := m.subscriptions[id]
	if !exists {
		return ErrSubscriptionNotFound
	}
	m.removeLocked(sub)
	return nil
}

func (m *Manager) removeLocked(sub *Subscription) {
	sub.Deactivate()
	delete(m.subscriptions, sub.ID)

	subs := m.resourceIndex[sub.Resource]
	for i, s := range subs {
		if s.ID == sub.ID {
			m.resourceIndex[sub.Resource] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(m.resourceIndex[sub.Resource]) == 0 {
		delete(m.resourceIndex, sub.Resource)
	}
}

// RemovePeer removes every subscription held by peer and returns how many
// were removed.
func (m *Manager) RemovePeer(peer muid.MUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, sub := range m.subscriptions {
		if sub.Peer == peer {
			m.removeLocked(sub)
			n++
		}
	}
	return n
}

// NotifyChange records a new body for resource/resID.
func (m *Manager) NotifyChange(resource, resID string, body []byte) {
	m.mu.RLock()
	subs := append([]*Subscription(nil), m.resourceIndex[resource]...)
	m.mu.RUnlock()

	for _, sub := range subs {
		if sub.Matches(resource, resID) {
			sub.RecordChange(body)
		}
	}
}

// ProcessNotifications sends every notification whose coalescing window
// has elapsed. Notifications are emitted in subscribeId order.
func (m *Manager) ProcessNotifications() {
	m.mu.RLock()
	subs := m.sortedLocked()
	onNotify := m.onNotification
	config := m.config
	m.mu.RUnlock()

	if onNotify == nil {
		return
	}

	for _, sub := range subs {
		if body := sub.PendingNotification(config.SuppressBounceBack); body != nil {
			onNotify(Notification{
				SubscriptionID: sub.ID,
				Peer:           sub.Peer,
				Resource:       sub.Resource,
				ResID:          sub.ResID,
				Body:           body,
				Timestamp:      config.Clock(),
			})
		}
	}
}

// ClearAll removes all subscriptions.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subscriptions {
		sub.Deactivate()
	}
	m.subscriptions = make(map[string]*Subscription)
	m.resourceIndex = make(map[string][]*Subscription)
}

// Count returns the number of active subscriptions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Get returns a subscription by subscribeId.
func (m *Manager) Get(id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, exists := m.subscriptions[id]
	if !exists {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}

// List returns every subscription ordered by creation.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subs := m.sortedLocked()
	out := make([]Info, len(subs))
	for i, s := range subs {
		out[i] = s.Info()
	}
	return out
}

// OnNotification sets the callback for notifications.
func (m *Manager) OnNotification(fn func(Notification)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onNotification = fn
}

func (m *Manager) sortedLocked() []*Subscription {
	subs := make([]*Subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool {
		return idSeq(subs[i].ID) < idSeq(subs[j].ID)
	})
	return subs
}

func idSeq(id string) int {
	var n int
	fmt.Sscanf(id, "sub%d", &n)
	return n
}
