package subscription

import (
	"testing"
	"time"

	"github.com/midici-protocol/midici-go/pkg/muid"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

const peer muid.MUID = 19474

func TestSubscriptionBasic(t *testing.T) {
	sub := NewSubscription("sub1", peer, "ProgramList", "", time.Second, nil)

	if sub.ID != "sub1" {
		t.Errorf("ID = %q, want sub1", sub.ID)
	}
	if !sub.IsActive() {
		t.Error("IsActive() = false, want true")
	}
	if !sub.Matches("ProgramList", "bank1") {
		t.Error("empty ResID should match every resource ID")
	}
	if sub.Matches("ChannelList", "") {
		t.Error("different resource should not match")
	}

	sub.Deactivate()
	if sub.IsActive() {
		t.Error("IsActive() = true after deactivate, want false")
	}
	if sub.RecordChange([]byte("x")) {
		t.Error("inactive subscription should ignore changes")
	}
}

func TestSubscriptionCoalescing(t *testing.T) {
	clock := newFakeClock()
	sub := NewSubscription("sub1", peer, "X", "", 100*time.Millisecond, clock.Now)

	if !sub.RecordChange([]byte("1")) {
		t.Error("first RecordChange should start the window")
	}
	if sub.RecordChange([]byte("2")) {
		t.Error("second RecordChange should not start a new window")
	}
	sub.RecordChange([]byte("3"))

	if got := sub.PendingNotification(false); got != nil {
		t.Errorf("PendingNotification before window = %q, want nil", got)
	}
	if d := sub.TimeUntilCoalesceExpiry(); d != 100*time.Millisecond {
		t.Errorf("TimeUntilCoalesceExpiry = %v", d)
	}

	clock.Advance(150 * time.Millisecond)
	got := sub.PendingNotification(false)
	if string(got) != "3" {
		t.Errorf("PendingNotification = %q, want last value 3", got)
	}
	if got := sub.PendingNotification(false); got != nil {
		t.Error("pending change should be cleared after notification")
	}
}

func TestSubscriptionBounceBack(t *testing.T) {
	tests := []struct {
		name     string
		suppress bool
		want     bool
	}{
		{"suppressed", true, false},
		{"not suppressed", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := NewSubscription("sub1", peer, "X", "", 0, nil)
			sub.SetPrimingBody([]byte("a"))
			sub.RecordChange([]byte("b"))
			sub.RecordChange([]byte("a"))

			got := sub.PendingNotification(tt.suppress) != nil
			if got != tt.want {
				t.Errorf("notified = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestManagerSubscribe(t *testing.T) {
	m := NewManager()

	id, err := m.Subscribe(peer, "ProgramList", "", []byte("[]"))
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if id != "sub1" {
		t.Errorf("id = %q, want sub1", id)
	}

	again, err := m.Subscribe(peer, "ProgramList", "", nil)
	if err != nil {
		t.Fatalf("Subscribe again failed: %v", err)
	}
	if again != id {
		t.Errorf("repeated subscribe id = %q, want %q", again, id)
	}

	other, _ := m.Subscribe(37564, "ProgramList", "", nil)
	if other != "sub2" {
		t.Errorf("second peer id = %q, want sub2", other)
	}
	if m.Count() != 2 {
		t.Errorf("Count = %d, want 2", m.Count())
	}

	if _, err := m.Subscribe(peer, "", "", nil); err != ErrInvalidResource {
		t.Errorf("empty resource err = %v", err)
	}
}

func TestManagerUnsubscribe(t *testing.T) {
	m := NewManager()
	id, _ := m.Subscribe(peer, "X", "", nil)

	if err := m.Unsubscribe(id); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if err := m.Unsubscribe(id); err != ErrSubscriptionNotFound {
		t.Errorf("second Unsubscribe err = %v, want ErrSubscriptionNotFound", err)
	}
	if _, err := m.Get(id); err != ErrSubscriptionNotFound {
		t.Errorf("Get err = %v", err)
	}
}

func TestManagerResourceExhausted(t *testing.T) {
	m := NewManagerWithConfig(Config{MaxSubscriptions: 1})
	if _, err := m.Subscribe(peer, "A", "", nil); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if _, err := m.Subscribe(peer, "B", "", nil); err != ErrResourceExhausted {
		t.Errorf("err = %v, want ErrResourceExhausted", err)
	}
}

func TestManagerNotifyChange(t *testing.T) {
	m := NewManager()
	idA, _ := m.Subscribe(peer, "ProgramList", "", []byte("old"))
	m.Subscribe(peer, "ChannelList", "", nil)
	idC, _ := m.Subscribe(37564, "ProgramList", "bank2", nil)

	var got []Notification
	m.OnNotification(func(n Notification) { got = append(got, n) })

	m.NotifyChange("ProgramList", "bank1", []byte("new"))
	m.ProcessNotifications()

	if len(got) != 1 {
		t.Fatalf("notifications = %d, want 1", len(got))
	}
	if got[0].SubscriptionID != idA || got[0].Peer != peer || string(got[0].Body) != "new" {
		t.Errorf("notification = %+v", got[0])
	}

	got = nil
	m.NotifyChange("ProgramList", "bank2", []byte("b2"))
	m.ProcessNotifications()
	if len(got) != 2 || got[0].SubscriptionID != idA || got[1].SubscriptionID != idC {
		t.Errorf("notifications = %+v, want %s then %s", got, idA, idC)
	}
}

func TestManagerRemovePeer(t *testing.T) {
	m := NewManager()
	m.Subscribe(peer, "A", "", nil)
	m.Subscribe(peer, "B", "", nil)
	m.Subscribe(37564, "A", "", nil)

	if n := m.RemovePeer(peer); n != 2 {
		t.Errorf("RemovePeer = %d, want 2", n)
	}
	list := m.List()
	if len(list) != 1 || list[0].Peer != 37564 {
		t.Errorf("List = %+v", list)
	}

	m.ClearAll()
	if m.Count() != 0 {
		t.Errorf("Count after ClearAll = %d", m.Count())
	}
}
