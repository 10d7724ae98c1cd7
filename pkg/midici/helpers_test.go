package midici

import (
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/midici-protocol/midici-go/pkg/loopback"
	"github.com/midici-protocol/midici-go/pkg/muid"
	"github.com/midici-protocol/midici-go/pkg/profile"
	"github.com/midici-protocol/midici-go/pkg/property"
	"github.com/midici-protocol/midici-go/pkg/sysex"
	"github.com/midici-protocol/midici-go/pkg/wire"
)

const (
	initiatorMUID muid.MUID = 19474
	responderMUID muid.MUID = 37564
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// ---------------------------------------------------------------------------
// stubProfiles
// ---------------------------------------------------------------------------

type stubProfiles struct{ mock.Mock }

func (s *stubProfiles) Profiles() []profile.Entry {
	return s.Called().Get(0).([]profile.Entry)
}

func (s *stubProfiles) Details(id profile.ID, target byte) ([]byte, error) {
	ret := s.Called(id, target)
	var data []byte
	if ret.Get(0) != nil {
		data = ret.Get(0).([]byte)
	}
	return data, ret.Error(1)
}

// ---------------------------------------------------------------------------
// stubProperties
// ---------------------------------------------------------------------------

type stubProperties struct{ mock.Mock }

func (s *stubProperties) Resources() []property.ResourceInfo {
	return s.Called().Get(0).([]property.ResourceInfo)
}

func (s *stubProperties) Get(resource, resID string) ([]byte, error) {
	ret := s.Called(resource, resID)
	var body []byte
	if ret.Get(0) != nil {
		body = ret.Get(0).([]byte)
	}
	return body, ret.Error(1)
}

func (s *stubProperties) Set(resource, resID string, body []byte) error {
	return s.Called(resource, resID, body).Error(0)
}

var (
	_ profile.Service  = (*stubProfiles)(nil)
	_ property.Service = (*stubProperties)(nil)
)

// ---------------------------------------------------------------------------
// fixtures
// ---------------------------------------------------------------------------

func testInitiatorConfig(clock *fakeClock) InitiatorConfig {
	cfg := DefaultInitiatorConfig()
	cfg.MUID = initiatorMUID
	cfg.Clock = clock.Now
	cfg.Device = DeviceInfo{Manufacturer: 0, Family: 1, Model: 2, Version: 3}
	return cfg
}

func testResponderConfig(clock *fakeClock) ResponderConfig {
	cfg := DefaultResponderConfig()
	cfg.MUID = responderMUID
	cfg.Clock = clock.Now
	cfg.Device = DeviceInfo{
		Manufacturer:     0,
		Family:           0x0102,
		Model:            0x0304,
		Version:          0x01000000,
		ManufacturerName: "Example Instruments",
		ModelName:        "Synth One",
		SerialNumber:     "SN-0001",
	}
	return cfg
}

// pair joins an initiator and a responder through a loopback pipe; the
// initiator sits on end A.
type pair struct {
	pipe  *loopback.Pipe[[]byte]
	init  *Initiator
	resp  *Responder
	clock *fakeClock
}

func newPair(t *testing.T, icfg InitiatorConfig, rcfg ResponderConfig) *pair {
	t.Helper()
	p := loopback.NewBytes()
	p.Record(true)

	i, err := NewInitiator(icfg, p.A().Send)
	require.NoError(t, err)
	r, err := NewResponder(rcfg, p.B().Send)
	require.NoError(t, err)

	p.A().Handle(i.ProcessInput)
	p.B().Handle(r.ProcessInput)
	return &pair{pipe: p, init: i, resp: r}
}

func newDefaultPair(t *testing.T) *pair {
	t.Helper()
	clock := newFakeClock()
	p := newPair(t, testInitiatorConfig(clock), testResponderConfig(clock))
	p.clock = clock
	return p
}

func (p *pair) flush(t *testing.T) {
	t.Helper()
	require.NoError(t, p.pipe.Flush())
}

// discover runs discovery to completion and expects a clean exchange.
func (p *pair) discover(t *testing.T) Connection {
	t.Helper()
	require.NoError(t, p.init.SendDiscovery())
	p.flush(t)
	require.Empty(t, p.pipe.Errors())
	c, ok := p.init.Connection(p.resp.MUID())
	require.True(t, ok)
	return c
}

// sent decodes the recorded messages delivered to a side.
func (p *pair) sent(t *testing.T, to loopback.Side) []wire.Message {
	t.Helper()
	var out []wire.Message
	for _, data := range p.pipe.History(to) {
		msg, err := sysex.Decode(data)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func countSubID(msgs []wire.Message, sub wire.SubID) int {
	n := 0
	for _, m := range msgs {
		if m.MessageHeader().SubID == sub {
			n++
		}
	}
	return n
}

// recorder is a Sender that keeps decoded messages.
type recorder struct {
	t    *testing.T
	msgs []wire.Message
}

func (r *recorder) send(data []byte) error {
	msg, err := sysex.Decode(data)
	require.NoError(r.t, err)
	r.msgs = append(r.msgs, msg)
	return nil
}

func frame(t *testing.T, msg wire.Message) []byte {
	t.Helper()
	data, err := sysex.Encode(msg)
	require.NoError(t, err)
	return data
}
