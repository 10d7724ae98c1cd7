package log

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureLogger struct {
	events []Event
}

func (c *captureLogger) Log(e Event) { c.events = append(c.events, e) }

func reqID(v uint8) *uint8 { return &v }

func sampleEvents() []Event {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	return []Event{
		{
			Timestamp: ts,
			SessionID: "s-1",
			Direction: DirectionOut,
			Layer:     LayerSysEx,
			LocalRole: RoleInitiator,
			Frame:     NewFrameEvent([]byte{0xF0, 0x7E, 0x7F, 0x0D, 0x70, 0xF7}, 0),
		},
		{
			Timestamp:  ts.Add(time.Millisecond),
			SessionID:  "s-1",
			Direction:  DirectionIn,
			Layer:      LayerCI,
			LocalRole:  RoleInitiator,
			LocalMUID:  19474,
			RemoteMUID: 37564,
			Message: &MessageEvent{
				SubID:       0x35,
				Name:        "GetPropertyDataReply",
				Version:     2,
				Source:      37564,
				Destination: 19474,
				RequestID:   reqID(1),
				ChunkIndex:  1,
				NumChunks:   1,
				Resource:    "DeviceInfo",
			},
		},
		{
			Timestamp:  ts.Add(2 * time.Millisecond),
			SessionID:  "s-2",
			Direction:  DirectionIn,
			Layer:      LayerCI,
			Category:   CategoryState,
			LocalRole:  RoleResponder,
			RemoteMUID: 19474,
			StateChange: &StateChangeEvent{
				Entity:   StateEntityConnection,
				OldState: "DISCOVERED",
				NewState: "ACTIVE",
			},
		},
	}
}

func TestEventCBORRoundTrip(t *testing.T) {
	for _, e := range sampleEvents() {
		data, err := EncodeEvent(e)
		require.NoError(t, err)

		got, err := DecodeEvent(data)
		require.NoError(t, err)
		assert.True(t, e.Timestamp.Equal(got.Timestamp), "timestamp keeps nanoseconds")
		got.Timestamp = e.Timestamp
		assert.Equal(t, e, got)
	}

	_, err := DecodeEvent([]byte{0xFF})
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestReaderInterruptedWrite(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, e := range sampleEvents()[:2] {
		require.NoError(t, enc.Encode(e))
	}
	// Drop the tail of the last record.
	buf.Truncate(buf.Len() - 3)

	r := NewStreamReader(&buf, Filter{})
	_, err := r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestNewFrameEventTruncates(t *testing.T) {
	f := NewFrameEvent(make([]byte, 10), 4)
	assert.Equal(t, 10, f.Size)
	assert.Len(t, f.Data, 4)
	assert.True(t, f.Truncated)

	f = NewFrameEvent([]byte{1, 2}, 0)
	assert.False(t, f.Truncated)
	assert.Equal(t, []byte{1, 2}, f.Data)
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "OUT", DirectionOut.String())
	assert.Equal(t, "CI", LayerCI.String())
	assert.Equal(t, "UMP", LayerUMP.String())
	assert.Equal(t, "STATE", CategoryState.String())
	assert.Equal(t, "RESPONDER", RoleResponder.String())
	assert.Equal(t, "UNKNOWN", Role(0).String())
	assert.Equal(t, "MUID", StateEntityMUID.String())
}

func TestFileLoggerAndFilteredReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.mlog")

	logger, err := NewFileLogger(path)
	require.NoError(t, err)
	for _, e := range sampleEvents() {
		logger.Log(e)
	}
	require.NoError(t, logger.Flush())
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close(), "second Close is a no-op")
	logger.Log(sampleEvents()[0])

	r, err := NewReader(path)
	require.NoError(t, err)
	n := 0
	for {
		_, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		n++
	}
	require.NoError(t, r.Close())
	assert.Equal(t, 3, n)

	remote := uint32(37564)
	r, err = NewFilteredReader(path, Filter{RemoteMUID: &remote})
	require.NoError(t, err)
	defer r.Close()
	e, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "DeviceInfo", e.Message.Resource)
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestFilterMatches(t *testing.T) {
	events := sampleEvents()
	role := RoleResponder
	sub := uint8(0x35)
	in := DirectionIn
	start := events[1].Timestamp

	tests := []struct {
		name   string
		filter Filter
		want   []bool
	}{
		{"empty", Filter{}, []bool{true, true, true}},
		{"session", Filter{SessionID: "s-2"}, []bool{false, false, true}},
		{"role", Filter{Role: &role}, []bool{false, false, true}},
		{"sub-id", Filter{SubID: &sub}, []bool{false, true, false}},
		{"direction", Filter{Direction: &in}, []bool{false, true, true}},
		{"time", Filter{TimeStart: &start}, []bool{false, true, true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i, e := range events {
				assert.Equal(t, tt.want[i], tt.filter.Matches(e), "event %d", i)
			}
		})
	}
}

func TestStreamReader(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, e := range sampleEvents() {
		require.NoError(t, enc.Encode(e))
	}

	layer := LayerSysEx
	r := NewStreamReader(&buf, Filter{Layer: &layer})
	e, err := r.Next()
	require.NoError(t, err)
	assert.NotNil(t, e.Frame)
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
	assert.NoError(t, r.Close())
}

func TestMultiLogger(t *testing.T) {
	a, b := &captureLogger{}, &captureLogger{}
	m := NewMultiLogger(a, nil, b)
	assert.Equal(t, 2, m.Len())

	m.Log(sampleEvents()[0])
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

func TestRecorder(t *testing.T) {
	c := &captureLogger{}
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRecorder(c, RoleEndpoint)
	r.Now = func() time.Time { return ts }

	require.True(t, r.Enabled())
	assert.Len(t, r.SessionID, 36)

	r.Log(Event{Layer: LayerUMP})
	require.Len(t, c.events, 1)
	assert.Equal(t, r.SessionID, c.events[0].SessionID)
	assert.Equal(t, RoleEndpoint, c.events[0].LocalRole)
	assert.Equal(t, ts, c.events[0].Timestamp)

	var nilRec *Recorder
	assert.False(t, nilRec.Enabled())
	nilRec.Log(Event{})
	assert.False(t, NewRecorder(NoopLogger{}, RoleInitiator).Enabled())
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	adapter := NewSlogAdapter(slog.New(handler))

	adapter.Log(sampleEvents()[1])

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "protocol", entry["msg"])
	assert.Equal(t, "IN", entry["direction"])
	assert.Equal(t, "CI", entry["layer"])
	assert.Equal(t, "INITIATOR", entry["role"])
	assert.Equal(t, "0x00092BC", entry["remote_muid"])
	assert.Equal(t, "DeviceInfo", entry["resource"])
	assert.Equal(t, float64(1), entry["request_id"])
}
