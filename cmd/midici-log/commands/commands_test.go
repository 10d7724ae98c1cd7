package commands

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midici-protocol/midici-go/pkg/log"
)

var baseTime = time.Date(2026, 3, 2, 9, 30, 0, 250000000, time.UTC)

const (
	initiatorSession = "a1b2c3d4-0000-4000-8000-000000000001"
	responderSession = "f0e1d2c3-0000-4000-8000-000000000002"
)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.mlog")

	logger, err := log.NewFileLogger(path)
	require.NoError(t, err)
	for _, e := range events {
		logger.Log(e)
	}
	require.NoError(t, logger.Close())
	return path
}

func sampleEvents() []log.Event {
	reqID := uint8(3)
	status := 200
	code := 0x41
	return []log.Event{
		{
			Timestamp: baseTime,
			SessionID: initiatorSession,
			Direction: log.DirectionOut,
			Layer:     log.LayerSysEx,
			Category:  log.CategoryMessage,
			LocalRole: log.RoleInitiator,
			LocalMUID: 0x0123456,
			Frame:     log.NewFrameEvent([]byte{0xF0, 0x7E, 0x7F, 0x0D, 0x70, 0xF7}, 0),
		},
		{
			Timestamp: baseTime.Add(time.Millisecond),
			SessionID: initiatorSession,
			Direction: log.DirectionOut,
			Layer:     log.LayerCI,
			Category:  log.CategoryMessage,
			LocalRole: log.RoleInitiator,
			LocalMUID: 0x0123456,
			Message: &log.MessageEvent{
				SubID: 0x70, Name: "Discovery", Version: 2,
				Source: 0x0123456, Destination: 0x0FFFFFFF,
			},
		},
		{
			Timestamp:  baseTime.Add(5 * time.Millisecond),
			SessionID:  responderSession,
			Direction:  log.DirectionIn,
			Layer:      log.LayerCI,
			Category:   log.CategoryMessage,
			LocalRole:  log.RoleResponder,
			LocalMUID:  0x00092BC,
			RemoteMUID: 0x0123456,
			Message: &log.MessageEvent{
				SubID: 0x34, Name: "Get Property Data", Version: 2,
				Source: 0x0123456, Destination: 0x00092BC,
				RequestID: &reqID, ChunkIndex: 1, NumChunks: 1,
				Resource: "DeviceInfo", Status: &status,
			},
		},
		{
			Timestamp:  baseTime.Add(10 * time.Millisecond),
			SessionID:  initiatorSession,
			Direction:  log.DirectionIn,
			Layer:      log.LayerCI,
			Category:   log.CategoryState,
			LocalRole:  log.RoleInitiator,
			RemoteMUID: 0x00092BC,
			StateChange: &log.StateChangeEvent{
				Entity: log.StateEntityConnection, OldState: "NEGOTIATING", NewState: "ACTIVE",
			},
		},
		{
			Timestamp:  baseTime.Add(20 * time.Millisecond),
			SessionID:  initiatorSession,
			Direction:  log.DirectionIn,
			Layer:      log.LayerCI,
			Category:   log.CategoryMessage,
			LocalRole:  log.RoleInitiator,
			RemoteMUID: 0x00092BC,
			Message: &log.MessageEvent{
				SubID: 0x7F, Name: "NAK", Version: 2,
				Source: 0x00092BC, Destination: 0x0123456, Status: &code,
			},
		},
		{
			Timestamp: baseTime.Add(30 * time.Millisecond),
			SessionID: responderSession,
			Direction: log.DirectionIn,
			Layer:     log.LayerUMP,
			Category:  log.CategoryMessage,
			LocalRole: log.RoleEndpoint,
			Stream:    &log.StreamEvent{Status: 0x000, Name: "Endpoint Discovery"},
		},
		{
			Timestamp: baseTime.Add(time.Second),
			SessionID: responderSession,
			Direction: log.DirectionIn,
			Layer:     log.LayerSysEx,
			Category:  log.CategoryError,
			LocalRole: log.RoleResponder,
			Error: &log.ErrorEventData{
				Layer: log.LayerSysEx, Message: "sysex message too large", Code: &code, Context: "read",
			},
		},
	}
}

func TestFormatFrameEvent(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, sampleEvents()[0])
	out := buf.String()

	assert.Contains(t, out, "2026-03-02T09:30:00.250000Z")
	assert.Contains(t, out, "[a1b2c3d4]")
	assert.Contains(t, out, "INITIATOR OUT SYSEX SysEx")
	assert.Contains(t, out, "Size: 6 bytes")
	assert.Contains(t, out, "Data: f07e7f0d70f7")
	assert.NotContains(t, out, "truncated")
}

func TestFormatTruncatedFrame(t *testing.T) {
	event := log.Event{Frame: log.NewFrameEvent(make([]byte, 10), 4)}
	var buf bytes.Buffer
	formatEvent(&buf, event)
	assert.Contains(t, buf.String(), "Size: 10 bytes")
	assert.Contains(t, buf.String(), "(truncated)")
}

func TestFormatPacketFrame(t *testing.T) {
	event := log.Event{
		Layer: log.LayerUMP,
		Frame: &log.FrameEvent{Size: 4, Words: []uint32{0xF0000101, 0x1F, 0, 0}},
	}
	var buf bytes.Buffer
	formatEvent(&buf, event)
	assert.Contains(t, buf.String(), "UMP Packet")
	assert.Contains(t, buf.String(), "Words: F0000101 0000001F 00000000 00000000")
}

func TestFormatMessageEvent(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, sampleEvents()[2])
	out := buf.String()

	assert.Contains(t, out, "RESPONDER IN  CI Get Property Data peer=0x0123456")
	assert.Contains(t, out, "SubID: 0x34  Version: 2")
	assert.Contains(t, out, "Source: 0x0123456  Destination: 0x00092BC")
	assert.Contains(t, out, "RequestID: 3  Chunk: 1/1")
	assert.Contains(t, out, "Resource: DeviceInfo")
	assert.Contains(t, out, "Status: 200")
}

func TestFormatStateChangeEvent(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, sampleEvents()[3])
	out := buf.String()

	assert.Contains(t, out, "Entity: CONNECTION")
	assert.Contains(t, out, "NEGOTIATING -> ACTIVE")
}

func TestFormatStreamAndErrorEvents(t *testing.T) {
	events := sampleEvents()

	var buf bytes.Buffer
	formatEvent(&buf, events[5])
	assert.Contains(t, buf.String(), "ENDPOINT IN  UMP Endpoint Discovery")
	assert.Contains(t, buf.String(), "Status: 0x000")

	buf.Reset()
	formatEvent(&buf, events[6])
	assert.Contains(t, buf.String(), "Message: sysex message too large")
	assert.Contains(t, buf.String(), "Code: 65")
	assert.Contains(t, buf.String(), "Context: read")
}

func TestParseFlags(t *testing.T) {
	l, err := ParseLayerFlag("UMP")
	require.NoError(t, err)
	assert.Equal(t, log.LayerUMP, l)
	_, err = ParseLayerFlag("wire")
	assert.Error(t, err)

	d, err := ParseDirectionFlag("Out")
	require.NoError(t, err)
	assert.Equal(t, log.DirectionOut, d)
	_, err = ParseDirectionFlag("sideways")
	assert.Error(t, err)

	c, err := ParseCategoryFlag("state")
	require.NoError(t, err)
	assert.Equal(t, log.CategoryState, c)
	_, err = ParseCategoryFlag("snapshot")
	assert.Error(t, err)

	r, err := ParseRoleFlag("responder")
	require.NoError(t, err)
	assert.Equal(t, log.RoleResponder, r)
	_, err = ParseRoleFlag("controller")
	assert.Error(t, err)
}

func TestParseMUIDFlag(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
		ok   bool
	}{
		{"0x92BC", 0x92BC, true},
		{"37564", 37564, true},
		{"0x0FFFFFFF", 0x0FFFFFFF, true},
		{"0x10000000", 0, false},
		{"muid", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMUIDFlag(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunViewFilters(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	layer := log.LayerCI
	var buf bytes.Buffer
	require.NoError(t, RunView(path, ViewFilter{Layer: &layer}, &buf))
	out := buf.String()
	assert.Contains(t, out, "Discovery")
	assert.Contains(t, out, "NAK")
	assert.NotContains(t, out, "SysEx")
	assert.NotContains(t, out, "UMP")

	peer := uint32(0x00092BC)
	buf.Reset()
	require.NoError(t, RunView(path, ViewFilter{MUID: &peer}, &buf))
	assert.Equal(t, 2, strings.Count(buf.String(), "peer=0x00092BC"))

	assert.Error(t, RunView(filepath.Join(t.TempDir(), "missing"), ViewFilter{}, &buf))
}

func TestRunFilter(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	output := filepath.Join(t.TempDir(), "out.mlog")

	var buf bytes.Buffer
	err := RunFilter(path, FilterOptions{
		Output:    output,
		SessionID: initiatorSession,
		Category:  "message",
	}, &buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Filtered 3 events")

	stats, err := Collect(output)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalEvents)
	assert.Len(t, stats.Sessions, 1)
}

func TestRunFilterBySubIDAndTime(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	output := filepath.Join(t.TempDir(), "nak.mlog")

	var buf bytes.Buffer
	require.NoError(t, RunFilter(path, FilterOptions{
		Output:    output,
		SubID:     "0x7F",
		TimeStart: baseTime.Format(time.RFC3339),
		TimeEnd:   baseTime.Add(time.Minute).Format(time.RFC3339),
	}, &buf))
	assert.Contains(t, buf.String(), "Filtered 1 events")
}

func TestRunFilterRejectsBadOptions(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	output := filepath.Join(t.TempDir(), "out.mlog")

	for name, opts := range map[string]FilterOptions{
		"time":      {TimeStart: "yesterday"},
		"layer":     {Layer: "wire"},
		"direction": {Direction: "up"},
		"category":  {Category: "control"},
		"role":      {Role: "controller"},
		"muid":      {MUID: "0x10000000"},
		"sub-id":    {SubID: "0x100"},
	} {
		t.Run(name, func(t *testing.T) {
			opts.Output = output
			assert.Error(t, RunFilter(path, opts, &bytes.Buffer{}))
		})
	}
}

func TestStats(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	stats, err := Collect(path)
	require.NoError(t, err)

	assert.Equal(t, 7, stats.TotalEvents)
	assert.Equal(t, 2, stats.EventsByLayer[log.LayerSysEx])
	assert.Equal(t, 4, stats.EventsByLayer[log.LayerCI])
	assert.Equal(t, 1, stats.EventsByLayer[log.LayerUMP])
	assert.Equal(t, 1, stats.EventsByCategory[log.CategoryState])
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1, stats.NAKs)
	assert.Equal(t, 1, stats.Messages["Endpoint Discovery"])
	assert.True(t, baseTime.Equal(stats.TimeRange.Start))
	assert.True(t, baseTime.Add(time.Second).Equal(stats.TimeRange.End))

	require.Len(t, stats.Sessions, 2)
	ini := stats.Sessions[initiatorSession]
	assert.Equal(t, 4, ini.Events)
	assert.Equal(t, uint32(0x0123456), ini.LocalMUID)
	assert.Equal(t, 2, ini.Peers[0x00092BC])

	var buf bytes.Buffer
	require.NoError(t, RunStats(path, &buf))
	out := buf.String()
	assert.Contains(t, out, "Total Events: 7")
	assert.Contains(t, out, "Sessions: 2")
	assert.Contains(t, out, "Peer 0x00092BC: 2 events")
	assert.Contains(t, out, "NAKs:   1")
}

func TestExportJSONL(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	var buf bytes.Buffer
	require.NoError(t, Export(path, "jsonl", &buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 7)

	var event log.Event
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &event))
	require.NotNil(t, event.Message)
	assert.Equal(t, "DeviceInfo", event.Message.Resource)
}

func TestExportCSV(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	var buf bytes.Buffer
	require.NoError(t, Export(path, "csv", &buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 8)
	assert.Equal(t, csvHeader, records[0])

	row := records[3]
	assert.Equal(t, "RESPONDER", row[2])
	assert.Equal(t, "0x00092BC", row[6])
	assert.Equal(t, "0x0123456", row[7])
	assert.Equal(t, "Get Property Data", row[8])
	assert.Equal(t, "0x34", row[9])
	assert.Equal(t, "3", row[10])
	assert.Equal(t, "DeviceInfo", row[11])
}

func TestExportUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	err := Export(path, "xml", &bytes.Buffer{})
	assert.ErrorContains(t, err, "unknown format")
}

func TestRunExportToFile(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	output := filepath.Join(t.TempDir(), "events.csv")
	require.NoError(t, RunExport(path, "csv", output))
	assert.FileExists(t, output)
}
