package midici

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/midici-protocol/midici-go/pkg/log"
	"github.com/midici-protocol/midici-go/pkg/muid"
	"github.com/midici-protocol/midici-go/pkg/property"
	"github.com/midici-protocol/midici-go/pkg/sysex"
	"github.com/midici-protocol/midici-go/pkg/wire"
)

// chunkOverhead is the size of a property chunk without header data and
// body: F0/F7, the common header, request ID and four 14-bit fields.
const chunkOverhead = 2 + wire.HeaderSize + 1 + 2 + 2 + 2 + 2

// StatusTerminate is the notify status that ends a property transaction.
const StatusTerminate = 144

// node holds the plumbing shared by Initiator and Responder: MUID
// allocation, framing, operational logging and protocol capture.
type node struct {
	cfg    *Config
	send   Sender
	logger *slog.Logger
	rec    *log.Recorder
	muids  *muid.Registry[wire.Identity]
	codec  property.Codec
	now    func() time.Time
}

func newNode(cfg *Config, role log.Role, send Sender) (*node, error) {
	if send == nil {
		return nil, fmt.Errorf("%w: nil sender", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reg := muid.NewRegistry[wire.Identity](cfg.RandomSource)
	if cfg.MUID != 0 {
		if err := reg.SetOwn(cfg.MUID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	n := &node{
		cfg:    cfg,
		send:   send,
		logger: cfg.logger().With("role", role.String()),
		muids:  reg,
		now:    cfg.clock(),
	}
	if cfg.ProtocolLogger != nil {
		n.rec = log.NewRecorder(cfg.ProtocolLogger, role)
		n.rec.Now = n.now
	}
	return n, nil
}

func (n *node) own() muid.MUID {
	return n.muids.Own()
}

func (n *node) header(sub wire.SubID, dst muid.MUID) wire.Header {
	return wire.NewHeader(sub, n.own(), dst)
}

// addressed reports whether a message is meant for this device.
func (n *node) addressed(h wire.Header) bool {
	return h.Destination == n.own() || h.Destination == muid.Broadcast
}

// emit encodes, frames and sends a message.
func (n *node) emit(msg wire.Message) error {
	h := msg.MessageHeader()
	data, err := sysex.Encode(msg)
	if err != nil {
		n.captureError(h.Destination, "encode "+h.SubID.String(), err)
		return err
	}
	n.capture(log.DirectionOut, data, msg)
	n.logger.Debug("send", "message", h.SubID.String(), "dst", h.Destination, "size", len(data))
	if err := n.send(data); err != nil {
		return fmt.Errorf("send %s: %w", h.SubID, err)
	}
	return nil
}

// receive decodes an inbound SysEx message.
func (n *node) receive(data []byte) (wire.Message, error) {
	msg, err := sysex.Decode(data)
	if err != nil {
		if !errors.Is(err, wire.ErrNotMIDICI) {
			n.logger.Warn("dropping malformed input", "size", len(data), "error", err)
			n.captureError(0, "decode", err)
		}
		return nil, err
	}
	h := msg.MessageHeader()
	n.capture(log.DirectionIn, data, msg)
	n.logger.Debug("recv", "message", h.SubID.String(), "src", h.Source, "dst", h.Destination)
	return msg, nil
}

// sendChunks splits and sends a property exchange message. peerMax limits
// the message size when the peer announced a usable value.
func (n *node) sendChunks(sub wire.SubID, dst muid.MUID, requestID byte, h property.Header, body []byte, peerMax uint32) error {
	hdr, err := h.Marshal()
	if err != nil {
		return fmt.Errorf("%w: %v", property.ErrMalformedHeader, err)
	}
	data, err := n.codec.Encode(h.MutualEncoding, body)
	if err != nil {
		return err
	}

	limit := n.cfg.MaxSysExSize
	if peerMax >= MinSysExSize && peerMax < limit {
		limit = peerMax
	}
	maxData := int(limit) - chunkOverhead - len(hdr)
	if maxData <= 0 {
		return fmt.Errorf("%w: header of %d bytes", ErrMessageTooLarge, len(hdr))
	}
	chunks, err := property.Split(hdr, data, maxData)
	if err != nil {
		return err
	}

	for _, c := range chunks {
		msg := &wire.PropertyChunk{
			Header:     n.header(sub, dst),
			RequestID:  requestID,
			HeaderData: c.Header,
			NumChunks:  c.NumChunks,
			ChunkIndex: c.Index,
			Data:       c.Data,
		}
		if err := n.emit(msg); err != nil {
			return err
		}
	}
	return nil
}

// chooseEncoding picks the body encoding for an outgoing message.
func chooseEncoding(requested property.Encoding, compression bool, body []byte) property.Encoding {
	switch {
	case requested.Compressed() && compression:
		return property.EncodingZlibMcoded7
	case requested == property.EncodingMcoded7 || requested.Compressed():
		return property.EncodingMcoded7
	case sevenBit(body):
		return property.EncodingASCII
	default:
		return property.EncodingMcoded7
	}
}

// wireEncoding maps ASCII to the empty mutualEncoding field.
func wireEncoding(e property.Encoding) property.Encoding {
	if e == property.EncodingASCII {
		return ""
	}
	return e
}

func sevenBit(b []byte) bool {
	for _, c := range b {
		if c&0x80 != 0 {
			return false
		}
	}
	return true
}

func chunkOf(m *wire.PropertyChunk) property.Chunk {
	return property.Chunk{
		Header:    m.HeaderData,
		NumChunks: m.NumChunks,
		Index:     m.ChunkIndex,
		Data:      m.Data,
	}
}

// Protocol capture

func remoteOf(dir log.Direction, h wire.Header) uint32 {
	m := h.Source
	if dir == log.DirectionOut {
		m = h.Destination
	}
	if m == muid.Broadcast {
		return 0
	}
	return uint32(m)
}

func (n *node) capture(dir log.Direction, frame []byte, msg wire.Message) {
	if !n.rec.Enabled() {
		return
	}
	h := msg.MessageHeader()
	remote := remoteOf(dir, h)

	n.rec.Log(log.Event{
		Direction:  dir,
		Layer:      log.LayerSysEx,
		LocalMUID:  uint32(n.own()),
		RemoteMUID: remote,
		Frame:      log.NewFrameEvent(frame, 0),
	})

	me := &log.MessageEvent{
		SubID:       uint8(h.SubID),
		Name:        h.SubID.String(),
		Version:     h.Version,
		Source:      uint32(h.Source),
		Destination: uint32(h.Destination),
	}
	switch m := msg.(type) {
	case *wire.PropertyChunk:
		rid := m.RequestID
		me.RequestID = &rid
		me.ChunkIndex = m.ChunkIndex
		me.NumChunks = m.NumChunks
		if ph, err := property.ParseHeader(m.HeaderData); err == nil {
			me.Resource = ph.Resource
			if ph.Status != 0 {
				status := ph.Status
				me.Status = &status
			}
		}
	case *wire.NAK:
		status := int(m.StatusCode)
		me.Status = &status
	}
	n.rec.Log(log.Event{
		Direction:  dir,
		Layer:      log.LayerCI,
		LocalMUID:  uint32(n.own()),
		RemoteMUID: remote,
		Message:    me,
	})
}

func (n *node) stateChange(entity log.StateEntity, remote muid.MUID, oldState, newState, reason string) {
	n.logger.Info("state change",
		"entity", entity.String(),
		"remote", remote,
		"from", oldState,
		"to", newState,
		"reason", reason)
	if !n.rec.Enabled() {
		return
	}
	n.rec.Log(log.Event{
		Layer:      log.LayerCI,
		Category:   log.CategoryState,
		LocalMUID:  uint32(n.own()),
		RemoteMUID: uint32(remote),
		StateChange: &log.StateChangeEvent{
			Entity:   entity,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

func (n *node) captureError(remote muid.MUID, context string, err error) {
	if !n.rec.Enabled() {
		return
	}
	if remote == muid.Broadcast {
		remote = 0
	}
	n.rec.Log(log.Event{
		Layer:      log.LayerCI,
		Category:   log.CategoryError,
		LocalMUID:  uint32(n.own()),
		RemoteMUID: uint32(remote),
		Error: &log.ErrorEventData{
			Layer:   log.LayerCI,
			Message: err.Error(),
			Context: context,
		},
	})
}
