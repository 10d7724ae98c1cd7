package log

import (
	"time"
)

// Event represents a protocol log event.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies one initiator, responder or endpoint instance (UUID).
	SessionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// LocalRole is the role of the logging instance.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	// LocalMUID is the logging instance's MUID (MIDI-CI only).
	LocalMUID uint32 `cbor:"7,keyasint,omitempty"`

	// RemoteMUID is the peer's MUID when known.
	RemoteMUID uint32 `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Raw SysEx bytes or UMP words
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"` // Decoded MIDI-CI message
	Stream      *StreamEvent      `cbor:"12,keyasint,omitempty"` // Decoded UMP stream message
	StateChange *StateChangeEvent `cbor:"13,keyasint,omitempty"` // Connection / endpoint state
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerSysEx is the SysEx framing layer (raw bytes).
	LayerSysEx Layer = 0
	// LayerCI is the decoded MIDI-CI message layer.
	LayerCI Layer = 1
	// LayerUMP is the UMP stream message layer.
	LayerUMP Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerSysEx:
		return "SYSEX"
	case LayerCI:
		return "CI"
	case LayerUMP:
		return "UMP"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message.
	CategoryMessage Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 1
	// CategoryError indicates an error event.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role is the role of the logging instance.
type Role uint8

const (
	// RoleInitiator is a MIDI-CI initiator.
	RoleInitiator Role = 1
	// RoleResponder is a MIDI-CI responder.
	RoleResponder Role = 2
	// RoleEndpoint is a UMP endpoint.
	RoleEndpoint Role = 3
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "INITIATOR"
	case RoleResponder:
		return "RESPONDER"
	case RoleEndpoint:
		return "ENDPOINT"
	default:
		return "UNKNOWN"
	}
}

// DefaultMaxFrameData bounds the bytes kept in a FrameEvent.
const DefaultMaxFrameData = 512

// FrameEvent captures a raw SysEx message or UMP packet.
type FrameEvent struct {
	// Size is the frame size in bytes (or words for UMP).
	Size int `cbor:"1,keyasint"`

	// Data is the raw bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Words holds UMP words.
	Words []uint32 `cbor:"3,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"4,keyasint,omitempty"`
}

// NewFrameEvent captures data, keeping at most limit bytes.
// A limit of zero selects DefaultMaxFrameData.
func NewFrameEvent(data []byte, limit int) *FrameEvent {
	if limit <= 0 {
		limit = DefaultMaxFrameData
	}
	f := &FrameEvent{Size: len(data)}
	if len(data) > limit {
		data = data[:limit]
		f.Truncated = true
	}
	f.Data = append([]byte(nil), data...)
	return f
}

// MessageEvent captures a decoded MIDI-CI message.
type MessageEvent struct {
	// SubID is the MIDI-CI sub-ID#2.
	SubID uint8 `cbor:"1,keyasint"`

	// Name is the message name.
	Name string `cbor:"2,keyasint"`

	// Version is the message format version.
	Version uint8 `cbor:"3,keyasint,omitempty"`

	// Source and Destination are the header MUIDs.
	Source      uint32 `cbor:"4,keyasint"`
	Destination uint32 `cbor:"5,keyasint"`

	// For property exchange: the request ID and chunk position.
	RequestID  *uint8 `cbor:"6,keyasint,omitempty"`
	ChunkIndex uint16 `cbor:"7,keyasint,omitempty"`
	NumChunks  uint16 `cbor:"8,keyasint,omitempty"`

	// Resource is the property resource, when the header has been parsed.
	Resource string `cbor:"9,keyasint,omitempty"`

	// Status is the property reply status or NAK status code.
	Status *int `cbor:"10,keyasint,omitempty"`
}

// StreamEvent captures a decoded UMP stream message.
type StreamEvent struct {
	// Status is the 10-bit stream status.
	Status uint16 `cbor:"1,keyasint"`

	// Name is the message name.
	Name string `cbor:"2,keyasint"`

	// Form is the multi-packet format (complete/start/continue/end).
	Form uint8 `cbor:"3,keyasint,omitempty"`
}

// StateChangeEvent captures connection and endpoint lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityInitiator indicates the initiator's own discovery state.
	StateEntityInitiator StateEntity = 0
	// StateEntityConnection indicates a per-peer connection state change.
	StateEntityConnection StateEntity = 1
	// StateEntityMUID indicates a MUID allocation or invalidation.
	StateEntityMUID StateEntity = 2
	// StateEntityEndpoint indicates a UMP endpoint discovery state change.
	StateEntityEndpoint StateEntity = 3
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityInitiator:
		return "INITIATOR"
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityMUID:
		return "MUID"
	case StateEntityEndpoint:
		return "ENDPOINT"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the error code (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
