package transport

// MessageReader reads whole messages: SysEx byte slices or UMP packets.
// Implemented by SysExReader and UMPReader.
type MessageReader[T any] interface {
	// ReadMessage blocks until a complete message arrives.
	ReadMessage() (T, error)
}

// MessageWriter writes whole messages.
// Implemented by SysExWriter and UMPWriter.
type MessageWriter[T any] interface {
	// WriteMessage validates and writes one message.
	WriteMessage(msg T) error
}

// MessageReadWriter provides message I/O in both directions.
type MessageReadWriter[T any] interface {
	MessageReader[T]
	MessageWriter[T]
}

// Compile-time interface satisfaction checks.
var (
	_ MessageReadWriter[[]byte]   = (*SysExFramer)(nil)
	_ MessageReadWriter[[]uint32] = (*UMPFramer)(nil)
)
