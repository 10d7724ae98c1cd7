// Package transport carries MIDI-CI and UMP stream messages over byte
// streams such as serial lines, pipes and sockets.
//
// The transport layer handles:
//   - SysEx framing on a MIDI 1.0 byte stream (F0 ... F7)
//   - UMP packet framing on a big-endian 32-bit word stream
//   - Ports that run a read loop and serialize writes
//   - Periodic maintenance for property timeouts and notifications
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   MIDI-CI / UMP Stream msgs    │
//	├────────────────────────────────┤
//	│  SysEx F0..F7 │ UMP packets    │
//	├────────────────────────────────┤
//	│  byte stream (io.ReadWriter)   │
//	└────────────────────────────────┘
//
// # Byte Stream Rules
//
// System Real Time bytes (F8-FF) may appear inside a SysEx message and are
// skipped. Any other status byte ends the message early; the partial
// message is reported as ErrFrameTruncated and dropped. Bytes outside a
// SysEx message are ignored.
package transport
