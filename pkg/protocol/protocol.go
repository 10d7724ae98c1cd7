// Package protocol describes the MIDI transport protocols two MIDI-CI peers
// negotiate: MIDI 1.0 byte stream and MIDI 2.0 Universal MIDI Packets.
package protocol

import (
	"errors"
	"fmt"
)

// Type identifies a protocol family.
type Type uint8

const (
	// TypeMidi1 is the MIDI 1.0 protocol.
	TypeMidi1 Type = 0x01
	// TypeMidi2 is the MIDI 2.0 protocol carried in UMP.
	TypeMidi2 Type = 0x02
)

// String returns the protocol name.
func (t Type) String() string {
	switch t {
	case TypeMidi1:
		return "MIDI1"
	case TypeMidi2:
		return "MIDI2"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(t))
	}
}

// Extension bits.
const (
	// ExtMidi1Jitter enables jitter-reduction timestamps with MIDI 1.0 in UMP.
	ExtMidi1Jitter uint8 = 0x01
	// ExtMidi1LargePackets allows MIDI 1.0 messages larger than 32 bits.
	ExtMidi1LargePackets uint8 = 0x02
	// ExtMidi2Jitter enables jitter-reduction timestamps with MIDI 2.0.
	ExtMidi2Jitter uint8 = 0x01
)

// Size is the encoded size of a TypeInfo.
const Size = 5

// ErrShortTypeInfo is returned when fewer than Size bytes are available.
var ErrShortTypeInfo = errors.New("protocol type info truncated")

// TypeInfo describes one protocol entry in a negotiation list.
type TypeInfo struct {
	Type       Type
	Version    uint8
	Extensions uint8
	Reserved1  uint8
	Reserved2  uint8
}

// Well-known protocol entries.
var (
	Midi1 = TypeInfo{Type: TypeMidi1}
	Midi2 = TypeInfo{Type: TypeMidi2}
)

// Midi2ThenMidi1 prefers MIDI 2.0 and falls back to MIDI 1.0.
var Midi2ThenMidi1 = []TypeInfo{Midi2, Midi1}

// String returns a compact description.
func (p TypeInfo) String() string {
	return fmt.Sprintf("%s v%d ext=0x%02X", p.Type, p.Version, p.Extensions)
}

// Bytes returns the wire form.
func (p TypeInfo) Bytes() [Size]byte {
	return [Size]byte{byte(p.Type), p.Version, p.Extensions, p.Reserved1, p.Reserved2}
}

// Parse decodes the first Size bytes of b.
func Parse(b []byte) (TypeInfo, error) {
	if len(b) < Size {
		return TypeInfo{}, fmt.Errorf("%w: %d bytes", ErrShortTypeInfo, len(b))
	}
	return TypeInfo{
		Type:       Type(b[0]),
		Version:    b[1],
		Extensions: b[2],
		Reserved1:  b[3],
		Reserved2:  b[4],
	}, nil
}

// Matches reports whether two entries describe the same protocol and version.
// Extension bits are compared as well since they change the packet format.
func (p TypeInfo) Matches(other TypeInfo) bool {
	return p.Type == other.Type && p.Version == other.Version && p.Extensions == other.Extensions
}

// Contains reports whether list holds an entry matching p.
func Contains(list []TypeInfo, p TypeInfo) bool {
	for _, e := range list {
		if e.Matches(p) {
			return true
		}
	}
	return false
}

// Accept returns the entries of proposed that supported contains, in the
// proposer's order. The responder uses it to answer a negotiation inquiry.
func Accept(proposed, supported []TypeInfo) []TypeInfo {
	var out []TypeInfo
	for _, p := range proposed {
		if Contains(supported, p) {
			out = append(out, p)
		}
	}
	return out
}

// Select returns the first entry of preferred that also appears in offered.
// The preferred list is authoritative: entries only present in offered are
// never chosen.
func Select(preferred, offered []TypeInfo) (TypeInfo, bool) {
	for _, p := range preferred {
		if Contains(offered, p) {
			return p, true
		}
	}
	return TypeInfo{}, false
}
