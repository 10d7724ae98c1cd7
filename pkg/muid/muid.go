// Package muid implements MIDI Unique IDs and the registry a device uses to
// allocate its own MUID and track the MUIDs of discovered peers.
//
// A MUID is a 28-bit value carried on the wire as four 7-bit bytes, least
// significant septet first. Values 0x0FFFFF00 through 0x0FFFFFFF are reserved;
// 0x0FFFFFFF addresses every device (broadcast).
package muid

import (
	"errors"
	"fmt"
)

// MUID is a MIDI Unique ID.
type MUID uint32

const (
	// Broadcast addresses all devices on the port.
	Broadcast MUID = 0x0FFFFFFF

	// ReservedStart is the first reserved value.
	ReservedStart MUID = 0x0FFFFF00

	// Max is the largest 28-bit value.
	Max MUID = 0x0FFFFFFF

	// Size is the number of bytes a MUID occupies on the wire.
	Size = 4
)

// MUID errors.
var (
	ErrInvalidMUID = errors.New("invalid MUID")
	ErrCollision   = errors.New("MUID collision")
	ErrExhausted   = errors.New("MUID generation exhausted")
)

// IsReserved reports whether m lies in the reserved range.
func (m MUID) IsReserved() bool {
	return m >= ReservedStart && m <= Max
}

// IsValid reports whether m fits in 28 bits.
func (m MUID) IsValid() bool {
	return m <= Max
}

// Bytes returns the wire form: four septets, least significant first.
// Every returned byte has its high bit clear.
func (m MUID) Bytes() [Size]byte {
	return [Size]byte{
		byte(m) & 0x7F,
		byte(m>>7) & 0x7F,
		byte(m>>14) & 0x7F,
		byte(m>>21) & 0x7F,
	}
}

// AppendTo appends the wire form of m to b.
func (m MUID) AppendTo(b []byte) []byte {
	w := m.Bytes()
	return append(b, w[:]...)
}

// String returns the MUID in hexadecimal.
func (m MUID) String() string {
	return fmt.Sprintf("0x%07X", uint32(m))
}

// FromBytes decodes the wire form. It fails when fewer than four bytes are
// given or any byte has its high bit set.
func FromBytes(b []byte) (MUID, error) {
	if len(b) < Size {
		return 0, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidMUID, Size, len(b))
	}
	var m MUID
	for i := Size - 1; i >= 0; i-- {
		if b[i]&0x80 != 0 {
			return 0, fmt.Errorf("%w: byte %d is 0x%02X", ErrInvalidMUID, i, b[i])
		}
		m = m<<7 | MUID(b[i])
	}
	return m, nil
}
