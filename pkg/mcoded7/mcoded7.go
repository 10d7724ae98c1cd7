// Package mcoded7 converts arbitrary 8-bit data to and from a 7-bit-clean
// representation that can travel inside a System Exclusive payload.
//
// # Layout
//
// The source is cut into rows of 8 bytes (the last row may be shorter).
// The first byte of every row is collected into one or more leading groups,
// then every row contributes one group holding its remaining bytes:
//
//	lead:  [hdr][r0[0]][r1[0]]...[r6[0]]          (zero padded to 7 slots)
//	rows:  [hdr][rN[1]]...[rN[7]]                 (one group per row, never padded)
//
// Each header byte carries bit 7 of the following slots: bit 6 for the first
// slot, bit 5 for the second, and so on. A row with a single byte still emits
// its (empty) group header so the encoded length identifies the source length.
package mcoded7

import (
	"errors"
	"fmt"
)

const (
	// GroupSize is the number of data slots following each header byte.
	GroupSize = 7

	// RowSize is the number of source bytes assigned to one row.
	RowSize = GroupSize + 1
)

// Decode errors.
var (
	ErrInvalidByte   = errors.New("mcoded7: byte with high bit set")
	ErrInvalidLength = errors.New("mcoded7: invalid encoded length")
	ErrInvalidPad    = errors.New("mcoded7: non-zero padding")
)

// rows returns the number of rows for a source of n bytes.
func rows(n int) int {
	return (n + RowSize - 1) / RowSize
}

// leadGroups returns the number of leading groups for the given row count.
func leadGroups(rowCount int) int {
	return (rowCount + GroupSize - 1) / GroupSize
}

// EncodedLen returns the encoded size of a source of n bytes.
func EncodedLen(n int) int {
	if n <= 0 {
		return 0
	}
	r := rows(n)
	lastRow := n - (r-1)*RowSize
	return leadGroups(r)*RowSize + (r-1)*RowSize + lastRow
}

// Encode returns the 7-bit-clean encoding of src. The result never contains
// a byte with its high bit set.
func Encode(src []byte) []byte {
	if len(src) == 0 {
		return []byte{}
	}

	r := rows(len(src))
	dst := make([]byte, 0, EncodedLen(len(src)))

	// Leading groups: first byte of each row.
	lead := make([]byte, 0, leadGroups(r)*GroupSize)
	for i := 0; i < r; i++ {
		lead = append(lead, src[i*RowSize])
	}
	for len(lead)%GroupSize != 0 {
		lead = append(lead, 0)
	}
	for i := 0; i < len(lead); i += GroupSize {
		dst = appendGroup(dst, lead[i:i+GroupSize])
	}

	// One group per row holding the remaining bytes.
	for i := 0; i < r; i++ {
		start := i*RowSize + 1
		end := min((i+1)*RowSize, len(src))
		dst = appendGroup(dst, src[start:end])
	}
	return dst
}

func appendGroup(dst, slots []byte) []byte {
	var hdr byte
	for j, b := range slots {
		hdr |= (b >> 7) << (GroupSize - 1 - j)
	}
	dst = append(dst, hdr)
	for _, b := range slots {
		dst = append(dst, b&0x7F)
	}
	return dst
}

// sourceLen recovers the source length from an encoded length.
func sourceLen(encoded int) (int, bool) {
	if encoded == 0 {
		return 0, true
	}
	for r := 1; ; r++ {
		base := leadGroups(r)*RowSize + (r-1)*RowSize
		if encoded < base+1 {
			return 0, false
		}
		if encoded <= base+RowSize {
			// Last row holds between 1 and RowSize bytes: header plus
			// (lastRow-1) data slots.
			lastRow := encoded - base
			return (r-1)*RowSize + lastRow, true
		}
	}
}

// Decode reverses Encode. It rejects input containing bytes with the high bit
// set, lengths that no source could produce, and non-zero padding.
func Decode(src []byte) ([]byte, error) {
	for i, b := range src {
		if b&0x80 != 0 {
			return nil, fmt.Errorf("%w: 0x%02X at offset %d", ErrInvalidByte, b, i)
		}
	}

	n, ok := sourceLen(len(src))
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, len(src))
	}
	if n == 0 {
		return []byte{}, nil
	}

	r := rows(n)
	dst := make([]byte, n)
	pos := 0

	// Leading groups.
	row := 0
	for g := 0; g < leadGroups(r); g++ {
		hdr := src[pos]
		slots := src[pos+1 : pos+RowSize]
		for j, b := range slots {
			hi := (hdr >> (GroupSize - 1 - j)) & 1
			if row >= r {
				if b != 0 || hi != 0 {
					return nil, fmt.Errorf("%w: lead group %d slot %d", ErrInvalidPad, g, j)
				}
				continue
			}
			dst[row*RowSize] = b | hi<<7
			row++
		}
		pos += RowSize
	}

	// Row groups.
	for i := 0; i < r; i++ {
		start := i*RowSize + 1
		end := min((i+1)*RowSize, n)
		count := end - start
		hdr := src[pos]
		if unused := byte(0x7F) >> count; hdr&unused != 0 {
			return nil, fmt.Errorf("%w: row %d header 0x%02X", ErrInvalidPad, i, hdr)
		}
		for j := 0; j < count; j++ {
			hi := (hdr >> (GroupSize - 1 - j)) & 1
			dst[start+j] = src[pos+1+j] | hi<<7
		}
		pos += 1 + count
	}

	return dst, nil
}
