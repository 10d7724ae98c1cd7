package mcoded7

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func seq(from, to int) []byte {
	out := make([]byte, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, byte(i))
	}
	return out
}

var conformanceEncoded = []byte{
	0, 1, 9, 17, 0, 0, 0, 0,
	0, 2, 3, 4, 5, 6, 7, 8,
	0, 10, 11, 12, 13, 14, 15, 16,
	0, 18, 19, 20,
}

func TestEncodeConformance(t *testing.T) {
	got := Encode(seq(1, 20))
	if !bytes.Equal(got, conformanceEncoded) {
		t.Errorf("Encode(1..20)\n got: %v\nwant: %v", got, conformanceEncoded)
	}
}

func TestDecodeConformance(t *testing.T) {
	got, err := Decode(conformanceEncoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(got, seq(1, 20)) {
		t.Errorf("Decode got %v, want 1..20", got)
	}
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for n := 0; n <= 130; n++ {
		src := make([]byte, n)
		rng.Read(src)

		enc := Encode(src)
		if len(enc) != EncodedLen(n) {
			t.Fatalf("n=%d: encoded len %d, EncodedLen %d", n, len(enc), EncodedLen(n))
		}
		for i, b := range enc {
			if b&0x80 != 0 {
				t.Fatalf("n=%d: encoded byte %d has high bit set (0x%02X)", n, i, b)
			}
		}

		dec, err := Decode(enc)
		if err != nil {
			t.Fatalf("n=%d: Decode failed: %v", n, err)
		}
		if !bytes.Equal(dec, src) {
			t.Fatalf("n=%d: round trip mismatch", n)
		}
	}
}

func TestRoundTripHighBits(t *testing.T) {
	src := bytes.Repeat([]byte{0xFF, 0x80, 0x7F, 0x00}, 40)
	dec, err := Decode(Encode(src))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(dec, src) {
		t.Error("round trip mismatch for high-bit data")
	}
}

func TestRowBoundaries(t *testing.T) {
	// Exact multiples of the row size still emit one group per row.
	for _, n := range []int{8, 16, 56, 57, 64} {
		enc := Encode(seq(0, n-1))
		dec, err := Decode(enc)
		if err != nil {
			t.Fatalf("n=%d: Decode failed: %v", n, err)
		}
		if len(dec) != n {
			t.Errorf("n=%d: decoded %d bytes", n, len(dec))
		}
	}
}

func TestEmpty(t *testing.T) {
	if got := Encode(nil); len(got) != 0 {
		t.Errorf("Encode(nil) = %v, want empty", got)
	}
	got, err := Decode(nil)
	if err != nil {
		t.Fatalf("Decode(nil) failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Decode(nil) = %v, want empty", got)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  error
	}{
		{"high bit", []byte{0, 0x81, 0, 0, 0, 0, 0, 0, 0}, ErrInvalidByte},
		{"single byte", []byte{0}, ErrInvalidLength},
		{"lead group only", []byte{0, 1, 0, 0, 0, 0, 0, 0}, ErrInvalidLength},
		{"gap length", make([]byte, 68), ErrInvalidLength},
		{"padding set", []byte{0, 1, 5, 0, 0, 0, 0, 0, 0}, ErrInvalidPad},
		{"unused header bits", []byte{0, 1, 0, 0, 0, 0, 0, 0, 0x01, 2}, ErrInvalidPad},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.input)
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode error = %v, want %v", err, tt.want)
			}
		})
	}
}
