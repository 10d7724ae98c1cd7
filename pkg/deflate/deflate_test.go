package deflate

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/klauspost/compress/flate"
)

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	random := make([]byte, 4096)
	rng.Read(random)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"short", []byte("a")},
		{"json", []byte(`{"manufacturerId":[0,0,0],"familyId":[1,0],"modelId":[2,0]}`)},
		{"repetitive", bytes.Repeat([]byte("MIDI-CI "), 500)},
		{"random", random},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compressed, err := Compress(tt.data)
			if err != nil {
				t.Fatalf("Compress failed: %v", err)
			}
			got, err := Decompress(compressed)
			if err != nil {
				t.Fatalf("Decompress failed: %v", err)
			}
			if !bytes.Equal(got, tt.data) {
				t.Errorf("round trip mismatch: got %d bytes, want %d", len(got), len(tt.data))
			}
		})
	}
}

func TestCompressShrinksRepetitiveData(t *testing.T) {
	data := bytes.Repeat([]byte("ResourceList"), 200)
	compressed, err := Compress(data)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if len(compressed) >= len(data)/4 {
		t.Errorf("compressed size %d not much smaller than %d", len(compressed), len(data))
	}
}

func TestDecompressCorrupt(t *testing.T) {
	_, err := Decompress([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}

func TestDecompressLimit(t *testing.T) {
	codec := Raw{Level: flate.BestCompression, MaxSize: 100}
	compressed, err := codec.Compress(make([]byte, 1000))
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	_, err = codec.Decompress(compressed)
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
}
