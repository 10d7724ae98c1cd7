// Package deflate compresses property payloads with headerless DEFLATE
// (RFC 1951, no zlib wrapper and no checksum).
package deflate

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// DefaultMaxDecompressedSize bounds the output of Decompress.
const DefaultMaxDecompressedSize = 16 << 20

// Codec errors.
var (
	ErrCorrupt  = errors.New("deflate: corrupt input")
	ErrTooLarge = errors.New("deflate: decompressed data exceeds limit")
)

// Codec compresses and decompresses payload bytes.
type Codec interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// Raw is a Codec producing raw DEFLATE streams.
// The zero value uses the default compression level and output limit.
type Raw struct {
	// Level is a flate compression level. Zero selects flate.DefaultCompression.
	Level int

	// MaxSize bounds decompressed output. Zero selects DefaultMaxDecompressedSize.
	MaxSize int
}

// Compile-time interface satisfaction check.
var _ Codec = Raw{}

// Compress returns the raw DEFLATE stream for data.
func (c Raw) Compress(data []byte) ([]byte, error) {
	level := c.Level
	if level == 0 {
		level = flate.DefaultCompression
	}

	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("deflate: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("deflate: close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress inflates a raw DEFLATE stream.
func (c Raw) Decompress(data []byte) ([]byte, error) {
	limit := c.MaxSize
	if limit <= 0 {
		limit = DefaultMaxDecompressedSize
	}

	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(out) > limit {
		return nil, fmt.Errorf("%w: limit %d", ErrTooLarge, limit)
	}
	return out, nil
}

// Compress compresses data with the default Raw codec.
func Compress(data []byte) ([]byte, error) {
	return Raw{}.Compress(data)
}

// Decompress decompresses data with the default Raw codec.
func Decompress(data []byte) ([]byte, error) {
	return Raw{}.Decompress(data)
}
