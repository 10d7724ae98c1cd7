package property

import "fmt"

// MaxChunks is the largest chunk count a 14-bit field can carry.
const MaxChunks = 1<<14 - 1

// Chunk is one numbered piece of a property exchange message. Index is
// 1-based; Header is set on the first chunk only.
type Chunk struct {
	Header    []byte
	NumChunks uint16
	Index     uint16
	Data      []byte
}

// IsLast reports whether c completes its message.
func (c Chunk) IsLast() bool {
	return c.NumChunks == c.Index
}

// Split cuts an encoded body into chunks carrying at most maxData body
// bytes each. An empty body still yields one chunk so the header travels.
func Split(header, body []byte, maxData int) ([]Chunk, error) {
	if maxData <= 0 {
		return nil, fmt.Errorf("%w: chunk size %d", ErrTooManyChunks, maxData)
	}
	n := (len(body) + maxData - 1) / maxData
	if n == 0 {
		n = 1
	}
	if n > MaxChunks {
		return nil, fmt.Errorf("%w: %d chunks", ErrTooManyChunks, n)
	}

	chunks := make([]Chunk, n)
	for i := range chunks {
		start := i * maxData
		end := min(start+maxData, len(body))
		if start > end {
			start = end
		}
		chunks[i] = Chunk{
			NumChunks: uint16(n),
			Index:     uint16(i + 1),
			Data:      body[start:end],
		}
	}
	chunks[0].Header = header
	return chunks, nil
}
