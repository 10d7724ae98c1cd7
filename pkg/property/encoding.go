package property

import (
	"fmt"

	"github.com/midici-protocol/midici-go/pkg/deflate"
	"github.com/midici-protocol/midici-go/pkg/mcoded7"
)

// Encoding names a body encoding from the mutualEncoding header field.
type Encoding string

// Body encodings.
const (
	EncodingASCII       Encoding = "ASCII"
	EncodingMcoded7     Encoding = "Mcoded7"
	EncodingZlibMcoded7 Encoding = "zlib+Mcoded7"
)

// Compressed reports whether e applies DEFLATE.
func (e Encoding) Compressed() bool {
	return e == EncodingZlibMcoded7
}

// normalize maps the empty encoding to ASCII.
func (e Encoding) normalize() Encoding {
	if e == "" {
		return EncodingASCII
	}
	return e
}

// Codec applies body encodings. The zero value uses the default raw DEFLATE
// settings.
type Codec struct {
	Deflate deflate.Codec
}

func (c Codec) deflater() deflate.Codec {
	if c.Deflate == nil {
		return deflate.Raw{}
	}
	return c.Deflate
}

// Encode converts body to its wire form.
func (c Codec) Encode(enc Encoding, body []byte) ([]byte, error) {
	switch enc.normalize() {
	case EncodingASCII:
		for i, b := range body {
			if b&0x80 != 0 {
				return nil, fmt.Errorf("%w: ASCII body byte 0x%02X at %d", ErrCodec, b, i)
			}
		}
		return body, nil
	case EncodingMcoded7:
		return mcoded7.Encode(body), nil
	case EncodingZlibMcoded7:
		packed, err := c.deflater().Compress(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCodec, err)
		}
		return mcoded7.Encode(packed), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, enc)
	}
}

// Decode reverses Encode. Empty data is an empty body in every encoding;
// header-only requests still name the encoding they want back.
func (c Codec) Decode(enc Encoding, data []byte) ([]byte, error) {
	switch enc.normalize() {
	case EncodingASCII, EncodingMcoded7, EncodingZlibMcoded7:
		if len(data) == 0 {
			return []byte{}, nil
		}
	}
	switch enc.normalize() {
	case EncodingASCII:
		return data, nil
	case EncodingMcoded7:
		body, err := mcoded7.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCodec, err)
		}
		return body, nil
	case EncodingZlibMcoded7:
		packed, err := mcoded7.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCodec, err)
		}
		body, err := c.deflater().Decompress(packed)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCodec, err)
		}
		return body, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, enc)
	}
}

// EncodeBody encodes body with the default codec.
func EncodeBody(enc Encoding, body []byte) ([]byte, error) {
	return Codec{}.Encode(enc, body)
}

// DecodeBody decodes data with the default codec.
func DecodeBody(enc Encoding, data []byte) ([]byte, error) {
	return Codec{}.Decode(enc, data)
}
