package property

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Property exchange errors.
var (
	ErrMalformedHeader     = errors.New("malformed property header")
	ErrCodec               = errors.New("property body codec error")
	ErrUnsupportedEncoding = errors.New("unsupported property encoding")
	ErrOutOfOrderChunk     = errors.New("out-of-order property chunk")
	ErrTooManyChunks       = errors.New("property body needs too many chunks")
	ErrUnknownResource     = errors.New("unknown property resource")
	ErrReadOnly            = errors.New("property resource is read-only")
	ErrUnknownTransaction  = errors.New("unknown property transaction")
)

// Reply status codes.
const (
	StatusOK                = 200
	StatusAccepted          = 202
	StatusBadRequest        = 400
	StatusNotFound          = 404
	StatusMethodNotAllowed  = 405
	StatusUnsupportedEncode = 415
	StatusInternalError     = 500
)

// Subscription commands.
const (
	CommandStart   = "start"
	CommandEnd     = "end"
	CommandFull    = "full"
	CommandPartial = "partial"
	CommandNotify  = "notify"
)

// Header is the JSON header carried in the first chunk of a property
// exchange message.
type Header struct {
	Resource       string   `json:"resource,omitempty"`
	ResID          string   `json:"resId,omitempty"`
	MutualEncoding Encoding `json:"mutualEncoding,omitempty"`
	MediaType      string   `json:"mediaType,omitempty"`
	Status         int      `json:"status,omitempty"`
	Message        string   `json:"message,omitempty"`
	Command        string   `json:"command,omitempty"`
	SubscribeID    string   `json:"subscribeId,omitempty"`
	SetPartial     bool     `json:"setPartial,omitempty"`
	Offset         int      `json:"offset,omitempty"`
	Limit          int      `json:"limit,omitempty"`
}

// Marshal returns the compact JSON form.
func (h Header) Marshal() ([]byte, error) {
	return json.Marshal(h)
}

// ParseHeader decodes a JSON header. An empty header decodes to the zero
// value.
func ParseHeader(data []byte) (Header, error) {
	var h Header
	if len(data) == 0 {
		return h, nil
	}
	if err := json.Unmarshal(data, &h); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	return h, nil
}

// StatusOf maps a service error to a reply status code.
func StatusOf(err error) int {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrUnknownResource):
		return StatusNotFound
	case errors.Is(err, ErrReadOnly):
		return StatusMethodNotAllowed
	case errors.Is(err, ErrUnsupportedEncoding):
		return StatusUnsupportedEncode
	case errors.Is(err, ErrCodec), errors.Is(err, ErrMalformedHeader):
		return StatusBadRequest
	default:
		return StatusInternalError
	}
}
