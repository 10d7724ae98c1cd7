package log

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// ErrCorruptRecord is returned for a capture record that does not decode,
// including a final record cut short by an interrupted write.
var ErrCorruptRecord = errors.New("corrupt capture record")

// Decoder bounds. The words of a FrameEvent come from one port write, and
// events nest at most three maps deep.
const (
	maxRecordArray  = 1 << 12
	maxRecordNested = 8
)

// Capture records share one encoding: integer struct keys in canonical
// order, and RFC 3339 timestamps with nanoseconds so events from both
// sides of a link interleave correctly.
var (
	captureEnc = newCaptureEncMode()
	captureDec = newCaptureDecMode()
)

func newCaptureEncMode() cbor.EncMode {
	em, err := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("capture encoder mode: %v", err))
	}
	return em
}

func newCaptureDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyQuiet,
		IndefLength:      cbor.IndefLengthAllowed,
		MaxArrayElements: maxRecordArray,
		MaxNestedLevels:  maxRecordNested,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("capture decoder mode: %v", err))
	}
	return dm
}

// EncodeEvent encodes one capture record.
func EncodeEvent(event Event) ([]byte, error) {
	return captureEnc.Marshal(event)
}

// DecodeEvent decodes one capture record.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := captureDec.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	return event, nil
}

// NewEncoder returns an encoder that appends capture records to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return captureEnc.NewEncoder(w)
}

// NewDecoder returns a decoder for a stream of capture records.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return captureDec.NewDecoder(r)
}
