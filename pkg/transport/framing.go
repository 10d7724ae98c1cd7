package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/midici-protocol/midici-go/pkg/log"
	"github.com/midici-protocol/midici-go/pkg/sysex"
	"github.com/midici-protocol/midici-go/pkg/ump"
)

// Framing constants.
const (
	// DefaultMaxSysExSize is the default largest SysEx message accepted,
	// including F0 and F7.
	DefaultMaxSysExSize = 4096

	// MinSysExSize is the smallest valid SysEx message (F0 F7).
	MinSysExSize = 2

	// WordSize is the size of one UMP word on the wire.
	WordSize = 4

	// MaxLogFrameDataSize is the maximum frame data size to include in logs.
	// Larger frames are truncated in log events.
	MaxLogFrameDataSize = log.DefaultMaxFrameData
)

// Framing errors.
var (
	// ErrMessageTooLarge indicates the message exceeds the maximum size.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrMessageEmpty indicates an empty message.
	ErrMessageEmpty = errors.New("message is empty")

	// ErrFrameTruncated indicates the frame was cut short.
	ErrFrameTruncated = errors.New("frame truncated")

	// ErrMalformedPacket indicates words that do not form whole UMP packets.
	ErrMalformedPacket = errors.New("malformed UMP packet")
)

// frameLog emits frame events for one reader or writer.
type frameLog struct {
	logger    log.Logger
	sessionID string
	layer     log.Layer
}

func (fl *frameLog) set(logger log.Logger, sessionID string) {
	fl.logger = logger
	fl.sessionID = sessionID
}

func (fl *frameLog) bytes(data []byte, direction log.Direction) {
	if fl.logger == nil {
		return
	}
	fl.logger.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: fl.sessionID,
		Direction: direction,
		Layer:     fl.layer,
		Category:  log.CategoryMessage,
		Frame:     log.NewFrameEvent(data, MaxLogFrameDataSize),
	})
}

func (fl *frameLog) words(words []uint32, direction log.Direction) {
	if fl.logger == nil {
		return
	}
	fl.logger.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: fl.sessionID,
		Direction: direction,
		Layer:     fl.layer,
		Category:  log.CategoryMessage,
		Frame:     &log.FrameEvent{Size: len(words), Words: append([]uint32(nil), words...)},
	})
}

// SysExWriter writes complete SysEx messages to an underlying writer.
type SysExWriter struct {
	w   io.Writer
	mu  sync.Mutex
	log frameLog
}

// NewSysExWriter creates a new SysEx writer.
func NewSysExWriter(w io.Writer) *SysExWriter {
	return &SysExWriter{w: w, log: frameLog{layer: log.LayerSysEx}}
}

// SetLogger configures logging for this writer.
// Pass nil to disable logging.
func (sw *SysExWriter) SetLogger(logger log.Logger, sessionID string) {
	sw.log.set(logger, sessionID)
}

// WriteMessage writes one F0 ... F7 message.
// Thread-safe: can be called from multiple goroutines.
func (sw *SysExWriter) WriteMessage(msg []byte) error {
	if len(msg) == 0 {
		return ErrMessageEmpty
	}
	if _, err := sysex.Unframe(msg); err != nil {
		return err
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	if _, err := sw.w.Write(msg); err != nil {
		return fmt.Errorf("failed to write SysEx: %w", err)
	}
	sw.log.bytes(msg, log.DirectionOut)
	return nil
}

// SysExReader extracts SysEx messages from a MIDI 1.0 byte stream.
type SysExReader struct {
	r        *bufio.Reader
	maxSize  int
	buf      []byte
	inSysEx  bool
	skipping bool
	log      frameLog
}

// NewSysExReader creates a reader accepting messages up to
// DefaultMaxSysExSize bytes.
func NewSysExReader(r io.Reader) *SysExReader {
	return NewSysExReaderWithMaxSize(r, DefaultMaxSysExSize)
}

// NewSysExReaderWithMaxSize creates a SysEx reader with a custom max size.
func NewSysExReaderWithMaxSize(r io.Reader, maxSize int) *SysExReader {
	return &SysExReader{
		r:       bufio.NewReader(r),
		maxSize: max(maxSize, MinSysExSize),
		log:     frameLog{layer: log.LayerSysEx},
	}
}

// SetLogger configures logging for this reader.
// Pass nil to disable logging.
func (sr *SysExReader) SetLogger(logger log.Logger, sessionID string) {
	sr.log.set(logger, sessionID)
}

// SetMaxSize updates the maximum message size.
func (sr *SysExReader) SetMaxSize(size int) {
	sr.maxSize = max(size, MinSysExSize)
}

// ReadMessage returns the next complete SysEx message including F0 and F7.
//
// ErrFrameTruncated and ErrMessageTooLarge drop the offending message and
// leave the reader usable. io.EOF is returned at a clean end of stream.
func (sr *SysExReader) ReadMessage() ([]byte, error) {
	for {
		b, err := sr.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				if sr.inSysEx {
					sr.reset()
					return nil, ErrFrameTruncated
				}
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to read SysEx: %w", err)
		}

		switch {
		case b >= 0xF8:
			// Real time bytes may interleave anywhere.
			continue

		case b == sysex.Start:
			wasIn := sr.inSysEx && !sr.skipping
			sr.reset()
			sr.inSysEx = true
			sr.buf = append(sr.buf, b)
			if wasIn {
				return nil, ErrFrameTruncated
			}

		case b == sysex.End:
			if !sr.inSysEx {
				continue
			}
			if sr.skipping {
				sr.reset()
				continue
			}
			sr.buf = append(sr.buf, b)
			msg := append([]byte(nil), sr.buf...)
			sr.reset()
			sr.log.bytes(msg, log.DirectionIn)
			return msg, nil

		case b&0x80 != 0:
			wasIn := sr.inSysEx && !sr.skipping
			sr.reset()
			if wasIn {
				return nil, ErrFrameTruncated
			}

		case sr.inSysEx && !sr.skipping:
			// Leave room for F7.
			if len(sr.buf)+2 > sr.maxSize {
				sr.buf = sr.buf[:0]
				sr.skipping = true
				return nil, fmt.Errorf("%w: exceeds %d bytes", ErrMessageTooLarge, sr.maxSize)
			}
			sr.buf = append(sr.buf, b)
		}
	}
}

func (sr *SysExReader) reset() {
	sr.buf = sr.buf[:0]
	sr.inSysEx = false
	sr.skipping = false
}

// UMPWriter writes UMP packets as big-endian words.
type UMPWriter struct {
	w   io.Writer
	mu  sync.Mutex
	log frameLog
}

// NewUMPWriter creates a new UMP writer.
func NewUMPWriter(w io.Writer) *UMPWriter {
	return &UMPWriter{w: w, log: frameLog{layer: log.LayerUMP}}
}

// SetLogger configures logging for this writer.
// Pass nil to disable logging.
func (uw *UMPWriter) SetLogger(logger log.Logger, sessionID string) {
	uw.log.set(logger, sessionID)
}

// WriteMessage writes words holding one or more whole packets.
// Thread-safe: can be called from multiple goroutines.
func (uw *UMPWriter) WriteMessage(words []uint32) error {
	if len(words) == 0 {
		return ErrMessageEmpty
	}
	for i := 0; i < len(words); {
		n := ump.PacketWords(uint8(words[i] >> 28))
		if i+n > len(words) {
			return fmt.Errorf("%w: packet at word %d needs %d words", ErrMalformedPacket, i, n)
		}
		i += n
	}

	buf := make([]byte, 0, len(words)*WordSize)
	for _, w := range words {
		buf = binary.BigEndian.AppendUint32(buf, w)
	}

	uw.mu.Lock()
	defer uw.mu.Unlock()

	if _, err := uw.w.Write(buf); err != nil {
		return fmt.Errorf("failed to write UMP: %w", err)
	}
	uw.log.words(words, log.DirectionOut)
	return nil
}

// UMPReader reads UMP packets from a big-endian word stream.
type UMPReader struct {
	r   io.Reader
	buf [4 * WordSize]byte
	log frameLog
}

// NewUMPReader creates a new UMP reader.
func NewUMPReader(r io.Reader) *UMPReader {
	return &UMPReader{r: r, log: frameLog{layer: log.LayerUMP}}
}

// SetLogger configures logging for this reader.
// Pass nil to disable logging.
func (ur *UMPReader) SetLogger(logger log.Logger, sessionID string) {
	ur.log.set(logger, sessionID)
}

// ReadMessage reads one packet. Its length follows from the message type
// in the first word.
func (ur *UMPReader) ReadMessage() ([]uint32, error) {
	if _, err := io.ReadFull(ur.r, ur.buf[:WordSize]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("failed to read UMP: %w", err)
	}

	first := binary.BigEndian.Uint32(ur.buf[:WordSize])
	n := ump.PacketWords(uint8(first >> 28))
	if n > 1 {
		if _, err := io.ReadFull(ur.r, ur.buf[WordSize:n*WordSize]); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
				return nil, ErrFrameTruncated
			}
			return nil, fmt.Errorf("failed to read UMP: %w", err)
		}
	}

	words := make([]uint32, n)
	for i := range n {
		words[i] = binary.BigEndian.Uint32(ur.buf[i*WordSize:])
	}
	ur.log.words(words, log.DirectionIn)
	return words, nil
}

// SysExFramer combines SysEx reading and writing.
type SysExFramer struct {
	*SysExReader
	*SysExWriter
}

// NewSysExFramer creates a framer for bidirectional SysEx traffic.
func NewSysExFramer(rw io.ReadWriter, maxSize int) *SysExFramer {
	return &SysExFramer{
		SysExReader: NewSysExReaderWithMaxSize(rw, maxSize),
		SysExWriter: NewSysExWriter(rw),
	}
}

// SetLogger configures logging for both reader and writer.
// Pass nil to disable logging.
func (f *SysExFramer) SetLogger(logger log.Logger, sessionID string) {
	f.SysExReader.SetLogger(logger, sessionID)
	f.SysExWriter.SetLogger(logger, sessionID)
}

// UMPFramer combines UMP reading and writing.
type UMPFramer struct {
	*UMPReader
	*UMPWriter
}

// NewUMPFramer creates a framer for bidirectional UMP traffic.
func NewUMPFramer(rw io.ReadWriter) *UMPFramer {
	return &UMPFramer{
		UMPReader: NewUMPReader(rw),
		UMPWriter: NewUMPWriter(rw),
	}
}

// SetLogger configures logging for both reader and writer.
// Pass nil to disable logging.
func (f *UMPFramer) SetLogger(logger log.Logger, sessionID string) {
	f.UMPReader.SetLogger(logger, sessionID)
	f.UMPWriter.SetLogger(logger, sessionID)
}
