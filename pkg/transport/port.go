package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/midici-protocol/midici-go/pkg/log"
)

// PortState is the lifecycle state of a Port.
type PortState int

const (
	// StateOpen indicates the port can send and serve.
	StateOpen PortState = iota

	// StateServing indicates a read loop is running.
	StateServing

	// StateClosed indicates the port was closed.
	StateClosed
)

// String returns the port state name.
func (s PortState) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateServing:
		return "SERVING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Port errors.
var (
	ErrPortClosed     = errors.New("port closed")
	ErrAlreadyServing = errors.New("port already serving")
)

// PortConfig configures a Port.
type PortConfig struct {
	// MaxSysExSize bounds received SysEx messages (default: 4096).
	// Ignored by UMP ports.
	MaxSysExSize int

	// Logger receives frame events (optional).
	Logger log.Logger

	// SessionID tags frame events.
	SessionID string
}

// Port runs one MIDI connection over an io.ReadWriteCloser. Serve delivers
// each received message to a handler on a single goroutine; Send may be
// called from any goroutine.
type Port[T any] struct {
	rwc    io.ReadWriteCloser
	reader MessageReader[T]
	writer MessageWriter[T]

	// resync is set when truncated frames leave the reader usable.
	resync bool

	state     atomic.Int32
	closeOnce sync.Once
	closeErr  error

	mu      sync.Mutex
	onError func(error)
}

// NewSysExPort creates a port carrying SysEx messages on a MIDI 1.0 byte
// stream.
func NewSysExPort(rwc io.ReadWriteCloser, config PortConfig) *Port[[]byte] {
	if config.MaxSysExSize == 0 {
		config.MaxSysExSize = DefaultMaxSysExSize
	}
	f := NewSysExFramer(rwc, config.MaxSysExSize)
	if config.Logger != nil {
		f.SetLogger(config.Logger, config.SessionID)
	}
	return &Port[[]byte]{rwc: rwc, reader: f, writer: f, resync: true}
}

// NewUMPPort creates a port carrying UMP packets.
func NewUMPPort(rwc io.ReadWriteCloser, config PortConfig) *Port[[]uint32] {
	f := NewUMPFramer(rwc)
	if config.Logger != nil {
		f.SetLogger(config.Logger, config.SessionID)
	}
	return &Port[[]uint32]{rwc: rwc, reader: f, writer: f}
}

// State returns the current port state.
func (p *Port[T]) State() PortState {
	return PortState(p.state.Load())
}

// OnError registers a callback for recoverable receive errors: malformed
// frames and handler failures. Serve keeps running after them.
func (p *Port[T]) OnError(fn func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onError = fn
}

// Send writes one message.
func (p *Port[T]) Send(msg T) error {
	if p.State() == StateClosed {
		return ErrPortClosed
	}
	return p.writer.WriteMessage(msg)
}

// Serve reads messages and hands each to handle until the stream ends,
// the port is closed or ctx is cancelled. A clean end of stream or Close
// returns nil.
func (p *Port[T]) Serve(ctx context.Context, handle func(T) error) error {
	if !p.state.CompareAndSwap(int32(StateOpen), int32(StateServing)) {
		if p.State() == StateClosed {
			return ErrPortClosed
		}
		return ErrAlreadyServing
	}
	defer p.state.CompareAndSwap(int32(StateServing), int32(StateOpen))

	// Reads block, so cancellation closes the stream underneath them.
	stop := context.AfterFunc(ctx, func() { p.Close() })
	defer stop()

	for {
		msg, err := p.reader.ReadMessage()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case p.State() == StateClosed:
				return nil
			case err == io.EOF:
				return nil
			case errors.Is(err, ErrMessageTooLarge), errors.Is(err, ErrFrameTruncated) && p.resync:
				p.reportError(err)
				continue
			}
			return fmt.Errorf("read error: %w", err)
		}

		if err := handle(msg); err != nil {
			p.reportError(err)
		}
	}
}

// Close closes the underlying stream. It is safe to call more than once.
func (p *Port[T]) Close() error {
	p.closeOnce.Do(func() {
		p.state.Store(int32(StateClosed))
		p.closeErr = p.rwc.Close()
	})
	return p.closeErr
}

func (p *Port[T]) reportError(err error) {
	p.mu.Lock()
	fn := p.onError
	p.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
