// Package loopback joins two in-process peers with queued delivery.
//
// A Pipe has two ends. Sending on one end queues the message for the other
// end's handler; nothing is delivered until Flush runs. This keeps peers
// from re-entering each other and makes scenario tests deterministic.
package loopback

import (
	"errors"
	"fmt"
	"slices"
)

// DefaultMaxSteps bounds Flush.
const DefaultMaxSteps = 10000

// ErrRunaway is returned by Flush when traffic does not settle.
var ErrRunaway = errors.New("loopback traffic did not settle")

// Side identifies an end of the pipe.
type Side int

const (
	SideA Side = iota
	SideB
)

// String returns the side name.
func (s Side) String() string {
	if s == SideA {
		return "A"
	}
	return "B"
}

func (s Side) other() Side {
	return 1 - s
}

type delivery[T any] struct {
	to  Side
	msg T
}

// Pipe queues messages between two ends.
//
// Pipe is not safe for concurrent use.
type Pipe[T any] struct {
	// MaxSteps bounds the deliveries of one Flush. Zero selects
	// DefaultMaxSteps.
	MaxSteps int

	// Intercept, when set, sees every message before delivery. It may
	// replace the message or drop it by returning false.
	Intercept func(to Side, msg T) (T, bool)

	clone    func(T) T
	ends     [2]*End[T]
	queue    []delivery[T]
	errs     []error
	count    [2]int
	history  []delivery[T]
	recorded bool
}

// End is one side of a Pipe.
type End[T any] struct {
	pipe    *Pipe[T]
	side    Side
	handler func(T) error
}

// New creates a pipe. clone copies a message when it is queued; nil keeps
// the caller's value.
func New[T any](clone func(T) T) *Pipe[T] {
	p := &Pipe[T]{clone: clone}
	p.ends[SideA] = &End[T]{pipe: p, side: SideA}
	p.ends[SideB] = &End[T]{pipe: p, side: SideB}
	return p
}

// NewBytes creates a pipe for SysEx byte messages.
func NewBytes() *Pipe[[]byte] {
	return New(func(b []byte) []byte { return slices.Clone(b) })
}

// NewWords creates a pipe for UMP word messages.
func NewWords() *Pipe[[]uint32] {
	return New(func(w []uint32) []uint32 { return slices.Clone(w) })
}

// A returns end A.
func (p *Pipe[T]) A() *End[T] { return p.ends[SideA] }

// B returns end B.
func (p *Pipe[T]) B() *End[T] { return p.ends[SideB] }

// Record keeps a copy of every delivered message for History.
func (p *Pipe[T]) Record(on bool) {
	p.recorded = on
}

// Handle sets the function receiving messages sent to this end.
func (e *End[T]) Handle(fn func(T) error) {
	e.handler = fn
}

// Send queues msg for the other end.
func (e *End[T]) Send(msg T) error {
	if e.pipe.clone != nil {
		msg = e.pipe.clone(msg)
	}
	e.pipe.queue = append(e.pipe.queue, delivery[T]{to: e.side.other(), msg: msg})
	return nil
}

// Side returns which end this is.
func (e *End[T]) Side() Side {
	return e.side
}

// Pending returns the number of queued messages.
func (p *Pipe[T]) Pending() int {
	return len(p.queue)
}

// Flush delivers queued messages, including those sent by handlers while
// flushing, until the queue is empty. Handler errors are collected and
// available from Errors.
func (p *Pipe[T]) Flush() error {
	limit := p.MaxSteps
	if limit <= 0 {
		limit = DefaultMaxSteps
	}
	for steps := 0; len(p.queue) > 0; steps++ {
		if steps >= limit {
			return fmt.Errorf("%w: %d deliveries, %d queued", ErrRunaway, steps, len(p.queue))
		}
		d := p.queue[0]
		p.queue = p.queue[1:]

		if p.Intercept != nil {
			msg, ok := p.Intercept(d.to, d.msg)
			if !ok {
				continue
			}
			d.msg = msg
		}
		p.count[d.to]++
		if p.recorded {
			p.history = append(p.history, d)
		}
		end := p.ends[d.to]
		if end.handler == nil {
			continue
		}
		if err := end.handler(d.msg); err != nil {
			p.errs = append(p.errs, fmt.Errorf("deliver to %s: %w", d.to, err))
		}
	}
	return nil
}

// Drain discards queued messages and returns how many were dropped.
func (p *Pipe[T]) Drain() int {
	n := len(p.queue)
	p.queue = nil
	return n
}

// Errors returns the handler errors collected so far.
func (p *Pipe[T]) Errors() []error {
	return slices.Clone(p.errs)
}

// ResetErrors clears collected handler errors.
func (p *Pipe[T]) ResetErrors() {
	p.errs = nil
}

// Delivered returns the number of messages delivered to a side.
func (p *Pipe[T]) Delivered(to Side) int {
	return p.count[to]
}

// History returns the recorded messages delivered to a side.
func (p *Pipe[T]) History(to Side) []T {
	var out []T
	for _, d := range p.history {
		if d.to == to {
			out = append(out, d.msg)
		}
	}
	return out
}
