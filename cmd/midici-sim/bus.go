package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/midici-protocol/midici-go/pkg/transport"
)

const dialTimeout = 5 * time.Second

// bus joins every connected port of one kind into a single MIDI cable:
// outgoing messages go to all ports and incoming messages from any port
// reach one handler.
type bus[T any] struct {
	name    string
	newPort func(io.ReadWriteCloser, transport.PortConfig) *transport.Port[T]
	config  transport.PortConfig
	handle  func(T) error
	logger  *slog.Logger

	mu    sync.Mutex
	ports map[*transport.Port[T]]string
	wg    sync.WaitGroup

	connected chan struct{}
	once      sync.Once
}

func newBus[T any](name string, newPort func(io.ReadWriteCloser, transport.PortConfig) *transport.Port[T], config transport.PortConfig, logger *slog.Logger) *bus[T] {
	return &bus[T]{
		name:      name,
		newPort:   newPort,
		config:    config,
		logger:    logger,
		ports:     make(map[*transport.Port[T]]string),
		connected: make(chan struct{}),
	}
}

// Handle sets the receive handler. It must be set before the first port
// is attached.
func (b *bus[T]) Handle(fn func(T) error) {
	b.handle = fn
}

// Send writes msg to every attached port. Without ports the message is
// dropped, like output on an unplugged cable.
func (b *bus[T]) Send(msg T) error {
	type target struct {
		port   *transport.Port[T]
		remote string
	}
	b.mu.Lock()
	targets := make([]target, 0, len(b.ports))
	for p, remote := range b.ports {
		targets = append(targets, target{p, remote})
	}
	b.mu.Unlock()

	var errs []error
	for _, t := range targets {
		if err := t.port.Send(msg); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", b.name, t.remote, err))
		}
	}
	return errors.Join(errs...)
}

// Peers returns the number of attached ports.
func (b *bus[T]) Peers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ports)
}

// Connected is closed once the first port is attached.
func (b *bus[T]) Connected() <-chan struct{} {
	return b.connected
}

// Listen accepts connections on addr until ctx is cancelled and returns the
// bound address.
func (b *bus[T]) Listen(ctx context.Context, addr string) (net.Addr, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", b.name, err)
	}
	context.AfterFunc(ctx, func() { ln.Close() })

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
					b.logger.Warn("accept failed", "bus", b.name, "error", err)
				}
				return
			}
			b.attach(ctx, conn)
		}
	}()

	b.logger.Info("listening", "bus", b.name, "addr", ln.Addr().String())
	return ln.Addr(), nil
}

// Dial connects to addr and attaches the connection.
func (b *bus[T]) Dial(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s %s: %w", b.name, addr, err)
	}
	b.attach(ctx, conn)
	return nil
}

// Redial keeps a connection to addr, reconnecting with exponential backoff
// until ctx is cancelled. onConnect runs after every successful dial.
func (b *bus[T]) Redial(ctx context.Context, addr string, onConnect func()) {
	backoff := transport.NewBackoff(transport.BackoffConfig{Jitter: transport.JitterFactor})
	session := func(ctx context.Context, connected func()) error {
		d := net.Dialer{Timeout: dialTimeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		done := b.attach(ctx, conn)
		connected()
		if onConnect != nil {
			onConnect()
		}
		select {
		case <-done:
		case <-ctx.Done():
		}
		return nil
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		_ = transport.Redial(ctx, backoff, session, func(attempt int, delay time.Duration, err error) {
			b.logger.Info("reconnecting", "bus", b.name, "addr", addr, "attempt", attempt, "delay", delay, "error", err)
		})
	}()
}

// attach serves conn on a new port. The returned channel is closed when the
// port is detached.
func (b *bus[T]) attach(ctx context.Context, conn net.Conn) <-chan struct{} {
	remote := conn.RemoteAddr().String()
	cfg := b.config
	cfg.SessionID = uuid.NewString()
	p := b.newPort(conn, cfg)
	p.OnError(func(err error) {
		b.logger.Warn("receive error", "bus", b.name, "remote", remote, "error", err)
	})

	b.mu.Lock()
	b.ports[p] = remote
	b.mu.Unlock()
	b.once.Do(func() { close(b.connected) })
	b.logger.Info("port attached", "bus", b.name, "remote", remote, "session", cfg.SessionID)

	done := make(chan struct{})
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(done)
		err := p.Serve(ctx, b.handle)
		if err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Warn("port stopped", "bus", b.name, "remote", remote, "error", err)
		}
		p.Close()

		b.mu.Lock()
		delete(b.ports, p)
		b.mu.Unlock()
		b.logger.Info("port detached", "bus", b.name, "remote", remote)
	}()
	return done
}

// Close closes every port and waits for the serve loops to end. The
// listener closes with its context, so cancel that first.
func (b *bus[T]) Close() {
	b.mu.Lock()
	for p := range b.ports {
		p.Close()
	}
	b.mu.Unlock()
	b.wg.Wait()
}
