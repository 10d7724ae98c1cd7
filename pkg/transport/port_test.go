package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

func serve[T any](t *testing.T, ctx context.Context, p *Port[T]) (<-chan T, <-chan error) {
	t.Helper()
	msgs := make(chan T, 16)
	done := make(chan error, 1)
	go func() {
		done <- p.Serve(ctx, func(msg T) error {
			msgs <- msg
			return nil
		})
	}()
	return msgs, done
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	var zero T
	return zero
}

func TestSysExPortRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	left := NewSysExPort(a, PortConfig{})
	right := NewSysExPort(b, PortConfig{})
	defer left.Close()
	defer right.Close()

	ctx := context.Background()
	leftIn, _ := serve(t, ctx, left)
	rightIn, _ := serve(t, ctx, right)

	ping := []byte{0xF0, 0x7E, 0x7F, 0x0D, 0x70, 0x02, 0xF7}
	pong := []byte{0xF0, 0x7E, 0x7F, 0x0D, 0x71, 0x02, 0xF7}

	if err := left.Send(ping); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got := receive(t, rightIn); !bytes.Equal(got, ping) {
		t.Errorf("right got % X", got)
	}

	if err := right.Send(pong); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got := receive(t, leftIn); !bytes.Equal(got, pong) {
		t.Errorf("left got % X", got)
	}
}

func TestUMPPortRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	left := NewUMPPort(a, PortConfig{})
	right := NewUMPPort(b, PortConfig{})
	defer left.Close()
	defer right.Close()

	rightIn, _ := serve(t, context.Background(), right)

	packet := []uint32{0xF0000101, 0x1F000000, 0, 0}
	go left.Send(packet)

	got := receive(t, rightIn)
	if len(got) != 4 || got[0] != packet[0] || got[1] != packet[1] {
		t.Errorf("got %08X", got)
	}
}

func TestPortRecoversFromBadFrames(t *testing.T) {
	a, b := net.Pipe()
	port := NewSysExPort(b, PortConfig{MaxSysExSize: 8})
	defer port.Close()
	defer a.Close()

	var mu sync.Mutex
	var errs []error
	port.OnError(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err)
	})

	msgs, _ := serve(t, context.Background(), port)

	go a.Write([]byte{
		0xF0, 0x01, 0x90, // cut short by a note on
		0xF0, 1, 2, 3, 4, 5, 6, 7, 0xF7, // too large
		0xF0, 0x02, 0xF7,
	})

	if got := receive(t, msgs); !bytes.Equal(got, []byte{0xF0, 0x02, 0xF7}) {
		t.Errorf("got % X", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 2 {
		t.Fatalf("got %d errors, want 2: %v", len(errs), errs)
	}
	if !errors.Is(errs[0], ErrFrameTruncated) || !errors.Is(errs[1], ErrMessageTooLarge) {
		t.Errorf("errors = %v", errs)
	}
}

func TestPortHandlerErrorsAreReported(t *testing.T) {
	a, b := net.Pipe()
	port := NewSysExPort(b, PortConfig{})
	defer port.Close()
	defer a.Close()

	reported := make(chan error, 1)
	port.OnError(func(err error) { reported <- err })

	handlerErr := errors.New("boom")
	go port.Serve(context.Background(), func([]byte) error { return handlerErr })

	go a.Write([]byte{0xF0, 0xF7})

	if err := receive(t, reported); !errors.Is(err, handlerErr) {
		t.Errorf("reported %v", err)
	}
}

func TestPortClose(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	port := NewSysExPort(b, PortConfig{})

	_, done := serve(t, context.Background(), port)

	// Wait for the loop to start.
	deadline := time.Now().Add(2 * time.Second)
	for port.State() != StateServing && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if err := port.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := receive(t, done); err != nil {
		t.Errorf("Serve returned %v after Close", err)
	}
	if port.State() != StateClosed {
		t.Errorf("state = %v, want CLOSED", port.State())
	}
	if err := port.Send([]byte{0xF0, 0xF7}); !errors.Is(err, ErrPortClosed) {
		t.Errorf("Send after close: %v", err)
	}
	if err := port.Serve(context.Background(), func([]byte) error { return nil }); !errors.Is(err, ErrPortClosed) {
		t.Errorf("Serve after close: %v", err)
	}
	// Second close is a no-op.
	port.Close()
}

func TestPortContextCancel(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	port := NewUMPPort(b, PortConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	_, done := serve(t, ctx, port)
	cancel()

	if err := receive(t, done); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve returned %v, want context.Canceled", err)
	}
}

func TestPortAlreadyServing(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	port := NewSysExPort(b, PortConfig{})
	defer port.Close()

	serve(t, context.Background(), port)

	deadline := time.Now().Add(2 * time.Second)
	for port.State() != StateServing && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := port.Serve(context.Background(), func([]byte) error { return nil }); !errors.Is(err, ErrAlreadyServing) {
		t.Errorf("second Serve: %v", err)
	}
}

func TestPortStateString(t *testing.T) {
	tests := []struct {
		state PortState
		want  string
	}{
		{StateOpen, "OPEN"},
		{StateServing, "SERVING"},
		{StateClosed, "CLOSED"},
		{PortState(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
