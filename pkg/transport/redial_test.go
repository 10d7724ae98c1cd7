package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	t.Run("DefaultSequence", func(t *testing.T) {
		b := NewBackoff(BackoffConfig{Jitter: 0})

		expected := []time.Duration{
			500 * time.Millisecond,
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
			30 * time.Second,
			30 * time.Second, // stays at max
		}
		for i, exp := range expected {
			if got := b.Next(); got != exp {
				t.Errorf("attempt %d: delay = %v, want %v", i, got, exp)
			}
		}
		if b.Attempts() != len(expected) {
			t.Errorf("Attempts() = %d, want %d", b.Attempts(), len(expected))
		}
	})

	t.Run("Jitter", func(t *testing.T) {
		b := NewBackoff(BackoffConfig{Initial: time.Second, Jitter: JitterFactor})
		upper := time.Duration(float64(time.Second) * (1 + JitterFactor))

		for i := 0; i < 20; i++ {
			b.Reset()
			d := b.Next()
			if d < time.Second || d > upper {
				t.Errorf("sample %d: %v out of range [1s, %v]", i, d, upper)
			}
		}
	})

	t.Run("Reset", func(t *testing.T) {
		b := NewBackoff(BackoffConfig{})
		for i := 0; i < 5; i++ {
			b.Next()
		}
		if b.Current() <= InitialBackoff {
			t.Error("backoff should have increased")
		}

		b.Reset()
		if b.Current() != InitialBackoff {
			t.Errorf("after Reset: %v, want %v", b.Current(), InitialBackoff)
		}
		if b.Attempts() != 0 {
			t.Errorf("after Reset: attempts = %d", b.Attempts())
		}
	})

	t.Run("MaxBelowInitial", func(t *testing.T) {
		b := NewBackoff(BackoffConfig{Initial: time.Second, Max: time.Millisecond})
		if d := b.Next(); d != time.Second {
			t.Errorf("delay = %v, want 1s", d)
		}
		if b.Current() != time.Second {
			t.Errorf("current = %v, want capped at 1s", b.Current())
		}
	})
}

func TestRedialRetriesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBackoff(BackoffConfig{Initial: time.Millisecond, Max: 2 * time.Millisecond})
	refused := errors.New("connection refused")

	var sessions atomic.Int32
	var retries []int
	err := Redial(ctx, b, func(ctx context.Context, connected func()) error {
		n := sessions.Add(1)
		switch {
		case n < 3:
			return refused
		case n == 3:
			// Up, then dropped by the peer.
			connected()
			return nil
		default:
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}
	}, func(attempt int, delay time.Duration, err error) {
		retries = append(retries, attempt)
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Redial() = %v, want context.Canceled", err)
	}
	if sessions.Load() != 4 {
		t.Errorf("sessions = %d, want 4", sessions.Load())
	}
	// The third session connected, so its retry starts over at attempt 1.
	want := []int{1, 2, 1}
	if len(retries) != len(want) {
		t.Fatalf("retries = %v, want %v", retries, want)
	}
	for i := range want {
		if retries[i] != want[i] {
			t.Errorf("retries = %v, want %v", retries, want)
			break
		}
	}
}

func TestRedialStopsDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	b := NewBackoff(BackoffConfig{Initial: time.Hour})
	done := make(chan error, 1)
	go func() {
		done <- Redial(ctx, b, func(context.Context, func()) error {
			return errors.New("down")
		}, nil)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Redial() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Redial did not stop")
	}
}
