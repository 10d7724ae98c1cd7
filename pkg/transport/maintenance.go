package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Maintenance defaults.
const (
	// DefaultMaintenanceInterval is the default interval between runs.
	DefaultMaintenanceInterval = 100 * time.Millisecond

	// DefaultTransactionTimeout is the default age after which an
	// unfinished property transaction is abandoned.
	DefaultTransactionTimeout = 3 * time.Second
)

// MaintenanceConfig configures periodic maintenance.
type MaintenanceConfig struct {
	// Interval is the time between runs.
	Interval time.Duration
}

// DefaultMaintenanceConfig returns the default maintenance configuration.
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{Interval: DefaultMaintenanceInterval}
}

type task struct {
	name string
	fn   func() error
}

// Maintenance runs registered tasks on a fixed interval: abandoning stale
// property transactions, flushing coalesced subscription notifications and
// similar timer-driven work. Tasks run on the maintenance goroutine, so a
// task touching a MIDI-CI instance must hold the same lock as the port
// handler.
type Maintenance struct {
	config MaintenanceConfig

	mu       sync.Mutex
	tasks    []task
	onError  func(error)
	running  bool
	stopCh   chan struct{}
	runs     int
	failures int
	lastRun  time.Time
}

// NewMaintenance creates a maintenance loop.
func NewMaintenance(config MaintenanceConfig) *Maintenance {
	if config.Interval <= 0 {
		config.Interval = DefaultMaintenanceInterval
	}
	return &Maintenance{
		config: config,
		stopCh: make(chan struct{}),
	}
}

// Add registers a task. Tasks run in registration order.
func (m *Maintenance) Add(name string, fn func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task{name: name, fn: fn})
}

// OnError sets a callback for task failures.
func (m *Maintenance) OnError(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onError = fn
}

// Start begins the maintenance loop.
func (m *Maintenance) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	go m.loop(ctx, stopCh)
}

// Stop stops the maintenance loop.
func (m *Maintenance) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false
	close(m.stopCh)
}

// IsRunning returns true if the loop is active.
func (m *Maintenance) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// MaintenanceStats contains maintenance statistics.
type MaintenanceStats struct {
	Runs     int
	Failures int
	LastRun  time.Time
}

// Stats returns current maintenance statistics.
func (m *Maintenance) Stats() MaintenanceStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MaintenanceStats{Runs: m.runs, Failures: m.failures, LastRun: m.lastRun}
}

// RunOnce runs every task now and returns their joined errors.
func (m *Maintenance) RunOnce() error {
	m.mu.Lock()
	tasks := append([]task(nil), m.tasks...)
	onError := m.onError
	m.mu.Unlock()

	var errs []error
	for _, t := range tasks {
		if err := t.fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
		}
	}
	err := errors.Join(errs...)

	m.mu.Lock()
	m.runs++
	m.lastRun = time.Now()
	if err != nil {
		m.failures++
	}
	m.mu.Unlock()

	if err != nil && onError != nil {
		onError(err)
	}
	return err
}

func (m *Maintenance) loop(ctx context.Context, stopCh chan struct{}) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			if m.stopCh == stopCh {
				m.running = false
			}
			m.mu.Unlock()
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.RunOnce()
		}
	}
}
