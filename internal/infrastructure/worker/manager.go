// Package worker runs the engine's background jobs: the template cache janitor
// and the overdue task reminder sweep.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Worker is a background job with an explicit lifecycle
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// Status is the last observed state of one registered worker
type Status struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	Err     string `json:"error,omitempty"`
}

type entry struct {
	worker  Worker
	running bool
	err     error
}

// WorkerManager starts registered workers in order and stops them in reverse.
// A worker that fails to start is recorded and skipped; the others still run.
type WorkerManager struct {
	mu      sync.RWMutex
	entries []*entry
	running bool
	cancel  context.CancelFunc
	logger  *zap.Logger
}

// NewWorkerManager creates an empty manager
func NewWorkerManager(logger *zap.Logger) *WorkerManager {
	return &WorkerManager{logger: logger}
}

// Register adds a worker. Workers registered while running are started on the next StartAll.
func (m *WorkerManager) Register(w Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, &entry{worker: w})
	m.logger.Debug("Worker registered", zap.String("worker", w.Name()), zap.Int("workers", len(m.entries)))
}

// StartAll starts every registered worker under a context derived from ctx
func (m *WorkerManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return errors.New("workers already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	started := 0
	for _, e := range m.entries {
		e.err = e.worker.Start(runCtx)
		e.running = e.err == nil
		if e.err != nil {
			m.logger.Error("Worker failed to start", zap.String("worker", e.worker.Name()), zap.Error(e.err))
			continue
		}
		started++
	}

	m.logger.Info("Workers started", zap.Int("started", started), zap.Int("registered", len(m.entries)))
	return nil
}

// StopAll cancels the shared context and stops running workers in reverse order.
// Calling it when nothing runs is a no-op.
func (m *WorkerManager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false
	m.cancel()

	var errs []error
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if !e.running {
			continue
		}
		e.running = false
		if err := e.worker.Stop(); err != nil {
			e.err = err
			m.logger.Error("Worker failed to stop", zap.String("worker", e.worker.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", e.worker.Name(), err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("stop workers: %w", errors.Join(errs...))
	}
	m.logger.Info("Workers stopped", zap.Int("workers", len(m.entries)))
	return nil
}

// Statuses reports every worker in registration order
func (m *WorkerManager) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Status, 0, len(m.entries))
	for _, e := range m.entries {
		s := Status{Name: e.worker.Name(), Running: e.running}
		if e.err != nil {
			s.Err = e.err.Error()
		}
		out = append(out, s)
	}
	return out
}

// GetWorkerCount returns the number of registered workers
func (m *WorkerManager) GetWorkerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// IsRunning reports whether StartAll has run without a matching StopAll
func (m *WorkerManager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}
