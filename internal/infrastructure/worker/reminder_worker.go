package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reminder sends reminders for tasks past their due time
type Reminder interface {
	RemindOverdue(ctx context.Context, now time.Time) (int, error)
}

// ReminderWorkerConfig holds configuration for the reminder worker
type ReminderWorkerConfig struct {
	Interval time.Duration
	Timeout  time.Duration // bound on one sweep
}

// DefaultReminderWorkerConfig returns default configuration
func DefaultReminderWorkerConfig() ReminderWorkerConfig {
	return ReminderWorkerConfig{
		Interval: 15 * time.Minute,
		Timeout:  time.Minute,
	}
}

// ReminderWorker periodically re-notifies assignees of overdue tasks.
// It only reads workflow state; expiring instances is left to the host's SLA job.
type ReminderWorker struct {
	config   ReminderWorkerConfig
	reminder Reminder
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	isRunning bool
	sweeps    int
	sent      int
}

// NewReminderWorker creates a new reminder worker
func NewReminderWorker(config ReminderWorkerConfig, reminder Reminder, logger *zap.Logger) *ReminderWorker {
	if config.Interval <= 0 {
		config.Interval = DefaultReminderWorkerConfig().Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultReminderWorkerConfig().Timeout
	}
	return &ReminderWorker{
		config:   config,
		reminder: reminder,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the sweep loop
func (w *ReminderWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isRunning {
		return fmt.Errorf("reminder worker already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true

	w.logger.Info("ReminderWorker started", zap.Duration("interval", w.config.Interval))

	go w.loop(loopCtx, w.done)
	return nil
}

// Stop terminates the loop and waits for an in-flight sweep
func (w *ReminderWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.mu.Lock()
	w.logger.Info("ReminderWorker stopped", zap.Int("sweeps", w.sweeps), zap.Int("sent", w.sent))
	w.mu.Unlock()
	return nil
}

// Name returns the worker name for identification
func (w *ReminderWorker) Name() string {
	return "ReminderWorker"
}

// Stats returns the number of completed sweeps and delivered reminders
func (w *ReminderWorker) Stats() (sweeps, sent int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sweeps, w.sent
}

func (w *ReminderWorker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ReminderWorker) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	n, err := w.reminder.RemindOverdue(sweepCtx, w.now())

	w.mu.Lock()
	w.sweeps++
	w.sent += n
	w.mu.Unlock()

	if err != nil {
		w.logger.Error("Overdue reminder sweep failed", zap.Error(err))
	}
}
