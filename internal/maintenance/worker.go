// Package maintenance runs the gateway's periodic housekeeping, purging old
// webhook event claims.
package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventCleaner deletes webhook event claims older than the retention window
type EventCleaner interface {
	CleanupOldEvents(ctx context.Context, retentionDays int) (int64, error)
}

// WorkerConfig holds configuration for the maintenance worker
type WorkerConfig struct {
	// CleanupInterval is how often old webhook event claims are purged
	CleanupInterval time.Duration
	// RetentionDays is how long claimed event IDs are kept
	RetentionDays int
}

// DefaultWorkerConfig returns the defaults used when no config is given
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		CleanupInterval: time.Hour,
		RetentionDays:   7,
	}
}

// Worker runs the cleanup loop until stopped
type Worker struct {
	cleaner EventCleaner
	config  *WorkerConfig
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// mu orders Start against Stop when they race during shutdown
	mu      sync.Mutex
	stopped bool
}

// NewWorker creates a maintenance worker. A nil cleaner leaves the worker
// idle.
func NewWorker(cleaner EventCleaner, cfg *WorkerConfig) *Worker {
	if cfg == nil {
		cfg = DefaultWorkerConfig()
	}
	return &Worker{
		cleaner: cleaner,
		config:  cfg,
		stopCh:  make(chan struct{}),
	}
}

// Start begins the background loop. It is a no-op after Stop.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	if w.cleaner != nil && w.config.CleanupInterval > 0 {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.runLoop(ctx, w.config.CleanupInterval, w.cleanup)
		}()
	}

	slog.Info("maintenance worker started", "event_cleanup", w.cleaner != nil)
}

// Stop signals the loop and waits for it to exit
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	slog.Info("maintenance worker stopped")
}

func (w *Worker) runLoop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

func (w *Worker) cleanup(ctx context.Context) {
	n, err := w.cleaner.CleanupOldEvents(ctx, w.config.RetentionDays)
	if err != nil {
		slog.Error("failed to clean up webhook events", "error", err)
		return
	}
	if n > 0 {
		slog.Info("cleaned up webhook events", "deleted", n, "retention_days", w.config.RetentionDays)
	}
}
