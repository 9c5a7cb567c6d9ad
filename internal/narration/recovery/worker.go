package recovery

import (
	"context"
	"log/slog"
	"time"
)

// Worker runs the handler periodically.
type Worker struct {
	handler  *Handler
	interval time.Duration
}

// NewWorker creates a recovery worker.
func NewWorker(handler *Handler, interval time.Duration) *Worker {
	return &Worker{
		handler:  handler,
		interval: max(interval, time.Second),
	}
}

// Start runs the recovery loop until ctx is done.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.handler.ProcessDue(ctx)
			if err != nil && ctx.Err() == nil {
				slog.Error("Recovery pass failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("Recovery pass finished", "attempted", n)
			}
		}
	}
}
