package workers

import (
	"context"
	"log/slog"
	"time"

	"dm-engine/repositories"
)

// SweeperWorker periodically removes delivered buffer records that have
// aged past the retention window. Pure housekeeping: it runs off the
// request path, tolerates being skipped or delayed, and its failures
// are logged, never fatal to the serving path. Undelivered records are
// out of its reach by contract with the repository.
type SweeperWorker struct {
	log       *slog.Logger
	buffer    repositories.IBufferRepository
	interval  time.Duration
	retention time.Duration
}

func NewSweeperWorker(log *slog.Logger, buffer repositories.IBufferRepository,
	interval, retention time.Duration) *SweeperWorker {
	return &SweeperWorker{log: log, buffer: buffer, interval: interval, retention: retention}
}

func (w *SweeperWorker) Run(ctx context.Context) error {
	w.log.Info("Starting buffer sweeper",
		"interval", w.interval,
		"retention", w.retention)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			swept, err := w.buffer.SweepExpired(w.retention)
			if err != nil {
				w.log.Error("Buffer sweep failed", "error", err)
				continue
			}
			if swept > 0 {
				w.log.Info("Buffer sweep done", "removed", swept)
			}
		}
	}
}
