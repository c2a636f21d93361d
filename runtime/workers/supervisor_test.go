package workers

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

// countingWorker panics a fixed number of times, then terminates.
type countingWorker struct {
	runs     *atomic.Int32
	panicsAt int32
}

func (w countingWorker) Run(_ context.Context) error {
	n := w.runs.Add(1)
	if n <= w.panicsAt {
		panic("boom")
	}
	return nil
}

func Test_Supervisor_Restarts_Panicking_Worker(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelError)
	supervisor := NewSupervisor(log, 10*time.Millisecond)

	// Given a worker that panics twice before finishing
	runs := &atomic.Int32{}
	supervisor.Add(countingWorker{runs: runs, panicsAt: 2})

	// When running under supervision
	done := make(chan struct{})
	go func() {
		supervisor.Run(context.Background())
		close(done)
	}()

	// Then the worker was restarted until it terminated properly
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		req.Fail("Supervisor did not finish in time")
	}
	req.Equal(int32(3), runs.Load())
}

// blockingWorker runs until its context is canceled.
type blockingWorker struct{}

func (w blockingWorker) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func Test_Supervisor_Stop_Cancels_Workers(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelError)
	supervisor := NewSupervisor(log, 10*time.Millisecond)
	supervisor.Add(blockingWorker{})

	done := make(chan struct{})
	go func() {
		supervisor.Run(context.Background())
		close(done)
	}()

	// Give the worker time to start before stopping
	time.Sleep(50 * time.Millisecond)
	supervisor.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		req.Fail("Supervisor did not stop in time")
	}
}
