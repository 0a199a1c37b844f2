package registry

import (
	"context"
	"log/slog"
	"time"
)

// SweepInterval is how often the background sweeper scans for expired
// members (spec.md §4.2: "scans every 10 s").
const SweepInterval = 10 * time.Second

// DefaultTimeout is the default heartbeat staleness window (spec.md §3:
// "default 30 s").
const DefaultTimeout = 30 * time.Second

// RunSweeper starts a background goroutine that evicts expired members from
// both stores on a fixed interval until ctx is cancelled.
//
// Grounded on the teacher's internal/cleanup.RunPeriodic: immediate first
// pass, ticker loop, ctx-cancellation exit — adapted from sweeping stale
// upload-session directories to sweeping stale heartbeat records.
func RunSweeper(ctx context.Context, dataStore, nameStore *Store, logger *slog.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		sweepOnce := func() {
			now := time.Now()
			removedData := dataStore.sweepExpired(now)
			removedName := nameStore.sweepExpired(now)
			if removedData > 0 || removedName > 0 {
				logger.Info("registry: sweep removed stale members",
					"data_removed", removedData, "name_removed", removedName)
			}
		}

		sweepOnce()

		ticker := time.NewTicker(SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sweepOnce()
			case <-ctx.Done():
				return
			}
		}
	}()
	return done
}
