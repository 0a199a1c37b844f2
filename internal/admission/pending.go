package admission

import (
	"log/slog"
	"sync"
	"time"
)

// PendingTTL bounds how long a hash may sit in the pending set before it is
// swept — spec.md §4.5: "Entries expire after 10 min".
const PendingTTL = 10 * time.Minute

// PendingSweepInterval is how often the sweeper scans the pending set —
// spec.md §4.5: "via a periodic sweeper (every 60 s)".
const PendingSweepInterval = 60 * time.Second

// pendingSet tracks hashes currently holding admission on this Name service
// (spec.md §3: "pending(hash), the in-memory admission set"). Entries carry
// a creation time so the sweeper can reclaim abandoned reservations.
type pendingSet struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func newPendingSet() *pendingSet {
	return &pendingSet{entries: make(map[string]time.Time)}
}

// Has reports whether hash currently holds an admission reservation.
func (p *pendingSet) Has(hash string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[hash]
	return ok
}

// Add records hash as pending as of now.
func (p *pendingSet) Add(hash string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[hash] = time.Now()
}

// Remove drops hash from the pending set, if present.
func (p *pendingSet) Remove(hash string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, hash)
}

// sweepExpired removes every entry older than PendingTTL relative to now and
// returns the count removed.
func (p *pendingSet) sweepExpired(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for hash, created := range p.entries {
		if now.Sub(created) > PendingTTL {
			delete(p.entries, hash)
			removed++
		}
	}
	return removed
}

// runPendingSweeper evicts abandoned reservations on a fixed interval until
// stop is closed. It blocks for that whole time; New runs it in its own
// goroutine.
//
// Grounded on internal/registry.RunSweeper, itself grounded on the teacher's
// internal/cleanup.RunPeriodic: immediate first pass, ticker loop, exit on
// cancellation.
func runPendingSweeper(pending *pendingSet, stop <-chan struct{}, logger *slog.Logger) {
	sweepOnce := func() {
		removed := pending.sweepExpired(time.Now())
		if removed > 0 {
			logger.Info("admission: pending sweep reclaimed abandoned reservations", "removed", removed)
		}
	}

	sweepOnce()

	ticker := time.NewTicker(PendingSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sweepOnce()
		case <-stop:
			return
		}
	}
}
