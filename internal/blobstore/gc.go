package blobstore

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// GCInterval is how often orphan-temp garbage collection runs (spec.md
// §4.3: "every 60 min").
const GCInterval = 60 * time.Minute

// TempTTL is how old a .tmp file's mtime must be before GC deletes it
// (spec.md §4.3 and §3: "mtime is more than 60 min ago").
const TempTTL = 60 * time.Minute

// sweepOrphanTemps walks every storage root and deletes any regular file
// ending ".tmp" whose mtime predates the cutoff. Grounded on the teacher's
// internal/cleanup.Sessions — same "scan, compare mtime, remove, log count"
// shape, adapted from per-session directories to per-file .tmp sweeping.
func (s *Store) sweepOrphanTemps(logger *slog.Logger) {
	cutoff := time.Now().Add(-TempTTL)
	removed := 0

	for _, root := range s.roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // skip unreadable entries, keep walking
			}
			if d.IsDir() || !strings.HasSuffix(path, ".tmp") {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			if info.ModTime().Before(cutoff) {
				if rmErr := os.Remove(path); rmErr == nil {
					removed++
				} else {
					logger.Warn("blobstore: gc remove failed", "path", path, "err", rmErr)
				}
			}
			return nil
		})
		if err != nil {
			logger.Warn("blobstore: gc walk failed", "root", root, "err", err)
		}
	}

	if removed > 0 {
		logger.Info("blobstore: gc cycle complete", "removed", removed)
	}
}

// RunGC starts a background goroutine that sweeps orphan temp files on a
// fixed interval until ctx is cancelled, with an immediate first pass to
// clear anything left over from a prior crash.
func (s *Store) RunGC(ctx context.Context, logger *slog.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		s.sweepOrphanTemps(logger)

		ticker := time.NewTicker(GCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweepOrphanTemps(logger)
			case <-ctx.Done():
				return
			}
		}
	}()
	return done
}
