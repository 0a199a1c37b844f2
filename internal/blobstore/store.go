package blobstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a hash cannot be located on any configured
// storage root.
var ErrNotFound = errors.New("blobstore: not found")

// ErrPathEscape is returned when a resolved path would not canonicalize to a
// descendant of any configured storage root (spec.md §4.3 "Hardening").
var ErrPathEscape = errors.New("blobstore: path escapes storage root")

// Store is a hash-addressed blob store spanning one or more local storage
// roots. The read path probes every root in configured order; the write
// path picks the root with the most free space at the moment of ingest.
//
// The exists-check + rename around Commit runs under a single process-wide
// mutex (fileLock) rather than the teacher's per-hash lock pool, per
// spec.md §5's explicit invariant that this step is process-wide, not
// per-hash.
type Store struct {
	roots    []string // absolute, cleaned
	fileLock sync.Mutex
}

// NewStore creates a Store over the given roots, creating each if it does
// not already exist.
func NewStore(roots []string) (*Store, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("blobstore: at least one storage root is required")
	}
	abs := make([]string, len(roots))
	for i, r := range roots {
		if err := os.MkdirAll(r, 0o750); err != nil {
			return nil, fmt.Errorf("blobstore: create root %q: %w", r, err)
		}
		a, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("blobstore: resolve root %q: %w", r, err)
		}
		abs[i] = a
	}
	return &Store{roots: abs}, nil
}

// Roots returns the configured storage roots (absolute paths).
func (s *Store) Roots() []string { return append([]string(nil), s.roots...) }

// DiskStats reports (available, total) bytes of the "best single root"
// by free space — used by the Data service's discovery heartbeat (spec.md
// §4.7: Data pushes "address|freeSpace"). freeSpace is the maximum free
// space across roots, since that's the root the next ingest will use.
func (s *Store) DiskStats() (avail, total uint64) {
	for _, r := range s.roots {
		a, t := diskStats(r)
		if a > avail {
			avail, total = a, t
		}
	}
	return avail, total
}

// containedIn reports whether candidate canonicalizes to a descendant of
// root. Grounded on the teacher's internal/store/local.go abs() containment
// check (filepath.Rel + reject any ".." prefix).
func containedIn(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Locate finds an existing blob for hash, probing storage roots in
// configured order. The first root holding the file wins (spec.md §4.3
// "Read path").
func (s *Store) Locate(hash string) (path string, size int64, err error) {
	if err := ValidateHash(hash); err != nil {
		return "", 0, err
	}
	for _, root := range s.roots {
		candidate := filepath.Join(root, shardedPath(hash))
		if !containedIn(root, candidate) {
			return "", 0, ErrPathEscape
		}
		info, statErr := os.Stat(candidate)
		if statErr == nil && info.Mode().IsRegular() {
			return candidate, info.Size(), nil
		}
	}
	return "", 0, ErrNotFound
}

// Open opens an existing blob for streaming. Caller must close it.
func (s *Store) Open(hash string) (io.ReadCloser, int64, error) {
	path, size, err := s.Locate(hash)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	return f, size, nil
}

// ChooseWriteRoot picks the storage root with the most free space at this
// moment (spec.md §4.3 "Write path"). Ties and unavailable disk stats (0,0
// on non-Linux) fall back to the first configured root.
func (s *Store) ChooseWriteRoot() string {
	best := s.roots[0]
	var bestFree uint64
	for _, r := range s.roots {
		free, _ := diskStats(r)
		if free > bestFree {
			bestFree = free
			best = r
		}
	}
	return best
}

// Ingest represents one in-flight upload: bytes are written to a unique temp
// file in the blob's final sharded directory, then atomically promoted by
// Commit once the full stream has been received.
type Ingest struct {
	store   *Store
	root    string
	hash    string
	tmpPath string
	file    *os.File
}

// BeginIngest validates hash, selects a write root, and opens a unique temp
// file at "<root>/H[0:2]/H[2:4]/H.<uuid>.tmp" (spec.md §4.3 step 3: the temp
// file lives in the final directory, not a separate staging area, so the
// later rename is same-directory and therefore atomic on every POSIX
// filesystem).
func (s *Store) BeginIngest(hash string) (*Ingest, error) {
	if err := ValidateHash(hash); err != nil {
		return nil, err
	}
	root := s.ChooseWriteRoot()
	finalDir := filepath.Join(root, hash[0:2], hash[2:4])
	if err := os.MkdirAll(finalDir, 0o750); err != nil {
		return nil, fmt.Errorf("blobstore: mkdir %q: %w", finalDir, err)
	}

	tmpPath := filepath.Join(finalDir, fmt.Sprintf("%s.%s.tmp", hash, uuid.NewString()))
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("blobstore: create temp %q: %w", tmpPath, err)
	}
	return &Ingest{store: s, root: root, hash: hash, tmpPath: tmpPath, file: f}, nil
}

// Write appends a stream chunk to the temp file.
func (ig *Ingest) Write(p []byte) (int, error) {
	return ig.file.Write(p)
}

// Abort closes and deletes the temp file. Called when the connection drops
// before the full stream arrives (spec.md §3 "Temp upload file" lifecycle)
// or when a downstream error prevents commit.
func (ig *Ingest) Abort() {
	ig.file.Close()
	os.Remove(ig.tmpPath) //nolint:errcheck
}

// Commit closes the temp file and atomically promotes it to its final
// sharded path under the process-wide fileLock (spec.md §4.3 step 4).
//
// isNew is true when this call's temp file became the stored blob; false on
// a dedup hit (someone else's blob already existed) or a rename race lost to
// a concurrent committer (both are success-class outcomes per spec.md §8
// scenario 4: "exactly one final file exists and all N responses are
// success-class").
func (ig *Ingest) Commit() (isNew bool, err error) {
	if cerr := ig.file.Close(); cerr != nil {
		os.Remove(ig.tmpPath) //nolint:errcheck
		return false, fmt.Errorf("blobstore: flush temp: %w", cerr)
	}

	final := filepath.Join(ig.root, shardedPath(ig.hash))
	if !containedIn(ig.root, final) {
		os.Remove(ig.tmpPath) //nolint:errcheck
		return false, ErrPathEscape
	}

	ig.store.fileLock.Lock()
	defer ig.store.fileLock.Unlock()

	if info, statErr := os.Stat(final); statErr == nil && info.Mode().IsRegular() {
		os.Remove(ig.tmpPath) //nolint:errcheck
		return false, nil
	}

	if err := os.Chmod(ig.tmpPath, 0o440); err != nil {
		os.Remove(ig.tmpPath) //nolint:errcheck
		return false, fmt.Errorf("blobstore: chmod: %w", err)
	}

	if err := os.Rename(ig.tmpPath, final); err != nil {
		// Race: another ingest of the same hash won first. If the final
		// file now exists, this is still success-class (spec.md §4.3 step 4
		// "If rename fails but final now exists").
		if info, statErr := os.Stat(final); statErr == nil && info.Mode().IsRegular() {
			os.Remove(ig.tmpPath) //nolint:errcheck
			return false, nil
		}
		os.Remove(ig.tmpPath) //nolint:errcheck
		return false, fmt.Errorf("blobstore: rename to %q: %w", final, err)
	}

	return true, nil
}
