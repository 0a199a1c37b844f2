// Package blobstore implements the Data service's hash-addressed on-disk
// layout (C3): two-level directory sharding, atomic rename from a unique
// temp file, orphan-temp garbage collection, and path-traversal hardening.
//
// Grounded on the teacher's internal/store/cas.go and internal/store/local.go
// — adapted from an in-process io.Reader-driven CAS (teacher) to a
// protocol-driven one (data arrives as stream chunks from a decoded frame)
// with a process-wide FILE_LOCK rather than the teacher's per-hash lock pool
// (spec.md §5 requires a single process-wide mutex around the exists-check
// + rename, not per-hash locking).
package blobstore

import (
	"fmt"
	"regexp"
)

// hashPattern matches spec.md §4.3's hash format check: alphanumeric only.
// A 64-hex-char SHA-256 always satisfies this, but the check itself is
// intentionally broader (spec.md: `^[a-zA-Z0-9]+$`) — it exists to reject
// "..", "/", "\", NUL, and any other non-alphanumeric byte, not to enforce
// hash length.
var hashPattern = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// ErrInvalidHash is returned when a caller-supplied hash string fails the
// alphanumeric format check.
var ErrInvalidHash = fmt.Errorf("blobstore: non-conformant hash")

// ValidateHash reports whether h is safe to use as a path component: purely
// alphanumeric, non-empty, and at least 4 characters long (the sharding
// scheme needs h[0:2] and h[2:4]).
func ValidateHash(h string) error {
	if len(h) < 4 || !hashPattern.MatchString(h) {
		return ErrInvalidHash
	}
	return nil
}

// shardedPath returns the two-level sharded relative path for hash h:
// "H[0:2]/H[2:4]/H" (spec.md §4.3). Callers must validate h first.
func shardedPath(h string) string {
	return h[0:2] + "/" + h[2:4] + "/" + h
}
