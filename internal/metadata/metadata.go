// Package metadata defines the durable (filename, hash, location) ->
// storageId triple store (C4) as a single capability interface with two
// selectable implementations, per spec.md §9's explicit redesign
// instruction: "deep-inheritance metadata backends -> a single capability
// set... with two implementations selected at start-up."
package metadata

import (
	"context"
	"time"
)

// Record is one durable storage record (spec.md §3 "Storage record").
type Record struct {
	StorageID  string
	Filename   string
	Hash       string
	Location   string
	CreateTime time.Time
}

// Backend is the capability set every metadata implementation provides.
// There are exactly two implementations (filebackend, sqlbackend), chosen
// at start-up by internal/config's metadata.mode key — never by embedding
// or inheritance.
type Backend interface {
	// QueryByHash returns one record matching hash, or (Record{}, false) if
	// none is known. When several records share a hash, the file backend
	// returns the most recently logged one and the SQL backend the first row
	// its query yields.
	QueryByHash(ctx context.Context, hash string) (Record, bool, error)

	// QueryHashByStorageID resolves a storageId back to its hash. Backed by
	// an explicit index (in-memory reverse map for the file backend, the
	// file_metadata primary key for the SQL backend) rather than a linear
	// scan — spec.md §9 Open Question 2.
	QueryHashByStorageID(ctx context.Context, storageID string) (string, bool, error)

	// LogAddFile durably records a new (filename, hash, location, storageId)
	// tuple. Must be durable before returning (spec.md §4.4 "Invariant").
	LogAddFile(ctx context.Context, filename, hash, location, storageID string) error

	// TryAcquireUploadLock attempts to acquire the cluster-wide upload lock
	// for hash on behalf of nodeID. Returns false if another node already
	// holds it (spec.md §4.4, §6.4.5).
	TryAcquireUploadLock(ctx context.Context, hash, nodeID string) (bool, error)

	// ReleaseUploadLock releases the cluster lock for hash, if held.
	ReleaseUploadLock(ctx context.Context, hash string) error

	// Recover loads all durable state at start-up (replaying the append-only
	// log for the file backend; a no-op for the SQL backend, whose state is
	// already durable in the database).
	Recover(ctx context.Context) error

	// Close releases any backend resources (open log file, DB connection pool).
	Close() error
}

// UploadLockTTL bounds how long a cluster lock may be held before it is
// considered abandoned and eligible for reclamation (spec.md §4.4: "Lock
// TTL: 30 min").
const UploadLockTTL = 30 * time.Minute
