// Package admission implements the pre-upload dedup and per-hash
// single-writer gate (C5): spec.md §4.5.
//
// Grounded on the teacher's internal/store/cas.go for the segment-lock idiom
// (see segmentlocks.go) and its dedup-under-lock decision shape (stat, then
// commit-or-discard); there is no teacher analog for cluster coordination or
// a pending set, so those are new code following spec.md §4.5's state
// machine directly.
package admission

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zynqcloud/nimbusfs/internal/metadata"
)

// ClusterCallTimeout bounds the cluster-lock acquisition and queryByHash
// calls a decision makes while holding a segment lock — spec.md §5: "both of
// which must be bounded (<= 3 s) because they execute under the segment
// lock".
const ClusterCallTimeout = 3 * time.Second

// Decision is the outcome of an admission or commit call, carrying whichever
// payload its wire reply needs (spec.md §9: "explicit tagged result values"
// in place of exceptions for control flow).
type Decision struct {
	Outcome   Outcome
	Location  string // set on Exist
	StorageID string // set on Committed
	Reason    string // set on Error
}

// Outcome tags which branch of the admission or commit decision fired.
type Outcome int

const (
	Exist Outcome = iota
	Allow
	Wait
	Committed
	Error
)

// Controller holds the admission state for one Name service: the pending
// set, the segment lock array, and the live Data-service snapshot used for
// upload-location selection (spec.md §4.5 "State").
type Controller struct {
	backend  metadata.Backend
	selfNode string
	pending  *pendingSet
	locks    *segmentLocks
	data     *dataSnapshot
	logger   *slog.Logger

	stopSweep chan struct{}
}

// New builds a Controller backed by backend (typically a cache.Cache
// fronting a file or SQL backend) and identified on the cluster lock as
// selfNode.
func New(backend metadata.Backend, selfNode string, logger *slog.Logger) *Controller {
	c := &Controller{
		backend:   backend,
		selfNode:  selfNode,
		pending:   newPendingSet(),
		locks:     newSegmentLocks(),
		data:      newDataSnapshot(),
		logger:    logger,
		stopSweep: make(chan struct{}),
	}
	go runPendingSweeper(c.pending, c.stopSweep, logger)
	return c
}

// Close stops the pending-set sweeper.
func (c *Controller) Close() { close(c.stopSweep) }

// SetDataNodes atomically replaces the live Data-service snapshot, called by
// C7's pull task via C6.
func (c *Controller) SetDataNodes(nodes []DataNode) { c.data.Set(nodes) }

// PreUpload implements the PRE_UPLOAD decision (spec.md §4.5 "Admission
// decision"), executed under the segment lock for hash.
func (c *Controller) PreUpload(ctx context.Context, hash string) Decision {
	unlock := c.locks.Lock(hash)
	defer unlock()

	if rec, ok, err := c.queryByHashBounded(ctx, hash); err != nil {
		return Decision{Outcome: Error, Reason: "metadata lookup failed"}
	} else if ok {
		return Decision{Outcome: Exist, Location: rec.Location}
	}

	acquired, err := c.tryAcquireLockBounded(ctx, hash)
	if err != nil {
		return Decision{Outcome: Error, Reason: "cluster lock timeout"}
	}
	if !acquired {
		return Decision{Outcome: Wait}
	}

	if c.pending.Has(hash) {
		c.releaseLockBestEffort(hash)
		return Decision{Outcome: Wait}
	}

	c.pending.Add(hash)
	return Decision{Outcome: Allow}
}

// Commit implements the COMMIT decision (spec.md §4.5 "Commit decision"),
// executed under the segment lock for hash.
func (c *Controller) Commit(ctx context.Context, filename, hash, location string) Decision {
	unlock := c.locks.Lock(hash)
	defer unlock()

	rec, ok, err := c.queryByHashBounded(ctx, hash)
	if err != nil {
		return Decision{Outcome: Error, Reason: "metadata lookup failed"}
	}
	if ok {
		// Idempotency: a retried commit for an already-committed hash
		// returns the existing id rather than minting a new one.
		c.pending.Remove(hash)
		return Decision{Outcome: Committed, StorageID: rec.StorageID}
	}

	c.pending.Remove(hash)

	storageID := uuid.NewString()
	putCtx, cancel := context.WithTimeout(ctx, ClusterCallTimeout)
	defer cancel()
	if err := c.backend.LogAddFile(putCtx, filename, hash, location, storageID); err != nil {
		c.releaseLockBestEffort(hash)
		c.logger.Error("admission: commit failed", "hash", hash, "err", err)
		return Decision{Outcome: Error, Reason: "Metadata Persistence Failed"}
	}

	return Decision{Outcome: Committed, StorageID: storageID}
}

// ChooseUploadLocation implements REQUEST_UPLOAD_LOC (spec.md §4.5 "Location
// selection"): weighted-random over the live Data set by free space.
func (c *Controller) ChooseUploadLocation() (string, error) {
	node, err := choose(c.data.Get())
	if err != nil {
		return "", err
	}
	return node.Address, nil
}

// ResolveDownload implements REQUEST_DOWNLOAD_LOC (spec.md §4.5 "Download
// resolution"): resolve id via the reverse index, falling back to treating
// id itself as a legacy hash.
func (c *Controller) ResolveDownload(ctx context.Context, id string) (filename, hash, location string, err error) {
	resolvedHash, ok, qerr := c.backend.QueryHashByStorageID(ctx, id)
	if qerr != nil {
		return "", "", "", qerr
	}
	if !ok {
		resolvedHash = id // legacy: id itself may already be a hash
	}

	rec, ok, qerr := c.backend.QueryByHash(ctx, resolvedHash)
	if qerr != nil {
		return "", "", "", qerr
	}
	if !ok {
		return "", "", "", errNotFound
	}
	return rec.Filename, rec.Hash, rec.Location, nil
}

var errNotFound = errors.New("admission: no record for id")

func (c *Controller) queryByHashBounded(ctx context.Context, hash string) (metadata.Record, bool, error) {
	qctx, cancel := context.WithTimeout(ctx, ClusterCallTimeout)
	defer cancel()
	return c.backend.QueryByHash(qctx, hash)
}

func (c *Controller) tryAcquireLockBounded(ctx context.Context, hash string) (bool, error) {
	lctx, cancel := context.WithTimeout(ctx, ClusterCallTimeout)
	defer cancel()
	return c.backend.TryAcquireUploadLock(lctx, hash, c.selfNode)
}

func (c *Controller) releaseLockBestEffort(hash string) {
	rctx, cancel := context.WithTimeout(context.Background(), ClusterCallTimeout)
	defer cancel()
	if err := c.backend.ReleaseUploadLock(rctx, hash); err != nil {
		c.logger.Warn("admission: release lock failed", "hash", hash, "err", err)
	}
}
