package admission

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/zynqcloud/nimbusfs/internal/metadata"
)

// fakeBackend is an in-memory metadata.Backend stand-in, grounded on the
// same capability set filebackend.Backend implements.
type fakeBackend struct {
	mu      sync.Mutex
	records map[string]metadata.Record
	locks   map[string]string // hash -> nodeId holding the cluster lock

	// failQuery/failLock simulate a bounded-call timeout from the cluster,
	// distinct from a legitimate negative result (not found / not acquired).
	failQuery bool
	failLock  bool
}

var errSimulatedTimeout = errors.New("fakeBackend: simulated cluster timeout")

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		records: make(map[string]metadata.Record),
		locks:   make(map[string]string),
	}
}

func (f *fakeBackend) QueryByHash(_ context.Context, hash string) (metadata.Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failQuery {
		return metadata.Record{}, false, errSimulatedTimeout
	}
	rec, ok := f.records[hash]
	return rec, ok, nil
}

func (f *fakeBackend) QueryHashByStorageID(_ context.Context, storageID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.StorageID == storageID {
			return rec.Hash, true, nil
		}
	}
	return "", false, nil
}

func (f *fakeBackend) LogAddFile(_ context.Context, filename, hash, location, storageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[hash] = metadata.Record{StorageID: storageID, Filename: filename, Hash: hash, Location: location}
	delete(f.locks, hash)
	return nil
}

func (f *fakeBackend) TryAcquireUploadLock(_ context.Context, hash, nodeID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLock {
		return false, errSimulatedTimeout
	}
	if holder, ok := f.locks[hash]; ok && holder != nodeID {
		return false, nil
	}
	f.locks[hash] = nodeID
	return true, nil
}

func (f *fakeBackend) ReleaseUploadLock(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locks, hash)
	return nil
}

func (f *fakeBackend) Recover(_ context.Context) error { return nil }
func (f *fakeBackend) Close() error                    { return nil }

var _ metadata.Backend = (*fakeBackend)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestDedupRaceExactlyOneAllow is spec.md §8 scenario 3: 10 concurrent
// PRE_UPLOAD for the same hash yields exactly 1 ALLOW and 9 WAIT.
func TestDedupRaceExactlyOneAllow(t *testing.T) {
	c := New(newFakeBackend(), "name-1", testLogger())
	defer c.Close()

	const hash = "deadbeef"
	var allowCount, waitCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := c.PreUpload(context.Background(), hash)
			switch d.Outcome {
			case Allow:
				allowCount.Add(1)
			case Wait:
				waitCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if allowCount.Load() != 1 {
		t.Errorf("expected exactly 1 ALLOW, got %d", allowCount.Load())
	}
	if waitCount.Load() != 9 {
		t.Errorf("expected exactly 9 WAIT, got %d", waitCount.Load())
	}
}

// TestCommitThenPreUploadObservesExist is the second half of scenario 3:
// after the winner commits with location L, retries observe EXIST(L).
func TestCommitThenPreUploadObservesExist(t *testing.T) {
	ctx := context.Background()
	c := New(newFakeBackend(), "name-1", testLogger())
	defer c.Close()

	const hash = "cafef00d"
	pre := c.PreUpload(ctx, hash)
	if pre.Outcome != Allow {
		t.Fatalf("expected ALLOW, got %v", pre.Outcome)
	}

	commit := c.Commit(ctx, "report.pdf", hash, "data1:9000")
	if commit.Outcome != Committed {
		t.Fatalf("expected Committed, got %v (%s)", commit.Outcome, commit.Reason)
	}

	retry := c.PreUpload(ctx, hash)
	if retry.Outcome != Exist {
		t.Fatalf("expected Exist after commit, got %v", retry.Outcome)
	}
	if retry.Location != "data1:9000" {
		t.Errorf("expected location data1:9000, got %q", retry.Location)
	}
}

// TestAdmissionReleaseAfterCommit is spec.md §8's "Admission release"
// invariant: after COMMIT, the hash is not in pending.
func TestAdmissionReleaseAfterCommit(t *testing.T) {
	ctx := context.Background()
	c := New(newFakeBackend(), "name-1", testLogger())
	defer c.Close()

	const hash = "feedface"
	c.PreUpload(ctx, hash)
	c.Commit(ctx, "f.txt", hash, "data1:9000")

	if c.pending.Has(hash) {
		t.Error("hash still pending after commit")
	}
}

// TestCommitIsIdempotent verifies a repeated commit for an already-known
// hash returns the same storageId rather than minting a new one.
func TestCommitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := New(newFakeBackend(), "name-1", testLogger())
	defer c.Close()

	const hash = "0123abcd"
	c.PreUpload(ctx, hash)
	first := c.Commit(ctx, "f.txt", hash, "data1:9000")
	second := c.Commit(ctx, "f.txt", hash, "data1:9000")

	if first.StorageID != second.StorageID {
		t.Errorf("expected idempotent storageId, got %q then %q", first.StorageID, second.StorageID)
	}
}

// TestPreUploadClusterLockTimeoutSurfacesError is spec.md §5: a timeout
// acquiring the cluster lock surfaces as ERROR, releases the segment lock,
// and does not add the hash to pending.
func TestPreUploadClusterLockTimeoutSurfacesError(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.failLock = true
	c := New(backend, "name-1", testLogger())
	defer c.Close()

	const hash = "timeouthash"
	d := c.PreUpload(ctx, hash)
	if d.Outcome != Error {
		t.Fatalf("expected Error, got %v", d.Outcome)
	}
	if c.pending.Has(hash) {
		t.Error("pending must not be mutated on a cluster lock timeout")
	}

	// The segment lock must have been released: a follow-up call (with the
	// timeout cleared) must not block or deadlock.
	backend.failLock = false
	d2 := c.PreUpload(ctx, hash)
	if d2.Outcome != Allow {
		t.Fatalf("expected Allow after timeout cleared, got %v", d2.Outcome)
	}
}

// TestCommitQueryTimeoutSurfacesErrorWithoutMutation is spec.md §5 applied to
// Commit's double-check: a timeout there must not remove the hash from
// pending nor write a second metadata record for it.
func TestCommitQueryTimeoutSurfacesErrorWithoutMutation(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	c := New(backend, "name-1", testLogger())
	defer c.Close()

	const hash = "flakyhash"
	pre := c.PreUpload(ctx, hash)
	if pre.Outcome != Allow {
		t.Fatalf("expected Allow, got %v", pre.Outcome)
	}

	backend.failQuery = true
	d := c.Commit(ctx, "f.txt", hash, "data1:9000")
	if d.Outcome != Error {
		t.Fatalf("expected Error, got %v (%s)", d.Outcome, d.Reason)
	}
	if !c.pending.Has(hash) {
		t.Error("pending must not be cleared on a metadata-lookup timeout")
	}

	backend.failQuery = false
	if _, ok, _ := backend.QueryByHash(ctx, hash); ok {
		t.Error("no metadata record should have been written on timeout")
	}

	commit := c.Commit(ctx, "f.txt", hash, "data1:9000")
	if commit.Outcome != Committed {
		t.Fatalf("expected Committed after timeout cleared, got %v", commit.Outcome)
	}
}

func TestResolveDownloadByStorageID(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	c := New(backend, "name-1", testLogger())
	defer c.Close()

	c.PreUpload(ctx, "hash1")
	commit := c.Commit(ctx, "doc.pdf", "hash1", "data1:9000")

	filename, hash, location, err := c.ResolveDownload(ctx, commit.StorageID)
	if err != nil {
		t.Fatalf("ResolveDownload: %v", err)
	}
	if filename != "doc.pdf" || hash != "hash1" || location != "data1:9000" {
		t.Errorf("unexpected resolution: %s %s %s", filename, hash, location)
	}
}

func TestResolveDownloadLegacyHashFallback(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	c := New(backend, "name-1", testLogger())
	defer c.Close()

	c.PreUpload(ctx, "legacyhash")
	c.Commit(ctx, "old.bin", "legacyhash", "data1:9000")

	// Passing the hash itself (not a storageId) must still resolve.
	filename, hash, _, err := c.ResolveDownload(ctx, "legacyhash")
	if err != nil {
		t.Fatalf("ResolveDownload: %v", err)
	}
	if filename != "old.bin" || hash != "legacyhash" {
		t.Errorf("unexpected legacy resolution: %s %s", filename, hash)
	}
}

func TestResolveDownloadNotFound(t *testing.T) {
	ctx := context.Background()
	c := New(newFakeBackend(), "name-1", testLogger())
	defer c.Close()

	_, _, _, err := c.ResolveDownload(ctx, "does-not-exist")
	if !errors.Is(err, errNotFound) {
		t.Errorf("expected errNotFound, got %v", err)
	}
}

func TestChooseUploadLocationNoDataService(t *testing.T) {
	c := New(newFakeBackend(), "name-1", testLogger())
	defer c.Close()

	_, err := c.ChooseUploadLocation()
	if !errors.Is(err, ErrNoDataService) {
		t.Errorf("expected ErrNoDataService, got %v", err)
	}
}

func TestChooseUploadLocationWeightedZeroFallsBackUniform(t *testing.T) {
	c := New(newFakeBackend(), "name-1", testLogger())
	defer c.Close()

	c.SetDataNodes([]DataNode{{Address: "a:1", FreeSpace: 0}, {Address: "b:2", FreeSpace: 0}})
	addr, err := c.ChooseUploadLocation()
	if err != nil {
		t.Fatalf("ChooseUploadLocation: %v", err)
	}
	if addr != "a:1" && addr != "b:2" {
		t.Errorf("unexpected address %q", addr)
	}
}

func TestChooseUploadLocationPrefersMoreFreeSpace(t *testing.T) {
	c := New(newFakeBackend(), "name-1", testLogger())
	defer c.Close()

	c.SetDataNodes([]DataNode{{Address: "small", FreeSpace: 1}, {Address: "big", FreeSpace: 999_999}})

	counts := map[string]int{}
	for i := 0; i < 500; i++ {
		addr, err := c.ChooseUploadLocation()
		if err != nil {
			t.Fatalf("ChooseUploadLocation: %v", err)
		}
		counts[addr]++
	}
	if counts["big"] < counts["small"] {
		t.Errorf("expected big to dominate selection, got %v", counts)
	}
}

func TestSegmentLocksIndexIsStable(t *testing.T) {
	sl := newSegmentLocks()
	a := sl.index("some-hash")
	b := sl.index("some-hash")
	if a != b {
		t.Errorf("expected stable index, got %d then %d", a, b)
	}
	if a < 0 || a >= segmentLockCount {
		t.Errorf("index %d out of range", a)
	}
}

func TestPendingSetSweepExpiresOldEntries(t *testing.T) {
	p := newPendingSet()
	p.Add("h1")
	if removed := p.sweepExpired(p.entries["h1"].Add(PendingTTL + 1)); removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if p.Has("h1") {
		t.Error("expected h1 to be evicted")
	}
}
