// Package registry implements the membership directory (C2): Data and Name
// services register and heartbeat here, and periodically pull the live set
// of peers. There is no gossip — Registry replicas (if more than one is
// configured) become eventually consistent purely because every Data/Name
// service broadcasts its heartbeat to all of them (spec.md §4.7).
package registry

import (
	"sync"
	"time"
)

// Node is one registered member: its address, last-known free space (Data
// services only; always 0 for Name services), and the time of its most
// recent heartbeat.
type Node struct {
	Address       string
	FreeSpace     int64
	LastHeartbeat time.Time
}

// Store tracks the live members of one role (Data or Name). It is safe for
// concurrent use; a background sweeper (see sweep.go) evicts entries whose
// heartbeat has gone stale, and List() evicts opportunistically too.
//
// Grounded on the teacher's internal/store/cas.go hashEntry pool: a plain
// map guarded by a mutex rather than sync.Map, because unlike the CAS lock
// pool the working set here is small (tens to low thousands of nodes) and
// List() needs a full, consistent snapshot rather than per-key access.
type Store struct {
	mu      sync.RWMutex
	members map[string]Node
	timeout time.Duration
}

// NewStore creates a Store that considers a member expired once timeout has
// elapsed since its last heartbeat.
func NewStore(timeout time.Duration) *Store {
	return &Store{
		members: make(map[string]Node),
		timeout: timeout,
	}
}

// Upsert registers or refreshes address with the given free space (callers
// pass 0 for Name-service heartbeats, which carry no free-space field).
// LastHeartbeat is always set to now.
func (s *Store) Upsert(address string, freeSpace int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[address] = Node{
		Address:       address,
		FreeSpace:     freeSpace,
		LastHeartbeat: time.Now(),
	}
}

// List returns every member whose heartbeat is still within the timeout
// window, evicting any stale entries it encounters along the way so a
// List-heavy caller doesn't have to wait for the next sweep (spec.md §4.2).
func (s *Store) List() []Node {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	live := make([]Node, 0, len(s.members))
	for addr, n := range s.members {
		if now.Sub(n.LastHeartbeat) > s.timeout {
			delete(s.members, addr)
			continue
		}
		live = append(live, n)
	}
	return live
}

// sweepExpired removes every member whose heartbeat is older than timeout,
// using a read-then-compare pattern so a concurrent heartbeat arriving
// between the scan and the delete is never lost (compare-and-delete
// semantics, spec.md §5 "Shared resources").
func (s *Store) sweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for addr, n := range s.members {
		if now.Sub(n.LastHeartbeat) > s.timeout {
			// Re-check under the same lock acquisition: n is the value we
			// scanned, so if the map still holds exactly this heartbeat time
			// it hasn't been refreshed concurrently since the scan began.
			if cur, ok := s.members[addr]; ok && cur.LastHeartbeat.Equal(n.LastHeartbeat) {
				delete(s.members, addr)
				removed++
			}
		}
	}
	return removed
}
