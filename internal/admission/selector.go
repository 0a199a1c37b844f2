package admission

import (
	"errors"
	"math/rand"
	"sync/atomic"
)

// ErrNoDataService is returned when REQUEST_UPLOAD_LOC has no live Data
// service to offer (spec.md §4.5: "If the set is empty -> ERROR 'no Data
// service'").
var ErrNoDataService = errors.New("no Data service")

// DataNode is the subset of a Registry node record the selector needs:
// address and free space for weighted-random placement (spec.md §4.5
// "Location selection").
type DataNode struct {
	Address   string
	FreeSpace int64
}

// dataSnapshot holds the most recently pulled Data-service set, replaced
// atomically by C7's pull task and read by every REQUEST_UPLOAD_LOC
// decision without a lock (spec.md §4.7: "atomically replace the Data-set
// snapshot").
type dataSnapshot struct {
	nodes atomic.Pointer[[]DataNode]
}

func newDataSnapshot() *dataSnapshot {
	s := &dataSnapshot{}
	empty := []DataNode{}
	s.nodes.Store(&empty)
	return s
}

// Set atomically replaces the live Data-service set.
func (s *dataSnapshot) Set(nodes []DataNode) {
	cp := make([]DataNode, len(nodes))
	copy(cp, nodes)
	s.nodes.Store(&cp)
}

// Get returns the current Data-service set. The caller must not mutate it.
func (s *dataSnapshot) Get() []DataNode {
	return *s.nodes.Load()
}

// choose picks a Data node weighted by free space; ties and a total weight
// of zero fall back to uniform random (spec.md §4.5).
func choose(nodes []DataNode) (DataNode, error) {
	if len(nodes) == 0 {
		return DataNode{}, ErrNoDataService
	}

	var total int64
	for _, n := range nodes {
		if n.FreeSpace > 0 {
			total += n.FreeSpace
		}
	}
	if total <= 0 {
		return nodes[rand.Intn(len(nodes))], nil //nolint:gosec
	}

	pick := rand.Int63n(total) //nolint:gosec
	var cursor int64
	for _, n := range nodes {
		if n.FreeSpace <= 0 {
			continue
		}
		cursor += n.FreeSpace
		if pick < cursor {
			return n, nil
		}
	}
	return nodes[len(nodes)-1], nil // defensive: rounding should never reach here
}
