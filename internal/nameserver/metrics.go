package nameserver

import "sync/atomic"

// Metrics counts request outcomes for operational visibility. Grounded on
// the teacher's internal/handler/metrics.go Metrics struct (atomic
// counters read without locking); unlike the teacher there is no HTTP
// /metrics endpoint to serve them from, so Snapshot is logged periodically
// instead (see internal/blobstore.Store.RunGC for the same "log a snapshot
// on a timer" shape applied to a different counter set).
type Metrics struct {
	RequestsTotal atomic.Int64
	AllowCount    atomic.Int64
	WaitCount     atomic.Int64
	ExistCount    atomic.Int64
	CommitCount   atomic.Int64
	ErrorCount    atomic.Int64
	Rejected      atomic.Int64 // connections turned away by the connection limiter
}

// MetricsSnapshot is a point-in-time copy of Metrics suitable for logging.
type MetricsSnapshot struct {
	RequestsTotal int64
	AllowCount    int64
	WaitCount     int64
	ExistCount    int64
	CommitCount   int64
	ErrorCount    int64
	Rejected      int64
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		RequestsTotal: m.RequestsTotal.Load(),
		AllowCount:    m.AllowCount.Load(),
		WaitCount:     m.WaitCount.Load(),
		ExistCount:    m.ExistCount.Load(),
		CommitCount:   m.CommitCount.Load(),
		ErrorCount:    m.ErrorCount.Load(),
		Rejected:      m.Rejected.Load(),
	}
}
