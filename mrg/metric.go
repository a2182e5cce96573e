// Package mrg implements the metric registry collaborator of the page
// cache (spec.md §3 "Collaborator: Metric (MRG entry)" and §4.10):
// interned per-series identities, retention aggregation, and a
// single-writer advisory lock per metric. It depends on pgc only
// through pgc's exported Find method, never the other way around
// (spec.md §9: "Keep the dependency one-way").
package mrg

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// SectionID mirrors pgc.Section without importing pgc, keeping the
// dependency direction MRG -> pgc optional (only the Registry's
// retention-recompute path needs a finder).
type SectionID = uint32

// Metric is one interned series identity.
type Metric struct {
	uuid    uuid.UUID // never changes
	section SectionID // never changes

	firstTime     int64 // atomic
	latestClean   int64 // atomic
	latestHot     int64 // atomic
	updateEvery   int64 // atomic

	writerID uintptr // atomic, 0 == unclaimed; CAS-guarded advisory lock

	refcount int32 // atomic
}

// UUID returns the metric's immutable identity.
func (m *Metric) UUID() uuid.UUID { return m.uuid }

// Section returns the metric's immutable section.
func (m *Metric) Section() SectionID { return m.section }

// FirstTime returns the earliest retained sample time.
func (m *Metric) FirstTime() int64 { return atomic.LoadInt64(&m.firstTime) }

// LatestCleanTime returns the latest durable sample time.
func (m *Metric) LatestCleanTime() int64 { return atomic.LoadInt64(&m.latestClean) }

// LatestHotTime returns the latest in-flight (HOT) sample time.
func (m *Metric) LatestHotTime() int64 { return atomic.LoadInt64(&m.latestHot) }

// UpdateEvery returns the sampling period hint.
func (m *Metric) UpdateEvery() int64 { return atomic.LoadInt64(&m.updateEvery) }

// latest returns max(latestClean, latestHot), the retention's upper
// bound used by the zero-retention check.
func (m *Metric) latest() int64 {
	c := atomic.LoadInt64(&m.latestClean)
	h := atomic.LoadInt64(&m.latestHot)
	if h > c {
		return h
	}
	return c
}

// hasNoRetention implements spec.md §3's deletability predicate:
// first_time == 0 || latest == 0 || first_time > latest.
func (m *Metric) hasNoRetention() bool {
	first := m.FirstTime()
	last := m.latest()
	return first == 0 || last == 0 || first > last
}

// expandRetention monotonically widens [first_time, latest] to cover
// an incoming sample range (spec.md §4.10).
func (m *Metric) expandRetention(first, latest int64, hot bool) {
	for {
		cur := atomic.LoadInt64(&m.firstTime)
		if cur != 0 && cur <= first {
			break
		}
		if cur == 0 || first < cur {
			if atomic.CompareAndSwapInt64(&m.firstTime, cur, first) {
				break
			}
			continue
		}
		break
	}
	field := &m.latestClean
	if hot {
		field = &m.latestHot
	}
	for {
		cur := atomic.LoadInt64(field)
		if latest <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(field, cur, latest) {
			return
		}
	}
}

// acquireWriter is the CAS-guarded single-writer advisory lock
// (spec.md §4.10). id must be a caller-chosen non-zero token (e.g. a
// goroutine or connection identity encoded as a pointer-sized value).
func (m *Metric) acquireWriter(id uintptr) bool {
	return atomic.CompareAndSwapUintptr(&m.writerID, 0, id)
}

// releaseWriter clears the writer slot; it is a caller error to call
// this without currently holding it.
func (m *Metric) releaseWriter(id uintptr) bool {
	return atomic.CompareAndSwapUintptr(&m.writerID, id, 0)
}

func (m *Metric) acquire() { atomic.AddInt32(&m.refcount, 1) }

func (m *Metric) release() int32 { return atomic.AddInt32(&m.refcount, -1) }

func (m *Metric) refs() int32 { return atomic.LoadInt32(&m.refcount) }

// partition is one independently-locked shard of the UUID->metric
// index, partitioned the same way pgc's page index is (spec.md
// §4.10: "MRG owns per-section partitioning for contention
// reduction").
type partition struct {
	mu      sync.RWMutex
	metrics map[uuid.UUID]*Metric
}
