package pgc

import "sync/atomic"

// acquire implements the CAS loop of spec.md §4.3: succeeds iff the
// current refcount is >= 0, incrementing it by one. It never touches
// cache-wide accounting itself; callers that cross 0->1 must bump
// referenced totals (see Cache.onAcquired).
func acquire(p *Page) bool {
	ok, _ := acquireReportZero(p)
	return ok
}

// acquireReportZero is acquire plus whether this call performed the
// 0->1 transition, which the cache uses to update referenced totals.
func acquireReportZero(p *Page) (ok bool, wasZero bool) {
	for {
		cur := atomic.LoadInt32(&p.refcount)
		if cur < 0 {
			return false, false
		}
		if atomic.CompareAndSwapInt32(&p.refcount, cur, cur+1) {
			return true, cur == 0
		}
		atomic.AddUint64(&globalSpinStats.acquireSpins, 1)
	}
}

// release decrements the refcount. It returns true if this was the
// transition from 1 to 0.
func release(p *Page) (wentToZero bool) {
	for {
		cur := atomic.LoadInt32(&p.refcount)
		if cur <= 0 {
			fatalf("release", "refcount underflow on page (section=%d metric=%d start=%d) cur=%d", p.section, p.metric, p.start, cur)
		}
		if atomic.CompareAndSwapInt32(&p.refcount, cur, cur-1) {
			return cur-1 == 0
		}
		atomic.AddUint64(&globalSpinStats.acquireSpins, 1)
	}
}

// reserveForDeletionFromZero is variant (i) of spec.md §4.3: used
// during eviction while holding the CLEAN queue lock. Succeeds only if
// refcount is exactly 0.
func reserveForDeletionFromZero(p *Page) bool {
	if atomic.CompareAndSwapInt32(&p.refcount, 0, refDeleting) {
		p.setBeingDeleted()
		return true
	}
	atomic.AddUint64(&globalSpinStats.reserveSpins, 1)
	return false
}

// reserveForDeletionFromOne is variant (ii): used when the caller
// already holds the sole reference and wants to delete. Succeeds only
// if refcount is exactly 1.
func reserveForDeletionFromOne(p *Page) bool {
	if atomic.CompareAndSwapInt32(&p.refcount, 1, refDeleting) {
		p.setBeingDeleted()
		return true
	}
	atomic.AddUint64(&globalSpinStats.reserveSpins, 1)
	return false
}

// spinStats accumulates CAS contention counters for observability
// (spec.md §4.3 "Spin statistics on CAS loops are recorded").
type spinStats struct {
	acquireSpins uint64
	reserveSpins uint64
	evictSkips   uint64
}

var globalSpinStats spinStats
