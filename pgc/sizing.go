package pgc

import (
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
)

// Thresholds are the four per-mille crossing points of spec.md §4.6.
type Thresholds struct {
	SeverePressure uint32
	AggressiveEvict uint32
	Healthy         uint32
	EvictLow        uint32
}

// DefaultThresholds matches spec.md §4.6's stated defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SeverePressure:  1010,
		AggressiveEvict: 990,
		Healthy:         980,
		EvictLow:        970,
	}
}

// sizeSample is the snapshot of queue sizes the controller needs to
// compute "wanted" and the current per-mille usage. Passed in rather
// than read from *Cache directly so the controller stays unit
// testable without a live cache.
type sizeSample struct {
	hotNow, hotMax     int64
	dirtyNow, dirtyMax int64
	cleanNow           int64
	referencedSize     int64
}

func (s sizeSample) current() int64 { return s.hotNow + s.dirtyNow + s.cleanNow }

// controller is the adaptive sizing / pressure controller of spec.md
// §4.6. usagePerMille is cached under a mutex. evictionTarget and
// RefreshUsagePerMille always recompute it; every pressure check
// (eviction, inline-evict decision on release) recomputes it when the
// mutex is free and otherwise reads the cached value.
type controller struct {
	autoscale       bool
	cleanFloor      int64
	dynamicTargetCb func() int64 // may only raise wanted; never lowers it

	refreshMu      sync.Mutex // guards perMilleFresh recomputation; try-lock for fast-path readers
	cachedPerMille uint32      // atomic

	thresholds Thresholds

	eventsAggressive    uint64
	eventsSevere        uint64
	eventsFlushCritical uint64
}

func newController(autoscale bool, cleanFloor int64, dynamicTargetCb func() int64, th Thresholds) *controller {
	return &controller{
		autoscale:       autoscale,
		cleanFloor:      cleanFloor,
		dynamicTargetCb: dynamicTargetCb,
		thresholds:      th,
	}
}

// wanted computes the adaptive target cache size of spec.md §4.6.
func (ctl *controller) wanted(s sizeSample) int64 {
	var w int64
	if ctl.autoscale {
		half := s.hotMax / 2
		var dirtyTerm int64
		if s.dirtyMax < half {
			dirtyTerm = half
		} else {
			dirtyTerm = 2 * s.dirtyMax
		}
		a := 2 * max64(s.hotMax, s.hotNow)
		b := s.hotMax + dirtyTerm
		w = min64(a, b)

		floor := s.hotNow + s.dirtyNow + ctl.cleanFloor
		if w < floor {
			w = floor
		}
		// A further floor protects large in-flight workloads: at least
		// 2/3 of the referenced size.
		refFloor := decimal.NewFromInt(s.referencedSize).Mul(decimal.NewFromInt(2)).Div(decimal.NewFromInt(3))
		if rf := refFloor.IntPart(); w < rf {
			w = rf
		}
	} else {
		w = s.hotNow + s.dirtyNow + ctl.cleanFloor
	}

	if ctl.dynamicTargetCb != nil {
		if dyn := ctl.dynamicTargetCb(); dyn > w {
			w = dyn // asymmetric by design: the callback may only raise wanted
		}
	}
	return w
}

// computePerMille is current*1000/wanted using exact decimal arithmetic
// so repeated calls across a long-running cache don't accumulate float
// drift. Caller must hold refreshMu.
func (ctl *controller) computePerMille(s sizeSample) uint32 {
	w := ctl.wanted(s)
	if w <= 0 {
		return 0
	}
	cur := decimal.NewFromInt(s.current())
	pm := cur.Mul(decimal.NewFromInt(1000)).Div(decimal.NewFromInt(w)).IntPart()
	if pm < 0 {
		pm = 0
	}
	return uint32(pm)
}

// perMilleFresh recomputes and caches usage per-mille, blocking for the
// refresh lock. Used where a caller needs a guaranteed-fresh figure
// (evictionTarget).
func (ctl *controller) perMilleFresh(s sizeSample) uint32 {
	ctl.refreshMu.Lock()
	defer ctl.refreshMu.Unlock()

	pm := ctl.computePerMille(s)
	atomic.StoreUint32(&ctl.cachedPerMille, pm)
	ctl.recordEvents(pm)
	return pm
}

// perMilleCached returns the last computed per-mille value without
// recomputation (spec.md §4.6: "cached under a spinlock and refreshed
// when a caller requests a concrete eviction target").
func (ctl *controller) perMilleCached() uint32 {
	return atomic.LoadUint32(&ctl.cachedPerMille)
}

// perMilleRefreshOrCached opportunistically recomputes usage per-mille,
// matching the original's cache_usage_per1000 (original_source's
// database/engine/cache.c): every pressure check tries to get a fresh
// figure, but never blocks behind a concurrent refresher. On lock
// contention it falls back to the last cached value rather than
// stalling the eviction/release fast path.
func (ctl *controller) perMilleRefreshOrCached(s sizeSample) uint32 {
	if !ctl.refreshMu.TryLock() {
		return ctl.perMilleCached()
	}
	pm := ctl.computePerMille(s)
	atomic.StoreUint32(&ctl.cachedPerMille, pm)
	ctl.recordEvents(pm)
	ctl.refreshMu.Unlock()
	return pm
}

func (ctl *controller) recordEvents(pm uint32) {
	if pm >= ctl.thresholds.SeverePressure {
		atomic.AddUint64(&ctl.eventsSevere, 1)
	} else if pm >= ctl.thresholds.AggressiveEvict {
		atomic.AddUint64(&ctl.eventsAggressive, 1)
	}
}

// evictionTarget computes the byte count to evict (spec.md §4.6):
// current - wanted*evict_low/1000. It always refreshes perMille first.
func (ctl *controller) evictionTarget(s sizeSample) int64 {
	ctl.perMilleFresh(s)
	w := ctl.wanted(s)
	low := decimal.NewFromInt(w).Mul(decimal.NewFromInt(int64(ctl.thresholds.EvictLow))).Div(decimal.NewFromInt(1000)).IntPart()
	target := s.current() - low
	if target < 0 {
		return 0
	}
	return target
}

// checkFlushCritical fires the flush_critical event when dirty_size
// exceeds hot_max (spec.md §4.6).
func (ctl *controller) checkFlushCritical(dirtySize, hotMax int64) {
	if dirtySize > hotMax {
		atomic.AddUint64(&ctl.eventsFlushCritical, 1)
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
