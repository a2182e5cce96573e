package pgc

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// State is a page's position in the HOT/DIRTY/CLEAN lifecycle (spec.md
// §3). A page is in exactly one state at a time; state and queue
// membership change together under the page's transition lock.
type State uint8

const (
	StateHot State = iota + 1
	StateDirty
	StateClean
)

func (s State) String() string {
	switch s {
	case StateHot:
		return "hot"
	case StateDirty:
		return "dirty"
	case StateClean:
		return "clean"
	default:
		return "unknown"
	}
}

// refDeleting is the refcount sentinel set by reserve_for_deletion. A
// page carrying this value will never be acquired again.
const refDeleting = int32(-1 << 30)

// Section is an opaque tenant/tier discriminator.
type Section uint32

// MetricID is an opaque identity assigned by MRG, stable for the
// lifetime of the metric.
type MetricID uint64

// SectionAll is the wildcard section accepted by FlushPages. The
// eviction entry points take no section argument.
const SectionAll Section = 0

// Page is the unit of caching: identity key (section, metric, start
// time), mutable extent, lifecycle state, and refcount. data is owned
// by the producer; the cache never dereferences it.
type Page struct {
	section  Section
	metric   MetricID
	start    int64
	end      int64 // atomically mutable while HOT
	update   int64 // sampling period hint, seconds
	size     uint32 // assumed_size: user size + fixed overhead
	data     interface{}
	custom   []byte

	refcount int32 // atomic; refDeleting sentinel when reserved

	state        State
	beingDeleted uint32 // atomic bool
	beingMigrated uint32
	accessed     uint32 // has_been_accessed, atomic bool
	ignoreAccess bool
	accesses     uint64 // atomic monotonic counter

	transitionMu sync.Mutex

	// queue linkage: elem is the node in the owning queue's list.List,
	// nil while the page is linked into no queue.
	elem *list.Element
}

func newPage(e Entry) *Page {
	p := &Page{
		section: e.Section,
		metric:  e.MetricID,
		start:   e.StartTime,
		end:     e.EndTime,
		update:  e.UpdateEvery,
		size:    e.Size,
		data:    e.Data,
	}
	if len(e.CustomData) > 0 {
		p.custom = append([]byte(nil), e.CustomData...)
	}
	if e.Data == nil {
		p.ignoreAccess = true
	}
	return p
}

// Entry is the page descriptor passed to AddAndAcquire and delivered to the
// save-dirty callback (spec.md §6).
type Entry struct {
	Section     Section
	MetricID    MetricID
	StartTime   int64
	EndTime     int64
	UpdateEvery int64
	Size        uint32
	Data        interface{}
	CustomData  []byte
	Hot         bool
}

// Section returns the page's section.
func (p *Page) Section() Section { return p.section }

// MetricID returns the page's metric identity.
func (p *Page) MetricID() MetricID { return p.metric }

// StartTime returns the page's start time.
func (p *Page) StartTime() int64 { return p.start }

// EndTime returns the page's current end time.
func (p *Page) EndTime() int64 { return atomic.LoadInt64(&p.end) }

// ExtendEndTime grows end_time; it never shrinks (spec.md invariant 5).
func (p *Page) ExtendEndTime(t int64) {
	for {
		cur := atomic.LoadInt64(&p.end)
		if t <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(&p.end, cur, t) {
			return
		}
	}
}

// UpdateEvery returns the sampling period hint.
func (p *Page) UpdateEvery() int64 { return p.update }

// Size returns the assumed accounting size.
func (p *Page) Size() uint32 { return p.size }

// Data returns the caller-owned payload pointer.
func (p *Page) Data() interface{} { return p.data }

// CustomData returns the cache-owned fixed-length companion bytes.
func (p *Page) CustomData() []byte { return p.custom }

// State returns the page's current lifecycle state.
func (p *Page) State() State {
	p.transitionMu.Lock()
	defer p.transitionMu.Unlock()
	return p.state
}

// Refcount returns the current refcount (may be refDeleting).
func (p *Page) Refcount() int32 { return atomic.LoadInt32(&p.refcount) }

// Accesses returns the monotonic access counter.
func (p *Page) Accesses() uint64 { return atomic.LoadUint64(&p.accesses) }

func (p *Page) setBeingDeleted()     { atomic.StoreUint32(&p.beingDeleted, 1) }
func (p *Page) isBeingDeleted() bool { return atomic.LoadUint32(&p.beingDeleted) == 1 }

func (p *Page) setBeingMigrated(v bool) {
	if v {
		atomic.StoreUint32(&p.beingMigrated, 1)
	} else {
		atomic.StoreUint32(&p.beingMigrated, 0)
	}
}
func (p *Page) isBeingMigrated() bool { return atomic.LoadUint32(&p.beingMigrated) == 1 }

func (p *Page) setHasBeenAccessed(v bool) {
	if v {
		atomic.StoreUint32(&p.accessed, 1)
	} else {
		atomic.StoreUint32(&p.accessed, 0)
	}
}
func (p *Page) hasBeenAccessed() bool { return atomic.LoadUint32(&p.accessed) == 1 }
