package pgc

import (
	"sync"
	"sync/atomic"

	"github.com/zhukovaskychina/pgcache/logger"
)

// Cache is a concurrent page cache with lifecycle-managed entries
// (spec.md §1). It owns an index, three state queues, the sizing
// controller, and every configured callback. There is exactly one
// Cache per embedding system; it is never a global singleton
// (spec.md §9).
type Cache struct {
	opts Options

	index      *Index
	hotQueue   *groupedQueue
	dirtyQueue *groupedQueue
	cleanQueue *cleanQueue
	ctl        *controller

	referencedEntries int64 // atomic
	referencedSize    int64 // atomic

	inlineEvictors int32 // atomic

	migrating sync.Map // Section -> *int32, single-migrator try-spinlock (§4.9)

	hotMax   int64 // atomic, reset via ResetHotMax
	dirtyMax int64 // atomic

	flushLastVersion uint64 // atomic, suppresses redundant DIRTY scans
}

// New builds a Cache from Options, applying the defaults of spec.md §6.
func New(opts Options) *Cache {
	opts.applyDefaults()
	c := &Cache{
		opts:       opts,
		index:      newIndex(opts.Partitions),
		hotQueue:   newGroupedQueue(StateHot, 0),
		dirtyQueue: newGroupedQueue(StateDirty, uint64(opts.MaxDirtyPagesPerFlush)),
		cleanQueue: newCleanQueue(),
		ctl:        newController(opts.Autoscale, opts.CleanSizeFloor, opts.DynamicTargetSizeCB, opts.Thresholds),
	}
	return c
}

// AddAndAcquire inserts (or finds-and-acquires) a page for the given
// entry descriptor (spec.md §4.1's insert contract plus the
// AdditionalBytesPerPage accounting adjustment).
func (c *Cache) AddAndAcquire(e Entry) (p *Page, added bool) {
	e.Size += c.opts.AdditionalBytesPerPage
	p, added = c.index.insert(c, e)
	if added {
		c.observeHotMax()
	}
	return p, added
}

// Find acquires a page by (section, metric, t) using the given search
// method (spec.md §4.5). A successful find records an access unless
// the page is marked ignore_accesses.
func (c *Cache) Find(section Section, metric MetricID, t int64, method Method) (*Page, bool) {
	p, ok := c.index.find(c, section, metric, t, method)
	if !ok {
		return nil, false
	}
	if !p.ignoreAccess {
		atomic.AddUint64(&p.accesses, 1)
		if p.State() == StateClean {
			c.cleanQueue.moveToTailNonBlocking(p)
		}
	}
	return p, true
}

// Release decrements a page's refcount. When maybeEvict is true and
// the cache is configured for inline eviction (or under severe
// pressure), the releaser performs a bounded eviction pass
// (spec.md §4.3).
func (c *Cache) Release(p *Page, maybeEvict bool) {
	if release(p) {
		atomic.AddInt64(&c.referencedEntries, -1)
		atomic.AddInt64(&c.referencedSize, -int64(p.size))
	}
	if maybeEvict && c.shouldInlineEvict() {
		c.EvictPages(c.opts.MaxSkipPagesPerInlineEviction, c.opts.MaxPagesPerInlineEviction, false, false)
	}
}

func (c *Cache) shouldInlineEvict() bool {
	if c.opts.EvictPagesInline {
		return true
	}
	return c.ctl.perMilleRefreshOrCached(c.sample()) >= c.opts.Thresholds.SeverePressure
}

// HotToDirtyAndRelease implements hot_to_dirty_and_release: transition
// a HOT page to DIRTY, then release the caller's reference.
func (c *Cache) HotToDirtyAndRelease(p *Page) {
	c.setDirty(p)
	c.Release(p, false)
	if c.opts.FlushPagesInline {
		c.FlushPages(c.opts.MaxFlushesInline, SectionAll, false, false)
	}
}

// onAcquired bumps referenced totals on a page's 0->1 refcount
// transition. Called by the index after a successful acquire.
func (c *Cache) onAcquired(p *Page) {
	atomic.AddInt64(&c.referencedEntries, 1)
	atomic.AddInt64(&c.referencedSize, int64(p.size))
}

// accountNewPage is onAcquired for a freshly inserted page: new pages
// start at refcount 1 without an acquire, so insert bumps the
// referenced totals through this call.
func (c *Cache) accountNewPage(p *Page) {
	atomic.AddInt64(&c.referencedEntries, 1)
	atomic.AddInt64(&c.referencedSize, int64(p.size))
}

// freePage invokes the free-clean callback and lets the page be
// garbage collected. Called only after reserve_for_deletion succeeded
// and the page has been unlinked from the index.
func (c *Cache) freePage(p *Page) {
	c.opts.FreeCleanCB(p)
}

func (c *Cache) observeHotMax() {
	hot := c.hotQueue.stats.Size()
	for {
		cur := atomic.LoadInt64(&c.hotMax)
		if hot <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(&c.hotMax, cur, hot) {
			return
		}
	}
}

// ResetHotMax lets the embedding system shrink the adaptive target
// back down after a burst (spec.md scenario 6).
func (c *Cache) ResetHotMax() {
	atomic.StoreInt64(&c.hotMax, c.hotQueue.stats.Size())
}

func (c *Cache) observeDirtyMax() {
	dirty := c.dirtyQueue.stats.Size()
	for {
		cur := atomic.LoadInt64(&c.dirtyMax)
		if dirty <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(&c.dirtyMax, cur, dirty) {
			return
		}
	}
}

func (c *Cache) sample() sizeSample {
	return sizeSample{
		hotNow:         c.hotQueue.stats.Size(),
		hotMax:         atomic.LoadInt64(&c.hotMax),
		dirtyNow:       c.dirtyQueue.stats.Size(),
		dirtyMax:       atomic.LoadInt64(&c.dirtyMax),
		cleanNow:       c.cleanQueue.stats.Size(),
		referencedSize: atomic.LoadInt64(&c.referencedSize),
	}
}

// Entries returns the cache-wide entry count, the sum over the three
// queues (spec.md invariant 6).
func (c *Cache) Entries() int64 {
	return c.hotQueue.stats.Entries() + c.dirtyQueue.stats.Entries() + c.cleanQueue.stats.Entries()
}

// Size returns the cache-wide accounted size, the sum over the three
// queues (spec.md invariant 6).
func (c *Cache) Size() int64 {
	return c.hotQueue.stats.Size() + c.dirtyQueue.stats.Size() + c.cleanQueue.stats.Size()
}

// ReferencedEntries returns the count of pages with refcount > 0.
func (c *Cache) ReferencedEntries() int64 { return atomic.LoadInt64(&c.referencedEntries) }

// ReferencedSize returns the accounted size of pages with refcount > 0.
func (c *Cache) ReferencedSize() int64 { return atomic.LoadInt64(&c.referencedSize) }

// UsagePerMille returns the cached per-mille usage figure without
// forcing a recomputation (spec.md §4.6).
func (c *Cache) UsagePerMille() uint32 { return c.ctl.perMilleCached() }

// RefreshUsagePerMille recomputes and caches the per-mille usage
// figure against the current queue sizes.
func (c *Cache) RefreshUsagePerMille() uint32 { return c.ctl.perMilleFresh(c.sample()) }

// Stats exposes spin/skip counters for observability (spec.md §4.3's
// "spin statistics on CAS loops").
type Stats struct {
	AcquireSpins uint64
	ReserveSpins uint64
	EvictSkips   uint64

	EventsAggressiveEvict uint64
	EventsSeverePressure  uint64
	EventsFlushCritical   uint64
}

func (c *Cache) Stats() Stats {
	return Stats{
		AcquireSpins:          atomic.LoadUint64(&globalSpinStats.acquireSpins),
		ReserveSpins:          atomic.LoadUint64(&globalSpinStats.reserveSpins),
		EvictSkips:            atomic.LoadUint64(&globalSpinStats.evictSkips),
		EventsAggressiveEvict: atomic.LoadUint64(&c.ctl.eventsAggressive),
		EventsSeverePressure:  atomic.LoadUint64(&c.ctl.eventsSevere),
		EventsFlushCritical:   atomic.LoadUint64(&c.ctl.eventsFlushCritical),
	}
}

// Destroy tears the cache down. There are no background goroutines to
// stop (spec.md §2: "No dedicated background threads are required");
// this exists so callers have a symmetric lifecycle and a place to log
// a final summary.
func (c *Cache) Destroy() {
	logger.Infof("pgc: destroy entries=%d size=%d referenced=%d", c.Entries(), c.Size(), c.ReferencedEntries())
}
