package pgc

import "runtime"

// SaveDirtyFunc durably persists a batch of dirty pages for one
// section. The cache assumes it succeeds (spec.md §4.8, §7): failures
// are the caller's responsibility to retry internally.
type SaveDirtyFunc func(section Section, entries []Entry, pages []*Page) error

// SaveInitFunc is an optional hook invoked once per section right
// before the first SaveDirtyFunc call of a flush batch.
type SaveInitFunc func(section Section) error

// FreeCleanFunc releases a page's caller-owned Data pointer when the
// page is evicted.
type FreeCleanFunc func(p *Page)

// DynamicTargetSizeFunc may only raise the adaptive wanted size
// (spec.md §9); the cache never lets it lower it.
type DynamicTargetSizeFunc func() int64

// Options configures a Cache (spec.md §6).
type Options struct {
	// EvictPagesInline lets producers/releasers perform eviction steps.
	EvictPagesInline bool
	// FlushPagesInline lets producers perform flush steps after adds
	// and hot->dirty transitions.
	FlushPagesInline bool
	// Autoscale enables the adaptive wanted-size computation of
	// spec.md §4.6; otherwise wanted = hot+dirty+clean_floor.
	Autoscale bool

	// CleanSizeFloor is the minimum configured clean-size floor, in
	// bytes. Clamped up to 1 MiB.
	CleanSizeFloor int64
	// MaxDirtyPagesPerFlush bounds a single flush_pages batch.
	MaxDirtyPagesPerFlush int
	// MaxPagesPerInlineEviction bounds an inline eviction batch.
	// Clamped up to 2.
	MaxPagesPerInlineEviction int
	// MaxSkipPagesPerInlineEviction bounds how many skipped candidates
	// an inline eviction pass tolerates before giving up. Clamped up
	// to 2.
	MaxSkipPagesPerInlineEviction int
	// MaxFlushesInline bounds inline flush batches. Clamped up to 1.
	MaxFlushesInline int
	// MaxInlineEvictors caps concurrent inline evictors outside severe
	// pressure / all-mode.
	MaxInlineEvictors int
	// Partitions is the index shard count. Defaults to NumCPU.
	Partitions int
	// AdditionalBytesPerPage is added to every page's assumed_size for
	// accounting (struct overhead the caller doesn't count itself).
	AdditionalBytesPerPage uint32

	FreeCleanCB           FreeCleanFunc
	SaveDirtyCB           SaveDirtyFunc
	SaveInitCB            SaveInitFunc
	DynamicTargetSizeCB   DynamicTargetSizeFunc

	Thresholds Thresholds
}

func (o *Options) applyDefaults() {
	if o.CleanSizeFloor < 1<<20 {
		o.CleanSizeFloor = 1 << 20
	}
	if o.MaxPagesPerInlineEviction < 2 {
		o.MaxPagesPerInlineEviction = 2
	}
	if o.MaxSkipPagesPerInlineEviction < 2 {
		o.MaxSkipPagesPerInlineEviction = 2
	}
	if o.MaxFlushesInline < 1 {
		o.MaxFlushesInline = 1
	}
	if o.MaxInlineEvictors < 1 {
		o.MaxInlineEvictors = 1
	}
	if o.Partitions < 1 {
		o.Partitions = runtime.NumCPU()
	}
	if o.MaxDirtyPagesPerFlush < 1 {
		o.MaxDirtyPagesPerFlush = 256
	}
	if (o.Thresholds == Thresholds{}) {
		o.Thresholds = DefaultThresholds()
	}
	if o.FreeCleanCB == nil {
		o.FreeCleanCB = func(*Page) {}
	}
	if o.SaveDirtyCB == nil {
		o.SaveDirtyCB = func(Section, []Entry, []*Page) error { return nil }
	}
}
