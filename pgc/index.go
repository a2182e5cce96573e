package pgc

import (
	"sync"
	"sync/atomic"

	"github.com/OneOfOne/xxhash"
	"github.com/google/btree"
)

// Method selects how Find resolves a (section, metric, t) lookup
// (spec.md §4.5).
type Method uint8

const (
	Exact Method = iota
	Closest
	First
	Next
	Prev
	Last
)

// metricNode is the per-metric ordered-by-start_time structure within
// a section. A btree.BTreeG gives exact/first/last/ascend/descend in
// O(log n), satisfying spec.md §4.1's "any three-level structure ...
// that supports first, last, next, prev, exact-key lookup, and removal
// in logarithmic or better time".
type metricNode struct {
	tree *btree.BTreeG[*Page]
}

func newMetricNode() *metricNode {
	return &metricNode{
		tree: btree.NewG[*Page](32, func(a, b *Page) bool { return a.start < b.start }),
	}
}

type sectionNode struct {
	metrics map[MetricID]*metricNode
}

func newSectionNode() *sectionNode {
	return &sectionNode{metrics: make(map[MetricID]*metricNode)}
}

// partition is one shard of the index, independently locked. Sharding
// by a hash of metric_id spreads contention across concurrent
// producers/readers (spec.md §4.1).
type partition struct {
	mu       sync.RWMutex
	sections map[Section]*sectionNode
}

func newPartition() *partition {
	return &partition{sections: make(map[Section]*sectionNode)}
}

// Index is the partitioned associative map of (section, metric_id,
// start_time) -> *Page.
type Index struct {
	partitions []*partition

	// last-partition-observed hint (spec.md §4.1): a cheap fast path
	// that avoids re-hashing metric_id when consecutive calls target
	// the same metric. Shared across goroutines (Go has no free
	// per-thread storage the way the source's per-thread cache does),
	// so it is a heuristic only — correctness never depends on it.
	hintMetric    uint64
	hintPartition uint32
}

func newIndex(numPartitions int) *Index {
	if numPartitions < 1 {
		numPartitions = 1
	}
	idx := &Index{partitions: make([]*partition, numPartitions)}
	for i := range idx.partitions {
		idx.partitions[i] = newPartition()
	}
	idx.hintMetric = ^uint64(0)
	return idx
}

func (idx *Index) partitionFor(metric MetricID) *partition {
	if atomic.LoadUint64(&idx.hintMetric) == uint64(metric) {
		return idx.partitions[atomic.LoadUint32(&idx.hintPartition)]
	}
	h := xxhash.ChecksumUint64S(uint64(metric), 0)
	p := uint32(h % uint64(len(idx.partitions)))
	atomic.StoreUint64(&idx.hintMetric, uint64(metric))
	atomic.StoreUint32(&idx.hintPartition, p)
	return idx.partitions[p]
}

// insert implements spec.md §4.1's insert contract. On a key collision
// it acquires a reference on the existing page and returns added=false;
// callers own the initial reference either way.
func (idx *Index) insert(c *Cache, e Entry) (*Page, bool) {
	part := idx.partitionFor(e.MetricID)
	for {
		part.mu.Lock()
		sec, ok := part.sections[e.Section]
		if !ok {
			sec = newSectionNode()
			part.sections[e.Section] = sec
		}
		met, ok := sec.metrics[e.MetricID]
		if !ok {
			met = newMetricNode()
			sec.metrics[e.MetricID] = met
		}
		if existing, found := met.tree.Get(&Page{start: e.StartTime}); found {
			part.mu.Unlock()
			if ok, wasZero := acquireReportZero(existing); ok {
				if wasZero {
					c.onAcquired(existing)
				}
				return existing, false
			}
			// Lost the race with a concurrent deletion: retry, the
			// dying page will have unlinked itself by the time we
			// take the lock again (spec.md §4.1 "retried on
			// refcount-race with a concurrent deletion").
			continue
		}

		p := newPage(e)
		met.tree.ReplaceOrInsert(p)
		part.mu.Unlock()

		p.refcount = 1
		c.accountNewPage(p)
		if e.Hot {
			c.hotQueue.add(p, StateHot)
		} else {
			c.cleanQueue.addNew(p)
		}
		return p, true
	}
}

// find implements the CLOSEST/EXACT/FIRST/NEXT/PREV/LAST resolution of
// spec.md §4.5, read-locked for the duration of the walk.
func (idx *Index) find(c *Cache, section Section, metric MetricID, t int64, method Method) (*Page, bool) {
	part := idx.partitionFor(metric)
	part.mu.RLock()
	defer part.mu.RUnlock()

	sec, ok := part.sections[section]
	if !ok {
		return nil, false
	}
	met, ok := sec.metrics[metric]
	if !ok {
		return nil, false
	}

	var found *Page
	switch method {
	case Exact:
		found, _ = met.tree.Get(&Page{start: t})
	case First:
		found, _ = met.tree.Min()
	case Last:
		found, _ = met.tree.Max()
	case Next:
		met.tree.AscendGreaterOrEqual(&Page{start: t + 1}, func(p *Page) bool {
			found = p
			return false
		})
	case Prev:
		met.tree.DescendLessOrEqual(&Page{start: t - 1}, func(p *Page) bool {
			found = p
			return false
		})
	case Closest:
		if p, ok := met.tree.Get(&Page{start: t}); ok {
			found = p
			break
		}
		var prior *Page
		met.tree.DescendLessOrEqual(&Page{start: t}, func(p *Page) bool {
			prior = p
			return false
		})
		if prior != nil && prior.EndTime() >= t {
			found = prior
			break
		}
		met.tree.AscendGreaterOrEqual(&Page{start: t}, func(p *Page) bool {
			found = p
			return false
		})
	}

	if found == nil {
		return nil, false
	}
	ok, wasZero := acquireReportZero(found)
	if !ok {
		return nil, false
	}
	if wasZero {
		c.onAcquired(found)
	}
	return found, true
}

// removeBatch groups pages by partition, takes each partition's write
// lock once, and unlinks all of its pages from the three-level index
// (spec.md §4.7 step 6). Pages must already be marked being_deleted.
func (idx *Index) removeBatch(pages []*Page) {
	byPartition := make(map[*partition][]*Page)
	for _, p := range pages {
		part := idx.partitionFor(p.metric)
		byPartition[part] = append(byPartition[part], p)
	}
	for part, ps := range byPartition {
		part.mu.Lock()
		for _, p := range ps {
			idx.removeLocked(part, p)
		}
		part.mu.Unlock()
	}
}

// removeLocked performs the three ordered deletions of spec.md §4.1
// (start_time -> metric -> section), pruning empty parents. Caller
// must hold part.mu for writing.
func (idx *Index) removeLocked(part *partition, p *Page) {
	sec, ok := part.sections[p.section]
	if !ok {
		fatalf("index.remove", "section %d missing for page being removed", p.section)
	}
	met, ok := sec.metrics[p.metric]
	if !ok {
		fatalf("index.remove", "metric %d missing for page being removed", p.metric)
	}
	if _, ok := met.tree.Delete(&Page{start: p.start}); !ok {
		fatalf("index.remove", "start_time %d missing for page being removed", p.start)
	}
	if met.tree.Len() == 0 {
		delete(sec.metrics, p.metric)
	}
	if len(sec.metrics) == 0 {
		delete(part.sections, p.section)
	}
}
