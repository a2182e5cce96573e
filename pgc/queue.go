package pgc

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// queueStats mirrors the teacher's BufferPoolStats: atomically
// maintained counters readers can sample without taking any lock.
type queueStats struct {
	entries   int64
	size      int64
	additions uint64
	removals  uint64
}

func (s *queueStats) onAdd(size uint32) {
	atomic.AddInt64(&s.entries, 1)
	atomic.AddInt64(&s.size, int64(size))
	atomic.AddUint64(&s.additions, 1)
}

func (s *queueStats) onRemove(size uint32) {
	atomic.AddInt64(&s.entries, -1)
	atomic.AddInt64(&s.size, -int64(size))
	atomic.AddUint64(&s.removals, 1)
}

func (s *queueStats) Entries() int64 { return atomic.LoadInt64(&s.entries) }
func (s *queueStats) Size() int64    { return atomic.LoadInt64(&s.size) }

// sectionList is one section's worth of pages in insertion order,
// backed by container/list the way the teacher's flush_list and LRU
// list are.
type sectionList struct {
	l *list.List
}

func newSectionList() *sectionList { return &sectionList{l: list.New()} }

// groupedQueue backs HOT and DIRTY: pages are grouped by section, and
// within a section linked in the order they entered the state
// (spec.md §4.2).
type groupedQueue struct {
	mu       sync.Mutex
	sections map[Section]*sectionList
	stats    queueStats
	state    State

	// DIRTY only: version bumps every time a batch-sized fraction is
	// appended, letting the flusher skip a scan when nothing changed
	// (spec.md §4.2).
	version        uint64
	sinceVersion   uint64
	versionBatch   uint64
}

func newGroupedQueue(state State, versionBatch uint64) *groupedQueue {
	return &groupedQueue{
		sections:     make(map[Section]*sectionList),
		state:        state,
		versionBatch: versionBatch,
	}
}

// add links p at the tail of its section's list and only then flips
// the state flag, so a concurrent enumerator never observes the flag
// without the linkage (spec.md §4.2 contract).
func (q *groupedQueue) add(p *Page, state State) {
	q.mu.Lock()
	sl, ok := q.sections[p.section]
	if !ok {
		sl = newSectionList()
		q.sections[p.section] = sl
	}
	p.elem = sl.l.PushBack(p)
	q.stats.onAdd(p.size)
	if q.versionBatch > 0 {
		q.sinceVersion++
		if q.sinceVersion >= q.versionBatch {
			q.sinceVersion = 0
			atomic.AddUint64(&q.version, 1)
		}
	}
	q.mu.Unlock()
	p.transitionSetState(state)
}

// remove unlinks p from its section's list. It does not clear the
// state flag; callers link the page into another queue right after,
// and that queue's add sets the new state.
func (q *groupedQueue) remove(p *Page) {
	q.mu.Lock()
	q.unlinkLocked(p)
	q.mu.Unlock()
}

// unlinkLocked is remove without acquiring q.mu; caller must already
// hold it (used by setDirty, which takes the HOT lock itself so it can
// release it before touching CLEAN/DIRTY).
func (q *groupedQueue) unlinkLocked(p *Page) {
	sl, ok := q.sections[p.section]
	if !ok || p.elem == nil {
		fatalf("groupedQueue.remove", "page not linked in %s queue for section %d", q.state, p.section)
	}
	sl.l.Remove(p.elem)
	p.elem = nil
	q.stats.onRemove(p.size)
	if sl.l.Len() == 0 {
		delete(q.sections, p.section)
	}
}

// Version returns the monotonic append-version used by the flusher to
// suppress redundant scans.
func (q *groupedQueue) Version() uint64 { return atomic.LoadUint64(&q.version) }

// forEachInSection walks one section's list in order under the queue
// lock, invoking fn for each page until fn returns stop=true; used by
// journal export (§4.9).
func (q *groupedQueue) forEachInSection(section Section, fn func(p *Page) (stop bool)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	sl, ok := q.sections[section]
	if !ok {
		return
	}
	for e := sl.l.Front(); e != nil; e = e.Next() {
		if fn(e.Value.(*Page)) {
			return
		}
	}
}

// sectionsSnapshot returns the section keys currently present,
// used by flush_pages's "first-then-next" traversal (spec.md §4.8).
func (q *groupedQueue) sectionsSnapshot() []Section {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Section, 0, len(q.sections))
	for s := range q.sections {
		out = append(out, s)
	}
	return out
}

func (q *groupedQueue) sectionEntries(section Section) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	sl, ok := q.sections[section]
	if !ok {
		return 0
	}
	return sl.l.Len()
}
