package pgc

import (
	"container/list"
	"sync"
)

// cleanQueue is the single (ungrouped) CLEAN list of spec.md §4.2.
// New and recently-accessed pages are appended; never-accessed
// demoted pages are prepended, making them prime eviction candidates.
type cleanQueue struct {
	mu    sync.Mutex
	l     *list.List
	stats queueStats
}

func newCleanQueue() *cleanQueue {
	return &cleanQueue{l: list.New()}
}

func (q *cleanQueue) addNew(p *Page) {
	q.linkNew(p)
	p.transitionSetState(StateClean)
}

func (q *cleanQueue) addDemoted(p *Page) {
	q.linkDemoted(p)
	p.transitionSetState(StateClean)
}

// linkNew/linkDemoted perform only the queue linkage, for callers that
// already hold p.transitionMu and will set the state flag themselves
// (sync.Mutex is not reentrant, so transitionSetState can't be reused
// there without deadlocking).
func (q *cleanQueue) linkNew(p *Page) {
	q.mu.Lock()
	p.elem = q.l.PushBack(p)
	q.stats.onAdd(p.size)
	q.mu.Unlock()
}

func (q *cleanQueue) linkDemoted(p *Page) {
	q.mu.Lock()
	if p.hasBeenAccessed() {
		p.elem = q.l.PushBack(p)
	} else {
		p.elem = q.l.PushFront(p)
	}
	q.stats.onAdd(p.size)
	q.mu.Unlock()
}

func (q *cleanQueue) remove(p *Page) {
	q.mu.Lock()
	q.unlinkLocked(p)
	q.mu.Unlock()
}

func (q *cleanQueue) unlinkLocked(p *Page) {
	if p.elem == nil {
		fatalf("cleanQueue.remove", "page not linked in clean queue (section=%d metric=%d start=%d)", p.section, p.metric, p.start)
	}
	q.l.Remove(p.elem)
	p.elem = nil
	q.stats.onRemove(p.size)
}

// moveToTailNonBlocking implements spec.md §4.2's LRU update: a page accessed
// while on CLEAN moves to the tail. The non-blocking variant is used
// by Find on the hot read path; if the lock is contended it just flags
// has_been_accessed and lets the evictor resolve it later.
func (q *cleanQueue) moveToTailNonBlocking(p *Page) {
	if !q.mu.TryLock() {
		p.setHasBeenAccessed(true)
		return
	}
	defer q.mu.Unlock()
	if p.elem == nil {
		// Page left CLEAN (or the queue) between the access and this
		// call; nothing to do.
		return
	}
	q.l.MoveToBack(p.elem)
	p.setHasBeenAccessed(false)
}

// moveToTailLocked is the variant used by the evictor when it
// resolves a has_been_accessed flag during its own scan (it already
// holds q.mu).
func (q *cleanQueue) moveToTailLocked(p *Page) {
	q.l.MoveToBack(p.elem)
	p.setHasBeenAccessed(false)
}
