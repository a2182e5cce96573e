package pgc

import "sync/atomic"

// transitionSetState sets the page's state flag under its transition
// lock. Queue linkage must already reflect the new state before this
// is called (spec.md §4.2: "flag set only after the link is
// installed").
func (p *Page) transitionSetState(s State) {
	p.transitionMu.Lock()
	p.state = s
	p.transitionMu.Unlock()
}

// setHot implements spec.md §4.4 set_hot: idempotent, removes the page
// from DIRTY or CLEAN if present, links it into HOT.
func (c *Cache) setHot(p *Page) {
	p.transitionMu.Lock()
	if p.state == StateHot {
		p.transitionMu.Unlock()
		return
	}
	old := p.state
	p.transitionMu.Unlock()

	switch old {
	case StateDirty:
		c.dirtyQueue.remove(p)
	case StateClean:
		c.cleanQueue.remove(p)
	}
	c.hotQueue.add(p, StateHot)
}

// setDirty implements spec.md §4.4 set_dirty. The HOT queue lock is
// always taken before the page's transition lock here, matching the
// lock hierarchy that avoids deadlock with the mass hot->dirty flush
// path (spec.md §5).
func (c *Cache) setDirty(p *Page) {
	c.hotQueue.mu.Lock()
	p.transitionMu.Lock()
	if p.state == StateDirty {
		p.transitionMu.Unlock()
		c.hotQueue.mu.Unlock()
		return
	}
	wasHot := p.state == StateHot
	wasClean := p.state == StateClean
	p.transitionMu.Unlock()

	if wasHot {
		c.hotQueue.unlinkLocked(p)
	}
	c.hotQueue.mu.Unlock() // safe to drop: HOT linkage, if any, is gone

	if wasClean {
		c.cleanQueue.remove(p)
	}
	c.dirtyQueue.add(p, StateDirty)
	c.observeDirtyMax()
	c.ctl.checkFlushCritical(c.dirtyQueue.stats.Size(), atomic.LoadInt64(&c.hotMax))
}

// setClean implements spec.md §4.4 set_clean, with access-aware
// placement on the CLEAN queue (spec.md §4.2).
func (c *Cache) setClean(p *Page, wasNeverAccessed bool) {
	p.transitionMu.Lock()
	if p.state == StateClean {
		p.transitionMu.Unlock()
		return
	}
	old := p.state
	p.transitionMu.Unlock()

	switch old {
	case StateHot:
		c.hotQueue.remove(p)
	case StateDirty:
		c.dirtyQueue.remove(p)
	}
	if wasNeverAccessed {
		c.cleanQueue.addDemoted(p)
	} else {
		c.cleanQueue.addNew(p)
	}
}

// makeCleanAndTryEvict implements the empty-HOT shortcut of spec.md
// §4.4: force the page to CLEAN, then try to delete it immediately if
// the caller holds the only reference (refcount exactly 1). Returns
// true if the page was freed.
func (c *Cache) makeCleanAndTryEvict(p *Page) bool {
	c.setClean(p, true)

	c.cleanQueue.mu.Lock()
	if !reserveForDeletionFromOne(p) {
		c.cleanQueue.mu.Unlock()
		return false
	}
	c.cleanQueue.unlinkLocked(p)
	c.cleanQueue.mu.Unlock()

	c.index.removeBatch([]*Page{p})
	c.freePage(p)
	return true
}
