package pgc

import "sync/atomic"

// FilterFunc is a page predicate used by EvictPagesWithFilter. Only
// pages for which it returns true are eligible for eviction.
type FilterFunc func(p *Page) bool

// EvictPages implements spec.md §4.7: scan CLEAN from the head,
// reserve-for-deletion candidates, unlink them from the index, invoke
// the free-clean callback, and report whether more work remains.
func (c *Cache) EvictPages(maxSkip, maxEvict int, wait, all bool) (stoppedEarly bool) {
	return c.evict(maxSkip, maxEvict, wait, all, nil)
}

// EvictPagesWithFilter is EvictPages restricted to pages matching
// filter, used by the log-store collaborator to evict all CLEAN pages
// backed by a specific data pointer (spec.md §4.7).
func (c *Cache) EvictPagesWithFilter(maxSkip, maxEvict int, wait, all bool, filter FilterFunc) (stoppedEarly bool) {
	return c.evict(maxSkip, maxEvict, wait, all, filter)
}

func (c *Cache) evict(maxSkip, maxEvict int, wait, all bool, filter FilterFunc) bool {
	pm := c.ctl.perMilleRefreshOrCached(c.sample())
	if !all && pm < c.opts.Thresholds.Healthy {
		return false
	}

	severe := all || pm >= c.opts.Thresholds.SeverePressure
	if !severe {
		if atomic.AddInt32(&c.inlineEvictors, 1) > int32(c.opts.MaxInlineEvictors) {
			atomic.AddInt32(&c.inlineEvictors, -1)
			return false
		}
		defer atomic.AddInt32(&c.inlineEvictors, -1)
	}

	q := c.cleanQueue
	if wait {
		q.mu.Lock()
	} else if !q.mu.TryLock() {
		return false
	}

	var batch []*Page
	var firstRotated *Page
	skipped := 0
	more := false

	for {
		if !all && maxEvict > 0 && len(batch) >= maxEvict {
			more = q.l.Len() > 0
			break
		}
		e := q.l.Front()
		if e == nil {
			break
		}
		p := e.Value.(*Page)

		if p == firstRotated {
			more = true
			break
		}
		if p.hasBeenAccessed() {
			q.moveToTailLocked(p)
			if firstRotated == nil {
				firstRotated = p
			}
			continue
		}
		if filter != nil && !filter(p) {
			q.moveToTailLocked(p)
			if firstRotated == nil {
				firstRotated = p
			}
			continue
		}
		if !reserveForDeletionFromZero(p) {
			q.moveToTailLocked(p)
			if firstRotated == nil {
				firstRotated = p
			}
			skipped++
			atomic.AddUint64(&globalSpinStats.evictSkips, 1)
			if skipped >= maxSkip && maxSkip > 0 {
				more = true
				break
			}
			continue
		}
		q.unlinkLocked(p)
		batch = append(batch, p)
	}
	q.mu.Unlock()

	if len(batch) > 0 {
		c.index.removeBatch(batch)
		for _, p := range batch {
			c.freePage(p)
		}
	}
	return more
}
