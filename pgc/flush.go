package pgc

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/zhukovaskychina/pgcache/logger"
)

// FlushPages drains DIRTY into CLEAN through the save-dirty callback
// (spec.md §4.8). It returns whether there is more work left to do
// (another call would make progress).
func (c *Cache) FlushPages(maxFlushes int, section Section, wait bool, all bool) bool {
	q := c.dirtyQueue
	if wait {
		q.mu.Lock()
	} else if !q.mu.TryLock() {
		return false
	}
	q.mu.Unlock()

	version := q.Version()
	last := atomic.LoadUint64(&c.flushLastVersion)
	if !all && version == last && version != 0 {
		return false
	}
	atomic.StoreUint64(&c.flushLastVersion, version)

	batchCap := maxFlushes
	if c.opts.MaxDirtyPagesPerFlush < batchCap || batchCap <= 0 {
		batchCap = c.opts.MaxDirtyPagesPerFlush
	}

	var sections []Section
	if section == SectionAll {
		sections = q.sectionsSnapshot()
	} else {
		sections = []Section{section}
	}

	moreWork := false
	for _, sec := range sections {
		if !all && q.sectionEntries(sec) < c.opts.MaxDirtyPagesPerFlush {
			continue
		}
		if c.flushSection(sec, batchCap, all) {
			moreWork = true
		}
	}
	return moreWork
}

// flushSection flushes up to batchCap pages of one section and reports
// whether that section still has unflushed work.
func (c *Cache) flushSection(section Section, batchCap int, all bool) bool {
	type held struct {
		page  *Page
		entry Entry
	}

	var collected []held
	q := c.dirtyQueue

	q.mu.Lock()
	sl, ok := q.sections[section]
	if !ok {
		q.mu.Unlock()
		return false
	}
	total := sl.l.Len()
	for e := sl.l.Front(); e != nil && len(collected) < batchCap; e = e.Next() {
		p := e.Value.(*Page)
		ok, wasZero := acquireReportZero(p)
		if !ok {
			continue
		}
		if wasZero {
			c.onAcquired(p)
		}
		if !p.transitionMu.TryLock() {
			// Contended: release and skip this one this round.
			c.Release(p, false)
			continue
		}
		collected = append(collected, held{page: p, entry: Entry{
			Section:     p.section,
			MetricID:    p.metric,
			StartTime:   p.start,
			EndTime:     p.EndTime(),
			UpdateEvery: p.update,
			Size:        p.size,
			Data:        p.data,
			CustomData:  p.custom,
		}})
	}
	committed := all || len(collected) >= batchCap
	if !committed {
		q.mu.Unlock()
		for _, h := range collected {
			h.page.transitionMu.Unlock()
			c.Release(h.page, false)
		}
		return total > len(collected)
	}

	// Unlink from DIRTY while still holding its lock (spec.md §4.8
	// step 4), then drop the lock before the callback, which may
	// block arbitrarily.
	for _, h := range collected {
		q.unlinkLocked(h.page)
	}
	q.mu.Unlock()

	entries := make([]Entry, len(collected))
	pages := make([]*Page, len(collected))
	for i, h := range collected {
		entries[i] = h.entry
		pages[i] = h.page
	}

	if c.opts.SaveInitCB != nil {
		if err := c.opts.SaveInitCB(section); err != nil {
			logger.Errorf("pgc: save_init_cb section=%d: %v", section, errors.WithStack(err))
		}
	}
	if err := c.opts.SaveDirtyCB(section, entries, pages); err != nil {
		// spec.md §7: callback failure is not negotiable, the cache
		// does not roll back a flush. Surface it loudly and proceed.
		logger.Errorf("pgc: save_dirty_cb section=%d count=%d: %v", section, len(pages), errors.WithStack(err))
	}

	for _, h := range collected {
		neverAccessed := h.page.Accesses() == 0
		if neverAccessed {
			c.cleanQueue.linkDemoted(h.page)
		} else {
			c.cleanQueue.linkNew(h.page)
		}
		h.page.state = StateClean
		h.page.transitionMu.Unlock()
		c.Release(h.page, false)
	}

	return total > len(collected)
}
