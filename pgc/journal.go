package pgc

import (
	"sync/atomic"

	"github.com/zhukovaskychina/pgcache/logger"
)

// JournalExtent is one HOT page's position in the exported extent
// index (spec.md §4.9: "extents by position").
type JournalExtent struct {
	Page     *Page
	Position int
}

// JournalMetric aggregates one metric's migrated pages: retention
// bounds plus a per-start-time page index.
type JournalMetric struct {
	First, Last int64
	Count       int
	Pages       map[int64]*Page // start_time -> page
}

// JournalIndexes is the set of structures built by
// OpenCacheToJournalV2 and handed, fully owned, to the caller's
// callback.
type JournalIndexes struct {
	Extents []JournalExtent
	Metrics map[MetricID]*JournalMetric
}

// JournalFileNoFunc extracts the custom-data "fileno" field a journal
// migration filters HOT pages by. The cache never interprets
// CustomData itself (spec.md: "data ... never dereferenced by the
// cache"); the caller supplies the decoder.
type JournalFileNoFunc func(custom []byte) uint32

// JournalCallback receives ownership of the built indexes.
type JournalCallback func(idx *JournalIndexes, userdata interface{})

// OpenCacheToJournalV2 exports HOT pages of one section and data-file
// id into index structures for a separate on-disk journal
// (spec.md §4.9). A single migrator per section is enforced; a
// concurrent attempt is logged and skipped.
func (c *Cache) OpenCacheToJournalV2(section Section, datafileID uint32, fileNoOf JournalFileNoFunc, cb JournalCallback, userdata interface{}) error {
	lockVal, _ := c.migrating.LoadOrStore(section, new(int32))
	lock := lockVal.(*int32)
	if !atomic.CompareAndSwapInt32(lock, 0, 1) {
		logger.Warnf("pgc: journal migration already in progress for section %d, skipping", section)
		return ErrAlreadyMigrating
	}
	defer atomic.StoreInt32(lock, 0)

	idx := &JournalIndexes{Metrics: make(map[MetricID]*JournalMetric)}
	var migrated []*Page
	position := 0

	c.hotQueue.forEachInSection(section, func(p *Page) bool {
		if fileNoOf != nil && fileNoOf(p.CustomData()) != datafileID {
			return false
		}
		ok, wasZero := acquireReportZero(p)
		if !ok {
			return false
		}
		if wasZero {
			c.onAcquired(p)
		}
		p.setBeingMigrated(true)

		p.transitionMu.Lock()
		idx.Extents = append(idx.Extents, JournalExtent{Page: p, Position: position})
		position++

		m, ok := idx.Metrics[p.metric]
		if !ok {
			m = &JournalMetric{First: p.start, Last: p.EndTime(), Pages: make(map[int64]*Page)}
			idx.Metrics[p.metric] = m
		}
		if p.start < m.First {
			m.First = p.start
		}
		if p.EndTime() > m.Last {
			m.Last = p.EndTime()
		}
		m.Count++
		m.Pages[p.start] = p
		p.transitionMu.Unlock()

		migrated = append(migrated, p)
		return false
	})

	cb(idx, userdata)

	for _, p := range migrated {
		c.setDirty(p)
		p.setBeingMigrated(false)
		c.Release(p, false)
	}
	return nil
}

