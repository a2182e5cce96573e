package pgc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindNextAndPrevAndLast(t *testing.T) {
	c, _ := newTestCache(t)
	starts := []int64{0, 10, 20, 30}
	for _, s := range starts {
		p, _ := c.AddAndAcquire(testEntry(1, 1, s, true))
		c.Release(p, false)
	}

	next, ok := c.Find(1, 1, 10, Next)
	require.True(t, ok)
	assert.EqualValues(t, 20, next.StartTime())
	c.Release(next, false)

	prev, ok := c.Find(1, 1, 20, Prev)
	require.True(t, ok)
	assert.EqualValues(t, 10, prev.StartTime())
	c.Release(prev, false)

	last, ok := c.Find(1, 1, 0, Last)
	require.True(t, ok)
	assert.EqualValues(t, 30, last.StartTime())
	c.Release(last, false)

	first, ok := c.Find(1, 1, 0, First)
	require.True(t, ok)
	assert.EqualValues(t, 0, first.StartTime())
	c.Release(first, false)
}

func TestRemoveBatchPrunesEmptyMetricsAndSections(t *testing.T) {
	c, _ := newTestCache(t)
	p, _ := c.AddAndAcquire(testEntry(1, 1, 0, false))
	c.Release(p, false)

	ok := reserveForDeletionFromZero(p)
	require.True(t, ok)
	c.index.removeBatch([]*Page{p})

	_, found := c.Find(1, 1, 0, Exact)
	assert.False(t, found)

	part := c.index.partitionFor(1)
	part.mu.RLock()
	_, hasSection := part.sections[1]
	part.mu.RUnlock()
	assert.False(t, hasSection, "an emptied section must be pruned from the partition map")
}

func TestPartitionForIsStableForRepeatedMetric(t *testing.T) {
	idx := newIndex(8)
	p1 := idx.partitionFor(42)
	p2 := idx.partitionFor(42)
	assert.Same(t, p1, p2)
}

func TestDuplicateInsertRetriesAcrossConcurrentDeletion(t *testing.T) {
	c, _ := newTestCache(t)
	e := testEntry(1, 1, 0, false)
	p, added := c.index.insert(c, e)
	require.True(t, added)
	c.Release(p, false)

	// Reserve the page for deletion (simulating a concurrent evictor
	// that won the race right before our insert looks it up), but don't
	// unlink it from the index yet.
	require.True(t, reserveForDeletionFromZero(p))

	done := make(chan struct{})
	go func() {
		// Finish the deletion shortly after the insert below starts
		// spinning on the race.
		c.index.removeBatch([]*Page{p})
		close(done)
	}()

	p2, added2 := c.index.insert(c, e)
	<-done
	assert.True(t, added2)
	assert.NotSame(t, p, p2)
	c.Release(p2, false)
}
