package pgc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetHotIsIdempotent(t *testing.T) {
	c, _ := newTestCache(t)
	p, _ := c.AddAndAcquire(testEntry(1, 1, 0, true))
	require.Equal(t, StateHot, p.State())

	c.setHot(p)
	assert.Equal(t, StateHot, p.State())
	assert.EqualValues(t, 1, c.hotQueue.stats.Entries())
}

func TestSetHotFromCleanRelinksIntoHotQueue(t *testing.T) {
	c, _ := newTestCache(t)
	p, _ := c.AddAndAcquire(testEntry(1, 1, 0, false))
	require.Equal(t, StateClean, p.State())

	c.setHot(p)
	assert.Equal(t, StateHot, p.State())
	assert.EqualValues(t, 0, c.cleanQueue.stats.Entries())
	assert.EqualValues(t, 1, c.hotQueue.stats.Entries())
}

func TestSetDirtyMovesFromHotAndTracksDirtyMax(t *testing.T) {
	c, _ := newTestCache(t)
	p, _ := c.AddAndAcquire(testEntry(1, 1, 0, true))

	c.setDirty(p)
	assert.Equal(t, StateDirty, p.State())
	assert.EqualValues(t, 0, c.hotQueue.stats.Entries())
	assert.EqualValues(t, 1, c.dirtyQueue.stats.Entries())
	assert.GreaterOrEqual(t, c.dirtyMax, int64(1))
}

func TestSetCleanFromDirtyUsesAccessAwarePlacement(t *testing.T) {
	c, _ := newTestCache(t)
	p, _ := c.AddAndAcquire(testEntry(1, 1, 0, true))
	c.setDirty(p)

	c.setClean(p, true)
	assert.Equal(t, StateClean, p.State())
	assert.EqualValues(t, 1, c.cleanQueue.stats.Entries())
}

func TestMakeCleanAndTryEvictFreesHotPageHeldOnlyByCaller(t *testing.T) {
	var freed []*Page
	c := New(Options{
		Partitions:  1,
		FreeCleanCB: func(p *Page) { freed = append(freed, p) },
	})
	p, _ := c.AddAndAcquire(testEntry(1, 1, 0, true)) // HOT, refcount 1: the caller's sole reference

	ok := c.makeCleanAndTryEvict(p)
	assert.True(t, ok)
	assert.Len(t, freed, 1)
	assert.Same(t, p, freed[0])
}

func TestMakeCleanAndTryEvictLeavesReferencedPageInPlace(t *testing.T) {
	c, _ := newTestCache(t)
	p, _ := c.AddAndAcquire(testEntry(1, 1, 0, true))
	c.AddAndAcquire(testEntry(1, 1, 0, true)) // a second holder: refcount 2

	ok := c.makeCleanAndTryEvict(p)
	assert.False(t, ok)
	assert.Equal(t, StateClean, p.State())
}
