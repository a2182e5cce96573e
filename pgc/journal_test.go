package pgc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileNoFromCustom(custom []byte) uint32 {
	if len(custom) == 0 {
		return 0
	}
	return uint32(custom[0])
}

func TestOpenCacheToJournalBuildsExtentsAndMetrics(t *testing.T) {
	c, _ := newTestCache(t)
	for i := 0; i < 3; i++ {
		e := testEntry(1, 1, int64(i*10), true)
		e.CustomData = []byte{1}
		p, _ := c.AddAndAcquire(e)
		c.Release(p, false)
	}

	var captured *JournalIndexes
	err := c.OpenCacheToJournalV2(1, 1, fileNoFromCustom, func(idx *JournalIndexes, _ interface{}) {
		captured = idx
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, captured)

	assert.Len(t, captured.Extents, 3)
	m, ok := captured.Metrics[1]
	require.True(t, ok)
	assert.EqualValues(t, 3, m.Count)
	assert.EqualValues(t, 0, m.First)
	assert.EqualValues(t, 30, m.Last)

	// Migrated pages transition HOT -> DIRTY afterward.
	for start := int64(0); start < 30; start += 10 {
		p := m.Pages[start]
		require.NotNil(t, p)
		assert.Equal(t, StateDirty, p.State())
	}
}

func TestOpenCacheToJournalFiltersByFileNo(t *testing.T) {
	c, _ := newTestCache(t)
	e1 := testEntry(1, 1, 0, true)
	e1.CustomData = []byte{1}
	p1, _ := c.AddAndAcquire(e1)
	c.Release(p1, false)

	e2 := testEntry(1, 2, 0, true)
	e2.CustomData = []byte{2}
	p2, _ := c.AddAndAcquire(e2)
	c.Release(p2, false)

	var captured *JournalIndexes
	err := c.OpenCacheToJournalV2(1, 1, fileNoFromCustom, func(idx *JournalIndexes, _ interface{}) {
		captured = idx
	}, nil)
	require.NoError(t, err)
	assert.Len(t, captured.Extents, 1)
	assert.Equal(t, p1, captured.Extents[0].Page)
	assert.Equal(t, StateHot, p2.State(), "page from a different file id is left untouched")
}

func TestOpenCacheToJournalRejectsConcurrentMigrationOfSameSection(t *testing.T) {
	c, _ := newTestCache(t)
	e := testEntry(1, 1, 0, true)
	p, _ := c.AddAndAcquire(e)
	c.Release(p, false)

	var wg sync.WaitGroup
	started := make(chan struct{})
	release := make(chan struct{})
	errs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := c.OpenCacheToJournalV2(1, 1, nil, func(idx *JournalIndexes, _ interface{}) {
			close(started)
			<-release
		}, nil)
		errs <- err
	}()

	<-started
	err := c.OpenCacheToJournalV2(1, 1, nil, func(*JournalIndexes, interface{}) {}, nil)
	assert.ErrorIs(t, err, ErrAlreadyMigrating)
	close(release)
	wg.Wait()
	close(errs)
	for e := range errs {
		if e != nil {
			assert.NoError(t, e)
		}
	}
}
