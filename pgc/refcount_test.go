package pgc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcquireReportZeroTracksFirstAcquire(t *testing.T) {
	p := &Page{refcount: 0}
	ok, wasZero := acquireReportZero(p)
	assert.True(t, ok)
	assert.True(t, wasZero)

	ok, wasZero = acquireReportZero(p)
	assert.True(t, ok)
	assert.False(t, wasZero)
	assert.EqualValues(t, 2, p.Refcount())
}

func TestAcquireFailsOnReservedPage(t *testing.T) {
	p := &Page{refcount: refDeleting}
	ok := acquire(p)
	assert.False(t, ok)
}

func TestReleaseReportsTransitionToZero(t *testing.T) {
	p := &Page{refcount: 2}
	assert.False(t, release(p))
	assert.True(t, release(p))
	assert.EqualValues(t, 0, p.Refcount())
}

func TestReleaseUnderflowPanics(t *testing.T) {
	p := &Page{refcount: 0}
	assert.Panics(t, func() { release(p) })
}

func TestReserveForDeletionFromZeroOnlySucceedsAtZero(t *testing.T) {
	p := &Page{refcount: 1}
	assert.False(t, reserveForDeletionFromZero(p))

	release(p)
	assert.True(t, reserveForDeletionFromZero(p))
	assert.EqualValues(t, refDeleting, p.Refcount())
	assert.True(t, p.isBeingDeleted())
}

func TestReserveForDeletionFromOneOnlySucceedsAtOne(t *testing.T) {
	p := &Page{refcount: 2}
	assert.False(t, reserveForDeletionFromOne(p))

	release(p)
	assert.True(t, reserveForDeletionFromOne(p))
	assert.EqualValues(t, refDeleting, p.Refcount())
}

func TestConcurrentAcquireReleaseNeverUnderOverCounts(t *testing.T) {
	p := &Page{refcount: 1}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				acquire(p)
				release(p)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, p.Refcount())
}
