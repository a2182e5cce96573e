package logstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSource(t *testing.T, blobCount int, blobMax int64, codec Codec) *Source {
	t.Helper()
	dir := t.TempDir()
	src, err := OpenSource(SourceConfig{Tag: "t", Path: "/var/log/t.log", Dir: dir, BlobCount: blobCount, BlobMax: blobMax, Codec: codec})
	require.NoError(t, err)
	t.Cleanup(src.Close)
	return src
}

func TestAppendAndQueryRoundTrip(t *testing.T) {
	src := openTestSource(t, 4, 1<<20, CodecSnappy)

	require.NoError(t, src.Append(100, []byte("hello world\n"), 1))
	require.NoError(t, src.Append(200, []byte("goodbye world\n"), 1))

	results, err := src.Query(QueryParams{From: 0, To: 1000, Ascending: true})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(100), results[0].Timestamp)
	assert.Equal(t, "hello world\n", string(results[0].Lines))
	assert.Equal(t, int64(200), results[1].Timestamp)
}

func TestQueryKeywordCaseInsensitive(t *testing.T) {
	src := openTestSource(t, 4, 1<<20, CodecSnappy)
	require.NoError(t, src.Append(1, []byte("ERROR disk full"), 1))
	require.NoError(t, src.Append(2, []byte("info: all good"), 1))

	results, err := src.Query(QueryParams{From: 0, To: 10, Keyword: "error", Mode: SearchCaseInsensitive, Ascending: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, string(results[0].Lines), "ERROR")
}

func TestQueryNoResultsReturnsSentinel(t *testing.T) {
	src := openTestSource(t, 4, 1<<20, CodecSnappy)
	require.NoError(t, src.Append(1, []byte("line"), 1))

	_, err := src.Query(QueryParams{From: 1000, To: 2000})
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestQueryInvalidRangeRejected(t *testing.T) {
	src := openTestSource(t, 4, 1<<20, CodecSnappy)
	_, err := src.Query(QueryParams{From: 100, To: 1})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestBlobRotationPreservesReadability(t *testing.T) {
	// A tiny max forces rotation on nearly every append.
	src := openTestSource(t, 3, 8, CodecSnappy)

	for i := int64(0); i < 30; i++ {
		require.NoError(t, src.Append(i, []byte("payload-line-number-is-long-enough-to-force-rotation"), 1))
	}

	results, err := src.Query(QueryParams{From: 0, To: 1000, Ascending: true})
	require.NoError(t, err)
	assert.NotEmpty(t, results)
	for _, r := range results {
		assert.Contains(t, string(r.Lines), "payload-line-number")
	}
}

func TestLZ4CodecRoundTrip(t *testing.T) {
	src := openTestSource(t, 4, 1<<20, CodecLZ4)
	require.NoError(t, src.Append(1, []byte("lz4 payload body"), 1))

	results, err := src.Query(QueryParams{From: 0, To: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "lz4 payload body", string(results[0].Lines))
}

func TestCompoundQueryAcrossSources(t *testing.T) {
	a := openTestSource(t, 4, 1<<20, CodecSnappy)
	b := openTestSource(t, 4, 1<<20, CodecLZ4)

	require.NoError(t, a.Append(10, []byte("from a"), 1))
	require.NoError(t, b.Append(20, []byte("from b"), 1))

	results, err := Compound([]*Source{a, b}, QueryParams{From: 0, To: 100, Ascending: true})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "from a", string(results[0].Lines))
	assert.Equal(t, "from b", string(results[1].Lines))
}

func TestCompoundQueryNoSourcesIsNoMatchingSource(t *testing.T) {
	_, err := Compound(nil, QueryParams{From: 0, To: 1})
	assert.ErrorIs(t, err, ErrNoMatchingSource)
}

func TestCompoundQueryOrderIndependentLocking(t *testing.T) {
	// Same two sources, reversed slice order: Compound sorts its own
	// lock order internally, so neither call should deadlock or
	// produce different results depending on caller order.
	a := openTestSource(t, 4, 1<<20, CodecSnappy)
	b := openTestSource(t, 4, 1<<20, CodecLZ4)

	require.NoError(t, a.Append(10, []byte("from a"), 1))
	require.NoError(t, b.Append(20, []byte("from b"), 1))

	results, err := Compound([]*Source{b, a}, QueryParams{From: 0, To: 100, Ascending: true})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "from a", string(results[0].Lines))
	assert.Equal(t, "from b", string(results[1].Lines))
}

func TestCompoundQuerySerializesAgainstConcurrentRotation(t *testing.T) {
	// A tiny max forces rotation on nearly every append. A goroutine
	// hammering Append (and therefore rotateLocked) concurrently with
	// Compound must never see Compound resolve a row against a blob
	// file that's mid-rename: Compound holds every source's mu for the
	// whole call, the same guarantee Source.Query relies on.
	a := openTestSource(t, 3, 8, CodecSnappy)
	b := openTestSource(t, 3, 8, CodecSnappy)
	require.NoError(t, a.Append(0, []byte("seed-a"), 1))
	require.NoError(t, b.Append(0, []byte("seed-b"), 1))

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		var i int64 = 1
		for {
			select {
			case <-stop:
				return
			default:
			}
			require.NoError(t, a.Append(i, []byte("payload-line-number-is-long-enough-to-force-rotation"), 1))
			i++
		}
	}()

	for i := 0; i < 50; i++ {
		results, err := Compound([]*Source{a, b}, QueryParams{From: 0, To: 1 << 30, Ascending: true})
		require.NoError(t, err)
		assert.NotEmpty(t, results)
		for _, r := range results {
			assert.NotEmpty(t, r.Lines)
		}
	}

	close(stop)
	<-done
}
