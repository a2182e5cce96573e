package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.ini"))
	require.NoError(t, err)
	assert.True(t, cfg.Cache.Autoscale)
	assert.Equal(t, 256, cfg.Cache.MaxDirtyPagesPerFlush)
	assert.Equal(t, "snappy", cfg.LogStore.Codec)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pgcached.ini")
	content := `
[cache]
autoscale = false
max_dirty_pages_per_flush = 64
partitions = 8

[logstore]
blob_count = 4
codec = lz4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Cache.Autoscale)
	assert.Equal(t, 64, cfg.Cache.MaxDirtyPagesPerFlush)
	assert.Equal(t, 8, cfg.Cache.Partitions)
	assert.Equal(t, 4, cfg.LogStore.BlobCount)
	assert.Equal(t, "lz4", cfg.LogStore.Codec)
}

func TestToPGCOptionsMapsFields(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	opts := cfg.Cache.ToPGCOptions()
	assert.Equal(t, cfg.Cache.Autoscale, opts.Autoscale)
	assert.EqualValues(t, cfg.Cache.CleanSizeFloorMiB<<20, opts.CleanSizeFloor)
}
