// Package conf loads cache and log store tuning from an INI file,
// adapted from the teacher's server/conf/config.go Cfg/ini.File
// pattern.
package conf

import (
	"fmt"

	"gopkg.in/ini.v1"

	"github.com/zhukovaskychina/pgcache/logger"
)

// CacheConfig maps directly to the cache creation options of
// spec.md §6.
type CacheConfig struct {
	EvictPagesInline bool `default:"false"`
	FlushPagesInline bool `default:"false"`
	Autoscale        bool `default:"true"`

	CleanSizeFloorMiB             int64 `default:"64"`
	MaxDirtyPagesPerFlush         int   `default:"256"`
	MaxPagesPerInlineEviction     int   `default:"16"`
	MaxSkipPagesPerInlineEviction int   `default:"8"`
	MaxFlushesInline              int   `default:"4"`
	MaxInlineEvictors             int   `default:"4"`
	Partitions                    int   `default:"0"` // 0 means number-of-CPUs, resolved by pgc.Options.applyDefaults
	AdditionalBytesPerPage        int64 `default:"0"`
}

// LogStoreConfig maps to the log store tuning knobs SPEC_FULL.md
// §2.3 adds on top of spec.md's cache-only surface.
type LogStoreConfig struct {
	BlobMaxBytes   int64  `default:"67108864"` // 64MiB
	BlobCount      int    `default:"10"`
	QueryTimeoutMS int    `default:"30000"`
	Codec          string `default:"snappy"` // "snappy" or "lz4"
}

// Config is the top-level file shape: one [cache] and one [logstore]
// section, matching the teacher's per-section-struct convention.
type Config struct {
	Raw      *ini.File
	Cache    CacheConfig
	LogStore LogStoreConfig
}

// Load reads path and parses the [cache] and [logstore] sections. A
// missing file is not an error: Load returns defaults, matching the
// teacher's tolerant posture toward an absent optional config file.
// An empty path also yields defaults (the demo binary's default when
// no -config flag is given).
func Load(path string) (*Config, error) {
	cfg := &Config{
		Cache:    defaultCacheConfig(),
		LogStore: defaultLogStoreConfig(),
	}

	if path == "" {
		cfg.Raw = ini.Empty()
		return cfg, nil
	}

	raw, err := ini.Load(path)
	if err != nil {
		logger.Warnf("conf: failed to load %s, using defaults: %v", path, err)
		cfg.Raw = ini.Empty()
		return cfg, nil
	}
	cfg.Raw = raw

	cfg.parseCacheSection(raw.Section("cache"))
	cfg.parseLogStoreSection(raw.Section("logstore"))
	return cfg, nil
}

func defaultCacheConfig() CacheConfig {
	return CacheConfig{
		Autoscale:                     true,
		CleanSizeFloorMiB:             64,
		MaxDirtyPagesPerFlush:         256,
		MaxPagesPerInlineEviction:     16,
		MaxSkipPagesPerInlineEviction: 8,
		MaxFlushesInline:              4,
		MaxInlineEvictors:             4,
	}
}

func defaultLogStoreConfig() LogStoreConfig {
	return LogStoreConfig{
		BlobMaxBytes:   64 << 20,
		BlobCount:      10,
		QueryTimeoutMS: 30000,
		Codec:          "snappy",
	}
}

func (cfg *Config) parseCacheSection(section *ini.Section) {
	cfg.Cache.EvictPagesInline = section.Key("evict_pages_inline").MustBool(cfg.Cache.EvictPagesInline)
	cfg.Cache.FlushPagesInline = section.Key("flush_pages_inline").MustBool(cfg.Cache.FlushPagesInline)
	cfg.Cache.Autoscale = section.Key("autoscale").MustBool(cfg.Cache.Autoscale)
	cfg.Cache.CleanSizeFloorMiB = section.Key("clean_size_floor_mib").MustInt64(cfg.Cache.CleanSizeFloorMiB)
	cfg.Cache.MaxDirtyPagesPerFlush = section.Key("max_dirty_pages_per_flush").MustInt(cfg.Cache.MaxDirtyPagesPerFlush)
	cfg.Cache.MaxPagesPerInlineEviction = section.Key("max_pages_per_inline_eviction").MustInt(cfg.Cache.MaxPagesPerInlineEviction)
	cfg.Cache.MaxSkipPagesPerInlineEviction = section.Key("max_skip_pages_per_inline_eviction").MustInt(cfg.Cache.MaxSkipPagesPerInlineEviction)
	cfg.Cache.MaxFlushesInline = section.Key("max_flushes_inline").MustInt(cfg.Cache.MaxFlushesInline)
	cfg.Cache.MaxInlineEvictors = section.Key("max_inline_evictors").MustInt(cfg.Cache.MaxInlineEvictors)
	cfg.Cache.Partitions = section.Key("partitions").MustInt(cfg.Cache.Partitions)
	cfg.Cache.AdditionalBytesPerPage = section.Key("additional_bytes_per_page").MustInt64(cfg.Cache.AdditionalBytesPerPage)
}

func (cfg *Config) parseLogStoreSection(section *ini.Section) {
	cfg.LogStore.BlobMaxBytes = section.Key("blob_max_bytes").MustInt64(cfg.LogStore.BlobMaxBytes)
	cfg.LogStore.BlobCount = section.Key("blob_count").MustInt(cfg.LogStore.BlobCount)
	cfg.LogStore.QueryTimeoutMS = section.Key("query_timeout_ms").MustInt(cfg.LogStore.QueryTimeoutMS)
	cfg.LogStore.Codec = section.Key("codec").MustString(cfg.LogStore.Codec)
}

// String renders a human-readable summary, used by the demo binary
// on startup.
func (cfg *Config) String() string {
	return fmt.Sprintf("cache{autoscale=%v partitions=%d dirty_flush=%d} logstore{blob_count=%d blob_max=%d codec=%s}",
		cfg.Cache.Autoscale, cfg.Cache.Partitions, cfg.Cache.MaxDirtyPagesPerFlush,
		cfg.LogStore.BlobCount, cfg.LogStore.BlobMaxBytes, cfg.LogStore.Codec)
}
