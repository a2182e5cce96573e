package conf

import "github.com/zhukovaskychina/pgcache/pgc"

// ToPGCOptions builds a pgc.Options from the [cache] section. The
// callback fields are not config-file material; the caller supplies
// them after this call.
func (cfg *CacheConfig) ToPGCOptions() pgc.Options {
	return pgc.Options{
		EvictPagesInline:              cfg.EvictPagesInline,
		FlushPagesInline:              cfg.FlushPagesInline,
		Autoscale:                     cfg.Autoscale,
		CleanSizeFloor:                cfg.CleanSizeFloorMiB << 20,
		MaxDirtyPagesPerFlush:         cfg.MaxDirtyPagesPerFlush,
		MaxPagesPerInlineEviction:     cfg.MaxPagesPerInlineEviction,
		MaxSkipPagesPerInlineEviction: cfg.MaxSkipPagesPerInlineEviction,
		MaxFlushesInline:              cfg.MaxFlushesInline,
		MaxInlineEvictors:             cfg.MaxInlineEvictors,
		Partitions:                    cfg.Partitions,
		AdditionalBytesPerPage:        uint32(cfg.AdditionalBytesPerPage),
	}
}
