// Command pgcached demonstrates wiring together the page cache, the
// metric registry, and the log store: a synthetic producer writes
// pages and log lines, readers look them up, an evictor and a
// flusher run inline, and the run ends with a clean shutdown of all
// three collaborators.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/zhukovaskychina/pgcache/conf"
	"github.com/zhukovaskychina/pgcache/logger"
	"github.com/zhukovaskychina/pgcache/logstore"
	"github.com/zhukovaskychina/pgcache/mrg"
	"github.com/zhukovaskychina/pgcache/pgc"
)

func main() {
	configPath := flag.String("config", "", "path to an INI config file (optional)")
	dataDir := flag.String("data-dir", "", "directory for the log store (defaults to a temp dir)")
	metrics := flag.Int("metrics", 8, "number of synthetic metrics to simulate")
	samples := flag.Int("samples", 200, "number of samples per metric")
	flag.Parse()

	cfg, err := conf.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pgcached: load config:", err)
		os.Exit(1)
	}
	logger.Infof("pgcached: starting with %s", cfg)

	dir := *dataDir
	if dir == "" {
		dir, err = os.MkdirTemp("", "pgcached-demo-")
		if err != nil {
			fmt.Fprintln(os.Stderr, "pgcached: mkdtemp:", err)
			os.Exit(1)
		}
		defer os.RemoveAll(dir)
	}

	reg := mrg.New(mrg.Config{})
	defer reg.Destroy()

	cache, store, catalog := buildCollaborators(cfg, dir, reg)
	defer cache.Destroy()
	defer store.Close()
	defer catalog.Close()

	ids := make([]uuid.UUID, *metrics)
	for i := range ids {
		ids[i] = uuid.New()
		reg.AddAndAcquire(1, ids[i], 1000)
	}

	runProducerLoop(cache, store, ids, *samples)
	runReaderPass(cache, ids)
	runQueryPass(store)

	stats := cache.Stats()
	logger.Infof("pgcached: done entries=%d size=%d acquire_spins=%d evict_skips=%d",
		cache.Entries(), cache.Size(), stats.AcquireSpins, stats.EvictSkips)
}

func buildCollaborators(cfg *conf.Config, dir string, reg *mrg.Registry) (*pgc.Cache, *logstore.Source, *logstore.Catalog) {
	opts := cfg.Cache.ToPGCOptions()
	opts.SaveDirtyCB = func(section pgc.Section, entries []pgc.Entry, pages []*pgc.Page) error {
		logger.Debugf("pgcached: flushed section=%d count=%d", section, len(entries))
		return nil
	}
	opts.FreeCleanCB = func(p *pgc.Page) {}
	cache := pgc.New(opts)

	catalog, err := logstore.OpenCatalog(dir)
	if err != nil {
		logger.ErrorLogger.Fatalf("pgcached: open catalog: %v", err)
	}
	if _, err := catalog.Register(logstore.Collection{
		StreamTag: "demo", LogSourcePath: "/dev/null", DBDir: dir + "/demo",
	}); err != nil {
		logger.ErrorLogger.Fatalf("pgcached: register collection: %v", err)
	}

	codec := logstore.CodecSnappy
	if cfg.LogStore.Codec == "lz4" {
		codec = logstore.CodecLZ4
	}
	store, err := logstore.OpenSource(logstore.SourceConfig{
		Tag: "demo", Path: "/dev/null", Dir: dir + "/demo",
		BlobCount: cfg.LogStore.BlobCount, BlobMax: cfg.LogStore.BlobMaxBytes, Codec: codec,
	})
	if err != nil {
		logger.ErrorLogger.Fatalf("pgcached: open log source: %v", err)
	}

	return cache, store, catalog
}

func runProducerLoop(cache *pgc.Cache, store *logstore.Source, ids []uuid.UUID, samples int) {
	for mi, id := range ids {
		metric := pgc.MetricID(mi + 1)
		for s := 0; s < samples; s++ {
			start := int64(s * 10)
			p, _ := cache.AddAndAcquire(pgc.Entry{
				Section:     1,
				MetricID:    metric,
				StartTime:   start,
				EndTime:     start + 10,
				UpdateEvery: 10,
				Size:        128,
				Data:        make([]byte, 128),
				Hot:         true,
			})
			cache.HotToDirtyAndRelease(p)

			if err := store.Append(start, []byte(fmt.Sprintf("metric=%s sample=%d", id, s)), 1); err != nil {
				logger.Warnf("pgcached: append log: %v", err)
			}
		}
		cache.FlushPages(64, 1, true, false)
	}
}

func runReaderPass(cache *pgc.Cache, ids []uuid.UUID) {
	for mi := range ids {
		metric := pgc.MetricID(mi + 1)
		if p, ok := cache.Find(1, metric, 0, pgc.First); ok {
			cache.Release(p, true)
		}
	}
}

func runQueryPass(store *logstore.Source) {
	results, err := store.Query(logstore.QueryParams{
		From: 0, To: time.Now().Unix(), Ascending: true, Quota: 5,
	})
	if err != nil && err != logstore.ErrNoResults {
		logger.Warnf("pgcached: query: %v", err)
		return
	}
	logger.Infof("pgcached: query returned %d rows", len(results))
}
