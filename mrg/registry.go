package mrg

import (
	"sync/atomic"

	"github.com/OneOfOne/xxhash"
	"github.com/google/uuid"

	"github.com/zhukovaskychina/pgcache/logger"
)

// Finder is the one-way dependency MRG takes on pgc (spec.md §9): the
// zero-retention deletability check must confirm there is no HOT or
// DIRTY page left referencing the metric before it can be dropped,
// and pgc.Cache.Find(FIRST) answers that question. Registry never
// imports package pgc directly; the caller supplies this thin seam.
type Finder interface {
	// HasAnyPage reports whether the cache still holds any page
	// (any state) for (section, metric) — spec.md "first" search
	// with PGC_SECTION_ALL is not permitted, so the caller passes
	// a concrete section.
	HasAnyPage(section SectionID, metric uuid.UUID) bool
}

// Config configures a Registry.
type Config struct {
	Partitions int
	Finder     Finder // optional; nil disables the zero-retention guard
}

func (cfg *Config) applyDefaults() {
	if cfg.Partitions <= 0 {
		cfg.Partitions = 64
	}
}

// Registry interns Metric identities and partitions them the same
// way pgc partitions pages, for the same reason: independent locks
// reduce contention under concurrent ingestion (spec.md §4.10).
type Registry struct {
	cfg        Config
	partitions []*partition
}

// New builds a Registry.
func New(cfg Config) *Registry {
	cfg.applyDefaults()
	r := &Registry{cfg: cfg, partitions: make([]*partition, cfg.Partitions)}
	for i := range r.partitions {
		r.partitions[i] = &partition{metrics: make(map[uuid.UUID]*Metric)}
	}
	return r
}

func (r *Registry) partitionFor(id uuid.UUID) *partition {
	h := xxhash.Checksum64(id[:])
	return r.partitions[h%uint64(len(r.partitions))]
}

// AddAndAcquire interns a metric if absent and returns it with an
// extra reference held (spec.md: mirrors pgc's "find-or-insert,
// always acquired" contract). added reports whether a new Metric was
// created.
func (r *Registry) AddAndAcquire(section SectionID, id uuid.UUID, updateEvery int64) (m *Metric, added bool) {
	part := r.partitionFor(id)

	part.mu.RLock()
	if existing, ok := part.metrics[id]; ok {
		existing.acquire()
		part.mu.RUnlock()
		return existing, false
	}
	part.mu.RUnlock()

	part.mu.Lock()
	defer part.mu.Unlock()
	if existing, ok := part.metrics[id]; ok {
		existing.acquire()
		return existing, false
	}
	m = &Metric{uuid: id, section: section, updateEvery: updateEvery, refcount: 1}
	part.metrics[id] = m
	return m, true
}

// GetAndAcquire looks a metric up without creating it.
func (r *Registry) GetAndAcquire(id uuid.UUID) (*Metric, bool) {
	part := r.partitionFor(id)
	part.mu.RLock()
	defer part.mu.RUnlock()
	m, ok := part.metrics[id]
	if !ok {
		return nil, false
	}
	m.acquire()
	return m, true
}

// Dup takes an additional reference on an already-acquired metric.
func (r *Registry) Dup(m *Metric) *Metric {
	m.acquire()
	return m
}

// Release drops one reference. It never deletes; callers that know a
// metric may have gone retention-empty should use ReleaseAndDelete.
func (r *Registry) Release(m *Metric) {
	m.release()
}

// ReleaseAndDelete drops one reference and, if it was the last one
// and the metric has no retention left (and, when a Finder is
// configured, no page of any state remains in the cache), removes it
// from the registry (spec.md §3's MRG deletability predicate).
func (r *Registry) ReleaseAndDelete(m *Metric) {
	remaining := m.release()
	if remaining > 0 {
		return
	}
	if remaining < 0 {
		logger.Errorf("mrg: refcount underflow for metric %s", m.uuid)
		return
	}
	if !m.hasNoRetention() {
		return
	}
	if r.cfg.Finder != nil && r.cfg.Finder.HasAnyPage(m.section, m.uuid) {
		return
	}

	part := r.partitionFor(m.uuid)
	part.mu.Lock()
	defer part.mu.Unlock()
	if cur, ok := part.metrics[m.uuid]; ok && cur == m && m.refs() == 0 {
		delete(part.metrics, m.uuid)
	}
}

// UpdateRetention widens a metric's retention window after a sample
// lands; hot selects latest_hot_time vs latest_clean_time.
func (r *Registry) UpdateRetention(m *Metric, first, latest int64, hot bool) {
	m.expandRetention(first, latest, hot)
}

// SetUpdateEvery records the sampling-period hint, used by query
// layers to size reads (spec.md §4.10).
func (r *Registry) SetUpdateEvery(m *Metric, updateEvery int64) {
	atomic.StoreInt64(&m.updateEvery, updateEvery)
}

// AcquireWriter claims the single-writer advisory slot for a metric.
func (r *Registry) AcquireWriter(m *Metric, id uintptr) bool {
	return m.acquireWriter(id)
}

// ReleaseWriter releases a previously claimed writer slot.
func (r *Registry) ReleaseWriter(m *Metric, id uintptr) bool {
	return m.releaseWriter(id)
}

// Len reports the number of interned metrics across all partitions,
// an O(partitions) operation used for observability, not hot paths.
func (r *Registry) Len() int {
	n := 0
	for _, part := range r.partitions {
		part.mu.RLock()
		n += len(part.metrics)
		part.mu.RUnlock()
	}
	return n
}

// ForEach enumerates every interned metric, so an embedding system
// can inspect what is left at shutdown (the MRG Open Question of
// spec.md §9 is resolved here: MRG is enumerable rather than a silent
// no-op on Destroy). Each partition is snapshotted under its read
// lock; fn runs after that lock is released.
func (r *Registry) ForEach(fn func(*Metric)) {
	for _, part := range r.partitions {
		part.mu.RLock()
		snapshot := make([]*Metric, 0, len(part.metrics))
		for _, m := range part.metrics {
			snapshot = append(snapshot, m)
		}
		part.mu.RUnlock()
		for _, m := range snapshot {
			fn(m)
		}
	}
}

// Destroy logs a final summary. Mirrors pgc.Cache.Destroy: there are
// no background goroutines to stop.
func (r *Registry) Destroy() {
	logger.Infof("mrg: destroy metrics=%d", r.Len())
}
