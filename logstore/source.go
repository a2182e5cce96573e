package logstore

import (
	"database/sql"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/pgcache/logger"
)

// Source is one log collection's storage: a metadata database plus
// its blob ring (spec.md §4.11, "Per-source"). Writes, rotations and
// queries are all serialized through mu: Query and Compound hold it
// for the whole call, so concurrent readers of one source wait for
// each other.
type Source struct {
	Tag  string
	Dir  string
	Path string // Log_Source_Path, the original file/unit this source ingests

	mu   sync.Mutex
	meta *metaDB
	ring *blobRing

	blobCount int
	blobMax   int64
}

// SourceConfig configures a newly opened Source.
type SourceConfig struct {
	Tag       string
	Path      string
	Dir       string
	BlobCount int   // default 10 when <= 0
	BlobMax   int64 // default 64MiB when <= 0
	Codec     Codec // CodecSnappy (default) or CodecLZ4, selectable per source
}

func (cfg *SourceConfig) applyDefaults() {
	if cfg.BlobCount <= 0 {
		cfg.BlobCount = 10
	}
	if cfg.BlobMax <= 0 {
		cfg.BlobMax = 64 << 20
	}
}

// OpenSource opens (creating if needed) a source's directory,
// metadata database, and blob ring.
func OpenSource(cfg SourceConfig) (*Source, error) {
	cfg.applyDefaults()
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "logstore: mkdir %s", cfg.Dir)
	}
	meta, err := openMetaDB(cfg.Dir, cfg.BlobCount)
	if err != nil {
		return nil, err
	}
	ring, err := openBlobRing(cfg.Dir, cfg.BlobCount, cfg.BlobMax, cfg.Codec)
	if err != nil {
		meta.close()
		return nil, err
	}
	return &Source{
		Tag: cfg.Tag, Dir: cfg.Dir, Path: cfg.Path,
		meta: meta, ring: ring,
		blobCount: cfg.BlobCount, blobMax: cfg.BlobMax,
	}, nil
}

// Append compresses payload, writes it to the ring's active blob, and
// records its metadata row in one transaction (spec.md §4.11: "writer
// appends compressed log bytes to blob 0, records metadata in a
// single transaction"); it rotates the ring first if blob 0 is full.
func (s *Source) Append(ts int64, payload []byte, numLines int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	full, err := s.ring.needsRotation()
	if err != nil {
		return err
	}
	if full {
		if err := s.rotateLocked(); err != nil {
			return errors.Wrap(err, "logstore: rotate before append")
		}
	}

	offset, compressed, err := s.ring.append(payload)
	if err != nil {
		return errors.Wrap(err, "logstore: write blob")
	}

	writeTargetID, err := s.meta.blobIDByFilename(blobFilename(0))
	if err != nil {
		return err
	}

	tx, err := s.meta.db.Begin()
	if err != nil {
		return errors.Wrap(err, "logstore: begin append tx")
	}
	if err := appendLogTx(tx, writeTargetID, offset, ts, int64(len(compressed)), int64(len(payload)), numLines); err != nil {
		tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "logstore: commit append tx")
}

func (s *Source) rotateLocked() error {
	if err := s.ring.rotate(); err != nil {
		return err
	}
	if err := s.meta.rotateMetadata(s.blobCount); err != nil {
		return err
	}
	logger.Debugf("logstore: rotated blob ring for source %s", s.Tag)
	return nil
}

// readLogRow resolves a LogRow to decompressed bytes, by locating
// which ring slot currently holds FK_Blob_Id's data.
func (s *Source) readLogRow(row LogRow) ([]byte, error) {
	var filename string
	if err := s.meta.db.QueryRow(`SELECT Filename FROM `+blobsTable+` WHERE Id = ?`, row.BlobID).Scan(&filename); err != nil {
		return nil, errors.Wrapf(err, "logstore: resolve blob filename for id %d", row.BlobID)
	}
	idx, err := parseBlobIndex(filename)
	if err != nil {
		return nil, err
	}
	return s.ring.read(idx, row.BlobOffset, row.MsgComprSize, row.MsgDecomprSize)
}

// db exposes the underlying *sql.DB. The compound-query path does not
// use it: Compound ATTACHes the metadata file by its path instead.
func (s *Source) db() *sql.DB { return s.meta.db }

// readAt reads and decompresses bytes at a known ring slot, used by
// both the single-source and compound query paths once a Logs row
// has been resolved.
func (s *Source) readAt(blobIdx int, offset, comprSize, decomprSize int64) ([]byte, error) {
	return s.ring.read(blobIdx, offset, comprSize, decomprSize)
}

// Close releases the source's database handle and blob file handles.
func (s *Source) Close() {
	s.meta.close()
	s.ring.close()
}
