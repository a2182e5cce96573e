package logstore

import (
	"bytes"
	"io"
	"os"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"

	"github.com/zhukovaskychina/pgcache/logger"
)

// Codec is the compression scheme a source's blobs are written with.
// Sources choose independently (spec.md §4.11's blobs are opaque
// compressed bytes; the original distinguishes a default codec from
// an alternate one available per collection).
type Codec int

const (
	CodecSnappy Codec = iota
	CodecLZ4
)

func (c Codec) encode(payload []byte) ([]byte, error) {
	switch c {
	case CodecLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, errors.Wrap(err, "logstore: lz4 compress")
		}
		if err := w.Close(); err != nil {
			return nil, errors.Wrap(err, "logstore: lz4 close writer")
		}
		return buf.Bytes(), nil
	default:
		return snappy.Encode(nil, payload), nil
	}
}

func (c Codec) decode(compressed []byte, decomprSize int) ([]byte, error) {
	switch c {
	case CodecLZ4:
		out := make([]byte, 0, decomprSize)
		buf := bytes.NewBuffer(out)
		if _, err := io.Copy(buf, lz4.NewReader(bytes.NewReader(compressed))); err != nil {
			return nil, errors.Wrap(err, "logstore: lz4 decompress")
		}
		return buf.Bytes(), nil
	default:
		return snappy.Decode(make([]byte, 0, decomprSize), compressed)
	}
}

// blobRing manages the N-file ring of compressed log blobs for one
// source (spec.md §4.11). Blob 0 is always the active write target;
// rotation renames i -> i+1 cyclically and truncates the new 0.
type blobRing struct {
	dir      string
	count    int
	maxBytes int64
	codec    Codec

	files []*os.File // files[i] backs logs.bin.<i>, always open O_RDWR
}

func openBlobRing(dir string, count int, maxBytes int64, codec Codec) (*blobRing, error) {
	r := &blobRing{dir: dir, count: count, maxBytes: maxBytes, codec: codec, files: make([]*os.File, count)}
	for i := 0; i < count; i++ {
		f, err := os.OpenFile(dir+"/"+blobFilename(i), os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			r.close()
			return nil, errors.Wrapf(err, "logstore: open blob %d", i)
		}
		r.files[i] = f
	}
	return r, nil
}

// append compresses payload with the ring's codec and writes it to
// blob 0 at its current end, returning the offset and the compressed
// bytes written.
func (r *blobRing) append(payload []byte) (offset int64, compressed []byte, err error) {
	info, err := r.files[0].Stat()
	if err != nil {
		return 0, nil, errors.Wrap(err, "logstore: stat blob 0")
	}
	offset = info.Size()
	compressed, err = r.codec.encode(payload)
	if err != nil {
		return 0, nil, err
	}
	if _, err := r.files[0].WriteAt(compressed, offset); err != nil {
		return 0, nil, errors.Wrap(err, "logstore: write blob 0")
	}
	return offset, compressed, nil
}

// needsRotation reports whether blob 0 has crossed the configured
// maximum size (spec.md §4.11: "rotates blobs when blob 0's size
// exceeds a configured maximum").
func (r *blobRing) needsRotation() (bool, error) {
	info, err := r.files[0].Stat()
	if err != nil {
		return false, errors.Wrap(err, "logstore: stat blob 0")
	}
	return info.Size() >= r.maxBytes, nil
}

// rotate renames blob i to blob i+1 cyclically (blob count-1's
// content is discarded by becoming the new blob 0) and truncates the
// new write target. It closes and reopens every backing *os.File
// since os.Rename invalidates the old file's path association on
// some platforms.
func (r *blobRing) rotate() error {
	for i := r.count - 1; i >= 0; i-- {
		if err := r.files[i].Close(); err != nil {
			return errors.Wrapf(err, "logstore: close blob %d before rotate", i)
		}
	}

	// Park the last slot under a temporary name first so that shifting
	// i -> i+1 never overwrites a blob that has not been moved yet.
	lastPath := r.dir + "/" + blobFilename(r.count-1)
	parkedPath := lastPath + ".rotating"
	if err := os.Rename(lastPath, parkedPath); err != nil {
		return errors.Wrapf(err, "logstore: park blob %d", r.count-1)
	}
	for i := r.count - 2; i >= 0; i-- {
		oldPath := r.dir + "/" + blobFilename(i)
		newPath := r.dir + "/" + blobFilename(i+1)
		if err := os.Rename(oldPath, newPath); err != nil {
			return errors.Wrapf(err, "logstore: rename blob %d -> %d", i, i+1)
		}
	}

	newZeroPath := r.dir + "/" + blobFilename(0)
	if err := os.Rename(parkedPath, newZeroPath); err != nil {
		return errors.Wrapf(err, "logstore: rename blob %d -> 0", r.count-1)
	}
	if err := os.Truncate(newZeroPath, 0); err != nil {
		return errors.Wrap(err, "logstore: truncate new blob 0")
	}

	for i := 0; i < r.count; i++ {
		f, err := os.OpenFile(r.dir+"/"+blobFilename(i), os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return errors.Wrapf(err, "logstore: reopen blob %d after rotate", i)
		}
		r.files[i] = f
	}
	return nil
}

// read returns the decompressed bytes at offset in ring slot blobIdx.
func (r *blobRing) read(blobIdx int, offset, comprSize, decomprSize int64) ([]byte, error) {
	buf := make([]byte, comprSize)
	if _, err := r.files[blobIdx].ReadAt(buf, offset); err != nil {
		return nil, errors.Wrapf(err, "logstore: read blob %d at %d", blobIdx, offset)
	}
	decoded, err := r.codec.decode(buf, int(decomprSize))
	if err != nil {
		return nil, errors.Wrapf(err, "logstore: decompress blob %d at %d", blobIdx, offset)
	}
	return decoded, nil
}

func (r *blobRing) close() {
	for i, f := range r.files {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil {
			logger.Warnf("logstore: close blob %d: %v", i, err)
		}
	}
}
