package entry

import (
	"encoding/binary"
	"os"
	"time"

	"github.com/cockroachdb/errors"
)

type Config struct {
	Dir             string
	SegmentSize     int64
	SegmentDuration time.Duration
	// SyncEveryWrite fsyncs after each append.
	SyncEveryWrite bool
}

// WAL is an append-only journal of framed records split into segments.
// It is not safe for concurrent use; the owning pair serializes access.
type WAL struct {
	cfg        Config
	current    *segment
	segIndex   int
	lastRotate time.Time
	buf        []byte
}

func Open(cfg Config) (*WAL, error) {
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = 64 << 20
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create journal dir")
	}

	files, err := listSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}
	index := 0
	if len(files) > 0 {
		index = segmentIndex(files[len(files)-1])
	}

	seg, err := openSegment(cfg.Dir, index)
	if err != nil {
		return nil, errors.Wrap(err, "open journal segment")
	}

	return &WAL{
		cfg:        cfg,
		current:    seg,
		segIndex:   index,
		lastRotate: time.Now(),
	}, nil
}

func (w *WAL) Append(r *Record) error {
	payloadLen := uint32(len(r.Data))
	size := headerSize + int(payloadLen) + 4
	if cap(w.buf) < size {
		w.buf = make([]byte, size)
	}
	buf := w.buf[:size]

	buf[0] = byte(r.Type)
	binary.BigEndian.PutUint64(buf[1:9], r.Seq)
	binary.BigEndian.PutUint64(buf[9:17], uint64(r.Time))
	binary.BigEndian.PutUint32(buf[17:21], payloadLen)
	copy(buf[headerSize:], r.Data)
	binary.BigEndian.PutUint32(buf[headerSize+payloadLen:], checksum(buf[:headerSize+payloadLen]))

	if err := w.current.append(buf); err != nil {
		return errors.Wrap(err, "journal append")
	}
	if w.cfg.SyncEveryWrite {
		if err := w.current.sync(); err != nil {
			return errors.Wrap(err, "journal sync")
		}
	}

	if w.shouldRotate() {
		return w.rotate()
	}
	return nil
}

func (w *WAL) shouldRotate() bool {
	if w.current.offset >= w.cfg.SegmentSize {
		return true
	}
	return w.cfg.SegmentDuration > 0 && time.Since(w.lastRotate) >= w.cfg.SegmentDuration
}

func (w *WAL) rotate() error {
	_ = w.current.sync()
	_ = w.current.close()
	w.segIndex++

	seg, err := openSegment(w.cfg.Dir, w.segIndex)
	if err != nil {
		return errors.Wrap(err, "rotate journal")
	}

	w.current = seg
	w.lastRotate = time.Now()
	return nil
}

// Rotate closes the current segment so it becomes eligible for truncation.
func (w *WAL) Rotate() error {
	if w.current.offset == 0 {
		return nil
	}
	return w.rotate()
}

// TruncateBefore removes closed segments whose records are all <= seq.
func (w *WAL) TruncateBefore(seq uint64) error {
	files, err := listSegments(w.cfg.Dir)
	if err != nil {
		return err
	}

	for _, path := range files {
		if segmentIndex(path) == w.segIndex {
			continue
		}
		maxSeq, err := maxSeqInSegment(path)
		if err != nil {
			continue
		}
		if maxSeq <= seq {
			if err := os.Remove(path); err != nil {
				return errors.Wrapf(err, "remove %s", path)
			}
		}
	}
	return nil
}

func (w *WAL) Sync() error {
	return w.current.sync()
}

func (w *WAL) Close() error {
	if err := w.current.sync(); err != nil {
		_ = w.current.close()
		return err
	}
	return w.current.close()
}
