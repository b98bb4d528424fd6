package jobstore

import (
	"fmt"
	"net/url"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"ixtrade/domain/settlement"
)

const (
	jobPrefix = "job/"
	dlqPrefix = "dlq/"
)

type PebbleOptions struct {
	// NoSync skips fsync on writes. Tests and benchmarks only.
	NoSync bool
	// FS overrides the filesystem, e.g. vfs.NewMem() in tests.
	FS vfs.FS
}

// PebbleStore keeps jobs under job/<id> and dead-lettered generations
// under dlq/<escaped id>/<generation>. The id is path-escaped there so an
// id holding a slash cannot fall under another id's prefix.
type PebbleStore struct {
	db    *pebble.DB
	write *pebble.WriteOptions
}

func OpenPebble(dir string, opts PebbleOptions) (*PebbleStore, error) {
	po := &pebble.Options{}
	if opts.FS != nil {
		po.FS = opts.FS
	}
	db, err := pebble.Open(dir, po)
	if err != nil {
		return nil, errors.Wrapf(err, "open job store %s", dir)
	}

	write := pebble.Sync
	if opts.NoSync {
		write = pebble.NoSync
	}
	return &PebbleStore{db: db, write: write}, nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func (s *PebbleStore) Get(id string) (*settlement.Job, error) {
	val, closer, err := s.db.Get(jobKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, settlement.ErrJobNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get job %s", id)
	}
	defer closer.Close()

	return decodeJob(val)
}

func (s *PebbleStore) Put(job *settlement.Job) error {
	b, err := encodeJob(job)
	if err != nil {
		return err
	}
	return s.db.Set(jobKey(job.ID), b, s.write)
}

func (s *PebbleStore) Archive(job *settlement.Job) error {
	b, err := encodeJob(job)
	if err != nil {
		return err
	}
	return s.db.Set(dlqKey(job.ID, job.Generation), b, s.write)
}

func (s *PebbleStore) Archived(id string) ([]*settlement.Job, error) {
	var out []*settlement.Job
	prefix := dlqIDPrefix(id)
	err := s.scanPrefix(prefix, func(j *settlement.Job) error {
		out = append(out, j)
		return nil
	})
	return out, err
}

func (s *PebbleStore) Scan(fn func(*settlement.Job) error) error {
	return s.scanPrefix([]byte(jobPrefix), fn)
}

// -------------------- Helpers --------------------

func (s *PebbleStore) scanPrefix(prefix []byte, fn func(*settlement.Job) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		job, err := decodeJob(iter.Value())
		if err != nil {
			return errors.Wrapf(err, "decode %s", iter.Key())
		}
		if err := fn(job); err != nil {
			return err
		}
	}
	return iter.Error()
}

func jobKey(id string) []byte {
	return []byte(jobPrefix + id)
}

func dlqIDPrefix(id string) []byte {
	return []byte(dlqPrefix + url.PathEscape(id) + "/")
}

func dlqKey(id string, generation int) []byte {
	return fmt.Appendf(dlqIDPrefix(id), "%06d", generation)
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
