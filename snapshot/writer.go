package snapshot

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

type Writer struct {
	Dir string
}

// Write replaces the pair's snapshot atomically: encode to a temp file,
// fsync, rename.
func (w *Writer) Write(s *Snapshot) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return err
	}

	path := Path(w.Dir, s.Pair)
	tmp, err := os.CreateTemp(w.Dir, ".snapshot-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(s); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "encode snapshot %s", s.Pair)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Path is where the snapshot of pair lives under dir.
func Path(dir, pair string) string {
	return filepath.Join(dir, FileName(pair)+".snap")
}

// FileName turns "BTC/USDT" into "BTC-USDT".
func FileName(pair string) string {
	return strings.ReplaceAll(pair, "/", "-")
}
