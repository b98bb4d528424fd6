package snapshot

import (
	"encoding/gob"
	"os"

	"github.com/cockroachdb/errors"
)

// Load reads the snapshot of pair. A missing file is not an error: it
// returns nil and recovery replays the whole journal.
func Load(dir, pair string) (*Snapshot, error) {
	f, err := os.Open(Path(dir, pair))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var s Snapshot
	if err := gob.NewDecoder(f).Decode(&s); err != nil {
		return nil, errors.Wrapf(err, "decode snapshot %s", pair)
	}
	if s.Pair != pair {
		return nil, errors.Newf("snapshot %s holds pair %s", Path(dir, pair), s.Pair)
	}
	return &s, nil
}
