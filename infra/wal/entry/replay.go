package entry

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

var ErrChecksum = errors.New("journal: crc mismatch")

type ReplayHandler func(*Record) error

// Replay feeds every record with Seq > after to fn, in order, and returns
// the last sequence seen. A torn final frame ends replay of that segment.
func Replay(dir string, after uint64, fn ReplayHandler) (lastSeq uint64, err error) {
	files, err := listSegments(dir)
	if err != nil {
		return 0, err
	}
	lastSeq = after

	for _, path := range files {
		if lastSeq, err = replaySegment(path, after, lastSeq, fn); err != nil {
			return lastSeq, err
		}
	}
	return lastSeq, nil
}

func replaySegment(path string, after, lastSeq uint64, fn ReplayHandler) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return lastSeq, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		rec, err := readRecord(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return lastSeq, nil
			}
			return lastSeq, errors.Wrapf(err, "replay %s", path)
		}
		if rec.Seq <= after {
			continue
		}
		if rec.Seq <= lastSeq {
			return lastSeq, errors.Newf("journal: non-monotonic seq %d after %d", rec.Seq, lastSeq)
		}
		lastSeq = rec.Seq

		if err := fn(rec); err != nil {
			return lastSeq, err
		}
	}
}

func readRecord(r io.Reader) (*Record, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	l := binary.BigEndian.Uint32(header[17:21])
	body := make([]byte, l+4)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	payload := body[:l]
	sum := binary.BigEndian.Uint32(body[l:])
	if checksum(append(header, payload...)) != sum {
		return nil, ErrChecksum
	}

	return &Record{
		Type: RecordType(header[0]),
		Seq:  binary.BigEndian.Uint64(header[1:9]),
		Time: int64(binary.BigEndian.Uint64(header[9:17])),
		Data: payload,
	}, nil
}
