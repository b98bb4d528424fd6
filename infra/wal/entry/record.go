package entry

import (
	"hash/crc32"
	"time"
)

type RecordType uint8

const (
	RecordSubmit RecordType = iota + 1
	RecordCancel
)

// Record is one journaled command. Seq is the pair's arrival sequence.
type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

func NewRecord(t RecordType, seq uint64, data []byte) *Record {
	return &Record{
		Type: t,
		Seq:  seq,
		Time: time.Now().UnixNano(),
		Data: data,
	}
}

// Frame layout:
// [type:1][seq:8][time:8][len:4][payload][crc:4]
const headerSize = 21

func checksum(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}
