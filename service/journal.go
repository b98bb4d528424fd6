package service

import (
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"ixtrade/domain/orderbook"
	"ixtrade/infra/wal/entry"
)

// command is one journaled mutation of a pair. Submit commands carry the
// validated order in integer units so replay skips decimal parsing.
type command struct {
	ID     string
	UserID string
	Side   orderbook.Side
	Type   orderbook.OrderType
	Qty    int64
	Price  int64
	Time   int64
	Epoch  string
}

const (
	fieldID protowire.Number = iota + 1
	fieldUserID
	fieldSide
	fieldType
	fieldQty
	fieldPrice
	fieldTime
	fieldEpoch
)

// marshal uses the protobuf wire format so the journal stays readable by
// any protobuf decoder that knows the field numbers.
func (c *command) marshal(b []byte) []byte {
	b = protowire.AppendTag(b, fieldID, protowire.BytesType)
	b = protowire.AppendString(b, c.ID)
	if c.UserID != "" {
		b = protowire.AppendTag(b, fieldUserID, protowire.BytesType)
		b = protowire.AppendString(b, c.UserID)
	}
	b = protowire.AppendTag(b, fieldSide, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Side))
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Type))
	b = protowire.AppendTag(b, fieldQty, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Qty))
	b = protowire.AppendTag(b, fieldPrice, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Price))
	b = protowire.AppendTag(b, fieldTime, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Time))
	if c.Epoch != "" {
		b = protowire.AppendTag(b, fieldEpoch, protowire.BytesType)
		b = protowire.AppendString(b, c.Epoch)
	}
	return b
}

func (c *command) unmarshal(b []byte) error {
	*c = command{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case typ == protowire.BytesType && (num == fieldID || num == fieldUserID || num == fieldEpoch):
			s, m := protowire.ConsumeString(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			switch num {
			case fieldID:
				c.ID = s
			case fieldUserID:
				c.UserID = s
			default:
				c.Epoch = s
			}
			n = m
		case typ == protowire.VarintType && num >= fieldSide && num <= fieldTime:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			switch num {
			case fieldSide:
				c.Side = orderbook.Side(v)
			case fieldType:
				c.Type = orderbook.OrderType(v)
			case fieldQty:
				c.Qty = int64(v)
			case fieldPrice:
				c.Price = int64(v)
			case fieldTime:
				c.Time = int64(v)
			}
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
		}
		b = b[n:]
	}
	if c.ID == "" {
		return errors.New("journal command without order id")
	}
	return nil
}

// journal appends commands of one pair. Callers hold the pair lock, so
// the scratch buffer is never shared.
type journal struct {
	wal *entry.WAL
	buf []byte
}

// submit records the epoch the order executes under so replayed trades get
// their original ids back.
func (j *journal) submit(o *orderbook.Order, arrived int64, epoch string) error {
	c := command{
		ID:     o.ID,
		UserID: o.UserID,
		Side:   o.Side,
		Type:   o.Type,
		Qty:    o.Qty,
		Price:  o.Price,
		Time:   o.Time,
		Epoch:  epoch,
	}
	j.buf = c.marshal(j.buf[:0])
	return j.append(entry.RecordSubmit, o.Seq, arrived)
}

func (j *journal) cancel(seq uint64, id string, arrived int64) error {
	j.buf = protowire.AppendTag(j.buf[:0], fieldID, protowire.BytesType)
	j.buf = protowire.AppendString(j.buf, id)
	return j.append(entry.RecordCancel, seq, arrived)
}

// append stamps the record with the engine arrival time; replay executes
// trades at that time so stats and trade timestamps come back identical.
func (j *journal) append(t entry.RecordType, seq uint64, arrived int64) error {
	rec := entry.Record{Type: t, Seq: seq, Time: arrived, Data: j.buf}
	return j.wal.Append(&rec)
}
