package orderbook

import "github.com/cockroachdb/errors"

var (
	// ErrCorrupted marks invariant violations detected inside the book.
	// A corrupted book is halted and refuses further mutations.
	ErrCorrupted = errors.New("orderbook: corrupted")

	ErrNotResting = errors.New("orderbook: order is not resting")
	ErrCrossing   = errors.New("orderbook: restored order crosses the book")
)

// Fill is one execution of an incoming order against a resting one.
// Maker is only valid until the next mutation of the book.
type Fill struct {
	Maker       *Order
	MakerID     string
	MakerUserID string
	Price       int64
	Qty         int64
	MakerDone   bool
}

// OrderBook is single-writer and deterministic.
// Callers serialize Place/Cancel/Restore; reads need the same exclusion
// against writers.
type OrderBook struct {
	Bids *RBTree
	Asks *RBTree

	LastSeq uint64
	halted  error
}

func NewOrderBook() *OrderBook {
	return &OrderBook{
		Bids: NewRBTree(),
		Asks: NewRBTree(),
	}
}

// Halted returns the fault that stopped the book, if any.
func (b *OrderBook) Halted() error {
	return b.halted
}

// Halt stops the book with err unless it is already halted, and returns
// the fault the book now reports.
func (b *OrderBook) Halt(err error) error {
	if b.halted == nil {
		b.halt(err)
	}
	return b.halted
}

// Place matches o against the opposite side and rests any limit remainder.
// Fills are appended to fills and the extended slice is returned.
func (b *OrderBook) Place(o *Order, fills []Fill) ([]Fill, error) {
	if b.halted != nil {
		return fills, b.halted
	}
	if o.Seq > b.LastSeq {
		b.LastSeq = o.Seq
	}

	fills, err := b.match(o, fills)
	if err != nil {
		return fills, b.halt(err)
	}

	if o.Remaining() > 0 && o.Type == Limit {
		b.side(o.Side).Upsert(o.Price).Enqueue(o)
	}
	return fills, nil
}

// Cancel removes a resting order from its level.
func (b *OrderBook) Cancel(o *Order) error {
	if b.halted != nil {
		return b.halted
	}
	lvl := o.level
	if lvl == nil {
		return ErrNotResting
	}
	lvl.Remove(o)
	o.Status = Canceled
	if lvl.Empty() {
		if lvl.TotalQty != 0 || lvl.OrderCount != 0 {
			return b.halt(errors.AssertionFailedf(
				"level %d emptied with qty=%d count=%d", lvl.Price, lvl.TotalQty, lvl.OrderCount))
		}
		b.side(o.Side).Delete(lvl.Price)
	}
	return nil
}

// Restore rests o without matching. Used when loading snapshots.
func (b *OrderBook) Restore(o *Order) error {
	if b.halted != nil {
		return b.halted
	}
	if o.Type != Limit || o.Remaining() <= 0 {
		return errors.Newf("orderbook: cannot restore order %s", o.ID)
	}
	if best := b.best(o.Side.Opposite()); best != nil && b.crosses(o, best.Price) {
		return ErrCrossing
	}
	if o.Seq > b.LastSeq {
		b.LastSeq = o.Seq
	}
	b.side(o.Side).Upsert(o.Price).Enqueue(o)
	return nil
}

// ---- traversal helpers ----

// BidsWalk visits bid levels best (highest) first until fn returns false.
func (b *OrderBook) BidsWalk(fn func(*PriceLevel) bool) {
	b.Bids.Descend(fn)
}

// AsksWalk visits ask levels best (lowest) first until fn returns false.
func (b *OrderBook) AsksWalk(fn func(*PriceLevel) bool) {
	b.Asks.Ascend(fn)
}

// Validate walks the whole book and checks every structural invariant.
func (b *OrderBook) Validate() error {
	var err error
	check := func(side Side) func(*PriceLevel) bool {
		return func(lvl *PriceLevel) bool {
			var sum int64
			var count int
			var lastSeq uint64
			for o := lvl.head; o != nil; o = o.next {
				switch {
				case o.level != lvl:
					err = errors.AssertionFailedf("order %s linked to wrong level", o.ID)
				case o.Side != side || o.Price != lvl.Price:
					err = errors.AssertionFailedf("order %s misplaced at level %d", o.ID, lvl.Price)
				case o.Remaining() <= 0:
					err = errors.AssertionFailedf("order %s rests with remaining %d", o.ID, o.Remaining())
				case count > 0 && o.Seq <= lastSeq:
					err = errors.AssertionFailedf("level %d out of arrival order at %s", lvl.Price, o.ID)
				}
				if err != nil {
					return false
				}
				lastSeq = o.Seq
				sum += o.Remaining()
				count++
			}
			if count == 0 || sum != lvl.TotalQty || count != lvl.OrderCount {
				err = errors.AssertionFailedf("level %d aggregate mismatch: qty %d/%d count %d/%d",
					lvl.Price, sum, lvl.TotalQty, count, lvl.OrderCount)
				return false
			}
			return true
		}
	}
	b.BidsWalk(check(Bid))
	if err == nil {
		b.AsksWalk(check(Ask))
	}
	if err == nil {
		if bid, ask := b.Bids.Max(), b.Asks.Min(); bid != nil && ask != nil && bid.Price >= ask.Price {
			err = errors.AssertionFailedf("book crossed: bid %d >= ask %d", bid.Price, ask.Price)
		}
	}
	if err != nil {
		return errors.Mark(err, ErrCorrupted)
	}
	return nil
}

// ---- matching ----

func (b *OrderBook) match(o *Order, fills []Fill) ([]Fill, error) {
	book := b.side(o.Side.Opposite())

	for o.Remaining() > 0 {
		best := b.best(o.Side.Opposite())
		if best == nil {
			return fills, nil
		}
		if o.Type != Market && !b.crosses(o, best.Price) {
			return fills, nil
		}

		head := best.head
		if head == nil {
			return fills, errors.AssertionFailedf("empty level %d left in tree", best.Price)
		}
		if head.Remaining() <= 0 || head.level != best {
			return fills, errors.AssertionFailedf("resting order %s has remaining %d", head.ID, head.Remaining())
		}

		qty := min(o.Remaining(), head.Remaining())
		o.fill(qty)
		head.fill(qty)
		best.TotalQty -= qty
		if best.TotalQty < 0 {
			return fills, errors.AssertionFailedf("level %d aggregate went negative", best.Price)
		}

		done := head.Remaining() == 0
		fills = append(fills, Fill{
			Maker:       head,
			MakerID:     head.ID,
			MakerUserID: head.UserID,
			Price:       best.Price,
			Qty:         qty,
			MakerDone:   done,
		})

		if done {
			best.Remove(head)
			if best.Empty() {
				if best.TotalQty != 0 {
					return fills, errors.AssertionFailedf("level %d emptied with qty %d", best.Price, best.TotalQty)
				}
				book.Delete(best.Price)
			}
		}
	}
	return fills, nil
}

func (b *OrderBook) crosses(o *Order, resting int64) bool {
	if o.Side == Bid {
		return resting <= o.Price
	}
	return resting >= o.Price
}

func (b *OrderBook) best(s Side) *PriceLevel {
	if s == Bid {
		return b.Bids.Max()
	}
	return b.Asks.Min()
}

func (b *OrderBook) side(s Side) *RBTree {
	if s == Bid {
		return b.Bids
	}
	return b.Asks
}

func (b *OrderBook) halt(err error) error {
	b.halted = errors.Mark(errors.Wrap(err, "orderbook halted"), ErrCorrupted)
	return b.halted
}
