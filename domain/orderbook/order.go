package orderbook

type Side uint8
type OrderType uint8
type Status uint8

const (
	Bid Side = iota
	Ask
)

const (
	Limit OrderType = iota
	Market
)

const (
	Open Status = iota
	PartiallyFilled
	Filled
	Canceled
)

func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

func (s Status) Terminal() bool {
	return s == Filled || s == Canceled
}

// Order is a pure domain entity. Price is in ticks, Qty and Filled in lots.
type Order struct {
	ID     string
	UserID string
	Price  int64
	Qty    int64
	Filled int64
	Seq    uint64
	Time   int64

	Side   Side
	Type   OrderType
	Status Status

	level *PriceLevel
	next  *Order
	prev  *Order
}

func (o *Order) Remaining() int64 {
	return o.Qty - o.Filled
}

// Resting reports whether the order is linked into a price level.
func (o *Order) Resting() bool {
	return o.level != nil
}

// Next is a read-only traversal helper.
func (o *Order) Next() *Order {
	return o.next
}

// Reset clears the order so it can go back to a pool.
func (o *Order) Reset() {
	*o = Order{}
}

func (o *Order) fill(qty int64) {
	o.Filled += qty
	if o.Remaining() == 0 {
		o.Status = Filled
	} else {
		o.Status = PartiallyFilled
	}
}
