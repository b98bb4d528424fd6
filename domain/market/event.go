package market

import "time"

type EventKind string

const (
	EventOrderBook EventKind = "orderbook"
	EventTrade     EventKind = "trade"
	EventOrder     EventKind = "order"
	EventTicker    EventKind = "ticker"
)

// Event is a best-effort notification emitted after a book mutation.
// Exactly one of Trade, Order, Depth, Stats is set, according to Kind.
type Event struct {
	Kind  EventKind  `json:"kind"`
	Pair  string     `json:"pair"`
	Seq   uint64     `json:"seq"`
	Time  time.Time  `json:"time"`
	Trade *Trade     `json:"trade,omitempty"`
	Order *OrderView `json:"order,omitempty"`
	Depth *Depth     `json:"depth,omitempty"`
	Stats *Stats     `json:"stats,omitempty"`
}

// Notifier receives events. Implementations must not block.
type Notifier interface {
	Notify(Event)
}
