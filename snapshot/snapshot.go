package snapshot

import (
	"time"

	"ixtrade/domain/market"
)

type Snapshot struct {
	Pair string
	// Seq is the last journal sequence folded into this image.
	Seq      uint64
	TradeSeq uint64
	Created  time.Time
	Orders   []OrderEntry
	Stats    market.StatsWindow
	Trades   []market.Trade
}

// OrderEntry is a resting order in arrival order within its side.
type OrderEntry struct {
	ID     string
	UserID string
	Side   uint8
	Price  int64
	Qty    int64
	Filled int64
	Seq    uint64
	Time   int64
}
