package market

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side string
type OrderType string
type OrderStatus string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

const (
	Limit  OrderType = "limit"
	Market OrderType = "market"
)

const (
	StatusOpen            OrderStatus = "open"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCanceled        OrderStatus = "canceled"
)

// OrderRequest is the submission shape shared by the standard and fast paths.
// Price is ignored for market orders. An empty ID gets a generated one and a
// zero Timestamp is stamped on arrival.
type OrderRequest struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Pair      string          `json:"pair"`
	Side      Side            `json:"side"`
	Type      OrderType       `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// OrderView is a read-only copy of an order's state.
type OrderView struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Pair      string          `json:"pair"`
	Side      Side            `json:"side"`
	Type      OrderType       `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	Filled    decimal.Decimal `json:"filled"`
	Remaining decimal.Decimal `json:"remaining"`
	Status    OrderStatus     `json:"status"`
	Seq       uint64          `json:"seq"`
	CreatedAt time.Time       `json:"created_at"`
}

// Trade is immutable once created. Price is always the resting order's price.
type Trade struct {
	ID          string          `json:"id"`
	Pair        string          `json:"pair"`
	Price       decimal.Decimal `json:"price"`
	Size        decimal.Decimal `json:"size"`
	BuyOrderID  string          `json:"buy_order_id"`
	SellOrderID string          `json:"sell_order_id"`
	BuyUserID   string          `json:"buy_user_id,omitempty"`
	SellUserID  string          `json:"sell_user_id,omitempty"`
	TakerSide   Side            `json:"taker_side"`
	Seq         uint64          `json:"seq"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

// Validate checks the fields settlement relies on.
func (t *Trade) Validate() error {
	switch {
	case t.ID == "":
		return Invalid("trade: missing id")
	case t.Pair == "":
		return Invalid("trade %s: missing pair", t.ID)
	case !t.Price.IsPositive():
		return Invalid("trade %s: price must be positive", t.ID)
	case !t.Size.IsPositive():
		return Invalid("trade %s: size must be positive", t.ID)
	case t.BuyOrderID == "" || t.SellOrderID == "":
		return Invalid("trade %s: missing order ids", t.ID)
	}
	return nil
}

var tradeNamespace = uuid.MustParse("6f1c9a52-8d7e-4b0e-9a43-3b2f55d0c1e7")

// TradeID derives a stable id from the pair, the engine epoch that executed
// the trade and its trade sequence. Replays reuse the journaled epoch and
// reproduce the id; a new process lifetime gets a new epoch, so a sequence
// that restarts can never collide with ids already settled.
func TradeID(pair, epoch string, seq uint64) string {
	return uuid.NewSHA1(tradeNamespace, []byte(fmt.Sprintf("%s/%s/%d", pair, epoch, seq))).String()
}

// SubmitResult is what the standard path returns.
type SubmitResult struct {
	Order  OrderView `json:"order"`
	Trades []Trade   `json:"trades"`
}

// FastResult is filled in place by the high-throughput path.
// Trades is truncated and reused on every call.
type FastResult struct {
	OrderID string
	Status  OrderStatus
	Filled  int64
	Seq     uint64
	Trades  []Trade
}

// Level is one aggregated price level of a depth snapshot.
type Level struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
	Total decimal.Decimal `json:"total"`
}

type Depth struct {
	Pair      string    `json:"pair"`
	Bids      []Level   `json:"bids"`
	Asks      []Level   `json:"asks"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats is the 24h ticker. HasData is false until the first trade.
type Stats struct {
	Pair          string          `json:"pair"`
	LastPrice     decimal.Decimal `json:"last_price"`
	High24h       decimal.Decimal `json:"high_24h"`
	Low24h        decimal.Decimal `json:"low_24h"`
	Volume24h     decimal.Decimal `json:"volume_24h"`
	TradeCount24h int64           `json:"trade_count_24h"`
	HasData       bool            `json:"has_data"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
