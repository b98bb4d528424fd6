package service

import (
	"time"

	"github.com/shopspring/decimal"

	"ixtrade/domain/market"
	"ixtrade/domain/orderbook"
)

// GetOrderbook returns up to depth aggregated levels per side, best first.
// depth <= 0 means DefaultDepth. A valid pair with no book yields an
// empty snapshot.
func (e *Engine) GetOrderbook(pair string, depth int) (market.Depth, error) {
	p, err := market.NormalizePair(pair)
	if err != nil {
		return market.Depth{}, e.reject(err)
	}
	if depth <= 0 {
		depth = DefaultDepth
	}
	if depth > e.cfg.MaxDepth {
		return market.Depth{}, e.reject(market.Invalid("depth %d exceeds maximum %d", depth, e.cfg.MaxDepth))
	}

	pb := e.lookup(p)
	if pb == nil {
		return market.Depth{Pair: p, Bids: []market.Level{}, Asks: []market.Level{}, Timestamp: e.now().UTC()}, nil
	}

	pb.mu.RLock()
	defer pb.mu.RUnlock()
	if err := e.haltedErr(pb); err != nil {
		return market.Depth{}, e.reject(err)
	}
	return pb.depth(depth, e.now()), nil
}

// GetMarketStats returns the rolling 24h ticker. HasData stays false until
// the pair trades.
func (e *Engine) GetMarketStats(pair string) (market.Stats, error) {
	p, err := market.NormalizePair(pair)
	if err != nil {
		return market.Stats{}, e.reject(err)
	}
	pb := e.lookup(p)
	if pb == nil {
		return market.Stats{Pair: p}, nil
	}

	pb.mu.RLock()
	defer pb.mu.RUnlock()
	if err := e.haltedErr(pb); err != nil {
		return market.Stats{}, e.reject(err)
	}
	return pb.stats.Snapshot(p, e.now(), pb.scale), nil
}

// GetRecentTrades returns at most limit trades, newest first.
// limit <= 0 means DefaultTradeLimit; above market.MaxRecentTrades is rejected.
func (e *Engine) GetRecentTrades(pair string, limit int) ([]market.Trade, error) {
	p, err := market.NormalizePair(pair)
	if err != nil {
		return nil, e.reject(err)
	}
	if limit <= 0 {
		limit = DefaultTradeLimit
	}
	if limit > market.MaxRecentTrades {
		return nil, e.reject(market.Invalid("limit %d exceeds maximum %d", limit, market.MaxRecentTrades))
	}

	pb := e.lookup(p)
	if pb == nil {
		return []market.Trade{}, nil
	}

	pb.mu.RLock()
	defer pb.mu.RUnlock()
	if err := e.haltedErr(pb); err != nil {
		return nil, e.reject(err)
	}
	return pb.history.Recent(limit), nil
}

// GetOrder returns a resting order.
func (e *Engine) GetOrder(id string) (market.OrderView, error) {
	v, ok := e.index.Load(id)
	if !ok {
		return market.OrderView{}, market.ErrOrderNotFound
	}
	pb := v.(*pairBook)

	pb.mu.RLock()
	defer pb.mu.RUnlock()
	r, ok := pb.orders[id]
	if !ok {
		return market.OrderView{}, market.ErrOrderNotFound
	}
	return pb.view(r.order), nil
}

// ValidateBook runs the structural check of a pair's book. A failure
// halts the book.
func (e *Engine) ValidateBook(pair string) error {
	p, err := market.NormalizePair(pair)
	if err != nil {
		return err
	}
	pb := e.lookup(p)
	if pb == nil {
		return nil
	}

	pb.mu.Lock()
	defer pb.mu.Unlock()
	if err := e.haltedErr(pb); err != nil {
		return err
	}
	if err := pb.book.Validate(); err != nil {
		return e.onHalt(pb, pb.book.Halt(err))
	}
	return nil
}

// ---- helpers, callers hold pb.mu ----

func (pb *pairBook) view(o *orderbook.Order) market.OrderView {
	v := market.OrderView{
		ID:        o.ID,
		UserID:    o.UserID,
		Pair:      pb.pair,
		Side:      marketSide(o.Side),
		Type:      marketType(o.Type),
		Amount:    market.FromTicks(o.Qty, pb.scale.Size),
		Filled:    market.FromTicks(o.Filled, pb.scale.Size),
		Remaining: market.FromTicks(o.Remaining(), pb.scale.Size),
		Status:    marketStatus(o.Status),
		Seq:       o.Seq,
		CreatedAt: unixTime(o.Time),
	}
	if o.Type == orderbook.Limit {
		v.Price = market.FromTicks(o.Price, pb.scale.Price)
	}
	return v
}

func (pb *pairBook) depth(n int, at time.Time) market.Depth {
	d := market.Depth{
		Pair:      pb.pair,
		Bids:      make([]market.Level, 0, min(n, pb.book.Bids.Len())),
		Asks:      make([]market.Level, 0, min(n, pb.book.Asks.Len())),
		Seq:       pb.seq.Current(),
		Timestamp: at.UTC(),
	}
	collect := func(levels *[]market.Level) func(*orderbook.PriceLevel) bool {
		total := decimal.Zero
		return func(lvl *orderbook.PriceLevel) bool {
			size := market.FromTicks(lvl.TotalQty, pb.scale.Size)
			total = total.Add(size)
			*levels = append(*levels, market.Level{
				Price: market.FromTicks(lvl.Price, pb.scale.Price),
				Size:  size,
				Total: total,
			})
			return len(*levels) < n
		}
	}
	pb.book.BidsWalk(collect(&d.Bids))
	pb.book.AsksWalk(collect(&d.Asks))
	return d
}
