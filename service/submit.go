package service

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ixtrade/domain/market"
	"ixtrade/domain/orderbook"
)

// SubmitOrder validates req, matches it against the pair's book and rests
// any limit remainder. Trades are handed to the trade sink after the pair
// lock is released; a failed hand-off returns the executed result together
// with an internal-class error.
func (e *Engine) SubmitOrder(ctx context.Context, req market.OrderRequest) (*market.SubmitResult, error) {
	start := time.Now()

	pb, n, err := e.prepare(&req)
	if err != nil {
		return nil, e.reject(err)
	}

	o := &orderbook.Order{}
	e.fillOrder(o, &req, n)

	var events []market.Event
	evp := e.eventSink(&events)

	pb.mu.Lock()
	trades, err := e.place(pb, o, false, nil, evp)
	if err != nil {
		pb.mu.Unlock()
		return nil, e.reject(err)
	}
	res := &market.SubmitResult{Order: pb.view(o), Trades: trades}
	e.publish(events)
	pb.mu.Unlock()

	e.metrics.OrdersTotal.WithLabelValues(pb.pair, string(n.Type), "standard").Inc()
	e.metrics.SubmitDuration.WithLabelValues("standard").Observe(time.Since(start).Seconds())

	if err := e.handoff(context.WithoutCancel(ctx), trades); err != nil {
		return res, err
	}
	return res, nil
}

// SubmitOrderFast is the allocation-light twin of SubmitOrder. The book
// order comes from a pool, out.Trades is truncated and reused, and no
// order view is built. Matching behaviour is identical.
func (e *Engine) SubmitOrderFast(req *market.OrderRequest, out *market.FastResult) error {
	out.Trades = out.Trades[:0]

	pb, n, err := e.prepare(req)
	if err != nil {
		return e.reject(err)
	}

	o := e.pool.Get()
	e.fillOrder(o, req, n)

	var events []market.Event
	evp := e.eventSink(&events)

	pb.mu.Lock()
	trades, err := e.place(pb, o, true, out.Trades, evp)
	out.Trades = trades
	if err != nil {
		pb.mu.Unlock()
		e.pool.Put(o)
		return e.reject(err)
	}
	out.OrderID = o.ID
	out.Status = marketStatus(o.Status)
	out.Filled = o.Filled
	out.Seq = o.Seq
	rests := o.Resting()
	e.publish(events)
	pb.mu.Unlock()

	if !rests {
		e.pool.Put(o)
	}
	e.metrics.OrdersTotal.WithLabelValues(pb.pair, string(n.Type), "fast").Inc()

	return e.handoff(context.Background(), out.Trades)
}

func (e *Engine) prepare(req *market.OrderRequest) (*pairBook, market.Normalized, error) {
	pair, err := market.NormalizePair(req.Pair)
	if err != nil {
		return nil, market.Normalized{}, err
	}
	n, err := req.Validate(e.scaleFor(pair))
	if err != nil {
		return nil, n, err
	}
	pb, err := e.pairFor(n.Pair)
	if err != nil {
		return nil, n, err
	}
	return pb, n, nil
}

func (e *Engine) fillOrder(o *orderbook.Order, req *market.OrderRequest, n market.Normalized) {
	o.ID = req.ID
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.UserID = req.UserID
	o.Side = bookSide(n.Side)
	o.Type = bookType(n.Type)
	o.Qty = n.Qty
	o.Price = n.Price
	o.Status = orderbook.Open
	if !req.Timestamp.IsZero() {
		o.Time = req.Timestamp.UnixNano()
	}
}

// place admits o into pb and executes it. Caller holds pb.mu.
func (e *Engine) place(pb *pairBook, o *orderbook.Order, pooled bool, trades []market.Trade, events *[]market.Event) ([]market.Trade, error) {
	if err := e.haltedErr(pb); err != nil {
		return trades, err
	}
	if _, dup := e.index.LoadOrStore(o.ID, pb); dup {
		return trades, market.Invalid("order id %s is already resting", o.ID)
	}

	arrived := e.now()
	if o.Time == 0 {
		o.Time = arrived.UnixNano()
	}
	o.Seq = pb.seq.Next()
	if pb.journal != nil {
		if err := pb.journal.submit(o, arrived.UnixNano(), pb.epoch); err != nil {
			e.index.Delete(o.ID)
			return trades, internal(errors.Wrapf(err, "journal order %s", o.ID))
		}
	}
	return e.execute(pb, o, pooled, arrived, trades, events)
}

// execute matches o and applies every consequence to pb: trades, stats,
// history, the resting-order index and pooled makers. Caller holds pb.mu
// and has registered o.ID in the index.
func (e *Engine) execute(pb *pairBook, o *orderbook.Order, pooled bool, at time.Time, trades []market.Trade, events *[]market.Event) ([]market.Trade, error) {
	fills, err := pb.book.Place(o, pb.fills[:0])
	pb.fills = fills
	if err != nil {
		e.index.Delete(o.ID)
		return trades, e.onHalt(pb, err)
	}

	first := len(trades)
	for i := range fills {
		f := &fills[i]
		t := pb.trade(o, f, at)
		pb.stats.Record(f.Price, f.Qty, at)
		pb.history.Add(t)
		trades = append(trades, t)

		if events != nil {
			maker := pb.view(f.Maker)
			tc := t
			*events = append(*events,
				market.Event{Kind: market.EventTrade, Pair: pb.pair, Seq: t.Seq, Time: at, Trade: &tc},
				market.Event{Kind: market.EventOrder, Pair: pb.pair, Seq: f.Maker.Seq, Time: at, Order: &maker},
			)
		}

		if f.MakerDone {
			r := pb.orders[f.MakerID]
			delete(pb.orders, f.MakerID)
			e.index.Delete(f.MakerID)
			if r.pooled && r.order == f.Maker {
				e.pool.Put(f.Maker)
			}
		}
		f.Maker = nil
	}
	if n := len(trades) - first; n > 0 {
		e.metrics.TradesTotal.WithLabelValues(pb.pair).Add(float64(n))
	}

	if o.Type == orderbook.Market && o.Remaining() > 0 {
		// unfilled market remainder is discarded
		o.Status = orderbook.Canceled
	}
	if o.Resting() {
		pb.orders[o.ID] = resting{order: o, pooled: pooled}
	} else {
		e.index.Delete(o.ID)
	}

	if events != nil {
		taker := pb.view(o)
		depth := pb.depth(e.cfg.EventDepth, at)
		*events = append(*events,
			market.Event{Kind: market.EventOrder, Pair: pb.pair, Seq: o.Seq, Time: at, Order: &taker},
			market.Event{Kind: market.EventOrderBook, Pair: pb.pair, Seq: o.Seq, Time: at, Depth: &depth},
		)
		if len(trades) > first {
			stats := pb.stats.Snapshot(pb.pair, at, pb.scale)
			*events = append(*events, market.Event{Kind: market.EventTicker, Pair: pb.pair, Seq: o.Seq, Time: at, Stats: &stats})
		}
	}
	return trades, nil
}

func (pb *pairBook) trade(taker *orderbook.Order, f *orderbook.Fill, at time.Time) market.Trade {
	seq := pb.tradeSeq.Next()
	t := market.Trade{
		ID:         market.TradeID(pb.pair, pb.epoch, seq),
		Pair:       pb.pair,
		Price:      market.FromTicks(f.Price, pb.scale.Price),
		Size:       market.FromTicks(f.Qty, pb.scale.Size),
		TakerSide:  marketSide(taker.Side),
		Seq:        seq,
		ExecutedAt: at.UTC(),
	}
	if taker.Side == orderbook.Bid {
		t.BuyOrderID, t.BuyUserID = taker.ID, taker.UserID
		t.SellOrderID, t.SellUserID = f.MakerID, f.MakerUserID
	} else {
		t.SellOrderID, t.SellUserID = taker.ID, taker.UserID
		t.BuyOrderID, t.BuyUserID = f.MakerID, f.MakerUserID
	}
	return t
}

// CancelOrder removes a resting order. Unknown, filled or already
// canceled ids return market.ErrOrderNotCancelable.
func (e *Engine) CancelOrder(ctx context.Context, id string) (market.OrderView, error) {
	v, ok := e.index.Load(id)
	if !ok {
		return market.OrderView{}, e.reject(market.ErrOrderNotCancelable)
	}
	pb := v.(*pairBook)

	var events []market.Event
	evp := e.eventSink(&events)

	pb.mu.Lock()
	view, err := e.cancel(pb, id, 0, e.now(), evp)
	if err != nil {
		pb.mu.Unlock()
		return market.OrderView{}, e.reject(err)
	}
	e.publish(events)
	pb.mu.Unlock()

	return view, nil
}

// cancel runs under pb.mu. Replay passes the journaled sequence; live
// calls pass 0 and get a fresh one.
func (e *Engine) cancel(pb *pairBook, id string, replaySeq uint64, at time.Time, events *[]market.Event) (market.OrderView, error) {
	if err := e.haltedErr(pb); err != nil {
		return market.OrderView{}, err
	}
	r, ok := pb.orders[id]
	if !ok {
		return market.OrderView{}, market.ErrOrderNotCancelable
	}

	seq := replaySeq
	if seq == 0 {
		seq = pb.seq.Next()
	}
	if replaySeq == 0 && pb.journal != nil {
		if err := pb.journal.cancel(seq, id, at.UnixNano()); err != nil {
			return market.OrderView{}, internal(errors.Wrapf(err, "journal cancel %s", id))
		}
	}
	if err := pb.book.Cancel(r.order); err != nil {
		if pb.book.Halted() != nil {
			return market.OrderView{}, e.onHalt(pb, err)
		}
		return market.OrderView{}, internal(errors.Wrapf(err, "cancel %s", id))
	}
	delete(pb.orders, id)
	e.index.Delete(id)

	view := pb.view(r.order)
	if events != nil {
		depth := pb.depth(e.cfg.EventDepth, at)
		*events = append(*events,
			market.Event{Kind: market.EventOrder, Pair: pb.pair, Seq: seq, Time: at, Order: &view},
			market.Event{Kind: market.EventOrderBook, Pair: pb.pair, Seq: seq, Time: at, Depth: &depth},
		)
	}
	if r.pooled {
		e.pool.Put(r.order)
	}
	return view, nil
}

// handoff passes trades to the sink outside any pair lock.
func (e *Engine) handoff(ctx context.Context, trades []market.Trade) error {
	if e.sink == nil || len(trades) == 0 {
		return nil
	}
	var errs error
	for i := range trades {
		if _, err := e.sink.EnqueueTrade(ctx, trades[i]); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "trade %s", trades[i].ID))
		}
	}
	if errs != nil {
		e.log.Warn("settlement hand-off failed", zap.Int("trades", len(trades)), zap.Error(errs))
		return e.reject(internal(errors.Wrap(errs, "settlement hand-off")))
	}
	return nil
}

func (e *Engine) eventSink(events *[]market.Event) *[]market.Event {
	if e.notify == nil {
		return nil
	}
	return events
}

// publish runs under pb.mu so a pair's events reach the notifier in
// sequence order.
func (e *Engine) publish(events []market.Event) {
	for _, ev := range events {
		e.notify.Notify(ev)
	}
}
