package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ixtrade/domain/market"
	"ixtrade/domain/settlement"
)

const pair = "BTC/USDT"

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const testEpoch = "test-epoch"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newEngine(t testing.TB, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	e, err := NewEngine(EngineConfig{
		DefaultScale: market.Scale{Price: 2, Size: 4},
		MaxDepth:     100,
		Epoch:        testEpoch,
	}, opts...)
	require.NoError(t, err)
	return e
}

func limit(id string, side market.Side, amount, price string) market.OrderRequest {
	return market.OrderRequest{
		ID: id, UserID: "u-" + id, Pair: pair, Side: side, Type: market.Limit,
		Amount: d(amount), Price: d(price),
	}
}

func marketOrder(id string, side market.Side, amount string) market.OrderRequest {
	return market.OrderRequest{
		ID: id, UserID: "u-" + id, Pair: pair, Side: side, Type: market.Market, Amount: d(amount),
	}
}

func submit(t *testing.T, e *Engine, req market.OrderRequest) *market.SubmitResult {
	t.Helper()
	res, err := e.SubmitOrder(context.Background(), req)
	require.NoError(t, err)
	return res
}

type recordingSink struct {
	mu     sync.Mutex
	trades []market.Trade
	err    error
}

func (s *recordingSink) EnqueueTrade(_ context.Context, t market.Trade) (settlement.JobView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return settlement.JobView{}, s.err
	}
	s.trades = append(s.trades, t)
	return settlement.JobView{ID: t.ID, State: settlement.Pending}, nil
}

func (s *recordingSink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.trades))
	for _, t := range s.trades {
		out = append(out, t.ID)
	}
	return out
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []market.Event
}

func (n *recordingNotifier) Notify(ev market.Event) {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
}

func (n *recordingNotifier) kinds() []market.EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]market.EventKind, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestSubmitOrder_LimitThenMarketSell(t *testing.T) {
	e := newEngine(t)

	res := submit(t, e, limit("b1", market.Buy, "10", "100"))
	assert.Equal(t, market.StatusOpen, res.Order.Status)
	assert.Empty(t, res.Trades)

	book, err := e.GetOrderbook(pair, 0)
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	assert.True(t, book.Bids[0].Price.Equal(d("100")))
	assert.True(t, book.Bids[0].Size.Equal(d("10")))

	res = submit(t, e, marketOrder("s1", market.Sell, "4"))
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.True(t, tr.Price.Equal(d("100")))
	assert.True(t, tr.Size.Equal(d("4")))
	assert.Equal(t, "b1", tr.BuyOrderID)
	assert.Equal(t, "s1", tr.SellOrderID)
	assert.Equal(t, market.Sell, tr.TakerSide)
	assert.Equal(t, market.StatusFilled, res.Order.Status)

	book, err = e.GetOrderbook(pair, 0)
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	assert.True(t, book.Bids[0].Size.Equal(d("6")))

	trades, err := e.GetRecentTrades(pair, 0)
	require.NoError(t, err)
	assert.Len(t, trades, 1)

	view, err := e.GetOrder("b1")
	require.NoError(t, err)
	assert.Equal(t, market.StatusPartiallyFilled, view.Status)
	assert.True(t, view.Remaining.Equal(d("6")))
}

func TestSubmitOrder_MarketRemainderDiscarded(t *testing.T) {
	e := newEngine(t)
	submit(t, e, limit("a1", market.Sell, "5", "101"))

	res := submit(t, e, marketOrder("m1", market.Buy, "8"))
	require.Len(t, res.Trades, 1)
	assert.True(t, res.Trades[0].Price.Equal(d("101")))
	assert.True(t, res.Trades[0].Size.Equal(d("5")))

	assert.Equal(t, market.StatusCanceled, res.Order.Status)
	assert.True(t, res.Order.Filled.Equal(d("5")))

	book, err := e.GetOrderbook(pair, 0)
	require.NoError(t, err)
	assert.Empty(t, book.Asks)
	assert.Empty(t, book.Bids)

	_, err = e.GetOrder("m1")
	assert.True(t, errors.Is(err, market.ErrNotFound))
}

func TestSubmitOrder_MarketIntoEmptyBook(t *testing.T) {
	e := newEngine(t)
	res := submit(t, e, marketOrder("m1", market.Sell, "1"))
	assert.Empty(t, res.Trades)
	assert.Equal(t, market.StatusCanceled, res.Order.Status)
	assert.True(t, res.Order.Filled.IsZero())
}

func TestSubmitOrder_FIFOWithinLevel(t *testing.T) {
	e := newEngine(t)
	submit(t, e, limit("s1", market.Sell, "2", "100"))
	submit(t, e, limit("s2", market.Sell, "2", "100"))
	submit(t, e, limit("s3", market.Sell, "2", "100"))

	res := submit(t, e, limit("b1", market.Buy, "5", "100"))
	require.Len(t, res.Trades, 3)
	assert.Equal(t, "s1", res.Trades[0].SellOrderID)
	assert.Equal(t, "s2", res.Trades[1].SellOrderID)
	assert.Equal(t, "s3", res.Trades[2].SellOrderID)
	assert.True(t, res.Trades[2].Size.Equal(d("1")))
	assert.Equal(t, market.StatusFilled, res.Order.Status)

	left, err := e.GetOrder("s3")
	require.NoError(t, err)
	assert.True(t, left.Remaining.Equal(d("1")))

	for i := 1; i < len(res.Trades); i++ {
		assert.Greater(t, res.Trades[i].Seq, res.Trades[i-1].Seq)
	}
}

func TestSubmitOrder_TradeAtRestingPrice(t *testing.T) {
	e := newEngine(t)
	submit(t, e, limit("s1", market.Sell, "1", "100"))
	submit(t, e, limit("s2", market.Sell, "1", "102"))

	res := submit(t, e, limit("b1", market.Buy, "3", "105"))
	require.Len(t, res.Trades, 2)
	assert.True(t, res.Trades[0].Price.Equal(d("100")))
	assert.True(t, res.Trades[1].Price.Equal(d("102")))

	// remainder rests at its own limit
	book, err := e.GetOrderbook(pair, 0)
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	assert.True(t, book.Bids[0].Price.Equal(d("105")))
	assert.True(t, book.Bids[0].Size.Equal(d("1")))

	// a non-crossing order rests without trading
	res = submit(t, e, limit("s3", market.Sell, "1", "106"))
	assert.Empty(t, res.Trades)
}

func TestSubmitOrder_Validation(t *testing.T) {
	e := newEngine(t)

	cases := map[string]market.OrderRequest{
		"bad pair":        {Pair: "BTCUSDT", Side: market.Buy, Type: market.Limit, Amount: d("1"), Price: d("1")},
		"bad side":        {Pair: pair, Side: "hold", Type: market.Limit, Amount: d("1"), Price: d("1")},
		"bad type":        {Pair: pair, Side: market.Buy, Type: "stop", Amount: d("1"), Price: d("1")},
		"zero amount":     {Pair: pair, Side: market.Buy, Type: market.Limit, Amount: d("0"), Price: d("1")},
		"negative amount": {Pair: pair, Side: market.Buy, Type: market.Market, Amount: d("-1")},
		"limit no price":  {Pair: pair, Side: market.Buy, Type: market.Limit, Amount: d("1")},
		"price precision": {Pair: pair, Side: market.Buy, Type: market.Limit, Amount: d("1"), Price: d("1.001")},
		"size precision":  {Pair: pair, Side: market.Sell, Type: market.Market, Amount: d("0.00001")},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.SubmitOrder(context.Background(), req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, market.ErrValidation), err.Error())

			var out market.FastResult
			err = e.SubmitOrderFast(&req, &out)
			assert.True(t, errors.Is(err, market.ErrValidation))
		})
	}

	book, err := e.GetOrderbook(pair, 0)
	require.NoError(t, err)
	assert.Empty(t, book.Bids)
	assert.Empty(t, book.Asks)
}

func TestSubmitOrder_PairNormalization(t *testing.T) {
	e := newEngine(t)
	req := limit("b1", market.Buy, "1", "100")
	req.Pair = "btc-usdt"
	res := submit(t, e, req)
	assert.Equal(t, pair, res.Order.Pair)
	assert.Equal(t, []string{pair}, e.Pairs())
}

func TestSubmitOrder_DuplicateRestingID(t *testing.T) {
	e := newEngine(t)
	submit(t, e, limit("b1", market.Buy, "1", "100"))

	_, err := e.SubmitOrder(context.Background(), limit("b1", market.Buy, "1", "99"))
	assert.True(t, errors.Is(err, market.ErrValidation))

	// once the order is gone its id may be reused
	_, err = e.CancelOrder(context.Background(), "b1")
	require.NoError(t, err)
	submit(t, e, limit("b1", market.Buy, "1", "99"))
}

func TestSubmitOrder_GeneratesIDAndTimestamp(t *testing.T) {
	e := newEngine(t)
	req := limit("", market.Buy, "1", "100")
	res := submit(t, e, req)
	assert.NotEmpty(t, res.Order.ID)
	assert.Equal(t, testNow, res.Order.CreatedAt)

	req = limit("x", market.Buy, "1", "100")
	req.Timestamp = testNow.Add(-time.Minute)
	res = submit(t, e, req)
	assert.Equal(t, testNow.Add(-time.Minute), res.Order.CreatedAt)
}

func TestCancelOrder(t *testing.T) {
	e := newEngine(t)
	submit(t, e, limit("b1", market.Buy, "3", "100"))
	submit(t, e, limit("b2", market.Buy, "1", "100"))

	view, err := e.CancelOrder(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, market.StatusCanceled, view.Status)
	assert.True(t, view.Remaining.Equal(d("3")))

	book, err := e.GetOrderbook(pair, 0)
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	assert.True(t, book.Bids[0].Size.Equal(d("1")))

	_, err = e.CancelOrder(context.Background(), "b1")
	assert.True(t, errors.Is(err, market.ErrOrderNotCancelable))
	assert.True(t, errors.Is(err, market.ErrNotFound))

	_, err = e.CancelOrder(context.Background(), "nope")
	assert.True(t, errors.Is(err, market.ErrNotFound))

	// filled orders cannot be canceled either
	submit(t, e, marketOrder("s1", market.Sell, "1"))
	_, err = e.CancelOrder(context.Background(), "b2")
	assert.True(t, errors.Is(err, market.ErrNotFound))

	book, err = e.GetOrderbook(pair, 0)
	require.NoError(t, err)
	assert.Empty(t, book.Bids)
}

func TestGetOrderbook_DepthAndTotals(t *testing.T) {
	e := newEngine(t)
	for i := 0; i < 30; i++ {
		submit(t, e, limit(fmt.Sprintf("b%d", i), market.Buy, "1", fmt.Sprint(100-i)))
		submit(t, e, limit(fmt.Sprintf("s%d", i), market.Sell, "2", fmt.Sprint(200+i)))
	}

	book, err := e.GetOrderbook(pair, 0)
	require.NoError(t, err)
	assert.Len(t, book.Bids, DefaultDepth)
	assert.Len(t, book.Asks, DefaultDepth)
	assert.True(t, book.Bids[0].Price.Equal(d("100")))
	assert.True(t, book.Bids[1].Price.Equal(d("99")))
	assert.True(t, book.Asks[0].Price.Equal(d("200")))
	assert.True(t, book.Asks[2].Total.Equal(d("6")))

	book, err = e.GetOrderbook(pair, 3)
	require.NoError(t, err)
	assert.Len(t, book.Bids, 3)

	_, err = e.GetOrderbook(pair, 101)
	assert.True(t, errors.Is(err, market.ErrValidation))

	empty, err := e.GetOrderbook("ETH/USDT", 5)
	require.NoError(t, err)
	assert.Empty(t, empty.Bids)
	assert.Equal(t, "ETH/USDT", empty.Pair)

	_, err = e.GetOrderbook("??", 5)
	assert.True(t, errors.Is(err, market.ErrValidation))
}

func TestGetRecentTrades_Limits(t *testing.T) {
	e := newEngine(t)
	for i := 0; i < 60; i++ {
		submit(t, e, limit(fmt.Sprintf("s%d", i), market.Sell, "1", "100"))
		submit(t, e, marketOrder(fmt.Sprintf("m%d", i), market.Buy, "1"))
	}

	trades, err := e.GetRecentTrades(pair, 0)
	require.NoError(t, err)
	assert.Len(t, trades, DefaultTradeLimit)
	assert.Equal(t, "m59", trades[0].BuyOrderID)
	assert.Greater(t, trades[0].Seq, trades[1].Seq)

	trades, err = e.GetRecentTrades(pair, 5)
	require.NoError(t, err)
	assert.Len(t, trades, 5)

	trades, err = e.GetRecentTrades(pair, market.MaxRecentTrades)
	require.NoError(t, err)
	assert.Len(t, trades, 60)

	_, err = e.GetRecentTrades(pair, market.MaxRecentTrades+1)
	assert.True(t, errors.Is(err, market.ErrValidation))

	none, err := e.GetRecentTrades("ETH/USDT", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetMarketStats(t *testing.T) {
	e := newEngine(t)

	s, err := e.GetMarketStats(pair)
	require.NoError(t, err)
	assert.False(t, s.HasData)

	submit(t, e, limit("s1", market.Sell, "1", "100"))
	submit(t, e, limit("s2", market.Sell, "2", "104"))
	submit(t, e, marketOrder("m1", market.Buy, "3"))

	s, err = e.GetMarketStats(pair)
	require.NoError(t, err)
	assert.True(t, s.HasData)
	assert.True(t, s.LastPrice.Equal(d("104")))
	assert.True(t, s.High24h.Equal(d("104")))
	assert.True(t, s.Low24h.Equal(d("100")))
	assert.True(t, s.Volume24h.Equal(d("3")))
	assert.Equal(t, int64(2), s.TradeCount24h)
}

func TestEngine_HaltsOnCorruption(t *testing.T) {
	e := newEngine(t)
	submit(t, e, limit("b1", market.Buy, "2", "100"))

	pb := e.lookup(pair)
	pb.mu.Lock()
	pb.book.Bids.Max().TotalQty = 0
	pb.mu.Unlock()

	_, err := e.SubmitOrder(context.Background(), marketOrder("s1", market.Sell, "1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, market.ErrInternal))

	_, err = e.GetOrderbook(pair, 0)
	assert.True(t, errors.Is(err, market.ErrInternal))
	_, err = e.GetRecentTrades(pair, 0)
	assert.True(t, errors.Is(err, market.ErrInternal))
	_, err = e.CancelOrder(context.Background(), "b1")
	assert.True(t, errors.Is(err, market.ErrInternal))

	// other pairs keep trading
	req := limit("e1", market.Buy, "1", "10")
	req.Pair = "ETH/USDT"
	_, err = e.SubmitOrder(context.Background(), req)
	require.NoError(t, err)
}

func TestEngine_ValidateBookHalts(t *testing.T) {
	e := newEngine(t)
	submit(t, e, limit("b1", market.Buy, "2", "100"))
	require.NoError(t, e.ValidateBook(pair))

	pb := e.lookup(pair)
	pb.mu.Lock()
	pb.book.Bids.Max().TotalQty = 7
	pb.mu.Unlock()

	err := e.ValidateBook(pair)
	assert.True(t, errors.Is(err, market.ErrInternal))
	_, err = e.GetMarketStats(pair)
	assert.True(t, errors.Is(err, market.ErrInternal))
}

func TestEngine_HandsTradesToSink(t *testing.T) {
	sink := &recordingSink{}
	e := newEngine(t, WithTradeSink(sink))

	submit(t, e, limit("s1", market.Sell, "1", "100"))
	res := submit(t, e, limit("b1", market.Buy, "1", "100"))
	require.Len(t, res.Trades, 1)
	assert.Equal(t, []string{res.Trades[0].ID}, sink.ids())
	assert.Equal(t, market.TradeID(pair, testEpoch, 1), res.Trades[0].ID)
}

func TestEngine_HandoffFailureKeepsResult(t *testing.T) {
	sink := &recordingSink{err: settlement.ErrUnavailable}
	e := newEngine(t, WithTradeSink(sink))

	submit(t, e, limit("s1", market.Sell, "1", "100"))
	res, err := e.SubmitOrder(context.Background(), limit("b1", market.Buy, "1", "100"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, market.ErrInternal))
	require.NotNil(t, res)
	assert.Len(t, res.Trades, 1)
	assert.Equal(t, market.StatusFilled, res.Order.Status)
}

func TestEngine_EmitsEvents(t *testing.T) {
	n := &recordingNotifier{}
	e := newEngine(t, WithNotifier(n))

	submit(t, e, limit("s1", market.Sell, "1", "100"))
	assert.Equal(t, []market.EventKind{market.EventOrder, market.EventOrderBook}, n.kinds())

	n.events = nil
	submit(t, e, limit("b1", market.Buy, "1", "100"))
	assert.Equal(t, []market.EventKind{
		market.EventTrade, market.EventOrder,
		market.EventOrder, market.EventOrderBook, market.EventTicker,
	}, n.kinds())
	assert.Equal(t, market.StatusFilled, n.events[1].Order.Status)
	assert.Equal(t, "s1", n.events[1].Order.ID)

	n.events = nil
	submit(t, e, limit("b2", market.Buy, "1", "99"))
	_, err := e.CancelOrder(context.Background(), "b2")
	require.NoError(t, err)
	assert.Equal(t, market.EventOrderBook, n.events[len(n.events)-1].Kind)
	assert.Equal(t, market.StatusCanceled, n.events[len(n.events)-2].Order.Status)
}

func TestEngine_EventsFollowPairSequence(t *testing.T) {
	n := &recordingNotifier{}
	e := newEngine(t, WithNotifier(n))

	const workers, perWorker = 8, 100
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			var out market.FastResult
			for i := 0; i < perWorker; i++ {
				side := market.Buy
				if (w+i)%2 == 0 {
					side = market.Sell
				}
				req := limit(fmt.Sprintf("ev%d-%d", w, i), side, "1", fmt.Sprint(97+(i%6)))
				if w%2 == 0 {
					_, err := e.SubmitOrder(context.Background(), req)
					assert.NoError(t, err)
				} else {
					assert.NoError(t, e.SubmitOrderFast(&req, &out))
				}
				if i%4 == 3 {
					_, _ = e.CancelOrder(context.Background(), fmt.Sprintf("ev%d-%d", w, i-1))
				}
			}
		}(w)
	}
	wg.Wait()

	n.mu.Lock()
	defer n.mu.Unlock()
	var last uint64
	var books int
	for _, ev := range n.events {
		if ev.Kind != market.EventOrderBook {
			continue
		}
		books++
		require.Greater(t, ev.Seq, last, "book event %d out of order", books)
		last = ev.Seq
	}
	assert.GreaterOrEqual(t, books, workers*perWorker)
}

func TestEngine_ConcurrentSubmitsKeepInvariants(t *testing.T) {
	sink := &recordingSink{}
	e := newEngine(t, WithTradeSink(sink))

	const workers, perWorker = 8, 200
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				side := market.Buy
				if (w+i)%2 == 0 {
					side = market.Sell
				}
				req := limit(fmt.Sprintf("w%d-%d", w, i), side, "1", fmt.Sprint(95+(i%10)))
				if i%7 == 0 {
					req.Type = market.Market
				}
				_, err := e.SubmitOrder(context.Background(), req)
				assert.NoError(t, err)
				if i%5 == 0 {
					_, _ = e.CancelOrder(context.Background(), fmt.Sprintf("w%d-%d", w, i-1))
				}
				_, _ = e.GetOrderbook(pair, 10)
			}
		}(w)
	}
	wg.Wait()

	require.NoError(t, e.ValidateBook(pair))

	filled := map[string]decimal.Decimal{}
	for _, tr := range sink.trades {
		filled[tr.BuyOrderID] = filled[tr.BuyOrderID].Add(tr.Size)
		filled[tr.SellOrderID] = filled[tr.SellOrderID].Add(tr.Size)
	}
	for id, f := range filled {
		assert.True(t, f.LessThanOrEqual(d("1")), "order %s over-filled: %s", id, f)
	}

	book, err := e.GetOrderbook(pair, 100)
	require.NoError(t, err)
	if len(book.Bids) > 0 && len(book.Asks) > 0 {
		assert.True(t, book.Bids[0].Price.LessThan(book.Asks[0].Price))
	}
}

func TestNewEngine_RejectsBadScaleKeys(t *testing.T) {
	_, err := NewEngine(EngineConfig{Scales: map[string]market.Scale{"nope": {}}})
	require.Error(t, err)

	e, err := NewEngine(EngineConfig{
		DefaultScale: market.Scale{Price: 2, Size: 2},
		Scales:       map[string]market.Scale{"eth_usdt": {Price: 4, Size: 6}},
	})
	require.NoError(t, err)
	assert.Equal(t, market.Scale{Price: 4, Size: 6}, e.scaleFor("ETH/USDT"))
	assert.Equal(t, market.Scale{Price: 2, Size: 2}, e.scaleFor(pair))
}
