package service

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ixtrade/domain/market"
)

// randomFlow builds a reproducible mix of limit and market orders around
// a mid price, with client ids so both paths see the same orders.
func randomFlow(seed int64, n int) []market.OrderRequest {
	rng := rand.New(rand.NewSource(seed))
	out := make([]market.OrderRequest, 0, n)
	for i := 0; i < n; i++ {
		side := market.Buy
		if rng.Intn(2) == 0 {
			side = market.Sell
		}
		amount := fmt.Sprintf("%d.%02d", 1+rng.Intn(5), rng.Intn(100))
		id := fmt.Sprintf("o-%d", i)
		if rng.Intn(10) == 0 {
			out = append(out, marketOrder(id, side, amount))
			continue
		}
		out = append(out, limit(id, side, amount, fmt.Sprintf("%d.%02d", 95+rng.Intn(10), rng.Intn(4)*25)))
	}
	return out
}

func TestSubmitOrderFast_MatchesStandardPath(t *testing.T) {
	standardSink, fastSink := &recordingSink{}, &recordingSink{}
	standard := newEngine(t, WithTradeSink(standardSink))
	fast := newEngine(t, WithTradeSink(fastSink))

	flow := randomFlow(7, 2000)
	var out market.FastResult
	for i, req := range flow {
		res, err := standard.SubmitOrder(context.Background(), req)
		require.NoError(t, err)

		r := req
		require.NoError(t, fast.SubmitOrderFast(&r, &out))

		require.Equal(t, res.Order.ID, out.OrderID)
		require.Equal(t, res.Order.Status, out.Status, "order %d", i)
		require.Equal(t, res.Order.Seq, out.Seq)
		require.Equal(t, len(res.Trades), len(out.Trades), "order %d", i)
		for k := range res.Trades {
			assert.Equal(t, res.Trades[k], out.Trades[k])
		}

		if i%50 == 49 {
			victim := flow[i-10].ID
			_, errStd := standard.CancelOrder(context.Background(), victim)
			_, errFast := fast.CancelOrder(context.Background(), victim)
			assert.Equal(t, errStd == nil, errFast == nil)
		}
	}

	assert.Equal(t, standardSink.ids(), fastSink.ids())

	bookStd, err := standard.GetOrderbook(pair, 100)
	require.NoError(t, err)
	bookFast, err := fast.GetOrderbook(pair, 100)
	require.NoError(t, err)
	assert.Equal(t, bookStd, bookFast)

	statsStd, err := standard.GetMarketStats(pair)
	require.NoError(t, err)
	statsFast, err := fast.GetMarketStats(pair)
	require.NoError(t, err)
	assert.Equal(t, statsStd, statsFast)

	require.NoError(t, fast.ValidateBook(pair))
}

func TestSubmitOrderFast_ReusesResultAndPool(t *testing.T) {
	e := newEngine(t)
	var out market.FastResult

	for i := 0; i < 5; i++ {
		req := limit(fmt.Sprintf("s%d", i), market.Sell, "1", "100")
		require.NoError(t, e.SubmitOrderFast(&req, &out))
		assert.Equal(t, market.StatusOpen, out.Status)
		assert.Empty(t, out.Trades)
	}
	assert.Equal(t, int64(5), e.pool.Live())

	req := marketOrder("m1", market.Buy, "3")
	require.NoError(t, e.SubmitOrderFast(&req, &out))
	require.Len(t, out.Trades, 3)
	assert.Equal(t, market.StatusFilled, out.Status)
	assert.Equal(t, int64(30000), out.Filled)
	backing := &out.Trades[0]

	// three makers and the taker went back to the pool
	assert.Equal(t, int64(2), e.pool.Live())

	req = marketOrder("m2", market.Buy, "1")
	require.NoError(t, e.SubmitOrderFast(&req, &out))
	require.Len(t, out.Trades, 1)
	assert.Same(t, backing, &out.Trades[0])

	_, err := e.CancelOrder(context.Background(), "s4")
	require.NoError(t, err)
	assert.Equal(t, int64(0), e.pool.Live())

	req = marketOrder("m3", market.Buy, "1")
	require.NoError(t, e.SubmitOrderFast(&req, &out))
	assert.Empty(t, out.Trades)
	assert.Equal(t, market.StatusCanceled, out.Status)
}

func BenchmarkSubmitOrder_Standard(b *testing.B) {
	e := newEngine(b)
	flow := randomFlow(1, 4096)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := flow[i%len(flow)]
		req.ID = ""
		_, _ = e.SubmitOrder(context.Background(), req)
	}
}

func BenchmarkSubmitOrder_Fast(b *testing.B) {
	e := newEngine(b)
	flow := randomFlow(1, 4096)
	var out market.FastResult
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := flow[i%len(flow)]
		req.ID = ""
		_ = e.SubmitOrderFast(&req, &out)
	}
}

func BenchmarkSubmitOrder_FastParallel(b *testing.B) {
	e := newEngine(b)
	flow := randomFlow(1, 4096)
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		var out market.FastResult
		i := 0
		for pb.Next() {
			req := flow[i%len(flow)]
			req.ID = ""
			_ = e.SubmitOrderFast(&req, &out)
			i++
		}
	})
}
