package harness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ixtrade/domain/market"
	"ixtrade/service"
)

func newEngine(t *testing.T) *service.Engine {
	t.Helper()
	e, err := service.NewEngine(service.EngineConfig{DefaultScale: market.Scale{Price: 2, Size: 4}})
	require.NoError(t, err)
	return e
}

func TestOrders_Deterministic(t *testing.T) {
	a := Orders(Config{Count: 50, Seed: 7})
	b := Orders(Config{Count: 50, Seed: 7})
	require.Len(t, a, 50)
	assert.Equal(t, a, b)
	for _, o := range a {
		assert.Equal(t, "BTC/USDT", o.Pair)
		if o.Type == market.Limit {
			assert.True(t, o.Price.IsPositive())
		}
	}
}

func TestRun_BothPathsAgree(t *testing.T) {
	cfg := Config{Count: 2000, Seed: 42}

	std, err := Run(context.Background(), newEngine(t), cfg, nil)
	require.NoError(t, err)

	cfg.Fast = true
	fast, err := Run(context.Background(), newEngine(t), cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(2000), std.Submitted)
	assert.Zero(t, std.Failed, std.FirstError)
	assert.Positive(t, std.Trades)
	assert.Equal(t, std.Trades, fast.Trades)
	assert.Equal(t, std.Succeeded, fast.Succeeded)
	assert.Equal(t, "fast", fast.Path)

	assert.LessOrEqual(t, std.P50, std.P95)
	assert.LessOrEqual(t, std.P95, std.P99)
	assert.Positive(t, std.Throughput)
	assert.NotEmpty(t, std.String())
}

func TestRun_Concurrent(t *testing.T) {
	e := newEngine(t)
	rep, err := Run(context.Background(), e, Config{Count: 4000, Concurrency: 8, Seed: 1, Fast: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), rep.Submitted)
	assert.Zero(t, rep.Failed, rep.FirstError)

	require.NoError(t, e.ValidateBook("BTC/USDT"))
}

func TestRun_CountsRejections(t *testing.T) {
	rep, err := Run(context.Background(), newEngine(t), Config{Count: 10, Pair: "not a pair"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10), rep.Failed)
	assert.NotEmpty(t, rep.FirstError)
}

func TestRun_Paced(t *testing.T) {
	start := time.Now()
	rep, err := Run(context.Background(), newEngine(t), Config{Count: 20, Rate: 200}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(20), rep.Succeeded)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, newEngine(t), Config{Count: 10}, nil)
	require.Error(t, err)
}
