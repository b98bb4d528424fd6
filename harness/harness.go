// Package harness drives an Engine with generated order flow and reports
// outcome counts and latency percentiles. It backs `server bench` and is a
// test tool, not a production interface.
package harness

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"ixtrade/domain/market"
	"ixtrade/infra/metrics"
)

// Engine is what the harness submits to; service.Engine implements it.
type Engine interface {
	SubmitOrder(ctx context.Context, req market.OrderRequest) (*market.SubmitResult, error)
	SubmitOrderFast(req *market.OrderRequest, out *market.FastResult) error
}

type Config struct {
	Count       int
	Pair        string
	Concurrency int
	// Rate caps submissions per second; 0 means unpaced.
	Rate float64
	Fast bool
	Seed int64
	// MidPrice and Spread shape the generated limit prices.
	MidPrice int64
	Spread   int64
}

func (c *Config) setDefaults() {
	if c.Count <= 0 {
		c.Count = 10000
	}
	if c.Pair == "" {
		c.Pair = "BTC/USDT"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.MidPrice <= 0 {
		c.MidPrice = 30000
	}
	if c.Spread <= 0 {
		c.Spread = 20
	}
}

type Report struct {
	Pair       string        `json:"pair"`
	Path       string        `json:"path"`
	Submitted  int64         `json:"submitted"`
	Succeeded  int64         `json:"succeeded"`
	Failed     int64         `json:"failed"`
	Trades     int64         `json:"trades"`
	Elapsed    time.Duration `json:"elapsed"`
	Throughput float64       `json:"throughput_per_sec"`
	P50        time.Duration `json:"p50"`
	P95        time.Duration `json:"p95"`
	P99        time.Duration `json:"p99"`
	// FirstError is kept so a failing run says why.
	FirstError string `json:"first_error,omitempty"`
}

func (r Report) String() string {
	return fmt.Sprintf("%s %s: %d ok / %d failed, %d trades in %s (%.0f/s) p50=%s p95=%s p99=%s",
		r.Pair, r.Path, r.Succeeded, r.Failed, r.Trades, r.Elapsed.Round(time.Millisecond),
		r.Throughput, r.P50, r.P95, r.P99)
}

// Orders generates a deterministic mix of limit orders around the mid
// price and occasional market orders.
func Orders(cfg Config) []market.OrderRequest {
	cfg.setDefaults()
	rng := rand.New(rand.NewSource(cfg.Seed))
	out := make([]market.OrderRequest, cfg.Count)
	for i := range out {
		side := market.Buy
		if rng.Intn(2) == 1 {
			side = market.Sell
		}
		req := market.OrderRequest{
			ID:     fmt.Sprintf("h-%d-%d", cfg.Seed, i),
			UserID: fmt.Sprintf("user-%d", rng.Intn(64)),
			Pair:   cfg.Pair,
			Side:   side,
			Type:   market.Limit,
			Amount: decimal.New(int64(1+rng.Intn(100)), -2),
		}
		if rng.Intn(10) == 0 {
			req.Type = market.Market
		} else {
			offset := rng.Int63n(2*cfg.Spread+1) - cfg.Spread
			req.Price = decimal.NewFromInt(cfg.MidPrice + offset)
		}
		out[i] = req
	}
	return out
}

// Run submits cfg.Count generated orders and waits for all of them. Only
// ctx ending makes it return an error; order rejections are counted.
func Run(ctx context.Context, e Engine, cfg Config, log *zap.Logger) (Report, error) {
	cfg.setDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	orders := Orders(cfg)

	var limiter *rate.Limiter
	if cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), max(1, cfg.Concurrency))
	}

	path := "standard"
	if cfg.Fast {
		path = "fast"
	}
	rep := Report{Pair: cfg.Pair, Path: path}

	var (
		next      atomic.Int64
		succeeded atomic.Int64
		failed    atomic.Int64
		trades    atomic.Int64
		firstErr  sync.Once
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, len(orders))
	)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Concurrency; w++ {
		g.Go(func() error {
			local := make([]time.Duration, 0, len(orders)/cfg.Concurrency+1)
			defer func() {
				mu.Lock()
				latencies = append(latencies, local...)
				mu.Unlock()
			}()

			var out market.FastResult
			for {
				i := int(next.Add(1) - 1)
				if i >= len(orders) {
					return nil
				}
				if limiter != nil {
					if err := limiter.Wait(gctx); err != nil {
						return err
					}
				} else if err := gctx.Err(); err != nil {
					return err
				}

				t0 := time.Now()
				var (
					n   int
					err error
				)
				if cfg.Fast {
					err = e.SubmitOrderFast(&orders[i], &out)
					n = len(out.Trades)
				} else {
					var res *market.SubmitResult
					res, err = e.SubmitOrder(gctx, orders[i])
					if res != nil {
						n = len(res.Trades)
					}
				}
				local = append(local, time.Since(t0))
				trades.Add(int64(n))

				if err != nil {
					failed.Add(1)
					firstErr.Do(func() { rep.FirstError = err.Error() })
					continue
				}
				succeeded.Add(1)
			}
		})
	}
	err := g.Wait()
	rep.Elapsed = time.Since(start)

	rep.Succeeded = succeeded.Load()
	rep.Failed = failed.Load()
	rep.Submitted = rep.Succeeded + rep.Failed
	rep.Trades = trades.Load()
	if rep.Elapsed > 0 {
		rep.Throughput = float64(rep.Submitted) / rep.Elapsed.Seconds()
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	rep.P50 = metrics.Percentile(latencies, 0.50)
	rep.P95 = metrics.Percentile(latencies, 0.95)
	rep.P99 = metrics.Percentile(latencies, 0.99)

	log.Info("harness finished",
		zap.String("pair", rep.Pair),
		zap.String("path", rep.Path),
		zap.Int64("succeeded", rep.Succeeded),
		zap.Int64("failed", rep.Failed),
		zap.Int64("trades", rep.Trades),
		zap.Duration("p99", rep.P99),
	)
	if err != nil {
		return rep, errors.Wrap(err, "harness interrupted")
	}
	return rep, nil
}
