// Package redisstore mirrors market state into the shared Redis keyspace
// and fans events out over pub/sub. The engine stays the source of truth;
// the mirror is rebuilt from events and may lag.
package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"ixtrade/domain/market"
)

// terminal orders linger this long before Redis expires them
const orderTTL = 24 * time.Hour

type Mirror struct {
	client redis.UniversalClient
	keys   Keys
}

func New(client redis.UniversalClient, prefix string) *Mirror {
	if prefix == "" {
		prefix = "ixtrade"
	}
	return &Mirror{client: client, keys: Keys{Prefix: prefix}}
}

// Dial connects to addr and checks the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "redis ping %s", addr)
	}
	return client, nil
}

func (m *Mirror) Keys() Keys   { return m.keys }
func (m *Mirror) Name() string { return "redis" }

// Publish applies a batch of events in one pipeline.
func (m *Mirror) Publish(ctx context.Context, events []market.Event) error {
	if len(events) == 0 {
		return nil
	}
	_, err := m.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i := range events {
			if err := m.apply(ctx, pipe, &events[i]); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

func (m *Mirror) apply(ctx context.Context, pipe redis.Pipeliner, ev *market.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	switch ev.Kind {
	case market.EventOrderBook:
		if ev.Depth == nil {
			return nil
		}
		m.writeSide(ctx, pipe, m.keys.Bids(ev.Pair), ev.Depth.Bids)
		m.writeSide(ctx, pipe, m.keys.Asks(ev.Pair), ev.Depth.Asks)
		pipe.Publish(ctx, m.keys.OrderBookChannel(ev.Pair), payload)

	case market.EventTrade:
		if ev.Trade == nil {
			return nil
		}
		trade, err := json.Marshal(ev.Trade)
		if err != nil {
			return err
		}
		key := m.keys.Trades(ev.Pair)
		pipe.LPush(ctx, key, trade)
		pipe.LTrim(ctx, key, 0, MaxTrades-1)
		pipe.Publish(ctx, m.keys.TradesChannel(ev.Pair), payload)

	case market.EventOrder:
		if ev.Order == nil {
			return nil
		}
		o := ev.Order
		key := m.keys.Order(o.ID)
		pipe.HSet(ctx, key,
			"id", o.ID,
			"user_id", o.UserID,
			"pair", o.Pair,
			"side", string(o.Side),
			"type", string(o.Type),
			"amount", o.Amount.String(),
			"price", o.Price.String(),
			"filled", o.Filled.String(),
			"remaining", o.Remaining.String(),
			"status", string(o.Status),
			"seq", o.Seq,
			"created_at", o.CreatedAt.UnixMilli(),
		)
		if o.Status == market.StatusFilled || o.Status == market.StatusCanceled {
			pipe.Expire(ctx, key, orderTTL)
		}
		pipe.Publish(ctx, m.keys.OrdersChannel(ev.Pair), payload)

	case market.EventTicker:
		if ev.Stats == nil {
			return nil
		}
		s := ev.Stats
		pipe.HSet(ctx, m.keys.Ticker(ev.Pair),
			"last_price", s.LastPrice.String(),
			"high_24h", s.High24h.String(),
			"low_24h", s.Low24h.String(),
			"volume_24h", s.Volume24h.String(),
			"trade_count_24h", s.TradeCount24h,
			"updated_at", s.UpdatedAt.UnixMilli(),
		)
		pipe.Publish(ctx, m.keys.TickerChannel(ev.Pair), payload)

	default:
		return errors.Newf("redis mirror: unknown event kind %q", ev.Kind)
	}
	return nil
}

// writeSide replaces a side hash with the given levels (price -> size).
func (m *Mirror) writeSide(ctx context.Context, pipe redis.Pipeliner, key string, levels []market.Level) {
	pipe.Del(ctx, key)
	if len(levels) == 0 {
		return
	}
	fields := make([]any, 0, 2*len(levels))
	for _, l := range levels {
		fields = append(fields, l.Price.String(), l.Size.String())
	}
	pipe.HSet(ctx, key, fields...)
}

// RecentTrades reads back the mirrored trade list, newest first.
func (m *Mirror) RecentTrades(ctx context.Context, pair string, limit int) ([]market.Trade, error) {
	if limit <= 0 || limit > MaxTrades {
		limit = MaxTrades
	}
	raw, err := m.client.LRange(ctx, m.keys.Trades(pair), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]market.Trade, 0, len(raw))
	for _, r := range raw {
		var t market.Trade
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			return nil, errors.Wrap(err, "decode mirrored trade")
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *Mirror) Close() error {
	return m.client.Close()
}
