// Package chain submits settled trades to the external settlement gateway.
// The gateway is opaque: a successful call returns a receipt string.
package chain

import (
	"context"
	"fmt"

	"ixtrade/domain/market"
)

// Settler performs one settlement attempt. It must be safe for concurrent
// use and should honour ctx cancellation.
type Settler interface {
	Settle(ctx context.Context, t market.Trade) (string, error)
}

// SettlerFunc adapts a function to Settler.
type SettlerFunc func(ctx context.Context, t market.Trade) (string, error)

func (f SettlerFunc) Settle(ctx context.Context, t market.Trade) (string, error) {
	return f(ctx, t)
}

// DryRun accepts every trade without leaving the process.
type DryRun struct{}

func (DryRun) Settle(ctx context.Context, t market.Trade) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("dry-run:%s", t.ID), nil
}
