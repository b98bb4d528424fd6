package service

import (
	"time"

	"github.com/cockroachdb/errors"

	"ixtrade/domain/market"
	"ixtrade/domain/orderbook"
)

func bookSide(s market.Side) orderbook.Side {
	if s == market.Buy {
		return orderbook.Bid
	}
	return orderbook.Ask
}

func marketSide(s orderbook.Side) market.Side {
	if s == orderbook.Bid {
		return market.Buy
	}
	return market.Sell
}

func bookType(t market.OrderType) orderbook.OrderType {
	if t == market.Market {
		return orderbook.Market
	}
	return orderbook.Limit
}

func marketType(t orderbook.OrderType) market.OrderType {
	if t == orderbook.Market {
		return market.Market
	}
	return market.Limit
}

func marketStatus(s orderbook.Status) market.OrderStatus {
	switch s {
	case orderbook.PartiallyFilled:
		return market.StatusPartiallyFilled
	case orderbook.Filled:
		return market.StatusFilled
	case orderbook.Canceled:
		return market.StatusCanceled
	default:
		return market.StatusOpen
	}
}

func internal(err error) error {
	return errors.Mark(err, market.ErrInternal)
}

// errorClass labels an error for metrics and logs.
func errorClass(err error) string {
	switch {
	case errors.Is(err, market.ErrValidation):
		return "validation"
	case errors.Is(err, market.ErrNotFound):
		return "not_found"
	case errors.Is(err, market.ErrInternal):
		return "internal"
	default:
		return "other"
	}
}

func unixTime(nanos int64) time.Time {
	return time.Unix(0, nanos).UTC()
}
