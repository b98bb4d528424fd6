package grpcserver

import (
	"context"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ixtrade/domain/market"
	"ixtrade/domain/settlement"
)

// toStatus maps error classes to gRPC codes. Unavailable is checked before
// internal because unavailable errors carry both marks.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(code(err), err.Error())
}

func code(err error) codes.Code {
	switch {
	case errors.Is(err, settlement.ErrUnavailable):
		return codes.Unavailable
	case errors.Is(err, market.ErrValidation):
		return codes.InvalidArgument
	case errors.Is(err, market.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}
