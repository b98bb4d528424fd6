// Package grpcserver exposes the engine and the settlement orchestrator as
// the ixtrade.v1.Exchange gRPC service. Requests and responses are
// google.protobuf.Struct documents shaped like the JSON of the domain
// types.
package grpcserver

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"ixtrade/domain/market"
	"ixtrade/domain/settlement"
)

// Engine is the part of service.Engine the transport needs.
type Engine interface {
	SubmitOrder(ctx context.Context, req market.OrderRequest) (*market.SubmitResult, error)
	CancelOrder(ctx context.Context, id string) (market.OrderView, error)
	GetOrder(id string) (market.OrderView, error)
	GetOrderbook(pair string, depth int) (market.Depth, error)
	GetMarketStats(pair string) (market.Stats, error)
	GetRecentTrades(pair string, limit int) ([]market.Trade, error)
}

// Settlement is the part of service.Orchestrator the transport needs.
type Settlement interface {
	EnqueueTrade(ctx context.Context, t market.Trade) (settlement.JobView, error)
	GetResult(id string) (settlement.JobView, error)
	GetMetrics() settlement.Metrics
}

type Server struct {
	engine     Engine
	settlement Settlement
	log        *zap.Logger
}

func NewServer(engine Engine, settlement Settlement, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{engine: engine, settlement: settlement, log: log.Named("grpc")}
}

// -------------------- Commands --------------------

// SubmitOrder returns the executed result even when the settlement hand-off
// failed afterwards; the failure is reported in "settlement_error".
func (s *Server) SubmitOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req market.OrderRequest
	if err := decode(in, &req); err != nil {
		return nil, toStatus(err)
	}

	res, err := s.engine.SubmitOrder(ctx, req)
	if err != nil && res == nil {
		return nil, toStatus(err)
	}

	out := struct {
		*market.SubmitResult
		SettlementError string `json:"settlement_error,omitempty"`
	}{SubmitResult: res}
	if err != nil {
		s.log.Warn("order executed but settlement hand-off failed",
			zap.String("order", res.Order.ID), zap.Error(err))
		out.SettlementError = err.Error()
	}
	return encode(out)
}

func (s *Server) CancelOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		OrderID string `json:"order_id"`
	}
	if err := decode(in, &req); err != nil {
		return nil, toStatus(err)
	}
	v, err := s.engine.CancelOrder(ctx, req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(v)
}

func (s *Server) EnqueueSettlement(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var t market.Trade
	if err := decode(in, &t); err != nil {
		return nil, toStatus(err)
	}
	v, err := s.settlement.EnqueueTrade(ctx, t)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(v)
}

// -------------------- Queries --------------------

func (s *Server) GetOrder(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		OrderID string `json:"order_id"`
	}
	if err := decode(in, &req); err != nil {
		return nil, toStatus(err)
	}
	v, err := s.engine.GetOrder(req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(v)
}

func (s *Server) GetOrderBook(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		Pair  string `json:"pair"`
		Depth int    `json:"depth"`
	}
	if err := decode(in, &req); err != nil {
		return nil, toStatus(err)
	}
	d, err := s.engine.GetOrderbook(req.Pair, req.Depth)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(d)
}

func (s *Server) GetMarketStats(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		Pair string `json:"pair"`
	}
	if err := decode(in, &req); err != nil {
		return nil, toStatus(err)
	}
	st, err := s.engine.GetMarketStats(req.Pair)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(st)
}

func (s *Server) GetRecentTrades(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		Pair  string `json:"pair"`
		Limit int    `json:"limit"`
	}
	if err := decode(in, &req); err != nil {
		return nil, toStatus(err)
	}
	trades, err := s.engine.GetRecentTrades(req.Pair, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(struct {
		Pair   string         `json:"pair"`
		Trades []market.Trade `json:"trades"`
	}{req.Pair, trades})
}

func (s *Server) GetSettlement(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decode(in, &req); err != nil {
		return nil, toStatus(err)
	}
	v, err := s.settlement.GetResult(req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(v)
}

func (s *Server) GetSettlementMetrics(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return encode(s.settlement.GetMetrics())
}

// -------------------- Converters --------------------

func decode(in *structpb.Struct, v any) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	b, err := protojson.Marshal(in)
	if err != nil {
		return market.Invalid("request: %v", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return market.Invalid("request: %v", err)
	}
	return nil
}

func encode(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, toStatus(errors.Mark(errors.Wrap(err, "encode response"), market.ErrInternal))
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, toStatus(errors.Mark(errors.Wrap(err, "encode response"), market.ErrInternal))
	}
	return out, nil
}
