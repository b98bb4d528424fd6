package grpcserver

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "ixtrade.v1.Exchange"

// ExchangeServer is the handler type of ServiceDesc.
type ExchangeServer interface {
	SubmitOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrderBook(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetMarketStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRecentTrades(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EnqueueSettlement(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSettlement(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSettlementMetrics(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var _ ExchangeServer = (*Server)(nil)

type unaryMethod func(ExchangeServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func handler(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ExchangeServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(ExchangeServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExchangeServer)(nil),
	Methods: []grpc.MethodDesc{
		handler("SubmitOrder", ExchangeServer.SubmitOrder),
		handler("CancelOrder", ExchangeServer.CancelOrder),
		handler("GetOrder", ExchangeServer.GetOrder),
		handler("GetOrderBook", ExchangeServer.GetOrderBook),
		handler("GetMarketStats", ExchangeServer.GetMarketStats),
		handler("GetRecentTrades", ExchangeServer.GetRecentTrades),
		handler("EnqueueSettlement", ExchangeServer.EnqueueSettlement),
		handler("GetSettlement", ExchangeServer.GetSettlement),
		handler("GetSettlementMetrics", ExchangeServer.GetSettlementMetrics),
	},
	Metadata: "ixtrade/v1/exchange.proto",
}

func Register(s grpc.ServiceRegistrar, srv ExchangeServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// NewGRPCServer builds a grpc.Server with call logging and the Exchange
// service registered.
func NewGRPCServer(srv *Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(logCalls(srv.log))}, opts...)
	s := grpc.NewServer(opts...)
	Register(s, srv)
	return s
}

func logCalls(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		log.Debug("call",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("took", time.Since(start)),
		)
		return resp, err
	}
}
