package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified name of the OrderDesk service.
const ServiceName = "o2c.v1.OrderDesk"

const (
	methodHandle        = "/" + ServiceName + "/Handle"
	methodGetAudit      = "/" + ServiceName + "/GetAudit"
	methodGetBalances   = "/" + ServiceName + "/GetBalances"
	methodSearchQuotes  = "/" + ServiceName + "/SearchQuotes"
	methodValidateQuote = "/" + ServiceName + "/ValidateQuote"
)

// OrderDeskServer is the server API for the OrderDesk service. Messages are
// google.protobuf.Struct values carrying the JSON form of the domain types.
type OrderDeskServer interface {
	Handle(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAudit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBalances(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SearchQuotes(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ValidateQuote(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterOrderDeskServer registers srv with s.
func RegisterOrderDeskServer(s grpc.ServiceRegistrar, srv OrderDeskServer) {
	s.RegisterService(&orderDeskServiceDesc, srv)
}

var orderDeskServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderDeskServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Handle", Handler: unary(methodHandle, OrderDeskServer.Handle)},
		{MethodName: "GetAudit", Handler: unary(methodGetAudit, OrderDeskServer.GetAudit)},
		{MethodName: "GetBalances", Handler: unary(methodGetBalances, OrderDeskServer.GetBalances)},
		{MethodName: "SearchQuotes", Handler: unary(methodSearchQuotes, OrderDeskServer.SearchQuotes)},
		{MethodName: "ValidateQuote", Handler: unary(methodValidateQuote, OrderDeskServer.ValidateQuote)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "o2c/v1/order_desk.proto",
}

type structMethod func(OrderDeskServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// unary builds the method handler generated code would contain for a
// Struct-in, Struct-out RPC.
func unary(fullMethod string, call structMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OrderDeskServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(OrderDeskServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
