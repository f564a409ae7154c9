package grpc

import (
	"context"
	"log"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/o2c-lite/internal/endpoint"
)

// Server is the gRPC server for the OrderDesk service.
type Server struct {
	endpoints    endpoint.Endpoints
	interceptors []grpc.UnaryServerInterceptor
	grpcServer   *grpc.Server
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithInterceptors appends unary interceptors after logging and recovery.
func WithInterceptors(interceptors ...grpc.UnaryServerInterceptor) ServerOption {
	return func(s *Server) {
		s.interceptors = append(s.interceptors, interceptors...)
	}
}

// NewServer creates a new gRPC server.
func NewServer(endpoints endpoint.Endpoints, opts ...ServerOption) *Server {
	s := &Server{
		endpoints: endpoints,
	}

	// Apply options
	for _, opt := range opts {
		opt(s)
	}

	chain := append([]grpc.UnaryServerInterceptor{LoggingInterceptor(), RecoveryInterceptor()}, s.interceptors...)
	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(chain...))

	RegisterOrderDeskServer(s.grpcServer, s)

	// Enable reflection for grpcurl and other tools
	reflection.Register(s.grpcServer)

	return s
}

// Serve starts the gRPC server on the given address.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	log.Printf("gRPC server listening on %s", addr)
	return s.grpcServer.Serve(lis)
}

// ServeListener serves on an existing listener.
func (s *Server) ServeListener(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop gracefully stops the server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// LoggingInterceptor returns a gRPC interceptor that logs requests and their duration.
func LoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()
		requestID := extractRequestID(req)

		resp, err := handler(ctx, req)

		duration := time.Since(start)
		if requestID != "" {
			log.Printf("gRPC call: %s [req:%s] duration=%v", info.FullMethod, requestID, duration)
		} else {
			log.Printf("gRPC call: %s duration=%v", info.FullMethod, duration)
		}

		if err != nil {
			log.Printf("gRPC error: %s: %v", info.FullMethod, err)
		}
		return resp, err
	}
}

func extractRequestID(req any) string {
	s, ok := req.(*structpb.Struct)
	if !ok {
		return ""
	}
	for _, key := range []string{"request_id", "id"} {
		if v, ok := s.GetFields()[key]; ok {
			return v.GetStringValue()
		}
	}
	return ""
}

// RecoveryInterceptor returns a gRPC interceptor that recovers from panics.
func RecoveryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("gRPC panic recovered: %s: %v", info.FullMethod, r)
				err = endpoint.MapErrorToStatus(errPanic)
			}
		}()
		return handler(ctx, req)
	}
}
