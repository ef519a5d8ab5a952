package rpcapi

import (
	grpcprom "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// NewGRPCServer assembles the gRPC server hosting ServiceDesc: bearer
// auth followed by Prometheus RPC metrics on every unary and streaming
// call. Auth is the outermost interceptor, so a call it rejects returns
// before reaching the metrics interceptor and is not counted.
func NewGRPCServer(srv *Server, tokenSecret string) *grpc.Server {
	var metrics = grpcprom.NewServerMetrics()
	prometheus.MustRegister(metrics)

	var s = grpc.NewServer(
		grpc.ChainUnaryInterceptor(AuthInterceptor(tokenSecret), metrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(StreamAuthInterceptor(tokenSecret), metrics.StreamServerInterceptor()),
	)
	s.RegisterService(&ServiceDesc, srv)
	metrics.InitializeMetrics(s)
	return s
}
