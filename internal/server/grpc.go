package server

import (
	"context"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// healthCheckMethod is polled by load balancers and is not logged.
const healthCheckMethod = "/grpc.health.v1.Health/Check"

// NewGRPCServer returns a gRPC server exposing hs as the standard health service, with server
// reflection and OpenTelemetry stats instrumentation.
func NewGRPCServer(hs *health.Server, log *zap.Logger) *grpc.Server {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(LoggingUnary(log, map[string]bool{healthCheckMethod: true})),
	)
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)
	return s
}

// LoggingUnary returns a unary server interceptor that logs each RPC with its status code and
// duration. skipMethods is the set of full method names not to log.
func LoggingUnary(log *zap.Logger, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if skipMethods[info.FullMethod] {
			return resp, err
		}
		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", time.Since(start)),
		}
		if code == codes.OK {
			log.Debug("grpc request", fields...)
		} else {
			log.Warn("grpc request", append(fields, zap.Error(err))...)
		}
		return resp, err
	}
}
