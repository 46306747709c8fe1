package grpcserver

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Options configure New.
type Options struct {
	// Check reports backend health; nil means always serving.
	Check func(ctx context.Context) error
	// Interval between health probes.
	Interval time.Duration
	// Reflection registers the reflection service.
	Reflection bool
}

// Server is a gRPC server exposing the health service.
type Server struct {
	GRPC   *grpc.Server
	health *health.Server
	opts   Options
	log    *zap.Logger
}

// New builds the server with interceptors and the health service registered.
func New(log *zap.Logger, opts Options) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoverUnary(log),
			LoggingUnary(log),
		),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if opts.Reflection {
		reflection.Register(s)
	}
	return &Server{GRPC: s, health: hs, opts: opts, log: log}
}

// Probe runs the health check once and publishes the result for the
// overall service ("").
func (s *Server) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if s.opts.Check != nil {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := s.opts.Check(cctx)
		cancel()
		if err != nil {
			s.log.Warn("health check failed", zap.Error(err))
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", st)
	return st
}

// Watch probes until ctx is done, then marks the service NOT_SERVING.
func (s *Server) Watch(ctx context.Context) {
	s.Probe(ctx)
	t := time.NewTicker(s.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-t.C:
			s.Probe(ctx)
		}
	}
}
