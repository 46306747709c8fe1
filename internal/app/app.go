// Package app wires configuration, stores and servers into a runnable process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/and161185/gofulcrum/internal/config"
	"github.com/and161185/gofulcrum/internal/metrics"
	grpcserver "github.com/and161185/gofulcrum/internal/server/grpc"
	httpserver "github.com/and161185/gofulcrum/internal/server/http"
	"github.com/and161185/gofulcrum/internal/service"
	"github.com/and161185/gofulcrum/internal/webhook"
)

// App is the long running server: webhook endpoint, list API, health and metrics.
type App struct {
	cfg       *config.Config
	log       *zap.Logger
	instances *Instances
	handler   http.Handler
	http      *http.Server
	grpc      *grpcserver.Server
}

// New builds the app. Stores are opened lazily on first use.
func New(cfg *config.Config, log *zap.Logger) *App {
	if log == nil {
		log = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	instances := NewInstances(cfg, m, log)
	var limiter *rate.Limiter
	if cfg.Server.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Server.RPS), max(cfg.Server.Burst, 1))
	}

	var apiRegistry func(ctx context.Context) (*service.Registry, error)
	if _, err := cfg.Webhook(cfg.API.Config); err == nil {
		apiRegistry = func(ctx context.Context) (*service.Registry, error) {
			return instances.Registry(ctx, cfg.API.Config)
		}
	} else {
		log.Info("list api disabled", zap.String("config", cfg.API.Config))
	}

	h := httpserver.NewRouter(httpserver.Deps{
		Dispatcher: webhook.NewDispatcher(instances, m, log.Named("webhook")),
		Registry:   apiRegistry,
		Health:     instances.Check,
		Gatherer:   reg,
		Metrics:    m,
		Limiter:    limiter,
		TokenKey:   []byte(cfg.API.TokenKey),
		PerPage:    cfg.API.PerPage,
		Logger:     log.Named("http"),
	})
	return &App{
		cfg:       cfg,
		log:       log,
		instances: instances,
		handler:   h,
		http:      httpserver.NewServer(cfg.Server.Addr, h),
		grpc:      grpcserver.New(log.Named("grpc"), grpcserver.Options{Check: instances.Check}),
	}
}

// Handler returns the HTTP route table.
func (a *App) Handler() http.Handler { return a.handler }

// Instances returns the configuration registry.
func (a *App) Instances() *Instances { return a.instances }

// Run serves until ctx is cancelled, then shuts down within
// server.shutdown_timeout.
func (a *App) Run(ctx context.Context) error {
	if err := a.instances.OpenAll(ctx); err != nil {
		return err
	}
	defer a.instances.Close()

	errCh := make(chan error, 2)
	go func() {
		a.log.Info("http listening", zap.String("addr", a.cfg.Server.Addr))
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	if a.cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", a.cfg.Server.GRPCAddr)
		if err != nil {
			_ = a.http.Close()
			return fmt.Errorf("grpc listen: %w", err)
		}
		go func() {
			a.log.Info("grpc listening", zap.String("addr", a.cfg.Server.GRPCAddr))
			if err := a.grpc.GRPC.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go a.grpc.Watch(watchCtx)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		a.log.Error("server error", zap.Error(runErr))
	}
	stopWatch()
	return errors.Join(runErr, a.shutdown())
}

func (a *App) shutdown() error {
	a.log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		a.grpc.GRPC.GracefulStop()
		close(done)
	}()
	err := a.http.Shutdown(ctx)
	select {
	case <-done:
	case <-ctx.Done():
		a.grpc.GRPC.Stop()
	}
	if err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	a.log.Info("shutdown complete")
	return nil
}
