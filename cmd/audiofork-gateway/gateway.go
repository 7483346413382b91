package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/AmmannChristian/go-audiofork/audiofork"
	"github.com/AmmannChristian/go-audiofork/grpcserver"
	"github.com/AmmannChristian/go-audiofork/internal/config"
	"github.com/AmmannChristian/go-audiofork/internal/metrics"
	"github.com/AmmannChristian/go-audiofork/internal/validator"
	_ "github.com/AmmannChristian/go-audiofork/internal/zstdcodec"
	"github.com/AmmannChristian/go-audiofork/objectstore"
	"github.com/AmmannChristian/go-audiofork/objectstore/gcs"
	"github.com/AmmannChristian/go-audiofork/objectstore/memory"
	"github.com/AmmannChristian/go-audiofork/objectstore/s3"
)

const shutdownTimeout = 10 * time.Second

type gateway struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	server  *grpc.Server
	health  *health.Server
	keys    *validator.KeySetCache
	closers []func() error
}

func newGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gateway, error) {
	gw := &gateway{
		logger:  logger,
		metrics: metrics.New(),
		health:  health.NewServer(),
	}

	store, err := gw.newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	gw.keys = validator.NewKeySetCache(
		validator.WithKeySetPath(cfg.KeySetPath),
		validator.WithFetchTimeout(cfg.JWKSFetchTimeout),
		validator.WithKeySetLogger(logger),
	)
	verifier, err := grpcserver.NewVerifierBuilder().
		WithKeySetCache(gw.keys).
		WithLogger(logger).
		WithAllowedIssuers(cfg.Issuers()...).
		WithClaimsValidation(cfg.ValidateClaims).
		Build()
	if err != nil {
		gw.Close()
		return nil, err
	}

	gate := grpcserver.NewGate(verifier,
		grpcserver.WithStrictSchemeCheck(cfg.StrictScheme),
		grpcserver.WithInterceptorLogger(logger),
		grpcserver.WithMetrics(gw.metrics),
	)

	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(cfg.MaxRecvBytes),
		grpc.ChainUnaryInterceptor(
			grpcserver.UnaryRecoveryInterceptor(logger),
			gate.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			grpcserver.StreamRecoveryInterceptor(logger),
			gate.StreamServerInterceptor(),
		),
	}
	if cfg.TLSEnabled() {
		creds, err := grpcserver.ServerOption(&grpcserver.TLSConfig{
			CertFile: cfg.TLSCertFile,
			KeyFile:  cfg.TLSKeyFile,
			CAFile:   cfg.TLSCAFile,
			Logger:   logger,
		})
		if err != nil {
			gw.Close()
			return nil, err
		}
		opts = append(opts, creds)
	}

	svc := audiofork.NewService(store, cfg.Bucket,
		audiofork.WithLogger(logger),
		audiofork.WithMetrics(gw.metrics),
	)

	gw.server = grpc.NewServer(opts...)
	audiofork.RegisterConversationAudioServer(gw.server, svc)
	healthpb.RegisterHealthServer(gw.server, gw.health)
	reflection.Register(gw.server)

	// The process stays up without a bucket so health checks keep passing;
	// the fork service itself reports NOT_SERVING.
	gw.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	if svc.Ready() {
		gw.health.SetServingStatus(audiofork.ServiceName, healthpb.HealthCheckResponse_SERVING)
	} else {
		gw.health.SetServingStatus(audiofork.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	}

	return gw, nil
}

// newStore builds the configured backend. A client that cannot be created
// yields a nil store: the gateway keeps serving health checks and the fork
// service refuses streams until it is restarted with working credentials.
func (gw *gateway) newStore(ctx context.Context, cfg *config.Config) (objectstore.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendS3:
		store, err := s3.New(ctx, cfg.AWSRegion, cfg.S3Endpoint)
		if err != nil {
			gw.storageUnavailable(cfg, err)
			return nil, nil
		}
		return store, nil
	case config.BackendGCS:
		if !cfg.StorageConfigured() {
			// No client is needed when every stream is refused anyway.
			return memory.New(), nil
		}
		store, err := gcs.New(ctx, nil)
		if err != nil {
			gw.storageUnavailable(cfg, err)
			return nil, nil
		}
		gw.closers = append(gw.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func (gw *gateway) storageUnavailable(cfg *config.Config, err error) {
	gw.logger.Error("storage client unavailable",
		slog.String("backend", cfg.Backend),
		slog.String("cause", err.Error()))
}

// Serve runs the gRPC server on lis and, when metricsLis is not nil, the
// metrics endpoint. It returns once ctx is done and both have stopped.
func (gw *gateway) Serve(ctx context.Context, lis, metricsLis net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := gw.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	var metricsSrv *http.Server
	if metricsLis != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", gw.metrics.Handler())
		metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := metricsSrv.Serve(metricsLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		gw.logger.Info("shutting down")
		gw.health.Shutdown()
		gw.gracefulStop()
		if metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		}
		return nil
	})

	return g.Wait()
}

// gracefulStop waits for open streams to finish, forcing them closed after
// shutdownTimeout.
func (gw *gateway) gracefulStop() {
	done := make(chan struct{})
	go func() {
		gw.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		gw.logger.Warn("graceful stop timed out, closing open streams")
		gw.server.Stop()
	}
}

// Close releases the store client and key set refreshers.
func (gw *gateway) Close() {
	if gw.keys != nil {
		gw.keys.Close()
	}
	for _, c := range gw.closers {
		if err := c(); err != nil {
			gw.logger.Warn("close failed", slog.String("cause", err.Error()))
		}
	}
}
