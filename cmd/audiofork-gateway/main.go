// audiofork-gateway accepts bidirectional audio fork streams and writes each
// conversation role to its own object in the configured store.
//
// Configuration comes from the environment (see internal/config); the flags
// below override the matching variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/AmmannChristian/go-audiofork/internal/config"
	"github.com/AmmannChristian/go-audiofork/internal/logctx"
)

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "audiofork-gateway: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stderr io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := parseFlags(args, cfg, stderr); err != nil {
		return err
	}

	logger, err := logctx.NewLogger(stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, err := newGateway(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer gw.Close()

	lis, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr(), err)
	}

	var metricsLis net.Listener
	if cfg.MetricsAddr != "" {
		metricsLis, err = net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			_ = lis.Close()
			return fmt.Errorf("listen on %s: %w", cfg.MetricsAddr, err)
		}
	}

	logger.Info("gateway listening",
		slog.String("addr", lis.Addr().String()),
		slog.String("metrics_addr", cfg.MetricsAddr),
		slog.Bool("tls", cfg.TLSEnabled()),
	)
	return gw.Serve(ctx, lis, metricsLis)
}

// parseFlags overrides cfg with any flags given on the command line.
func parseFlags(args []string, cfg *config.Config, output io.Writer) error {
	fs := pflag.NewFlagSet("audiofork-gateway", pflag.ContinueOnError)
	fs.SetOutput(output)

	fs.IntVar(&cfg.Port, "port", cfg.Port, "gRPC listen port (PORT)")
	fs.StringVar(&cfg.Bucket, "bucket", cfg.Bucket, "bucket receiving audio objects (GCS_BUCKET_NAME)")
	fs.StringVar(&cfg.Backend, "storage-backend", cfg.Backend, "object store: gcs, s3 or memory (STORAGE_BACKEND)")
	fs.BoolVar(&cfg.StrictScheme, "strict-scheme-check", cfg.StrictScheme, "require the Bearer scheme in the authorization header (AUTH_STRICT_SCHEME)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus listen address, empty disables (METRICS_ADDR)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error (LOG_LEVEL)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	return cfg.Validate()
}
