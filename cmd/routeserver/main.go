package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gtfs-routeserver/internal/api"
	"gtfs-routeserver/internal/calendar"
	"gtfs-routeserver/internal/config"
	"gtfs-routeserver/internal/db"
	"gtfs-routeserver/internal/graph"
	"gtfs-routeserver/internal/gtfs"
	"gtfs-routeserver/internal/metrics"
	"gtfs-routeserver/internal/route"
	"gtfs-routeserver/internal/rpc"
	"gtfs-routeserver/internal/tracing"
)

var version = "dev"

func main() {
	// Load configuration from .env, CONFIG_FILE and environment
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.TracingEnabled, cfg.OTLPEndpoint, version, logger)
	if err != nil {
		fatal(logger, "tracing setup", err)
	}
	defer shutdownTracing(context.Background())

	var mcol *metrics.Collector
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.TransferPenalty)
		metricsSrv = mcol.Serve(cfg.MetricsAddr, logger)
	}

	// Build once; any failure here aborts before serving.
	feed, err := loadFeed(ctx, cfg, logger)
	if err != nil {
		fatal(logger, "load feed", err)
	}
	req := cfg.CalendarRequest()
	services, err := calendar.Resolve(feed, req)
	if err != nil {
		fatal(logger, "resolve service calendar", err)
	}
	logger.Info("services resolved", "policy", req.Policy.String(), "date", req.Date, "day", req.Day, "services", len(services))

	start := time.Now()
	network, err := graph.Build(ctx, feed, services, cfg.GraphOptions(), logger)
	if err != nil {
		fatal(logger, "build graph", err)
	}
	if mcol != nil {
		mcol.ObserveBuild(network, time.Since(start))
	}

	svc := route.NewService(network, logger, queryMetrics(mcol))
	stopper := route.NewStopper()

	var httpSrv *http.Server
	if cfg.HTTPAddr != "" {
		httpSrv = api.New(svc, stopper, logger).Serve(cfg.HTTPAddr)
	}

	var natsSrv *rpc.Server
	if cfg.NATSURL != "" {
		nc, err := rpc.Connect(cfg.NATSURL, logger, connMetrics(mcol))
		if err != nil {
			fatal(logger, "nats connect", err)
		}
		natsSrv = rpc.NewServer(nc, svc, stopper, cfg.NATSSubjectPrefix, logger)
		if err := natsSrv.Start(); err != nil {
			fatal(logger, "nats subscribe", err)
		}
	}

	if httpSrv == nil && natsSrv == nil {
		logger.Warn("no transport configured, set HTTP_ADDR or NATS_URL")
	}

	select {
	case <-ctx.Done():
		logger.Info("signal received, shutting down")
	case <-stopper.Done():
		logger.Info("shutdown requested, draining")
	}
	stopper.Stop()

	// In-flight requests finish before the transports close.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
	}
	if natsSrv != nil {
		natsSrv.Close()
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	logger.Info("shutdown complete")
}

func loadFeed(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gtfs.Feed, error) {
	req := cfg.Policy.Requirement()
	if cfg.FeedDir != "" {
		return gtfs.LoadDir(cfg.FeedDir, req, cfg.MaxRowErrorLogs, logger)
	}

	sqlDB, err := db.Source{DSN: cfg.DatabaseURL, City: cfg.City}.Open(ctx, logger)
	if err != nil {
		return nil, err
	}
	defer sqlDB.Close()
	return db.LoadFeed(ctx, sqlDB, req, logger)
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}

// queryMetrics and connMetrics keep a nil Collector from becoming a non-nil interface.
func queryMetrics(c *metrics.Collector) route.Metrics {
	if c == nil {
		return nil
	}
	return c
}

func connMetrics(c *metrics.Collector) rpc.ConnMetrics {
	if c == nil {
		return nil
	}
	return c
}
