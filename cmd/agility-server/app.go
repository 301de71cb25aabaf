package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agilitytrack/agility"
	"agilitytrack/analytics"
	"agilitytrack/api/httpapi"
	"agilitytrack/config"
	"agilitytrack/engine"
	"agilitytrack/integrations/mqtt"
	"agilitytrack/integrations/webhook"
	"agilitytrack/leaderboard"
	"agilitytrack/realtime"
)

// App aggregates the assembled server components.
type App struct {
	Config      *config.Config
	Logger      *slog.Logger
	Hub         *realtime.Hub
	Service     *engine.TrackerService
	Leaderboard leaderboard.Board
	Handler     http.Handler
	Server      *http.Server
	Metrics     *MetricsServer
}

// MetricsServer is the optional Prometheus listener. Server is nil when
// metrics are disabled or share the API listener.
type MetricsServer struct {
	Handler http.Handler
	Server  *http.Server
}

func provideConfig() (*config.Config, error) {
	return config.Load()
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideCollector() *analytics.Collector {
	return analytics.NewCollector()
}

func provideLeaderboard() leaderboard.Board {
	return leaderboard.NewSkipList()
}

func provideWebhook(cfg *config.Config, logger *slog.Logger) *webhook.Sink {
	if len(cfg.Webhook.Endpoints) == 0 {
		return nil
	}
	return webhook.New(cfg.Webhook.Endpoints,
		webhook.WithClient(&http.Client{Timeout: cfg.Webhook.Timeout}),
		webhook.WithLogger(logger),
	)
}

func provideMQTT(cfg *config.Config, logger *slog.Logger) (*mqtt.Publisher, func(), error) {
	if !cfg.MQTT.Enabled {
		return nil, func() {}, nil
	}
	pub, err := mqtt.Connect(cfg.MQTT.Adapter(), mqtt.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	logger.Info("publishing events to mqtt", "broker", cfg.MQTT.Broker, "topic_prefix", cfg.MQTT.TopicPrefix)
	return pub, pub.Close, nil
}

func provideStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (engine.Storage, func(), error) {
	return agility.OpenStorage(ctx, cfg.Storage, logger)
}

func provideService(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	hub *realtime.Hub,
	storage engine.Storage,
	collector *analytics.Collector,
	board leaderboard.Board,
	sink *webhook.Sink,
	pub *mqtt.Publisher,
) (*engine.TrackerService, func(), error) {
	mode := engine.DispatchAsync
	if cfg.Progress.Dispatch == "sync" {
		mode = engine.DispatchSync
	}
	opts := []agility.Option{
		agility.WithStorage(storage),
		agility.WithDispatchMode(mode),
		agility.WithRealtime(hub),
		agility.WithLogger(logger),
		agility.WithHooks(collector),
		agility.WithLeaderboard(board),
		agility.WithReportCacheTTL(cfg.Progress.ReportCacheTTL),
		agility.WithWebhook(sink),
		agility.WithMQTT(pub),
	}
	svc := agility.New(opts...)
	if err := agility.SeedLeaderboard(ctx, svc, board); err != nil {
		svc.Close()
		return nil, nil, fmt.Errorf("seed leaderboard: %w", err)
	}
	return svc, svc.Close, nil
}

func provideMetrics(cfg *config.Config, collector *analytics.Collector) *MetricsServer {
	if !cfg.Metrics.Enabled {
		return &MetricsServer{}
	}
	h := promhttp.HandlerFor(collector.Registry(cfg.Metrics.CollectSystem), promhttp.HandlerOpts{})
	if cfg.Metrics.Address == "" || cfg.Metrics.Address == cfg.Server.Address {
		return &MetricsServer{Handler: h}
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, h)
	return &MetricsServer{
		Handler: h,
		Server: &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		},
	}
}

func provideHandler(svc *engine.TrackerService, hub *realtime.Hub, board leaderboard.Board, metrics *MetricsServer, cfg *config.Config, logger *slog.Logger) http.Handler {
	opts := httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		RateLimitCleanup: cfg.Security.RateLimit.CleanupInterval,
		Leaderboard:      board,
		Logger:           logger,
	}
	// metrics share the API listener only when no dedicated one is configured
	if metrics.Handler != nil && metrics.Server == nil {
		opts.Metrics = metrics.Handler
		opts.MetricsPath = cfg.Metrics.Path
	}
	return httpapi.NewMux(svc, hub, opts)
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	out := os.Stdout
	if cfg.Logging.Output == "stderr" {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func convertAttributes(attrs map[string]string) []slog.Attr {
	result := make([]slog.Attr, 0, len(attrs))
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}
