// Package agility assembles a ready-to-use TrackerService.
package agility

import (
	"context"
	"errors"
	"log/slog"
	"time"

	mem "agilitytrack/adapters/memory"
	"agilitytrack/analytics"
	"agilitytrack/core"
	"agilitytrack/engine"
	"agilitytrack/integrations/mqtt"
	"agilitytrack/integrations/webhook"
	"agilitytrack/leaderboard"
	"agilitytrack/realtime"
)

// Option configures the tracker builder.
type Option func(*config)

type config struct {
	storage   engine.Storage
	mode      engine.DispatchMode
	hub       *realtime.Hub
	logger    *slog.Logger
	hooks     []analytics.Hook
	notifiers []Notifier
	board     leaderboard.Board
	cacheTTL  time.Duration
}

// WithStorage sets the persistence adapter.
func WithStorage(s engine.Storage) Option { return func(c *config) { c.storage = s } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithRealtime forwards every tracker event to the hub.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// WithHooks feeds every tracker event to the given analytics hooks.
func WithHooks(hooks ...analytics.Hook) Option {
	return func(c *config) { c.hooks = append(c.hooks, hooks...) }
}

// Notifier forwards a subset of event types to an external system.
type Notifier interface {
	Types() []core.EventType
	OnEvent(ctx context.Context, e core.Event)
}

// WithNotifiers subscribes each notifier to its own event types.
func WithNotifiers(ns ...Notifier) Option {
	return func(c *config) { c.notifiers = append(c.notifiers, ns...) }
}

// WithWebhook posts the sink's event types to its endpoints.
func WithWebhook(s *webhook.Sink) Option {
	return func(c *config) {
		if s != nil {
			c.notifiers = append(c.notifiers, s)
		}
	}
}

// WithMQTT publishes the publisher's event types to its broker.
func WithMQTT(p *mqtt.Publisher) Option {
	return func(c *config) {
		if p != nil {
			c.notifiers = append(c.notifiers, p)
		}
	}
}

// WithLeaderboard keeps board ranked by lifetime MACH points.
func WithLeaderboard(b leaderboard.Board) Option { return func(c *config) { c.board = b } }

// WithReportCacheTTL caches progress reports; zero disables the cache.
func WithReportCacheTTL(ttl time.Duration) Option { return func(c *config) { c.cacheTTL = ttl } }

// New builds a configured TrackerService. Defaults:
//   - storage: in-memory
//   - dispatch: async
//   - report cache: 30s
func New(opts ...Option) *engine.TrackerService {
	cfg := &config{mode: engine.DispatchAsync, cacheTTL: 30 * time.Second}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.storage == nil {
		cfg.storage = mem.New()
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	bus := engine.NewEventBus(cfg.mode)
	svc := engine.NewTrackerService(cfg.storage, bus,
		engine.WithLogger(cfg.logger),
		engine.WithReportCache(cfg.cacheTTL),
	)

	if cfg.hub != nil {
		svc.SubscribeAll(cfg.hub.Broadcast)
	}
	if len(cfg.hooks) > 0 {
		bridge := analytics.NewBridge(cfg.hooks...)
		svc.SubscribeAll(func(_ context.Context, e core.Event) { bridge.OnEvent(e) })
	}
	for _, n := range cfg.notifiers {
		svc.SubscribeAll(n.OnEvent, n.Types()...)
	}
	if cfg.board != nil {
		tr := leaderboard.NewTracker(cfg.board, MachPointsScore(svc), cfg.logger)
		svc.SubscribeAll(tr.OnEvent, tr.Events()...)
	}
	return svc
}

// MachPointsScore scores a dog by its lifetime MACH points.
func MachPointsScore(svc *engine.TrackerService) leaderboard.ScoreFunc {
	return func(ctx context.Context, dog core.DogID) (string, int64, bool, error) {
		p, err := svc.Progress(ctx, dog)
		if errors.Is(err, core.ErrDogNotFound) {
			return "", 0, false, nil
		}
		if err != nil {
			return "", 0, false, err
		}
		return p.DogName, int64(p.MachPoints), true, nil
	}
}

// SeedLeaderboard loads every stored dog into board.
func SeedLeaderboard(ctx context.Context, svc *engine.TrackerService, board leaderboard.Board) error {
	dogs, err := svc.ListDogs(ctx)
	if err != nil {
		return err
	}
	tr := leaderboard.NewTracker(board, MachPointsScore(svc), nil)
	for _, d := range dogs {
		if err := tr.Refresh(ctx, d.ID); err != nil {
			return err
		}
	}
	return nil
}
