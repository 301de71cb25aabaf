package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"agilitytrack/core"
)

// DefaultTypes are the events posted when no explicit set is configured.
var DefaultTypes = []core.EventType{core.EventLevelUp, core.EventLevelsRecalculated}

// Sink posts tracker events to configured HTTP endpoints.
// It is synchronous for determinism; run it behind an async event bus when
// endpoints are slow.
type Sink struct {
	client    *http.Client
	endpoints []string
	types     map[core.EventType]bool
	logger    *slog.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithClient overrides the HTTP client (defaults to 2s timeout).
func WithClient(c *http.Client) Option {
	return func(s *Sink) {
		if c != nil {
			s.client = c
		}
	}
}

// WithTypes limits the sink to the given event types.
func WithTypes(types ...core.EventType) Option {
	return func(s *Sink) {
		s.types = make(map[core.EventType]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a webhook sink.
func New(endpoints []string, opts ...Option) *Sink {
	s := &Sink{
		client: &http.Client{Timeout: 2 * time.Second},
		logger: slog.Default(),
	}
	WithTypes(DefaultTypes...)(s)
	for _, opt := range opts {
		opt(s)
	}
	s.endpoints = append([]string{}, endpoints...)
	return s
}

// Types returns the event types the sink forwards.
func (s *Sink) Types() []core.EventType {
	out := make([]core.EventType, 0, len(s.types))
	for t := range s.types {
		out = append(out, t)
	}
	return out
}

// Post sends the event JSON to every endpoint and reports the failures.
func (s *Sink) Post(ctx context.Context, e core.Event) error {
	if len(s.endpoints) == 0 || !s.types[e.Type] {
		return nil
	}
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	var errs []error
	for _, ep := range s.endpoints {
		if err := s.post(ctx, ep, body); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ep, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Sink) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// OnEvent is the event-bus handler. Delivery failures are logged; a level-up
// notification never fails the operation that produced it.
func (s *Sink) OnEvent(ctx context.Context, e core.Event) {
	if err := s.Post(ctx, e); err != nil {
		s.logger.Warn("webhook delivery failed", "type", e.Type, "dog_id", e.DogID, "error", err)
	}
}
