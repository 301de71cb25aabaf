// Package mqtt publishes tracker events to an MQTT broker so home automation
// and club displays can react to level-ups.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"agilitytrack/core"
)

// Config describes the broker connection.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	// Timeout bounds connect and each publish.
	Timeout time.Duration
}

// DefaultTypes are published when WithTypes is not given.
var DefaultTypes = []core.EventType{core.EventLevelUp, core.EventLevelsRecalculated}

// ErrNotConnected is returned by Publish once the broker link is down.
var ErrNotConnected = errors.New("not connected to MQTT broker")

// client is the slice of paho.Client the publisher uses.
type client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Publisher forwards events as JSON to {prefix}/dogs/{dog_id}/{type}.
type Publisher struct {
	client  client
	prefix  string
	qos     byte
	timeout time.Duration
	types   map[core.EventType]bool
	logger  *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithTypes limits the publisher to the given event types.
func WithTypes(types ...core.EventType) Option {
	return func(p *Publisher) {
		p.types = make(map[core.EventType]bool, len(types))
		for _, t := range types {
			p.types[t] = true
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// Connect dials the broker and returns a publisher bound to it.
func Connect(cfg Config, opts ...Option) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	co := paho.NewClientOptions()
	co.AddBroker(cfg.Broker)
	co.SetClientID(cfg.ClientID)
	co.SetUsername(cfg.Username)
	co.SetPassword(cfg.Password)
	co.SetCleanSession(true)
	co.SetAutoReconnect(true)
	co.SetConnectTimeout(cfg.Timeout)

	c := paho.NewClient(co)
	token := c.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("connect to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, err)
	}
	return newPublisher(c, cfg, opts...), nil
}

func newPublisher(c client, cfg Config, opts ...Option) *Publisher {
	p := &Publisher{
		client:  c,
		prefix:  strings.Trim(cfg.TopicPrefix, "/"),
		qos:     cfg.QoS,
		timeout: cfg.Timeout,
		logger:  slog.Default(),
	}
	if p.timeout <= 0 {
		p.timeout = 10 * time.Second
	}
	WithTypes(DefaultTypes...)(p)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Types returns the event types the publisher forwards.
func (p *Publisher) Types() []core.EventType {
	out := make([]core.EventType, 0, len(p.types))
	for t := range p.types {
		out = append(out, t)
	}
	return out
}

// Topic is where e is published.
func (p *Publisher) Topic(e core.Event) string {
	t := fmt.Sprintf("dogs/%s/%s", e.DogID, e.Type)
	if p.prefix == "" {
		return t
	}
	return p.prefix + "/" + t
}

// Publish sends e if its type is enabled. It waits for the broker
// acknowledgement up to the configured timeout or ctx, whichever is first.
func (p *Publisher) Publish(ctx context.Context, e core.Event) error {
	if !p.types[e.Type] {
		return nil
	}
	if !p.client.IsConnected() {
		return ErrNotConnected
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	topic := p.Topic(e)
	token := p.client.Publish(topic, p.qos, false, payload)

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("publish %s: timeout", topic)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnEvent is the event-bus handler; failures are logged.
func (p *Publisher) OnEvent(ctx context.Context, e core.Event) {
	if err := p.Publish(ctx, e); err != nil {
		p.logger.Warn("mqtt publish failed", "type", e.Type, "dog_id", e.DogID, "error", err)
	}
}

// Close disconnects, allowing in-flight messages 250ms to drain.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
