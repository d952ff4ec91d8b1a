package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"loan-upload/internal/config"
	"loan-upload/internal/core/domain"
	"loan-upload/internal/core/port"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher pushes upload events to a JetStream stream for the notification layer
type Publisher struct {
	logger       *slog.Logger
	conn         *nats.Conn
	js           jetstream.JetStream
	config       config.NATSConfig
	connectivity *Connectivity
}

// NewPublisher connects to NATS and makes sure the stream exists
func NewPublisher(ctx context.Context, cfg config.NATSConfig, logger *slog.Logger) (*Publisher, error) {
	connectivity := newConnectivity(logger)

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
			connectivity.set(false)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
			connectivity.set(true)
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			connectivity.set(false)
		}),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	connectivity.set(conn.IsConnected())

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to JetStream: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.StreamName,
		Subjects: []string{cfg.Subject + ".>"},
		MaxAge:   24 * time.Hour,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &Publisher{
		conn:         conn,
		js:           js,
		config:       cfg,
		logger:       logger,
		connectivity: connectivity,
	}, nil
}

var _ port.EventPublisher = (*Publisher)(nil)

// Subject returns the subject an event type is published on
func (p *Publisher) Subject(eventType domain.EventType) string {
	return p.config.Subject + "." + string(eventType)
}

// Publish sends event as JSON on <subject>.<event type>
func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := p.js.Publish(ctx, p.Subject(event.Type), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Connectivity exposes the connection state as a port.ConnectivitySource
func (p *Publisher) Connectivity() *Connectivity {
	return p.connectivity
}

// Close graceful shutdown
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}
