package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/imrishuroy/go-idempotent-newsletter/pkg/errors"
)

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	URL           string
	Timeout       time.Duration
	SubjectPrefix string
	Name          string
}

type natsConn interface {
	Publish(subject string, data []byte) error
	IsConnected() bool
	Drain() error
}

// NATSPublisher publishes JSON events on core NATS subjects.
type NATSPublisher struct {
	conn   natsConn
	prefix string
}

// ConnectNATS dials the server and returns a publisher.
func ConnectNATS(ctx context.Context, config NATSConfig) (*NATSPublisher, error) {
	if config.URL == "" {
		return nil, errors.NewUnexpected("NATS URL is required")
	}

	slog.InfoContext(ctx, "creating NATS client",
		"url", config.URL,
		"timeout", config.Timeout,
	)

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.Timeout(config.Timeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.WarnContext(ctx, "NATS disconnected",
				"error", err,
				"url", nc.ConnectedUrl(),
			)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.InfoContext(ctx, "NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, errors.NewServiceUnavailable("failed to connect to NATS", err)
	}

	return newNATSPublisher(conn, config.SubjectPrefix), nil
}

func newNATSPublisher(conn natsConn, prefix string) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: prefix}
}

func (p *NATSPublisher) subject(name string) string {
	if p.prefix == "" {
		return name
	}
	return p.prefix + "." + name
}

// Publish marshals payload as JSON and publishes it on prefix.subject.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload any) error {
	if !p.conn.IsConnected() {
		return errors.NewServiceUnavailable("NATS connection not ready")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	full := p.subject(subject)
	if err := p.conn.Publish(full, data); err != nil {
		return fmt.Errorf("publish %s: %w", full, err)
	}

	slog.DebugContext(ctx, "event published", "subject", full)
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
