// Package nats provides the NATS-backed message bus.
package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/louisbranch/foeveil/internal/bus"
)

// Bus is a message bus backed by a NATS connection.
type Bus struct {
	conn *nats.Conn
}

// Connect dials the NATS server at url.
func Connect(url string) (*Bus, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("nats url is required")
	}
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Bus{conn: conn}, nil
}

// Publish sends data on subject.
func (b *Bus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers handler for every message on subject.
func (b *Bus) Subscribe(subject string, handler bus.Handler) (bus.Subscription, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

// Close drains and closes the connection. Safe to call on a nil bus.
func (b *Bus) Close() error {
	if b == nil || b.conn == nil {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
