// Package memory provides an in-process message bus used in tests.
//
// Delivery is synchronous by default. A bus can be configured to deliver
// each message more than once, which exercises the idempotence the real
// transport demands.
package memory

import (
	"context"
	"sync"

	"github.com/louisbranch/foeveil/internal/bus"
)

// Bus is an in-process bus.
type Bus struct {
	mu         sync.Mutex
	handlers   map[string][]*subscription
	deliveries int
}

// NewBus returns a bus delivering each message exactly once.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]*subscription), deliveries: 1}
}

// NewDuplicatingBus returns a bus delivering each message the given number
// of times, simulating at-least-once transports.
func NewDuplicatingBus(deliveries int) *Bus {
	if deliveries < 1 {
		deliveries = 1
	}
	b := NewBus()
	b.deliveries = deliveries
	return b
}

type subscription struct {
	bus     *Bus
	subject string
	handler bus.Handler
}

func (s *subscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.handlers[s.subject]
	for i, sub := range subs {
		if sub == s {
			s.bus.handlers[s.subject] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

// Publish delivers data to every handler subscribed to subject before
// returning.
func (b *Bus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	subs := append([]*subscription(nil), b.handlers[subject]...)
	deliveries := b.deliveries
	b.mu.Unlock()

	for i := 0; i < deliveries; i++ {
		for _, sub := range subs {
			sub.handler(data)
		}
	}
	return nil
}

// Subscribe registers handler for subject.
func (b *Bus) Subscribe(subject string, handler bus.Handler) (bus.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscription{bus: b, subject: subject, handler: handler}
	b.handlers[subject] = append(b.handlers[subject], sub)
	return sub, nil
}
