// Package bus defines the message transport between the arbiter and
// viewers.
//
// The transport is subject-based publish/subscribe with at-least-once
// expectations: consumers treat every message as possibly duplicated or
// reordered, and the protocol layer keeps its handlers idempotent.
package bus

import "context"

// Subjects used by the disclosure protocol. Arbiter-bound traffic shares
// one subject and viewer-bound broadcasts another; the control subject
// carries the arbiter's own resolution commands.
const (
	SubjectArbiter = "foeveil.arbiter"
	SubjectViewers = "foeveil.viewers"
	SubjectControl = "foeveil.control"
)

// Handler consumes one raw message.
type Handler func(data []byte)

// Bus publishes and subscribes to raw messages on named subjects.
type Bus interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(subject string, handler Handler) (Subscription, error)
}

// Subscription is an active subject subscription.
type Subscription interface {
	Unsubscribe() error
}
