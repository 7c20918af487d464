// Package queue holds the arbiter's pending disclosure requests.
//
// A request is identified by its (viewer, entity, attribute) triple; at most
// one pending request exists per triple. Requests leave the queue through
// arbiter approval, arbiter rejection, or timeout-based auto-rejection, and
// the queue guarantees at-most-once resolution when those paths race.
package queue

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"
)

var (
	// ErrInvalidRequest indicates a request missing its identity fields.
	ErrInvalidRequest = errors.New("request requires viewer, entity and attribute")
	// ErrHandlersAlreadySet indicates a duplicate handler registration.
	ErrHandlersAlreadySet = errors.New("resolution handlers already registered")
)

// Request is one pending attribute-disclosure request.
type Request struct {
	ViewerID           string    `json:"viewerId"`
	EntityID           string    `json:"entityId"`
	AttributeKey       string    `json:"attributeKey"`
	InstanceID         string    `json:"instanceId,omitempty"`
	Threshold          int       `json:"threshold"`
	UseViewerModifiers bool      `json:"useViewerModifiers"`
	SubmittedAt        time.Time `json:"submittedAt"`
}

// Key returns the composite identity used for duplicate suppression and
// timer cancellation.
func (r Request) Key() string {
	return r.ViewerID + "/" + r.EntityID + "/" + r.AttributeKey
}

func (r Request) matches(viewerID, entityID, attributeKey string) bool {
	return r.ViewerID == viewerID && r.EntityID == entityID && r.AttributeKey == attributeKey
}

// Store persists the pending request list as one aggregate.
type Store interface {
	LoadRequests(ctx context.Context) ([]Request, error)
	SaveRequests(ctx context.Context, requests []Request) error
}

// Queue is the arbiter-owned pending request collection. All mutations are
// serialized through an internal mutex; resolution handlers run outside it.
type Queue struct {
	mu         sync.Mutex
	store      Store
	clock      func() time.Time
	items      []Request
	timers     map[string]*time.Timer
	onApproved func(Request)
	onRejected func(Request)
}

// New creates an empty queue backed by store.
func New(store Store) (*Queue, error) {
	if store == nil {
		return nil, errors.New("request store is required")
	}
	return &Queue{
		store:  store,
		clock:  time.Now,
		timers: make(map[string]*time.Timer),
	}, nil
}

// SetHandlers registers the approval and rejection callbacks. Registration
// is guarded: a second call is refused rather than silently stacking
// handlers.
func (q *Queue) SetHandlers(onApproved, onRejected func(Request)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.onApproved != nil || q.onRejected != nil {
		return ErrHandlersAlreadySet
	}
	q.onApproved = onApproved
	q.onRejected = onRejected
	return nil
}

// Load hydrates the pending list from the store, replacing in-memory state.
// When autoReject is positive, timers are re-armed for the remainder of
// each hydrated request's window, measured from its SubmittedAt stamp;
// requests already past the window are rejected as soon as the timer runs.
// Callers should register resolution handlers before loading.
func (q *Queue) Load(ctx context.Context, autoReject time.Duration) error {
	items, err := q.store.LoadRequests(ctx)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = items

	if autoReject <= 0 {
		return nil
	}
	now := q.clock()
	for _, request := range items {
		remaining := autoReject - now.Sub(request.SubmittedAt)
		if remaining < 0 {
			remaining = 0
		}
		key := request.Key()
		if timer, ok := q.timers[key]; ok {
			timer.Stop()
		}
		request := request
		q.timers[key] = time.AfterFunc(remaining, func() {
			q.expire(request)
		})
	}
	return nil
}

// Submit enqueues a request unless an equivalent one is already pending.
// The returned bool reports whether the request was added; a duplicate
// submission is a no-op, not an error. When autoReject is positive a timer
// is armed that rejects this exact request if nothing resolves it first.
func (q *Queue) Submit(ctx context.Context, request Request, autoReject time.Duration) (bool, error) {
	request.ViewerID = strings.TrimSpace(request.ViewerID)
	request.EntityID = strings.TrimSpace(request.EntityID)
	request.AttributeKey = strings.TrimSpace(request.AttributeKey)
	if request.ViewerID == "" || request.EntityID == "" || request.AttributeKey == "" {
		return false, ErrInvalidRequest
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range q.items {
		if item.Key() == request.Key() {
			return false, nil
		}
	}

	if request.SubmittedAt.IsZero() {
		request.SubmittedAt = q.clock()
	}

	next := append(append([]Request(nil), q.items...), request)
	if err := q.store.SaveRequests(ctx, next); err != nil {
		return false, err
	}
	q.items = next

	if autoReject > 0 {
		key := request.Key()
		if timer, ok := q.timers[key]; ok {
			timer.Stop()
		}
		q.timers[key] = time.AfterFunc(autoReject, func() {
			q.expire(request)
		})
	}

	return true, nil
}

// Approve resolves a pending request through the approval path. The
// returned bool reports whether the request was still pending; approving an
// already-resolved request is a no-op with no notification.
func (q *Queue) Approve(ctx context.Context, viewerID, entityID, attributeKey string) (Request, bool, error) {
	return q.resolve(ctx, viewerID, entityID, attributeKey, true)
}

// Reject resolves a pending request through the rejection path. Like
// Approve, rejecting an already-resolved request is a no-op.
func (q *Queue) Reject(ctx context.Context, viewerID, entityID, attributeKey string) (Request, bool, error) {
	return q.resolve(ctx, viewerID, entityID, attributeKey, false)
}

func (q *Queue) resolve(ctx context.Context, viewerID, entityID, attributeKey string, approved bool) (Request, bool, error) {
	q.mu.Lock()

	idx := -1
	for i, item := range q.items {
		if item.matches(viewerID, entityID, attributeKey) {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return Request{}, false, nil
	}

	request := q.items[idx]
	next := append(append([]Request(nil), q.items[:idx]...), q.items[idx+1:]...)
	if err := q.store.SaveRequests(ctx, next); err != nil {
		q.mu.Unlock()
		return Request{}, false, err
	}
	q.items = next
	q.cancelTimerLocked(request.Key())

	var handler func(Request)
	if approved {
		handler = q.onApproved
	} else {
		handler = q.onRejected
	}
	q.mu.Unlock()

	if handler != nil {
		handler(request)
	}
	return request, true, nil
}

// expire is the auto-reject timer callback. Membership is re-checked under
// the lock immediately before acting, so a request resolved through any
// other path in the meantime is left alone.
func (q *Queue) expire(request Request) {
	q.mu.Lock()

	idx := -1
	for i, item := range q.items {
		if item.Key() == request.Key() {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return
	}

	next := append(append([]Request(nil), q.items[:idx]...), q.items[idx+1:]...)
	if err := q.store.SaveRequests(context.Background(), next); err != nil {
		// The entry stays pending; manual resolution remains possible.
		q.mu.Unlock()
		log.Printf("queue: persist auto-reject of %s: %v", request.Key(), err)
		return
	}
	q.items = next
	q.cancelTimerLocked(request.Key())
	handler := q.onRejected
	q.mu.Unlock()

	if handler != nil {
		handler(request)
	}
}

func (q *Queue) cancelTimerLocked(key string) {
	if timer, ok := q.timers[key]; ok {
		timer.Stop()
		delete(q.timers, key)
	}
}

// IsPending reports whether a request for the triple is in the queue.
func (q *Queue) IsPending(viewerID, entityID, attributeKey string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if item.matches(viewerID, entityID, attributeKey) {
			return true
		}
	}
	return false
}

// Pending returns a copy of the pending list in submission order.
func (q *Queue) Pending() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Request, len(q.items))
	copy(out, q.items)
	return out
}

// PendingFor returns the pending requests belonging to one viewer.
func (q *Queue) PendingFor(viewerID string) []Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Request
	for _, item := range q.items {
		if item.ViewerID == viewerID {
			out = append(out, item)
		}
	}
	return out
}

// Stop cancels every armed auto-reject timer. Called on session teardown.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for key, timer := range q.timers {
		timer.Stop()
		delete(q.timers, key)
	}
}
