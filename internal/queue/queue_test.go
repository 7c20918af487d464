package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeStore struct {
	mu       sync.Mutex
	requests []Request
	loadErr  error
	saveErr  error
	saves    int
}

func (s *fakeStore) LoadRequests(ctx context.Context) ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out, nil
}

func (s *fakeStore) SaveRequests(ctx context.Context, requests []Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.requests = make([]Request, len(requests))
	copy(s.requests, requests)
	s.saves++
	return nil
}

func newTestQueue(t *testing.T) (*Queue, *fakeStore) {
	t.Helper()
	store := &fakeStore{}
	q, err := New(store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(q.Stop)
	return q, store
}

func testRequest() Request {
	return Request{
		ViewerID:     "viewer-1",
		EntityID:     "goblin",
		AttributeKey: "hp",
		Threshold:    12,
	}
}

func TestQueueSubmit(t *testing.T) {
	ctx := context.Background()
	q, store := newTestQueue(t)

	added, err := q.Submit(ctx, testRequest(), 0)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !added {
		t.Fatal("Submit() added = false, want true")
	}
	if !q.IsPending("viewer-1", "goblin", "hp") {
		t.Error("IsPending() = false after submit")
	}
	if len(store.requests) != 1 {
		t.Errorf("persisted %d requests, want 1", len(store.requests))
	}
	if store.requests[0].SubmittedAt.IsZero() {
		t.Error("SubmittedAt not stamped on submit")
	}
}

func TestQueueSubmitDuplicate(t *testing.T) {
	ctx := context.Background()
	q, store := newTestQueue(t)

	if _, err := q.Submit(ctx, testRequest(), 0); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	added, err := q.Submit(ctx, testRequest(), 0)
	if err != nil {
		t.Fatalf("Submit() duplicate error = %v", err)
	}
	if added {
		t.Error("Submit() duplicate added = true, want false")
	}
	if len(store.requests) != 1 {
		t.Errorf("persisted %d requests, want 1", len(store.requests))
	}
}

func TestQueueSubmitValidation(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	tests := []struct {
		name    string
		request Request
	}{
		{"missing viewer", Request{EntityID: "goblin", AttributeKey: "hp"}},
		{"missing entity", Request{ViewerID: "viewer-1", AttributeKey: "hp"}},
		{"missing attribute", Request{ViewerID: "viewer-1", EntityID: "goblin"}},
		{"whitespace viewer", Request{ViewerID: "  ", EntityID: "goblin", AttributeKey: "hp"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := q.Submit(ctx, tt.request, 0); !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("Submit() error = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestQueueSubmitPersistFailure(t *testing.T) {
	ctx := context.Background()
	q, store := newTestQueue(t)
	store.saveErr = errors.New("disk full")

	if _, err := q.Submit(ctx, testRequest(), 0); err == nil {
		t.Fatal("Submit() error = nil, want persist failure")
	}
	if q.IsPending("viewer-1", "goblin", "hp") {
		t.Error("IsPending() = true after failed persist")
	}
}

func TestQueueApprove(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	var approved []Request
	var rejected []Request
	if err := q.SetHandlers(
		func(r Request) { approved = append(approved, r) },
		func(r Request) { rejected = append(rejected, r) },
	); err != nil {
		t.Fatalf("SetHandlers() error = %v", err)
	}

	if _, err := q.Submit(ctx, testRequest(), 0); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	request, ok, err := q.Approve(ctx, "viewer-1", "goblin", "hp")
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if !ok {
		t.Fatal("Approve() ok = false, want true")
	}
	if request.Threshold != 12 {
		t.Errorf("Approve() threshold = %d, want 12", request.Threshold)
	}
	if len(approved) != 1 || len(rejected) != 0 {
		t.Errorf("handlers fired approved=%d rejected=%d, want 1/0", len(approved), len(rejected))
	}
	if q.IsPending("viewer-1", "goblin", "hp") {
		t.Error("IsPending() = true after approval")
	}
}

func TestQueueApproveMissing(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	_, ok, err := q.Approve(ctx, "viewer-1", "goblin", "hp")
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if ok {
		t.Error("Approve() ok = true for absent request")
	}
}

func TestQueueSetHandlersTwice(t *testing.T) {
	q, _ := newTestQueue(t)

	if err := q.SetHandlers(func(Request) {}, func(Request) {}); err != nil {
		t.Fatalf("SetHandlers() error = %v", err)
	}
	if err := q.SetHandlers(func(Request) {}, func(Request) {}); !errors.Is(err, ErrHandlersAlreadySet) {
		t.Errorf("SetHandlers() second call error = %v, want ErrHandlersAlreadySet", err)
	}
}

func TestQueueAutoReject(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	done := make(chan Request, 1)
	if err := q.SetHandlers(
		func(Request) { t.Error("approval handler fired") },
		func(r Request) { done <- r },
	); err != nil {
		t.Fatalf("SetHandlers() error = %v", err)
	}

	if _, err := q.Submit(ctx, testRequest(), 10*time.Millisecond); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	select {
	case request := <-done:
		if request.AttributeKey != "hp" {
			t.Errorf("auto-rejected attribute = %q, want hp", request.AttributeKey)
		}
	case <-time.After(time.Second):
		t.Fatal("auto-reject never fired")
	}

	if q.IsPending("viewer-1", "goblin", "hp") {
		t.Error("IsPending() = true after auto-reject")
	}
}

func TestQueueApproveBeatsTimeout(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	var mu sync.Mutex
	var approvals, rejections int
	if err := q.SetHandlers(
		func(Request) {
			mu.Lock()
			approvals++
			mu.Unlock()
		},
		func(Request) {
			mu.Lock()
			rejections++
			mu.Unlock()
		},
	); err != nil {
		t.Fatalf("SetHandlers() error = %v", err)
	}

	if _, err := q.Submit(ctx, testRequest(), 20*time.Millisecond); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, ok, err := q.Approve(ctx, "viewer-1", "goblin", "hp"); err != nil || !ok {
		t.Fatalf("Approve() = %v, %v", ok, err)
	}

	// Give a stale timer every chance to fire before asserting.
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if approvals != 1 {
		t.Errorf("approvals = %d, want 1", approvals)
	}
	if rejections != 0 {
		t.Errorf("rejections = %d, want 0", rejections)
	}
}

func TestQueuePendingFor(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	first := testRequest()
	second := testRequest()
	second.AttributeKey = "ac"
	other := testRequest()
	other.ViewerID = "viewer-2"

	for _, request := range []Request{first, second, other} {
		if _, err := q.Submit(ctx, request, 0); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	mine := q.PendingFor("viewer-1")
	if len(mine) != 2 {
		t.Fatalf("PendingFor() returned %d requests, want 2", len(mine))
	}
	if mine[0].AttributeKey != "hp" || mine[1].AttributeKey != "ac" {
		t.Errorf("PendingFor() order = %q, %q", mine[0].AttributeKey, mine[1].AttributeKey)
	}
	if got := len(q.Pending()); got != 3 {
		t.Errorf("Pending() returned %d requests, want 3", got)
	}
}

func TestQueueLoad(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{requests: []Request{testRequest()}}
	q, err := New(store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(q.Stop)

	if err := q.Load(ctx, 0); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !q.IsPending("viewer-1", "goblin", "hp") {
		t.Error("IsPending() = false after load")
	}
}

func TestQueueLoadRearmsTimers(t *testing.T) {
	ctx := context.Background()

	stale := testRequest()
	stale.SubmittedAt = time.Now().Add(-time.Hour)
	fresh := testRequest()
	fresh.AttributeKey = "ac"
	fresh.SubmittedAt = time.Now()

	store := &fakeStore{requests: []Request{stale, fresh}}
	q, err := New(store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(q.Stop)

	rejected := make(chan Request, 2)
	if err := q.SetHandlers(
		func(Request) { t.Error("approval handler fired") },
		func(r Request) { rejected <- r },
	); err != nil {
		t.Fatalf("SetHandlers() error = %v", err)
	}

	// The stale request is past its window and rejects immediately; the
	// fresh one keeps most of its hour and stays pending.
	if err := q.Load(ctx, time.Hour); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	select {
	case request := <-rejected:
		if request.AttributeKey != "hp" {
			t.Errorf("rejected attribute = %q, want hp", request.AttributeKey)
		}
	case <-time.After(time.Second):
		t.Fatal("stale request never auto-rejected")
	}

	if q.IsPending("viewer-1", "goblin", "hp") {
		t.Error("stale request still pending after re-armed timer fired")
	}
	if !q.IsPending("viewer-1", "goblin", "ac") {
		t.Error("fresh request lost its pending entry")
	}
}
