package protocol

import (
	"context"
	"errors"
	"log"

	"github.com/louisbranch/foeveil/internal/bus"
	"github.com/louisbranch/foeveil/internal/core/dc"
	"github.com/louisbranch/foeveil/internal/knowledge/service"
	"github.com/louisbranch/foeveil/internal/notify"
	"github.com/louisbranch/foeveil/internal/options"
	"github.com/louisbranch/foeveil/internal/queue"
)

// ArbiterStore persists the aggregates the arbiter handler reads and
// writes.
type ArbiterStore interface {
	service.Store
}

// Arbiter is the session authority's protocol endpoint. It consumes
// viewer requests from the arbiter subject, drives the pending queue and
// the knowledge service, and broadcasts state changes to viewers.
type Arbiter struct {
	store      ArbiterStore
	queue      *queue.Queue
	bus        bus.Bus
	knowledge  *service.Service
	ctx        context.Context
	sub        bus.Subscription
	controlSub bus.Subscription
}

// ArbiterConfig bundles the arbiter endpoint dependencies.
type ArbiterConfig struct {
	Store ArbiterStore
	Queue *queue.Queue
	Bus   bus.Bus
	Sink  notify.Sink
}

// NewArbiter creates the arbiter endpoint and wires the queue resolution
// handlers to its broadcasts.
func NewArbiter(config ArbiterConfig) (*Arbiter, error) {
	if config.Store == nil {
		return nil, errors.New("arbiter store is required")
	}
	if config.Queue == nil {
		return nil, errors.New("request queue is required")
	}
	if config.Bus == nil {
		return nil, errors.New("message bus is required")
	}

	a := &Arbiter{
		store: config.Store,
		queue: config.Queue,
		bus:   config.Bus,
		ctx:   context.Background(),
	}

	knowledge, err := service.New(service.Config{
		Store:   config.Store,
		Events:  a,
		Sink:    config.Sink,
		Arbiter: true,
	})
	if err != nil {
		return nil, err
	}
	a.knowledge = knowledge

	if err := config.Queue.SetHandlers(a.requestApproved, a.requestRejected); err != nil {
		return nil, err
	}
	return a, nil
}

// Knowledge exposes the arbiter's knowledge service for direct arbiter
// operations (reveal dialogs, bulk import, wipes).
func (a *Arbiter) Knowledge() *service.Service {
	return a.knowledge
}

// Start subscribes to the arbiter and control subjects. ctx bounds the
// work done by message handlers.
func (a *Arbiter) Start(ctx context.Context) error {
	a.ctx = ctx
	sub, err := a.bus.Subscribe(bus.SubjectArbiter, a.handle)
	if err != nil {
		return err
	}
	a.sub = sub
	controlSub, err := a.bus.Subscribe(bus.SubjectControl, a.handleControl)
	if err != nil {
		sub.Unsubscribe()
		a.sub = nil
		return err
	}
	a.controlSub = controlSub
	return nil
}

// Stop unsubscribes and cancels pending auto-reject timers. Safe to call
// on a nil arbiter.
func (a *Arbiter) Stop() error {
	if a == nil {
		return nil
	}
	a.queue.Stop()
	if a.controlSub != nil {
		a.controlSub.Unsubscribe()
		a.controlSub = nil
	}
	if a.sub == nil {
		return nil
	}
	return a.sub.Unsubscribe()
}

func (a *Arbiter) handle(data []byte) {
	message, err := Decode(data)
	if err != nil {
		log.Printf("arbiter: drop message: %v", err)
		return
	}

	switch message.Kind {
	case KindRequestDisclosure:
		a.handleRequestDisclosure(a.ctx, message)
	case KindRevealAttribute:
		a.handleRevealAttribute(a.ctx, message)
	case KindPendingSyncRequest:
		a.handlePendingSync(a.ctx, message)
	default:
		log.Printf("arbiter: drop unexpected %s message", message.Kind)
	}
}

// handleControl consumes the arbiter's own resolution commands. Resolving
// an already-resolved request is a logged no-op, keeping the surface safe
// under redelivery.
func (a *Arbiter) handleControl(data []byte) {
	message, err := Decode(data)
	if err != nil {
		log.Printf("arbiter: drop control message: %v", err)
		return
	}

	var (
		ok     bool
		action string
	)
	switch message.Kind {
	case KindApproveDisclosure:
		action = "approve"
		ok, err = a.Approve(a.ctx, message.ViewerID, message.EntityID, message.AttributeKey)
	case KindRejectDisclosure:
		action = "reject"
		ok, err = a.Reject(a.ctx, message.ViewerID, message.EntityID, message.AttributeKey)
	default:
		log.Printf("arbiter: drop unexpected %s control message", message.Kind)
		return
	}
	if err != nil {
		log.Printf("arbiter: %s %s/%s/%s: %v", action, message.ViewerID, message.EntityID, message.AttributeKey, err)
		return
	}
	if !ok {
		log.Printf("arbiter: %s %s/%s/%s: no pending request", action, message.ViewerID, message.EntityID, message.AttributeKey)
	}
}

func (a *Arbiter) handleRequestDisclosure(ctx context.Context, message Message) {
	if !dc.IsValidAttribute(message.AttributeKey) {
		log.Printf("arbiter: drop request for invalid attribute %q", message.AttributeKey)
		return
	}

	knowledge, err := a.store.LoadKnowledge(ctx)
	if err != nil {
		log.Printf("arbiter: load knowledge: %v", err)
		return
	}
	// Re-announce already-held knowledge so a viewer that missed the
	// original broadcast converges without queueing anything.
	if knowledge.IsAttributeKnown(message.ViewerID, message.EntityID, message.AttributeKey) {
		a.publish(ctx, bus.SubjectViewers, Message{
			Kind:         KindAttributeRevealed,
			ViewerID:     message.ViewerID,
			EntityID:     message.EntityID,
			AttributeKey: message.AttributeKey,
		})
		return
	}

	opts, err := a.store.LoadOptions(ctx)
	if err != nil {
		log.Printf("arbiter: load options: %v", err)
		return
	}
	threshold, err := a.threshold(ctx, opts, message.EntityID, message.AttributeKey)
	if err != nil {
		log.Printf("arbiter: compute threshold for %s/%s: %v", message.EntityID, message.AttributeKey, err)
		return
	}

	request := queue.Request{
		ViewerID:           message.ViewerID,
		EntityID:           message.EntityID,
		AttributeKey:       message.AttributeKey,
		InstanceID:         message.InstanceID,
		Threshold:          threshold,
		UseViewerModifiers: opts.UseViewerModifiers,
	}

	if !opts.RequireApproval {
		a.requestApproved(request)
		return
	}

	added, err := a.queue.Submit(ctx, request, opts.AutoRejectDelay())
	if err != nil {
		log.Printf("arbiter: enqueue request: %v", err)
		return
	}
	if !added {
		log.Printf("arbiter: duplicate request %s ignored", request.Key())
	}
}

func (a *Arbiter) threshold(ctx context.Context, opts options.Options, entityID, attributeKey string) (int, error) {
	r, err := a.store.LoadRoster(ctx)
	if err != nil {
		return 0, err
	}
	difficulty := 0.0
	if entity, ok := r.Entity(entityID); ok {
		difficulty = entity.Difficulty
	}
	return opts.Policy().Threshold(difficulty, attributeKey)
}

func (a *Arbiter) handleRevealAttribute(ctx context.Context, message Message) {
	err := a.knowledge.GrantAttribute(ctx, message.ViewerID, message.EntityID, message.AttributeKey)
	if err != nil {
		log.Printf("arbiter: grant attribute: %v", err)
	}
}

func (a *Arbiter) handlePendingSync(ctx context.Context, message Message) {
	pending := a.queue.PendingFor(message.ViewerID)
	items := make([]PendingItem, 0, len(pending))
	for _, request := range pending {
		items = append(items, PendingItem{
			EntityID:     request.EntityID,
			AttributeKey: request.AttributeKey,
			InstanceID:   request.InstanceID,
			Threshold:    request.Threshold,
		})
	}
	a.publish(ctx, bus.SubjectViewers, Message{
		Kind:     KindPendingSyncResponse,
		ViewerID: message.ViewerID,
		Pending:  items,
	})
}

// Approve resolves a pending request in the viewer's favor. The viewer is
// told the threshold to roll against; the attribute is only granted once
// the roll succeeds.
func (a *Arbiter) Approve(ctx context.Context, viewerID, entityID, attributeKey string) (bool, error) {
	_, ok, err := a.queue.Approve(ctx, viewerID, entityID, attributeKey)
	return ok, err
}

// Reject resolves a pending request against the viewer.
func (a *Arbiter) Reject(ctx context.Context, viewerID, entityID, attributeKey string) (bool, error) {
	_, ok, err := a.queue.Reject(ctx, viewerID, entityID, attributeKey)
	return ok, err
}

func (a *Arbiter) requestApproved(request queue.Request) {
	a.publish(a.ctx, bus.SubjectViewers, Message{
		Kind:               KindDisclosureApproved,
		ViewerID:           request.ViewerID,
		EntityID:           request.EntityID,
		AttributeKey:       request.AttributeKey,
		InstanceID:         request.InstanceID,
		Threshold:          request.Threshold,
		UseViewerModifiers: request.UseViewerModifiers,
	})
}

func (a *Arbiter) requestRejected(request queue.Request) {
	a.publish(a.ctx, bus.SubjectViewers, Message{
		Kind:         KindDisclosureRejected,
		ViewerID:     request.ViewerID,
		EntityID:     request.EntityID,
		AttributeKey: request.AttributeKey,
	})
}

// TypeRevealed broadcasts a type knowledge grant.
func (a *Arbiter) TypeRevealed(ctx context.Context, viewerID, entityID string) {
	a.publish(ctx, bus.SubjectViewers, Message{
		Kind:     KindTypeRevealed,
		ViewerID: viewerID,
		EntityID: entityID,
	})
}

// TypeHidden broadcasts a type knowledge revocation.
func (a *Arbiter) TypeHidden(ctx context.Context, viewerID, entityID string) {
	a.publish(ctx, bus.SubjectViewers, Message{
		Kind:     KindTypeHidden,
		ViewerID: viewerID,
		EntityID: entityID,
	})
}

// AttributeRevealed broadcasts an attribute grant.
func (a *Arbiter) AttributeRevealed(ctx context.Context, viewerID, entityID, attributeKey string) {
	a.publish(ctx, bus.SubjectViewers, Message{
		Kind:         KindAttributeRevealed,
		ViewerID:     viewerID,
		EntityID:     entityID,
		AttributeKey: attributeKey,
	})
}

func (a *Arbiter) publish(ctx context.Context, subject string, message Message) {
	data, err := Encode(message)
	if err != nil {
		log.Printf("arbiter: encode %s message: %v", message.Kind, err)
		return
	}
	if err := a.bus.Publish(ctx, subject, data); err != nil {
		log.Printf("arbiter: publish %s message: %v", message.Kind, err)
	}
}
