package protocol

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/foeveil/internal/bus"
	"github.com/louisbranch/foeveil/internal/core/check"
	"github.com/louisbranch/foeveil/internal/core/dc"
	"github.com/louisbranch/foeveil/internal/core/dice"
)

// DefaultRefreshDebounce coalesces rendering refreshes triggered by bursts
// of broadcasts.
const DefaultRefreshDebounce = 200 * time.Millisecond

const disclosureFormulaDie = "1d20"

// Outcome reports how one disclosure attempt ended to the viewer's UI.
type Outcome struct {
	EntityID     string
	AttributeKey string
	Approved     bool
	Success      bool
	Total        int
	Threshold    int
}

// Viewer is a player-side protocol endpoint. It keeps a local replica of
// the knowledge this viewer holds, converges it from arbiter broadcasts,
// and drives the request/roll flow for attribute disclosure.
//
// Broadcast handlers are idempotent merges: duplicated or reordered
// delivery leaves the replica in the same state.
type Viewer struct {
	viewerID string
	bus      bus.Bus

	mu           sync.Mutex
	types        map[string]bool
	attributes   map[string]map[string]bool
	pending      map[string]PendingItem
	lastAttempt  map[string]time.Time
	refreshTimer *time.Timer

	debounce  time.Duration
	onRefresh func()
	onResult  func(Outcome)
	modifiers func(attributeKey string) int
	roller    func(formula string) (dice.Result, error)
	clock     func() time.Time

	ctx context.Context
	sub bus.Subscription
}

// ViewerConfig bundles the viewer endpoint dependencies. OnRefresh and
// OnResult are optional rendering hooks; Modifiers supplies the viewer's
// own check modifier per attribute when the session allows it. Roller
// overrides the default seeded dice roller.
type ViewerConfig struct {
	ViewerID  string
	Bus       bus.Bus
	OnRefresh func()
	OnResult  func(Outcome)
	Modifiers func(attributeKey string) int
	Roller    func(formula string) (dice.Result, error)
	Debounce  time.Duration
}

// NewViewer creates a viewer endpoint.
func NewViewer(config ViewerConfig) (*Viewer, error) {
	config.ViewerID = strings.TrimSpace(config.ViewerID)
	if config.ViewerID == "" {
		return nil, errors.New("viewer id is required")
	}
	if config.Bus == nil {
		return nil, errors.New("message bus is required")
	}
	if config.Roller == nil {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		config.Roller = func(formula string) (dice.Result, error) {
			return dice.RollFormula(rng, formula)
		}
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultRefreshDebounce
	}
	return &Viewer{
		viewerID:    config.ViewerID,
		bus:         config.Bus,
		types:       make(map[string]bool),
		attributes:  make(map[string]map[string]bool),
		pending:     make(map[string]PendingItem),
		lastAttempt: make(map[string]time.Time),
		debounce:    config.Debounce,
		onRefresh:   config.OnRefresh,
		onResult:    config.OnResult,
		modifiers:   config.Modifiers,
		roller:      config.Roller,
		clock:       time.Now,
		ctx:         context.Background(),
	}, nil
}

// Start subscribes to the viewer broadcast subject and asks the arbiter
// for this viewer's pending requests, converging state after a reconnect.
func (v *Viewer) Start(ctx context.Context) error {
	v.ctx = ctx
	sub, err := v.bus.Subscribe(bus.SubjectViewers, v.handle)
	if err != nil {
		return err
	}
	v.sub = sub
	return v.RequestSync(ctx)
}

// Stop unsubscribes and cancels a scheduled refresh. Safe to call on a
// nil viewer.
func (v *Viewer) Stop() error {
	if v == nil {
		return nil
	}
	v.mu.Lock()
	if v.refreshTimer != nil {
		v.refreshTimer.Stop()
		v.refreshTimer = nil
	}
	v.mu.Unlock()
	if v.sub == nil {
		return nil
	}
	return v.sub.Unsubscribe()
}

func pendingKey(entityID, attributeKey string) string {
	return entityID + "/" + attributeKey
}

// AttemptDisclosure submits a disclosure request for one attribute of an
// entity. Rapid repeats of the same attempt inside the debounce window
// are dropped locally before reaching the arbiter.
func (v *Viewer) AttemptDisclosure(ctx context.Context, entityID, instanceID, attributeKey string) error {
	entityID = strings.TrimSpace(entityID)
	attributeKey = strings.TrimSpace(attributeKey)
	if entityID == "" || attributeKey == "" {
		return errors.New("entity and attribute are required")
	}

	key := pendingKey(entityID, attributeKey)
	now := v.clock()

	v.mu.Lock()
	if last, ok := v.lastAttempt[key]; ok && now.Sub(last) < v.debounce {
		v.mu.Unlock()
		return nil
	}
	v.lastAttempt[key] = now
	v.pending[key] = PendingItem{
		EntityID:     entityID,
		AttributeKey: attributeKey,
		InstanceID:   instanceID,
	}
	v.mu.Unlock()

	return v.send(ctx, Message{
		Kind:         KindRequestDisclosure,
		ViewerID:     v.viewerID,
		EntityID:     entityID,
		AttributeKey: attributeKey,
		InstanceID:   instanceID,
	})
}

// RequestSync asks the arbiter for this viewer's pending requests.
func (v *Viewer) RequestSync(ctx context.Context) error {
	return v.send(ctx, Message{
		Kind:     KindPendingSyncRequest,
		ViewerID: v.viewerID,
	})
}

// IsTypeKnown reports whether this viewer has identified the entity type.
func (v *Viewer) IsTypeKnown(entityID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.types[entityID]
}

// IsAttributeKnown reports whether this viewer may see one attribute.
// Type knowledge supersedes individual attribute grants.
func (v *Viewer) IsAttributeKnown(entityID, attributeKey string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.types[entityID] {
		return true
	}
	return v.attributes[entityID][attributeKey]
}

// KnownTypes returns the identified entity types, sorted.
func (v *Viewer) KnownTypes() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, 0, len(v.types))
	for entityID := range v.types {
		out = append(out, entityID)
	}
	sort.Strings(out)
	return out
}

// Pending returns this viewer's pending requests, sorted by key.
func (v *Viewer) Pending() []PendingItem {
	v.mu.Lock()
	defer v.mu.Unlock()
	keys := make([]string, 0, len(v.pending))
	for key := range v.pending {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]PendingItem, 0, len(keys))
	for _, key := range keys {
		out = append(out, v.pending[key])
	}
	return out
}

func (v *Viewer) handle(data []byte) {
	message, err := Decode(data)
	if err != nil {
		log.Printf("viewer %s: drop message: %v", v.viewerID, err)
		return
	}
	if message.ViewerID != v.viewerID {
		return
	}

	switch message.Kind {
	case KindTypeRevealed:
		v.mergeType(message.EntityID, true)
	case KindTypeHidden:
		v.mergeType(message.EntityID, false)
	case KindAttributeRevealed:
		v.mergeAttribute(message.EntityID, message.AttributeKey)
	case KindDisclosureApproved:
		v.handleApproved(message)
	case KindDisclosureRejected:
		v.handleRejected(message)
	case KindPendingSyncResponse:
		v.replacePending(message.Pending)
	default:
		log.Printf("viewer %s: drop unexpected %s message", v.viewerID, message.Kind)
	}
}

func (v *Viewer) mergeType(entityID string, known bool) {
	v.mu.Lock()
	changed := v.types[entityID] != known
	if known {
		v.types[entityID] = true
	} else {
		delete(v.types, entityID)
		delete(v.attributes, entityID)
	}
	v.mu.Unlock()
	if changed {
		v.scheduleRefresh()
	}
}

func (v *Viewer) mergeAttribute(entityID, attributeKey string) {
	v.mu.Lock()
	keys := v.attributes[entityID]
	if keys == nil {
		keys = make(map[string]bool)
		v.attributes[entityID] = keys
	}
	changed := !keys[attributeKey]
	keys[attributeKey] = true
	delete(v.pending, pendingKey(entityID, attributeKey))
	v.mu.Unlock()
	if changed {
		v.scheduleRefresh()
	}
}

// handleApproved rolls against the granted threshold. The pending entry is
// consumed before rolling, so a duplicated approval broadcast rolls at
// most once.
func (v *Viewer) handleApproved(message Message) {
	key := pendingKey(message.EntityID, message.AttributeKey)

	v.mu.Lock()
	if _, ok := v.pending[key]; !ok {
		v.mu.Unlock()
		return
	}
	delete(v.pending, key)
	v.mu.Unlock()

	// Viewer modifiers only apply to ability checks; flat attributes like
	// hp or ac always roll an unmodified d20.
	modifier := 0
	if message.UseViewerModifiers && dc.IsAbilityCheck(message.AttributeKey) && v.modifiers != nil {
		modifier = v.modifiers(message.AttributeKey)
	}

	result, err := v.roller(rollFormula(modifier))
	if err != nil {
		log.Printf("viewer %s: roll: %v", v.viewerID, err)
		return
	}

	outcome := Outcome{
		EntityID:     message.EntityID,
		AttributeKey: message.AttributeKey,
		Approved:     true,
		Success:      check.MeetsThreshold(result.Total, message.Threshold),
		Total:        result.Total,
		Threshold:    message.Threshold,
	}

	if outcome.Success {
		err := v.send(v.ctx, Message{
			Kind:         KindRevealAttribute,
			ViewerID:     v.viewerID,
			EntityID:     message.EntityID,
			AttributeKey: message.AttributeKey,
		})
		if err != nil {
			log.Printf("viewer %s: report successful check: %v", v.viewerID, err)
		}
	}
	if v.onResult != nil {
		v.onResult(outcome)
	}
	v.scheduleRefresh()
}

func (v *Viewer) handleRejected(message Message) {
	key := pendingKey(message.EntityID, message.AttributeKey)

	v.mu.Lock()
	_, ok := v.pending[key]
	delete(v.pending, key)
	v.mu.Unlock()
	if !ok {
		return
	}

	if v.onResult != nil {
		v.onResult(Outcome{
			EntityID:     message.EntityID,
			AttributeKey: message.AttributeKey,
		})
	}
	v.scheduleRefresh()
}

// replacePending swaps the local pending cache for the arbiter's answer.
// The response is authoritative; merging would resurrect requests that
// resolved while this viewer was away.
func (v *Viewer) replacePending(items []PendingItem) {
	v.mu.Lock()
	v.pending = make(map[string]PendingItem, len(items))
	for _, item := range items {
		v.pending[pendingKey(item.EntityID, item.AttributeKey)] = item
	}
	v.mu.Unlock()
	v.scheduleRefresh()
}

func (v *Viewer) scheduleRefresh() {
	if v.onRefresh == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.refreshTimer != nil {
		return
	}
	v.refreshTimer = time.AfterFunc(v.debounce, func() {
		v.mu.Lock()
		v.refreshTimer = nil
		hook := v.onRefresh
		v.mu.Unlock()
		hook()
	})
}

func (v *Viewer) send(ctx context.Context, message Message) error {
	data, err := Encode(message)
	if err != nil {
		return err
	}
	return v.bus.Publish(ctx, bus.SubjectArbiter, data)
}

func rollFormula(modifier int) string {
	if modifier == 0 {
		return disclosureFormulaDie
	}
	if modifier < 0 {
		return fmt.Sprintf("%s%d", disclosureFormulaDie, modifier)
	}
	return fmt.Sprintf("%s+%d", disclosureFormulaDie, modifier)
}
