// Package service implements the arbiter-side knowledge operations.
//
// Every mutation follows the same shape: load the aggregate, apply the
// domain transition, persist the whole aggregate, then emit events and
// notifications. Persistence failures abort before any event is emitted,
// so viewers never learn about state that was not stored.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/louisbranch/foeveil/internal/knowledge/domain"
	"github.com/louisbranch/foeveil/internal/notify"
	"github.com/louisbranch/foeveil/internal/options"
	"github.com/louisbranch/foeveil/internal/roster"
)

var (
	// ErrNotArbiter indicates a mutation attempted by a non-arbiter caller.
	ErrNotArbiter = errors.New("knowledge mutations require the arbiter role")
	// ErrMalformedImport indicates a bulk import payload that could not be
	// decoded. Nothing is applied from a malformed payload.
	ErrMalformedImport = errors.New("malformed knowledge import")
)

// Store persists the aggregates the service operates on.
type Store interface {
	LoadKnowledge(ctx context.Context) (domain.Knowledge, error)
	SaveKnowledge(ctx context.Context, knowledge domain.Knowledge) error
	LoadRoster(ctx context.Context) (roster.Roster, error)
	LoadOptions(ctx context.Context) (options.Options, error)
}

// Events receives state-change broadcasts after a mutation is persisted.
type Events interface {
	TypeRevealed(ctx context.Context, viewerID, entityID string)
	TypeHidden(ctx context.Context, viewerID, entityID string)
	AttributeRevealed(ctx context.Context, viewerID, entityID, attributeKey string)
}

// Service owns arbiter knowledge mutations.
type Service struct {
	store     Store
	events    Events
	sink      notify.Sink
	isArbiter bool
}

// Config bundles the service dependencies.
type Config struct {
	Store  Store
	Events Events
	Sink   notify.Sink
	// Arbiter marks this process as the session authority. Without it
	// every mutation is refused.
	Arbiter bool
}

// New creates the knowledge service.
func New(config Config) (*Service, error) {
	if config.Store == nil {
		return nil, errors.New("knowledge store is required")
	}
	if config.Sink == nil {
		config.Sink = notify.LogSink{}
	}
	return &Service{
		store:     config.Store,
		events:    config.Events,
		sink:      config.Sink,
		isArbiter: config.Arbiter,
	}, nil
}

func (s *Service) guard() error {
	if !s.isArbiter {
		return ErrNotArbiter
	}
	return nil
}

// GrantType records that a viewer knows an entity type. Granting already
// held knowledge is a no-op with no broadcast.
func (s *Service) GrantType(ctx context.Context, viewerID, entityID string) error {
	if err := s.guard(); err != nil {
		return err
	}
	knowledge, err := s.store.LoadKnowledge(ctx)
	if err != nil {
		return err
	}
	changed, err := knowledge.GrantType(viewerID, entityID)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if err := s.store.SaveKnowledge(ctx, knowledge); err != nil {
		return err
	}
	if s.events != nil {
		s.events.TypeRevealed(ctx, viewerID, entityID)
	}
	s.notifyReveal(ctx, viewerID, entityID, "")
	return nil
}

// RevokeType removes a viewer's type knowledge of an entity, cascading
// over the entity's attribute grants and its placed instances from the
// roster.
func (s *Service) RevokeType(ctx context.Context, viewerID, entityID string) error {
	if err := s.guard(); err != nil {
		return err
	}
	knowledge, err := s.store.LoadKnowledge(ctx)
	if err != nil {
		return err
	}
	r, err := s.store.LoadRoster(ctx)
	if err != nil {
		return err
	}
	changed, err := knowledge.RevokeType(viewerID, entityID, r.InstancesOf(entityID))
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if err := s.store.SaveKnowledge(ctx, knowledge); err != nil {
		return err
	}
	if s.events != nil {
		s.events.TypeHidden(ctx, viewerID, entityID)
	}
	return nil
}

// GrantAttribute records that a viewer learned one attribute of an entity.
func (s *Service) GrantAttribute(ctx context.Context, viewerID, entityID, attributeKey string) error {
	if err := s.guard(); err != nil {
		return err
	}
	knowledge, err := s.store.LoadKnowledge(ctx)
	if err != nil {
		return err
	}
	changed, err := knowledge.GrantAttribute(viewerID, entityID, attributeKey)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if err := s.store.SaveKnowledge(ctx, knowledge); err != nil {
		return err
	}
	if s.events != nil {
		s.events.AttributeRevealed(ctx, viewerID, entityID, attributeKey)
	}
	s.notifyReveal(ctx, viewerID, entityID, attributeKey)
	return nil
}

// SetRevealedViewers reconciles one placed instance's reveal list against
// the given selection: viewers newly selected gain the reveal, viewers no
// longer selected lose it.
func (s *Service) SetRevealedViewers(ctx context.Context, instanceID string, viewerIDs []string) error {
	if err := s.guard(); err != nil {
		return err
	}
	knowledge, err := s.store.LoadKnowledge(ctx)
	if err != nil {
		return err
	}

	selected := make(map[string]bool, len(viewerIDs))
	for _, viewerID := range viewerIDs {
		viewerID = strings.TrimSpace(viewerID)
		if viewerID != "" {
			selected[viewerID] = true
		}
	}

	var current []string
	if reveal, ok := knowledge.Instances[instanceID]; ok {
		current = reveal.RevealedTo
	}

	changed := false
	for _, viewerID := range current {
		if !selected[viewerID] {
			didChange, err := knowledge.ConcealInstance(instanceID, viewerID)
			if err != nil {
				return err
			}
			changed = changed || didChange
		}
	}
	for viewerID := range selected {
		didChange, err := knowledge.RevealInstance(instanceID, viewerID)
		if err != nil {
			return err
		}
		changed = changed || didChange
	}
	if !changed {
		return nil
	}
	return s.store.SaveKnowledge(ctx, knowledge)
}

// ImportKnowledge grants type knowledge in bulk from a JSON payload. The
// payload is either an array of entity names or an object whose true-valued
// keys are entity names. A payload that fails to decode, or that names an
// entity missing from the roster, is rejected without applying anything.
func (s *Service) ImportKnowledge(ctx context.Context, viewerID string, payload []byte) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}

	names, err := decodeImportNames(payload)
	if err != nil {
		return 0, err
	}

	r, err := s.store.LoadRoster(ctx)
	if err != nil {
		return 0, err
	}
	entityIDs := make([]string, 0, len(names))
	for _, name := range names {
		entity, ok := r.EntityByName(name)
		if !ok {
			return 0, fmt.Errorf("%w: unknown entity %q", ErrMalformedImport, name)
		}
		entityIDs = append(entityIDs, entity.ID)
	}

	knowledge, err := s.store.LoadKnowledge(ctx)
	if err != nil {
		return 0, err
	}
	granted := 0
	for _, entityID := range entityIDs {
		changed, err := knowledge.GrantType(viewerID, entityID)
		if err != nil {
			return 0, err
		}
		if changed {
			granted++
		}
	}
	if granted == 0 {
		return 0, nil
	}
	if err := s.store.SaveKnowledge(ctx, knowledge); err != nil {
		return 0, err
	}
	if s.events != nil {
		for _, entityID := range entityIDs {
			s.events.TypeRevealed(ctx, viewerID, entityID)
		}
	}
	return granted, nil
}

func decodeImportNames(payload []byte) ([]string, error) {
	var asList []string
	if err := json.Unmarshal(payload, &asList); err == nil {
		return asList, nil
	}
	var asMap map[string]bool
	if err := json.Unmarshal(payload, &asMap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedImport, err)
	}
	names := make([]string, 0, len(asMap))
	for name, included := range asMap {
		if included {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// WipeViewer removes everything one viewer knows: every type grant with
// its attribute and instance cascade.
func (s *Service) WipeViewer(ctx context.Context, viewerID string) error {
	if err := s.guard(); err != nil {
		return err
	}
	knowledge, err := s.store.LoadKnowledge(ctx)
	if err != nil {
		return err
	}
	r, err := s.store.LoadRoster(ctx)
	if err != nil {
		return err
	}

	known := knowledge.KnownTypes(viewerID)
	changed := false
	for _, entityID := range known {
		didChange, err := knowledge.RevokeType(viewerID, entityID, r.InstancesOf(entityID))
		if err != nil {
			return err
		}
		changed = changed || didChange
	}
	for instanceID, reveal := range knowledge.Instances {
		if !containsViewer(reveal.RevealedTo, viewerID) {
			continue
		}
		didChange, err := knowledge.ConcealInstance(instanceID, viewerID)
		if err != nil {
			return err
		}
		changed = changed || didChange
	}
	if !changed {
		return nil
	}
	if err := s.store.SaveKnowledge(ctx, knowledge); err != nil {
		return err
	}
	if s.events != nil {
		for _, entityID := range known {
			s.events.TypeHidden(ctx, viewerID, entityID)
		}
	}
	return nil
}

// KnowingViewers returns the viewers holding type knowledge of an entity,
// sorted.
func (s *Service) KnowingViewers(ctx context.Context, entityID string) ([]string, error) {
	knowledge, err := s.store.LoadKnowledge(ctx)
	if err != nil {
		return nil, err
	}
	var viewers []string
	for viewerID, entityIDs := range knowledge.Types {
		if containsViewer(entityIDs, entityID) {
			viewers = append(viewers, viewerID)
		}
	}
	sort.Strings(viewers)
	return viewers, nil
}

func (s *Service) notifyReveal(ctx context.Context, viewerID, entityID, attributeKey string) {
	opts, err := s.store.LoadOptions(ctx)
	if err != nil {
		log.Printf("knowledge: load options for notification: %v", err)
		return
	}
	if !opts.NotifyOnReveal {
		return
	}
	text := fmt.Sprintf("%s identified %s", viewerID, entityID)
	if attributeKey != "" {
		text = fmt.Sprintf("%s learned %s of %s", viewerID, attributeKey, entityID)
	}
	if err := s.sink.Post(ctx, viewerID, text); err != nil {
		log.Printf("knowledge: post notification: %v", err)
	}
}

func containsViewer(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
