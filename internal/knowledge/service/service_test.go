package service

import (
	"context"
	"errors"
	"testing"

	"github.com/louisbranch/foeveil/internal/knowledge/domain"
	"github.com/louisbranch/foeveil/internal/options"
	"github.com/louisbranch/foeveil/internal/roster"
)

type fakeStore struct {
	knowledge domain.Knowledge
	roster    roster.Roster
	options   options.Options
	saves     int
	saveErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		knowledge: domain.NewKnowledge(),
		roster:    roster.NewRoster(),
		options:   options.Defaults(),
	}
}

func (s *fakeStore) LoadKnowledge(ctx context.Context) (domain.Knowledge, error) {
	return s.knowledge, nil
}

func (s *fakeStore) SaveKnowledge(ctx context.Context, knowledge domain.Knowledge) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.knowledge = knowledge
	s.saves++
	return nil
}

func (s *fakeStore) LoadRoster(ctx context.Context) (roster.Roster, error) {
	return s.roster, nil
}

func (s *fakeStore) LoadOptions(ctx context.Context) (options.Options, error) {
	return s.options, nil
}

type event struct {
	kind     string
	viewerID string
	entityID string
	key      string
}

type fakeEvents struct {
	events []event
}

func (e *fakeEvents) TypeRevealed(ctx context.Context, viewerID, entityID string) {
	e.events = append(e.events, event{"typeRevealed", viewerID, entityID, ""})
}

func (e *fakeEvents) TypeHidden(ctx context.Context, viewerID, entityID string) {
	e.events = append(e.events, event{"typeHidden", viewerID, entityID, ""})
}

func (e *fakeEvents) AttributeRevealed(ctx context.Context, viewerID, entityID, key string) {
	e.events = append(e.events, event{"attributeRevealed", viewerID, entityID, key})
}

type fakeSink struct {
	posts []string
}

func (s *fakeSink) Post(ctx context.Context, viewerID, text string) error {
	s.posts = append(s.posts, text)
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeStore, *fakeEvents, *fakeSink) {
	t.Helper()
	store := newFakeStore()
	events := &fakeEvents{}
	sink := &fakeSink{}
	svc, err := New(Config{Store: store, Events: events, Sink: sink, Arbiter: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return svc, store, events, sink
}

func TestServiceRefusesNonArbiter(t *testing.T) {
	ctx := context.Background()
	svc, err := New(Config{Store: newFakeStore()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := svc.GrantType(ctx, "viewer-1", "goblin"); !errors.Is(err, ErrNotArbiter) {
		t.Errorf("GrantType() error = %v, want ErrNotArbiter", err)
	}
	if err := svc.GrantAttribute(ctx, "viewer-1", "goblin", "hp"); !errors.Is(err, ErrNotArbiter) {
		t.Errorf("GrantAttribute() error = %v, want ErrNotArbiter", err)
	}
	if err := svc.WipeViewer(ctx, "viewer-1"); !errors.Is(err, ErrNotArbiter) {
		t.Errorf("WipeViewer() error = %v, want ErrNotArbiter", err)
	}
}

func TestServiceGrantType(t *testing.T) {
	ctx := context.Background()
	svc, store, events, sink := newTestService(t)

	if err := svc.GrantType(ctx, "viewer-1", "goblin"); err != nil {
		t.Fatalf("GrantType() error = %v", err)
	}
	if !store.knowledge.IsTypeKnown("viewer-1", "goblin") {
		t.Error("type not recorded")
	}
	if len(events.events) != 1 || events.events[0].kind != "typeRevealed" {
		t.Errorf("events = %+v, want one typeRevealed", events.events)
	}
	if len(sink.posts) != 1 {
		t.Errorf("notifications = %d, want 1", len(sink.posts))
	}

	// Granting again changes nothing and emits nothing.
	if err := svc.GrantType(ctx, "viewer-1", "goblin"); err != nil {
		t.Fatalf("GrantType() repeat error = %v", err)
	}
	if len(events.events) != 1 {
		t.Errorf("events after repeat = %d, want 1", len(events.events))
	}
	if store.saves != 1 {
		t.Errorf("saves = %d, want 1", store.saves)
	}
}

func TestServiceNotifyDisabled(t *testing.T) {
	ctx := context.Background()
	svc, store, _, sink := newTestService(t)
	store.options.NotifyOnReveal = false

	if err := svc.GrantType(ctx, "viewer-1", "goblin"); err != nil {
		t.Fatalf("GrantType() error = %v", err)
	}
	if len(sink.posts) != 0 {
		t.Errorf("notifications = %d, want 0", len(sink.posts))
	}
}

func TestServiceRevokeTypeCascades(t *testing.T) {
	ctx := context.Background()
	svc, store, events, _ := newTestService(t)

	if err := store.roster.AddEntity(roster.Entity{ID: "goblin", Name: "Goblin"}); err != nil {
		t.Fatalf("AddEntity() error = %v", err)
	}
	if err := store.roster.PlaceInstance("goblin-1", "goblin"); err != nil {
		t.Fatalf("PlaceInstance() error = %v", err)
	}

	if err := svc.GrantType(ctx, "viewer-1", "goblin"); err != nil {
		t.Fatalf("GrantType() error = %v", err)
	}
	if err := svc.GrantAttribute(ctx, "viewer-1", "goblin", "hp"); err != nil {
		t.Fatalf("GrantAttribute() error = %v", err)
	}
	if err := svc.SetRevealedViewers(ctx, "goblin-1", []string{"viewer-1"}); err != nil {
		t.Fatalf("SetRevealedViewers() error = %v", err)
	}

	if err := svc.RevokeType(ctx, "viewer-1", "goblin"); err != nil {
		t.Fatalf("RevokeType() error = %v", err)
	}

	if store.knowledge.IsTypeKnown("viewer-1", "goblin") {
		t.Error("type still known after revoke")
	}
	if store.knowledge.IsAttributeKnown("viewer-1", "goblin", "hp") {
		t.Error("attribute survived revoke")
	}
	if store.knowledge.IsInstanceRevealed("viewer-1", "goblin-1") {
		t.Error("instance reveal survived revoke")
	}
	last := events.events[len(events.events)-1]
	if last.kind != "typeHidden" {
		t.Errorf("last event = %q, want typeHidden", last.kind)
	}
}

func TestServiceSetRevealedViewersDiff(t *testing.T) {
	ctx := context.Background()
	svc, store, _, _ := newTestService(t)

	if err := svc.SetRevealedViewers(ctx, "goblin-1", []string{"viewer-1", "viewer-2"}); err != nil {
		t.Fatalf("SetRevealedViewers() error = %v", err)
	}
	if !store.knowledge.IsInstanceRevealed("viewer-1", "goblin-1") {
		t.Error("viewer-1 not revealed")
	}
	if !store.knowledge.IsInstanceRevealed("viewer-2", "goblin-1") {
		t.Error("viewer-2 not revealed")
	}

	// Deselecting viewer-1 revokes only viewer-1.
	if err := svc.SetRevealedViewers(ctx, "goblin-1", []string{"viewer-2"}); err != nil {
		t.Fatalf("SetRevealedViewers() error = %v", err)
	}
	if store.knowledge.IsInstanceRevealed("viewer-1", "goblin-1") {
		t.Error("viewer-1 still revealed after deselect")
	}
	if !store.knowledge.IsInstanceRevealed("viewer-2", "goblin-1") {
		t.Error("viewer-2 lost reveal")
	}
}

func TestServiceImportKnowledge(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		payload string
		granted int
		wantErr bool
	}{
		{"array of names", `["Goblin", "Ogre"]`, 2, false},
		{"object with flags", `{"Goblin": true, "Ogre": false}`, 1, false},
		{"unknown entity", `["Dragon"]`, 0, true},
		{"malformed json", `{"Goblin": `, 0, true},
		{"wrong shape", `42`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, _, _ := newTestService(t)
			for _, entity := range []roster.Entity{
				{ID: "goblin", Name: "Goblin"},
				{ID: "ogre", Name: "Ogre"},
			} {
				if err := store.roster.AddEntity(entity); err != nil {
					t.Fatalf("AddEntity() error = %v", err)
				}
			}

			granted, err := svc.ImportKnowledge(ctx, "viewer-1", []byte(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedImport) {
					t.Fatalf("ImportKnowledge() error = %v, want ErrMalformedImport", err)
				}
				if store.saves != 0 {
					t.Errorf("saves = %d after rejected import, want 0", store.saves)
				}
				return
			}
			if err != nil {
				t.Fatalf("ImportKnowledge() error = %v", err)
			}
			if granted != tt.granted {
				t.Errorf("granted = %d, want %d", granted, tt.granted)
			}
		})
	}
}

func TestServiceWipeViewer(t *testing.T) {
	ctx := context.Background()
	svc, store, _, _ := newTestService(t)

	if err := svc.GrantType(ctx, "viewer-1", "goblin"); err != nil {
		t.Fatalf("GrantType() error = %v", err)
	}
	if err := svc.GrantType(ctx, "viewer-1", "ogre"); err != nil {
		t.Fatalf("GrantType() error = %v", err)
	}
	if err := svc.SetRevealedViewers(ctx, "wolf-1", []string{"viewer-1", "viewer-2"}); err != nil {
		t.Fatalf("SetRevealedViewers() error = %v", err)
	}
	if err := svc.GrantType(ctx, "viewer-2", "goblin"); err != nil {
		t.Fatalf("GrantType() error = %v", err)
	}

	if err := svc.WipeViewer(ctx, "viewer-1"); err != nil {
		t.Fatalf("WipeViewer() error = %v", err)
	}

	if got := store.knowledge.KnownTypes("viewer-1"); len(got) != 0 {
		t.Errorf("KnownTypes(viewer-1) = %v after wipe", got)
	}
	if store.knowledge.IsInstanceRevealed("viewer-1", "wolf-1") {
		t.Error("viewer-1 instance reveal survived wipe")
	}
	if !store.knowledge.IsTypeKnown("viewer-2", "goblin") {
		t.Error("viewer-2 knowledge lost in wipe")
	}
	if !store.knowledge.IsInstanceRevealed("viewer-2", "wolf-1") {
		t.Error("viewer-2 instance reveal lost in wipe")
	}
}

func TestServiceKnowingViewers(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	if err := svc.GrantType(ctx, "viewer-2", "goblin"); err != nil {
		t.Fatalf("GrantType() error = %v", err)
	}
	if err := svc.GrantType(ctx, "viewer-1", "goblin"); err != nil {
		t.Fatalf("GrantType() error = %v", err)
	}
	if err := svc.GrantType(ctx, "viewer-1", "ogre"); err != nil {
		t.Fatalf("GrantType() error = %v", err)
	}

	viewers, err := svc.KnowingViewers(ctx, "goblin")
	if err != nil {
		t.Fatalf("KnowingViewers() error = %v", err)
	}
	if len(viewers) != 2 || viewers[0] != "viewer-1" || viewers[1] != "viewer-2" {
		t.Errorf("KnowingViewers() = %v, want [viewer-1 viewer-2]", viewers)
	}
}
