// Package roster tracks the session's adversary entities and their placed
// instances. Knowledge is granted per entity; the roster supplies the
// instance-to-entity mapping the cascade and overlay paths need.
package roster

import (
	"errors"
	"sort"
	"strings"

	"github.com/louisbranch/foeveil/internal/platform/id"
)

var (
	// ErrEmptyEntityID indicates a missing entity ID.
	ErrEmptyEntityID = errors.New("entity id is required")
	// ErrEmptyInstanceID indicates a missing instance ID.
	ErrEmptyInstanceID = errors.New("instance id is required")
	// ErrUnknownEntity indicates an instance referencing an unregistered
	// entity.
	ErrUnknownEntity = errors.New("unknown entity")
)

// Entity is one adversary type.
type Entity struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Difficulty float64 `json:"difficulty"`
}

// Roster is the aggregate of entities and placed instances, persisted
// wholesale by the arbiter.
type Roster struct {
	Entities  map[string]Entity `json:"entities,omitempty"`
	Instances map[string]string `json:"instances,omitempty"`
}

// NewRoster returns an empty roster with maps allocated.
func NewRoster() Roster {
	return Roster{
		Entities:  make(map[string]Entity),
		Instances: make(map[string]string),
	}
}

// AddEntity registers or replaces an adversary type.
func (r *Roster) AddEntity(entity Entity) error {
	entity.ID = strings.TrimSpace(entity.ID)
	if entity.ID == "" {
		return ErrEmptyEntityID
	}
	if r.Entities == nil {
		r.Entities = make(map[string]Entity)
	}
	r.Entities[entity.ID] = entity
	return nil
}

// PlaceInstance records one placed occurrence of an entity.
func (r *Roster) PlaceInstance(instanceID, entityID string) error {
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return ErrEmptyInstanceID
	}
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return ErrEmptyEntityID
	}
	if _, ok := r.Entities[entityID]; !ok {
		return ErrUnknownEntity
	}
	if r.Instances == nil {
		r.Instances = make(map[string]string)
	}
	r.Instances[instanceID] = entityID
	return nil
}

// PlaceNewInstance places a fresh occurrence of an entity under a generated
// identifier and returns it.
func (r *Roster) PlaceNewInstance(entityID string, newID func() (string, error)) (string, error) {
	if newID == nil {
		newID = id.NewID
	}
	instanceID, err := newID()
	if err != nil {
		return "", err
	}
	if err := r.PlaceInstance(instanceID, entityID); err != nil {
		return "", err
	}
	return instanceID, nil
}

// RemoveInstance forgets a placed instance. Unknown instances are a no-op.
func (r *Roster) RemoveInstance(instanceID string) {
	delete(r.Instances, instanceID)
}

// Entity returns a registered entity by ID.
func (r Roster) Entity(entityID string) (Entity, bool) {
	entity, ok := r.Entities[entityID]
	return entity, ok
}

// EntityByName finds an entity by case-insensitive name match.
func (r Roster) EntityByName(name string) (Entity, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, entity := range r.Entities {
		if strings.ToLower(entity.Name) == name {
			return entity, true
		}
	}
	return Entity{}, false
}

// EntityOf returns the entity a placed instance belongs to.
func (r Roster) EntityOf(instanceID string) (string, bool) {
	entityID, ok := r.Instances[instanceID]
	return entityID, ok
}

// InstancesOf returns the sorted instance IDs placed for an entity.
func (r Roster) InstancesOf(entityID string) []string {
	var out []string
	for instanceID, owner := range r.Instances {
		if owner == entityID {
			out = append(out, instanceID)
		}
	}
	sort.Strings(out)
	return out
}
