package domain

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrEmptyViewerID indicates a missing viewer ID.
	ErrEmptyViewerID = errors.New("viewer id is required")
	// ErrEmptyEntityID indicates a missing entity ID.
	ErrEmptyEntityID = errors.New("entity id is required")
	// ErrEmptyAttributeKey indicates a missing attribute key.
	ErrEmptyAttributeKey = errors.New("attribute key is required")
	// ErrEmptyInstanceID indicates a missing instance ID.
	ErrEmptyInstanceID = errors.New("instance id is required")
)

// InstanceReveal marks one placed instance as revealed to a subset of
// viewers without granting blanket type knowledge. RevealedTo is only
// meaningful while Revealed is true.
type InstanceReveal struct {
	Revealed   bool     `json:"revealed"`
	RevealedTo []string `json:"revealedTo,omitempty"`
}

// Knowledge is the authoritative disclosure state for one session.
//
// Types maps viewer ID to the sorted set of entity IDs the viewer knows by
// type. Attributes maps a viewer.entity pair key to the sorted set of
// disclosed attribute keys. Instances maps instance ID to its reveal
// override.
type Knowledge struct {
	Types      map[string][]string       `json:"types,omitempty"`
	Attributes map[string][]string       `json:"attributes,omitempty"`
	Instances  map[string]InstanceReveal `json:"instances,omitempty"`
}

// NewKnowledge returns an empty knowledge aggregate with all maps allocated.
func NewKnowledge() Knowledge {
	return Knowledge{
		Types:      make(map[string][]string),
		Attributes: make(map[string][]string),
		Instances:  make(map[string]InstanceReveal),
	}
}

// pairKey builds the composite key for attribute knowledge.
func pairKey(viewerID, entityID string) string {
	return viewerID + "." + entityID
}

// GrantType records that viewerID knows entityID by type. Granting twice is
// a no-op; the returned bool reports whether the aggregate changed.
func (k *Knowledge) GrantType(viewerID, entityID string) (bool, error) {
	viewerID, entityID, err := requireViewerEntity(viewerID, entityID)
	if err != nil {
		return false, err
	}

	if containsString(k.Types[viewerID], entityID) {
		return false, nil
	}
	if k.Types == nil {
		k.Types = make(map[string][]string)
	}
	k.Types[viewerID] = insertSorted(k.Types[viewerID], entityID)
	return true, nil
}

// RevokeType removes viewerID's type knowledge of entityID and cascades:
// any disclosed attributes for the pair are forgotten, and the viewer is
// removed from the reveal set of every provided instance of the entity.
// Revoking never-granted knowledge is a no-op.
func (k *Knowledge) RevokeType(viewerID, entityID string, instanceIDs []string) (bool, error) {
	viewerID, entityID, err := requireViewerEntity(viewerID, entityID)
	if err != nil {
		return false, err
	}

	changed := false

	if containsString(k.Types[viewerID], entityID) {
		k.Types[viewerID] = removeString(k.Types[viewerID], entityID)
		if len(k.Types[viewerID]) == 0 {
			delete(k.Types, viewerID)
		}
		changed = true
	}

	if _, ok := k.Attributes[pairKey(viewerID, entityID)]; ok {
		delete(k.Attributes, pairKey(viewerID, entityID))
		changed = true
	}

	for _, instanceID := range instanceIDs {
		reveal, ok := k.Instances[instanceID]
		if !ok || !containsString(reveal.RevealedTo, viewerID) {
			continue
		}
		reveal.RevealedTo = removeString(reveal.RevealedTo, viewerID)
		reveal.Revealed = len(reveal.RevealedTo) > 0
		if reveal.Revealed {
			k.Instances[instanceID] = reveal
		} else {
			delete(k.Instances, instanceID)
		}
		changed = true
	}

	return changed, nil
}

// GrantAttribute records that attributeKey of entityID has been disclosed to
// viewerID. Idempotent.
func (k *Knowledge) GrantAttribute(viewerID, entityID, attributeKey string) (bool, error) {
	viewerID, entityID, err := requireViewerEntity(viewerID, entityID)
	if err != nil {
		return false, err
	}
	attributeKey = strings.TrimSpace(attributeKey)
	if attributeKey == "" {
		return false, ErrEmptyAttributeKey
	}

	key := pairKey(viewerID, entityID)
	if containsString(k.Attributes[key], attributeKey) {
		return false, nil
	}
	if k.Attributes == nil {
		k.Attributes = make(map[string][]string)
	}
	k.Attributes[key] = insertSorted(k.Attributes[key], attributeKey)
	return true, nil
}

// RevealInstance adds viewerIDs to the reveal set of one placed instance.
func (k *Knowledge) RevealInstance(instanceID string, viewerIDs ...string) (bool, error) {
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return false, ErrEmptyInstanceID
	}

	reveal := k.Instances[instanceID]
	changed := false
	for _, viewerID := range viewerIDs {
		viewerID = strings.TrimSpace(viewerID)
		if viewerID == "" {
			return false, ErrEmptyViewerID
		}
		if containsString(reveal.RevealedTo, viewerID) {
			continue
		}
		reveal.RevealedTo = insertSorted(reveal.RevealedTo, viewerID)
		changed = true
	}
	if !changed {
		return false, nil
	}

	reveal.Revealed = true
	if k.Instances == nil {
		k.Instances = make(map[string]InstanceReveal)
	}
	k.Instances[instanceID] = reveal
	return true, nil
}

// ConcealInstance removes viewerID from the reveal set of one instance.
// When the set empties the reveal flag drops with it.
func (k *Knowledge) ConcealInstance(instanceID, viewerID string) (bool, error) {
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return false, ErrEmptyInstanceID
	}
	viewerID = strings.TrimSpace(viewerID)
	if viewerID == "" {
		return false, ErrEmptyViewerID
	}

	reveal, ok := k.Instances[instanceID]
	if !ok || !containsString(reveal.RevealedTo, viewerID) {
		return false, nil
	}
	reveal.RevealedTo = removeString(reveal.RevealedTo, viewerID)
	reveal.Revealed = len(reveal.RevealedTo) > 0
	if reveal.Revealed {
		k.Instances[instanceID] = reveal
	} else {
		delete(k.Instances, instanceID)
	}
	return true, nil
}

// IsTypeKnown reports whether viewerID knows entityID by type.
func (k Knowledge) IsTypeKnown(viewerID, entityID string) bool {
	return containsString(k.Types[viewerID], entityID)
}

// IsAttributeKnown reports whether attributeKey of entityID has been
// disclosed to viewerID. Full type knowledge supersedes attribute-level
// knowledge, so this also reports true when the type is known.
func (k Knowledge) IsAttributeKnown(viewerID, entityID, attributeKey string) bool {
	if k.IsTypeKnown(viewerID, entityID) {
		return true
	}
	return containsString(k.Attributes[pairKey(viewerID, entityID)], attributeKey)
}

// IsInstanceRevealed reports whether one placed instance has been revealed
// to viewerID.
func (k Knowledge) IsInstanceRevealed(viewerID, instanceID string) bool {
	reveal, ok := k.Instances[instanceID]
	if !ok || !reveal.Revealed {
		return false
	}
	return containsString(reveal.RevealedTo, viewerID)
}

// KnownTypes returns the sorted entity IDs viewerID knows by type.
func (k Knowledge) KnownTypes(viewerID string) []string {
	entities := k.Types[viewerID]
	out := make([]string, len(entities))
	copy(out, entities)
	return out
}

// KnownAttributes returns the sorted attribute keys disclosed to viewerID
// for entityID, not counting full type knowledge.
func (k Knowledge) KnownAttributes(viewerID, entityID string) []string {
	attrs := k.Attributes[pairKey(viewerID, entityID)]
	out := make([]string, len(attrs))
	copy(out, attrs)
	return out
}

// Knows reports whether viewerID knows entityID by type or through any of
// the provided instances.
func (k Knowledge) Knows(viewerID, entityID string, instanceIDs []string) bool {
	if k.IsTypeKnown(viewerID, entityID) {
		return true
	}
	for _, instanceID := range instanceIDs {
		if k.IsInstanceRevealed(viewerID, instanceID) {
			return true
		}
	}
	return false
}

func requireViewerEntity(viewerID, entityID string) (string, string, error) {
	viewerID = strings.TrimSpace(viewerID)
	if viewerID == "" {
		return "", "", ErrEmptyViewerID
	}
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return "", "", ErrEmptyEntityID
	}
	return viewerID, entityID, nil
}

func containsString(values []string, target string) bool {
	idx := sort.SearchStrings(values, target)
	return idx < len(values) && values[idx] == target
}

func insertSorted(values []string, value string) []string {
	idx := sort.SearchStrings(values, value)
	if idx < len(values) && values[idx] == value {
		return values
	}
	values = append(values, "")
	copy(values[idx+1:], values[idx:])
	values[idx] = value
	return values
}

func removeString(values []string, value string) []string {
	idx := sort.SearchStrings(values, value)
	if idx >= len(values) || values[idx] != value {
		return values
	}
	return append(values[:idx], values[idx+1:]...)
}
