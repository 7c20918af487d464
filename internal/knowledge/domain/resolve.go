package domain

// Visibility is the per-viewer, per-instance disclosure level consumed by
// the renderer.
type Visibility int

const (
	// VisibilityHidden means the viewer has no knowledge of the entity and
	// the instance is not individually revealed.
	VisibilityHidden Visibility = iota
	// VisibilityKnownByType means the viewer knows the entity type, so
	// every instance of it is identified.
	VisibilityKnownByType
	// VisibilityKnownByInstance means this one placed instance was revealed
	// to the viewer without blanket type knowledge.
	VisibilityKnownByInstance
	// VisibilityFull is the privileged arbiter view: everything visible,
	// annotated instead of masked.
	VisibilityFull
)

// String renders the visibility level for logs.
func (v Visibility) String() string {
	switch v {
	case VisibilityHidden:
		return "hidden"
	case VisibilityKnownByType:
		return "known-by-type"
	case VisibilityKnownByInstance:
		return "known-by-instance"
	case VisibilityFull:
		return "full"
	}
	return "unknown"
}

// Resolve computes the disclosure level of one placed instance for one
// viewer. Type knowledge is checked before per-instance reveals, so stale
// attribute or instance entries never downgrade an identified entity. The
// function is pure: repeated calls against the same aggregate state always
// return the same value.
func (k Knowledge) Resolve(viewerID, entityID, instanceID string, isArbiter bool) Visibility {
	if isArbiter {
		return VisibilityFull
	}
	if k.IsTypeKnown(viewerID, entityID) {
		return VisibilityKnownByType
	}
	if k.IsInstanceRevealed(viewerID, instanceID) {
		return VisibilityKnownByInstance
	}
	return VisibilityHidden
}
