// Package protocol implements the disclosure message exchange between the
// arbiter and its viewers.
//
// Messages travel as flat JSON envelopes discriminated by a kind field.
// Every consumer treats arrival as at-least-once: handlers are idempotent
// and message order is not assumed.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind discriminates the message envelope.
type Kind string

// Message kinds. Viewer-to-arbiter traffic uses the request kinds, the
// broadcast kinds flow from the arbiter to viewers, and the disclosure
// resolution kinds arrive on the control subject.
const (
	KindRequestDisclosure   Kind = "requestDisclosure"
	KindDisclosureApproved  Kind = "disclosureApproved"
	KindDisclosureRejected  Kind = "disclosureRejected"
	KindRevealAttribute     Kind = "revealAttribute"
	KindAttributeRevealed   Kind = "attributeRevealed"
	KindTypeRevealed        Kind = "typeRevealed"
	KindTypeHidden          Kind = "typeHidden"
	KindPendingSyncRequest  Kind = "pendingSyncRequest"
	KindPendingSyncResponse Kind = "pendingSyncResponse"
	KindApproveDisclosure   Kind = "approveDisclosure"
	KindRejectDisclosure    Kind = "rejectDisclosure"
)

// ErrUnknownKind indicates an envelope whose kind no handler recognizes.
var ErrUnknownKind = errors.New("unknown message kind")

var validKinds = map[Kind]bool{
	KindRequestDisclosure:   true,
	KindDisclosureApproved:  true,
	KindDisclosureRejected:  true,
	KindRevealAttribute:     true,
	KindAttributeRevealed:   true,
	KindTypeRevealed:        true,
	KindTypeHidden:          true,
	KindPendingSyncRequest:  true,
	KindPendingSyncResponse: true,
	KindApproveDisclosure:   true,
	KindRejectDisclosure:    true,
}

// PendingItem is one pending request in a sync response.
type PendingItem struct {
	EntityID     string `json:"entityId"`
	AttributeKey string `json:"attributeKey"`
	InstanceID   string `json:"instanceId,omitempty"`
	Threshold    int    `json:"threshold"`
}

// Message is the wire envelope. Fields beyond Kind are populated per kind;
// unused fields are omitted on the wire.
type Message struct {
	Kind               Kind          `json:"kind"`
	ViewerID           string        `json:"viewerId,omitempty"`
	EntityID           string        `json:"entityId,omitempty"`
	AttributeKey       string        `json:"attributeKey,omitempty"`
	InstanceID         string        `json:"instanceId,omitempty"`
	Threshold          int           `json:"threshold,omitempty"`
	UseViewerModifiers bool          `json:"useViewerModifiers,omitempty"`
	Pending            []PendingItem `json:"pending,omitempty"`
}

// Encode serializes a message for the bus.
func Encode(message Message) ([]byte, error) {
	if !validKinds[message.Kind] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, message.Kind)
	}
	data, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// Decode parses a bus payload into a message, rejecting unknown kinds.
func Decode(data []byte) (Message, error) {
	var message Message
	if err := json.Unmarshal(data, &message); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if !validKinds[message.Kind] {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownKind, message.Kind)
	}
	return message, nil
}
