// Package notify posts human-readable reveal notices to viewers.
//
// Notification failures never block or roll back the state change they
// describe; callers log and continue.
package notify

import (
	"context"
	"log"
)

// Sink receives notification text addressed to one viewer. An empty
// viewerID addresses the whole table.
type Sink interface {
	Post(ctx context.Context, viewerID, text string) error
}

// LogSink writes notifications to the standard logger. It is the default
// sink when no chat transport is wired.
type LogSink struct{}

// Post logs the notification.
func (LogSink) Post(ctx context.Context, viewerID, text string) error {
	if viewerID == "" {
		log.Printf("notify all: %s", text)
		return nil
	}
	log.Printf("notify %s: %s", viewerID, text)
	return nil
}
