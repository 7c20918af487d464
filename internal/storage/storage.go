// Package storage defines shared persistence contracts for the session's
// settings aggregates.
//
// Every logical aggregate (knowledge, pending requests, options, roster) is
// persisted as one named setting, read and rewritten wholesale. Consumer
// packages declare the narrow load/save interface they need; the SQLite
// store in the sqlite subpackage implements all of them.
package storage

import "errors"

// ErrNotFound indicates a requested setting does not exist.
var ErrNotFound = errors.New("not found")

// Setting names for the persisted aggregates.
const (
	SettingKnowledge = "knowledge"
	SettingRequests  = "pending_requests"
	SettingOptions   = "options"
	SettingRoster    = "roster"
)
