// Package domain holds the knowledge aggregate: which viewers know which
// adversary types, which attributes have been disclosed to them, and which
// placed instances have been revealed individually.
//
// The aggregate is a plain value that is loaded, mutated, and persisted
// wholesale by the arbiter-side service. All mutations are idempotent so the
// synchronization protocol converges under duplicate or reordered delivery.
package domain
