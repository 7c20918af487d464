// Package dc computes disclosure thresholds for adversary attributes.
//
// A threshold is derived from a calculation mode, per-attribute global
// modifiers, and per-attribute arbiter override deltas. The computation is
// stateless: the same inputs always produce the same threshold.
package dc

import (
	"fmt"
	"math"
)

// Mode selects how base thresholds are calculated.
type Mode string

const (
	// ModeDefault uses the built-in per-attribute default thresholds.
	ModeDefault Mode = ""
	// ModeFixed uses a single configured base value for every attribute.
	ModeFixed Mode = "fixed"
	// ModeScaling scales the base with the entity difficulty rating.
	ModeScaling Mode = "scaling-by-challenge"
)

// Reference constants for the scaling mode. Configurable per session.
const (
	DefaultMinDC         = 10
	DefaultMaxDC         = 30
	DefaultMaxDifficulty = 30
	DefaultFixedBase     = 15
)

// AttributeKeys lists every attribute a viewer can attempt to disclose.
var AttributeKeys = []string{"hp", "ac", "speed", "str", "dex", "con", "int", "wis", "cha"}

// defaultThresholds are the per-attribute bases used when no mode is
// configured.
var defaultThresholds = map[string]int{
	"hp":    12,
	"ac":    12,
	"speed": 10,
	"str":   15,
	"dex":   15,
	"con":   15,
	"int":   15,
	"wis":   15,
	"cha":   15,
}

// IsValidAttribute reports whether key names a disclosable attribute.
func IsValidAttribute(key string) bool {
	_, ok := defaultThresholds[key]
	return ok
}

// IsAbilityCheck reports whether key names an ability score, in which case a
// viewer's own ability modifier may apply to the disclosure roll.
func IsAbilityCheck(key string) bool {
	switch key {
	case "str", "dex", "con", "int", "wis", "cha":
		return true
	}
	return false
}

// Policy carries the configured inputs of threshold computation.
type Policy struct {
	Mode      Mode
	FixedBase int
	// Modifiers are global per-attribute deltas applied before flooring.
	Modifiers map[string]int
	// Overrides are arbiter per-attribute deltas applied after flooring,
	// unconditionally. A large negative override can push the final
	// threshold below 1 (or below 0); callers treat such thresholds as
	// automatic successes rather than clamping.
	Overrides map[string]int
	// Scaling reference points. Zero values fall back to the defaults.
	MinDC         int
	MaxDC         int
	MaxDifficulty float64
}

// Threshold computes the disclosure threshold for one attribute of an entity
// with the given difficulty rating.
func (p Policy) Threshold(difficulty float64, key string) (int, error) {
	if !IsValidAttribute(key) {
		return 0, fmt.Errorf("unknown attribute key %q", key)
	}

	base := 0
	switch p.Mode {
	case ModeFixed:
		fixed := p.FixedBase
		if fixed == 0 {
			fixed = DefaultFixedBase
		}
		base = floorAtOne(fixed + p.Modifiers[key])
	case ModeScaling:
		base = floorAtOne(p.scaledBase(difficulty) + p.Modifiers[key])
	case ModeDefault:
		// The static table is served as-is; modifiers and overrides only
		// shape the computed modes.
		return defaultThresholds[key], nil
	default:
		return 0, fmt.Errorf("unknown calculation mode %q", p.Mode)
	}

	return base + p.Overrides[key], nil
}

// scaledBase maps a difficulty rating onto the [minDC, maxDC] range using a
// square-root curve, so low-difficulty entities differentiate more sharply
// than high-difficulty ones.
func (p Policy) scaledBase(difficulty float64) int {
	minDC := p.MinDC
	if minDC == 0 {
		minDC = DefaultMinDC
	}
	maxDC := p.MaxDC
	if maxDC == 0 {
		maxDC = DefaultMaxDC
	}
	maxDifficulty := p.MaxDifficulty
	if maxDifficulty == 0 {
		maxDifficulty = DefaultMaxDifficulty
	}

	clamped := math.Min(math.Max(difficulty, 0), maxDifficulty)
	scaled := float64(minDC) + float64(maxDC-minDC)*math.Sqrt(clamped/maxDifficulty)
	return int(math.Round(scaled))
}

func floorAtOne(value int) int {
	if value < 1 {
		return 1
	}
	return value
}
