// Package dice rolls dice and parses simple roll formulas.
package dice

import "errors"

var (
	// ErrMissingDice indicates a roll request with no dice specs.
	ErrMissingDice = errors.New("at least one dice spec is required")
	// ErrInvalidDiceSpec indicates a spec with non-positive sides or count.
	ErrInvalidDiceSpec = errors.New("dice spec requires positive sides and count")
	// ErrInvalidFormula indicates a formula that could not be parsed.
	ErrInvalidFormula = errors.New("invalid roll formula")
)

// Spec describes a group of identical dice to roll.
type Spec struct {
	Sides int
	Count int
}

// Roll holds the outcome of rolling one Spec.
type Roll struct {
	Sides   int
	Results []int
	Total   int
}

// Result holds the outcome of rolling a full request.
type Result struct {
	Rolls    []Roll
	Modifier int
	Total    int
}
