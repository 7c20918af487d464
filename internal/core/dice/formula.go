package dice

import (
	"fmt"
	"strconv"
	"strings"
)

// Formula is the parsed form of a roll expression such as "1d20+3".
type Formula struct {
	Specs    []Spec
	Modifier int
}

// ParseFormula parses an expression of the form NdS with an optional trailing
// flat modifier: "1d20", "1d20+3", "2d6-1". Whitespace is not allowed.
func ParseFormula(formula string) (Formula, error) {
	trimmed := strings.TrimSpace(formula)
	if trimmed == "" {
		return Formula{}, fmt.Errorf("%w: empty formula", ErrInvalidFormula)
	}

	dicePart := trimmed
	modifier := 0

	// Split off a trailing +N or -N modifier. The sign search starts after
	// index 0 so a leading sign is rejected by the dice parse below.
	if idx := strings.LastIndexAny(trimmed[1:], "+-"); idx >= 0 {
		signIdx := idx + 1
		modPart := trimmed[signIdx:]
		value, err := strconv.Atoi(modPart)
		if err != nil {
			return Formula{}, fmt.Errorf("%w: modifier %q", ErrInvalidFormula, modPart)
		}
		modifier = value
		dicePart = trimmed[:signIdx]
	}

	count, sides, ok := strings.Cut(dicePart, "d")
	if !ok {
		return Formula{}, fmt.Errorf("%w: %q", ErrInvalidFormula, formula)
	}

	countValue, err := strconv.Atoi(count)
	if err != nil {
		return Formula{}, fmt.Errorf("%w: count %q", ErrInvalidFormula, count)
	}
	sidesValue, err := strconv.Atoi(sides)
	if err != nil {
		return Formula{}, fmt.Errorf("%w: sides %q", ErrInvalidFormula, sides)
	}
	if countValue <= 0 || sidesValue <= 0 {
		return Formula{}, fmt.Errorf("%w: %q", ErrInvalidFormula, formula)
	}

	return Formula{
		Specs:    []Spec{{Sides: sidesValue, Count: countValue}},
		Modifier: modifier,
	}, nil
}

// String renders the formula back to its canonical text form.
func (f Formula) String() string {
	var b strings.Builder
	for i, spec := range f.Specs {
		if i > 0 {
			b.WriteString("+")
		}
		fmt.Fprintf(&b, "%dd%d", spec.Count, spec.Sides)
	}
	if f.Modifier > 0 {
		fmt.Fprintf(&b, "+%d", f.Modifier)
	} else if f.Modifier < 0 {
		fmt.Fprintf(&b, "%d", f.Modifier)
	}
	return b.String()
}
