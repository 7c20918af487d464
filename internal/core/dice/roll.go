package dice

import "math/rand"

// RollWithRng rolls dice using a provided random source.
//
// # Ordering
//
// Specs are processed in slice order. The resulting Roll entries in
// Result.Rolls appear in the same order as the corresponding Spec entries.
//
// # Totals
//
// For each Roll in Result.Rolls, the Total field is the sum of all values in
// Results for that dice specification. Result.Total is the sum of Total for
// all Roll entries plus Result.Modifier.
//
// # Errors
//
//   - At least one Spec must be provided, otherwise ErrMissingDice is
//     returned.
//   - Each Spec must have Sides > 0 and Count > 0, otherwise
//     ErrInvalidDiceSpec is returned.
func RollWithRng(rng *rand.Rand, specs []Spec) (Result, error) {
	if len(specs) == 0 {
		return Result{}, ErrMissingDice
	}

	rolls := make([]Roll, 0, len(specs))
	total := 0

	for _, spec := range specs {
		if spec.Sides <= 0 || spec.Count <= 0 {
			return Result{}, ErrInvalidDiceSpec
		}

		results := make([]int, spec.Count)
		rollTotal := 0
		for i := 0; i < spec.Count; i++ {
			value := rollDie(rng, spec.Sides)
			results[i] = value
			rollTotal += value
		}

		rolls = append(rolls, Roll{
			Sides:   spec.Sides,
			Results: results,
			Total:   rollTotal,
		})
		total += rollTotal
	}

	return Result{
		Rolls: rolls,
		Total: total,
	}, nil
}

// RollFormula parses and rolls a formula such as "1d20", "1d20+3" or
// "2d6-1" using the provided random source. The flat modifier is carried in
// Result.Modifier and included in Result.Total.
func RollFormula(rng *rand.Rand, formula string) (Result, error) {
	parsed, err := ParseFormula(formula)
	if err != nil {
		return Result{}, err
	}

	result, err := RollWithRng(rng, parsed.Specs)
	if err != nil {
		return Result{}, err
	}

	result.Modifier = parsed.Modifier
	result.Total += parsed.Modifier
	return result, nil
}

// rollDie rolls a single die with the provided number of sides.
func rollDie(rng *rand.Rand, sides int) int {
	return rng.Intn(sides) + 1
}
