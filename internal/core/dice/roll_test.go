package dice

import (
	"errors"
	"math/rand"
	"testing"
)

func TestRollWithRngDeterminism(t *testing.T) {
	specs := []Spec{{Sides: 6, Count: 2}, {Sides: 8, Count: 1}}

	first, err := RollWithRng(rand.New(rand.NewSource(1)), specs)
	if err != nil {
		t.Fatalf("first roll: %v", err)
	}
	second, err := RollWithRng(rand.New(rand.NewSource(1)), specs)
	if err != nil {
		t.Fatalf("second roll: %v", err)
	}

	if first.Total != second.Total {
		t.Fatalf("expected identical totals, got %d and %d", first.Total, second.Total)
	}
	if len(first.Rolls) != 2 {
		t.Fatalf("expected 2 roll groups, got %d", len(first.Rolls))
	}
}

func TestRollWithRngBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	result, err := RollWithRng(rng, []Spec{{Sides: 20, Count: 100}})
	if err != nil {
		t.Fatalf("roll: %v", err)
	}
	for _, value := range result.Rolls[0].Results {
		if value < 1 || value > 20 {
			t.Fatalf("die value %d out of range [1,20]", value)
		}
	}
}

func TestRollWithRngErrors(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	if _, err := RollWithRng(rng, nil); !errors.Is(err, ErrMissingDice) {
		t.Fatalf("expected ErrMissingDice, got %v", err)
	}
	if _, err := RollWithRng(rng, []Spec{{Sides: 0, Count: 1}}); !errors.Is(err, ErrInvalidDiceSpec) {
		t.Fatalf("expected ErrInvalidDiceSpec, got %v", err)
	}
	if _, err := RollWithRng(rng, []Spec{{Sides: 6, Count: 0}}); !errors.Is(err, ErrInvalidDiceSpec) {
		t.Fatalf("expected ErrInvalidDiceSpec, got %v", err)
	}
}

func TestRollFormula(t *testing.T) {
	tests := []struct {
		name     string
		formula  string
		modifier int
	}{
		{"plain d20", "1d20", 0},
		{"positive modifier", "1d20+3", 3},
		{"negative modifier", "1d20-2", -2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := RollFormula(rand.New(rand.NewSource(7)), tt.formula)
			if err != nil {
				t.Fatalf("roll formula: %v", err)
			}
			if result.Modifier != tt.modifier {
				t.Fatalf("expected modifier %d, got %d", tt.modifier, result.Modifier)
			}
			die := result.Rolls[0].Results[0]
			if result.Total != die+tt.modifier {
				t.Fatalf("expected total %d, got %d", die+tt.modifier, result.Total)
			}
		})
	}
}

func TestRollFormulaInvalid(t *testing.T) {
	if _, err := RollFormula(rand.New(rand.NewSource(1)), "d20+"); !errors.Is(err, ErrInvalidFormula) {
		t.Fatalf("expected ErrInvalidFormula, got %v", err)
	}
}
