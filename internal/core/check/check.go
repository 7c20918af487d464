// Package check compares roll totals against disclosure thresholds.
package check

// MeetsThreshold returns true if total >= threshold. A roll meets a
// disclosure threshold on an exact tie.
func MeetsThreshold(total, threshold int) bool {
	return total >= threshold
}

// Margin calculates the margin of success or failure.
// Positive values indicate success, negative indicate failure.
func Margin(total, threshold int) int {
	return total - threshold
}

// Result represents the outcome of a threshold check.
type Result struct {
	Success bool
	Margin  int
}

// Against performs a threshold check and returns the result.
func Against(total, threshold int) Result {
	return Result{
		Success: MeetsThreshold(total, threshold),
		Margin:  Margin(total, threshold),
	}
}
