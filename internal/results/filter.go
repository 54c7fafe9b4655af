// Package results implements the filtered results accessor consumed by
// reporting and visualization collaborators.
package results

import (
	"math"

	"propd/domain/compositional"
)

// Filter returns the pair indices kept at the given cutoff, honoring the
// analysis's cutoff direction: association metrics keep rows at or above the
// cutoff, differential and VLR-derived metrics keep rows at or below it.
// NaN values are never kept.
func Filter(a compositional.Analysis, cutoff float64) []int {
	values := a.Values()
	var kept []int
	for k, v := range values {
		if math.IsNaN(v) {
			continue
		}
		switch a.CutoffDirection() {
		case compositional.DirectionGreaterOrEqual:
			if v >= cutoff {
				kept = append(kept, k)
			}
		default:
			if v <= cutoff {
				kept = append(kept, k)
			}
		}
	}
	return kept
}

// All returns every pair index, for accessors called without a cutoff.
func All(a compositional.Analysis) []int {
	kept := make([]int, a.NumPairs())
	for k := range kept {
		kept[k] = k
	}
	return kept
}
