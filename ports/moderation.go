// Package ports defines the contracts consumed by the statistical engines.
package ports

import "context"

// ModerationFit is the output of the empirical-Bayes moderation collaborator:
// the prior degrees of freedom and prior variance shared across features, and
// optionally a per-sample, per-feature precision weight matrix for the
// weighted VLR path.
type ModerationFit struct {
	PriorDF  float64
	PriorVar float64
	Weights  [][]float64 // n x d, nil when the collaborator produces none
}

// ModerationPort fits an empirical-Bayes model on reference-normalized data.
// design is an n x k per-sample group indicator matrix; data is the n x d
// reference-normalized pseudo-count matrix. Implementations are stateless and
// deterministic given their inputs.
type ModerationPort interface {
	Fit(ctx context.Context, design [][]float64, data [][]float64) (*ModerationFit, error)
}
