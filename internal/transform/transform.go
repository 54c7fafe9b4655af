// Package transform derives log-ratio representations of a count matrix
// relative to a chosen reference (whole-set geometric mean, interquartile-
// stable subset, or an explicit feature subset).
package transform

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"propd/domain/compositional"
	"propd/internal/errors"
)

// Transform is the log-ratio representation of a count matrix. When alpha is
// set it additionally carries the alpha-power matrix used by the power-
// transform VLR approximation.
type Transform struct {
	lr     [][]float64 // n x d log-ratios against the reference
	pow    [][]float64 // n x d alpha-power counts, nil when alpha is unset
	alpha  float64     // 0 means unset
	refIdx []int       // reference feature indices
	n, d   int
}

// Apply builds the transform. Zero-count policy: zeros are replaced by 1
// before logging, so the log-ratio matrix is always finite; with alpha set,
// the raw counts additionally feed the power transform untouched, and the
// VLR variants read the power matrix instead of the log-ratios. An explicit
// reference containing a raw zero count in any sample fails with a
// REFERENCE_ZERO error under alpha because its geometric mean collapses.
func Apply(m *compositional.CountMatrix, mode compositional.ReferenceMode, subset []int, alpha float64) (*Transform, error) {
	if alpha < 0 {
		return nil, errors.InvalidInput("alpha must be positive when set")
	}
	n, d := m.Samples(), m.Features()

	t := &Transform{alpha: alpha, n: n, d: d}

	// Working copy with the zero convention applied.
	counts := make([][]float64, n)
	for s := 0; s < n; s++ {
		counts[s] = make([]float64, d)
		for f := 0; f < d; f++ {
			v := m.At(s, f)
			if v == 0 {
				v = 1
			}
			counts[s][f] = v
		}
	}

	refIdx, err := resolveReference(m, counts, mode, subset, alpha, d)
	if err != nil {
		return nil, err
	}
	t.refIdx = refIdx
	t.lr = logRatios(counts, refIdx)

	if alpha > 0 {
		pow := make([][]float64, n)
		for s := 0; s < n; s++ {
			pow[s] = make([]float64, d)
			for f := 0; f < d; f++ {
				pow[s][f] = math.Pow(m.At(s, f), alpha)
			}
		}
		t.pow = pow
	}

	return t, nil
}

// resolveReference picks the reference feature set for the requested mode.
// The subset zero check reads the raw matrix: under alpha the power transform
// uses the counts as given, so a zero in an explicit reference is fatal even
// though the auxiliary log-ratio matrix would tolerate it.
func resolveReference(m *compositional.CountMatrix, counts [][]float64, mode compositional.ReferenceMode, subset []int, alpha float64, d int) ([]int, error) {
	switch mode {
	case compositional.ReferenceCLR:
		return allFeatures(d), nil

	case compositional.ReferenceSubset:
		if len(subset) == 0 {
			return nil, errors.InvalidInput("subset reference mode requires at least one feature index")
		}
		for _, f := range subset {
			if f < 0 || f >= d {
				return nil, errors.InvalidInput(fmt.Sprintf("reference feature index %d out of range [0,%d)", f, d))
			}
		}
		if alpha > 0 {
			if s := sampleWithZeroReference(m, subset); s >= 0 {
				return nil, errors.ReferenceZero(s)
			}
		}
		return append([]int(nil), subset...), nil

	case compositional.ReferenceIQLR:
		// First pass against the whole-set reference, then keep the features
		// whose log-ratio variance lands between the first and third
		// quartile and rebuild the reference from exactly those.
		lr := logRatios(counts, allFeatures(d))
		variances := make([]float64, d)
		for f := 0; f < d; f++ {
			variances[f] = colVariance(lr, f)
		}
		q, err := stats.Quartile(variances)
		if err != nil {
			return nil, errors.Wrap(err, "quartile computation failed")
		}
		var stable []int
		for f, v := range variances {
			if v >= q.Q1 && v <= q.Q3 {
				stable = append(stable, f)
			}
		}
		if len(stable) == 0 {
			return nil, errors.InvalidInput("no features fall in the interquartile variance range")
		}
		return stable, nil
	}
	return nil, errors.InvalidInput(fmt.Sprintf("unknown reference mode %q", mode))
}

// logRatios computes lr[s][f] = log(x_sf) - mean over the reference of
// log(x_s.). The counts already carry the zero-replacement convention, so
// every entry is strictly positive.
func logRatios(counts [][]float64, refIdx []int) [][]float64 {
	n := len(counts)
	lr := make([][]float64, n)
	for s := 0; s < n; s++ {
		var refLogSum float64
		for _, f := range refIdx {
			refLogSum += math.Log(counts[s][f])
		}
		refLog := refLogSum / float64(len(refIdx))

		row := make([]float64, len(counts[s]))
		for f, v := range counts[s] {
			row[f] = math.Log(v) - refLog
		}
		lr[s] = row
	}
	return lr
}

func sampleWithZeroReference(m *compositional.CountMatrix, refIdx []int) int {
	for s := 0; s < m.Samples(); s++ {
		for _, f := range refIdx {
			if m.At(s, f) == 0 {
				return s
			}
		}
	}
	return -1
}

func allFeatures(d int) []int {
	idx := make([]int, d)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func colVariance(m [][]float64, f int) float64 {
	n := len(m)
	if n < 2 {
		return math.NaN()
	}
	var sum float64
	for s := 0; s < n; s++ {
		sum += m[s][f]
	}
	mean := sum / float64(n)
	var ss float64
	for s := 0; s < n; s++ {
		diff := m[s][f] - mean
		ss += diff * diff
	}
	return ss / float64(n-1)
}

// LR returns the log-ratio value for sample s, feature f.
func (t *Transform) LR(s, f int) float64 { return t.lr[s][f] }

// Data returns the log-ratio matrix as a read-only view.
func (t *Transform) Data() [][]float64 { return t.lr }

// PowData returns the alpha-power matrix as a read-only view, nil when alpha
// is unset.
func (t *Transform) PowData() [][]float64 { return t.pow }

// Alpha returns the power-transform parameter, 0 when unset.
func (t *Transform) Alpha() float64 { return t.alpha }

// HasAlpha reports whether the power-transform approximation is engaged.
func (t *Transform) HasAlpha() bool { return t.alpha > 0 }

// RefIndices returns a copy of the reference feature indices.
func (t *Transform) RefIndices() []int { return append([]int(nil), t.refIdx...) }

// Samples returns the number of samples.
func (t *Transform) Samples() int { return t.n }

// Features returns the number of features.
func (t *Transform) Features() int { return t.d }

// VarCols returns the sample variance of each log-ratio column.
func (t *Transform) VarCols() []float64 {
	out := make([]float64, t.d)
	for f := 0; f < t.d; f++ {
		out[f] = colVariance(t.lr, f)
	}
	return out
}
