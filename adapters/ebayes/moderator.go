// Package ebayes is the reference moderation collaborator: it fits a
// two-group linear model per feature and shrinks the residual variances by
// empirical-Bayes moment matching on the log-variance scale, yielding the
// prior degrees of freedom and prior variance the moderated F path consumes.
// The engines only depend on ports.ModerationPort; any collaborator honoring
// that contract can replace this one.
package ebayes

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mathext"

	"propd/internal/errors"
	"propd/ports"
)

// maxPriorDF caps the prior degrees of freedom when the log-variances show
// no excess spread beyond sampling noise (the infinite-shrinkage case).
const maxPriorDF = 1e6

// Moderator is stateless; Fit is deterministic given its inputs.
type Moderator struct{}

// New returns the reference moderation collaborator.
func New() *Moderator { return &Moderator{} }

// Fit estimates per-feature residual variances under the indicator design,
// then moment-matches a scaled inverse chi-square prior to them. It also
// produces per-feature posterior-precision weights, replicated across
// samples, for the weighted VLR path.
func (m *Moderator) Fit(ctx context.Context, design [][]float64, data [][]float64) (*ports.ModerationFit, error) {
	n := len(data)
	if n == 0 {
		return nil, errors.InvalidInput("moderation fit requires at least one sample")
	}
	d := len(data[0])
	if len(design) != n {
		return nil, errors.InvalidInput("design row count does not match data row count")
	}
	k := len(design[0])
	if k < 1 || n-k < 1 {
		return nil, errors.InvalidInput("design leaves no residual degrees of freedom")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Sample-to-group assignment from the indicator design.
	group := make([]int, n)
	counts := make([]float64, k)
	for s := 0; s < n; s++ {
		g := -1
		for c := 0; c < k; c++ {
			if design[s][c] != 0 {
				g = c
				break
			}
		}
		if g < 0 {
			return nil, errors.InvalidInput("design row assigns a sample to no group")
		}
		group[s] = g
		counts[g]++
	}

	df := float64(n - k)
	s2 := make([]float64, d)
	logged := make([][]float64, n)
	for s := 0; s < n; s++ {
		logged[s] = make([]float64, d)
		for f := 0; f < d; f++ {
			v := data[s][f]
			if v <= 0 {
				return nil, errors.InvalidInput("moderation fit requires strictly positive pseudo counts")
			}
			logged[s][f] = math.Log(v)
		}
	}

	for f := 0; f < d; f++ {
		means := make([]float64, k)
		for s := 0; s < n; s++ {
			means[group[s]] += logged[s][f]
		}
		for g := 0; g < k; g++ {
			means[g] /= counts[g]
		}
		var ss float64
		for s := 0; s < n; s++ {
			r := logged[s][f] - means[group[s]]
			ss += r * r
		}
		s2[f] = ss / df
	}

	priorDF, priorVar := squeeze(s2, df)

	weights := make([][]float64, n)
	wf := make([]float64, d)
	for f := 0; f < d; f++ {
		post := (priorDF*priorVar + df*s2[f]) / (priorDF + df)
		if post > 0 {
			wf[f] = 1 / post
		}
	}
	for s := 0; s < n; s++ {
		weights[s] = append([]float64(nil), wf...)
	}

	return &ports.ModerationFit{
		PriorDF:  priorDF,
		PriorVar: priorVar,
		Weights:  weights,
	}, nil
}

// squeeze moment-matches a scaled inverse chi-square prior to the observed
// variances: on the log scale, e = log(s2) - digamma(df/2) + log(df/2) has
// mean log(s0^2) + digamma(d0/2) - log(d0/2) and excess variance
// trigamma(d0/2), which pins down d0 and s0^2.
func squeeze(s2 []float64, df float64) (priorDF, priorVar float64) {
	var e []float64
	for _, v := range s2 {
		if v > 0 && !math.IsNaN(v) {
			e = append(e, math.Log(v)-mathext.Digamma(df/2)+math.Log(df/2))
		}
	}
	if len(e) < 2 {
		return maxPriorDF, meanOf(s2)
	}

	var mean float64
	for _, v := range e {
		mean += v
	}
	mean /= float64(len(e))

	var ss float64
	for _, v := range e {
		diff := v - mean
		ss += diff * diff
	}
	evar := ss/float64(len(e)-1) - trigamma(df/2)

	if evar <= 0 {
		return maxPriorDF, math.Exp(mean)
	}
	priorDF = 2 * trigammaInverse(evar)
	if priorDF > maxPriorDF {
		priorDF = maxPriorDF
	}
	priorVar = math.Exp(mean + mathext.Digamma(priorDF/2) - math.Log(priorDF/2))
	return priorDF, priorVar
}

func trigamma(x float64) float64 {
	return mathext.Zeta(2, x)
}

// tetragamma is the derivative of trigamma.
func tetragamma(x float64) float64 {
	return -2 * mathext.Zeta(3, x)
}

// trigammaInverse solves trigamma(y) == x by Newton iteration, with the
// asymptotic forms as fallbacks at the extremes.
func trigammaInverse(x float64) float64 {
	if x > 1e7 {
		return 1 / math.Sqrt(x)
	}
	if x < 1e-6 {
		return 1 / x
	}
	y := 0.5 + 1/x
	for i := 0; i < 50; i++ {
		tri := trigamma(y)
		dif := tri * (1 - tri/x) / tetragamma(y)
		y += dif
		if math.Abs(dif/y) < 1e-8 {
			break
		}
	}
	return y
}

func meanOf(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}
