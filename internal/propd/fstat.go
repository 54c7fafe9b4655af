package propd

import (
	"context"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"propd/domain/compositional"
	"propd/internal/errors"
)

// UpdateF converts theta_d into an F-statistic and appends the theta_mod,
// Fstat and Pval columns to the results table; the earlier columns are never
// touched. Requires theta_d as the active statistic.
//
// Unmoderated: Fstat = (n1+n2-2)(1-theta_d)/theta_d, p-value from the
// upper tail of F(1, n1+n2-2).
//
// Moderated: the moderation collaborator is fitted on the reference-
// normalized pseudo-count matrix, yielding prior degrees of freedom z.df and
// prior variance z.s2. Per pair, mod = z.df*z.s2/VLR,
// Fprime = (1-theta)(n+z.df)/(n*theta + mod), Fstat = (n+z.df-2)*Fprime and
// theta_mod = 1/(1+Fprime); the p-value uses F(1, n+z.df-2).
func (a *Analysis) UpdateF(ctx context.Context, moderated bool) error {
	if a.active != compositional.StatThetaD {
		return errors.ModerationPrecondition("F-statistic requires theta_d as the active statistic")
	}
	if !moderated {
		a.updateFPlain()
		return nil
	}
	if a.opts.moderation == nil {
		return errors.ModerationPrecondition("moderated F-statistic requires the moderation collaborator")
	}

	pseudo, design, err := a.moderationInputs()
	if err != nil {
		return err
	}
	fit, err := a.opts.moderation.Fit(ctx, design, pseudo)
	if err != nil {
		return errors.Wrap(err, "moderation fit failed")
	}
	a.modFit = fit

	n := a.fDegree
	df2 := n + fit.PriorDF - 2
	fdist := distuv.F{D1: 1, D2: df2}

	a.thetaMod = make([]float64, len(a.pairs))
	for k := range a.pairs {
		theta := a.thetaD[k]
		tmod := moderatedTheta(theta, a.snap.LRV[k], n, fit.PriorDF, fit.PriorVar)
		a.thetaMod[k] = tmod

		fprime := 1/tmod - 1
		fstat := df2 * fprime
		a.rows[k].ThetaMod = tmod
		a.rows[k].FStat = fstat
		a.rows[k].PVal = upperTail(fdist, fstat)
	}
	return nil
}

// updateFPlain appends the unmoderated F-statistic columns. theta_mod stays
// NaN on this path.
func (a *Analysis) updateFPlain() {
	n := a.fDegree
	fdist := distuv.F{D1: 1, D2: n - 2}
	for k := range a.pairs {
		theta := a.thetaD[k]
		var fstat float64
		if theta == 0 {
			fstat = math.Inf(1)
		} else {
			fstat = (n - 2) * (1 - theta) / theta
		}
		a.rows[k].FStat = fstat
		a.rows[k].PVal = upperTail(fdist, fstat)
	}
}

// moderatedTheta applies the moderated F-prime relation for one pair.
// Degenerate VLR collapses it to 1, matching the per-statistic clamp.
func moderatedTheta(theta, lrv, n, priorDF, priorVar float64) float64 {
	if math.IsNaN(lrv) || lrv == 0 || theta == 1 {
		return 1
	}
	mod := priorDF * priorVar / lrv
	fprime := (1 - theta) * (n + priorDF) / (n*theta + mod)
	return 1 / (1 + fprime)
}

// QTheta solves the F relation backwards: the theta cutoff whose F-statistic
// sits exactly at the upper-tail quantile for the target p-value. The
// inversion is algebraic, not approximate. The moderated form requires a
// prior moderated fit and returns a theta_mod cutoff.
func (a *Analysis) QTheta(pval float64, moderated bool) (float64, error) {
	if a.active != compositional.StatThetaD {
		return 0, errors.ModerationPrecondition("theta cutoffs require theta_d as the active statistic")
	}
	if pval <= 0 || pval >= 1 {
		return 0, errors.InvalidInput("target p-value must be in (0, 1)")
	}
	n := a.fDegree
	if !moderated {
		// Fstat = (n-2)(1-theta)/theta == q  =>  theta = (n-2)/(q+n-2)
		q := distuv.F{D1: 1, D2: n - 2}.Quantile(1 - pval)
		return (n - 2) / (q + n - 2), nil
	}
	if a.modFit == nil {
		return 0, errors.ModerationPrecondition("moderated theta cutoff requested before any moderated fit has run")
	}
	// Fstat = (n+z.df-2)*Fprime == q  =>  theta_mod = 1/(1+q/(n+z.df-2))
	df2 := n + a.modFit.PriorDF - 2
	q := distuv.F{D1: 1, D2: df2}.Quantile(1 - pval)
	return 1 / (1 + q/df2), nil
}

// moderationInputs builds (and caches) the reference-normalized pseudo-count
// matrix and the two-group design handed to the moderation collaborator. The
// reference defaults to the whole-set geometric mean; when any count is zero
// the reference is built from counts offset by 1, an explicit deviation that
// keeps the geometric mean finite.
func (a *Analysis) moderationInputs() ([][]float64, [][]float64, error) {
	if a.pseudo != nil {
		return a.pseudo, a.design, nil
	}
	n, d := a.counts.Samples(), a.counts.Features()

	offset := 0.0
	for s := 0; s < n && offset == 0; s++ {
		for f := 0; f < d; f++ {
			if a.counts.At(s, f) == 0 {
				offset = 1
				break
			}
		}
	}

	refIdx, err := a.moderationReference(offset)
	if err != nil {
		return nil, nil, err
	}

	pseudo := make([][]float64, n)
	for s := 0; s < n; s++ {
		var logSum float64
		for _, f := range refIdx {
			v := a.counts.At(s, f) + offset
			if v == 0 {
				return nil, nil, errors.ReferenceZero(s)
			}
			logSum += math.Log(v)
		}
		gm := math.Exp(logSum / float64(len(refIdx)))

		row := make([]float64, d)
		for f := 0; f < d; f++ {
			row[f] = (a.counts.At(s, f) + offset) / gm
		}
		pseudo[s] = row
	}

	a.pseudo = pseudo
	a.design = designFor(n, a.labels.Group1Indices())
	return a.pseudo, a.design, nil
}

// moderationReference resolves the reference feature set for the moderated
// fit, honoring the configured moderation reference mode.
func (a *Analysis) moderationReference(offset float64) ([]int, error) {
	d := a.counts.Features()
	switch a.opts.modRefMode {
	case compositional.ReferenceCLR, compositional.ReferenceIQLR:
		// The interquartile-stable subset is a transform-side concern; the
		// moderated fit always normalizes against the full geometric mean
		// unless an explicit subset is configured.
		idx := make([]int, d)
		for i := range idx {
			idx[i] = i
		}
		return idx, nil
	case compositional.ReferenceSubset:
		if len(a.opts.modRefSubset) == 0 {
			return nil, errors.InvalidInput("moderation subset reference requires at least one feature index")
		}
		for _, f := range a.opts.modRefSubset {
			if f < 0 || f >= d {
				return nil, errors.InvalidInput("moderation reference feature index out of range")
			}
		}
		return append([]int(nil), a.opts.modRefSubset...), nil
	}
	return nil, errors.InvalidInput("unknown moderation reference mode")
}

// designFor builds an n x 2 indicator design with group 1 membership given
// by idx1.
func designFor(n int, idx1 []int) [][]float64 {
	in1 := make([]bool, n)
	for _, s := range idx1 {
		in1[s] = true
	}
	design := make([][]float64, n)
	for s := 0; s < n; s++ {
		if in1[s] {
			design[s] = []float64{1, 0}
		} else {
			design[s] = []float64{0, 1}
		}
	}
	return design
}

func upperTail(f distuv.F, x float64) float64 {
	if math.IsInf(x, 1) {
		return 0
	}
	if math.IsNaN(x) {
		return math.NaN()
	}
	return 1 - f.CDF(x)
}
