package propd

import (
	"context"
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"

	"propd/domain/compositional"
	"propd/internal/errors"
)

// Progress reports completed permutations during a long FDR run. It may be
// nil. Calls happen between permutation iterations, which is also where
// cancellation takes effect.
type Progress func(done, total int)

// UpdateCutoffs estimates the false discovery rate of the active statistic
// at each requested cutoff by replaying the stored permutation set. The
// total VLR is permutation-invariant and reused from the original snapshot;
// only the group VLRs are recomputed per permutation. Identical analysis and
// cutoff list produce a bit-identical table: per-permutation counts land in
// slots indexed by permutation number and the final reduction runs
// sequentially in index order.
//
// With theta_mod active there is no closed-form shortcut: every permutation
// refits the moderation model against the permuted design, which dominates
// the cost. That fit is the unit of work distributed across workers.
func (a *Analysis) UpdateCutoffs(ctx context.Context, cutoffs []float64, progress Progress) ([]compositional.FDRRow, error) {
	if len(a.perms) == 0 {
		return nil, errors.PermutationDisabled()
	}
	if len(cutoffs) == 0 {
		return nil, errors.InvalidInput("no cutoffs supplied")
	}
	if !sort.Float64sAreSorted(cutoffs) {
		return nil, errors.InvalidInput("cutoffs must be ascending")
	}
	if a.active == compositional.StatThetaMod && a.opts.moderation == nil {
		return nil, errors.ModerationPrecondition("theta_mod FDR requires the moderation collaborator")
	}

	observed := a.Values()
	trueCounts := countBelow(observed, cutoffs)

	np := len(a.pairs)
	total := len(a.perms)
	permCounts := make([][]float64, total)

	var mu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i := range a.perms {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			perm := a.perms[i]
			idx1 := perm[:a.n1]
			idx2 := perm[a.n1:]

			var values []float64
			if a.active == compositional.StatThetaMod {
				v, err := a.permutedThetaMod(gctx, idx1, idx2)
				if err != nil {
					return err
				}
				values = v
			} else {
				lrv1 := make([]float64, np)
				lrv2 := make([]float64, np)
				p1 := make([]float64, np)
				p2 := make([]float64, np)
				a.engine.GroupVLR(idx1, idx2, lrv1, lrv2, p1, p2)

				values = make([]float64, np)
				for k := 0; k < np; k++ {
					values[k] = thetaOne(a.active, a.snap.LRV[k], lrv1[k], lrv2[k], a.snap.P[k], p1[k], p2[k])
				}
			}
			permCounts[i] = countBelow(values, cutoffs)

			if progress != nil {
				mu.Lock()
				done++
				progress(done, total)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	table := make([]compositional.FDRRow, len(cutoffs))
	for c := range cutoffs {
		var sum float64
		for i := 0; i < total; i++ {
			sum += permCounts[i][c]
		}
		randMean := sum / float64(total)
		row := compositional.FDRRow{
			Cutoff:     cutoffs[c],
			RandCounts: randMean,
			TrueCounts: trueCounts[c],
		}
		// Zero observed pairs below the cutoff leaves the ratio undefined;
		// report NaN rather than failing.
		if trueCounts[c] == 0 {
			row.FDR = math.NaN()
		} else {
			row.FDR = randMean / trueCounts[c]
		}
		table[c] = row
		a.logNullSummary(cutoffs[c], permCounts, c)
	}
	return table, nil
}

// logNullSummary reports the spread of the permuted counts behind one FDR
// row, so a skewed null distribution is visible without rerunning.
func (a *Analysis) logNullSummary(cutoff float64, permCounts [][]float64, c int) {
	counts := make([]float64, len(permCounts))
	for i := range permCounts {
		counts[i] = permCounts[i][c]
	}
	q, err := stats.Quartile(counts)
	if err != nil {
		return
	}
	a.log.Debug("null counts at cutoff %g: Q1=%g median=%g Q3=%g", cutoff, q.Q1, q.Q2, q.Q3)
}

// permutedThetaMod recomputes theta_mod under a permuted group assignment:
// a full moderation refit against the permuted design, then the moderated
// F-prime relation per pair using the permutation-invariant total VLR.
func (a *Analysis) permutedThetaMod(ctx context.Context, idx1, idx2 []int) ([]float64, error) {
	pseudo, _, err := a.moderationInputs()
	if err != nil {
		return nil, err
	}
	design := designFor(a.counts.Samples(), idx1)
	fit, err := a.opts.moderation.Fit(ctx, design, pseudo)
	if err != nil {
		return nil, errors.Wrap(err, "moderation refit failed during permutation")
	}

	np := len(a.pairs)
	lrv1 := make([]float64, np)
	lrv2 := make([]float64, np)
	p1 := make([]float64, np)
	p2 := make([]float64, np)
	a.engine.GroupVLR(idx1, idx2, lrv1, lrv2, p1, p2)

	values := make([]float64, np)
	for k := 0; k < np; k++ {
		theta := thetaOne(compositional.StatThetaD, a.snap.LRV[k], lrv1[k], lrv2[k], a.snap.P[k], p1[k], p2[k])
		values[k] = moderatedTheta(theta, a.snap.LRV[k], a.fDegree, fit.PriorDF, fit.PriorVar)
	}
	return values, nil
}

// countBelow returns, per cutoff, how many values fall strictly below it.
// Counts are float64 because they feed the mean-across-permutations
// reduction.
func countBelow(values, cutoffs []float64) []float64 {
	counts := make([]float64, len(cutoffs))
	for _, v := range values {
		for c, cut := range cutoffs {
			if v < cut {
				counts[c]++
			}
		}
	}
	return counts
}
