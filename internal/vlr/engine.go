// Package vlr computes variance-of-log-ratio sufficient statistics for every
// feature pair, over the whole sample set and over two group subsets. All
// variants reduce one pass of per-sample differences into sums and sums of
// squares; no n-by-pairs intermediate is ever materialized.
package vlr

import (
	"context"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"propd/domain/compositional"
	"propd/internal/errors"
	"propd/internal/transform"
)

// Snapshot holds per-pair VLR statistics in canonical pair order. P, P1 and
// P2 are the effective sizes: n_g - 1 unweighted, or the Omega modifier when
// precision weights are engaged.
type Snapshot struct {
	LRV  []float64
	LRV1 []float64
	LRV2 []float64
	P    []float64
	P1   []float64
	P2   []float64
	LRM1 []float64
	LRM2 []float64
}

// Engine computes VLR statistics against an immutable transform and optional
// precision weights. All methods are safe for concurrent use.
type Engine struct {
	t      *transform.Transform
	w      [][]float64 // n x d precision weights, nil when unweighted
	pairs  []compositional.Pair
	allIdx []int
	n, d   int
}

// NewEngine validates the optional weight matrix against the transform shape.
func NewEngine(t *transform.Transform, weights [][]float64) (*Engine, error) {
	n, d := t.Samples(), t.Features()
	if weights != nil {
		if len(weights) != n {
			return nil, errors.InvalidInput("weight matrix row count does not match sample count")
		}
		for _, row := range weights {
			if len(row) != d {
				return nil, errors.InvalidInput("weight matrix column count does not match feature count")
			}
			for _, w := range row {
				if w < 0 || math.IsNaN(w) {
					return nil, errors.InvalidInput("precision weights must be non-negative")
				}
			}
		}
	}
	allIdx := make([]int, n)
	for i := range allIdx {
		allIdx[i] = i
	}
	return &Engine{
		t:      t,
		w:      weights,
		pairs:  compositional.Enumerate(d),
		allIdx: allIdx,
		n:      n,
		d:      d,
	}, nil
}

// Pairs returns the canonical pair enumeration.
func (e *Engine) Pairs() []compositional.Pair { return e.pairs }

// NumPairs returns d(d-1)/2.
func (e *Engine) NumPairs() int { return len(e.pairs) }

// Compute fills a full snapshot: total VLR plus both group VLRs, effective
// sizes and group log-ratio means. Pairs are mutually independent, so the
// reduction fans out over blocks of pairs.
func (e *Engine) Compute(ctx context.Context, idx1, idx2 []int) (*Snapshot, error) {
	np := len(e.pairs)
	snap := &Snapshot{
		LRV:  make([]float64, np),
		LRV1: make([]float64, np),
		LRV2: make([]float64, np),
		P:    make([]float64, np),
		P1:   make([]float64, np),
		P2:   make([]float64, np),
		LRM1: make([]float64, np),
		LRM2: make([]float64, np),
	}

	err := e.forEachPair(ctx, func(k int) {
		pr := e.pairs[k]
		snap.LRV[k], snap.P[k], _ = e.pairStats(pr.Partner, pr.Index, e.allIdx)
		snap.LRV1[k], snap.P1[k], snap.LRM1[k] = e.pairStats(pr.Partner, pr.Index, idx1)
		snap.LRV2[k], snap.P2[k], snap.LRM2[k] = e.pairStats(pr.Partner, pr.Index, idx2)
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// ComputeTotal fills only the whole-set VLR and effective size, for the
// proportionality variant which has no group structure.
func (e *Engine) ComputeTotal(ctx context.Context) (*Snapshot, error) {
	np := len(e.pairs)
	snap := &Snapshot{
		LRV: make([]float64, np),
		P:   make([]float64, np),
	}
	err := e.forEachPair(ctx, func(k int) {
		pr := e.pairs[k]
		snap.LRV[k], snap.P[k], _ = e.pairStats(pr.Partner, pr.Index, e.allIdx)
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// GroupVLR recomputes only the two group VLRs and effective sizes into the
// caller's slices. This is the selective path used inside the permutation
// loop, where log-ratio means are never needed and the permutation-invariant
// total VLR is reused from the original snapshot.
func (e *Engine) GroupVLR(idx1, idx2 []int, lrv1, lrv2, p1, p2 []float64) {
	for k, pr := range e.pairs {
		lrv1[k], p1[k], _ = e.pairStats(pr.Partner, pr.Index, idx1)
		lrv2[k], p2[k], _ = e.pairStats(pr.Partner, pr.Index, idx2)
	}
}

// forEachPair runs fn for every pair index, fanning out over GOMAXPROCS
// blocks. Each slot is written by exactly one goroutine.
func (e *Engine) forEachPair(ctx context.Context, fn func(k int)) error {
	np := len(e.pairs)
	workers := runtime.GOMAXPROCS(0)
	if workers > np {
		workers = 1
	}
	block := (np + workers - 1) / workers

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo := w * block
		hi := lo + block
		if hi > np {
			hi = np
		}
		if lo >= hi {
			break
		}
		g.Go(func() error {
			for k := lo; k < hi; k++ {
				if k%4096 == 0 && ctx.Err() != nil {
					return ctx.Err()
				}
				fn(k)
			}
			return nil
		})
	}
	return g.Wait()
}

// pairStats computes (VLR, effective size, log-ratio mean) for features i, j
// over the sample subset idx, dispatching on the weighted and alpha variants.
func (e *Engine) pairStats(i, j int, idx []int) (v, p, lrm float64) {
	switch {
	case e.w == nil && !e.t.HasAlpha():
		return e.rawStats(i, j, idx)
	case e.w == nil && e.t.HasAlpha():
		return e.alphaStats(i, j, idx)
	case e.w != nil && !e.t.HasAlpha():
		return e.weightedStats(i, j, idx)
	default:
		return e.weightedAlphaStats(i, j, idx)
	}
}

// rawStats: sample variance of lr_i - lr_j with divisor m-1.
func (e *Engine) rawStats(i, j int, idx []int) (v, p, lrm float64) {
	m := len(idx)
	lr := e.t.Data()
	var s, ss float64
	for _, sIdx := range idx {
		d := lr[sIdx][i] - lr[sIdx][j]
		s += d
		ss += d * d
	}
	fm := float64(m)
	p = fm - 1
	if m < 2 {
		return math.NaN(), p, math.NaN()
	}
	lrm = s / fm
	v = (ss - s*s/fm) / (fm - 1)
	return v, p, lrm
}

// alphaStats: each feature's alpha-power series is normalized by its subset
// mean, the normalized series are differenced, and the squared differences
// divided by (m-1)*alpha^2. Tolerates zero counts without substitution. The
// log-ratio mean comes from the uncentered power means, log(mi/mj)/alpha,
// which recovers the raw log-ratio mean in the small-alpha limit.
func (e *Engine) alphaStats(i, j int, idx []int) (v, p, lrm float64) {
	m := len(idx)
	pow := e.t.PowData()
	alpha := e.t.Alpha()
	fm := float64(m)
	p = fm - 1
	if m < 2 {
		return math.NaN(), p, math.NaN()
	}

	var mi, mj float64
	for _, sIdx := range idx {
		mi += pow[sIdx][i]
		mj += pow[sIdx][j]
	}
	mi /= fm
	mj /= fm
	if mi == 0 || mj == 0 {
		return math.NaN(), p, math.NaN()
	}

	var ss float64
	for _, sIdx := range idx {
		d := pow[sIdx][i]/mi - pow[sIdx][j]/mj
		ss += d * d
	}
	v = ss / ((fm - 1) * alpha * alpha)
	lrm = math.Log(mi/mj) / alpha
	return v, p, lrm
}

// weightedStats: the per-pair weight vector is the elementwise product of the
// two features' precision weights; the m-1 divisor becomes the effective-size
// modifier Omega = sum(w) - sum(w^2)/sum(w).
func (e *Engine) weightedStats(i, j int, idx []int) (v, p, lrm float64) {
	lr := e.t.Data()
	var sw, sw2, swd float64
	for _, sIdx := range idx {
		w := e.w[sIdx][i] * e.w[sIdx][j]
		d := lr[sIdx][i] - lr[sIdx][j]
		sw += w
		sw2 += w * w
		swd += w * d
	}
	if sw == 0 {
		return math.NaN(), 0, math.NaN()
	}
	omega := sw - sw2/sw
	p = omega
	mu := swd / sw
	if omega <= 0 {
		return math.NaN(), p, mu
	}
	var ss float64
	for _, sIdx := range idx {
		w := e.w[sIdx][i] * e.w[sIdx][j]
		diff := (lr[sIdx][i] - lr[sIdx][j]) - mu
		ss += w * diff * diff
	}
	return ss / omega, p, mu
}

// weightedAlphaStats combines both adjustments: weighted means normalize the
// alpha-power series and Omega replaces the m-1 divisor. The log-ratio mean
// uses the uncentered weighted power means, as in alphaStats.
func (e *Engine) weightedAlphaStats(i, j int, idx []int) (v, p, lrm float64) {
	pow := e.t.PowData()
	alpha := e.t.Alpha()

	var sw, sw2, smi, smj float64
	for _, sIdx := range idx {
		w := e.w[sIdx][i] * e.w[sIdx][j]
		sw += w
		sw2 += w * w
		smi += w * pow[sIdx][i]
		smj += w * pow[sIdx][j]
	}
	if sw == 0 {
		return math.NaN(), 0, math.NaN()
	}
	omega := sw - sw2/sw
	p = omega
	mi := smi / sw
	mj := smj / sw
	if omega <= 0 || mi == 0 || mj == 0 {
		return math.NaN(), p, math.NaN()
	}

	var ss float64
	for _, sIdx := range idx {
		w := e.w[sIdx][i] * e.w[sIdx][j]
		d := pow[sIdx][i]/mi - pow[sIdx][j]/mj
		ss += w * d * d
	}
	v = ss / (omega * alpha * alpha)
	lrm = math.Log(mi/mj) / alpha
	return v, p, lrm
}
