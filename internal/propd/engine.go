// Package propd implements differential proportionality analysis over a
// two-group count matrix: the theta statistics, the permutation FDR engine
// and the (optionally moderated) F-statistic engine.
package propd

import (
	"context"
	"math"
	"math/rand"

	"propd/domain/compositional"
	"propd/internal"
	"propd/internal/errors"
	"propd/internal/transform"
	"propd/internal/vlr"
	"propd/ports"
)

// DefaultSeed seeds the permutation set when no override is given. The seed
// is fixed at construction and reused by every later FDR call so repeated
// runs on the same analysis are reproducible.
const DefaultSeed int64 = 42

type options struct {
	alpha        float64
	permutations int
	seed         int64
	weighted     bool
	weights      [][]float64
	moderation   ports.ModerationPort
	refMode      compositional.ReferenceMode
	refSubset    []int
	modRefMode   compositional.ReferenceMode
	modRefSubset []int
	logger       *internal.Logger
}

// Option configures an Analysis at construction.
type Option func(*options)

// WithAlpha engages the power-transform VLR approximation. Alpha must be
// non-zero; zero counts are then tolerated without substitution.
func WithAlpha(alpha float64) Option {
	return func(o *options) { o.alpha = alpha }
}

// WithPermutations sets the permutation count p. Zero disables FDR
// estimation.
func WithPermutations(p int) Option {
	return func(o *options) { o.permutations = p }
}

// WithSeed overrides the permutation seed.
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

// Weighted enables precision-weighted VLR. Weights come either from
// WithWeights or from the moderation collaborator.
func Weighted() Option {
	return func(o *options) { o.weighted = true }
}

// WithWeights supplies an explicit n x d precision weight matrix.
func WithWeights(w [][]float64) Option {
	return func(o *options) { o.weights = w }
}

// WithModeration attaches the empirical-Bayes moderation collaborator used
// by the moderated F-statistic path and, in weighted mode, as the weight
// source.
func WithModeration(m ports.ModerationPort) Option {
	return func(o *options) { o.moderation = m }
}

// WithReference selects the log-ratio reference for the transform. subset is
// only consulted in subset mode.
func WithReference(mode compositional.ReferenceMode, subset []int) Option {
	return func(o *options) {
		o.refMode = mode
		o.refSubset = subset
	}
}

// WithModerationReference selects the reference used when building the
// moderated fit's pseudo-count matrix (default: whole-set geometric mean).
func WithModerationReference(mode compositional.ReferenceMode, subset []int) Option {
	return func(o *options) {
		o.modRefMode = mode
		o.modRefSubset = subset
	}
}

// WithLogger overrides the default logger.
func WithLogger(l *internal.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Analysis is the differential-proportionality results object. The count
// matrix, labels, alpha, permutation set and theta table are fixed at
// construction; the moderated columns are appended once by UpdateF; the
// active statistic changes only through WithActive, which returns a new
// handle.
type Analysis struct {
	counts *compositional.CountMatrix
	labels *compositional.GroupLabels
	opts   options
	log    *internal.Logger

	trans  *transform.Transform
	engine *vlr.Engine
	snap   *vlr.Snapshot
	pairs  []compositional.Pair

	thetaD     []float64
	thetaE     []float64
	thetaF     []float64
	thetaMod   []float64 // nil until a moderated fit has run
	degenerate []bool

	rows   []compositional.ResultRow
	active compositional.Statistic

	perms [][]int // fixed permutation set, one sample ordering per entry

	modFit  *ports.ModerationFit
	pseudo  [][]float64 // cached moderation input matrix
	design  [][]float64 // cached two-group design
	n1, n2  int
	fDegree float64 // n1 + n2
}

// New constructs the analysis: transforms the counts, computes the full VLR
// snapshot, derives all three theta statistics and generates the permutation
// set. The active statistic starts as theta_d.
func New(counts *compositional.CountMatrix, labels *compositional.GroupLabels, opts ...Option) (*Analysis, error) {
	o := options{
		seed:       DefaultSeed,
		refMode:    compositional.ReferenceCLR,
		modRefMode: compositional.ReferenceCLR,
		logger:     internal.DefaultLogger,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if labels.Len() != counts.Samples() {
		return nil, errors.InvalidGroup("group vector length does not match sample count")
	}
	if o.alpha < 0 {
		return nil, errors.InvalidInput("alpha must be positive when set")
	}
	if o.permutations < 0 {
		return nil, errors.InvalidInput("permutation count must be non-negative")
	}

	a := &Analysis{
		counts: counts,
		labels: labels,
		opts:   o,
		log:    o.logger,
		active: compositional.StatThetaD,
		n1:     len(labels.Group1Indices()),
		n2:     len(labels.Group2Indices()),
	}
	a.fDegree = float64(a.n1 + a.n2)

	t, err := transform.Apply(counts, o.refMode, o.refSubset, o.alpha)
	if err != nil {
		return nil, err
	}
	a.trans = t

	weights, err := a.resolveWeights()
	if err != nil {
		return nil, err
	}

	engine, err := vlr.NewEngine(t, weights)
	if err != nil {
		return nil, err
	}
	a.engine = engine
	a.pairs = engine.Pairs()

	snap, err := engine.Compute(context.Background(), labels.Group1Indices(), labels.Group2Indices())
	if err != nil {
		return nil, err
	}
	a.snap = snap

	a.computeThetas()
	a.buildRows()
	a.generatePermutations()

	return a, nil
}

// resolveWeights returns the precision weight matrix for weighted mode, or
// nil when unweighted.
func (a *Analysis) resolveWeights() ([][]float64, error) {
	if !a.opts.weighted {
		return nil, nil
	}
	if a.opts.weights != nil {
		return a.opts.weights, nil
	}
	if a.opts.moderation == nil {
		return nil, errors.ModerationPrecondition("weighted mode requires either an explicit weight matrix or a moderation collaborator")
	}
	pseudo, design, err := a.moderationInputs()
	if err != nil {
		return nil, err
	}
	fit, err := a.opts.moderation.Fit(context.Background(), design, pseudo)
	if err != nil {
		return nil, errors.Wrap(err, "moderation collaborator failed to produce weights")
	}
	if fit.Weights == nil {
		return nil, errors.ModerationPrecondition("moderation collaborator produced no precision weights")
	}
	return fit.Weights, nil
}

// computeThetas derives theta_d, theta_e and theta_f for every pair, forcing
// each statistic to 1 where the VLR is degenerate. A single aggregate notice
// is logged, never one per row.
func (a *Analysis) computeThetas() {
	np := len(a.pairs)
	a.thetaD = make([]float64, np)
	a.thetaE = make([]float64, np)
	a.thetaF = make([]float64, np)
	a.degenerate = make([]bool, np)

	degCount := 0
	for k := 0; k < np; k++ {
		td, te, tf, deg := thetaAll(
			a.snap.LRV[k], a.snap.LRV1[k], a.snap.LRV2[k],
			a.snap.P[k], a.snap.P1[k], a.snap.P2[k],
		)
		a.thetaD[k], a.thetaE[k], a.thetaF[k] = td, te, tf
		a.degenerate[k] = deg
		if deg {
			degCount++
		}
	}
	if degCount > 0 {
		a.log.Warn("%d of %d pairs had zero or undefined log-ratio variance; their theta values were forced to 1", degCount, np)
	}
}

// buildRows materializes the results table in canonical pair order. The
// moderated columns stay NaN until UpdateF appends them.
func (a *Analysis) buildRows() {
	a.rows = make([]compositional.ResultRow, len(a.pairs))
	for k, pr := range a.pairs {
		a.rows[k] = compositional.ResultRow{
			Partner:  a.counts.FeatureName(pr.Partner),
			Pair:     a.counts.FeatureName(pr.Index),
			Theta:    a.thetaD[k],
			ThetaE:   a.thetaE[k],
			ThetaF:   a.thetaF[k],
			LRV:      a.snap.LRV[k],
			LRV1:     a.snap.LRV1[k],
			LRV2:     a.snap.LRV2[k],
			LRM1:     a.snap.LRM1[k],
			LRM2:     a.snap.LRM2[k],
			P1:       a.snap.P1[k],
			P2:       a.snap.P2[k],
			P:        a.snap.P[k],
			ThetaMod: math.NaN(),
			FStat:    math.NaN(),
			PVal:     math.NaN(),
		}
	}
}

// generatePermutations draws the permutation set once from the fixed seed.
// Later FDR calls replay these orderings, never regenerate them.
func (a *Analysis) generatePermutations() {
	if a.opts.permutations == 0 {
		return
	}
	rng := rand.New(rand.NewSource(a.opts.seed))
	n := a.counts.Samples()
	a.perms = make([][]int, a.opts.permutations)
	for i := range a.perms {
		a.perms[i] = rng.Perm(n)
	}
}

// WithActive returns a new handle with the given active statistic. The
// underlying tables are shared; nothing is recomputed. Selecting theta_mod
// before a moderated fit has run fails.
func (a *Analysis) WithActive(stat compositional.Statistic) (*Analysis, error) {
	switch stat {
	case compositional.StatThetaD, compositional.StatThetaE, compositional.StatThetaF:
	case compositional.StatThetaMod:
		if a.thetaMod == nil {
			return nil, errors.ModerationPrecondition("theta_mod cannot be activated before a moderated fit has run")
		}
	default:
		return nil, errors.InvalidInput("unknown statistic " + string(stat))
	}
	next := *a
	next.active = stat
	return &next, nil
}

// Active returns the active statistic.
func (a *Analysis) Active() compositional.Statistic { return a.active }

// NumPairs returns d(d-1)/2.
func (a *Analysis) NumPairs() int { return len(a.pairs) }

// PairAt returns the feature pair at linear index k.
func (a *Analysis) PairAt(k int) compositional.Pair { return a.pairs[k] }

// PairIndex returns the linear index of the unordered pair {i, j}.
func (a *Analysis) PairIndex(i, j int) int { return compositional.IndexOf(i, j) }

// CutoffDirection returns LessOrEqual: smaller theta means stronger
// differential proportionality.
func (a *Analysis) CutoffDirection() compositional.Direction {
	return compositional.DirectionLessOrEqual
}

// Values returns a copy of the active statistic per pair, in canonical pair
// order. The internal tables stay private to the analysis.
func (a *Analysis) Values() []float64 {
	var values []float64
	switch a.active {
	case compositional.StatThetaE:
		values = a.thetaE
	case compositional.StatThetaF:
		values = a.thetaF
	case compositional.StatThetaMod:
		values = a.thetaMod
	default:
		values = a.thetaD
	}
	return append([]float64(nil), values...)
}

// Results returns a copy of the results table.
func (a *Analysis) Results() []compositional.ResultRow {
	return append([]compositional.ResultRow(nil), a.rows...)
}

// Labels returns the group labels.
func (a *Analysis) Labels() *compositional.GroupLabels { return a.labels }

// Permutations returns the permutation count the analysis was built with.
func (a *Analysis) Permutations() int { return len(a.perms) }

// GroupSizes returns (n1, n2).
func (a *Analysis) GroupSizes() (int, int) { return a.n1, a.n2 }

// Features returns the feature count d.
func (a *Analysis) Features() int { return a.counts.Features() }
