// Package propr implements plain pairwise proportionality analysis: the
// phi, rho and phs association metrics over all feature pairs, sharing the
// transform and VLR machinery with the differential variant.
package propr

import (
	"context"
	"math"

	"propd/domain/compositional"
	"propd/internal/errors"
	"propd/internal/transform"
	"propd/internal/vlr"
)

// Metric identifies a proportionality metric.
type Metric string

const (
	// MetricPhi = VLR(i,j) / var(lr_i); smaller is more proportional.
	MetricPhi Metric = "phi"
	// MetricRho = 1 - VLR(i,j)/(var(lr_i)+var(lr_j)); larger is more
	// proportional.
	MetricRho Metric = "rho"
	// MetricPhs = (1-rho)/(1+rho); smaller is more proportional.
	MetricPhs Metric = "phs"
)

// ParseMetric checks a metric token at the boundary.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricPhi, MetricRho, MetricPhs:
		return Metric(s), nil
	}
	return "", errors.InvalidInput("unknown proportionality metric " + s)
}

// Row is one pair of the proportionality results table.
type Row struct {
	Partner string  `json:"Partner"`
	Pair    string  `json:"Pair"`
	Metric  float64 `json:"metric"`
	LRV     float64 `json:"lrv"`
}

// Analysis is the proportionality results object: one metric value per pair,
// fixed at construction.
type Analysis struct {
	counts *compositional.CountMatrix
	metric Metric
	pairs  []compositional.Pair
	lrv    []float64
	values []float64
}

// New computes the requested metric for every pair of the count matrix using
// the given log-ratio reference.
func New(ctx context.Context, counts *compositional.CountMatrix, metric Metric, mode compositional.ReferenceMode, subset []int) (*Analysis, error) {
	if _, err := ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	t, err := transform.Apply(counts, mode, subset, 0)
	if err != nil {
		return nil, err
	}
	engine, err := vlr.NewEngine(t, nil)
	if err != nil {
		return nil, err
	}
	snap, err := engine.ComputeTotal(ctx)
	if err != nil {
		return nil, err
	}

	pairs := engine.Pairs()
	varCols := t.VarCols()
	values := make([]float64, len(pairs))
	for k, pr := range pairs {
		values[k] = metricValue(metric, snap.LRV[k], varCols[pr.Partner], varCols[pr.Index])
	}

	return &Analysis{
		counts: counts,
		metric: metric,
		pairs:  pairs,
		lrv:    snap.LRV,
		values: values,
	}, nil
}

func metricValue(metric Metric, lrv, vi, vj float64) float64 {
	switch metric {
	case MetricPhi:
		if vi == 0 {
			return math.NaN()
		}
		return lrv / vi
	case MetricRho:
		if vi+vj == 0 {
			return math.NaN()
		}
		return 1 - lrv/(vi+vj)
	default: // MetricPhs
		rho := 1 - lrv/(vi+vj)
		if rho == -1 || vi+vj == 0 {
			return math.NaN()
		}
		return (1 - rho) / (1 + rho)
	}
}

// Metric returns the metric the analysis was built with.
func (a *Analysis) Metric() Metric { return a.metric }

// NumPairs returns d(d-1)/2.
func (a *Analysis) NumPairs() int { return len(a.pairs) }

// PairAt returns the feature pair at linear index k.
func (a *Analysis) PairAt(k int) compositional.Pair { return a.pairs[k] }

// PairIndex returns the linear index of the unordered pair {i, j}.
func (a *Analysis) PairIndex(i, j int) int { return compositional.IndexOf(i, j) }

// Values returns a copy of the metric per pair, in canonical pair order.
func (a *Analysis) Values() []float64 { return append([]float64(nil), a.values...) }

// CutoffDirection: rho keeps rows at or above the cutoff; phi and phs, like
// the differential statistics, keep rows at or below it.
func (a *Analysis) CutoffDirection() compositional.Direction {
	if a.metric == MetricRho {
		return compositional.DirectionGreaterOrEqual
	}
	return compositional.DirectionLessOrEqual
}

// Results returns the proportionality table.
func (a *Analysis) Results() []Row {
	rows := make([]Row, len(a.pairs))
	for k, pr := range a.pairs {
		rows[k] = Row{
			Partner: a.counts.FeatureName(pr.Partner),
			Pair:    a.counts.FeatureName(pr.Index),
			Metric:  a.values[k],
			LRV:     a.lrv[k],
		}
	}
	return rows
}
