// Package compositional holds the core value types shared by every engine:
// the count matrix, the two-group label vector, the pair indexing scheme and
// the closed enumerations for references, statistics and cutoff directions.
package compositional

import (
	"fmt"

	"propd/internal/errors"
)

// CountMatrix is an immutable n samples x d features matrix of non-negative
// counts. Construct it once via NewCountMatrix; accessors never expose the
// backing storage.
type CountMatrix struct {
	data     [][]float64 // row-major, one row per sample
	samples  []string
	features []string
}

// NewCountMatrix validates and copies the given data. Rows are samples,
// columns are features. sampleIDs and featureNames may be nil, in which case
// positional names are generated.
func NewCountMatrix(data [][]float64, sampleIDs, featureNames []string) (*CountMatrix, error) {
	n := len(data)
	if n == 0 {
		return nil, errors.InvalidInput("count matrix has no samples")
	}
	d := len(data[0])
	if d < 2 {
		return nil, errors.InvalidInput("count matrix needs at least 2 features")
	}

	rows := make([][]float64, n)
	for s, row := range data {
		if len(row) != d {
			return nil, errors.InvalidInput(fmt.Sprintf("sample %d has %d features, expected %d", s, len(row), d))
		}
		rows[s] = make([]float64, d)
		for f, v := range row {
			if v < 0 {
				return nil, errors.InvalidInput(fmt.Sprintf("negative count %g at sample %d, feature %d", v, s, f))
			}
			rows[s][f] = v
		}
	}

	if sampleIDs == nil {
		sampleIDs = make([]string, n)
		for i := range sampleIDs {
			sampleIDs[i] = fmt.Sprintf("S%d", i+1)
		}
	}
	if featureNames == nil {
		featureNames = make([]string, d)
		for i := range featureNames {
			featureNames[i] = fmt.Sprintf("F%d", i+1)
		}
	}
	if len(sampleIDs) != n {
		return nil, errors.InvalidInput("sample ID count does not match sample count")
	}
	if len(featureNames) != d {
		return nil, errors.InvalidInput("feature name count does not match feature count")
	}

	return &CountMatrix{
		data:     rows,
		samples:  append([]string(nil), sampleIDs...),
		features: append([]string(nil), featureNames...),
	}, nil
}

// Samples returns the number of samples (rows).
func (m *CountMatrix) Samples() int { return len(m.data) }

// Features returns the number of features (columns).
func (m *CountMatrix) Features() int { return len(m.data[0]) }

// At returns the count for sample s, feature f.
func (m *CountMatrix) At(s, f int) float64 { return m.data[s][f] }

// SampleID returns the identifier of sample s.
func (m *CountMatrix) SampleID(s int) string { return m.samples[s] }

// FeatureName returns the name of feature f.
func (m *CountMatrix) FeatureName(f int) string { return m.features[f] }

// FeatureNames returns a copy of all feature names.
func (m *CountMatrix) FeatureNames() []string {
	return append([]string(nil), m.features...)
}

// GroupLabels partitions samples into exactly two groups. The first distinct
// label encountered becomes group 1.
type GroupLabels struct {
	labels []string
	name1  string
	name2  string
	idx1   []int
	idx2   []int
}

// NewGroupLabels validates a length-n label vector with exactly two distinct
// values and returns the partition.
func NewGroupLabels(labels []string, n int) (*GroupLabels, error) {
	if len(labels) != n {
		return nil, errors.InvalidGroup(fmt.Sprintf("group vector has length %d, expected %d", len(labels), n))
	}

	distinct := make([]string, 0, 2)
	for _, l := range labels {
		seen := false
		for _, d := range distinct {
			if d == l {
				seen = true
				break
			}
		}
		if !seen {
			distinct = append(distinct, l)
		}
	}
	if len(distinct) != 2 {
		return nil, errors.InvalidGroup(fmt.Sprintf("group vector has %d distinct labels, expected exactly 2", len(distinct)))
	}

	g := &GroupLabels{
		labels: append([]string(nil), labels...),
		name1:  distinct[0],
		name2:  distinct[1],
	}
	for i, l := range labels {
		if l == g.name1 {
			g.idx1 = append(g.idx1, i)
		} else {
			g.idx2 = append(g.idx2, i)
		}
	}
	return g, nil
}

// Group1 returns the name of the first group.
func (g *GroupLabels) Group1() string { return g.name1 }

// Group2 returns the name of the second group.
func (g *GroupLabels) Group2() string { return g.name2 }

// Group1Indices returns a copy of the sample indices in group 1.
func (g *GroupLabels) Group1Indices() []int { return append([]int(nil), g.idx1...) }

// Group2Indices returns a copy of the sample indices in group 2.
func (g *GroupLabels) Group2Indices() []int { return append([]int(nil), g.idx2...) }

// Labels returns a copy of the raw label vector.
func (g *GroupLabels) Labels() []string { return append([]string(nil), g.labels...) }

// Len returns the number of samples.
func (g *GroupLabels) Len() int { return len(g.labels) }

// ReferenceMode selects the log-ratio reference.
type ReferenceMode string

const (
	// ReferenceCLR uses the whole-set geometric mean.
	ReferenceCLR ReferenceMode = "clr"
	// ReferenceIQLR uses the interquartile-stable feature subset.
	ReferenceIQLR ReferenceMode = "iqlr"
	// ReferenceSubset uses an explicit feature subset (or single feature).
	ReferenceSubset ReferenceMode = "subset"
)

// ParseReferenceMode checks a mode token at the boundary.
func ParseReferenceMode(s string) (ReferenceMode, error) {
	switch ReferenceMode(s) {
	case ReferenceCLR, ReferenceIQLR, ReferenceSubset:
		return ReferenceMode(s), nil
	}
	return "", errors.InvalidInput(fmt.Sprintf("unknown reference mode %q", s))
}

// Statistic identifies a differential-proportionality statistic.
type Statistic string

const (
	StatThetaD   Statistic = "theta_d"
	StatThetaE   Statistic = "theta_e"
	StatThetaF   Statistic = "theta_f"
	StatThetaMod Statistic = "theta_mod"
)

// ParseStatistic checks a statistic token at the boundary.
func ParseStatistic(s string) (Statistic, error) {
	switch Statistic(s) {
	case StatThetaD, StatThetaE, StatThetaF, StatThetaMod:
		return Statistic(s), nil
	}
	return "", errors.InvalidInput(fmt.Sprintf("unknown statistic %q", s))
}

// Direction is the cutoff filter semantic for a metric.
type Direction int

const (
	// DirectionLessOrEqual keeps rows with value <= cutoff (differential and
	// VLR-derived metrics, where smaller means more proportional).
	DirectionLessOrEqual Direction = iota
	// DirectionGreaterOrEqual keeps rows with value >= cutoff
	// (association metrics such as rho).
	DirectionGreaterOrEqual
)

// Analysis is the capability interface shared by the proportionality and
// differential variants. Collaborators use it to look up pairs and filter
// rows without branching on the concrete type.
type Analysis interface {
	// NumPairs returns d(d-1)/2.
	NumPairs() int
	// PairAt returns the feature pair at linear index k.
	PairAt(k int) Pair
	// PairIndex returns the linear index of the unordered pair {i, j}.
	PairIndex(i, j int) int
	// Values returns the active metric value per pair, in pair order.
	Values() []float64
	// CutoffDirection returns the filter semantic for the active metric.
	CutoffDirection() Direction
}

// ResultRow is one row of the differential results table. Columns up to P
// are fixed at construction; ThetaMod, FStat and PVal are appended later by
// the F-statistic engine and default to NaN until then.
type ResultRow struct {
	Partner  string  `json:"Partner" db:"partner"`
	Pair     string  `json:"Pair" db:"pair"`
	Theta    float64 `json:"theta" db:"theta"`
	ThetaE   float64 `json:"theta_e" db:"theta_e"`
	ThetaF   float64 `json:"theta_f" db:"theta_f"`
	LRV      float64 `json:"lrv" db:"lrv"`
	LRV1     float64 `json:"lrv1" db:"lrv1"`
	LRV2     float64 `json:"lrv2" db:"lrv2"`
	LRM1     float64 `json:"lrm1" db:"lrm1"`
	LRM2     float64 `json:"lrm2" db:"lrm2"`
	P1       float64 `json:"p1" db:"p1"`
	P2       float64 `json:"p2" db:"p2"`
	P        float64 `json:"p" db:"p"`
	ThetaMod float64 `json:"theta_mod" db:"theta_mod"`
	FStat    float64 `json:"Fstat" db:"fstat"`
	PVal     float64 `json:"Pval" db:"pval"`
}

// FDRRow is one row of the permutation FDR table.
type FDRRow struct {
	Cutoff     float64 `json:"cutoff"`
	RandCounts float64 `json:"randcounts"`
	TrueCounts float64 `json:"truecounts"`
	FDR        float64 `json:"fdr"`
}
