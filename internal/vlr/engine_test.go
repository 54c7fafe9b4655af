package vlr

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"propd/domain/compositional"
	"propd/internal/transform"
)

func randomMatrix(t *testing.T, n, d int, seed int64) *compositional.CountMatrix {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	data := make([][]float64, n)
	for s := 0; s < n; s++ {
		data[s] = make([]float64, d)
		for f := 0; f < d; f++ {
			data[s][f] = 1 + rng.Float64()*100
		}
	}
	m, err := compositional.NewCountMatrix(data, nil, nil)
	if err != nil {
		t.Fatalf("Failed to build count matrix: %v", err)
	}
	return m
}

func mustEngine(t *testing.T, m *compositional.CountMatrix, alpha float64, weights [][]float64) *Engine {
	t.Helper()
	tr, err := transform.Apply(m, compositional.ReferenceCLR, nil, alpha)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	e, err := NewEngine(tr, weights)
	if err != nil {
		t.Fatalf("Engine construction failed: %v", err)
	}
	return e
}

// directVariance is the textbook two-pass sample variance of lr_i - lr_j.
func directVariance(tr *transform.Transform, i, j int, idx []int) float64 {
	var sum float64
	for _, s := range idx {
		sum += tr.LR(s, i) - tr.LR(s, j)
	}
	mean := sum / float64(len(idx))
	var ss float64
	for _, s := range idx {
		diff := (tr.LR(s, i) - tr.LR(s, j)) - mean
		ss += diff * diff
	}
	return ss / float64(len(idx)-1)
}

func TestCompute_MatchesDirectVariance(t *testing.T) {
	m := randomMatrix(t, 12, 6, 1)
	e := mustEngine(t, m, 0, nil)

	idx1 := []int{0, 1, 2, 3, 4, 5}
	idx2 := []int{6, 7, 8, 9, 10, 11}
	snap, err := e.Compute(context.Background(), idx1, idx2)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	all := make([]int, 12)
	for i := range all {
		all[i] = i
	}

	for k, pr := range e.Pairs() {
		if want := directVariance(e.t, pr.Partner, pr.Index, all); math.Abs(snap.LRV[k]-want) > 1e-9 {
			t.Errorf("Pair %d: LRV=%g, expected %g", k, snap.LRV[k], want)
		}
		if want := directVariance(e.t, pr.Partner, pr.Index, idx1); math.Abs(snap.LRV1[k]-want) > 1e-9 {
			t.Errorf("Pair %d: LRV1=%g, expected %g", k, snap.LRV1[k], want)
		}
		if snap.P[k] != 11 || snap.P1[k] != 5 || snap.P2[k] != 5 {
			t.Errorf("Pair %d: effective sizes %g/%g/%g, expected 11/5/5", k, snap.P[k], snap.P1[k], snap.P2[k])
		}
	}
}

func TestCompute_UnitWeightsMatchUnweighted(t *testing.T) {
	m := randomMatrix(t, 10, 5, 2)
	weights := make([][]float64, 10)
	for s := range weights {
		weights[s] = make([]float64, 5)
		for f := range weights[s] {
			weights[s][f] = 1
		}
	}

	raw := mustEngine(t, m, 0, nil)
	weighted := mustEngine(t, m, 0, weights)

	idx1 := []int{0, 1, 2, 3, 4}
	idx2 := []int{5, 6, 7, 8, 9}
	rawSnap, err := raw.Compute(context.Background(), idx1, idx2)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	wSnap, err := weighted.Compute(context.Background(), idx1, idx2)
	if err != nil {
		t.Fatalf("Weighted compute failed: %v", err)
	}

	for k := range raw.Pairs() {
		// Unit weights give Omega = m - m/m = m-1 exactly.
		if math.Abs(wSnap.P[k]-9) > 1e-12 {
			t.Errorf("Pair %d: Omega=%g, expected 9", k, wSnap.P[k])
		}
		if math.Abs(wSnap.LRV[k]-rawSnap.LRV[k]) > 1e-9 {
			t.Errorf("Pair %d: weighted LRV=%g diverges from raw %g", k, wSnap.LRV[k], rawSnap.LRV[k])
		}
		if math.Abs(wSnap.LRM1[k]-rawSnap.LRM1[k]) > 1e-9 {
			t.Errorf("Pair %d: weighted LRM1=%g diverges from raw %g", k, wSnap.LRM1[k], rawSnap.LRM1[k])
		}
	}
}

func TestCompute_SmallAlphaApproximatesRaw(t *testing.T) {
	m := randomMatrix(t, 10, 4, 3)

	raw := mustEngine(t, m, 0, nil)
	powered := mustEngine(t, m, 1e-4, nil)

	idx1 := []int{0, 1, 2, 3, 4}
	idx2 := []int{5, 6, 7, 8, 9}
	rawSnap, err := raw.Compute(context.Background(), idx1, idx2)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	powSnap, err := powered.Compute(context.Background(), idx1, idx2)
	if err != nil {
		t.Fatalf("Alpha compute failed: %v", err)
	}

	for k := range raw.Pairs() {
		rel := math.Abs(powSnap.LRV[k]-rawSnap.LRV[k]) / rawSnap.LRV[k]
		if rel > 1e-3 {
			t.Errorf("Pair %d: alpha VLR %g deviates from raw %g by %g", k, powSnap.LRV[k], rawSnap.LRV[k], rel)
		}
	}
}

func TestCompute_AlphaGroupLRMCarriesGroupShift(t *testing.T) {
	// Features 0 and 1 sit at ratio 1 in the first group and ratio 8 in the
	// second. The ratio is constant within each group, so the power means
	// factor exactly and the group log-ratio means are 0 and log(8).
	data := [][]float64{
		{2, 2, 5},
		{4, 4, 7},
		{3, 3, 11},
		{8, 1, 6},
		{16, 2, 9},
		{24, 3, 13},
	}
	m, err := compositional.NewCountMatrix(data, nil, nil)
	if err != nil {
		t.Fatalf("Failed to build count matrix: %v", err)
	}
	e := mustEngine(t, m, 0.7, nil)

	snap, err := e.Compute(context.Background(), []int{0, 1, 2}, []int{3, 4, 5})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	k := compositional.IndexOf(0, 1)
	if math.Abs(snap.LRM1[k]) > 1e-12 {
		t.Errorf("LRM1=%g, expected 0 for a unit within-group ratio", snap.LRM1[k])
	}
	if math.Abs(snap.LRM2[k]-math.Log(8)) > 1e-9 {
		t.Errorf("LRM2=%g, expected log(8)=%g", snap.LRM2[k], math.Log(8))
	}
}

func TestCompute_SmallAlphaGroupLRMTracksRaw(t *testing.T) {
	m := randomMatrix(t, 10, 4, 7)

	raw := mustEngine(t, m, 0, nil)
	powered := mustEngine(t, m, 1e-4, nil)

	idx1 := []int{0, 1, 2, 3, 4}
	idx2 := []int{5, 6, 7, 8, 9}
	rawSnap, err := raw.Compute(context.Background(), idx1, idx2)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	powSnap, err := powered.Compute(context.Background(), idx1, idx2)
	if err != nil {
		t.Fatalf("Alpha compute failed: %v", err)
	}

	for k := range raw.Pairs() {
		if math.Abs(powSnap.LRM1[k]-rawSnap.LRM1[k]) > 1e-3 {
			t.Errorf("Pair %d: alpha LRM1 %g deviates from raw %g", k, powSnap.LRM1[k], rawSnap.LRM1[k])
		}
		if math.Abs(powSnap.LRM2[k]-rawSnap.LRM2[k]) > 1e-3 {
			t.Errorf("Pair %d: alpha LRM2 %g deviates from raw %g", k, powSnap.LRM2[k], rawSnap.LRM2[k])
		}
	}
}

func TestGroupVLR_MatchesSnapshot(t *testing.T) {
	m := randomMatrix(t, 14, 5, 4)
	e := mustEngine(t, m, 0, nil)

	idx1 := []int{0, 2, 4, 6, 8, 10, 12}
	idx2 := []int{1, 3, 5, 7, 9, 11, 13}
	snap, err := e.Compute(context.Background(), idx1, idx2)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	np := e.NumPairs()
	lrv1 := make([]float64, np)
	lrv2 := make([]float64, np)
	p1 := make([]float64, np)
	p2 := make([]float64, np)
	e.GroupVLR(idx1, idx2, lrv1, lrv2, p1, p2)

	for k := 0; k < np; k++ {
		if lrv1[k] != snap.LRV1[k] || lrv2[k] != snap.LRV2[k] {
			t.Errorf("Pair %d: GroupVLR (%g, %g) diverges from snapshot (%g, %g)",
				k, lrv1[k], lrv2[k], snap.LRV1[k], snap.LRV2[k])
		}
		if p1[k] != snap.P1[k] || p2[k] != snap.P2[k] {
			t.Errorf("Pair %d: effective sizes diverge", k)
		}
	}
}

func TestNewEngine_RejectsBadWeights(t *testing.T) {
	m := randomMatrix(t, 4, 3, 5)
	tr, err := transform.Apply(m, compositional.ReferenceCLR, nil, 0)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}

	if _, err := NewEngine(tr, [][]float64{{1, 1, 1}}); err == nil {
		t.Error("Expected error for a weight row count mismatch")
	}
	bad := [][]float64{{1, 1, 1}, {1, -1, 1}, {1, 1, 1}, {1, 1, 1}}
	if _, err := NewEngine(tr, bad); err == nil {
		t.Error("Expected error for a negative weight")
	}
}

func TestCompute_SingleSampleGroupGivesNaN(t *testing.T) {
	m := randomMatrix(t, 5, 3, 6)
	e := mustEngine(t, m, 0, nil)

	snap, err := e.Compute(context.Background(), []int{0}, []int{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	for k := range e.Pairs() {
		if !math.IsNaN(snap.LRV1[k]) {
			t.Errorf("Pair %d: variance over one sample should be NaN, got %g", k, snap.LRV1[k])
		}
		if snap.P1[k] != 0 {
			t.Errorf("Pair %d: effective size over one sample should be 0, got %g", k, snap.P1[k])
		}
	}
}
