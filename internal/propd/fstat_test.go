package propd

import (
	"context"
	"math"
	"testing"

	"gonum.org/v1/gonum/stat/distuv"

	"propd/adapters/ebayes"
	"propd/domain/compositional"
	"propd/internal/errors"
)

func TestUpdateF_UnmoderatedRelation(t *testing.T) {
	n := 14
	a := mustAnalysis(t, randomCounts(n, 6, 30), halfLabels(n))

	if err := a.UpdateF(context.Background(), false); err != nil {
		t.Fatalf("UpdateF failed: %v", err)
	}

	fn := float64(n)
	fdist := distuv.F{D1: 1, D2: fn - 2}
	for k, row := range a.Results() {
		want := (fn - 2) * (1 - row.Theta) / row.Theta
		if math.Abs(row.FStat-want) > 1e-9 {
			t.Errorf("Pair %d: Fstat=%g, expected %g", k, row.FStat, want)
		}
		if wantP := 1 - fdist.CDF(want); math.Abs(row.PVal-wantP) > 1e-9 {
			t.Errorf("Pair %d: Pval=%g, expected %g", k, row.PVal, wantP)
		}
		if !math.IsNaN(row.ThetaMod) {
			t.Errorf("Pair %d: theta_mod should stay NaN on the unmoderated path", k)
		}
	}
}

func TestUpdateF_RequiresThetaDActive(t *testing.T) {
	a := mustAnalysis(t, randomCounts(10, 5, 31), halfLabels(10))
	e, err := a.WithActive(compositional.StatThetaE)
	if err != nil {
		t.Fatalf("WithActive failed: %v", err)
	}

	err = e.UpdateF(context.Background(), false)
	if err == nil {
		t.Fatal("Expected error with theta_e active")
	}
	if !errors.HasCode(err, errors.CodeModerationPrecondition) {
		t.Errorf("Expected code %s, got %s", errors.CodeModerationPrecondition, errors.GetCode(err))
	}
}

func TestUpdateF_ModeratedRequiresCollaborator(t *testing.T) {
	a := mustAnalysis(t, randomCounts(10, 5, 32), halfLabels(10))

	err := a.UpdateF(context.Background(), true)
	if err == nil {
		t.Fatal("Expected error without a moderation collaborator")
	}
	if !errors.HasCode(err, errors.CodeModerationPrecondition) {
		t.Errorf("Expected code %s, got %s", errors.CodeModerationPrecondition, errors.GetCode(err))
	}
}

func TestUpdateF_ModeratedColumnsConsistent(t *testing.T) {
	n := 16
	a := mustAnalysis(t, randomCounts(n, 8, 33), halfLabels(n),
		WithModeration(ebayes.New()))

	if err := a.UpdateF(context.Background(), true); err != nil {
		t.Fatalf("Moderated UpdateF failed: %v", err)
	}

	// Fstat = df2 * (1/theta_mod - 1) with the same df2 for every pair, so
	// the ratio must be constant across the table.
	df2 := math.NaN()
	for k, row := range a.Results() {
		if math.IsNaN(row.ThetaMod) || row.ThetaMod <= 0 || row.ThetaMod > 1 {
			t.Errorf("Pair %d: theta_mod=%g outside (0,1]", k, row.ThetaMod)
		}
		if math.IsNaN(row.FStat) || row.FStat < 0 {
			t.Errorf("Pair %d: moderated Fstat=%g", k, row.FStat)
		}
		if row.PVal < 0 || row.PVal > 1 {
			t.Errorf("Pair %d: Pval=%g outside [0,1]", k, row.PVal)
		}
		fprime := 1/row.ThetaMod - 1
		if fprime > 1e-12 {
			ratio := row.FStat / fprime
			if math.IsNaN(df2) {
				df2 = ratio
			} else if math.Abs(ratio-df2) > 1e-6*df2 {
				t.Errorf("Pair %d: Fstat/Fprime=%g deviates from shared df2=%g", k, ratio, df2)
			}
		}
		// Earlier columns stay untouched.
		if row.Theta < 0 || row.Theta > 1 {
			t.Errorf("Pair %d: theta_d=%g corrupted by UpdateF", k, row.Theta)
		}
	}

	// theta_mod becomes activatable after the fit.
	if _, err := a.WithActive(compositional.StatThetaMod); err != nil {
		t.Errorf("theta_mod activation failed after the moderated fit: %v", err)
	}
}

func TestQTheta_UnmoderatedInversion(t *testing.T) {
	n := 14
	a := mustAnalysis(t, randomCounts(n, 5, 34), halfLabels(n))

	fn := float64(n)
	for _, pval := range []float64{0.01, 0.05, 0.2, 0.5} {
		cutoff, err := a.QTheta(pval, false)
		if err != nil {
			t.Fatalf("QTheta(%g) failed: %v", pval, err)
		}
		if cutoff <= 0 || cutoff >= 1 {
			t.Errorf("QTheta(%g)=%g outside (0,1)", pval, cutoff)
		}
		// Feeding the cutoff back through the F relation lands exactly on the
		// quantile.
		fstat := (fn - 2) * (1 - cutoff) / cutoff
		want := distuv.F{D1: 1, D2: fn - 2}.Quantile(1 - pval)
		if math.Abs(fstat-want) > 1e-6*want {
			t.Errorf("QTheta(%g): round-trip Fstat=%g, expected quantile %g", pval, fstat, want)
		}
	}
}

func TestQTheta_ModeratedRequiresPriorFit(t *testing.T) {
	a := mustAnalysis(t, randomCounts(10, 5, 35), halfLabels(10))

	if _, err := a.QTheta(0.05, true); err == nil {
		t.Fatal("Expected error before any moderated fit has run")
	}

	b := mustAnalysis(t, randomCounts(12, 6, 36), halfLabels(12),
		WithModeration(ebayes.New()))
	if err := b.UpdateF(context.Background(), true); err != nil {
		t.Fatalf("Moderated UpdateF failed: %v", err)
	}
	cutoff, err := b.QTheta(0.05, true)
	if err != nil {
		t.Fatalf("Moderated QTheta failed: %v", err)
	}
	if cutoff <= 0 || cutoff >= 1 {
		t.Errorf("Moderated cutoff %g outside (0,1)", cutoff)
	}
}

func TestQTheta_RejectsBadPValues(t *testing.T) {
	a := mustAnalysis(t, randomCounts(10, 5, 37), halfLabels(10))

	for _, pval := range []float64{0, 1, -0.5, 1.5} {
		if _, err := a.QTheta(pval, false); err == nil {
			t.Errorf("Expected error for p-value %g", pval)
		}
	}
}

func TestUpdateCutoffs_ThetaModPath(t *testing.T) {
	a := mustAnalysis(t, randomCounts(12, 5, 38), halfLabels(12),
		WithPermutations(5), WithModeration(ebayes.New()))
	if err := a.UpdateF(context.Background(), true); err != nil {
		t.Fatalf("Moderated UpdateF failed: %v", err)
	}
	m, err := a.WithActive(compositional.StatThetaMod)
	if err != nil {
		t.Fatalf("WithActive failed: %v", err)
	}

	table, err := m.UpdateCutoffs(context.Background(), []float64{0.5, 0.9}, nil)
	if err != nil {
		t.Fatalf("theta_mod FDR failed: %v", err)
	}
	if len(table) != 2 {
		t.Fatalf("Expected 2 FDR rows, got %d", len(table))
	}
	for _, row := range table {
		if row.RandCounts < 0 {
			t.Errorf("Negative rand counts at cutoff %g", row.Cutoff)
		}
	}
}
