package config

import (
	"testing"

	"propd/internal/errors"
)

func TestLoad_RequiresDataFile(t *testing.T) {
	t.Setenv("DATA_FILE", "")

	_, err := Load()
	if err == nil {
		t.Fatal("Expected error without DATA_FILE")
	}
	if !errors.HasCode(err, errors.CodeConfigInvalid) {
		t.Errorf("Expected code %s, got %s", errors.CodeConfigInvalid, errors.GetCode(err))
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATA_FILE", "counts.csv")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Data.LabelColumn != "group" {
		t.Errorf("LabelColumn=%q, expected group", cfg.Data.LabelColumn)
	}
	if cfg.Analysis.Statistic != "theta_d" || cfg.Analysis.Reference != "clr" {
		t.Errorf("Unexpected analysis defaults: %+v", cfg.Analysis)
	}
	if cfg.Analysis.Seed != 42 {
		t.Errorf("Seed=%d, expected 42", cfg.Analysis.Seed)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("Port=%q, expected 8080", cfg.Server.Port)
	}
	if cfg.Analysis.Cutoffs != nil {
		t.Errorf("Cutoffs should default to nil, got %v", cfg.Analysis.Cutoffs)
	}
}

func TestLoad_ParsesOverrides(t *testing.T) {
	t.Setenv("DATA_FILE", "counts.xlsx")
	t.Setenv("LABEL_COLUMN", "cohort")
	t.Setenv("PERMUTATIONS", "500")
	t.Setenv("ALPHA", "0.25")
	t.Setenv("WEIGHTED", "true")
	t.Setenv("FDR_CUTOFFS", "0.1, 0.5,0.9")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Analysis.Permutations != 500 {
		t.Errorf("Permutations=%d, expected 500", cfg.Analysis.Permutations)
	}
	if cfg.Analysis.Alpha != 0.25 {
		t.Errorf("Alpha=%g, expected 0.25", cfg.Analysis.Alpha)
	}
	if !cfg.Analysis.Weighted {
		t.Error("Weighted should be true")
	}
	if len(cfg.Analysis.Cutoffs) != 3 || cfg.Analysis.Cutoffs[1] != 0.5 {
		t.Errorf("Cutoffs=%v, expected [0.1 0.5 0.9]", cfg.Analysis.Cutoffs)
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("DATA_FILE", "counts.csv")
	t.Setenv("FDR_CUTOFFS", "0.1,abc")
	if _, err := Load(); err == nil {
		t.Error("Expected error for a non-numeric cutoff")
	}

	t.Setenv("FDR_CUTOFFS", "")
	t.Setenv("ALPHA", "-1")
	if _, err := Load(); err == nil {
		t.Error("Expected error for a negative alpha")
	}
}
