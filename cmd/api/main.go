package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"propd/adapters/ebayes"
	"propd/adapters/excel"
	"propd/adapters/postgres"
	"propd/domain/compositional"
	"propd/internal"
	"propd/internal/api"
	"propd/internal/config"
	"propd/internal/propd"
)

func main() {
	godotenv.Load()
	log := internal.DefaultLogger

	cfg, err := config.Load()
	if err != nil {
		log.Error("configuration error: %v", err)
		os.Exit(1)
	}

	ctx := context.Background()
	analysis, err := buildAnalysis(ctx, cfg)
	if err != nil {
		log.Error("analysis failed: %v", err)
		os.Exit(1)
	}

	if cfg.Database.URL != "" {
		if err := persist(ctx, cfg, analysis); err != nil {
			log.Error("persistence failed: %v", err)
			os.Exit(1)
		}
	}

	if len(cfg.Analysis.Cutoffs) > 0 && analysis.Permutations() > 0 {
		table, err := analysis.UpdateCutoffs(ctx, cfg.Analysis.Cutoffs, nil)
		if err != nil {
			log.Error("FDR estimation failed: %v", err)
			os.Exit(1)
		}
		for _, row := range table {
			log.Info("FDR at %.3g: %.4g (%g observed, %g permuted)",
				row.Cutoff, row.FDR, row.TrueCounts, row.RandCounts)
		}
	}

	server := api.NewServer(analysis, nil)
	log.Info("serving analysis on port %s (%d pairs)", cfg.Server.Port, analysis.NumPairs())
	if err := http.ListenAndServe(":"+cfg.Server.Port, server.Router()); err != nil {
		log.Error("server failed: %v", err)
		os.Exit(1)
	}
}

// buildAnalysis runs the full differential analysis once at startup; the
// server only reads it afterwards.
func buildAnalysis(ctx context.Context, cfg *config.Config) (*propd.Analysis, error) {
	ds, err := excel.NewDataReader(cfg.Data.File).ReadDataset(cfg.Data.LabelColumn)
	if err != nil {
		return nil, err
	}

	mode, err := compositional.ParseReferenceMode(cfg.Analysis.Reference)
	if err != nil {
		return nil, err
	}
	stat, err := compositional.ParseStatistic(cfg.Analysis.Statistic)
	if err != nil {
		return nil, err
	}

	opts := []propd.Option{
		propd.WithReference(mode, nil),
		propd.WithPermutations(cfg.Analysis.Permutations),
		propd.WithSeed(cfg.Analysis.Seed),
	}
	if cfg.Analysis.Alpha != 0 {
		opts = append(opts, propd.WithAlpha(cfg.Analysis.Alpha))
	}
	if cfg.Analysis.Weighted {
		opts = append(opts, propd.Weighted())
	}
	moderated := cfg.Analysis.Moderated || stat == compositional.StatThetaMod
	if moderated || cfg.Analysis.Weighted {
		opts = append(opts, propd.WithModeration(ebayes.New()))
	}

	a, err := propd.New(ds.Counts, ds.Labels, opts...)
	if err != nil {
		return nil, err
	}
	if err := a.UpdateF(ctx, moderated); err != nil {
		return nil, err
	}
	return a.WithActive(stat)
}

func persist(ctx context.Context, cfg *config.Config, a *propd.Analysis) error {
	db, err := postgres.Connect(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := postgres.NewResultsRepository(db)
	if err := repo.InitSchema(ctx); err != nil {
		return err
	}

	n1, n2 := a.GroupSizes()
	runID, err := repo.SaveRun(ctx, &postgres.AnalysisRun{
		SourceFile:   cfg.Data.File,
		Statistic:    string(a.Active()),
		Samples:      n1 + n2,
		Features:     a.Features(),
		Permutations: a.Permutations(),
		Alpha:        cfg.Analysis.Alpha,
		Weighted:     cfg.Analysis.Weighted,
	})
	if err != nil {
		return err
	}
	return repo.SaveResults(ctx, runID, a.Results())
}
