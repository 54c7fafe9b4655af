package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"propd/adapters/ebayes"
	"propd/adapters/excel"
	"propd/adapters/postgres"
	"propd/domain/compositional"
	"propd/internal/propd"
	"propd/internal/propr"
	"propd/internal/results"
)

func main() {
	godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "propd",
		Short: "Pairwise proportionality and differential proportionality analysis",
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newFDRCmd(),
		newProprCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type runFlags struct {
	file         string
	labelColumn  string
	stat         string
	reference    string
	alpha        float64
	permutations int
	seed         int64
	weighted     bool
	moderated    bool
	top          int
	databaseURL  string
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.file, "file", "", "Count table (.csv or .xlsx)")
	cmd.Flags().StringVar(&f.labelColumn, "label-column", "group", "Header of the group label column")
	cmd.Flags().StringVar(&f.stat, "stat", "theta_d", "Active statistic: theta_d, theta_e, theta_f or theta_mod")
	cmd.Flags().StringVar(&f.reference, "reference", "clr", "Log-ratio reference: clr, iqlr or subset")
	cmd.Flags().Float64Var(&f.alpha, "alpha", 0, "Power-transform alpha (0 disables)")
	cmd.Flags().IntVar(&f.permutations, "permutations", 0, "Permutation count for FDR estimation")
	cmd.Flags().Int64Var(&f.seed, "seed", propd.DefaultSeed, "Permutation seed")
	cmd.Flags().BoolVar(&f.weighted, "weighted", false, "Precision-weighted variance estimation")
	cmd.Flags().BoolVar(&f.moderated, "moderated", false, "Moderate the F-statistic")
	cmd.Flags().IntVar(&f.top, "top", 20, "Rows to print, smallest statistic first")
	cmd.Flags().StringVar(&f.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "Optional postgres URL for persisting results")
	cmd.MarkFlagRequired("file")
}

// buildAnalysis reads the dataset and constructs the differential analysis
// per the flags. UpdateF always runs so the F columns are populated.
func (f *runFlags) buildAnalysis(ctx context.Context) (*propd.Analysis, error) {
	ds, err := excel.NewDataReader(f.file).ReadDataset(f.labelColumn)
	if err != nil {
		return nil, err
	}

	mode, err := compositional.ParseReferenceMode(f.reference)
	if err != nil {
		return nil, err
	}
	stat, err := compositional.ParseStatistic(f.stat)
	if err != nil {
		return nil, err
	}

	opts := []propd.Option{
		propd.WithReference(mode, nil),
		propd.WithPermutations(f.permutations),
		propd.WithSeed(f.seed),
	}
	if f.alpha != 0 {
		opts = append(opts, propd.WithAlpha(f.alpha))
	}
	if f.weighted {
		opts = append(opts, propd.Weighted())
	}
	if f.moderated || f.weighted || stat == compositional.StatThetaMod {
		opts = append(opts, propd.WithModeration(ebayes.New()))
	}

	a, err := propd.New(ds.Counts, ds.Labels, opts...)
	if err != nil {
		return nil, err
	}
	if err := a.UpdateF(ctx, f.moderated || stat == compositional.StatThetaMod); err != nil {
		return nil, err
	}
	return a, nil
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a differential proportionality analysis and print the top pairs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := flags.buildAnalysis(ctx)
			if err != nil {
				return err
			}
			stat, _ := compositional.ParseStatistic(flags.stat)
			a, err = a.WithActive(stat)
			if err != nil {
				return err
			}

			if flags.databaseURL != "" {
				if err := persistRun(ctx, flags, a); err != nil {
					return err
				}
			}

			return printTop(a, flags.top)
		},
	}

	flags.register(cmd)
	return cmd
}

func newFDRCmd() *cobra.Command {
	flags := &runFlags{}
	var cutoffs []float64

	cmd := &cobra.Command{
		Use:   "fdr",
		Short: "Estimate the false discovery rate at the given theta cutoffs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := flags.buildAnalysis(ctx)
			if err != nil {
				return err
			}
			stat, _ := compositional.ParseStatistic(flags.stat)
			a, err = a.WithActive(stat)
			if err != nil {
				return err
			}

			sort.Float64s(cutoffs)
			table, err := a.UpdateCutoffs(ctx, cutoffs, func(done, total int) {
				if done%100 == 0 || done == total {
					fmt.Fprintf(os.Stderr, "permutations: %d/%d\n", done, total)
				}
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			for _, row := range table {
				if err := enc.Encode(results.FDRToJSON(row)); err != nil {
					return err
				}
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().Float64SliceVar(&cutoffs, "cutoffs", []float64{0.05, 0.1, 0.2, 0.5, 0.8, 0.95}, "Theta cutoffs to evaluate")
	return cmd
}

func newProprCmd() *cobra.Command {
	var file, labelColumn, metric, reference string
	var cutoff float64
	var top int

	cmd := &cobra.Command{
		Use:   "propr",
		Short: "Run a plain proportionality analysis (phi, rho or phs)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := excel.NewDataReader(file).ReadDataset(labelColumn)
			if err != nil {
				return err
			}
			m, err := propr.ParseMetric(metric)
			if err != nil {
				return err
			}
			mode, err := compositional.ParseReferenceMode(reference)
			if err != nil {
				return err
			}

			a, err := propr.New(cmd.Context(), ds.Counts, m, mode, nil)
			if err != nil {
				return err
			}

			rows := a.Results()
			kept := results.Filter(a, cutoff)
			sortByMetric(kept, a)
			if top > 0 && len(kept) > top {
				kept = kept[:top]
			}

			enc := json.NewEncoder(os.Stdout)
			for _, k := range kept {
				if err := enc.Encode(rows[k]); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Count table (.csv or .xlsx)")
	cmd.Flags().StringVar(&labelColumn, "label-column", "group", "Header of the group label column")
	cmd.Flags().StringVar(&metric, "metric", "rho", "Proportionality metric: phi, rho or phs")
	cmd.Flags().StringVar(&reference, "reference", "clr", "Log-ratio reference: clr, iqlr or subset")
	cmd.Flags().Float64Var(&cutoff, "cutoff", 0.95, "Metric cutoff, in the metric's own direction")
	cmd.Flags().IntVar(&top, "top", 0, "Rows to print (0 prints all kept rows)")
	cmd.MarkFlagRequired("file")
	return cmd
}

// sortByMetric orders kept indices best-first for the metric's direction.
func sortByMetric(kept []int, a *propr.Analysis) {
	values := a.Values()
	desc := a.CutoffDirection() == compositional.DirectionGreaterOrEqual
	sort.Slice(kept, func(x, y int) bool {
		if desc {
			return values[kept[x]] > values[kept[y]]
		}
		return values[kept[x]] < values[kept[y]]
	})
}

// printTop prints the smallest-statistic rows of the differential table as
// JSON lines.
func printTop(a *propd.Analysis, top int) error {
	rows := a.Results()
	values := a.Values()
	kept := results.All(a)
	sort.Slice(kept, func(x, y int) bool {
		return values[kept[x]] < values[kept[y]]
	})
	if top > 0 && len(kept) > top {
		kept = kept[:top]
	}

	enc := json.NewEncoder(os.Stdout)
	for _, k := range kept {
		if err := enc.Encode(results.ToJSON(rows[k])); err != nil {
			return err
		}
	}
	return nil
}

// persistRun stores the run and its full results table in postgres.
func persistRun(ctx context.Context, flags *runFlags, a *propd.Analysis) error {
	db, err := postgres.Connect(flags.databaseURL)
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
		SourceFile:   flags.file,
		Statistic:    string(a.Active()),
		Samples:      n1 + n2,
		Features:     a.Features(),
		Permutations: a.Permutations(),
		Alpha:        flags.alpha,
		Weighted:     flags.weighted,
	})
	if err != nil {
		return err
	}
	if err := repo.SaveResults(ctx, runID, a.Results()); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "saved run %s (%d pairs)\n", runID, a.NumPairs())
	return nil
}
