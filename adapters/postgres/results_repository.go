// Package postgres persists analysis runs and their pairwise results tables.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"propd/domain/compositional"
)

// AnalysisRun records one completed differential-proportionality analysis.
type AnalysisRun struct {
	ID           string    `db:"id" json:"id"`
	SourceFile   string    `db:"source_file" json:"source_file"`
	Statistic    string    `db:"statistic" json:"statistic"`
	Samples      int       `db:"samples" json:"samples"`
	Features     int       `db:"features" json:"features"`
	Permutations int       `db:"permutations" json:"permutations"`
	Alpha        float64   `db:"alpha" json:"alpha"`
	Weighted     bool      `db:"weighted" json:"weighted"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// ResultsRepository stores runs and their result rows.
type ResultsRepository struct {
	db *sqlx.DB
}

// NewResultsRepository creates a new results repository.
func NewResultsRepository(db *sqlx.DB) *ResultsRepository {
	return &ResultsRepository{db: db}
}

// Connect opens and pings a postgres connection.
func Connect(databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return db, nil
}

// InitSchema creates the run and result tables if they do not exist.
func (r *ResultsRepository) InitSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS analysis_runs (
			id UUID PRIMARY KEY,
			source_file TEXT NOT NULL,
			statistic TEXT NOT NULL,
			samples INT NOT NULL,
			features INT NOT NULL,
			permutations INT NOT NULL,
			alpha DOUBLE PRECISION NOT NULL,
			weighted BOOLEAN NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS pair_results (
			run_id UUID NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
			pair_index INT NOT NULL,
			partner TEXT NOT NULL,
			pair TEXT NOT NULL,
			theta DOUBLE PRECISION,
			theta_e DOUBLE PRECISION,
			theta_f DOUBLE PRECISION,
			lrv DOUBLE PRECISION,
			lrv1 DOUBLE PRECISION,
			lrv2 DOUBLE PRECISION,
			lrm1 DOUBLE PRECISION,
			lrm2 DOUBLE PRECISION,
			p1 DOUBLE PRECISION,
			p2 DOUBLE PRECISION,
			p DOUBLE PRECISION,
			theta_mod DOUBLE PRECISION,
			fstat DOUBLE PRECISION,
			pval DOUBLE PRECISION,
			PRIMARY KEY (run_id, pair_index)
		);
		CREATE INDEX IF NOT EXISTS idx_pair_results_theta ON pair_results (run_id, theta);`

	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// SaveRun inserts a run record and returns its generated ID.
func (r *ResultsRepository) SaveRun(ctx context.Context, run *AnalysisRun) (string, error) {
	run.ID = uuid.New().String()
	run.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO analysis_runs (
			id, source_file, statistic, samples, features,
			permutations, alpha, weighted, created_at
		) VALUES (
			:id, :source_file, :statistic, :samples, :features,
			:permutations, :alpha, :weighted, :created_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, run); err != nil {
		return "", fmt.Errorf("failed to insert analysis run: %w", err)
	}
	return run.ID, nil
}

// SaveResults bulk-inserts the result rows of a run inside one transaction.
// NaN columns are stored as NULL.
func (r *ResultsRepository) SaveResults(ctx context.Context, runID string, rows []compositional.ResultRow) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin results transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pair_results (
			run_id, pair_index, partner, pair, theta, theta_e, theta_f,
			lrv, lrv1, lrv2, lrm1, lrm2, p1, p2, p, theta_mod, fstat, pval
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`)
	if err != nil {
		return fmt.Errorf("failed to prepare results insert: %w", err)
	}
	defer stmt.Close()

	for k, row := range rows {
		_, err := stmt.ExecContext(ctx,
			runID, k, row.Partner, row.Pair,
			nullable(row.Theta), nullable(row.ThetaE), nullable(row.ThetaF),
			nullable(row.LRV), nullable(row.LRV1), nullable(row.LRV2),
			nullable(row.LRM1), nullable(row.LRM2),
			nullable(row.P1), nullable(row.P2), nullable(row.P),
			nullable(row.ThetaMod), nullable(row.FStat), nullable(row.PVal),
		)
		if err != nil {
			return fmt.Errorf("failed to insert result row %d: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit results: %w", err)
	}
	return nil
}

// GetRun fetches a run record by ID. Returns nil when no run exists.
func (r *ResultsRepository) GetRun(ctx context.Context, runID string) (*AnalysisRun, error) {
	var run AnalysisRun
	err := r.db.GetContext(ctx, &run, `SELECT * FROM analysis_runs WHERE id = $1`, runID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get analysis run: %w", err)
	}
	return &run, nil
}

// ListRuns returns the most recent runs, newest first.
func (r *ResultsRepository) ListRuns(ctx context.Context, limit int) ([]AnalysisRun, error) {
	var runs []AnalysisRun
	err := r.db.SelectContext(ctx, &runs,
		`SELECT * FROM analysis_runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis runs: %w", err)
	}
	return runs, nil
}

// TopResults returns the rows of a run with the smallest theta values, the
// usual way a results table is inspected.
func (r *ResultsRepository) TopResults(ctx context.Context, runID string, limit int) ([]compositional.ResultRow, error) {
	var rows []compositional.ResultRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT partner, pair,
			COALESCE(theta, 'NaN'::float8) AS theta,
			COALESCE(theta_e, 'NaN'::float8) AS theta_e,
			COALESCE(theta_f, 'NaN'::float8) AS theta_f,
			COALESCE(lrv, 'NaN'::float8) AS lrv,
			COALESCE(lrv1, 'NaN'::float8) AS lrv1,
			COALESCE(lrv2, 'NaN'::float8) AS lrv2,
			COALESCE(lrm1, 'NaN'::float8) AS lrm1,
			COALESCE(lrm2, 'NaN'::float8) AS lrm2,
			COALESCE(p1, 'NaN'::float8) AS p1,
			COALESCE(p2, 'NaN'::float8) AS p2,
			COALESCE(p, 'NaN'::float8) AS p,
			COALESCE(theta_mod, 'NaN'::float8) AS theta_mod,
			COALESCE(fstat, 'NaN'::float8) AS fstat,
			COALESCE(pval, 'NaN'::float8) AS pval
		FROM pair_results
		WHERE run_id = $1 AND theta IS NOT NULL
		ORDER BY theta ASC
		LIMIT $2`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top results: %w", err)
	}
	return rows, nil
}

// nullable maps NaN to SQL NULL so the numeric columns stay queryable.
func nullable(v float64) interface{} {
	if v != v {
		return nil
	}
	return v
}
