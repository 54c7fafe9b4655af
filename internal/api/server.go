// Package api exposes a completed analysis over HTTP: the results table, the
// cutoff filter and the permutation FDR table.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"propd/domain/compositional"
	"propd/internal"
	"propd/internal/errors"
	"propd/internal/propd"
	"propd/internal/propr"
	"propd/internal/results"
)

// Server serves a fixed differential analysis and, optionally, a plain
// proportionality analysis over HTTP. Analyses are computed before the server
// starts; handlers only read them.
type Server struct {
	analysis *propd.Analysis
	assoc    *propr.Analysis // may be nil
	log      *internal.Logger
	router   chi.Router
}

// NewServer wires the routes around the given analyses. assoc may be nil when
// only the differential variant was run.
func NewServer(analysis *propd.Analysis, assoc *propr.Analysis) *Server {
	s := &Server{
		analysis: analysis,
		assoc:    assoc,
		log:      internal.DefaultLogger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Get("/results", s.handleResults)
	r.Get("/fdr", s.handleFDR)
	r.Get("/proportionality", s.handleProportionality)
	s.router = r

	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	n1, n2 := s.analysis.GroupSizes()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"pairs":        s.analysis.NumPairs(),
		"group1":       n1,
		"group2":       n2,
		"permutations": s.analysis.Permutations(),
	})
}

// handleResults returns the differential results table, optionally filtered
// by ?stat= (active statistic) and ?cutoff=.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	a := s.analysis
	if statParam := r.URL.Query().Get("stat"); statParam != "" {
		stat, err := compositional.ParseStatistic(statParam)
		if err != nil {
			s.writeError(w, err)
			return
		}
		switched, err := a.WithActive(stat)
		if err != nil {
			s.writeError(w, err)
			return
		}
		a = switched
	}

	rows := a.Results()
	kept := results.All(a)
	if cutoffParam := r.URL.Query().Get("cutoff"); cutoffParam != "" {
		cutoff, err := strconv.ParseFloat(cutoffParam, 64)
		if err != nil {
			s.writeError(w, errors.InvalidInput("cutoff must be numeric"))
			return
		}
		kept = results.Filter(a, cutoff)
	}

	out := make([]results.ResultJSON, len(kept))
	for i, k := range kept {
		out[i] = results.ToJSON(rows[k])
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"statistic": string(a.Active()),
		"count":     len(out),
		"results":   out,
	})
}

// handleFDR runs the permutation FDR table for ?cutoffs=0.1,0.2,...
// (ascending). This is the one handler that computes rather than reads.
func (s *Server) handleFDR(w http.ResponseWriter, r *http.Request) {
	cutoffParam := r.URL.Query().Get("cutoffs")
	if cutoffParam == "" {
		s.writeError(w, errors.InvalidInput("cutoffs query parameter is required"))
		return
	}
	parts := strings.Split(cutoffParam, ",")
	cutoffs := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			s.writeError(w, errors.InvalidInput("cutoffs must be numeric"))
			return
		}
		cutoffs = append(cutoffs, v)
	}

	a := s.analysis
	if statParam := r.URL.Query().Get("stat"); statParam != "" {
		stat, err := compositional.ParseStatistic(statParam)
		if err != nil {
			s.writeError(w, err)
			return
		}
		switched, err := a.WithActive(stat)
		if err != nil {
			s.writeError(w, err)
			return
		}
		a = switched
	}

	table, err := a.UpdateCutoffs(r.Context(), cutoffs, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]results.FDRJSON, len(table))
	for i, row := range table {
		out[i] = results.FDRToJSON(row)
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"statistic": string(a.Active()),
		"table":     out,
	})
}

// handleProportionality returns the plain association table, optionally
// filtered by ?cutoff= in the metric's own direction.
func (s *Server) handleProportionality(w http.ResponseWriter, r *http.Request) {
	if s.assoc == nil {
		s.writeError(w, errors.InvalidInput("no proportionality analysis was configured"))
		return
	}

	rows := s.assoc.Results()
	kept := results.All(s.assoc)
	if cutoffParam := r.URL.Query().Get("cutoff"); cutoffParam != "" {
		cutoff, err := strconv.ParseFloat(cutoffParam, 64)
		if err != nil {
			s.writeError(w, errors.InvalidInput("cutoff must be numeric"))
			return
		}
		kept = results.Filter(s.assoc, cutoff)
	}

	type proprJSON struct {
		Partner string            `json:"Partner"`
		Pair    string            `json:"Pair"`
		Metric  results.NullFloat `json:"metric"`
		LRV     results.NullFloat `json:"lrv"`
	}
	out := make([]proprJSON, len(kept))
	for i, k := range kept {
		out[i] = proprJSON{
			Partner: rows[k].Partner,
			Pair:    rows[k].Pair,
			Metric:  results.NullFloat(rows[k].Metric),
			LRV:     results.NullFloat(rows[k].LRV),
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"metric":  string(s.assoc.Metric()),
		"count":   len(out),
		"results": out,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("failed to encode response: %v", err)
	}
}

// writeError maps the error taxonomy onto HTTP statuses: caller mistakes are
// 400s, missing preconditions are 409s, the rest are 500s.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.GetCode(err) {
	case errors.CodeInvalidInput, errors.CodeInvalidGroup, errors.CodeReferenceZero:
		status = http.StatusBadRequest
	case errors.CodePermutationDisabled, errors.CodeModerationPrecondition:
		status = http.StatusConflict
	}
	s.writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  errors.GetCode(err),
	})
}
