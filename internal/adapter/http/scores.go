package http

import (
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/islandhamstar/covid-impact/internal/domain"
)

// ScoreSource provides the most recent completed scoring run.
type ScoreSource interface {
	Latest() (domain.ScoreRun, bool)
}

type scoresResponse struct {
	RunID      string               `json:"run_id"`
	ComputedAt time.Time            `json:"computed_at"`
	Method     string               `json:"method"`
	Indicators []string             `json:"indicators"`
	Weights    map[string]float64   `json:"weights"`
	Scores     []domain.ImpactScore `json:"scores"`
}

type policyImpactsResponse struct {
	RunID         string                      `json:"run_id"`
	ComputedAt    time.Time                   `json:"computed_at"`
	PolicyImpacts []domain.PolicyImpactResult `json:"policy_impacts"`
}

// handleScores serves GET /scores with optional region, from and to filters.
func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	run, ok := s.latest(w)
	if !ok {
		return
	}
	dates, ok := parseDates(w, r)
	if !ok {
		return
	}
	region := r.URL.Query().Get("region")

	scores := make([]domain.ImpactScore, 0, len(run.Table.Scores))
	for _, sc := range run.Table.Scores {
		if (region == "" || sc.Region == region) && dates.Contains(sc.Date) {
			scores = append(scores, sc)
		}
	}
	sharedobs.WriteJSON(w, http.StatusOK, newScoresResponse(run, scores))
}

// handleRegionScores serves GET /scores/{region}.
func (s *Server) handleRegionScores(w http.ResponseWriter, r *http.Request) {
	run, ok := s.latest(w)
	if !ok {
		return
	}
	dates, ok := parseDates(w, r)
	if !ok {
		return
	}
	region := r.PathValue("region")

	all := run.Table.ForRegion(region)
	if len(all) == 0 {
		writeError(w, http.StatusNotFound, "no scores for region "+region)
		return
	}
	scores := make([]domain.ImpactScore, 0, len(all))
	for _, sc := range all {
		if dates.Contains(sc.Date) {
			scores = append(scores, sc)
		}
	}
	sharedobs.WriteJSON(w, http.StatusOK, newScoresResponse(run, scores))
}

// handlePolicyImpacts serves GET /policy-impacts with an optional region filter.
func (s *Server) handlePolicyImpacts(w http.ResponseWriter, r *http.Request) {
	run, ok := s.latest(w)
	if !ok {
		return
	}
	region := r.URL.Query().Get("region")

	impacts := make([]domain.PolicyImpactResult, 0, len(run.PolicyImpacts))
	for _, p := range run.PolicyImpacts {
		if region == "" || p.Region == region {
			impacts = append(impacts, p)
		}
	}
	sharedobs.WriteJSON(w, http.StatusOK, policyImpactsResponse{
		RunID:         run.ID,
		ComputedAt:    run.ComputedAt,
		PolicyImpacts: impacts,
	})
}

func (s *Server) latest(w http.ResponseWriter) (domain.ScoreRun, bool) {
	run, ok := s.scores.Latest()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no scoring run has completed yet")
	}
	return run, ok
}

func parseDates(w http.ResponseWriter, r *http.Request) (domain.DateRange, bool) {
	q := r.URL.Query()
	dates, err := domain.ParseDateRange(q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return domain.DateRange{}, false
	}
	return dates, true
}

func newScoresResponse(run domain.ScoreRun, scores []domain.ImpactScore) scoresResponse {
	return scoresResponse{
		RunID:      run.ID,
		ComputedAt: run.ComputedAt,
		Method:     string(run.Table.Method),
		Indicators: run.Table.Indicators,
		Weights:    run.Table.Weights,
		Scores:     scores,
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": msg})
}
