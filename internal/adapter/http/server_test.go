package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	httpadapter "github.com/islandhamstar/covid-impact/internal/adapter/http"
	"github.com/islandhamstar/covid-impact/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockScores struct {
	run *domain.ScoreRun
}

func (m *mockScores) Latest() (domain.ScoreRun, bool) {
	if m.run == nil {
		return domain.ScoreRun{}, false
	}
	return *m.run, true
}

func day(d int) time.Time { return time.Date(2020, 3, d, 0, 0, 0, 0, time.UTC) }

func testRun() *domain.ScoreRun {
	return &domain.ScoreRun{
		ID:         "run-42",
		ComputedAt: time.Date(2020, 10, 16, 6, 0, 0, 0, time.UTC),
		Table: domain.ScoreTable{
			Indicators: []string{"case_growth"},
			Weights:    map[string]float64{"case_growth": 1},
			Method:     domain.MethodMinMax,
			Scores: []domain.ImpactScore{
				{Region: "France", Date: day(1), Score: 0, Coverage: 1},
				{Region: "France", Date: day(2), Score: 1, Coverage: 1},
				{Region: "Italy", Date: day(1), Score: 0.5, Coverage: 1},
			},
		},
		PolicyImpacts: []domain.PolicyImpactResult{
			{Region: "France", Metric: "OxCGRT_StringencyIndex", Origin: day(2), Score: -0.3},
			{Region: "Italy", Metric: "OxCGRT_StringencyIndex", Origin: day(1), Score: 0.1},
		},
	}
}

func newTestServer(readyErr error, run *domain.ScoreRun) *httpadapter.Server {
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, &mockScores{run: run}, slog.Default())
}

func get(t *testing.T, srv *httpadapter.Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

type scoresBody struct {
	RunID  string               `json:"run_id"`
	Method string               `json:"method"`
	Scores []domain.ImpactScore `json:"scores"`
}

func TestHealthzReturns200(t *testing.T) {
	rec := get(t, newTestServer(nil, nil), "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := get(t, newTestServer(nil, nil), "/readyz")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := get(t, newTestServer(fmt.Errorf("not ready yet"), nil), "/readyz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "not ready yet", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, newTestServer(nil, nil), "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestScoresReturns503BeforeFirstRun(t *testing.T) {
	srv := newTestServer(nil, nil)

	for _, target := range []string{"/scores", "/scores/France", "/policy-impacts"} {
		rec := get(t, srv, target)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, target)
	}
}

func TestScoresReturnsLatestRun(t *testing.T) {
	rec := get(t, newTestServer(nil, testRun()), "/scores")
	require.Equal(t, http.StatusOK, rec.Code)

	var body scoresBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-42", body.RunID)
	assert.Equal(t, "minmax", body.Method)
	assert.Len(t, body.Scores, 3)
}

func TestScoresFilters(t *testing.T) {
	srv := newTestServer(nil, testRun())

	tests := []struct {
		target string
		want   int
	}{
		{"/scores?region=Italy", 1},
		{"/scores?from=2020-03-02", 1},
		{"/scores?to=2020-03-01", 2},
		{"/scores?region=France&from=2020-03-01&to=2020-03-01", 1},
		{"/scores?region=Spain", 0},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := get(t, srv, tt.target)
			require.Equal(t, http.StatusOK, rec.Code)

			var body scoresBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Len(t, body.Scores, tt.want)
		})
	}
}

func TestScoresInvalidDates(t *testing.T) {
	srv := newTestServer(nil, testRun())

	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/scores?from=yesterday").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/scores?from=2020-03-02&to=2020-03-01").Code)
}

func TestRegionScores(t *testing.T) {
	srv := newTestServer(nil, testRun())

	rec := get(t, srv, "/scores/France")
	require.Equal(t, http.StatusOK, rec.Code)

	var body scoresBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Scores, 2)
	assert.Equal(t, day(1), body.Scores[0].Date)
	assert.InDelta(t, 1.0, body.Scores[1].Score, 0)

	rec = get(t, srv, "/scores/France?from=2020-03-02")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Scores, 1)
}

func TestRegionScoresUnknownRegion(t *testing.T) {
	rec := get(t, newTestServer(nil, testRun()), "/scores/Atlantis")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Atlantis")
}

func TestPolicyImpacts(t *testing.T) {
	srv := newTestServer(nil, testRun())

	var body struct {
		RunID         string                      `json:"run_id"`
		PolicyImpacts []domain.PolicyImpactResult `json:"policy_impacts"`
	}

	rec := get(t, srv, "/policy-impacts")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-42", body.RunID)
	assert.Len(t, body.PolicyImpacts, 2)

	rec = get(t, srv, "/policy-impacts?region=France")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.PolicyImpacts, 1)
	assert.InDelta(t, -0.3, body.PolicyImpacts[0].Score, 1e-9)
}
