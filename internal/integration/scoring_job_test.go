//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/islandhamstar/covid-impact/internal/adapter/datalake"
	"github.com/islandhamstar/covid-impact/internal/adapter/rediscache"
	"github.com/islandhamstar/covid-impact/internal/config"
	"github.com/islandhamstar/covid-impact/internal/domain"
	"github.com/islandhamstar/covid-impact/internal/observability"
	"github.com/islandhamstar/covid-impact/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDatalake serves evalmetrics requests with a linear series per expression.
func fakeDatalake(t *testing.T, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		var req struct {
			Spec struct {
				IDs         []string `json:"ids"`
				Expressions []string `json:"expressions"`
				Start       string   `json:"start"`
				End         string   `json:"end"`
			} `json:"spec"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		start, _ := time.Parse(domain.DateLayout, req.Spec.Start)
		end, _ := time.Parse(domain.DateLayout, req.Spec.End)

		result := map[string]map[string]any{}
		for _, id := range req.Spec.IDs {
			series := map[string]any{}
			for _, expr := range req.Spec.Expressions {
				var dates []string
				var data []float64
				for i, d := 0, start; !d.After(end); i, d = i+1, d.AddDate(0, 0, 1) {
					dates = append(dates, d.Format(time.RFC3339))
					data = append(data, float64(100+i*i*len(id)))
				}
				series[expr] = map[string]any{"dates": dates, "data": data, "missing": make([]float64, len(data))}
			}
			result[id] = series
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"result": result})
	}))
}

// TestScoringJobSharesRedisCache runs the job twice through separate cache
// stacks sharing one Redis, as two service instances would. The second run
// must be served entirely from Redis.
func TestScoringJobSharesRedisCache(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	redisAddr := startRedis(ctx, t)
	var requests atomic.Int32
	lake := fakeDatalake(t, &requests)
	t.Cleanup(lake.Close)

	catalog, err := config.LoadRegionCatalog("", []string{"France", "Italy"})
	require.NoError(t, err)
	scoreCfg, err := config.LoadScoreConfig("")
	require.NoError(t, err)
	settings := pipeline.Settings{
		Range: domain.DateRange{
			Start: time.Date(2020, 4, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2020, 4, 14, 0, 0, 0, 0, time.UTC),
		},
		Interval:         time.Hour,
		PolicyThreshold:  10,
		PolicyPreWindow:  3,
		PolicyPostWindow: 3,
		PolicyIndicator:  domain.IndicatorCaseGrowth,
	}

	newJob := func() *pipeline.Job {
		metrics := observability.NewMetricsForTesting()
		client := datalake.NewClient(lake.URL, 5*time.Second, 0, "OxCGRT_StringencyIndex", discardLogger(), metrics)
		redisClient := rediscache.NewClient(redisAddr, "", 0)
		t.Cleanup(func() { _ = redisClient.Close() })
		cached := rediscache.New(client, redisClient, time.Hour, discardLogger(), metrics)
		require.NoError(t, cached.Ping(ctx))
		return pipeline.New(cached, nil, catalog, scoreCfg, settings, discardLogger(), metrics)
	}

	first, err := newJob().RunOnce(ctx)
	require.NoError(t, err)
	coldRequests := requests.Load()
	assert.Equal(t, int32(3*2), coldRequests, "one request per dataset and region")

	second, err := newJob().RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, coldRequests, requests.Load(), "second run served from redis")

	assert.Equal(t, first.Table, second.Table)
	assert.Len(t, first.Table.Scores, 2*14)
}
