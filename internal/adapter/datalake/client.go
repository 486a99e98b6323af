package datalake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/islandhamstar/covid-impact/internal/domain"
	"github.com/islandhamstar/covid-impact/internal/observability"
)

const (
	evalMetricsPath = "/outbreaklocation/evalmetrics"
	interval        = "DAY"

	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
)

// Client implements domain.Fetcher against the C3.ai COVID-19 data lake
// evalmetrics API. Regions are requested one per call, sequentially.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	expressions    map[string][]string
	logger         *slog.Logger
	metrics        *observability.Metrics
}

// NewClient creates a data-lake client. policyExpression is the index fetched
// for the policy dataset.
func NewClient(baseURL string, timeout time.Duration, maxRetries int, policyExpression string, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:        baseURL,
		maxRetries:     maxRetries,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		expressions:    datasetExpressions(policyExpression),
		logger:         logger,
		metrics:        metrics,
	}
}

func datasetExpressions(policyExpression string) map[string][]string {
	return map[string][]string{
		domain.DatasetCases:    {domain.MetricConfirmedCases},
		domain.DatasetMobility: slices.Clone(domain.MobilityMetrics),
		domain.DatasetPolicy:   {policyExpression},
	}
}

// Fetch returns the daily points of dataset for every region within r. The
// range must be closed on both sides. The first region that cannot be fetched
// aborts the call with a *domain.RemoteError.
func (c *Client) Fetch(ctx context.Context, dataset string, regions []string, r domain.DateRange) ([]domain.TimeSeriesPoint, error) {
	exprs, ok := c.expressions[dataset]
	if !ok {
		return nil, &domain.InputError{Reason: fmt.Sprintf("dataset %q", dataset), Err: domain.ErrInvalidParameters}
	}
	if r.Start.IsZero() || r.End.IsZero() {
		return nil, &domain.InputError{Reason: "data-lake fetch needs a start and end date", Err: domain.ErrInvalidParameters}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	var out []domain.TimeSeriesPoint
	for _, region := range regions {
		points, err := c.fetchRegion(ctx, dataset, region, exprs, r)
		if err != nil {
			return nil, err
		}
		out = append(out, points...)
	}
	return out, nil
}

func (c *Client) fetchRegion(ctx context.Context, dataset, region string, exprs []string, r domain.DateRange) ([]domain.TimeSeriesPoint, error) {
	body, err := json.Marshal(evalRequest{Spec: evalSpec{
		IDs:         []string{region},
		Expressions: exprs,
		Start:       r.Start.Format(domain.DateLayout),
		End:         r.End.Format(domain.DateLayout),
		Interval:    interval,
	}})
	if err != nil {
		return nil, fmt.Errorf("encode evalmetrics spec: %w", err)
	}

	backoff := c.initialBackoff
	for attempt := 0; ; attempt++ {
		points, retryable, err := c.doRequest(ctx, dataset, region, exprs, body)
		if err == nil {
			c.metrics.FetchRequests.WithLabelValues(dataset, "success").Inc()
			return points, nil
		}
		if !retryable || attempt >= c.maxRetries || ctx.Err() != nil {
			c.metrics.FetchRequests.WithLabelValues(dataset, "error").Inc()
			return nil, err
		}

		c.metrics.FetchRequests.WithLabelValues(dataset, "retry").Inc()
		c.logger.Warn("data-lake request failed, retrying",
			"dataset", dataset,
			"region", region,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)
		if !retry.SleepWithContext(ctx, backoff) {
			c.metrics.FetchRequests.WithLabelValues(dataset, "error").Inc()
			return nil, &domain.RemoteError{Dataset: dataset, Region: region, Err: ctx.Err()}
		}
		backoff = retry.NextBackoff(backoff, c.maxBackoff)
	}
}

// doRequest performs one evalmetrics call. The bool result reports whether a
// failure is worth retrying.
func (c *Client) doRequest(ctx context.Context, dataset, region string, exprs []string, body []byte) ([]domain.TimeSeriesPoint, bool, error) {
	start := time.Now()
	defer func() {
		c.metrics.FetchDuration.WithLabelValues(dataset).Observe(time.Since(start).Seconds())
	}()

	remote := func(status int, err error) error {
		return &domain.RemoteError{Dataset: dataset, Region: region, StatusCode: status, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+evalMetricsPath, bytes.NewReader(body))
	if err != nil {
		return nil, false, remote(0, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, remote(0, fmt.Errorf("evalmetrics request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		retryable := resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests
		return nil, retryable, remote(resp.StatusCode, fmt.Errorf("data-lake API error: %s", bytes.TrimSpace(msg)))
	}

	var evalResp evalResponse
	if err := json.NewDecoder(resp.Body).Decode(&evalResp); err != nil {
		return nil, false, remote(resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}

	points, err := evalResp.points(region, exprs)
	if err != nil {
		return nil, false, remote(resp.StatusCode, err)
	}
	return points, false, nil
}

// Evalmetrics API request and response types.

type evalRequest struct {
	Spec evalSpec `json:"spec"`
}

type evalSpec struct {
	IDs         []string `json:"ids"`
	Expressions []string `json:"expressions"`
	Start       string   `json:"start"`
	End         string   `json:"end"`
	Interval    string   `json:"interval"`
}

type evalResponse struct {
	Result map[string]map[string]metricSeries `json:"result"`
}

type metricSeries struct {
	Dates []string  `json:"dates"`
	Data  []float64 `json:"data"`
	// Missing is the percentage of the value that was imputed; any non-zero
	// share marks the value as missing.
	Missing []float64 `json:"missing"`
}

// points flattens the series of one region, expressions in request order. A
// region or expression absent from the response yields no points.
func (r evalResponse) points(region string, exprs []string) ([]domain.TimeSeriesPoint, error) {
	metrics := r.Result[region]
	var out []domain.TimeSeriesPoint
	for _, expr := range exprs {
		s, ok := metrics[expr]
		if !ok {
			continue
		}
		if len(s.Data) != len(s.Dates) || (s.Missing != nil && len(s.Missing) != len(s.Dates)) {
			return nil, fmt.Errorf("malformed series %s: %d dates, %d values, %d missing flags",
				expr, len(s.Dates), len(s.Data), len(s.Missing))
		}
		for i, raw := range s.Dates {
			date, err := domain.ParseDay(raw)
			if err != nil {
				return nil, fmt.Errorf("malformed series %s: %w", expr, err)
			}
			p := domain.TimeSeriesPoint{Region: region, Date: date, Metric: expr, Value: s.Data[i]}
			if s.Missing != nil && s.Missing[i] > 0 {
				p.Missing = true
			}
			out = append(out, p)
		}
	}
	return out, nil
}
