package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/islandhamstar/covid-impact/internal/domain"
	"github.com/islandhamstar/covid-impact/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Publisher hands a completed scoring run to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, run domain.ScoreRun) error
}

// Settings are the fixed parameters of a scoring job.
type Settings struct {
	// Range is the span of days that is scored.
	Range domain.DateRange
	// Interval is the time between scheduled runs.
	Interval time.Duration

	PolicyThreshold  float64
	PolicyPreWindow  int
	PolicyPostWindow int
	// PolicyIndicator is the indicator or raw metric whose change is measured
	// around each detected policy change.
	PolicyIndicator string
}

// Job periodically fetches data-lake series, derives indicators, computes
// impact scores and policy impacts, and publishes the result.
type Job struct {
	fetcher   domain.Fetcher
	publisher Publisher
	catalog   domain.RegionCatalog
	settings  Settings
	scoreCfg  atomic.Pointer[domain.ScoreConfig]
	latest    atomic.Pointer[domain.ScoreRun]
	clock     clockwork.Clock
	newID     func() string
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// New creates a Job. publisher may be nil to keep runs in memory only.
func New(fetcher domain.Fetcher, publisher Publisher, catalog domain.RegionCatalog, scoreCfg domain.ScoreConfig,
	settings Settings, logger *slog.Logger, metrics *observability.Metrics) *Job {
	j := &Job{
		fetcher:   fetcher,
		publisher: publisher,
		catalog:   catalog,
		settings:  settings,
		clock:     clockwork.NewRealClock(),
		newID:     func() string { return uuid.NewString() },
		logger:    logger,
		metrics:   metrics,
	}
	j.scoreCfg.Store(&scoreCfg)
	return j
}

// SetClock replaces the clock used for scheduling and run timestamps.
func (j *Job) SetClock(c clockwork.Clock) {
	j.clock = c
}

// SetScoreConfig swaps the weights and method used by subsequent runs. The
// date range of cfg is ignored in favour of the job's own.
func (j *Job) SetScoreConfig(cfg domain.ScoreConfig) {
	j.scoreCfg.Store(&cfg)
}

// ScoreConfig returns the configuration the next run will use.
func (j *Job) ScoreConfig() domain.ScoreConfig {
	cfg := *j.scoreCfg.Load()
	cfg.Range = j.settings.Range
	return cfg
}

// Latest returns the most recent successful run.
func (j *Job) Latest() (domain.ScoreRun, bool) {
	run := j.latest.Load()
	if run == nil {
		return domain.ScoreRun{}, false
	}
	return *run, true
}

// CheckReadiness returns nil once a run has completed, or an error describing
// why the service is not yet ready.
func (j *Job) CheckReadiness(_ context.Context) error {
	if j.latest.Load() == nil {
		return errors.New("no scoring run has completed yet")
	}
	return nil
}

// Run executes a scoring run immediately and then on every interval until the
// context is cancelled. Failed runs are logged and retried on the next tick.
func (j *Job) Run(ctx context.Context) error {
	j.logger.Info("scoring job started",
		"interval", j.settings.Interval,
		"range", j.settings.Range.String(),
		"regions", j.catalog.Len(),
	)
	j.metrics.JobRunning.Set(1)
	defer j.metrics.JobRunning.Set(0)

	ticker := j.clock.NewTicker(j.settings.Interval)
	defer ticker.Stop()

	for {
		if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
			j.logger.Error("scoring run failed", "error", err)
		}

		select {
		case <-ctx.Done():
			j.logger.Info("scoring job stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
		}
	}
}

// RunOnce performs one fetch-score-publish cycle and records it as the latest
// run. The run is kept even when publishing fails.
func (j *Job) RunOnce(ctx context.Context) (domain.ScoreRun, error) {
	start := j.clock.Now()
	cfg := j.ScoreConfig()

	run, err := j.compute(ctx, cfg)
	if err != nil {
		j.metrics.ScoreRuns.WithLabelValues(outcome(err)).Inc()
		return domain.ScoreRun{}, err
	}
	j.latest.Store(&run)

	j.metrics.ScoresProduced.Add(float64(len(run.Table.Scores)))
	j.metrics.IncompleteRows.Add(float64(run.Incomplete()))

	if j.publisher != nil {
		if err := j.publisher.Publish(ctx, run); err != nil {
			j.metrics.ScoreRuns.WithLabelValues("publish_error").Inc()
			return run, err
		}
	}

	elapsed := j.clock.Since(start)
	j.metrics.ScoreRuns.WithLabelValues("success").Inc()
	j.metrics.RunDuration.Observe(elapsed.Seconds())
	j.metrics.LastRunSuccess.Set(float64(run.ComputedAt.Unix()))
	j.logger.Info("scoring run complete",
		"run_id", run.ID,
		"scores", len(run.Table.Scores),
		"incomplete", run.Incomplete(),
		"policy_impacts", len(run.PolicyImpacts),
		"duration", elapsed,
	)
	return run, nil
}

func (j *Job) compute(ctx context.Context, cfg domain.ScoreConfig) (domain.ScoreRun, error) {
	regions := j.catalog.IDs()
	fetchRange := j.fetchRange()

	cases, err := j.fetcher.Fetch(ctx, domain.DatasetCases, regions, fetchRange)
	if err != nil {
		return domain.ScoreRun{}, fmt.Errorf("fetch cases: %w", err)
	}
	mobility, err := j.fetcher.Fetch(ctx, domain.DatasetMobility, regions, fetchRange)
	if err != nil {
		return domain.ScoreRun{}, fmt.Errorf("fetch mobility: %w", err)
	}

	indicators := domain.DeriveIndicators(cases, mobility, j.catalog)
	table := domain.BuildTable(indicators, nil)
	scores, err := domain.ComputeImpactScores(table, cfg)
	if err != nil {
		return domain.ScoreRun{}, fmt.Errorf("compute impact scores: %w", err)
	}

	series := make([]domain.TimeSeriesPoint, 0, len(indicators)+len(cases)+len(mobility))
	series = append(append(append(series, indicators...), cases...), mobility...)
	impacts := j.policyImpacts(ctx, regions, fetchRange, series)

	return domain.ScoreRun{
		ID:            j.newID(),
		ComputedAt:    j.clock.Now().UTC(),
		Range:         j.settings.Range,
		Table:         scores,
		PolicyImpacts: impacts,
	}, nil
}

// fetchRange extends the scored range by one leading day so day-over-day
// indicators exist on the first scored day.
func (j *Job) fetchRange() domain.DateRange {
	r := j.settings.Range
	if !r.Start.IsZero() {
		r.Start = domain.Day(r.Start).AddDate(0, 0, -1)
	}
	return r
}

// policyImpacts measures the configured indicator around every detected policy
// change. Policy analysis is best effort: a failed policy fetch or a change
// without enough surrounding data is logged and skipped.
func (j *Job) policyImpacts(ctx context.Context, regions []string, r domain.DateRange, series []domain.TimeSeriesPoint) []domain.PolicyImpactResult {
	policy, err := j.fetcher.Fetch(ctx, domain.DatasetPolicy, regions, r)
	if err != nil {
		j.logger.Warn("policy fetch failed, skipping policy impacts", "error", err)
		return nil
	}
	events, err := domain.DetectPolicyChanges(policy, j.settings.PolicyThreshold)
	if err != nil {
		j.logger.Warn("policy change detection failed", "error", err)
		return nil
	}

	byRegion := make(map[string][]domain.TimeSeriesPoint)
	for _, p := range series {
		if p.Metric == j.settings.PolicyIndicator {
			byRegion[p.Region] = append(byRegion[p.Region], p)
		}
	}

	impacts := make([]domain.PolicyImpactResult, 0, len(events))
	for _, ev := range events {
		res, err := domain.PolicyImpact(byRegion[ev.Region], ev.Date, j.settings.PolicyPreWindow, j.settings.PolicyPostWindow)
		if err != nil {
			j.metrics.PolicyImpactSkips.Inc()
			j.logger.Debug("policy impact skipped",
				"region", ev.Region,
				"date", ev.Date.Format(domain.DateLayout),
				"error", err,
			)
			continue
		}
		res.Region, res.Metric = ev.Region, j.settings.PolicyIndicator
		if res.HasLargeGaps() {
			j.logger.Warn("policy impact regression skipped many days",
				"region", ev.Region,
				"date", ev.Date.Format(domain.DateLayout),
				"pre_days_skipped", res.PreDaysSkipped,
				"post_days_skipped", res.PostDaysSkipped,
			)
		}
		impacts = append(impacts, res)
	}
	return impacts
}

func outcome(err error) string {
	switch {
	case domain.IsRemoteError(err):
		return "remote_error"
	case domain.IsInputError(err):
		return "input_error"
	default:
		return "error"
	}
}
