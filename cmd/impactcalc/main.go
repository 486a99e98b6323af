// Command impactcalc scores a points CSV offline with the same engine the
// impactd service runs, without touching the data lake.
//
// Usage:
//
//	go run ./cmd/impactcalc \
//	  -in data/points.csv -derive \
//	  -regions configs/regions.yaml -weights configs/weights.yaml \
//	  -start 2020-03-01 -end 2020-06-30 \
//	  -out scores.csv
//
// With -weekly N the weekly decay of every input series is written instead
// of scores. With -policy METRIC the changes detected in METRIC are scored
// against -impact-indicator and written to -impacts.
package main

import (
	"cmp"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"slices"
	"strings"

	"github.com/islandhamstar/covid-impact/internal/adapter/csvio"
	"github.com/islandhamstar/covid-impact/internal/config"
	"github.com/islandhamstar/covid-impact/internal/domain"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	in := flag.String("in", "", "points CSV (region,date,metric,value[,missing])")
	out := flag.String("out", "", "output CSV path (default stdout)")
	weightsFile := flag.String("weights", "", "YAML score config; IMPACT_* env vars override it")
	regionsFile := flag.String("regions", "", "YAML region catalog with populations")
	start := flag.String("start", "", "first day to score (YYYY-MM-DD)")
	end := flag.String("end", "", "last day to score (YYYY-MM-DD)")
	method := flag.String("method", "", "normalization method override (minmax or zscore)")
	derive := flag.Bool("derive", false, "derive indicators from raw data-lake metrics")
	weekly := flag.Int("weekly", 0, "write N weeks of decay from -start instead of scores")
	policy := flag.String("policy", "", "policy index metric to detect changes in")
	threshold := flag.Float64("threshold", 10, "minimum day-over-day change of the policy index")
	impactIndicator := flag.String("impact-indicator", domain.IndicatorCaseIncidence, "series scored around each policy change")
	impactsOut := flag.String("impacts", "", "output CSV path for policy impacts")
	preWindow := flag.Int("pre-window", 14, "points before a policy change")
	postWindow := flag.Int("post-window", 14, "points after a policy change")
	flag.Parse()

	if *in == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -in")
	}
	if *policy != "" && *impactsOut == "" {
		return fmt.Errorf("-policy requires -impacts")
	}

	points, err := readPoints(*in)
	if err != nil {
		return err
	}
	log.Printf("read %d points from %s", len(points), *in)

	r, err := domain.ParseDateRange(*start, *end)
	if err != nil {
		return err
	}

	if *weekly > 0 {
		if r.Start.IsZero() {
			return fmt.Errorf("-weekly requires -start")
		}
		series, err := weeklySeries(points, r, *weekly)
		if err != nil {
			return err
		}
		return writeOutput(*out, func(w io.Writer) error { return csvio.WriteWeekly(w, series) })
	}

	catalog, err := config.LoadRegionCatalog(*regionsFile, regionIDs(points))
	if err != nil {
		return err
	}

	indicators := points
	if *derive {
		indicators = domain.DeriveIndicators(points, points, catalog)
		log.Printf("derived %d indicator points", len(indicators))
	}

	scoreCfg, err := config.LoadScoreConfig(*weightsFile)
	if err != nil {
		return err
	}
	scoreCfg.Range = r
	if *method != "" {
		if scoreCfg.Method, err = domain.ParseNormalizationMethod(*method); err != nil {
			return err
		}
	}

	scores, err := domain.ComputeImpactScores(domain.BuildTable(indicators, nil), scoreCfg)
	if err != nil {
		return fmt.Errorf("compute scores: %w", err)
	}
	if err := writeOutput(*out, func(w io.Writer) error { return csvio.WriteScores(w, scores) }); err != nil {
		return err
	}
	summary := domain.ScoreRun{Table: scores}
	log.Printf("scored %d rows, %d incomplete", len(scores.Scores), summary.Incomplete())

	if *policy == "" {
		return nil
	}
	impacts, err := policyImpacts(points, indicators, *policy, *impactIndicator, *threshold, *preWindow, *postWindow)
	if err != nil {
		return err
	}
	if err := csvio.WriteFile(*impactsOut, func(w io.Writer) error { return csvio.WritePolicyImpacts(w, impacts) }); err != nil {
		return err
	}
	log.Printf("wrote %d policy impacts to %s", len(impacts), *impactsOut)
	return nil
}

func readPoints(path string) ([]domain.TimeSeriesPoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	return csvio.ReadPoints(f)
}

// writeOutput writes to path, or to stdout when path is empty.
func writeOutput(path string, write func(io.Writer) error) error {
	if path == "" {
		return write(os.Stdout)
	}
	return csvio.WriteFile(path, write)
}

func regionIDs(points []domain.TimeSeriesPoint) []string {
	var ids []string
	for _, p := range points {
		if !slices.Contains(ids, p.Region) {
			ids = append(ids, p.Region)
		}
	}
	slices.Sort(ids)
	return ids
}

type seriesKey struct{ region, metric string }

func groupSeries(points []domain.TimeSeriesPoint) (map[seriesKey][]domain.TimeSeriesPoint, []seriesKey) {
	groups := make(map[seriesKey][]domain.TimeSeriesPoint)
	var keys []seriesKey
	for _, p := range points {
		k := seriesKey{p.Region, p.Metric}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], p)
	}
	slices.SortFunc(keys, func(a, b seriesKey) int {
		return cmp.Or(strings.Compare(a.region, b.region), strings.Compare(a.metric, b.metric))
	})
	return groups, keys
}

func weeklySeries(points []domain.TimeSeriesPoint, r domain.DateRange, weeks int) ([]csvio.WeeklySeries, error) {
	groups, keys := groupSeries(points)
	var out []csvio.WeeklySeries
	for _, k := range keys {
		values, err := domain.AggregateWeeklyDecay(groups[k], r.Start, weeks)
		if domain.IsInputError(err) {
			log.Printf("skipping %s %s: %v", k.region, k.metric, err)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, csvio.WeeklySeries{Region: k.region, Metric: k.metric, Weeks: values})
	}
	return out, nil
}

func policyImpacts(raw, indicators []domain.TimeSeriesPoint, policy, indicator string, threshold float64, pre, post int) ([]domain.PolicyImpactResult, error) {
	var policyPoints []domain.TimeSeriesPoint
	for _, p := range raw {
		if p.Metric == policy {
			policyPoints = append(policyPoints, p)
		}
	}
	events, err := domain.DetectPolicyChanges(policyPoints, threshold)
	if err != nil {
		return nil, err
	}
	log.Printf("detected %d %s changes", len(events), policy)

	groups, _ := groupSeries(indicators)
	var impacts []domain.PolicyImpactResult
	for _, ev := range events {
		res, err := domain.PolicyImpact(groups[seriesKey{ev.Region, indicator}], ev.Date, pre, post)
		if domain.IsInputError(err) {
			log.Printf("skipping %s change on %s: %v", ev.Region, ev.Date.Format(domain.DateLayout), err)
			continue
		}
		if err != nil {
			return nil, err
		}
		if res.HasLargeGaps() {
			log.Printf("%s impact on %s: windows skip more than %d days", ev.Region, ev.Date.Format(domain.DateLayout), domain.GapWarningDays)
		}
		impacts = append(impacts, res)
	}
	return impacts, nil
}
