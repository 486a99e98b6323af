package domain

import (
	"slices"
	"strings"
	"time"
)

const (
	perCapitaBase       = 100_000
	residentialCategory = "Residential"
)

// DeriveIndicators turns raw data-lake points into indicator points ready for
// BuildTable: case_growth and case_incidence from confirmed cases, and
// mobility_reduction from the Google mobility categories. Indicators that
// cannot be computed for a day are emitted as missing points so the row still
// exists in the table.
func DeriveIndicators(cases, mobility []TimeSeriesPoint, catalog RegionCatalog) []TimeSeriesPoint {
	out := deriveCaseIndicators(cases, catalog)
	return append(out, deriveMobilityReduction(mobility)...)
}

func deriveCaseIndicators(cases []TimeSeriesPoint, catalog RegionCatalog) []TimeSeriesPoint {
	var out []TimeSeriesPoint
	for region, series := range groupByRegion(cases, MetricConfirmedCases) {
		pop := catalog.Population(region)
		for i := 1; i < len(series); i++ {
			prev, cur := series[i-1], series[i]
			growth := TimeSeriesPoint{Region: region, Date: cur.Date, Metric: IndicatorCaseGrowth, Missing: true}
			incidence := TimeSeriesPoint{Region: region, Date: cur.Date, Metric: IndicatorCaseIncidence, Missing: true}

			consecutive := cur.Date.Sub(prev.Date) == 24*time.Hour
			if consecutive && !prev.Missing && !cur.Missing {
				newCases := cur.Value - prev.Value
				if prev.Value > 0 {
					growth.Value = newCases / prev.Value * 100
					growth.Missing = false
				}
				if pop > 0 {
					incidence.Value = newCases / float64(pop) * perCapitaBase
					incidence.Missing = false
				}
			}
			out = append(out, growth, incidence)
		}
	}
	return out
}

func deriveMobilityReduction(mobility []TimeSeriesPoint) []TimeSeriesPoint {
	type key struct {
		region string
		date   time.Time
	}
	type acc struct {
		sum float64
		n   int
	}
	days := make(map[key]*acc)
	var order []key
	for _, p := range mobility {
		if !strings.HasPrefix(p.Metric, mobilityPrefix) || MobilityCategory(p.Metric) == residentialCategory {
			continue
		}
		k := key{region: p.Region, date: Day(p.Date)}
		a, ok := days[k]
		if !ok {
			a = &acc{}
			days[k] = a
			order = append(order, k)
		}
		if p.Missing {
			continue
		}
		a.sum += p.Value
		a.n++
	}

	out := make([]TimeSeriesPoint, 0, len(order))
	for _, k := range order {
		a := days[k]
		p := TimeSeriesPoint{Region: k.region, Date: k.date, Metric: IndicatorMobilityReduction, Missing: a.n == 0}
		if a.n > 0 {
			p.Value = -a.sum / float64(a.n)
		}
		out = append(out, p)
	}
	return out
}

// groupByRegion collects the points of one metric per region, sorted by date.
func groupByRegion(points []TimeSeriesPoint, metric string) map[string][]TimeSeriesPoint {
	groups := make(map[string][]TimeSeriesPoint)
	for _, p := range points {
		if p.Metric != metric {
			continue
		}
		p.Date = Day(p.Date)
		groups[p.Region] = append(groups[p.Region], p)
	}
	for _, series := range groups {
		sortByDate(series)
	}
	return groups
}

func sortByDate(series []TimeSeriesPoint) {
	slices.SortStableFunc(series, func(a, b TimeSeriesPoint) int { return a.Date.Compare(b.Date) })
}

// presentOnly returns the non-missing points of series.
func presentOnly(series []TimeSeriesPoint) []TimeSeriesPoint {
	out := make([]TimeSeriesPoint, 0, len(series))
	for _, p := range series {
		if !p.Missing {
			out = append(out, p)
		}
	}
	return out
}
