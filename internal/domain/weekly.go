package domain

import (
	"fmt"
	"time"
)

const week = 7 * 24 * time.Hour

// WeeklyValue is one week of AggregateWeeklyDecay output.
type WeeklyValue struct {
	WeekStart time.Time `json:"week_start"`
	// Percent is the week's mean as a percentage of the baseline mean.
	Percent float64 `json:"percent"`
	Samples int     `json:"samples"`
	Present bool    `json:"present"`
}

// AggregateWeeklyDecay groups a daily series of one region and metric into
// weeks starting at start and expresses each week's mean as a percentage of
// the mean of the seven days before start. Missing points are skipped; a week
// without any present point is reported with Present false.
func AggregateWeeklyDecay(series []TimeSeriesPoint, start time.Time, weeks int) ([]WeeklyValue, error) {
	if weeks <= 0 {
		return nil, inputError(ErrInvalidParameters, fmt.Sprintf("weeks must be positive, got %d", weeks))
	}
	start = Day(start)

	baseline, n := meanIn(series, start.Add(-week), start.Add(-24*time.Hour))
	if n == 0 || baseline == 0 {
		return nil, inputError(ErrInsufficientData, "no baseline in the week before "+start.Format(DateLayout))
	}

	out := make([]WeeklyValue, weeks)
	for w := range weeks {
		from := start.Add(time.Duration(w) * week)
		mean, samples := meanIn(series, from, from.Add(week-24*time.Hour))
		out[w] = WeeklyValue{WeekStart: from, Samples: samples, Present: samples > 0}
		if samples > 0 {
			out[w].Percent = mean / baseline * 100
		}
	}
	return out, nil
}

// meanIn averages the present points dated within [from, to] inclusive.
func meanIn(series []TimeSeriesPoint, from, to time.Time) (float64, int) {
	r := DateRange{Start: from, End: to}
	var sum float64
	var n int
	for _, p := range series {
		if p.Missing || !r.Contains(p.Date) {
			continue
		}
		sum += p.Value
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}
