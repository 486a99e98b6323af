package domain

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// GapWarningDays is the number of skipped days on either side of a policy
// impact window above which the regression inputs are considered sparse.
const GapWarningDays = 10

// PolicyEvent marks a day on which a policy index moved by at least the
// detection threshold.
type PolicyEvent struct {
	Region   string    `json:"region"`
	Metric   string    `json:"metric"`
	Date     time.Time `json:"date"`
	Previous float64   `json:"previous"`
	Current  float64   `json:"current"`
}

// Delta is the change of the index on the event date.
func (e PolicyEvent) Delta() float64 { return e.Current - e.Previous }

// DetectPolicyChanges scans each (region, metric) series of a policy index and
// returns the dates where the value moved by at least threshold since the
// previous present point. Events are ordered by region, then date.
func DetectPolicyChanges(series []TimeSeriesPoint, threshold float64) ([]PolicyEvent, error) {
	if threshold <= 0 || math.IsNaN(threshold) {
		return nil, inputError(ErrInvalidParameters, fmt.Sprintf("change threshold must be positive, got %v", threshold))
	}

	type key struct{ region, metric string }
	groups := make(map[key][]TimeSeriesPoint)
	for _, p := range series {
		if p.Missing {
			continue
		}
		p.Date = Day(p.Date)
		k := key{p.Region, p.Metric}
		groups[k] = append(groups[k], p)
	}

	var events []PolicyEvent
	for k, points := range groups {
		sortByDate(points)
		for i := 1; i < len(points); i++ {
			prev, cur := points[i-1], points[i]
			if math.Abs(cur.Value-prev.Value) >= threshold {
				events = append(events, PolicyEvent{Region: k.region, Metric: k.metric, Date: cur.Date, Previous: prev.Value, Current: cur.Value})
			}
		}
	}
	slices.SortFunc(events, func(a, b PolicyEvent) int {
		if c := strings.Compare(a.Region, b.Region); c != 0 {
			return c
		}
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return strings.Compare(a.Metric, b.Metric)
	})
	return events, nil
}

// ImpactDirection summarizes how the trend of a series changed around a
// policy change.
type ImpactDirection string

// Direction codes.
const (
	// DirectionInvalid means a side had no usable trend.
	DirectionInvalid ImpactDirection = "I"
	// DirectionPositive means the series rose before and after.
	DirectionPositive ImpactDirection = "P"
	// DirectionNegative means the series fell before and after.
	DirectionNegative ImpactDirection = "N"
	// DirectionFlipToPositive means a falling or flat series started rising.
	DirectionFlipToPositive ImpactDirection = "FP"
	// DirectionFlipToNegative means a rising or flat series started falling.
	DirectionFlipToNegative ImpactDirection = "FN"
)

// ClassifyDirection derives the direction code from the pre and post slopes.
// A flat or non-finite post slope is invalid.
func ClassifyDirection(preSlope, postSlope float64) ImpactDirection {
	finite := func(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
	if !finite(preSlope) || !finite(postSlope) || postSlope == 0 {
		return DirectionInvalid
	}
	switch {
	case preSlope > 0 && postSlope > 0:
		return DirectionPositive
	case preSlope < 0 && postSlope < 0:
		return DirectionNegative
	case postSlope > 0:
		return DirectionFlipToPositive
	default:
		return DirectionFlipToNegative
	}
}

// PolicyImpactResult is the outcome of PolicyImpact for one series and origin.
type PolicyImpactResult struct {
	Region          string          `json:"region"`
	Metric          string          `json:"metric"`
	Origin          time.Time       `json:"origin"`
	Score           float64         `json:"score"`
	PrePoints       int             `json:"pre_points"`
	PostPoints      int             `json:"post_points"`
	PreDaysSkipped  int             `json:"pre_days_skipped"`
	PostDaysSkipped int             `json:"post_days_skipped"`
	PreSlope        float64         `json:"pre_slope"`
	PostSlope       float64         `json:"post_slope"`
	Direction       ImpactDirection `json:"direction"`
}

// HasLargeGaps reports whether either regression window skipped more than
// GapWarningDays days because of missing data.
func (r PolicyImpactResult) HasLargeGaps() bool {
	return r.PreDaysSkipped > GapWarningDays || r.PostDaysSkipped > GapWarningDays
}

// Truncated reports whether fewer points than requested were available.
func (r PolicyImpactResult) Truncated(preWindow, postWindow int) bool {
	return r.PrePoints < preWindow || r.PostPoints < postWindow
}

// PolicyImpact scores the change in a single series around origin.
//
// A least-squares line is fitted on the last preWindow present points dated on
// or before origin and another on the first postWindow present points dated
// after it, with x measured in days from origin. Over the x-span of the post
// points:
//
//	impact = (area(post) - area(max(0, pre))) / area(max(0, pre))
//
// When the pre area is exactly zero, one is added to both areas. Missing points
// are skipped, so windows extend away from origin over gaps. Fewer than two
// points on either side fails with ErrInsufficientData.
func PolicyImpact(series []TimeSeriesPoint, origin time.Time, preWindow, postWindow int) (PolicyImpactResult, error) {
	if preWindow < 2 || postWindow < 2 {
		return PolicyImpactResult{}, inputError(ErrInvalidParameters,
			fmt.Sprintf("windows must be at least 2 days, got pre=%d post=%d", preWindow, postWindow))
	}
	origin = Day(origin)
	after := origin.Add(24 * time.Hour)

	points := presentOnly(series)
	for i := range points {
		points[i].Date = Day(points[i].Date)
	}
	sortByDate(points)

	var pre, post []TimeSeriesPoint
	for _, p := range points {
		if !p.Date.After(origin) {
			pre = append(pre, p)
		} else if len(post) < postWindow {
			post = append(post, p)
		}
	}
	if len(pre) > preWindow {
		pre = pre[len(pre)-preWindow:]
	}

	result := PolicyImpactResult{Origin: origin, PrePoints: len(pre), PostPoints: len(post), Direction: DirectionInvalid}
	if len(series) > 0 {
		result.Region, result.Metric = series[0].Region, series[0].Metric
	}
	if len(pre) < 2 || len(post) < 2 {
		return result, inputError(ErrInsufficientData,
			fmt.Sprintf("need at least 2 points on each side of %s (pre=%d post=%d)", origin.Format(DateLayout), len(pre), len(post)))
	}

	result.PreDaysSkipped = daysBetween(pre[0].Date, origin) - preWindow + 1
	result.PostDaysSkipped = daysBetween(after, post[len(post)-1].Date) - postWindow + 1

	preLine := fitLine(pre, origin)
	postLine := fitLine(post, origin)
	result.PreSlope, result.PostSlope = preLine.slope, postLine.slope
	result.Direction = ClassifyDirection(preLine.slope, postLine.slope)

	begin := float64(daysBetween(origin, post[0].Date))
	end := float64(daysBetween(origin, post[len(post)-1].Date))

	total := preLine.positiveArea(begin, end)
	impact := postLine.area(begin, end) - total
	if total == 0 {
		total++
		impact++
	}
	result.Score = impact / total
	return result, nil
}

type line struct {
	slope, intercept float64
}

// fitLine fits y = slope*x + intercept with x in days relative to origin.
func fitLine(points []TimeSeriesPoint, origin time.Time) line {
	n := float64(len(points))
	var sx, sy float64
	for _, p := range points {
		sx += float64(daysBetween(origin, p.Date))
		sy += p.Value
	}
	mx, my := sx/n, sy/n
	var sxy, sxx float64
	for _, p := range points {
		dx := float64(daysBetween(origin, p.Date)) - mx
		sxy += dx * (p.Value - my)
		sxx += dx * dx
	}
	if sxx == 0 {
		return line{intercept: my}
	}
	slope := sxy / sxx
	return line{slope: slope, intercept: my - slope*mx}
}

// area integrates the line over [a, b].
func (l line) area(a, b float64) float64 {
	return l.slope/2*(b*b-a*a) + l.intercept*(b-a)
}

// positiveArea integrates max(0, line) over [a, b].
func (l line) positiveArea(a, b float64) float64 {
	if b <= a {
		return 0
	}
	if l.slope == 0 {
		return math.Max(0, l.intercept) * (b - a)
	}
	root := -l.intercept / l.slope
	lo, hi := a, b
	if l.slope > 0 {
		lo = math.Max(a, root)
	} else {
		hi = math.Min(b, root)
	}
	if hi <= lo {
		return 0
	}
	return l.area(lo, hi)
}

func daysBetween(from, to time.Time) int {
	return int(math.Round(to.Sub(from).Hours() / 24))
}
