package domain

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"time"
)

// ScoreConfig is the full input configuration of ComputeImpactScores.
type ScoreConfig struct {
	// Weights maps indicator name to a non-negative weight. The total must be
	// positive; it does not need to sum to 1.
	Weights map[string]float64 `json:"weights"`

	// Defaults maps indicator name to a normalized value in [0,1] used on
	// every row when the input table has no column for that indicator.
	Defaults map[string]float64 `json:"defaults,omitempty"`

	// Method selects the normalization. Empty means MethodMinMax.
	Method NormalizationMethod `json:"method"`

	// Range restricts the rows that are scored and normalized.
	Range DateRange `json:"range"`
}

// Validate checks the weight and default invariants.
func (c ScoreConfig) Validate() error {
	if len(c.Weights) == 0 {
		return inputError(ErrInvalidWeights, "no weights configured")
	}
	var total float64
	for name, w := range c.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return &InputError{Reason: fmt.Sprintf("weight %v", w), Indicator: name, Err: ErrInvalidWeights}
		}
		total += w
	}
	if total <= 0 {
		return inputError(ErrInvalidWeights, "total weight must be positive")
	}
	for name, v := range c.Defaults {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return &InputError{Reason: fmt.Sprintf("default %v outside [0,1]", v), Indicator: name, Err: ErrInvalidWeights}
		}
	}
	if _, err := ParseNormalizationMethod(string(c.Method)); err != nil {
		return err
	}
	return c.Range.Validate()
}

// TotalWeight returns the sum of all weights.
func (c ScoreConfig) TotalWeight() float64 {
	var total float64
	for _, w := range c.Weights {
		total += w
	}
	return total
}

// ImpactScore is the composite score of one (region, date).
type ImpactScore struct {
	Region string    `json:"region"`
	Date   time.Time `json:"date"`
	Score  float64   `json:"score"`
	// Coverage is the share of the total weight that was present on the row.
	Coverage float64 `json:"coverage"`
	// Indicators holds the normalized value of every weighted indicator
	// present on the row.
	Indicators map[string]float64 `json:"indicators"`
}

// ScoreTable is the output of ComputeImpactScores.
type ScoreTable struct {
	Indicators []string            `json:"indicators"`
	Weights    map[string]float64  `json:"weights"`
	Method     NormalizationMethod `json:"method"`
	Scores     []ImpactScore       `json:"scores"`
}

// ForRegion returns the scores of a single region in date order.
func (t ScoreTable) ForRegion(region string) []ImpactScore {
	var out []ImpactScore
	for _, s := range t.Scores {
		if s.Region == region {
			out = append(out, s)
		}
	}
	return out
}

// ComputeImpactScores produces one ImpactScore per row of table within
// cfg.Range. Each weighted indicator is normalized across all rows in range,
// then each row's score is the weighted average of the indicators present on
// that row. It is a pure function of its inputs.
func ComputeImpactScores(table Table, cfg ScoreConfig) (ScoreTable, error) {
	if err := cfg.Validate(); err != nil {
		return ScoreTable{}, err
	}
	method, _ := ParseNormalizationMethod(string(cfg.Method))

	filtered := table.FilterDates(cfg.Range)
	if filtered.Len() == 0 {
		return ScoreTable{}, inputError(ErrEmptyTable, "no rows in "+cfg.Range.String())
	}

	names := slices.Sorted(maps.Keys(cfg.Weights))
	columns := make([][]Measure, len(names))
	for i, name := range names {
		col, ok := filtered.Column(name)
		if !ok {
			def, hasDefault := cfg.Defaults[name]
			if !hasDefault {
				return ScoreTable{}, &InputError{Reason: "weighted indicator absent from input", Indicator: name, Err: ErrUnknownIndicator}
			}
			columns[i] = constantColumn(filtered.Len(), def)
			continue
		}
		raw := make([]Measure, filtered.Len())
		for r, row := range filtered.Rows {
			raw[r] = row.Values[col]
		}
		normalized, err := Normalize(raw, method)
		if err != nil {
			return ScoreTable{}, err
		}
		columns[i] = normalized
	}

	total := cfg.TotalWeight()
	scores := make([]ImpactScore, filtered.Len())
	for r, row := range filtered.Rows {
		var num, den float64
		indicators := make(map[string]float64, len(names))
		for i, name := range names {
			m := columns[i][r]
			if !m.Present {
				continue
			}
			indicators[name] = m.Value
			w := cfg.Weights[name]
			num += w * m.Value
			den += w
		}
		s := ImpactScore{Region: row.Region, Date: row.Date, Indicators: indicators}
		if den > 0 {
			s.Score = num / den
			s.Coverage = den / total
		}
		scores[r] = s
	}

	return ScoreTable{
		Indicators: names,
		Weights:    maps.Clone(cfg.Weights),
		Method:     method,
		Scores:     scores,
	}, nil
}

func constantColumn(n int, v float64) []Measure {
	col := make([]Measure, n)
	for i := range col {
		col[i] = Measure{Value: v, Present: true}
	}
	return col
}
