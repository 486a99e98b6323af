package domain

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testGrowth   = "growth"
	testMobility = "mobility"
)

var (
	day1 = time.Date(2020, time.March, 1, 0, 0, 0, 0, time.UTC)
	day2 = day1.AddDate(0, 0, 1)
	day3 = day1.AddDate(0, 0, 2)
)

func point(region string, date time.Time, metric string, v float64) TimeSeriesPoint {
	return TimeSeriesPoint{Region: region, Date: date, Metric: metric, Value: v}
}

func missing(region string, date time.Time, metric string) TimeSeriesPoint {
	return TimeSeriesPoint{Region: region, Date: date, Metric: metric, Missing: true}
}

func equalWeights() ScoreConfig {
	return ScoreConfig{Weights: map[string]float64{testGrowth: 1, testMobility: 1}}
}

func TestComputeImpactScores_WorkedExample(t *testing.T) {
	table := BuildTable([]TimeSeriesPoint{
		point("US", day1, testGrowth, 10),
		point("US", day1, testMobility, 5),
		point("US", day2, testGrowth, 0),
		point("US", day2, testMobility, -5),
	}, nil)

	out, err := ComputeImpactScores(table, equalWeights())
	require.NoError(t, err)
	require.Len(t, out.Scores, 2)

	assert.InDelta(t, 1.0, out.Scores[0].Score, 1e-12)
	assert.InDelta(t, 1.0, out.Scores[0].Indicators[testGrowth], 1e-12)
	assert.InDelta(t, 1.0, out.Scores[0].Indicators[testMobility], 1e-12)
	assert.InDelta(t, 0.0, out.Scores[1].Score, 1e-12)
	assert.Equal(t, 1.0, out.Scores[0].Coverage)
	assert.Equal(t, []string{testGrowth, testMobility}, out.Indicators)
	assert.Equal(t, MethodMinMax, out.Method)
}

func TestComputeImpactScores_ConstantIndicatorIsMidpoint(t *testing.T) {
	table := BuildTable([]TimeSeriesPoint{
		point("US", day1, testGrowth, 3),
		point("FR", day1, testGrowth, 3),
		point("US", day2, testGrowth, 3),
	}, nil)

	out, err := ComputeImpactScores(table, ScoreConfig{Weights: map[string]float64{testGrowth: 2}})
	require.NoError(t, err)
	for _, s := range out.Scores {
		assert.Equal(t, 0.5, s.Indicators[testGrowth])
		assert.Equal(t, 0.5, s.Score)
		assert.False(t, math.IsNaN(s.Score))
	}
}

func TestComputeImpactScores_MissingIndicatorRenormalizesWeights(t *testing.T) {
	table := BuildTable([]TimeSeriesPoint{
		point("US", day1, testGrowth, 0),
		point("US", day1, testMobility, 0),
		point("US", day2, testGrowth, 10),
		missing("US", day2, testMobility),
		point("US", day3, testGrowth, 5),
		point("US", day3, testMobility, 10),
	}, nil)

	cfg := ScoreConfig{Weights: map[string]float64{testGrowth: 1, testMobility: 3}}
	out, err := ComputeImpactScores(table, cfg)
	require.NoError(t, err)

	// Day 2 has only growth: its score is growth's normalized value, not a
	// quarter of it.
	assert.InDelta(t, 1.0, out.Scores[1].Score, 1e-12)
	assert.InDelta(t, 0.25, out.Scores[1].Coverage, 1e-12)
	assert.NotContains(t, out.Scores[1].Indicators, testMobility)

	// Day 3: growth 0.5 (w=1), mobility 1.0 (w=3) -> 3.5/4.
	assert.InDelta(t, 0.875, out.Scores[2].Score, 1e-12)
}

func TestComputeImpactScores_RowWithoutWeightedData(t *testing.T) {
	table := BuildTable([]TimeSeriesPoint{
		point("US", day1, testGrowth, 1),
		missing("US", day2, testGrowth),
	}, nil)

	out, err := ComputeImpactScores(table, ScoreConfig{Weights: map[string]float64{testGrowth: 1}})
	require.NoError(t, err)
	require.Len(t, out.Scores, 2)
	assert.Equal(t, 0.0, out.Scores[1].Score)
	assert.Equal(t, 0.0, out.Scores[1].Coverage)
	assert.Empty(t, out.Scores[1].Indicators)
}

func TestComputeImpactScores_EmptyAfterFilter(t *testing.T) {
	table := BuildTable([]TimeSeriesPoint{point("US", day1, testGrowth, 1)}, nil)
	cfg := ScoreConfig{
		Weights: map[string]float64{testGrowth: 1},
		Range:   DateRange{Start: day2, End: day3},
	}

	_, err := ComputeImpactScores(table, cfg)
	require.Error(t, err)
	assert.True(t, IsInputError(err))
	assert.ErrorIs(t, err, ErrEmptyTable)

	_, err = ComputeImpactScores(Table{}, ScoreConfig{Weights: map[string]float64{testGrowth: 1}})
	assert.ErrorIs(t, err, ErrEmptyTable)
}

func TestComputeImpactScores_UnknownIndicator(t *testing.T) {
	table := BuildTable([]TimeSeriesPoint{point("US", day1, testGrowth, 1)}, nil)
	cfg := ScoreConfig{Weights: map[string]float64{testGrowth: 1, "policy": 1}}

	_, err := ComputeImpactScores(table, cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownIndicator)

	var ie *InputError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "policy", ie.Indicator)
}

func TestComputeImpactScores_DefaultForAbsentIndicator(t *testing.T) {
	table := BuildTable([]TimeSeriesPoint{
		point("US", day1, testGrowth, 0),
		point("US", day2, testGrowth, 10),
	}, nil)
	cfg := ScoreConfig{
		Weights:  map[string]float64{testGrowth: 1, "policy": 1},
		Defaults: map[string]float64{"policy": 0.2},
	}

	out, err := ComputeImpactScores(table, cfg)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, out.Scores[0].Score, 1e-12)
	assert.InDelta(t, 0.6, out.Scores[1].Score, 1e-12)
	assert.Equal(t, 0.2, out.Scores[1].Indicators["policy"])
}

func TestComputeImpactScores_InvalidConfig(t *testing.T) {
	table := BuildTable([]TimeSeriesPoint{point("US", day1, testGrowth, 1)}, nil)

	tests := []struct {
		name string
		cfg  ScoreConfig
		want error
	}{
		{"no weights", ScoreConfig{}, ErrInvalidWeights},
		{"negative weight", ScoreConfig{Weights: map[string]float64{testGrowth: -1}}, ErrInvalidWeights},
		{"zero total", ScoreConfig{Weights: map[string]float64{testGrowth: 0}}, ErrInvalidWeights},
		{"NaN weight", ScoreConfig{Weights: map[string]float64{testGrowth: math.NaN()}}, ErrInvalidWeights},
		{"default out of range", ScoreConfig{Weights: map[string]float64{testGrowth: 1}, Defaults: map[string]float64{"x": 2}}, ErrInvalidWeights},
		{"unknown method", ScoreConfig{Weights: map[string]float64{testGrowth: 1}, Method: "rank"}, ErrUnknownMethod},
		{"inverted range", ScoreConfig{Weights: map[string]float64{testGrowth: 1}, Range: DateRange{Start: day3, End: day1}}, ErrInvalidParameters},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputeImpactScores(table, tt.cfg)
			require.Error(t, err)
			assert.True(t, IsInputError(err))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestComputeImpactScores_ScoresBoundedForAnyPositiveWeights(t *testing.T) {
	table := sampleTable()
	for _, method := range []NormalizationMethod{MethodMinMax, MethodZScore} {
		for _, weights := range []map[string]float64{
			{testGrowth: 1, testMobility: 1},
			{testGrowth: 7, testMobility: 0.25},
			{testGrowth: 0, testMobility: 42},
		} {
			out, err := ComputeImpactScores(table, ScoreConfig{Weights: weights, Method: method})
			require.NoError(t, err)
			for _, s := range out.Scores {
				assert.GreaterOrEqual(t, s.Score, 0.0)
				assert.LessOrEqual(t, s.Score, 1.0)
				assert.GreaterOrEqual(t, s.Coverage, 0.0)
				assert.LessOrEqual(t, s.Coverage, 1.0)
			}
		}
	}
}

func TestComputeImpactScores_ExtremeValuesStayBoundedAndEncodable(t *testing.T) {
	table := BuildTable([]TimeSeriesPoint{
		point("A", day1, testGrowth, -1e308),
		point("B", day1, testGrowth, 1e308),
		point("C", day1, testGrowth, 0),
	}, nil)

	out, err := ComputeImpactScores(table, ScoreConfig{Weights: map[string]float64{testGrowth: 1}})
	require.NoError(t, err)
	require.Len(t, out.Scores, 3)

	assert.InDelta(t, 0.0, out.Scores[0].Score, 1e-12)
	assert.InDelta(t, 1.0, out.Scores[1].Score, 1e-12)
	assert.InDelta(t, 0.5, out.Scores[2].Score, 1e-12)

	_, err = json.Marshal(out)
	require.NoError(t, err)
}

func TestComputeImpactScores_RemovingIndicatorBoundedChange(t *testing.T) {
	table := sampleTable()
	cfg := ScoreConfig{Weights: map[string]float64{testGrowth: 2, testMobility: 1}}

	full, err := ComputeImpactScores(table, cfg)
	require.NoError(t, err)

	reduced, err := ComputeImpactScores(table.Without(testMobility), ScoreConfig{Weights: map[string]float64{testGrowth: 2}})
	require.NoError(t, err)
	require.Len(t, reduced.Scores, len(full.Scores))

	for i, s := range full.Scores {
		if _, ok := s.Indicators[testMobility]; !ok {
			assert.InDelta(t, s.Score, reduced.Scores[i].Score, 1e-12)
			continue
		}
		share := cfg.Weights[testMobility] / (s.Coverage * cfg.TotalWeight())
		assert.LessOrEqual(t, math.Abs(s.Score-reduced.Scores[i].Score), share+1e-12)
	}
}

func TestComputeImpactScores_Idempotent(t *testing.T) {
	table := sampleTable()
	cfg := ScoreConfig{Weights: map[string]float64{testGrowth: 1, testMobility: 2}, Method: MethodZScore}

	first, err := ComputeImpactScores(table, cfg)
	require.NoError(t, err)
	second, err := ComputeImpactScores(table, cfg)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("repeated computation differs (-first +second):\n%s", diff)
	}
}

func TestComputeImpactScores_RangeLimitsNormalization(t *testing.T) {
	table := BuildTable([]TimeSeriesPoint{
		point("US", day1, testGrowth, 100),
		point("US", day2, testGrowth, 0),
		point("US", day3, testGrowth, 10),
	}, nil)
	cfg := ScoreConfig{Weights: map[string]float64{testGrowth: 1}, Range: DateRange{Start: day2}}

	out, err := ComputeImpactScores(table, cfg)
	require.NoError(t, err)
	require.Len(t, out.Scores, 2)
	assert.Equal(t, day2, out.Scores[0].Date)
	assert.InDelta(t, 0.0, out.Scores[0].Score, 1e-12)
	assert.InDelta(t, 1.0, out.Scores[1].Score, 1e-12)
}

func TestComputeImpactScores_DoesNotMutateConfig(t *testing.T) {
	cfg := equalWeights()
	out, err := ComputeImpactScores(sampleTable(), cfg)
	require.NoError(t, err)

	out.Weights[testGrowth] = 99
	assert.Equal(t, 1.0, cfg.Weights[testGrowth])
}

func TestScoreTable_ForRegion(t *testing.T) {
	out, err := ComputeImpactScores(sampleTable(), equalWeights())
	require.NoError(t, err)

	fr := out.ForRegion("FR")
	require.Len(t, fr, 3)
	for _, s := range fr {
		assert.Equal(t, "FR", s.Region)
	}
	assert.Empty(t, out.ForRegion("XX"))
}

func sampleTable() Table {
	return BuildTable([]TimeSeriesPoint{
		point("US", day1, testGrowth, 12),
		point("US", day1, testMobility, -30),
		point("US", day2, testGrowth, 8),
		missing("US", day2, testMobility),
		point("US", day3, testGrowth, 3),
		point("US", day3, testMobility, -55),
		point("FR", day1, testGrowth, 20),
		point("FR", day1, testMobility, -10),
		missing("FR", day2, testGrowth),
		point("FR", day2, testMobility, -70),
		point("FR", day3, testGrowth, 1),
		point("FR", day3, testMobility, 4),
	}, nil)
}
