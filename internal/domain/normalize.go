package domain

import (
	"fmt"
	"math"
	"strings"
)

// NormalizationMethod selects how indicator values are rescaled into [0,1].
type NormalizationMethod string

// Supported normalization methods.
const (
	// MethodMinMax rescales linearly between the observed min and max.
	MethodMinMax NormalizationMethod = "minmax"
	// MethodZScore maps the z-score through the logistic function.
	MethodZScore NormalizationMethod = "zscore"
)

// constantMidpoint is the normalized value of an indicator with no variance.
const constantMidpoint = 0.5

// rescaleAbove is the magnitude past which values are divided by the largest
// one before normalizing, so spans and squared deviations stay finite. Both
// methods are invariant under positive scaling.
const rescaleAbove = 1e150

// ParseNormalizationMethod accepts "minmax"/"min-max" and "zscore"/"z-score",
// case-insensitive. An empty string selects MethodMinMax.
func ParseNormalizationMethod(s string) (NormalizationMethod, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "")) {
	case "", "minmax":
		return MethodMinMax, nil
	case "zscore":
		return MethodZScore, nil
	default:
		return "", &InputError{Reason: fmt.Sprintf("normalization method %q", s), Err: ErrUnknownMethod}
	}
}

// Normalize rescales the present measures in values into [0,1] using method.
// Missing measures stay missing. When every present value is equal, each of
// them normalizes to 0.5.
func Normalize(values []Measure, method NormalizationMethod) ([]Measure, error) {
	out := make([]Measure, len(values))
	var n int
	var sum, lo, hi float64
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, m := range values {
		if !m.Present {
			continue
		}
		n++
		sum += m.Value
		lo = math.Min(lo, m.Value)
		hi = math.Max(hi, m.Value)
	}
	if n == 0 {
		return out, nil
	}

	if m := math.Max(math.Abs(lo), math.Abs(hi)); m > rescaleAbove {
		scaled := make([]Measure, len(values))
		for i, v := range values {
			if v.Present {
				scaled[i] = Measure{Value: v.Value / m, Present: true}
			}
		}
		return Normalize(scaled, method)
	}

	var scale func(float64) float64
	switch method {
	case MethodMinMax, "":
		span := hi - lo
		scale = func(v float64) float64 {
			if span == 0 {
				return constantMidpoint
			}
			return (v - lo) / span
		}
	case MethodZScore:
		mean := sum / float64(n)
		var ss float64
		for _, m := range values {
			if m.Present {
				ss += (m.Value - mean) * (m.Value - mean)
			}
		}
		std := math.Sqrt(ss / float64(n))
		scale = func(v float64) float64 {
			if std == 0 {
				return constantMidpoint
			}
			return 1 / (1 + math.Exp(-(v-mean)/std))
		}
	default:
		return nil, &InputError{Reason: fmt.Sprintf("normalization method %q", method), Err: ErrUnknownMethod}
	}

	for i, m := range values {
		if m.Present {
			out[i] = Measure{Value: clampUnit(scale(m.Value)), Present: true}
		}
	}
	return out, nil
}

func clampUnit(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
