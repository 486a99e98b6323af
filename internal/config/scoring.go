package config

import (
	"fmt"
	"strings"

	"github.com/islandhamstar/covid-impact/internal/domain"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ScoreEnvPrefix prefixes the environment overrides of the score configuration.
// A double underscore separates nesting levels, so IMPACT_WEIGHTS__CASE_GROWTH
// sets weights.case_growth.
const ScoreEnvPrefix = "IMPACT_"

// DefaultWeights weighs the derived indicators equally.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		domain.IndicatorCaseGrowth:        1,
		domain.IndicatorCaseIncidence:     1,
		domain.IndicatorMobilityReduction: 1,
	}
}

type scoreFile struct {
	Method   string             `koanf:"method"`
	Weights  map[string]float64 `koanf:"weights"`
	Defaults map[string]float64 `koanf:"defaults"`
}

// LoadScoreConfig builds the engine configuration by layering, from low to
// high precedence, the built-in equal weights, the YAML file at path (skipped
// when empty) and IMPACT_* environment variables. A weights map from the file
// or the environment replaces the built-in one rather than merging with it.
// The returned config has no date range; callers set it.
func LoadScoreConfig(path string) (domain.ScoreConfig, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return domain.ScoreConfig{}, fmt.Errorf("load score config %s: %w", path, err)
		}
	}

	envProvider := env.Provider(ScoreEnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, ScoreEnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return domain.ScoreConfig{}, fmt.Errorf("load score env: %w", err)
	}

	var raw scoreFile
	if err := k.UnmarshalWithConf("", &raw, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return domain.ScoreConfig{}, fmt.Errorf("decode score config: %w", err)
	}

	method, err := domain.ParseNormalizationMethod(raw.Method)
	if err != nil {
		return domain.ScoreConfig{}, err
	}
	cfg := domain.ScoreConfig{
		Weights:  raw.Weights,
		Defaults: raw.Defaults,
		Method:   method,
	}
	if len(cfg.Weights) == 0 {
		cfg.Weights = DefaultWeights()
	}
	if err := cfg.Validate(); err != nil {
		return domain.ScoreConfig{}, err
	}
	return cfg, nil
}
