package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/islandhamstar/covid-impact/internal/domain"
	"github.com/joho/godotenv"
)

// DefaultRegions are the data-lake location IDs scored when REGIONS is unset.
var DefaultRegions = []string{
	"UnitedStates", "China", "Australia", "Austria", "Belgium", "Brazil",
	"Canada", "Denmark", "Finland", "France", "Germany", "Greece",
	"Indonesia", "India", "Italy", "Japan", "KoreaSouth", "Malaysia",
	"Mexico", "Netherlands", "NewZealand", "Norway", "Philippines", "Portugal",
	"Russia", "Singapore", "SouthAfrica", "Spain", "Sweden", "Switzerland",
	"Thailand", "Turkey", "UnitedKingdom", "HongKong_China",
}

// Config holds all service settings, populated from environment variables.
type Config struct {
	// Data-lake access.
	DatalakeURL        string
	DatalakeTimeout    time.Duration
	DatalakeMaxRetries int
	DatalakeCacheSize  int
	DatalakeCacheTTL   time.Duration
	PolicyExpression   string

	// Optional Redis fetch cache, enabled when RedisAddr is set.
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisCacheTTL time.Duration

	// Scoring scope.
	Regions       []string
	RegionsFile   string
	DateRange     domain.DateRange
	ScoreInterval time.Duration
	WeightsFile   string

	// Policy impact analysis.
	PolicyChangeThreshold float64
	PolicyPreWindow       int
	PolicyPostWindow      int
	PolicyImpactIndicator string

	// Score publishing.
	KafkaEnabled   bool
	KafkaBrokers   []string
	KafkaSinkTopic string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
// A .env file in the working directory is loaded first when present; variables
// already set in the environment take precedence over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	datalakeTimeout, err := positiveDuration("DATALAKE_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	scoreInterval, err := positiveDuration("SCORE_INTERVAL", "1h")
	if err != nil {
		return nil, err
	}
	redisTTL, err := positiveDuration("REDIS_CACHE_TTL", "24h")
	if err != nil {
		return nil, err
	}
	cacheTTL, err := positiveDuration("DATALAKE_CACHE_TTL", "30m")
	if err != nil {
		return nil, err
	}

	maxRetries, err := intInRange("DATALAKE_MAX_RETRIES", 3, 0, 10)
	if err != nil {
		return nil, err
	}
	cacheSize, err := intInRange("DATALAKE_CACHE_SIZE", 256, 1, 100_000)
	if err != nil {
		return nil, err
	}
	redisDB, err := intInRange("REDIS_DB", 0, 0, 15)
	if err != nil {
		return nil, err
	}
	preWindow, err := intInRange("POLICY_PRE_WINDOW", 14, 2, 365)
	if err != nil {
		return nil, err
	}
	postWindow, err := intInRange("POLICY_POST_WINDOW", 14, 2, 365)
	if err != nil {
		return nil, err
	}

	threshold, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("POLICY_CHANGE_THRESHOLD", "10"), 64)
	if err != nil || threshold <= 0 {
		return nil, errors.New("invalid POLICY_CHANGE_THRESHOLD")
	}

	dateRange, err := domain.ParseDateRange(
		sharedcfg.EnvOrDefault("START_DATE", "2020-02-15"),
		sharedcfg.EnvOrDefault("END_DATE", "2020-10-15"),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid START_DATE/END_DATE: %w", err)
	}

	regions := DefaultRegions
	if v := os.Getenv("REGIONS"); v != "" {
		regions = splitList(v)
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	cfg := &Config{
		DatalakeURL:        strings.TrimRight(sharedcfg.EnvOrDefault("DATALAKE_URL", "https://api.c3.ai/covid/api/1"), "/"),
		DatalakeTimeout:    datalakeTimeout,
		DatalakeMaxRetries: maxRetries,
		DatalakeCacheSize:  cacheSize,
		DatalakeCacheTTL:   cacheTTL,
		PolicyExpression:   sharedcfg.EnvOrDefault("POLICY_EXPRESSION", "OxCGRT_StringencyIndex"),

		RedisEnabled:  redisAddr != "",
		RedisAddr:     redisAddr,
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
		RedisCacheTTL: redisTTL,

		Regions:       regions,
		RegionsFile:   os.Getenv("REGIONS_FILE"),
		DateRange:     dateRange,
		ScoreInterval: scoreInterval,
		WeightsFile:   os.Getenv("WEIGHTS_FILE"),

		PolicyChangeThreshold: threshold,
		PolicyPreWindow:       preWindow,
		PolicyPostWindow:      postWindow,
		PolicyImpactIndicator: sharedcfg.EnvOrDefault("POLICY_IMPACT_INDICATOR", domain.IndicatorCaseIncidence),

		KafkaEnabled:   os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:   sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSinkTopic: sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "impact-scores"),

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}

	// The memory cache sits in front of Redis and must not outlive it.
	if cfg.RedisEnabled && cfg.DatalakeCacheTTL > cfg.RedisCacheTTL {
		cfg.DatalakeCacheTTL = cfg.RedisCacheTTL
	}

	if cfg.DatalakeURL == "" {
		return nil, errors.New("DATALAKE_URL is required")
	}
	if len(cfg.Regions) == 0 && cfg.RegionsFile == "" {
		return nil, errors.New("REGIONS or REGIONS_FILE is required")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if cfg.KafkaEnabled && cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}

	return cfg, nil
}

func positiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func intInRange(key string, def, lo, hi int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s: must be an integer in [%d, %d]", key, lo, hi)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
