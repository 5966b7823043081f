// Package config loads the process and scoring configuration from the
// environment. Defaults come from the domain package; every threshold and
// weight is overridable without a rebuild. Malformed values abort startup.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Load builds the process configuration from the environment.
func Load() (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if os.Getenv("KESTREL_TIER") == string(domain.TierPro) {
		cfg = domain.ProConfig()
	}

	if v := os.Getenv("KESTREL_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("KESTREL_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("%w: KESTREL_PORT %q is not a valid port", domain.ErrConfiguration, v)
		}
		cfg.Server.Port = port
	}
	if os.Getenv("KESTREL_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}

	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("%w: KESTREL_POSTGRES_PORT %q is not a valid port", domain.ErrConfiguration, v)
		}
		cfg.Repository.PostgresPort = port
	}
	if v := os.Getenv("KESTREL_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_SSLMODE"); v != "" {
		cfg.Repository.PostgresSSLMode = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("KESTREL_NATS_TOKEN"); v != "" {
		cfg.EventBus.NATSToken = v
	}
	if v := os.Getenv("KESTREL_ALERT_WEBHOOK_URL"); v != "" {
		cfg.Alerts.WebhookURL = v
	}

	return cfg, nil
}

// LoadScoring builds the scoring configuration: defaults overridden by the
// environment, then validated. Any malformed override is a fatal
// ConfigurationError; scoring config never degrades at request time.
func LoadScoring() (*domain.ScoringConfig, error) {
	cfg := domain.DefaultScoringConfig()

	rejectAt, err := intEnv("KESTREL_REJECT_AT", thresholdFor(cfg, domain.DecisionRejected))
	if err != nil {
		return nil, err
	}
	reviewAt, err := intEnv("KESTREL_REVIEW_AT", thresholdFor(cfg, domain.DecisionInReview))
	if err != nil {
		return nil, err
	}
	if reviewAt >= rejectAt {
		return nil, fmt.Errorf("%w: review threshold %d must be below reject threshold %d",
			domain.ErrConfiguration, reviewAt, rejectAt)
	}
	cfg.ScoreToDecision = []domain.ScoreThreshold{
		{MinScore: rejectAt, Decision: domain.DecisionRejected},
		{MinScore: reviewAt, Decision: domain.DecisionInReview},
	}

	if cfg.NightStartHour, err = intEnv("KESTREL_NIGHT_START", cfg.NightStartHour); err != nil {
		return nil, err
	}
	if cfg.NightEndHour, err = intEnv("KESTREL_NIGHT_END", cfg.NightEndHour); err != nil {
		return nil, err
	}
	if cfg.LatencyExtremeMs, err = intEnv("KESTREL_LATENCY_EXTREME_MS", cfg.LatencyExtremeMs); err != nil {
		return nil, err
	}
	if cfg.FrequencyBufferMinTxn, err = intEnv("KESTREL_FREQUENCY_BUFFER_MIN_TXN", cfg.FrequencyBufferMinTxn); err != nil {
		return nil, err
	}
	if cfg.HardBlock.MinChargebacks, err = intEnv("KESTREL_HARD_BLOCK_CHARGEBACKS", cfg.HardBlock.MinChargebacks); err != nil {
		return nil, err
	}

	if err := applyAmountThresholds(cfg, os.Getenv("KESTREL_AMOUNT_THRESHOLDS")); err != nil {
		return nil, err
	}
	if err := applyRiskWeights(cfg, os.Getenv("KESTREL_RISK_WEIGHTS")); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyAmountThresholds parses "digital:2500,physical:6000" style overrides.
// Listed product types replace their default band; others are kept.
func applyAmountThresholds(cfg *domain.ScoringConfig, raw string) error {
	if raw == "" {
		return nil
	}

	for _, pair := range strings.Split(raw, ",") {
		product, value, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || product == "" {
			return fmt.Errorf("%w: KESTREL_AMOUNT_THRESHOLDS entry %q must be product:amount", domain.ErrConfiguration, pair)
		}
		amount, err := strconv.ParseFloat(value, 64)
		if err != nil || amount < 0 {
			return fmt.Errorf("%w: KESTREL_AMOUNT_THRESHOLDS amount %q for %q is not a non-negative number",
				domain.ErrConfiguration, value, product)
		}
		cfg.AmountThresholds[product] = amount
	}
	return nil
}

// applyRiskWeights parses "ip_risk.high=3,email_risk.new_domain=1" style
// overrides into the per-dimension weight maps.
func applyRiskWeights(cfg *domain.ScoringConfig, raw string) error {
	if raw == "" {
		return nil
	}

	dimensions := map[string]map[string]int{
		"ip_risk":                 cfg.RiskWeights.IPRisk,
		"device_fingerprint_risk": cfg.RiskWeights.DeviceFingerprintRisk,
		"email_risk":              cfg.RiskWeights.EmailRisk,
	}

	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return fmt.Errorf("%w: KESTREL_RISK_WEIGHTS entry %q must be dimension.level=weight", domain.ErrConfiguration, pair)
		}
		dimension, level, ok := strings.Cut(key, ".")
		if !ok || level == "" {
			return fmt.Errorf("%w: KESTREL_RISK_WEIGHTS key %q must be dimension.level", domain.ErrConfiguration, key)
		}
		weights, known := dimensions[dimension]
		if !known {
			return fmt.Errorf("%w: KESTREL_RISK_WEIGHTS dimension %q is unknown (have: %s)",
				domain.ErrConfiguration, dimension, strings.Join(dimensionNames(dimensions), ", "))
		}
		weight, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: KESTREL_RISK_WEIGHTS weight %q for %q is not an integer",
				domain.ErrConfiguration, value, key)
		}
		weights[level] = weight
	}
	return nil
}

func dimensionNames(dims map[string]map[string]int) []string {
	names := make([]string, 0, len(dims))
	for name := range dims {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func thresholdFor(cfg *domain.ScoringConfig, d domain.Decision) int {
	for _, t := range cfg.ScoreToDecision {
		if t.Decision == d {
			return t.MinScore
		}
	}
	return 0
}

func intEnv(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not an integer", domain.ErrConfiguration, name, v)
	}
	return n, nil
}
