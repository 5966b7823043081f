package domain

import (
	"fmt"
	"sort"
)

// ScoreThreshold maps a minimum cumulative score to a decision tier.
type ScoreThreshold struct {
	MinScore int      `json:"min_score"`
	Decision Decision `json:"decision"`
}

// RiskWeights holds the per-level deltas for the enum risk dimensions.
// Levels absent from a map contribute nothing.
type RiskWeights struct {
	IPRisk                map[string]int `json:"ip_risk"`
	DeviceFingerprintRisk map[string]int `json:"device_fingerprint_risk"`
	EmailRisk             map[string]int `json:"email_risk"`
}

// RuleDeltas holds the fixed deltas of the non-enum built-in rules.
type RuleDeltas struct {
	NightHour         int `json:"night_hour"`
	GeoMismatch       int `json:"geo_mismatch"`
	LatencyExtreme    int `json:"latency_extreme"`
	HighAmount        int `json:"high_amount"`
	NewUserHighAmount int `json:"new_user_high_amount"`
	FrequencyBuffer   int `json:"frequency_buffer"` // the only negative delta
}

// HardBlockConfig parameterizes the default chargeback hard-block predicate.
type HardBlockConfig struct {
	MinChargebacks int    `json:"min_chargebacks"`
	IPRisk         string `json:"ip_risk"`
}

// DefaultAmountKey is the amount_thresholds fallback band used when the
// product type is unset or has no configured band.
const DefaultAmountKey = "default"

// ScoringConfig is the process-wide, read-only scoring configuration.
// It is constructed once at startup (defaults possibly overridden from the
// environment), validated, and then shared across all evaluations without
// locking. Evaluation is a pure function of (ScoringConfig, input).
type ScoringConfig struct {
	// ScoreToDecision holds thresholds sorted by MinScore descending; the
	// first threshold the score meets or exceeds wins. No match → ACCEPTED.
	ScoreToDecision []ScoreThreshold `json:"score_to_decision"`

	// AmountThresholds maps product_type to the amount above which the
	// high_amount rule fires. The DefaultAmountKey band covers the rest.
	AmountThresholds map[string]float64 `json:"amount_thresholds"`

	RiskWeights RiskWeights `json:"risk_weights"`
	Deltas      RuleDeltas  `json:"rule_deltas"`

	// Night window: hour >= NightStartHour or hour < NightEndHour.
	NightStartHour int `json:"night_start_hour"`
	NightEndHour   int `json:"night_end_hour"`

	LatencyExtremeMs int `json:"latency_extreme_ms"`

	// FrequencyBufferMinTxn is the trailing-30-day activity floor for the
	// frequency_buffer reduction on recurrent users.
	FrequencyBufferMinTxn int `json:"frequency_buffer_min_txn"`

	HardBlock HardBlockConfig `json:"hard_block"`
}

// DefaultScoringConfig returns the stock configuration: review at 4,
// reject at 10, and the observed production rule weights.
func DefaultScoringConfig() *ScoringConfig {
	return &ScoringConfig{
		ScoreToDecision: []ScoreThreshold{
			{MinScore: 10, Decision: DecisionRejected},
			{MinScore: 4, Decision: DecisionInReview},
		},
		AmountThresholds: map[string]float64{
			"digital":        2500,
			"physical":       6000,
			"subscription":   1200,
			DefaultAmountKey: 7500,
		},
		RiskWeights: RiskWeights{
			IPRisk:                map[string]int{RiskMedium: 1, RiskHigh: 3},
			DeviceFingerprintRisk: map[string]int{RiskMedium: 1, RiskHigh: 2},
			EmailRisk:             map[string]int{EmailRiskNewDomain: 1, RiskHigh: 2},
		},
		Deltas: RuleDeltas{
			NightHour:         1,
			GeoMismatch:       2,
			LatencyExtreme:    2,
			HighAmount:        2,
			NewUserHighAmount: 2,
			FrequencyBuffer:   -1,
		},
		NightStartHour:        22,
		NightEndHour:          6,
		LatencyExtremeMs:      3000,
		FrequencyBufferMinTxn: 4,
		HardBlock: HardBlockConfig{
			MinChargebacks: 2,
			IPRisk:         RiskHigh,
		},
	}
}

// DecisionFor maps a cumulative risk score to a decision tier. Thresholds
// are consulted highest-first; a score below every threshold is ACCEPTED.
func (c *ScoringConfig) DecisionFor(score int) Decision {
	for _, t := range c.ScoreToDecision {
		if score >= t.MinScore {
			return t.Decision
		}
	}
	return DecisionAccepted
}

// AmountThresholdFor returns the high_amount band for a product type,
// falling back to the default band.
func (c *ScoringConfig) AmountThresholdFor(productType string) float64 {
	if v, ok := c.AmountThresholds[productType]; ok {
		return v
	}
	return c.AmountThresholds[DefaultAmountKey]
}

// Validate checks the configuration for internal consistency. A failure
// here is fatal at startup, never degraded at request time.
func (c *ScoringConfig) Validate() error {
	if len(c.ScoreToDecision) == 0 {
		return fmt.Errorf("%w: score_to_decision must not be empty", ErrConfiguration)
	}
	if !sort.SliceIsSorted(c.ScoreToDecision, func(i, j int) bool {
		return c.ScoreToDecision[i].MinScore > c.ScoreToDecision[j].MinScore
	}) {
		return fmt.Errorf("%w: score_to_decision thresholds must be sorted descending", ErrConfiguration)
	}
	if _, ok := c.AmountThresholds[DefaultAmountKey]; !ok {
		return fmt.Errorf("%w: amount_thresholds requires a %q band", ErrConfiguration, DefaultAmountKey)
	}
	for product, v := range c.AmountThresholds {
		if v < 0 {
			return fmt.Errorf("%w: amount threshold for %q is negative", ErrConfiguration, product)
		}
	}
	if c.NightStartHour < 0 || c.NightStartHour > 23 || c.NightEndHour < 0 || c.NightEndHour > 23 {
		return fmt.Errorf("%w: night window hours must be within 0-23", ErrConfiguration)
	}
	if c.LatencyExtremeMs < 0 {
		return fmt.Errorf("%w: latency_extreme_ms must be non-negative", ErrConfiguration)
	}
	if c.HardBlock.MinChargebacks < 0 {
		return fmt.Errorf("%w: hard_block min_chargebacks must be non-negative", ErrConfiguration)
	}
	return nil
}
