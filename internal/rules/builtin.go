// Package rules provides Kestrel's rule evaluators: the built-in scoring
// rules, the hard-block predicates, and the CEL engine for custom rules.
package rules

import (
	"fmt"
	"strconv"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Rule is a named, pure evaluator over a normalized transaction. Rules do
// not mutate shared state and may run in any order; only the final reason
// list is order-sensitive, which Evaluate preserves.
type Rule struct {
	Name string
	Eval func(tx *domain.NormalizedTransaction, cfg *domain.ScoringConfig) []domain.ScoreSignal
}

// Builtin returns the built-in rule set in its canonical evaluation order.
// The order is fixed so that reason lists are byte-identical for identical
// input.
func Builtin() []Rule {
	return []Rule{
		{Name: "night_hour", Eval: ruleNightHour},
		{Name: "geo_mismatch", Eval: ruleGeoMismatch},
		{Name: "latency_extreme", Eval: ruleLatencyExtreme},
		{Name: "high_amount", Eval: ruleHighAmount},
		{Name: "ip_risk", Eval: ruleIPRisk},
		{Name: "device_fingerprint_risk", Eval: ruleDeviceRisk},
		{Name: "email_risk", Eval: ruleEmailRisk},
		{Name: "frequency_buffer", Eval: ruleFrequencyBuffer},
	}
}

// Evaluate runs every rule against the transaction and returns the
// accumulated signals in rule order.
func Evaluate(rules []Rule, tx *domain.NormalizedTransaction, cfg *domain.ScoringConfig) []domain.ScoreSignal {
	var signals []domain.ScoreSignal
	for _, r := range rules {
		signals = append(signals, r.Eval(tx, cfg)...)
	}
	return signals
}

// ruleNightHour flags transactions inside the configured night window.
// An unset hour never fires.
func ruleNightHour(tx *domain.NormalizedTransaction, cfg *domain.ScoringConfig) []domain.ScoreSignal {
	if tx.Hour == domain.HourUnset {
		return nil
	}
	if tx.Hour >= cfg.NightStartHour || tx.Hour < cfg.NightEndHour {
		return signal(fmt.Sprintf("night_hour:%d", tx.Hour), cfg.Deltas.NightHour)
	}
	return nil
}

// ruleGeoMismatch flags a card issued in one country used from another.
// Both countries must be present.
func ruleGeoMismatch(tx *domain.NormalizedTransaction, cfg *domain.ScoringConfig) []domain.ScoreSignal {
	if tx.BinCountry == "" || tx.IPCountry == "" || tx.BinCountry == tx.IPCountry {
		return nil
	}
	return signal(fmt.Sprintf("geo_mismatch:%s!=%s", tx.BinCountry, tx.IPCountry), cfg.Deltas.GeoMismatch)
}

// ruleLatencyExtreme flags client-observed latency at or above the
// configured ceiling.
func ruleLatencyExtreme(tx *domain.NormalizedTransaction, cfg *domain.ScoringConfig) []domain.ScoreSignal {
	if cfg.LatencyExtremeMs <= 0 || tx.LatencyMs < cfg.LatencyExtremeMs {
		return nil
	}
	return signal(fmt.Sprintf("latency_extreme:%dms", tx.LatencyMs), cfg.Deltas.LatencyExtreme)
}

// ruleHighAmount flags amounts above the per-product-type band, with a
// second independent signal when the user is also new.
func ruleHighAmount(tx *domain.NormalizedTransaction, cfg *domain.ScoringConfig) []domain.ScoreSignal {
	threshold := cfg.AmountThresholdFor(tx.ProductType)
	if tx.AmountMXN <= threshold {
		return nil
	}

	signals := signal(
		fmt.Sprintf("high_amount:%s:%s", tx.ProductType, formatAmount(tx.AmountMXN)),
		cfg.Deltas.HighAmount,
	)
	if tx.UserReputation == domain.ReputationNew {
		signals = append(signals, domain.ScoreSignal{
			Reason: fmt.Sprintf("new_user_high_amount(%+d)", cfg.Deltas.NewUserHighAmount),
			Delta:  cfg.Deltas.NewUserHighAmount,
		})
	}
	return signals
}

func ruleIPRisk(tx *domain.NormalizedTransaction, cfg *domain.ScoringConfig) []domain.ScoreSignal {
	return riskSignal("ip_risk", tx.IPRisk, cfg.RiskWeights.IPRisk)
}

func ruleDeviceRisk(tx *domain.NormalizedTransaction, cfg *domain.ScoringConfig) []domain.ScoreSignal {
	return riskSignal("device_fingerprint_risk", tx.DeviceFingerprintRisk, cfg.RiskWeights.DeviceFingerprintRisk)
}

func ruleEmailRisk(tx *domain.NormalizedTransaction, cfg *domain.ScoringConfig) []domain.ScoreSignal {
	return riskSignal("email_risk", tx.EmailRisk, cfg.RiskWeights.EmailRisk)
}

// ruleFrequencyBuffer is the only rule that may reduce the score: a known
// recurrent customer with enough trailing-30-day activity earns a
// reduction. The total may go negative before decision mapping.
func ruleFrequencyBuffer(tx *domain.NormalizedTransaction, cfg *domain.ScoringConfig) []domain.ScoreSignal {
	if tx.UserReputation != domain.ReputationRecurrent || tx.CustomerTxn30d < cfg.FrequencyBufferMinTxn {
		return nil
	}
	return signal("frequency_buffer", cfg.Deltas.FrequencyBuffer)
}

// riskSignal emits a signal for an elevated enum level with its configured
// weight. Levels absent from the weight map (including "low") score nothing.
func riskSignal(name, level string, weights map[string]int) []domain.ScoreSignal {
	delta, ok := weights[level]
	if !ok || delta == 0 {
		return nil
	}
	return signal(fmt.Sprintf("%s:%s", name, level), delta)
}

// signal renders the canonical reason format "<detail>(+d)".
func signal(detail string, delta int) []domain.ScoreSignal {
	return []domain.ScoreSignal{{
		Reason: fmt.Sprintf("%s(%+d)", detail, delta),
		Delta:  delta,
	}}
}

// formatAmount renders amounts without a trailing ".0" (5200.0 → "5200"),
// matching the audit format consumers parse.
func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
