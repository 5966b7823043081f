package rules

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// HardBlock is a named boolean predicate over the normalized transaction.
// A matching predicate forces the decision to REJECTED regardless of the
// accumulated score; the score and reasons are still reported for audit.
type HardBlock struct {
	Name  string
	Match func(tx *domain.NormalizedTransaction, cfg *domain.ScoringConfig) bool
}

// DefaultHardBlocks returns the built-in predicate set. New blocks are
// added here without touching the decision aggregator.
func DefaultHardBlocks() []HardBlock {
	return []HardBlock{
		{Name: "chargeback_ip", Match: blockChargebackIP},
	}
}

// FirstMatch returns the name of the first matching predicate, or "" when
// none match. Predicates are consulted in registration order.
func FirstMatch(blocks []HardBlock, tx *domain.NormalizedTransaction, cfg *domain.ScoringConfig) string {
	for _, b := range blocks {
		if b.Match(tx, cfg) {
			return b.Name
		}
	}
	return ""
}

// blockChargebackIP rejects customers with a chargeback history transacting
// from a high-risk IP.
func blockChargebackIP(tx *domain.NormalizedTransaction, cfg *domain.ScoringConfig) bool {
	return tx.ChargebackCnt >= cfg.HardBlock.MinChargebacks && tx.IPRisk == cfg.HardBlock.IPRisk
}
