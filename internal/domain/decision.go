package domain

import (
	"time"
)

// Decision is the final risk tier for a transaction.
type Decision string

// Decision tiers, ordered by severity: ACCEPTED < IN_REVIEW < REJECTED.
const (
	DecisionAccepted Decision = "ACCEPTED"
	DecisionInReview Decision = "IN_REVIEW"
	DecisionRejected Decision = "REJECTED"
)

// Severity returns the tier's position in the severity ordering.
func (d Decision) Severity() int {
	switch d {
	case DecisionRejected:
		return 2
	case DecisionInReview:
		return 1
	default:
		return 0
	}
}

// ScoreSignal is an immutable (reason, delta) pair emitted by a rule.
// The reason string is stable and machine-parseable; signals accumulate
// in rule-evaluation order so reason lists are reproducible.
type ScoreSignal struct {
	Reason string `json:"reason"`
	Delta  int    `json:"delta"`
}

// Evaluation is the complete, persisted result of scoring one transaction.
type Evaluation struct {
	ID            string        `json:"id"`
	TransactionID int64         `json:"transaction_id"`
	RiskScore     int           `json:"risk_score"`
	Decision      Decision      `json:"decision"`
	Reasons       []string      `json:"reasons"`
	Signals       []ScoreSignal `json:"signals,omitempty"`
	HardBlocked   bool          `json:"hard_blocked"`
	HardBlockName string        `json:"hard_block_name,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`

	Metadata EvaluationMetadata `json:"metadata"`
}

// EvaluationMetadata carries processing information for audit.
type EvaluationMetadata struct {
	TraceID       string `json:"trace_id"`
	SignalCount   int    `json:"signal_count"`
	TotalMs       int64  `json:"total_ms"`
	EngineVersion string `json:"engine_version"`
}
