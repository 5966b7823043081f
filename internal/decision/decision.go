// Package decision implements the decision aggregator: it sums the signals
// emitted by the rule evaluators, applies hard-block precedence, and maps
// the final score to a decision tier via the configured thresholds.
package decision

import (
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Processor aggregates rule signals into a final evaluation.
type Processor struct {
	cfg     *domain.ScoringConfig
	version string
}

// NewProcessor creates a decision processor bound to an immutable scoring
// configuration.
func NewProcessor(cfg *domain.ScoringConfig, version string) *Processor {
	return &Processor{cfg: cfg, version: version}
}

// Input carries everything needed for one decision.
type Input struct {
	TransactionID int64
	Signals       []domain.ScoreSignal

	// HardBlockName is the matching hard-block predicate, empty when none
	// matched.
	HardBlockName string

	TraceID   string
	StartTime time.Time
}

// Process computes the final evaluation. The risk score is the plain sum
// of signal deltas and is deliberately NOT clamped at zero: a net-negative
// score is reported as-is and maps to ACCEPTED. A hard block forces
// REJECTED while still reporting the accumulated score and reasons.
func (p *Processor) Process(input *Input) *domain.Evaluation {
	score := 0
	reasons := make([]string, 0, len(input.Signals)+1)
	for _, s := range input.Signals {
		score += s.Delta
		reasons = append(reasons, s.Reason)
	}

	var verdict domain.Decision
	hardBlocked := input.HardBlockName != ""
	if hardBlocked {
		verdict = domain.DecisionRejected
		reasons = append(reasons, "hard_block:"+input.HardBlockName)
	} else {
		verdict = p.cfg.DecisionFor(score)
	}

	return &domain.Evaluation{
		ID:            uuid.New().String(),
		TransactionID: input.TransactionID,
		RiskScore:     score,
		Decision:      verdict,
		Reasons:       reasons,
		Signals:       input.Signals,
		HardBlocked:   hardBlocked,
		HardBlockName: input.HardBlockName,
		Timestamp:     time.Now().UTC(),
		Metadata: domain.EvaluationMetadata{
			TraceID:       input.TraceID,
			SignalCount:   len(input.Signals),
			TotalMs:       time.Since(input.StartTime).Milliseconds(),
			EngineVersion: p.version,
		},
	}
}

// ShouldAlert reports whether an evaluation belongs on the alert topic.
func ShouldAlert(eval *domain.Evaluation) bool {
	return eval.Decision.Severity() >= domain.DecisionInReview.Severity()
}
