package domain

// CustomRuleConfig defines an operator-supplied scoring rule. The CEL
// expression is evaluated against the normalized transaction and must
// return a boolean; when true, the rule contributes Delta to the score
// with reason "<name>(+d)". Built-in rules are code and never stored here.
type CustomRuleConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// Expression is a CEL boolean expression over the normalized fields
	// (amount_mxn, hour, latency_ms, ip_risk, ...).
	Expression string `json:"expression"`

	// Delta is the signed score contribution when the expression is true.
	Delta int `json:"delta"`

	Enabled bool `json:"enabled"`
}
