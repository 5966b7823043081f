package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CustomEngine evaluates operator-defined CEL rules against normalized
// transactions. Expressions must return a boolean; a true result
// contributes the rule's configured delta with reason "<name>(+d)".
// Built-in rules never pass through here.
type CustomEngine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.CustomRuleConfig
	Program cel.Program
}

// NewCustomEngine creates a CEL engine exposing the normalized transaction
// fields as typed variables.
func NewCustomEngine(maxWorkers int) (*CustomEngine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("tx", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("transaction_id", cel.IntType),
		cel.Variable("amount_mxn", cel.DoubleType),
		cel.Variable("customer_txn_30d", cel.IntType),
		cel.Variable("geo_state", cel.StringType),
		cel.Variable("device_type", cel.StringType),
		cel.Variable("chargeback_count", cel.IntType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("product_type", cel.StringType),
		cel.Variable("latency_ms", cel.IntType),
		cel.Variable("user_reputation", cel.StringType),
		cel.Variable("device_fingerprint_risk", cel.StringType),
		cel.Variable("ip_risk", cel.StringType),
		cel.Variable("email_risk", cel.StringType),
		cel.Variable("bin_country", cel.StringType),
		cel.Variable("ip_country", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &CustomEngine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded rules.
func (e *CustomEngine) ValidateRule(cfg *domain.CustomRuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *CustomEngine) LoadRule(cfg *domain.CustomRuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled
	return nil
}

// LoadRules compiles and loads multiple rules, skipping disabled ones.
func (e *CustomEngine) LoadRules(configs []*domain.CustomRuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules replaces all loaded rules atomically (hot reload).
func (e *CustomEngine) ReloadRules(configs []*domain.CustomRuleConfig) error {
	newRules := make(map[string]*CompiledRule)

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules
	return nil
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *CustomEngine) GetLoadedRules() []*domain.CustomRuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.CustomRuleConfig, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Name < rules[j].Name })
	return rules
}

// RulesCount returns the number of loaded rules.
func (e *CustomEngine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// EvaluateAll evaluates all loaded rules in parallel. Signals are returned
// sorted by rule name so reason lists stay deterministic regardless of
// scheduling.
func (e *CustomEngine) EvaluateAll(ctx context.Context, tx *domain.NormalizedTransaction) []domain.ScoreSignal {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}

	sort.Slice(rules, func(i, j int) bool { return rules[i].Config.Name < rules[j].Config.Name })

	activation := activationFor(tx)

	results := make([]*domain.ScoreSignal, len(rules))
	var wg sync.WaitGroup

	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = evaluateRule(r, activation)
		}(i, rule)
	}

	wg.Wait()

	var signals []domain.ScoreSignal
	for _, s := range results {
		if s != nil {
			signals = append(signals, *s)
		}
	}
	return signals
}

// Close cleans up the engine.
func (e *CustomEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

// evaluateRule evaluates a single rule. Evaluation errors are swallowed as
// a non-match: a custom rule must never fail a request.
func evaluateRule(rule *CompiledRule, activation map[string]any) *domain.ScoreSignal {
	out, _, err := rule.Program.Eval(activation)
	if err != nil || !toBool(out) {
		return nil
	}

	return &domain.ScoreSignal{
		Reason: fmt.Sprintf("%s(%+d)", rule.Config.Name, rule.Config.Delta),
		Delta:  rule.Config.Delta,
	}
}

func toBool(val ref.Val) bool {
	b, ok := val.(types.Bool)
	return ok && bool(b)
}

// activationFor maps the normalized transaction into CEL variables.
func activationFor(tx *domain.NormalizedTransaction) map[string]any {
	fields := map[string]any{
		"transaction_id":          tx.TransactionID,
		"amount_mxn":              tx.AmountMXN,
		"customer_txn_30d":        tx.CustomerTxn30d,
		"geo_state":               tx.GeoState,
		"device_type":             tx.DeviceType,
		"chargeback_count":        tx.ChargebackCnt,
		"hour":                    tx.Hour,
		"product_type":            tx.ProductType,
		"latency_ms":              tx.LatencyMs,
		"user_reputation":         tx.UserReputation,
		"device_fingerprint_risk": tx.DeviceFingerprintRisk,
		"ip_risk":                 tx.IPRisk,
		"email_risk":              tx.EmailRisk,
		"bin_country":             tx.BinCountry,
		"ip_country":              tx.IPCountry,
	}

	activation := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		activation[k] = v
	}
	activation["tx"] = fields
	return activation
}

func (e *CustomEngine) compileRule(cfg *domain.CustomRuleConfig) (*CompiledRule, error) {
	if cfg.ID == "" || cfg.Name == "" {
		return nil, fmt.Errorf("rule id and name are required")
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
