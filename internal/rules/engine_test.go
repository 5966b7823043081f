package rules

import (
	"context"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestEngine(t *testing.T) *CustomEngine {
	t.Helper()
	engine, err := NewCustomEngine(5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

func TestCustomEngineLoadRule(t *testing.T) {
	engine := newTestEngine(t)

	t.Run("ValidBoolExpression", func(t *testing.T) {
		err := engine.LoadRule(&domain.CustomRuleConfig{
			ID:         "r1",
			Name:       "huge_amount",
			Expression: "amount_mxn > 100000.0",
			Delta:      5,
			Enabled:    true,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if engine.RulesCount() != 1 {
			t.Errorf("expected 1 rule loaded, got %d", engine.RulesCount())
		}
	})

	t.Run("NonBoolExpressionRejected", func(t *testing.T) {
		err := engine.LoadRule(&domain.CustomRuleConfig{
			ID:         "r2",
			Name:       "bad",
			Expression: "amount_mxn + 1.0",
			Delta:      1,
		})
		if err == nil {
			t.Fatal("expected compile error for non-bool expression")
		}
	})

	t.Run("SyntaxErrorRejected", func(t *testing.T) {
		err := engine.LoadRule(&domain.CustomRuleConfig{
			ID:         "r3",
			Name:       "broken",
			Expression: "amount_mxn >",
			Delta:      1,
		})
		if err == nil {
			t.Fatal("expected compile error for broken expression")
		}
	})

	t.Run("MissingIDRejected", func(t *testing.T) {
		err := engine.LoadRule(&domain.CustomRuleConfig{
			Name:       "no_id",
			Expression: "true",
			Delta:      1,
		})
		if err == nil {
			t.Fatal("expected error for missing id")
		}
	})
}

func TestCustomEngineEvaluateAll(t *testing.T) {
	engine := newTestEngine(t)

	rules := []*domain.CustomRuleConfig{
		{ID: "a", Name: "suspicious_device", Expression: `device_type == "emulator"`, Delta: 3, Enabled: true},
		{ID: "b", Name: "tiny_amount", Expression: "amount_mxn < 1.0", Delta: 1, Enabled: true},
		{ID: "c", Name: "disabled_rule", Expression: "true", Delta: 9, Enabled: false},
	}
	if err := engine.LoadRules(rules); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}
	if engine.RulesCount() != 2 {
		t.Fatalf("expected disabled rule skipped, got %d loaded", engine.RulesCount())
	}

	t.Run("MatchingRuleEmitsSignal", func(t *testing.T) {
		tx := baseTx()
		tx.DeviceType = "emulator"
		signals := engine.EvaluateAll(context.Background(), tx)
		if len(signals) != 1 {
			t.Fatalf("expected 1 signal, got %d", len(signals))
		}
		if signals[0].Reason != "suspicious_device(+3)" {
			t.Errorf("expected suspicious_device(+3), got %q", signals[0].Reason)
		}
		if signals[0].Delta != 3 {
			t.Errorf("expected delta 3, got %d", signals[0].Delta)
		}
	})

	t.Run("NoMatchNoSignals", func(t *testing.T) {
		signals := engine.EvaluateAll(context.Background(), baseTx())
		if len(signals) != 0 {
			t.Errorf("expected no signals, got %v", signals)
		}
	})

	t.Run("DeterministicOrder", func(t *testing.T) {
		tx := baseTx()
		tx.DeviceType = "emulator"
		tx.AmountMXN = 0.5

		for run := 0; run < 5; run++ {
			signals := engine.EvaluateAll(context.Background(), tx)
			if len(signals) != 2 {
				t.Fatalf("run %d: expected 2 signals, got %d", run, len(signals))
			}
			// Sorted by rule name: suspicious_device before tiny_amount.
			if signals[0].Reason != "suspicious_device(+3)" || signals[1].Reason != "tiny_amount(+1)" {
				t.Errorf("run %d: unexpected order %q, %q", run, signals[0].Reason, signals[1].Reason)
			}
		}
	})
}

func TestCustomEngineReloadRules(t *testing.T) {
	engine := newTestEngine(t)

	if err := engine.LoadRule(&domain.CustomRuleConfig{
		ID: "old", Name: "old_rule", Expression: "true", Delta: 1, Enabled: true,
	}); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	err := engine.ReloadRules([]*domain.CustomRuleConfig{
		{ID: "new", Name: "new_rule", Expression: "latency_ms > 100", Delta: 2, Enabled: true},
	})
	if err != nil {
		t.Fatalf("failed to reload: %v", err)
	}

	loaded := engine.GetLoadedRules()
	if len(loaded) != 1 || loaded[0].ID != "new" {
		t.Errorf("expected reload to replace rules atomically, got %v", loaded)
	}

	t.Run("FailedReloadKeepsExisting", func(t *testing.T) {
		err := engine.ReloadRules([]*domain.CustomRuleConfig{
			{ID: "bad", Name: "bad_rule", Expression: "not valid cel ((", Delta: 1, Enabled: true},
		})
		if err == nil {
			t.Fatal("expected reload error")
		}
		if engine.RulesCount() != 1 {
			t.Errorf("expected existing rules kept after failed reload, got %d", engine.RulesCount())
		}
	})
}

func TestCustomEngineTxMapVariable(t *testing.T) {
	engine := newTestEngine(t)

	err := engine.LoadRule(&domain.CustomRuleConfig{
		ID:         "m",
		Name:       "map_access",
		Expression: `tx["ip_risk"] == "high"`,
		Delta:      2,
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	tx := baseTx()
	tx.IPRisk = domain.RiskHigh
	signals := engine.EvaluateAll(context.Background(), tx)
	if len(signals) != 1 || signals[0].Reason != "map_access(+2)" {
		t.Errorf("expected map_access(+2), got %v", signals)
	}
}
