package config

import (
	"errors"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Tier != domain.TierCommunity {
		t.Errorf("expected community tier by default, got %s", cfg.Tier)
	}
	if cfg.Repository.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %s", cfg.Repository.Driver)
	}
	if cfg.EventBus.Type != "channel" {
		t.Errorf("expected channel bus, got %s", cfg.EventBus.Type)
	}
}

func TestLoadProTier(t *testing.T) {
	t.Setenv("KESTREL_TIER", "pro")
	t.Setenv("KESTREL_REDIS_ADDR", "redis:6380")
	t.Setenv("KESTREL_NATS_URL", "nats://broker:4222")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Tier != domain.TierPro {
		t.Errorf("expected pro tier, got %s", cfg.Tier)
	}
	if cfg.Repository.Driver != "postgres" {
		t.Errorf("expected postgres driver, got %s", cfg.Repository.Driver)
	}
	if cfg.Cache.RedisAddr != "redis:6380" {
		t.Errorf("expected redis addr override, got %s", cfg.Cache.RedisAddr)
	}
	if cfg.EventBus.NATSUrl != "nats://broker:4222" {
		t.Errorf("expected nats url override, got %s", cfg.EventBus.NATSUrl)
	}
}

func TestLoadInvalidPort(t *testing.T) {
	t.Setenv("KESTREL_PORT", "not-a-port")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid port")
	}
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestLoadScoringDefaults(t *testing.T) {
	cfg, err := LoadScoring()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := cfg.DecisionFor(10); got != domain.DecisionRejected {
		t.Errorf("expected score 10 REJECTED, got %s", got)
	}
	if got := cfg.DecisionFor(4); got != domain.DecisionInReview {
		t.Errorf("expected score 4 IN_REVIEW, got %s", got)
	}
	if got := cfg.DecisionFor(3); got != domain.DecisionAccepted {
		t.Errorf("expected score 3 ACCEPTED, got %s", got)
	}
	if cfg.AmountThresholdFor("digital") != 2500 {
		t.Errorf("expected digital band 2500, got %v", cfg.AmountThresholdFor("digital"))
	}
	if cfg.AmountThresholdFor("unknown") != 7500 {
		t.Errorf("expected default band 7500, got %v", cfg.AmountThresholdFor("unknown"))
	}
}

func TestLoadScoringThresholdOverrides(t *testing.T) {
	t.Setenv("KESTREL_REJECT_AT", "8")
	t.Setenv("KESTREL_REVIEW_AT", "3")

	cfg, err := LoadScoring()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := cfg.DecisionFor(8); got != domain.DecisionRejected {
		t.Errorf("expected score 8 REJECTED with override, got %s", got)
	}
	if got := cfg.DecisionFor(3); got != domain.DecisionInReview {
		t.Errorf("expected score 3 IN_REVIEW with override, got %s", got)
	}
}

func TestLoadScoringRejectsInvertedThresholds(t *testing.T) {
	t.Setenv("KESTREL_REJECT_AT", "4")
	t.Setenv("KESTREL_REVIEW_AT", "10")

	_, err := LoadScoring()
	if err == nil {
		t.Fatal("expected error for review >= reject")
	}
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestAmountThresholdOverrides(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		t.Setenv("KESTREL_AMOUNT_THRESHOLDS", "digital:3000, physical:5000")

		cfg, err := LoadScoring()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.AmountThresholdFor("digital") != 3000 {
			t.Errorf("expected digital 3000, got %v", cfg.AmountThresholdFor("digital"))
		}
		if cfg.AmountThresholdFor("physical") != 5000 {
			t.Errorf("expected physical 5000, got %v", cfg.AmountThresholdFor("physical"))
		}
		// Unlisted bands keep their defaults.
		if cfg.AmountThresholdFor("subscription") != 1200 {
			t.Errorf("expected subscription default kept, got %v", cfg.AmountThresholdFor("subscription"))
		}
	})

	t.Run("MalformedEntry", func(t *testing.T) {
		t.Setenv("KESTREL_AMOUNT_THRESHOLDS", "digital=3000")

		_, err := LoadScoring()
		if !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("expected ErrConfiguration, got %v", err)
		}
	})

	t.Run("NegativeAmount", func(t *testing.T) {
		t.Setenv("KESTREL_AMOUNT_THRESHOLDS", "digital:-1")

		_, err := LoadScoring()
		if !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("expected ErrConfiguration, got %v", err)
		}
	})
}

func TestRiskWeightOverrides(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		t.Setenv("KESTREL_RISK_WEIGHTS", "ip_risk.high=5,email_risk.new_domain=2")

		cfg, err := LoadScoring()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.RiskWeights.IPRisk["high"] != 5 {
			t.Errorf("expected ip_risk.high 5, got %d", cfg.RiskWeights.IPRisk["high"])
		}
		if cfg.RiskWeights.EmailRisk["new_domain"] != 2 {
			t.Errorf("expected email_risk.new_domain 2, got %d", cfg.RiskWeights.EmailRisk["new_domain"])
		}
		// Untouched levels keep their defaults.
		if cfg.RiskWeights.IPRisk["medium"] != 1 {
			t.Errorf("expected ip_risk.medium default kept, got %d", cfg.RiskWeights.IPRisk["medium"])
		}
	})

	t.Run("UnknownDimension", func(t *testing.T) {
		t.Setenv("KESTREL_RISK_WEIGHTS", "phone_risk.high=3")

		_, err := LoadScoring()
		if !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("expected ErrConfiguration, got %v", err)
		}
	})

	t.Run("NonIntegerWeight", func(t *testing.T) {
		t.Setenv("KESTREL_RISK_WEIGHTS", "ip_risk.high=heavy")

		_, err := LoadScoring()
		if !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("expected ErrConfiguration, got %v", err)
		}
	})
}

func TestScoringValidateFailsStartup(t *testing.T) {
	t.Setenv("KESTREL_NIGHT_START", "25")

	_, err := LoadScoring()
	if err == nil {
		t.Fatal("expected validation error for out-of-range night start")
	}
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}
