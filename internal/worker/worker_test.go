package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestDispatcher(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		d := NewDispatcher(eventBus, domain.AlertConfig{})

		err := d.Start()
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := d.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
		if len(stats.Topics) != 1 || stats.Topics[0] != domain.TopicAlert {
			t.Errorf("expected subscription on %s, got %v", domain.TopicAlert, stats.Topics)
		}

		err = d.Stop()
		if err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = d.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("WebhookDelivery", func(t *testing.T) {
		var received atomic.Bool
		var payload webhookPayload

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("expected POST, got %s", r.Method)
			}
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected application/json, got %s", ct)
			}
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Errorf("failed to decode webhook body: %v", err)
			}
			received.Store(true)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		d := NewDispatcher(eventBus, domain.AlertConfig{WebhookURL: server.URL})
		if err := d.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer d.Stop()

		// Allow subscription to be active
		time.Sleep(50 * time.Millisecond)

		eval := domain.Evaluation{
			ID:            "eval-alert-001",
			TransactionID: 77,
			RiskScore:     12,
			Decision:      domain.DecisionRejected,
			Reasons:       []string{"ip_risk:high(+3)", "hard_block:chargeback_ip"},
			HardBlocked:   true,
			HardBlockName: "chargeback_ip",
			Timestamp:     time.Now().UTC(),
		}

		data, _ := json.Marshal(eval)
		if err := eventBus.Publish(context.Background(), domain.TopicAlert, data); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Wait for async delivery
		deadline := time.Now().Add(2 * time.Second)
		for !received.Load() && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}

		if !received.Load() {
			t.Fatal("expected webhook to be delivered")
		}

		if payload.EvaluationID != "eval-alert-001" {
			t.Errorf("expected evaluation_id 'eval-alert-001', got '%s'", payload.EvaluationID)
		}
		if payload.TransactionID != 77 {
			t.Errorf("expected transaction_id 77, got %d", payload.TransactionID)
		}
		if payload.Decision != "REJECTED" {
			t.Errorf("expected decision REJECTED, got '%s'", payload.Decision)
		}
		if !payload.HardBlocked {
			t.Error("expected hard_blocked true")
		}
		if len(payload.Reasons) != 2 {
			t.Errorf("expected 2 reasons, got %d", len(payload.Reasons))
		}
	})

	t.Run("NoWebhookConfigured", func(t *testing.T) {
		// Without a webhook URL the alert is only logged; this must not error.
		d := NewDispatcher(eventBus, domain.AlertConfig{})
		if err := d.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer d.Stop()

		time.Sleep(50 * time.Millisecond)

		eval := domain.Evaluation{
			ID:            "eval-log-only",
			TransactionID: 5,
			RiskScore:     6,
			Decision:      domain.DecisionInReview,
			Timestamp:     time.Now().UTC(),
		}
		data, _ := json.Marshal(eval)
		if err := eventBus.Publish(context.Background(), domain.TopicAlert, data); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		time.Sleep(100 * time.Millisecond)
	})

	t.Run("MalformedPayloadIgnored", func(t *testing.T) {
		d := NewDispatcher(eventBus, domain.AlertConfig{})
		if err := d.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer d.Stop()

		time.Sleep(50 * time.Millisecond)

		if err := eventBus.Publish(context.Background(), domain.TopicAlert, []byte("not json")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Dispatcher must survive the bad message
		time.Sleep(100 * time.Millisecond)

		if stats := d.GetStats(); stats.SubscriptionCount != 1 {
			t.Errorf("expected subscription to remain active, got %d", stats.SubscriptionCount)
		}
	})
}
