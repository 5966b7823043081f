// Package worker provides async alert dispatch off the event bus.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Dispatcher consumes alert events from the EventBus and fans them out
// to operators: structured log always, webhook POST when configured.
type Dispatcher struct {
	bus    domain.EventBus
	cfg    domain.AlertConfig
	client *http.Client

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewDispatcher creates a new alert dispatcher.
func NewDispatcher(bus domain.EventBus, cfg domain.AlertConfig) *Dispatcher {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		bus:    bus,
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes the dispatcher to the alert topic.
func (d *Dispatcher) Start() error {
	sub, err := d.bus.Subscribe(d.ctx, domain.TopicAlert, d.handleAlert)
	if err != nil {
		return fmt.Errorf("failed to subscribe to alert topic: %w", err)
	}
	d.subscriptions = append(d.subscriptions, sub)

	slog.Info("alert dispatcher started",
		"topic", domain.TopicAlert,
		"webhook_configured", d.cfg.WebhookURL != "",
	)

	return nil
}

// handleAlert processes a single alert message.
func (d *Dispatcher) handleAlert(ctx context.Context, msg *domain.Message) error {
	var eval domain.Evaluation
	if err := json.Unmarshal(msg.Payload, &eval); err != nil {
		slog.Error("failed to parse alert payload",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	slog.Warn("risk alert",
		"evaluation_id", eval.ID,
		"transaction_id", eval.TransactionID,
		"decision", string(eval.Decision),
		"risk_score", eval.RiskScore,
		"hard_blocked", eval.HardBlocked,
		"reasons", eval.Reasons,
	)

	if d.cfg.WebhookURL == "" {
		return nil
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.deliverWebhook(d.ctx, &eval); err != nil {
			slog.Error("webhook delivery failed",
				"evaluation_id", eval.ID,
				"webhook_url", d.cfg.WebhookURL,
				"error", err,
			)
		}
	}()

	return nil
}

// webhookPayload is the body POSTed to the configured webhook.
type webhookPayload struct {
	EvaluationID  string   `json:"evaluation_id"`
	TransactionID int64    `json:"transaction_id"`
	RiskScore     int      `json:"risk_score"`
	Decision      string   `json:"decision"`
	Reasons       []string `json:"reasons"`
	HardBlocked   bool     `json:"hard_blocked"`
	Timestamp     string   `json:"timestamp"`
}

// deliverWebhook POSTs the alert to the configured webhook URL.
func (d *Dispatcher) deliverWebhook(ctx context.Context, eval *domain.Evaluation) error {
	payload := webhookPayload{
		EvaluationID:  eval.ID,
		TransactionID: eval.TransactionID,
		RiskScore:     eval.RiskScore,
		Decision:      string(eval.Decision),
		Reasons:       eval.Reasons,
		HardBlocked:   eval.HardBlocked,
		Timestamp:     eval.Timestamp.UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	slog.Debug("webhook delivered",
		"evaluation_id", eval.ID,
		"status", resp.StatusCode,
	)

	return nil
}

// Stop gracefully stops the dispatcher.
func (d *Dispatcher) Stop() error {
	d.cancel()

	for _, sub := range d.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	d.subscriptions = nil

	d.wg.Wait()

	slog.Info("alert dispatcher stopped")
	return nil
}

// Stats returns dispatcher statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current dispatcher statistics.
func (d *Dispatcher) GetStats() Stats {
	topics := make([]string, len(d.subscriptions))
	for i, sub := range d.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(d.subscriptions),
		Topics:            topics,
	}
}
