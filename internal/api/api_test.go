package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// createTestServer creates a server with default scoring and no backends.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	engine, err := rules.NewCustomEngine(5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	scoring := domain.DefaultScoringConfig()
	processor := decision.NewProcessor(scoring, "test-v1")

	return NewServer(cfg, nil, nil, nil, engine, processor, scoring, "test-v1")
}

// evaluate POSTs a transaction and decodes the response.
func evaluate(t *testing.T, server *Server, body map[string]any) (*httptest.ResponseRecorder, *EvaluateResponse) {
	t.Helper()

	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/transaction", bytes.NewBuffer(raw))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		return rr, nil
	}

	var resp EvaluateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return rr, &resp
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func TestTransactionEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("BaselineAccepted", func(t *testing.T) {
		rr, resp := evaluate(t, server, map[string]any{
			"transaction_id": 1,
			"amount_mxn":     100,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if resp.Decision != "ACCEPTED" {
			t.Errorf("expected ACCEPTED, got %s", resp.Decision)
		}
		if resp.RiskScore != 0 {
			t.Errorf("expected score 0, got %d", resp.RiskScore)
		}
		if resp.TransactionID != 1 {
			t.Errorf("expected transaction_id echoed, got %d", resp.TransactionID)
		}
		if resp.EvaluationID == "" {
			t.Error("expected evaluation_id in response")
		}
		if resp.Metadata.Version != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp.Metadata.Version)
		}
	})

	t.Run("NightNewUserInReview", func(t *testing.T) {
		_, resp := evaluate(t, server, map[string]any{
			"transaction_id": 2,
			"amount_mxn":     5200,
			"product_type":   "digital",
			"hour":           23,
			"ip_risk":        "medium",
			"email_risk":     "new_domain",
		})
		if resp.Decision != "IN_REVIEW" {
			t.Errorf("expected IN_REVIEW, got %s (score %d, reasons %v)", resp.Decision, resp.RiskScore, resp.Reasons)
		}
		if resp.RiskScore != 7 {
			t.Errorf("expected score 7, got %d", resp.RiskScore)
		}
		if !containsString(resp.Reasons, "night_hour:23(+1)") {
			t.Errorf("expected night_hour reason, got %v", resp.Reasons)
		}
		if !containsString(resp.Reasons, "high_amount:digital:5200(+2)") {
			t.Errorf("expected high_amount reason, got %v", resp.Reasons)
		}
		if !containsString(resp.Reasons, "new_user_high_amount(+2)") {
			t.Errorf("expected new_user_high_amount reason, got %v", resp.Reasons)
		}
	})

	t.Run("HardBlockRejects", func(t *testing.T) {
		_, resp := evaluate(t, server, map[string]any{
			"transaction_id":   3,
			"amount_mxn":       300,
			"chargeback_count": 2,
			"ip_risk":          "high",
		})
		if resp.Decision != "REJECTED" {
			t.Errorf("expected REJECTED regardless of score, got %s", resp.Decision)
		}
		if !containsString(resp.Reasons, "hard_block:chargeback_ip") {
			t.Errorf("expected hard_block reason, got %v", resp.Reasons)
		}
	})

	t.Run("FrequencyBufferReducesScore", func(t *testing.T) {
		_, resp := evaluate(t, server, map[string]any{
			"transaction_id":   4,
			"amount_mxn":       100,
			"user_reputation":  "recurrent",
			"customer_txn_30d": 5,
			"ip_risk":          "high",
		})
		if !containsString(resp.Reasons, "frequency_buffer(-1)") {
			t.Errorf("expected frequency_buffer(-1), got %v", resp.Reasons)
		}
		if resp.RiskScore != 2 {
			t.Errorf("expected score 2 (3-1), got %d", resp.RiskScore)
		}
		if resp.Decision != "ACCEPTED" {
			t.Errorf("expected ACCEPTED, got %s", resp.Decision)
		}
	})

	t.Run("GeoMismatch", func(t *testing.T) {
		_, resp := evaluate(t, server, map[string]any{
			"transaction_id": 5,
			"amount_mxn":     100,
			"bin_country":    "US",
			"ip_country":     "MX",
		})
		if !containsString(resp.Reasons, "geo_mismatch:US!=MX(+2)") {
			t.Errorf("expected geo_mismatch:US!=MX(+2), got %v", resp.Reasons)
		}
	})

	t.Run("ExtremeLatencyStillAccepted", func(t *testing.T) {
		_, resp := evaluate(t, server, map[string]any{
			"transaction_id": 6,
			"amount_mxn":     100,
			"latency_ms":     3000,
		})
		if !containsString(resp.Reasons, "latency_extreme:3000ms(+2)") {
			t.Errorf("expected latency_extreme:3000ms(+2), got %v", resp.Reasons)
		}
		if resp.Decision != "ACCEPTED" {
			t.Errorf("expected ACCEPTED, got %s", resp.Decision)
		}
	})

	t.Run("NightHourAlone", func(t *testing.T) {
		_, resp := evaluate(t, server, map[string]any{
			"transaction_id": 7,
			"amount_mxn":     100,
			"hour":           23,
		})
		if resp.RiskScore != 1 {
			t.Errorf("expected score 1, got %d", resp.RiskScore)
		}
		if resp.Decision != "ACCEPTED" {
			t.Errorf("expected ACCEPTED, got %s", resp.Decision)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/transaction", bytes.NewBufferString("not-json"))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingTransactionID", func(t *testing.T) {
		rr, _ := evaluate(t, server, map[string]any{
			"amount_mxn": 100,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("NegativeAmount", func(t *testing.T) {
		rr, _ := evaluate(t, server, map[string]any{
			"transaction_id": 8,
			"amount_mxn":     -5,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("HourOutOfRange", func(t *testing.T) {
		rr, _ := evaluate(t, server, map[string]any{
			"transaction_id": 9,
			"hour":           24,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr, _ := evaluate(t, server, map[string]any{
			"transaction_id": 10,
			"amount_mxn":     100,
		})
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
	})
}

func TestHealthEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "ok" {
			t.Errorf("expected status 'ok', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestConfigEndpoint(t *testing.T) {
	server := createTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	for _, key := range []string{"score_to_decision", "amount_thresholds", "risk_weights", "rule_deltas", "hard_block"} {
		if _, ok := resp[key]; !ok {
			t.Errorf("expected %q in config response", key)
		}
	}
}

func TestRuleEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("ListEmpty", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/rules", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("CreateValidatesExpression", func(t *testing.T) {
		body, _ := json.Marshal(CreateRuleRequest{
			ID:         "bad",
			Name:       "bad_rule",
			Expression: "amount_mxn >",
			Delta:      1,
			Enabled:    true,
		})
		req := httptest.NewRequest(http.MethodPost, "/rules", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for invalid CEL, got %d", rr.Code)
		}
	})

	t.Run("CreateRequiresDelta", func(t *testing.T) {
		body, _ := json.Marshal(CreateRuleRequest{
			ID:         "no-delta",
			Name:       "no_delta",
			Expression: "true",
			Enabled:    true,
		})
		req := httptest.NewRequest(http.MethodPost, "/rules", bytes.NewBuffer(body))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for zero delta, got %d", rr.Code)
		}
	})

	t.Run("GetUnknownRule", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/rules/nope", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestCustomRuleContributesToScore(t *testing.T) {
	server := createTestServer(t)

	// Load a custom rule directly into the engine (the create endpoint
	// persists to the repository, which this test server does not have).
	if err := server.Handler().engine.LoadRule(&domain.CustomRuleConfig{
		ID:         "vpn",
		Name:       "vpn_device",
		Expression: `device_type == "vpn"`,
		Delta:      4,
		Enabled:    true,
	}); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	_, resp := evaluate(t, server, map[string]any{
		"transaction_id": 11,
		"amount_mxn":     100,
		"device_type":    "vpn",
	})

	if !containsString(resp.Reasons, "vpn_device(+4)") {
		t.Errorf("expected vpn_device(+4), got %v", resp.Reasons)
	}
	if resp.Decision != "IN_REVIEW" {
		t.Errorf("expected IN_REVIEW at score 4, got %s", resp.Decision)
	}
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
