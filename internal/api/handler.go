package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/normalize"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	builtin    []rules.Rule
	hardBlocks []rules.HardBlock
	engine     *rules.CustomEngine
	processor  *decision.Processor
	scoring    *domain.ScoringConfig
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.CustomEngine, processor *decision.Processor, scoring *domain.ScoringConfig, version string) *Handler {
	return &Handler{
		repo:       repo,
		cache:      cache,
		bus:        bus,
		builtin:    rules.Builtin(),
		hardBlocks: rules.DefaultHardBlocks(),
		engine:     engine,
		processor:  processor,
		scoring:    scoring,
		version:    version,
	}
}

// evaluationCacheTTL bounds how long audit lookups are served from cache.
const evaluationCacheTTL = 15 * time.Minute

// EvaluateResponse is the response for POST /transaction.
type EvaluateResponse struct {
	TransactionID int64    `json:"transaction_id"`
	RiskScore     int      `json:"risk_score"`
	Decision      string   `json:"decision"`
	Reasons       []string `json:"reasons"`
	EvaluationID  string   `json:"evaluation_id"`
	Metadata      struct {
		TraceID string `json:"trace_id"`
		TotalMs int64  `json:"total_ms"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// EvaluateTransaction handles POST /transaction requests.
func (h *Handler) EvaluateTransaction(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	// Parse request
	var req domain.TransactionInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	// Normalize and validate
	tx, err := normalize.Normalize(&req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("normalization failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
		return
	}

	// 1. Built-in rules, in registry order
	signals := rules.Evaluate(h.builtin, tx, h.scoring)

	// 2. Custom CEL rules, appended after the built-ins
	if h.engine != nil && h.engine.RulesCount() > 0 {
		signals = append(signals, h.engine.EvaluateAll(ctx, tx)...)
	}

	// 3. Hard-block check
	blockName := rules.FirstMatch(h.hardBlocks, tx, h.scoring)

	// 4. Aggregate into a decision
	eval := h.processor.Process(&decision.Input{
		TransactionID: tx.TransactionID,
		Signals:       signals,
		HardBlockName: blockName,
		TraceID:       traceID,
		StartTime:     start,
	})

	evaluationsTotal.WithLabelValues(string(eval.Decision)).Inc()
	if eval.HardBlocked {
		hardBlocksTotal.WithLabelValues(eval.HardBlockName).Inc()
	}
	evaluationDuration.Observe(time.Since(start).Seconds())

	// 5. Persist the audit record
	if h.repo != nil {
		if err := h.repo.SaveEvaluation(ctx, eval); err != nil {
			slog.Error("failed to save evaluation",
				"evaluation_id", eval.ID,
				"error", err,
			)
		}
	}

	// 6. Warm the lookup cache
	if h.cache != nil {
		if err := h.cache.SetEvaluation(ctx, eval, evaluationCacheTTL); err != nil {
			slog.Error("failed to cache evaluation",
				"evaluation_id", eval.ID,
				"error", err,
			)
		}
	}

	// 7. Publish decision, and alert when warranted
	if h.bus != nil {
		payload, _ := json.Marshal(eval)
		if err := h.bus.Publish(ctx, domain.TopicDecision, payload); err != nil {
			slog.Error("failed to publish decision",
				"evaluation_id", eval.ID,
				"error", err,
			)
		}
		if decision.ShouldAlert(eval) {
			if err := h.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
				slog.Error("failed to publish alert",
					"evaluation_id", eval.ID,
					"error", err,
				)
			}
		}
	}

	slog.Info("transaction evaluated",
		"transaction_id", tx.TransactionID,
		"decision", string(eval.Decision),
		"risk_score", eval.RiskScore,
		"hard_blocked", eval.HardBlocked,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	// 8. Respond
	resp := EvaluateResponse{
		TransactionID: eval.TransactionID,
		RiskScore:     eval.RiskScore,
		Decision:      string(eval.Decision),
		Reasons:       eval.Reasons,
		EvaluationID:  eval.ID,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetConfig echoes the active scoring configuration.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scoring)
}

// GetEvaluation retrieves an evaluation by ID, cache first.
func (h *Handler) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	evalID := chi.URLParam(r, "id")

	if evalID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "evaluation id is required",
		})
		return
	}

	if h.cache != nil {
		if eval, err := h.cache.GetEvaluation(ctx, evalID); err == nil && eval != nil {
			writeJSON(w, http.StatusOK, eval)
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	eval, err := h.repo.GetEvaluation(ctx, evalID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Error("failed to get evaluation", "id", evalID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "evaluation not found",
		})
		return
	}

	// Re-warm the cache for subsequent lookups
	if h.cache != nil {
		_ = h.cache.SetEvaluation(ctx, eval, evaluationCacheTTL)
	}

	writeJSON(w, http.StatusOK, eval)
}

// ListEvaluations returns recent evaluations filtered by decision.
// Query params: decision (required), since (optional RFC3339, default 24h ago).
func (h *Handler) ListEvaluations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	verdict := domain.Decision(r.URL.Query().Get("decision"))
	switch verdict {
	case domain.DecisionAccepted, domain.DecisionInReview, domain.DecisionRejected:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "decision must be one of ACCEPTED, IN_REVIEW, REJECTED",
		})
		return
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "since must be RFC3339",
			})
			return
		}
		since = parsed
	}

	evals, err := h.repo.ListEvaluationsByDecision(ctx, verdict, since)
	if err != nil {
		slog.Error("failed to list evaluations", "decision", string(verdict), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list evaluations",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"evaluations": evals,
		"count":       len(evals),
	})
}

// ListRules returns all loaded custom rules from the engine.
// Rules are loaded from the database at startup and can be reloaded via POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.engine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loadedRules,
		"count":  len(loadedRules),
		"source": "database",
	})
}

// GetRule retrieves a rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a custom rule.
type CreateRuleRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Delta       int    `json:"delta"`
	Enabled     bool   `json:"enabled"`
}

// CreateRule creates a new custom rule and saves it to the database.
// After saving, call POST /rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	// Validate
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}
	if req.Delta == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "delta must be non-zero",
		})
		return
	}

	ruleConfig := &domain.CustomRuleConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Delta:       req.Delta,
		Enabled:     req.Enabled,
	}

	// Validate CEL expression before persisting
	if err := h.engine.ValidateRule(ruleConfig); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveRuleConfig(ctx, ruleConfig); err != nil {
			slog.Error("failed to save rule config", "id", ruleConfig.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("rule created", "id", ruleConfig.ID, "name", ruleConfig.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    ruleConfig,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules reloads all rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.engine.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
