// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveEvaluation stores a decision audit record.
func (r *SQLRepository) SaveEvaluation(ctx context.Context, eval *domain.Evaluation) error {
	if eval == nil || eval.ID == "" {
		return fmt.Errorf("%w: evaluation id is required", domain.ErrInvalidInput)
	}

	reasons, _ := json.Marshal(eval.Reasons)
	signals, _ := json.Marshal(eval.Signals)
	metadata, _ := json.Marshal(eval.Metadata)

	hardBlocked := 0
	if eval.HardBlocked {
		hardBlocked = 1
	}

	query := `
		INSERT INTO evaluations (
			id, transaction_id, risk_score, decision, reasons, signals,
			hard_blocked, hard_block_name, timestamp, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		eval.ID, eval.TransactionID, eval.RiskScore, string(eval.Decision),
		string(reasons), string(signals),
		hardBlocked, eval.HardBlockName, eval.Timestamp, string(metadata),
	)
	return err
}

// GetEvaluation retrieves an evaluation by ID.
func (r *SQLRepository) GetEvaluation(ctx context.Context, evalID string) (*domain.Evaluation, error) {
	query := `
		SELECT id, transaction_id, risk_score, decision, reasons, signals,
			   hard_blocked, hard_block_name, timestamp, metadata
		FROM evaluations
		WHERE id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), evalID)
	eval, err := scanEvaluation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return eval, err
}

// ListEvaluationsByDecision retrieves evaluations for a decision tier since
// a point in time, newest first.
func (r *SQLRepository) ListEvaluationsByDecision(ctx context.Context, decision domain.Decision, since time.Time) ([]*domain.Evaluation, error) {
	query := `
		SELECT id, transaction_id, risk_score, decision, reasons, signals,
			   hard_blocked, hard_block_name, timestamp, metadata
		FROM evaluations
		WHERE decision = ? AND timestamp >= ?
		ORDER BY timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), string(decision), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evals []*domain.Evaluation
	for rows.Next() {
		eval, err := scanEvaluation(rows.Scan)
		if err != nil {
			return nil, err
		}
		evals = append(evals, eval)
	}

	return evals, rows.Err()
}

func scanEvaluation(scan func(dest ...any) error) (*domain.Evaluation, error) {
	var eval domain.Evaluation
	var decision, reasons, signals, metadata string
	var hardBlocked int
	var hardBlockName sql.NullString

	err := scan(
		&eval.ID, &eval.TransactionID, &eval.RiskScore, &decision,
		&reasons, &signals,
		&hardBlocked, &hardBlockName, &eval.Timestamp, &metadata,
	)
	if err != nil {
		return nil, err
	}

	eval.Decision = domain.Decision(decision)
	eval.HardBlocked = hardBlocked == 1
	eval.HardBlockName = hardBlockName.String
	json.Unmarshal([]byte(reasons), &eval.Reasons)
	json.Unmarshal([]byte(signals), &eval.Signals)
	json.Unmarshal([]byte(metadata), &eval.Metadata)

	return &eval, nil
}

// SaveRuleConfig stores a custom rule configuration.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, rule *domain.CustomRuleConfig) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", domain.ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, name, description, version, expression, delta, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			delta = excluded.delta,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Version,
		rule.Expression, rule.Delta, enabled,
		now, now,
	)
	return err
}

// GetRuleConfig retrieves the latest enabled version of a rule.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, ruleID string) (*domain.CustomRuleConfig, error) {
	query := `
		SELECT id, name, description, version, expression, delta, enabled
		FROM rule_configs
		WHERE id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var cfg domain.CustomRuleConfig
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), ruleID).Scan(
		&cfg.ID, &cfg.Name, &cfg.Description, &cfg.Version,
		&cfg.Expression, &cfg.Delta, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.Enabled = enabled == 1
	return &cfg, nil
}

// ListRuleConfigs retrieves all enabled custom rules.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context) ([]*domain.CustomRuleConfig, error) {
	query := `
		SELECT id, name, description, version, expression, delta, enabled
		FROM rule_configs
		WHERE enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.CustomRuleConfig
	for rows.Next() {
		var cfg domain.CustomRuleConfig
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.Name, &cfg.Description, &cfg.Version,
			&cfg.Expression, &cfg.Delta, &enabled,
		); err != nil {
			return nil, err
		}

		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
