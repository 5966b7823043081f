package domain

import (
	"context"
	"time"
)

// Repository persists the decision audit log and custom rule configs.
type Repository interface {
	// Evaluation audit log
	SaveEvaluation(ctx context.Context, eval *Evaluation) error
	GetEvaluation(ctx context.Context, evalID string) (*Evaluation, error)
	ListEvaluationsByDecision(ctx context.Context, decision Decision, since time.Time) ([]*Evaluation, error)

	// Custom rule configuration
	SaveRuleConfig(ctx context.Context, rule *CustomRuleConfig) error
	GetRuleConfig(ctx context.Context, ruleID string) (*CustomRuleConfig, error)
	ListRuleConfigs(ctx context.Context) ([]*CustomRuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
