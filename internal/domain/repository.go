// Package domain defines the core interfaces and types for sanctiond.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Violation rule catalog
	SaveRule(ctx context.Context, rule *ViolationRule) error
	GetRule(ctx context.Context, code string) (*ViolationRule, error)
	ListRules(ctx context.Context) ([]*ViolationRule, error)
	DisableRule(ctx context.Context, code string) error

	// Structure registry replica
	SaveStructure(ctx context.Context, s *Structure) error
	GetStructure(ctx context.Context, id string) (*Structure, error)

	// Sanction decisions
	CreateDecision(ctx context.Context, d *SanctionDecision) error
	GetDecision(ctx context.Context, id string) (*SanctionDecision, error)
	ListDecisions(ctx context.Context, filter DecisionFilter) ([]*SanctionDecision, error)

	// UpdateDecision writes d only if the stored row still has expectedStatus
	// and expectedVersion. On success d.Version is advanced. A lost race
	// returns ErrConflict; an unknown id returns ErrNotFound.
	UpdateDecision(ctx context.Context, d *SanctionDecision, expectedStatus Status, expectedVersion int64) error

	// CountDecisions counts decisions of a structure in a category whose status is one of statuses.
	CountDecisions(ctx context.Context, structureID string, category Category, statuses []Status) (int, error)

	// NextProtocolNumber returns the next value of the per-year protocol sequence.
	NextProtocolNumber(ctx context.Context, year int) (int64, error)

	// RecordExport stores rec and flags the decision as exported in one
	// transaction, guarded on the decision still being in expectedStatus.
	// It does not change the decision's version.
	RecordExport(ctx context.Context, rec *ExportRecord, expectedStatus Status) error
	ListExports(ctx context.Context, decisionID string) ([]*ExportRecord, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// StructureDirectory resolves structures from the external registry.
type StructureDirectory interface {
	GetStructure(ctx context.Context, id string) (*Structure, error)
}

// RuleCatalog resolves violation rules.
type RuleCatalog interface {
	// Applicable returns the rule if it exists, is enabled and applies to s.
	// Otherwise it returns an error wrapping ErrRuleNotFound.
	Applicable(code string, s *Structure) (*ViolationRule, error)

	// RulesFor returns the rules applicable to s, or all rules when s is nil.
	RulesFor(s *Structure) []*ViolationRule
}

// RecidivismCounter counts prior sanctions of the same structure and category.
type RecidivismCounter interface {
	CountPriorSanctions(ctx context.Context, structureID string, category Category) (int, error)
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `env:"SANCTIOND_DB_DRIVER"`

	// SQLite specific
	SQLitePath string `env:"SANCTIOND_SQLITE_PATH"`

	// PostgreSQL specific
	PostgresHost     string `env:"SANCTIOND_PG_HOST"`
	PostgresPort     int    `env:"SANCTIOND_PG_PORT"`
	PostgresUser     string `env:"SANCTIOND_PG_USER"`
	PostgresPassword string `env:"SANCTIOND_PG_PASSWORD"`
	PostgresDB       string `env:"SANCTIOND_PG_DB"`
	PostgresSSLMode  string `env:"SANCTIOND_PG_SSLMODE"`

	// Connection pool settings
	MaxOpenConns    int           `env:"SANCTIOND_DB_MAX_OPEN"`
	MaxIdleConns    int           `env:"SANCTIOND_DB_MAX_IDLE"`
	ConnMaxLifetime time.Duration `env:"SANCTIOND_DB_CONN_LIFETIME"`
}
