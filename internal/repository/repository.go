// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/sanctiond/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
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

// SaveRule inserts or replaces a violation rule.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.ViolationRule) error {
	if rule == nil || rule.Code == "" {
		return fmt.Errorf("%w: violation code is required", ErrInvalidInput)
	}

	types := rule.StructureTypes
	if types == nil {
		types = []string{}
	}
	typesJSON, err := json.Marshal(types)
	if err != nil {
		return fmt.Errorf("failed to encode structure types: %w", err)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO violation_rules (
			code, name, category, legal_reference, base_fine, min_fine, max_fine,
			can_trigger_suspension, structure_types, applicability, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			legal_reference = excluded.legal_reference,
			base_fine = excluded.base_fine,
			min_fine = excluded.min_fine,
			max_fine = excluded.max_fine,
			can_trigger_suspension = excluded.can_trigger_suspension,
			structure_types = excluded.structure_types,
			applicability = excluded.applicability,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.Code, rule.Name, string(rule.Category), rule.LegalReference,
		rule.BaseFine, rule.MinFine, rule.MaxFine,
		boolToInt(rule.CanTriggerSuspension), string(typesJSON), rule.Applicability,
		boolToInt(rule.Enabled), now, now,
	)
	return err
}

const ruleColumns = `code, name, category, legal_reference, base_fine, min_fine, max_fine,
	can_trigger_suspension, structure_types, applicability, enabled`

func scanRule(row interface{ Scan(...any) error }) (*domain.ViolationRule, error) {
	var rule domain.ViolationRule
	var category, types string
	var suspension, enabled int

	if err := row.Scan(
		&rule.Code, &rule.Name, &category, &rule.LegalReference,
		&rule.BaseFine, &rule.MinFine, &rule.MaxFine,
		&suspension, &types, &rule.Applicability, &enabled,
	); err != nil {
		return nil, err
	}

	rule.Category = domain.Category(category)
	rule.CanTriggerSuspension = suspension == 1
	rule.Enabled = enabled == 1
	if types != "" {
		if err := json.Unmarshal([]byte(types), &rule.StructureTypes); err != nil {
			return nil, fmt.Errorf("failed to parse structure types for %s: %w", rule.Code, err)
		}
	}
	if len(rule.StructureTypes) == 0 {
		rule.StructureTypes = nil
	}
	return &rule, nil
}

// GetRule retrieves a violation rule by code, enabled or not.
func (r *SQLRepository) GetRule(ctx context.Context, code string) (*domain.ViolationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM violation_rules WHERE code = ?`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListRules retrieves all enabled violation rules.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.ViolationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM violation_rules WHERE enabled = 1 ORDER BY code`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.ViolationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// DisableRule soft-deletes a rule by setting enabled = 0.
func (r *SQLRepository) DisableRule(ctx context.Context, code string) error {
	query := `
		UPDATE violation_rules
		SET enabled = 0, updated_at = ?
		WHERE code = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), code)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveStructure inserts or replaces a structure in the registry replica.
func (r *SQLRepository) SaveStructure(ctx context.Context, s *domain.Structure) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("%w: structure id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO structures (
			id, name, type_id, representative_name, representative_afm, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type_id = excluded.type_id,
			representative_name = excluded.representative_name,
			representative_afm = excluded.representative_afm,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		s.ID, s.Name, s.TypeID, s.RepresentativeName, s.RepresentativeAFM, time.Now().UTC(),
	)
	return err
}

// GetStructure retrieves a structure by ID.
func (r *SQLRepository) GetStructure(ctx context.Context, id string) (*domain.Structure, error) {
	query := `
		SELECT id, name, type_id, representative_name, representative_afm
		FROM structures
		WHERE id = ?
	`

	var s domain.Structure
	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&s.ID, &s.Name, &s.TypeID, &s.RepresentativeName, &s.RepresentativeAFM,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &s, nil
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

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
