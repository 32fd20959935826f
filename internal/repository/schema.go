package repository

// Schema definitions for the sanctiond database.
// Compatible with both SQLite and PostgreSQL.

const schemaViolationRules = `
CREATE TABLE IF NOT EXISTS violation_rules (
    code TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    category TEXT NOT NULL,
    legal_reference TEXT NOT NULL,
    base_fine BIGINT NOT NULL,
    min_fine BIGINT NOT NULL,
    max_fine BIGINT NOT NULL,
    can_trigger_suspension INTEGER NOT NULL DEFAULT 0,
    structure_types TEXT NOT NULL DEFAULT '[]',
    applicability TEXT NOT NULL DEFAULT '',
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_violation_rules_enabled ON violation_rules(enabled);
`

// schemaStructures mirrors the external structure registry.
const schemaStructures = `
CREATE TABLE IF NOT EXISTS structures (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    type_id TEXT NOT NULL,
    representative_name TEXT NOT NULL DEFAULT '',
    representative_afm TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMP NOT NULL
);
`

// schemaDecisions holds sanction decisions. Nullable instants are stored as
// RFC 3339 text so the policy time zone offset survives a round trip.
const schemaDecisions = `
CREATE TABLE IF NOT EXISTS sanction_decisions (
    id TEXT PRIMARY KEY,
    structure_id TEXT NOT NULL,
    violation_code TEXT NOT NULL,
    category TEXT NOT NULL,
    base_amount BIGINT NOT NULL,
    custom_amount BIGINT,
    calculated_amount BIGINT NOT NULL,
    final_amount BIGINT NOT NULL,
    multiplier DOUBLE PRECISION NOT NULL,
    recidivism_count INTEGER NOT NULL,
    amount_state BIGINT NOT NULL,
    amount_region BIGINT NOT NULL,
    legal_basis TEXT NOT NULL,
    can_trigger_suspension INTEGER NOT NULL DEFAULT 0,
    justification TEXT NOT NULL DEFAULT '',
    inspection_finding TEXT NOT NULL DEFAULT '',
    obligor_name TEXT NOT NULL DEFAULT '',
    obligor_father_name TEXT NOT NULL DEFAULT '',
    obligor_afm TEXT NOT NULL DEFAULT '',
    obligor_doy TEXT NOT NULL DEFAULT '',
    obligor_address TEXT NOT NULL DEFAULT '',
    drafter_id TEXT NOT NULL,
    approver_id TEXT NOT NULL DEFAULT '',
    protocol_number TEXT NOT NULL DEFAULT '',
    approved_at TEXT,
    return_comments TEXT NOT NULL DEFAULT '',
    notification_method TEXT NOT NULL DEFAULT '',
    notified_at TEXT,
    payment_deadline TEXT,
    appeal_deadline TEXT,
    status TEXT NOT NULL,
    exported INTEGER NOT NULL DEFAULT 0,
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    status_changed_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_status ON sanction_decisions(status);
CREATE INDEX IF NOT EXISTS idx_decisions_structure ON sanction_decisions(structure_id, category);
CREATE INDEX IF NOT EXISTS idx_decisions_created ON sanction_decisions(created_at);
`

// schemaProtocolSequences holds one counter per calendar year.
const schemaProtocolSequences = `
CREATE TABLE IF NOT EXISTS protocol_sequences (
    year INTEGER PRIMARY KEY,
    last_value BIGINT NOT NULL
);
`

// schemaExports holds immutable fiscal export records.
const schemaExports = `
CREATE TABLE IF NOT EXISTS fiscal_exports (
    id TEXT PRIMARY KEY,
    decision_id TEXT NOT NULL,
    protocol_number TEXT NOT NULL,
    approved_at TIMESTAMP NOT NULL,
    status TEXT NOT NULL,
    obligor_name TEXT NOT NULL,
    obligor_afm TEXT NOT NULL,
    obligor_doy TEXT NOT NULL DEFAULT '',
    obligor_address TEXT NOT NULL DEFAULT '',
    amount_state BIGINT NOT NULL,
    state_budget_code TEXT NOT NULL,
    amount_region BIGINT NOT NULL,
    region_budget_code TEXT NOT NULL,
    legal_basis TEXT NOT NULL,
    generated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_exports_decision ON fiscal_exports(decision_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaViolationRules,
		schemaStructures,
		schemaDecisions,
		schemaProtocolSequences,
		schemaExports,
	}
}
