package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/sanctiond/internal/domain"
)

var _ domain.Repository = (*SQLRepository)(nil)

const decisionColumns = `id, structure_id, violation_code, category,
	base_amount, custom_amount, calculated_amount, final_amount, multiplier, recidivism_count,
	amount_state, amount_region, legal_basis, can_trigger_suspension,
	justification, inspection_finding,
	obligor_name, obligor_father_name, obligor_afm, obligor_doy, obligor_address,
	drafter_id, approver_id, protocol_number, approved_at, return_comments,
	notification_method, notified_at, payment_deadline, appeal_deadline,
	status, exported, version, created_at, status_changed_at, updated_at`

// CreateDecision stores a new decision. The decision starts at version 1.
func (r *SQLRepository) CreateDecision(ctx context.Context, d *domain.SanctionDecision) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("%w: decision id is required", ErrInvalidInput)
	}
	if d.Version == 0 {
		d.Version = 1
	}

	query := `INSERT INTO sanction_decisions (` + decisionColumns + `) VALUES (` + placeholders(36) + `)`

	snap := d.Snapshot
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		d.ID, d.StructureID, d.ViolationCode, string(d.Category),
		snap.BaseAmount, nullInt64(snap.CustomAmount), snap.CalculatedAmount, snap.FinalAmount,
		snap.Multiplier, snap.RecidivismCount,
		snap.AmountState, snap.AmountRegion, snap.LegalBasis, boolToInt(snap.CanTriggerSuspension),
		d.Justification, d.InspectionFinding,
		d.Obligor.Name, d.Obligor.FatherName, d.Obligor.AFM, d.Obligor.DOY, d.Obligor.Address,
		d.DrafterID, d.ApproverID, d.ProtocolNumber, formatInstant(d.ApprovedAt), d.ReturnComments,
		string(d.NotificationMethod), formatInstant(d.NotifiedAt),
		formatInstant(d.PaymentDeadline), formatInstant(d.AppealDeadline),
		string(d.Status), boolToInt(d.Exported), d.Version,
		d.CreatedAt.UTC(), d.StatusChangedAt.UTC(), d.UpdatedAt.UTC(),
	)
	return err
}

// GetDecision retrieves a decision by ID.
func (r *SQLRepository) GetDecision(ctx context.Context, id string) (*domain.SanctionDecision, error) {
	query := `SELECT ` + decisionColumns + ` FROM sanction_decisions WHERE id = ?`

	d, err := scanDecision(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

// ListDecisions retrieves decisions matching the filter, newest first.
func (r *SQLRepository) ListDecisions(ctx context.Context, filter domain.DecisionFilter) ([]*domain.SanctionDecision, error) {
	query := `SELECT ` + decisionColumns + ` FROM sanction_decisions WHERE 1 = 1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.StructureID != "" {
		query += ` AND structure_id = ?`
		args = append(args, filter.StructureID)
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []*domain.SanctionDecision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}

	return decisions, rows.Err()
}

// UpdateDecision writes every mutable column of d, guarded by the expected
// status and version. The exported flag is owned by RecordExport and is not
// written here.
func (r *SQLRepository) UpdateDecision(ctx context.Context, d *domain.SanctionDecision, expectedStatus domain.Status, expectedVersion int64) error {
	query := `
		UPDATE sanction_decisions SET
			violation_code = ?, category = ?,
			base_amount = ?, custom_amount = ?, calculated_amount = ?, final_amount = ?,
			multiplier = ?, recidivism_count = ?, amount_state = ?, amount_region = ?,
			legal_basis = ?, can_trigger_suspension = ?,
			justification = ?, inspection_finding = ?,
			obligor_name = ?, obligor_father_name = ?, obligor_afm = ?, obligor_doy = ?, obligor_address = ?,
			approver_id = ?, protocol_number = ?, approved_at = ?, return_comments = ?,
			notification_method = ?, notified_at = ?, payment_deadline = ?, appeal_deadline = ?,
			status = ?, version = version + 1,
			status_changed_at = ?, updated_at = ?
		WHERE id = ? AND status = ? AND version = ?
	`

	snap := d.Snapshot
	result, err := r.db.ExecContext(ctx, r.rebind(query),
		d.ViolationCode, string(d.Category),
		snap.BaseAmount, nullInt64(snap.CustomAmount), snap.CalculatedAmount, snap.FinalAmount,
		snap.Multiplier, snap.RecidivismCount, snap.AmountState, snap.AmountRegion,
		snap.LegalBasis, boolToInt(snap.CanTriggerSuspension),
		d.Justification, d.InspectionFinding,
		d.Obligor.Name, d.Obligor.FatherName, d.Obligor.AFM, d.Obligor.DOY, d.Obligor.Address,
		d.ApproverID, d.ProtocolNumber, formatInstant(d.ApprovedAt), d.ReturnComments,
		string(d.NotificationMethod), formatInstant(d.NotifiedAt),
		formatInstant(d.PaymentDeadline), formatInstant(d.AppealDeadline),
		string(d.Status),
		d.StatusChangedAt.UTC(), d.UpdatedAt.UTC(),
		d.ID, string(expectedStatus), expectedVersion,
	)
	if err != nil {
		return err
	}

	if err := r.checkGuarded(ctx, r.db, result, d.ID); err != nil {
		return err
	}

	d.Version = expectedVersion + 1
	return nil
}

// CountDecisions counts a structure's decisions in a category restricted to statuses.
func (r *SQLRepository) CountDecisions(ctx context.Context, structureID string, category domain.Category, statuses []domain.Status) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}

	query := `
		SELECT COUNT(*) FROM sanction_decisions
		WHERE structure_id = ? AND category = ? AND status IN (` + placeholders(len(statuses)) + `)
	`
	args := []any{structureID, string(category)}
	for _, s := range statuses {
		args = append(args, string(s))
	}

	var count int
	if err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// NextProtocolNumber advances and returns the protocol counter for year.
// A value handed to an approve that later loses its race is not reused.
func (r *SQLRepository) NextProtocolNumber(ctx context.Context, year int) (int64, error) {
	query := `
		INSERT INTO protocol_sequences (year, last_value) VALUES (?, 1)
		ON CONFLICT(year) DO UPDATE SET last_value = protocol_sequences.last_value + 1
		RETURNING last_value
	`

	var next int64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), year).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to advance protocol sequence: %w", err)
	}
	return next, nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// checkGuarded turns a zero-row guarded write into ErrNotFound or ErrConflict.
func (r *SQLRepository) checkGuarded(ctx context.Context, q rowQuerier, result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	var one int
	err = q.QueryRowContext(ctx, r.rebind(`SELECT 1 FROM sanction_decisions WHERE id = ?`), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrConflict
}

func scanDecision(row interface{ Scan(...any) error }) (*domain.SanctionDecision, error) {
	var d domain.SanctionDecision
	var category, method, status string
	var custom sql.NullInt64
	var approvedAt, notifiedAt, paymentDeadline, appealDeadline sql.NullString
	var suspension, exported int

	if err := row.Scan(
		&d.ID, &d.StructureID, &d.ViolationCode, &category,
		&d.Snapshot.BaseAmount, &custom, &d.Snapshot.CalculatedAmount, &d.Snapshot.FinalAmount,
		&d.Snapshot.Multiplier, &d.Snapshot.RecidivismCount,
		&d.Snapshot.AmountState, &d.Snapshot.AmountRegion, &d.Snapshot.LegalBasis, &suspension,
		&d.Justification, &d.InspectionFinding,
		&d.Obligor.Name, &d.Obligor.FatherName, &d.Obligor.AFM, &d.Obligor.DOY, &d.Obligor.Address,
		&d.DrafterID, &d.ApproverID, &d.ProtocolNumber, &approvedAt, &d.ReturnComments,
		&method, &notifiedAt, &paymentDeadline, &appealDeadline,
		&status, &exported, &d.Version, &d.CreatedAt, &d.StatusChangedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}

	d.Category = domain.Category(category)
	d.NotificationMethod = domain.NotificationMethod(method)
	d.Status = domain.Status(status)
	d.Snapshot.CanTriggerSuspension = suspension == 1
	d.Exported = exported == 1
	if custom.Valid {
		v := custom.Int64
		d.Snapshot.CustomAmount = &v
	}

	var err error
	if d.ApprovedAt, err = parseInstant(approvedAt); err != nil {
		return nil, err
	}
	if d.NotifiedAt, err = parseInstant(notifiedAt); err != nil {
		return nil, err
	}
	if d.PaymentDeadline, err = parseInstant(paymentDeadline); err != nil {
		return nil, err
	}
	if d.AppealDeadline, err = parseInstant(appealDeadline); err != nil {
		return nil, err
	}

	return &d, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func formatInstant(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

func parseInstant(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp %q: %w", s.String, err)
	}
	return &t, nil
}
