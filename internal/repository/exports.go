package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/sanctiond/internal/domain"
)

// RecordExport inserts rec and sets the decision's exported flag in a single
// transaction. The flag update is guarded on the status the record was built
// from and leaves the version alone, so an export never invalidates a
// concurrent user's read. When the guard fails nothing is written.
func (r *SQLRepository) RecordExport(ctx context.Context, rec *domain.ExportRecord, expectedStatus domain.Status) (err error) {
	if rec == nil || rec.ID == "" || rec.DecisionID == "" {
		return fmt.Errorf("%w: export id and decision id are required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin export transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	flag := `
		UPDATE sanction_decisions
		SET exported = 1, updated_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := tx.ExecContext(ctx, r.rebind(flag),
		time.Now().UTC(), rec.DecisionID, string(expectedStatus),
	)
	if err != nil {
		return err
	}
	if err = r.checkGuarded(ctx, tx, result, rec.DecisionID); err != nil {
		return err
	}

	insert := `
		INSERT INTO fiscal_exports (
			id, decision_id, protocol_number, approved_at, status,
			obligor_name, obligor_afm, obligor_doy, obligor_address,
			amount_state, state_budget_code, amount_region, region_budget_code,
			legal_basis, generated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, r.rebind(insert),
		rec.ID, rec.DecisionID, rec.ProtocolNumber, rec.ApprovedAt.UTC(), string(rec.Status),
		rec.ObligorName, rec.ObligorAFM, rec.ObligorDOY, rec.ObligorAddress,
		rec.AmountState, rec.StateBudgetCode, rec.AmountRegion, rec.RegionBudgetCode,
		rec.LegalBasis, rec.GeneratedAt.UTC(),
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// ListExports retrieves the export records of a decision, oldest first.
func (r *SQLRepository) ListExports(ctx context.Context, decisionID string) ([]*domain.ExportRecord, error) {
	query := `
		SELECT id, decision_id, protocol_number, approved_at, status,
			   obligor_name, obligor_afm, obligor_doy, obligor_address,
			   amount_state, state_budget_code, amount_region, region_budget_code,
			   legal_basis, generated_at
		FROM fiscal_exports
		WHERE decision_id = ?
		ORDER BY generated_at, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), decisionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.ExportRecord
	for rows.Next() {
		var rec domain.ExportRecord
		var status string

		if err := rows.Scan(
			&rec.ID, &rec.DecisionID, &rec.ProtocolNumber, &rec.ApprovedAt, &status,
			&rec.ObligorName, &rec.ObligorAFM, &rec.ObligorDOY, &rec.ObligorAddress,
			&rec.AmountState, &rec.StateBudgetCode, &rec.AmountRegion, &rec.RegionBudgetCode,
			&rec.LegalBasis, &rec.GeneratedAt,
		); err != nil {
			return nil, err
		}

		rec.Status = domain.Status(status)
		records = append(records, &rec)
	}

	return records, rows.Err()
}
