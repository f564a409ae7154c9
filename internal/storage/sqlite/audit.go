package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/internal/storage"
)

type auditRepo struct {
	tx *sql.Tx
}

func (r *auditRepo) Create(ctx context.Context, rec *domain.AuditRecord) error {
	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	_, err = r.tx.ExecContext(ctx, `
		INSERT INTO audit_records (request_id, session_id, correlation_id, final_status, outcome, record_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.RequestID, nullString(rec.SessionID), nullString(rec.CorrelationID), rec.FinalStatus,
		string(rec.Outcome), string(recordJSON), rec.FinishedAt)
	if err != nil && isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

func (r *auditRepo) Get(ctx context.Context, requestID string) (*domain.AuditRecord, error) {
	var recordJSON string
	err := r.tx.QueryRowContext(ctx, `SELECT record_json FROM audit_records WHERE request_id = ?`, requestID).Scan(&recordJSON)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec := &domain.AuditRecord{}
	if err := json.Unmarshal([]byte(recordJSON), rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *auditRepo) List(ctx context.Context, opts storage.ListOptions) ([]*domain.AuditRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.tx.QueryContext(ctx, `
		SELECT record_json FROM audit_records ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.AuditRecord
	for rows.Next() {
		var recordJSON string
		if err := rows.Scan(&recordJSON); err != nil {
			return nil, err
		}
		rec := &domain.AuditRecord{}
		if err := json.Unmarshal([]byte(recordJSON), rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
