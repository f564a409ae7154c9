package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/example/o2c-lite/internal/domain"
)

type jobRepo struct {
	tx *sql.Tx
}

const jobColumns = `id, kind, correlation_id, payload_json, state, retry_count, error_message, result_json, created_at, updated_at`

func (r *jobRepo) Create(ctx context.Context, job *domain.Job) error {
	payloadJSON, err := json.Marshal(job.Payload)
	if err != nil {
		return err
	}
	_, err = r.tx.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.Kind, nullString(job.CorrelationID), string(payloadJSON), job.State, job.RetryCount,
		nullString(job.ErrorMessage), nil, job.CreatedAt, job.UpdatedAt)
	return err
}

func (r *jobRepo) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := r.tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return job, err
}

func (r *jobRepo) Update(ctx context.Context, job *domain.Job) error {
	var resultJSON any
	if job.Result != nil {
		data, err := json.Marshal(job.Result)
		if err != nil {
			return err
		}
		resultJSON = string(data)
	}
	job.UpdatedAt = time.Now().UTC()
	res, err := r.tx.ExecContext(ctx, `
		UPDATE jobs SET state = ?, retry_count = ?, error_message = ?, result_json = ?, updated_at = ?
		WHERE id = ?
	`, job.State, job.RetryCount, nullString(job.ErrorMessage), resultJSON, job.UpdatedAt, job.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *jobRepo) GetPending(ctx context.Context, limit int) ([]*domain.Job, error) {
	return r.query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE state = ? ORDER BY created_at LIMIT ?`,
		domain.JobStatePending, limit)
}

func (r *jobRepo) ListByCorrelation(ctx context.Context, correlationID string) ([]*domain.Job, error) {
	return r.query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE correlation_id = ? ORDER BY created_at`, correlationID)
}

func (r *jobRepo) ReclaimStale(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.tx.ExecContext(ctx, `
		UPDATE jobs SET state = ?, updated_at = ? WHERE state = ? AND updated_at < ?
	`, domain.JobStatePending, time.Now().UTC(), domain.JobStateRunning, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *jobRepo) query(ctx context.Context, query string, args ...any) ([]*domain.Job, error) {
	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row rowScanner) (*domain.Job, error) {
	job := &domain.Job{}
	var correlationID, payloadJSON, errorMessage, resultJSON sql.NullString
	err := row.Scan(&job.ID, &job.Kind, &correlationID, &payloadJSON, &job.State, &job.RetryCount,
		&errorMessage, &resultJSON, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	job.CorrelationID = correlationID.String
	job.ErrorMessage = errorMessage.String

	if payloadJSON.Valid && payloadJSON.String != "" {
		if err := json.Unmarshal([]byte(payloadJSON.String), &job.Payload); err != nil {
			return nil, err
		}
	}
	if job.Payload == nil {
		job.Payload = make(map[string]any)
	}
	if resultJSON.Valid && resultJSON.String != "" {
		if err := json.Unmarshal([]byte(resultJSON.String), &job.Result); err != nil {
			return nil, err
		}
	}
	return job, nil
}
