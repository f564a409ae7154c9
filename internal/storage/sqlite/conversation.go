package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/example/o2c-lite/internal/domain"
)

type conversationRepo struct {
	tx *sql.Tx
}

func (r *conversationRepo) Append(ctx context.Context, turns ...domain.Turn) error {
	for _, t := range turns {
		createdAt := t.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := r.tx.ExecContext(ctx, `
			INSERT INTO conversation_turns (session_id, role, text, created_at) VALUES (?, ?, ?, ?)
		`, t.SessionID, string(t.Role), t.Text, createdAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *conversationRepo) Recent(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.tx.QueryContext(ctx, `
		SELECT session_id, role, text, created_at FROM conversation_turns
		WHERE session_id = ? ORDER BY id DESC LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var role string
		if err := rows.Scan(&t.SessionID, &role, &t.Text, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Role = domain.Role(role)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// newest first from the query, callers want chronological order
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}
