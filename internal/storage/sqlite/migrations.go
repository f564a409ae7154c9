package sqlite

import (
	"context"
	"database/sql"
)

// Migrate runs all database migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	migrations := []string{
		// Catalog items with their committed stock level
		`CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			category TEXT NOT NULL,
			unit_price INTEGER NOT NULL,
			stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
			min_stock_level INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 1,
			updated_at DATETIME NOT NULL
		)`,

		// Single-row cash account
		`CREATE TABLE IF NOT EXISTS cash_account (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
			version INTEGER NOT NULL DEFAULT 1
		)`,
		`INSERT OR IGNORE INTO cash_account (id, balance, version) VALUES (1, 0, 1)`,

		// Commit batches
		`CREATE TABLE IF NOT EXISTS commit_batches (
			id TEXT PRIMARY KEY,
			correlation_id TEXT NOT NULL,
			compensates TEXT,
			status INTEGER NOT NULL DEFAULT 10,
			seq INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		)`,

		// Append-only ledger entries
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			batch_id TEXT NOT NULL,
			correlation_id TEXT NOT NULL,
			item_id TEXT,
			delta_quantity INTEGER NOT NULL DEFAULT 0,
			delta_cash INTEGER NOT NULL DEFAULT 0,
			kind TEXT NOT NULL,
			reason TEXT,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (batch_id) REFERENCES commit_batches(id)
		)`,

		// Quotes
		`CREATE TABLE IF NOT EXISTS quotes (
			id TEXT PRIMARY KEY,
			idempotency_key TEXT NOT NULL UNIQUE,
			customer_id TEXT,
			lines_json TEXT NOT NULL,
			total INTEGER NOT NULL,
			total_savings INTEGER NOT NULL,
			status TEXT NOT NULL,
			delivery_date DATETIME NOT NULL,
			valid_until DATETIME NOT NULL,
			created_at DATETIME NOT NULL
		)`,

		// Orders
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			correlation_id TEXT NOT NULL,
			quote_id TEXT,
			customer_id TEXT,
			lines_json TEXT NOT NULL,
			total INTEGER NOT NULL,
			payment_id TEXT,
			status TEXT NOT NULL,
			tracking_number TEXT NOT NULL,
			delivery_date DATETIME NOT NULL,
			created_at DATETIME NOT NULL
		)`,

		// Audit records, one per handled request
		`CREATE TABLE IF NOT EXISTS audit_records (
			request_id TEXT PRIMARY KEY,
			session_id TEXT,
			correlation_id TEXT,
			final_status INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			record_json TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,

		// Conversation history
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,

		// Background jobs
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			correlation_id TEXT,
			payload_json TEXT,
			state INTEGER NOT NULL DEFAULT 10,
			retry_count INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			result_json TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		// Indexes for efficient queries
		`CREATE INDEX IF NOT EXISTS idx_batches_correlation ON commit_batches(correlation_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_correlation ON ledger_entries(correlation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_batch ON ledger_entries(batch_id)`,
		`CREATE INDEX IF NOT EXISTS idx_quotes_status ON quotes(status, valid_until)`,
		`CREATE INDEX IF NOT EXISTS idx_audits_created ON audit_records(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session ON conversation_turns(session_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_pending ON jobs(state, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_correlation ON jobs(correlation_id)`,
	}

	for _, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return err
		}
	}

	return nil
}
