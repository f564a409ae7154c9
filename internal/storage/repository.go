package storage

import (
	"context"
	"time"

	"github.com/example/o2c-lite/internal/domain"
)

// ListOptions provides filtering options for list operations.
type ListOptions struct {
	// IDs to filter by (empty = all)
	IDs []string

	// Pagination
	Limit  int
	Offset int
}

// ItemRepository provides access to the catalog.
type ItemRepository interface {
	// Get retrieves an item by ID.
	Get(ctx context.Context, id string) (*domain.Item, error)

	// List lists catalog items, ordered by ID.
	List(ctx context.Context, opts ListOptions) ([]*domain.Item, error)

	// Upsert creates an item or updates its descriptive fields. Stock is only
	// set on insert; afterwards it changes through the ledger.
	Upsert(ctx context.Context, item *domain.Item) error
}

// LedgerRepository is the persistence boundary of the domain ledger.
type LedgerRepository interface {
	// ReadSnapshot returns committed values and versions for the given items
	// plus the cash account. Unknown ids are absent from the result.
	ReadSnapshot(ctx context.Context, itemIDs []string) (*domain.Snapshot, error)

	// CommitBatch applies every entry of batch or none of them. It returns
	// domain.ErrConflict if any debited key's version differs from expected,
	// and fails if a balance would become negative.
	CommitBatch(ctx context.Context, batch *domain.CommitBatch, expected domain.VersionStamp) error

	// ListBatches returns batches for a correlation ID, oldest first.
	ListBatches(ctx context.Context, correlationID string) ([]*domain.CommitBatch, error)

	// MarkCompensated flags a batch as reversed.
	MarkCompensated(ctx context.Context, batchID string) error

	// Entries returns entries for a correlation ID, oldest first.
	Entries(ctx context.Context, correlationID string) ([]domain.LedgerEntry, error)

	// SetOpeningCash initializes the cash account.
	SetOpeningCash(ctx context.Context, amount domain.Money) error

	// Balances returns the financial summary of committed state.
	Balances(ctx context.Context) (*domain.Balances, error)

	// Report sums revenue and expenses of standing batches in period and
	// ranks the top items of the orders stored in it by units sold.
	Report(ctx context.Context, period domain.ReportPeriod, top int) (*domain.FinancialReport, error)
}

// QuoteRepository provides access to issued quotes.
type QuoteRepository interface {
	// Create stores a quote. A second quote with the same idempotency key is
	// ignored and the stored one is returned.
	Create(ctx context.Context, quote *domain.Quote) (*domain.Quote, error)

	// Get retrieves a quote by ID.
	Get(ctx context.Context, id string) (*domain.Quote, error)

	// ExpireBefore marks pending quotes valid until before t as expired.
	ExpireBefore(ctx context.Context, t time.Time) (int, error)

	// Search returns quotes matching any of the terms, newest first.
	Search(ctx context.Context, q QuoteSearch) ([]*domain.Quote, error)
}

// QuoteSearch selects historical quotes. A term matches a quote's id, its
// customer, or an item id or name on one of its lines, ignoring case. No
// terms matches every quote.
type QuoteSearch struct {
	Terms  []string           `json:"terms,omitempty"`
	Status domain.QuoteStatus `json:"status,omitempty"` // empty for any
	Limit  int                `json:"limit,omitempty"`
}

// OrderRepository provides access to committed orders.
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	Get(ctx context.Context, id string) (*domain.Order, error)
}

// AuditRepository stores one record per handled request.
type AuditRepository interface {
	Create(ctx context.Context, rec *domain.AuditRecord) error
	Get(ctx context.Context, requestID string) (*domain.AuditRecord, error)
	List(ctx context.Context, opts ListOptions) ([]*domain.AuditRecord, error)
}

// ConversationRepository stores session history.
type ConversationRepository interface {
	Append(ctx context.Context, turns ...domain.Turn) error

	// Recent returns at most limit turns of the session, oldest first.
	Recent(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error)
}

// JobRepository is the background job queue.
type JobRepository interface {
	Create(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, id string) (*domain.Job, error)
	Update(ctx context.Context, job *domain.Job) error

	// GetPending returns up to limit pending jobs, oldest first.
	GetPending(ctx context.Context, limit int) ([]*domain.Job, error)

	// ListByCorrelation returns jobs enqueued for a correlation ID.
	ListByCorrelation(ctx context.Context, correlationID string) ([]*domain.Job, error)

	// ReclaimStale returns running jobs last updated before cutoff to the
	// pending state and reports how many it moved.
	ReclaimStale(ctx context.Context, cutoff time.Time) (int, error)
}

// UnitOfWork provides transactional access to all repositories.
type UnitOfWork interface {
	// Repository accessors
	Items() ItemRepository
	Ledger() LedgerRepository
	Quotes() QuoteRepository
	Orders() OrderRepository
	Audits() AuditRepository
	Conversations() ConversationRepository
	Jobs() JobRepository

	// Transaction control
	Commit() error
	Rollback() error
}

// Storage provides the main entry point for storage operations.
type Storage interface {
	// Begin starts a new read transaction and returns a UnitOfWork.
	Begin(ctx context.Context) (UnitOfWork, error)

	// BeginImmediate starts a transaction that takes the write lock up front.
	BeginImmediate(ctx context.Context) (UnitOfWork, error)

	// Close closes the storage connection.
	Close() error

	// Migrate runs database migrations.
	Migrate(ctx context.Context) error
}
