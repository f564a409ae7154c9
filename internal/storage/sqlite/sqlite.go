package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/example/o2c-lite/internal/observability"
	"github.com/example/o2c-lite/internal/storage"
)

const (
	// DriverCGO is the mattn/go-sqlite3 driver.
	DriverCGO = "sqlite3"
	// DriverPureGo is the modernc.org/sqlite driver.
	DriverPureGo = "sqlite"
)

// Option configures SQLiteStorage.
type Option func(*SQLiteStorage)

// WithDriver selects the database/sql driver name.
func WithDriver(name string) Option {
	return func(s *SQLiteStorage) {
		s.driver = name
	}
}

// WithMetrics records transaction timings.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *SQLiteStorage) {
		s.metrics = m
	}
}

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db      *sql.DB
	driver  string
	metrics *observability.Metrics

	// writeMu orders immediate transactions in-process so they queue here
	// rather than spinning on SQLITE_BUSY.
	writeMu sync.Mutex
}

// New creates a new SQLite storage instance.
func New(path string, opts ...Option) (*SQLiteStorage, error) {
	s := &SQLiteStorage{driver: DriverCGO}
	for _, opt := range opts {
		opt(s)
	}

	dsn, err := dsnFor(s.driver, path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(s.driver, dsn)
	if err != nil {
		return nil, err
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite works best with single connection for writes
	db.SetMaxIdleConns(1)

	s.db = db
	return s, nil
}

// NewWithMetrics creates storage on the default driver that records
// transaction timings.
func NewWithMetrics(path string, metrics *observability.Metrics) (*SQLiteStorage, error) {
	return New(path, WithMetrics(metrics))
}

func dsnFor(driver, path string) (string, error) {
	switch driver {
	case DriverCGO:
		return path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", nil
	case DriverPureGo:
		return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q", driver)
	}
}

// Driver returns the database/sql driver name in use.
func (s *SQLiteStorage) Driver() string {
	return s.driver
}

// Begin starts a new transaction.
func (s *SQLiteStorage) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	return s.begin(ctx, false)
}

// BeginImmediate starts a write transaction.
func (s *SQLiteStorage) BeginImmediate(ctx context.Context) (storage.UnitOfWork, error) {
	return s.begin(ctx, true)
}

func (s *SQLiteStorage) begin(ctx context.Context, write bool) (storage.UnitOfWork, error) {
	start := time.Now()
	if write {
		s.writeMu.Lock()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		if write {
			s.writeMu.Unlock()
		}
		return nil, err
	}
	u := newUnitOfWork(tx)
	if write {
		u.release = s.writeMu.Unlock
	}
	if s.metrics != nil {
		s.metrics.DBTransactionBegin().Observe(time.Since(start))
		s.metrics.DBActiveTransactions().Inc()
		u.metrics = s.metrics
	}
	return u, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.db)
}

// unitOfWork implements the UnitOfWork interface.
type unitOfWork struct {
	tx            *sql.Tx
	items         *itemRepo
	ledger        *ledgerRepo
	quotes        *quoteRepo
	orders        *orderRepo
	audits        *auditRepo
	conversations *conversationRepo
	jobs          *jobRepo

	metrics *observability.Metrics
	release func()
	done    bool
}

func newUnitOfWork(tx *sql.Tx) *unitOfWork {
	return &unitOfWork{
		tx:            tx,
		items:         &itemRepo{tx: tx},
		ledger:        &ledgerRepo{tx: tx},
		quotes:        &quoteRepo{tx: tx},
		orders:        &orderRepo{tx: tx},
		audits:        &auditRepo{tx: tx},
		conversations: &conversationRepo{tx: tx},
		jobs:          &jobRepo{tx: tx},
	}
}

func (u *unitOfWork) Items() storage.ItemRepository                 { return u.items }
func (u *unitOfWork) Ledger() storage.LedgerRepository              { return u.ledger }
func (u *unitOfWork) Quotes() storage.QuoteRepository               { return u.quotes }
func (u *unitOfWork) Orders() storage.OrderRepository               { return u.orders }
func (u *unitOfWork) Audits() storage.AuditRepository               { return u.audits }
func (u *unitOfWork) Conversations() storage.ConversationRepository { return u.conversations }
func (u *unitOfWork) Jobs() storage.JobRepository                   { return u.jobs }

func (u *unitOfWork) Commit() error {
	start := time.Now()
	err := u.tx.Commit()
	if u.metrics != nil && !u.done {
		u.metrics.DBTransactionCommit().Observe(time.Since(start))
	}
	u.finish()
	return err
}

// Rollback is safe to call after Commit.
func (u *unitOfWork) Rollback() error {
	err := u.tx.Rollback()
	u.finish()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

func (u *unitOfWork) finish() {
	if u.done {
		return
	}
	u.done = true
	if u.metrics != nil {
		u.metrics.DBActiveTransactions().Dec()
	}
	if u.release != nil {
		u.release()
	}
}
