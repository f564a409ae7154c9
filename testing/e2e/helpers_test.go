package e2e

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/example/o2c-lite/internal/classifier"
	"github.com/example/o2c-lite/internal/classifier/rules"
	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/internal/endpoint"
	"github.com/example/o2c-lite/internal/handler"
	"github.com/example/o2c-lite/internal/ledger"
	"github.com/example/o2c-lite/internal/observability"
	"github.com/example/o2c-lite/internal/service"
	"github.com/example/o2c-lite/internal/storage/sqlite"
	"github.com/example/o2c-lite/internal/storage/sqlite/sqlitetest"
	grpcTransport "github.com/example/o2c-lite/internal/transport/grpc"
	"github.com/example/o2c-lite/internal/workflow"
)

const (
	openingCash  = domain.Money(1_000_00)
	supplierCost = 0.7
)

// TestEnv runs the whole desk: orchestrator behind the gRPC transport plus
// the job dispatcher working the reorder queue.
type TestEnv struct {
	Storage    *sqlite.SQLiteStorage
	Ledger     *ledger.Ledger
	Metrics    *observability.Metrics
	Dispatcher *service.Dispatcher
	Client     *grpcTransport.Client

	t *testing.T
}

// NewTestEnv creates a test environment on a temp database seeded with the
// paper catalog. The dispatcher is started and stopped with the test.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	metrics := observability.NewMetrics()
	store := sqlitetest.NewWithMetrics(t, metrics, openingCash, sqlitetest.Paper()...)
	l := ledger.NewWithMetrics(store, metrics)

	engine := workflow.NewEngineWithMetrics(handler.NewRegistry(store, l, nil, handler.DefaultOptions()), l, workflow.DefaultConfig(), metrics)
	intents := classifier.NewWithMetrics(rules.New(), store, classifier.DefaultConfig(), metrics)
	orchestrator := service.NewOrchestrator(store, intents, engine, l, service.DefaultConfig(), metrics)

	// Fast polling for tests
	dispatcher := service.NewDispatcher(store, service.DispatcherConfig{
		PollInterval: 20 * time.Millisecond,
		MaxRetries:   2,
	}, metrics)
	dispatcher.Register(domain.JobKindSupplierReorder, service.SupplierReorder(store, l, supplierCost))
	dispatcher.Start()
	t.Cleanup(dispatcher.Stop)

	srv := grpcTransport.NewServer(endpoint.MakeEndpoints(orchestrator))
	lis := bufconn.Listen(1 << 20)
	go srv.ServeListener(lis)
	t.Cleanup(srv.GracefulStop)

	client, err := grpcTransport.Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return &TestEnv{
		Storage:    store,
		Ledger:     l,
		Metrics:    metrics,
		Dispatcher: dispatcher,
		Client:     client,
		t:          t,
	}
}

// Ask sends text over gRPC and fails the test on transport errors.
func (e *TestEnv) Ask(sessionID, text string) *domain.Response {
	e.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := e.Client.Handle(ctx, &domain.Request{SessionID: sessionID, Text: text})
	require.NoError(e.t, err)
	return resp
}

// Balances reads the financial summary over gRPC.
func (e *TestEnv) Balances() *domain.Balances {
	e.t.Helper()
	b, err := e.Client.GetBalances(context.Background(), domain.ReportPeriod{})
	require.NoError(e.t, err)
	return b
}

// Stock returns the committed stock of itemID.
func (e *TestEnv) Stock(itemID string) int64 {
	e.t.Helper()
	for _, item := range e.Balances().Items {
		if item.ItemID == itemID {
			return item.Stock
		}
	}
	e.t.Fatalf("item %s not in balances", itemID)
	return 0
}

// WaitForStock polls until itemID reaches want.
func (e *TestEnv) WaitForStock(itemID string, want int64) {
	e.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var got int64
	for time.Now().Before(deadline) {
		got = e.Stock(itemID)
		if got == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	e.t.Fatalf("stock of %s = %d, want %d", itemID, got, want)
}

// JobsFor lists the jobs enqueued under a correlation ID.
func (e *TestEnv) JobsFor(correlationID string) []*domain.Job {
	e.t.Helper()
	ctx := context.Background()
	uow, err := e.Storage.Begin(ctx)
	require.NoError(e.t, err)
	defer uow.Rollback()
	jobs, err := uow.Jobs().ListByCorrelation(ctx, correlationID)
	require.NoError(e.t, err)
	return jobs
}
