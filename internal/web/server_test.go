package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/example/o2c-lite/internal/classifier"
	"github.com/example/o2c-lite/internal/classifier/rules"
	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/internal/handler"
	"github.com/example/o2c-lite/internal/ledger"
	"github.com/example/o2c-lite/internal/observability"
	"github.com/example/o2c-lite/internal/service"
	"github.com/example/o2c-lite/internal/storage/sqlite/sqlitetest"
	"github.com/example/o2c-lite/internal/workflow"
)

// testEnv provides a minimal test environment for web tests.
type testEnv struct {
	orchestrator *service.OrchestratorService
	server       *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	metrics := observability.NewMetrics()
	store := sqlitetest.NewWithMetrics(t, metrics, domain.Money(1_000_00), sqlitetest.Paper()...)
	l := ledger.NewWithMetrics(store, metrics)
	engine := workflow.NewEngineWithMetrics(handler.NewRegistry(store, l, nil, handler.DefaultOptions()), l, workflow.DefaultConfig(), metrics)
	c := classifier.NewWithMetrics(rules.New(), store, classifier.DefaultConfig(), metrics)
	orchestrator := service.NewOrchestrator(store, c, engine, l, service.DefaultConfig(), metrics)

	return &testEnv{
		orchestrator: orchestrator,
		server:       NewServer(":0", orchestrator),
	}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, req)
	return rr
}

// TestAPIRouting verifies that all API routes are correctly matched.
func TestAPIRouting(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.orchestrator.Handle(context.Background(), &domain.Request{ID: "req-1", Text: "how many A4 glossy paper do you have?"})
	if err != nil {
		t.Fatalf("failed to handle request: %v", err)
	}
	if resp.Outcome != domain.OutcomeAnswered {
		t.Fatalf("outcome = %s, want answered", resp.Outcome)
	}

	tests := []struct {
		name          string
		method        string
		path          string
		body          string
		wantStatus    int
		wantJSONField string // field that should exist in JSON response
		allowRedirect bool   // whether 301 redirect is acceptable
	}{
		{
			name:          "handle request",
			method:        http.MethodPost,
			path:          "/api/requests",
			body:          `{"text": "quote 500 A4 glossy paper", "session_id": "s-1"}`,
			wantStatus:    http.StatusOK,
			wantJSONField: "quote",
		},
		{
			name:       "handle request - empty text",
			method:     http.MethodPost,
			path:       "/api/requests",
			body:       `{"text": "  "}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "handle request - bad JSON",
			method:     http.MethodPost,
			path:       "/api/requests",
			body:       `{"text":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "handle request - wrong method",
			method:     http.MethodGet,
			path:       "/api/requests",
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:          "list audits - trailing slash",
			method:        http.MethodGet,
			path:          "/api/audits/",
			wantStatus:    http.StatusOK,
			wantJSONField: "audits",
		},
		{
			name:          "list audits - no trailing slash redirects",
			method:        http.MethodGet,
			path:          "/api/audits",
			wantStatus:    http.StatusMovedPermanently,
			allowRedirect: true,
		},
		{
			name:       "list audits - bad limit",
			method:     http.MethodGet,
			path:       "/api/audits/?limit=-1",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:          "get audit by request ID",
			method:        http.MethodGet,
			path:          "/api/audits/req-1",
			wantStatus:    http.StatusOK,
			wantJSONField: "executions",
		},
		{
			name:       "get nonexistent audit",
			method:     http.MethodGet,
			path:       "/api/audits/nonexistent",
			wantStatus: http.StatusNotFound,
		},
		{
			name:          "balances",
			method:        http.MethodGet,
			path:          "/api/ledger/balances",
			wantStatus:    http.StatusOK,
			wantJSONField: "total_assets",
		},
		{
			name:          "balances - report period",
			method:        http.MethodGet,
			path:          "/api/ledger/balances?from=2020-01-01&to=2099-12-31",
			wantStatus:    http.StatusOK,
			wantJSONField: "report",
		},
		{
			name:       "balances - bad date",
			method:     http.MethodGet,
			path:       "/api/ledger/balances?from=yesterday",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "balances - empty period",
			method:     http.MethodGet,
			path:       "/api/ledger/balances?from=2030-01-01&to=2020-01-01",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:          "search quotes",
			method:        http.MethodGet,
			path:          "/api/quotes/?q=glossy",
			wantStatus:    http.StatusOK,
			wantJSONField: "quotes",
		},
		{
			name:       "search quotes - bad status",
			method:     http.MethodGet,
			path:       "/api/quotes/?status=lost",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "validate missing quote",
			method:     http.MethodGet,
			path:       "/api/quotes/Q-MISSING",
			wantStatus: http.StatusNotFound,
		},
		{
			name:          "items",
			method:        http.MethodGet,
			path:          "/api/items/?ids=CARDSTOCK",
			wantStatus:    http.StatusOK,
			wantJSONField: "items",
		},
		{
			name:       "preflight",
			method:     http.MethodOptions,
			path:       "/api/requests",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(tt.method, tt.path, tt.body)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d; body: %s", rr.Code, tt.wantStatus, rr.Body.String())
				return
			}
			if tt.allowRedirect {
				if loc := rr.Header().Get("Location"); loc != tt.path+"/" {
					t.Errorf("redirect to wrong location: got %s, want %s", loc, tt.path+"/")
				}
				return
			}

			if tt.wantJSONField != "" {
				var result map[string]any
				if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
					t.Errorf("response is not valid JSON: %v; body: %s", err, rr.Body.String())
					return
				}
				if _, ok := result[tt.wantJSONField]; !ok {
					t.Errorf("response missing field %q: %s", tt.wantJSONField, rr.Body.String())
				}
			}
		})
	}
}

func TestHandleReturnsResponseJSON(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/api/requests", `{"request_id": "req-7", "text": "I want to buy 200 cardstock"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	var resp domain.Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if resp.RequestID != "req-7" {
		t.Errorf("request_id = %q, want req-7", resp.RequestID)
	}
	if resp.Outcome != domain.OutcomeOrdered {
		t.Errorf("outcome = %s, want ordered; message: %s", resp.Outcome, resp.Message)
	}
	if resp.Balances == nil || resp.Balances.Cash != domain.Money(1_000_00+3000) {
		t.Errorf("balances = %+v, want cash $1030.00", resp.Balances)
	}

	rr = env.do(http.MethodGet, "/api/audits/", "")
	var list ListAuditsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("audit list is not valid JSON: %v", err)
	}
	if len(list.Audits) != 1 || list.Audits[0].Outcome != "ordered" || list.Audits[0].Intent != "PLACE_ORDER" {
		t.Errorf("audits = %+v", list.Audits)
	}
}

func TestBalancesIncludeReport(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/api/requests", `{"request_id": "req-8", "text": "I want to buy 200 cardstock"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(http.MethodGet, "/api/ledger/balances", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", rr.Code, rr.Body.String())
	}
	var b domain.Balances
	if err := json.Unmarshal(rr.Body.Bytes(), &b); err != nil {
		t.Fatalf("balances are not valid JSON: %v", err)
	}
	if b.Report == nil {
		t.Fatalf("balances carry no report: %s", rr.Body.String())
	}
	if b.Report.Revenue != 3000 || b.Report.NetProfit != 3000 {
		t.Errorf("revenue = %s, net profit = %s, want $30.00 each", b.Report.Revenue, b.Report.NetProfit)
	}
	if len(b.Report.TopSellers) != 1 || b.Report.TopSellers[0].ItemID != "CARDSTOCK" || b.Report.TopSellers[0].Units != 200 {
		t.Errorf("top sellers = %+v", b.Report.TopSellers)
	}
}

func TestQuoteSearchAndValidate(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.orchestrator.Handle(context.Background(), &domain.Request{ID: "req-q", Text: "quote 500 A4 glossy paper"})
	if err != nil {
		t.Fatalf("failed to handle request: %v", err)
	}
	if resp.Quote == nil {
		t.Fatalf("no quote issued: %s", resp.Message)
	}

	rr := env.do(http.MethodGet, "/api/quotes/?q=glossy&status=pending", "")
	var list SearchQuotesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("quote list is not valid JSON: %v", err)
	}
	if len(list.Quotes) != 1 || list.Quotes[0].ID != resp.Quote.ID {
		t.Errorf("quotes = %+v, want %s", list.Quotes, resp.Quote.ID)
	}

	rr = env.do(http.MethodGet, "/api/quotes/?q=cardstock", "")
	list = SearchQuotesResponse{}
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("quote list is not valid JSON: %v", err)
	}
	if list.Quotes == nil || len(list.Quotes) != 0 {
		t.Errorf("quotes = %+v, want an empty list", list.Quotes)
	}

	rr = env.do(http.MethodGet, "/api/quotes/"+resp.Quote.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", rr.Code, rr.Body.String())
	}
	var v domain.QuoteValidation
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("validation is not valid JSON: %v", err)
	}
	if !v.Valid || v.Quote == nil || v.Quote.Total != resp.Quote.Total {
		t.Errorf("validation = %+v", v)
	}
}

func TestRejectedRequestIsAudited(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/api/requests", `{"request_id": "req-blank", "text": "   "}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; body: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(http.MethodGet, "/api/audits/", "")
	var list ListAuditsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("audit list is not valid JSON: %v", err)
	}
	if len(list.Audits) != 1 || list.Audits[0].Outcome != "rejected" || list.Audits[0].ErrorCode != "invalid_argument" {
		t.Errorf("audits = %+v", list.Audits)
	}
}
