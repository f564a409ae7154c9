package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"time"

	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/internal/ledger"
	"github.com/example/o2c-lite/internal/observability"
	"github.com/example/o2c-lite/internal/storage"
	"github.com/example/o2c-lite/internal/workflow"
	"github.com/example/o2c-lite/pkg/id"
)

const (
	// MaxRequestText bounds the size of a customer message.
	MaxRequestText = 4000
	// MaxSessionID bounds the length of a session id.
	MaxSessionID = 128
)

// IntentClassifier is the part of the classifier the orchestrator uses.
type IntentClassifier interface {
	Classify(ctx context.Context, req *domain.Request, history []domain.Turn) (domain.Intent, error)
}

// Config holds the orchestrator settings.
type Config struct {
	RequestTimeout     time.Duration // whole-request deadline
	HistoryWindow      int           // conversation turns given to the classifier
	ClassifierAttempts int           // attempts before degrading to Unknown
	ClassifierBackoff  time.Duration // delay before the second attempt, doubled after
	AuditTimeout       time.Duration // budget for writing the audit record
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:     30 * time.Second,
		HistoryWindow:      6,
		ClassifierAttempts: 3,
		ClassifierBackoff:  100 * time.Millisecond,
		AuditTimeout:       5 * time.Second,
	}
}

// OrchestratorService is the single entry point for customer requests. It
// classifies, plans, drives the workflow engine, and is the only component
// that commits to the ledger.
type OrchestratorService struct {
	storage    storage.Storage
	classifier IntentClassifier
	engine     *workflow.Engine
	ledger     *ledger.Ledger
	cfg        Config
	metrics    *observability.Metrics
}

// NewOrchestrator creates a new OrchestratorService.
func NewOrchestrator(store storage.Storage, classifier IntentClassifier, engine *workflow.Engine, l *ledger.Ledger, cfg Config, metrics *observability.Metrics) *OrchestratorService {
	def := DefaultConfig()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.HistoryWindow < 0 {
		cfg.HistoryWindow = 0
	}
	if cfg.ClassifierAttempts <= 0 {
		cfg.ClassifierAttempts = def.ClassifierAttempts
	}
	if cfg.ClassifierBackoff <= 0 {
		cfg.ClassifierBackoff = def.ClassifierBackoff
	}
	if cfg.AuditTimeout <= 0 {
		cfg.AuditTimeout = def.AuditTimeout
	}
	if metrics == nil {
		metrics = observability.NewMetrics()
	}
	return &OrchestratorService{
		storage:    store,
		classifier: classifier,
		engine:     engine,
		ledger:     l,
		cfg:        cfg,
		metrics:    metrics,
	}
}

// Handle processes one customer request end to end. The only error returned
// is domain.ErrInvalidArgument for a malformed request; every other failure
// is reported in the response. Exactly one audit record is written for every
// request, malformed ones included.
func (s *OrchestratorService) Handle(ctx context.Context, in *domain.Request) (resp *domain.Response, err error) {
	req, err := normalize(in)
	if err != nil {
		s.reject(ctx, req, err)
		return nil, err
	}

	start := time.Now()
	rec := &domain.AuditRecord{
		RequestID: req.ID,
		SessionID: req.SessionID,
		Text:      req.Text,
		StartedAt: start.UTC(),
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	var exec *domain.WorkflowExecution
	defer func() {
		if p := recover(); p != nil {
			log.Printf("orchestrator: panic handling request %s: %v\n%s", req.ID, p, debug.Stack())
			rec.Error = fmt.Sprintf("panic: %v", p)
			rec.ErrorCode = "internal"
			if exec != nil {
				s.engine.Abort(ctx, exec, rec.Error)
				traceInto(rec, exec)
			}
			resp = errorResponse(req, rec, exec)
			err = nil
		}
		s.finish(ctx, req, rec, resp, time.Since(start))
	}()

	history := s.history(ctx, req.SessionID)
	intent, attempts := s.classify(ctx, req, history)
	rec.Intent = intent
	rec.ClassifierAttempts = attempts

	exec = s.newExecution(req, intent, 1)
	runErr := s.execute(ctx, exec)
	traceInto(rec, exec)
	if errors.Is(runErr, domain.ErrConflict) {
		s.metrics.Replans().Inc()
		log.Printf("orchestrator: request %s lost a ledger race (%v), re-planning", req.ID, runErr)
		exec = s.newExecution(req, intent, 2)
		runErr = s.execute(ctx, exec)
		traceInto(rec, exec)
	}
	if runErr != nil {
		rec.Error = runErr.Error()
		rec.ErrorCode = domain.ErrorCode(runErr)
	}

	resp = s.respond(ctx, req, intent, exec, runErr)
	s.afterRun(ctx, intent, exec, resp)
	return resp, nil
}

// traceInto records the current state of exec in rec, replacing an earlier
// trace of the same execution.
func traceInto(rec *domain.AuditRecord, exec *domain.WorkflowExecution) {
	if n := len(rec.Executions); n > 0 && rec.Executions[n-1].ExecutionID == exec.ID {
		rec.Executions[n-1] = exec.Trace()
		return
	}
	rec.Executions = append(rec.Executions, exec.Trace())
}

// normalize validates a request. The returned request is never nil, so a
// rejected request can still be audited under an id.
func normalize(in *domain.Request) (*domain.Request, error) {
	var req domain.Request
	if in != nil {
		req = *in
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.ID == "" {
		req.ID = id.Generate()
	}
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = time.Now().UTC()
	}

	switch {
	case in == nil:
		return &req, fmt.Errorf("%w: request is required", domain.ErrInvalidArgument)
	case req.Text == "":
		return &req, fmt.Errorf("%w: request text is empty", domain.ErrInvalidArgument)
	case len(req.Text) > MaxRequestText:
		err := fmt.Errorf("%w: request text exceeds %d bytes", domain.ErrInvalidArgument, MaxRequestText)
		req.Text = strings.ToValidUTF8(req.Text[:MaxRequestText], "")
		return &req, err
	case len(req.SessionID) > MaxSessionID:
		err := fmt.Errorf("%w: session id exceeds %d bytes", domain.ErrInvalidArgument, MaxSessionID)
		req.SessionID = strings.ToValidUTF8(req.SessionID[:MaxSessionID], "")
		return &req, err
	}
	return &req, nil
}

// reject audits a request that failed validation. Nothing was classified
// or run for it.
func (s *OrchestratorService) reject(ctx context.Context, req *domain.Request, cause error) {
	log.Printf("orchestrator: rejected malformed request %s: %v", req.ID, cause)
	rec := &domain.AuditRecord{
		RequestID:   req.ID,
		SessionID:   req.SessionID,
		Text:        req.Text,
		FinalStatus: domain.ExecutionStatusFailed,
		Outcome:     domain.OutcomeRejected,
		Error:       cause.Error(),
		ErrorCode:   domain.ErrorCode(cause),
		StartedAt:   time.Now().UTC(),
	}
	s.finish(ctx, req, rec, nil, 0)
}

// history returns the recent turns of the session. A storage failure only
// costs the classifier its context.
func (s *OrchestratorService) history(ctx context.Context, sessionID string) []domain.Turn {
	if sessionID == "" || s.cfg.HistoryWindow == 0 {
		return nil
	}
	uow, err := s.storage.Begin(ctx)
	if err != nil {
		log.Printf("orchestrator: history unavailable for session %s: %v", sessionID, err)
		return nil
	}
	defer uow.Rollback()

	turns, err := uow.Conversations().Recent(ctx, sessionID, s.cfg.HistoryWindow)
	if err != nil {
		log.Printf("orchestrator: history unavailable for session %s: %v", sessionID, err)
		return nil
	}
	return turns
}

// classify retries an unavailable classifier with backoff and degrades to
// an Unknown intent once the attempts are used up.
func (s *OrchestratorService) classify(ctx context.Context, req *domain.Request, history []domain.Turn) (domain.Intent, int) {
	delay := s.cfg.ClassifierBackoff
	attempt := 1
	for ; ; attempt++ {
		intent, err := s.classifier.Classify(ctx, req, history)
		if err == nil {
			return intent, attempt
		}
		log.Printf("orchestrator: classify attempt %d of %d for %s failed: %v", attempt, s.cfg.ClassifierAttempts, req.ID, err)
		if attempt >= s.cfg.ClassifierAttempts || !sleep(ctx, delay) {
			break
		}
		delay *= 2
	}
	s.metrics.ClassifierDegraded().Inc()
	return domain.UnknownIntent("classifier unavailable"), attempt
}

func (s *OrchestratorService) newExecution(req *domain.Request, intent domain.Intent, attempt int) *domain.WorkflowExecution {
	exec := domain.NewWorkflowExecution(req.ID, workflow.Plan(intent), attempt)
	log.Printf("orchestrator: request %s attempt %d runs %s as %s with %d steps",
		req.ID, attempt, intent.Kind, exec.CorrelationID, exec.Plan.Len())
	return exec
}

// execute runs exec to a final status. Pending proposals are committed
// after every commit point and once the plan completes. The error is
// non-nil when a commit failed or the request ran out of time; exec is
// final in every case.
func (s *OrchestratorService) execute(ctx context.Context, exec *domain.WorkflowExecution) error {
	if err := ctx.Err(); err != nil {
		s.engine.Abort(ctx, exec, "request deadline exceeded before planning")
		return fmt.Errorf("%w: %v", domain.ErrDeadlineExceeded, err)
	}

	for {
		step, ok := exec.NextStep()
		if !ok {
			break
		}
		res, err := s.engine.Advance(ctx, exec)
		if err != nil {
			if !exec.Status.IsFinal() {
				s.engine.Fail(ctx, exec, err.Error())
			}
			return err
		}
		if res.Kind != domain.ResultSuccess {
			return nil
		}
		if step.CommitPoint {
			if err := s.commit(ctx, exec); err != nil {
				return err
			}
		}
	}

	if exec.Status == domain.ExecutionStatusPending {
		// empty plan: it commits nothing yet still ends Committed
		if err := exec.SetStatus(domain.ExecutionStatusAwaitingCommit); err != nil {
			return err
		}
	}
	if exec.Status != domain.ExecutionStatusAwaitingCommit {
		return nil
	}
	if err := s.commit(ctx, exec); err != nil {
		return err
	}
	return exec.SetStatus(domain.ExecutionStatusCommitted)
}

// commit applies the pending proposals of exec as one batch. On failure the
// execution is ended and whatever it committed before is reversed.
func (s *OrchestratorService) commit(ctx context.Context, exec *domain.WorkflowExecution) error {
	pending := exec.PendingProposals()
	if len(pending) == 0 {
		return nil
	}

	batch, err := s.ledger.Commit(ctx, pending...)
	switch {
	case err == nil:
		exec.MarkCommitted(batch.ID)
		return nil
	case errors.Is(err, domain.ErrConflict):
		s.engine.Abort(ctx, exec, "ledger conflict: "+err.Error())
		return err
	case ctx.Err() != nil:
		s.engine.Abort(ctx, exec, "request deadline exceeded during commit")
		return fmt.Errorf("%w: during commit: %v", domain.ErrDeadlineExceeded, err)
	default:
		s.engine.Fail(ctx, exec, "commit failed: "+err.Error())
		return fmt.Errorf("commit: %w", err)
	}
}

// afterRun performs the side effects of a finished request that must not
// change its outcome: storing the order and asking the supplier to restock.
func (s *OrchestratorService) afterRun(ctx context.Context, intent domain.Intent, exec *domain.WorkflowExecution, resp *domain.Response) {
	if intent.Kind != domain.IntentPlaceOrder {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.AuditTimeout)
	defer cancel()

	var reorders []reorder
	switch {
	case exec.Status == domain.ExecutionStatusCommitted && resp.Order != nil:
		if err := s.saveOrder(ctx, resp.Order); err != nil {
			log.Printf("orchestrator: failed to store order %s: %v", resp.Order.ID, err)
		}
		reorders = s.lowStock(ctx, intent.Items)
	case resp.Rejection != nil && len(resp.Rejection.Shortages) > 0:
		reorders = s.shortfalls(ctx, resp.Rejection.Shortages)
	}
	if len(reorders) > 0 {
		if err := s.enqueueReorders(ctx, exec.CorrelationID, reorders); err != nil {
			log.Printf("orchestrator: failed to enqueue reorders for %s: %v", exec.CorrelationID, err)
		}
	}
}

func (s *OrchestratorService) saveOrder(ctx context.Context, order *domain.Order) error {
	uow, err := s.storage.BeginImmediate(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()
	if err := uow.Orders().Create(ctx, order); err != nil {
		return err
	}
	return uow.Commit()
}

type reorder struct {
	itemID   string
	quantity int64
}

// lowStock lists ordered items that are now at or below their minimum level.
func (s *OrchestratorService) lowStock(ctx context.Context, lines []domain.LineItem) []reorder {
	items, err := s.items(ctx, lineIDs(lines))
	if err != nil {
		log.Printf("orchestrator: failed to read stock levels: %v", err)
		return nil
	}
	var out []reorder
	for _, item := range items {
		if item.NeedsReorder() {
			out = append(out, reorder{itemID: item.ID, quantity: item.ReorderQuantity()})
		}
	}
	return out
}

// shortfalls sizes a reorder for every item an order could not be filled from.
func (s *OrchestratorService) shortfalls(ctx context.Context, shortages []domain.Shortage) []reorder {
	ids := make([]string, len(shortages))
	for i, sh := range shortages {
		ids[i] = sh.ItemID
	}
	items, err := s.items(ctx, ids)
	if err != nil {
		log.Printf("orchestrator: failed to read stock levels: %v", err)
		return nil
	}
	byID := make(map[string]*domain.Item, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	var out []reorder
	for _, sh := range shortages {
		item, ok := byID[sh.ItemID]
		if !ok {
			continue
		}
		out = append(out, reorder{itemID: sh.ItemID, quantity: max(item.ReorderQuantity(), sh.Requested-sh.Available)})
	}
	return out
}

func (s *OrchestratorService) items(ctx context.Context, ids []string) ([]*domain.Item, error) {
	uow, err := s.storage.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()
	return uow.Items().List(ctx, storage.ListOptions{IDs: ids})
}

func (s *OrchestratorService) enqueueReorders(ctx context.Context, correlationID string, reorders []reorder) error {
	uow, err := s.storage.BeginImmediate(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()
	for _, r := range reorders {
		job := domain.NewJob(domain.JobKindSupplierReorder, correlationID, map[string]any{
			"item_id":  r.itemID,
			"quantity": r.quantity,
		})
		if err := uow.Jobs().Create(ctx, job); err != nil {
			return err
		}
		log.Printf("orchestrator: enqueued reorder of %d %s (job %s)", r.quantity, r.itemID, job.ID)
	}
	return uow.Commit()
}

// finish writes the audit record and the conversation turns in one
// transaction. It runs on a context detached from the request so an expired
// deadline still leaves a record behind.
func (s *OrchestratorService) finish(ctx context.Context, req *domain.Request, rec *domain.AuditRecord, resp *domain.Response, elapsed time.Duration) {
	rec.FinishedAt = time.Now().UTC()
	if resp != nil {
		rec.CorrelationID = resp.CorrelationID
		rec.FinalStatus = resp.Status
		rec.Outcome = resp.Outcome
	}
	s.metrics.HandleDuration().Observe(elapsed)
	s.metrics.Outcomes().WithLabels(string(rec.Outcome)).Inc()

	log.Printf("audit: request=%s session=%s intent=%s executions=%d correlation=%s status=%s outcome=%s elapsed=%s error=%q",
		rec.RequestID, rec.SessionID, rec.Intent.Kind, len(rec.Executions), rec.CorrelationID,
		rec.FinalStatus, rec.Outcome, elapsed.Round(time.Millisecond), rec.Error)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.AuditTimeout)
	defer cancel()
	if err := s.persist(ctx, req, rec, resp); err != nil {
		log.Printf("audit: failed to persist record for request %s: %v", rec.RequestID, err)
	}
}

func (s *OrchestratorService) persist(ctx context.Context, req *domain.Request, rec *domain.AuditRecord, resp *domain.Response) error {
	uow, err := s.storage.BeginImmediate(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()

	if err := uow.Audits().Create(ctx, rec); err != nil {
		return err
	}
	if req.SessionID != "" && resp != nil {
		now := time.Now().UTC()
		err := uow.Conversations().Append(ctx,
			domain.Turn{SessionID: req.SessionID, Role: domain.RoleCustomer, Text: req.Text, CreatedAt: req.ReceivedAt},
			domain.Turn{SessionID: req.SessionID, Role: domain.RoleAssistant, Text: resp.Message, CreatedAt: now},
		)
		if err != nil {
			return err
		}
	}
	return uow.Commit()
}

// GetAudit returns the audit record of a request.
func (s *OrchestratorService) GetAudit(ctx context.Context, requestID string) (*domain.AuditRecord, error) {
	uow, err := s.storage.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()
	return uow.Audits().Get(ctx, requestID)
}

// ListAudits returns audit records, newest first.
func (s *OrchestratorService) ListAudits(ctx context.Context, opts storage.ListOptions) ([]*domain.AuditRecord, error) {
	uow, err := s.storage.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()
	return uow.Audits().List(ctx, opts)
}

// Balances returns the financial summary of committed state.
func (s *OrchestratorService) Balances(ctx context.Context) (*domain.Balances, error) {
	return s.ledger.Balances(ctx)
}

// Report returns the balances together with the revenue, expenses and top
// sellers of period.
func (s *OrchestratorService) Report(ctx context.Context, period domain.ReportPeriod) (*domain.Balances, error) {
	b, err := s.ledger.Balances(ctx)
	if err != nil {
		return nil, err
	}
	if b.Report, err = s.ledger.Report(ctx, period); err != nil {
		return nil, err
	}
	return b, nil
}

// SearchQuotes returns issued quotes matching the search, newest first.
func (s *OrchestratorService) SearchQuotes(ctx context.Context, q storage.QuoteSearch) ([]*domain.Quote, error) {
	switch q.Status {
	case "", domain.QuoteStatusPending, domain.QuoteStatusAccepted, domain.QuoteStatusExpired:
	default:
		return nil, fmt.Errorf("%w: unknown quote status %q", domain.ErrInvalidArgument, q.Status)
	}
	if q.Limit < 0 {
		return nil, fmt.Errorf("%w: negative limit", domain.ErrInvalidArgument)
	}
	uow, err := s.storage.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()
	return uow.Quotes().Search(ctx, q)
}

// ValidateQuote looks up a quote and reports whether it still stands.
func (s *OrchestratorService) ValidateQuote(ctx context.Context, quoteID string) (*domain.QuoteValidation, error) {
	if quoteID == "" {
		return nil, fmt.Errorf("%w: quote id is required", domain.ErrInvalidArgument)
	}
	uow, err := s.storage.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	q, err := uow.Quotes().Get(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	v := q.Validate(time.Now().UTC())
	return &v, nil
}

// ListItems returns the catalog with committed stock levels.
func (s *OrchestratorService) ListItems(ctx context.Context, opts storage.ListOptions) ([]*domain.Item, error) {
	uow, err := s.storage.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()
	return uow.Items().List(ctx, opts)
}

func lineIDs(lines []domain.LineItem) []string {
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ItemID
	}
	return ids
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
