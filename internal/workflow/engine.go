package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/internal/observability"
)

// Invoker runs the handler operation bound to a step.
type Invoker interface {
	Invoke(ctx context.Context, sc domain.StepContext) domain.StepResult
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, sc domain.StepContext) domain.StepResult

func (f InvokerFunc) Invoke(ctx context.Context, sc domain.StepContext) domain.StepResult {
	return f(ctx, sc)
}

// Compensator reverses the batches committed under a correlation ID.
type Compensator interface {
	Compensate(ctx context.Context, correlationID string) ([]*domain.CommitBatch, error)
}

// Reverter undoes what a recorded step did outside the ledger, such as a
// captured payment. It returns nil when there was nothing to undo and must
// be safe to call again for the same step.
type Reverter interface {
	Revert(ctx context.Context, sc domain.StepContext, res domain.StepResult) (*domain.Reversal, error)
}

// Config bounds step execution.
type Config struct {
	StepTimeout         time.Duration // per handler call
	MaxAttempts         int           // per step, including the first call
	BackoffBase         time.Duration // delay before the second attempt
	BackoffMax          time.Duration
	CompensationTimeout time.Duration // budget for reversing batches once the request is over
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		StepTimeout:         5 * time.Second,
		MaxAttempts:         3,
		BackoffBase:         50 * time.Millisecond,
		BackoffMax:          2 * time.Second,
		CompensationTimeout: 10 * time.Second,
	}
}

// Engine executes plans step by step.
type Engine struct {
	invoker     Invoker
	compensator Compensator
	reverter    Reverter
	cfg         Config
	metrics     *observability.Metrics
}

// NewEngine creates an engine.
func NewEngine(invoker Invoker, compensator Compensator, cfg Config) *Engine {
	return NewEngineWithMetrics(invoker, compensator, cfg, nil)
}

// NewEngineWithMetrics creates an engine that records step timings and outcomes.
func NewEngineWithMetrics(invoker Invoker, compensator Compensator, cfg Config, metrics *observability.Metrics) *Engine {
	def := DefaultConfig()
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = def.StepTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = cfg.BackoffBase
	}
	if cfg.CompensationTimeout <= 0 {
		cfg.CompensationTimeout = def.CompensationTimeout
	}
	e := &Engine{invoker: invoker, compensator: compensator, cfg: cfg, metrics: metrics}
	if r, ok := invoker.(Reverter); ok {
		e.reverter = r
	}
	return e
}

// WithReverter sets the reverter used during compensation. Needed when the
// invoker is wrapped and no longer reverts by itself.
func (e *Engine) WithReverter(r Reverter) *Engine {
	e.reverter = r
	return e
}

// Advance executes exactly the next pending step of exec and records its
// final result. Retryable outcomes are retried with backoff; a step that
// stays retryable becomes Fatal. A Fatal step ends the execution after
// compensation. If ctx ends first the execution is aborted and the returned
// error wraps domain.ErrDeadlineExceeded.
//
// Calling Advance on an execution with no pending step returns
// domain.ErrNoPendingStep without invoking anything.
func (e *Engine) Advance(ctx context.Context, exec *domain.WorkflowExecution) (domain.StepResult, error) {
	step, ok := exec.NextStep()
	if !ok {
		return domain.StepResult{}, domain.ErrNoPendingStep
	}
	if err := ctx.Err(); err != nil {
		e.Abort(ctx, exec, "request deadline exceeded before "+string(step.Kind))
		return domain.StepResult{}, fmt.Errorf("%w: %v", domain.ErrDeadlineExceeded, err)
	}
	if exec.Status == domain.ExecutionStatusPending {
		if err := exec.SetStatus(domain.ExecutionStatusInProgress); err != nil {
			return domain.StepResult{}, err
		}
	}

	sc := exec.StepContext(step)
	started := time.Now().UTC()
	var res domain.StepResult
	attempt := 1
	for ; ; attempt++ {
		res = e.invokeOnce(ctx, sc)
		if res.Kind != domain.ResultRetryable || ctx.Err() != nil {
			break
		}
		if attempt >= e.cfg.MaxAttempts {
			res = domain.Fatal(fmt.Sprintf("retries exhausted after %d attempts: %s", attempt, res.Reason))
			break
		}
		if e.metrics != nil {
			e.metrics.StepRetries().WithLabels(string(step.Kind)).Inc()
		}
		log.Printf("workflow: %s attempt %d of %d is retryable: %s", step.Kind, attempt, e.cfg.MaxAttempts, res.Reason)
		if !sleep(ctx, e.backoff(attempt)) {
			break
		}
	}

	deadline := ctx.Err() != nil && res.Kind != domain.ResultSuccess
	if deadline {
		res = domain.Fatal(domain.ErrDeadlineExceeded.Error())
	}
	res.StepIndex = step.Index
	res.StepKind = step.Kind
	res.Attempts = attempt
	res.StartedAt = started
	res.FinishedAt = time.Now().UTC()
	e.observe(res)

	if err := exec.Record(res); err != nil {
		return res, err
	}

	switch {
	case deadline:
		e.Abort(ctx, exec, fmt.Sprintf("request deadline exceeded during %s", step.Kind))
		return res, fmt.Errorf("%w: during %s", domain.ErrDeadlineExceeded, step.Kind)
	case res.Kind == domain.ResultFatal:
		e.Fail(ctx, exec, fmt.Sprintf("%s failed: %s", step.Kind, res.Reason))
	}
	return res, nil
}

// invokeOnce runs one handler call in its own goroutine so a handler that
// ignores its context cannot hold up the execution past the step timeout.
func (e *Engine) invokeOnce(ctx context.Context, sc domain.StepContext) domain.StepResult {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	defer cancel()

	done := make(chan domain.StepResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- domain.Fatal(fmt.Sprintf("handler panic: %v", r))
			}
		}()
		done <- e.invoker.Invoke(callCtx, sc)
	}()

	select {
	case res := <-done:
		if res.Kind == domain.ResultUnknown {
			return domain.Fatal(fmt.Sprintf("%s returned no result", sc.Step.Kind))
		}
		return res
	case <-callCtx.Done():
		return domain.Retryable(fmt.Sprintf("%s timed out after %s", sc.Step.Kind, e.cfg.StepTimeout))
	}
}

func (e *Engine) backoff(attempt int) time.Duration {
	d := e.cfg.BackoffBase
	for i := 1; i < attempt && d < e.cfg.BackoffMax; i++ {
		d *= 2
	}
	return min(d, e.cfg.BackoffMax)
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

// Fail ends exec after a permanent failure. Pending proposals are dropped,
// outside effects are reverted and every batch it committed is reversed;
// the status is Compensated if anything was undone and Failed otherwise.
func (e *Engine) Fail(ctx context.Context, exec *domain.WorkflowExecution, reason string) {
	if exec.Status.IsFinal() {
		return
	}
	undone, err := e.compensate(ctx, exec)
	status := domain.ExecutionStatusFailed
	if err != nil {
		reason += "; compensation failed: " + err.Error()
	} else if undone {
		status = domain.ExecutionStatusCompensated
	}
	e.finish(exec, status, reason)
}

// Abort ends exec with status Failed after undoing whatever it did.
// Used when the request runs out of time or the ledger moved underneath it.
func (e *Engine) Abort(ctx context.Context, exec *domain.WorkflowExecution, reason string) {
	if exec.Status.IsFinal() {
		return
	}
	if _, err := e.compensate(ctx, exec); err != nil {
		reason += "; compensation failed: " + err.Error()
	}
	e.finish(exec, domain.ExecutionStatusFailed, reason)
}

// compensate runs on a context detached from the request so an expired
// deadline does not prevent the reversal. Outside effects are reverted
// newest first, then the committed batches are reversed.
func (e *Engine) compensate(ctx context.Context, exec *domain.WorkflowExecution) (bool, error) {
	exec.ReleasePending()

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CompensationTimeout)
	defer cancel()

	var errs []error
	undone := false
	if e.reverter != nil {
		history := exec.History()
		for i := len(history) - 1; i >= 0; i-- {
			res := history[i]
			rev, err := e.revert(cctx, exec.StepContext(exec.Plan.Step(res.StepIndex)), res)
			if err != nil {
				log.Printf("workflow: reverting %s of %s failed: %v", res.StepKind, exec.CorrelationID, err)
				errs = append(errs, fmt.Errorf("revert %s: %w", res.StepKind, err))
				continue
			}
			if rev != nil {
				exec.MarkReversed(*rev)
				undone = true
			}
		}
	}

	if len(exec.CommittedBatches()) > 0 {
		batches, err := e.compensator.Compensate(cctx, exec.CorrelationID)
		if err != nil {
			log.Printf("workflow: compensation of %s failed: %v", exec.CorrelationID, err)
			errs = append(errs, err)
		}
		for _, b := range batches {
			exec.MarkCompensated(b.ID)
		}
		undone = undone || len(batches) > 0
	}

	err := errors.Join(errs...)
	exec.CompensationFailed = err != nil
	return undone, err
}

// revert retries a failed reversal with the step backoff until the
// compensation budget runs out.
func (e *Engine) revert(ctx context.Context, sc domain.StepContext, res domain.StepResult) (*domain.Reversal, error) {
	for attempt := 1; ; attempt++ {
		rev, err := e.reverter.Revert(ctx, sc, res)
		if err == nil || attempt >= e.cfg.MaxAttempts || !sleep(ctx, e.backoff(attempt)) {
			return rev, err
		}
	}
}

func (e *Engine) finish(exec *domain.WorkflowExecution, status domain.ExecutionStatus, reason string) {
	if exec.Status.IsFinal() {
		return
	}
	exec.FailureReason = reason
	if err := exec.SetStatus(status); err != nil {
		// Compensated is not reachable from Pending; nothing was committed then.
		exec.SetStatus(domain.ExecutionStatusFailed)
	}
	log.Printf("workflow: execution %s (%s) ended %s: %s", exec.ID, exec.CorrelationID, exec.Status, reason)
}

func (e *Engine) observe(res domain.StepResult) {
	if e.metrics == nil {
		return
	}
	e.metrics.StepDuration().WithLabels(string(res.StepKind)).Observe(res.FinishedAt.Sub(res.StartedAt))
	e.metrics.StepResults().WithLabels(string(res.StepKind) + "/" + res.Kind.String()).Inc()
}
