package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/example/o2c-lite/internal/domain"
)

const dateLayout = "Jan 2, 2006"

// respond turns a finished execution into the customer-facing response.
// Technical detail stays in the audit record; the message never carries a
// raw error.
func (s *OrchestratorService) respond(ctx context.Context, req *domain.Request, intent domain.Intent, exec *domain.WorkflowExecution, runErr error) *domain.Response {
	resp := &domain.Response{
		RequestID:     req.ID,
		SessionID:     req.SessionID,
		CorrelationID: exec.CorrelationID,
		Intent:        intent.Kind,
		Status:        exec.Status,
	}
	if p := lastPayload(exec, domain.StepCheckStock); p != nil {
		resp.Stock = p.Stock
	}

	switch {
	case errors.Is(runErr, domain.ErrDeadlineExceeded):
		resp.Outcome = domain.OutcomeError
		resp.Rejection = &domain.Rejection{Code: domain.ErrorCode(runErr), Reason: "the request took too long"}
		resp.Message = "Sorry, we couldn't finish your request in time. " + undoneMessage(exec) + " Please try again."
	case errors.Is(runErr, domain.ErrConflict):
		resp.Outcome = domain.OutcomeRejected
		resp.Rejection = &domain.Rejection{Code: domain.ErrorCode(runErr), Reason: "stock changed while the order was processed"}
		resp.Message = "Stock changed while we were processing your order. " + undoneMessage(exec) + " Please try again."
	case exec.Status == domain.ExecutionStatusCommitted:
		s.success(resp, intent, exec)
	default:
		s.failure(resp, exec, runErr)
	}

	if len(exec.CommittedBatches()) > 0 {
		balances, err := s.ledger.Balances(context.WithoutCancel(ctx))
		if err != nil {
			log.Printf("orchestrator: failed to read balances after %s: %v", exec.CorrelationID, err)
		} else {
			resp.Balances = balances
		}
	}
	return resp
}

func (s *OrchestratorService) success(resp *domain.Response, intent domain.Intent, exec *domain.WorkflowExecution) {
	switch intent.Kind {
	case domain.IntentCheckInventory:
		resp.Outcome = domain.OutcomeAnswered
		resp.Message = stockMessage(resp.Stock)
	case domain.IntentRequestQuote:
		resp.Outcome = domain.OutcomeQuoted
		if p := lastPayload(exec, domain.StepComputeQuote); p != nil {
			resp.Quote = p.Quote
		}
		resp.Message = quoteMessage(resp.Quote, resp.Stock)
	case domain.IntentPlaceOrder:
		resp.Outcome = domain.OutcomeOrdered
		if p := lastPayload(exec, domain.StepFulfillOrder); p != nil {
			resp.Order = p.Order
		}
		resp.Message = orderMessage(resp.Order)
	default:
		resp.Outcome = domain.OutcomeClarification
		resp.Message = clarificationMessage(intent.Reason)
	}
}

func (s *OrchestratorService) failure(resp *domain.Response, exec *domain.WorkflowExecution, runErr error) {
	last, _ := exec.LastResult()
	code, reason, shortages := last.Code, last.Reason, last.Shortages
	if runErr != nil {
		code, reason, shortages = domain.ErrorCode(runErr), runErr.Error(), nil
		var se *domain.ShortageError
		if errors.As(runErr, &se) {
			shortages = se.Shortages
		}
	}
	if code == "" {
		resp.Outcome = domain.OutcomeError
		resp.Rejection = &domain.Rejection{Code: "internal", Reason: "internal error"}
		resp.Message = "Something went wrong on our side. " + undoneMessage(exec) + " Please try again in a moment."
		return
	}

	resp.Outcome = domain.OutcomeRejected
	resp.Rejection = &domain.Rejection{Code: code, Reason: reason, Shortages: shortages}
	switch code {
	case "insufficient_stock":
		resp.Message = shortageMessage(shortages)
	case "payment_declined":
		resp.Message = "Your payment was declined, so the order was cancelled."
	case "unknown_item":
		resp.Message = "We couldn't find one of the requested items in our catalog."
	case "insufficient_cash":
		resp.Message = "We can't process this right now because of our account balance."
	default:
		resp.Message = "We couldn't complete your request: " + reason + "."
	}
	if len(exec.Reversals()) > 0 || len(exec.CompensationBatches()) > 0 || exec.CompensationFailed {
		resp.Message += " " + undoneMessage(exec)
	}
}

// undoneMessage tells the customer what happened to their money and stock,
// from what the execution actually did.
func undoneMessage(exec *domain.WorkflowExecution) string {
	if exec == nil {
		return "Please check your account before trying again."
	}
	if exec.CompensationFailed {
		return "We couldn't fully reverse your order; our team has been notified and will correct any charge or reservation."
	}
	var refunded domain.Money
	for _, r := range exec.Reversals() {
		if r.StepKind == domain.StepCapturePayment {
			refunded += r.Amount
		}
	}
	released := len(exec.CompensationBatches()) > 0
	switch {
	case refunded > 0 && released:
		return fmt.Sprintf("Your payment of %s has been refunded and the stock we had reserved has been released.", refunded)
	case refunded > 0:
		return fmt.Sprintf("Your payment of %s has been refunded.", refunded)
	case released:
		return "Nothing was charged and the stock we had reserved has been released."
	case len(exec.CommittedBatches()) > 0:
		return "Please check your account before trying again."
	default:
		return "Nothing was charged or reserved."
	}
}

// errorResponse is the reply when handling broke down before a response
// could be built. exec is the execution in flight, if any.
func errorResponse(req *domain.Request, rec *domain.AuditRecord, exec *domain.WorkflowExecution) *domain.Response {
	resp := &domain.Response{
		RequestID: req.ID,
		SessionID: req.SessionID,
		Intent:    rec.Intent.Kind,
		Status:    domain.ExecutionStatusFailed,
		Outcome:   domain.OutcomeError,
		Rejection: &domain.Rejection{Code: "internal", Reason: "internal error"},
		Message:   "Something went wrong on our side. Please try again in a moment.",
	}
	if exec != nil {
		resp.CorrelationID = exec.CorrelationID
		resp.Status = exec.Status
		resp.Message = "Something went wrong on our side. " + undoneMessage(exec) + " Please try again in a moment."
	} else if n := len(rec.Executions); n > 0 {
		resp.CorrelationID = rec.Executions[n-1].CorrelationID
	}
	return resp
}

func lastPayload(exec *domain.WorkflowExecution, kind domain.StepKind) *domain.Payload {
	history := exec.History()
	for i := len(history) - 1; i >= 0; i-- {
		if r := history[i]; r.StepKind == kind && r.Kind == domain.ResultSuccess {
			return r.Payload
		}
	}
	return nil
}

func stockMessage(stock []domain.StockCheck) string {
	lines := make([]string, 0, len(stock))
	for _, sc := range stock {
		switch {
		case sc.Requested == 0:
			lines = append(lines, fmt.Sprintf("%s: %d in stock.", sc.Name, sc.Available))
		case sc.Sufficient:
			lines = append(lines, fmt.Sprintf("%s: %d in stock, enough for %d.", sc.Name, sc.Available, sc.Requested))
		default:
			lines = append(lines, fmt.Sprintf("%s: only %d in stock of the %d requested; a restock of %d is expected by %s.",
				sc.Name, sc.Available, sc.Requested, sc.ReorderQuantity, sc.RestockBy.Format(dateLayout)))
		}
	}
	return strings.Join(lines, "\n")
}

func quoteMessage(q *domain.Quote, stock []domain.StockCheck) string {
	if q == nil {
		return "Your quote is ready."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Quote %s: %s", q.ID, q.Total)
	if q.TotalSavings > 0 {
		fmt.Fprintf(&b, " (you save %s with bulk pricing)", q.TotalSavings)
	}
	fmt.Fprintf(&b, ", valid until %s, delivery by %s.", q.ValidUntil.Format(dateLayout), q.DeliveryDate.Format(dateLayout))
	for _, sc := range stock {
		if !sc.Sufficient && sc.Requested > 0 {
			fmt.Fprintf(&b, "\nNote: %s currently has only %d in stock.", sc.Name, sc.Available)
		}
	}
	return b.String()
}

func orderMessage(o *domain.Order) string {
	if o == nil {
		return "Your order is confirmed."
	}
	return fmt.Sprintf("Order %s confirmed: %s charged, tracking number %s, delivery by %s.",
		o.ID, o.Total, o.TrackingNumber, o.DeliveryDate.Format(dateLayout))
}

func shortageMessage(shortages []domain.Shortage) string {
	parts := make([]string, len(shortages))
	for i, sh := range shortages {
		parts[i] = fmt.Sprintf("%s (requested %d, available %d)", sh.ItemID, sh.Requested, sh.Available)
	}
	return "We don't have enough stock for this order: " + strings.Join(parts, ", ") + ". Nothing was charged."
}

func clarificationMessage(reason string) string {
	if reason == "classifier unavailable" {
		return "Sorry, I can't process requests right now. Please try again shortly."
	}
	return "Sorry, I didn't quite get that. You can ask whether an item is in stock, " +
		"request a quote (\"quote 500 A4 glossy paper\") or place an order (\"order 200 cardstock\")."
}
