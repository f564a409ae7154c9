package endpoint

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/internal/service"
	"github.com/example/o2c-lite/internal/storage"
)

// Endpoint is a function that takes a request and returns a response.
type Endpoint func(ctx context.Context, request any) (response any, err error)

// Endpoints holds all endpoint handlers.
type Endpoints struct {
	Handle        Endpoint
	GetAudit      Endpoint
	ListAudits    Endpoint
	GetBalances   Endpoint
	ListItems     Endpoint
	SearchQuotes  Endpoint
	ValidateQuote Endpoint
}

// MakeEndpoints creates all endpoints from the service.
func MakeEndpoints(svc *service.OrchestratorService) Endpoints {
	return Endpoints{
		Handle:        makeHandleEndpoint(svc),
		GetAudit:      makeGetAuditEndpoint(svc),
		ListAudits:    makeListAuditsEndpoint(svc),
		GetBalances:   makeGetBalancesEndpoint(svc),
		ListItems:     makeListItemsEndpoint(svc),
		SearchQuotes:  makeSearchQuotesEndpoint(svc),
		ValidateQuote: makeValidateQuoteEndpoint(svc),
	}
}

func makeHandleEndpoint(svc *service.OrchestratorService) Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		// the orchestrator validates, so malformed requests are audited too
		return svc.Handle(ctx, request.(*domain.Request))
	}
}

func makeGetAuditEndpoint(svc *service.OrchestratorService) Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		id := request.(string)
		if id == "" {
			return nil, status.Error(codes.InvalidArgument, "request ID is required")
		}
		return svc.GetAudit(ctx, id)
	}
}

func makeListAuditsEndpoint(svc *service.OrchestratorService) Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		opts := request.(storage.ListOptions)
		if err := validateListOptions(opts); err != nil {
			return nil, err
		}
		return svc.ListAudits(ctx, opts)
	}
}

// makeGetBalancesEndpoint answers with the plain balances unless the request
// is a domain.ReportPeriod, in which case the financial report is attached.
func makeGetBalancesEndpoint(svc *service.OrchestratorService) Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		if period, ok := request.(domain.ReportPeriod); ok {
			return svc.Report(ctx, period)
		}
		return svc.Balances(ctx)
	}
}

func makeSearchQuotesEndpoint(svc *service.OrchestratorService) Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		q := request.(storage.QuoteSearch)
		if err := validateQuoteSearch(q); err != nil {
			return nil, err
		}
		return svc.SearchQuotes(ctx, q)
	}
}

func makeValidateQuoteEndpoint(svc *service.OrchestratorService) Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		id := request.(string)
		if id == "" {
			return nil, status.Error(codes.InvalidArgument, "quote ID is required")
		}
		return svc.ValidateQuote(ctx, id)
	}
}

func makeListItemsEndpoint(svc *service.OrchestratorService) Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		opts := request.(storage.ListOptions)
		if err := validateListOptions(opts); err != nil {
			return nil, err
		}
		return svc.ListItems(ctx, opts)
	}
}

// MapErrorToStatus maps domain errors to gRPC status codes.
func MapErrorToStatus(err error) error {
	if err == nil {
		return nil
	}

	// Already a gRPC status error
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, domain.ErrDeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, domain.ErrClassificationUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, domain.ErrInvalidState), domain.IsBusinessRule(err):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
