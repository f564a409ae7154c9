package endpoint

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/internal/storage"
)

const (
	maxPageSize   = 500
	maxQueryTerms = 20
)

func validateListOptions(opts storage.ListOptions) error {
	if opts.Limit < 0 || opts.Offset < 0 {
		return status.Error(codes.InvalidArgument, "limit and offset must not be negative")
	}
	if opts.Limit > maxPageSize {
		return status.Errorf(codes.InvalidArgument, "limit exceeds %d", maxPageSize)
	}
	return nil
}

func validateQuoteSearch(q storage.QuoteSearch) error {
	if q.Limit < 0 || q.Limit > maxPageSize {
		return status.Errorf(codes.InvalidArgument, "limit must be between 0 and %d", maxPageSize)
	}
	if len(q.Terms) > maxQueryTerms {
		return status.Errorf(codes.InvalidArgument, "at most %d search terms", maxQueryTerms)
	}
	switch q.Status {
	case "", domain.QuoteStatusPending, domain.QuoteStatusAccepted, domain.QuoteStatusExpired:
		return nil
	default:
		return status.Errorf(codes.InvalidArgument, "unknown quote status %q", q.Status)
	}
}
