package grpc

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/internal/endpoint"
	"github.com/example/o2c-lite/internal/storage"
)

var errPanic = errors.New("handler panic")

// handleRequest is the wire form of a customer request.
type handleRequest struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// Handle implements the Handle RPC.
func (s *Server) Handle(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req handleRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}

	resp, err := s.endpoints.Handle(ctx, &domain.Request{
		ID:        req.RequestID,
		SessionID: req.SessionID,
		Text:      req.Text,
	})
	if err != nil {
		return nil, endpoint.MapErrorToStatus(err)
	}
	return toStruct(resp.(*domain.Response))
}

// GetAudit implements the GetAudit RPC.
func (s *Server) GetAudit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	resp, err := s.endpoints.GetAudit(ctx, in.GetFields()["request_id"].GetStringValue())
	if err != nil {
		return nil, endpoint.MapErrorToStatus(err)
	}
	return toStruct(resp.(*domain.AuditRecord))
}

// GetBalances implements the GetBalances RPC. The optional from and to
// fields bound the attached financial report.
func (s *Server) GetBalances(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var period domain.ReportPeriod
	if err := fromStruct(in, &period); err != nil {
		return nil, err
	}
	resp, err := s.endpoints.GetBalances(ctx, period)
	if err != nil {
		return nil, endpoint.MapErrorToStatus(err)
	}
	return toStruct(resp.(*domain.Balances))
}

// quoteList wraps search results, since a Struct cannot be a list.
type quoteList struct {
	Quotes []*domain.Quote `json:"quotes"`
}

// SearchQuotes implements the SearchQuotes RPC.
func (s *Server) SearchQuotes(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var q storage.QuoteSearch
	if err := fromStruct(in, &q); err != nil {
		return nil, err
	}
	resp, err := s.endpoints.SearchQuotes(ctx, q)
	if err != nil {
		return nil, endpoint.MapErrorToStatus(err)
	}
	return toStruct(quoteList{Quotes: resp.([]*domain.Quote)})
}

// ValidateQuote implements the ValidateQuote RPC.
func (s *Server) ValidateQuote(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	resp, err := s.endpoints.ValidateQuote(ctx, in.GetFields()["quote_id"].GetStringValue())
	if err != nil {
		return nil, endpoint.MapErrorToStatus(err)
	}
	return toStruct(resp.(*domain.QuoteValidation))
}

// toStruct converts a JSON-tagged value to a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

// fromStruct decodes a Struct into a JSON-tagged value.
func fromStruct(s *structpb.Struct, v any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "decode message: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode message: %v", err)
	}
	return nil
}
