package grpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/internal/storage"
)

// Client talks to a remote OrderDesk server.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to target. Without options the connection is plaintext.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Handle sends a customer request.
func (c *Client) Handle(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	in, err := toStruct(handleRequest{RequestID: req.ID, SessionID: req.SessionID, Text: req.Text})
	if err != nil {
		return nil, err
	}
	var resp domain.Response
	if err := c.call(ctx, methodHandle, in, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetAudit fetches the audit record of a request.
func (c *Client) GetAudit(ctx context.Context, requestID string) (*domain.AuditRecord, error) {
	in, err := structpb.NewStruct(map[string]any{"request_id": requestID})
	if err != nil {
		return nil, err
	}
	var rec domain.AuditRecord
	if err := c.call(ctx, methodGetAudit, in, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetBalances fetches the financial summary with the report for period.
func (c *Client) GetBalances(ctx context.Context, period domain.ReportPeriod) (*domain.Balances, error) {
	in, err := toStruct(period)
	if err != nil {
		return nil, err
	}
	var b domain.Balances
	if err := c.call(ctx, methodGetBalances, in, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// SearchQuotes lists past quotes matching q.
func (c *Client) SearchQuotes(ctx context.Context, q storage.QuoteSearch) ([]*domain.Quote, error) {
	in, err := toStruct(q)
	if err != nil {
		return nil, err
	}
	var out quoteList
	if err := c.call(ctx, methodSearchQuotes, in, &out); err != nil {
		return nil, err
	}
	return out.Quotes, nil
}

// ValidateQuote reports whether a quote can still be accepted.
func (c *Client) ValidateQuote(ctx context.Context, quoteID string) (*domain.QuoteValidation, error) {
	in, err := structpb.NewStruct(map[string]any{"quote_id": quoteID})
	if err != nil {
		return nil, err
	}
	var v domain.QuoteValidation
	if err := c.call(ctx, methodValidateQuote, in, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) call(ctx context.Context, method string, in *structpb.Struct, out any) error {
	reply := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, reply); err != nil {
		return err
	}
	return fromStruct(reply, out)
}
