package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/o2c-lite/cmd/o2c/internal/ui"
	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/internal/storage"
	grpcTransport "github.com/example/o2c-lite/internal/transport/grpc"
)

var (
	serverAddr string
	sessionID  string
	asJSON     bool
)

var askCmd = &cobra.Command{
	Use:   "ask <text>",
	Short: "Send a customer request",
	Long: `Send a free-text customer request and print the reply.

Without --server the request is handled in-process against the configured
database. Reorder jobs it enqueues are run by the next 'o2c serve'.

EXAMPLES:
  o2c ask "how many A4 matte paper do you have?"
  o2c ask --server localhost:50051 "order 200 cardstock"
  o2c ask --session s-42 --json "quote 1000 A4 glossy paper"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	addServerFlag(askCmd)
	askCmd.Flags().StringVarP(&sessionID, "session", "s", "", "conversation session ID")
	askCmd.Flags().BoolVar(&asJSON, "json", false, "print the raw response as JSON")
}

func addServerFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&serverAddr, "server", "", "gRPC address of a running o2c serve (default: in-process)")
}

func runAsk(cmd *cobra.Command, args []string) error {
	req := &domain.Request{SessionID: sessionID, Text: strings.Join(args, " ")}

	var resp *domain.Response
	err := withDesk(cmd.Context(), func(d desk) error {
		var err error
		resp, err = d.Handle(cmd.Context(), req)
		return err
	})
	if err != nil {
		return err
	}

	if asJSON {
		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(ui.Out, string(out))
		return nil
	}
	ui.PrintResponse(resp)
	return nil
}

// desk is what the client commands need from an orchestrator, local or
// remote.
type desk interface {
	Handle(ctx context.Context, req *domain.Request) (*domain.Response, error)
	GetAudit(ctx context.Context, requestID string) (*domain.AuditRecord, error)
	GetBalances(ctx context.Context, period domain.ReportPeriod) (*domain.Balances, error)
	SearchQuotes(ctx context.Context, q storage.QuoteSearch) ([]*domain.Quote, error)
	ValidateQuote(ctx context.Context, quoteID string) (*domain.QuoteValidation, error)
}

type localDesk struct{ *app }

func (d localDesk) Handle(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	return d.orchestrator.Handle(ctx, req)
}

func (d localDesk) GetAudit(ctx context.Context, requestID string) (*domain.AuditRecord, error) {
	return d.orchestrator.GetAudit(ctx, requestID)
}

func (d localDesk) GetBalances(ctx context.Context, period domain.ReportPeriod) (*domain.Balances, error) {
	return d.orchestrator.Report(ctx, period)
}

func (d localDesk) SearchQuotes(ctx context.Context, q storage.QuoteSearch) ([]*domain.Quote, error) {
	return d.orchestrator.SearchQuotes(ctx, q)
}

func (d localDesk) ValidateQuote(ctx context.Context, quoteID string) (*domain.QuoteValidation, error) {
	return d.orchestrator.ValidateQuote(ctx, quoteID)
}

// withDesk runs fn against --server when set, otherwise in-process.
func withDesk(ctx context.Context, fn func(desk) error) error {
	if serverAddr != "" {
		client, err := grpcTransport.Dial(serverAddr)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", serverAddr, err)
		}
		defer client.Close()
		return fn(client)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(localDesk{a})
}
