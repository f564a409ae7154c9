// Package handler is a test package for the ledgercommit analyzer.
package handler

import (
	"context"

	"ledger"
)

type tx struct{}

func (tx) Commit() error { return nil }

func commitsDirectly(ctx context.Context, l *ledger.Ledger) {
	p, _ := l.ProposeAll(ctx, "corr-1")
	l.Commit(ctx, p) // want "ledger Commit called from package handler"
}

func commitsThroughField(ctx context.Context) {
	s := struct{ ledger *ledger.Ledger }{ledger: &ledger.Ledger{}}
	_, _ = s.ledger.Commit(ctx) // want "ledger Commit called from package handler"
}

// Valid cases - should NOT produce warnings

func proposesOnly(ctx context.Context, l *ledger.Ledger) (*ledger.Proposal, error) {
	return l.ProposeAll(ctx, "corr-1")
}

func otherCommits(j *ledger.Journal) error {
	if err := (tx{}).Commit(); err != nil {
		return err
	}
	return j.Commit()
}
