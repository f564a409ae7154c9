// Package service is a test package for the ledgercommit analyzer.
package service

import (
	"context"

	"ledger"
)

func commit(ctx context.Context, l *ledger.Ledger, pending []*ledger.Proposal) {
	p, _ := l.ProposeAll(ctx, "corr-1")
	l.Commit(ctx, p)
	l.Commit(ctx, pending...)
}

func emptyCommit(ctx context.Context, l *ledger.Ledger) {
	l.Commit(ctx) // want "Commit called with no proposals"
}
