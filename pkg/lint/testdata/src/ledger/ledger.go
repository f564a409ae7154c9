// Package ledger is a stub for testing the ledgercommit analyzer.
package ledger

import "context"

type Proposal struct{}

type CommitBatch struct{}

type Ledger struct{}

func (l *Ledger) ProposeAll(ctx context.Context, correlationID string) (*Proposal, error) {
	return &Proposal{}, nil
}

func (l *Ledger) Commit(ctx context.Context, proposals ...*Proposal) (*CommitBatch, error) {
	return nil, nil
}

// Journal has a Commit method that is not the ledger's.
type Journal struct{}

func (j *Journal) Commit() error { return nil }
