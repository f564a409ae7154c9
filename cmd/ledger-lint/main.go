// Command ledger-lint reports ledger commits made outside the orchestrator.
//
// Usage:
//
//	ledger-lint ./...
//
// See pkg/lint for the rules it enforces.
package main

import (
	"github.com/example/o2c-lite/pkg/lint"
	"golang.org/x/tools/go/analysis/singlechecker"
)

func main() {
	singlechecker.Main(lint.Analyzer)
}
