// Package lint provides static analysis checks for ledger usage.
//
// Only the orchestrator may commit to the ledger. Handlers propose changes
// and hand the proposals back; a handler that commits on its own escapes
// compensation and the single-commit-point guarantee. This analyzer reports:
//   - calls to (*ledger.Ledger).Commit outside the service and ledger packages
//   - Commit calls with no proposals, which always fail
//
// Usage:
//
//	go install github.com/example/o2c-lite/cmd/ledger-lint@latest
//	ledger-lint ./...
package lint

import (
	"go/ast"
	"go/types"
	"strings"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

// Analyzer is the ledgercommit analyzer.
var Analyzer = &analysis.Analyzer{
	Name:     "ledgercommit",
	Doc:      "reports ledger commits outside the orchestrator",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

// allowedPackages may call Commit. Matched against the last element of the
// import path.
var allowedPackages = map[string]bool{
	"service": true,
	"ledger":  true,
}

func run(pass *analysis.Pass) (interface{}, error) {
	inspect := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)

	nodeFilter := []ast.Node{(*ast.CallExpr)(nil)}

	inspect.Preorder(nodeFilter, func(n ast.Node) {
		call := n.(*ast.CallExpr)
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok || sel.Sel.Name != "Commit" {
			return
		}
		if !isLedgerMethod(pass, sel) {
			return
		}

		pkg := lastElem(pass.Pkg.Path())
		if !allowedPackages[pkg] {
			pass.Reportf(call.Pos(), "ledger Commit called from package %s - only the orchestrator commits; return proposals instead", pkg)
			return
		}
		if pkg != "ledger" && len(call.Args) == 1 && !call.Ellipsis.IsValid() {
			pass.Reportf(call.Pos(), "Commit called with no proposals - this always fails")
		}
	})

	return nil, nil
}

// isLedgerMethod reports whether sel resolves to a method on the Ledger type
// of a package named ledger.
func isLedgerMethod(pass *analysis.Pass, sel *ast.SelectorExpr) bool {
	fn, ok := pass.TypesInfo.Uses[sel.Sel].(*types.Func)
	if !ok || fn.Pkg() == nil || lastElem(fn.Pkg().Path()) != "ledger" {
		return false
	}
	sig, ok := fn.Type().(*types.Signature)
	if !ok || sig.Recv() == nil {
		return false
	}
	recv := sig.Recv().Type()
	if ptr, ok := recv.(*types.Pointer); ok {
		recv = ptr.Elem()
	}
	named, ok := recv.(*types.Named)
	return ok && named.Obj().Name() == "Ledger"
}

func lastElem(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}
