// Package sealedswitch provides a static analyzer that reports type switches
// over sealed interfaces which do not handle every implementation.
//
// An interface is sealed when it has an unexported method, so only types in
// its own package can implement it. query.Element is the main example: a
// switch that forgets *query.Alternation silently drops elements.
//
// The analyzer flags a type switch when:
// 1. The switched value has a sealed interface type
// 2. The switch has no default clause
// 3. At least one implementation in the interface's package has no case
//
// Usage:
//
//	go run ./analysis/sealedswitch/cmd/sealedswitch ./...
package sealedswitch

import (
	"go/ast"
	"go/types"
	"strings"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

// Analyzer is the sealedswitch analyzer.
var Analyzer = &analysis.Analyzer{
	Name:     "sealedswitch",
	Doc:      "reports type switches over sealed interfaces that miss an implementation",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

func run(pass *analysis.Pass) (interface{}, error) {
	insp := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)

	nodeFilter := []ast.Node{(*ast.TypeSwitchStmt)(nil)}
	insp.Preorder(nodeFilter, func(n ast.Node) {
		sw := n.(*ast.TypeSwitchStmt)

		subject := switchSubject(sw)
		if subject == nil {
			return
		}
		named, iface, ok := sealedInterface(pass.TypesInfo.TypeOf(subject))
		if !ok {
			return
		}

		var cases []types.Type
		for _, stmt := range sw.Body.List {
			clause, ok := stmt.(*ast.CaseClause)
			if !ok {
				continue
			}
			if clause.List == nil {
				return // default handles the rest
			}
			for _, expr := range clause.List {
				if t := pass.TypesInfo.TypeOf(expr); t != nil {
					cases = append(cases, t)
				}
			}
		}

		qualifier := func(p *types.Package) string { return p.Name() }
		var missing []string
		for _, v := range implementations(named, iface) {
			if !covered(v, cases) {
				missing = append(missing, types.TypeString(v, qualifier))
			}
		}
		if len(missing) > 0 {
			pass.Reportf(sw.Pos(), "type switch on %s is missing %s",
				types.TypeString(named, qualifier), strings.Join(missing, ", "))
		}
	})

	return nil, nil
}

// switchSubject returns x from `switch x.(type)` or `switch v := x.(type)`.
func switchSubject(sw *ast.TypeSwitchStmt) ast.Expr {
	var expr ast.Expr
	switch s := sw.Assign.(type) {
	case *ast.ExprStmt:
		expr = s.X
	case *ast.AssignStmt:
		if len(s.Rhs) != 1 {
			return nil
		}
		expr = s.Rhs[0]
	}
	if assert, ok := expr.(*ast.TypeAssertExpr); ok {
		return assert.X
	}
	return nil
}

// sealedInterface reports whether t is a named interface with an unexported method.
func sealedInterface(t types.Type) (*types.Named, *types.Interface, bool) {
	if t == nil {
		return nil, nil, false
	}
	named, ok := types.Unalias(t).(*types.Named)
	if !ok || named.Obj().Pkg() == nil {
		return nil, nil, false
	}
	iface, ok := named.Underlying().(*types.Interface)
	if !ok {
		return nil, nil, false
	}
	for i := 0; i < iface.NumMethods(); i++ {
		if !iface.Method(i).Exported() {
			return named, iface, true
		}
	}
	return nil, nil, false
}

// implementations lists the concrete types in named's package that satisfy
// iface, in scope order. Pointer receivers yield the pointer type.
func implementations(named *types.Named, iface *types.Interface) []types.Type {
	scope := named.Obj().Pkg().Scope()

	var impls []types.Type
	for _, name := range scope.Names() {
		obj, ok := scope.Lookup(name).(*types.TypeName)
		if !ok || obj == named.Obj() {
			continue
		}
		t := obj.Type()
		if types.IsInterface(t) {
			continue
		}
		if n, ok := t.(*types.Named); ok && n.TypeParams().Len() > 0 {
			continue
		}
		switch {
		case types.Implements(t, iface):
			impls = append(impls, t)
		case types.Implements(types.NewPointer(t), iface):
			impls = append(impls, types.NewPointer(t))
		}
	}
	return impls
}

// covered reports whether one of the case types names v, or *v when v is a value type.
func covered(v types.Type, cases []types.Type) bool {
	for _, c := range cases {
		if types.Identical(c, v) {
			return true
		}
		if p, ok := c.(*types.Pointer); ok && types.Identical(p.Elem(), v) {
			return true
		}
	}
	return false
}
