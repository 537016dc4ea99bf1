package graph

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/calyptra/flowgrid/graph/state"
)

// ExprPredicate compiles an expr-lang expression into an edge predicate.
// The expression sees the state entries as top-level variables plus a
// "meta" map of metadata. It must evaluate to a boolean. Builtin functions
// are disabled so state keys that collide with them (count, len, max)
// resolve to the state value.
//
//	p, err := graph.ExprPredicate(`score > 0.8 && meta["flowgrid.attempt.check"] == ""`)
func ExprPredicate(src string) (Predicate, error) {
	prog, err := expr.Compile(src, expr.AsBool(), expr.AllowUndefinedVariables(), expr.DisableAllBuiltins())
	if err != nil {
		return nil, fmt.Errorf("compile predicate %q: %w", src, err)
	}
	return func(s *state.State) (bool, error) {
		out, err := runExpr(prog, s)
		if err != nil {
			return false, err
		}
		b, ok := out.(bool)
		if !ok {
			return false, fmt.Errorf("predicate %q returned %T, want bool", src, out)
		}
		return b, nil
	}, nil
}

// MustExprPredicate is ExprPredicate for statically known expressions.
// It panics on compile errors.
func MustExprPredicate(src string) Predicate {
	p, err := ExprPredicate(src)
	if err != nil {
		panic(err)
	}
	return p
}

// ExprRouteFunc compiles an expression that evaluates to a node ID string;
// an empty string stops the branch. Used by expression-driven routers.
func ExprRouteFunc(src string) (func(*state.State) (string, error), error) {
	prog, err := expr.Compile(src, expr.AllowUndefinedVariables(), expr.DisableAllBuiltins())
	if err != nil {
		return nil, fmt.Errorf("compile route expression %q: %w", src, err)
	}
	return func(s *state.State) (string, error) {
		out, err := runExpr(prog, s)
		if err != nil {
			return "", err
		}
		if out == nil {
			return "", nil
		}
		target, ok := out.(string)
		if !ok {
			return "", fmt.Errorf("route expression %q returned %T, want string", src, out)
		}
		return target, nil
	}, nil
}

func runExpr(prog *vm.Program, s *state.State) (any, error) {
	env := s.Env()
	env["meta"] = s.MetaMap()
	return expr.Run(prog, env)
}
