// Package constraint implements Constraints (spec §4.2): a composable list
// of predicates that veto or down-weight an activity's execution, each
// either an arithmetic expression over domain variables or a scripted
// callable.
package constraint

import (
	"context"
	"fmt"
	"log/slog"

	"abe/internal/expr"
	"abe/internal/script"
)

// Item is one constraint: either an expression or a script callable, never
// both. Kind reports which.
type Item struct {
	Kind   Kind
	Source string       // original expression text, for diagnostics/config round-trip
	AST    expr.Node    // parsed expression, set when Kind == KindExpr
	Handle script.Handle // script callable, set when Kind == KindScript
}

// Kind identifies which branch of Item is populated.
type Kind int

const (
	KindExpr Kind = iota
	KindScript
)

// Compile parses source as an expression constraint item.
func Compile(source string) (Item, error) {
	node, err := expr.Parse(source)
	if err != nil {
		return Item{}, fmt.Errorf("compile constraint %q: %w", source, err)
	}
	return Item{Kind: KindExpr, Source: source, AST: node}, nil
}

// FromHandle builds a script-callable constraint item.
func FromHandle(handle script.Handle) Item {
	return Item{Kind: KindScript, Handle: handle}
}

// List is an ordered set of constraint items, evaluated to min(p_i) with
// short-circuit on the first item returning exactly 0 (spec §4.2).
type List struct {
	Items []Item
}

// Eval evaluates every item against vars (for expression items) and eng
// (for script items), in order, short-circuiting to 0 on the first item
// that evaluates to exactly 0. Returns the minimum across all items
// evaluated, or 1 for an empty list (no constraint means "always pass").
func (l List) Eval(ctx context.Context, eng script.Engine, vars expr.Vars) (float64, error) {
	if len(l.Items) == 0 {
		return 1, nil
	}

	min := -1.0
	for _, item := range l.Items {
		p, err := item.eval(ctx, eng, vars)
		if err != nil {
			return 0, err
		}
		if p == 0 {
			return 0, nil
		}
		if min < 0 || p < min {
			min = p
		}
	}
	return min, nil
}

// EvalTraced evaluates the list exactly like Eval, additionally emitting a
// structured log line on logger. stand.trace (SPEC_FULL §4 supplemented
// features) flips the line from Debug to Info so a single traced stand's
// evaluations surface without raising the engine-wide default level.
func (l List) EvalTraced(ctx context.Context, eng script.Engine, vars expr.Vars, logger *slog.Logger, trace bool) (float64, error) {
	v, err := l.Eval(ctx, eng, vars)
	level := slog.LevelDebug
	if trace {
		level = slog.LevelInfo
	}
	logger.Log(ctx, level, "constraints evaluated", "value", v, "error", err)
	return v, err
}

func (item Item) eval(ctx context.Context, eng script.Engine, vars expr.Vars) (float64, error) {
	switch item.Kind {
	case KindExpr:
		v, err := expr.Eval(item.AST, vars)
		if err != nil {
			return 0, fmt.Errorf("constraint %q: %w", item.Source, err)
		}
		return v, nil
	case KindScript:
		result, err := eng.Call(ctx, item.Handle, nil)
		if err != nil {
			return 0, script.WrapError(0, "", "constraint", err)
		}
		if result.Truthy() {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("constraint: unknown item kind %d", item.Kind)
	}
}
