// Package event implements the fixed set of named lifecycle hooks
// dispatched to user scripts from an Activity or STP: onCreate, onSetup,
// onEnter, onExit, onExecute, onExecuted, onCancel, onEvaluate.
package event

import (
	"context"
	"fmt"

	"abe/internal/script"
)

// Name identifies one of the fixed lifecycle hooks.
type Name string

const (
	OnCreate   Name = "onCreate"
	OnSetup    Name = "onSetup"
	OnEnter    Name = "onEnter"
	OnExit     Name = "onExit"
	OnExecute  Name = "onExecute"
	OnExecuted Name = "onExecuted"
	OnCancel   Name = "onCancel"
	OnEvaluate Name = "onEvaluate"
)

// Hooks is a user-object-derived registration of callables keyed by hook
// name. Not every hook needs to be present; run() on an unregistered hook
// is a no-op that returns the empty string.
type Hooks struct {
	handles map[Name]script.Handle
}

// NewHooks builds a Hooks registration from a script object, picking out
// whichever of the fixed hook names the object defines.
func NewHooks(obj script.Object) Hooks {
	h := Hooks{handles: make(map[Name]script.Handle)}
	for _, name := range []Name{OnCreate, OnSetup, OnEnter, OnExit, OnExecute, OnExecuted, OnCancel, OnEvaluate} {
		if handle, ok := obj.Lookup(string(name)); ok {
			h.handles[name] = handle
		}
	}
	return h
}

// Has reports whether a callable is registered for name.
func (h Hooks) Has(name Name) bool {
	_, ok := h.handles[name]
	return ok
}

// Run switches scripting context to stand, invokes the callable bound to
// name (if any), and returns the string representation of its result.
// onEvaluate returning the literal "false" is surfaced to the caller
// unchanged — callers (stand.execute) interpret that as cancellation.
func Run(ctx context.Context, eng script.Engine, name Name, h Hooks, standContext script.Value) (string, error) {
	handle, ok := h.handles[name]
	if !ok {
		return "", nil
	}

	if err := eng.GlobalSet("stand", standContext); err != nil {
		return "", fmt.Errorf("event %s: switch script context: %w", name, err)
	}

	result, err := eng.Call(ctx, handle, nil)
	if err != nil {
		return "", fmt.Errorf("event %s: %w", name, err)
	}
	return result.String(), nil
}
