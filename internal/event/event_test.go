package event

import (
	"context"
	"strings"
	"testing"

	"abe/internal/hostsim/fake"
	"abe/internal/script"
)

// mapObject is a minimal script.Object backed by a name set, for building
// Hooks registrations in tests without a real scripting engine.
type mapObject struct {
	names map[string]bool
}

func (o mapObject) Lookup(name string) (script.Handle, bool) {
	if !o.names[name] {
		return script.Handle{}, false
	}
	return script.NewHandle(name), true
}

func TestNewHooksOnlyRegistersPresentNames(t *testing.T) {
	obj := mapObject{names: map[string]bool{"onEnter": true, "onExecute": true}}
	h := NewHooks(obj)

	if !h.Has(OnEnter) || !h.Has(OnExecute) {
		t.Fatal("expected onEnter and onExecute to be registered")
	}
	if h.Has(OnExit) || h.Has(OnCreate) {
		t.Fatal("expected unregistered hooks to report Has == false")
	}
}

func TestRunUnregisteredHookIsNoop(t *testing.T) {
	eng := fake.NewEngine()
	h := NewHooks(mapObject{names: map[string]bool{}})

	result, err := Run(context.Background(), eng, OnEnter, h, script.StringValue("stand"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "" {
		t.Fatalf("result = %q, want empty", result)
	}
}

func TestRunSwitchesContextAndInvokes(t *testing.T) {
	eng := fake.NewEngine()
	var sawStand script.Value
	eng.Register("onEnter", func(ctx context.Context, args []script.Value) (script.Value, error) {
		sawStand = eng.Globals["stand"]
		return script.StringValue("entered"), nil
	})
	h := NewHooks(mapObject{names: map[string]bool{"onEnter": true}})

	result, err := Run(context.Background(), eng, OnEnter, h, script.StringValue("stand-42"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "entered" {
		t.Fatalf("result = %q, want %q", result, "entered")
	}
	if sawStand == nil || sawStand.String() != "stand-42" {
		t.Fatalf("stand context = %v, want stand-42", sawStand)
	}
}

func TestRunOnEvaluateFalseIsSurfacedVerbatim(t *testing.T) {
	eng := fake.NewEngine()
	eng.Register("onEvaluate", func(ctx context.Context, args []script.Value) (script.Value, error) {
		return script.StringValue("false"), nil
	})
	h := NewHooks(mapObject{names: map[string]bool{"onEvaluate": true}})

	result, err := Run(context.Background(), eng, OnEvaluate, h, script.StringValue("stand"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "false" {
		t.Fatalf("result = %q, want literal \"false\" so callers can detect cancellation", result)
	}
}

func TestRunWrapsCallError(t *testing.T) {
	eng := fake.NewEngine()
	h := NewHooks(mapObject{names: map[string]bool{"onExecute": true}})
	// No callable registered for "onExecute" under that exact name mismatch
	// triggers the fake engine's own "no callable registered" error, which
	// Run must wrap with the event name.
	_, err := Run(context.Background(), eng, OnExecute, h, script.StringValue("stand"))
	if err == nil {
		t.Fatal("expected error for unregistered callable")
	}
	if !strings.HasPrefix(err.Error(), "event onExecute: ") {
		t.Fatalf("error = %q, want it wrapped with the event name", err)
	}
}
