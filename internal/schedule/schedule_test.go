package schedule

import (
	"context"
	"log/slog"
	"testing"
)

// capturingHandler records the level of the last record it handled, so
// tests can assert ValueTraced's Debug/Info split without a real sink.
type capturingHandler struct {
	lastLevel slog.Level
}

func (h *capturingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *capturingHandler) Handle(ctx context.Context, r slog.Record) error {
	h.lastLevel = r.Level
	return nil
}
func (h *capturingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *capturingHandler) WithGroup(string) slog.Handler      { return h }

func TestValueForceExecutionPastOptimum(t *testing.T) {
	s := Schedule{TMin: Unset, TOpt: 50, TMax: Unset, TMinRel: Unset, TOptRel: Unset, TMaxRel: Unset, ForceExecution: true}
	got := s.Value(0, 80, 100)
	if got != 1 {
		t.Fatalf("Value() = %v, want 1 (force)", got)
	}
}

func TestValueExpiredWithoutForce(t *testing.T) {
	s := Schedule{TMin: 10, TOpt: 20, TMax: 30, ForceExecution: false}
	got := s.Value(0, 40, 100)
	if got != Expired {
		t.Fatalf("Value() = %v, want %v (expired)", got, Expired)
	}
}

func TestValueBelowMinIsZero(t *testing.T) {
	s := Schedule{TMin: 10, TOpt: 20, TMax: 30}
	got := s.Value(0, 5, 100)
	if got != 0 {
		t.Fatalf("Value() = %v, want 0 (below min)", got)
	}
}

func TestValueAtOptimumIsOne(t *testing.T) {
	s := Schedule{TMin: 10, TOpt: 20, TMax: 30, TMinRel: Unset, TOptRel: Unset, TMaxRel: Unset}
	got := s.Value(0, 20, 100)
	if got != 1 {
		t.Fatalf("Value() = %v, want 1 (at optimum)", got)
	}
}

func TestValueRepeatFiresOnInterval(t *testing.T) {
	s := Schedule{Repeat: true, RepeatInterval: 5}
	if got := s.Value(15, 0, 100); got != 1 {
		t.Fatalf("Value() at year 15 = %v, want 1", got)
	}
	if got := s.Value(16, 0, 100); got != 0 {
		t.Fatalf("Value() at year 16 = %v, want 0", got)
	}
}

func TestValueRelativeWindow(t *testing.T) {
	s := Schedule{TMin: Unset, TOpt: Unset, TMax: Unset, TMinRel: 0.1, TOptRel: 0.2, TMaxRel: 0.3}
	u := 100.0
	if got := s.Value(0, 20, u); got != 1 {
		t.Fatalf("Value() at rel-optimum = %v, want 1", got)
	}
	if got := s.Value(0, 5, u); got != 0 {
		t.Fatalf("Value() below rel-min = %v, want 0", got)
	}
	if got := s.Value(0, 35, u); got != Expired {
		t.Fatalf("Value() above rel-max without force = %v, want %v", got, Expired)
	}
}

func TestValueMonotonicityRisingThenFalling(t *testing.T) {
	s := Schedule{TMin: 10, TOpt: 20, TMax: 30, TMinRel: Unset, TOptRel: Unset, TMaxRel: Unset}
	prev := -2.0
	for age := 10; age <= 20; age++ {
		v := s.Value(0, age, 100)
		if v < prev {
			t.Fatalf("value decreased on rising edge at age=%d: %v < %v", age, v, prev)
		}
		prev = v
	}
	prev = 2.0
	for age := 20; age <= 30; age++ {
		v := s.Value(0, age, 100)
		if v > prev {
			t.Fatalf("value increased on falling edge at age=%d: %v > %v", age, v, prev)
		}
		prev = v
	}
}

func TestValidateRejectsCrossedBounds(t *testing.T) {
	s := Schedule{TMin: 30, TOpt: 20, TMax: 10}
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for tmin > topt > tmax, got nil")
	}
}

func TestValidateRejectsMixedAbsoluteAndRelative(t *testing.T) {
	s := Schedule{TMin: Unset, TOpt: 20, TMax: Unset, TMinRel: Unset, TOptRel: 0.2, TMaxRel: Unset}
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for mixed absolute/relative bounds, got nil")
	}
}

func TestValidateRequiresOptimum(t *testing.T) {
	s := Schedule{TMin: 10, TOpt: Unset, TMax: 30, TMinRel: Unset, TOptRel: Unset, TMaxRel: Unset}
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for missing topt/toptRel, got nil")
	}
}

func TestValidateAcceptsRepeatWithoutOptimum(t *testing.T) {
	s := Schedule{Repeat: true, RepeatInterval: 5}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil for repeating schedule", err)
	}
}

func TestMinValuePrefersAbsoluteMin(t *testing.T) {
	s := Schedule{TMin: 15, TOpt: 20, TMax: 30}
	if got := s.MinValue(100); got != 15 {
		t.Fatalf("MinValue() = %v, want 15", got)
	}
}

func TestMinValueFallsBackToRelative(t *testing.T) {
	s := Schedule{TMin: Unset, TOpt: Unset, TMax: Unset, TMinRel: 0.1, TOptRel: 0.2, TMaxRel: 0.3}
	if got := s.MinValue(100); got != 10 {
		t.Fatalf("MinValue() = %v, want 10", got)
	}
}

func TestValueTracedMatchesValue(t *testing.T) {
	s := Schedule{TMin: Unset, TOpt: 50, TMax: Unset, ForceExecution: true}
	h := &capturingHandler{}
	logger := slog.New(h)

	got := s.ValueTraced(context.Background(), logger, false, 0, 80, 100)
	want := s.Value(0, 80, 100)
	if got != want {
		t.Fatalf("ValueTraced() = %v, want %v (same as Value())", got, want)
	}
}

func TestValueTracedLogsDebugUntraced(t *testing.T) {
	s := Schedule{TMin: Unset, TOpt: 50, TMax: Unset, ForceExecution: true}
	h := &capturingHandler{}
	logger := slog.New(h)

	s.ValueTraced(context.Background(), logger, false, 0, 80, 100)
	if h.lastLevel != slog.LevelDebug {
		t.Fatalf("untraced ValueTraced logged at %v, want Debug", h.lastLevel)
	}
}

func TestValueTracedLogsInfoWhenTraced(t *testing.T) {
	s := Schedule{TMin: Unset, TOpt: 50, TMax: Unset, ForceExecution: true}
	h := &capturingHandler{}
	logger := slog.New(h)

	s.ValueTraced(context.Background(), logger, true, 0, 80, 100)
	if h.lastLevel != slog.LevelInfo {
		t.Fatalf("traced ValueTraced logged at %v, want Info (stand.trace surfaces without raising the default level)", h.lastLevel)
	}
}
