// Package activity implements the polymorphic Activity type (spec §4.4,
// §9): one step in an STP, modeled as a sum type over its common header
// (name, schedule, constraints, events, flags) and a variant-specific
// configuration arm, following the "sum type without inheritance" design
// note — common fields live in Activity itself, variant fields live in
// the Kind-selected pointer.
package activity

import (
	"context"
	"fmt"

	"abe/internal/constraint"
	"abe/internal/event"
	"abe/internal/expr"
	"abe/internal/hostsim"
	"abe/internal/schedule"
	"abe/internal/script"
)

// Kind selects which configuration arm of an Activity is populated.
type Kind int

const (
	KindGeneral Kind = iota
	KindScheduled
	KindPlanting
	KindSalvage
	KindThinning
)

func (k Kind) String() string {
	switch k {
	case KindGeneral:
		return "general"
	case KindScheduled:
		return "scheduled"
	case KindPlanting:
		return "planting"
	case KindSalvage:
		return "salvage"
	case KindThinning:
		return "thinning"
	default:
		return "unknown"
	}
}

// Flags is a per (stand x activity) record (spec §3 ActivityFlags).
type Flags struct {
	Enabled          bool
	Active           bool
	Pending          bool
	FinalHarvest     bool
	Scheduled        bool
	DoSimulate       bool
	ExecuteImmediate bool
	ForcedNext       bool
	Salvage          bool
	Repeating        bool
}

// Activity is one step in an STP (spec §4.4). Common fields are always
// populated; exactly one of General/Scheduled/Planting/Salvage/Thinning
// is non-nil, selected by Kind.
type Activity struct {
	Name                string
	Index               int
	Flags               Flags
	Schedule            schedule.Schedule
	Constraints         constraint.List
	Events              event.Hooks
	AllowedPropertyKeys map[string]struct{}

	Kind      Kind
	General   *GeneralConfig
	Scheduled *ScheduledConfig
	Planting  *PlantingConfig
	Salvage   *SalvageConfig
	Thinning  *ThinningConfig
}

// EarliestSchedule returns the schedule's earliest possible firing point,
// used by STP.setup to sort activities chronologically (spec §4.5).
func (a *Activity) EarliestSchedule(u float64) float64 {
	return a.Schedule.MinValue(u)
}

// Stand is the subset of FMStand's behavior an activity variant needs,
// kept as an interface here so this package never imports internal/stand
// (which in turn holds a *STP built from Activity values).
type Stand interface {
	ID() int
	ScriptValue() script.Value
	Vars() expr.Vars
	SetFlag(key string, value float64)
	Flag(key string) float64
	Area() float64
	DisturbedTimberPerArea() float64
	Trees() []hostsim.Tree
	SetScheduledHarvest(volume float64)
	Pixels() []hostsim.Point
	Saplings() hostsim.SaplingGrid
	DisturbedTimber() float64
	ForcePrepone(years int)
	Resplit(ctx context.Context) error
	AddExtraHarvest(volume float64, harvestType string)
	RunSalvageFlag() bool
	SetRunSalvageFlag(v bool)
}

// Execute runs the activity against stand, dispatching on Kind. It
// returns whether the activity actually ran (false means the variant
// reported it did not run, and onCancel fires instead of onExecuted). A
// Scheduled activity always reports true here, since its ticket is
// already being fired.
func Execute(ctx context.Context, eng script.Engine, a *Activity, stand Stand) (bool, error) {
	if _, err := event.Run(ctx, eng, event.OnExecute, a.Events, stand.ScriptValue()); err != nil {
		return false, err
	}

	var (
		ran bool
		err error
	)
	switch a.Kind {
	case KindGeneral:
		ran, err = executeGeneral(ctx, eng, a.General, stand)
	case KindPlanting:
		ran, err = executePlanting(ctx, a.Planting, stand)
	case KindSalvage:
		ran, err = executeSalvage(ctx, eng, a, stand)
	case KindThinning:
		ran, err = executeThinning(ctx, a.Thinning, stand)
	case KindScheduled:
		ran = true // the caller already decided to fire this ticket.
	default:
		return false, fmt.Errorf("activity %q: unknown kind %v", a.Name, a.Kind)
	}
	if err != nil {
		return false, script.WrapError(stand.ID(), a.Name, string(event.OnExecute), err)
	}

	if ran {
		if _, err := event.Run(ctx, eng, event.OnExecuted, a.Events, stand.ScriptValue()); err != nil {
			return false, err
		}
	} else {
		if _, err := event.Run(ctx, eng, event.OnCancel, a.Events, stand.ScriptValue()); err != nil {
			return false, err
		}
	}
	return ran, nil
}

// Evaluate runs the activity's evaluation step, used to decide whether a
// Scheduled activity should be queued this year (spec §4.6 step 7).
func Evaluate(ctx context.Context, eng script.Engine, a *Activity, stand Stand) (bool, error) {
	result, err := event.Run(ctx, eng, event.OnEvaluate, a.Events, stand.ScriptValue())
	if err != nil {
		return false, err
	}
	if result == "false" {
		return false, nil
	}

	switch a.Kind {
	case KindScheduled:
		return evaluateScheduled(a.Scheduled, stand)
	default:
		// No evaluate step beyond onEvaluate for the other variants; a
		// non-cancelling onEvaluate result means "proceed".
		return true, nil
	}
}
