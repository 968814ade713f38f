// Package scheduler implements the per-unit Scheduler (spec §4.7): a
// priority queue of pending harvest tickets that realises a unit's annual
// harvest target while enforcing neighbour-harvest exclusion and
// preponement/postponement rules.
package scheduler

import (
	"cmp"
	"context"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"abe/internal/activity"
	"abe/internal/expr"
	"abe/internal/hostsim"
	"abe/internal/logging"
	"abe/internal/schedule"
	"abe/internal/script"
	"abe/internal/stand"
)

// HarvestType classifies a ticket's planned harvest (spec §3 SchedulerItem).
type HarvestType int

const (
	HarvestThinning HarvestType = iota
	HarvestEndHarvest
	HarvestSalvage
)

func (h HarvestType) String() string {
	switch h {
	case HarvestThinning:
		return "thinning"
	case HarvestEndHarvest:
		return "endHarvest"
	case HarvestSalvage:
		return "salvage"
	default:
		return "unknown"
	}
}

// neighbourBanYears is how long a final harvest bans its 4-neighbours
// from executing (spec §4.7 step 6, §8 invariant 6).
const neighbourBanYears = 5

// minExecProbability is the scheduler's execution-probability floor
// (spec §9 open question: the source always returns the constant 0.5
// rather than consulting the configured minRating expression; this
// rework keeps that behavior: minRating is parsed and stored on Options,
// and Run does not read it — see DESIGN.md).
const minExecProbability = 0.5

// Ticket is a pending harvest intent sitting in a Scheduler queue (spec
// §3 SchedulerItem).
type Ticket struct {
	ID uuid.UUID

	Stand    *stand.Stand
	Flags    *activity.Flags
	Activity *activity.Activity

	HarvestVolume   float64 // m3
	HarvestPerArea  float64 // m3/ha
	HarvestType     HarvestType
	EnterYear       int
	ScheduleScore   float64
	HarvestScore    float64
	Score           float64
	ForbiddenTo     int
	OptimalYear     int
}

// Options mirrors spec §3's SchedulerOptions, the per-agent tuning a
// Scheduler is built with.
type Options struct {
	UseScheduler             bool
	UseSustainableHarvest    float64
	MinScheduleHarvest       float64
	MaxScheduleHarvest       float64
	MaxHarvestOvershoot      float64
	HarvestIntensity         float64
	ScheduleRebounceDuration int
	DeviationDecayRate       float64
	MinRating                expr.Node // advisory only, see minExecProbability
}

// Scheduler is the per-unit ticket priority queue (spec §4.7).
type Scheduler struct {
	Items []*Ticket

	ExtraHarvest    float64
	FinalCutTarget  float64 // m3/ha/yr
	ThinningTarget  float64 // m3/ha/yr

	Options     Options
	Grid        hostsim.StandGrid
	Script      script.Engine
	Logger      *slog.Logger
	currentYear int
}

// New builds an empty Scheduler for one unit.
func New(grid hostsim.StandGrid, eng script.Engine, opts Options, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		Options: opts,
		Grid:    grid,
		Script:  eng,
		Logger:  logging.Default(logger).With("component", "scheduler"),
	}
}

// SetYear records the current simulation year, consulted by AddTicket,
// ForceHarvest and Run.
func (s *Scheduler) SetYear(year int) { s.currentYear = year }

// AddTicket enqueues a ticket for the given stand/activity, marking the
// activity's flag pending (spec §4.7 addTicket). Implements
// stand.Scheduler structurally.
func (s *Scheduler) AddTicket(st *stand.Stand, flags *activity.Flags, act *activity.Activity, pSchedule, pExecute float64) {
	flags.Pending = true

	harvestType := HarvestThinning
	if flags.FinalHarvest {
		harvestType = HarvestEndHarvest
	}
	if flags.Salvage {
		harvestType = HarvestSalvage
	}

	harvest := st.ScheduledHarvestVolume()
	var harvestPerArea float64
	if area := st.Area(); area > 0 {
		harvestPerArea = harvest / (area / 10000)
	}

	t := &Ticket{
		ID:             uuid.New(),
		Stand:          st,
		Flags:          flags,
		Activity:       act,
		HarvestVolume:  harvest,
		HarvestPerArea: harvestPerArea,
		HarvestType:    harvestType,
		EnterYear:      s.currentYear,
		ScheduleScore:  pSchedule,
		HarvestScore:   pExecute,
		Score:          pSchedule * pExecute,
		OptimalYear:    optimalYear(act, st, s.currentYear),
	}
	s.Items = append(s.Items, t)
}

// AddExtraHarvest books extra harvest volume (e.g. salvage-sourced) that
// counts against the unit's annual target on the next plan update (spec
// §4.7 addExtraHarvest). Implements stand.Scheduler structurally.
func (s *Scheduler) AddExtraHarvest(st *stand.Stand, volume float64, harvestType string) {
	s.ExtraHarvest += volume
	s.Logger.Debug("extra harvest booked", "stand", st.ID(), "volume", volume, "type", harvestType)
}

// ForceHarvest finds the first ticket for stand whose optimal year is at
// least maxYears in the future and marks it for immediate execution,
// bumping its score above 1 so the next Run fires it (spec §4.7
// forceHarvest). Implements stand.Scheduler structurally.
func (s *Scheduler) ForceHarvest(st *stand.Stand, maxYears int) {
	threshold := s.currentYear + maxYears
	for _, t := range s.Items {
		if t.Stand != st {
			continue
		}
		if t.OptimalYear >= threshold {
			t.Flags.ExecuteImmediate = true
			t.Score = 1.01
			return
		}
	}
}

// optimalYear estimates the calendar year at which act's schedule
// reaches its optimum for st, from the schedule's absolute or
// rotation-relative topt.
func optimalYear(act *activity.Activity, st *stand.Stand, currentYear int) int {
	sch := act.Schedule
	var target float64
	switch {
	case sch.TOpt != schedule.Unset:
		target = float64(sch.TOpt)
	case sch.TOptRel != schedule.Unset:
		target = sch.TOptRel * st.U()
	default:
		return currentYear
	}
	if sch.Absolute {
		return int(target)
	}
	return currentYear + int(target) - st.AbsoluteAge()
}

// SetTargets pushes the unit's decadal/annual plan targets (spec §4.8)
// to the scheduler.
func (s *Scheduler) SetTargets(finalCutTarget, thinningTarget float64) {
	s.FinalCutTarget = finalCutTarget
	s.ThinningTarget = thinningTarget
}

// Run walks the pending ticket queue in score-descending order and fires
// every ticket at or above the execution-probability threshold, applying
// neighbour-harvest bans after a final harvest (spec §4.7 run). Returns
// the realised harvest volume (m3) from this call.
func (s *Scheduler) Run(ctx context.Context) (float64, error) {
	// Step 1: refresh scheduleScore from the activity's current schedule
	// value; drop tickets whose combined score becomes 0.
	live := make([]*Ticket, 0, len(s.Items))
	for _, t := range s.Items {
		t.ScheduleScore = t.Activity.Schedule.Value(s.currentYear, t.Stand.AbsoluteAge(), t.Stand.U())
		if t.ScheduleScore == schedule.Expired {
			t.ScheduleScore = 0
		}
		t.Score = t.ScheduleScore * t.HarvestScore
		if t.Flags.ExecuteImmediate {
			t.Score = 1.01
		}
		if t.Score == 0 {
			t.Flags.Pending = false
			if err := t.Stand.AfterExecution(ctx, s.Script, s.currentYear, true); err != nil {
				return 0, err
			}
			continue
		}
		live = append(live, t)
	}
	s.Items = live

	// Step 2: sort descending by score, ties broken by earlier enterYear.
	slices.SortStableFunc(s.Items, func(a, b *Ticket) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.EnterYear, b.EnterYear)
	})

	var realised float64
	executed := make(map[*Ticket]bool)

	for _, t := range s.Items {
		if t.ForbiddenTo >= s.currentYear {
			continue
		}
		if t.Score < minExecProbability && !t.Flags.ExecuteImmediate {
			continue
		}

		ran, err := activity.Execute(ctx, s.Script, t.Activity, t.Stand)
		if err != nil {
			return realised, err
		}
		t.Stand.AddRealisedHarvest(t.HarvestVolume)
		realised += t.HarvestVolume
		t.Flags.Pending = false

		if !t.Flags.Repeating {
			t.Flags.Active = false
			if err := t.Stand.AfterExecution(ctx, s.Script, s.currentYear, !ran); err != nil {
				return realised, err
			}
		}
		executed[t] = true

		if t.HarvestType == HarvestEndHarvest {
			t.ForbiddenTo = s.currentYear + neighbourBanYears
			s.banNeighbours(t.Stand.ID(), t.Stand.UnitID())
		}
	}

	if len(executed) > 0 {
		remaining := s.Items[:0]
		for _, t := range s.Items {
			if !executed[t] {
				remaining = append(remaining, t)
			}
		}
		s.Items = remaining
	}

	return realised, nil
}

// banNeighbours sets ForbiddenTo on every other ticket whose stand is a
// 4-neighbour (on the host stand grid) of cutStandID, within the same
// unit (spec §4.7 step 6, §5 "cross-unit invariants ... maintained only
// within a unit").
func (s *Scheduler) banNeighbours(cutStandID, unitID int) {
	if s.Grid == nil {
		return
	}
	neighbours := make(map[int]bool)
	for _, n := range s.Grid.NeighborsOf(cutStandID) {
		neighbours[n] = true
	}
	if len(neighbours) == 0 {
		return
	}
	for _, t := range s.Items {
		if t.Stand.UnitID() != unitID {
			continue
		}
		if neighbours[t.Stand.ID()] {
			t.ForbiddenTo = s.currentYear + neighbourBanYears
		}
	}
}
