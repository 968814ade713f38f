// Package unit implements FMUnit (spec §3, §4.8): an aggregation of
// stands owning a Scheduler, running the decadal sustainable-yield plan
// update and the annual controller that rebalances against cumulative
// deviation from plan.
package unit

import (
	"context"
	"log/slog"

	"abe/internal/logging"
	"abe/internal/scheduler"
	"abe/internal/script"
	"abe/internal/stand"
	"abe/internal/stp"
)

// Unit is an aggregation of stands managed by one agent (spec §3 Unit).
type Unit struct {
	ID      int
	AgentID int

	Scheduler *scheduler.Scheduler
	Options   scheduler.Options

	Stands []*stand.Stand

	U                  stp.RotationLength
	ThinningIntensity  string
	SpeciesComposition string
	HarvestMode        string

	finalTarget         float64
	thinningTarget      float64
	priorPlanRealised   float64
	cumulativeDeviation float64
	prevRealisedTotal   float64

	Logger *slog.Logger
}

// New builds an empty Unit.
func New(id, agentID int, sched *scheduler.Scheduler, opts scheduler.Options, u stp.RotationLength, logger *slog.Logger) *Unit {
	return &Unit{
		ID:        id,
		AgentID:   agentID,
		Scheduler: sched,
		Options:   opts,
		U:         u,
		Logger:    logging.Default(logger).With("component", "unit", "unit_id", id),
	}
}

// AddStand registers a stand as aggregated by this unit. The unit does
// not own the stand (spec §3 "A unit aggregates (does not own) a set of
// stands").
func (u *Unit) AddStand(s *stand.Stand) { u.Stands = append(u.Stands, s) }

// RemoveStand drops a stand from this unit's aggregation (used when a
// salvage split reassigns a stand, or the host removes one entirely).
func (u *Unit) RemoveStand(standID int) {
	out := u.Stands[:0]
	for _, s := range u.Stands {
		if s.ID() != standID {
			out = append(out, s)
		}
	}
	u.Stands = out
}

// AreaHa returns the unit's total area in hectares, summed over its
// aggregated stands.
func (u *Unit) AreaHa() float64 {
	var a float64
	for _, s := range u.Stands {
		a += s.Area() / 10000
	}
	return a
}

// RealisedHarvestTotal sums realised harvest across every aggregated
// stand (running, not reset between years).
func (u *Unit) RealisedHarvestTotal() float64 {
	var t float64
	for _, s := range u.Stands {
		t += s.RealisedHarvest()
	}
	return t
}

// FinalCutTarget and ThinningTarget expose the unit's current annual
// targets (m3/ha/yr), last pushed to the scheduler.
func (u *Unit) FinalCutTarget() float64   { return u.finalTarget }
func (u *Unit) ThinningTarget() float64   { return u.thinningTarget }

// AgentUpdate is the scripting surface `unit.agentUpdate(what, how,
// when)` (spec §6): agent-update rules are evaluated host/script-side,
// this only records the call at the ambient logging boundary.
func (u *Unit) AgentUpdate(what, how, when string) {
	u.Logger.Debug("agent update", "what", what, "how", how, "when", when)
}

// Execute iterates the unit's stands through their per-year state
// machine and then runs the scheduler against the resulting tickets
// (spec §2 "executeUnit"). Returns the realised harvest volume (m3) from
// this year's scheduler run.
func (u *Unit) Execute(ctx context.Context, eng script.Engine, currentYear int) (float64, error) {
	u.Scheduler.SetYear(currentYear)
	for _, s := range u.Stands {
		if err := s.Execute(ctx, eng, currentYear); err != nil {
			return 0, err
		}
	}
	return u.Scheduler.Run(ctx)
}

// isReadyForFinalHarvest reports whether a stand currently carries an
// enabled, active final-harvest activity, qualifying it for the HDZ
// aggregate (spec §4.8 "stands ready for final harvest").
func isReadyForFinalHarvest(s *stand.Stand) bool {
	for i := 0; i < s.FlagCount(); i++ {
		f := s.Flags(i)
		if f.FinalHarvest && f.Active && f.Enabled {
			return true
		}
	}
	return false
}

// ManagementPlanUpdate runs the decadal sustainable-yield plan update
// (spec §4.8, every 10 years): reloads each stand, recomputes MAI,
// aggregates area-weighted totals, derives the regeneration/total/
// thinning increments, and pushes the adjusted final-cut and thinning
// targets to the scheduler.
func (u *Unit) ManagementPlanUpdate(ctx context.Context) {
	var totalArea, maiWeighted, ageWeighted float64
	var hdzVolume, hdzAge float64
	var hdzCount int
	var plannedFinal, plannedThinning float64

	for _, s := range u.Stands {
		s.Reload()
		s.CalculateMAI()

		area := s.Area() / 10000
		totalArea += area
		maiWeighted += s.MAITotal() * area
		ageWeighted += s.MeanAge() * area

		if isReadyForFinalHarvest(s) {
			hdzVolume += s.Volume()
			hdzAge += float64(s.AbsoluteAge())
			hdzCount++
		}

		for i := 0; i < s.FlagCount(); i++ {
			f := s.Flags(i)
			if !f.Scheduled {
				continue
			}
			if f.FinalHarvest {
				plannedFinal += s.ScheduledHarvestVolume()
			} else {
				plannedThinning += s.ScheduledHarvestVolume()
			}
		}
	}

	if totalArea == 0 {
		return
	}

	meanMAI := maiWeighted / totalArea
	meanAge := ageWeighted / totalArea
	hdz := 0.0
	if hdzCount > 0 && hdzAge > 0 {
		hdz = hdzVolume / hdzAge
	}

	uMed := u.U.Medium
	if uMed == 0 {
		uMed = 1
	}

	hReg := hdz * 2 * meanAge / uMed
	hTot := meanMAI * 2 * meanAge / uMed
	hThi := hTot - hReg

	realised := u.RealisedHarvestTotal()
	sustainable := hReg - (realised-u.priorPlanRealised)/10
	bottomUp := plannedFinal / 10 / totalArea

	sf := u.Options.UseSustainableHarvest
	final := sf*sustainable + (1-sf)*bottomUp
	if final < 0 {
		final = 0
	}
	thinning := plannedThinning / 10 / totalArea

	u.finalTarget = final
	u.thinningTarget = thinning
	u.priorPlanRealised = realised
	u.prevRealisedTotal = realised
	u.cumulativeDeviation = 0

	u.Scheduler.SetTargets(final, thinning)
	u.Logger.Debug("decadal plan update",
		"final_target", final, "thinning_target", thinning,
		"hdz", hdz, "h_reg", hReg, "h_thi", hThi, "mean_age", meanAge)
}

// UpdatePlanOfCurrentYear runs the annual controller (spec §4.8, every
// year): computes this year's realised harvest as the delta of
// cumulative harvest, updates the decayed cumulative deviation from
// plan, and pushes a rebounce-adjusted final-cut target to the
// scheduler, clamped to [MinScheduleHarvest, MaxScheduleHarvest]. The
// thinning target is not annually rebalanced, only reset by the decadal
// update (spec §4.8 only describes a single deviation-tracked "target";
// this rework applies it to the final-cut target, the sustainable-yield
// figure the deviation bookkeeping is built around — see DESIGN.md).
func (u *Unit) UpdatePlanOfCurrentYear() {
	area := u.AreaHa()
	if area <= 0 {
		u.Scheduler.SetTargets(u.finalTarget, u.thinningTarget)
		return
	}

	total := u.RealisedHarvestTotal()
	harvestThisYear := total - u.prevRealisedTotal
	u.prevRealisedTotal = total

	if u.finalTarget != 0 {
		u.cumulativeDeviation = u.cumulativeDeviation*u.Options.DeviationDecayRate + (harvestThisYear/area - u.finalTarget)
	}

	r := 0.0
	if u.finalTarget != 0 {
		r = u.cumulativeDeviation / u.finalTarget
	}

	pushed := u.finalTarget
	if u.Options.ScheduleRebounceDuration > 0 {
		pushed = u.finalTarget * (1 - r/float64(u.Options.ScheduleRebounceDuration))
	}
	pushed = clamp(pushed, u.Options.MinScheduleHarvest, u.Options.MaxScheduleHarvest)

	u.Scheduler.SetTargets(pushed, u.thinningTarget)
}

func clamp(v, lo, hi float64) float64 {
	if hi > 0 && v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}
