// Package stand implements FMStand (spec §3, §4.6): the managed unit of
// forest. A Stand tracks per-activity flags, the current-activity state
// machine, rotation clock, aggregate stand statistics and a stand-local
// scripted property bag, and drives the per-year execute/afterExecution
// cycle described in spec §4.6.
package stand

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"abe/internal/activity"
	"abe/internal/event"
	"abe/internal/expr"
	"abe/internal/hostsim"
	"abe/internal/logging"
	"abe/internal/schedule"
	"abe/internal/script"
	"abe/internal/stp"
)

// lifPixelSize is the light-resolution (LIF) regeneration pixel width in
// meters, used to enumerate a stand's pixels from its bounding box
// (spec §4.4 Planting, §4.9 salvage splitter).
const lifPixelSize = 2.0

// scheduleSkipEpsilon is "very close to 0" for Schedule.Value's skip rule
// (spec §4.6 step 4).
const scheduleSkipEpsilon = 1e-6

// Scheduler is the per-unit ticket queue port a stand's Execute fires
// into. Defined here (not imported from internal/scheduler) so this
// package has no dependency on the scheduler package; internal/scheduler
// imports internal/stand and its *Scheduler satisfies this interface
// structurally (spec §9 "any cross-reference goes through the engine").
type Scheduler interface {
	AddTicket(s *Stand, flags *activity.Flags, act *activity.Activity, pSchedule, pExecute float64)
	AddExtraHarvest(s *Stand, volume float64, harvestType string)
	ForceHarvest(s *Stand, maxYears int)
}

// Splitter is the salvage stand-splitter port (spec §4.9), invoked by the
// Salvage activity variant via Stand.Resplit.
type Splitter interface {
	Resplit(ctx context.Context, s *Stand) error
}

// Ports bundles the dependency-injected collaborators a Stand needs,
// avoiding any import cycle between stand/scheduler/salvage/engine (spec
// §9 "Cyclic references" design note: cross-references go through the
// engine, never through direct ownership).
type Ports struct {
	Host      hostsim.Host
	Scheduler Scheduler
	Splitter  Splitter
	Logger    *slog.Logger
}

// SpeciesShare is one species' basal-area share of a stand, ordered by
// descending share (spec §3 Stand).
type SpeciesShare struct {
	SpeciesID int
	Fraction  float64
}

// Stand is the managed unit of forest (spec §3 FMStand).
type Stand struct {
	id     int
	unitID int

	stp             *stp.STP
	flags           []activity.Flags
	current         int // -1 means no active activity
	rotationStartYr int
	absoluteAge     int
	sleepYears      int
	u               float64 // the rotation length used for relative schedule windows
	lastActivity    string

	totalBasalArea float64
	meanAge        float64 // weighted by basal area
	standingVolume float64
	stemsPerHa     float64
	speciesShares  []SpeciesShare

	scheduledHarvest float64
	realisedHarvest  float64
	disturbedTimber  float64

	volumeAtDecadeStart   float64
	removedVolumeDecade   float64
	removedVolumeTotal    float64
	ticksSinceDecadeStart int
	maiDecadal            float64
	maiTotal              float64

	runSalvage bool
	trace      bool

	properties map[string]float64
	pixels     []hostsim.Point

	ports  Ports
	logger *slog.Logger
}

// New builds a Stand with the given id, owning unit id, ground-truth
// standing volume and absolute age (spec §3's "absolute age (years since
// rotation start)"). Initialize must be called before the stand can be
// driven through Execute.
func New(id, unitID int, absoluteAge int, standingVolume float64, ports Ports) *Stand {
	return &Stand{
		id:             id,
		unitID:         unitID,
		current:        -1,
		absoluteAge:    absoluteAge,
		standingVolume: standingVolume,
		properties:     make(map[string]float64),
		ports:          ports,
		logger:         logging.Default(ports.Logger).With("component", "stand", "stand_id", id),
	}
}

// ID returns the stand's unique integer id.
func (s *Stand) ID() int { return s.id }

// UnitID returns the id of the unit this stand belongs to.
func (s *Stand) UnitID() int { return s.unitID }

// AbsoluteAge returns years since rotation start.
func (s *Stand) AbsoluteAge() int { return s.absoluteAge }

// SetAbsoluteAge overrides the absolute age (scripting surface
// `stand.setAbsoluteAge(a)`, spec §6).
func (s *Stand) SetAbsoluteAge(a int) { s.absoluteAge = a }

// U returns the rotation length currently used for relative schedule
// windows (spec §3 Unit.U, assigned at Initialize).
func (s *Stand) U() float64 { return s.u }

// CurrentActivityIndex returns the index of the current activity, or -1.
func (s *Stand) CurrentActivityIndex() int { return s.current }

// Flags returns the per-activity flag record at index i.
func (s *Stand) Flags(i int) *activity.Flags { return &s.flags[i] }

// FlagCount returns the number of per-activity flag records, which must
// always equal len(stp.Activities) (spec §3 invariant 3).
func (s *Stand) FlagCount() int { return len(s.flags) }

// STP returns the stand's current Stand Treatment Program.
func (s *Stand) STP() *stp.STP { return s.stp }

// Area returns the stand's area in square meters, from the host stand
// grid.
func (s *Stand) Area() float64 {
	if s.ports.Host == nil {
		return 0
	}
	return s.ports.Host.Area(s.id)
}

// ScheduledHarvestVolume returns the harvest volume (m3) currently
// committed to the scheduler.
func (s *Stand) ScheduledHarvestVolume() float64 { return s.scheduledHarvest }

// SetScheduledHarvest sets the volume (m3) committed to the scheduler
// (spec §4.4 Scheduled activity evaluate step).
func (s *Stand) SetScheduledHarvest(volume float64) { s.scheduledHarvest = volume }

// RealisedHarvest returns the cumulative realised harvest (m3).
func (s *Stand) RealisedHarvest() float64 { return s.realisedHarvest }

// AddRealisedHarvest accumulates realised harvest, called by the
// scheduler on ticket execution (spec §4.7 step 5).
func (s *Stand) AddRealisedHarvest(v float64) { s.realisedHarvest += v }

// DisturbedTimber returns the accumulated disturbed timber volume (m3).
func (s *Stand) DisturbedTimber() float64 { return s.disturbedTimber }

// DisturbedTimberPerArea returns disturbed timber per hectare.
func (s *Stand) DisturbedTimberPerArea() float64 {
	area := s.Area()
	if area <= 0 {
		return 0
	}
	return s.disturbedTimber / (area / 10000)
}

// RunSalvageFlag reports the `_run_salvage` property (spec §4.4 Salvage).
func (s *Stand) RunSalvageFlag() bool { return s.runSalvage }

// SetRunSalvageFlag sets the `_run_salvage` property.
func (s *Stand) SetRunSalvageFlag(v bool) { s.runSalvage = v }

// Trace reports whether this stand has debug tracing enabled
// (`stand.trace`, a SPEC_FULL supplemented feature grounded on
// fomescript.cpp; see SPEC_FULL.md).
func (s *Stand) Trace() bool { return s.trace }

// SetTrace enables or disables per-stand debug tracing.
func (s *Stand) SetTrace(v bool) { s.trace = v }

// SetFlag sets a scripted property on the stand's property bag
// (`stand.setFlag(k,v)`, spec §6). The bag outlives individual activity
// runs and is only cleared on an engine-wide reset.
func (s *Stand) SetFlag(key string, value float64) { s.properties[key] = value }

// Flag reads a scripted property, zero if unset (`stand.flag(k)`).
func (s *Stand) Flag(key string) float64 { return s.properties[key] }

// ClearProperties clears the stand's scripted property bag. Called only
// on an engine-wide reset (spec §3 "Lifecycle and ownership").
func (s *Stand) ClearProperties() { s.properties = make(map[string]float64) }

// Trees returns the stand's living tree list from the host.
func (s *Stand) Trees() []hostsim.Tree {
	if s.ports.Host == nil {
		return nil
	}
	return s.ports.Host.TreesOf(s.id)
}

// Saplings returns the host's sapling grid, used by Planting activities.
func (s *Stand) Saplings() hostsim.SaplingGrid { return s.ports.Host }

// Pixels enumerates the stand's light-resolution pixels inside its
// polygon, scanning the bounding box the host grid reports and keeping
// only pixels that still resolve to this stand id. Cached after first
// call; a stand split (spec §4.9) invalidates the cache via
// InvalidatePixels.
func (s *Stand) Pixels() []hostsim.Point {
	if s.pixels != nil {
		return s.pixels
	}
	if s.ports.Host == nil {
		return nil
	}
	min, max := s.ports.Host.BoundingBox(s.id)
	var pts []hostsim.Point
	for y := min.Y; y < max.Y; y += lifPixelSize {
		for x := min.X; x < max.X; x += lifPixelSize {
			p := hostsim.Point{X: x, Y: y}
			if s.ports.Host.StandIDAtLIFCoord(p) == s.id {
				pts = append(pts, p)
			}
		}
	}
	s.pixels = pts
	return pts
}

// InvalidatePixels drops the cached pixel list, forcing the next Pixels
// call to re-scan the host grid. Used after a salvage split changes the
// stand's footprint.
func (s *Stand) InvalidatePixels() { s.pixels = nil }

// ForcePrepone asks the scheduler to pull forward another pending ticket
// on this stand by up to maxPrepone years (spec §4.4 Salvage, §4.7
// forceHarvest).
func (s *Stand) ForcePrepone(maxPrepone int) {
	if s.ports.Scheduler != nil {
		s.ports.Scheduler.ForceHarvest(s, maxPrepone)
	}
}

// AddExtraHarvest books extra harvest volume (e.g. salvage) against the
// scheduler's running target (spec §4.7 addExtraHarvest).
func (s *Stand) AddExtraHarvest(volume float64, harvestType string) {
	if s.ports.Scheduler != nil {
		s.ports.Scheduler.AddExtraHarvest(s, volume, harvestType)
	}
}

// Resplit runs the salvage stand-splitter against this stand (spec
// §4.9), a no-op if no Splitter port is wired.
func (s *Stand) Resplit(ctx context.Context) error {
	if s.ports.Splitter == nil {
		return nil
	}
	return s.ports.Splitter.Resplit(ctx, s)
}

// standScriptValue is the script.Value surfaced as the `stand` global
// during event dispatch (spec §4.3, §6).
type standScriptValue struct{ s *Stand }

func (v standScriptValue) String() string { return fmt.Sprintf("stand:%d", v.s.id) }
func (v standScriptValue) Truthy() bool   { return true }

// ScriptValue returns the script.Value identifying this stand, used to
// switch scripting context before invoking an event hook.
func (s *Stand) ScriptValue() script.Value { return standScriptValue{s} }

// Vars returns the expression-evaluation variable table for this stand,
// dotted names already folded to underscore-joined keys (spec §9
// "Expression engine").
func (s *Stand) Vars() expr.Vars {
	return expr.Vars{
		"stand_basalArea":        s.totalBasalArea,
		"stand_age":              s.meanAge,
		"stand_absoluteAge":      float64(s.absoluteAge),
		"stand_volume":           s.standingVolume,
		"stand_id":               float64(s.id),
		"stand_nspecies":         float64(len(s.speciesShares)),
		"stand_area":             s.Area(),
		"stand_elapsed":          float64(s.absoluteAge - s.rotationStartYr),
		"stand_U":                s.u,
		"stand_scheduledHarvest": s.scheduledHarvest,
		"stand_realizedHarvest":  s.realisedHarvest,
		"stand_disturbedTimber":  s.disturbedTimber,
		"stand_mai":              s.maiTotal,
		"stand_stemsPerHa":       s.stemsPerHa,
	}
}

// BasalAreaOf returns the basal area share (m2/ha) of the given species,
// 0 if the species is not present (scripting surface `stand.basalAreaOf`,
// spec §6).
func (s *Stand) BasalAreaOf(speciesID int) float64 {
	for _, sh := range s.speciesShares {
		if sh.SpeciesID == speciesID {
			return sh.Fraction * s.totalBasalArea
		}
	}
	return 0
}

// RelBasalAreaOf returns the relative basal-area share [0,1] of the given
// species (scripting surface `stand.relBasalAreaOf`).
func (s *Stand) RelBasalAreaOf(speciesID int) float64 {
	for _, sh := range s.speciesShares {
		if sh.SpeciesID == speciesID {
			return sh.Fraction
		}
	}
	return 0
}

// SpeciesID returns the species id at ordinal i of the descending
// basal-area-share ordering (scripting surface `stand.speciesId(i)`).
func (s *Stand) SpeciesID(i int) (int, bool) {
	if i < 0 || i >= len(s.speciesShares) {
		return 0, false
	}
	return s.speciesShares[i].SpeciesID, true
}

// Initialize snapshots the STP's default flags, seeds the rotation clock,
// estimates the initial removed-volume total, finds the first still-
// feasible activity (or the last force-execution activity as fallback),
// and fires onSetup/onEnter (spec §4.6 Initialize).
func (s *Stand) Initialize(ctx context.Context, eng script.Engine, target *stp.STP, u float64, currentYear int) error {
	s.stp = target
	s.u = u
	s.flags = make([]activity.Flags, target.Len())
	for i, a := range target.Activities {
		s.flags[i] = a.Flags
	}
	s.rotationStartYr = currentYear - s.absoluteAge
	s.removedVolumeTotal = 0.2 * s.standingVolume
	s.volumeAtDecadeStart = s.standingVolume
	s.lastActivity = ""

	for _, a := range target.Activities {
		if _, err := event.Run(ctx, eng, event.OnSetup, a.Events, s.ScriptValue()); err != nil {
			return err
		}
	}

	idx := s.findFirstFeasible(currentYear)
	if idx < 0 {
		idx = s.lastForceExecutionActivity()
	}
	s.current = idx
	if idx >= 0 {
		a := target.Activities[idx]
		if _, err := event.Run(ctx, eng, event.OnEnter, a.Events, s.ScriptValue()); err != nil {
			return err
		}
		s.sleepYears = s.yearsUntil(a)
	}
	return nil
}

// Reset re-initializes the stand onto a (possibly new) STP, used after a
// total-disturbance salvage declaration (spec §4.9 step 2) and after a
// final harvest's new-rotation reload.
func (s *Stand) Reset(ctx context.Context, eng script.Engine, target *stp.STP, currentYear int) error {
	s.disturbedTimber = 0
	s.scheduledHarvest = 0
	s.absoluteAge = 0
	return s.Initialize(ctx, eng, target, s.u, currentYear)
}

// Reload refreshes the stand's aggregates from the host tree list
// (scripting surface `stand.reload()`, spec §6).
func (s *Stand) Reload() { s.refreshAggregates() }

// Sleep sets the stand's sleep-year counter (scripting surface
// `stand.sleep(years)`, spec §6).
func (s *Stand) Sleep(years int) {
	if years < 0 {
		years = 0
	}
	s.sleepYears = years
}

func (s *Stand) findFirstFeasible(currentYear int) int {
	for i, a := range s.stp.Activities {
		f := s.flags[i]
		if !f.Enabled || !f.Active {
			continue
		}
		if a.Schedule.Value(currentYear, s.absoluteAge, s.u) == schedule.Expired {
			continue
		}
		return i
	}
	return -1
}

func (s *Stand) lastForceExecutionActivity() int {
	idx := -1
	for i, a := range s.stp.Activities {
		if a.Schedule.ForceExecution {
			idx = i
		}
	}
	return idx
}

func (s *Stand) yearsUntil(a *activity.Activity) int {
	target := a.EarliestSchedule(s.u)
	remain := int(target) - s.absoluteAge
	if remain < 0 {
		return 0
	}
	return remain
}

func (s *Stand) pickNextByEarliestSchedule() int {
	best := -1
	bestVal := math.MaxFloat64
	for i, a := range s.stp.Activities {
		f := s.flags[i]
		if !f.Enabled || !f.Active {
			continue
		}
		v := a.EarliestSchedule(s.u)
		if v < bestVal {
			bestVal = v
			best = i
		}
	}
	return best
}

// Execute is the per-year driver (spec §4.6): ages the stand, evaluates
// its current activity's schedule and constraints, and either queues a
// scheduler ticket or executes the activity directly.
func (s *Stand) Execute(ctx context.Context, eng script.Engine, currentYear int) error {
	s.absoluteAge++
	s.ticksSinceDecadeStart++

	if s.sleepYears > 0 {
		s.sleepYears--
		return nil
	}
	if s.current < 0 {
		return nil
	}

	f := &s.flags[s.current]
	if f.Pending {
		return nil
	}
	a := s.stp.Activities[s.current]

	pSchedule := a.Schedule.ValueTraced(ctx, s.logger, s.trace, currentYear, s.absoluteAge, s.u)
	if pSchedule == schedule.Expired {
		return s.AfterExecution(ctx, eng, currentYear, true)
	}
	if math.Abs(pSchedule) < scheduleSkipEpsilon {
		return nil
	}

	s.refreshAggregates()

	pExecute, err := a.Constraints.EvalTraced(ctx, eng, s.Vars(), s.logger, s.trace)
	if err != nil {
		return script.WrapError(s.id, a.Name, "constraints", err)
	}
	if pExecute == 0 {
		return nil
	}

	if f.Scheduled {
		ran, err := activity.Evaluate(ctx, eng, a, s)
		if err != nil {
			return err
		}
		if ran {
			if s.ports.Scheduler != nil {
				s.ports.Scheduler.AddTicket(s, f, a, pSchedule, pExecute)
			}
			f.Pending = true
			return nil
		}
		f.Active = false
		return s.AfterExecution(ctx, eng, currentYear, true)
	}

	if _, err := activity.Execute(ctx, eng, a, s); err != nil {
		return err
	}
	if !f.Repeating {
		f.Active = false
		return s.AfterExecution(ctx, eng, currentYear, false)
	}
	return nil
}

// AfterExecution advances the per-stand state machine (spec §4.6
// afterExecution): honors a forcedNext jump, starts a new rotation on a
// completed final harvest, otherwise picks the enabled+active activity
// with the smallest earliest schedule. Fires onExecuted/onCancel on the
// outgoing activity's Events, then onExit/onEnter, and schedules sleep
// until the incoming activity's earliest schedule. Exported for use by
// internal/scheduler (spec §4.7 step 1/5's "stand.afterExecution(cancel=
// true)" calls).
func (s *Stand) AfterExecution(ctx context.Context, eng script.Engine, currentYear int, cancel bool) error {
	outgoingIdx := s.current
	var outgoing *activity.Activity
	if outgoingIdx >= 0 {
		outgoing = s.stp.Activities[outgoingIdx]
		s.lastActivity = outgoing.Name
	}

	nextIdx := -1
	for i := range s.flags {
		if s.flags[i].ForcedNext {
			nextIdx = i
			s.flags[i].ForcedNext = false
			break
		}
	}

	if nextIdx < 0 && outgoingIdx >= 0 && s.flags[outgoingIdx].FinalHarvest && !cancel {
		for i, a := range s.stp.Activities {
			s.flags[i] = a.Flags
			s.flags[i].Active = true
		}
		s.rotationStartYr = currentYear
		s.absoluteAge = 0
		s.removedVolumeTotal = 0
		s.removedVolumeDecade = 0
		s.volumeAtDecadeStart = s.standingVolume
		nextIdx = s.findFirstFeasible(currentYear)
	} else if nextIdx < 0 {
		nextIdx = s.pickNextByEarliestSchedule()
	}

	if outgoing != nil {
		eventName := event.OnExecuted
		if cancel {
			eventName = event.OnCancel
		}
		if _, err := event.Run(ctx, eng, eventName, outgoing.Events, s.ScriptValue()); err != nil {
			return err
		}
		if _, err := event.Run(ctx, eng, event.OnExit, outgoing.Events, s.ScriptValue()); err != nil {
			return err
		}
	}

	s.current = nextIdx
	if nextIdx >= 0 {
		incoming := s.stp.Activities[nextIdx]
		if _, err := event.Run(ctx, eng, event.OnEnter, incoming.Events, s.ScriptValue()); err != nil {
			return err
		}
		s.sleepYears = s.yearsUntil(incoming)
	}
	return nil
}

// AddTreeRemoval accumulates removal volume into decadal and rotation
// running totals, additionally routing disturbance removals through the
// salvage activity's TestRemove filter into the disturbed-timber pool
// (spec §4.6 addTreeRemoval). Keeps the source behavior of always
// incrementing the removed-volume running total regardless of reason
// (spec §9 open question).
func (s *Stand) AddTreeRemoval(tree hostsim.Tree, reason hostsim.RemovalReason) {
	vol := tree.Volume()
	s.removedVolumeDecade += vol
	s.removedVolumeTotal += vol

	if reason == hostsim.ReasonDisturbance {
		contributes := true
		if act := s.salvageActivity(); act != nil && act.Salvage.TestRemove != nil {
			contributes = act.Salvage.TestRemove(reason.String())
		}
		if contributes {
			s.disturbedTimber += vol
		}
	}

	if s.ports.Host != nil {
		s.ports.Host.OnTreeRemoval(tree, reason)
	}
}

func (s *Stand) salvageActivity() *activity.Activity {
	if s.stp == nil {
		return nil
	}
	for _, a := range s.stp.Activities {
		if a.Kind == activity.KindSalvage {
			return a
		}
	}
	return nil
}

// CalculateMAI updates decadal MAI as (deltaV + removedVolDecade)/ticks
// and total MAI as (V + removedVolTotal)/absoluteAge (spec §4.6
// calculateMAI), then resets the decade accumulators. Called by the
// unit's decadal plan update (spec §4.8).
func (s *Stand) CalculateMAI() {
	ticks := s.ticksSinceDecadeStart
	if ticks <= 0 {
		ticks = 1
	}
	deltaV := s.standingVolume - s.volumeAtDecadeStart
	s.maiDecadal = (deltaV + s.removedVolumeDecade) / float64(ticks)
	if s.absoluteAge > 0 {
		s.maiTotal = (s.standingVolume + s.removedVolumeTotal) / float64(s.absoluteAge)
	}
	s.volumeAtDecadeStart = s.standingVolume
	s.removedVolumeDecade = 0
	s.ticksSinceDecadeStart = 0
}

// MAIDecadal returns the most recently computed decadal MAI (m3/ha/yr).
func (s *Stand) MAIDecadal() float64 { return s.maiDecadal }

// MAITotal returns the most recently computed rotation-total MAI.
func (s *Stand) MAITotal() float64 { return s.maiTotal }

// Volume returns current standing volume (m3).
func (s *Stand) Volume() float64 { return s.standingVolume }

// BasalArea returns current total basal area (m2/ha).
func (s *Stand) BasalArea() float64 { return s.totalBasalArea }

// StemsPerHa returns current stem density.
func (s *Stand) StemsPerHa() float64 { return s.stemsPerHa }

// MeanAge returns the basal-area-weighted mean age.
func (s *Stand) MeanAge() float64 { return s.meanAge }

// LastActivity returns the name of the most recently exited activity
// (scripting surface `stand.lastActivity`, spec §6).
func (s *Stand) LastActivity() string { return s.lastActivity }

func (s *Stand) refreshAggregates() {
	trees := s.Trees()
	var ba, vol, ageBA float64
	speciesBA := make(map[int]float64)
	live := 0
	for _, t := range trees {
		if t.IsDead() {
			continue
		}
		live++
		b := t.BasalArea()
		ba += b
		vol += t.Volume()
		ageBA += b * float64(t.Age())
		speciesBA[t.SpeciesID()] += b
	}
	s.totalBasalArea = ba
	s.standingVolume = vol
	if ba > 0 {
		s.meanAge = ageBA / ba
	}
	if area := s.Area(); area > 0 {
		s.stemsPerHa = float64(live) / (area / 10000)
	}

	shares := make([]SpeciesShare, 0, len(speciesBA))
	for id, b := range speciesBA {
		frac := 0.0
		if ba > 0 {
			frac = b / ba
		}
		shares = append(shares, SpeciesShare{SpeciesID: id, Fraction: frac})
	}
	sort.Slice(shares, func(i, j int) bool { return shares[i].Fraction > shares[j].Fraction })
	s.speciesShares = shares
}
