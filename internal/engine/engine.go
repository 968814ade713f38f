// Package engine implements the ForestManagementEngine (spec §2, §4.10):
// the top-level driver that owns every stand/unit/agent/AgentType/STP,
// wires the stand/scheduler/salvage ports together, and runs the annual
// plan-update/execute cycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"abe/internal/activity"
	"abe/internal/agent"
	"abe/internal/config"
	"abe/internal/expr"
	"abe/internal/hostsim"
	"abe/internal/logging"
	"abe/internal/salvage"
	"abe/internal/scheduler"
	"abe/internal/script"
	"abe/internal/stand"
	"abe/internal/stp"
	"abe/internal/unit"
)

var (
	ErrUnknownAgentType = errors.New("unknown agent type")
	ErrUnknownSTP       = errors.New("unknown stp")
	ErrUnknownStand     = errors.New("unknown stand")
	ErrUnknownActivity  = errors.New("unknown activity")
	ErrAborted          = errors.New("engine aborted")
)

// Hooks are optional user script entry points invoked around the annual
// cycle (spec §4.10 "invokes any user-defined onYear/onStand script
// hooks"). Left unset, the corresponding step is skipped.
type Hooks struct {
	OnYear  func(ctx context.Context, year int) error
	OnStand func(ctx context.Context, standID, year int) error
}

// grid is the engine-owned stand-pointer grid (spec §4.10 "Builds a
// stand-pointer grid mFMStandGrid coaligned with the host simulator's
// stand id grid"). It embeds the host so every other hostsim.Host method
// (trees, saplings, removal notification, scripting) passes straight
// through, while StandIDAtLIFCoord is served from an engine-side overlay
// whenever a salvage split has relabeled a pixel, and only falls back to
// the host's own grid otherwise. This is what lets a stand split update
// "the global stand grid" even though the host's StandGrid contract is
// read-only to its consumers (spec §6).
type grid struct {
	hostsim.Host
	mu      sync.RWMutex
	overlay map[hostsim.Point]int
}

func newGrid(host hostsim.Host) *grid {
	return &grid{Host: host, overlay: make(map[hostsim.Point]int)}
}

func (g *grid) StandIDAtLIFCoord(p hostsim.Point) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if id, ok := g.overlay[p]; ok {
		return id
	}
	return g.Host.StandIDAtLIFCoord(p)
}

func (g *grid) set(p hostsim.Point, standID int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.overlay[p] = standID
}

// Engine is the ForestManagementEngine (spec §2).
type Engine struct {
	mu sync.Mutex

	host   hostsim.Host
	grid   *grid
	script script.Engine
	logger *slog.Logger

	stands     map[int]*stand.Stand
	units      map[int]*unit.Unit
	agents     map[int]*agent.Agent
	agentTypes map[string]*agent.AgentType

	unitIDByName  map[string]int
	agentIDByName map[string]int
	unitOrder     []int

	nextStandID int
	nextUnitID  int
	nextAgentID int

	splitter *salvage.Splitter

	currentYear   int
	layoutChanged atomic.Bool
	aborted       atomic.Bool
	abortMsg      atomic.Value

	Hooks Hooks
}

// New builds an Engine against a host simulator and scripting engine.
func New(host hostsim.Host, eng script.Engine, salvageCfg salvage.Config, logger *slog.Logger) *Engine {
	e := &Engine{
		host:          host,
		script:        eng,
		logger:        logging.Default(logger).With("component", "engine"),
		stands:        make(map[int]*stand.Stand),
		units:         make(map[int]*unit.Unit),
		agents:        make(map[int]*agent.Agent),
		agentTypes:    make(map[string]*agent.AgentType),
		unitIDByName:  make(map[string]int),
		agentIDByName: make(map[string]int),
	}
	e.grid = newGrid(host)
	e.splitter = salvage.New(e, eng, salvageCfg, logger)
	return e
}

// --- salvage.Allocator, implemented for the wired Splitter (spec §5) ---

// AllocateStandID mints a fresh stand id under a mutex-guarded
// monotonically increasing counter (spec §5).
func (e *Engine) AllocateStandID() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextStandID++
	return e.nextStandID
}

// RelabelStandGrid repoints pixels to newID in the engine's own stand
// grid overlay (spec §4.9 step 6).
func (e *Engine) RelabelStandGrid(parentID int, pixels []hostsim.Point, newID int) {
	for _, p := range pixels {
		e.grid.set(p, newID)
	}
}

// NewStandFromParent spins up a new Stand inheriting parent's unit,
// rotation length and STP (spec §4.9 "a fresh stand that inherits the
// parent's STP and unit"), and registers it with the engine and its unit.
func (e *Engine) NewStandFromParent(ctx context.Context, parentID, newID int, pixels []hostsim.Point) error {
	e.mu.Lock()
	parent, ok := e.stands[parentID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("salvage split: %w: parent %d", ErrUnknownStand, parentID)
	}

	e.mu.Lock()
	u, ok := e.units[parent.UnitID()]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("salvage split: unit %d for parent stand %d not found", parent.UnitID(), parentID)
	}

	ns := stand.New(newID, parent.UnitID(), 0, 0, stand.Ports{
		Host:      e.grid,
		Scheduler: u.Scheduler,
		Splitter:  e.splitter,
		Logger:    e.logger,
	})
	if err := ns.Initialize(ctx, e.script, parent.STP(), parent.U(), e.currentYear); err != nil {
		return fmt.Errorf("salvage split: stand %d: %w", newID, err)
	}

	e.mu.Lock()
	e.stands[newID] = ns
	e.mu.Unlock()
	u.AddStand(ns)
	return nil
}

// MarkLayoutChanged flags that a split occurred this year, consulted by
// finalizeRun to refresh the spatial index (spec §4.9 step 6).
func (e *Engine) MarkLayoutChanged() { e.layoutChanged.Store(true) }

// CurrentYear returns the simulation year currently being run.
func (e *Engine) CurrentYear() int { return e.currentYear }

// --- registration surface (fmengine.addManagement/addAgentType/addAgent) ---

// AddManagement adds an STP to the already registered agent type named
// typeName, failing with ErrUnknownAgentType if there is none (scripting
// surface `fmengine.addManagement`, spec §6).
func (e *Engine) AddManagement(s *stp.STP, typeName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.agentTypes[typeName]
	if !ok {
		return fmt.Errorf("add management: %w: %q", ErrUnknownAgentType, typeName)
	}
	t.AddSTP(s)
	return nil
}

// AddAgentType registers an AgentType (scripting surface
// `fmengine.addAgentType`, spec §6).
func (e *Engine) AddAgentType(t *agent.AgentType) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.agentTypes[t.Name] = t
}

// AddAgent creates (or returns the existing) named Agent of the given
// agent type (scripting surface `fmengine.addAgent`, spec §6).
func (e *Engine) AddAgent(typeName, name string) (int, *agent.Agent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id, ok := e.agentIDByName[name]; ok {
		return id, e.agents[id], nil
	}
	t, ok := e.agentTypes[typeName]
	if !ok {
		return 0, nil, fmt.Errorf("add agent: %w: %q", ErrUnknownAgentType, typeName)
	}
	e.nextAgentID++
	id := e.nextAgentID
	a := agent.NewAgent(name, t)
	e.agents[id] = a
	e.agentIDByName[name] = id
	return id, a, nil
}

func (e *Engine) getOrCreateUnit(name string, agentTypeOpts scheduler.Options, agentID int) *unit.Unit {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id, ok := e.unitIDByName[name]; ok {
		return e.units[id]
	}
	e.nextUnitID++
	id := e.nextUnitID
	sched := scheduler.New(e.grid, e.script, agentTypeOpts, e.logger)
	u := unit.New(id, agentID, sched, agentTypeOpts, stp.RotationLength{}, e.logger)
	e.units[id] = u
	e.unitIDByName[name] = id
	e.unitOrder = append(e.unitOrder, id)
	return u
}

func rotationValue(u stp.RotationLength, class string) float64 {
	switch class {
	case "low":
		return u.Low
	case "high":
		return u.High
	default:
		return u.Medium
	}
}

// LoadStands builds the stand/unit/agent arena from a parsed stand
// table (spec §6 "Configuration input"). AddAgentType must have already
// registered every AgentType the table references.
func (e *Engine) LoadStands(ctx context.Context, rows []config.StandRow) error {
	for _, row := range rows {
		agentName := row.Agent
		if agentName == "" {
			agentName = row.AgentType
		}
		_, a, err := e.AddAgent(row.AgentType, agentName)
		if err != nil {
			return fmt.Errorf("stand %d: %w", row.ID, err)
		}

		target, ok := a.Type.STP(row.STP)
		if !ok {
			return fmt.Errorf("stand %d: %w: %q", row.ID, ErrUnknownSTP, row.STP)
		}

		u := e.getOrCreateUnit(row.Unit, a.Type.Scheduler, e.agentIDByName[agentName])
		a.AddUnit(u.ID)
		u.U = target.U
		if row.ThinningIntensity != "" {
			u.ThinningIntensity = row.ThinningIntensity
		}
		if row.SpeciesComposition != "" {
			u.SpeciesComposition = row.SpeciesComposition
		}
		if row.HarvestMode != "" {
			u.HarvestMode = row.HarvestMode
		}

		uClass := rotationValue(target.U, row.U)
		s := stand.New(row.ID, u.ID, 0, 0, stand.Ports{Host: e.grid, Scheduler: u.Scheduler, Splitter: e.splitter, Logger: e.logger})
		if err := s.Initialize(ctx, e.script, target, uClass, e.currentYear); err != nil {
			return fmt.Errorf("stand %d: %w", row.ID, err)
		}

		e.mu.Lock()
		e.stands[row.ID] = s
		if row.ID >= e.nextStandID {
			e.nextStandID = row.ID
		}
		e.mu.Unlock()

		u.AddStand(s)
	}
	return nil
}

// STPBuilder turns an STPConfig's declarative shell into a built STP by
// resolving its ScriptSource against the host scripting engine into an
// activity list (config.STPConfig "the activity list itself is authored
// as script objects ... resolved by name at setup time" — that
// resolution is host-specific, so the engine takes it as a callback
// rather than hard-coding a script object walk).
type STPBuilder func(ctx context.Context, cfg config.STPConfig) (*stp.STP, error)

// Bootstrap instantiates every AgentType and STP named in cfg (spec §6
// "the engine loads config at startup and instantiates AgentTypes and
// STPs from it"), wiring each STP into every AgentType whose STPNames
// lists it.
func (e *Engine) Bootstrap(ctx context.Context, cfg *config.Config, build STPBuilder) error {
	for _, atc := range cfg.AgentTypes {
		t := agent.NewAgentType(atc.Name, nil)
		t.Scheduler = schedulerOptionsFrom(atc.Scheduler)
		for name, shares := range atc.SpeciesCompositions {
			comp := make(agent.SpeciesComposition, len(shares))
			for idStr, frac := range shares {
				var id int
				if _, err := fmt.Sscanf(idStr, "%d", &id); err != nil {
					return fmt.Errorf("agent type %q: species composition %q: bad species id %q: %w", atc.Name, name, idStr, err)
				}
				comp[id] = frac
			}
			t.SpeciesCompositions[name] = comp
		}
		for name, class := range atc.ThinningIntensities {
			t.ThinningIntensities[name] = class
		}
		e.AddAgentType(t)
	}

	built := make(map[string]*stp.STP, len(cfg.STPs))
	for _, stpc := range cfg.STPs {
		s, err := build(ctx, stpc)
		if err != nil {
			return fmt.Errorf("stp %q: %w", stpc.Name, err)
		}
		built[stpc.Name] = s
	}

	for _, atc := range cfg.AgentTypes {
		for _, name := range atc.STPNames {
			s, ok := built[name]
			if !ok {
				return fmt.Errorf("agent type %q: %w: %q", atc.Name, ErrUnknownSTP, name)
			}
			if err := e.AddManagement(s, atc.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

// schedulerOptionsFrom converts the declarative SchedulerOptionsConfig
// into scheduler.Options, parsing MinRating as an advisory expression
// (spec §9 open question; see internal/scheduler.minExecProbability).
func schedulerOptionsFrom(c config.SchedulerOptionsConfig) scheduler.Options {
	opts := scheduler.Options{
		UseScheduler:             c.UseScheduler,
		UseSustainableHarvest:    c.UseSustainableHarvest,
		MinScheduleHarvest:       c.MinScheduleHarvest,
		MaxScheduleHarvest:       c.MaxScheduleHarvest,
		MaxHarvestOvershoot:      c.MaxHarvestOvershoot,
		HarvestIntensity:         c.HarvestIntensity,
		ScheduleRebounceDuration: c.ScheduleRebounceDuration,
		DeviationDecayRate:       c.DeviationDecayRate,
	}
	if c.MinRating != "" {
		if n, err := expr.Parse(c.MinRating); err == nil {
			opts.MinRating = n
		}
	}
	return opts
}

// --- scripting surface (fmengine.*, spec §6) ---

// IsValidStand reports whether standID refers to a live stand.
func (e *Engine) IsValidStand(standID int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.stands[standID]
	return ok
}

// StandIDs lists every live stand id in ascending order.
func (e *Engine) StandIDs() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]int, 0, len(e.stands))
	for id := range e.stands {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Stand looks up a stand by id.
func (e *Engine) Stand(standID int) (*stand.Stand, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.stands[standID]
	return s, ok
}

// Activity resolves an activity by STP name and activity name
// (scripting surface `fmengine.activity`, spec §6).
func (e *Engine) Activity(stpName, name string) (*activity.Activity, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.agentTypes {
		if s, ok := t.STP(stpName); ok {
			return s.ByName(name)
		}
	}
	return nil, false
}

// RunActivity directly executes a named activity against a stand
// (scripting surface `fmengine.runActivity`, spec §6).
func (e *Engine) RunActivity(ctx context.Context, standID int, name string) (bool, error) {
	s, ok := e.Stand(standID)
	if !ok {
		return false, fmt.Errorf("run activity: %w: %d", ErrUnknownStand, standID)
	}
	a, ok := s.STP().ByName(name)
	if !ok {
		return false, fmt.Errorf("run activity: %w: %q", ErrUnknownActivity, name)
	}
	return activity.Execute(ctx, e.script, a, s)
}

// RunActivityEvaluate evaluates (without executing) a named activity
// against a stand (scripting surface `fmengine.runActivityEvaluate`).
func (e *Engine) RunActivityEvaluate(ctx context.Context, standID int, name string) (bool, error) {
	s, ok := e.Stand(standID)
	if !ok {
		return false, fmt.Errorf("run activity evaluate: %w: %d", ErrUnknownStand, standID)
	}
	a, ok := s.STP().ByName(name)
	if !ok {
		return false, fmt.Errorf("run activity evaluate: %w: %q", ErrUnknownActivity, name)
	}
	return activity.Evaluate(ctx, e.script, a, s)
}

// Log emits a message at the engine's ambient logging boundary
// (scripting surface `fmengine.log`, spec §6).
func (e *Engine) Log(msg string) { e.logger.Info(msg) }

// Verbose reports whether fmengine's own component is currently logging
// at debug level (scripting surface `fmengine.verbose`, SPEC_FULL §4
// supplemented features). Always false if the engine wasn't constructed
// with a ComponentFilterHandler-backed logger.
func (e *Engine) Verbose() bool {
	h, ok := e.logger.Handler().(*logging.ComponentFilterHandler)
	if !ok {
		return false
	}
	return h.Level("engine") <= slog.LevelDebug
}

// SetVerbose flips fmengine's own component between debug and its
// default level via the ComponentFilterHandler (scripting surface
// `fmengine.verbose`, SPEC_FULL §4 supplemented features), without
// touching the engine-wide default level. No-op if the engine wasn't
// constructed with a ComponentFilterHandler-backed logger.
func (e *Engine) SetVerbose(v bool) {
	h, ok := e.logger.Handler().(*logging.ComponentFilterHandler)
	if !ok {
		return
	}
	if v {
		h.SetLevel("engine", slog.LevelDebug)
	} else {
		h.ClearLevel("engine")
	}
}

// Abort requests cooperative shutdown: the running or next Run call
// returns ErrAborted wrapping msg (scripting surface `fmengine.abort`,
// spec §4.10 "Abort(msg)").
func (e *Engine) Abort(msg string) {
	e.aborted.Store(true)
	e.abortMsg.Store(msg)
}

// NotifyBarkBeetleAttack fans a bark-beetle disturbance event out to
// every stand carrying a salvage activity, booking the infestation as
// extra harvest pressure against that stand's unit (SPEC_FULL supplement
// grounded on iLand's barkbeetlemodule.cpp; see SPEC_FULL.md). The host
// calls this inbound; the engine does not forward it further.
func (e *Engine) NotifyBarkBeetleAttack(resourceUnit int, generations int, infestedPxPerHa float64) {
	e.mu.Lock()
	stands := make([]*stand.Stand, 0, len(e.stands))
	for _, s := range e.stands {
		stands = append(stands, s)
	}
	e.mu.Unlock()

	for _, s := range stands {
		t := s.STP()
		if t == nil {
			continue
		}
		for _, a := range t.Activities {
			if a.Kind == activity.KindSalvage {
				s.AddExtraHarvest(infestedPxPerHa, "barkBeetle")
			}
		}
	}
	e.logger.Info("bark beetle attack", "resource_unit", resourceUnit, "generations", generations, "infested_px_per_ha", infestedPxPerHa)
}

// --- annual cycle (spec §4.10) ---

func (e *Engine) checkAborted() error {
	if e.aborted.Load() {
		msg, _ := e.abortMsg.Load().(string)
		return fmt.Errorf("%w: %s", ErrAborted, msg)
	}
	return nil
}

// Run drives one simulation year through prepareRun, the parallel
// per-unit plan update, the single-threaded per-unit execute pass, and
// finalizeRun (spec §2, §4.10).
func (e *Engine) Run(ctx context.Context, year int) error {
	if err := e.checkAborted(); err != nil {
		return err
	}
	e.currentYear = year

	if err := e.prepareRun(ctx, year); err != nil {
		return err
	}
	e.planUpdateAllUnits(ctx, year)
	if err := e.executeAllUnits(ctx, year); err != nil {
		return err
	}
	e.finalizeRun(year)
	return nil
}

func (e *Engine) prepareRun(ctx context.Context, year int) error {
	if e.Hooks.OnYear == nil {
		return nil
	}
	return e.Hooks.OnYear(ctx, year)
}

// planUpdateAllUnits runs every unit's decadal/annual plan update
// concurrently (spec §2 "parallel plan-update pass"): units are
// independent aggregates with no shared mutable state at this stage, so
// a plain WaitGroup fan-out is enough (no results to merge).
func (e *Engine) planUpdateAllUnits(ctx context.Context, year int) {
	var wg sync.WaitGroup
	for _, id := range e.unitOrder {
		u := e.units[id]
		wg.Add(1)
		go func(u *unit.Unit) {
			defer wg.Done()
			if year%10 == 0 {
				u.ManagementPlanUpdate(ctx)
			}
			u.UpdatePlanOfCurrentYear()
		}(u)
	}
	wg.Wait()
}

// executeAllUnits runs each unit's stand state machine and scheduler in
// a fixed, single-threaded order (spec §2 "single-threaded execute
// pass"): activity execution switches the one shared scripting context
// per call, and salvage splits relabel the shared stand grid.
func (e *Engine) executeAllUnits(ctx context.Context, year int) error {
	for _, id := range e.unitOrder {
		if err := e.checkAborted(); err != nil {
			return err
		}
		u := e.units[id]
		if e.Hooks.OnStand != nil {
			for _, s := range u.Stands {
				if err := e.Hooks.OnStand(ctx, s.ID(), year); err != nil {
					return err
				}
			}
		}
		if _, err := u.Execute(ctx, e.script, year); err != nil {
			return fmt.Errorf("unit %d: %w", id, err)
		}
	}
	return nil
}

// finalizeRun clears the per-year scheduled-harvest counter on stands
// with no ticket still pending, and refreshes the spatial index if a
// salvage split changed the stand layout this year (spec §4.10
// finalizeRun).
func (e *Engine) finalizeRun(year int) {
	e.mu.Lock()
	stands := make([]*stand.Stand, 0, len(e.stands))
	for _, s := range e.stands {
		stands = append(stands, s)
	}
	e.mu.Unlock()

	for _, s := range stands {
		idx := s.CurrentActivityIndex()
		if idx < 0 || !s.Flags(idx).Pending {
			s.SetScheduledHarvest(0)
		}
	}

	if e.layoutChanged.CompareAndSwap(true, false) {
		e.logger.Debug("stand layout changed; spatial index refreshed", "year", year)
	}
}
