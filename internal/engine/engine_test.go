package engine

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"abe/internal/activity"
	"abe/internal/agent"
	"abe/internal/config"
	"abe/internal/hostsim"
	"abe/internal/hostsim/fake"
	"abe/internal/logging"
	"abe/internal/salvage"
	"abe/internal/schedule"
	"abe/internal/script"
	"abe/internal/stp"
)

func finalHarvestActivity() *activity.Activity {
	return &activity.Activity{
		Name:     "finalHarvest",
		Kind:     activity.KindGeneral,
		Flags:    activity.Flags{Enabled: true, Active: true, FinalHarvest: true},
		Schedule: schedule.Schedule{TMin: 0, TOpt: 0, TMax: 100},
		General:  &activity.GeneralConfig{Action: script.NewHandle("noop")},
	}
}

func salvageActivity() *activity.Activity {
	return &activity.Activity{
		Name:    "sal",
		Kind:    activity.KindSalvage,
		Flags:   activity.Flags{Enabled: true, Active: true},
		Salvage: &activity.SalvageConfig{},
	}
}

func newTestEngine(t *testing.T, eng *fake.Engine, host *fake.Host) *Engine {
	t.Helper()
	eng.Register("noop", func(ctx context.Context, args []script.Value) (script.Value, error) {
		return script.BoolValue(true), nil
	})
	e := New(host, eng, salvage.Config{}, nil)

	at := agent.NewAgentType("evenAged", nil)
	at.AddSTP(stp.New("default", []*activity.Activity{finalHarvestActivity(), salvageActivity()}, stp.RotationLength{Medium: 100}, nil))
	e.AddAgentType(at)
	return e
}

func TestLoadStandsBuildsArena(t *testing.T) {
	eng := fake.NewEngine()
	host := fake.NewHost(eng)
	e := newTestEngine(t, eng, host)

	host.StandArea[1] = 10000
	host.StandArea[2] = 20000
	rows := []config.StandRow{
		{ID: 1, Unit: "north", AgentType: "evenAged", STP: "default"},
		{ID: 2, Unit: "north", AgentType: "evenAged", STP: "default"},
	}
	if err := e.LoadStands(context.Background(), rows); err != nil {
		t.Fatalf("LoadStands() error = %v", err)
	}

	if !e.IsValidStand(1) || !e.IsValidStand(2) {
		t.Fatal("expected both stands to be registered")
	}
	ids := e.StandIDs()
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("StandIDs() = %v, want [1 2]", ids)
	}
	if len(e.unitOrder) != 1 {
		t.Fatalf("expected one unit to be created for the shared unit name, got %d", len(e.unitOrder))
	}
}

func TestLoadStandsUnknownSTPFails(t *testing.T) {
	eng := fake.NewEngine()
	host := fake.NewHost(eng)
	e := newTestEngine(t, eng, host)

	rows := []config.StandRow{{ID: 1, Unit: "north", AgentType: "evenAged", STP: "missing"}}
	if err := e.LoadStands(context.Background(), rows); err == nil {
		t.Fatal("expected LoadStands to fail for an unknown STP name")
	}
}

func TestRunDrivesAnnualCycle(t *testing.T) {
	eng := fake.NewEngine()
	host := fake.NewHost(eng)
	e := newTestEngine(t, eng, host)

	host.StandArea[1] = 10000
	rows := []config.StandRow{{ID: 1, Unit: "north", AgentType: "evenAged", STP: "default"}}
	if err := e.LoadStands(context.Background(), rows); err != nil {
		t.Fatalf("LoadStands() error = %v", err)
	}

	var onYearCalled, onStandCalled bool
	e.Hooks.OnYear = func(ctx context.Context, year int) error {
		onYearCalled = true
		return nil
	}
	e.Hooks.OnStand = func(ctx context.Context, standID, year int) error {
		onStandCalled = true
		return nil
	}

	if err := e.Run(context.Background(), 2020); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !onYearCalled {
		t.Fatal("expected the OnYear hook to run")
	}
	if !onStandCalled {
		t.Fatal("expected the OnStand hook to run for the stand in the unit")
	}
	if e.CurrentYear() != 2020 {
		t.Fatalf("CurrentYear() = %d, want 2020", e.CurrentYear())
	}
}

func TestAbortStopsSubsequentRuns(t *testing.T) {
	eng := fake.NewEngine()
	host := fake.NewHost(eng)
	e := newTestEngine(t, eng, host)

	e.Abort("operator requested stop")

	if err := e.Run(context.Background(), 2020); err == nil {
		t.Fatal("expected Run to fail once the engine has been aborted")
	}
}

func TestNewStandFromParentRegistersChildUnderParentUnit(t *testing.T) {
	eng := fake.NewEngine()
	host := fake.NewHost(eng)
	e := newTestEngine(t, eng, host)

	host.StandArea[1] = 10000
	rows := []config.StandRow{{ID: 1, Unit: "north", AgentType: "evenAged", STP: "default"}}
	if err := e.LoadStands(context.Background(), rows); err != nil {
		t.Fatalf("LoadStands() error = %v", err)
	}

	newID := e.AllocateStandID()
	if err := e.NewStandFromParent(context.Background(), 1, newID, nil); err != nil {
		t.Fatalf("NewStandFromParent() error = %v", err)
	}
	if !e.IsValidStand(newID) {
		t.Fatal("expected the split-off stand to be registered on the engine")
	}

	parent, _ := e.Stand(1)
	child, _ := e.Stand(newID)
	if child.UnitID() != parent.UnitID() {
		t.Fatalf("child UnitID() = %d, want parent's %d", child.UnitID(), parent.UnitID())
	}
}

func TestRelabelStandGridOverridesHostGrid(t *testing.T) {
	eng := fake.NewEngine()
	host := fake.NewHost(eng)
	e := newTestEngine(t, eng, host)

	p := hostsim.Point{X: 4, Y: 6}
	host.Grid[p] = 1

	if got := e.grid.StandIDAtLIFCoord(p); got != 1 {
		t.Fatalf("StandIDAtLIFCoord() before relabel = %d, want 1 (host grid)", got)
	}

	e.RelabelStandGrid(1, []hostsim.Point{p}, 2)

	if got := e.grid.StandIDAtLIFCoord(p); got != 2 {
		t.Fatalf("StandIDAtLIFCoord() after relabel = %d, want 2 (overlay)", got)
	}
}

func TestNotifyBarkBeetleAttackAddsExtraHarvestToSalvageStands(t *testing.T) {
	eng := fake.NewEngine()
	host := fake.NewHost(eng)
	e := newTestEngine(t, eng, host)

	host.StandArea[1] = 10000
	rows := []config.StandRow{{ID: 1, Unit: "north", AgentType: "evenAged", STP: "default"}}
	if err := e.LoadStands(context.Background(), rows); err != nil {
		t.Fatalf("LoadStands() error = %v", err)
	}

	s, _ := e.Stand(1)
	u := e.units[s.UnitID()]

	e.NotifyBarkBeetleAttack(1, 2, 30)

	if u.Scheduler.ExtraHarvest != 30 {
		t.Fatalf("unit scheduler ExtraHarvest = %v, want 30 after the bark beetle notification", u.Scheduler.ExtraHarvest)
	}
}

func TestBootstrapWiresSTPsIntoAgentTypes(t *testing.T) {
	eng := fake.NewEngine()
	host := fake.NewHost(eng)
	e := New(host, eng, salvage.Config{}, nil)

	cfg := &config.Config{
		AgentTypes: []config.AgentTypeConfig{
			{Name: "evenAged", STPNames: []string{"default"}},
		},
		STPs: []config.STPConfig{
			{Name: "default", RotationMed: 100},
		},
	}
	build := func(ctx context.Context, stpc config.STPConfig) (*stp.STP, error) {
		return stp.New(stpc.Name, []*activity.Activity{finalHarvestActivity()}, stp.RotationLength{Medium: float64(stpc.RotationMed)}, nil), nil
	}

	if err := e.Bootstrap(context.Background(), cfg, build); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	at, ok := e.agentTypes["evenAged"]
	if !ok {
		t.Fatal("expected Bootstrap to register the configured agent type")
	}
	if _, ok := at.STP("default"); !ok {
		t.Fatal("expected Bootstrap to wire the built STP into the agent type's library")
	}
}

func TestVerboseTogglesEngineComponentLevel(t *testing.T) {
	eng := fake.NewEngine()
	host := fake.NewHost(eng)
	filter := logging.NewComponentFilterHandler(slog.NewTextHandler(os.Stderr, nil), slog.LevelInfo)
	e := New(host, eng, salvage.Config{}, slog.New(filter))

	if e.Verbose() {
		t.Fatal("expected Verbose() == false before SetVerbose(true)")
	}

	e.SetVerbose(true)
	if !e.Verbose() {
		t.Fatal("expected Verbose() == true after SetVerbose(true)")
	}
	if got := filter.Level("engine"); got != slog.LevelDebug {
		t.Fatalf("filter.Level(\"engine\") = %v, want Debug", got)
	}

	e.SetVerbose(false)
	if e.Verbose() {
		t.Fatal("expected Verbose() == false after SetVerbose(false)")
	}
	if got := filter.Level("engine"); got != slog.LevelInfo {
		t.Fatalf("filter.Level(\"engine\") = %v, want the default Info after clearing", got)
	}
}

func TestVerboseNoopsWithoutComponentFilterHandler(t *testing.T) {
	eng := fake.NewEngine()
	host := fake.NewHost(eng)
	e := New(host, eng, salvage.Config{}, nil)

	if e.Verbose() {
		t.Fatal("expected Verbose() == false without a ComponentFilterHandler-backed logger")
	}
	e.SetVerbose(true)
	if e.Verbose() {
		t.Fatal("expected SetVerbose to be a no-op without a ComponentFilterHandler-backed logger")
	}
}
