// Package cli implements the "abe" command tree.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"abe/internal/activity"
	"abe/internal/config"
	"abe/internal/constraint"
	"abe/internal/engine"
	"abe/internal/expr"
	"abe/internal/hostsim"
	"abe/internal/hostsim/fake"
	"abe/internal/salvage"
	"abe/internal/schedule"
	"abe/internal/script"
	"abe/internal/stp"
)

// buildDemoScenario assembles a minimal, fully self-contained engine:
// one agent type, one STP with a thinning-then-final-harvest program, and
// a handful of synthetic stands spread across two units on a fake host.
// It plays the role the teacher's chatterbox ingester plays for
// gastrolog: a built-in, dependency-free scenario that exercises the
// full wiring without requiring a real embedding simulator.
func buildDemoScenario(logger *slog.Logger) (*engine.Engine, *fake.Host, error) {
	eng := fake.NewEngine()
	eng.Register("noop", func(ctx context.Context, args []script.Value) (script.Value, error) {
		return script.BoolValue(true), nil
	})

	host := fake.NewHost(eng)
	seedDemoStands(host)

	e := engine.New(host, eng, salvage.Config{}, logger)

	cfg := &config.Config{
		AgentTypes: []config.AgentTypeConfig{{
			Name:     "evenAged",
			STPNames: []string{"defaultProgram"},
			Scheduler: config.SchedulerOptionsConfig{
				UseScheduler:             true,
				UseSustainableHarvest:    0.7,
				MinScheduleHarvest:       0,
				MaxScheduleHarvest:       20,
				MaxHarvestOvershoot:      1.2,
				HarvestIntensity:         1,
				ScheduleRebounceDuration: 10,
				DeviationDecayRate:       0.8,
				MinRating:                "0.5",
			},
		}},
		STPs: []config.STPConfig{{
			Name:         "defaultProgram",
			RotationLow:  80,
			RotationMed:  100,
			RotationHigh: 120,
		}},
	}

	if err := e.Bootstrap(context.Background(), cfg, buildDemoSTP); err != nil {
		return nil, nil, fmt.Errorf("bootstrap demo scenario: %w", err)
	}

	rows := []config.StandRow{
		{ID: 1, Unit: "north", AgentType: "evenAged", Agent: "northRanger", STP: "defaultProgram", U: "medium"},
		{ID: 2, Unit: "north", AgentType: "evenAged", Agent: "northRanger", STP: "defaultProgram", U: "medium"},
		{ID: 3, Unit: "south", AgentType: "evenAged", Agent: "southRanger", STP: "defaultProgram", U: "high"},
	}
	if err := e.LoadStands(context.Background(), rows); err != nil {
		return nil, nil, fmt.Errorf("load demo stands: %w", err)
	}

	return e, host, nil
}

// buildDemoSTP is the engine.STPBuilder for the demo scenario: since no
// real scripting engine is embedded, it ignores ScriptSource and builds a
// two-activity program directly (a repeating thinning every 20 years, and
// a final harvest scheduled near the rotation length), matching the shape
// a declarative config loader would otherwise produce from script objects
// (spec §4.5, §9).
func buildDemoSTP(ctx context.Context, cfg config.STPConfig) (*stp.STP, error) {
	thinning := &activity.Activity{
		Name: "thin",
		Flags: activity.Flags{
			Enabled: true,
			Active:  true,
		},
		Schedule: schedule.Schedule{
			TMin: schedule.Unset, TOpt: schedule.Unset, TMax: schedule.Unset,
			TMinRel: schedule.Unset, TOptRel: schedule.Unset, TMaxRel: schedule.Unset,
			Repeat:         true,
			RepeatInterval: 20,
		},
		Kind:    activity.KindGeneral,
		General: &activity.GeneralConfig{Action: script.NewHandle("noop")},
	}
	thinning.Flags.Repeating = true

	minRating, err := expr.Parse("0.5")
	if err != nil {
		return nil, err
	}

	final := &activity.Activity{
		Name: "finalHarvest",
		Flags: activity.Flags{
			Enabled:      true,
			Active:       true,
			FinalHarvest: true,
			Scheduled:    true,
		},
		Schedule: schedule.Schedule{
			TMin: schedule.Unset, TOpt: schedule.Unset, TMax: schedule.Unset,
			TMinRel: 0.9, TOptRel: 1.0, TMaxRel: 1.1,
		},
		Constraints: constraint.List{Items: []constraint.Item{{Kind: constraint.KindExpr, Source: "0.5", AST: minRating}}},
		Kind:        activity.KindScheduled,
		Scheduled:   &activity.ScheduledConfig{TargetValue: 150},
	}

	u := stp.RotationLength{Low: float64(cfg.RotationLow), Medium: float64(cfg.RotationMed), High: float64(cfg.RotationHigh)}
	return stp.New(cfg.Name, []*activity.Activity{thinning, final}, u, nil), nil
}

// seedDemoStands populates host with a tiny 3-stand synthetic layout
// (each stand 20 m x 20 m, i.e. 100 pixels of 2 m), enough for Stand.Pixels/BoundingBox/Area/NeighborsOf
// to resolve sensibly.
func seedDemoStands(host *fake.Host) {
	layout := []struct {
		id            int
		min, max      hostsim.Point
		neighbors     []int
		area          float64
		meanTreeCount int
	}{
		{id: 1, min: hostsim.Point{X: 0, Y: 0}, max: hostsim.Point{X: 20, Y: 20}, neighbors: []int{2}, area: 40000, meanTreeCount: 40},
		{id: 2, min: hostsim.Point{X: 20, Y: 0}, max: hostsim.Point{X: 40, Y: 20}, neighbors: []int{1}, area: 40000, meanTreeCount: 35},
		{id: 3, min: hostsim.Point{X: 0, Y: 20}, max: hostsim.Point{X: 20, Y: 40}, neighbors: nil, area: 40000, meanTreeCount: 50},
	}

	treeID := 0
	for _, s := range layout {
		host.Bounds[s.id] = [2]hostsim.Point{s.min, s.max}
		host.Neighbors[s.id] = s.neighbors
		host.StandArea[s.id] = s.area

		for y := s.min.Y; y < s.max.Y; y += 2 {
			for x := s.min.X; x < s.max.X; x += 2 {
				host.Grid[hostsim.Point{X: x, Y: y}] = s.id
			}
		}

		trees := make([]hostsim.Tree, 0, s.meanTreeCount)
		for i := 0; i < s.meanTreeCount; i++ {
			treeID++
			t := fake.NewTree(treeID)
			t.Species = 1
			t.Pos = hostsim.Point{X: s.min.X + float64(i%10)*2, Y: s.min.Y + float64(i/10)*2}
			t.Diameter = 25
			t.Ht = 22
			t.TreeAge = 60
			t.BA = 0.05
			t.Vol = 0.4
			trees = append(trees, t)
		}
		host.Trees[s.id] = trees
	}
}
