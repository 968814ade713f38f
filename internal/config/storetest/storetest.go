// Package storetest provides a shared conformance test suite for config.Store
// implementations. Each backend (memory, file) wires this suite to verify it
// satisfies the full Store contract.
package storetest

import (
	"context"
	"testing"

	"abe/internal/config"
)

// TestStore runs the full conformance suite against a Store implementation.
// newStore must return a fresh, empty store for each sub-test.
func TestStore(t *testing.T, newStore func(t *testing.T) config.Store) {
	t.Run("LoadEmpty", func(t *testing.T) {
		s := newStore(t)
		cfg, err := s.Load(context.Background())
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg != nil {
			t.Fatalf("expected nil config from empty store, got %+v", cfg)
		}
	})

	t.Run("SaveThenLoad", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		want := &config.Config{
			AgentTypes: []config.AgentTypeConfig{
				{
					Name:     "default",
					STPNames: []string{"clearcut", "shelterwood"},
					Scheduler: config.SchedulerOptionsConfig{
						UseScheduler:             true,
						UseSustainableHarvest:    0.8,
						MinScheduleHarvest:       0.5,
						MaxScheduleHarvest:       1.5,
						MaxHarvestOvershoot:      2.0,
						HarvestIntensity:         1.0,
						ScheduleRebounceDuration: 10,
						DeviationDecayRate:       0.9,
						MinRating:                "stand.basalArea > 0",
					},
					SpeciesCompositions: map[string]map[string]float64{
						"mixed": {"piab": 0.6, "fasy": 0.4},
					},
					ThinningIntensities: map[string]string{
						"standard": "medium",
					},
				},
			},
			STPs: []config.STPConfig{
				{Name: "clearcut", RotationLow: 80, RotationMed: 100, RotationHigh: 120, ScriptSource: "stp.clearcut"},
				{Name: "shelterwood", RotationLow: 100, RotationMed: 120, RotationHigh: 140, ScriptSource: "stp.shelterwood"},
			},
		}

		if err := s.Save(ctx, want); err != nil {
			t.Fatalf("Save: %v", err)
		}

		got, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got == nil {
			t.Fatal("expected config, got nil")
		}
		if len(got.AgentTypes) != 1 || got.AgentTypes[0].Name != "default" {
			t.Fatalf("AgentTypes mismatch: %+v", got.AgentTypes)
		}
		at := got.AgentTypes[0]
		if len(at.STPNames) != 2 {
			t.Fatalf("STPNames mismatch: %+v", at.STPNames)
		}
		if at.Scheduler.UseSustainableHarvest != 0.8 {
			t.Fatalf("Scheduler.UseSustainableHarvest = %v, want 0.8", at.Scheduler.UseSustainableHarvest)
		}
		if at.SpeciesCompositions["mixed"]["piab"] != 0.6 {
			t.Fatalf("SpeciesCompositions mismatch: %+v", at.SpeciesCompositions)
		}
		if at.ThinningIntensities["standard"] != "medium" {
			t.Fatalf("ThinningIntensities mismatch: %+v", at.ThinningIntensities)
		}
		if len(got.STPs) != 2 {
			t.Fatalf("STPs mismatch: %+v", got.STPs)
		}
	})

	t.Run("SaveReplacesFullConfig", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first := &config.Config{
			AgentTypes: []config.AgentTypeConfig{{Name: "a"}},
			STPs:       []config.STPConfig{{Name: "stp-a"}},
		}
		if err := s.Save(ctx, first); err != nil {
			t.Fatalf("Save first: %v", err)
		}

		second := &config.Config{
			AgentTypes: []config.AgentTypeConfig{{Name: "b"}},
		}
		if err := s.Save(ctx, second); err != nil {
			t.Fatalf("Save second: %v", err)
		}

		got, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if len(got.AgentTypes) != 1 || got.AgentTypes[0].Name != "b" {
			t.Fatalf("expected Save to fully replace AgentTypes, got %+v", got.AgentTypes)
		}
		if len(got.STPs) != 0 {
			t.Fatalf("expected Save to drop stale STPs, got %+v", got.STPs)
		}
	})

	t.Run("SaveOverwritesExistingAgentType", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		cfg := &config.Config{
			AgentTypes: []config.AgentTypeConfig{
				{Name: "default", Scheduler: config.SchedulerOptionsConfig{HarvestIntensity: 1.0}},
			},
		}
		if err := s.Save(ctx, cfg); err != nil {
			t.Fatalf("Save: %v", err)
		}

		cfg.AgentTypes[0].Scheduler.HarvestIntensity = 2.0
		if err := s.Save(ctx, cfg); err != nil {
			t.Fatalf("Save update: %v", err)
		}

		got, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if len(got.AgentTypes) != 1 {
			t.Fatalf("expected exactly one agent type, got %d", len(got.AgentTypes))
		}
		if got.AgentTypes[0].Scheduler.HarvestIntensity != 2.0 {
			t.Fatalf("HarvestIntensity = %v, want 2.0", got.AgentTypes[0].Scheduler.HarvestIntensity)
		}
	})
}
