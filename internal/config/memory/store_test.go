package memory

import (
	"context"
	"testing"

	"abe/internal/config"
	"abe/internal/config/storetest"
)

func TestConformance(t *testing.T) {
	storetest.TestStore(t, func(t *testing.T) config.Store {
		return NewStore()
	})
}

// TestStoreIsolation verifies that Save deep-copies its input and Load
// deep-copies its output, so mutating a struct on either side of the
// Store boundary never reaches the other side.
func TestStoreIsolation(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	cfg := &config.Config{
		AgentTypes: []config.AgentTypeConfig{
			{
				Name:                "default",
				SpeciesCompositions: map[string]map[string]float64{"mixed": {"piab": 0.6}},
			},
		},
	}
	if err := s.Save(ctx, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Mutate the caller's copy after Save; the store must be unaffected.
	cfg.AgentTypes[0].SpeciesCompositions["mixed"]["piab"] = 0.0

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.AgentTypes[0].SpeciesCompositions["mixed"]["piab"] != 0.6 {
		t.Fatalf("Save did not deep-copy: stored value mutated via caller reference")
	}

	// Mutate the loaded copy; a second Load must be unaffected.
	got.AgentTypes[0].SpeciesCompositions["mixed"]["piab"] = 0.0

	got2, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got2.AgentTypes[0].SpeciesCompositions["mixed"]["piab"] != 0.6 {
		t.Fatalf("Load did not deep-copy: stored value mutated via returned reference")
	}
}
