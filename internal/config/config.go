// Package config provides configuration persistence for the engine.
//
// Store persists and reloads the desired engine configuration — agent
// types, their scheduler options, and the STP library each agent type
// draws from — across restarts. This is control-plane state, not the
// per-year simulation state owned by internal/engine.
//
// Store does not:
//   - Run activities or evaluate schedules
//   - Assign STPs to stands
//   - Manage the annual run loop
//   - Watch for live changes (v1 is load-on-start only)
package config

import "context"

// Store persists and loads engine configuration.
//
// Config describes the desired agent/STP shape. The engine loads config at
// startup and instantiates AgentTypes and STPs from it; config changes are
// not hot-reloaded in v1.
type Store interface {
	// Load reads the configuration. Returns nil config if none exists.
	Load(ctx context.Context) (*Config, error)

	// Save persists the configuration.
	Save(ctx context.Context, cfg *Config) error
}

// Config describes the desired engine shape.
// It is declarative: it defines what agent types and STPs should exist,
// not how the per-year simulation unfolds.
type Config struct {
	AgentTypes []AgentTypeConfig
	STPs       []STPConfig
}

// AgentTypeConfig describes an agent type to instantiate.
type AgentTypeConfig struct {
	// Name uniquely identifies the agent type.
	Name string

	// STPNames lists the STPs (by name) this agent type's library holds.
	STPNames []string

	// Scheduler holds the per-agent scheduler tuning.
	Scheduler SchedulerOptionsConfig

	// SpeciesCompositions maps a composition name to target species shares
	// (species id -> fraction), consulted by Unit/Stand via name.
	SpeciesCompositions map[string]map[string]float64

	// ThinningIntensities maps an intensity class name to one of
	// "low", "medium", "high".
	ThinningIntensities map[string]string
}

// SchedulerOptionsConfig mirrors spec.md §3's SchedulerOptions, in
// declarative/serializable form.
type SchedulerOptionsConfig struct {
	UseScheduler           bool
	UseSustainableHarvest  float64 // in [0,1]
	MinScheduleHarvest     float64
	MaxScheduleHarvest     float64
	MaxHarvestOvershoot    float64
	HarvestIntensity       float64
	ScheduleRebounceDuration int // years
	DeviationDecayRate     float64 // in [0,1]
	MinRating              string  // expression, parsed but advisory (see DESIGN.md)
}

// STPConfig describes an STP (Stand Treatment Program) to load.
// The activity list itself is authored as script objects (see
// internal/script) and resolved by name at setup time; STPConfig only
// carries the parts that are plain declarative data.
type STPConfig struct {
	Name          string
	RotationLow   int
	RotationMed   int
	RotationHigh  int
	ScriptSource  string // source handed to script.Engine.Evaluate at setup
}
