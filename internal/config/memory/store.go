// Package memory provides an in-memory config.Store implementation.
// Intended for testing. Configuration is not persisted across restarts.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"

	"abe/internal/config"
)

// Store is an in-memory config.Store implementation.
type Store struct {
	mu         sync.RWMutex
	agentTypes map[string]config.AgentTypeConfig
	stps       map[string]config.STPConfig
}

var _ config.Store = (*Store)(nil)

// NewStore creates a new in-memory config.Store.
func NewStore() *Store {
	return &Store{
		agentTypes: make(map[string]config.AgentTypeConfig),
		stps:       make(map[string]config.STPConfig),
	}
}

// Load returns the full configuration. Returns nil if nothing was saved.
func (s *Store) Load(ctx context.Context) (*config.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.agentTypes) == 0 && len(s.stps) == 0 {
		return nil, nil
	}

	cfg := &config.Config{}

	cfg.AgentTypes = make([]config.AgentTypeConfig, 0, len(s.agentTypes))
	for _, at := range s.agentTypes {
		cfg.AgentTypes = append(cfg.AgentTypes, copyAgentType(at))
	}
	slices.SortFunc(cfg.AgentTypes, func(a, b config.AgentTypeConfig) int {
		return cmp.Compare(a.Name, b.Name)
	})

	cfg.STPs = make([]config.STPConfig, 0, len(s.stps))
	for _, stp := range s.stps {
		cfg.STPs = append(cfg.STPs, stp)
	}
	slices.SortFunc(cfg.STPs, func(a, b config.STPConfig) int {
		return cmp.Compare(a.Name, b.Name)
	})

	return cfg, nil
}

// Save replaces the full configuration.
func (s *Store) Save(ctx context.Context, cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.agentTypes = make(map[string]config.AgentTypeConfig, len(cfg.AgentTypes))
	for _, at := range cfg.AgentTypes {
		s.agentTypes[at.Name] = copyAgentType(at)
	}

	s.stps = make(map[string]config.STPConfig, len(cfg.STPs))
	for _, stp := range cfg.STPs {
		s.stps[stp.Name] = stp
	}

	return nil
}

func copyAgentType(at config.AgentTypeConfig) config.AgentTypeConfig {
	c := config.AgentTypeConfig{
		Name:      at.Name,
		Scheduler: at.Scheduler,
	}
	c.STPNames = append([]string(nil), at.STPNames...)
	if at.SpeciesCompositions != nil {
		c.SpeciesCompositions = make(map[string]map[string]float64, len(at.SpeciesCompositions))
		for name, shares := range at.SpeciesCompositions {
			c.SpeciesCompositions[name] = maps.Clone(shares)
		}
	}
	if at.ThinningIntensities != nil {
		c.ThinningIntensities = maps.Clone(at.ThinningIntensities)
	}
	return c
}
