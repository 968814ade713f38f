// Package agent implements Agent and AgentType (spec §3, §4.8): the
// decision archetype a set of units defers to, and the individual agent
// instance that owns those units.
package agent

import (
	"abe/internal/scheduler"
	"abe/internal/script"
	"abe/internal/stp"
)

// Catalogue is a name-keyed lookup table, used for both the
// species-composition catalogue (name -> target species shares) and the
// thinning-intensity catalogue (name -> {"low","medium","high"}) an
// AgentType owns (SPEC_FULL supplement grounded on iLand's
// agenttype.cpp/fmunit.h; see SPEC_FULL.md).
type Catalogue[T any] map[string]T

// SpeciesComposition is a target species-shares table: species id to
// target basal-area fraction.
type SpeciesComposition map[int]float64

// AgentType is a decision archetype (spec §3): a script object, an STP
// library, scheduler tuning and the species-composition /
// thinning-intensity catalogues units and stands reference by name.
type AgentType struct {
	Name   string
	Object script.Object

	stps map[string]*stp.STP

	Scheduler scheduler.Options

	SpeciesCompositions Catalogue[SpeciesComposition]
	ThinningIntensities Catalogue[string]
}

// NewAgentType builds an empty AgentType.
func NewAgentType(name string, obj script.Object) *AgentType {
	return &AgentType{
		Name:                name,
		Object:              obj,
		stps:                make(map[string]*stp.STP),
		SpeciesCompositions: make(Catalogue[SpeciesComposition]),
		ThinningIntensities: make(Catalogue[string]),
	}
}

// AddSTP registers an STP in this agent type's library, keyed by name.
func (t *AgentType) AddSTP(s *stp.STP) { t.stps[s.Name] = s }

// STP looks up an STP by name (scripting surface `fmengine.activity`
// indirectly resolves through this, spec §6).
func (t *AgentType) STP(name string) (*stp.STP, bool) {
	s, ok := t.stps[name]
	return s, ok
}

// STPNames lists the names of every STP in this agent type's library.
func (t *AgentType) STPNames() []string {
	names := make([]string, 0, len(t.stps))
	for name := range t.stps {
		names = append(names, name)
	}
	return names
}

// Agent is an individual decision-making entity (spec §3): a name, its
// parent AgentType, and the units it manages. Units are referenced by
// arena index (spec §9 "Cyclic references" design note), not by pointer,
// so Agent never imports internal/unit.
type Agent struct {
	Name    string
	Type    *AgentType
	UnitIDs []int
}

// NewAgent builds an Agent bound to an AgentType.
func NewAgent(name string, t *AgentType) *Agent {
	return &Agent{Name: name, Type: t}
}

// AddUnit registers a unit (by id) as managed by this agent.
func (a *Agent) AddUnit(unitID int) {
	for _, id := range a.UnitIDs {
		if id == unitID {
			return
		}
	}
	a.UnitIDs = append(a.UnitIDs, unitID)
}
