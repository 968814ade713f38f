// Package stp implements the STP (Stand Treatment Program) type: an
// ordered collection of activities, top-level lifecycle events, and a
// rotation-length triple (spec §4.5).
package stp

import (
	"sort"

	"abe/internal/activity"
	"abe/internal/event"
	"abe/internal/script"
)

// RotationLength is the `U = (low, medium, high)` triple (spec §3 STP).
type RotationLength struct {
	Low, Medium, High float64
}

// STP is an ordered collection of activities plus top-level events and a
// rotation-length triple (spec §4.5).
type STP struct {
	Name            string
	Activities      []*activity.Activity
	ActivityIndex   map[string]int
	Events          event.Hooks
	U               RotationLength
	Options         script.Object
	HasRepeating    bool
	HasSalvage      bool
}

// New builds an STP from an already-constructed activity list (built by
// the declarative config loader, which plays the role the original
// engine's recursive script-object scan played: discovering sub-objects
// that carry a `type` field). Setup sorts the activities chronologically,
// builds the name index, registers top-level events from obj (if any),
// and detects whether any activity repeats or performs salvage.
func New(name string, activities []*activity.Activity, u RotationLength, obj script.Object) *STP {
	s := &STP{
		Name:          name,
		Activities:    activities,
		ActivityIndex: make(map[string]int, len(activities)),
		U:             u,
	}
	if obj != nil {
		s.Events = event.NewHooks(obj)
		s.Options = obj
	}
	s.setup()
	return s
}

func (s *STP) setup() {
	sort.SliceStable(s.Activities, func(i, j int) bool {
		return s.Activities[i].EarliestSchedule(s.U.Medium) < s.Activities[j].EarliestSchedule(s.U.Medium)
	})
	for i, a := range s.Activities {
		a.Index = i
		s.ActivityIndex[a.Name] = i
		if a.Flags.Repeating {
			s.HasRepeating = true
		}
		if a.Kind == activity.KindSalvage {
			s.HasSalvage = true
		}
	}
}

// ByName looks up an activity by name.
func (s *STP) ByName(name string) (*activity.Activity, bool) {
	idx, ok := s.ActivityIndex[name]
	if !ok {
		return nil, false
	}
	return s.Activities[idx], true
}

// At returns the activity at index i, or nil if out of range (e.g. the
// stand's current-activity index of -1 meaning "no active activity").
func (s *STP) At(i int) *activity.Activity {
	if i < 0 || i >= len(s.Activities) {
		return nil
	}
	return s.Activities[i]
}

// Len returns the number of activities, used to size a stand's per-
// activity flag vector (spec §3 Stand invariant).
func (s *STP) Len() int { return len(s.Activities) }
