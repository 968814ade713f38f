// Package hostsim declares the host simulator contract the engine consumes
// (spec §6): stand grid, tree access, sapling grid and the scripting
// engine. Production implementations live in the embedding simulator; this
// module ships only the interfaces plus test fakes (internal/hostsim/fake).
package hostsim

import "abe/internal/script"

// Point is a metric coordinate on the light-resolution (LIF) grid.
type Point struct {
	X, Y float64
}

// RemovalReason classifies why a tree left the simulation.
type RemovalReason int

const (
	ReasonDeath RemovalReason = iota
	ReasonHarvest
	ReasonDisturbance
	ReasonSalvaged
	ReasonCutDown
)

func (r RemovalReason) String() string {
	switch r {
	case ReasonDeath:
		return "death"
	case ReasonHarvest:
		return "harvest"
	case ReasonDisturbance:
		return "disturbance"
	case ReasonSalvaged:
		return "salvaged"
	case ReasonCutDown:
		return "cutDown"
	default:
		return "unknown"
	}
}

// StandGrid maps metric coordinates to stand ids at 10m resolution and
// answers neighbour/geometry queries (spec §6).
type StandGrid interface {
	StandIDAtLIFCoord(p Point) int
	BoundingBox(standID int) (min, max Point)
	NeighborsOf(standID int) []int
	Area(standID int) float64
}

// Tree is a single tree individual exposed to activities (spec §6).
type Tree interface {
	ID() int
	SpeciesID() int
	Position() Point
	DBH() float64
	Height() float64
	Age() int
	BasalArea() float64
	Volume() float64
	LeafArea() float64
	FoliageBiomass() float64
	StemBiomass() float64
	RootBiomass() float64

	IsDead() bool
	MarkedForHarvest() bool
	MarkedForCut() bool
	MarkedAsCropTree() bool
	MarkedAsCropCompetitor() bool

	Remove()
	RemoveFractions(foliageFrac, branchFrac, stemFrac float64)
	MarkForHarvest(b bool)
	MarkForCut(b bool)
	MarkCropTree(b bool)
	MarkCropCompetitor(b bool)
}

// TreeList gives activities access to the trees of a stand.
type TreeList interface {
	TreesOf(standID int) []Tree
}

// SaplingGrid is the high-resolution regeneration pixel grid (spec §6).
type SaplingGrid interface {
	AddSapling(cell Point, height float64, age int, speciesIndex int)
	ClearSaplings(cell Point, resourceUnit int, fullClear bool)
}

// RemovalNotifier is implemented by the host to observe tree removals and
// bark-beetle attacks the engine must fan out (spec §6).
type RemovalNotifier interface {
	OnTreeRemoval(tree Tree, reason RemovalReason)
	OnBarkBeetleAttack(resourceUnit int, generations int, infestedPxPerHa float64)
}

// Host bundles the full simulator contract the engine is built against.
type Host interface {
	StandGrid
	TreeList
	SaplingGrid
	RemovalNotifier
	Script() script.Engine
}
