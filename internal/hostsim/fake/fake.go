// Package fake provides in-memory implementations of the hostsim
// interfaces, used to exercise engine/stand/activity/scheduler logic
// without a real embedding simulator.
package fake

import (
	"context"
	"fmt"

	"abe/internal/hostsim"
	"abe/internal/script"
)

// Tree is a plain-data fake hostsim.Tree.
type Tree struct {
	id                          int
	Species                     int
	Pos                         hostsim.Point
	Diameter, Ht                float64
	TreeAge                     int
	BA, Vol, Leaf               float64
	Foliage, Stem, Root         float64
	Dead, ForHarvest, ForCut    bool
	CropTree, CropCompetitor    bool
	removed                     bool
}

// NewTree builds a fake tree with the given id; all other fields default
// to zero and can be set directly since Tree is a plain struct.
func NewTree(id int) *Tree { return &Tree{id: id} }

func (t *Tree) ID() int                      { return t.id }
func (t *Tree) SpeciesID() int               { return t.Species }
func (t *Tree) Position() hostsim.Point      { return t.Pos }
func (t *Tree) DBH() float64                 { return t.Diameter }
func (t *Tree) Height() float64              { return t.Ht }
func (t *Tree) Age() int                     { return t.TreeAge }
func (t *Tree) BasalArea() float64           { return t.BA }
func (t *Tree) Volume() float64              { return t.Vol }
func (t *Tree) LeafArea() float64            { return t.Leaf }
func (t *Tree) FoliageBiomass() float64      { return t.Foliage }
func (t *Tree) StemBiomass() float64         { return t.Stem }
func (t *Tree) RootBiomass() float64         { return t.Root }
func (t *Tree) IsDead() bool                 { return t.Dead }
func (t *Tree) MarkedForHarvest() bool       { return t.ForHarvest }
func (t *Tree) MarkedForCut() bool           { return t.ForCut }
func (t *Tree) MarkedAsCropTree() bool       { return t.CropTree }
func (t *Tree) MarkedAsCropCompetitor() bool { return t.CropCompetitor }

func (t *Tree) Remove()                        { t.removed = true }
func (t *Tree) RemoveFractions(f, b, s float64) { t.removed = true }
func (t *Tree) MarkForHarvest(b bool)           { t.ForHarvest = b }
func (t *Tree) MarkForCut(b bool)               { t.ForCut = b }
func (t *Tree) MarkCropTree(b bool)             { t.CropTree = b }
func (t *Tree) MarkCropCompetitor(b bool)       { t.CropCompetitor = b }

// Removed reports whether Remove/RemoveFractions was called, for tests.
func (t *Tree) Removed() bool { return t.removed }

// Host is an in-memory hostsim.Host: a flat stand grid, a per-stand tree
// list, a sapling pixel counter, and a recording removal notifier.
type Host struct {
	Grid         map[hostsim.Point]int
	Bounds       map[int][2]hostsim.Point
	Neighbors    map[int][]int
	StandArea    map[int]float64
	Trees        map[int][]hostsim.Tree
	Saplings     []SaplingAdd
	Removals     []Removal
	BeetleEvents []BeetleEvent
	Eng          script.Engine
}

// SaplingAdd records one AddSapling call.
type SaplingAdd struct {
	Cell    hostsim.Point
	Height  float64
	Age     int
	Species int
}

// Removal records one OnTreeRemoval call.
type Removal struct {
	Tree   hostsim.Tree
	Reason hostsim.RemovalReason
}

// BeetleEvent records one OnBarkBeetleAttack call.
type BeetleEvent struct {
	ResourceUnit    int
	Generations     int
	InfestedPxPerHa float64
}

// NewHost builds an empty fake host with the given script engine.
func NewHost(eng script.Engine) *Host {
	return &Host{
		Grid:      make(map[hostsim.Point]int),
		Bounds:    make(map[int][2]hostsim.Point),
		Neighbors: make(map[int][]int),
		StandArea: make(map[int]float64),
		Trees:     make(map[int][]hostsim.Tree),
		Eng:       eng,
	}
}

func (h *Host) StandIDAtLIFCoord(p hostsim.Point) int { return h.Grid[p] }

func (h *Host) BoundingBox(standID int) (min, max hostsim.Point) {
	b := h.Bounds[standID]
	return b[0], b[1]
}

func (h *Host) NeighborsOf(standID int) []int { return h.Neighbors[standID] }

func (h *Host) Area(standID int) float64 { return h.StandArea[standID] }

func (h *Host) TreesOf(standID int) []hostsim.Tree { return h.Trees[standID] }

func (h *Host) AddSapling(cell hostsim.Point, height float64, age int, speciesIndex int) {
	h.Saplings = append(h.Saplings, SaplingAdd{Cell: cell, Height: height, Age: age, Species: speciesIndex})
}

func (h *Host) ClearSaplings(cell hostsim.Point, resourceUnit int, fullClear bool) {}

func (h *Host) OnTreeRemoval(tree hostsim.Tree, reason hostsim.RemovalReason) {
	h.Removals = append(h.Removals, Removal{Tree: tree, Reason: reason})
}

func (h *Host) OnBarkBeetleAttack(resourceUnit int, generations int, infestedPxPerHa float64) {
	h.BeetleEvents = append(h.BeetleEvents, BeetleEvent{ResourceUnit: resourceUnit, Generations: generations, InfestedPxPerHa: infestedPxPerHa})
}

func (h *Host) Script() script.Engine { return h.Eng }

// Engine is a minimal fake script.Engine: globals are stored in a map and
// calls are dispatched to registered Go closures keyed by handle.
type Engine struct {
	Globals   map[string]script.Value
	Callables map[string]func(ctx context.Context, args []script.Value) (script.Value, error)
}

// NewEngine builds an empty fake scripting engine.
func NewEngine() *Engine {
	return &Engine{
		Globals:   make(map[string]script.Value),
		Callables: make(map[string]func(ctx context.Context, args []script.Value) (script.Value, error)),
	}
}

// Register binds name as a callable resolvable via a Handle of the same
// name, so test setup can do eng.Register("action", fn) and then use
// script.NewHandle("action") as the Handle.
func (e *Engine) Register(name string, fn func(ctx context.Context, args []script.Value) (script.Value, error)) {
	e.Callables[name] = fn
}

func (e *Engine) Call(ctx context.Context, handle script.Handle, args []script.Value) (script.Value, error) {
	fn, ok := e.Callables[handle.String()]
	if !ok {
		return nil, fmt.Errorf("fake engine: no callable registered for handle %q", handle)
	}
	return fn(ctx, args)
}

func (e *Engine) GlobalSet(name string, value script.Value) error {
	e.Globals[name] = value
	return nil
}

func (e *Engine) Evaluate(ctx context.Context, source string) (script.Value, error) {
	fn, ok := e.Callables[source]
	if !ok {
		return script.StringValue(""), nil
	}
	return fn(ctx, nil)
}
