// Package salvage implements the post-disturbance stand splitter (spec
// §4.9): a flood-fill over a local height grid that can carve a damaged
// stand into sub-stands, or declare it entirely disturbed.
package salvage

import (
	"context"
	"log/slog"
	"math"

	"abe/internal/hostsim"
	"abe/internal/logging"
	"abe/internal/script"
	"abe/internal/stand"
)

// pixelSize must match internal/stand's light-resolution pixel width, so
// the splitter's local grid aligns with Stand.Pixels.
const pixelSize = 2.0

// Config tunes the splitter's thresholds (spec §4.9 / §8 scenario S4).
type Config struct {
	ThresholdSplit      float64 // rLow below this: nothing to do. Default 0.1.
	ThresholdClear      float64 // rLow above this: total disturbance. Default 0.9.
	MinComponentSize    int     // pixels; smaller components get merged. Default 25.
	MaxMergeIterations  int     // explicit cap on the small-component merge pass
	// (spec §9 open question: the source's merge search "lacks a safe exit
	// when no index below the threshold exists"; this rework adds a bounded
	// iteration count instead of an unconditional loop).
}

func (c Config) withDefaults() Config {
	if c.ThresholdSplit == 0 {
		c.ThresholdSplit = 0.1
	}
	if c.ThresholdClear == 0 {
		c.ThresholdClear = 0.9
	}
	if c.MinComponentSize == 0 {
		c.MinComponentSize = 25
	}
	return c
}

// Allocator is the engine-side port the splitter uses to mint new stand
// ids and mutate the shared stand grid (spec §5 "a stand splitter
// allocates a fresh stand id under a mutex that guards a monotonically
// increasing counter"). Implemented by internal/engine.
type Allocator interface {
	AllocateStandID() int
	RelabelStandGrid(parentID int, pixels []hostsim.Point, newID int)
	NewStandFromParent(ctx context.Context, parentID, newID int, pixels []hostsim.Point) error
	MarkLayoutChanged()
	CurrentYear() int
}

// Splitter implements stand.Splitter (spec §4.9).
type Splitter struct {
	Cfg       Config
	Allocator Allocator
	Script    script.Engine
	Logger    *slog.Logger
}

// New builds a Splitter.
func New(alloc Allocator, eng script.Engine, cfg Config, logger *slog.Logger) *Splitter {
	return &Splitter{
		Cfg:       cfg,
		Allocator: alloc,
		Script:    eng,
		Logger:    logging.Default(logger).With("component", "salvage"),
	}
}

// Resplit runs the flood-fill splitter against s (spec §4.9 steps 1-6).
func (sp *Splitter) Resplit(ctx context.Context, s *stand.Stand) error {
	cfg := sp.Cfg.withDefaults()

	pixels := s.Pixels()
	if len(pixels) == 0 {
		return nil
	}

	heights := sp.heightGrid(s, pixels)
	hMax := 0.0
	for _, h := range heights {
		if h > hMax {
			hMax = h
		}
	}
	if hMax == 0 {
		return nil
	}
	lowCutoff := 0.33 * hMax

	low := make(map[hostsim.Point]bool, len(pixels))
	nLow, nHigh := 0, 0
	for _, p := range pixels {
		if heights[p] < lowCutoff {
			low[p] = true
			nLow++
		} else {
			nHigh++
		}
	}
	if nLow+nHigh == 0 {
		return nil
	}
	rLow := float64(nLow) / float64(nLow+nHigh)

	if rLow < cfg.ThresholdSplit {
		return nil
	}

	if rLow > cfg.ThresholdClear || (rLow > 0.5 && nHigh < cfg.MinComponentSize) {
		sp.Logger.Debug("total disturbance declared", "stand", s.ID(), "rLow", rLow, "nHigh", nHigh)
		s.SetRunSalvageFlag(true)
		return s.Reset(ctx, sp.Script, s.STP(), sp.Allocator.CurrentYear())
	}

	valid := make(map[hostsim.Point]bool, len(pixels))
	for _, p := range pixels {
		valid[p] = true
	}

	mask := smooth(pixels, low, valid)
	labels, empty, forest := label(pixels, mask, valid)
	mergeSmall(labels, empty, forest, valid, cfg)

	for id, comp := range empty {
		if len(comp) < cfg.MinComponentSize {
			continue
		}
		newID := sp.Allocator.AllocateStandID()
		sp.Allocator.RelabelStandGrid(s.ID(), comp, newID)
		if err := sp.Allocator.NewStandFromParent(ctx, s.ID(), newID, comp); err != nil {
			return err
		}
		sp.Logger.Debug("stand split", "parent", s.ID(), "new", newID, "component", id, "pixels", len(comp))
		s.InvalidatePixels()
		sp.Allocator.MarkLayoutChanged()
	}
	return nil
}

func snapToPixel(p hostsim.Point) hostsim.Point {
	return hostsim.Point{
		X: math.Floor(p.X/pixelSize) * pixelSize,
		Y: math.Floor(p.Y/pixelSize) * pixelSize,
	}
}

// heightGrid builds a local height grid from trees in the stand, one
// value per pixel (the tallest living tree snapping to that pixel; 0 for
// pixels with no trees, which reads as "low" and so contributes to
// disturbance detection, matching an actually-cleared pixel).
func (sp *Splitter) heightGrid(s *stand.Stand, pixels []hostsim.Point) map[hostsim.Point]float64 {
	grid := make(map[hostsim.Point]float64, len(pixels))
	for _, p := range pixels {
		grid[p] = 0
	}
	for _, t := range s.Trees() {
		if t.IsDead() {
			continue
		}
		p := snapToPixel(t.Position())
		if _, ok := grid[p]; !ok {
			continue
		}
		if t.Height() > grid[p] {
			grid[p] = t.Height()
		}
	}
	return grid
}

// neighbors8 returns the up-to-8 valid neighbours of p on the pixel grid.
func neighbors8(p hostsim.Point, valid map[hostsim.Point]bool) []hostsim.Point {
	var out []hostsim.Point
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			q := hostsim.Point{X: p.X + float64(dx)*pixelSize, Y: p.Y + float64(dy)*pixelSize}
			if valid[q] {
				out = append(out, q)
			}
		}
	}
	return out
}

// smooth resolves each low-height pixel to "empty" (true) or "forest"
// (false) by majority vote over its 8-neighbours' raw low/high
// classification (spec §4.9 step 3). The source text gives two
// thresholds (50% for "empty", 75% for "forest") that are jointly
// unsatisfiable as a single per-pixel rule; this rework collapses them
// to the one load-bearing majority threshold (>=50% of neighbours also
// low-height => empty), documented as a deliberate simplification in
// DESIGN.md. High-height pixels are never reclassified.
func smooth(pixels []hostsim.Point, low, valid map[hostsim.Point]bool) map[hostsim.Point]bool {
	mask := make(map[hostsim.Point]bool, len(pixels))
	for _, p := range pixels {
		if !low[p] {
			mask[p] = false
			continue
		}
		ns := neighbors8(p, valid)
		if len(ns) == 0 {
			mask[p] = true
			continue
		}
		lowCount := 0
		for _, n := range ns {
			if low[n] {
				lowCount++
			}
		}
		mask[p] = float64(lowCount)/float64(len(ns)) >= 0.5
	}
	return mask
}

// label flood-fills 8-connected components of equal mask value over the
// valid pixel set (spec §4.9 step 4), returning a per-pixel label and the
// pixel lists for "empty" and "forest" components keyed by label id. BFS
// over a bounded pixel set always terminates.
func label(pixels []hostsim.Point, mask, valid map[hostsim.Point]bool) (labels map[hostsim.Point]int, empty, forest map[int][]hostsim.Point) {
	labels = make(map[hostsim.Point]int, len(pixels))
	empty = make(map[int][]hostsim.Point)
	forest = make(map[int][]hostsim.Point)
	visited := make(map[hostsim.Point]bool, len(pixels))
	nextID := 1

	for _, start := range pixels {
		if visited[start] {
			continue
		}
		isEmpty := mask[start]
		queue := []hostsim.Point{start}
		visited[start] = true
		var comp []hostsim.Point
		for len(queue) > 0 {
			p := queue[0]
			queue = queue[1:]
			comp = append(comp, p)
			for _, n := range neighbors8(p, valid) {
				if visited[n] || mask[n] != isEmpty {
					continue
				}
				visited[n] = true
				queue = append(queue, n)
			}
		}
		id := nextID
		nextID++
		for _, p := range comp {
			labels[p] = id
		}
		if isEmpty {
			empty[id] = comp
		} else {
			forest[id] = comp
		}
	}
	return labels, empty, forest
}

// mergeSmall merges every component smaller than cfg.MinComponentSize
// into its largest labeled neighbour (spec §4.9 step 5), bounded by
// cfg.MaxMergeIterations (or len(labels)+1 if unset) so a pathological
// patch shape cannot spin forever.
func mergeSmall(labels map[hostsim.Point]int, empty, forest map[int][]hostsim.Point, valid map[hostsim.Point]bool, cfg Config) {
	maxIter := cfg.MaxMergeIterations
	if maxIter <= 0 {
		maxIter = len(labels) + 1
	}

	mergeGroup := func(group map[int][]hostsim.Point) bool {
		mergedAny := false
		for id, comp := range group {
			if len(comp) >= cfg.MinComponentSize {
				continue
			}
			target := largestNeighborLabel(comp, labels, valid, id)
			if target == 0 {
				continue
			}
			if dst, ok := empty[target]; ok {
				empty[target] = append(dst, comp...)
			} else if dst, ok := forest[target]; ok {
				forest[target] = append(dst, comp...)
			} else {
				continue
			}
			for _, p := range comp {
				labels[p] = target
			}
			delete(group, id)
			mergedAny = true
		}
		return mergedAny
	}

	for iter := 0; iter < maxIter; iter++ {
		mergedEmpty := mergeGroup(empty)
		mergedForest := mergeGroup(forest)
		if !mergedEmpty && !mergedForest {
			return
		}
	}
}

// largestNeighborLabel returns the most frequent non-self label among
// comp's outward 8-neighbours, 0 if comp has no labeled neighbours.
func largestNeighborLabel(comp []hostsim.Point, labels map[hostsim.Point]int, valid map[hostsim.Point]bool, selfLabel int) int {
	compSet := make(map[hostsim.Point]bool, len(comp))
	for _, p := range comp {
		compSet[p] = true
	}
	counts := make(map[int]int)
	for _, p := range comp {
		for _, n := range neighbors8(p, valid) {
			if compSet[n] {
				continue
			}
			l := labels[n]
			if l == 0 || l == selfLabel {
				continue
			}
			counts[l]++
		}
	}
	best, bestCount := 0, 0
	for l, c := range counts {
		if c > bestCount {
			best, bestCount = l, c
		}
	}
	return best
}
