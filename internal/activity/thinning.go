package activity

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"abe/internal/expr"
	"abe/internal/hostsim"
)

// ThinningVariant selects between the two Thinning sub-variants (spec §4.4).
type ThinningVariant int

const (
	ThinningCustom ThinningVariant = iota
	ThinningSelective
)

// TargetVariable identifies which tree attribute a custom thinning's
// target and classes are measured against.
type TargetVariable int

const (
	TargetStems TargetVariable = iota
	TargetBasalArea
	TargetVolume
)

// ThinningClassSpec is one of up to N bins a custom thinning bins trees
// into (spec §4.4).
type ThinningClassSpec struct {
	TargetFraction float64 // fraction of the class's share of the removal target
}

// CustomThinningConfig configures the Custom thinning sub-variant.
type CustomThinningConfig struct {
	Filter             expr.Node
	TargetVariable     TargetVariable
	TargetValue        float64
	Relative           bool
	DBHFloor           float64
	MinRemainingStems  int
	ByPercentile       bool // false = relative-dbh-class bins
	Classes            []ThinningClassSpec
	SpeciesSelectivity map[int]float64 // speciesID -> pick probability
	MaxUnsuccessful    int             // bounded unsuccessful-sample budget
	Rand               *rand.Rand
}

// SelectiveThinningConfig configures the Selective (crop-tree) thinning
// sub-variant.
type SelectiveThinningConfig struct {
	Ranking           expr.Node // default: descending height
	TargetDensity     float64   // crop trees per hectare
	CompetitorCount   int
	KernelRadius      int     // 7x7 kernel per spec -> radius 3
	ThresholdStart    float64 // initial kernel-score threshold
	ThresholdStep     float64 // relaxation per round
	MaxRounds         int
}

// ThinningConfig is the Thinning activity variant (spec §4.4).
type ThinningConfig struct {
	Variant  ThinningVariant
	Custom   *CustomThinningConfig
	Selective *SelectiveThinningConfig
}

func executeThinning(ctx context.Context, cfg *ThinningConfig, stand Stand) (bool, error) {
	switch cfg.Variant {
	case ThinningCustom:
		return executeCustomThinning(cfg.Custom, stand)
	case ThinningSelective:
		return executeSelectiveThinning(cfg.Selective, stand)
	default:
		return false, nil
	}
}

func treeValue(v TargetVariable, t hostsim.Tree) float64 {
	switch v {
	case TargetStems:
		return 1
	case TargetBasalArea:
		return t.BasalArea()
	case TargetVolume:
		return t.Volume()
	default:
		return 0
	}
}

func executeCustomThinning(cfg *CustomThinningConfig, stand Stand) (bool, error) {
	trees := stand.Trees()
	vars := stand.Vars()

	var candidates []hostsim.Tree
	for _, t := range trees {
		if t.IsDead() || t.MarkedForHarvest() || t.MarkedForCut() {
			continue
		}
		if t.DBH() < cfg.DBHFloor {
			continue
		}
		if cfg.Filter != nil {
			treeVars := withTreeVars(vars, t)
			pass, err := expr.Eval(cfg.Filter, treeVars)
			if err != nil {
				return false, err
			}
			if pass == 0 {
				continue
			}
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return false, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return treeValue(cfg.TargetVariable, candidates[i]) < treeValue(cfg.TargetVariable, candidates[j])
	})

	total := 0.0
	for _, t := range candidates {
		total += treeValue(cfg.TargetVariable, t)
	}
	target := cfg.TargetValue
	if cfg.Relative {
		target = cfg.TargetValue / 100 * total
	}
	if target <= 0 {
		return false, nil
	}

	classes := cfg.Classes
	if len(classes) == 0 {
		classes = []ThinningClassSpec{{TargetFraction: 1}}
	}
	bands := classBands(candidates, len(classes), cfg.ByPercentile)

	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	classProbs := make([]float64, len(classes))
	sumFrac := 0.0
	for _, c := range classes {
		sumFrac += c.TargetFraction
	}
	for i, c := range classes {
		if sumFrac > 0 {
			classProbs[i] = c.TargetFraction / sumFrac
		}
	}

	removed := 0.0
	removedCount := 0
	unsuccessful := 0
	maxUnsuccessful := cfg.MaxUnsuccessful
	if maxUnsuccessful <= 0 {
		maxUnsuccessful = 1000
	}
	surviving := len(candidates)

	for removed < target && surviving-removedCount > cfg.MinRemainingStems && unsuccessful < maxUnsuccessful {
		classIdx := pickWeighted(rng, classProbs)
		lo, hi := bands[classIdx][0], bands[classIdx][1]
		if hi <= lo {
			unsuccessful++
			continue
		}
		idx := lo + rng.Intn(hi-lo)
		t := candidates[idx]
		if t.MarkedForHarvest() {
			unsuccessful++
			continue
		}
		if prob, ok := cfg.SpeciesSelectivity[t.SpeciesID()]; ok && rng.Float64() > prob {
			unsuccessful++
			continue
		}

		t.MarkForHarvest(true)
		removed += treeValue(cfg.TargetVariable, t)
		removedCount++
	}

	return removedCount > 0, nil
}

// classBands splits sorted candidates into n contiguous [lo,hi) index
// ranges, either by equal percentile share of the count (byPercentile)
// or by equal share of the sorted value range (relative dbh class).
func classBands(candidates []hostsim.Tree, n int, byPercentile bool) [][2]int {
	bands := make([][2]int, n)
	count := len(candidates)
	if byPercentile || n <= 1 {
		per := count / n
		for i := 0; i < n; i++ {
			lo := i * per
			hi := lo + per
			if i == n-1 {
				hi = count
			}
			bands[i] = [2]int{lo, hi}
		}
		return bands
	}

	minV, maxV := candidates[0].DBH(), candidates[count-1].DBH()
	step := (maxV - minV) / float64(n)
	cursor := 0
	for i := 0; i < n; i++ {
		upper := minV + step*float64(i+1)
		lo := cursor
		for cursor < count && (i == n-1 || candidates[cursor].DBH() <= upper) {
			cursor++
		}
		bands[i] = [2]int{lo, cursor}
	}
	return bands
}

func pickWeighted(rng *rand.Rand, probs []float64) int {
	r := rng.Float64()
	cum := 0.0
	for i, p := range probs {
		cum += p
		if r <= cum {
			return i
		}
	}
	return len(probs) - 1
}

func withTreeVars(vars expr.Vars, t hostsim.Tree) expr.Vars {
	out := make(expr.Vars, len(vars)+4)
	for k, v := range vars {
		out[k] = v
	}
	out["tree_dbh"] = t.DBH()
	out["tree_height"] = t.Height()
	out["tree_basalArea"] = t.BasalArea()
	out["tree_volume"] = t.Volume()
	return out
}

// executeSelectiveThinning ranks trees, marks crop trees whose kernel
// score is under a progressively relaxed threshold, then flags
// competitors of already-marked crop trees (spec §4.4).
func executeSelectiveThinning(cfg *SelectiveThinningConfig, stand Stand) (bool, error) {
	trees := stand.Trees()
	vars := stand.Vars()

	ranked := make([]hostsim.Tree, 0, len(trees))
	scores := make(map[int]float64, len(trees))
	for _, t := range trees {
		if t.IsDead() {
			continue
		}
		ranked = append(ranked, t)
		if cfg.Ranking != nil {
			v, err := expr.Eval(cfg.Ranking, withTreeVars(vars, t))
			if err != nil {
				return false, err
			}
			scores[t.ID()] = v
		} else {
			scores[t.ID()] = t.Height()
		}
	}
	sort.Slice(ranked, func(i, j int) bool { return scores[ranked[i].ID()] > scores[ranked[j].ID()] })

	radius := cfg.KernelRadius
	if radius == 0 {
		radius = 3
	}

	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 10
	}
	threshold := cfg.ThresholdStart
	area := stand.Area()
	targetCount := int(cfg.TargetDensity * area / 10000)

	cropTrees := make([]hostsim.Tree, 0, targetCount)
	for round := 0; round < maxRounds && len(cropTrees) < targetCount; round++ {
		for _, t := range ranked {
			if t.MarkedAsCropTree() {
				continue
			}
			if len(cropTrees) >= targetCount {
				break
			}
			if kernelScore(t, cropTrees, radius) < threshold {
				t.MarkCropTree(true)
				cropTrees = append(cropTrees, t)
			}
		}
		threshold += cfg.ThresholdStep
	}

	if cfg.CompetitorCount > 0 {
		for _, crop := range cropTrees {
			n := 0
			for _, t := range ranked {
				if t.MarkedAsCropTree() || t.MarkedAsCropCompetitor() {
					continue
				}
				if n >= cfg.CompetitorCount {
					break
				}
				if distance(crop.Position(), t.Position()) <= float64(radius) {
					t.MarkCropCompetitor(true)
					n++
				}
			}
		}
	}

	return len(cropTrees) > 0, nil
}

// kernelScore sums a distance-weighted proximity cost from t to every
// already-picked crop tree, using a 1/(1+d) kernel inside radius.
func kernelScore(t hostsim.Tree, picked []hostsim.Tree, radius int) float64 {
	score := 0.0
	for _, p := range picked {
		d := distance(t.Position(), p.Position())
		if d <= float64(radius) {
			score += 1 / (1 + d)
		}
	}
	return score
}

func distance(a, b hostsim.Point) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return math.Sqrt(dx*dx + dy*dy)
}
