package activity

import (
	"context"
	"math/rand"

	"abe/internal/hostsim"
)

// PatternKey identifies one of the fixed planting bitmasks (spec §4.4).
type PatternKey string

const (
	PatternRect2   PatternKey = "rect2"
	PatternRect10  PatternKey = "rect10"
	PatternRect20  PatternKey = "rect20"
	PatternCircle5 PatternKey = "circle5"
	PatternCircle10 PatternKey = "circle10"
)

// patterns holds each pattern's bitmask, as a row-major slice of bools
// sized Width x Width (one bit per 2m regeneration pixel).
type patternMask struct {
	Width int
	Bits  []bool
}

func rectMask(width int) patternMask {
	bits := make([]bool, width*width)
	for i := range bits {
		bits[i] = true
	}
	return patternMask{Width: width, Bits: bits}
}

func circleMask(width int) patternMask {
	bits := make([]bool, width*width)
	center := float64(width-1) / 2
	r := float64(width) / 2
	for y := 0; y < width; y++ {
		for x := 0; x < width; x++ {
			dx, dy := float64(x)-center, float64(y)-center
			if dx*dx+dy*dy <= r*r {
				bits[y*width+x] = true
			}
		}
	}
	return patternMask{Width: width, Bits: bits}
}

var patterns = map[PatternKey]patternMask{
	PatternRect2:    rectMask(2),
	PatternRect10:   rectMask(10),
	PatternRect20:   rectMask(20),
	PatternCircle5:  circleMask(5),
	PatternCircle10: circleMask(10),
}

// at reports whether the bitmask has a 1-bit at (x,y) modulo the mask's
// width, which is how a pattern is stamped repeatedly across a stand.
func (m patternMask) at(x, y int) bool {
	xi := ((x % m.Width) + m.Width) % m.Width
	yi := ((y % m.Width) + m.Width) % m.Width
	return m.Bits[yi*m.Width+xi]
}

// PlantingItem configures one regeneration pass (spec §4.4).
type PlantingItem struct {
	SpeciesID     int
	TargetFrac    float64
	InitialHeight float64 // default 0.05 m
	InitialAge    int     // default 1
	Pattern       PatternKey
	Spacing       int
	OffsetX       int
	OffsetY       int
	Random        bool
	Count         int
	Clear         bool
}

// PlantingConfig is the Planting activity variant (spec §4.4).
type PlantingConfig struct {
	Items []PlantingItem
	Rand  *rand.Rand // nil uses a fresh source seeded with 1 on each execution
}

func (c *PlantingConfig) rng() *rand.Rand {
	if c.Rand != nil {
		return c.Rand
	}
	return rand.New(rand.NewSource(1))
}

func executePlanting(ctx context.Context, cfg *PlantingConfig, stand Stand) (bool, error) {
	pixels := stand.Pixels()
	saplings := stand.Saplings()
	rng := cfg.rng()

	for _, item := range cfg.Items {
		item := item
		if item.InitialHeight == 0 {
			item.InitialHeight = 0.05
		}
		if item.InitialAge == 0 {
			item.InitialAge = 1
		}

		applyItem(item, pixels, saplings, rng)
	}
	return true, nil
}

func applyItem(item PlantingItem, pixels []hostsim.Point, saplings hostsim.SaplingGrid, rng *rand.Rand) {
	if item.Clear {
		for _, p := range pixels {
			saplings.ClearSaplings(p, 0, false)
		}
	}

	mask, hasMask := patterns[item.Pattern]

	switch {
	case item.Pattern == "" && item.Spacing == 0:
		// Random seeding at the given fraction across every pixel.
		for _, p := range pixels {
			if rng.Float64() < item.TargetFrac {
				saplings.AddSapling(p, item.InitialHeight, item.InitialAge, item.SpeciesID)
			}
		}
	case item.Spacing > 0:
		// Stamp the pattern at a regular spacing, or at random positions
		// inside that spacing if Random is set.
		count := item.Count
		if count <= 0 {
			count = len(pixels) / maxInt(item.Spacing*item.Spacing, 1)
		}
		for i := 0; i < count; i++ {
			var origin hostsim.Point
			if item.Random && len(pixels) > 0 {
				origin = pixels[rng.Intn(len(pixels))]
			} else if len(pixels) > 0 {
				origin = pixels[(i*item.Spacing)%len(pixels)]
			} else {
				continue
			}
			stampPattern(origin, mask, hasMask, item, saplings)
		}
	case hasMask:
		// Apply the pattern at every pixel whose offset coordinate falls
		// on a 1-bit.
		for _, p := range pixels {
			x, y := int(p.X), int(p.Y)
			if mask.at(x+item.OffsetX, y+item.OffsetY) {
				saplings.AddSapling(p, item.InitialHeight, item.InitialAge, item.SpeciesID)
			}
		}
	}
}

func stampPattern(origin hostsim.Point, mask patternMask, hasMask bool, item PlantingItem, saplings hostsim.SaplingGrid) {
	if !hasMask {
		saplings.AddSapling(origin, item.InitialHeight, item.InitialAge, item.SpeciesID)
		return
	}
	for y := 0; y < mask.Width; y++ {
		for x := 0; x < mask.Width; x++ {
			if !mask.at(x, y) {
				continue
			}
			p := hostsim.Point{X: origin.X + float64(x), Y: origin.Y + float64(y)}
			saplings.AddSapling(p, item.InitialHeight, item.InitialAge, item.SpeciesID)
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
