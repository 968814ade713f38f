package activity

import (
	"context"
	"testing"

	"abe/internal/expr"
	"abe/internal/hostsim"
	"abe/internal/hostsim/fake"
	"abe/internal/script"
)

type testStand struct {
	id              int
	trees           []hostsim.Tree
	pixels          []hostsim.Point
	saplings        hostsim.SaplingGrid
	flags           map[string]float64
	scheduledHarvest float64
	disturbedPerArea float64
	disturbedTotal   float64
	area             float64
	preponeYears     int
	resplitCalled    bool
	extraHarvest     float64
	extraHarvestType string
	runSalvage       bool
}

func newTestStand() *testStand {
	return &testStand{id: 1, flags: make(map[string]float64), area: 10000, saplings: fake.NewHost(nil)}
}

func (s *testStand) ID() int                        { return s.id }
func (s *testStand) ScriptValue() script.Value       { return script.StringValue("stand") }
func (s *testStand) Vars() expr.Vars                 { return expr.Vars{} }
func (s *testStand) SetFlag(key string, v float64)   { s.flags[key] = v }
func (s *testStand) Flag(key string) float64         { return s.flags[key] }
func (s *testStand) Area() float64                   { return s.area }
func (s *testStand) DisturbedTimberPerArea() float64 { return s.disturbedPerArea }
func (s *testStand) Trees() []hostsim.Tree           { return s.trees }
func (s *testStand) SetScheduledHarvest(v float64)   { s.scheduledHarvest = v }
func (s *testStand) Pixels() []hostsim.Point         { return s.pixels }
func (s *testStand) Saplings() hostsim.SaplingGrid   { return s.saplings }
func (s *testStand) DisturbedTimber() float64        { return s.disturbedTotal }
func (s *testStand) ForcePrepone(years int)          { s.preponeYears = years }
func (s *testStand) Resplit(ctx context.Context) error {
	s.resplitCalled = true
	return nil
}
func (s *testStand) AddExtraHarvest(volume float64, harvestType string) {
	s.extraHarvest = volume
	s.extraHarvestType = harvestType
}
func (s *testStand) RunSalvageFlag() bool      { return s.runSalvage }
func (s *testStand) SetRunSalvageFlag(v bool)  { s.runSalvage = v }

func TestExecuteGeneralCallsAction(t *testing.T) {
	eng := fake.NewEngine()
	eng.Register("action", func(ctx context.Context, args []script.Value) (script.Value, error) {
		return script.BoolValue(true), nil
	})
	a := &Activity{
		Name: "general1",
		Kind: KindGeneral,
		General: &GeneralConfig{Action: script.NewHandle("action")},
	}
	stand := newTestStand()

	ran, err := Execute(context.Background(), eng, a, stand)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !ran {
		t.Fatal("expected General activity to run")
	}
}

func TestExecuteSalvageBooksExtraHarvestAndPrepones(t *testing.T) {
	eng := fake.NewEngine()
	a := &Activity{
		Name: "salvage1",
		Kind: KindSalvage,
		Salvage: &SalvageConfig{
			ThresholdIgnoreDamage: 5,
			MaxPrepone:            3,
		},
	}
	stand := newTestStand()
	stand.disturbedPerArea = 20
	stand.disturbedTotal = 200

	ran, err := Execute(context.Background(), eng, a, stand)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !ran {
		t.Fatal("expected Salvage activity to run")
	}
	if stand.extraHarvest != 200 || stand.extraHarvestType != "salvage" {
		t.Fatalf("expected extra harvest 200/salvage, got %v/%v", stand.extraHarvest, stand.extraHarvestType)
	}
	if stand.preponeYears != 3 {
		t.Fatalf("expected prepone 3, got %v", stand.preponeYears)
	}
	if !stand.resplitCalled {
		t.Fatal("expected Resplit to be called")
	}
	if !stand.RunSalvageFlag() {
		t.Fatal("expected run-salvage flag set")
	}
}

func TestExecuteSalvageSkipsBelowThreshold(t *testing.T) {
	eng := fake.NewEngine()
	a := &Activity{
		Name: "salvage1",
		Kind: KindSalvage,
		Salvage: &SalvageConfig{ThresholdIgnoreDamage: 5},
	}
	stand := newTestStand()
	stand.disturbedPerArea = 1

	ran, err := Execute(context.Background(), eng, a, stand)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if ran {
		t.Fatal("expected Salvage activity to skip under the damage threshold")
	}
}

func TestPlantingRandomSeedingRespectsFraction(t *testing.T) {
	eng := fake.NewEngine()
	host := fake.NewHost(eng)
	stand := newTestStand()
	stand.saplings = host
	for i := 0; i < 100; i++ {
		stand.pixels = append(stand.pixels, hostsim.Point{X: float64(i), Y: 0})
	}

	a := &Activity{
		Name: "plant1",
		Kind: KindPlanting,
		Planting: &PlantingConfig{
			Items: []PlantingItem{{SpeciesID: 1, TargetFrac: 1}},
		},
	}

	if _, err := Execute(context.Background(), eng, a, stand); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(host.Saplings) != 100 {
		t.Fatalf("expected all 100 pixels seeded at fraction 1, got %d", len(host.Saplings))
	}
}

func TestPlantingPatternStampsAtOffset(t *testing.T) {
	eng := fake.NewEngine()
	host := fake.NewHost(eng)
	stand := newTestStand()
	stand.saplings = host
	stand.pixels = []hostsim.Point{{X: 0, Y: 0}, {X: 1, Y: 0}}

	a := &Activity{
		Name: "plant2",
		Kind: KindPlanting,
		Planting: &PlantingConfig{
			Items: []PlantingItem{{SpeciesID: 2, Pattern: PatternRect2}},
		},
	}
	if _, err := Execute(context.Background(), eng, a, stand); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(host.Saplings) != 2 {
		t.Fatalf("expected a sapling at every pixel under a fully-filled rect2 mask, got %d", len(host.Saplings))
	}
}

func TestCustomThinningRemovesTowardTarget(t *testing.T) {
	eng := fake.NewEngine()
	stand := newTestStand()
	for i := 0; i < 20; i++ {
		tr := fake.NewTree(i)
		tr.BA = 1
		tr.Diameter = float64(10 + i)
		stand.trees = append(stand.trees, tr)
	}

	a := &Activity{
		Name: "thin1",
		Kind: KindThinning,
		Thinning: &ThinningConfig{
			Variant: ThinningCustom,
			Custom: &CustomThinningConfig{
				TargetVariable: TargetBasalArea,
				TargetValue:    5,
				Classes:        []ThinningClassSpec{{TargetFraction: 1}},
				ByPercentile:   true,
			},
		},
	}

	ran, err := Execute(context.Background(), eng, a, stand)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !ran {
		t.Fatal("expected Thinning activity to mark at least one tree")
	}

	removed := 0
	for _, tr := range stand.trees {
		if tr.(*fake.Tree).MarkedForHarvest() {
			removed++
		}
	}
	if removed < 4 || removed > 6 {
		t.Fatalf("expected ~5 trees removed (basal area 1 each, target 5), got %d", removed)
	}
}
