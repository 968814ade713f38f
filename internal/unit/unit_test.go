package unit

import (
	"context"
	"testing"

	"abe/internal/activity"
	"abe/internal/hostsim"
	"abe/internal/hostsim/fake"
	"abe/internal/schedule"
	"abe/internal/scheduler"
	"abe/internal/script"
	"abe/internal/stand"
	"abe/internal/stp"
)

func readyFinalHarvestStand(t *testing.T, eng *fake.Engine, host *fake.Host, id int, volume float64) *stand.Stand {
	t.Helper()
	act := &activity.Activity{
		Name:     "finalHarvest",
		Kind:     activity.KindGeneral,
		Flags:    activity.Flags{Enabled: true, Active: true, FinalHarvest: true},
		Schedule: schedule.Schedule{TMin: 0, TOpt: 0, TMax: 100},
		General:  &activity.GeneralConfig{Action: script.NewHandle("noop")},
	}
	target := stp.New("test", []*activity.Activity{act}, stp.RotationLength{Medium: 100}, nil)

	host.StandArea[id] = 10000
	tr := fake.NewTree(id)
	tr.BA = 10
	tr.Vol = volume
	tr.TreeAge = 40
	host.Trees[id] = []hostsim.Tree{tr}

	s := stand.New(id, 1, 40, volume, stand.Ports{Host: host})
	if err := s.Initialize(context.Background(), eng, target, 100, 2020); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return s
}

func TestAreaHaSumsStandAreas(t *testing.T) {
	eng := fake.NewEngine()
	host := fake.NewHost(eng)
	s1 := readyFinalHarvestStand(t, eng, host, 1, 200)
	s2 := readyFinalHarvestStand(t, eng, host, 2, 200)

	u := New(1, 1, scheduler.New(host, eng, scheduler.Options{}, nil), scheduler.Options{}, stp.RotationLength{Medium: 100}, nil)
	u.AddStand(s1)
	u.AddStand(s2)

	if got := u.AreaHa(); got != 2 {
		t.Fatalf("AreaHa() = %v, want 2 (two 1ha stands)", got)
	}
}

func TestManagementPlanUpdateSetsNonNegativeTargets(t *testing.T) {
	eng := fake.NewEngine()
	host := fake.NewHost(eng)
	s1 := readyFinalHarvestStand(t, eng, host, 1, 200)

	opts := scheduler.Options{UseSustainableHarvest: 1}
	u := New(1, 1, scheduler.New(host, eng, opts, nil), opts, stp.RotationLength{Medium: 100}, nil)
	u.AddStand(s1)

	u.ManagementPlanUpdate(context.Background())

	if u.FinalCutTarget() < 0 {
		t.Fatalf("FinalCutTarget() = %v, want >= 0", u.FinalCutTarget())
	}
	if u.Scheduler.FinalCutTarget != u.FinalCutTarget() {
		t.Fatal("expected the decadal plan update to push the final-cut target to the scheduler")
	}
}

func TestManagementPlanUpdateNoStandsIsNoop(t *testing.T) {
	eng := fake.NewEngine()
	host := fake.NewHost(eng)
	u := New(1, 1, scheduler.New(host, eng, scheduler.Options{}, nil), scheduler.Options{}, stp.RotationLength{Medium: 100}, nil)

	u.ManagementPlanUpdate(context.Background())

	if u.FinalCutTarget() != 0 {
		t.Fatalf("FinalCutTarget() = %v, want 0 with no aggregated stands", u.FinalCutTarget())
	}
}

func TestUpdatePlanOfCurrentYearClampsToOptions(t *testing.T) {
	eng := fake.NewEngine()
	host := fake.NewHost(eng)
	s1 := readyFinalHarvestStand(t, eng, host, 1, 200)

	opts := scheduler.Options{
		UseSustainableHarvest:    1,
		ScheduleRebounceDuration: 10,
		DeviationDecayRate:       0.9,
		MinScheduleHarvest:       1,
		MaxScheduleHarvest:       5,
	}
	u := New(1, 1, scheduler.New(host, eng, opts, nil), opts, stp.RotationLength{Medium: 100}, nil)
	u.AddStand(s1)
	u.ManagementPlanUpdate(context.Background())

	u.UpdatePlanOfCurrentYear()

	if u.Scheduler.FinalCutTarget > opts.MaxScheduleHarvest {
		t.Fatalf("pushed target %v exceeds MaxScheduleHarvest %v", u.Scheduler.FinalCutTarget, opts.MaxScheduleHarvest)
	}
	if u.Scheduler.FinalCutTarget < opts.MinScheduleHarvest {
		t.Fatalf("pushed target %v below MinScheduleHarvest %v", u.Scheduler.FinalCutTarget, opts.MinScheduleHarvest)
	}
}

func TestClampBounds(t *testing.T) {
	if got := clamp(10, 0, 5); got != 5 {
		t.Fatalf("clamp(10,0,5) = %v, want 5", got)
	}
	if got := clamp(-1, 0, 5); got != 0 {
		t.Fatalf("clamp(-1,0,5) = %v, want 0", got)
	}
	if got := clamp(3, 0, 0); got != 3 {
		t.Fatalf("clamp(3,0,0) = %v, want 3 (hi=0 means unbounded above)", got)
	}
}

func TestRemoveStandDropsFromAggregation(t *testing.T) {
	eng := fake.NewEngine()
	host := fake.NewHost(eng)
	s1 := readyFinalHarvestStand(t, eng, host, 1, 200)
	s2 := readyFinalHarvestStand(t, eng, host, 2, 200)

	u := New(1, 1, scheduler.New(host, eng, scheduler.Options{}, nil), scheduler.Options{}, stp.RotationLength{Medium: 100}, nil)
	u.AddStand(s1)
	u.AddStand(s2)

	u.RemoveStand(1)

	if len(u.Stands) != 1 || u.Stands[0].ID() != 2 {
		t.Fatalf("Stands after RemoveStand(1) = %v, want only stand 2", u.Stands)
	}
}
