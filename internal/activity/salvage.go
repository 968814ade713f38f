package activity

import (
	"context"

	"abe/internal/script"
)

// SalvageConfig is the Salvage activity variant (spec §4.4): not
// scheduled, runs immediately as a repeating activity whenever a stand
// carries disturbed timber.
type SalvageConfig struct {
	ThresholdIgnoreDamage float64 // m3/ha below which disturbance is ignored
	MaxPrepone            int     // years other activities may be pulled forward
	TestRemove            func(reason string) bool
}

// executeSalvage runs the two-phase salvage cycle (spec §4.4/S5). The
// first pass books the disturbance volume as extra harvest, prepones
// other planned activities, and decides whether to resplit the stand.
// The second pass (RunSalvageFlag) runs the stand through the normal
// onExecute event with doSimulate forced off, handled by the caller
// (stand.execute) since it needs the stand's current activity, not this
// one.
func executeSalvage(ctx context.Context, eng script.Engine, a *Activity, stand Stand) (bool, error) {
	cfg := a.Salvage
	disturbed := stand.DisturbedTimberPerArea()
	if disturbed <= cfg.ThresholdIgnoreDamage {
		return false, nil
	}

	volume := stand.DisturbedTimber()
	stand.AddExtraHarvest(volume, "salvage")

	if cfg.MaxPrepone > 0 {
		stand.ForcePrepone(cfg.MaxPrepone)
	}

	if err := stand.Resplit(ctx); err != nil {
		return false, err
	}

	stand.SetRunSalvageFlag(true)
	return true, nil
}
