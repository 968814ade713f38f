package activity

import (
	"context"

	"abe/internal/script"
)

// GeneralConfig is the General activity variant (spec §4.4): a free-form
// script callable with no scheduler/constraint/thinning machinery beyond
// the common Activity header.
type GeneralConfig struct {
	Action script.Handle
}

// executeGeneral switches script context to stand, calls Action, and
// returns its boolean result.
func executeGeneral(ctx context.Context, eng script.Engine, cfg *GeneralConfig, stand Stand) (bool, error) {
	if err := eng.GlobalSet("stand", stand.ScriptValue()); err != nil {
		return false, err
	}
	result, err := eng.Call(ctx, cfg.Action, nil)
	if err != nil {
		return false, err
	}
	return result.Truthy(), nil
}
