// Package schedule implements the Schedule value (spec §4.1): a window
// evaluation that turns a stand's current position in time into a scalar
// the scheduler uses as "should this happen now".
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
)

// Unset is the sentinel for an unset window bound.
const Unset = -1

// Expired is returned by Value when the activity is dead for this
// rotation (past its maximum without force execution).
const Expired = -1.0

// ErrInvalidWindow is a setup error: the window bounds are inconsistent.
var ErrInvalidWindow = errors.New("invalid schedule window")

// Schedule holds the absolute and relative-to-U windows, the repeat rule
// and the force-execution/absolute flags (spec §3).
type Schedule struct {
	// Absolute-time window (years since rotation start, or current_year
	// when Absolute is true). Unset sentinel is -1.
	TMin, TOpt, TMax int

	// Relative-to-rotation-length window, as a fraction of U. Unset
	// sentinel is -1.
	TMinRel, TOptRel, TMaxRel float64

	// Repeat fires every RepeatInterval years regardless of the windows.
	Repeat         bool
	RepeatInterval int

	// ForceExecution keeps returning 1 past the maximum instead of expiring.
	ForceExecution bool

	// Absolute selects current_year as the clock instead of the stand's
	// absolute age (years since rotation start).
	Absolute bool
}

// Validate checks the setup invariants from spec §4.1: tmin <= topt <=
// tmax (whichever are set), mixed signs rejected, and at least one of
// topt/toptRel required unless repeating.
func (s Schedule) Validate() error {
	if s.Repeat {
		if s.RepeatInterval <= 0 {
			return fmt.Errorf("%w: repeating schedule needs a positive interval", ErrInvalidWindow)
		}
		return nil
	}

	if s.TMin != Unset && s.TOpt != Unset && s.TMin > s.TOpt {
		return fmt.Errorf("%w: tmin > topt", ErrInvalidWindow)
	}
	if s.TOpt != Unset && s.TMax != Unset && s.TOpt > s.TMax {
		return fmt.Errorf("%w: topt > tmax", ErrInvalidWindow)
	}
	if s.TMin != Unset && s.TMax != Unset && s.TMin > s.TMax {
		return fmt.Errorf("%w: tmin > tmax", ErrInvalidWindow)
	}
	if s.TMinRel != Unset && s.TOptRel != Unset && s.TMinRel > s.TOptRel {
		return fmt.Errorf("%w: tminRel > toptRel", ErrInvalidWindow)
	}
	if s.TOptRel != Unset && s.TMaxRel != Unset && s.TOptRel > s.TMaxRel {
		return fmt.Errorf("%w: toptRel > tmaxRel", ErrInvalidWindow)
	}

	hasAbsolute := s.TMin != Unset || s.TOpt != Unset || s.TMax != Unset
	hasRelative := s.TMinRel != Unset || s.TOptRel != Unset || s.TMaxRel != Unset
	if hasAbsolute && hasRelative {
		return fmt.Errorf("%w: mixed absolute and relative bounds", ErrInvalidWindow)
	}

	if s.TOpt == Unset && s.TOptRel == Unset {
		return fmt.Errorf("%w: at least one of topt or toptRel is required unless repeating", ErrInvalidWindow)
	}
	return nil
}

// Value evaluates the schedule for a stand currently at absoluteAge years
// since rotation start, in year currentYear, with rotation length u.
// Returns a value in [0,1] (suitability), 1 meaning "fire now", or
// Expired (-1) meaning the activity is dead for this rotation.
func (s Schedule) Value(currentYear, absoluteAge int, u float64) float64 {
	current := float64(absoluteAge)
	if s.Absolute {
		current = float64(currentYear)
	}
	currentRel := current / u

	if s.Repeat {
		if currentYear%s.RepeatInterval == 0 {
			return 1
		}
		return 0
	}

	if s.TMax != Unset && current >= float64(s.TMax) && s.ForceExecution {
		return 1
	}
	if s.TMaxRel != Unset && currentRel >= s.TMaxRel && s.ForceExecution {
		return 1
	}

	if s.TMin != Unset && current < float64(s.TMin) {
		return 0
	}
	if s.TMax != Unset && current > float64(s.TMax) {
		return Expired
	}
	if s.TMinRel != Unset && currentRel < s.TMinRel {
		return 0
	}
	if s.TMaxRel != Unset && currentRel > s.TMaxRel {
		return Expired
	}

	if s.TOpt != Unset && math.Abs(current-float64(s.TOpt)) <= 0.5 {
		return 1
	}

	if s.TOpt != Unset && s.TMax == Unset && current > float64(s.TOpt) {
		if s.ForceExecution {
			return 1
		}
		return Expired
	}

	if s.TMin != Unset && s.TMax != Unset {
		if s.TOpt != Unset {
			if current <= float64(s.TOpt) {
				if s.TOpt == s.TMin {
					return 1
				}
				return (current - float64(s.TMin)) / float64(s.TOpt-s.TMin)
			}
			if s.TOpt == s.TMax {
				return 1
			}
			return (float64(s.TMax) - current) / float64(s.TMax-s.TOpt)
		}
		return 1 // no optimum: anything between min and max is fine.
	}
	if s.TOpt != Unset {
		return 0
	}

	if s.TOptRel != Unset && math.Abs(currentRel-s.TOptRel)*u <= 0.5 {
		return 1
	}

	if s.TMinRel != Unset && s.TMaxRel != Unset {
		if s.TOptRel != Unset {
			if currentRel <= s.TOptRel {
				if s.TOptRel == s.TMinRel {
					return 1
				}
				return (currentRel - s.TMinRel) / (s.TOptRel - s.TMinRel)
			}
			if s.TOptRel == s.TMaxRel {
				return 1
			}
			return (s.TMaxRel - currentRel) / (s.TMaxRel - s.TOptRel)
		}
		return 1
	}
	if s.TOptRel != Unset {
		return 0
	}

	return 0
}

// ValueTraced evaluates the schedule exactly like Value, additionally
// emitting a structured log line on logger. stand.trace (SPEC_FULL §4
// supplemented features) flips the line from Debug to Info so a single
// traced stand's evaluations surface without raising the engine-wide
// default level.
func (s Schedule) ValueTraced(ctx context.Context, logger *slog.Logger, trace bool, currentYear, absoluteAge int, u float64) float64 {
	v := s.Value(currentYear, absoluteAge, u)
	level := slog.LevelDebug
	if trace {
		level = slog.LevelInfo
	}
	logger.Log(ctx, level, "schedule evaluated",
		"value", v, "current_year", currentYear, "absolute_age", absoluteAge, "u", u)
	return v
}

// MinValue returns the earliest point in time (in the absolute-age scale)
// at which this schedule could fire, used by STP.setup to sort activities
// chronologically and by Stand.afterExecution to pick the next activity.
func (s Schedule) MinValue(u float64) float64 {
	if s.Repeat {
		return math.MaxFloat64
	}
	if s.TMin != Unset {
		return float64(s.TMin)
	}
	if s.TMinRel != Unset {
		return s.TMinRel * u
	}
	if s.TOpt != Unset {
		return float64(s.TOpt)
	}
	return s.TOptRel * u
}
