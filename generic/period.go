package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD SCHEDULE - When an accounting period is considered elapsed
// =============================================================================

// PeriodType defines how period boundaries are calculated.
//
// Periods are numbered by a monotonically increasing counter; the schedule
// only decides whether the active period may be closed by anyone other than
// the program authority.
type PeriodType string

const (
	PeriodManual        PeriodType = "manual"         // Only the authority advances
	PeriodCalendarMonth PeriodType = "calendar_month" // Ends on the 1st of the next month (UTC)
	PeriodFixed         PeriodType = "fixed"          // Ends Length after it started
)

// PeriodConfig defines the time-based rollover policy for a program.
type PeriodConfig struct {
	Type PeriodType

	// For fixed periods: the period length. Must be positive.
	Length time.Duration
}

// Validate checks that the config is well formed.
func (pc PeriodConfig) Validate() error {
	switch pc.Type {
	case PeriodManual, PeriodCalendarMonth, "":
		return nil
	case PeriodFixed:
		if pc.Length <= 0 {
			return fmt.Errorf("fixed period requires a positive length, got %v", pc.Length)
		}
		return nil
	default:
		return fmt.Errorf("unknown period type %q", pc.Type)
	}
}

// EndOf returns the instant at which a period started at start elapses.
// The boolean is false for manual schedules.
func (pc PeriodConfig) EndOf(start time.Time) (time.Time, bool) {
	switch pc.Type {
	case PeriodCalendarMonth:
		return StartOfNextMonth(start), true
	case PeriodFixed:
		if pc.Length <= 0 {
			return time.Time{}, false
		}
		return start.Add(pc.Length), true
	default:
		return time.Time{}, false
	}
}

// Elapsed returns true if a period started at start is over at now.
func (pc PeriodConfig) Elapsed(start, now time.Time) bool {
	end, ok := pc.EndOf(start)
	if !ok {
		return false
	}
	return !now.Before(end)
}

// String returns a string representation of the schedule.
func (pc PeriodConfig) String() string {
	if pc.Type == PeriodFixed {
		return fmt.Sprintf("%s(%s)", pc.Type, pc.Length)
	}
	if pc.Type == "" {
		return string(PeriodManual)
	}
	return string(pc.Type)
}
