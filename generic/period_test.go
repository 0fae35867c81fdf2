package generic_test

import (
	"testing"
	"time"

	"github.com/warp/contributor-rewards/generic"
)

func TestPeriodConfig_Elapsed(t *testing.T) {
	start := time.Date(2025, time.January, 15, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		cfg     generic.PeriodConfig
		now     time.Time
		elapsed bool
	}{
		{"manual never elapses", generic.PeriodConfig{Type: generic.PeriodManual}, start.AddDate(5, 0, 0), false},
		{"calendar month before the 1st", generic.PeriodConfig{Type: generic.PeriodCalendarMonth}, time.Date(2025, time.January, 31, 23, 59, 0, 0, time.UTC), false},
		{"calendar month on the 1st", generic.PeriodConfig{Type: generic.PeriodCalendarMonth}, time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC), true},
		{"fixed before length", generic.PeriodConfig{Type: generic.PeriodFixed, Length: 7 * 24 * time.Hour}, start.Add(6 * 24 * time.Hour), false},
		{"fixed at length", generic.PeriodConfig{Type: generic.PeriodFixed, Length: 7 * 24 * time.Hour}, start.Add(7 * 24 * time.Hour), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Elapsed(start, tt.now); got != tt.elapsed {
				t.Errorf("Elapsed = %v, want %v", got, tt.elapsed)
			}
		})
	}
}

func TestPeriodConfig_Validate(t *testing.T) {
	if err := (generic.PeriodConfig{Type: generic.PeriodFixed}).Validate(); err == nil {
		t.Error("fixed period without length should be invalid")
	}
	if err := (generic.PeriodConfig{Type: "fortnightly"}).Validate(); err == nil {
		t.Error("unknown period type should be invalid")
	}
	if err := (generic.PeriodConfig{}).Validate(); err != nil {
		t.Errorf("empty config defaults to manual, got %v", err)
	}
	if got := (generic.PeriodConfig{Type: generic.PeriodFixed, Length: time.Hour}).String(); got != "fixed(1h0m0s)" {
		t.Errorf("unexpected String() %q", got)
	}
}

func TestFixedClock_IsMonotonic(t *testing.T) {
	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	clock := generic.NewFixedClock(start)

	clock.Set(start.Add(-time.Hour))
	if !clock.Now().Equal(start) {
		t.Errorf("clock moved backwards to %v", clock.Now())
	}
	clock.Advance(-time.Minute)
	clock.Advance(2 * time.Hour)
	if want := start.Add(2 * time.Hour); !clock.Now().Equal(want) {
		t.Errorf("expected %v, got %v", want, clock.Now())
	}
}

func TestStartOfNextMonth_WrapsYear(t *testing.T) {
	got := generic.StartOfNextMonth(time.Date(2025, time.December, 31, 23, 0, 0, 0, time.UTC))
	if want := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}
