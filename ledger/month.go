package ledger

import (
	"fmt"
	"time"
)

// =============================================================================
// MONTH - The simulation's time unit
// =============================================================================

// Month counts calendar months since year zero, so ordering and arithmetic
// are plain integer operations. The engine never goes below month
// granularity; everything inside a month is ordered by entry sequence.
type Month int

func NewMonth(year int, m time.Month) Month {
	return Month(year*12 + int(m) - 1)
}

// MonthOf truncates a timestamp to its month.
func MonthOf(t time.Time) Month { return NewMonth(t.Year(), t.Month()) }

func (m Month) Year() int         { return int(m) / 12 }
func (m Month) Month() time.Month { return time.Month(int(m)%12 + 1) }
func (m Month) Add(n int) Month   { return m + Month(n) }

// Sub returns the number of months from other to m.
func (m Month) Sub(other Month) int { return int(m - other) }

func (m Month) Before(other Month) bool { return m < other }
func (m Month) After(other Month) bool  { return m > other }

// Time returns the first day of the month in UTC.
func (m Month) Time() time.Time {
	return time.Date(m.Year(), m.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Quarter returns 1..4.
func (m Month) Quarter() int { return (int(m.Month())-1)/3 + 1 }

func (m Month) String() string { return fmt.Sprintf("%04d-%02d", m.Year(), int(m.Month())) }

// ParseMonth reads the "2006-01" form produced by String.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return 0, fmt.Errorf("parse month %q: %w", s, err)
	}
	return MonthOf(t), nil
}

// =============================================================================
// AXIS - Bounded horizon of consecutive months
// =============================================================================

// Axis is the scenario's shared time axis: N consecutive months starting at
// Start. Strategies index their output series by axis position.
type Axis struct {
	Start Month
	N     int
}

func NewAxis(start Month, months int) (Axis, error) {
	if months <= 0 {
		return Axis{}, Configf("", "horizon", "must cover at least one month, got %d", months)
	}
	return Axis{Start: start, N: months}, nil
}

// End returns the last month on the axis.
func (a Axis) End() Month { return a.Start.Add(a.N - 1) }

// Index maps a month to its axis position; ok is false outside the horizon.
func (a Axis) Index(m Month) (int, bool) {
	i := m.Sub(a.Start)
	if i < 0 || i >= a.N {
		return 0, false
	}
	return i, true
}

// At returns the month at axis position i.
func (a Axis) At(i int) Month { return a.Start.Add(i) }

// Months materializes the axis, earliest first.
func (a Axis) Months() []Month {
	out := make([]Month, a.N)
	for i := range out {
		out[i] = a.Start.Add(i)
	}
	return out
}
