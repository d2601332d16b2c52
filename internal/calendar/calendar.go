package calendar

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Calendar decides working days and daily budgets for a fixed location,
// quota policy and holiday table. Lookups never perform I/O.
type Calendar struct {
	loc    *time.Location
	policy Policy
	logger zerolog.Logger

	mu       sync.RWMutex
	holidays Table
}

// New creates a calendar. A nil table means no holidays are configured.
func New(loc *time.Location, policy Policy, holidays Table, logger zerolog.Logger) *Calendar {
	if holidays == nil {
		holidays = Table{}
	}
	c := &Calendar{
		loc:      loc,
		policy:   policy,
		holidays: holidays,
		logger:   logger.With().Str("component", "calendar").Logger(),
	}
	c.logger.Info().
		Str("location", loc.String()).
		Ints("years", holidays.Years()).
		Msg("Calendar initialized")
	return c
}

// Location returns the location used for day boundaries.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Policy returns the quota policy.
func (c *Calendar) Policy() Policy {
	return c.policy
}

// SetHolidays swaps in a new holiday table.
func (c *Calendar) SetHolidays(t Table) {
	c.mu.Lock()
	c.holidays = t
	c.mu.Unlock()
	c.logger.Info().Ints("years", t.Years()).Msg("Holiday table replaced")
}

// Covers reports whether the holiday table has an entry for year.
func (c *Calendar) Covers(year int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.holidays[year]
	return ok
}

// Holiday returns the holiday name for d, if any.
func (c *Calendar) Holiday(d Date) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.holidays[d.Year][d]
	return name, ok
}

// IsWorkingDay reports whether d is neither a weekend day nor a holiday.
func (c *Calendar) IsWorkingDay(d Date) bool {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := c.Holiday(d)
	return !holiday
}

// DailyBudget returns the full-day budget for d.
func (c *Calendar) DailyBudget(d Date) time.Duration {
	if c.IsWorkingDay(d) {
		return c.policy.WorkingDayBudget
	}
	return c.policy.NonWorkingDayBudget
}

// Today returns the local date of t.
func (c *Calendar) Today(t time.Time) Date {
	return DateOf(t.In(c.loc))
}

// DayStart returns local midnight of d, the start of its accounting window.
func (c *Calendar) DayStart(d Date) time.Time {
	return d.Midnight(c.loc)
}

// Exclusion returns the exclusion interval on d. ok is false when the
// exclusion window does not apply because d is not a working day.
func (c *Calendar) Exclusion(d Date) (start, end time.Time, ok bool) {
	if !c.IsWorkingDay(d) {
		return time.Time{}, time.Time{}, false
	}
	return c.policy.Exclusion.Start.On(d, c.loc), c.policy.Exclusion.End.On(d, c.loc), true
}

// InExclusion reports whether t falls inside the exclusion window of a working day.
func (c *Calendar) InExclusion(t time.Time) bool {
	if !c.IsWorkingDay(c.Today(t)) {
		return false
	}
	return c.policy.Exclusion.Contains(t.In(c.loc))
}
