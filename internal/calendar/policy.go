package calendar

import (
	"fmt"
	"time"
)

// Window is a recurring daily interval [Start, End) in local time.
type Window struct {
	Start TimeOfDay
	End   TimeOfDay
}

// Contains reports whether the local wall-clock time of t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	tod := TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}
	return !tod.Before(w.Start) && tod.Before(w.End)
}

// Policy is the constant quota configuration.
type Policy struct {
	WorkingDayBudget    time.Duration
	NonWorkingDayBudget time.Duration
	Exclusion           Window
}

// Validate checks the policy for impossible values.
func (p Policy) Validate() error {
	if p.WorkingDayBudget <= 0 {
		return fmt.Errorf("working day budget must be positive, got %s", p.WorkingDayBudget)
	}
	if p.NonWorkingDayBudget <= 0 {
		return fmt.Errorf("non-working day budget must be positive, got %s", p.NonWorkingDayBudget)
	}
	if !p.Exclusion.Start.Before(p.Exclusion.End) {
		return fmt.Errorf("exclusion window start %s must be before end %s", p.Exclusion.Start, p.Exclusion.End)
	}
	return nil
}
