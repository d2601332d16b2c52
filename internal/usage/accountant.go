package usage

import (
	"sort"
	"time"

	"github.com/goodtune/quotakeeper/internal/calendar"
	"github.com/goodtune/quotakeeper/internal/metrics"
	"github.com/rs/zerolog"
)

// Params fixes everything the accounting of one window depends on.
type Params struct {
	// WindowStart is the beginning of the accounting window, normally local
	// midnight of the day being charged. Earlier session starts are clamped to it.
	WindowStart time.Time
	// Now is the evaluation time. Open sessions are charged up to it.
	Now time.Time
	// WorkingDay reports whether the window's date is a working day.
	WorkingDay bool
	// ExclusionStart and ExclusionEnd bound the uncharged interval on working days.
	ExclusionStart time.Time
	ExclusionEnd   time.Time
}

// ParamsFor builds the parameters for the day containing now.
func ParamsFor(cal *calendar.Calendar, now time.Time) Params {
	today := cal.Today(now)
	p := Params{
		WindowStart: cal.DayStart(today),
		Now:         now,
	}
	p.ExclusionStart, p.ExclusionEnd, p.WorkingDay = cal.Exclusion(today)
	return p
}

// Account converts one entity's events into chargeable time. It is a pure
// function: events may be unsorted and contain duplicates, and the result
// depends only on the event set and p.
func Account(entityID string, events []Event, p Params) Result {
	res := Result{EntityID: entityID}

	valid := make([]Event, 0, len(events))
	for _, ev := range events {
		switch {
		case ev.EntityID != "" && ev.EntityID != entityID:
			res.Invalid = append(res.Invalid, InvalidEvent{Event: ev, Reason: ReasonWrongEntity})
		case ev.Kind != KindStart && ev.Kind != KindStop:
			res.Invalid = append(res.Invalid, InvalidEvent{Event: ev, Reason: ReasonUnknownKind})
		case ev.Timestamp.After(p.Now):
			res.Invalid = append(res.Invalid, InvalidEvent{Event: ev, Reason: ReasonFutureTimestamp})
		default:
			valid = append(valid, ev)
		}
	}

	SortEvents(valid)

	var (
		open         bool
		sessionStart time.Time
	)
	for _, ev := range valid {
		switch ev.Kind {
		case KindStart:
			if open {
				res.Absorbed++
				continue
			}
			open = true
			sessionStart = ev.Timestamp
		case KindStop:
			if !open {
				res.Invalid = append(res.Invalid, InvalidEvent{Event: ev, Reason: ReasonStrayStop})
				continue
			}
			open = false
			res.addSession(p, sessionStart, ev.Timestamp, false)
		}
	}

	if open {
		res.addSession(p, sessionStart, p.Now, true)
	}

	return res
}

func (r *Result) addSession(p Params, start, end time.Time, open bool) {
	c := p.Charge(start, end)
	r.Sessions = append(r.Sessions, Session{
		EntityID: r.EntityID,
		Start:    start,
		End:      end,
		Open:     open,
		Charge:   c,
	})
	r.Charge += c
}

// Charge computes the chargeable part of a single session.
func (p Params) Charge(start, end time.Time) time.Duration {
	if start.Before(p.WindowStart) {
		start = p.WindowStart
	}

	if p.WorkingDay {
		switch {
		case start.Before(p.ExclusionStart):
			// Time before instructional hours counts, time during them never does.
			if end.After(p.ExclusionStart) {
				end = p.ExclusionStart
			}
		case start.Before(p.ExclusionEnd):
			return 0
		}
	}

	if d := end.Sub(start); d > 0 {
		return d
	}
	return 0
}

// SortEvents orders events by timestamp, placing stops before starts at
// equal timestamps so a stop/start pair never opens a phantom session.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Kind == KindStop && b.Kind == KindStart
	})
}

// Accountant applies Account with the calendar's rules and reports dropped
// events to the log and metrics.
type Accountant struct {
	calendar *calendar.Calendar
	logger   zerolog.Logger
}

// NewAccountant creates an accountant bound to a calendar.
func NewAccountant(cal *calendar.Calendar, logger zerolog.Logger) *Accountant {
	return &Accountant{
		calendar: cal,
		logger:   logger.With().Str("component", "usage-accountant").Logger(),
	}
}

// Charge accounts the events of one entity for the day containing now.
func (a *Accountant) Charge(entityID string, events []Event, now time.Time) Result {
	res := Account(entityID, events, ParamsFor(a.calendar, now))

	for _, inv := range res.Invalid {
		metrics.InvalidEvents.WithLabelValues(inv.Reason).Inc()
		a.logger.Warn().
			Str("entity_id", entityID).
			Str("kind", string(inv.Event.Kind)).
			Time("timestamp", inv.Event.Timestamp).
			Str("reason", inv.Reason).
			Msg("Dropped invalid usage event")
	}

	a.logger.Debug().
		Str("entity_id", entityID).
		Int("events", len(events)).
		Int("sessions", len(res.Sessions)).
		Int("absorbed_starts", res.Absorbed).
		Dur("charge", res.Charge).
		Msg("Accounted entity usage")

	return res
}
