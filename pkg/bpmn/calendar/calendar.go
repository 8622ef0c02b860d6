package calendar

import (
	"slices"
	"time"

	"github.com/senseyeio/duration"
)

// BusinessCalendar translates nominal durations into wall clock instants skipping non working time.
type BusinessCalendar interface {
	Shift(from time.Time, d duration.Duration) time.Time
}

// Weekly is a business calendar with fixed working weekdays and a list of holidays.
type Weekly struct {
	WorkingDays []time.Weekday
	Holidays    []time.Time
}

// NewWeekly returns a calendar working from monday to friday.
func NewWeekly(holidays ...time.Time) *Weekly {
	return &Weekly{
		WorkingDays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		Holidays:    holidays,
	}
}

// IsWorkingDay reports whether the day of t is neither a weekend day nor a holiday.
func (w *Weekly) IsWorkingDay(t time.Time) bool {
	if !slices.Contains(w.WorkingDays, t.Weekday()) {
		return false
	}
	for _, holiday := range w.Holidays {
		if sameDay(holiday, t) {
			return false
		}
	}
	return true
}

// Shift adds the duration counting only working days for the day based part.
// Time based parts are added as wall time, a result falling on a non working day moves to the next working day.
func (w *Weekly) Shift(from time.Time, d duration.Duration) time.Time {
	if len(w.WorkingDays) == 0 {
		return d.Shift(from)
	}
	t := from.AddDate(d.Y, d.M, 0)
	for days := d.D + 7*d.W; days > 0; {
		t = t.AddDate(0, 0, 1)
		if w.IsWorkingDay(t) {
			days--
		}
	}
	t = t.Add(time.Duration(d.TH)*time.Hour + time.Duration(d.TM)*time.Minute + time.Duration(d.TS)*time.Second)
	for !w.IsWorkingDay(t) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func sameDay(a time.Time, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return ay == by && am == bm && ad == bd
}
