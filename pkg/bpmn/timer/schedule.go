package timer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pbinitiative/zenflow/pkg/bpmn/calendar"
	"github.com/robfig/cron/v3"
	"github.com/senseyeio/duration"
)

const (
	KindDuration = "duration"
	KindCycle    = "cycle"
	KindCron     = "cron"
	KindDate     = "date"
)

// MisconfigurationError is returned for timer expressions that can not be parsed.
type MisconfigurationError struct {
	Kind       string
	Expression string
	Err        error
}

func (e *MisconfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s timer %q: %s", e.Kind, e.Expression, e.Err)
	}
	return fmt.Sprintf("invalid %s timer %q", e.Kind, e.Expression)
}

func (e *MisconfigurationError) Unwrap() error {
	return e.Err
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Policy computes the fire times of one timer definition.
type Policy struct {
	Kind             string
	Expression       string
	BusinessCalendar bool
}

// Validate parses the expression without computing a fire time.
func (p Policy) Validate() error {
	_, _, err := p.Next(time.Now(), 0, nil)
	return err
}

// Next returns the instant of the firing following the given number of previous firings.
// The boolean result is false when the policy does not fire anymore.
func (p Policy) Next(from time.Time, fireCount int, cal calendar.BusinessCalendar) (time.Time, bool, error) {
	expression := strings.TrimSpace(p.Expression)
	switch p.Kind {
	case KindDuration, "":
		if fireCount > 0 {
			return time.Time{}, false, nil
		}
		return p.shift(from, expression, cal)
	case KindDate:
		if fireCount > 0 {
			return time.Time{}, false, nil
		}
		at, err := time.Parse(time.RFC3339, expression)
		if err != nil {
			return time.Time{}, false, &MisconfigurationError{Kind: p.Kind, Expression: p.Expression, Err: err}
		}
		return at, true, nil
	case KindCycle:
		return p.nextCycle(from, expression, fireCount, cal)
	case KindCron:
		schedule, err := cronParser.Parse(expression)
		if err != nil {
			return time.Time{}, false, &MisconfigurationError{Kind: p.Kind, Expression: p.Expression, Err: err}
		}
		next := schedule.Next(from)
		if next.IsZero() {
			return time.Time{}, false, nil
		}
		return next, true, nil
	}
	return time.Time{}, false, &MisconfigurationError{Kind: p.Kind, Expression: p.Expression, Err: fmt.Errorf("unknown timer kind")}
}

// nextCycle handles ISO-8601 repeating intervals R[n]/[start/]duration.
func (p Policy) nextCycle(from time.Time, expression string, fireCount int, cal calendar.BusinessCalendar) (time.Time, bool, error) {
	parts := strings.Split(expression, "/")
	repetitions := -1
	if strings.HasPrefix(parts[0], "R") {
		if count := strings.TrimPrefix(parts[0], "R"); count != "" {
			n, err := strconv.Atoi(count)
			if err != nil || n < 0 {
				return time.Time{}, false, &MisconfigurationError{Kind: p.Kind, Expression: p.Expression, Err: fmt.Errorf("invalid repetition count %q", count)}
			}
			repetitions = n
		}
		parts = parts[1:]
	}
	if len(parts) == 0 || len(parts) > 2 {
		return time.Time{}, false, &MisconfigurationError{Kind: p.Kind, Expression: p.Expression}
	}
	if repetitions >= 0 && fireCount >= repetitions {
		return time.Time{}, false, nil
	}
	interval := parts[len(parts)-1]
	if len(parts) == 2 {
		start, err := time.Parse(time.RFC3339, parts[0])
		if err != nil {
			return time.Time{}, false, &MisconfigurationError{Kind: p.Kind, Expression: p.Expression, Err: err}
		}
		if fireCount == 0 {
			return start, true, nil
		}
	}
	return p.shift(from, interval, cal)
}

func (p Policy) shift(from time.Time, expression string, cal calendar.BusinessCalendar) (time.Time, bool, error) {
	if strings.HasPrefix(expression, "P") {
		d, err := duration.ParseISO8601(expression)
		if err != nil {
			return time.Time{}, false, &MisconfigurationError{Kind: p.Kind, Expression: p.Expression, Err: err}
		}
		if p.BusinessCalendar && cal != nil {
			return cal.Shift(from, d), true, nil
		}
		return d.Shift(from), true, nil
	}
	if d, err := time.ParseDuration(expression); err == nil {
		return from.Add(d), true, nil
	}
	millis, err := strconv.ParseInt(expression, 10, 64)
	if err != nil {
		return time.Time{}, false, &MisconfigurationError{Kind: p.Kind, Expression: p.Expression, Err: fmt.Errorf("not an ISO-8601 duration, a go duration nor milliseconds")}
	}
	return from.Add(time.Duration(millis) * time.Millisecond), true, nil
}
