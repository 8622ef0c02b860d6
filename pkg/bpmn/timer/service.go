package timer

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenflow/pkg/bpmn/calendar"
	"github.com/pbinitiative/zenflow/pkg/bpmn/runtime"
)

// Service holds the scheduled timers of one engine and computes when they are due.
// Firing is driven from outside, either by Run for wall clocks or by explicit checks against a pseudo clock.
type Service struct {
	mu       *sync.RWMutex
	clock    Clock
	calendar calendar.BusinessCalendar
	timers   map[int64]*runtime.TimerInstance
	logger   hclog.Logger
}

func NewService(clock Clock, cal calendar.BusinessCalendar, logger hclog.Logger) *Service {
	if clock == nil {
		clock = WallClock{}
	}
	if logger == nil {
		logger = hclog.Default()
	}
	return &Service{
		mu:       &sync.RWMutex{},
		clock:    clock,
		calendar: cal,
		timers:   map[int64]*runtime.TimerInstance{},
		logger:   logger.Named("timer-service"),
	}
}

func (s *Service) Clock() Clock {
	return s.clock
}

func policyOf(timer runtime.TimerInstance) Policy {
	return Policy{Kind: timer.Kind, Expression: timer.Expression, BusinessCalendar: timer.BusinessCalendar}
}

// Schedule computes the first fire time of the timer relative to the current clock and stores it.
func (s *Service) Schedule(timer runtime.TimerInstance) (runtime.TimerInstance, error) {
	now := s.clock.Now()
	next, ok, err := policyOf(timer).Next(now, timer.FireCount, s.calendar)
	if err != nil {
		return timer, err
	}
	if !ok {
		return timer, &MisconfigurationError{Kind: timer.Kind, Expression: timer.Expression}
	}
	timer.NextFireAt = next
	timer.State = runtime.TimerScheduled
	if timer.CreatedAt.IsZero() {
		timer.CreatedAt = now
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[timer.Key] = &timer
	s.logger.Debug("timer scheduled", "key", timer.Key, "element", timer.ElementId, "at", next)
	return timer, nil
}

// Restore puts previously scheduled timers back without recomputing their fire time.
func (s *Service) Restore(timers []runtime.TimerInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, timer := range timers {
		if timer.State != runtime.TimerScheduled {
			continue
		}
		t := timer
		s.timers[t.Key] = &t
	}
}

func (s *Service) Get(key int64) (runtime.TimerInstance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	timer, ok := s.timers[key]
	if !ok {
		return runtime.TimerInstance{}, false
	}
	return *timer, true
}

func (s *Service) Cancel(keys ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.timers, key)
	}
}

// CancelOwnedBy removes the timers created for the node instance.
func (s *Service) CancelOwnedBy(nodeInstanceKey int64) {
	s.removeWhere(func(t *runtime.TimerInstance) bool {
		return t.NodeInstanceKey == nodeInstanceKey
	})
}

func (s *Service) CancelProcessInstance(processInstanceKey int64) {
	s.removeWhere(func(t *runtime.TimerInstance) bool {
		return t.ProcessInstanceKey == processInstanceKey
	})
}

// CancelDefinition removes the start timers of a process definition.
func (s *Service) CancelDefinition(definitionId string) {
	s.removeWhere(func(t *runtime.TimerInstance) bool {
		return t.ProcessInstanceKey == 0 && t.DefinitionId == definitionId
	})
}

func (s *Service) removeWhere(match func(t *runtime.TimerInstance) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, timer := range s.timers {
		if match(timer) {
			delete(s.timers, key)
		}
	}
}

// Due returns the timers whose fire time is not after now, earliest first.
func (s *Service) Due(now time.Time) []runtime.TimerInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []runtime.TimerInstance
	for _, timer := range s.timers {
		if !timer.NextFireAt.After(now) {
			due = append(due, *timer)
		}
	}
	sortTimers(due)
	return due
}

// Fired records a firing. Repeating timers are rescheduled from their previous fire time,
// the returned timer has state FIRED when no further firing follows.
func (s *Service) Fired(key int64) (runtime.TimerInstance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer, ok := s.timers[key]
	if !ok {
		return runtime.TimerInstance{}, false
	}
	timer.FireCount++
	next, repeat, err := policyOf(*timer).Next(timer.NextFireAt, timer.FireCount, s.calendar)
	if err != nil || !repeat {
		timer.State = runtime.TimerFired
		delete(s.timers, key)
		return *timer, true
	}
	timer.NextFireAt = next
	return *timer, true
}

// Owned returns the scheduled timers of a process instance.
func (s *Service) Owned(processInstanceKey int64) []runtime.TimerInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []runtime.TimerInstance
	for _, timer := range s.timers {
		if timer.ProcessInstanceKey == processInstanceKey {
			result = append(result, *timer)
		}
	}
	sortTimers(result)
	return result
}

// NextFireAt returns the earliest scheduled fire time.
func (s *Service) NextFireAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var next time.Time
	for _, timer := range s.timers {
		if next.IsZero() || timer.NextFireAt.Before(next) {
			next = timer.NextFireAt
		}
	}
	return next, !next.IsZero()
}

func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.timers)
}

// Run polls for due timers every pollDelay until ctx is done, onDue is called whenever at least one timer is due.
func (s *Service) Run(ctx context.Context, pollDelay time.Duration, onDue func(ctx context.Context)) {
	pollTicker := time.NewTicker(pollDelay)
	defer pollTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			next, ok := s.NextFireAt()
			if !ok || next.After(s.clock.Now()) {
				continue
			}
			onDue(ctx)
		}
	}
}

func sortTimers(timers []runtime.TimerInstance) {
	slices.SortFunc(timers, func(a, b runtime.TimerInstance) int {
		if c := a.NextFireAt.Compare(b.NextFireAt); c != 0 {
			return c
		}
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})
}
