package trigger

import (
	"time"

	"jobhost/internal/errors"
)

// RepeatForever disables the repeat limit of an interval schedule.
const RepeatForever = -1

// IntervalSchedule fires every Interval starting at Start.
//
// RepeatCount is the number of fires after the first; RepeatForever means
// unlimited.
type IntervalSchedule struct {
	Interval    time.Duration
	Start       time.Time
	RepeatCount int
}

// NewInterval validates the interval and anchors it at start.
func NewInterval(every time.Duration, start time.Time, repeatCount int) (*IntervalSchedule, error) {
	if every <= 0 {
		return nil, errors.InvalidArgumentf("interval must be > 0, got %s", every)
	}
	if repeatCount < RepeatForever {
		return nil, errors.InvalidArgumentf("repeat count must be >= 0 or RepeatForever")
	}
	return &IntervalSchedule{Interval: every, Start: start, RepeatCount: repeatCount}, nil
}

func (s *IntervalSchedule) Kind() string   { return "interval" }
func (s *IntervalSchedule) String() string { return "every " + s.Interval.String() }

// FireTimeAfter keeps the phase of Start: the result is Start + k*Interval.
func (s *IntervalSchedule) FireTimeAfter(t time.Time) (time.Time, bool) {
	if s.Start.IsZero() {
		return t.Add(s.Interval), true
	}
	if t.Before(s.Start) {
		return s.Start, true
	}
	k := t.Sub(s.Start)/s.Interval + 1
	return s.Start.Add(k * s.Interval), true
}

// Exhausted reports whether timesFired has used up the repeat limit.
func (s *IntervalSchedule) Exhausted(timesFired int) bool {
	return s.RepeatCount != RepeatForever && timesFired > s.RepeatCount
}
