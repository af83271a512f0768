package trigger

import (
	"time"

	"jobhost/internal/task/job"
)

// DefaultMisfireThreshold is how late a fire may be processed before the
// trigger's misfire policy applies.
const DefaultMisfireThreshold = 60 * time.Second

type repeatLimited interface {
	Exhausted(timesFired int) bool
}

// NextFireTime returns the fire following prev, or the first fire at or
// after now when prev is zero. It reports false when the trigger has no
// further fires: repeat limit used up, or the candidate is past EndAt.
//
// For cron schedules the result is always strictly after the reference.
// An interval schedule whose anchor is not in the past fires first at the
// anchor itself.
func NextFireTime(t *job.Trigger, prev, now time.Time) (time.Time, bool) {
	if t == nil || t.Schedule == nil {
		return time.Time{}, false
	}
	if rl, ok := t.Schedule.(repeatLimited); ok && rl.Exhausted(t.TimesFired) {
		return time.Time{}, false
	}

	from := prev
	if from.IsZero() {
		from = now
		if iv, ok := t.Schedule.(*IntervalSchedule); ok && !iv.Start.IsZero() && !iv.Start.Before(now) {
			from = iv.Start.Add(-time.Nanosecond)
		}
	}
	if !t.StartAt.IsZero() && from.Before(t.StartAt) {
		from = t.StartAt.Add(-time.Nanosecond)
	}

	next, ok := t.Schedule.FireTimeAfter(from)
	if !ok {
		return time.Time{}, false
	}
	if !t.EndAt.IsZero() && next.After(t.EndAt) {
		return time.Time{}, false
	}
	return next, true
}

// Misfire is the decision ResolveMisfire makes for a late trigger.
type Misfire struct {
	// Misfired is false when the trigger is on time; the other fields are
	// then unset.
	Misfired bool
	// Dispatch asks the caller to fire once now.
	Dispatch bool
	// Silent marks misfires dropped under MisfireIgnore.
	Silent bool

	Next    time.Time
	HasNext bool
}

// ResolveMisfire applies the trigger's policy when its NextFireTime is more
// than threshold before now. Next is computed from now and, when Dispatch is
// set, already accounts for the extra fire.
func ResolveMisfire(t *job.Trigger, now time.Time, threshold time.Duration) Misfire {
	if t == nil || t.NextFireTime.IsZero() || !t.NextFireTime.Add(threshold).Before(now) {
		return Misfire{}
	}
	ahead := *t
	out := Misfire{Misfired: true}
	switch t.Misfire {
	case job.MisfireFireNowOnce:
		out.Dispatch = true
		ahead.TimesFired++
	case job.MisfireIgnore:
		out.Silent = true
	}
	out.Next, out.HasNext = NextFireTime(&ahead, now, now)
	return out
}
