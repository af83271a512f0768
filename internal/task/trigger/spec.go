package trigger

import (
	"strings"
	"time"

	"jobhost/internal/errors"
	"jobhost/internal/task/job"
)

// Spec describes a trigger to be built for a job. Exactly one of Cron or
// Interval must be set.
type Spec struct {
	// Name and Group default to "{job}_trigger" in the job's group.
	Name        string
	Group       string
	Description string

	Cron     string
	Location *time.Location

	Interval    time.Duration
	RepeatCount int // fires after the first; RepeatForever for unlimited

	StartAt time.Time
	EndAt   time.Time

	Misfire job.MisfirePolicy
	Data    job.Data

	// StartNow makes the trigger effective from the moment it is built
	// (StartAt = now). The first fire is still the first schedule match.
	StartNow bool
}

// CronSpec is the common cron trigger: default key, default misfire policy.
func CronSpec(expr string, loc *time.Location) Spec {
	return Spec{Cron: expr, Location: loc}
}

// IntervalSpec repeats every d, RepeatForever times by default.
func IntervalSpec(d time.Duration) Spec {
	return Spec{Interval: d, RepeatCount: RepeatForever}
}

// Build validates the spec and returns a Waiting trigger for jobKey with
// NextFireTime computed from now. defaultLoc applies when Location is nil.
func (s Spec) Build(jobKey job.Key, now time.Time, defaultLoc *time.Location) (job.Trigger, error) {
	hasCron := strings.TrimSpace(s.Cron) != ""
	if hasCron == (s.Interval > 0) {
		return job.Trigger{}, errors.InvalidArgumentf("trigger needs exactly one of cron or interval")
	}
	if !s.EndAt.IsZero() && !s.StartAt.IsZero() && s.EndAt.Before(s.StartAt) {
		return job.Trigger{}, errors.InvalidArgumentf("trigger end %s is before start %s", s.EndAt, s.StartAt)
	}

	if s.StartNow && s.StartAt.IsZero() {
		s.StartAt = now
	}

	loc := s.Location
	if loc == nil {
		loc = defaultLoc
	}

	var sched job.Schedule
	if hasCron {
		c, err := ParseCron(s.Cron, loc)
		if err != nil {
			return job.Trigger{}, err
		}
		sched = c
	} else {
		anchor := s.StartAt
		if anchor.IsZero() {
			anchor = now
		}
		iv, err := NewInterval(s.Interval, anchor, s.RepeatCount)
		if err != nil {
			return job.Trigger{}, err
		}
		sched = iv
	}

	key := job.TriggerKeyFor(jobKey)
	if strings.TrimSpace(s.Name) != "" {
		group := s.Group
		if strings.TrimSpace(group) == "" {
			group = jobKey.Group
		}
		key = job.NewTriggerKey(s.Name, group)
	}

	t := job.Trigger{
		Key:         key,
		JobKey:      jobKey,
		Description: s.Description,
		Schedule:    sched,
		StartAt:     s.StartAt,
		EndAt:       s.EndAt,
		Misfire:     s.Misfire,
		Data:        s.Data.Clone(),
		State:       job.StateWaiting,
	}
	next, ok := NextFireTime(&t, time.Time{}, now)
	if !ok {
		return job.Trigger{}, errors.InvalidArgumentf("trigger %s will never fire", key)
	}
	t.NextFireTime = next
	return t, nil
}
