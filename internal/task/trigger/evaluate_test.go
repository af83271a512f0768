package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobhost/internal/task/job"
)

func cronTrigger(expr string, policy job.MisfirePolicy) *job.Trigger {
	return &job.Trigger{Schedule: MustParseCron(expr, time.UTC), Misfire: policy}
}

func TestNextFireTimeInterval(t *testing.T) {
	t.Parallel()

	now := utc(2024, 1, 1, 0, 0, 0)

	iv, err := NewInterval(10*time.Minute, now.Add(time.Hour), RepeatForever)
	require.NoError(t, err)
	tr := &job.Trigger{Schedule: iv}
	got, ok := NextFireTime(tr, time.Time{}, now)
	require.True(t, ok)
	assert.Equal(t, now.Add(time.Hour), got, "future anchor fires first at the anchor")

	iv, _ = NewInterval(10*time.Minute, now, RepeatForever)
	tr = &job.Trigger{Schedule: iv}
	got, ok = NextFireTime(tr, time.Time{}, now)
	require.True(t, ok)
	assert.Equal(t, now, got, "anchor equal to now fires at now")

	got, ok = NextFireTime(tr, now, now)
	require.True(t, ok)
	assert.Equal(t, now.Add(10*time.Minute), got)
}

func TestNextFireTimeIntervalRepeatAndEnd(t *testing.T) {
	t.Parallel()

	start := utc(2024, 1, 1, 0, 0, 0)
	iv, err := NewInterval(time.Minute, start, 2)
	require.NoError(t, err)
	tr := &job.Trigger{Schedule: iv}

	prev := time.Time{}
	var fires []time.Time
	for {
		next, ok := NextFireTime(tr, prev, start)
		if !ok {
			break
		}
		fires = append(fires, next)
		tr.TimesFired++
		prev = next
		require.Less(t, len(fires), 10)
	}
	assert.Equal(t, []time.Time{start, start.Add(time.Minute), start.Add(2 * time.Minute)}, fires)

	iv, _ = NewInterval(time.Minute, start, RepeatForever)
	tr = &job.Trigger{Schedule: iv, EndAt: start.Add(90 * time.Second)}
	_, ok := NextFireTime(tr, start.Add(time.Minute), start)
	assert.False(t, ok, "candidate after EndAt")
}

func TestNextFireTimeHonorsStartAt(t *testing.T) {
	t.Parallel()

	tr := cronTrigger("0 1 * * *", job.MisfireSkipToNext)
	tr.StartAt = utc(2024, 2, 1, 0, 0, 0)
	got, ok := NextFireTime(tr, time.Time{}, utc(2024, 1, 1, 0, 0, 0))
	require.True(t, ok)
	assert.Equal(t, utc(2024, 2, 1, 1, 0, 0), got)
}

func TestResolveMisfire(t *testing.T) {
	t.Parallel()

	scheduled := utc(2024, 1, 1, 1, 0, 0)
	late := utc(2024, 1, 1, 1, 5, 0)

	tr := cronTrigger("0 1 * * *", job.MisfireSkipToNext)
	tr.NextFireTime = scheduled
	m := ResolveMisfire(tr, late, DefaultMisfireThreshold)
	assert.True(t, m.Misfired)
	assert.False(t, m.Dispatch)
	assert.True(t, m.HasNext)
	assert.Equal(t, utc(2024, 1, 2, 1, 0, 0), m.Next)

	tr.Misfire = job.MisfireFireNowOnce
	m = ResolveMisfire(tr, late, DefaultMisfireThreshold)
	assert.True(t, m.Dispatch)
	assert.Equal(t, utc(2024, 1, 2, 1, 0, 0), m.Next)

	tr.Misfire = job.MisfireIgnore
	m = ResolveMisfire(tr, late, DefaultMisfireThreshold)
	assert.True(t, m.Silent)
	assert.False(t, m.Dispatch)

	m = ResolveMisfire(tr, scheduled.Add(30*time.Second), DefaultMisfireThreshold)
	assert.False(t, m.Misfired, "within threshold")
}

func TestResolveMisfireFireNowCountsAgainstRepeat(t *testing.T) {
	t.Parallel()

	start := utc(2024, 1, 1, 0, 0, 0)
	iv, _ := NewInterval(time.Minute, start, 0)
	tr := &job.Trigger{Schedule: iv, Misfire: job.MisfireFireNowOnce, NextFireTime: start}

	m := ResolveMisfire(tr, start.Add(10*time.Minute), DefaultMisfireThreshold)
	assert.True(t, m.Dispatch)
	assert.False(t, m.HasNext, "the catch-up fire was the only one allowed")
}

func TestSpecBuild(t *testing.T) {
	t.Parallel()

	now := utc(2024, 1, 1, 0, 0, 0)
	key := job.NewKey("Example", "")

	tr, err := CronSpec("0 1 * * *", nil).Build(key, now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, job.TriggerKey{Name: "Example_trigger", Group: "Default"}, tr.Key)
	assert.Equal(t, job.StateWaiting, tr.State)
	assert.Equal(t, utc(2024, 1, 1, 1, 0, 0), tr.NextFireTime)

	spec := CronSpec("0 1 * * *", nil)
	spec.StartNow = true
	tr, err = spec.Build(key, now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, now, tr.StartAt)
	assert.Equal(t, utc(2024, 1, 1, 1, 0, 0), tr.NextFireTime, "start now only opens the window")

	spec = IntervalSpec(time.Minute)
	spec.Name = "fast"
	tr, err = spec.Build(key, now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, job.TriggerKey{Name: "fast", Group: "Default"}, tr.Key)
	assert.Equal(t, now, tr.NextFireTime)

	_, err = Spec{Cron: "0 1 * * *", Interval: time.Minute}.Build(key, now, time.UTC)
	assert.Error(t, err)

	_, err = CronSpec("0 0 12 1 1 * 2020", nil).Build(key, now, time.UTC)
	assert.ErrorContains(t, err, "will never fire")
}
