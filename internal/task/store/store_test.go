package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobhost/internal/errors"
	"jobhost/internal/task/job"
)

func detail(name, group string, durable bool) job.Detail {
	j := job.Func{Desc: job.Descriptor{Name: name, Group: group}}
	d := job.NewDetail(j, job.Data{"k": "v"})
	d.Durable = durable
	return d
}

func trig(d job.Detail, name string) job.Trigger {
	return job.Trigger{
		Key:          job.NewTriggerKey(name, d.Key.Group),
		JobKey:       d.Key,
		State:        job.StateWaiting,
		NextFireTime: time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC),
	}
}

func TestAddJobDuplicate(t *testing.T) {
	s := New()
	d := detail("a", "", false)
	require.NoError(t, s.AddJob(d, false))

	err := s.AddJob(d, false)
	assert.True(t, errors.Is(err, ErrDuplicateKey), "got %v", err)

	d.Description = "replaced"
	require.NoError(t, s.AddJob(d, true))
	got, ok := s.GetJob(d.Key)
	require.True(t, ok)
	assert.Equal(t, "replaced", got.Description)
}

func TestAddTriggerRequiresJob(t *testing.T) {
	s := New()
	d := detail("a", "", false)
	_, err := s.AddTrigger(trig(d, "t"))
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	require.NoError(t, s.AddJob(d, false))
	tr, err := s.AddTrigger(trig(d, "t"))
	require.NoError(t, err)
	assert.NotZero(t, tr.Version)

	_, err = s.AddTrigger(trig(d, "t"))
	assert.True(t, errors.Is(err, ErrDuplicateKey), "got %v", err)
}

func TestAddJobAndTriggerIsAtomic(t *testing.T) {
	s := New()
	d := detail("a", "", false)
	_, err := s.AddJobAndTrigger(d, trig(d, "a_trigger"))
	require.NoError(t, err)

	before := s.ListTriggers()
	other := d
	other.Description = "second"
	_, err = s.AddJobAndTrigger(other, trig(other, "a_trigger"))
	assert.True(t, errors.Is(err, ErrDuplicateKey))

	got, _ := s.GetJob(d.Key)
	assert.Equal(t, d.Description, got.Description)
	assert.Equal(t, before, s.ListTriggers())
	jobs, triggers := s.Len()
	assert.Equal(t, 1, jobs)
	assert.Equal(t, 1, triggers)
}

func TestRemoveJobCascades(t *testing.T) {
	s := New()
	d := detail("a", "", true)
	require.NoError(t, s.AddJob(d, false))
	_, _ = s.AddTrigger(trig(d, "t2"))
	_, _ = s.AddTrigger(trig(d, "t1"))

	removed, ok := s.RemoveJob(d.Key)
	require.True(t, ok)
	assert.Equal(t, []job.TriggerKey{{Name: "t1", Group: "Default"}, {Name: "t2", Group: "Default"}}, removed)
	assert.False(t, s.CheckExists(d.Key))
	assert.Empty(t, s.ListTriggers())

	_, ok = s.RemoveJob(d.Key)
	assert.False(t, ok)
}

func TestRemoveTriggerDurability(t *testing.T) {
	s := New()
	plain := detail("plain", "", false)
	kept := detail("kept", "", true)
	require.NoError(t, s.AddJob(plain, false))
	require.NoError(t, s.AddJob(kept, false))
	_, _ = s.AddTrigger(trig(plain, "p1"))
	_, _ = s.AddTrigger(trig(plain, "p2"))
	_, _ = s.AddTrigger(trig(kept, "k1"))

	removed, jobGone := s.RemoveTrigger(job.NewTriggerKey("p1", ""))
	assert.True(t, removed)
	assert.False(t, jobGone, "another trigger remains")

	_, jobGone = s.RemoveTrigger(job.NewTriggerKey("p2", ""))
	assert.True(t, jobGone, "non-durable job goes with its last trigger")
	assert.False(t, s.CheckExists(plain.Key))

	_, jobGone = s.RemoveTrigger(job.NewTriggerKey("k1", ""))
	assert.False(t, jobGone)
	assert.True(t, s.CheckExists(kept.Key), "durable job stays")
}

func TestListJobKeysSortedAndFiltered(t *testing.T) {
	s := New()
	for _, d := range []job.Detail{detail("b", "G2", false), detail("a", "G2", false), detail("z", "G1", false)} {
		require.NoError(t, s.AddJob(d, false))
	}
	assert.Equal(t, []job.Key{{Name: "z", Group: "G1"}, {Name: "a", Group: "G2"}, {Name: "b", Group: "G2"}}, s.ListJobKeys(""))
	assert.Equal(t, []job.Key{{Name: "z", Group: "G1"}}, s.ListJobKeys("G1"))
	assert.Empty(t, s.ListJobKeys("missing"))
}

func TestReadsReturnCopies(t *testing.T) {
	s := New()
	d := detail("a", "", false)
	require.NoError(t, s.AddJob(d, false))

	got, _ := s.GetJob(d.Key)
	got.Data["k"] = "mutated"
	again, _ := s.GetJob(d.Key)
	assert.Equal(t, "v", again.Data["k"])
}

func TestUpdateTriggerBumpsVersion(t *testing.T) {
	s := New()
	d := detail("a", "", false)
	require.NoError(t, s.AddJob(d, false))
	tr, _ := s.AddTrigger(trig(d, "t"))

	updated, ok := s.UpdateTrigger(tr.Key, func(t *job.Trigger) bool {
		t.State = job.StatePaused
		t.JobKey = job.NewKey("other", "")
		return true
	})
	require.True(t, ok)
	assert.Equal(t, job.StatePaused, updated.State)
	assert.Equal(t, d.Key, updated.JobKey, "identity is preserved")
	assert.Greater(t, updated.Version, tr.Version)

	same, ok := s.UpdateTrigger(tr.Key, func(*job.Trigger) bool { return false })
	assert.False(t, ok)
	assert.Equal(t, updated.Version, same.Version)

	_, ok = s.UpdateTrigger(job.NewTriggerKey("missing", ""), func(*job.Trigger) bool { return true })
	assert.False(t, ok)
}

func TestConcurrentWrites(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.AddJob(detail("same", "", false), false)
			_ = s.ListJobKeys("")
		}()
	}
	wg.Wait()
	jobs, _ := s.Len()
	assert.Equal(t, 1, jobs)
}
