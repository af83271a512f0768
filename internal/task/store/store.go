// Package store is the in-memory registry of job details and triggers.
//
// All writes are serialized under one lock; reads return copies so callers
// never alias store-owned state.
package store

import (
	"sort"
	"strings"
	"sync"

	"jobhost/internal/errors"
	"jobhost/internal/task/job"
)

var (
	ErrDuplicateKey = errors.New("duplicate key")
	ErrNotFound     = errors.New("not found")
)

type Store struct {
	mu       sync.RWMutex
	jobs     map[job.Key]job.Detail
	triggers map[job.TriggerKey]job.Trigger
	byJob    map[job.Key]map[job.TriggerKey]struct{}
	version  uint64
}

func New() *Store {
	return &Store{
		jobs:     map[job.Key]job.Detail{},
		triggers: map[job.TriggerKey]job.Trigger{},
		byJob:    map[job.Key]map[job.TriggerKey]struct{}{},
	}
}

// AddJob inserts d, or overwrites an existing job when replace is set.
// Triggers of a replaced job are kept.
func (s *Store) AddJob(d job.Detail, replace bool) error {
	if d.Key.IsZero() {
		return errors.InvalidArgumentf("job key required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[d.Key]; ok && !replace {
		return errors.Wrapf(ErrDuplicateKey, "job %s", d.Key)
	}
	s.jobs[d.Key] = d.Clone()
	return nil
}

// AddTrigger stores t for an existing job.
func (s *Store) AddTrigger(t job.Trigger) (job.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkTriggerLocked(t); err != nil {
		return job.Trigger{}, err
	}
	return s.putTriggerLocked(t), nil
}

// AddJobAndTrigger stores both or neither.
func (s *Store) AddJobAndTrigger(d job.Detail, t job.Trigger) (job.Trigger, error) {
	if d.Key.IsZero() {
		return job.Trigger{}, errors.InvalidArgumentf("job key required")
	}
	if t.JobKey != d.Key {
		return job.Trigger{}, errors.InvalidArgumentf("trigger %s belongs to %s, not %s", t.Key, t.JobKey, d.Key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[d.Key]; ok {
		return job.Trigger{}, errors.Wrapf(ErrDuplicateKey, "job %s", d.Key)
	}
	if _, ok := s.triggers[t.Key]; ok {
		return job.Trigger{}, errors.Wrapf(ErrDuplicateKey, "trigger %s", t.Key)
	}
	s.jobs[d.Key] = d.Clone()
	return s.putTriggerLocked(t), nil
}

func (s *Store) checkTriggerLocked(t job.Trigger) error {
	if t.Key.IsZero() {
		return errors.InvalidArgumentf("trigger key required")
	}
	if _, ok := s.jobs[t.JobKey]; !ok {
		return errors.Wrapf(ErrNotFound, "job %s for trigger %s", t.JobKey, t.Key)
	}
	if _, ok := s.triggers[t.Key]; ok {
		return errors.Wrapf(ErrDuplicateKey, "trigger %s", t.Key)
	}
	return nil
}

func (s *Store) putTriggerLocked(t job.Trigger) job.Trigger {
	s.version++
	t = t.Clone()
	t.Version = s.version
	s.triggers[t.Key] = t
	set := s.byJob[t.JobKey]
	if set == nil {
		set = map[job.TriggerKey]struct{}{}
		s.byJob[t.JobKey] = set
	}
	set[t.Key] = struct{}{}
	return t.Clone()
}

// RemoveJob deletes the job and all of its triggers. It returns the removed
// trigger keys and false when the job did not exist.
func (s *Store) RemoveJob(k job.Key) ([]job.TriggerKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[k]; !ok {
		return nil, false
	}
	var removed []job.TriggerKey
	for tk := range s.byJob[k] {
		delete(s.triggers, tk)
		removed = append(removed, tk)
	}
	delete(s.byJob, k)
	delete(s.jobs, k)
	sortTriggerKeys(removed)
	return removed, true
}

// RemoveTrigger deletes one trigger. A non-durable job left without
// triggers is deleted with it; jobRemoved reports that.
func (s *Store) RemoveTrigger(k job.TriggerKey) (removed, jobRemoved bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[k]
	if !ok {
		return false, false
	}
	delete(s.triggers, k)
	set := s.byJob[t.JobKey]
	delete(set, k)
	if len(set) == 0 {
		delete(s.byJob, t.JobKey)
		if d, ok := s.jobs[t.JobKey]; ok && !d.Durable {
			delete(s.jobs, t.JobKey)
			return true, true
		}
	}
	return true, false
}

func (s *Store) CheckExists(k job.Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.jobs[k]
	return ok
}

func (s *Store) CheckTriggerExists(k job.TriggerKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.triggers[k]
	return ok
}

func (s *Store) GetJob(k job.Key) (job.Detail, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.jobs[k]
	if !ok {
		return job.Detail{}, false
	}
	return d.Clone(), true
}

func (s *Store) GetTrigger(k job.TriggerKey) (job.Trigger, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.triggers[k]
	if !ok {
		return job.Trigger{}, false
	}
	return t.Clone(), true
}

// UpdateTrigger applies fn to a copy of the stored trigger and writes it
// back unless fn returns false. Identity fields cannot change.
func (s *Store) UpdateTrigger(k job.TriggerKey, fn func(t *job.Trigger) bool) (job.Trigger, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.triggers[k]
	if !ok {
		return job.Trigger{}, false
	}
	next := cur.Clone()
	if !fn(&next) {
		return cur.Clone(), false
	}
	next.Key, next.JobKey = cur.Key, cur.JobKey
	s.version++
	next.Version = s.version
	s.triggers[k] = next
	return next.Clone(), true
}

// ListJobKeys returns job keys sorted by group then name. A non-empty
// group restricts the result to that group.
func (s *Store) ListJobKeys(group string) []job.Key {
	group = strings.TrimSpace(group)
	s.mu.RLock()
	out := make([]job.Key, 0, len(s.jobs))
	for k := range s.jobs {
		if group == "" || k.Group == group {
			out = append(out, k)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// ListJobs returns copies of all job details in key order.
func (s *Store) ListJobs() []job.Detail {
	s.mu.RLock()
	out := make([]job.Detail, 0, len(s.jobs))
	for _, d := range s.jobs {
		out = append(out, d.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}

func (s *Store) TriggersForJob(k job.Key) []job.Trigger {
	s.mu.RLock()
	out := make([]job.Trigger, 0, len(s.byJob[k]))
	for tk := range s.byJob[k] {
		out = append(out, s.triggers[tk].Clone())
	}
	s.mu.RUnlock()
	sortTriggers(out)
	return out
}

func (s *Store) ListTriggers() []job.Trigger {
	s.mu.RLock()
	out := make([]job.Trigger, 0, len(s.triggers))
	for _, t := range s.triggers {
		out = append(out, t.Clone())
	}
	s.mu.RUnlock()
	sortTriggers(out)
	return out
}

// Len returns the number of jobs and triggers.
func (s *Store) Len() (jobs, triggers int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs), len(s.triggers)
}

func sortTriggers(ts []job.Trigger) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Key.Less(ts[j].Key) })
}

func sortTriggerKeys(ks []job.TriggerKey) {
	sort.Slice(ks, func(i, j int) bool { return ks[i].Less(ks[j]) })
}
