package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"jobhost/internal/errors"
	"jobhost/internal/eventbus"
	"jobhost/internal/task/engine"
	"jobhost/internal/task/job"
	"jobhost/internal/task/trigger"
	logx "jobhost/pkg/logx"
)

// parked is a fire held back because its non-concurrent job was running.
// Scheduled fires park their trigger; manual fires park the whole context.
type parked struct {
	trigger job.TriggerKey
	exec    *job.ExecutionContext
}

type loopStats struct {
	fired     atomic.Uint64
	misfired  atomic.Uint64
	discarded atomic.Uint64
	blocked   atomic.Uint64
	pending   atomic.Int64
}

// LoopStats counts dispatch loop decisions since the scheduler was created.
type LoopStats struct {
	Fired     uint64 `json:"fired"`
	Misfired  uint64 `json:"misfired"`
	Discarded uint64 `json:"discarded"`
	Blocked   uint64 `json:"blocked"`
	Pending   int    `json:"pending"`
}

// enqueue hands a trigger's next fire to the loop.
func (s *Scheduler) enqueue(t job.Trigger) {
	if t.State != job.StateWaiting || t.NextFireTime.IsZero() {
		return
	}
	s.inMu.Lock()
	s.inbox = append(s.inbox, entry{at: t.NextFireTime, key: t.Key, version: t.Version})
	s.inMu.Unlock()
	s.signal()
}

func (s *Scheduler) releaseParked(items []parked) {
	if len(items) == 0 {
		return
	}
	s.inMu.Lock()
	s.released = append(s.released, items...)
	s.inMu.Unlock()
	s.signal()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run is the dispatch loop. It is the only goroutine touching s.queue.
func (s *Scheduler) run(ctx context.Context) error {
	var timer clockwork.Timer
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
	}
	defer stopTimer()

	for {
		s.drainInbox(ctx)
		for ctx.Err() == nil {
			e, ok := s.queue.popDue(s.clock.Now())
			if !ok {
				break
			}
			s.processDue(ctx, e)
		}
		if ctx.Err() != nil {
			return nil
		}

		s.stats.pending.Store(int64(s.queue.len()))
		var fire <-chan time.Time
		if e, ok := s.queue.peek(); ok {
			d := e.at.Sub(s.clock.Now())
			if d < 0 {
				d = 0
			}
			timer = s.clock.NewTimer(d)
			fire = timer.Chan()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
		case <-fire:
		}
		stopTimer()
	}
}

func (s *Scheduler) drainInbox(ctx context.Context) {
	s.inMu.Lock()
	in := s.inbox
	rel := s.released
	s.inbox = nil
	s.released = nil
	s.inMu.Unlock()

	for _, e := range in {
		s.queue.push(e)
	}
	for _, p := range rel {
		s.handleRelease(ctx, p)
	}
}

// processDue decides what to do with one popped entry.
func (s *Scheduler) processDue(ctx context.Context, e entry) {
	t, ok := s.store.GetTrigger(e.key)
	if !ok || t.Version != e.version || t.State != job.StateWaiting {
		s.stats.discarded.Add(1)
		return
	}
	now := s.clock.Now()
	scheduled := t.NextFireTime

	m := trigger.ResolveMisfire(&t, now, s.threshold)
	if m.Misfired {
		s.stats.misfired.Add(1)
		if !m.Silent {
			s.log.Warn("trigger misfired",
				logx.String("trigger", t.Key.String()),
				logx.Time("scheduled", scheduled),
				logx.String("policy", t.Misfire.String()),
			)
			s.publish(eventbus.TriggerMisfired, t, scheduled, ErrMisfire)
		}
		if !m.Dispatch {
			s.advance(t, m.Next, m.HasNext)
			return
		}
		scheduled = now
	}

	d, ok := s.store.GetJob(t.JobKey)
	if !ok {
		s.stats.discarded.Add(1)
		return
	}
	if !s.acquire(d, parked{trigger: t.Key}) {
		s.block(t)
		return
	}

	next, hasNext := m.Next, m.HasNext
	if !m.Dispatch {
		ahead := t
		ahead.TimesFired++
		next, hasNext = trigger.NextFireTime(&ahead, scheduled, now)
	}
	updated, ok := s.store.UpdateTrigger(t.Key, func(cur *job.Trigger) bool {
		if cur.Version != t.Version {
			return false
		}
		cur.PreviousFireTime = scheduled
		cur.TimesFired++
		cur.NextFireTime = next
		if !hasNext {
			cur.NextFireTime = time.Time{}
			cur.State = job.StateComplete
		}
		return true
	})
	if !ok {
		s.releaseRun(d.Key)
		s.stats.discarded.Add(1)
		return
	}
	if hasNext {
		s.queue.push(entry{at: updated.NextFireTime, key: updated.Key, version: updated.Version})
	} else {
		s.publish(eventbus.TriggerCompleted, updated, scheduled, nil)
	}

	s.stats.fired.Add(1)
	ec := s.newExec(updated, d, scheduled, false, nil)
	_ = s.submit(ctx, ec)
}

// advance moves a trigger past a misfire without firing it.
func (s *Scheduler) advance(t job.Trigger, next time.Time, hasNext bool) {
	updated, ok := s.store.UpdateTrigger(t.Key, func(cur *job.Trigger) bool {
		if cur.Version != t.Version {
			return false
		}
		cur.NextFireTime = next
		if !hasNext {
			cur.NextFireTime = time.Time{}
			cur.State = job.StateComplete
		}
		return true
	})
	if !ok {
		return
	}
	if hasNext {
		s.queue.push(entry{at: updated.NextFireTime, key: updated.Key, version: updated.Version})
		return
	}
	s.publish(eventbus.TriggerCompleted, updated, t.NextFireTime, nil)
}

func (s *Scheduler) block(t job.Trigger) {
	updated, ok := s.store.UpdateTrigger(t.Key, func(cur *job.Trigger) bool {
		if cur.Version != t.Version {
			return false
		}
		cur.State = job.StateBlocked
		return true
	})
	if !ok {
		return
	}
	s.stats.blocked.Add(1)
	s.log.Debug("trigger blocked by running job", logx.String("trigger", t.Key.String()), logx.String("job", t.JobKey.String()))
	s.publish(eventbus.TriggerBlocked, updated, t.NextFireTime, nil)
}

// handleRelease runs on the loop after a non-concurrent job finished.
func (s *Scheduler) handleRelease(ctx context.Context, p parked) {
	if p.exec != nil {
		if !s.acquire(p.exec.Job, p) {
			return
		}
		_ = s.submit(ctx, p.exec)
		return
	}
	t, ok := s.store.UpdateTrigger(p.trigger, func(cur *job.Trigger) bool {
		if cur.State != job.StateBlocked {
			return false
		}
		cur.State = job.StateWaiting
		return true
	})
	if !ok {
		return
	}
	s.queue.push(entry{at: t.NextFireTime, key: t.Key, version: t.Version})
}

// acquire counts a run of d. A non-concurrent job that is already running
// gets p parked instead and acquire reports false.
func (s *Scheduler) acquire(d job.Detail, p parked) bool {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	if d.DisallowConcurrent && s.running[d.Key] > 0 {
		s.parked[d.Key] = append(s.parked[d.Key], p)
		return false
	}
	s.running[d.Key]++
	return true
}

func (s *Scheduler) releaseRun(k job.Key) {
	s.rmu.Lock()
	n := s.running[k] - 1
	var items []parked
	if n <= 0 {
		delete(s.running, k)
		items = s.parked[k]
		delete(s.parked, k)
	} else {
		s.running[k] = n
	}
	s.rmu.Unlock()
	s.releaseParked(items)
}

func (s *Scheduler) onJobDone(ec *job.ExecutionContext, err error) {
	if errors.Is(err, engine.ErrDiscarded) {
		s.stats.discarded.Add(1)
	}
	s.releaseRun(ec.Job.Key)
}

func (s *Scheduler) submit(ctx context.Context, ec *job.ExecutionContext) error {
	k := ec.Job.Key
	err := s.engine.Submit(ctx, engine.Task{
		Exec:   ec,
		// A job deleted while its fire waited for a worker must not run.
		Valid:  func() bool { return s.store.CheckExists(k) },
		OnDone: s.onJobDone,
	})
	if err != nil {
		s.releaseRun(ec.Job.Key)
		s.reportSubmitError(ec, err)
	}
	return err
}

func (s *Scheduler) newExec(t job.Trigger, d job.Detail, scheduled time.Time, manual bool, extra job.Data) *job.ExecutionContext {
	return &job.ExecutionContext{
		FireID:            s.newID(),
		Trigger:           t,
		Job:               d,
		ScheduledFireTime: scheduled,
		Data:              job.Merge(d.Data, t.Data, extra),
		Manual:            manual,
	}
}

// TriggerEvent is the Data of trigger.* events.
type TriggerEvent struct {
	Trigger   job.TriggerKey `json:"trigger"`
	Job       job.Key        `json:"job"`
	Scheduled time.Time      `json:"scheduled"`
	State     string         `json:"state"`
	Error     string         `json:"error,omitempty"`
}

func (s *Scheduler) publish(typ string, t job.Trigger, scheduled time.Time, err error) {
	if s.bus == nil {
		return
	}
	ev := TriggerEvent{Trigger: t.Key, Job: t.JobKey, Scheduled: scheduled, State: t.State.String()}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), Data: ev})
}
