package scheduler

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"jobhost/internal/errors"
	"jobhost/internal/eventbus"
	rtsup "jobhost/internal/runtime/supervisor"
	"jobhost/internal/task/engine"
	"jobhost/internal/task/job"
	"jobhost/internal/task/store"
	"jobhost/internal/task/trigger"
	logx "jobhost/pkg/logx"
)

// State is the scheduler lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateStarted
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type Options struct {
	// Location is the default zone for cron triggers. Nil means time.Local.
	Location *time.Location
	// MisfireThreshold defaults to trigger.DefaultMisfireThreshold.
	MisfireThreshold time.Duration
	// DefaultMisfire is the policy ScheduleJob gives its cron trigger.
	DefaultMisfire job.MisfirePolicy

	Engine engine.Config
	Clock  clockwork.Clock
	Bus    eventbus.Bus
	Log    logx.Logger
	Store  *store.Store

	// IDFunc generates fire ids; uuid.NewString by default.
	IDFunc func() string
}

// Scheduler is the controller: lifecycle, job operations and the dispatch
// loop that feeds the task engine.
type Scheduler struct {
	loc            *time.Location
	threshold      time.Duration
	defaultMisfire job.MisfirePolicy
	clock          clockwork.Clock
	log            logx.Logger
	bus            eventbus.Bus
	store          *store.Store
	engine         *engine.Service
	newID          func() string

	// lifeMu serializes Start and Stop.
	lifeMu sync.Mutex
	state  atomic.Int32
	sup    atomic.Pointer[rtsup.Supervisor]

	// queue is owned by the loop goroutine.
	queue fireQueue
	wake  chan struct{}

	inMu     sync.Mutex
	inbox    []entry
	released []parked

	rmu     sync.Mutex
	running map[job.Key]int
	parked  map[job.Key][]parked

	stats loopStats

	enqMu       sync.Mutex
	lastEnqWarn map[job.Key]time.Time
}

func New(opts Options) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.MisfireThreshold <= 0 {
		opts.MisfireThreshold = trigger.DefaultMisfireThreshold
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Store == nil {
		opts.Store = store.New()
	}
	if opts.IDFunc == nil {
		opts.IDFunc = uuid.NewString
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.New()
	}
	log := opts.Log.With(logx.String("comp", "scheduler"))
	return &Scheduler{
		loc:            opts.Location,
		threshold:      opts.MisfireThreshold,
		defaultMisfire: opts.DefaultMisfire,
		clock:          opts.Clock,
		log:            log,
		bus:            opts.Bus,
		store:          opts.Store,
		engine:         engine.New(opts.Engine, opts.Log, opts.Bus, engine.WithClock(opts.Clock)),
		newID:          opts.IDFunc,
		wake:           make(chan struct{}, 1),
		running:        map[job.Key]int{},
		parked:         map[job.Key][]parked{},
		lastEnqWarn:    map[job.Key]time.Time{},
	}
}

func (s *Scheduler) State() State { return State(s.state.Load()) }

// IsStarted reports whether operations are accepted.
func (s *Scheduler) IsStarted() bool { return s.State() == StateStarted }

func (s *Scheduler) Location() *time.Location { return s.loc }

// Bus returns the event bus shared with the engine.
func (s *Scheduler) Bus() eventbus.Bus { return s.bus }

func (s *Scheduler) requireStarted() error {
	if s.State() != StateStarted {
		return ErrNotStarted
	}
	return nil
}

// Start launches the engine and the dispatch loop. Triggers already in the
// store are queued again; any that fell behind while stopped go through
// misfire handling. Start on a started scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.State() == StateStarted {
		return nil
	}
	s.state.Store(int32(StateStarting))

	if err := s.engine.Start(ctx); err != nil {
		s.state.Store(int32(StateStopped))
		s.log.Warn("scheduler start failed", logx.Err(err))
		return errors.Wrap(err, "start scheduler")
	}

	s.rmu.Lock()
	s.running = map[job.Key]int{}
	s.parked = map[job.Key][]parked{}
	s.rmu.Unlock()

	s.inMu.Lock()
	s.inbox = nil
	s.released = nil
	s.inMu.Unlock()
	s.queue.reset()

	for _, t := range s.store.ListTriggers() {
		if t.State == job.StateBlocked {
			t, _ = s.store.UpdateTrigger(t.Key, func(cur *job.Trigger) bool {
				cur.State = job.StateWaiting
				return true
			})
		}
		s.enqueue(t)
	}

	sup := rtsup.NewSupervisor(context.WithoutCancel(ctx),
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	sup.GoRestart("scheduler.loop", s.run, rtsup.WithPublishFirstError(true))
	s.sup.Store(sup)

	s.state.Store(int32(StateStarted))
	jobs, triggers := s.store.Len()
	s.log.Info("scheduler started",
		logx.String("timezone", s.loc.String()),
		logx.Int("jobs", jobs),
		logx.Int("triggers", triggers),
	)
	return nil
}

// Stop halts dispatching. With waitForJobs it blocks until running and
// queued executions finish (bounded by ctx); otherwise their contexts are
// canceled and Stop returns once the loop has exited.
func (s *Scheduler) Stop(ctx context.Context, waitForJobs bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.State() != StateStarted {
		return
	}
	s.state.Store(int32(StateStopping))

	sup := s.sup.Swap(nil)
	if sup != nil {
		sup.Cancel()
		if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("dispatch loop stop", logx.Err(err))
		}
	}
	s.engine.Stop(ctx, waitForJobs)

	s.state.Store(int32(StateStopped))
	s.log.Info("scheduler stopped", logx.Bool("waited", waitForJobs))
}

// AddJob stores a durable job with no trigger. It works in any state.
func (s *Scheduler) AddJob(j job.Job, data job.Data, replace bool) error {
	if j == nil {
		return errors.InvalidArgumentf("job required")
	}
	d := job.NewDetail(j, data)
	d.Durable = true
	if err := s.store.AddJob(d, replace); err != nil {
		return err
	}
	s.log.Info("job added", logx.String("job", d.Key.Name), logx.String("group", d.Key.Group))
	return nil
}

// ScheduleJob registers j with a cron trigger named "{name}_trigger". An
// existing job with the same key is left untouched and ErrDuplicateKey is
// returned.
func (s *Scheduler) ScheduleJob(j job.Job, cronExpression string, data job.Data, startNow bool) error {
	spec := trigger.CronSpec(cronExpression, s.loc)
	spec.StartNow = startNow
	spec.Misfire = s.defaultMisfire
	return s.ScheduleJobWithTrigger(j, spec, data)
}

// ScheduleJobWithTrigger is ScheduleJob with an explicit trigger spec.
func (s *Scheduler) ScheduleJobWithTrigger(j job.Job, spec trigger.Spec, data job.Data) error {
	if err := s.requireStarted(); err != nil {
		return err
	}
	if j == nil {
		return errors.InvalidArgumentf("job required")
	}
	d := job.NewDetail(j, data)
	t, err := spec.Build(d.Key, s.clock.Now(), s.loc)
	if err != nil {
		return errors.Wrapf(err, "schedule %s", d.Key)
	}
	stored, err := s.store.AddJobAndTrigger(d, t)
	if errors.Is(err, ErrDuplicateKey) {
		s.log.Warn("Job "+d.Key.Name+" in group "+d.Key.Group+" already exists. Skipping registration.",
			logx.String("job", d.Key.Name), logx.String("group", d.Key.Group))
		return errors.Wrapf(err, "schedule %s", d.Key)
	}
	if err != nil {
		return errors.Wrapf(err, "schedule %s", d.Key)
	}
	s.enqueue(stored)
	s.logScheduled(stored)
	return nil
}

// AddTrigger attaches another trigger to a stored job.
func (s *Scheduler) AddTrigger(jobKey job.Key, spec trigger.Spec) (job.Trigger, error) {
	if err := s.requireStarted(); err != nil {
		return job.Trigger{}, err
	}
	t, err := spec.Build(jobKey, s.clock.Now(), s.loc)
	if err != nil {
		return job.Trigger{}, errors.Wrapf(err, "trigger for %s", jobKey)
	}
	stored, err := s.store.AddTrigger(t)
	if err != nil {
		return job.Trigger{}, err
	}
	s.enqueue(stored)
	s.logScheduled(stored)
	return stored, nil
}

func (s *Scheduler) logScheduled(t job.Trigger) {
	s.log.Info("Job "+t.JobKey.Name+" in group "+t.JobKey.Group+" scheduled with "+t.Schedule.Kind()+": "+t.Schedule.String(),
		logx.String("trigger", t.Key.String()),
		logx.Time("next", t.NextFireTime),
	)
}

// UnscheduleTrigger removes one trigger. A non-durable job goes with its
// last trigger.
func (s *Scheduler) UnscheduleTrigger(k job.TriggerKey) error {
	if err := s.requireStarted(); err != nil {
		return err
	}
	removed, jobRemoved := s.store.RemoveTrigger(k)
	if !removed {
		return errors.Wrapf(ErrNotFound, "trigger %s", k)
	}
	s.log.Info("trigger unscheduled", logx.String("trigger", k.String()), logx.Bool("job_removed", jobRemoved))
	return nil
}

// RescheduleJob swaps the cron expression of the job's default trigger,
// keeping its misfire policy and pause state.
func (s *Scheduler) RescheduleJob(k job.Key, cronExpression string) error {
	if err := s.requireStarted(); err != nil {
		return err
	}
	tk := job.TriggerKeyFor(k)
	cur, ok := s.store.GetTrigger(tk)
	if !ok {
		return errors.Wrapf(ErrNotFound, "trigger %s", tk)
	}
	if cur.Schedule != nil && cur.Schedule.Kind() == "cron" && strings.TrimSpace(cronExpression) == cur.Schedule.String() {
		return nil
	}
	spec := trigger.Spec{Name: tk.Name, Group: tk.Group, Cron: cronExpression, Misfire: cur.Misfire, Data: cur.Data, EndAt: cur.EndAt}
	fresh, err := spec.Build(k, s.clock.Now(), s.loc)
	if err != nil {
		return errors.Wrapf(err, "reschedule %s", k)
	}
	updated, ok := s.store.UpdateTrigger(tk, func(t *job.Trigger) bool {
		t.Schedule = fresh.Schedule
		t.NextFireTime = fresh.NextFireTime
		t.StartAt = time.Time{}
		if t.State == job.StateComplete || t.State == job.StateBlocked {
			t.State = job.StateWaiting
		}
		return true
	})
	if !ok {
		return errors.Wrapf(ErrNotFound, "trigger %s", tk)
	}
	s.enqueue(updated)
	s.logScheduled(updated)
	return nil
}

// PauseJob stops every trigger of the job from firing.
func (s *Scheduler) PauseJob(k job.Key) error {
	if err := s.requireStarted(); err != nil {
		return err
	}
	if !s.store.CheckExists(k) {
		return errors.Wrapf(ErrNotFound, "pause %s", k)
	}
	for _, t := range s.store.TriggersForJob(k) {
		s.store.UpdateTrigger(t.Key, func(cur *job.Trigger) bool {
			if cur.State == job.StateComplete || cur.State == job.StatePaused {
				return false
			}
			cur.State = job.StatePaused
			return true
		})
	}
	s.log.Info("Job "+k.Name+" in group "+k.Group+" paused", logx.String("job", k.Name), logx.String("group", k.Group))
	return nil
}

// ResumeJob re-enables paused triggers. A trigger whose fire time passed
// while paused goes through its misfire policy right away.
func (s *Scheduler) ResumeJob(k job.Key) error {
	if err := s.requireStarted(); err != nil {
		return err
	}
	if !s.store.CheckExists(k) {
		return errors.Wrapf(ErrNotFound, "resume %s", k)
	}
	now := s.clock.Now()
	for _, t := range s.store.TriggersForJob(k) {
		updated, ok := s.store.UpdateTrigger(t.Key, func(cur *job.Trigger) bool {
			if cur.State != job.StatePaused {
				return false
			}
			cur.State = job.StateWaiting
			m := trigger.ResolveMisfire(cur, now, 0)
			if m.Misfired && !m.Dispatch {
				cur.NextFireTime = m.Next
				if !m.HasNext {
					cur.NextFireTime = time.Time{}
					cur.State = job.StateComplete
				}
			}
			return true
		})
		if ok {
			s.enqueue(updated)
		}
	}
	s.log.Info("Job "+k.Name+" in group "+k.Group+" resumed", logx.String("job", k.Name), logx.String("group", k.Group))
	return nil
}

// DeleteJob removes the job and its triggers. Fires already queued for it
// are dropped; running executions finish. An unknown key is logged and
// returned as ErrNotFound.
func (s *Scheduler) DeleteJob(k job.Key) error {
	if err := s.requireStarted(); err != nil {
		return err
	}
	triggers, ok := s.store.RemoveJob(k)
	if !ok {
		s.log.Warn("Job "+k.Name+" in group "+k.Group+" not found for deletion", logx.String("job", k.Name), logx.String("group", k.Group))
		return errors.Wrapf(ErrNotFound, "delete %s", k)
	}
	s.rmu.Lock()
	delete(s.parked, k)
	s.rmu.Unlock()
	s.log.Info("Job "+k.Name+" in group "+k.Group+" deleted", logx.Int("triggers", len(triggers)))
	return nil
}

// TriggerJob fires the job once now, outside its schedule. Trigger fire
// times are not touched. A non-concurrent job that is running gets the
// fire queued behind the current run.
func (s *Scheduler) TriggerJob(ctx context.Context, k job.Key, data job.Data) error {
	if err := s.requireStarted(); err != nil {
		return err
	}
	d, ok := s.store.GetJob(k)
	if !ok {
		return errors.Wrapf(ErrNotFound, "trigger %s", k)
	}
	id := s.newID()
	now := s.clock.Now()
	t := job.Trigger{
		Key:          job.NewTriggerKey("manual_"+id, k.Group),
		JobKey:       k,
		Description:  "manual fire",
		State:        job.StateComplete,
		NextFireTime: now,
	}
	ec := s.newExec(t, d, now, true, data)
	ec.FireID = id

	if !s.acquire(d, parked{exec: ec}) {
		s.log.Info("Job "+k.Name+" in group "+k.Group+" triggered manually, queued behind running execution")
		return nil
	}
	if err := s.submit(ctx, ec); err != nil {
		return errors.Wrapf(err, "trigger %s", k)
	}
	s.log.Info("Job "+k.Name+" in group "+k.Group+" triggered manually", logx.String("fire_id", id))
	return nil
}

// GetCurrentlyExecutingJobs returns the executions running right now.
func (s *Scheduler) GetCurrentlyExecutingJobs() []*job.ExecutionContext {
	return s.engine.Active()
}

func (s *Scheduler) GetJobDetail(k job.Key) (job.Detail, bool) { return s.store.GetJob(k) }

func (s *Scheduler) CheckExists(k job.Key) bool { return s.store.CheckExists(k) }

func (s *Scheduler) CheckTriggerExists(k job.TriggerKey) bool { return s.store.CheckTriggerExists(k) }

// ListJobKeys lists job keys, optionally limited to one group.
func (s *Scheduler) ListJobKeys(group string) []job.Key { return s.store.ListJobKeys(group) }

func (s *Scheduler) GetTriggersOfJob(k job.Key) []job.Trigger { return s.store.TriggersForJob(k) }

// History returns up to limit recent executions, newest last.
func (s *Scheduler) History(limit int) []engine.HistoryItem { return s.engine.History(limit) }
