package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"jobhost/internal/errors"
	"jobhost/internal/eventbus"
	rtsup "jobhost/internal/runtime/supervisor"
	"jobhost/internal/task/job"
	logx "jobhost/pkg/logx"
)

// Service is a bounded worker pool for job executions.
//
// Submit never drops a task: it blocks until a worker (or queue slot) is
// free, the caller's context ends, or the engine stops.
type Service struct {
	mu    sync.Mutex
	cfg   Config
	log   logx.Logger
	bus   eventbus.Bus
	clock clockwork.Clock

	q        chan queuedTask
	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}
	pending  *inflight

	amu    sync.Mutex
	active map[string]*job.ExecutionContext

	hmu     sync.Mutex
	history []HistoryItem

	completed atomic.Uint64
	failed    atomic.Uint64
	panics    atomic.Uint64
	discarded atomic.Uint64
	abandoned atomic.Uint64
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
	timeout    time.Duration
	opt        TaskOptions
	pending    *inflight
}

type Option func(*Service)

// WithClock replaces the wall clock, for tests.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:    cfg.withDefaults(),
		log:    log,
		bus:    bus,
		clock:  clockwork.NewRealClock(),
		active: make(map[string]*job.ExecutionContext),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Running reports whether workers are up and accepting tasks.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh != nil && s.stopDone == nil
}

// Start launches the workers. It is idempotent; a Start racing a Stop waits
// for the stop to finish first and fails if ctx ends before that.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh != nil {
		done := s.stopDone
		s.mu.Unlock()
		if done == nil {
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "task engine: previous stop still running")
		}
		s.mu.Lock()
		if s.stopCh != nil {
			running := s.stopDone == nil
			s.mu.Unlock()
			if running {
				return nil
			}
			return ErrStopping
		}
	}

	cfg := s.cfg
	s.q = make(chan queuedTask, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.stopDone = nil
	s.pending = &inflight{}
	s.sup = rtsup.NewSupervisor(context.WithoutCancel(ctx),
		rtsup.WithLogger(s.log.With(logx.String("comp", "engine"))),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	queue := s.q
	s.mu.Unlock()

	for i := 0; i < cfg.Workers; i++ {
		idx := i
		sup.GoRestart(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
			s.worker(c, queue, idx)
			if c.Err() != nil {
				return c.Err()
			}
			return ErrStopped
		}, rtsup.WithPublishFirstError(true))
	}

	s.log.Info("task engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cap(queue)))
	return nil
}

// Stop closes submission. With wait, queued and running tasks finish first
// (bounded by ctx); without it, handler contexts are canceled and queued
// tasks are abandoned.
func (s *Service) Stop(ctx context.Context, wait bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup := s.sup
	pending := s.pending
	queue := s.q
	s.mu.Unlock()

	if wait {
		if err := pending.wait(ctx); err != nil {
			s.log.Warn("task engine drain timed out", logx.Int("pending", pending.count()), logx.Err(err))
		}
	}
	sup.Cancel()

	go func() {
		_ = sup.Wait(context.Background())
		s.abandon(queue)
		s.mu.Lock()
		s.q = nil
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		close(done)
	}()

	if !wait {
		s.log.Info("task engine stopped without waiting", logx.Int("pending", pending.count()))
		return
	}
	select {
	case <-done:
		s.log.Info("task engine stopped")
	case <-ctx.Done():
		s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
	}
}

// Submit hands a task to the pool, blocking while the pool is saturated.
func (s *Service) Submit(ctx context.Context, t Task) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if t.Exec == nil || t.Exec.Job.Job == nil {
		return ErrNoJob
	}

	s.mu.Lock()
	cfg := s.cfg
	q := s.q
	stopCh := s.stopCh
	stopping := s.stopDone != nil
	pending := s.pending
	if q != nil && !stopping {
		pending.add()
	}
	s.mu.Unlock()

	if q == nil || stopCh == nil {
		return ErrStopped
	}
	if stopping {
		return ErrStopping
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	qt := queuedTask{task: t, enqueuedAt: s.clock.Now(), timeout: timeout, opt: t.Opt.withDefaults(cfg), pending: pending}

	select {
	case q <- qt:
		return nil
	case <-ctx.Done():
		pending.done()
		return ctx.Err()
	case <-stopCh:
		pending.done()
		return ErrStopping
	}
}

// Wait blocks until every submitted task has finished or ctx ends.
func (s *Service) Wait(ctx context.Context) error {
	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()
	if pending == nil {
		return nil
	}
	return pending.wait(ctx)
}

// Active returns the executions currently running, oldest first.
func (s *Service) Active() []*job.ExecutionContext {
	s.amu.Lock()
	out := make([]*job.ExecutionContext, 0, len(s.active))
	for _, ec := range s.active {
		out = append(out, ec)
	}
	s.amu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FireTime.Equal(out[j].FireTime) {
			return out[i].FireTime.Before(out[j].FireTime)
		}
		return out[i].FireID < out[j].FireID
	})
	return out
}

// History returns up to limit recent executions, newest last.
func (s *Service) History(limit int) []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	h := s.history
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]HistoryItem, len(h))
	copy(out, h)
	return out
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	q := s.q
	running := s.stopCh != nil && s.stopDone == nil
	pending := s.pending
	s.mu.Unlock()

	snap := Snapshot{
		Running:        running,
		Workers:        cfg.Workers,
		Completed:      s.completed.Load(),
		Failed:         s.failed.Load(),
		Panics:         s.panics.Load(),
		Discarded:      s.discarded.Load(),
		Abandoned:      s.abandoned.Load(),
		DefaultTimeout: cfg.DefaultTimeout,
		RetryMax:       cfg.RetryMax,
		History:        s.History(0),
	}
	if q != nil {
		snap.QueueLen = len(q)
		snap.QueueCap = cap(q)
	}
	if pending != nil {
		snap.Pending = pending.count()
	}
	s.amu.Lock()
	snap.InFlight = len(s.active)
	s.amu.Unlock()
	return snap
}

// abandon settles tasks left in the queue once the workers are gone.
func (s *Service) abandon(queue chan queuedTask) {
	for {
		select {
		case qt := <-queue:
			s.abandonOne(qt)
		default:
			return
		}
	}
}

func (s *Service) abandonOne(qt queuedTask) {
	defer qt.pending.done()
	s.abandoned.Add(1)
	ec := qt.task.Exec
	log := s.log.With(logx.String("job", ec.Job.Key.String()), logx.String("fire_id", ec.FireID))
	log.Warn("queued fire abandoned at stop", logx.Time("scheduled", ec.ScheduledFireTime))
	if qt.task.OnDone != nil {
		s.callDone(qt.task.OnDone, ec, ErrStopped, log)
	}
}

func (s *Service) record(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if size := s.cfg.HistorySize; len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}

// inflight counts submitted-but-unfinished tasks; idle is closed whenever
// the count drops to zero.
type inflight struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func (f *inflight) add() {
	f.mu.Lock()
	if f.n == 0 {
		f.idle = make(chan struct{})
	}
	f.n++
	f.mu.Unlock()
}

func (f *inflight) done() {
	f.mu.Lock()
	if f.n > 0 {
		f.n--
		if f.n == 0 {
			close(f.idle)
		}
	}
	f.mu.Unlock()
}

func (f *inflight) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

func (f *inflight) wait(ctx context.Context) error {
	f.mu.Lock()
	if f.n == 0 {
		f.mu.Unlock()
		return nil
	}
	idle := f.idle
	f.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
