package engine

import (
	"context"
	"math/rand"
	"time"

	"jobhost/internal/errors"
	"jobhost/internal/eventbus"
	"jobhost/internal/task/job"
	logx "jobhost/pkg/logx"
)

func (s *Service) worker(ctx context.Context, queue chan queuedTask, idx int) {
	// Per-worker RNG: avoids global lock contention when many tasks retry concurrently.
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ (int64(idx) << 32)))

	for {
		// A canceled context wins over queued work.
		select {
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case qt := <-queue:
			if ctx.Err() != nil {
				s.abandonOne(qt)
				return
			}
			s.execOne(ctx, qt, rng)
		}
	}
}

func (s *Service) execOne(ctx context.Context, qt queuedTask, rng *rand.Rand) {
	defer qt.pending.done()

	ec := qt.task.Exec
	if qt.task.Valid != nil && !qt.task.Valid() {
		s.discarded.Add(1)
		log := s.log.With(logx.String("job", ec.Job.Key.String()), logx.String("fire_id", ec.FireID))
		log.Info("fire discarded before run", logx.Time("scheduled", ec.ScheduledFireTime))
		if qt.task.OnDone != nil {
			s.callDone(qt.task.OnDone, ec, ErrDiscarded, log)
		}
		return
	}

	start := s.clock.Now()
	ec.FireTime = start
	queueDelay := start.Sub(qt.enqueuedAt)
	if queueDelay < 0 {
		queueDelay = 0
	}

	log := s.log.With(
		logx.String("job", ec.Job.Key.Name),
		logx.String("group", ec.Job.Key.Group),
		logx.String("trigger", ec.Trigger.Key.String()),
		logx.String("fire_id", ec.FireID),
	)

	s.amu.Lock()
	s.active[ec.FireID] = ec
	s.amu.Unlock()

	s.publish(eventbus.JobStarted, ec, start, queueDelay, 0, 0, "")
	log.Debug("job started", logx.Duration("queue_delay", queueDelay), logx.Bool("manual", ec.Manual))

	attempts, err := s.runAttempts(ctx, qt, rng, log)

	finish := s.clock.Now()
	dur := finish.Sub(start)
	var runErr error
	if err != nil {
		runErr = &HandlerExecutionError{Job: ec.Job.Key, Trigger: ec.Trigger.Key, Err: err}
	}
	ec.Complete(runErr, attempts, finish)

	s.amu.Lock()
	delete(s.active, ec.FireID)
	s.amu.Unlock()

	item := HistoryItem{
		FireID:     ec.FireID,
		Job:        ec.Job.Key.String(),
		Trigger:    ec.Trigger.Key.String(),
		Manual:     ec.Manual,
		Scheduled:  ec.ScheduledFireTime,
		Started:    start,
		QueueDelay: queueDelay,
		Duration:   dur,
		Attempts:   attempts,
	}
	if runErr != nil {
		item.Error = runErr.Error()
		s.failed.Add(1)
		log.Error("job failed", logx.Err(runErr), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		s.publish(eventbus.JobFailed, ec, start, queueDelay, dur, attempts, item.Error)
	} else {
		s.completed.Add(1)
		log.Debug("job finished", logx.Duration("dur", dur), logx.Int("attempts", attempts))
		s.publish(eventbus.JobFinished, ec, start, queueDelay, dur, attempts, "")
	}
	s.record(item)

	if qt.task.OnDone != nil {
		s.callDone(qt.task.OnDone, ec, runErr, log)
	}
}

// runAttempts executes the handler with retries. Panics become errors so
// one bad job can't kill a worker.
func (s *Service) runAttempts(ctx context.Context, qt queuedTask, rng *rand.Rand, log logx.Logger) (int, error) {
	ec := qt.task.Exec
	maxAttempts := 1 + qt.opt.RetryMax

	var err error
	attempts := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt

		runCtx := ctx
		var cancel context.CancelFunc
		if qt.timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
		}
		err = s.invoke(runCtx, ec, log)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return attempts, nil
		}
		var nr noRetryError
		if errors.As(err, &nr) {
			return attempts, nr.err
		}
		if attempt >= maxAttempts || ctx.Err() != nil {
			break
		}

		delay := backoffDelayWithHint(qt.opt, attempt, err, rng)
		log.Debug("job retry scheduled", logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		select {
		case <-ctx.Done():
			return attempts, errors.Wrap(ctx.Err(), "retry canceled")
		case <-s.clock.After(delay):
		}
	}
	return attempts, err
}

func (s *Service) invoke(ctx context.Context, ec *job.ExecutionContext, log logx.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := logx.StackTrace(3, 32)
			s.panics.Add(1)
			err = &PanicError{Value: r, Stack: stack}
			log.Error("job panicked", logx.Any("panic", r), logx.Stack(stack))
		}
	}()
	return ec.Job.Job.Execute(ctx, ec)
}

func (s *Service) callDone(fn func(*job.ExecutionContext, error), ec *job.ExecutionContext, err error, log logx.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("completion callback panicked", logx.Any("panic", r), logx.Stack(logx.StackTrace(3, 32)))
		}
	}()
	fn(ec, err)
}

func (s *Service) publish(typ string, ec *job.ExecutionContext, start time.Time, queueDelay, dur time.Duration, attempts int, errMsg string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), Data: ExecutionEvent{
		FireID:     ec.FireID,
		Job:        ec.Job.Key,
		Trigger:    ec.Trigger.Key,
		Manual:     ec.Manual,
		Scheduled:  ec.ScheduledFireTime,
		Started:    start,
		QueueDelay: queueDelay,
		Duration:   dur,
		Attempts:   attempts,
		Error:      errMsg,
	}})
}

func backoffDelayWithHint(opt TaskOptions, retry int, err error, rng *rand.Rand) time.Duration {
	var ra RetryAfterError
	if err != nil && errors.As(err, &ra) {
		d := ra.RetryAfter()
		if d > opt.RetryMaxDelay {
			d = opt.RetryMaxDelay
		}
		return jitter(d, opt, rng)
	}
	return backoffDelay(opt, retry, rng)
}

func backoffDelay(opt TaskOptions, retry int, rng *rand.Rand) time.Duration {
	d := opt.RetryBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d > opt.RetryMaxDelay {
			d = opt.RetryMaxDelay
			break
		}
	}
	return jitter(d, opt, rng)
}

func jitter(d time.Duration, opt TaskOptions, rng *rand.Rand) time.Duration {
	if opt.RetryJitter > 0 && d > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * opt.RetryJitter
		d = time.Duration(float64(d) * (1 + r))
	}
	if d < 0 {
		d = 0
	}
	if d > opt.RetryMaxDelay {
		d = opt.RetryMaxDelay
	}
	return d
}
