package app

import (
	"context"
	"time"

	"jobhost/internal/jobs"
	"jobhost/internal/task/job"
	"jobhost/internal/task/scheduler"
	"jobhost/internal/task/trigger"
	logx "jobhost/pkg/logx"
)

// bootstrapper registers the built-in jobs on a fresh scheduler.
type bootstrapper struct {
	sched    *scheduler.Scheduler
	registry *jobs.Registry
	misfire  job.MisfirePolicy
	log      logx.Logger
}

// run waits delay, starts the scheduler if needed and registers the
// built-in jobs when the store holds none.
func (b bootstrapper) run(ctx context.Context, delay time.Duration, cronSettings func() map[string]string) {
	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
	if !b.sched.IsStarted() {
		if err := b.sched.Start(ctx); err != nil {
			b.log.Warn("bootstrap: scheduler start failed", logx.Err(err))
			return
		}
	}
	if existing := b.sched.ListJobKeys(""); len(existing) > 0 {
		b.log.Info("bootstrap: jobs already registered; skipping", logx.Int("jobs", len(existing)))
		return
	}
	n := b.register(cronSettings())
	b.log.Info("bootstrap complete", logx.Int("registered", n))
}

// register adds each built-in job as durable with a "{name}_trigger" cron
// trigger. A job whose trigger cannot be built is removed again; failures
// never stop the remaining jobs.
func (b bootstrapper) register(settings map[string]string) int {
	n := 0
	for _, j := range b.registry.All() {
		d := j.Descriptor().Normalize()
		k := d.Key()
		if err := b.sched.AddJob(j, nil, false); err != nil {
			b.log.Warn("bootstrap: add job failed", logx.String("job", k.String()), logx.Err(err))
			continue
		}
		spec := trigger.CronSpec(jobs.CronFor(settings, d.Name), b.sched.Location())
		spec.Misfire = b.misfire
		if _, err := b.sched.AddTrigger(k, spec); err != nil {
			b.log.Warn("bootstrap: schedule failed", logx.String("job", k.String()), logx.Err(err))
			_ = b.sched.DeleteJob(k)
			continue
		}
		n++
	}
	return n
}
