package scheduler

import (
	"context"
	"time"

	"jobhost/internal/errors"
	"jobhost/internal/task/engine"
	"jobhost/internal/task/job"
	logx "jobhost/pkg/logx"
)

const submitWarnThrottle = 5 * time.Second

func (s *Scheduler) reportSubmitError(ec *job.ExecutionContext, err error) {
	if err == nil {
		return
	}
	k := ec.Job.Key
	// Shutdown races are expected while stopping.
	if errors.IsAny(err, engine.ErrStopping, engine.ErrStopped, context.Canceled) {
		s.log.Debug("fire dropped during shutdown", logx.String("job", k.String()), logx.String("fire_id", ec.FireID), logx.Err(err))
		return
	}

	now := s.clock.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[k]
	if !last.IsZero() && now.Sub(last) < submitWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[k] = now
	s.enqMu.Unlock()

	s.log.Warn("failed to submit job execution", logx.String("job", k.String()), logx.String("fire_id", ec.FireID), logx.Err(err))
}
