package jobs

import (
	"context"

	"jobhost/internal/task/job"
	logx "jobhost/pkg/logx"
)

// Base wraps a job with start, success and failure logging. The error is
// returned unchanged so the engine still records it.
type Base struct {
	job.Job
	log logx.Logger
}

func Wrap(j job.Job, log logx.Logger) *Base {
	return &Base{Job: j, log: log}
}

// Unwrap returns the wrapped job.
func (b *Base) Unwrap() job.Job { return b.Job }

func (b *Base) Execute(ctx context.Context, ec *job.ExecutionContext) error {
	k := ec.Job.Key
	log := b.log.With(
		logx.String("job", k.Name),
		logx.String("group", k.Group),
		logx.String("trigger", ec.Trigger.Key.String()),
		logx.String("fire_id", ec.FireID),
	)
	log.Info("Executing job " + k.Name + " in group " + k.Group)
	if err := b.Job.Execute(ctx, ec); err != nil {
		log.Error("Error while executing job "+k.Name+" in group "+k.Group, logx.Err(err))
		return err
	}
	log.Info("Successfully executed job " + k.Name + " in group " + k.Group)
	return nil
}
