package jobs

import (
	"context"
	"sort"

	"jobhost/internal/task/job"
	logx "jobhost/pkg/logx"
)

// ExampleJob is the built-in demo job. It logs its merged data.
type ExampleJob struct {
	log logx.Logger
}

func NewExampleJob(log logx.Logger) *ExampleJob { return &ExampleJob{log: log} }

func (j *ExampleJob) Descriptor() job.Descriptor {
	return job.Descriptor{Name: "ExampleJob", Group: "ExampleJob", Description: "Example job"}
}

func (j *ExampleJob) Execute(ctx context.Context, ec *job.ExecutionContext) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	keys := make([]string, 0, len(ec.Data))
	for k := range ec.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	j.log.Info("example job ran",
		logx.Bool("manual", ec.Manual),
		logx.Time("scheduled", ec.ScheduledFireTime),
		logx.Any("data_keys", keys),
	)
	ec.SetValue(len(keys))
	return nil
}
