package app

import (
	"time"

	"jobhost/internal/config"
	"jobhost/internal/errors"
	"jobhost/internal/task/job"
	"jobhost/internal/task/scheduler"
	"jobhost/internal/task/trigger"
)

const defaultStartupDelay = 2 * time.Second

// schedulerSettings are the scheduler.* values resolved from config.
type schedulerSettings struct {
	Location     *time.Location
	Threshold    time.Duration
	Misfire      job.MisfirePolicy
	WaitOnStop   bool
	StartupDelay time.Duration
}

func mapSchedulerSettings(cfg *config.Config) (schedulerSettings, error) {
	var sc config.SchedulerConfig
	if cfg != nil {
		sc = cfg.Scheduler
	}
	loc, err := config.LoadLocation("scheduler.timezone", sc.Timezone)
	if err != nil {
		return schedulerSettings{}, err
	}
	threshold, err := config.ParseDurationOrDefault("scheduler.misfire_threshold", sc.MisfireThreshold, trigger.DefaultMisfireThreshold)
	if err != nil {
		return schedulerSettings{}, err
	}
	delay, err := config.ParseDurationOrDefault("scheduler.startup_delay", sc.StartupDelay, defaultStartupDelay)
	if err != nil {
		return schedulerSettings{}, err
	}
	policy, ok := job.ParseMisfirePolicy(sc.MisfirePolicy)
	if !ok {
		return schedulerSettings{}, errors.InvalidArgumentf("scheduler.misfire_policy: unknown policy %q", sc.MisfirePolicy)
	}
	return schedulerSettings{
		Location:     loc,
		Threshold:    threshold,
		Misfire:      policy,
		WaitOnStop:   sc.WaitOnStop(),
		StartupDelay: delay,
	}, nil
}

func mapSchedulerOptions(cfg *config.Config) (scheduler.Options, schedulerSettings, error) {
	ss, err := mapSchedulerSettings(cfg)
	if err != nil {
		return scheduler.Options{}, ss, err
	}
	eng, err := mapEngineConfig(cfg)
	if err != nil {
		return scheduler.Options{}, ss, err
	}
	return scheduler.Options{
		Location:         ss.Location,
		MisfireThreshold: ss.Threshold,
		DefaultMisfire:   ss.Misfire,
		Engine:           eng,
	}, ss, nil
}
