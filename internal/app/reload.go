package app

import (
	"strings"

	"jobhost/internal/config"
	"jobhost/internal/jobs"
	"jobhost/internal/task/scheduler"
	logx "jobhost/pkg/logx"
)

// applyCronSettings reschedules the built-in jobs whose cron expression
// changed. Jobs that were never registered are skipped.
func applyCronSettings(sched *scheduler.Scheduler, registry *jobs.Registry, settings map[string]string, changed []string, log logx.Logger) {
	for _, name := range changed {
		j, ok := registry.Get(name)
		if !ok {
			log.Debug("cron setting for unknown job ignored", logx.String("job", name))
			continue
		}
		k := j.Descriptor().Normalize().Key()
		if !sched.CheckExists(k) {
			continue
		}
		expr := jobs.CronFor(settings, name)
		if err := sched.RescheduleJob(k, expr); err != nil {
			log.Warn("reschedule from config failed", logx.String("job", k.String()), logx.String("cron", expr), logx.Err(err))
			continue
		}
		log.Info("job rescheduled from config", logx.String("job", k.String()), logx.String("cron", expr))
	}
}

// applyConfig applies the hot-reloadable parts of newCfg.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, cronChanged := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLoggingConfig(newCfg.Logging))
		case "auth":
			// Credentials are read per request.
			a.log.Info("dashboard credentials updated")
		}
	}
	if len(cronChanged) > 0 {
		applyCronSettings(a.sched, a.jobs, newCfg.CronExpSettings, cronChanged, a.log)
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
