package config

import (
	"strings"

	"jobhost/internal/errors"
	"jobhost/internal/task/job"
	"jobhost/internal/task/trigger"
)

// Validate checks field values that decoding alone cannot: durations,
// zones, bounds, drivers and cron expressions.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.InvalidArgumentf("config is nil")
	}

	loc, err := LoadLocation("scheduler.timezone", cfg.Scheduler.Timezone)
	if err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.misfire_threshold", cfg.Scheduler.MisfireThreshold); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.startup_delay", cfg.Scheduler.StartupDelay); err != nil {
		return err
	}
	if p := strings.TrimSpace(cfg.Scheduler.MisfirePolicy); p != "" {
		if _, ok := job.ParseMisfirePolicy(p); !ok {
			return errors.InvalidArgumentf("scheduler.misfire_policy: unknown policy %q", p)
		}
	}

	e := cfg.Engine
	switch {
	case e.Workers < 0:
		return errors.InvalidArgumentf("engine.workers must be >= 0")
	case e.QueueSize < 0:
		return errors.InvalidArgumentf("engine.queue_size must be >= 0")
	case e.HistorySize < 0:
		return errors.InvalidArgumentf("engine.history_size must be >= 0")
	case e.RetryMax < 0:
		return errors.InvalidArgumentf("engine.retry_max must be >= 0")
	}
	for path, raw := range map[string]string{
		"engine.default_timeout": e.DefaultTimeout,
		"engine.retry_base":      e.RetryBase,
		"engine.retry_max_delay": e.RetryMaxDelay,
		"http.read_timeout":      cfg.HTTP.ReadTimeout,
		"http.write_timeout":     cfg.HTTP.WriteTimeout,
		"http.rate_limit.window": cfg.HTTP.RateLimit.Window,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	if cfg.HTTP.RateLimit.Max < 0 {
		return errors.InvalidArgumentf("http.rate_limit.max must be >= 0")
	}

	if sc := cfg.Storage; sc != nil {
		switch strings.ToLower(strings.TrimSpace(sc.Driver)) {
		case "", "none":
		case "file":
			if strings.TrimSpace(sc.Path) == "" {
				return errors.InvalidArgumentf("storage.path is required when storage.driver=file")
			}
		case "sqlite", "sqlite3":
			if strings.TrimSpace(sc.Path) == "" {
				return errors.InvalidArgumentf("storage.path is required when storage.driver=sqlite")
			}
			if _, err := ParseDurationField("storage.busy_timeout", sc.BusyTimeout); err != nil {
				return err
			}
		default:
			return errors.InvalidArgumentf("unknown storage.driver: %s", sc.Driver)
		}
	}

	for name, expr := range cfg.CronExpSettings {
		if strings.TrimSpace(expr) == "" {
			continue
		}
		if _, err := trigger.ParseCron(expr, loc); err != nil {
			return errors.Wrapf(err, "cron_exp_settings.%s", name)
		}
	}
	return nil
}
