package config

import (
	"reflect"
	"sort"
	"strings"

	logx "jobhost/pkg/logx"
)

// SummarizeConfigChange returns the changed section names, structured
// fields safe to log (credentials are reduced to "changed" flags) and the
// job names whose cron expression changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alerts_enabled", newCfg.Logging.Alerts.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.misfire_threshold", strings.TrimSpace(newCfg.Scheduler.MisfireThreshold)),
			logx.String("scheduler.misfire_policy", strings.TrimSpace(newCfg.Scheduler.MisfirePolicy)),
		)
	}

	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Int("engine.workers", newCfg.Engine.Workers),
			logx.Int("engine.queue_size", newCfg.Engine.QueueSize),
			logx.String("engine.default_timeout", strings.TrimSpace(newCfg.Engine.DefaultTimeout)),
			logx.Int("engine.retry_max", newCfg.Engine.RetryMax),
		)
	}

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.IsEnabled()),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Int("http.rate_limit.max", newCfg.HTTP.RateLimit.Max),
		)
	}

	if oldCfg.Auth != newCfg.Auth {
		changed = append(changed, "auth")
		attrs = append(attrs,
			logx.Bool("auth.username_changed", oldCfg.Auth.Username != newCfg.Auth.Username),
			logx.Bool("auth.password_changed", oldCfg.Auth.Password != newCfg.Auth.Password),
		)
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if strings.TrimSpace(oS.Driver) != strings.TrimSpace(nS.Driver) ||
		strings.TrimSpace(oS.Path) != strings.TrimSpace(nS.Path) ||
		strings.TrimSpace(oS.BusyTimeout) != strings.TrimSpace(nS.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	cronChanged := diffCron(oldCfg.CronExpSettings, newCfg.CronExpSettings)
	if len(cronChanged) > 0 {
		changed = append(changed, "cron_exp_settings")
		attrs = append(attrs, logx.Int("cron_exp_settings.changed_count", len(cronChanged)))
	}

	sort.Strings(changed)
	return changed, attrs, cronChanged
}

func diffCron(oldM, newM map[string]string) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		if strings.TrimSpace(oldM[name]) != strings.TrimSpace(newM[name]) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// RestartRequired reports the changed sections that only take effect after
// a restart.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "engine", "http", "storage", "scheduler":
			out = append(out, s)
		}
	}
	return out
}
