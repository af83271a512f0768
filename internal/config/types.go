package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings ("500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Engine    EngineConfig    `json:"engine"`
	HTTP      HTTPConfig      `json:"http"`
	Auth      AuthConfig      `json:"auth"`
	Storage   *StorageConfig  `json:"storage,omitempty"`

	// CronExpSettings maps a built-in job name to its cron expression.
	// Changes are applied to scheduled jobs on hot reload.
	CronExpSettings map[string]string `json:"cron_exp_settings,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts copies warn+ lines into a separate rate-limited file.
type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// SchedulerConfig controls trigger evaluation and lifecycle.
//
// Defaults (when omitted):
//   - timezone: local zone
//   - misfire_threshold: "60s"
//   - misfire_policy: "fire_now_once"
//   - wait_for_jobs_on_stop: true
//   - startup_delay: "2s"
type SchedulerConfig struct {
	Timezone          string `json:"timezone,omitempty"`
	MisfireThreshold  string `json:"misfire_threshold,omitempty"`
	MisfirePolicy     string `json:"misfire_policy,omitempty"`
	WaitForJobsOnStop *bool  `json:"wait_for_jobs_on_stop,omitempty"`
	StartupDelay      string `json:"startup_delay,omitempty"`
}

// EngineConfig controls the worker pool that runs job handlers.
//
// Defaults: workers 10, queue_size 0 (direct hand-off), default_timeout "0s"
// (none), history_size 200, retry_max 0.
type EngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
	RetryBase      string `json:"retry_base,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty"`
}

type HTTPConfig struct {
	// Enabled defaults to true.
	Enabled      *bool           `json:"enabled,omitempty"`
	Addr         string          `json:"addr,omitempty"` // default ":8080"
	ReadTimeout  string          `json:"read_timeout,omitempty"`
	WriteTimeout string          `json:"write_timeout,omitempty"`
	RequestID    bool            `json:"request_id,omitempty"`
	RateLimit    RateLimitConfig `json:"rate_limit"`
}

// RateLimitConfig limits requests per client IP on /api. Max 0 disables it.
type RateLimitConfig struct {
	Max    int    `json:"max,omitempty"`
	Window string `json:"window,omitempty"`
}

// AuthConfig holds the dashboard's basic-auth credentials.
type AuthConfig struct {
	Username string `json:"username,omitempty"` // default "admin"
	Password string `json:"password,omitempty"` // default "password"
}

// StorageConfig controls execution history persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/jobhost.db", "retention": "720h" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	// Retention hides history older than this; empty keeps everything.
	Retention string `json:"retention,omitempty"`
}

const (
	DefaultUsername = "admin"
	DefaultPassword = "password"
	DefaultAddr     = ":8080"
)

// Credentials returns the configured basic-auth pair with defaults applied.
func (a AuthConfig) Credentials() (user, pass string) {
	user, pass = a.Username, a.Password
	if user == "" {
		user = DefaultUsername
	}
	if pass == "" {
		pass = DefaultPassword
	}
	return user, pass
}

func (h HTTPConfig) IsEnabled() bool { return h.Enabled == nil || *h.Enabled }

func (s SchedulerConfig) WaitOnStop() bool { return s.WaitForJobsOnStop == nil || *s.WaitForJobsOnStop }
