package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobhost/internal/errors"
)

const sampleJSON = `{
  "logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}, "alerts": {"enabled": false}},
  "scheduler": {"timezone": "UTC", "misfire_threshold": "30s", "misfire_policy": "skip_to_next"},
  "engine": {"workers": 4},
  "http": {"addr": ":9090", "rate_limit": {"max": 10, "window": "1m"}},
  "auth": {"username": "ops"},
  "cron_exp_settings": {"ExampleJob": "0 1 * * *"}
}`

func TestDecodeJSON(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("config.json", []byte(sampleJSON))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, "0 1 * * *", cfg.CronExpSettings["ExampleJob"])
	assert.True(t, cfg.HTTP.IsEnabled())
	assert.True(t, cfg.Scheduler.WaitOnStop())

	user, pass := cfg.Auth.Credentials()
	assert.Equal(t, "ops", user)
	assert.Equal(t, DefaultPassword, pass)
	require.NoError(t, Validate(cfg))
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	raw := `
engine:
  workers: 3
cron_exp_settings:
  ExampleJob: "*/5 * * * *"
storage:
  driver: sqlite
  path: ./data/jobs.db
`
	cfg, err := Decode("config.yaml", []byte(raw))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Engine.Workers)
	require.NotNil(t, cfg.Storage)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	require.NoError(t, Validate(cfg))
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	_, err := Decode("c.json", []byte(`{"engine": {"wrokers": 2}}`))
	assert.Error(t, err)

	_, err = Decode("c.json", []byte(`{} {}`))
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()
	cases := map[string]Config{
		"timezone":  {Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"}},
		"threshold": {Scheduler: SchedulerConfig{MisfireThreshold: "soon"}},
		"policy":    {Scheduler: SchedulerConfig{MisfirePolicy: "sometimes"}},
		"workers":   {Engine: EngineConfig{Workers: -1}},
		"timeout":   {Engine: EngineConfig{DefaultTimeout: "-1s"}},
		"driver":    {Storage: &StorageConfig{Driver: "mongo"}},
		"sqlite":    {Storage: &StorageConfig{Driver: "sqlite"}},
		"cron":      {CronExpSettings: map[string]string{"ExampleJob": "61 * * * *"}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			err := Validate(&cfg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidArgument), "got %v", err)
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)

	d, err = ParseDurationOrDefault("x", "150ms", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 150*time.Millisecond, d)

	_, err = ParseDurationOrDefault("x", "ten", time.Second)
	assert.Error(t, err)
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Auth:            AuthConfig{Password: "a"},
		CronExpSettings: map[string]string{"ExampleJob": "0 1 * * *"},
	}
	newCfg := &Config{
		Auth:            AuthConfig{Password: "b"},
		Engine:          EngineConfig{Workers: 3},
		CronExpSettings: map[string]string{"ExampleJob": "0 2 * * *", "Other": "* * * * *"},
	}

	sections, attrs, cron := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"auth", "cron_exp_settings", "engine"}, sections)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"ExampleJob", "Other"}, cron)
	assert.Equal(t, []string{"engine"}, RestartRequired(sections))

	sections, _, cron = SummarizeConfigChange(newCfg, newCfg)
	assert.Empty(t, sections)
	assert.Empty(t, cron)
}

func TestWatchPublishesReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"engine": {"workers": 1}}`), 0o600))

	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Rewrite until the watcher is up and picks a change.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-sub:
			assert.Equal(t, 2, cfg.Engine.Workers)
			assert.Equal(t, 2, m.Get().Engine.Workers)
			return
		case <-tick.C:
			require.NoError(t, os.WriteFile(path, []byte(`{"engine": {"workers": 2}}`), 0o600))
		case <-deadline:
			t.Fatal("no reload published")
		}
	}
}
