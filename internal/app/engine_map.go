package app

import (
	"jobhost/internal/config"
	"jobhost/internal/task/engine"
)

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	if cfg == nil {
		return engine.Config{}, nil
	}
	e := cfg.Engine
	timeout, err := config.ParseDurationField("engine.default_timeout", e.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	base, err := config.ParseDurationField("engine.retry_base", e.RetryBase)
	if err != nil {
		return engine.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("engine.retry_max_delay", e.RetryMaxDelay)
	if err != nil {
		return engine.Config{}, err
	}
	// Zero values fall through to engine defaults.
	return engine.Config{
		Workers:        e.Workers,
		QueueSize:      e.QueueSize,
		DefaultTimeout: timeout,
		HistorySize:    e.HistorySize,
		RetryMax:       e.RetryMax,
		RetryBase:      base,
		RetryMaxDelay:  maxDelay,
	}, nil
}
