package engine

import (
	"time"

	"jobhost/internal/task/job"
)

const (
	defaultWorkers     = 10
	defaultHistorySize = 200
)

// Config controls the executor. The app maps config.engine into it.
type Config struct {
	Workers int

	// QueueSize buffers submissions ahead of the workers. 0 hands every task
	// directly to an idle worker, so Submit blocks while all are busy.
	QueueSize int

	// DefaultTimeout bounds a single attempt when the task sets none.
	// 0 means attempts run until the handler returns.
	DefaultTimeout time.Duration

	HistorySize int

	// RetryMax is the default number of retries after a failed attempt.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize < 0 {
		c.QueueSize = 0
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	return c
}

// TaskOptions override the engine retry defaults for one task.
type TaskOptions struct {
	// RetryMax < 0 disables retries; 0 uses Config.RetryMax.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64
}

func (o TaskOptions) withDefaults(cfg Config) TaskOptions {
	switch {
	case o.RetryMax < 0:
		o.RetryMax = 0
	case o.RetryMax == 0:
		o.RetryMax = cfg.RetryMax
	}
	if o.RetryBase <= 0 {
		o.RetryBase = cfg.RetryBase
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = cfg.RetryMaxDelay
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 15 * time.Second
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = cfg.RetryJitter
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = 0.2
	}
	return o
}

// Task is one fire handed to the engine.
type Task struct {
	Exec    *job.ExecutionContext
	Timeout time.Duration
	Opt     TaskOptions

	// Valid is checked right before the handler runs. A false result
	// discards the fire without running it.
	Valid func() bool

	// OnDone runs once per accepted task: after the result is recorded, or
	// with ErrDiscarded or ErrStopped for fires that never ran. err is the
	// final handler error.
	OnDone func(ec *job.ExecutionContext, err error)
}

type HistoryItem struct {
	FireID     string        `json:"fire_id"`
	Job        string        `json:"job"`
	Trigger    string        `json:"trigger"`
	Manual     bool          `json:"manual"`
	Scheduled  time.Time     `json:"scheduled"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

// ExecutionEvent is published on the event bus for job lifecycle events.
type ExecutionEvent struct {
	FireID     string         `json:"fire_id"`
	Job        job.Key        `json:"job"`
	Trigger    job.TriggerKey `json:"trigger"`
	Manual     bool           `json:"manual"`
	Scheduled  time.Time      `json:"scheduled"`
	Started    time.Time      `json:"started"`
	QueueDelay time.Duration  `json:"queue_delay"`
	Duration   time.Duration  `json:"duration"`
	Attempts   int            `json:"attempts"`
	Error      string         `json:"error,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running        bool          `json:"running"`
	Workers        int           `json:"workers"`
	QueueLen       int           `json:"queue_len"`
	QueueCap       int           `json:"queue_cap"`
	InFlight       int           `json:"in_flight"`
	Pending        int           `json:"pending"`
	Completed      uint64        `json:"completed"`
	Failed         uint64        `json:"failed"`
	Panics         uint64        `json:"panics"`
	Discarded      uint64        `json:"discarded"`
	Abandoned      uint64        `json:"abandoned"`
	DefaultTimeout time.Duration `json:"default_timeout"`
	RetryMax       int           `json:"retry_max"`
	History        []HistoryItem `json:"history"`
}
