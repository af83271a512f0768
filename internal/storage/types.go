package storage

import (
	"time"

	"jobhost/internal/errors"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage. An empty Driver or "none" disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Retention   time.Duration // 0 keeps all history
}

// ExecutionRecord is one finished job execution.
type ExecutionRecord struct {
	FireID       string        `json:"fire_id"`
	JobName      string        `json:"job_name"`
	JobGroup     string        `json:"job_group"`
	TriggerName  string        `json:"trigger_name"`
	TriggerGroup string        `json:"trigger_group"`
	Manual       bool          `json:"manual"`
	Scheduled    time.Time     `json:"scheduled"`
	Started      time.Time     `json:"started"`
	Finished     time.Time     `json:"finished"`
	Duration     time.Duration `json:"duration"`
	Attempts     int           `json:"attempts"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
}
