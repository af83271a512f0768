package job

import (
	"sync"
	"time"
)

// ExecutionContext describes one fire of a job. The scheduler builds it
// before dispatch; the handler may record a result value during Execute.
type ExecutionContext struct {
	FireID            string
	Trigger           Trigger
	Job               Detail
	ScheduledFireTime time.Time
	FireTime          time.Time

	// Data is job data overlaid with trigger data and any manual data.
	Data Data

	// Manual is set for fires created by Scheduler.TriggerJob.
	Manual bool

	mu     sync.Mutex
	result Result
}

// Result is the outcome slot of an execution.
type Result struct {
	Done     bool          `json:"done"`
	Success  bool          `json:"success"`
	Value    any           `json:"value,omitempty"`
	Error    string        `json:"error,omitempty"`
	Attempts int           `json:"attempts"`
	Finished time.Time     `json:"finished"`
	Duration time.Duration `json:"duration"`
}

// SetValue stores a handler-defined result value.
func (ec *ExecutionContext) SetValue(v any) {
	ec.mu.Lock()
	ec.result.Value = v
	ec.mu.Unlock()
}

// Complete records the final outcome. Only the executor calls it.
func (ec *ExecutionContext) Complete(err error, attempts int, finished time.Time) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.result.Done = true
	ec.result.Success = err == nil
	ec.result.Attempts = attempts
	ec.result.Finished = finished
	if !ec.FireTime.IsZero() {
		ec.result.Duration = finished.Sub(ec.FireTime)
	}
	if err != nil {
		ec.result.Error = err.Error()
	} else {
		ec.result.Error = ""
	}
}

func (ec *ExecutionContext) Result() Result {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.result
}

// Info is a lock-free copy of the identifying parts of an execution.
type Info struct {
	FireID            string     `json:"fire_id"`
	Job               Key        `json:"job"`
	Trigger           TriggerKey `json:"trigger"`
	ScheduledFireTime time.Time  `json:"scheduled_fire_time"`
	FireTime          time.Time  `json:"fire_time"`
	Manual            bool       `json:"manual"`
	Result            Result     `json:"result"`
}

func (ec *ExecutionContext) Info() Info {
	return Info{
		FireID:            ec.FireID,
		Job:               ec.Job.Key,
		Trigger:           ec.Trigger.Key,
		ScheduledFireTime: ec.ScheduledFireTime,
		FireTime:          ec.FireTime,
		Manual:            ec.Manual,
		Result:            ec.Result(),
	}
}
