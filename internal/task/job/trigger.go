package job

import (
	"strings"
	"time"
)

// TriggerState is the lifecycle state of a trigger in the store.
type TriggerState int

const (
	StateWaiting TriggerState = iota
	StatePaused
	StateBlocked
	StateComplete
	StateError
)

func (s TriggerState) String() string {
	switch s {
	case StateWaiting:
		return "Waiting"
	case StatePaused:
		return "Paused"
	case StateBlocked:
		return "Blocked"
	case StateComplete:
		return "Complete"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

func (s TriggerState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// MisfirePolicy decides what happens to a fire that was not processed in time.
type MisfirePolicy int

const (
	// MisfireFireNowOnce dispatches once immediately, then resumes the normal
	// schedule from now.
	MisfireFireNowOnce MisfirePolicy = iota
	// MisfireSkipToNext discards the missed fire and recomputes from now.
	MisfireSkipToNext
	// MisfireIgnore drops the missed fire without reporting it.
	MisfireIgnore
)

func (p MisfirePolicy) String() string {
	switch p {
	case MisfireFireNowOnce:
		return "fire_now_once"
	case MisfireSkipToNext:
		return "skip_to_next"
	case MisfireIgnore:
		return "ignore"
	default:
		return "unknown"
	}
}

func (p MisfirePolicy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// ParseMisfirePolicy accepts the String forms; empty selects fire_now_once.
func ParseMisfirePolicy(s string) (MisfirePolicy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fire_now_once", "fire-now-once", "firenow":
		return MisfireFireNowOnce, true
	case "skip_to_next", "skip-to-next", "skip":
		return MisfireSkipToNext, true
	case "ignore":
		return MisfireIgnore, true
	default:
		return 0, false
	}
}

// Schedule produces fire times. Implementations live in internal/task/trigger.
type Schedule interface {
	// FireTimeAfter returns the first fire time strictly after t.
	FireTimeAfter(t time.Time) (time.Time, bool)
	Kind() string
	String() string
}

// Trigger is a schedule bound to one job.
//
// A zero NextFireTime or PreviousFireTime means "none".
type Trigger struct {
	Key         TriggerKey
	JobKey      Key
	Description string
	Schedule    Schedule

	// StartAt and EndAt bound the fire times; zero means unbounded.
	StartAt time.Time
	EndAt   time.Time

	Misfire MisfirePolicy
	Data    Data

	State            TriggerState
	NextFireTime     time.Time
	PreviousFireTime time.Time
	TimesFired       int

	// Version is bumped by the store on every write.
	Version uint64
}

// Clone copies the trigger so callers never alias store-owned maps.
func (t Trigger) Clone() Trigger {
	t.Data = t.Data.Clone()
	return t
}
