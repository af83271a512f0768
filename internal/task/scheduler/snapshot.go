package scheduler

import (
	"time"

	"jobhost/internal/eventbus"
	rtsup "jobhost/internal/runtime/supervisor"
	"jobhost/internal/task/engine"
	"jobhost/internal/task/job"
)

type JobInfo struct {
	Name               string   `json:"name"`
	Group              string   `json:"group"`
	Description        string   `json:"description"`
	Durable            bool     `json:"durable"`
	DisallowConcurrent bool     `json:"disallow_concurrent"`
	Data               job.Data `json:"data,omitempty"`
}

type TriggerInfo struct {
	Name       string    `json:"name"`
	Group      string    `json:"group"`
	Job        job.Key   `json:"job"`
	Kind       string    `json:"kind"`
	Schedule   string    `json:"schedule"`
	State      string    `json:"state"`
	Misfire    string    `json:"misfire"`
	Next       time.Time `json:"next,omitempty"`
	Prev       time.Time `json:"prev,omitempty"`
	TimesFired int       `json:"times_fired"`
}

// Snapshot is a point-in-time view for dashboards.
type Snapshot struct {
	State            State           `json:"state"`
	Timezone         string          `json:"timezone"`
	MisfireThreshold time.Duration   `json:"misfire_threshold"`
	Now              time.Time       `json:"now"`
	Jobs             []JobInfo       `json:"jobs"`
	Triggers         []TriggerInfo   `json:"triggers"`
	Executing        []job.Info      `json:"executing"`
	Loop             LoopStats       `json:"loop"`
	Engine           engine.Snapshot `json:"engine"`
	Runtime          rtsup.Snapshot  `json:"runtime"`
	EventsDropped    uint64          `json:"events_dropped"`
}

func (s *Scheduler) Snapshot() Snapshot {
	out := Snapshot{
		State:            s.State(),
		Timezone:         s.loc.String(),
		MisfireThreshold: s.threshold,
		Now:              s.clock.Now(),
		Loop:             s.LoopStats(),
		Engine:           s.engine.Snapshot(),
		Runtime:          s.sup.Load().Snapshot(),
		EventsDropped:    eventbus.Dropped(s.bus),
	}

	jobs := s.store.ListJobs()
	out.Jobs = make([]JobInfo, 0, len(jobs))
	for _, d := range jobs {
		out.Jobs = append(out.Jobs, JobInfo{
			Name:               d.Key.Name,
			Group:              d.Key.Group,
			Description:        d.Description,
			Durable:            d.Durable,
			DisallowConcurrent: d.DisallowConcurrent,
			Data:               d.Data,
		})
	}

	triggers := s.store.ListTriggers()
	out.Triggers = make([]TriggerInfo, 0, len(triggers))
	for _, t := range triggers {
		ti := TriggerInfo{
			Name:       t.Key.Name,
			Group:      t.Key.Group,
			Job:        t.JobKey,
			State:      t.State.String(),
			Misfire:    t.Misfire.String(),
			Next:       t.NextFireTime,
			Prev:       t.PreviousFireTime,
			TimesFired: t.TimesFired,
		}
		if t.Schedule != nil {
			ti.Kind = t.Schedule.Kind()
			ti.Schedule = t.Schedule.String()
		}
		out.Triggers = append(out.Triggers, ti)
	}

	active := s.engine.Active()
	out.Executing = make([]job.Info, 0, len(active))
	for _, ec := range active {
		out.Executing = append(out.Executing, ec.Info())
	}
	return out
}

func (s *Scheduler) LoopStats() LoopStats {
	return LoopStats{
		Fired:     s.stats.fired.Load(),
		Misfired:  s.stats.misfired.Load(),
		Discarded: s.stats.discarded.Load(),
		Blocked:   s.stats.blocked.Load(),
		Pending:   int(s.stats.pending.Load()),
	}
}
