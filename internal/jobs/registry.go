package jobs

import (
	"strings"
	"sync"

	"jobhost/internal/errors"
	"jobhost/internal/task/job"
	logx "jobhost/pkg/logx"
)

// DefaultCron applies to built-in jobs without a cron_exp_settings entry.
const DefaultCron = "0 1 * * *"

// Registry holds the jobs the bootstrap registers, in registration order.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]job.Job
	order []string
}

func NewRegistry() *Registry {
	return &Registry{byKey: map[string]job.Job{}}
}

// Builtin returns a registry of the shipped jobs, each wrapped in Base.
func Builtin(log logx.Logger) *Registry {
	r := NewRegistry()
	_ = r.Register(Wrap(NewExampleJob(log.With(logx.String("job", "ExampleJob"))), log))
	return r
}

// Register adds j under its descriptor name.
func (r *Registry) Register(j job.Job) error {
	if j == nil {
		return errors.InvalidArgumentf("job required")
	}
	name := strings.TrimSpace(j.Descriptor().Name)
	if name == "" {
		return errors.InvalidArgumentf("job name required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[name]; ok {
		return errors.Newf("job %q already registered", name)
	}
	r.byKey[name] = j
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) Get(name string) (job.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.byKey[strings.TrimSpace(name)]
	return j, ok
}

func (r *Registry) All() []job.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]job.Job, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.byKey[n])
	}
	return out
}

// CronFor returns the configured expression for name, or DefaultCron.
func CronFor(settings map[string]string, name string) string {
	if v := strings.TrimSpace(settings[name]); v != "" {
		return v
	}
	return DefaultCron
}
