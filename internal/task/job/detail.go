package job

import (
	"context"
	"strings"
)

// Descriptor is the static metadata every job supplies about itself.
type Descriptor struct {
	Name        string
	Group       string
	Description string

	// DisallowConcurrent keeps at most one execution per job key in flight;
	// overlapping fires are blocked until the running one finishes.
	DisallowConcurrent bool
}

// Normalize applies the default group and description.
func (d Descriptor) Normalize() Descriptor {
	d.Name = strings.TrimSpace(d.Name)
	d.Group = strings.TrimSpace(d.Group)
	if d.Group == "" {
		d.Group = DefaultGroup
	}
	if strings.TrimSpace(d.Description) == "" {
		d.Description = "Job " + d.Name
	}
	return d
}

func (d Descriptor) Key() Key { return NewKey(d.Name, d.Group) }

// Job is a schedulable unit of work.
//
// Execute receives a context that is canceled when the scheduler shuts down
// without waiting for running jobs; handlers that run long should honor it.
type Job interface {
	Descriptor() Descriptor
	Execute(ctx context.Context, ec *ExecutionContext) error
}

// Func adapts a function into a Job with a fixed descriptor.
type Func struct {
	Desc Descriptor
	Fn   func(ctx context.Context, ec *ExecutionContext) error
}

func (f Func) Descriptor() Descriptor { return f.Desc }

func (f Func) Execute(ctx context.Context, ec *ExecutionContext) error {
	if f.Fn == nil {
		return nil
	}
	return f.Fn(ctx, ec)
}

// Detail is a job definition as held by the store.
type Detail struct {
	Key                Key
	Description        string
	Durable            bool
	DisallowConcurrent bool
	Job                Job
	Data               Data
}

// NewDetail builds a Detail from the job's descriptor.
func NewDetail(j Job, data Data) Detail {
	d := j.Descriptor().Normalize()
	return Detail{
		Key:                d.Key(),
		Description:        d.Description,
		DisallowConcurrent: d.DisallowConcurrent,
		Job:                j,
		Data:               data.Clone(),
	}
}

// Clone copies the detail so callers never alias store-owned maps.
func (d Detail) Clone() Detail {
	d.Data = d.Data.Clone()
	return d
}
