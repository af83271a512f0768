// Package job holds the scheduling data model: job and trigger identities,
// job details, trigger definitions and the per-fire execution context.
//
// Nothing here schedules anything; see internal/task/trigger for fire-time
// computation and internal/task/scheduler for dispatch.
package job
