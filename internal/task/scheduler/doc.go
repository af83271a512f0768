// Package scheduler is the public facade of the job scheduler.
//
// A Scheduler owns the lifecycle state machine and a single dispatch loop
// goroutine. The loop keeps a min-heap of pending fire times, sleeps until
// the earliest one (or until a store mutation wakes it) and hands due fires
// to the task engine. Fire-time arithmetic lives in internal/task/trigger;
// job and trigger definitions live in internal/task/store.
package scheduler
