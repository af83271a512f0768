// Package trigger computes fire times.
//
// Schedules are either cron expressions (five, six or seven fields, or a
// descriptor such as "@daily") evaluated in a time zone, or fixed intervals
// with an optional repeat limit. NextFireTime and ResolveMisfire are pure;
// the dispatch loop owns all state changes.
package trigger
