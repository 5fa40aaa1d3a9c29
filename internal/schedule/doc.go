// Package schedule tracks which hours of the day have no recorded
// activity.
//
// # Model
//
// The Scheduler reconciles wall-clock time against the persisted
// activity log. An hour is "missed" when it lies at or after the scan
// lower bound (the hour after the last recorded activity, or the start
// of the current day when the log is empty), strictly before the
// current hour, and has no stored record. The in-progress hour is never
// missed.
//
// Missed hours are recomputed from scratch on every call rather than
// maintained incrementally. The walk is bounded by hours since the last
// recorded activity (realistically at most a few hundred), and a full
// recompute removes any possibility of stale-cache bugs.
//
// # Notifications
//
// Changes to the missed-hour count are published on the event bus as
// eventbus.TypeMissedChanged. The emission is edge-triggered: the count
// is announced once at initialization and afterwards only when it
// differs from the previously observed value.
//
// The Scheduler is safe for concurrent use; the reminder trigger and
// the CLI surface call it from different goroutines.
package schedule
