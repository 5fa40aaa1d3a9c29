// Package reminder drives the periodic reminder checks.
//
// # Cadence
//
// Two cron entries fire the check: a minute-cadence poll and a
// top-of-hour entry. The hourly entry is "forced" (a reminder goes out
// whenever hours are missing); the minute poll only reminds within the
// grace window, the first few minutes of an hour, so the user is nudged
// shortly after an hour boundary but not nagged every minute for the
// rest of it.
//
// # Lifecycle
//
// The service can be started and stopped at runtime (config hot
// reload). Each check refreshes the scheduler, publishes
// eventbus.TypeReminderDue when hours are missing, and hands one
// rendered notification to the notifier, which owns delivery policy
// (dedup, retry, rate limiting).
package reminder
