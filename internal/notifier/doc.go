// Package notifier delivers reminders asynchronously.
//
// Notifications are small, high-signal messages for the user (typically
// "you have N hours to record"). The service fans each notification out
// to every configured transport channel through a queue + worker pool,
// with rate limiting, bounded retry, and a dedup window so an unchanged
// reminder is not re-delivered every check tick.
//
// # History
//
// For debugging, the service keeps a small in-memory history of
// recently delivered notifications.
package notifier
