// Package transport defines the delivery surface for reminders.
//
// A Channel is one way of reaching the user (terminal, desktop
// notification command, Telegram). The notifier fans a Notification out
// to every configured channel; channels are interchangeable and know
// nothing about scheduling.
package transport

import "context"

// Notification is a rendered reminder ready for delivery.
type Notification struct {
	// Key identifies the notification for dedup purposes: two
	// notifications with the same key within the dedup window are the
	// same reminder.
	Key      string
	Title    string
	Body     string
	Priority int // 0 low .. 10 high
}

// Channel delivers notifications to one surface.
//
// Send must respect ctx and return the delivery error unchanged; retry
// policy belongs to the notifier, not the channel.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}
