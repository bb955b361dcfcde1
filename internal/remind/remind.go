// Package remind declares the calendar and notification capability boundaries.
// Both collaborators are external, possibly slow and possibly failing; callers
// treat every method as fallible and never let a failure abort a domain write.
package remind

import (
	"context"
	"time"
)

// Event is a calendar entry for one expected occurrence.
type Event struct {
	Title  string
	Due    time.Time
	Amount int64 // cents
}

// Calendar creates, moves and removes events by opaque id.
type Calendar interface {
	CreateEvent(ctx context.Context, ev Event) (string, error)
	UpdateEvent(ctx context.Context, id string, ev Event) error
	DeleteEvent(ctx context.Context, id string) error
}

// Reminder is one scheduled local notification.
type Reminder struct {
	Title   string
	Body    string
	FiresAt time.Time
}

// Notifier schedules and cancels reminders by id list.
type Notifier interface {
	Schedule(ctx context.Context, reminders []Reminder) ([]string, error)
	Cancel(ctx context.Context, ids []string) error
}
