package remind

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// LogCalendar is the default Calendar: it records nothing externally, just
// logs and hands back opaque ids. Real delivery belongs to the platform side.
type LogCalendar struct{}

func (LogCalendar) CreateEvent(_ context.Context, ev Event) (string, error) {
	id := uuid.NewString()
	log.Printf("calendar: create %s due %s", ev.Title, ev.Due.Format(time.DateOnly))
	return id, nil
}

func (LogCalendar) UpdateEvent(_ context.Context, id string, ev Event) error {
	log.Printf("calendar: update %s due %s", id, ev.Due.Format(time.DateOnly))
	return nil
}

func (LogCalendar) DeleteEvent(_ context.Context, id string) error {
	log.Printf("calendar: delete %s", id)
	return nil
}

// LogNotifier is the default Notifier counterpart.
type LogNotifier struct{}

func (LogNotifier) Schedule(_ context.Context, reminders []Reminder) ([]string, error) {
	ids := make([]string, 0, len(reminders))
	for _, r := range reminders {
		id := uuid.NewString()
		log.Printf("notify: schedule %q at %s", r.Title, r.FiresAt.Format(time.DateOnly))
		ids = append(ids, id)
	}
	return ids, nil
}

func (LogNotifier) Cancel(_ context.Context, ids []string) error {
	if len(ids) > 0 {
		log.Printf("notify: cancel %d reminders", len(ids))
	}
	return nil
}
