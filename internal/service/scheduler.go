package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/billmind/billmind/internal/database/repository"
	"github.com/billmind/billmind/internal/remind"
)

// SchedulerService generates and maintains the rolling window of expected
// occurrences for a template.
type SchedulerService struct {
	Instances *repository.InstanceRepo
	Calendar  remind.Calendar
	Notifier  remind.Notifier
}

// PeriodKey is the canonical identifier for a calendar month, e.g. "2025-03".
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// ExpectedDueDate anchors the template's due day inside the given month,
// clamped to the last valid day of shorter months.
func ExpectedDueDate(dueDay int, year int, month time.Month) time.Time {
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	day := dueDay
	if day > lastDay {
		day = lastDay
	}
	if day < 1 {
		day = 1
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// GenerateInstances creates instances for monthsAhead months starting at the
// current month, plus the historical gap back to the template's start month
// when includeHistorical is set. Idempotent: a period that already has an
// instance yields the existing row, never a duplicate.
func (s *SchedulerService) GenerateInstances(ctx context.Context, tmpl repository.Template, monthsAhead int, includeHistorical bool) ([]repository.Instance, error) {
	if monthsAhead < 1 {
		return nil, fmt.Errorf("%w: monthsAhead must be at least 1", ErrValidation)
	}
	now := time.Now().UTC()
	current := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var months []time.Time
	if includeHistorical {
		for m := tmpl.StartDate; m.Before(current); m = m.AddDate(0, 1, 0) {
			months = append(months, m)
		}
	}
	for i := 0; i < monthsAhead; i++ {
		months = append(months, current.AddDate(0, i, 0))
	}

	out := make([]repository.Instance, 0, len(months))
	for _, m := range months {
		in, err := s.EnsureInstance(ctx, tmpl, m.Year(), m.Month())
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

// EnsureInstance returns the instance for one (template, month) slot, creating
// it when absent. The UNIQUE(template_id, period_key) index backs this up, so
// a concurrent duplicate insert degrades into a fetch.
func (s *SchedulerService) EnsureInstance(ctx context.Context, tmpl repository.Template, year int, month time.Month) (repository.Instance, error) {
	key := PeriodKey(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC))
	if existing, err := s.Instances.GetByPeriod(ctx, tmpl.ID, key); err != nil {
		return repository.Instance{}, err
	} else if existing != nil {
		return *existing, nil
	}

	in := repository.Instance{
		ID:              uuid.NewString(),
		TemplateID:      tmpl.ID,
		PeriodKey:       key,
		ExpectedDueDate: ExpectedDueDate(tmpl.DueDay, year, month),
		Status:          repository.StatusExpected,
	}
	if err := s.Instances.Insert(ctx, in); err != nil {
		return repository.Instance{}, err
	}
	// re-read: the insert is OR IGNORE, so a racing writer may have won
	stored, err := s.Instances.GetByPeriod(ctx, tmpl.ID, key)
	if err != nil {
		return repository.Instance{}, err
	}
	if stored == nil {
		return repository.Instance{}, fmt.Errorf("instance for %s/%s missing after insert", tmpl.ID, key)
	}
	return *stored, nil
}

func (s *SchedulerService) FetchInstances(ctx context.Context, templateID string) ([]repository.Instance, error) {
	return s.Instances.ListForTemplate(ctx, templateID)
}

func (s *SchedulerService) FetchUpcoming(ctx context.Context, limit int) ([]repository.Instance, error) {
	return s.Instances.ListUpcoming(ctx, time.Now().UTC(), limit)
}

// ScheduleNotifications creates the calendar event and the per-offset
// reminders for an expected instance. Collaborator failures are logged and
// skipped; the instance row records whatever ids did come back.
func (s *SchedulerService) ScheduleNotifications(ctx context.Context, in repository.Instance, tmpl repository.Template) error {
	due := in.DueDate()
	amount := in.Amount(tmpl.TypicalAmount)

	var calEventID *string
	if s.Calendar != nil {
		id, err := s.Calendar.CreateEvent(ctx, remind.Event{
			Title:  tmpl.VendorDisplayName,
			Due:    due,
			Amount: amount,
		})
		if err != nil {
			log.Printf("warn: calendar event for %s: %v", in.ID, err)
		} else {
			calEventID = &id
		}
	}

	var notifIDs []string
	if s.Notifier != nil && len(tmpl.ReminderOffsets) > 0 {
		reminders := make([]remind.Reminder, 0, len(tmpl.ReminderOffsets))
		for _, offset := range tmpl.ReminderOffsets {
			reminders = append(reminders, remind.Reminder{
				Title:   tmpl.VendorDisplayName,
				Body:    fmt.Sprintf("%s due %s", tmpl.VendorDisplayName, due.Format(time.DateOnly)),
				FiresAt: due.AddDate(0, 0, -offset),
			})
		}
		ids, err := s.Notifier.Schedule(ctx, reminders)
		if err != nil {
			log.Printf("warn: reminders for %s: %v", in.ID, err)
		} else {
			notifIDs = ids
		}
	}

	return s.Instances.SetNotifications(ctx, in.ID, calEventID, notifIDs, true)
}

// MarkMissed is the advisory sweep for expected instances whose due date has
// passed with no match. It is never invoked implicitly by other operations.
func (s *SchedulerService) MarkMissed(ctx context.Context, asOf time.Time) (int, error) {
	stale, err := s.Instances.ListExpectedBefore(ctx, asOf.UTC())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, in := range stale {
		if err := s.Instances.UpdateStatus(ctx, in.ID, repository.StatusMissed); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
