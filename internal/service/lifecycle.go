package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/billmind/billmind/internal/database/repository"
	"github.com/billmind/billmind/internal/remind"
)

// LifecycleService propagates document-side events to instances, templates and
// the external calendar/notification collaborators. Each step is independently
// recoverable: an external failure is logged and the remaining steps still run.
type LifecycleService struct {
	Documents *repository.DocumentRepo
	Instances *repository.InstanceRepo
	Templates *repository.TemplateRepo
	Scheduler *SchedulerService
	Calendar  remind.Calendar
	Notifier  remind.Notifier
}

// HandleDocumentDeleted unwinds a document's recurring linkage and then
// removes the document row. Linkage ids are captured and cleared before the
// delete; reading a deleted row's fields is undefined in the store.
func (l *LifecycleService) HandleDocumentDeleted(ctx context.Context, documentID string) error {
	doc, err := l.Documents.Get(ctx, documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}

	if doc.RecurringInstanceID != nil {
		if err := l.revertInstance(ctx, *doc.RecurringInstanceID); err != nil {
			return err
		}
		if err := l.Documents.ClearLinkage(ctx, doc.ID); err != nil {
			return err
		}
	}
	return l.Documents.Delete(ctx, doc.ID)
}

// HandleDocumentPaid marks the document paid and propagates to the bound
// instance: status paid, template counter incremented exactly once, the
// instance's reminder schedule cancelled.
func (l *LifecycleService) HandleDocumentPaid(ctx context.Context, documentID string) error {
	doc, err := l.Documents.Get(ctx, documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}
	if err := l.Documents.SetPaid(ctx, doc.ID, true); err != nil {
		return err
	}
	if doc.RecurringInstanceID == nil {
		return nil
	}

	in, err := l.Instances.Get(ctx, *doc.RecurringInstanceID)
	if err != nil {
		return err
	}
	if in == nil {
		log.Printf("warn: document %s references missing instance %s, clearing", doc.ID, *doc.RecurringInstanceID)
		return l.Documents.ClearLinkage(ctx, doc.ID)
	}
	if in.Status == repository.StatusPaid {
		return nil
	}

	if err := l.Instances.UpdateStatus(ctx, in.ID, repository.StatusPaid); err != nil {
		return err
	}
	if err := l.Templates.IncrementPaidCount(ctx, in.TemplateID); err != nil {
		return err
	}
	l.cancelExternal(ctx, *in)
	return l.Instances.SetNotifications(ctx, in.ID, nil, nil, false)
}

// HandleDueDateChanged moves only the effective date. The instance keeps its
// period slot; expected date and period key never change here.
func (l *LifecycleService) HandleDueDateChanged(ctx context.Context, documentID string, newDue time.Time) error {
	doc, err := l.Documents.Get(ctx, documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}
	due := newDue.UTC()
	if err := l.Documents.SetDueDate(ctx, doc.ID, &due); err != nil {
		return err
	}
	if doc.RecurringInstanceID == nil {
		return nil
	}

	in, err := l.Instances.Get(ctx, *doc.RecurringInstanceID)
	if err != nil {
		return err
	}
	if in == nil {
		log.Printf("warn: document %s references missing instance %s, clearing", doc.ID, *doc.RecurringInstanceID)
		return l.Documents.ClearLinkage(ctx, doc.ID)
	}
	if err := l.Instances.SetFinalDueDate(ctx, in.ID, &due); err != nil {
		return err
	}

	if in.CalendarEventID != nil && l.Calendar != nil {
		if err := l.Calendar.UpdateEvent(ctx, *in.CalendarEventID, remind.Event{
			Title:  doc.VendorName,
			Due:    due,
			Amount: doc.AmountCents,
		}); err != nil {
			log.Printf("warn: calendar update for %s: %v", in.ID, err)
		}
	}
	return nil
}

// UnlinkDocument detaches a document but keeps the template. The instance goes
// back to expected and, if the template is still active, gets a fresh reminder
// schedule. Unlinking an already-expected instance is a no-op.
func (l *LifecycleService) UnlinkDocument(ctx context.Context, documentID string) error {
	doc, err := l.Documents.Get(ctx, documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}
	if doc.RecurringInstanceID == nil {
		return nil
	}
	instanceID := *doc.RecurringInstanceID

	if err := l.revertInstance(ctx, instanceID); err != nil {
		return err
	}
	if err := l.Documents.ClearLinkage(ctx, doc.ID); err != nil {
		return err
	}

	in, err := l.Instances.Get(ctx, instanceID)
	if err != nil {
		return err
	}
	if in == nil || in.Status != repository.StatusExpected {
		return nil
	}
	tmpl, err := l.Templates.Get(ctx, in.TemplateID)
	if err != nil {
		return err
	}
	if tmpl != nil && tmpl.IsActive && l.Scheduler != nil {
		if err := l.Scheduler.ScheduleNotifications(ctx, *in, *tmpl); err != nil {
			log.Printf("warn: reschedule for %s: %v", in.ID, err)
		}
	}
	return nil
}

// CancelInstance skips one period: terminal, reminders cleared, never revived.
func (l *LifecycleService) CancelInstance(ctx context.Context, instanceID string) error {
	in, err := l.Instances.Get(ctx, instanceID)
	if err != nil {
		return err
	}
	if in == nil {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}
	if in.Status == repository.StatusPaid {
		return fmt.Errorf("%w: instance %s is paid", ErrValidation, instanceID)
	}
	if in.MatchedDocumentID != nil {
		if err := l.Documents.ClearLinkage(ctx, *in.MatchedDocumentID); err != nil {
			return err
		}
	}
	l.cancelExternal(ctx, *in)
	if err := l.Instances.SetNotifications(ctx, in.ID, nil, nil, false); err != nil {
		return err
	}
	return l.Instances.UpdateStatus(ctx, in.ID, repository.StatusCancelled)
}

// DeleteFutureInstances removes expected/matched instances due at or after the
// cutoff. Bound documents are released, reminders cancelled, calendar events
// removed. Paid, missed and cancelled instances are never touched. With
// deactivate set, the template stops generating new periods too.
func (l *LifecycleService) DeleteFutureInstances(ctx context.Context, templateID string, cutoff time.Time, deactivate bool) (int, error) {
	tmpl, err := l.Templates.Get(ctx, templateID)
	if err != nil {
		return 0, err
	}
	if tmpl == nil {
		return 0, fmt.Errorf("%w: %s", ErrTemplateNotFound, templateID)
	}

	future, err := l.Instances.ListFuture(ctx, templateID, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, in := range future {
		if in.MatchedDocumentID != nil {
			if err := l.Documents.ClearLinkage(ctx, *in.MatchedDocumentID); err != nil {
				return n, err
			}
		}
		l.cancelExternal(ctx, in)
		if err := l.Instances.Delete(ctx, in.ID); err != nil {
			return n, err
		}
		n++
	}

	if deactivate {
		if err := l.Templates.SetActive(ctx, templateID, false); err != nil {
			return n, err
		}
	}
	return n, nil
}

// revertInstance returns an instance to expected after its document goes away.
// A paid instance keeps its status and history; only the dangling document id
// is dropped. A missing instance is repaired with a warning, not an error.
func (l *LifecycleService) revertInstance(ctx context.Context, instanceID string) error {
	in, err := l.Instances.Get(ctx, instanceID)
	if err != nil {
		return err
	}
	if in == nil {
		log.Printf("warn: instance %s missing during revert, skipping", instanceID)
		return nil
	}
	if in.Status == repository.StatusPaid {
		return l.Instances.DetachDocument(ctx, in.ID)
	}
	l.cancelExternal(ctx, *in)
	if err := l.Instances.SetNotifications(ctx, in.ID, nil, nil, false); err != nil {
		return err
	}
	return l.Instances.ClearMatch(ctx, in.ID)
}

// cancelExternal tears down the instance's calendar event and reminders.
// External failures never block the domain transition.
func (l *LifecycleService) cancelExternal(ctx context.Context, in repository.Instance) {
	if l.Calendar != nil && in.CalendarEventID != nil {
		if err := l.Calendar.DeleteEvent(ctx, *in.CalendarEventID); err != nil {
			log.Printf("warn: calendar delete for %s: %v", in.ID, err)
		}
	}
	if l.Notifier != nil && len(in.NotificationIDs) > 0 {
		if err := l.Notifier.Cancel(ctx, in.NotificationIDs); err != nil {
			log.Printf("warn: reminder cancel for %s: %v", in.ID, err)
		}
	}
}
