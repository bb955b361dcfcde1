package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/billmind/billmind/internal/database"
	"github.com/billmind/billmind/internal/database/repository"
)

// BinderService is the only path that binds a document to an instance. A
// document is bound to at most one instance; rebinding requires an explicit
// unlink first.
type BinderService struct {
	DB        *sql.DB
	Documents *repository.DocumentRepo
	Instances *repository.InstanceRepo
	Templates *repository.TemplateRepo
}

// AttachDocument binds when the document's due date falls within the
// instance's expected date ± the template's tolerance.
func (b *BinderService) AttachDocument(ctx context.Context, doc repository.Document, in repository.Instance, tmpl repository.Template) error {
	if doc.DueDate == nil {
		return fmt.Errorf("%w: document has no due date", ErrValidation)
	}
	if !withinDays(doc.DueDate.UTC(), in.ExpectedDueDate, tmpl.ToleranceDays) {
		return fmt.Errorf("%w: due %s vs expected %s (±%dd)", ErrDateOutOfWindow,
			doc.DueDate.Format(time.DateOnly), in.ExpectedDueDate.Format(time.DateOnly), tmpl.ToleranceDays)
	}
	return b.attach(ctx, doc, in, tmpl)
}

// AttachByPeriod binds when the instance was explicitly chosen (the fuzzy
// confirmation path): the date check relaxes to the period key.
func (b *BinderService) AttachByPeriod(ctx context.Context, doc repository.Document, in repository.Instance, tmpl repository.Template) error {
	if doc.DueDate == nil {
		return fmt.Errorf("%w: document has no due date", ErrValidation)
	}
	if PeriodKey(*doc.DueDate) != in.PeriodKey {
		return fmt.Errorf("%w: document period %s vs instance period %s", ErrDateOutOfWindow,
			PeriodKey(*doc.DueDate), in.PeriodKey)
	}
	return b.attach(ctx, doc, in, tmpl)
}

func (b *BinderService) attach(ctx context.Context, doc repository.Document, in repository.Instance, tmpl repository.Template) error {
	if doc.RecurringInstanceID != nil && *doc.RecurringInstanceID != in.ID {
		return fmt.Errorf("%w: document %s bound to %s", ErrDocumentBound, doc.ID, *doc.RecurringInstanceID)
	}
	if in.MatchedDocumentID != nil && *in.MatchedDocumentID != doc.ID {
		return fmt.Errorf("%w: instance %s", ErrInstanceOccupied, in.ID)
	}
	if in.Terminal() {
		return fmt.Errorf("%w: instance %s is %s", ErrValidation, in.ID, in.Status)
	}

	status := repository.StatusMatched
	if doc.IsPaid {
		status = repository.StatusPaid
	}

	// only record a final due date when the document moved it
	var finalDue *time.Time
	if doc.DueDate != nil && !doc.DueDate.UTC().Equal(in.ExpectedDueDate) {
		d := doc.DueDate.UTC()
		finalDue = &d
	}

	err := database.WithTx(b.DB, func(tx *sql.Tx) error {
		if err := b.Instances.Bind(ctx, tx, in.ID, doc.ID, status, doc.AmountCents, doc.InvoiceNumber, finalDue); err != nil {
			return err
		}
		return b.Documents.SetLinkage(ctx, tx, doc.ID, &tmpl.ID, &in.ID)
	})
	if err != nil {
		return err
	}

	// a document that arrives already paid counts toward the template's stat
	if doc.IsPaid && in.Status != repository.StatusPaid {
		if err := b.Templates.IncrementPaidCount(ctx, tmpl.ID); err != nil {
			return err
		}
	}
	return nil
}
