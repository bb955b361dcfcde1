package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/billmind/billmind/internal/database/repository"
	"github.com/billmind/billmind/internal/fingerprint"
)

// TemplateService owns recurring templates: one per recognized series.
type TemplateService struct {
	Templates *repository.TemplateRepo
	Documents *repository.DocumentRepo
}

// TemplateOptions carries the per-template policy set at creation.
type TemplateOptions struct {
	ReminderOffsets []int
	ToleranceDays   int
	Category        *string
	CreationSource  string
}

// CreateFromDocument starts a new series from a finalized document. The
// document needs a vendor name, a positive amount and a due date (the due day
// anchors every future instance); all three are checked before any write.
func (s *TemplateService) CreateFromDocument(ctx context.Context, doc repository.Document, opts TemplateOptions) (repository.Template, error) {
	if strings.TrimSpace(doc.VendorName) == "" {
		return repository.Template{}, fmt.Errorf("%w: vendor name required", ErrValidation)
	}
	if doc.AmountCents <= 0 {
		return repository.Template{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if doc.DueDate == nil {
		return repository.Template{}, fmt.Errorf("%w: due date required", ErrValidation)
	}

	key, _ := fingerprint.WithAmount(doc.VendorName, deref(doc.TaxID), doc.AmountCents)
	due := doc.DueDate.UTC()

	t := repository.Template{
		ID:                uuid.NewString(),
		VendorFingerprint: key,
		VendorDisplayName: strings.TrimSpace(doc.VendorName),
		Category:          opts.Category,
		TypicalAmount:     doc.AmountCents,
		AmountMin:         doc.AmountCents,
		AmountMax:         doc.AmountCents,
		ToleranceDays:     opts.ToleranceDays,
		DueDay:            due.Day(),
		ReminderOffsets:   opts.ReminderOffsets,
		IsActive:          true,
		CreationSource:    opts.CreationSource,
		StartDate:         time.Date(due.Year(), due.Month(), 1, 0, 0, 0, 0, time.UTC),
	}
	if t.CreationSource == "" {
		t.CreationSource = repository.SourceManual
	}
	if err := s.Templates.Insert(ctx, t); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return repository.Template{}, fmt.Errorf("%w: %s", ErrTemplateExists, key)
		}
		return repository.Template{}, err
	}

	// stamp the full fingerprint back onto the founding document
	if err := s.Documents.SetFingerprint(ctx, doc.ID, key); err != nil {
		return repository.Template{}, err
	}
	return t, nil
}

// CreateFromCandidate promotes an accepted detection candidate. The candidate
// contributes its fingerprint and representative amount; dueDay and startDate
// come from the vendor's document history.
func (s *TemplateService) CreateFromCandidate(ctx context.Context, cand repository.Candidate, dueDay int, startDate time.Time, opts TemplateOptions) (repository.Template, error) {
	if dueDay < 1 || dueDay > 31 {
		return repository.Template{}, fmt.Errorf("%w: due day %d out of range", ErrValidation, dueDay)
	}
	key := cand.VendorFingerprint
	if fingerprint.VendorPart(key) == key && cand.TypicalAmount > 0 {
		key += fmt.Sprintf("#b%d", fingerprint.Bucket(cand.TypicalAmount))
	}

	t := repository.Template{
		ID:                uuid.NewString(),
		VendorFingerprint: key,
		VendorDisplayName: cand.VendorDisplayName,
		Category:          opts.Category,
		TypicalAmount:     cand.TypicalAmount,
		AmountMin:         cand.TypicalAmount,
		AmountMax:         cand.TypicalAmount,
		ToleranceDays:     opts.ToleranceDays,
		DueDay:            dueDay,
		ReminderOffsets:   opts.ReminderOffsets,
		IsActive:          true,
		CreationSource:    repository.SourceAutoDetected,
		StartDate:         time.Date(startDate.Year(), startDate.Month(), 1, 0, 0, 0, 0, time.UTC),
	}
	if err := s.Templates.Insert(ctx, t); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return repository.Template{}, fmt.Errorf("%w: %s", ErrTemplateExists, key)
		}
		return repository.Template{}, err
	}
	return t, nil
}

func (s *TemplateService) FetchActive(ctx context.Context) ([]repository.Template, error) {
	return s.Templates.ListActive(ctx)
}

func (s *TemplateService) FetchAll(ctx context.Context) ([]repository.Template, error) {
	return s.Templates.ListAll(ctx)
}

func (s *TemplateService) FetchByID(ctx context.Context, id string) (repository.Template, error) {
	t, err := s.Templates.Get(ctx, id)
	if err != nil {
		return repository.Template{}, err
	}
	if t == nil {
		return repository.Template{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return *t, nil
}

// MergeAmount widens the accepted amount range to include a newly confirmed
// amount. The range only ever grows, so repeated "same service, different
// amount" confirmations make future auto-matching more permissive.
func (s *TemplateService) MergeAmount(ctx context.Context, templateID string, amountCents int64) error {
	if amountCents <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if _, err := s.FetchByID(ctx, templateID); err != nil {
		return err
	}
	return s.Templates.WidenAmountRange(ctx, templateID, amountCents)
}

// Deactivate stops new instance generation. Existing instances are untouched;
// templates owning paid history are never hard-deleted.
func (s *TemplateService) Deactivate(ctx context.Context, templateID string) error {
	if _, err := s.FetchByID(ctx, templateID); err != nil {
		return err
	}
	return s.Templates.SetActive(ctx, templateID, false)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
