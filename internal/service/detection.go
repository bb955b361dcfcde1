package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/billmind/billmind/internal/config"
	"github.com/billmind/billmind/internal/database/repository"
	"github.com/billmind/billmind/internal/fingerprint"
)

// periodBand is one recognized cadence: acceptable gap range and nominal length.
type periodBand struct {
	name     string
	min, max float64
	days     float64
}

var periodBands = []periodBand{
	{"weekly", 5, 9, 7},
	{"fortnightly", 12, 16, 14},
	{"monthly", 27, 34, 30.44},
	{"quarterly", 85, 95, 91.3},
	{"annual", 355, 375, 365.25},
}

// DetectionService scans document history for vendors that look recurring and
// maintains unsolicited candidates. Runs are single-flight: a second trigger
// while one pass is in flight is dropped, never run concurrently.
type DetectionService struct {
	Documents       *repository.DocumentRepo
	Templates       *repository.TemplateRepo
	Candidates      *repository.CandidateRepo
	TemplateService *TemplateService
	Scheduler       *SchedulerService
	Binder          *BinderService
	Cfg             config.DetectionConfig
	NameFuzzRatio   float64

	mu sync.Mutex
}

// RunDetectionAnalysis performs one batch pass and returns how many candidates
// were created or refreshed. Re-running is safe: upserts are keyed per vendor
// fingerprint, and vendors already tracked or dismissed are skipped.
func (d *DetectionService) RunDetectionAnalysis(ctx context.Context) (int, error) {
	if !d.mu.TryLock() {
		return 0, nil // a pass is already in flight
	}
	defer d.mu.Unlock()

	docs, err := d.Documents.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	tracked, err := d.Templates.ActiveFingerprints(ctx)
	if err != nil {
		return 0, err
	}
	dismissed, err := d.Candidates.DismissedFingerprints(ctx)
	if err != nil {
		return 0, err
	}

	groups := d.groupByVendor(docs)

	updated := 0
	for key, group := range groups {
		// cooperative cancellation before each expensive per-vendor analysis
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		if tracked[key] || dismissed[key] {
			continue
		}
		cand, ok := d.analyze(key, group)
		if !ok {
			continue
		}
		// and again before posting the result
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		if err := d.Candidates.Upsert(ctx, cand); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// groupByVendor buckets documents by vendor-only fingerprint, then folds
// groups whose normalized names are near-identical (scanned vendor names carry
// OCR noise) into one.
func (d *DetectionService) groupByVendor(docs []repository.Document) map[string][]repository.Document {
	groups := make(map[string][]repository.Document)
	names := make(map[string]string) // key -> normalized representative name
	for _, doc := range docs {
		var key string
		if doc.VendorFingerprint != nil {
			key = fingerprint.VendorPart(*doc.VendorFingerprint)
		} else {
			key = fingerprint.Vendor(doc.VendorName, deref(doc.TaxID))
		}
		norm := fingerprint.Normalize(doc.VendorName)

		if _, seen := groups[key]; !seen && d.NameFuzzRatio > 0 {
			for other, otherName := range names {
				if nameRatio(norm, otherName) <= d.NameFuzzRatio {
					key = other
					break
				}
			}
		}
		if _, seen := groups[key]; !seen {
			names[key] = norm
		}
		groups[key] = append(groups[key], doc)
	}
	return groups
}

// analyze decides whether one vendor's history looks recurring and builds the
// candidate row. Confidence is monotonic in document count and gap regularity.
func (d *DetectionService) analyze(key string, group []repository.Document) (repository.Candidate, bool) {
	minDocs := d.Cfg.MinDocuments
	if minDocs < 2 {
		minDocs = 2
	}
	dated := make([]repository.Document, 0, len(group))
	for _, doc := range group {
		if doc.DueDate != nil {
			dated = append(dated, doc)
		}
	}
	if len(dated) < minDocs {
		return repository.Candidate{}, false
	}
	sort.Slice(dated, func(i, j int) bool { return dated[i].DueDate.Before(*dated[j].DueDate) })

	var intervals []float64
	for i := 1; i < len(dated); i++ {
		days := dated[i].DueDate.Sub(*dated[i-1].DueDate).Hours() / 24
		if days > 0 {
			intervals = append(intervals, days)
		}
	}
	if len(intervals) == 0 {
		return repository.Candidate{}, false
	}

	band, regularity := detectBand(intervals)
	if band == nil {
		return repository.Candidate{}, false
	}

	var total float64
	amounts := make([]float64, 0, len(dated))
	for _, doc := range dated {
		amounts = append(amounts, float64(doc.AmountCents))
		total += float64(doc.AmountCents)
	}
	mean := total / float64(len(amounts))
	amountConfidence := 1.0
	if mean > 0 {
		cv := math.Sqrt(variance(amounts, mean)) / mean
		if cv > 0.25 {
			amountConfidence = 0.3
		} else if cv > 0.10 {
			amountConfidence = 0.7
		}
	}

	occurrenceBoost := math.Min(float64(len(dated))/5.0, 1.0)
	confidence := regularity * amountConfidence * (0.5 + 0.5*occurrenceBoost)
	if confidence < d.Cfg.MinConfidence {
		return repository.Candidate{}, false
	}

	return repository.Candidate{
		ID:                uuid.NewString(),
		VendorFingerprint: key,
		VendorDisplayName: dated[len(dated)-1].VendorName,
		Confidence:        math.Round(confidence*100) / 100,
		DocumentCount:     len(dated),
		TypicalAmount:     int64(math.Round(mean)),
		PeriodDays:        band.days,
		State:             repository.CandidateSuggested,
	}, true
}

func detectBand(intervals []float64) (*periodBand, float64) {
	var avg float64
	for _, d := range intervals {
		avg += d
	}
	avg /= float64(len(intervals))

	for i := range periodBands {
		b := periodBands[i]
		if avg >= b.min && avg <= b.max {
			inBand := 0
			for _, d := range intervals {
				if d >= b.min && d <= b.max {
					inBand++
				}
			}
			return &periodBands[i], float64(inBand) / float64(len(intervals))
		}
	}
	return nil, 0
}

func variance(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return sumSq / float64(len(values)-1)
}

// FetchSuggestionCandidates returns candidates the UI may surface: suggested
// ones plus snoozed ones whose snooze has elapsed.
func (d *DetectionService) FetchSuggestionCandidates(ctx context.Context) ([]repository.Candidate, error) {
	return d.Candidates.ListSuggestable(ctx, time.Now().UTC())
}

// AcceptCandidate promotes a candidate into a template, generates the rolling
// instance window with historical backfill, and binds the vendor's unlinked
// documents into their period slots.
func (d *DetectionService) AcceptCandidate(ctx context.Context, candidateID string, monthsAhead int, opts TemplateOptions) (repository.Template, error) {
	cand, err := d.Candidates.Get(ctx, candidateID)
	if err != nil {
		return repository.Template{}, err
	}
	if cand == nil {
		return repository.Template{}, fmt.Errorf("%w: %s", ErrCandidateNotFound, candidateID)
	}

	docs, err := d.Documents.ListUnlinked(ctx, fingerprint.VendorPart(cand.VendorFingerprint))
	if err != nil {
		return repository.Template{}, err
	}
	dueDay, startDate := historyAnchor(docs)

	tmpl, err := d.TemplateService.CreateFromCandidate(ctx, *cand, dueDay, startDate, opts)
	if err != nil {
		return repository.Template{}, err
	}
	if err := d.Candidates.UpdateState(ctx, cand.ID, repository.CandidateAccepted, nil); err != nil {
		return repository.Template{}, err
	}

	if _, err := d.Scheduler.GenerateInstances(ctx, tmpl, monthsAhead, true); err != nil {
		return repository.Template{}, err
	}

	// backfill: bind each historical document into its period slot
	for _, doc := range docs {
		if doc.DueDate == nil {
			continue
		}
		due := doc.DueDate.UTC()
		in, err := d.Scheduler.EnsureInstance(ctx, tmpl, due.Year(), due.Month())
		if err != nil {
			return repository.Template{}, err
		}
		if in.MatchedDocumentID != nil || in.Terminal() {
			continue
		}
		if err := d.Binder.AttachByPeriod(ctx, doc, in, tmpl); err != nil {
			return repository.Template{}, err
		}
	}
	return tmpl, nil
}

// DismissCandidate permanently excludes the vendor from re-suggestion.
func (d *DetectionService) DismissCandidate(ctx context.Context, candidateID string) error {
	if err := d.requireCandidate(ctx, candidateID); err != nil {
		return err
	}
	return d.Candidates.UpdateState(ctx, candidateID, repository.CandidateDismissed, nil)
}

// SnoozeCandidate hides the suggestion until the given time.
func (d *DetectionService) SnoozeCandidate(ctx context.Context, candidateID string, until time.Time) error {
	if err := d.requireCandidate(ctx, candidateID); err != nil {
		return err
	}
	u := until.UTC()
	return d.Candidates.UpdateState(ctx, candidateID, repository.CandidateSnoozed, &u)
}

func (d *DetectionService) requireCandidate(ctx context.Context, id string) error {
	c, err := d.Candidates.Get(ctx, id)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("%w: %s", ErrCandidateNotFound, id)
	}
	return nil
}

// historyAnchor derives the due-day anchor and start month from a vendor's
// dated documents: most recent due day, earliest month.
func historyAnchor(docs []repository.Document) (int, time.Time) {
	dueDay := 1
	var latest, earliest time.Time
	for _, doc := range docs {
		if doc.DueDate == nil {
			continue
		}
		due := doc.DueDate.UTC()
		if latest.IsZero() || due.After(latest) {
			latest = due
			dueDay = due.Day()
		}
		if earliest.IsZero() || due.Before(earliest) {
			earliest = due
		}
	}
	if earliest.IsZero() {
		earliest = time.Now().UTC()
	}
	return dueDay, earliest
}
