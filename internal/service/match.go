package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/billmind/billmind/internal/config"
	"github.com/billmind/billmind/internal/database/repository"
	"github.com/billmind/billmind/internal/fingerprint"
)

// MatchKind is the closed set of fuzzy-match outcomes. The confirmation flow
// upstream depends on exactly this ternary auto-link / ask / auto-create shape.
type MatchKind int

const (
	// MatchNoExistingTemplates: the vendor has no active series at all.
	MatchNoExistingTemplates MatchKind = iota
	// MatchExact: the amount sits inside a sibling's already-merged range.
	MatchExact
	// MatchAuto: close enough to reuse silently (caller merges the range).
	MatchAuto
	// MatchNeedsConfirmation: ambiguous zone, ask the user.
	MatchNeedsConfirmation
	// MatchAutoCreateNew: too far from every sibling, start a new series.
	MatchAutoCreateNew
)

func (k MatchKind) String() string {
	switch k {
	case MatchNoExistingTemplates:
		return "noExistingTemplates"
	case MatchExact:
		return "exactMatch"
	case MatchAuto:
		return "autoMatch"
	case MatchNeedsConfirmation:
		return "needsConfirmation"
	case MatchAutoCreateNew:
		return "autoCreateNew"
	}
	return "unknown"
}

// MatchCandidate is one ambiguous-zone sibling with its deviation.
type MatchCandidate struct {
	Template    repository.Template
	PercentDiff float64
}

// MatchOutcome is the result of CheckForFuzzyMatch.
type MatchOutcome struct {
	Kind        MatchKind
	TemplateID  string  // set for exactMatch/autoMatch
	PercentDiff float64 // deviation of the winning sibling
	Candidates  []MatchCandidate
}

// MatchService decides whether a (vendor, amount) pair belongs to an existing
// series.
type MatchService struct {
	Templates *repository.TemplateRepo
	Documents *repository.DocumentRepo
	Scheduler *SchedulerService
	Binder    *BinderService
	Cfg       config.MatchingConfig
}

// CheckForFuzzyMatch classifies a new (vendor, amount) pair against the
// vendor's active siblings. Zone boundaries sit at the configured auto-link
// and confirmation thresholds (0.30 / 0.50 by default) of the sibling's
// typical amount.
func (s *MatchService) CheckForFuzzyMatch(ctx context.Context, vendorName, taxID string, amountCents int64) (MatchOutcome, error) {
	if strings.TrimSpace(vendorName) == "" {
		return MatchOutcome{}, fmt.Errorf("%w: vendor name required", ErrValidation)
	}
	if amountCents <= 0 {
		return MatchOutcome{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	siblings, err := s.vendorSiblings(ctx, vendorName, taxID)
	if err != nil {
		return MatchOutcome{}, err
	}
	if len(siblings) == 0 {
		return MatchOutcome{Kind: MatchNoExistingTemplates}, nil
	}

	// exact: inside any sibling's merged amount range
	for _, t := range siblings {
		if amountCents >= t.AmountMin && amountCents <= t.AmountMax {
			return MatchOutcome{Kind: MatchExact, TemplateID: t.ID}, nil
		}
	}

	best := siblings[0]
	bestDiff := percentDiff(amountCents, best.TypicalAmount)
	for _, t := range siblings[1:] {
		if d := percentDiff(amountCents, t.TypicalAmount); d < bestDiff {
			best, bestDiff = t, d
		}
	}

	switch {
	case bestDiff < s.Cfg.AutoLinkMaxDiff:
		return MatchOutcome{Kind: MatchAuto, TemplateID: best.ID, PercentDiff: bestDiff}, nil
	case bestDiff < s.Cfg.ConfirmMaxDiff:
		var cands []MatchCandidate
		for _, t := range siblings {
			d := percentDiff(amountCents, t.TypicalAmount)
			if d >= s.Cfg.AutoLinkMaxDiff && d < s.Cfg.ConfirmMaxDiff {
				cands = append(cands, MatchCandidate{Template: t, PercentDiff: d})
			}
		}
		sort.Slice(cands, func(i, j int) bool { return cands[i].PercentDiff < cands[j].PercentDiff })
		return MatchOutcome{Kind: MatchNeedsConfirmation, PercentDiff: bestDiff, Candidates: cands}, nil
	default:
		return MatchOutcome{Kind: MatchAutoCreateNew, PercentDiff: bestDiff}, nil
	}
}

// vendorSiblings fetches active templates sharing the vendor-only fingerprint,
// plus templates whose normalized display name is a near match (scanned vendor
// names arrive with OCR noise).
func (s *MatchService) vendorSiblings(ctx context.Context, vendorName, taxID string) ([]repository.Template, error) {
	vendorKey := fingerprint.Vendor(vendorName, taxID)
	siblings, err := s.Templates.ListByVendorPrefix(ctx, vendorKey)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(siblings))
	for _, t := range siblings {
		seen[t.ID] = true
	}

	if s.Cfg.NameFuzzRatio > 0 {
		all, err := s.Templates.ListActive(ctx)
		if err != nil {
			return nil, err
		}
		norm := fingerprint.Normalize(vendorName)
		for _, t := range all {
			if seen[t.ID] {
				continue
			}
			if nameRatio(norm, fingerprint.Normalize(t.VendorDisplayName)) <= s.Cfg.NameFuzzRatio {
				siblings = append(siblings, t)
				seen[t.ID] = true
			}
		}
	}
	return siblings, nil
}

// LinkToExistingTemplate is the "same service" confirmation path: the user
// accepted an ambiguous match, so the amount range widens and the document is
// bound to its period's instance with the date window relaxed.
func (s *MatchService) LinkToExistingTemplate(ctx context.Context, documentID, templateID string) error {
	doc, err := s.Documents.Get(ctx, documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}
	if doc.DueDate == nil {
		return fmt.Errorf("%w: document has no due date", ErrValidation)
	}
	tmpl, err := s.Templates.Get(ctx, templateID)
	if err != nil {
		return err
	}
	if tmpl == nil {
		return fmt.Errorf("%w: %s", ErrTemplateNotFound, templateID)
	}

	if doc.AmountCents > 0 {
		if err := s.Templates.WidenAmountRange(ctx, templateID, doc.AmountCents); err != nil {
			return err
		}
	}
	if err := s.Documents.SetFingerprint(ctx, doc.ID, tmpl.VendorFingerprint); err != nil {
		return err
	}

	due := doc.DueDate.UTC()
	in, err := s.Scheduler.EnsureInstance(ctx, *tmpl, due.Year(), due.Month())
	if err != nil {
		return err
	}
	return s.Binder.AttachByPeriod(ctx, *doc, in, *tmpl)
}

func percentDiff(amount, typical int64) float64 {
	if typical == 0 {
		return math.Inf(1)
	}
	return math.Abs(float64(amount-typical)) / float64(typical)
}

// nameRatio is the levenshtein distance over the longer length, 0 = identical.
func nameRatio(a, b string) float64 {
	if a == b {
		return 0
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	return float64(levenshtein.ComputeDistance(a, b)) / float64(maxLen)
}

// withinDays reports whether two dates are at most tol days apart.
func withinDays(a, b time.Time, tol int) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return int(d.Hours()/24) <= tol
}
