package repository

import (
	"strconv"
	"strings"
	"time"
)

// Instance statuses.
const (
	StatusExpected  = "expected"
	StatusMatched   = "matched"
	StatusPaid      = "paid"
	StatusMissed    = "missed"
	StatusCancelled = "cancelled"
)

// Template creation sources.
const (
	SourceManual       = "manual"
	SourceAutoDetected = "auto-detected"
)

// Candidate suggestion states.
const (
	CandidateSuggested = "suggested"
	CandidateDismissed = "dismissed"
	CandidateSnoozed   = "snoozed"
	CandidateAccepted  = "accepted"
)

// Template represents a recurring_templates row: one recognized recurring series.
type Template struct {
	ID                string
	VendorFingerprint string
	VendorDisplayName string
	Category          *string
	TypicalAmount     int64 // cents
	AmountMin         int64
	AmountMax         int64
	ToleranceDays     int
	DueDay            int // day-of-month anchor from the founding document
	ReminderOffsets   []int
	IsActive          bool
	CreationSource    string
	PaidInstanceCount int
	StartDate         time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Instance represents a recurring_instances row: one expected occurrence.
type Instance struct {
	ID                     string
	TemplateID             string
	PeriodKey              string
	ExpectedDueDate        time.Time
	FinalDueDate           *time.Time
	Status                 string
	MatchedDocumentID      *string
	EffectiveAmount        *int64
	InvoiceNumber          *string
	CalendarEventID        *string
	NotificationIDs        []string
	NotificationsScheduled bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// DueDate returns the final due date when a bound document moved it, otherwise
// the expected one.
func (i Instance) DueDate() time.Time {
	if i.FinalDueDate != nil {
		return *i.FinalDueDate
	}
	return i.ExpectedDueDate
}

// Amount returns the bound document's amount when matched/paid, otherwise fallback.
func (i Instance) Amount(fallback int64) int64 {
	if i.EffectiveAmount != nil {
		return *i.EffectiveAmount
	}
	return fallback
}

// Terminal reports whether the instance admits no further transitions outside
// explicit future-deletion.
func (i Instance) Terminal() bool {
	return i.Status == StatusPaid || i.Status == StatusMissed || i.Status == StatusCancelled
}

// Candidate represents a recurring_candidates row: an unconfirmed detection result.
type Candidate struct {
	ID                string
	VendorFingerprint string
	VendorDisplayName string
	Confidence        float64
	DocumentCount     int
	TypicalAmount     int64
	PeriodDays        float64
	State             string
	SnoozedUntil      *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Document represents a documents row. Only the fields the recurrence engine
// reads plus the linkage fields it owns; everything else about a document lives
// with the capture/OCR side.
type Document struct {
	ID                  string
	VendorName          string
	TaxID               *string
	AmountCents         int64
	DueDate             *time.Time
	InvoiceNumber       *string
	IsPaid              bool
	VendorFingerprint   *string
	RecurringTemplateID *string
	RecurringInstanceID *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Reminder offsets and notification id lists are stored comma-joined.

func joinInts(vals []int) string {
	parts := make([]string, 0, len(vals))
	for _, v := range vals {
		parts = append(parts, strconv.Itoa(v))
	}
	return strings.Join(parts, ",")
}

func splitInts(s string) []int {
	if s == "" {
		return nil
	}
	var out []int
	for _, p := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

func joinStrs(vals []string) string { return strings.Join(vals, ",") }

func splitStrs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
