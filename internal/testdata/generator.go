package testdata

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/billmind/billmind/internal/database/repository"
	"github.com/billmind/billmind/internal/fingerprint"
)

// Vendor describes one synthetic bill series.
type Vendor struct {
	Name        string
	TaxID       string
	AmountCents int64
	DueDay      int
	Months      int  // how many past months of history
	Jitter      int  // max ± days of due-date noise
	PaidAll     bool // mark history paid
}

// DefaultVendors is a plausible household bill mix.
var DefaultVendors = []Vendor{
	{Name: "City Power & Light", TaxID: "93-4410221", AmountCents: 8450, DueDay: 15, Months: 6, Jitter: 2, PaidAll: true},
	{Name: "Streamflix", AmountCents: 1799, DueDay: 3, Months: 8, PaidAll: true},
	{Name: "Northside Property Mgmt", AmountCents: 185000, DueDay: 1, Months: 5, PaidAll: true},
	{Name: "Aqua Utility Co", TaxID: "22-8817345", AmountCents: 5210, DueDay: 22, Months: 4, Jitter: 3},
}

// SeedHistory inserts a backdated document history for each vendor, suitable
// for exercising detection and backfill.
func SeedHistory(ctx context.Context, docs *repository.DocumentRepo, vendors []Vendor) error {
	now := time.Now().UTC()
	for _, v := range vendors {
		for i := v.Months; i >= 1; i-- {
			month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -i, 0)
			lastDay := time.Date(month.Year(), month.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
			day := v.DueDay
			if day > lastDay {
				day = lastDay
			}
			due := time.Date(month.Year(), month.Month(), day, 0, 0, 0, 0, time.UTC)
			if v.Jitter > 0 {
				due = due.AddDate(0, 0, rand.Intn(2*v.Jitter+1)-v.Jitter)
			}

			key, _ := fingerprint.WithAmount(v.Name, v.TaxID, v.AmountCents)
			doc := repository.Document{
				ID:                uuid.NewString(),
				VendorName:        v.Name,
				AmountCents:       v.AmountCents,
				DueDate:           &due,
				IsPaid:            v.PaidAll,
				VendorFingerprint: &key,
			}
			if v.TaxID != "" {
				taxID := v.TaxID
				doc.TaxID = &taxID
			}
			if err := docs.Insert(ctx, doc); err != nil {
				return err
			}
		}
	}
	return nil
}
