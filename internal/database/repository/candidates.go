package repository

import (
	"context"
	"database/sql"
	"time"
)

// CandidateRepo handles detection candidates.
type CandidateRepo struct {
	db *sql.DB
}

func NewCandidateRepo(db *sql.DB) *CandidateRepo { return &CandidateRepo{db: db} }

const candidateCols = `id, vendor_fingerprint, vendor_display_name, confidence,
 document_count, typical_amount, period_days, state, snoozed_until, created_at, updated_at`

// Upsert inserts or refreshes the candidate for a fingerprint. The state of an
// existing row is preserved so dismissed/snoozed candidates are not resurrected
// by a detection re-run.
func (r *CandidateRepo) Upsert(ctx context.Context, c Candidate) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO recurring_candidates(
	 id, vendor_fingerprint, vendor_display_name, confidence, document_count,
	 typical_amount, period_days, state, snoozed_until, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	ON CONFLICT(vendor_fingerprint) DO UPDATE SET
	 vendor_display_name = excluded.vendor_display_name,
	 confidence = excluded.confidence,
	 document_count = excluded.document_count,
	 typical_amount = excluded.typical_amount,
	 period_days = excluded.period_days,
	 updated_at = CURRENT_TIMESTAMP;
	`, c.ID, c.VendorFingerprint, c.VendorDisplayName, c.Confidence, c.DocumentCount,
		c.TypicalAmount, c.PeriodDays, c.State, c.SnoozedUntil)
	return err
}

func (r *CandidateRepo) Get(ctx context.Context, id string) (*Candidate, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+candidateCols+` FROM recurring_candidates WHERE id = ?`, id)
	c, err := scanCandidate(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *CandidateRepo) GetByFingerprint(ctx context.Context, fingerprint string) (*Candidate, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+candidateCols+` FROM recurring_candidates WHERE vendor_fingerprint = ?`, fingerprint)
	c, err := scanCandidate(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// ListSuggestable returns suggested candidates plus snoozed ones whose snooze
// interval has elapsed, highest confidence first.
func (r *CandidateRepo) ListSuggestable(ctx context.Context, now time.Time) ([]Candidate, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT `+candidateCols+` FROM recurring_candidates
	WHERE state = ? OR (state = ? AND snoozed_until IS NOT NULL AND snoozed_until <= ?)
	ORDER BY confidence DESC`,
		CandidateSuggested, CandidateSnoozed, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DismissedFingerprints returns vendor keys the user has said no to.
func (r *CandidateRepo) DismissedFingerprints(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT vendor_fingerprint FROM recurring_candidates WHERE state = ?`, CandidateDismissed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, err
		}
		out[fp] = true
	}
	return out, rows.Err()
}

func (r *CandidateRepo) UpdateState(ctx context.Context, id, state string, snoozedUntil *time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE recurring_candidates SET state = ?, snoozed_until = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, state, snoozedUntil, id)
	return err
}

func scanCandidate(row scanner) (Candidate, error) {
	var c Candidate
	var snoozed sql.NullTime
	if err := row.Scan(&c.ID, &c.VendorFingerprint, &c.VendorDisplayName, &c.Confidence,
		&c.DocumentCount, &c.TypicalAmount, &c.PeriodDays, &c.State, &snoozed,
		&c.CreatedAt, &c.UpdatedAt); err != nil {
		return Candidate{}, err
	}
	if snoozed.Valid {
		c.SnoozedUntil = &snoozed.Time
	}
	return c, nil
}
