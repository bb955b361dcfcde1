package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// TemplateRepo handles recurring templates.
type TemplateRepo struct {
	db *sql.DB
}

func NewTemplateRepo(db *sql.DB) *TemplateRepo { return &TemplateRepo{db: db} }

const templateCols = `id, vendor_fingerprint, vendor_display_name, category, typical_amount,
 amount_min, amount_max, tolerance_days, due_day, reminder_offsets, is_active,
 creation_source, paid_instance_count, start_date, created_at, updated_at`

func (r *TemplateRepo) Insert(ctx context.Context, t Template) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO recurring_templates(
	 id, vendor_fingerprint, vendor_display_name, category, typical_amount,
	 amount_min, amount_max, tolerance_days, due_day, reminder_offsets, is_active,
	 creation_source, paid_instance_count, start_date, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
	`,
		t.ID, t.VendorFingerprint, t.VendorDisplayName, t.Category, t.TypicalAmount,
		t.AmountMin, t.AmountMax, t.ToleranceDays, t.DueDay, joinInts(t.ReminderOffsets),
		t.IsActive, t.CreationSource, t.PaidInstanceCount, t.StartDate)
	return err
}

func (r *TemplateRepo) Get(ctx context.Context, id string) (*Template, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+templateCols+` FROM recurring_templates WHERE id = ?`, id)
	t, err := scanTemplate(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (r *TemplateRepo) ListActive(ctx context.Context) ([]Template, error) {
	return r.list(ctx, `SELECT `+templateCols+` FROM recurring_templates WHERE is_active = 1 ORDER BY vendor_display_name`)
}

func (r *TemplateRepo) ListAll(ctx context.Context) ([]Template, error) {
	return r.list(ctx, `SELECT `+templateCols+` FROM recurring_templates ORDER BY vendor_display_name`)
}

// ListByVendorPrefix returns templates whose fingerprint starts with the
// vendor-only key, ignoring the amount-bucket suffix.
func (r *TemplateRepo) ListByVendorPrefix(ctx context.Context, vendorKey string) ([]Template, error) {
	return r.list(ctx,
		`SELECT `+templateCols+` FROM recurring_templates WHERE is_active = 1 AND (vendor_fingerprint = ? OR vendor_fingerprint LIKE ?) ORDER BY typical_amount`,
		vendorKey, vendorKey+"#%")
}

func (r *TemplateRepo) list(ctx context.Context, query string, args ...interface{}) ([]Template, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// WidenAmountRange grows [amount_min, amount_max] to include amount; it never
// narrows, and the typical amount moves to the midpoint of the widened range.
func (r *TemplateRepo) WidenAmountRange(ctx context.Context, id string, amount int64) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE recurring_templates SET
	 amount_min = MIN(amount_min, ?),
	 amount_max = MAX(amount_max, ?),
	 typical_amount = (MIN(amount_min, ?) + MAX(amount_max, ?)) / 2,
	 updated_at = CURRENT_TIMESTAMP
	WHERE id = ?`, amount, amount, amount, amount, id)
	return err
}

func (r *TemplateRepo) SetActive(ctx context.Context, id string, active bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE recurring_templates SET is_active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, active, id)
	return err
}

func (r *TemplateRepo) IncrementPaidCount(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE recurring_templates SET paid_instance_count = paid_instance_count + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}

// ActiveFingerprints returns the vendor-only keys of all active templates,
// used by detection to skip vendors that are already tracked.
func (r *TemplateRepo) ActiveFingerprints(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT vendor_fingerprint FROM recurring_templates WHERE is_active = 1`)
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
		// strip the amount-bucket suffix
		if i := strings.IndexByte(fp, '#'); i >= 0 {
			fp = fp[:i]
		}
		out[fp] = true
	}
	return out, rows.Err()
}

func scanTemplate(row scanner) (Template, error) {
	var t Template
	var category sql.NullString
	var offsets string
	var start time.Time
	if err := row.Scan(&t.ID, &t.VendorFingerprint, &t.VendorDisplayName, &category,
		&t.TypicalAmount, &t.AmountMin, &t.AmountMax, &t.ToleranceDays, &t.DueDay,
		&offsets, &t.IsActive, &t.CreationSource, &t.PaidInstanceCount, &start,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return Template{}, err
	}
	if category.Valid {
		t.Category = &category.String
	}
	t.ReminderOffsets = splitInts(offsets)
	t.StartDate = start
	return t, nil
}

// scanner handles both Row and Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}
