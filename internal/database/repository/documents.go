package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// DocumentRepo is the engine's view of the document store. It reads the fields
// matching needs and writes only the recurring-linkage columns; the document's
// own amount and content belong to the capture side.
type DocumentRepo struct {
	db *sql.DB
}

func NewDocumentRepo(db *sql.DB) *DocumentRepo { return &DocumentRepo{db: db} }

const documentCols = `id, vendor_name, tax_id, amount, due_date, invoice_number,
 is_paid, vendor_fingerprint, recurring_template_id, recurring_instance_id,
 created_at, updated_at`

func (r *DocumentRepo) Insert(ctx context.Context, d Document) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO documents(
	 id, vendor_name, tax_id, amount, due_date, invoice_number, is_paid,
	 vendor_fingerprint, recurring_template_id, recurring_instance_id,
	 created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
	`,
		d.ID, d.VendorName, d.TaxID, d.AmountCents, d.DueDate, d.InvoiceNumber,
		d.IsPaid, d.VendorFingerprint, d.RecurringTemplateID, d.RecurringInstanceID)
	return err
}

func (r *DocumentRepo) Get(ctx context.Context, id string) (*Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentCols+` FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// ListByVendorPrefix fetches documents whose stored fingerprint matches the
// vendor-only key, with or without an amount-bucket suffix.
func (r *DocumentRepo) ListByVendorPrefix(ctx context.Context, vendorKey string) ([]Document, error) {
	return r.list(ctx,
		`SELECT `+documentCols+` FROM documents WHERE vendor_fingerprint = ? OR vendor_fingerprint LIKE ? ORDER BY due_date`,
		vendorKey, vendorKey+"#%")
}

// ListAll returns every document; detection's grouping pass works off this.
func (r *DocumentRepo) ListAll(ctx context.Context) ([]Document, error) {
	return r.list(ctx, `SELECT `+documentCols+` FROM documents ORDER BY due_date`)
}

// ListUnlinked returns documents with no instance binding, used for historical
// backfill when a candidate is accepted.
func (r *DocumentRepo) ListUnlinked(ctx context.Context, vendorKey string) ([]Document, error) {
	return r.list(ctx, `
	SELECT `+documentCols+` FROM documents
	WHERE recurring_instance_id IS NULL AND (vendor_fingerprint = ? OR vendor_fingerprint LIKE ?)
	ORDER BY due_date`,
		vendorKey, vendorKey+"#%")
}

func (r *DocumentRepo) list(ctx context.Context, query string, args ...interface{}) ([]Document, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *DocumentRepo) SetFingerprint(ctx context.Context, id, fingerprint string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE documents SET vendor_fingerprint = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, fingerprint, id)
	return err
}

// SetLinkage writes the recurring back-references inside the binder's transaction.
func (r *DocumentRepo) SetLinkage(ctx context.Context, tx *sql.Tx, id string, templateID, instanceID *string) error {
	_, err := tx.ExecContext(ctx, `UPDATE documents SET recurring_template_id = ?, recurring_instance_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, templateID, instanceID, id)
	return err
}

// ClearLinkage removes both back-references outside a transaction.
func (r *DocumentRepo) ClearLinkage(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE documents SET recurring_template_id = NULL, recurring_instance_id = NULL, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}

func (r *DocumentRepo) SetPaid(ctx context.Context, id string, paid bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE documents SET is_paid = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, paid, id)
	return err
}

func (r *DocumentRepo) SetDueDate(ctx context.Context, id string, due *time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE documents SET due_date = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, due, id)
	return err
}

func (r *DocumentRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	return err
}

func scanDocument(row scanner) (Document, error) {
	var d Document
	var taxID, invoice, fp, tmplID, instID sql.NullString
	var due sql.NullTime
	if err := row.Scan(&d.ID, &d.VendorName, &taxID, &d.AmountCents, &due, &invoice,
		&d.IsPaid, &fp, &tmplID, &instID, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return Document{}, err
	}
	if taxID.Valid && strings.TrimSpace(taxID.String) != "" {
		d.TaxID = &taxID.String
	}
	if due.Valid {
		d.DueDate = &due.Time
	}
	if invoice.Valid {
		d.InvoiceNumber = &invoice.String
	}
	if fp.Valid {
		d.VendorFingerprint = &fp.String
	}
	if tmplID.Valid {
		d.RecurringTemplateID = &tmplID.String
	}
	if instID.Valid {
		d.RecurringInstanceID = &instID.String
	}
	return d, nil
}
