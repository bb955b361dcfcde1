package repository

import (
	"context"
	"database/sql"
	"time"
)

// InstanceRepo handles recurring instances.
type InstanceRepo struct {
	db *sql.DB
}

func NewInstanceRepo(db *sql.DB) *InstanceRepo { return &InstanceRepo{db: db} }

const instanceCols = `id, template_id, period_key, expected_due_date, final_due_date,
 status, matched_document_id, effective_amount, invoice_number, calendar_event_id,
 notification_ids, notifications_scheduled, created_at, updated_at`

// Insert ignores conflicts on (template_id, period_key) so repeated generation
// of the same period is a no-op.
func (r *InstanceRepo) Insert(ctx context.Context, in Instance) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT OR IGNORE INTO recurring_instances(
	 id, template_id, period_key, expected_due_date, final_due_date, status,
	 matched_document_id, effective_amount, invoice_number, calendar_event_id,
	 notification_ids, notifications_scheduled, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
	`,
		in.ID, in.TemplateID, in.PeriodKey, in.ExpectedDueDate, in.FinalDueDate,
		in.Status, in.MatchedDocumentID, in.EffectiveAmount, in.InvoiceNumber,
		in.CalendarEventID, joinStrs(in.NotificationIDs), in.NotificationsScheduled)
	return err
}

func (r *InstanceRepo) Get(ctx context.Context, id string) (*Instance, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+instanceCols+` FROM recurring_instances WHERE id = ?`, id)
	in, err := scanInstance(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &in, nil
}

func (r *InstanceRepo) GetByPeriod(ctx context.Context, templateID, periodKey string) (*Instance, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+instanceCols+` FROM recurring_instances WHERE template_id = ? AND period_key = ?`,
		templateID, periodKey)
	in, err := scanInstance(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &in, nil
}

func (r *InstanceRepo) ListForTemplate(ctx context.Context, templateID string) ([]Instance, error) {
	return r.list(ctx,
		`SELECT `+instanceCols+` FROM recurring_instances WHERE template_id = ? ORDER BY period_key`,
		templateID)
}

// ListUpcoming returns non-terminal instances due from now on, soonest first.
func (r *InstanceRepo) ListUpcoming(ctx context.Context, from time.Time, limit int) ([]Instance, error) {
	return r.list(ctx, `
	SELECT `+instanceCols+` FROM recurring_instances
	WHERE status IN (?, ?) AND expected_due_date >= ?
	ORDER BY expected_due_date ASC LIMIT ?`,
		StatusExpected, StatusMatched, from, limit)
}

// ListExpectedBefore returns expected instances whose due date has passed.
func (r *InstanceRepo) ListExpectedBefore(ctx context.Context, cutoff time.Time) ([]Instance, error) {
	return r.list(ctx,
		`SELECT `+instanceCols+` FROM recurring_instances WHERE status = ? AND expected_due_date < ?`,
		StatusExpected, cutoff)
}

// ListFuture returns expected/matched instances for a template due at or after
// cutoff; used by future-deletion, which never touches terminal instances.
func (r *InstanceRepo) ListFuture(ctx context.Context, templateID string, cutoff time.Time) ([]Instance, error) {
	return r.list(ctx, `
	SELECT `+instanceCols+` FROM recurring_instances
	WHERE template_id = ? AND status IN (?, ?) AND expected_due_date >= ?
	ORDER BY period_key`,
		templateID, StatusExpected, StatusMatched, cutoff)
}

func (r *InstanceRepo) list(ctx context.Context, query string, args ...interface{}) ([]Instance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Instance
	for rows.Next() {
		in, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (r *InstanceRepo) UpdateStatus(ctx context.Context, id, status string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE recurring_instances SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	return err
}

// Bind sets the matched-document fields in one statement. Used inside the
// binder's transaction via ExecContext on the tx.
func (r *InstanceRepo) Bind(ctx context.Context, tx *sql.Tx, id, documentID, status string, amount int64, invoiceNumber *string, finalDue *time.Time) error {
	_, err := tx.ExecContext(ctx, `
	UPDATE recurring_instances SET
	 matched_document_id = ?, status = ?, effective_amount = ?, invoice_number = ?,
	 final_due_date = ?, updated_at = CURRENT_TIMESTAMP
	WHERE id = ?`, documentID, status, amount, invoiceNumber, finalDue, id)
	return err
}

// ClearMatch reverts an instance to expected and clears everything a binding set.
func (r *InstanceRepo) ClearMatch(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE recurring_instances SET
	 matched_document_id = NULL, status = ?, effective_amount = NULL,
	 invoice_number = NULL, final_due_date = NULL, updated_at = CURRENT_TIMESTAMP
	WHERE id = ?`, StatusExpected, id)
	return err
}

// DetachDocument nulls only the matched-document reference, leaving status and
// effective fields alone. Used when a paid instance's document goes away: the
// paid history stays, the dangling id does not.
func (r *InstanceRepo) DetachDocument(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE recurring_instances SET matched_document_id = NULL, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}

func (r *InstanceRepo) SetFinalDueDate(ctx context.Context, id string, due *time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE recurring_instances SET final_due_date = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, due, id)
	return err
}

func (r *InstanceRepo) SetNotifications(ctx context.Context, id string, calendarEventID *string, notificationIDs []string, scheduled bool) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE recurring_instances SET
	 calendar_event_id = ?, notification_ids = ?, notifications_scheduled = ?,
	 updated_at = CURRENT_TIMESTAMP
	WHERE id = ?`, calendarEventID, joinStrs(notificationIDs), scheduled, id)
	return err
}

func (r *InstanceRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM recurring_instances WHERE id = ?`, id)
	return err
}

func scanInstance(row scanner) (Instance, error) {
	var in Instance
	var finalDue sql.NullTime
	var docID, invoice, calEvent sql.NullString
	var amount sql.NullInt64
	var notifIDs string
	if err := row.Scan(&in.ID, &in.TemplateID, &in.PeriodKey, &in.ExpectedDueDate,
		&finalDue, &in.Status, &docID, &amount, &invoice, &calEvent, &notifIDs,
		&in.NotificationsScheduled, &in.CreatedAt, &in.UpdatedAt); err != nil {
		return Instance{}, err
	}
	if finalDue.Valid {
		in.FinalDueDate = &finalDue.Time
	}
	if docID.Valid {
		in.MatchedDocumentID = &docID.String
	}
	if amount.Valid {
		in.EffectiveAmount = &amount.Int64
	}
	if invoice.Valid {
		in.InvoiceNumber = &invoice.String
	}
	if calEvent.Valid {
		in.CalendarEventID = &calEvent.String
	}
	in.NotificationIDs = splitStrs(notifIDs)
	return in, nil
}
