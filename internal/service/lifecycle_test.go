package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/billmind/billmind/internal/database/repository"
)

func TestDocumentDeletedRevertsInstance(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := testCtx(t)

	_, tmpl := e.founding(t, "City Power & Light", 10000, marchDue)
	in, err := e.scheduler.EnsureInstance(ctx, tmpl, 2025, time.April)
	require.NoError(t, err)
	require.NoError(t, e.scheduler.ScheduleNotifications(ctx, in, tmpl))

	due := time.Date(2025, time.April, 15, 0, 0, 0, 0, time.UTC)
	doc := e.insertDoc(t, "City Power & Light", 10000, due, false)
	bound, err := e.instances.Get(ctx, in.ID)
	require.NoError(t, err)
	require.NoError(t, e.binder.AttachDocument(ctx, doc, *bound, tmpl))

	require.NoError(t, e.lifecycle.HandleDocumentDeleted(ctx, doc.ID))

	// instance survives the document, back to expected with the slate clean
	got, err := e.instances.Get(ctx, in.ID)
	require.NoError(t, err)
	require.Equal(t, repository.StatusExpected, got.Status)
	require.Nil(t, got.MatchedDocumentID)
	require.Nil(t, got.EffectiveAmount)
	require.Nil(t, got.FinalDueDate)
	require.Equal(t, 1, e.calendar.deleted)
	require.Equal(t, 2, e.notifier.cancelled)

	gone, err := e.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.Nil(t, gone)

	// paid counter untouched by an unpaid document's removal
	stored, err := e.templates.FetchByID(ctx, tmpl.ID)
	require.NoError(t, err)
	require.Zero(t, stored.PaidInstanceCount)
}

func TestDocumentDeletedPaidInstanceKeepsStatus(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := testCtx(t)

	_, tmpl := e.founding(t, "Streamflix", 1799, marchDue)
	in, err := e.scheduler.EnsureInstance(ctx, tmpl, 2025, time.April)
	require.NoError(t, err)

	due := time.Date(2025, time.April, 15, 0, 0, 0, 0, time.UTC)
	doc := e.insertDoc(t, "Streamflix", 1799, due, true)
	require.NoError(t, e.binder.AttachDocument(ctx, doc, in, tmpl))

	require.NoError(t, e.lifecycle.HandleDocumentDeleted(ctx, doc.ID))

	// paid is terminal: the history stays even though the evidence is gone
	got, err := e.instances.Get(ctx, in.ID)
	require.NoError(t, err)
	require.Equal(t, repository.StatusPaid, got.Status)
	require.Nil(t, got.MatchedDocumentID)
	require.NotNil(t, got.EffectiveAmount)

	stored, err := e.templates.FetchByID(ctx, tmpl.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stored.PaidInstanceCount)
}

func TestDocumentPaidPropagatesOnce(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := testCtx(t)

	_, tmpl := e.founding(t, "Aqua Utility Co", 5210, marchDue)
	in, err := e.scheduler.EnsureInstance(ctx, tmpl, 2025, time.April)
	require.NoError(t, err)
	require.NoError(t, e.scheduler.ScheduleNotifications(ctx, in, tmpl))

	due := time.Date(2025, time.April, 15, 0, 0, 0, 0, time.UTC)
	doc := e.insertDoc(t, "Aqua Utility Co", 5210, due, false)
	bound, err := e.instances.Get(ctx, in.ID)
	require.NoError(t, err)
	require.NoError(t, e.binder.AttachDocument(ctx, doc, *bound, tmpl))

	require.NoError(t, e.lifecycle.HandleDocumentPaid(ctx, doc.ID))
	// a second payment event is a no-op
	require.NoError(t, e.lifecycle.HandleDocumentPaid(ctx, doc.ID))

	got, err := e.instances.Get(ctx, in.ID)
	require.NoError(t, err)
	require.Equal(t, repository.StatusPaid, got.Status)
	require.False(t, got.NotificationsScheduled)
	require.Empty(t, got.NotificationIDs)

	stored, err := e.templates.FetchByID(ctx, tmpl.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stored.PaidInstanceCount)
	require.Equal(t, 1, e.calendar.deleted)
}

func TestDueDateChangedKeepsPeriod(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := testCtx(t)

	_, tmpl := e.founding(t, "City Power & Light", 10000, marchDue)
	in, err := e.scheduler.EnsureInstance(ctx, tmpl, 2025, time.April)
	require.NoError(t, err)
	require.NoError(t, e.scheduler.ScheduleNotifications(ctx, in, tmpl))

	due := time.Date(2025, time.April, 15, 0, 0, 0, 0, time.UTC)
	doc := e.insertDoc(t, "City Power & Light", 10000, due, false)
	bound, err := e.instances.Get(ctx, in.ID)
	require.NoError(t, err)
	require.NoError(t, e.binder.AttachDocument(ctx, doc, *bound, tmpl))

	moved := time.Date(2025, time.April, 22, 0, 0, 0, 0, time.UTC)
	require.NoError(t, e.lifecycle.HandleDueDateChanged(ctx, doc.ID, moved))

	got, err := e.instances.Get(ctx, in.ID)
	require.NoError(t, err)
	require.Equal(t, "2025-04", got.PeriodKey, "period slot never moves")
	require.Equal(t, in.ExpectedDueDate, got.ExpectedDueDate)
	require.NotNil(t, got.FinalDueDate)
	require.True(t, got.FinalDueDate.Equal(moved))
	require.Equal(t, 1, e.calendar.updated)

	d, err := e.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, d.DueDate.Equal(moved))
}

func TestUnlinkDocumentReschedules(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := testCtx(t)

	_, tmpl := e.founding(t, "Streamflix", 1799, marchDue)
	in, err := e.scheduler.EnsureInstance(ctx, tmpl, 2025, time.April)
	require.NoError(t, err)
	require.NoError(t, e.scheduler.ScheduleNotifications(ctx, in, tmpl))

	due := time.Date(2025, time.April, 15, 0, 0, 0, 0, time.UTC)
	doc := e.insertDoc(t, "Streamflix", 1799, due, false)
	bound, err := e.instances.Get(ctx, in.ID)
	require.NoError(t, err)
	require.NoError(t, e.binder.AttachDocument(ctx, doc, *bound, tmpl))

	require.NoError(t, e.lifecycle.UnlinkDocument(ctx, doc.ID))

	got, err := e.instances.Get(ctx, in.ID)
	require.NoError(t, err)
	require.Equal(t, repository.StatusExpected, got.Status)
	require.Nil(t, got.MatchedDocumentID)
	// old reminders cancelled, fresh ones in place for the active template
	require.True(t, got.NotificationsScheduled)
	require.Equal(t, 2, e.calendar.created)
	require.Equal(t, 2, e.notifier.cancelled)

	d, err := e.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.Nil(t, d.RecurringInstanceID)
	require.Nil(t, d.RecurringTemplateID)

	// unbound document unlinks are a no-op
	require.NoError(t, e.lifecycle.UnlinkDocument(ctx, doc.ID))
}

func TestCancelInstance(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := testCtx(t)

	_, tmpl := e.founding(t, "Aqua Utility Co", 5210, marchDue)
	in, err := e.scheduler.EnsureInstance(ctx, tmpl, 2025, time.June)
	require.NoError(t, err)
	require.NoError(t, e.scheduler.ScheduleNotifications(ctx, in, tmpl))

	require.NoError(t, e.lifecycle.CancelInstance(ctx, in.ID))

	got, err := e.instances.Get(ctx, in.ID)
	require.NoError(t, err)
	require.Equal(t, repository.StatusCancelled, got.Status)
	require.False(t, got.NotificationsScheduled)
	require.Equal(t, 1, e.calendar.deleted)

	// a cancelled slot can never be bound afterwards
	doc := e.insertDoc(t, "Aqua Utility Co", 5210,
		time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC), false)
	require.ErrorIs(t, e.binder.AttachDocument(ctx, doc, *got, tmpl), ErrValidation)
}

func TestCancelPaidInstanceRejected(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := testCtx(t)

	_, tmpl := e.founding(t, "Streamflix", 1799, marchDue)
	in, err := e.scheduler.EnsureInstance(ctx, tmpl, 2025, time.April)
	require.NoError(t, err)
	doc := e.insertDoc(t, "Streamflix", 1799,
		time.Date(2025, time.April, 15, 0, 0, 0, 0, time.UTC), true)
	require.NoError(t, e.binder.AttachDocument(ctx, doc, in, tmpl))

	require.ErrorIs(t, e.lifecycle.CancelInstance(ctx, in.ID), ErrValidation)
}

func TestDeleteFutureInstancesPreservesPaid(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	ctx := testCtx(t)

	_, tmpl := e.founding(t, "City Power & Light", 10000, marchDue)

	paid, err := e.scheduler.EnsureInstance(ctx, tmpl, 2097, time.January)
	require.NoError(t, err)
	doc := e.insertDoc(t, "City Power & Light", 10000,
		time.Date(2097, time.January, 15, 0, 0, 0, 0, time.UTC), true)
	require.NoError(t, e.binder.AttachDocument(ctx, doc, paid, tmpl))

	feb, err := e.scheduler.EnsureInstance(ctx, tmpl, 2097, time.February)
	require.NoError(t, err)
	mar, err := e.scheduler.EnsureInstance(ctx, tmpl, 2097, time.March)
	require.NoError(t, err)

	cutoff := time.Date(2097, time.January, 1, 0, 0, 0, 0, time.UTC)
	n, err := e.lifecycle.DeleteFutureInstances(ctx, tmpl.ID, cutoff, true)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	kept, err := e.instances.Get(ctx, paid.ID)
	require.NoError(t, err)
	require.Equal(t, repository.StatusPaid, kept.Status)

	for _, id := range []string{feb.ID, mar.ID} {
		gone, err := e.instances.Get(ctx, id)
		require.NoError(t, err)
		require.Nil(t, gone)
	}

	stored, err := e.templates.FetchByID(ctx, tmpl.ID)
	require.NoError(t, err)
	require.False(t, stored.IsActive)
}
