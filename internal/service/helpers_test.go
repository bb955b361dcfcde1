package service

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/billmind/billmind/internal/config"
	"github.com/billmind/billmind/internal/database"
	"github.com/billmind/billmind/internal/database/repository"
	"github.com/billmind/billmind/internal/fingerprint"
	"github.com/billmind/billmind/internal/remind"
)

// env wires the full engine against a throwaway sqlite database.
type env struct {
	db        *sql.DB
	docs      *repository.DocumentRepo
	instances *repository.InstanceRepo
	tmplRepo  *repository.TemplateRepo
	candRepo  *repository.CandidateRepo

	templates *TemplateService
	scheduler *SchedulerService
	binder    *BinderService
	matcher   *MatchService
	lifecycle *LifecycleService
	detection *DetectionService

	calendar *stubCalendar
	notifier *stubNotifier
}

func newEnv(t *testing.T) *env {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	migrations, err := filepath.Abs("../database/migrations")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(dbPath, migrations))

	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	e := &env{
		db:        db,
		docs:      repository.NewDocumentRepo(db),
		instances: repository.NewInstanceRepo(db),
		tmplRepo:  repository.NewTemplateRepo(db),
		candRepo:  repository.NewCandidateRepo(db),
		calendar:  &stubCalendar{},
		notifier:  &stubNotifier{},
	}

	matchCfg := config.MatchingConfig{
		AutoLinkMaxDiff: 0.30,
		ConfirmMaxDiff:  0.50,
		ToleranceDays:   3,
		NameFuzzRatio:   0.2,
	}
	e.templates = &TemplateService{Templates: e.tmplRepo, Documents: e.docs}
	e.scheduler = &SchedulerService{Instances: e.instances, Calendar: e.calendar, Notifier: e.notifier}
	e.binder = &BinderService{DB: db, Documents: e.docs, Instances: e.instances, Templates: e.tmplRepo}
	e.matcher = &MatchService{Templates: e.tmplRepo, Documents: e.docs, Scheduler: e.scheduler, Binder: e.binder, Cfg: matchCfg}
	e.lifecycle = &LifecycleService{
		Documents: e.docs, Instances: e.instances, Templates: e.tmplRepo,
		Scheduler: e.scheduler, Calendar: e.calendar, Notifier: e.notifier,
	}
	e.detection = &DetectionService{
		Documents: e.docs, Templates: e.tmplRepo, Candidates: e.candRepo,
		TemplateService: e.templates, Scheduler: e.scheduler, Binder: e.binder,
		Cfg:           config.DetectionConfig{MinDocuments: 3, MinConfidence: 0.5},
		NameFuzzRatio: matchCfg.NameFuzzRatio,
	}
	return e
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// insertDoc stores a document with its fingerprint stamped, the way a
// finalized scan arrives at the engine.
func (e *env) insertDoc(t *testing.T, vendor string, amountCents int64, due time.Time, paid bool) repository.Document {
	t.Helper()
	key, _ := fingerprint.WithAmount(vendor, "", amountCents)
	d := due.UTC()
	doc := repository.Document{
		ID:                uuid.NewString(),
		VendorName:        vendor,
		AmountCents:       amountCents,
		DueDate:           &d,
		IsPaid:            paid,
		VendorFingerprint: &key,
	}
	require.NoError(t, e.docs.Insert(testCtx(t), doc))
	return doc
}

// founding creates a template from a fresh document with the given due date.
func (e *env) founding(t *testing.T, vendor string, amountCents int64, due time.Time) (repository.Document, repository.Template) {
	t.Helper()
	doc := e.insertDoc(t, vendor, amountCents, due, false)
	tmpl, err := e.templates.CreateFromDocument(testCtx(t), doc, TemplateOptions{
		ReminderOffsets: []int{7, 1},
		ToleranceDays:   3,
	})
	require.NoError(t, err)
	return doc, tmpl
}

// stubCalendar records calls and can be told to fail.
type stubCalendar struct {
	created, updated, deleted int
	fail                      bool
}

func (c *stubCalendar) CreateEvent(context.Context, remind.Event) (string, error) {
	if c.fail {
		return "", errors.New("calendar unavailable")
	}
	c.created++
	return uuid.NewString(), nil
}

func (c *stubCalendar) UpdateEvent(context.Context, string, remind.Event) error {
	if c.fail {
		return errors.New("calendar unavailable")
	}
	c.updated++
	return nil
}

func (c *stubCalendar) DeleteEvent(context.Context, string) error {
	if c.fail {
		return errors.New("calendar unavailable")
	}
	c.deleted++
	return nil
}

// stubNotifier records scheduled/cancelled reminder counts.
type stubNotifier struct {
	scheduled, cancelled int
	fail                 bool
}

func (n *stubNotifier) Schedule(_ context.Context, reminders []remind.Reminder) ([]string, error) {
	if n.fail {
		return nil, errors.New("notifier unavailable")
	}
	ids := make([]string, len(reminders))
	for i := range ids {
		ids[i] = uuid.NewString()
	}
	n.scheduled += len(reminders)
	return ids, nil
}

func (n *stubNotifier) Cancel(_ context.Context, ids []string) error {
	if n.fail {
		return errors.New("notifier unavailable")
	}
	n.cancelled += len(ids)
	return nil
}
