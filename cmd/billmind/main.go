package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/billmind/billmind/internal/config"
	"github.com/billmind/billmind/internal/database"
	"github.com/billmind/billmind/internal/database/repository"
	"github.com/billmind/billmind/internal/remind"
	"github.com/billmind/billmind/internal/service"
	"github.com/billmind/billmind/internal/testdata"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		log.Fatalf("mkdir db dir: %v", err)
	}

	if err := database.RunMigrations(cfg.Database.Path, "internal/database/migrations"); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	// repositories
	tmplRepo := repository.NewTemplateRepo(db)
	instRepo := repository.NewInstanceRepo(db)
	candRepo := repository.NewCandidateRepo(db)
	docRepo := repository.NewDocumentRepo(db)

	// collaborators: real delivery lives on the platform side
	calendar := remind.LogCalendar{}
	notifier := remind.LogNotifier{}

	// services
	templates := &service.TemplateService{Templates: tmplRepo, Documents: docRepo}
	scheduler := &service.SchedulerService{Instances: instRepo, Calendar: calendar, Notifier: notifier}
	binder := &service.BinderService{DB: db, Documents: docRepo, Instances: instRepo, Templates: tmplRepo}
	matcher := &service.MatchService{Templates: tmplRepo, Documents: docRepo, Scheduler: scheduler, Binder: binder, Cfg: cfg.Matching}
	detection := &service.DetectionService{
		Documents:       docRepo,
		Templates:       tmplRepo,
		Candidates:      candRepo,
		TemplateService: templates,
		Scheduler:       scheduler,
		Binder:          binder,
		Cfg:             cfg.Detection,
		NameFuzzRatio:   cfg.Matching.NameFuzzRatio,
	}
	cmd := "upcoming"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "match":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "usage: billmind match <vendor> <amount-dollars>")
			os.Exit(2)
		}
		dollars, err := strconv.ParseFloat(os.Args[3], 64)
		if err != nil {
			log.Fatalf("match: bad amount: %v", err)
		}
		outcome, err := matcher.CheckForFuzzyMatch(ctx, os.Args[2], "", int64(math.Round(dollars*100)))
		if err != nil {
			log.Fatalf("match: %v", err)
		}
		fmt.Printf("%s", outcome.Kind)
		if outcome.TemplateID != "" {
			fmt.Printf(" template=%s diff=%.0f%%", outcome.TemplateID, outcome.PercentDiff*100)
		}
		fmt.Println()
		for _, c := range outcome.Candidates {
			fmt.Printf("  candidate %s (%s) diff=%.0f%%\n",
				c.Template.VendorDisplayName, c.Template.ID, c.PercentDiff*100)
		}

	case "detect":
		n, err := detection.RunDetectionAnalysis(ctx)
		if err != nil {
			log.Fatalf("detect: %v", err)
		}
		fmt.Printf("detection updated %d candidate(s)\n", n)

	case "candidates":
		cands, err := detection.FetchSuggestionCandidates(ctx)
		if err != nil {
			log.Fatalf("candidates: %v", err)
		}
		for _, c := range cands {
			fmt.Printf("%-36s %-28s conf=%.2f docs=%d every ~%.0fd\n",
				c.ID, c.VendorDisplayName, c.Confidence, c.DocumentCount, c.PeriodDays)
		}

	case "upcoming":
		instances, err := scheduler.FetchUpcoming(ctx, 20)
		if err != nil {
			log.Fatalf("upcoming: %v", err)
		}
		for _, in := range instances {
			tmpl, err := templates.FetchByID(ctx, in.TemplateID)
			if err != nil {
				log.Printf("warn: %v", err)
				continue
			}
			fmt.Printf("%-28s %s  %8.2f  [%s]\n",
				tmpl.VendorDisplayName, in.DueDate().Format(time.DateOnly),
				float64(in.Amount(tmpl.TypicalAmount))/100, in.Status)
		}

	case "missed":
		n, err := scheduler.MarkMissed(ctx, time.Now())
		if err != nil {
			log.Fatalf("missed: %v", err)
		}
		fmt.Printf("marked %d instance(s) missed\n", n)

	case "seed":
		if err := testdata.SeedHistory(ctx, docRepo, testdata.DefaultVendors); err != nil {
			log.Fatalf("seed: %v", err)
		}
		fmt.Println("seeded synthetic document history")

	default:
		fmt.Fprintf(os.Stderr, "usage: billmind [match|detect|candidates|upcoming|missed|seed]\n")
		os.Exit(2)
	}
}
