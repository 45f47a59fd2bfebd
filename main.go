package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jmoiron/sqlx"

	"github.com/example/tradeprep/internal/api"
	"github.com/example/tradeprep/internal/bot"
	"github.com/example/tradeprep/internal/config"
	"github.com/example/tradeprep/internal/database"
	"github.com/example/tradeprep/internal/importer"
	"github.com/example/tradeprep/internal/logger"
	"github.com/example/tradeprep/internal/redisstore"
	"github.com/example/tradeprep/internal/scheduler"
	"github.com/example/tradeprep/internal/session"
	"github.com/example/tradeprep/internal/spaced_repetition"
	"github.com/example/tradeprep/pkg/models"
)

const usage = `usage:
  tradeprep serve                 run the HTTP API, Telegram bot and reminder scheduler
  tradeprep import [flags] <file> load questions from .xlsx, .csv, .yaml or .json`

// progressStore is what both persistence backends provide
type progressStore interface {
	session.ProgressRepository
	scheduler.DueCounter
	bot.ProgressResetter
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Mode, logger.Options{Redact: cfg.Log.Redact, HashSalt: cfg.Log.HashSalt})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "serve":
		err = serve(ctx, cfg, log)
	case "import":
		err = runImport(ctx, cfg, log, os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal("tradeprep failed", "command", os.Args[1], "error", err)
	}
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if !cfg.HTTP.Enabled && cfg.Telegram.Token == "" {
		return errors.New("nothing to serve: enable HTTP or configure a Telegram token")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("database ready", "type", cfg.Database.Type)

	items := database.NewItemRepository(db)
	users := database.NewUserRepository(db)
	stats := database.NewStatisticsRepository(db)
	results := database.NewSessionResultRepository(db)

	progress, closeProgress, err := openProgress(ctx, cfg, db, items, log)
	if err != nil {
		return err
	}
	defer closeProgress()

	policy := spaced_repetition.QualityPolicy{
		Correct:   models.Quality(cfg.Session.CorrectQuality),
		Incorrect: models.Quality(cfg.Session.IncorrectQuality),
	}
	newSession := func(userID string) *session.Controller {
		return session.NewController(items, progress, userID,
			session.WithQualityPolicy(policy),
			session.WithLogger(log),
			session.WithWriteTimeout(cfg.Session.WriteTimeout),
		)
	}

	var wg sync.WaitGroup
	errc := make(chan error, 2)

	if cfg.Telegram.Token != "" {
		b, err := bot.New(cfg.Telegram, bot.Deps{
			Users:      users,
			Catalog:    items,
			Stats:      stats,
			Results:    results,
			Progress:   progress,
			NewSession: newSession,
			Logger:     log,
		})
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Start(ctx); err != nil {
				errc <- fmt.Errorf("telegram bot: %w", err)
			}
		}()

		if cfg.Scheduler.Enabled {
			sched := scheduler.New(cfg.Scheduler, users, progress, b, log)
			if err := sched.Start(); err != nil {
				return err
			}
			defer sched.Stop()
			b.SetReminderChecker(sched)
		}
	} else {
		log.Info("telegram bot disabled, no token configured")
	}

	if cfg.HTTP.Enabled {
		srv := api.NewServer(cfg.HTTP, api.Deps{
			Catalog:    items,
			Stats:      stats,
			Results:    results,
			NewSession: newSession,
			Logger:     log,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx, cfg.Session.IdleTimeout); err != nil {
				errc <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	log.Info("tradeprep started. Press Ctrl+C to stop.")
	select {
	case <-ctx.Done():
		log.Info("shutting down gracefully...")
	case err = <-errc:
	}
	cancel()
	wg.Wait()
	return err
}

func openProgress(ctx context.Context, cfg *config.Config, db *sqlx.DB, items *database.ItemRepository, log *logger.Logger) (progressStore, func(), error) {
	switch cfg.Progress.Backend {
	case "redis":
		client, err := redisstore.Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		log.Info("progress stored in redis", "address", cfg.Redis.Address)
		return redisstore.NewProgressStore(client, items, log), func() { client.Close() }, nil
	default:
		return database.NewProgressRepository(db), func() {}, nil
	}
}

func runImport(ctx context.Context, cfg *config.Config, log *logger.Logger, args []string) error {
	importCfg := importer.DefaultImportConfig()

	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.StringVar(&importCfg.SheetName, "sheet", "", "sheet to read from a workbook (default: first sheet)")
	fs.IntVar(&importCfg.StartRow, "start-row", importCfg.StartRow, "first data row of a spreadsheet or CSV")
	fs.StringVar(&importCfg.DefaultCategory, "category", "", "category for entries that have none")
	dryRun := fs.Bool("dry-run", false, "validate the file without saving")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("import needs exactly one file")
	}
	importCfg.FilePath = fs.Arg(0)

	var (
		result *importer.ImportResult
		err    error
	)
	if *dryRun {
		_, result, err = importer.ParseFile(importCfg)
	} else {
		var db *sqlx.DB
		db, err = database.Open(cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		result, err = importer.New(database.NewItemRepository(db), log).Import(ctx, importCfg)
	}
	if err != nil {
		return err
	}

	fmt.Printf("processed %d, saved %d, skipped %d\n", result.TotalProcessed, result.Saved, result.Skipped)
	for _, e := range result.Errors {
		fmt.Println("  " + e)
	}
	return nil
}
