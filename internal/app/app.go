package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"FiveSBot/internal/config"
	"FiveSBot/internal/infrastructure/registry"
	"FiveSBot/internal/infrastructure/scheduler"
	"FiveSBot/internal/infrastructure/storage"
	"FiveSBot/internal/infrastructure/telegram"
	"FiveSBot/internal/ledger"
	"FiveSBot/internal/logging"
	"FiveSBot/internal/ports"
	"FiveSBot/internal/report"
	"FiveSBot/internal/session"
	"FiveSBot/internal/usecase"
)

// Application wires configuration to the core components and owns their
// lifecycle.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	bot       *telegram.Bot
	scheduler *usecase.Scheduler
	db        *sql.DB
}

// New builds the full component graph. It loads persisted ledger state and
// the warehouse roster, so a broken data dir or spreadsheet fails fast here.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	app := &Application{cfg: cfg, logger: baseLogger}

	store, err := app.openStore(ctx)
	if err != nil {
		return nil, err
	}

	roster, err := registry.NewSnapshot(ctx, registry.NewExcelSource(
		cfg.Registry.Path, cfg.Registry.Sheet, baseLogger.With("component", "registry")))
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}

	led, err := ledger.New(ctx, store, ledger.Config{
		RequiredCount:    cfg.Tracking.RequiredCount,
		NearDupThreshold: cfg.Tracking.NearDupThreshold,
		LookbackDays:     cfg.Tracking.LookbackDays,
	}, baseLogger.With("component", "ledger"))
	if err != nil {
		return nil, err
	}

	client := telegram.NewClient(cfg.Telegram.BotToken)

	sessions := session.NewManager(session.Config{
		Policy:     session.Policy(cfg.Progress.Policy),
		EditWindow: cfg.Progress.EditWindow(),
		FlushDelay: cfg.Progress.FlushDelay(),
		Required:   cfg.Tracking.RequiredCount,
	}, client, baseLogger.With("component", "session"))

	intake := usecase.NewIntake(usecase.IntakeDeps{
		Ledger:   led,
		Sessions: sessions,
		Resolver: roster,
		Cutoff:   cfg.Cutoff(),
		Location: cfg.Location(),
		Logger:   baseLogger.With("component", "intake"),
	})

	app.bot = telegram.NewBot(client, intake, roster, cfg.Telegram.PollTimeout(),
		baseLogger.With("component", "bot"))

	generator := report.NewGenerator(report.Config{
		Cutoff:   cfg.Cutoff(),
		Location: cfg.Location(),
		Required: cfg.Tracking.RequiredCount,
	}, led, roster, baseLogger.With("component", "report"))

	sender := telegram.NewReportSender(client, cfg.Telegram.GroupID, app.bot.LastChatID,
		baseLogger.With("component", "report-sender"))

	job := usecase.NewReportJob(generator, sender, baseLogger.With("component", "report-job"))
	driver := scheduler.NewDailyScheduler(cfg.ReportTime(), cfg.Location())
	app.scheduler = usecase.NewScheduler(driver, job, baseLogger.With("component", "scheduler"))

	return app, nil
}

func (a *Application) openStore(ctx context.Context) (ports.LedgerStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendPostgres:
		db, err := sql.Open("postgres", a.cfg.Storage.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		a.db = db
		return storage.NewPostgresStore(ctx, db)
	default:
		return storage.NewFileStore(a.cfg.Storage.Dir)
	}
}

// Run starts the poll loop and the daily report and blocks until the
// context is cancelled or the transport fails.
func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer func() {
		_ = a.scheduler.Stop(context.Background())
		if a.db != nil {
			_ = a.db.Close()
		}
	}()

	a.logger.Info("bot is running",
		"cutoff", a.cfg.Tracking.Cutoff,
		"report_at", a.cfg.Report.Time,
		"policy", a.cfg.Progress.Policy,
		"storage", a.cfg.Storage.Backend)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.bot.Run(ctx)
	})

	err := group.Wait()
	if err != nil && ctx.Err() != nil {
		return nil // clean shutdown
	}
	return err
}
