package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"adscraper/internal/config"
	"adscraper/internal/domain"
	"adscraper/internal/metrics"
	"adscraper/internal/notify"
	"adscraper/internal/output"
	"adscraper/internal/publisher"
	"adscraper/internal/render"
	"adscraper/internal/render/chrome"
	"adscraper/internal/render/snapshot"
	"adscraper/internal/scheduler"
	"adscraper/internal/service"
	"adscraper/internal/source/transparency"
	"adscraper/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	mode := flag.String("mode", string(domain.RunModeDaily), "run mode: daily, advertiser, backfill or export")
	advertiserID := flag.String("advertiser", "", "advertiser id for advertiser and export modes")
	startFlag := flag.String("start", "", "start date YYYY-MM-DD (defaults to run.history_start)")
	endFlag := flag.String("end", "", "end date YYYY-MM-DD (defaults to today)")
	once := flag.Bool("once", false, "run the daily scrape once instead of on a schedule")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger, options{
		mode:         domain.RunMode(*mode),
		advertiserID: *advertiserID,
		start:        *startFlag,
		end:          *endFlag,
		once:         *once,
	}); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scraper failed", "error", err)
		os.Exit(1)
	}
}

type options struct {
	mode         domain.RunMode
	advertiserID string
	start        string
	end          string
	once         bool
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts options) error {
	start, end, err := dateRange(cfg.Run, opts.start, opts.end)
	if err != nil {
		return err
	}

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(m), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
		logger.Info("serving metrics", "addr", cfg.Metrics.Addr)
	}

	sessions, closeSessions, err := sessionFactory(cfg.Browser, logger)
	if err != nil {
		return err
	}
	defer closeSessions()

	scraper := transparency.NewScraper(transparency.Config{
		BaseURL:              cfg.Scraper.BaseURL,
		SettleWait:           cfg.Scraper.SettleWait,
		MaxSessionAttempts:   cfg.Scraper.Retry.MaxAttempts,
		InitialBackoff:       cfg.Scraper.Retry.InitialBackoff,
		MaxBackoff:           cfg.Scraper.Retry.MaxBackoff,
		NavigationsPerMinute: cfg.Scraper.NavigationsPerMinute,
		Driver: transparency.DriverConfig{
			EmptyRecheckWait: cfg.Scraper.EmptyRecheckWait,
			LoadMoreWait:     cfg.Scraper.LoadMoreWait,
			LoadingShortWait: cfg.Scraper.LoadingShortWait,
			LoadingLongWait:  cfg.Scraper.LoadingLongWait,
			MaxEmptyLoadMore: cfg.Scraper.MaxEmptyLoadMore,
		},
	}, sessions, m, logger)

	if opts.mode == domain.RunModeExport {
		if opts.advertiserID == "" {
			return errors.New("export mode requires -advertiser")
		}
		svc := service.NewRunService(scraper, nil, nil, nil, nil, nil, nil, m, logger, cfg.Run, cfg.Thresholds)
		return export(ctx, svc, cfg.Run.DataDir, opts.advertiserID, start, end, logger)
	}

	db, err := postgres.Connect(ctx, cfg.Database.DSN())
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to database")

	var pub service.Publisher
	if cfg.RabbitMQ.URL != "" {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			return err
		}
		defer rabbitMQ.Close()
		pub = rabbitMQ
	}

	svc := newDBService(db, scraper, pub, m, cfg, logger)

	switch opts.mode {
	case domain.RunModeDaily:
		if opts.once {
			_, err := svc.RunDaily(ctx)
			if errors.Is(err, service.ErrRunNotDue) {
				return nil
			}
			return err
		}
		logger.Info("starting daily scheduler", "interval", cfg.Run.Interval)
		return scheduler.NewScheduler(svc, cfg.Run.Interval, cfg.Run.RunTimeout, logger).Start(ctx)
	case domain.RunModeAdvertiser:
		if opts.advertiserID == "" {
			return errors.New("advertiser mode requires -advertiser")
		}
		_, err := svc.RunAdvertiser(ctx, opts.advertiserID, start, end)
		return err
	case domain.RunModeBackfill:
		_, err := svc.RunBackfill(ctx, start, end)
		return err
	default:
		return fmt.Errorf("unknown mode %q", opts.mode)
	}
}

func newDBService(db *sqlx.DB, scraper service.Scraper, pub service.Publisher, m *metrics.Metrics, cfg *config.Config, logger *slog.Logger) *service.RunService {
	var notifier service.Notifier
	if cfg.Slack.InfoWebhook != "" || cfg.Slack.WarnWebhook != "" {
		notifier = notify.NewSlack(notify.Config{
			InfoWebhook: cfg.Slack.InfoWebhook,
			WarnWebhook: cfg.Slack.WarnWebhook,
			WarnMention: cfg.Slack.WarnMention,
			Timeout:     cfg.Slack.Timeout,
		}, logger)
	}

	return service.NewRunService(
		scraper,
		postgres.NewAdCreativeStore(db),
		postgres.NewAdvertiserStore(db),
		postgres.NewScrapeRunStore(db),
		postgres.NewTransactionManager(db),
		pub,
		notifier,
		m,
		logger,
		cfg.Run,
		cfg.Thresholds,
	)
}

func export(ctx context.Context, svc *service.RunService, dir, advertiserID string, start, end time.Time, logger *slog.Logger) error {
	path := output.ExportPath(dir, advertiserID, start, end)
	f, err := output.CreateCSVFile(path)
	if err != nil {
		return err
	}

	_, runErr := svc.ExportAdvertiser(ctx, advertiserID, start, end, f)
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	logger.Info("exported advertiser", "path", path, "records", f.Written())
	return runErr
}

func sessionFactory(cfg config.BrowserConfig, logger *slog.Logger) (render.SessionFactory, func(), error) {
	switch cfg.Driver {
	case "snapshot":
		f, err := snapshot.LoadDir(cfg.SnapshotDir)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("replaying saved listing pages", "dir", cfg.SnapshotDir)
		return f, func() {}, nil
	case "chrome":
		b := chrome.New(chrome.Config{
			Headless:   cfg.Headless,
			NoSandbox:  cfg.NoSandbox,
			BrowserBin: cfg.BrowserBin,
			ControlURL: cfg.ControlURL,
			Stealth:    cfg.Stealth,
			PageLoad:   cfg.PageLoad,
		}, logger)
		return b, func() { _ = b.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown browser driver %q", cfg.Driver)
	}
}

// dateRange resolves -start and -end, defaulting to history_start and today.
func dateRange(cfg config.RunConfig, startFlag, endFlag string) (time.Time, time.Time, error) {
	start, err := cfg.HistoryStartDate()
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if startFlag != "" {
		if start, err = time.Parse(time.DateOnly, startFlag); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse -start: %w", err)
		}
	}

	y, mo, d := time.Now().UTC().Date()
	end := time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
	if endFlag != "" {
		if end, err = time.Parse(time.DateOnly, endFlag); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse -end: %w", err)
		}
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %s is before start %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	return start, end, nil
}

func metricsMux(m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
