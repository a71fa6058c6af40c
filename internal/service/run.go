package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"adscraper/internal/config"
	"adscraper/internal/domain"
	"adscraper/internal/metrics"
	"adscraper/internal/source/transparency"
)

// ErrRunNotDue is returned by RunDaily when the previous daily run is too recent.
var ErrRunNotDue = errors.New("daily run not due")

type RunService struct {
	scraper     Scraper
	ads         AdStore
	advertisers AdvertiserStore
	runs        RunStore
	txManager   TransactionManager
	publisher   Publisher
	notifier    Notifier
	metrics     *metrics.Metrics
	logger      *slog.Logger
	config      config.RunConfig
	thresholds  config.ThresholdsConfig
	now         func() time.Time
}

func NewRunService(
	scraper Scraper,
	ads AdStore,
	advertisers AdvertiserStore,
	runs RunStore,
	txManager TransactionManager,
	publisher Publisher,
	notifier Notifier,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg config.RunConfig,
	thresholds config.ThresholdsConfig,
) *RunService {
	return &RunService{
		scraper:     scraper,
		ads:         ads,
		advertisers: advertisers,
		runs:        runs,
		txManager:   txManager,
		publisher:   publisher,
		notifier:    notifier,
		metrics:     m,
		logger:      logger,
		config:      cfg,
		thresholds:  thresholds,
		now:         time.Now,
	}
}

// RunDaily scrapes every advertiser active in the latest spend week from the
// day before its newest known creative up to today, then reports.
func (s *RunService) RunDaily(ctx context.Context) (*domain.RunStats, error) {
	last, err := s.runs.LastRun(ctx, domain.RunModeDaily)
	if err != nil {
		return nil, fmt.Errorf("get last run: %w", err)
	}
	if !last.FinishedAt.IsZero() && s.now().Sub(last.FinishedAt) < s.config.MinDailyInterval {
		s.logger.Info("skipping daily run", "last_finished_at", last.FinishedAt)
		return nil, ErrRunNotDue
	}

	advertisers, err := s.advertisers.RecentlyActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list recent advertisers: %w", err)
	}

	today := s.today()
	items := make([]domain.WorkItem, len(advertisers))
	for i, a := range advertisers {
		items[i] = domain.WorkItem{
			AdvertiserID:   a.ID,
			AdvertiserName: a.Name,
			StartDate:      a.StartDate,
			EndDate:        today,
		}
	}

	s.logger.Info("starting daily run", "advertisers", len(items))
	stats, runErr := s.run(ctx, domain.RunModeDaily, items, s.storeRecord)

	alert := Evaluate(stats, s.thresholds)
	s.notify(ctx, alert)
	s.metrics.ObserveRun(stats.Mode, string(alert.Level), stats.Records)

	if err := s.recordRun(ctx, stats, alert.Level == AlertWarn); err != nil {
		return stats, fmt.Errorf("record run: %w", err)
	}
	return stats, runErr
}

// RunAdvertiser scrapes one advertiser into the database.
func (s *RunService) RunAdvertiser(ctx context.Context, advertiserID string, start, end time.Time) (*domain.RunStats, error) {
	items := []domain.WorkItem{{AdvertiserID: advertiserID, StartDate: start, EndDate: end}}
	stats, runErr := s.run(ctx, domain.RunModeAdvertiser, items, s.storeRecord)
	s.logSummary(stats)

	if err := s.recordRun(ctx, stats, false); err != nil {
		return stats, fmt.Errorf("record run: %w", err)
	}
	return stats, runErr
}

// RunBackfill scrapes advertisers that have creatives in the bundle stats but
// none stored yet, largest gap first.
func (s *RunService) RunBackfill(ctx context.Context, start, end time.Time) (*domain.RunStats, error) {
	advertisers, err := s.advertisers.WithMissingCreatives(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("list advertisers missing creatives: %w", err)
	}

	items := make([]domain.WorkItem, len(advertisers))
	for i, a := range advertisers {
		items[i] = domain.WorkItem{AdvertiserID: a.ID, StartDate: start, EndDate: end}
	}

	s.logger.Info("backfilling empty advertisers", "advertisers", len(items), "start", start, "end", end)
	stats, runErr := s.run(ctx, domain.RunModeBackfill, items, s.storeRecord)
	s.logSummary(stats)

	if err := s.recordRun(ctx, stats, false); err != nil {
		return stats, fmt.Errorf("record run: %w", err)
	}
	return stats, runErr
}

// ExportAdvertiser scrapes one advertiser into w without touching the database.
func (s *RunService) ExportAdvertiser(ctx context.Context, advertiserID string, start, end time.Time, w RecordWriter) (*domain.RunStats, error) {
	items := []domain.WorkItem{{AdvertiserID: advertiserID, StartDate: start, EndDate: end}}
	sink := func(_ context.Context, rec domain.AdRecord) error {
		if err := w.Write(&rec); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		return nil
	}

	stats, runErr := s.run(ctx, domain.RunModeExport, items, sink)
	s.logSummary(stats)

	if err := w.Flush(); err != nil {
		return stats, fmt.Errorf("flush records: %w", err)
	}
	return stats, runErr
}

func (s *RunService) run(ctx context.Context, mode domain.RunMode, items []domain.WorkItem, sink transparency.EmitFunc) (*domain.RunStats, error) {
	stats := &domain.RunStats{Mode: mode, StartedAt: s.now()}

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		stats.Add(s.scrapeItem(ctx, item, sink))
	}

	stats.FinishedAt = s.now()
	stats.Duration = stats.FinishedAt.Sub(stats.StartedAt)
	return stats, ctx.Err()
}

func (s *RunService) scrapeItem(ctx context.Context, item domain.WorkItem, sink transparency.EmitFunc) domain.ItemStats {
	logger := s.logger.With("advertiser_id", item.AdvertiserID)
	logger.Info("starting advertiser",
		"advertiser_name", item.AdvertiserName,
		"start", item.StartDate.Format(time.DateOnly),
		"end", item.EndDate.Format(time.DateOnly),
	)

	itemCtx := ctx
	if s.config.ItemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, s.config.ItemTimeout)
		defer cancel()
	}

	// Distinct ad ids accepted by the sink, kept when the item fails.
	stored := make(map[string]bool)
	unknown := 0
	counted := func(ctx context.Context, rec domain.AdRecord) error {
		if err := sink(ctx, rec); err != nil {
			return err
		}
		if !stored[rec.AdID] {
			stored[rec.AdID] = true
			if rec.IsUnrecognized() {
				unknown++
			}
		}
		return nil
	}

	start := s.now()
	st, err := s.scraper.Scrape(itemCtx, item, counted)
	took := s.now().Sub(start)

	if err != nil {
		logger.Error("advertiser failed", "error", err, "records", len(stored), "duration", took)
		s.metrics.ObserveItem(took, true)
		return domain.ItemStats{
			AdvertiserID:  item.AdvertiserID,
			Records:       len(stored),
			UnknownErrors: unknown,
			Failed:        true,
			Duration:      took,
		}
	}

	st.Duration = took
	s.metrics.ObserveItem(took, false)
	logger.Info("advertiser completed",
		"records", st.Records,
		"errors", st.Errors,
		"unknown", st.UnknownErrors,
		"skipped", st.Skipped,
		"attempts", st.Attempts,
		"duration", took,
	)
	return *st
}

func (s *RunService) storeRecord(ctx context.Context, rec domain.AdRecord) error {
	if err := s.ads.Upsert(ctx, &rec); err != nil {
		return fmt.Errorf("upsert ad creative %s: %w", rec.AdID, err)
	}

	if s.publisher != nil && rec.AdType == domain.AdTypeVideo && rec.YoutubeAdID != nil {
		if err := s.publisher.Publish(ctx, &rec); err != nil {
			s.logger.Warn("publish video ad failed", "ad_id", rec.AdID, "error", err)
		}
	}
	return nil
}

func (s *RunService) recordRun(ctx context.Context, stats *domain.RunStats, alerted bool) error {
	run := &domain.ScrapeRun{
		Mode:          stats.Mode,
		StartedAt:     stats.StartedAt,
		FinishedAt:    stats.FinishedAt,
		Advertisers:   stats.Advertisers,
		Records:       stats.Records,
		UnknownErrors: stats.UnknownErrors,
		FailedItems:   stats.FailedItems,
		Alerted:       alerted,
	}

	// Run history must not depend on the caller's cancellation.
	ctx = context.WithoutCancel(ctx)
	return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		id, err := s.runs.Create(txCtx, run)
		if err != nil {
			return fmt.Errorf("create run: %w", err)
		}
		if err := s.runs.AddItems(txCtx, id, stats.Items); err != nil {
			return fmt.Errorf("add run items: %w", err)
		}
		return nil
	})
}

func (s *RunService) notify(ctx context.Context, alert Alert) {
	msg := alert.Message()
	if alert.Level == AlertWarn {
		s.logger.Warn(alert.Summary, "reason", alert.Reason)
	} else {
		s.logger.Info(alert.Summary)
	}
	if s.notifier == nil {
		return
	}

	var err error
	if alert.Level == AlertWarn {
		err = s.notifier.Warn(ctx, msg)
	} else {
		err = s.notifier.Info(ctx, msg)
	}
	if err != nil {
		s.logger.Error("send notification", "level", alert.Level, "error", err)
	}
}

func (s *RunService) logSummary(stats *domain.RunStats) {
	s.logger.Info("run completed",
		"mode", stats.Mode,
		"advertisers", stats.Advertisers,
		"records", stats.Records,
		"unknown", stats.UnknownErrors,
		"failed_items", stats.FailedItems,
		"duration", stats.Duration,
	)
}

func (s *RunService) today() time.Time {
	y, m, d := s.now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
