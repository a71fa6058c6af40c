package transparency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"adscraper/internal/domain"
	"adscraper/internal/metrics"
	"adscraper/internal/render"
)

var ErrSessionAttemptsExhausted = errors.New("render session attempts exhausted")

// Config holds transparency report scraper configuration.
type Config struct {
	BaseURL            string
	SettleWait         time.Duration
	MaxSessionAttempts int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	// NavigationsPerMinute paces listing loads across work items. Zero disables pacing.
	NavigationsPerMinute float64
	Driver               DriverConfig
}

// Scraper scrapes one work item at a time. A transport failure abandons the
// session and restarts the whole item on a fresh one.
type Scraper struct {
	cfg      Config
	sessions render.SessionFactory
	driver   *Driver
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewScraper(cfg Config, sessions render.SessionFactory, m *metrics.Metrics, logger *slog.Logger) *Scraper {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxSessionAttempts <= 0 {
		cfg.MaxSessionAttempts = 1
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.NavigationsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.NavigationsPerMinute/60), 1)
	}

	return &Scraper{
		cfg:      cfg,
		sessions: sessions,
		driver:   NewDriver(cfg.Driver, m, logger),
		limiter:  limiter,
		metrics:  m,
		logger:   logger,
		sleep:    render.Sleep,
	}
}

func (s *Scraper) Scrape(ctx context.Context, item domain.WorkItem, emit EmitFunc) (*domain.ItemStats, error) {
	logger := s.logger.With("advertiser_id", item.AdvertiserID)
	url := ListingURL(s.cfg.BaseURL, item.AdvertiserID, item.StartDate, item.EndDate)

	var err error
	for attempt := 1; attempt <= s.cfg.MaxSessionAttempts; attempt++ {
		var stats DriverStats
		stats, err = s.attempt(ctx, url, item.AdvertiserID, emit)
		if err == nil {
			return &domain.ItemStats{
				AdvertiserID:  item.AdvertiserID,
				Records:       stats.Records,
				UnknownErrors: stats.UnknownErrors,
				Errors:        stats.Errors,
				Skipped:       stats.Skipped,
				Batches:       stats.Batches,
				Attempts:      attempt,
			}, nil
		}

		if !errors.Is(err, render.ErrTransport) || ctx.Err() != nil {
			return nil, fmt.Errorf("scrape advertiser %s: %w", item.AdvertiserID, err)
		}
		if attempt == s.cfg.MaxSessionAttempts {
			break
		}

		s.metrics.SessionRestarted()
		backoff := s.calculateBackoff(attempt)
		logger.Warn("render session failed, restarting work item",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		if err := s.sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("scrape advertiser %s after %d attempts: %w: %w",
		item.AdvertiserID, s.cfg.MaxSessionAttempts, ErrSessionAttemptsExhausted, err)
}

func (s *Scraper) attempt(ctx context.Context, url, advertiserID string, emit EmitFunc) (DriverStats, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return DriverStats{}, err
	}

	sess, err := s.sessions.Open(ctx)
	if err != nil {
		return DriverStats{}, fmt.Errorf("open session: %w", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			s.logger.Debug("close session", "error", err)
		}
	}()

	if err := sess.Navigate(ctx, url); err != nil {
		return DriverStats{}, fmt.Errorf("navigate: %w", err)
	}
	if err := sess.Wait(ctx, s.cfg.SettleWait); err != nil {
		return DriverStats{}, err
	}

	return s.driver.Run(ctx, sess, advertiserID, emit)
}

func (s *Scraper) calculateBackoff(attempt int) time.Duration {
	backoff := s.cfg.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if s.cfg.MaxBackoff > 0 && backoff > s.cfg.MaxBackoff {
		backoff = s.cfg.MaxBackoff
	}
	return backoff
}
