package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"adscraper/internal/domain"
	"adscraper/internal/service"
)

// DailyRunner runs one daily scrape.
type DailyRunner interface {
	RunDaily(ctx context.Context) (*domain.RunStats, error)
}

type Scheduler struct {
	runner   DailyRunner
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

func NewScheduler(runner DailyRunner, interval, timeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Start runs immediately and then on every tick until ctx is done. A tick
// that fires while a run is still going is dropped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	stats, err := s.runner.RunDaily(runCtx)
	switch {
	case errors.Is(err, service.ErrRunNotDue):
		s.logger.Info("daily run not due yet")
	case err != nil:
		s.logger.Error("daily run failed", "error", err)
	case stats != nil:
		s.logger.Info("daily run finished",
			"advertisers", stats.Advertisers,
			"records", stats.Records,
			"duration", stats.Duration,
		)
	}
}
