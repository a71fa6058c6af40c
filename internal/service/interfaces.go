package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"adscraper/internal/domain"
	"adscraper/internal/source/transparency"
)

type AdStore interface {
	Upsert(ctx context.Context, rec *domain.AdRecord) error
}

type AdvertiserStore interface {
	RecentlyActive(ctx context.Context) ([]domain.Advertiser, error)
	WithMissingCreatives(ctx context.Context, start, end time.Time) ([]domain.Advertiser, error)
}

type RunStore interface {
	LastRun(ctx context.Context, mode domain.RunMode) (*domain.ScrapeRun, error)
	Create(ctx context.Context, run *domain.ScrapeRun) (int64, error)
	AddItems(ctx context.Context, runID int64, items []domain.ItemStats) error
}

type Scraper interface {
	Scrape(ctx context.Context, item domain.WorkItem, emit transparency.EmitFunc) (*domain.ItemStats, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	Publish(ctx context.Context, rec *domain.AdRecord) error
	Close() error
}

type Notifier interface {
	Info(ctx context.Context, msg string) error
	Warn(ctx context.Context, msg string) error
}

type RecordWriter interface {
	Write(rec *domain.AdRecord) error
	Flush() error
}
