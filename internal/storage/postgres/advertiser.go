package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"adscraper/internal/domain"
)

type AdvertiserStore struct {
	db *sqlx.DB
}

func NewAdvertiserStore(db *sqlx.DB) *AdvertiserStore {
	return &AdvertiserStore{db: db}
}

// RecentlyActive returns the advertisers that spent in the latest reported
// week, biggest spenders first. Each starts one day before its newest
// creative's date_range_end.
func (s *AdvertiserStore) RecentlyActive(ctx context.Context) ([]domain.Advertiser, error) {
	query := `
		SELECT
			advertisers_this_week.advertiser_id,
			COALESCE(advertiser_weekly_spend.advertiser_name, '') AS advertiser_name,
			advertisers_this_week.date_range_end_max - INTERVAL '1 day' AS start_date
		FROM (
			SELECT advertiser_id, max(date_range_end) AS date_range_end_max
			FROM creative_stats
			GROUP BY advertiser_id
		) advertisers_this_week
		JOIN advertiser_weekly_spend USING (advertiser_id)
		WHERE advertiser_weekly_spend.week_start_date = (SELECT max(week_start_date) FROM advertiser_weekly_spend)
		ORDER BY advertiser_weekly_spend.spend_usd DESC`

	var advertisers []domain.Advertiser
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &advertisers, query)
	return advertisers, err
}

// WithMissingCreatives returns advertisers active in [start, end] whose
// creatives in the latest bundle report are not yet stored, ordered by the
// number of missing creatives.
func (s *AdvertiserStore) WithMissingCreatives(ctx context.Context, start, end time.Time) ([]domain.Advertiser, error) {
	query := `
		SELECT creative_stats.advertiser_id
		FROM creative_stats
		LEFT OUTER JOIN google_ad_creatives USING (ad_id)
		JOIN (
			SELECT DISTINCT advertiser_id
			FROM advertiser_weekly_spend
			WHERE week_start_date >= $1 AND week_start_date <= $2
		) recent_advertisers ON recent_advertisers.advertiser_id = creative_stats.advertiser_id
		WHERE date_range_start >= $1
			AND date_range_end <= $2
			AND google_ad_creatives.ad_id IS NULL
			AND creative_stats.report_date = (SELECT max(report_date) FROM creative_stats)
		GROUP BY creative_stats.advertiser_id
		ORDER BY count(*) DESC, creative_stats.advertiser_id`

	var advertisers []domain.Advertiser
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &advertisers, query, start, end)
	if err != nil {
		return nil, err
	}
	for i := range advertisers {
		advertisers[i].StartDate = start
	}
	return advertisers, nil
}
