package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"adscraper/internal/domain"
)

type AdCreativeStore struct {
	db *sqlx.DB
}

func NewAdCreativeStore(db *sqlx.DB) *AdCreativeStore {
	return &AdCreativeStore{db: db}
}

// Upsert inserts a creative. A re-scraped creative only refreshes its error
// flag and keeps the earliest policy violation date seen.
func (s *AdCreativeStore) Upsert(ctx context.Context, rec *domain.AdRecord) error {
	query := `
		INSERT INTO google_ad_creatives (
			advertiser_id, ad_id, ad_type, error, policy_violation_date,
			youtube_ad_id, ad_text, image_url, image_urls, destination
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		ON CONFLICT (ad_id) DO UPDATE SET
			error = EXCLUDED.error,
			policy_violation_date = least(EXCLUDED.policy_violation_date, google_ad_creatives.policy_violation_date)`

	var imageURLs interface{}
	if rec.ImageURLs != nil {
		imageURLs = pq.Array(rec.ImageURLs)
	}

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		rec.AdvertiserID,
		rec.AdID,
		rec.AdType,
		rec.Error,
		rec.PolicyViolationDate,
		rec.YoutubeAdID,
		rec.Text,
		rec.ImageURL,
		imageURLs,
		rec.Destination,
	)
	return err
}

type adCreativeRow struct {
	domain.AdRecord
	ImageURLs pq.StringArray `db:"image_urls"`
}

func (s *AdCreativeStore) GetByID(ctx context.Context, adID string) (*domain.AdRecord, error) {
	query := `
		SELECT ad_id, advertiser_id, ad_type, error, policy_violation_date,
			youtube_ad_id, ad_text, image_url, image_urls, destination
		FROM google_ad_creatives
		WHERE ad_id = $1`

	var row adCreativeRow
	if err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &row, query, adID); err != nil {
		return nil, err
	}

	rec := row.AdRecord
	if row.ImageURLs != nil {
		rec.ImageURLs = []string(row.ImageURLs)
	}
	return &rec, nil
}
