package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"adscraper/internal/domain"
)

type ScrapeRunStore struct {
	db *sqlx.DB
}

func NewScrapeRunStore(db *sqlx.DB) *ScrapeRunStore {
	return &ScrapeRunStore{db: db}
}

func (s *ScrapeRunStore) LastRun(ctx context.Context, mode domain.RunMode) (*domain.ScrapeRun, error) {
	var run domain.ScrapeRun
	query := `
		SELECT id, mode, started_at, finished_at, advertisers, records,
			unknown_errors, failed_items, alerted
		FROM scrape_runs
		WHERE mode = $1
		ORDER BY finished_at DESC
		LIMIT 1`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &run, query, mode)
	if errors.Is(err, sql.ErrNoRows) {
		// Empty run for a mode that never ran
		return &domain.ScrapeRun{Mode: mode}, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *ScrapeRunStore) Create(ctx context.Context, run *domain.ScrapeRun) (int64, error) {
	query := `
		INSERT INTO scrape_runs (
			mode, started_at, finished_at, advertisers, records,
			unknown_errors, failed_items, alerted
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		RETURNING id`

	var id int64
	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		run.Mode,
		run.StartedAt,
		run.FinishedAt,
		run.Advertisers,
		run.Records,
		run.UnknownErrors,
		run.FailedItems,
		run.Alerted,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	run.ID = id
	return id, nil
}

const itemColumns = 9

func (s *ScrapeRunStore) AddItems(ctx context.Context, runID int64, items []domain.ItemStats) error {
	if len(items) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO scrape_run_items (
		run_id, advertiser_id, records, unknown_errors, errors,
		skipped, batches, attempts, duration_ms, failed
	) VALUES `)
	valueArgs := make([]interface{}, 0, len(items)*itemColumns+1)
	valueArgs = append(valueArgs, runID)

	for i, item := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("($1")
		for c := 0; c < itemColumns; c++ {
			sb.WriteString(", $")
			sb.WriteString(strconv.Itoa(i*itemColumns + c + 2))
		}
		sb.WriteString(")")
		valueArgs = append(valueArgs,
			item.AdvertiserID,
			item.Records,
			item.UnknownErrors,
			item.Errors,
			item.Skipped,
			item.Batches,
			item.Attempts,
			item.Duration.Milliseconds(),
			item.Failed,
		)
	}
	sb.WriteString(" ON CONFLICT (run_id, advertiser_id) DO NOTHING")

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, sb.String(), valueArgs...)
	return err
}

func (s *ScrapeRunStore) GetItems(ctx context.Context, runID int64) ([]domain.ItemStats, error) {
	query := `
		SELECT advertiser_id, records, unknown_errors, errors, skipped,
			batches, attempts, failed
		FROM scrape_run_items
		WHERE run_id = $1
		ORDER BY advertiser_id`

	var items []domain.ItemStats
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &items, query, runID)
	return items, err
}
