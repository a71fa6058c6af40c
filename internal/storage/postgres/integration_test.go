//go:build integration

package postgres

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"adscraper/internal/domain"
	"adscraper/testdata/utils"
)

type PostgresIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	db        *sqlx.DB
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	migrationsPath, err := filepath.Abs("../../../migrations")
	s.Require().NoError(err)

	container, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts(
			filepath.Join(migrationsPath, "001_create_bundle_tables.up.sql"),
			filepath.Join(migrationsPath, "002_create_google_ad_creatives.up.sql"),
			filepath.Join(migrationsPath, "003_create_scrape_runs.up.sql"),
		),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := Connect(s.ctx, connStr)
	s.Require().NoError(err)
	s.db = db
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresIntegrationSuite) SetupTest() {
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM scrape_run_items")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM scrape_runs")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM google_ad_creatives")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM creative_stats")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM advertiser_weekly_spend")
}

func TestPostgresIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresIntegrationSuite))
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *PostgresIntegrationSuite) insertCreativeStat(adID, advertiserID string, start, end, report time.Time) {
	_, err := s.db.ExecContext(s.ctx, `
		INSERT INTO creative_stats (ad_id, advertiser_id, date_range_start, date_range_end, report_date)
		VALUES ($1, $2, $3, $4, $5)`,
		adID, advertiserID, start, end, report)
	s.Require().NoError(err)
}

func (s *PostgresIntegrationSuite) insertWeeklySpend(advertiserID, name string, week time.Time, spend int) {
	_, err := s.db.ExecContext(s.ctx, `
		INSERT INTO advertiser_weekly_spend (advertiser_id, advertiser_name, week_start_date, spend_usd)
		VALUES ($1, $2, $3, $4)`,
		advertiserID, name, week, spend)
	s.Require().NoError(err)
}

func (s *PostgresIntegrationSuite) TestAdCreativeStore_Upsert_Insert() {
	store := NewAdCreativeStore(s.db)

	rec := &domain.AdRecord{
		AdID:         "CR1",
		AdvertiserID: "AR1",
		AdType:       domain.AdTypeImage,
		ImageURLs:    []string{"https://tpc.googlesyndication.com/a.png", "https://tpc.googlesyndication.com/b.png"},
		Destination:  utils.Ptr("https://example.org"),
	}

	s.Require().NoError(store.Upsert(s.ctx, rec))

	got, err := store.GetByID(s.ctx, "CR1")
	s.Require().NoError(err)
	s.Equal(domain.AdTypeImage, got.AdType)
	s.Equal("AR1", got.AdvertiserID)
	s.Equal(rec.ImageURLs, got.ImageURLs)
	s.Nil(got.ImageURL)
	s.Nil(got.Text)
	s.Equal("https://example.org", *got.Destination)
}

func (s *PostgresIntegrationSuite) TestAdCreativeStore_Upsert_KeepsEarliestViolationDate() {
	store := NewAdCreativeStore(s.db)

	first := &domain.AdRecord{
		AdID:                "CR1",
		AdvertiserID:        "AR1",
		AdType:              domain.AdTypeUnknown,
		Error:               true,
		PolicyViolationDate: utils.Ptr(date(2024, 3, 1)),
	}
	s.Require().NoError(store.Upsert(s.ctx, first))

	later := *first
	later.PolicyViolationDate = utils.Ptr(date(2024, 3, 10))
	s.Require().NoError(store.Upsert(s.ctx, &later))

	got, err := store.GetByID(s.ctx, "CR1")
	s.Require().NoError(err)
	s.Require().NotNil(got.PolicyViolationDate)
	s.True(date(2024, 3, 1).Equal(got.PolicyViolationDate.UTC()))
}

func (s *PostgresIntegrationSuite) TestAdCreativeStore_Upsert_UpdatesOnlyErrorAndViolation() {
	store := NewAdCreativeStore(s.db)

	s.Require().NoError(store.Upsert(s.ctx, &domain.AdRecord{
		AdID:         "CR1",
		AdvertiserID: "AR1",
		AdType:       domain.AdTypeText,
		Error:        true,
		Text:         utils.Ptr("original"),
	}))
	s.Require().NoError(store.Upsert(s.ctx, &domain.AdRecord{
		AdID:         "CR1",
		AdvertiserID: "AR1",
		AdType:       domain.AdTypeText,
		Text:         utils.Ptr("changed"),
	}))

	got, err := store.GetByID(s.ctx, "CR1")
	s.Require().NoError(err)
	s.False(got.Error)
	s.Equal("original", *got.Text)

	var count int
	s.Require().NoError(s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM google_ad_creatives"))
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestAdCreativeStore_Upsert_ErrorBecomesTrue() {
	store := NewAdCreativeStore(s.db)

	rec := &domain.AdRecord{AdID: "CR1", AdvertiserID: "AR1", AdType: domain.AdTypeVideo}
	s.Require().NoError(store.Upsert(s.ctx, rec))

	failed := *rec
	failed.Error = true
	s.Require().NoError(store.Upsert(s.ctx, &failed))

	got, err := store.GetByID(s.ctx, "CR1")
	s.Require().NoError(err)
	s.True(got.Error)
}

func (s *PostgresIntegrationSuite) TestAdCreativeStore_Upsert_EarlierViolationDateLowersStored() {
	store := NewAdCreativeStore(s.db)

	rec := &domain.AdRecord{
		AdID:                "CR1",
		AdvertiserID:        "AR1",
		AdType:              domain.AdTypeUnknown,
		PolicyViolationDate: utils.Ptr(date(2024, 3, 1)),
	}
	s.Require().NoError(store.Upsert(s.ctx, rec))

	earlier := *rec
	earlier.PolicyViolationDate = utils.Ptr(date(2024, 1, 15))
	s.Require().NoError(store.Upsert(s.ctx, &earlier))

	got, err := store.GetByID(s.ctx, "CR1")
	s.Require().NoError(err)
	s.Require().NotNil(got.PolicyViolationDate)
	s.True(date(2024, 1, 15).Equal(got.PolicyViolationDate.UTC()))
}

func (s *PostgresIntegrationSuite) TestAdCreativeStore_Upsert_NullViolationDateKeepsExisting() {
	store := NewAdCreativeStore(s.db)

	rec := &domain.AdRecord{
		AdID:                "CR1",
		AdvertiserID:        "AR1",
		AdType:              domain.AdTypeUnknown,
		PolicyViolationDate: utils.Ptr(date(2024, 3, 1)),
	}
	s.Require().NoError(store.Upsert(s.ctx, rec))

	undated := *rec
	undated.PolicyViolationDate = nil
	s.Require().NoError(store.Upsert(s.ctx, &undated))

	got, err := store.GetByID(s.ctx, "CR1")
	s.Require().NoError(err)
	s.Require().NotNil(got.PolicyViolationDate)
	s.True(date(2024, 3, 1).Equal(got.PolicyViolationDate.UTC()))
}

func (s *PostgresIntegrationSuite) TestAdvertiserStore_RecentlyActive() {
	store := NewAdvertiserStore(s.db)
	report := date(2024, 3, 14)

	s.insertCreativeStat("CR1", "AR1", date(2024, 3, 1), date(2024, 3, 10), report)
	s.insertCreativeStat("CR2", "AR1", date(2024, 3, 1), date(2024, 3, 12), report)
	s.insertCreativeStat("CR3", "AR2", date(2024, 3, 1), date(2024, 3, 5), report)
	s.insertCreativeStat("CR4", "AR3", date(2024, 1, 1), date(2024, 1, 5), report)

	s.insertWeeklySpend("AR1", "Small Spender", date(2024, 3, 10), 100)
	s.insertWeeklySpend("AR2", "Big Spender", date(2024, 3, 10), 5000)
	s.insertWeeklySpend("AR3", "Lapsed", date(2024, 1, 1), 9000)

	advertisers, err := store.RecentlyActive(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(advertisers, 2)

	s.Equal("AR2", advertisers[0].ID)
	s.Equal("Big Spender", advertisers[0].Name)
	s.True(date(2024, 3, 4).Equal(advertisers[0].StartDate.UTC()))

	s.Equal("AR1", advertisers[1].ID)
	s.True(date(2024, 3, 11).Equal(advertisers[1].StartDate.UTC()))
}

func (s *PostgresIntegrationSuite) TestAdvertiserStore_WithMissingCreatives() {
	store := NewAdvertiserStore(s.db)
	creatives := NewAdCreativeStore(s.db)
	report := date(2024, 3, 14)
	start, end := date(2024, 1, 1), date(2024, 3, 31)

	s.insertCreativeStat("CR1", "AR1", date(2024, 2, 1), date(2024, 2, 10), report)
	s.insertCreativeStat("CR2", "AR2", date(2024, 2, 1), date(2024, 2, 10), report)
	s.insertCreativeStat("CR3", "AR2", date(2024, 2, 1), date(2024, 2, 10), report)
	s.insertCreativeStat("CR4", "AR3", date(2024, 2, 1), date(2024, 2, 10), report)
	s.insertCreativeStat("CR5", "AR4", date(2024, 2, 1), date(2024, 2, 10), date(2024, 3, 1))

	for _, id := range []string{"AR1", "AR2", "AR3", "AR4"} {
		s.insertWeeklySpend(id, id, date(2024, 2, 4), 10)
	}

	s.Require().NoError(creatives.Upsert(s.ctx, &domain.AdRecord{AdID: "CR4", AdvertiserID: "AR3", AdType: domain.AdTypeText}))

	advertisers, err := store.WithMissingCreatives(s.ctx, start, end)
	s.Require().NoError(err)
	s.Require().Len(advertisers, 2)
	s.Equal("AR2", advertisers[0].ID)
	s.Equal("AR1", advertisers[1].ID)
	s.Equal(start, advertisers[0].StartDate)
}

func (s *PostgresIntegrationSuite) TestScrapeRunStore_LastRun_Empty() {
	store := NewScrapeRunStore(s.db)

	run, err := store.LastRun(s.ctx, domain.RunModeDaily)
	s.Require().NoError(err)
	s.Equal(domain.RunModeDaily, run.Mode)
	s.True(run.FinishedAt.IsZero())
}

func (s *PostgresIntegrationSuite) TestScrapeRunStore_CreateAndLastRun() {
	store := NewScrapeRunStore(s.db)
	now := time.Now().UTC().Truncate(time.Microsecond)

	for i, mode := range []domain.RunMode{domain.RunModeDaily, domain.RunModeDaily, domain.RunModeBackfill} {
		_, err := store.Create(s.ctx, &domain.ScrapeRun{
			Mode:       mode,
			StartedAt:  now.Add(time.Duration(i) * time.Hour),
			FinishedAt: now.Add(time.Duration(i)*time.Hour + time.Minute),
			Records:    i,
		})
		s.Require().NoError(err)
	}

	run, err := store.LastRun(s.ctx, domain.RunModeDaily)
	s.Require().NoError(err)
	s.Equal(1, run.Records)
	s.True(now.Add(time.Hour + time.Minute).Equal(run.FinishedAt))
}

func (s *PostgresIntegrationSuite) TestScrapeRunStore_AddItems() {
	store := NewScrapeRunStore(s.db)
	now := time.Now()

	id, err := store.Create(s.ctx, &domain.ScrapeRun{Mode: domain.RunModeBackfill, StartedAt: now, FinishedAt: now})
	s.Require().NoError(err)

	items := []domain.ItemStats{
		{AdvertiserID: "AR1", Records: 10, Batches: 2, Attempts: 1, Duration: time.Minute},
		{AdvertiserID: "AR2", Failed: true, Attempts: 5},
	}
	s.Require().NoError(store.AddItems(s.ctx, id, items))

	got, err := store.GetItems(s.ctx, id)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(10, got[0].Records)
	s.Equal(2, got[0].Batches)
	s.True(got[1].Failed)
	s.Equal(5, got[1].Attempts)
}

func (s *PostgresIntegrationSuite) TestTransactionManager_RollbackDiscardsRun() {
	store := NewScrapeRunStore(s.db)
	tm := NewTransactionManager(s.db)
	now := time.Now()

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		id, err := store.Create(ctx, &domain.ScrapeRun{Mode: domain.RunModeDaily, StartedAt: now, FinishedAt: now})
		if err != nil {
			return err
		}
		if err := store.AddItems(ctx, id, []domain.ItemStats{{AdvertiserID: "AR1"}}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	s.EqualError(err, "abort")

	var count int
	s.Require().NoError(s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM scrape_runs"))
	s.Equal(0, count)
}

func (s *PostgresIntegrationSuite) TestTransactionManager_Commit() {
	store := NewScrapeRunStore(s.db)
	tm := NewTransactionManager(s.db)
	now := time.Now()

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		id, err := store.Create(ctx, &domain.ScrapeRun{Mode: domain.RunModeDaily, StartedAt: now, FinishedAt: now})
		if err != nil {
			return err
		}
		return store.AddItems(ctx, id, []domain.ItemStats{{AdvertiserID: "AR1"}, {AdvertiserID: "AR2"}})
	})
	s.Require().NoError(err)

	var count int
	s.Require().NoError(s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM scrape_run_items"))
	s.Equal(2, count)
}
