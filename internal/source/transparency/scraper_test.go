package transparency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"adscraper/internal/domain"
	"adscraper/internal/metrics"
	"adscraper/internal/render"
	"adscraper/internal/render/snapshot"
)

type ScraperTestSuite struct {
	suite.Suite
	ctx     context.Context
	cfg     Config
	metrics *metrics.Metrics
	item    domain.WorkItem
	slept   []time.Duration
	emitted []domain.AdRecord
}

func (s *ScraperTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.cfg = Config{
		BaseURL:            "https://report.example/political-ads/advertiser",
		SettleWait:         2 * time.Second,
		MaxSessionAttempts: 3,
		InitialBackoff:     5 * time.Second,
		MaxBackoff:         8 * time.Second,
		Driver: DriverConfig{
			EmptyRecheckWait: 10 * time.Second,
			LoadMoreWait:     2 * time.Second,
			LoadingShortWait: time.Second,
			LoadingLongWait:  5 * time.Second,
		},
	}
	s.metrics = metrics.New()
	s.item = domain.WorkItem{
		AdvertiserID: "AR100",
		StartDate:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:      time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	s.slept = nil
	s.emitted = nil
}

func TestScraperTestSuite(t *testing.T) {
	suite.Run(t, new(ScraperTestSuite))
}

func (s *ScraperTestSuite) newScraper(f render.SessionFactory) *Scraper {
	sc := NewScraper(s.cfg, f, s.metrics, discardLogger())
	sc.sleep = func(_ context.Context, d time.Duration) error {
		s.slept = append(s.slept, d)
		return nil
	}
	return sc
}

func (s *ScraperTestSuite) emit(_ context.Context, rec domain.AdRecord) error {
	s.emitted = append(s.emitted, rec)
	return nil
}

func listing() []string {
	return []string{page(
		creative("CR1", `<text-ad><div>one</div></text-ad>`),
		creative("CR2", `<img src="https://img.example/2.png">`),
	)}
}

func (s *ScraperTestSuite) TestScrape_NavigatesAndSettles() {
	f := snapshot.NewFactory(listing()...)

	stats, err := s.newScraper(f).Scrape(s.ctx, s.item, s.emit)

	s.Require().NoError(err)
	s.Equal(2, stats.Records)
	s.Equal(1, stats.Attempts)
	s.Equal("AR100", stats.AdvertiserID)

	sessions := f.Sessions()
	s.Require().Len(sessions, 1)
	s.Equal([]string{
		"https://report.example/political-ads/advertiser/AR100?campaign_creatives=start:1704067200000;end:1704153600000;spend:;impressions:;type:;sort:3&lu=campaign_creatives",
	}, sessions[0].Visited())
	s.Equal(s.cfg.SettleWait, sessions[0].Waits()[0])
	s.True(sessions[0].Closed())
}

func (s *ScraperTestSuite) TestScrape_RestartsOnTransportFailure() {
	f := snapshot.NewFactory(listing()...)
	f.Prepare = func(attempt int, sess *snapshot.Session) error {
		if attempt == 1 {
			sess.FailFindAllAt(1)
		}
		return nil
	}

	stats, err := s.newScraper(f).Scrape(s.ctx, s.item, s.emit)

	s.Require().NoError(err)
	s.Equal(2, stats.Attempts)
	s.Equal(2, stats.Records)
	s.Len(f.Sessions(), 2)
	for _, sess := range f.Sessions() {
		s.True(sess.Closed())
	}
	s.Equal([]time.Duration{5 * time.Second}, s.slept)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.SessionRestarts))
}

func (s *ScraperTestSuite) TestScrape_RestartsWhenOpenFails() {
	f := snapshot.NewFactory(listing()...)
	f.Prepare = func(attempt int, _ *snapshot.Session) error {
		if attempt == 1 {
			return render.TransportError("launch browser", errors.New("chrome exited"))
		}
		return nil
	}

	stats, err := s.newScraper(f).Scrape(s.ctx, s.item, s.emit)

	s.Require().NoError(err)
	s.Equal(2, stats.Attempts)
}

func (s *ScraperTestSuite) TestScrape_GivesUpAfterMaxAttempts() {
	f := snapshot.NewFactory(listing()...)
	f.Prepare = func(_ int, sess *snapshot.Session) error {
		sess.FailNavigate(errors.New("net::ERR_CONNECTION_RESET"))
		return nil
	}

	stats, err := s.newScraper(f).Scrape(s.ctx, s.item, s.emit)

	s.Nil(stats)
	s.ErrorIs(err, ErrSessionAttemptsExhausted)
	s.ErrorIs(err, render.ErrTransport)
	s.Len(f.Sessions(), 3)
	s.Equal([]time.Duration{5 * time.Second, 8 * time.Second}, s.slept)
}

func (s *ScraperTestSuite) TestScrape_DoesNotRestartOnSinkError() {
	f := snapshot.NewFactory(listing()...)
	sinkErr := errors.New("db down")

	_, err := s.newScraper(f).Scrape(s.ctx, s.item, func(context.Context, domain.AdRecord) error {
		return sinkErr
	})

	s.ErrorIs(err, sinkErr)
	s.Len(f.Sessions(), 1)
	s.Empty(s.slept)
}

func (s *ScraperTestSuite) TestCalculateBackoff() {
	sc := s.newScraper(snapshot.NewFactory())

	s.Equal(5*time.Second, sc.calculateBackoff(1))
	s.Equal(8*time.Second, sc.calculateBackoff(2))
	s.Equal(8*time.Second, sc.calculateBackoff(5))
}
