package domain

import "time"

type RunMode string

const (
	RunModeDaily      RunMode = "daily"
	RunModeAdvertiser RunMode = "advertiser"
	RunModeBackfill   RunMode = "backfill"
	RunModeExport     RunMode = "export"
)

// ItemStats holds statistics about one scraped work item.
type ItemStats struct {
	AdvertiserID  string        `db:"advertiser_id"`
	Records       int           `db:"records"`
	UnknownErrors int           `db:"unknown_errors"`
	Errors        int           `db:"errors"`
	Skipped       int           `db:"skipped"`
	Batches       int           `db:"batches"`
	Attempts      int           `db:"attempts"`
	Duration      time.Duration `db:"-"`
	Failed        bool          `db:"failed"`
}

// RunStats aggregates every work item of a run.
type RunStats struct {
	Mode          RunMode
	StartedAt     time.Time
	FinishedAt    time.Time
	Duration      time.Duration
	Advertisers   int
	Records       int
	UnknownErrors int
	FailedItems   int
	Items         []ItemStats
}

func (s *RunStats) Add(item ItemStats) {
	s.Items = append(s.Items, item)
	s.Advertisers++
	s.Records += item.Records
	s.UnknownErrors += item.UnknownErrors
	if item.Failed {
		s.FailedItems++
	}
}

func (s *RunStats) PerAdvertiser() time.Duration {
	if s.Advertisers == 0 {
		return 0
	}
	return s.Duration / time.Duration(s.Advertisers)
}

func (s *RunStats) PerAd() time.Duration {
	if s.Records == 0 {
		return 0
	}
	return s.Duration / time.Duration(s.Records)
}

func (s *RunStats) UnknownRatio() float64 {
	if s.Records == 0 {
		return 0
	}
	return float64(s.UnknownErrors) / float64(s.Records)
}

// ScrapeRun is the persisted summary of a finished run.
type ScrapeRun struct {
	ID            int64     `db:"id"`
	Mode          RunMode   `db:"mode"`
	StartedAt     time.Time `db:"started_at"`
	FinishedAt    time.Time `db:"finished_at"`
	Advertisers   int       `db:"advertisers"`
	Records       int       `db:"records"`
	UnknownErrors int       `db:"unknown_errors"`
	FailedItems   int       `db:"failed_items"`
	Alerted       bool      `db:"alerted"`
}
