package service

import (
	"fmt"
	"time"

	"adscraper/internal/config"
	"adscraper/internal/domain"
)

type AlertLevel string

const (
	AlertInfo AlertLevel = "info"
	AlertWarn AlertLevel = "warn"
)

const messagePrefix = "Google ads: "

type Alert struct {
	Level   AlertLevel
	Summary string
	Reason  string
}

// Message is the notification text for the alert.
func (a Alert) Message() string {
	if a.Reason == "" {
		return messagePrefix + a.Summary
	}
	return messagePrefix + a.Summary + "\n" + a.Reason
}

// Evaluate checks the thresholds in order; the first breach produces a
// warning and later checks are skipped.
func Evaluate(stats *domain.RunStats, t config.ThresholdsConfig) Alert {
	alert := Alert{Level: AlertInfo, Summary: Summary(stats)}

	switch {
	case stats.Records < t.MinAds:
		alert.Reason = fmt.Sprintf(
			"political transparency report site scraper found fewer ads than expected (expected: %d, got: %d)",
			t.MinAds, stats.Records)
	case stats.Advertisers < t.MinAdvertisers:
		alert.Reason = fmt.Sprintf(
			"political transparency report site scraper found fewer advertisers than expected (expected: %d, got: %d)",
			t.MinAdvertisers, stats.Advertisers)
	case stats.PerAd() > t.MaxPerAdDuration:
		alert.Reason = fmt.Sprintf(
			"political transparency report site scraper took longer than expected to scrape each ad (expected: %s, got: %s)",
			t.MaxPerAdDuration, stats.PerAd())
	case stats.UnknownRatio() > t.MaxUnknownRatio:
		alert.Reason = fmt.Sprintf(
			"political transparency report site scraper found a greater proportion of ads of unknown type (expected: < %g, got: %g)",
			t.MaxUnknownRatio, stats.UnknownRatio())
	}

	if alert.Reason != "" {
		alert.Level = AlertWarn
	}
	return alert
}

// Summary describes a run with durations truncated to whole seconds.
func Summary(stats *domain.RunStats) string {
	return fmt.Sprintf(
		"scraped %d ads from transparency report site from %d advertisers in %s (%s / advertiser, %s / ad). %d ads of unrecognized type.",
		stats.Records,
		stats.Advertisers,
		seconds(stats.Duration),
		seconds(stats.PerAdvertiser()),
		seconds(stats.PerAd()),
		stats.UnknownErrors,
	)
}

func seconds(d time.Duration) time.Duration {
	return d.Truncate(time.Second)
}
