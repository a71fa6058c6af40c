package domain

import "time"

type AdType string

const (
	AdTypeVideo        AdType = "video"
	AdTypeText         AdType = "text"
	AdTypeImage        AdType = "image"
	AdTypeImageAndText AdType = "image_and_text"
	AdTypeUnknown      AdType = "unknown"
)

// AdRecord is one classified ad creative. Fields that do not apply to AdType are nil.
type AdRecord struct {
	AdID                string     `db:"ad_id" json:"ad_id"`
	AdvertiserID        string     `db:"advertiser_id" json:"advertiser_id"`
	AdType              AdType     `db:"ad_type" json:"ad_type"`
	Error               bool       `db:"error" json:"error"`
	PolicyViolationDate *time.Time `db:"policy_violation_date" json:"policy_violation_date,omitempty"`
	YoutubeAdID         *string    `db:"youtube_ad_id" json:"youtube_ad_id,omitempty"`
	Text                *string    `db:"ad_text" json:"text,omitempty"`
	ImageURL            *string    `db:"image_url" json:"image_url,omitempty"`
	ImageURLs           []string   `db:"-" json:"image_urls,omitempty"`
	Destination         *string    `db:"destination" json:"destination,omitempty"`
}

// IsUnrecognized reports whether the creative matched no known markup.
func (r AdRecord) IsUnrecognized() bool {
	return r.Error && r.AdType == AdTypeUnknown
}

// WorkItem is one advertiser and date range to scrape.
type WorkItem struct {
	AdvertiserID   string
	AdvertiserName string
	StartDate      time.Time
	EndDate        time.Time
}

type Advertiser struct {
	ID        string    `db:"advertiser_id"`
	Name      string    `db:"advertiser_name"`
	StartDate time.Time `db:"start_date"`
}
