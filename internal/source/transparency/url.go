package transparency

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const DefaultBaseURL = "https://transparencyreport.google.com/political-ads/advertiser"

// ListingURL builds the creatives listing for one advertiser and date range.
// Dates are encoded as epoch milliseconds of their UTC midnight.
func ListingURL(baseURL, advertiserID string, start, end time.Time) string {
	return fmt.Sprintf(
		"%s/%s?campaign_creatives=start:%d;end:%d;spend:;impressions:;type:;sort:3&lu=campaign_creatives",
		strings.TrimRight(baseURL, "/"),
		advertiserID,
		epochMillis(start),
		epochMillis(end),
	)
}

func epochMillis(d time.Time) int64 {
	y, m, day := d.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC).UnixMilli()
}

// UnwrapDestination returns the first adurl query value of a redirect link,
// or the link unchanged.
func UnwrapDestination(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if v := u.Query()["adurl"]; len(v) > 0 {
		return v[0]
	}
	return href
}

// lastPathSegment returns the trailing path segment of a detail link.
func lastPathSegment(href string) string {
	if u, err := url.Parse(href); err == nil && u.Path != "" {
		href = u.Path
	}
	href = strings.TrimRight(href, "/")
	if i := strings.LastIndex(href, "/"); i >= 0 {
		return href[i+1:]
	}
	return href
}

// resolve makes ref absolute against base. Unparseable input is returned as is.
func resolve(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil || base == "" {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// cssURL strips a url("...") wrapper from a CSS value.
func cssURL(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || v == "none" {
		return ""
	}
	if strings.HasPrefix(v, "url(") && strings.HasSuffix(v, ")") {
		v = strings.TrimSpace(v[len("url(") : len(v)-1])
	}
	return strings.Trim(v, `"'`)
}
