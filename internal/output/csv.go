package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"adscraper/internal/domain"
)

// Header is the export column order.
var Header = []string{
	"ad_id",
	"ad_type",
	"error",
	"policy_violation_date",
	"youtube_ad_id",
	"text",
	"image_url",
	"image_urls",
	"destination",
}

// CSVWriter writes ad records as CSV rows. A creative seen again after a
// session restart is written once.
type CSVWriter struct {
	w    *csv.Writer
	seen map[string]struct{}
}

func NewCSVWriter(w io.Writer) (*CSVWriter, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return &CSVWriter{w: cw, seen: make(map[string]struct{})}, nil
}

func (c *CSVWriter) Write(rec *domain.AdRecord) error {
	if _, ok := c.seen[rec.AdID]; ok {
		return nil
	}

	row, err := toRow(rec)
	if err != nil {
		return err
	}
	if err := c.w.Write(row); err != nil {
		return fmt.Errorf("write csv row %s: %w", rec.AdID, err)
	}
	c.seen[rec.AdID] = struct{}{}
	return nil
}

func (c *CSVWriter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}

// Written returns the number of distinct records written.
func (c *CSVWriter) Written() int {
	return len(c.seen)
}

func toRow(rec *domain.AdRecord) ([]string, error) {
	var violation string
	if rec.PolicyViolationDate != nil {
		violation = rec.PolicyViolationDate.Format(time.DateOnly)
	}

	var images string
	if rec.ImageURLs != nil {
		b, err := json.Marshal(rec.ImageURLs)
		if err != nil {
			return nil, fmt.Errorf("encode image urls: %w", err)
		}
		images = string(b)
	}

	return []string{
		rec.AdID,
		string(rec.AdType),
		strconv.FormatBool(rec.Error),
		violation,
		deref(rec.YoutubeAdID),
		deref(rec.Text),
		deref(rec.ImageURL),
		images,
		deref(rec.Destination),
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ExportPath is data/{advertiser}_{start}_{end}_scrape.csv under dir.
func ExportPath(dir, advertiserID string, start, end time.Time) string {
	name := fmt.Sprintf("%s_%s_%s_scrape.csv", advertiserID, start.Format(time.DateOnly), end.Format(time.DateOnly))
	return filepath.Join(dir, name)
}

// CSVFile is a CSVWriter backed by a file it owns.
type CSVFile struct {
	*CSVWriter
	f *os.File
}

// CreateCSVFile creates path and its parent directories and writes the header.
func CreateCSVFile(path string) (*CSVFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	w, err := NewCSVWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &CSVFile{CSVWriter: w, f: f}, nil
}

func (c *CSVFile) Close() error {
	if err := c.Flush(); err != nil {
		c.f.Close()
		return err
	}
	return c.f.Close()
}
