package transparency

import (
	"fmt"
	"html"
	"io"
	"log/slog"
	"strings"

	"adscraper/internal/render"
	"adscraper/internal/render/snapshot"
)

const detailBase = "https://transparencyreport.google.com/political-ads/advertiser/AR100/creative/"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func creative(adID, inner string) string {
	return fmt.Sprintf(`<creative-preview><a href="%s%s"></a>%s</creative-preview>`, detailBase, adID, inner)
}

func frame(src, doc string) string {
	return fmt.Sprintf(`<iframe src="%s" srcdoc="%s"></iframe>`, src, html.EscapeString(doc))
}

func page(parts ...string) string {
	return "<html><body>" + strings.Join(parts, "") + "</body></html>"
}

const loadMoreButton = `<button class="ng-star-inserted">See more</button>`

func newSession(pages ...string) *snapshot.Session {
	s, err := snapshot.New(pages...)
	if err != nil {
		panic(err)
	}
	return s
}

// firstCreative returns the first creative element of a single-creative page.
func firstCreative(s *snapshot.Session) render.Element {
	els, err := s.FindAll("creative-preview")
	if err != nil || len(els) == 0 {
		panic("no creative in fixture")
	}
	return els[0]
}
