package transparency

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"adscraper/internal/domain"
	"adscraper/internal/render"
)

// Extractor derives the record fields for a classified creative. It reads the
// DOM and switches frame context but never mutates elements.
type Extractor struct {
	logger *slog.Logger
}

func NewExtractor(logger *slog.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract returns ok=false when the variant produces no record. Missing
// sub-elements become error records; only transport errors are returned.
func (x *Extractor) Extract(sess render.Session, el render.Element, v Variant, base domain.AdRecord, today time.Time) (domain.AdRecord, bool, error) {
	rec := base
	switch v {
	case VariantVideo:
		return x.video(el, rec)
	case VariantOtherVideo:
		rec.AdType = domain.AdTypeVideo
		rec.Error = true
		return rec, true, nil
	case VariantText:
		return x.text(el, rec)
	case VariantImageImg:
		return x.imageImg(el, rec)
	case VariantImageIframe:
		return x.imageIframe(sess, el, rec)
	case VariantPolicyViolation:
		d := dateOf(today)
		rec.AdType = domain.AdTypeUnknown
		rec.PolicyViolationDate = &d
		return rec, true, nil
	case VariantGmail:
		return rec, false, nil
	default:
		rec.AdType = domain.AdTypeUnknown
		rec.Error = true
		return rec, true, nil
	}
}

func (x *Extractor) video(el render.Element, rec domain.AdRecord) (domain.AdRecord, bool, error) {
	rec.AdType = domain.AdTypeVideo

	img, err := el.Find("img")
	if ok, err := found(err); err != nil {
		return rec, false, err
	} else if !ok {
		x.logger.Warn("video creative without thumbnail", "ad_id", rec.AdID)
		rec.Error = true
		return rec, true, nil
	}

	src, _, err := img.Attribute("src")
	if err != nil {
		return rec, false, err
	}
	parts := strings.Split(src, "/")
	if len(parts) < 5 || parts[4] == "" {
		x.logger.Warn("unexpected video thumbnail url", "ad_id", rec.AdID, "src", src)
		rec.Error = true
		return rec, true, nil
	}
	rec.YoutubeAdID = &parts[4]
	return rec, true, nil
}

func (x *Extractor) text(el render.Element, rec domain.AdRecord) (domain.AdRecord, bool, error) {
	rec.AdType = domain.AdTypeText

	container, err := el.Find(selTextAd)
	if ok, err := found(err); err != nil {
		return rec, false, err
	} else if !ok {
		rec.Error = true
		return rec, true, nil
	}

	divs, err := container.FindAll("div")
	if err != nil {
		return rec, false, err
	}
	lines := make([]string, 0, len(divs))
	for _, div := range divs {
		t, err := div.Text()
		if err != nil {
			return rec, false, err
		}
		lines = append(lines, t)
	}
	text := strings.Join(lines, "\n")
	rec.Text = &text
	return rec, true, nil
}

func (x *Extractor) imageImg(el render.Element, rec domain.AdRecord) (domain.AdRecord, bool, error) {
	rec.AdType = domain.AdTypeImage

	img, err := el.Find("img")
	if err != nil {
		if errors.Is(err, render.ErrNotFound) {
			rec.Error = true
			return rec, true, nil
		}
		return rec, false, err
	}
	src, ok, err := img.Attribute("src")
	if err != nil {
		return rec, false, err
	}
	if ok {
		rec.ImageURL = &src
	}

	dest, err := destination(el)
	if err != nil {
		return rec, false, err
	}
	rec.Destination = dest
	return rec, true, nil
}

func (x *Extractor) imageIframe(sess render.Session, el render.Element, rec domain.AdRecord) (_ domain.AdRecord, _ bool, err error) {
	rec.AdType = domain.AdTypeImage

	iframe, err := el.Find("iframe")
	if err != nil {
		if errors.Is(err, render.ErrNotFound) {
			rec.Error = true
			return rec, true, nil
		}
		return rec, false, err
	}
	frameURL, _, err := iframe.Attribute("src")
	if err != nil {
		return rec, false, err
	}

	if err := sess.EnterFrame(iframe); err != nil {
		return rec, false, fmt.Errorf("enter ad frame: %w", err)
	}
	defer func() {
		if exitErr := sess.ExitToTop(); exitErr != nil && err == nil {
			err = exitErr
		}
	}()

	canvas, err := sess.Find("canvas")
	hasCanvas, err := found(err)
	if err != nil {
		return rec, false, err
	}

	if hasCanvas {
		rec.AdType = domain.AdTypeImageAndText
		bg, err := canvas.Style("background-image")
		if err != nil {
			return rec, false, err
		}
		if u := cssURL(bg); u != "" {
			rec.ImageURL = &u
		}
		doc, err := sess.Find("html")
		if ok, err := found(err); err != nil {
			return rec, false, err
		} else if ok {
			text, err := doc.Text()
			if err != nil {
				return rec, false, err
			}
			rec.Text = &text
		}
		dest, err := frameDestination(sess)
		if err != nil {
			return rec, false, err
		}
		rec.Destination = dest
		return rec, true, nil
	}

	nested, err := sess.Find("iframe")
	if ok, err := found(err); err != nil {
		return rec, false, err
	} else if ok {
		src, _, err := nested.Attribute("src")
		if err != nil {
			return rec, false, err
		}
		frameURL = resolve(frameURL, src)
		if err := sess.EnterFrame(nested); err != nil {
			return rec, false, fmt.Errorf("enter nested frame: %w", err)
		}
	}

	imgs, err := sess.FindAll("img")
	if err != nil {
		return rec, false, err
	}
	urls := make([]string, 0, len(imgs))
	for _, img := range imgs {
		src, ok, err := img.Attribute("src")
		if err != nil {
			return rec, false, err
		}
		if ok {
			urls = append(urls, resolve(frameURL, src))
		}
	}
	rec.ImageURLs = urls

	dest, err := frameDestination(sess)
	if err != nil {
		return rec, false, err
	}
	rec.Destination = dest
	return rec, true, nil
}

// destination reads the optional anchor href of el.
func destination(el render.Element) (*string, error) {
	a, err := el.Find("a")
	if ok, err := found(err); !ok || err != nil {
		return nil, err
	}
	return href(a)
}

func frameDestination(sess render.Session) (*string, error) {
	a, err := sess.Find("a")
	if ok, err := found(err); !ok || err != nil {
		return nil, err
	}
	return href(a)
}

func href(a render.Element) (*string, error) {
	h, ok, err := a.Attribute("href")
	if err != nil || !ok || h == "" {
		return nil, err
	}
	d := UnwrapDestination(h)
	return &d, nil
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
