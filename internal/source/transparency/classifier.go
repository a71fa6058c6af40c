package transparency

import (
	"errors"
	"strings"

	"adscraper/internal/render"
)

type Variant string

const (
	VariantVideo           Variant = "video"
	VariantOtherVideo      Variant = "other_video"
	VariantText            Variant = "text"
	VariantImageImg        Variant = "image_img"
	VariantImageIframe     Variant = "image_iframe"
	VariantPolicyViolation Variant = "policy_violation"
	VariantGmail           Variant = "gmail"
	VariantUnknown         Variant = "unknown"
)

const (
	selUnprocessed  = "creative-preview:not(.alreadyprocessed)"
	classProcessed  = "alreadyprocessed"
	selLoadMore     = "button.ng-star-inserted"
	selSpinner      = "mat-progress-spinner"
	selVideoPreview = "figure.video-preview"
	selUnrenderable = "unrenderable-ad"
	selCaption      = "figcaption"
	selTextAd       = "text-ad"
	selAdIcon       = ".ad-icon"
)

type predicate func(el render.Element) (bool, error)

type rule struct {
	variant Variant
	match   predicate
}

// Classifier maps a rendered creative to a Variant. Rules are evaluated in
// order and the first match wins.
type Classifier struct {
	rules []rule
}

func NewClassifier() *Classifier {
	return &Classifier{rules: []rule{
		{VariantVideo, has(selVideoPreview)},
		{VariantOtherVideo, isOtherVideo},
		{VariantText, has(selTextAd)},
		{VariantImageImg, has("img")},
		{VariantImageIframe, has("iframe")},
		{VariantPolicyViolation, isPolicyViolation},
		{VariantGmail, never},
	}}
}

// Classify returns VariantUnknown when no rule matches. Only transport errors
// are returned.
func (c *Classifier) Classify(el render.Element) (Variant, error) {
	for _, r := range c.rules {
		ok, err := r.match(el)
		if err != nil {
			return "", err
		}
		if ok {
			return r.variant, nil
		}
	}
	return VariantUnknown, nil
}

// IsLoading reports whether the creative still shows a progress spinner.
func IsLoading(el render.Element) (bool, error) {
	return has(selSpinner)(el)
}

func has(selector string) predicate {
	return func(el render.Element) (bool, error) {
		_, err := el.Find(selector)
		return found(err)
	}
}

func isOtherVideo(el render.Element) (bool, error) {
	if ok, err := has(selUnrenderable)(el); !ok || err != nil {
		return false, err
	}
	caption, err := el.Find(selCaption)
	if ok, err := found(err); !ok || err != nil {
		return false, err
	}
	text, err := caption.Text()
	if err != nil {
		return false, err
	}
	return strings.Contains(text, "Video ad"), nil
}

func isPolicyViolation(el render.Element) (bool, error) {
	unrenderable, err := el.Find(selUnrenderable)
	if ok, err := found(err); !ok || err != nil {
		return false, err
	}
	text, err := unrenderable.Text()
	if err != nil {
		return false, err
	}
	return strings.Contains(text, "Policy violation"), nil
}

func never(render.Element) (bool, error) { return false, nil }

func found(err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, render.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
