package transparency

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"adscraper/internal/domain"
	"adscraper/internal/metrics"
	"adscraper/internal/render"
)

// EmitFunc receives every record as soon as its creative is extracted.
type EmitFunc func(ctx context.Context, rec domain.AdRecord) error

type DriverConfig struct {
	EmptyRecheckWait time.Duration
	LoadMoreWait     time.Duration
	LoadingShortWait time.Duration
	LoadingLongWait  time.Duration
	// MaxEmptyLoadMore bounds consecutive load-more clicks that reveal no
	// new creatives before the listing is treated as exhausted.
	MaxEmptyLoadMore int
}

type DriverStats struct {
	Records       int
	UnknownErrors int
	Errors        int
	Skipped       int
	Batches       int
}

type driverState int

const (
	stateFetching driverState = iota
	stateRecheck
	stateLoadMore
	stateProcessing
	stateDone
)

// Driver pages through one listing session. Creatives are processed in
// enumeration order and each batch is fully marked before the next query.
type Driver struct {
	cfg        DriverConfig
	classifier *Classifier
	extractor  *Extractor
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

func NewDriver(cfg DriverConfig, m *metrics.Metrics, logger *slog.Logger) *Driver {
	if cfg.MaxEmptyLoadMore <= 0 {
		cfg.MaxEmptyLoadMore = 1
	}
	return &Driver{
		cfg:        cfg,
		classifier: NewClassifier(),
		extractor:  NewExtractor(logger),
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

func (d *Driver) Run(ctx context.Context, sess render.Session, advertiserID string, emit EmitFunc) (DriverStats, error) {
	var (
		stats DriverStats
		batch []render.Element
		err   error

		// clicked is set when load-more fired since the last non-empty fetch.
		clicked    bool
		emptyClick int
	)
	logger := d.logger.With("advertiser_id", advertiserID)

	state := stateFetching
	for state != stateDone {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		switch state {
		case stateFetching, stateRecheck:
			batch, err = sess.FindAll(selUnprocessed)
			if err != nil {
				return stats, err
			}
			logger.Info("fetched creatives", "count", len(batch), "recheck", state == stateRecheck)
			switch {
			case len(batch) > 0:
				clicked, emptyClick = false, 0
				state = stateProcessing
			case state == stateFetching:
				if err := sess.Wait(ctx, d.cfg.EmptyRecheckWait); err != nil {
					return stats, err
				}
				state = stateRecheck
			default:
				state = stateLoadMore
			}

		case stateLoadMore:
			if clicked {
				emptyClick++
			}
			if emptyClick >= d.cfg.MaxEmptyLoadMore {
				logger.Warn("load more revealed no creatives, giving up", "clicks", emptyClick)
				state = stateDone
				continue
			}
			if clicked, err = d.loadMore(ctx, sess); err != nil {
				return stats, err
			}
			state = nextAfterLoadMore(clicked)

		case stateProcessing:
			if err := d.processBatch(ctx, sess, batch, advertiserID, emit, &stats, logger); err != nil {
				return stats, err
			}
			if clicked, err = d.loadMore(ctx, sess); err != nil {
				return stats, err
			}
			state = nextAfterLoadMore(clicked)
		}
	}

	return stats, nil
}

func nextAfterLoadMore(clicked bool) driverState {
	if clicked {
		return stateFetching
	}
	return stateDone
}

func (d *Driver) loadMore(ctx context.Context, sess render.Session) (bool, error) {
	btn, err := sess.Find(selLoadMore)
	if ok, err := found(err); err != nil || !ok {
		return false, err
	}
	if err := sess.Click(btn); err != nil {
		return false, err
	}
	if err := sess.Wait(ctx, d.cfg.LoadMoreWait); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Driver) processBatch(
	ctx context.Context,
	sess render.Session,
	batch []render.Element,
	advertiserID string,
	emit EmitFunc,
	stats *DriverStats,
	logger *slog.Logger,
) error {
	start := d.now()
	stats.Batches++

	for i, el := range batch {
		rec, ok, err := d.processOne(ctx, sess, el, advertiserID, logger)
		if err != nil {
			return err
		}
		if i == 0 && ok {
			logger.Info("new tranche", "first_ad_id", rec.AdID)
		}

		if ok {
			if err := emit(ctx, rec); err != nil {
				return err
			}
			stats.Records++
			if rec.Error {
				stats.Errors++
			}
			if rec.IsUnrecognized() {
				stats.UnknownErrors++
			}
			d.metrics.ObserveRecord(rec)
		} else {
			stats.Skipped++
		}

		if err := sess.MarkProcessed(el, classProcessed); err != nil {
			return err
		}
		if err := sess.ClearSubtree(el); err != nil {
			return err
		}
	}

	took := d.now().Sub(start)
	d.metrics.ObserveBatch(took)
	logger.Info("processed batch", "count", len(batch), "took", took)
	return nil
}

// processOne returns ok=false when the creative yields no record.
func (d *Driver) processOne(ctx context.Context, sess render.Session, el render.Element, advertiserID string, logger *slog.Logger) (domain.AdRecord, bool, error) {
	adID, err := d.adID(el)
	if err != nil {
		return domain.AdRecord{}, false, err
	}
	if adID == "" {
		logger.Warn("creative without detail link, skipping")
		return domain.AdRecord{}, false, nil
	}

	if err := d.settle(ctx, sess, el); err != nil {
		return domain.AdRecord{}, false, err
	}

	variant, err := d.classifier.Classify(el)
	if err != nil {
		return domain.AdRecord{}, false, err
	}
	logger.Debug("classified creative", "ad_id", adID, "variant", variant)

	if variant == VariantText {
		if err := d.stripIcon(sess, el); err != nil {
			return domain.AdRecord{}, false, err
		}
	}

	base := domain.AdRecord{AdID: adID, AdvertiserID: advertiserID}
	rec, ok, err := d.extractor.Extract(sess, el, variant, base, d.now())
	if err != nil {
		return domain.AdRecord{}, false, err
	}
	if variant == VariantUnknown {
		logger.Warn("unrecognized ad type", "ad_id", adID)
	}
	return rec, ok, nil
}

func (d *Driver) adID(el render.Element) (string, error) {
	a, err := el.Find("a")
	if ok, err := found(err); err != nil || !ok {
		return "", err
	}
	h, _, err := a.Attribute("href")
	if err != nil {
		return "", err
	}
	if h == "" {
		return "", nil
	}
	return lastPathSegment(h), nil
}

// settle waits out a loading spinner: a short wait, then one longer wait.
func (d *Driver) settle(ctx context.Context, sess render.Session, el render.Element) error {
	for _, wait := range []time.Duration{d.cfg.LoadingShortWait, d.cfg.LoadingLongWait} {
		loading, err := IsLoading(el)
		if err != nil {
			return err
		}
		if !loading {
			return nil
		}
		if err := sess.Wait(ctx, wait); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) stripIcon(sess render.Session, el render.Element) error {
	icon, err := el.Find(selTextAd + " " + selAdIcon)
	if err != nil {
		if errors.Is(err, render.ErrNotFound) {
			return nil
		}
		return err
	}
	return sess.Remove(icon)
}
