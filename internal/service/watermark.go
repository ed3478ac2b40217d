package service

import (
	"context"
	"fmt"
	"time"

	"github.com/septivank/energy-consumption-notifier/internal/config"
	"github.com/septivank/energy-consumption-notifier/tools/timeparser"
)

// WatermarkSource tells where a sync starting point came from
type WatermarkSource string

const (
	WatermarkLatestInvoice WatermarkSource = "latest_invoice"
	WatermarkUnparseable   WatermarkSource = "unparseable_fallback"
	WatermarkEmpty         WatermarkSource = "empty_fallback"
)

// Watermark is the instant from which new invoice emails are fetched
type Watermark struct {
	Since  time.Time       `json:"since"`
	Source WatermarkSource `json:"source"`
}

type readingDateLister interface {
	ListInvoiceReadingDates(ctx context.Context, userID int64) ([]string, error)
}

// WatermarkTracker resolves per-user sync watermarks from stored invoices
type WatermarkTracker struct {
	store readingDateLister
	cfg   config.WatermarkConfig
	now   func() time.Time
}

// NewWatermarkTracker creates a new tracker
func NewWatermarkTracker(store readingDateLister, cfg config.WatermarkConfig) *WatermarkTracker {
	return &WatermarkTracker{store: store, cfg: cfg, now: time.Now}
}

// Resolve returns the latest parsed invoice reading date of the user, or a
// lookback from now when there is nothing usable on file.
func (w *WatermarkTracker) Resolve(ctx context.Context, userID int64) (Watermark, error) {
	dates, err := w.store.ListInvoiceReadingDates(ctx, userID)
	if err != nil {
		return Watermark{}, fmt.Errorf("failed to load reading dates: %w", err)
	}

	now := w.now().UTC()
	if len(dates) == 0 {
		return Watermark{Since: now.Add(-w.cfg.EmptyLookback), Source: WatermarkEmpty}, nil
	}

	var latest time.Time
	for _, d := range dates {
		t, err := timeparser.ParseReadingDate(d)
		if err != nil {
			continue
		}
		if t.After(latest) {
			latest = t
		}
	}

	if latest.IsZero() {
		return Watermark{Since: now.Add(-w.cfg.UnparseableLookback), Source: WatermarkUnparseable}, nil
	}
	return Watermark{Since: latest, Source: WatermarkLatestInvoice}, nil
}
