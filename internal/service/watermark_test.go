package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/septivank/energy-consumption-notifier/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticDates struct {
	dates []string
	err   error
}

func (s staticDates) ListInvoiceReadingDates(context.Context, int64) ([]string, error) {
	return s.dates, s.err
}

var (
	fixedNow  = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	lookbacks = config.WatermarkConfig{UnparseableLookback: 7 * 24 * time.Hour, EmptyLookback: 30 * 24 * time.Hour}
)

func newTracker(store readingDateLister) *WatermarkTracker {
	tracker := NewWatermarkTracker(store, lookbacks)
	tracker.now = func() time.Time { return fixedNow }
	return tracker
}

func TestWatermark_LatestParsedReadingDate(t *testing.T) {
	wm, err := newTracker(staticDates{dates: []string{
		"2024-01-15",
		"05/03/2024",
		"sin fecha",
		"2024-02-28 10:00:00",
	}}).Resolve(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, WatermarkLatestInvoice, wm.Source)
	assert.True(t, wm.Since.Equal(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)))
}

func TestWatermark_NoInvoices(t *testing.T) {
	wm, err := newTracker(staticDates{}).Resolve(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, WatermarkEmpty, wm.Source)
	assert.True(t, wm.Since.Equal(fixedNow.AddDate(0, 0, -30)))
}

func TestWatermark_NothingParses(t *testing.T) {
	wm, err := newTracker(staticDates{dates: []string{"marzo", "??"}}).Resolve(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, WatermarkUnparseable, wm.Source)
	assert.True(t, wm.Since.Equal(fixedNow.AddDate(0, 0, -7)))
}

func TestWatermark_StoreError(t *testing.T) {
	_, err := newTracker(staticDates{err: errors.New("timeout")}).Resolve(context.Background(), 1)
	assert.ErrorContains(t, err, "timeout")
}
