package service

import (
	"context"
	"errors"
	"testing"

	"github.com/septivank/energy-consumption-notifier/internal/anomaly"
	"github.com/septivank/energy-consumption-notifier/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticRecords struct {
	records []db.ConsumptionRecord
	err     error
}

func (s staticRecords) ListConsumptionRecords(context.Context, int64, string) ([]db.ConsumptionRecord, error) {
	return s.records, s.err
}

func newQueries(store recordLister) *QueryService {
	return NewQueryService(store, anomaly.NewDetector(anomaly.DefaultSettings()), zap.NewNop())
}

func TestDetectAnomalies_ScoresHistory(t *testing.T) {
	analysis := newQueries(staticRecords{records: []db.ConsumptionRecord{
		{ID: 1, Date: "01/23", ConsumptionKWh: 100},
		{ID: 2, Date: "02/23", ConsumptionKWh: 102},
		{ID: 3, Date: "01/24", ConsumptionKWh: 98},
		{ID: 4, Date: "02/24", ConsumptionKWh: 101},
		{ID: 5, Date: "01/25", ConsumptionKWh: 400},
	}}).DetectAnomalies(context.Background(), 1, "1234567")

	assert.Equal(t, anomaly.StateCurrent, analysis.State)
	require.Len(t, analysis.Records, 5)
	assert.Equal(t, int64(5), analysis.Records[4].ID)
	require.NotNil(t, analysis.Records[4].Verdict)
	assert.True(t, analysis.Records[4].Verdict.IsAnomaly)
}

func TestDetectAnomalies_NoRecords(t *testing.T) {
	analysis := newQueries(staticRecords{}).DetectAnomalies(context.Background(), 1, "1234567")
	assert.Equal(t, anomaly.StateNoData, analysis.State)
	assert.Empty(t, analysis.Records)
}

func TestDetectAnomalies_StorageErrorBecomesState(t *testing.T) {
	analysis := newQueries(staticRecords{err: errors.New("relation does not exist")}).
		DetectAnomalies(context.Background(), 1, "1234567")

	assert.Equal(t, anomaly.StateError, analysis.State)
	assert.Equal(t, "relation does not exist", analysis.Message)
}

func TestCurrentAlert(t *testing.T) {
	ctx := context.Background()

	alert := newQueries(staticRecords{records: []db.ConsumptionRecord{
		{Date: "01/23", ConsumptionKWh: 100},
		{Date: "02/23", ConsumptionKWh: 102},
		{Date: "01/24", ConsumptionKWh: 98},
		{Date: "02/24", ConsumptionKWh: 101},
		{Date: "01/25", ConsumptionKWh: 400},
	}}).CurrentAlert(ctx, 1, "1234567")
	assert.Equal(t, anomaly.StateCurrent, alert.State)
	assert.Equal(t, "01/25", alert.Date)
	assert.True(t, alert.IsAnomaly)

	alert = newQueries(staticRecords{records: []db.ConsumptionRecord{{Date: "01/25", ConsumptionKWh: 90}}}).
		CurrentAlert(ctx, 1, "1234567")
	assert.Equal(t, anomaly.StateNoData, alert.State)

	alert = newQueries(staticRecords{err: errors.New("boom")}).CurrentAlert(ctx, 1, "1234567")
	assert.Equal(t, anomaly.Alert{State: anomaly.StateError, Message: "boom"}, alert)
}
