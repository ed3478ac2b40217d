package service

import (
	"context"
	"errors"

	"github.com/septivank/energy-consumption-notifier/internal/anomaly"
	"github.com/septivank/energy-consumption-notifier/internal/db"
	"go.uber.org/zap"
)

// MeterAnalysis is the scored history of one meter
type MeterAnalysis struct {
	State   anomaly.AlertState `json:"state"`
	Message string             `json:"message,omitempty"`
	Records []anomaly.Scored   `json:"records"`
}

type recordLister interface {
	ListConsumptionRecords(ctx context.Context, userID int64, nic string) ([]db.ConsumptionRecord, error)
}

// QueryService answers anomaly questions about a (user, meter) pair
type QueryService struct {
	store    recordLister
	detector *anomaly.Detector
	logger   *zap.Logger
}

// NewQueryService creates a new query service
func NewQueryService(store recordLister, detector *anomaly.Detector, logger *zap.Logger) *QueryService {
	return &QueryService{store: store, detector: detector, logger: logger}
}

// DetectAnomalies scores the full history of the meter. Failures are reported
// in the result state.
func (q *QueryService) DetectAnomalies(ctx context.Context, userID int64, nic string) MeterAnalysis {
	records, err := q.store.ListConsumptionRecords(ctx, userID, nic)
	if err != nil {
		q.logger.Error("failed to load consumption history",
			zap.Error(err),
			zap.Int64("user_id", userID),
			zap.String("nic", nic),
		)
		return MeterAnalysis{State: anomaly.StateError, Message: err.Error()}
	}
	if len(records) == 0 {
		return MeterAnalysis{State: anomaly.StateNoData}
	}

	observations := make([]anomaly.Observation, 0, len(records))
	for _, r := range records {
		observations = append(observations, anomaly.Observation{
			ID:             r.ID,
			Date:           r.Date,
			ConsumptionKWh: r.ConsumptionKWh,
		})
	}

	scored, err := q.detector.Score(observations)
	if errors.Is(err, anomaly.ErrNoObservations) {
		return MeterAnalysis{State: anomaly.StateNoData}
	}
	if err != nil {
		return MeterAnalysis{State: anomaly.StateError, Message: err.Error()}
	}

	return MeterAnalysis{State: anomaly.StateCurrent, Records: scored}
}

// CurrentAlert returns the verdict of the most recent scored reading
func (q *QueryService) CurrentAlert(ctx context.Context, userID int64, nic string) anomaly.Alert {
	analysis := q.DetectAnomalies(ctx, userID, nic)
	if analysis.State == anomaly.StateError {
		return anomaly.Alert{State: anomaly.StateError, Message: analysis.Message}
	}
	return anomaly.SelectCurrent(analysis.Records)
}
