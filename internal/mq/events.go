package mq

import (
	"encoding/json"
	"fmt"
	"time"
)

// RunRequestedCommand asks the worker to start a notification run now
type RunRequestedCommand struct {
	RequestID   string    `json:"request_id"`
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// DecodeRunRequested parses a trigger message. An empty body is a valid
// request without metadata.
func DecodeRunRequested(body []byte) (RunRequestedCommand, error) {
	var cmd RunRequestedCommand
	if len(body) == 0 {
		return cmd, nil
	}
	if err := json.Unmarshal(body, &cmd); err != nil {
		return cmd, fmt.Errorf("failed to unmarshal run request: %w", err)
	}
	return cmd, nil
}

// RunCompletedEvent summarizes a finished notification run
type RunCompletedEvent struct {
	EventID           string    `json:"event_id"`
	RunID             string    `json:"run_id"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	UsersProcessed    int       `json:"users_processed"`
	InvoicesIngested  int       `json:"invoices_ingested"`
	RecordsIngested   int       `json:"records_ingested"`
	AnomaliesDetected int       `json:"anomalies_detected"`
	AlertsSent        int       `json:"alerts_sent"`
	UsersWithErrors   int       `json:"users_with_errors"`
}

// AlertedReading is one anomalous reading included in an alert email
type AlertedReading struct {
	NIC            string  `json:"nic"`
	Date           string  `json:"date"`
	ConsumptionKWh float64 `json:"consumption_kwh"`
	PctVsBaseline  float64 `json:"pct_vs_baseline"`
	Score          float64 `json:"score"`
}

// AnomalyAlertEvent is published after an alert email was delivered
type AnomalyAlertEvent struct {
	EventID   string           `json:"event_id"`
	RunID     string           `json:"run_id"`
	UserID    int64            `json:"user_id"`
	Email     string           `json:"email"`
	SentAt    time.Time        `json:"sent_at"`
	Anomalies []AlertedReading `json:"anomalies"`
}
