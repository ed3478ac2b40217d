package service

import (
	"fmt"
	"time"

	"github.com/septivank/energy-consumption-notifier/internal/mq"
)

// Processing stages used to label per-user errors
const (
	stageWatermark = "watermark"
	stageRefresh   = "refresh"
	stageFetch     = "fetch"
	stageParse     = "parse"
	stageIngest    = "ingest"
	stageDetect    = "detect"
	stageDispatch  = "dispatch"
	stageTask      = "task"
)

// UserReport describes what one notification run did for one user
type UserReport struct {
	UserID            int64      `json:"user_id"`
	Email             string     `json:"email"`
	Eligible          bool       `json:"eligible"`
	Since             *time.Time `json:"since,omitempty"`
	EmailsFound       int        `json:"emails_found"`
	InvoicesIngested  int        `json:"invoices_ingested"`
	InvoicesDuplicate int        `json:"invoices_duplicate"`
	RecordsIngested   int        `json:"records_ingested"`
	RecordsDuplicate  int        `json:"records_duplicate"`
	AnomaliesDetected int        `json:"anomalies_detected"`
	EmailSent         bool       `json:"email_sent"`
	Errors            []string   `json:"errors"`
}

func (r *UserReport) addError(stage string, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", stage, err))
}

// RunReport summarizes a whole notification run
type RunReport struct {
	RunID                  string       `json:"run_id"`
	StartedAt              time.Time    `json:"started_at"`
	FinishedAt             time.Time    `json:"finished_at"`
	UsersProcessed         int          `json:"users_processed"`
	TotalEmailsFound       int          `json:"total_emails_found"`
	TotalInvoicesIngested  int          `json:"total_invoices_ingested"`
	TotalInvoicesDuplicate int          `json:"total_invoices_duplicate"`
	TotalRecordsIngested   int          `json:"total_records_ingested"`
	TotalRecordsDuplicate  int          `json:"total_records_duplicate"`
	TotalAnomaliesDetected int          `json:"total_anomalies_detected"`
	AlertsSent             int          `json:"alerts_sent"`
	UsersWithErrors        int          `json:"users_with_errors"`
	Users                  []UserReport `json:"users"`
}

func (r *RunReport) add(u UserReport) {
	r.UsersProcessed++
	r.TotalEmailsFound += u.EmailsFound
	r.TotalInvoicesIngested += u.InvoicesIngested
	r.TotalInvoicesDuplicate += u.InvoicesDuplicate
	r.TotalRecordsIngested += u.RecordsIngested
	r.TotalRecordsDuplicate += u.RecordsDuplicate
	r.TotalAnomaliesDetected += u.AnomaliesDetected
	if u.EmailSent {
		r.AlertsSent++
	}
	if len(u.Errors) > 0 {
		r.UsersWithErrors++
	}
	r.Users = append(r.Users, u)
}

func (r *RunReport) completedEvent() mq.RunCompletedEvent {
	return mq.RunCompletedEvent{
		RunID:             r.RunID,
		StartedAt:         r.StartedAt,
		FinishedAt:        r.FinishedAt,
		UsersProcessed:    r.UsersProcessed,
		InvoicesIngested:  r.TotalInvoicesIngested,
		RecordsIngested:   r.TotalRecordsIngested,
		AnomaliesDetected: r.TotalAnomaliesDetected,
		AlertsSent:        r.AlertsSent,
		UsersWithErrors:   r.UsersWithErrors,
	}
}
