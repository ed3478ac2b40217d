package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/energy-consumption-notifier/internal/anomaly"
	"github.com/septivank/energy-consumption-notifier/internal/config"
	"github.com/septivank/energy-consumption-notifier/internal/db"
	"github.com/septivank/energy-consumption-notifier/internal/dispatch"
	"github.com/septivank/energy-consumption-notifier/internal/extraction"
	"github.com/septivank/energy-consumption-notifier/internal/ingest"
	"github.com/septivank/energy-consumption-notifier/internal/logging"
	"github.com/septivank/energy-consumption-notifier/internal/mq"
	"github.com/septivank/energy-consumption-notifier/internal/validator"
	"github.com/septivank/energy-consumption-notifier/tools/timeparser"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrRunInProgress is returned when a run is requested while another is active
	ErrRunInProgress = errors.New("notification run already in progress")
	// ErrNoUsersEnumerated is returned when the eligible users cannot be listed
	ErrNoUsersEnumerated = errors.New("failed to enumerate users")
)

// Store is the persistence surface of a notification run
type Store interface {
	ingest.Store
	ListEligibleUsers(ctx context.Context) ([]db.User, error)
	UpdateAccessToken(ctx context.Context, userID int64, accessToken string) error
	ListInvoiceReadingDates(ctx context.Context, userID int64) ([]string, error)
	SetChartArtifact(ctx context.Context, invoiceID int64, artifact string) error
}

// Extractor finds and parses invoice emails
type Extractor interface {
	SearchSources(ctx context.Context, userID int64, accessToken string, since time.Time) ([]extraction.Source, error)
	ParseSource(ctx context.Context, accessToken string, source extraction.Source) (*extraction.ParsedInvoice, error)
}

// CredentialRefresher mints access tokens
type CredentialRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// Dispatcher delivers alert emails
type Dispatcher interface {
	SendAlert(ctx context.Context, accessToken string, email dispatch.AlertEmail) error
}

// EventPublisher announces run outcomes
type EventPublisher interface {
	PublishRunCompleted(ctx context.Context, event mq.RunCompletedEvent) error
	PublishAnomalyAlert(ctx context.Context, event mq.AnomalyAlertEvent) error
}

// NotifierSettings holds the orchestration knobs
type NotifierSettings struct {
	MinIncreasePercentage float64
	MaxAnomaliesPerEmail  int
	UserTimeout           time.Duration
	MaxConcurrentUsers    int
}

// NotifierDeps holds everything a Notifier is built from
type NotifierDeps struct {
	Store       Store
	Extractor   Extractor
	Credentials CredentialRefresher
	Dispatcher  Dispatcher
	Events      EventPublisher
	Detector    *anomaly.Detector
	Validator   *validator.Validator
	Watermark   config.WatermarkConfig
	Settings    NotifierSettings
	Logger      *zap.Logger
}

// Notifier syncs invoices for every eligible user and alerts on anomalies
type Notifier struct {
	store       Store
	extractor   Extractor
	credentials CredentialRefresher
	dispatcher  Dispatcher
	events      EventPublisher
	validator   *validator.Validator
	dedup       *ingest.Deduplicator
	watermarks  *WatermarkTracker
	queries     *QueryService
	settings    NotifierSettings
	logger      *zap.Logger

	sem     *semaphore.Weighted
	running sync.Mutex
	now     func() time.Time
}

// NewNotifier creates a new notifier
func NewNotifier(deps NotifierDeps) *Notifier {
	return &Notifier{
		store:       deps.Store,
		extractor:   deps.Extractor,
		credentials: deps.Credentials,
		dispatcher:  deps.Dispatcher,
		events:      deps.Events,
		validator:   deps.Validator,
		dedup:       ingest.NewDeduplicator(deps.Store),
		watermarks:  NewWatermarkTracker(deps.Store, deps.Watermark),
		queries:     NewQueryService(deps.Store, deps.Detector, deps.Logger),
		settings:    deps.Settings,
		logger:      deps.Logger,
		sem:         semaphore.NewWeighted(int64(deps.Settings.MaxConcurrentUsers)),
		now:         time.Now,
	}
}

type runIDKey struct{}

func runIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Run processes every eligible user once
func (n *Notifier) Run(ctx context.Context) (*RunReport, error) {
	if !n.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer n.running.Unlock()

	report := &RunReport{
		RunID:     uuid.NewString(),
		StartedAt: n.now().UTC(),
		Users:     []UserReport{},
	}
	logger := logging.WithRunID(n.logger, report.RunID)
	ctx = context.WithValue(ctx, runIDKey{}, report.RunID)

	users, err := n.store.ListEligibleUsers(ctx)
	if err != nil {
		logger.Error("failed to list eligible users", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrNoUsersEnumerated, err)
	}

	logger.Info("notification run started", zap.Int("users", len(users)))

	for _, user := range users {
		if ctx.Err() != nil {
			logger.Warn("run cancelled, skipping remaining users", zap.Error(ctx.Err()))
			break
		}

		u := user
		userReport, err := runTask(ctx, n.sem, n.settings.UserTimeout, func(taskCtx context.Context) UserReport {
			return n.ProcessUser(taskCtx, u)
		})
		if err != nil {
			logging.WithUser(logger, u.ID, u.Email).Error("user task aborted", zap.Error(err))
			userReport = UserReport{UserID: u.ID, Email: u.Email, Eligible: u.HasRefreshToken()}
			userReport.addError(stageTask, err)
		}
		report.add(userReport)
	}

	report.FinishedAt = n.now().UTC()

	if err := n.events.PublishRunCompleted(ctx, report.completedEvent()); err != nil {
		logger.Warn("failed to publish run completed event", zap.Error(err))
	}

	logger.Info("notification run finished",
		zap.Int("users_processed", report.UsersProcessed),
		zap.Int("invoices_ingested", report.TotalInvoicesIngested),
		zap.Int("anomalies_detected", report.TotalAnomaliesDetected),
		zap.Int("alerts_sent", report.AlertsSent),
		zap.Int("users_with_errors", report.UsersWithErrors),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)

	return report, nil
}

// meterSet keeps affected meters in first-seen order with their last address
type meterSet struct {
	order   []string
	address map[string]string
}

func (m *meterSet) add(nic, address string) {
	if m.address == nil {
		m.address = make(map[string]string)
	}
	if _, ok := m.address[nic]; !ok {
		m.order = append(m.order, nic)
	}
	m.address[nic] = address
}

type candidate struct {
	nic     string
	address string
	alert   anomaly.Alert
}

// ProcessUser syncs one user's new invoices and alerts them when the latest
// reading of an affected meter is anomalous
func (n *Notifier) ProcessUser(ctx context.Context, user db.User) UserReport {
	report := UserReport{
		UserID:   user.ID,
		Email:    user.Email,
		Eligible: user.HasRefreshToken(),
		Errors:   []string{},
	}
	if !report.Eligible {
		return report
	}

	logger := logging.WithUser(n.logger, user.ID, user.Email)
	if runID := runIDFrom(ctx); runID != "" {
		logger = logging.WithRunID(logger, runID)
	}

	wm, err := n.watermarks.Resolve(ctx, user.ID)
	if err != nil {
		logger.Error("failed to resolve watermark", zap.Error(err))
		report.addError(stageWatermark, err)
		return report
	}
	since := wm.Since
	report.Since = &since

	token, err := n.accessToken(ctx, &user, false)
	if err != nil {
		logger.Error("failed to obtain access token", zap.Error(err))
		report.addError(stageRefresh, err)
		return report
	}

	sources, err := n.extractor.SearchSources(ctx, user.ID, token, wm.Since)
	if errors.Is(err, extraction.ErrUnauthorized) {
		logger.Info("stored access token rejected, refreshing")
		token, err = n.accessToken(ctx, &user, true)
		if err != nil {
			report.addError(stageRefresh, err)
			return report
		}
		sources, err = n.extractor.SearchSources(ctx, user.ID, token, wm.Since)
	}
	if err != nil {
		logger.Error("failed to search invoice sources", zap.Error(err))
		report.addError(stageFetch, err)
		return report
	}
	report.EmailsFound = len(sources)

	logger.Info("invoice sources found",
		zap.Int("sources", len(sources)),
		zap.Time("since", wm.Since),
		zap.String("watermark_source", string(wm.Source)),
	)

	var affected meterSet
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			report.addError(stageIngest, err)
			return report
		}
		n.ingestSource(ctx, &report, user.ID, token, src, &affected, logger)
	}

	candidates := n.detect(ctx, &report, user.ID, &affected, logger)
	report.AnomaliesDetected = len(candidates)
	if len(candidates) == 0 {
		return report
	}

	n.alert(ctx, &report, user, token, candidates, logger)
	return report
}

// accessToken returns the stored access token, or refreshes and persists a
// new one when none is on file or force is set
func (n *Notifier) accessToken(ctx context.Context, user *db.User, force bool) (string, error) {
	if !force && user.HasAccessToken() {
		return *user.AccessToken, nil
	}

	token, err := n.credentials.Refresh(ctx, *user.RefreshToken)
	if err != nil {
		return "", err
	}
	if err := n.store.UpdateAccessToken(ctx, user.ID, token); err != nil {
		return "", fmt.Errorf("failed to persist access token: %w", err)
	}
	user.AccessToken = &token
	return token, nil
}

func (n *Notifier) ingestSource(
	ctx context.Context,
	report *UserReport,
	userID int64,
	token string,
	src extraction.Source,
	affected *meterSet,
	logger *zap.Logger,
) {
	parsed, err := n.extractor.ParseSource(ctx, token, src)
	if err != nil {
		logger.Warn("failed to parse source", zap.String("source_id", src.ID), zap.Error(err))
		report.addError(stageParse, err)
		return
	}

	check := n.validator.ValidateInvoice(validator.InvoiceData{
		NIC:            parsed.NIC,
		ReadingDate:    parsed.ReadingDate,
		ConsumptionKWh: parsed.ConsumptionKWh,
	})
	if !check.IsValid {
		logger.Warn("rejected extracted invoice", zap.String("source_id", src.ID), zap.String("reason", check.Reason))
		report.addError(stageParse, fmt.Errorf("source %s: %s", src.ID, check.Reason))
		return
	}

	invoice := &db.Invoice{
		UserID:         userID,
		NIC:            parsed.NIC,
		Address:        parsed.Address,
		ReadingDate:    parsed.ReadingDate,
		ConsumptionKWh: parsed.ConsumptionKWh,
		Link:           src.Link,
	}
	outcome, err := n.dedup.AdmitInvoice(ctx, invoice)
	if err != nil {
		report.addError(stageIngest, err)
		return
	}
	if outcome == ingest.InvoiceDuplicate {
		report.InvoicesDuplicate++
		logger.Debug("duplicate invoice skipped", zap.String("nic", parsed.NIC), zap.String("reading_date", parsed.ReadingDate))
		return
	}
	report.InvoicesIngested++

	points := make([]validator.ChartPoint, 0, len(parsed.ChartTable))
	for _, p := range parsed.ChartTable {
		points = append(points, validator.ChartPoint{Date: p.Date, KWh: p.KWh})
	}
	kept, rejected := n.validator.FilterChartPoints(points)
	for _, reason := range rejected {
		logger.Warn("chart row rejected", zap.String("nic", invoice.NIC), zap.String("reason", reason))
	}

	readings := make([]ingest.Reading, 0, len(kept)+1)
	for _, p := range kept {
		readings = append(readings, ingest.Reading{Date: p.Date, ConsumptionKWh: p.KWh})
	}
	if key, ok := timeparser.ReadingMonthKey(invoice.ReadingDate); ok {
		readings = append(readings, ingest.Reading{Date: key, ConsumptionKWh: invoice.ConsumptionKWh})
	}

	tally, err := n.dedup.AdmitRecords(ctx, userID, invoice.NIC, invoice.ID, readings)
	report.RecordsIngested += tally.Inserted
	report.RecordsDuplicate += tally.Duplicate
	// only new records can change a meter's current verdict
	if tally.Inserted > 0 {
		affected.add(invoice.NIC, invoice.Address)
	}
	if err != nil {
		report.addError(stageIngest, err)
		return
	}

	if parsed.ChartArtifact != "" {
		if err := n.store.SetChartArtifact(ctx, invoice.ID, parsed.ChartArtifact); err != nil {
			report.addError(stageIngest, err)
		}
	}

	logger.Info("invoice ingested",
		zap.String("nic", invoice.NIC),
		zap.String("reading_date", invoice.ReadingDate),
		zap.Int("records_inserted", tally.Inserted),
		zap.Int("records_duplicate", tally.Duplicate),
	)
}

func (n *Notifier) detect(ctx context.Context, report *UserReport, userID int64, affected *meterSet, logger *zap.Logger) []candidate {
	var found []candidate
	for _, nic := range affected.order {
		alert := n.queries.CurrentAlert(ctx, userID, nic)
		switch alert.State {
		case anomaly.StateError:
			report.addError(stageDetect, fmt.Errorf("meter %s: %s", nic, alert.Message))
			continue
		case anomaly.StateNoData:
			continue
		}

		if !n.worthAlerting(alert) {
			continue
		}

		logger.Info("anomaly detected",
			zap.String("nic", nic),
			zap.String("date", alert.Date),
			zap.Float64("consumption_kwh", alert.ConsumptionKWh),
			zap.Float64("pct_vs_baseline", alert.PctVsBaseline),
		)
		found = append(found, candidate{nic: nic, address: affected.address[nic], alert: alert})
	}
	return found
}

func (n *Notifier) worthAlerting(alert anomaly.Alert) bool {
	return alert.IsAnomaly && math.Abs(alert.PctVsBaseline) >= n.settings.MinIncreasePercentage
}

func (n *Notifier) alert(ctx context.Context, report *UserReport, user db.User, token string, candidates []candidate, logger *zap.Logger) {
	if len(candidates) > n.settings.MaxAnomaliesPerEmail {
		candidates = candidates[:n.settings.MaxAnomaliesPerEmail]
	}

	email := dispatch.AlertEmail{To: user.Email, Name: user.DisplayName()}
	event := mq.AnomalyAlertEvent{RunID: runIDFrom(ctx), UserID: user.ID, Email: user.Email}
	for _, c := range candidates {
		email.Anomalies = append(email.Anomalies, dispatch.AnomalyLine{
			NIC:            c.nic,
			Address:        c.address,
			Date:           c.alert.Date,
			ConsumptionKWh: c.alert.ConsumptionKWh,
			PctVsBaseline:  c.alert.PctVsBaseline,
		})
		event.Anomalies = append(event.Anomalies, mq.AlertedReading{
			NIC:            c.nic,
			Date:           c.alert.Date,
			ConsumptionKWh: c.alert.ConsumptionKWh,
			PctVsBaseline:  c.alert.PctVsBaseline,
			Score:          c.alert.Score,
		})
	}

	if err := n.dispatcher.SendAlert(ctx, token, email); err != nil {
		logger.Error("failed to send alert email", zap.Error(err))
		report.addError(stageDispatch, err)
		return
	}
	report.EmailSent = true
	logger.Info("alert email sent", zap.Int("anomalies", len(email.Anomalies)))

	event.SentAt = n.now().UTC()
	if err := n.events.PublishAnomalyAlert(ctx, event); err != nil {
		logger.Warn("failed to publish anomaly alert event", zap.Error(err))
	}
}
