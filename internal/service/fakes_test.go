package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/septivank/energy-consumption-notifier/internal/anomaly"
	"github.com/septivank/energy-consumption-notifier/internal/config"
	"github.com/septivank/energy-consumption-notifier/internal/db"
	"github.com/septivank/energy-consumption-notifier/internal/dispatch"
	"github.com/septivank/energy-consumption-notifier/internal/extraction"
	"github.com/septivank/energy-consumption-notifier/internal/mq"
	"github.com/septivank/energy-consumption-notifier/internal/repository"
	"github.com/septivank/energy-consumption-notifier/internal/validator"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeExtractor struct {
	mu           sync.Mutex
	sources      map[int64][]extraction.Source
	parsed       map[string]*extraction.ParsedInvoice
	parseErrs    map[string]error
	staleToken   string
	block        bool
	searchTokens []string
	parseCalls   int
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		sources:   make(map[int64][]extraction.Source),
		parsed:    make(map[string]*extraction.ParsedInvoice),
		parseErrs: make(map[string]error),
	}
}

func (f *fakeExtractor) addSource(userID int64, id string, inv *extraction.ParsedInvoice) {
	f.sources[userID] = append(f.sources[userID], extraction.Source{ID: id, Link: "https://mail.example.com/" + id})
	f.parsed[id] = inv
}

func (f *fakeExtractor) SearchSources(ctx context.Context, userID int64, accessToken string, _ time.Time) ([]extraction.Source, error) {
	f.mu.Lock()
	f.searchTokens = append(f.searchTokens, accessToken)
	block := f.block
	stale := f.staleToken
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if stale != "" && accessToken == stale {
		return nil, extraction.ErrUnauthorized
	}
	return f.sources[userID], nil
}

func (f *fakeExtractor) ParseSource(_ context.Context, _ string, source extraction.Source) (*extraction.ParsedInvoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parseCalls++

	if err, ok := f.parseErrs[source.ID]; ok {
		return nil, err
	}
	inv, ok := f.parsed[source.ID]
	if !ok {
		return nil, errors.New("unknown source")
	}
	copied := *inv
	return &copied, nil
}

type fakeRefresher struct {
	token string
	err   error
	calls int
}

func (f *fakeRefresher) Refresh(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.token, f.err
}

type fakeDispatcher struct {
	mu    sync.Mutex
	sent  []dispatch.AlertEmail
	token []string
	err   error
}

func (f *fakeDispatcher) SendAlert(_ context.Context, accessToken string, email dispatch.AlertEmail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, email)
	f.token = append(f.token, accessToken)
	return nil
}

type fakeEvents struct {
	mu     sync.Mutex
	runs   []mq.RunCompletedEvent
	alerts []mq.AnomalyAlertEvent
}

func (f *fakeEvents) PublishRunCompleted(_ context.Context, event mq.RunCompletedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, event)
	return nil
}

func (f *fakeEvents) PublishAnomalyAlert(_ context.Context, event mq.AnomalyAlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, event)
	return nil
}

type harness struct {
	store      *repository.MemoryRepository
	extractor  *fakeExtractor
	refresher  *fakeRefresher
	dispatcher *fakeDispatcher
	events     *fakeEvents
	notifier   *Notifier
}

func defaultSettings() NotifierSettings {
	return NotifierSettings{
		MinIncreasePercentage: 20,
		MaxAnomaliesPerEmail:  10,
		UserTimeout:           2 * time.Second,
		MaxConcurrentUsers:    2,
	}
}

func newHarness(t *testing.T, settings NotifierSettings) *harness {
	t.Helper()
	h := &harness{
		store:      repository.NewMemoryRepository(),
		extractor:  newFakeExtractor(),
		refresher:  &fakeRefresher{token: "fresh-token"},
		dispatcher: &fakeDispatcher{},
		events:     &fakeEvents{},
	}
	h.notifier = NewNotifier(NotifierDeps{
		Store:       h.store,
		Extractor:   h.extractor,
		Credentials: h.refresher,
		Dispatcher:  h.dispatcher,
		Events:      h.events,
		Detector:    anomaly.NewDetector(anomaly.DefaultSettings()),
		Validator:   validator.NewValidator(20000),
		Watermark: config.WatermarkConfig{
			UnparseableLookback: 7 * 24 * time.Hour,
			EmptyLookback:       30 * 24 * time.Hour,
		},
		Settings: settings,
		Logger:   zap.NewNop(),
	})
	return h
}

func strPtr(s string) *string { return &s }

func (h *harness) addUser(t *testing.T, email string, refresh, access *string) db.User {
	t.Helper()
	user := &db.User{Email: email, IsActive: true, RefreshToken: refresh, AccessToken: access}
	require.NoError(t, h.store.CreateUser(context.Background(), user))
	return *user
}

func invoice(nic, readingDate string, kwh float64, chart ...extraction.ChartPoint) *extraction.ParsedInvoice {
	return &extraction.ParsedInvoice{
		NIC:            nic,
		ReadingDate:    readingDate,
		ConsumptionKWh: kwh,
		Address:        "Calle Mayor 1",
		ChartTable:     chart,
	}
}

func point(date string, kwh float64) extraction.ChartPoint {
	return extraction.ChartPoint{Date: date, KWh: kwh}
}
