package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/septivank/energy-consumption-notifier/internal/db"
)

// MemoryRepository keeps users, invoices and consumption records in process.
// It mirrors the Postgres repository for tests and dry runs.
type MemoryRepository struct {
	mu       sync.Mutex
	users    map[int64]*db.User
	invoices map[int64]*db.Invoice
	records  map[int64]*db.ConsumptionRecord
	nextID   int64
	now      func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:    make(map[int64]*db.User),
		invoices: make(map[int64]*db.Invoice),
		records:  make(map[int64]*db.ConsumptionRecord),
		now:      time.Now,
	}
}

func (m *MemoryRepository) id() int64 {
	m.nextID++
	return m.nextID
}

// CreateUser stores a copy of user and fills in its id
func (m *MemoryRepository) CreateUser(_ context.Context, user *db.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user.ID = m.id()
	user.CreatedAt = m.now()
	user.UpdatedAt = user.CreatedAt
	stored := *user
	m.users[user.ID] = &stored
	return nil
}

func (m *MemoryRepository) ListEligibleUsers(_ context.Context) ([]db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var users []db.User
	for _, u := range m.users {
		if u.IsActive && u.HasRefreshToken() {
			users = append(users, *u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (m *MemoryRepository) GetUser(_ context.Context, userID int64) (*db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *MemoryRepository) UpdateAccessToken(_ context.Context, userID int64, accessToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	token := accessToken
	u.AccessToken = &token
	u.UpdatedAt = m.now()
	return nil
}

func (m *MemoryRepository) ListInvoiceReadingDates(_ context.Context, userID int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var dates []string
	for _, inv := range m.sortedInvoices() {
		if inv.UserID == userID && inv.ReadingDate != "" {
			dates = append(dates, inv.ReadingDate)
		}
	}
	return dates, nil
}

func (m *MemoryRepository) InvoiceExists(_ context.Context, userID int64, nic, readingDate string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, inv := range m.invoices {
		if inv.UserID == userID && inv.NIC == nic && inv.ReadingDate == readingDate {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryRepository) InsertInvoice(_ context.Context, invoice *db.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	invoice.ID = m.id()
	invoice.CreatedAt = m.now()
	stored := *invoice
	m.invoices[invoice.ID] = &stored
	return nil
}

func (m *MemoryRepository) SetChartArtifact(_ context.Context, invoiceID int64, artifact string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if inv, ok := m.invoices[invoiceID]; ok {
		a := artifact
		inv.ChartArtifact = &a
	}
	return nil
}

func (m *MemoryRepository) ListConsumptionRecords(_ context.Context, userID int64, nic string) ([]db.ConsumptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var records []db.ConsumptionRecord
	for _, rec := range m.records {
		inv, ok := m.invoices[rec.InvoiceID]
		if ok && inv.UserID == userID && inv.NIC == nic {
			records = append(records, *rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

func (m *MemoryRepository) InsertConsumptionRecord(_ context.Context, record *db.ConsumptionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record.ID = m.id()
	stored := *record
	m.records[record.ID] = &stored
	return nil
}

func (m *MemoryRepository) UpdateConsumptionValue(_ context.Context, recordID int64, kwh float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[recordID]; ok {
		rec.ConsumptionKWh = kwh
	}
	return nil
}

// DeleteUser removes the user and everything hanging off it
func (m *MemoryRepository) DeleteUser(_ context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[userID]; !ok {
		return 0, ErrUserNotFound
	}

	var removed int64
	for id, rec := range m.records {
		if inv, ok := m.invoices[rec.InvoiceID]; ok && inv.UserID == userID {
			delete(m.records, id)
			removed++
		}
	}
	for id, inv := range m.invoices {
		if inv.UserID == userID {
			delete(m.invoices, id)
		}
	}
	delete(m.users, userID)
	return removed, nil
}

// Invoices returns a snapshot of the stored invoices ordered by id
func (m *MemoryRepository) Invoices() []db.Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []db.Invoice
	for _, inv := range m.sortedInvoices() {
		out = append(out, *inv)
	}
	return out
}

func (m *MemoryRepository) sortedInvoices() []*db.Invoice {
	out := make([]*db.Invoice, 0, len(m.invoices))
	for _, inv := range m.invoices {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
