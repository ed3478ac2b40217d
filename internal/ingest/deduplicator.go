package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/septivank/energy-consumption-notifier/internal/db"
	"github.com/septivank/energy-consumption-notifier/tools/timeparser"
)

// ErrRecordNotFound is returned by the update path when no record shares the month key
var ErrRecordNotFound = errors.New("ingest: no consumption record for that month")

// InvoiceOutcome is the result of admitting one invoice
type InvoiceOutcome int

const (
	InvoiceInserted InvoiceOutcome = iota
	InvoiceDuplicate
)

func (o InvoiceOutcome) String() string {
	if o == InvoiceDuplicate {
		return "duplicate"
	}
	return "inserted"
}

// RecordOutcome is the result of admitting one consumption reading
type RecordOutcome int

const (
	RecordInserted RecordOutcome = iota
	RecordDuplicate
)

// Store is the persistence surface the deduplicator needs
type Store interface {
	InvoiceExists(ctx context.Context, userID int64, nic, readingDate string) (bool, error)
	InsertInvoice(ctx context.Context, invoice *db.Invoice) error
	ListConsumptionRecords(ctx context.Context, userID int64, nic string) ([]db.ConsumptionRecord, error)
	InsertConsumptionRecord(ctx context.Context, record *db.ConsumptionRecord) error
	UpdateConsumptionValue(ctx context.Context, recordID int64, kwh float64) error
}

// Reading is one (date, kWh) point offered for ingestion
type Reading struct {
	Date           string
	ConsumptionKWh float64
}

// RecordTally counts what happened to a batch of readings
type RecordTally struct {
	Inserted  int
	Duplicate int
}

// Deduplicator guards ingestion at invoice and month granularity
type Deduplicator struct {
	store Store
}

// NewDeduplicator creates a new deduplicator backed by store
func NewDeduplicator(store Store) *Deduplicator {
	return &Deduplicator{store: store}
}

// AdmitInvoice inserts the invoice unless the same user already has one for
// the same meter with exactly the same reading date.
func (d *Deduplicator) AdmitInvoice(ctx context.Context, invoice *db.Invoice) (InvoiceOutcome, error) {
	exists, err := d.store.InvoiceExists(ctx, invoice.UserID, invoice.NIC, invoice.ReadingDate)
	if err != nil {
		return InvoiceInserted, fmt.Errorf("failed to check invoice duplicate: %w", err)
	}
	if exists {
		return InvoiceDuplicate, nil
	}

	if err := d.store.InsertInvoice(ctx, invoice); err != nil {
		return InvoiceInserted, fmt.Errorf("failed to insert invoice: %w", err)
	}
	return InvoiceInserted, nil
}

// AdmitRecords inserts the readings whose month is not yet stored for the
// (user, meter) pair. Each insert is committed on its own.
func (d *Deduplicator) AdmitRecords(ctx context.Context, userID int64, nic string, invoiceID int64, readings []Reading) (RecordTally, error) {
	var tally RecordTally
	if len(readings) == 0 {
		return tally, nil
	}

	seen, err := d.existingKeys(ctx, userID, nic)
	if err != nil {
		return tally, err
	}

	for _, r := range readings {
		if seen.contains(r.Date) {
			tally.Duplicate++
			continue
		}

		record := &db.ConsumptionRecord{
			InvoiceID:      invoiceID,
			Date:           r.Date,
			ConsumptionKWh: r.ConsumptionKWh,
		}
		if err := d.store.InsertConsumptionRecord(ctx, record); err != nil {
			return tally, fmt.Errorf("failed to insert consumption record %s: %w", r.Date, err)
		}
		seen.add(r.Date)
		tally.Inserted++
	}

	return tally, nil
}

// CheckRecord reports whether a reading for date would be rejected
func (d *Deduplicator) CheckRecord(ctx context.Context, userID int64, nic, date string) (RecordOutcome, error) {
	seen, err := d.existingKeys(ctx, userID, nic)
	if err != nil {
		return RecordInserted, err
	}
	if seen.contains(date) {
		return RecordDuplicate, nil
	}
	return RecordInserted, nil
}

// UpdateConsumption changes the value of the record stored for the month of
// date. The stored date string is never rewritten.
func (d *Deduplicator) UpdateConsumption(ctx context.Context, userID int64, nic, date string, kwh float64) error {
	records, err := d.store.ListConsumptionRecords(ctx, userID, nic)
	if err != nil {
		return fmt.Errorf("failed to list consumption records: %w", err)
	}

	target := newKeySet()
	target.add(date)
	for _, rec := range records {
		if target.contains(rec.Date) {
			if err := d.store.UpdateConsumptionValue(ctx, rec.ID, kwh); err != nil {
				return fmt.Errorf("failed to update consumption record %d: %w", rec.ID, err)
			}
			return nil
		}
	}

	return ErrRecordNotFound
}

func (d *Deduplicator) existingKeys(ctx context.Context, userID int64, nic string) (keySet, error) {
	records, err := d.store.ListConsumptionRecords(ctx, userID, nic)
	if err != nil {
		return keySet{}, fmt.Errorf("failed to list consumption records: %w", err)
	}

	seen := newKeySet()
	for _, rec := range records {
		seen.add(rec.Date)
	}
	return seen, nil
}

// keySet holds normalized month keys, plus raw strings for dates that do
// not normalize.
type keySet struct {
	months map[string]struct{}
	raw    map[string]struct{}
}

func newKeySet() keySet {
	return keySet{
		months: make(map[string]struct{}),
		raw:    make(map[string]struct{}),
	}
}

func (s keySet) add(date string) {
	if key, ok := timeparser.NormalizeMonthKey(date); ok {
		s.months[key] = struct{}{}
		return
	}
	s.raw[date] = struct{}{}
}

func (s keySet) contains(date string) bool {
	if key, ok := timeparser.NormalizeMonthKey(date); ok {
		_, found := s.months[key]
		return found
	}
	_, found := s.raw[date]
	return found
}
