package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/energy-consumption-notifier/internal/db"
)

// ErrUserNotFound is returned when a user id does not exist
var ErrUserNotFound = errors.New("user not found")

// Tx is an alias for pgx.Tx
type Tx = pgx.Tx

// Repository handles database operations
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, email, full_name, is_active, refresh_token, access_token, created_at, updated_at`

func scanUser(row pgx.Row, user *db.User) error {
	return row.Scan(
		&user.ID,
		&user.Email,
		&user.FullName,
		&user.IsActive,
		&user.RefreshToken,
		&user.AccessToken,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
}

// ListEligibleUsers returns active users with a refresh token on file
func (r *Repository) ListEligibleUsers(ctx context.Context) ([]db.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE is_active = TRUE AND refresh_token IS NOT NULL AND refresh_token <> ''
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible users: %w", err)
	}
	defer rows.Close()

	var users []db.User
	for rows.Next() {
		var user db.User
		if err := scanUser(rows, &user); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return users, nil
}

// GetUser retrieves a user by id
func (r *Repository) GetUser(ctx context.Context, userID int64) (*db.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	var user db.User
	err := scanUser(r.pool.QueryRow(ctx, query, userID), &user)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	return &user, nil
}

// CreateUser inserts a user and fills in its id and timestamps
func (r *Repository) CreateUser(ctx context.Context, user *db.User) error {
	query := `
		INSERT INTO users (email, full_name, is_active, refresh_token, access_token)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		user.Email,
		user.FullName,
		user.IsActive,
		user.RefreshToken,
		user.AccessToken,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// UpdateAccessToken stores a freshly minted short-lived token
func (r *Repository) UpdateAccessToken(ctx context.Context, userID int64, accessToken string) error {
	query := `
		UPDATE users
		SET access_token = $1, updated_at = NOW()
		WHERE id = $2
	`

	tag, err := r.pool.Exec(ctx, query, accessToken, userID)
	if err != nil {
		return fmt.Errorf("failed to update access token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// ListInvoiceReadingDates returns the reading dates of every invoice of a user
func (r *Repository) ListInvoiceReadingDates(ctx context.Context, userID int64) ([]string, error) {
	query := `
		SELECT reading_date
		FROM invoices
		WHERE user_id = $1 AND reading_date <> ''
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reading dates: %w", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var date string
		if err := rows.Scan(&date); err != nil {
			return nil, fmt.Errorf("failed to scan reading date: %w", err)
		}
		dates = append(dates, date)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return dates, nil
}

// InvoiceExists reports whether the user already has an invoice for the meter
// with exactly this reading date
func (r *Repository) InvoiceExists(ctx context.Context, userID int64, nic, readingDate string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM invoices
			WHERE user_id = $1 AND nic = $2 AND reading_date = $3
		)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, userID, nic, readingDate).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check invoice: %w", err)
	}

	return exists, nil
}

// InsertInvoice inserts an invoice and fills in its id
func (r *Repository) InsertInvoice(ctx context.Context, invoice *db.Invoice) error {
	query := `
		INSERT INTO invoices (user_id, nic, address, reading_date, consumption_kwh, link, chart_artifact)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	err := r.pool.QueryRow(ctx, query,
		invoice.UserID,
		invoice.NIC,
		invoice.Address,
		invoice.ReadingDate,
		invoice.ConsumptionKWh,
		invoice.Link,
		invoice.ChartArtifact,
	).Scan(&invoice.ID, &invoice.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert invoice: %w", err)
	}

	return nil
}

// SetChartArtifact backfills the rendered chart reference of an invoice
func (r *Repository) SetChartArtifact(ctx context.Context, invoiceID int64, artifact string) error {
	query := `UPDATE invoices SET chart_artifact = $1 WHERE id = $2`

	if _, err := r.pool.Exec(ctx, query, artifact, invoiceID); err != nil {
		return fmt.Errorf("failed to set chart artifact: %w", err)
	}

	return nil
}

// ListConsumptionRecords returns every record of a (user, meter) pair
func (r *Repository) ListConsumptionRecords(ctx context.Context, userID int64, nic string) ([]db.ConsumptionRecord, error) {
	query := `
		SELECT c.id, c.invoice_id, c.date, c.consumption_kwh
		FROM consumption_records c
		JOIN invoices i ON i.id = c.invoice_id
		WHERE i.user_id = $1 AND i.nic = $2
		ORDER BY c.id
	`

	rows, err := r.pool.Query(ctx, query, userID, nic)
	if err != nil {
		return nil, fmt.Errorf("failed to query consumption records: %w", err)
	}
	defer rows.Close()

	var records []db.ConsumptionRecord
	for rows.Next() {
		var rec db.ConsumptionRecord
		if err := rows.Scan(&rec.ID, &rec.InvoiceID, &rec.Date, &rec.ConsumptionKWh); err != nil {
			return nil, fmt.Errorf("failed to scan consumption record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return records, nil
}

// InsertConsumptionRecord inserts one record and fills in its id
func (r *Repository) InsertConsumptionRecord(ctx context.Context, record *db.ConsumptionRecord) error {
	query := `
		INSERT INTO consumption_records (invoice_id, date, consumption_kwh)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	err := r.pool.QueryRow(ctx, query, record.InvoiceID, record.Date, record.ConsumptionKWh).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("failed to insert consumption record: %w", err)
	}

	return nil
}

// UpdateConsumptionValue changes only the kWh of an existing record
func (r *Repository) UpdateConsumptionValue(ctx context.Context, recordID int64, kwh float64) error {
	query := `UPDATE consumption_records SET consumption_kwh = $1 WHERE id = $2`

	if _, err := r.pool.Exec(ctx, query, kwh, recordID); err != nil {
		return fmt.Errorf("failed to update consumption record: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// DeleteUser removes a user with all invoices and consumption records in one
// transaction and returns how many records were removed
func (r *Repository) DeleteUser(ctx context.Context, userID int64) (int64, error) {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	removed, err := r.deleteUserTx(ctx, tx, userID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return removed, nil
}

func (r *Repository) deleteUserTx(ctx context.Context, tx pgx.Tx, userID int64) (int64, error) {
	recordsQuery := `
		DELETE FROM consumption_records
		WHERE invoice_id IN (SELECT id FROM invoices WHERE user_id = $1)
	`
	tag, err := tx.Exec(ctx, recordsQuery, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete consumption records: %w", err)
	}
	removed := tag.RowsAffected()

	if _, err := tx.Exec(ctx, `DELETE FROM invoices WHERE user_id = $1`, userID); err != nil {
		return 0, fmt.Errorf("failed to delete invoices: %w", err)
	}

	tag, err = tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrUserNotFound
	}

	return removed, nil
}
