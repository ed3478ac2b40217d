//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/energy-consumption-notifier/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("consumo_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.ApplySchema(ctx, pool))
	return NewRepository(pool)
}

func TestRepository_InvoiceAndRecordLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	refresh := "refresh-token"
	user := &db.User{Email: "ana@example.com", FullName: "Ana", IsActive: true, RefreshToken: &refresh}
	require.NoError(t, repo.CreateUser(ctx, user))

	eligible, err := repo.ListEligibleUsers(ctx)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.False(t, eligible[0].HasAccessToken())

	require.NoError(t, repo.UpdateAccessToken(ctx, user.ID, "access-token"))
	stored, err := repo.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, stored.HasAccessToken())

	invoice := &db.Invoice{UserID: user.ID, NIC: "ES0021", ReadingDate: "2024-02-01", ConsumptionKWh: 130, Link: "msg-1"}
	require.NoError(t, repo.InsertInvoice(ctx, invoice))
	assert.NotZero(t, invoice.ID)

	exists, err := repo.InvoiceExists(ctx, user.ID, "ES0021", "2024-02-01")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.InvoiceExists(ctx, user.ID, "ES0021", "01/02/2024")
	require.NoError(t, err)
	assert.False(t, exists, "invoice dedup compares the raw reading date")

	record := &db.ConsumptionRecord{InvoiceID: invoice.ID, Date: "01/24", ConsumptionKWh: 120}
	require.NoError(t, repo.InsertConsumptionRecord(ctx, record))
	require.NoError(t, repo.UpdateConsumptionValue(ctx, record.ID, 125))

	records, err := repo.ListConsumptionRecords(ctx, user.ID, "ES0021")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "01/24", records[0].Date)
	assert.Equal(t, 125.0, records[0].ConsumptionKWh)

	dates, err := repo.ListInvoiceReadingDates(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-02-01"}, dates)

	removed, err := repo.DeleteUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = repo.GetUser(ctx, user.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)
}
