//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"smartpesa/internal/config"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("smartpesa"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, config.DatabaseConfig{DSN: dsn, MaxOpenConns: 4})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	applied, err := ApplyMigrations(ctx, pool, "../../migrations")
	require.NoError(t, err)
	require.Positive(t, applied)

	return NewStore(pool)
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, store.UpsertBusiness(ctx, Business{ID: 1, Name: "Mama Mboga", OwnerID: 5, OwnerEmail: "owner@example.com", CreatedAt: now.AddDate(-1, 0, 0)}))

	business, err := store.FetchBusiness(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Mama Mboga", business.Name)
	assert.Equal(t, "owner@example.com", business.OwnerEmail)

	require.NoError(t, store.InsertTransactions(ctx, []Transaction{
		{BusinessID: 1, Amount: decimal.RequireFromString("1500.50"), Kind: KindIncome, Category: "sales", CreatedAt: now.AddDate(0, 0, -2)},
		{BusinessID: 1, Amount: decimal.RequireFromString("200.25"), Kind: KindExpense, Category: "supplies", CreatedAt: now.AddDate(0, 0, -1)},
	}))
	txs, err := store.FetchTransactions(ctx, 1, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.True(t, txs[0].Amount.Equal(decimal.RequireFromString("1500.50")))
	assert.Equal(t, KindExpense, txs[1].Kind)

	require.NoError(t, store.InsertInventory(ctx, []InventoryItem{
		{BusinessID: 1, Name: "Rice", SKU: "RICE-001", Quantity: decimal.NewFromInt(50), ReorderLevel: decimal.NewFromInt(10), PricePerUnit: decimal.NewFromInt(120)},
	}))
	items, err := store.FetchInventory(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Value().Equal(decimal.NewFromInt(6000)))

	score := CreditScore{
		ID: uuid.New(), BusinessID: 1, UserID: 5, Score: 640,
		RevenueConsistency: 80, VolatilityIndex: 60,
		Metrics:      map[string]float64{"avg_monthly_income": 30000},
		CalculatedAt: now, ValidUntil: now.Add(720 * time.Hour),
	}
	require.NoError(t, store.InsertCreditScore(ctx, score))

	latest, err := store.LatestValidCreditScore(ctx, 1, now)
	require.NoError(t, err)
	assert.Equal(t, score.ID, latest.ID)
	assert.InDelta(t, 30000, latest.Metrics["avg_monthly_income"], 1e-9)

	scored, err := store.ListScoredBusinesses(ctx, ScoreFilter{MinScore: 600, ValidAt: now, Limit: 10})
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, 640, scored[0].Score)

	_, err = store.InsertRiskAlert(ctx, RiskAlertRecord{BusinessID: 1, Day: now, Level: "HIGH", RiskScore: 75, Messages: []string{"a"}})
	require.NoError(t, err)
	alert, err := store.LastRiskAlert(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, alert.Messages)
}

func TestStoreAdvisoryLock(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)

	release, ok, err := store.TryAdvisoryLock(ctx, 42)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	_, ok, err = store.TryAdvisoryLock(ctx, 42)
	require.NoError(t, err)
	assert.False(t, ok)
}
