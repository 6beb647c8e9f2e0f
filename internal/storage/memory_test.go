package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreTransactionsSinceOrdered(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.InsertTransactions(ctx, []Transaction{
		{BusinessID: 1, Amount: decimal.NewFromInt(30), Kind: KindIncome, CreatedAt: base.Add(48 * time.Hour)},
		{BusinessID: 1, Amount: decimal.NewFromInt(10), Kind: KindIncome, CreatedAt: base},
		{BusinessID: 1, Amount: decimal.NewFromInt(20), Kind: KindExpense, CreatedAt: base.Add(24 * time.Hour)},
		{BusinessID: 2, Amount: decimal.NewFromInt(99), Kind: KindIncome, CreatedAt: base},
	}))

	txs, err := store.FetchTransactions(ctx, 1, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.True(t, txs[0].Amount.Equal(decimal.NewFromInt(20)))
	assert.True(t, txs[1].Amount.Equal(decimal.NewFromInt(30)))
	assert.NotZero(t, txs[0].ID)
}

func TestMemoryStoreBusinesses(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.FetchBusiness(ctx, 1)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.UpsertBusiness(ctx, Business{ID: 2, Name: "Duka", OwnerID: 10}))
	require.NoError(t, store.UpsertBusiness(ctx, Business{ID: 1, Name: "Kiosk", OwnerID: 11}))

	all, err := store.ListBusinesses(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].ID)

	owned, err := store.ListBusinesses(ctx, 10)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, "Duka", owned[0].Name)
}

func TestMemoryStoreCreditScores(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpsertBusiness(ctx, Business{ID: 1, Name: "A"}))
	require.NoError(t, store.UpsertBusiness(ctx, Business{ID: 2, Name: "B"}))

	old := CreditScore{ID: uuid.New(), BusinessID: 1, Score: 400, CalculatedAt: now.Add(-40 * 24 * time.Hour), ValidUntil: now.Add(-10 * 24 * time.Hour)}
	fresh := CreditScore{ID: uuid.New(), BusinessID: 1, Score: 720, CalculatedAt: now.Add(-time.Hour), ValidUntil: now.Add(29 * 24 * time.Hour), Metrics: map[string]float64{"a": 1}}
	other := CreditScore{ID: uuid.New(), BusinessID: 2, Score: 550, CalculatedAt: now.Add(-2 * time.Hour), ValidUntil: now.Add(time.Hour)}
	for _, s := range []CreditScore{old, fresh, other} {
		require.NoError(t, store.InsertCreditScore(ctx, s))
	}

	latest, err := store.LatestValidCreditScore(ctx, 1, now)
	require.NoError(t, err)
	assert.Equal(t, 720, latest.Score)

	_, err = store.LatestValidCreditScore(ctx, 1, now.Add(60*24*time.Hour))
	require.ErrorIs(t, err, ErrNotFound)

	history, err := store.ListCreditScores(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 720, history[0].Score)

	scored, err := store.ListScoredBusinesses(ctx, ScoreFilter{MinScore: 600, ValidAt: now})
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, "A", scored[0].BusinessName)

	expired, err := store.ListExpiredScores(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, int64(2), expired[0].BusinessID)
}

func TestMemoryStoreRiskAlertsDedupePerDay(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	day := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	first, err := store.InsertRiskAlert(ctx, RiskAlertRecord{BusinessID: 1, Day: day, Level: "HIGH", RiskScore: 80, CreatedAt: day})
	require.NoError(t, err)
	second, err := store.InsertRiskAlert(ctx, RiskAlertRecord{BusinessID: 1, Day: day.Add(3 * time.Hour), Level: "HIGH", RiskScore: 90})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	last, err := store.LastRiskAlert(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 90, last.RiskScore)

	require.NoError(t, store.DeleteRiskAlertsBefore(ctx, day.Add(time.Hour)))
	_, err = store.LastRiskAlert(ctx, 1)
	require.ErrorIs(t, err, ErrNotFound)
}
