// Package credit computes SmartPesa credit scores and lender-facing business profiles.
package credit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"smartpesa/internal/storage"
)

// ErrNotFound is returned for unknown businesses and for businesses the caller does not own.
var ErrNotFound = storage.ErrNotFound

// Trailing windows read by the engine.
const (
	quarterWindow = 90 * 24 * time.Hour
	yearWindow    = 365 * 24 * time.Hour
	daysPerMonth  = 30
)

// DefaultValidity is how long a computed score stays current.
const DefaultValidity = 30 * 24 * time.Hour

// LenderRiskLevel is the lender-facing band of a 0-1000 score.
type LenderRiskLevel string

const (
	LenderRiskLow    LenderRiskLevel = "LOW"
	LenderRiskMedium LenderRiskLevel = "MEDIUM"
	LenderRiskHigh   LenderRiskLevel = "HIGH"
)

// LenderRiskLevelFor bands a score: 700 and above is LOW, 500 and above MEDIUM.
func LenderRiskLevelFor(score int) LenderRiskLevel {
	switch {
	case score >= 700:
		return LenderRiskLow
	case score >= 500:
		return LenderRiskMedium
	default:
		return LenderRiskHigh
	}
}

// ParseLenderRiskLevel accepts LOW, MEDIUM or HIGH.
func ParseLenderRiskLevel(s string) (LenderRiskLevel, error) {
	switch l := LenderRiskLevel(s); l {
	case LenderRiskLow, LenderRiskMedium, LenderRiskHigh:
		return l, nil
	default:
		return "", fmt.Errorf("unknown risk level %q", s)
	}
}

// Engine derives credit scores from a business's records. It does not persist them.
type Engine struct {
	reader   storage.RecordReader
	validity time.Duration
	now      func() time.Time
	newID    func() uuid.UUID
	logger   zerolog.Logger
}

// NewEngine wires an engine. A non-positive validity uses DefaultValidity and a nil clock
// uses time.Now.
func NewEngine(reader storage.RecordReader, validity time.Duration, now func() time.Time, logger zerolog.Logger) *Engine {
	if validity <= 0 {
		validity = DefaultValidity
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{
		reader:   reader,
		validity: validity,
		now:      now,
		newID:    uuid.New,
		logger:   logger.With().Str("component", "credit_engine").Logger(),
	}
}

// Calculate scores a business owned by userID. Ownership mismatches report ErrNotFound.
func (e *Engine) Calculate(ctx context.Context, businessID, userID int64) (storage.CreditScore, error) {
	business, err := e.reader.FetchBusiness(ctx, businessID)
	if err != nil {
		return storage.CreditScore{}, fmt.Errorf("fetch business: %w", err)
	}
	if business.OwnerID != userID {
		return storage.CreditScore{}, fmt.Errorf("business %d: %w", businessID, ErrNotFound)
	}
	return e.score(ctx, business, userID)
}

func (e *Engine) score(ctx context.Context, business storage.Business, userID int64) (storage.CreditScore, error) {
	now := e.now().UTC()
	txs, err := e.reader.FetchTransactions(ctx, business.ID, now.Add(-yearWindow))
	if err != nil {
		return storage.CreditScore{}, fmt.Errorf("fetch transactions: %w", err)
	}
	items, err := e.reader.FetchInventory(ctx, business.ID)
	if err != nil {
		return storage.CreditScore{}, fmt.Errorf("fetch inventory: %w", err)
	}

	quarter := window(txs, now.Add(-quarterWindow), now)
	year := window(txs, now.Add(-yearWindow), now)
	income, expense := totals(quarter)
	net := income.Sub(expense)
	monthly := monthlyIncome(year)
	daily := dailyNet(quarter)
	ageMonths := now.Sub(business.CreatedAt).Hours() / 24 / daysPerMonth

	var s SubScores
	s.RevenueConsistency = RevenueConsistency(monthly)
	s.VolatilityIndex = VolatilityIndex(daily)
	s.ExpenseRatio = ExpenseRatio(income, expense)
	s.CashBufferRatio = CashBufferRatio(net, expense)
	s.DebtCoverage = DebtCoverage(s.ExpenseRatio)
	s.InventoryHealth = InventoryHealth(items)
	s.BusinessAge = BusinessAge(ageMonths)
	s.TransactionVolume = TransactionVolume(len(year))
	weighted, score := Combine(s)

	record := storage.CreditScore{
		ID:                 e.newID(),
		BusinessID:         business.ID,
		UserID:             userID,
		RevenueConsistency: s.RevenueConsistency,
		VolatilityIndex:    s.VolatilityIndex,
		ExpenseRatio:       s.ExpenseRatio,
		CashBufferRatio:    s.CashBufferRatio,
		DebtCoverage:       s.DebtCoverage,
		InventoryHealth:    s.InventoryHealth,
		BusinessAge:        s.BusinessAge,
		TransactionVolume:  s.TransactionVolume,
		Score:              score,
		Metrics: map[string]float64{
			"revenue_consistency":      s.RevenueConsistency,
			"volatility_index":         s.VolatilityIndex,
			"expense_ratio":            s.ExpenseRatio,
			"cash_buffer_ratio":        s.CashBufferRatio,
			"debt_coverage_capacity":   s.DebtCoverage,
			"inventory_health_score":   s.InventoryHealth,
			"business_age_score":       s.BusinessAge,
			"transaction_volume_score": s.TransactionVolume,
			"weighted_score":           weighted,
			"income_90d":               income.InexactFloat64(),
			"expense_90d":              expense.InexactFloat64(),
			"revenue_months":           float64(len(monthly)),
			"active_days_90d":          float64(len(daily)),
			"transactions_12m":         float64(len(year)),
			"inventory_items":          float64(len(items)),
			"business_age_months":      ageMonths,
		},
		CalculatedAt: now,
		ValidUntil:   now.Add(e.validity),
	}

	e.logger.Info().
		Int64("business_id", business.ID).
		Int("score", score).
		Str("risk_level", string(LenderRiskLevelFor(score))).
		Msg("credit score calculated")
	return record, nil
}

// window keeps transactions created in [start, end].
func window(txs []storage.Transaction, start, end time.Time) []storage.Transaction {
	out := make([]storage.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.CreatedAt.Before(start) || tx.CreatedAt.After(end) {
			continue
		}
		out = append(out, tx)
	}
	return out
}

func totals(txs []storage.Transaction) (income, expense decimal.Decimal) {
	income, expense = decimal.Zero, decimal.Zero
	for _, tx := range txs {
		switch tx.Kind {
		case storage.KindIncome:
			income = income.Add(tx.Amount)
		case storage.KindExpense:
			expense = expense.Add(tx.Amount)
		}
	}
	return income, expense
}

// monthlyIncome sums income per calendar month of creation, oldest first. Months
// without income are absent.
func monthlyIncome(txs []storage.Transaction) []float64 {
	return groupSums(txs, "2006-01", func(tx storage.Transaction) (decimal.Decimal, bool) {
		return tx.Amount, tx.Kind == storage.KindIncome
	})
}

// dailyNet sums income minus expense per day of creation, oldest first. Days without
// transactions are absent.
func dailyNet(txs []storage.Transaction) []float64 {
	return groupSums(txs, time.DateOnly, func(tx storage.Transaction) (decimal.Decimal, bool) {
		switch tx.Kind {
		case storage.KindIncome:
			return tx.Amount, true
		case storage.KindExpense:
			return tx.Amount.Neg(), true
		}
		return decimal.Zero, false
	})
}

func groupSums(txs []storage.Transaction, layout string, value func(storage.Transaction) (decimal.Decimal, bool)) []float64 {
	sums := make(map[string]decimal.Decimal)
	for _, tx := range txs {
		v, ok := value(tx)
		if !ok {
			continue
		}
		key := tx.CreatedAt.UTC().Format(layout)
		sums[key] = sums[key].Add(v)
	}
	keys := make([]string, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]float64, len(keys))
	for i, k := range keys {
		out[i] = sums[k].InexactFloat64()
	}
	return out
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
