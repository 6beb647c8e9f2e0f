package credit

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"smartpesa/internal/storage"
)

const unknownEmail = "unknown"

// LenderProfile is the lender-facing view of a scored business.
type LenderProfile struct {
	BusinessID           int64           `json:"business_id"`
	BusinessName         string          `json:"business_name"`
	OwnerEmail           string          `json:"owner_email"`
	SmartPesaScore       int             `json:"smartpesa_score"`
	RiskLevel            LenderRiskLevel `json:"risk_level"`
	CalculationDate      time.Time       `json:"calculation_date"`
	ValidUntil           time.Time       `json:"valid_until"`
	AvgMonthlyRevenue    float64         `json:"avg_monthly_revenue"`
	RevenueStability     float64         `json:"revenue_stability"`
	ExpenseRatio         float64         `json:"expense_ratio"`
	CashBufferMonths     float64         `json:"cash_buffer_months"`
	InventoryValue       float64         `json:"inventory_value"`
	BusinessAgeMonths    int             `json:"business_age_months"`
	TransactionVolume12m int             `json:"transaction_volume_12m"`
}

// LenderProfile builds the lender view of a business from its records and a score.
func (e *Engine) LenderProfile(ctx context.Context, businessID int64, score storage.CreditScore) (*LenderProfile, error) {
	business, err := e.reader.FetchBusiness(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("fetch business: %w", err)
	}
	now := e.now().UTC()
	txs, err := e.reader.FetchTransactions(ctx, businessID, now.Add(-yearWindow))
	if err != nil {
		return nil, fmt.Errorf("fetch transactions: %w", err)
	}
	items, err := e.reader.FetchInventory(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("fetch inventory: %w", err)
	}

	year := window(txs, now.Add(-yearWindow), now)
	monthly := monthlyIncome(year)
	income, expense := totals(year)

	var avgRevenue float64
	stability := 1.0
	if len(monthly) > 0 {
		avgRevenue = stat.Mean(monthly, nil)
	}
	if len(monthly) >= 2 && avgRevenue > 0 {
		stability = stat.PopStdDev(monthly, nil) / avgRevenue
	}

	var bufferMonths float64
	if expense.IsPositive() {
		monthlyExpense := expense.InexactFloat64() / 12
		bufferMonths = income.Sub(expense).InexactFloat64() / monthlyExpense
	}

	email := business.OwnerEmail
	if email == "" {
		email = unknownEmail
	}

	return &LenderProfile{
		BusinessID:           business.ID,
		BusinessName:         business.Name,
		OwnerEmail:           email,
		SmartPesaScore:       score.Score,
		RiskLevel:            LenderRiskLevelFor(score.Score),
		CalculationDate:      score.CalculatedAt,
		ValidUntil:           score.ValidUntil,
		AvgMonthlyRevenue:    avgRevenue,
		RevenueStability:     stability,
		ExpenseRatio:         score.ExpenseRatio,
		CashBufferMonths:     bufferMonths,
		InventoryValue:       InventoryValue(items).InexactFloat64(),
		BusinessAgeMonths:    int(now.Sub(business.CreatedAt).Hours() / 24 / daysPerMonth),
		TransactionVolume12m: len(year),
	}, nil
}
