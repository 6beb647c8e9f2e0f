package credit

import (
	"math"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"smartpesa/internal/storage"
)

// Neutral defaults used when a sub-score lacks data.
const (
	neutralScore          = 50.0
	minRevenueMonths      = 3
	minVolatilityDays     = 30
	bufferPointsPerMonth  = 16.67
	inventoryValueScale   = 100000.0
	healthyShareWeight    = 0.7
	inventoryValueWeight  = 0.3
	volumeLowThreshold    = 50
	volumeHighThreshold   = 200
	volatilityScaleFactor = 50.0
)

// SubScores are the eight 0-100 components of a credit score. Volatility and expense
// ratio grow with risk and are inverted when combined.
type SubScores struct {
	RevenueConsistency float64
	VolatilityIndex    float64
	ExpenseRatio       float64
	CashBufferRatio    float64
	DebtCoverage       float64
	InventoryHealth    float64
	BusinessAge        float64
	TransactionVolume  float64
}

// Weights of each sub-score in the combined score. They sum to 1.
const (
	WeightRevenueConsistency = 0.20
	WeightVolatility         = 0.15
	WeightExpenseRatio       = 0.10
	WeightCashBuffer         = 0.15
	WeightDebtCoverage       = 0.15
	WeightInventoryHealth    = 0.10
	WeightBusinessAge        = 0.05
	WeightTransactionVolume  = 0.10
)

// Combine returns the weighted 0-100 sum and the 0-1000 score.
func Combine(s SubScores) (float64, int) {
	weighted := s.RevenueConsistency*WeightRevenueConsistency +
		(100-s.VolatilityIndex)*WeightVolatility +
		(100-s.ExpenseRatio)*WeightExpenseRatio +
		s.CashBufferRatio*WeightCashBuffer +
		s.DebtCoverage*WeightDebtCoverage +
		s.InventoryHealth*WeightInventoryHealth +
		s.BusinessAge*WeightBusinessAge +
		s.TransactionVolume*WeightTransactionVolume
	return weighted, int(math.Round(weighted * 10))
}

// RevenueConsistency scores monthly income totals by their coefficient of variation.
// Fewer than three months, or a zero mean, score neutral.
func RevenueConsistency(monthlyIncome []float64) float64 {
	if len(monthlyIncome) < minRevenueMonths {
		return neutralScore
	}
	mean, std := stat.PopMeanStdDev(monthlyIncome, nil)
	if mean == 0 {
		return neutralScore
	}
	return clamp(100 * (1 - std/mean))
}

// VolatilityIndex scores daily net swings; higher means more volatile. Fewer than 30
// days, or a zero mean, score neutral.
func VolatilityIndex(dailyNet []float64) float64 {
	if len(dailyNet) < minVolatilityDays {
		return neutralScore
	}
	mean, std := stat.PopMeanStdDev(dailyNet, nil)
	if mean == 0 {
		return neutralScore
	}
	return math.Min(100, std/math.Abs(mean)*volatilityScaleFactor)
}

// ExpenseRatio is expense as a percentage of income, capped at 100. No income scores 100.
func ExpenseRatio(income, expense decimal.Decimal) float64 {
	if income.IsZero() {
		return 100
	}
	return math.Min(100, expense.Div(income).InexactFloat64()*100)
}

// CashBufferRatio maps quarterly net cash to months of average expense, six months
// scoring 100. Non-positive net scores 0; positive net without expenses scores 100.
func CashBufferRatio(net, expense decimal.Decimal) float64 {
	if !net.IsPositive() {
		return 0
	}
	if expense.IsZero() {
		return 100
	}
	avgMonthly := expense.Div(decimal.NewFromInt(3))
	months := net.Div(avgMonthly).InexactFloat64()
	return math.Min(100, months*bufferPointsPerMonth)
}

// DebtCoverage proxies repayment capacity as the inverse of the expense ratio, since no
// liability data is recorded.
func DebtCoverage(expenseRatio float64) float64 {
	return math.Max(0, 100-expenseRatio)
}

// InventoryHealth blends the share of items above reorder level with total stock value.
// A business without inventory scores neutral.
func InventoryHealth(items []storage.InventoryItem) float64 {
	if len(items) == 0 {
		return neutralScore
	}
	healthy := 0
	for _, item := range items {
		if item.Quantity.GreaterThan(item.ReorderLevel) {
			healthy++
		}
	}
	share := float64(healthy) / float64(len(items)) * 100
	value := InventoryValue(items).InexactFloat64()
	return math.Min(100, share*healthyShareWeight+math.Min(100, value/inventoryValueScale)*inventoryValueWeight)
}

// InventoryValue sums quantity times unit price.
func InventoryValue(items []storage.InventoryItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Value())
	}
	return total
}

// BusinessAge steps up with age in months.
func BusinessAge(ageMonths float64) float64 {
	switch {
	case ageMonths < 3:
		return 25
	case ageMonths < 6:
		return 50
	case ageMonths < 12:
		return 75
	case ageMonths < 24:
		return 90
	default:
		return 100
	}
}

// TransactionVolume is linear to 50 at 50 transactions, then linear to 100 at 200.
func TransactionVolume(count int) float64 {
	switch {
	case count < volumeLowThreshold:
		return float64(count) / volumeLowThreshold * 50
	case count < volumeHighThreshold:
		return 50 + float64(count-volumeLowThreshold)/(volumeHighThreshold-volumeLowThreshold)*50
	default:
		return 100
	}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
