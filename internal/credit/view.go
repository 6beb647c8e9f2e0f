package credit

import (
	"time"

	"github.com/google/uuid"

	"smartpesa/internal/storage"
)

// ScoreView is the JSON rendering of a stored score.
type ScoreView struct {
	ID                 uuid.UUID          `json:"id"`
	UserID             int64              `json:"user_id"`
	BusinessID         int64              `json:"business_id"`
	RevenueConsistency float64            `json:"revenue_consistency_score"`
	VolatilityIndex    float64            `json:"volatility_index"`
	ExpenseRatio       float64            `json:"expense_ratio"`
	CashBufferRatio    float64            `json:"cash_buffer_ratio"`
	DebtCoverage       float64            `json:"debt_coverage_capacity"`
	InventoryHealth    float64            `json:"inventory_health_score"`
	BusinessAge        float64            `json:"business_age_score"`
	TransactionVolume  float64            `json:"transaction_volume_score"`
	SmartPesaScore     int                `json:"smartpesa_score"`
	RiskLevel          LenderRiskLevel    `json:"risk_level"`
	Metrics            map[string]float64 `json:"metrics_json"`
	CalculatedAt       time.Time          `json:"calculation_date"`
	ValidUntil         time.Time          `json:"valid_until"`
}

// View renders a stored score.
func View(s storage.CreditScore) ScoreView {
	return ScoreView{
		ID:                 s.ID,
		UserID:             s.UserID,
		BusinessID:         s.BusinessID,
		RevenueConsistency: s.RevenueConsistency,
		VolatilityIndex:    s.VolatilityIndex,
		ExpenseRatio:       s.ExpenseRatio,
		CashBufferRatio:    s.CashBufferRatio,
		DebtCoverage:       s.DebtCoverage,
		InventoryHealth:    s.InventoryHealth,
		BusinessAge:        s.BusinessAge,
		TransactionVolume:  s.TransactionVolume,
		SmartPesaScore:     s.Score,
		RiskLevel:          LenderRiskLevelFor(s.Score),
		Metrics:            s.Metrics,
		CalculatedAt:       s.CalculatedAt,
		ValidUntil:         s.ValidUntil,
	}
}

// Views renders a list of stored scores.
func Views(scores []storage.CreditScore) []ScoreView {
	out := make([]ScoreView, len(scores))
	for i, s := range scores {
		out[i] = View(s)
	}
	return out
}
