package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionKind distinguishes money coming in from money going out.
type TransactionKind string

const (
	KindIncome  TransactionKind = "income"
	KindExpense TransactionKind = "expense"
)

// Business is the owning entity of transactions, inventory and credit scores.
type Business struct {
	ID         int64
	Name       string
	OwnerID    int64
	OwnerEmail string
	CreatedAt  time.Time
}

// Transaction is a single income or expense record. Amount is always positive.
type Transaction struct {
	ID          int64
	BusinessID  int64
	Amount      decimal.Decimal
	Kind        TransactionKind
	Category    string
	Description string
	CreatedAt   time.Time
}

// InventoryItem is a stock line held by a business.
type InventoryItem struct {
	ID           int64
	BusinessID   int64
	Name         string
	SKU          string
	Quantity     decimal.Decimal
	ReorderLevel decimal.Decimal
	PricePerUnit decimal.Decimal
}

// Value returns quantity times unit price.
func (i InventoryItem) Value() decimal.Decimal {
	return i.Quantity.Mul(i.PricePerUnit)
}

// CreditScore is an immutable credit score calculation for a business.
type CreditScore struct {
	ID                 uuid.UUID
	BusinessID         int64
	UserID             int64
	RevenueConsistency float64
	VolatilityIndex    float64
	ExpenseRatio       float64
	CashBufferRatio    float64
	DebtCoverage       float64
	InventoryHealth    float64
	BusinessAge        float64
	TransactionVolume  float64
	Score              int
	Metrics            map[string]float64
	CalculatedAt       time.Time
	ValidUntil         time.Time
}

// IsValid reports whether the score is still inside its validity window.
func (c CreditScore) IsValid(now time.Time) bool {
	return now.Before(c.ValidUntil)
}

// ScoreFilter narrows ListScoredBusinesses results. Zero values disable a bound.
type ScoreFilter struct {
	MinScore int
	MaxScore int
	ValidAt  time.Time
	Limit    int
}

// ScoredBusiness joins a business with its most recent valid credit score.
type ScoredBusiness struct {
	BusinessID   int64
	BusinessName string
	OwnerEmail   string
	Score        int
	CalculatedAt time.Time
	ValidUntil   time.Time
}

// RiskAlertRecord captures a dispatched forecast risk alert for de-duplication/auditing.
type RiskAlertRecord struct {
	ID         int64
	BusinessID int64
	Day        time.Time
	Level      string
	RiskScore  int
	Messages   []string
	CreatedAt  time.Time
}
