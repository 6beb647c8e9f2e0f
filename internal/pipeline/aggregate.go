// Package pipeline turns raw transaction records into an ordered daily series with
// calendar, lag and rolling features ready for the forecasting models.
package pipeline

import (
	"regexp"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"smartpesa/internal/storage"
)

var descriptionDate = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// DailyTotal is one calendar day of aggregated activity.
type DailyTotal struct {
	Date    time.Time
	Income  decimal.Decimal
	Expense decimal.Decimal
	Net     decimal.Decimal
	Count   int
}

// ResolveDate picks the aggregation day for a transaction: the first YYYY-MM-DD token in
// its description when it parses, otherwise the UTC date of its creation time.
func ResolveDate(tx storage.Transaction) time.Time {
	if token := descriptionDate.FindString(tx.Description); token != "" {
		if day, err := time.Parse(time.DateOnly, token); err == nil {
			return day
		}
	}
	return Day(tx.CreatedAt)
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Aggregate groups transactions by resolved date and returns one row per date present,
// ordered by date. Days without one of the kinds carry a zero total for it.
func Aggregate(txs []storage.Transaction) []DailyTotal {
	if len(txs) == 0 {
		return nil
	}

	byDay := make(map[time.Time]*DailyTotal)
	for _, tx := range txs {
		day := ResolveDate(tx)
		row, ok := byDay[day]
		if !ok {
			row = &DailyTotal{Date: day, Income: decimal.Zero, Expense: decimal.Zero}
			byDay[day] = row
		}
		switch tx.Kind {
		case storage.KindIncome:
			row.Income = row.Income.Add(tx.Amount)
		case storage.KindExpense:
			row.Expense = row.Expense.Add(tx.Amount)
		default:
			continue
		}
		row.Count++
	}

	out := make([]DailyTotal, 0, len(byDay))
	for _, row := range byDay {
		row.Net = row.Income.Sub(row.Expense)
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// Summary describes the raw daily series handed to the models.
type Summary struct {
	TotalDays       int
	Start           time.Time
	End             time.Time
	TotalIncome     decimal.Decimal
	TotalExpense    decimal.Decimal
	AverageDailyNet decimal.Decimal
}

// Summarize totals a daily series. An empty series yields a zero summary.
func Summarize(days []DailyTotal) Summary {
	s := Summary{TotalIncome: decimal.Zero, TotalExpense: decimal.Zero, AverageDailyNet: decimal.Zero}
	if len(days) == 0 {
		return s
	}
	s.TotalDays = len(days)
	s.Start = days[0].Date
	s.End = days[len(days)-1].Date

	net := decimal.Zero
	for _, d := range days {
		s.TotalIncome = s.TotalIncome.Add(d.Income)
		s.TotalExpense = s.TotalExpense.Add(d.Expense)
		net = net.Add(d.Net)
	}
	s.AverageDailyNet = net.Div(decimal.NewFromInt(int64(len(days))))
	return s
}

// NetValues returns the daily net series as floats.
func NetValues(days []DailyTotal) []float64 {
	out := make([]float64, len(days))
	for i, d := range days {
		out[i] = d.Net.InexactFloat64()
	}
	return out
}
