package pipeline

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Lag offsets of the base and extended feature sets.
var (
	NetLagDays         = [6]int{1, 2, 3, 7, 14, 30}
	ExtendedNetLagDays = [7]int{4, 5, 6, 21, 28, 60, 90}
	RollingWindows     = [3]int{7, 14, 30}
	EWMSpans           = [3]int{7, 14, 30}
	PctChangePeriods   = [3]int{1, 7, 30}
)

const (
	baseLookback     = 30
	extendedLookback = 90
)

// Options selects the feature set.
type Options struct {
	Extended bool
}

// Lookback is the number of leading rows without a full feature history.
func (o Options) Lookback() int {
	if o.Extended {
		return extendedLookback
	}
	return baseLookback
}

// Calendar holds date-derived fields.
type Calendar struct {
	DayOfWeek      int // 0 = Monday
	DayOfMonth     int
	DayOfYear      int
	Month          int
	Quarter        int
	WeekOfYear     int
	IsWeekend      bool
	IsMonthStart   bool
	IsMonthEnd     bool
	IsQuarterStart bool
	IsQuarterEnd   bool
	DaySin         float64
	DayCos         float64
}

// CalendarFor derives calendar fields for a day.
func CalendarFor(day time.Time) Calendar {
	day = Day(day)
	_, week := day.ISOWeek()
	dow := (int(day.Weekday()) + 6) % 7
	month := int(day.Month())
	next := day.AddDate(0, 0, 1)
	monthStart := day.Day() == 1
	monthEnd := next.Month() != day.Month()
	quarterMonth := (month-1)%3 == 0
	doy := day.YearDay()
	angle := 2 * math.Pi * float64(doy) / 365

	return Calendar{
		DayOfWeek:      dow,
		DayOfMonth:     day.Day(),
		DayOfYear:      doy,
		Month:          month,
		Quarter:        (month-1)/3 + 1,
		WeekOfYear:     week,
		IsWeekend:      dow >= 5,
		IsMonthStart:   monthStart,
		IsMonthEnd:     monthEnd,
		IsQuarterStart: monthStart && quarterMonth,
		IsQuarterEnd:   monthEnd && month%3 == 0,
		DaySin:         math.Sin(angle),
		DayCos:         math.Cos(angle),
	}
}

// RollingStats summarises a trailing window.
type RollingStats struct {
	Mean float64
	Std  float64
	Min  float64
	Max  float64
}

// FeatureRow is the engineered record for one day.
type FeatureRow struct {
	Date    time.Time
	Income  float64
	Expense float64
	Net     float64
	Count   int
	Calendar

	NetLags         [6]float64
	ExtendedNetLags [7]float64

	NetRolling     [3]RollingStats
	IncomeRolling  [3]RollingStats
	ExpenseRolling [3]RollingStats

	NetEWM         [3]float64
	PctChange      [3]float64
	Volatility7d   float64
	Volatility30d  float64
	DowDeviation   float64
	MonthDeviation float64
	Trend          int
}

// Frame holds every engineered row plus the subset with full lookback.
type Frame struct {
	All      []FeatureRow
	Complete []FeatureRow
	Lookback int
}

// Engineer computes features over the ordered daily series. Gaps are not filled, so lag
// and window offsets count rows rather than calendar days.
func Engineer(days []DailyTotal, opts Options) Frame {
	lookback := opts.Lookback()
	frame := Frame{Lookback: lookback}
	if len(days) == 0 {
		return frame
	}

	n := len(days)
	net := make([]float64, n)
	income := make([]float64, n)
	expense := make([]float64, n)
	for i, d := range days {
		net[i] = d.Net.InexactFloat64()
		income[i] = d.Income.InexactFloat64()
		expense[i] = d.Expense.InexactFloat64()
	}

	dowMean, monthMean := groupMeans(days, net)

	ewm := make([][]float64, len(EWMSpans))
	for k, span := range EWMSpans {
		ewm[k] = EWMean(net, span)
	}

	rows := make([]FeatureRow, n)
	for i, d := range days {
		cal := CalendarFor(d.Date)
		row := FeatureRow{
			Date:     d.Date,
			Income:   income[i],
			Expense:  expense[i],
			Net:      net[i],
			Count:    d.Count,
			Calendar: cal,
			Trend:    i,
		}

		for k, lag := range NetLagDays {
			row.NetLags[k] = shifted(net, i, lag)
		}
		if opts.Extended {
			for k, lag := range ExtendedNetLagDays {
				row.ExtendedNetLags[k] = shifted(net, i, lag)
			}
		}
		for k, w := range RollingWindows {
			row.NetRolling[k] = Rolling(net, i, w)
			row.IncomeRolling[k] = Rolling(income, i, w)
			row.ExpenseRolling[k] = Rolling(expense, i, w)
			row.NetEWM[k] = ewm[k][i]
		}
		for k, p := range PctChangePeriods {
			row.PctChange[k] = pctChange(net, i, p)
		}
		row.Volatility7d = Volatility(row.NetRolling[0])
		row.Volatility30d = Volatility(row.NetRolling[2])
		row.DowDeviation = net[i] - dowMean[cal.DayOfWeek]
		row.MonthDeviation = net[i] - monthMean[cal.Month]

		rows[i] = row
	}

	frame.All = rows
	if n > lookback {
		frame.Complete = rows[lookback:]
	}
	return frame
}

// Rolling returns statistics of the window ending at index i (inclusive). Windows without
// enough rows yield NaN fields. Std is the sample standard deviation.
func Rolling(values []float64, i, window int) RollingStats {
	if i+1 < window || window <= 0 {
		nan := math.NaN()
		return RollingStats{Mean: nan, Std: nan, Min: nan, Max: nan}
	}
	w := values[i+1-window : i+1]
	mean, std := stat.MeanStdDev(w, nil)
	if window == 1 {
		std = math.NaN()
	}
	return RollingStats{Mean: mean, Std: std, Min: floats.Min(w), Max: floats.Max(w)}
}

// Volatility is the window std over the absolute mean plus one.
func Volatility(r RollingStats) float64 {
	return r.Std / (math.Abs(r.Mean) + 1)
}

// EWMean is the adjusted exponentially weighted mean with alpha = 2/(span+1).
func EWMean(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	decay := 1 - 2/float64(span+1)
	var num, den float64
	for i, v := range values {
		num = v + decay*num
		den = 1 + decay*den
		out[i] = num / den
	}
	return out
}

func shifted(values []float64, i, lag int) float64 {
	if i-lag < 0 {
		return math.NaN()
	}
	return values[i-lag]
}

// pctChange is the percent change against the row period steps back; a zero base yields 0.
func pctChange(values []float64, i, period int) float64 {
	if i-period < 0 {
		return math.NaN()
	}
	base := values[i-period]
	if base == 0 {
		return 0
	}
	return (values[i] - base) / base * 100
}

func groupMeans(days []DailyTotal, net []float64) (map[int]float64, map[int]float64) {
	dowSum := make(map[int]float64)
	dowN := make(map[int]float64)
	monthSum := make(map[int]float64)
	monthN := make(map[int]float64)
	for i, d := range days {
		dow := (int(d.Date.Weekday()) + 6) % 7
		month := int(d.Date.Month())
		dowSum[dow] += net[i]
		dowN[dow]++
		monthSum[month] += net[i]
		monthN[month]++
	}
	for k := range dowSum {
		dowSum[k] /= dowN[k]
	}
	for k := range monthSum {
		monthSum[k] /= monthN[k]
	}
	return dowSum, monthSum
}
