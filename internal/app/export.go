package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"smartpesa/internal/pipeline"
)

const (
	rowHistory  = "history"
	rowForecast = "forecast"
)

// exportRow is one day of either observed net cash flow or forecast.
type exportRow struct {
	Date       time.Time
	Kind       string
	Net        decimal.Decimal
	Prediction float64
	Lower      float64
	Upper      float64
}

// Export renders a business's daily net history and hybrid forecast as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Days <= 0 {
		opts.Days = 30
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	series, err := pipeline.New(store, pipeline.Options{Extended: a.Config.Forecast.Extended}, a.now, a.Logger).
		Build(ctx, opts.BusinessID, a.Config.Forecast.HistoryDays)
	if err != nil {
		return err
	}
	if series.Empty() {
		a.Logger.Info().Int64("business_id", opts.BusinessID).Msg("no transactions found for export")
		return nil
	}

	bundle, err := a.components(store).forecasts.GenerateForecast(ctx, opts.BusinessID, opts.Days)
	if err != nil {
		return err
	}

	history := downsampleDays(series.Daily, opts.MaxPoints)
	rows := make([]exportRow, 0, len(history)+len(bundle.Hybrid.Forecast))
	for _, day := range history {
		rows = append(rows, exportRow{Date: day.Date, Kind: rowHistory, Net: day.Net})
	}
	for _, p := range bundle.Hybrid.Forecast {
		rows = append(rows, exportRow{
			Date:       p.Date.Time(),
			Kind:       rowForecast,
			Prediction: p.Prediction,
			Lower:      p.Lower,
			Upper:      p.Upper,
		})
	}
	a.Logger.Info().
		Int("history_days", len(series.Daily)).
		Int("exported_history", len(history)).
		Int("forecast_days", len(bundle.Hybrid.Forecast)).
		Msg("exporting cash flow")

	if opts.CSVPath != "" {
		if err := writeRowsCSV(opts.CSVPath, rows); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeRowsPNG(opts.PNGPath, opts.BusinessID, rows); err != nil {
			return err
		}
	}
	return nil
}

func downsampleDays(days []pipeline.DailyTotal, max int) []pipeline.DailyTotal {
	if max <= 0 || len(days) <= max {
		return days
	}
	if max == 1 {
		return days[len(days)-1:]
	}

	result := make([]pipeline.DailyTotal, 0, max)
	step := float64(len(days)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(days) {
			idx = len(days) - 1
		}
		result = append(result, days[idx])
	}
	return result
}

func writeRowsCSV(path string, rows []exportRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"date", "kind", "net", "prediction", "lower", "upper"}); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{row.Date.Format(time.DateOnly), row.Kind, "", "", "", ""}
		if row.Kind == rowHistory {
			record[2] = formatDecimal(row.Net, 2)
		} else {
			record[3] = formatFloat(row.Prediction)
			record[4] = formatFloat(row.Lower)
			record[5] = formatFloat(row.Upper)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return writer.Error()
}

func writeRowsPNG(path string, businessID int64, rows []exportRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	var histX, fcX []time.Time
	var histY, fcY, lower, upper []float64
	for _, row := range rows {
		if row.Kind == rowHistory {
			histX = append(histX, row.Date)
			histY = append(histY, row.Net.InexactFloat64())
			continue
		}
		fcX = append(fcX, row.Date)
		fcY = append(fcY, row.Prediction)
		lower = append(lower, row.Lower)
		upper = append(upper, row.Upper)
	}

	amountFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	series := make([]chart.Series, 0, 4)
	if len(histX) > 1 {
		series = append(series, chart.TimeSeries{Name: "Net cash flow", XValues: histX, YValues: histY})
	}
	if len(fcX) > 1 {
		band := chart.Style{StrokeColor: chart.ColorAlternateGray, StrokeDashArray: []float64{4, 4}}
		series = append(series,
			chart.TimeSeries{Name: "Forecast", XValues: fcX, YValues: fcY},
			chart.TimeSeries{Name: "Lower bound", XValues: fcX, YValues: lower, Style: band},
			chart.TimeSeries{Name: "Upper bound", XValues: fcX, YValues: upper, Style: band},
		)
	}
	if len(series) == 0 {
		return errors.New("not enough points to render a chart")
	}

	graph := chart.Chart{
		Title:  "Business #" + strconv.FormatInt(businessID, 10),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Net (KES)",
			ValueFormatter: amountFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
