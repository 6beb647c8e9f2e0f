package app

import (
	"context"
	"fmt"
	"strings"

	"smartpesa/internal/alerting"
	"smartpesa/internal/service"
)

// Scan runs one risk scan over every business immediately, outside the scheduler.
func (a *App) Scan(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	c := a.components(store)
	report, err := a.newMonitor(store, c).ScanRisk(ctx)
	if err != nil {
		return err
	}
	printScanReport(a, report)
	return nil
}

// Preview renders the alert message a business would receive for its current risk view
// without persisting or sending it.
func (a *App) Preview(ctx context.Context, businessID int64) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	business, err := store.FetchBusiness(ctx, businessID)
	if err != nil {
		return err
	}
	alert, err := a.components(store).forecasts.GetRiskAlert(ctx, businessID)
	if err != nil {
		return err
	}

	messages := make([]string, 0, len(alert.Alerts))
	for _, al := range alert.Alerts {
		messages = append(messages, al.Message)
	}
	fmt.Fprintln(a.Out, alerting.RenderMessage(alerting.Notification{
		BusinessID:   business.ID,
		BusinessName: business.Name,
		Day:          alert.Timestamp,
		Level:        string(alert.RiskLevel),
		RiskScore:    alert.RiskScore,
		ForecastAvg:  alert.Summary.ForecastAvg,
		NegativeDays: alert.Summary.NegativeDays,
		Messages:     messages,
	}))
	return nil
}

func printScanReport(a *App, r service.ScanReport) {
	fmt.Fprintf(a.Out, "scanned=%d insufficient=%d failed=%d alerted=%d notified=%d suppressed=%d\n",
		r.Scanned, r.Insufficient, r.Failed, r.Alerted, r.Notified, r.Suppressed)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
