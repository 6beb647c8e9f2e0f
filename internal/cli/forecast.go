package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"smartpesa/internal/app"
)

var (
	forecastBusiness int64
	forecastDays     int
	riskBusiness     int64
	healthBusiness   int64
	previewBusiness  int64
)

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Print the hybrid cash-flow forecast of a business",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireBusiness(forecastBusiness); err != nil {
			return err
		}
		if forecastDays <= 0 {
			return fmt.Errorf("--days must be greater than zero")
		}
		return getApp().Forecast(cmd.Context(), app.ForecastOptions{BusinessID: forecastBusiness, Days: forecastDays})
	},
}

var riskCmd = &cobra.Command{
	Use:   "risk",
	Short: "Print the 30-day cash-flow risk alert of a business",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireBusiness(riskBusiness); err != nil {
			return err
		}
		return getApp().Risk(cmd.Context(), riskBusiness)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report whether a business has enough history to forecast",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireBusiness(healthBusiness); err != nil {
			return err
		}
		return getApp().Health(cmd.Context(), healthBusiness)
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one risk scan over every business and dispatch alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Scan(cmd.Context())
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview-alert",
	Short: "Render the risk alert message of a business without sending it",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireBusiness(previewBusiness); err != nil {
			return err
		}
		return getApp().Preview(cmd.Context(), previewBusiness)
	},
}

func init() {
	forecastCmd.Flags().Int64Var(&forecastBusiness, "business", 0, "Business id")
	forecastCmd.Flags().IntVar(&forecastDays, "days", 7, "Days to forecast")
	riskCmd.Flags().Int64Var(&riskBusiness, "business", 0, "Business id")
	healthCmd.Flags().Int64Var(&healthBusiness, "business", 0, "Business id")
	previewCmd.Flags().Int64Var(&previewBusiness, "business", 0, "Business id")
}
