package cli

import (
	"github.com/spf13/cobra"

	"smartpesa/internal/app"
)

var (
	exportBusiness  int64
	exportDays      int
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export daily net cash flow and forecast as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireBusiness(exportBusiness); err != nil {
			return err
		}
		return getApp().Export(cmd.Context(), app.ExportOptions{
			BusinessID: exportBusiness,
			Days:       exportDays,
			PNGPath:    exportPNGPath,
			CSVPath:    exportCSVPath,
			MaxPoints:  exportMaxPoints,
		})
	},
}

func init() {
	exportCmd.Flags().Int64Var(&exportBusiness, "business", 0, "Business id")
	exportCmd.Flags().IntVar(&exportDays, "days", 30, "Days to forecast")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum history points to export (defaults to config)")
}
