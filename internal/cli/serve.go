package cli

import (
	"github.com/spf13/cobra"

	"smartpesa/internal/app"
)

var serveDemo bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context(), app.ServeOptions{Demo: serveDemo})
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveDemo, "demo", false, "Seed demo businesses into the store before serving")
}
