package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"smartpesa/internal/app"
)

var seedOpts app.SeedOptions

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Generate synthetic transactions and inventory for a business",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireBusiness(seedOpts.BusinessID); err != nil {
			return err
		}
		if seedOpts.OwnerEmail == "" {
			seedOpts.OwnerEmail = fmt.Sprintf("owner%d@example.com", seedOpts.OwnerID)
		}
		return getApp().Seed(cmd.Context(), seedOpts)
	},
}

func init() {
	seedCmd.Flags().Int64Var(&seedOpts.BusinessID, "business", 0, "Business id to create or update")
	seedCmd.Flags().Int64Var(&seedOpts.OwnerID, "owner", 1, "Owner user id")
	seedCmd.Flags().StringVar(&seedOpts.Name, "name", "", "Business name")
	seedCmd.Flags().StringVar(&seedOpts.OwnerEmail, "email", "", "Owner email (defaults to owner<id>@example.com)")
	seedCmd.Flags().IntVar(&seedOpts.Days, "days", 90, "Days of history to generate")
	seedCmd.Flags().Uint64Var(&seedOpts.Seed, "seed", 42, "Random seed")
	seedCmd.Flags().BoolVar(&seedOpts.Inventory, "inventory", false, "Also add the sample inventory")
}
