package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"smartpesa/internal/app"
)

var (
	scoreBusiness   int64
	scoreForce      bool
	historyBusiness int64
	historyUser     int64
	historyLimit    int
	lenderBusiness  int64
	rescoreUser     int64
	rescoreStale    bool
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Print the current credit score of a business",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireBusiness(scoreBusiness); err != nil {
			return err
		}
		return getApp().Score(cmd.Context(), app.ScoreOptions{BusinessID: scoreBusiness, Force: scoreForce})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Display credit score history of a business",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireBusiness(historyBusiness); err != nil {
			return err
		}
		if historyLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().History(cmd.Context(), app.HistoryOptions{
			BusinessID: historyBusiness,
			UserID:     historyUser,
			Limit:      historyLimit,
		})
	},
}

var lenderCmd = &cobra.Command{
	Use:   "lender",
	Short: "Print the lender profile of a business",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireBusiness(lenderBusiness); err != nil {
			return err
		}
		return getApp().Lender(cmd.Context(), lenderBusiness)
	},
}

var rescoreCmd = &cobra.Command{
	Use:   "rescore",
	Short: "Recalculate credit scores for an owner or for every expired score",
	RunE: func(cmd *cobra.Command, args []string) error {
		if rescoreUser != 0 && rescoreStale {
			return fmt.Errorf("--user and --stale are mutually exclusive")
		}
		return getApp().Rescore(cmd.Context(), app.RescoreOptions{UserID: rescoreUser, Stale: rescoreStale})
	},
}

func init() {
	scoreCmd.Flags().Int64Var(&scoreBusiness, "business", 0, "Business id")
	scoreCmd.Flags().BoolVar(&scoreForce, "force", false, "Recalculate even when a valid score exists")

	historyCmd.Flags().Int64Var(&historyBusiness, "business", 0, "Business id")
	historyCmd.Flags().Int64Var(&historyUser, "user", 0, "Owner id (defaults to the business owner)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "Number of scores to display")

	lenderCmd.Flags().Int64Var(&lenderBusiness, "business", 0, "Business id")

	rescoreCmd.Flags().Int64Var(&rescoreUser, "user", 0, "Rescore every business of this owner")
	rescoreCmd.Flags().BoolVar(&rescoreStale, "stale", false, "Rescore every business whose latest score expired")
}
