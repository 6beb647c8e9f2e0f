package app

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"smartpesa/internal/credit"
)

// History prints recent credit scores of a business, newest first.
func (a *App) History(ctx context.Context, opts HistoryOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	userID := opts.UserID
	if userID == 0 {
		business, err := store.FetchBusiness(ctx, opts.BusinessID)
		if err != nil {
			return err
		}
		userID = business.OwnerID
	}

	scores, err := a.components(store).credit.History(ctx, opts.BusinessID, userID, opts.Limit)
	if err != nil {
		return err
	}
	if len(scores) == 0 {
		fmt.Fprintln(a.Out, "no credit scores found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Calculated (UTC)\tValid until\tScore\tRisk\tRevenue\tVolatility\tExpense\tBuffer\tID")
	for _, s := range scores {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%s\t%.1f\t%.1f\t%.1f\t%.1f\t%s\n",
			s.CalculatedAt.UTC().Format(time.RFC3339),
			s.ValidUntil.UTC().Format(time.DateOnly),
			s.Score,
			credit.LenderRiskLevelFor(s.Score),
			s.RevenueConsistency,
			s.VolatilityIndex,
			s.ExpenseRatio,
			s.CashBufferRatio,
			s.ID,
		)
	}
	return writer.Flush()
}
