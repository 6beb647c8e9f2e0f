package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
)

// Rescore recalculates credit scores in bulk: every business of one owner, or every
// business whose latest score has expired.
func (a *App) Rescore(ctx context.Context, opts RescoreOptions) error {
	if opts.UserID == 0 && !opts.Stale {
		return errors.New("either --user or --stale must be provided")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := a.components(store).credit
	if opts.Stale {
		refreshed, err := svc.RefreshStale(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "refreshed %d expired scores\n", refreshed)
		return nil
	}

	results, err := svc.CalculateAll(ctx, opts.UserID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Calculated scores for %d businesses\n", len(results))
	if len(results) == 0 {
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Business\tName\tScore")
	for _, r := range results {
		fmt.Fprintf(writer, "%d\t%s\t%d\n", r.BusinessID, sanitizeInline(r.BusinessName), r.SmartPesaScore)
	}
	return writer.Flush()
}
