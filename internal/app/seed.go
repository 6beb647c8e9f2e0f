package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"smartpesa/internal/storage"
)

type sampleItem struct {
	name     string
	sku      string
	quantity int64
	price    int64
	reorder  int64
}

var sampleInventory = []sampleItem{
	{"Laptop", "LAP001", 15, 75000, 5},
	{"Printer", "PRN001", 8, 25000, 3},
	{"Paper A4", "PAP001", 50, 500, 10},
	{"Desk Chair", "CHR001", 12, 8500, 4},
	{"USB Cable", "USB001", 30, 350, 15},
	{"Mouse", "MOU001", 25, 800, 10},
	{"Keyboard", "KEY001", 20, 1200, 8},
	{"Monitor", "MON001", 10, 18000, 3},
	{"External HDD", "HDD001", 12, 6500, 4},
	{"Webcam", "CAM001", 8, 4500, 3},
}

// Seed writes a synthetic business with daily sales, rent, utilities and supplies, and
// optionally a sample inventory.
func (a *App) Seed(ctx context.Context, opts SeedOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	txs, items, err := a.seedBusiness(ctx, store, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "seeded business %d with %d transactions and %d inventory items\n", opts.BusinessID, txs, items)
	return nil
}

// seedDemo fills a store with two businesses for a single owner: one with enough history
// to forecast and one still below the minimum.
func (a *App) seedDemo(ctx context.Context, store storage.RecordWriter) error {
	demo := []SeedOptions{
		{BusinessID: 1, OwnerID: 1, Name: "Mama Mboga Kiosk", OwnerEmail: "owner@example.com", Days: 120, Seed: 42, Inventory: true},
		{BusinessID: 2, OwnerID: 1, Name: "Juakali Workshop", OwnerEmail: "owner@example.com", Days: 14, Seed: 7},
	}
	for _, opts := range demo {
		if _, _, err := a.seedBusiness(ctx, store, opts); err != nil {
			return err
		}
	}
	a.Logger.Info().Int("businesses", len(demo)).Int64("owner_id", 1).Msg("demo data seeded")
	return nil
}

func (a *App) seedBusiness(ctx context.Context, store storage.RecordWriter, opts SeedOptions) (int, int, error) {
	if opts.BusinessID <= 0 || opts.OwnerID <= 0 {
		return 0, 0, errors.New("business and owner ids must be positive")
	}
	if opts.Days <= 0 {
		opts.Days = 90
	}
	if opts.Name == "" {
		opts.Name = fmt.Sprintf("Business %d", opts.BusinessID)
	}

	start := a.now().UTC().AddDate(0, 0, -opts.Days)
	if err := store.UpsertBusiness(ctx, storage.Business{
		ID:         opts.BusinessID,
		Name:       opts.Name,
		OwnerID:    opts.OwnerID,
		OwnerEmail: opts.OwnerEmail,
		CreatedAt:  start,
	}); err != nil {
		return 0, 0, err
	}

	txs := SampleTransactions(opts.BusinessID, start, opts.Days, opts.Seed)
	if err := store.InsertTransactions(ctx, txs); err != nil {
		return 0, 0, err
	}

	var items []storage.InventoryItem
	if opts.Inventory {
		items = SampleInventory(opts.BusinessID)
		if err := store.InsertInventory(ctx, items); err != nil {
			return 0, 0, err
		}
	}
	return len(txs), len(items), nil
}

// SampleTransactions generates a deterministic history of days days starting at start.
// Weekday sales fall in [4000, 6000) and weekend sales in [2000, 3500). Rent of 1200 is
// paid every 30 days, utilities of [300, 400) every 7 days, and supplies of [50, 200)
// on roughly 30% of days.
func SampleTransactions(businessID int64, start time.Time, days int, seed uint64) []storage.Transaction {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	uniform := func(lo, hi float64) decimal.Decimal {
		return decimal.NewFromFloat(lo + rng.Float64()*(hi-lo)).Round(2)
	}

	txs := make([]storage.Transaction, 0, days*2)
	add := func(at time.Time, kind storage.TransactionKind, amount decimal.Decimal, category, description string) {
		txs = append(txs, storage.Transaction{
			BusinessID:  businessID,
			Amount:      amount,
			Kind:        kind,
			Category:    category,
			Description: description,
			CreatedAt:   at,
		})
	}

	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i)
		stamp := day.Format(time.DateOnly)

		income := uniform(4000, 6000)
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			income = uniform(2000, 3500)
		}
		add(day, storage.KindIncome, income, "Sales", "Daily sales "+stamp)

		if i%30 == 0 {
			add(day, storage.KindExpense, decimal.NewFromInt(1200), "Rent", "Monthly rent "+day.Format("2006-01"))
		}
		if i%7 == 0 {
			add(day, storage.KindExpense, uniform(300, 400), "Utilities", "Weekly utilities "+stamp)
		}
		if rng.Float64() < 0.3 {
			add(day, storage.KindExpense, uniform(50, 200), "Supplies", "Daily supplies "+stamp)
		}
	}
	return txs
}

// SampleInventory returns the ten-line office-supplies inventory.
func SampleInventory(businessID int64) []storage.InventoryItem {
	items := make([]storage.InventoryItem, len(sampleInventory))
	for i, s := range sampleInventory {
		items[i] = storage.InventoryItem{
			BusinessID:   businessID,
			Name:         s.name,
			SKU:          s.sku,
			Quantity:     decimal.NewFromInt(s.quantity),
			ReorderLevel: decimal.NewFromInt(s.reorder),
			PricePerUnit: decimal.NewFromInt(s.price),
		}
	}
	return items
}
