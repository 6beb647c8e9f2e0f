package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"smartpesa/internal/storage"
)

// Series is the output of a pipeline run for one business.
type Series struct {
	BusinessID int64
	Daily      []DailyTotal
	Frame      Frame
}

// Empty reports whether no transactions were found.
func (s *Series) Empty() bool {
	return s == nil || len(s.Daily) == 0
}

// Pipeline reads business transactions and engineers the daily feature series.
type Pipeline struct {
	reader storage.RecordReader
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

// New creates a pipeline. A nil clock uses time.Now.
func New(reader storage.RecordReader, opts Options, now func() time.Time, logger zerolog.Logger) *Pipeline {
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		reader: reader,
		opts:   opts,
		now:    now,
		logger: logger.With().Str("component", "pipeline").Logger(),
	}
}

// Build fetches transactions created in the trailing lookbackDays and produces the daily
// series with features. No transactions yields an empty series and no error.
func (p *Pipeline) Build(ctx context.Context, businessID int64, lookbackDays int) (*Series, error) {
	since := p.now().UTC().AddDate(0, 0, -lookbackDays)
	txs, err := p.reader.FetchTransactions(ctx, businessID, since)
	if err != nil {
		return nil, fmt.Errorf("fetch transactions: %w", err)
	}

	daily := Aggregate(txs)
	series := &Series{
		BusinessID: businessID,
		Daily:      daily,
		Frame:      Engineer(daily, p.opts),
	}

	p.logger.Debug().
		Int64("business_id", businessID).
		Int("transactions", len(txs)).
		Int("days", len(daily)).
		Int("complete_rows", len(series.Frame.Complete)).
		Msg("daily series built")

	return series, nil
}
