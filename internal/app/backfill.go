package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"fx-alerts/internal/storage"
)

// Backfill ingests historical indicator series into the snapshot store. The
// indicator source returns a full daily series per indicator, so a backfill
// is one fetch per indicator joined on date.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	from := opts.From.UTC()
	to := opts.To.UTC()
	if !from.Before(to) {
		return errors.New("backfill window is empty; check --from/--to")
	}

	var store *storage.Store
	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: nothing will be written")
	} else {
		var closeStore func()
		var err error
		store, closeStore, err = a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database.dsn not configured; cannot backfill")
		}
		defer closeStore()
	}

	client := a.newIndicatorClient()
	codes := []string{
		a.Config.Indicators.USDCode,
		a.Config.Indicators.EURCode,
		a.Config.Indicators.UFCode,
	}

	byDate := make(map[time.Time][]decimal.Decimal)
	for i, code := range codes {
		points, err := client.FetchSeries(ctx, code)
		if err != nil {
			return err
		}
		for _, point := range points {
			day := point.Date.UTC().Truncate(24 * time.Hour)
			if day.Before(from) || !day.Before(to) {
				continue
			}
			values, ok := byDate[day]
			if !ok {
				values = make([]decimal.Decimal, len(codes))
			}
			values[i] = point.Value
			byDate[day] = values
		}
	}

	inserted := 0
	skipped := 0
	for day, values := range byDate {
		complete := true
		for _, value := range values {
			if !value.IsPositive() {
				complete = false
				break
			}
		}
		if !complete {
			skipped++
			continue
		}

		if opts.DryRun {
			inserted++
			continue
		}

		snapshot := storage.QuoteSnapshot{
			USD:        values[0],
			EUR:        values[1],
			UF:         values[2],
			CapturedAt: day,
		}
		if err := store.InsertQuote(ctx, snapshot); err != nil {
			a.Logger.Error().Err(err).Time("day", day).Msg("backfill insert failed")
			skipped++
			continue
		}
		inserted++
	}

	a.Logger.Info().Int("inserted", inserted).Int("skipped", skipped).Msg("backfill complete")
	return nil
}
