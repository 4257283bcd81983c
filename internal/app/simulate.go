package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"fx-alerts/internal/indicators"
)

// SimulateAlert runs one detection cycle against injected indicator values,
// exercising thresholds, quiet hours, cooldown, and real push delivery.
func (a *App) SimulateAlert(ctx context.Context, usd, eur, uf decimal.Decimal) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is required to simulate an alert")
	}
	defer closeStore()

	svc := a.newService(store)

	quote := indicators.Quote{
		USD:        usd,
		EUR:        eur,
		UF:         uf,
		CapturedAt: time.Now().UTC(),
	}
	return svc.DetectAndNotify(ctx, quote)
}
