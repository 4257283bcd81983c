package indicators

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one atomic reading of the three tracked indicators, denominated
// in the base currency. Values are strictly positive once constructed.
type Quote struct {
	USD        decimal.Decimal
	EUR        decimal.Decimal
	UF         decimal.Decimal
	CapturedAt time.Time
}

// Point is a single entry of an indicator time series.
type Point struct {
	Date  time.Time
	Value decimal.Decimal
}

// QuoteFetcher retrieves the latest indicator values as one Quote.
type QuoteFetcher interface {
	FetchQuote(ctx context.Context) (Quote, error)
}

// SeriesFetcher retrieves the historical series for a single indicator code.
type SeriesFetcher interface {
	FetchSeries(ctx context.Context, code string) ([]Point, error)
}
