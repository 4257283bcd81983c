package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fx-alerts/internal/config"
	"fx-alerts/internal/storage"
)

type fakeQuoteStore struct {
	snapshots []storage.QuoteSnapshot
}

func (f *fakeQuoteStore) InsertQuote(ctx context.Context, s storage.QuoteSnapshot) error {
	f.snapshots = append(f.snapshots, s)
	return nil
}

func (f *fakeQuoteStore) LatestQuote(ctx context.Context) (*storage.QuoteSnapshot, error) {
	if len(f.snapshots) == 0 {
		return nil, nil
	}
	last := f.snapshots[len(f.snapshots)-1]
	return &last, nil
}

func (f *fakeQuoteStore) ListQuotesBetween(ctx context.Context, from, to time.Time) ([]storage.QuoteSnapshot, error) {
	return f.snapshots, nil
}

func (f *fakeQuoteStore) ListRecentQuotes(ctx context.Context, limit int) ([]storage.QuoteSnapshot, error) {
	if limit > 0 && limit < len(f.snapshots) {
		return f.snapshots[:limit], nil
	}
	return f.snapshots, nil
}

func (f *fakeQuoteStore) CountQuotes(ctx context.Context) (int64, error) {
	return int64(len(f.snapshots)), nil
}

func snapshotAt(day int, usd string) storage.QuoteSnapshot {
	return storage.QuoteSnapshot{
		USD:        decimal.RequireFromString(usd),
		EUR:        decimal.RequireFromString("1000"),
		UF:         decimal.RequireFromString("37000"),
		CapturedAt: time.Date(2026, 8, day, 12, 0, 0, 0, time.UTC),
	}
}

func TestShowQuotesReportsStoredTotal(t *testing.T) {
	store := &fakeQuoteStore{snapshots: []storage.QuoteSnapshot{
		snapshotAt(25, "900"),
		snapshotAt(26, "905"),
		snapshotAt(27, "910"),
	}}

	a := NewApp(&config.Config{}, zerolog.Nop())
	var out strings.Builder
	if err := a.showQuotes(context.Background(), &out, store, 2); err != nil {
		t.Fatalf("showQuotes failed: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "showing 2 of 3 stored snapshots") {
		t.Fatalf("output should report the stored total, got:\n%s", got)
	}
	if !strings.Contains(got, "900.00") || strings.Contains(got, "910.00") {
		t.Fatalf("output should honour the limit, got:\n%s", got)
	}
}

func TestShowQuotesEmptyStore(t *testing.T) {
	a := NewApp(&config.Config{}, zerolog.Nop())
	var out strings.Builder
	if err := a.showQuotes(context.Background(), &out, &fakeQuoteStore{}, 10); err != nil {
		t.Fatalf("showQuotes failed: %v", err)
	}
	if !strings.Contains(out.String(), "no snapshots found") {
		t.Fatalf("empty store should print a placeholder, got:\n%s", out.String())
	}
}
