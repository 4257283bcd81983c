package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"fx-alerts/internal/storage"
)

// Show prints recent quote snapshots, or recent articles with --articles.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show snapshots")
	}
	defer closeStore()

	if opts.Articles {
		return a.showArticles(ctx, os.Stdout, store, opts.Limit)
	}
	return a.showQuotes(ctx, os.Stdout, store, opts.Limit)
}

func (a *App) showQuotes(ctx context.Context, out io.Writer, store storage.QuoteStore, limit int) error {
	total, err := store.CountQuotes(ctx)
	if err != nil {
		return err
	}

	snapshots, err := store.ListRecentQuotes(ctx, limit)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		fmt.Fprintln(out, "no snapshots found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Captured (UTC)\tUSD\tEUR\tUF")

	for _, snapshot := range snapshots {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\n",
			snapshot.CapturedAt.UTC().Format(time.RFC3339),
			formatDecimal(snapshot.USD, 2),
			formatDecimal(snapshot.EUR, 2),
			formatDecimal(snapshot.UF, 2),
		)
	}

	if err := writer.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "showing %d of %d stored snapshots\n", len(snapshots), total)
	return nil
}

func (a *App) showArticles(ctx context.Context, out io.Writer, store storage.SeenArticleStore, limit int) error {
	articles, err := store.ListRecentArticles(ctx, limit)
	if err != nil {
		return err
	}
	if len(articles) == 0 {
		fmt.Fprintln(out, "no articles found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Recorded (UTC)\tSource\tTitle\tURL")

	for _, article := range articles {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\n",
			article.CreatedAt.UTC().Format(time.RFC3339),
			article.Source,
			sanitizeInline(article.Title),
			article.URL,
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
