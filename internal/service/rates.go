package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fx-alerts/internal/indicators"
	"fx-alerts/internal/push"
	"fx-alerts/internal/storage"
)

var dec100 = decimal.NewFromInt(100)

// indicatorDelta describes one indicator's change versus the baseline.
type indicatorDelta struct {
	Label    string
	Old      decimal.Decimal
	New      decimal.Decimal
	Absolute *decimal.Decimal
}

// RunRatesCycle executes one rates poll: fetch, detect, dispatch, persist.
// A failed fetch discards the cycle; the next tick is the retry mechanism.
func (s *Service) RunRatesCycle(ctx context.Context) error {
	quote, err := s.quotes.FetchQuote(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("rates fetch failed; cycle discarded")
		return nil
	}

	return s.DetectAndNotify(ctx, quote)
}

// DetectAndNotify evaluates one quote against the stored baseline and
// subscriber preferences. Messages are dispatched before the snapshot and
// state are persisted, so a crash in between duplicates a notification
// rather than losing an indicator update.
func (s *Service) DetectAndNotify(ctx context.Context, quote indicators.Quote) error {
	state, err := s.stores.State.GetIndicatorState(ctx)
	if err != nil {
		return fmt.Errorf("load indicator state: %w", err)
	}

	if state == nil {
		s.logger.Info().Msg("no baseline yet; seeding indicator state")
		return s.persist(ctx, quote, nil)
	}

	now := s.now()
	if state.NotifiedAt != nil && now.Sub(*state.NotifiedAt) < s.cooldown {
		s.logger.Debug().Time("notified_at", *state.NotifiedAt).Msg("cooldown active; skipping evaluation")
		return s.persist(ctx, quote, state.NotifiedAt)
	}

	messages, err := s.buildRateMessages(ctx, *state, quote, now)
	if err != nil {
		return err
	}

	notifiedAt := state.NotifiedAt
	if len(messages) > 0 {
		s.dispatcher.Dispatch(ctx, messages)
		notifiedAt = &now
	}

	return s.persist(ctx, quote, notifiedAt)
}

func (s *Service) buildRateMessages(ctx context.Context, state storage.IndicatorState, quote indicators.Quote, now time.Time) ([]push.Message, error) {
	prefs, err := s.stores.Preferences.ListPreferences(ctx)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	if len(prefs) == 0 {
		return nil, nil
	}

	tokensByUser, _, err := s.activeTokensByUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active tokens: %w", err)
	}

	messages := make([]push.Message, 0)
	for _, pref := range prefs {
		if inQuietHours(pref, now) {
			continue
		}

		deltas := []indicatorDelta{
			{Label: "USD", Old: state.USD, New: quote.USD, Absolute: pref.USDThreshold},
			{Label: "EUR", Old: state.EUR, New: quote.EUR, Absolute: pref.EURThreshold},
			{Label: "UF", Old: state.UF, New: quote.UF, Absolute: pref.UFThreshold},
		}

		pct := s.defaultPct
		if pref.PctThreshold != nil && pref.PctThreshold.IsPositive() {
			pct = *pref.PctThreshold
		}

		crossed := make([]indicatorDelta, 0, len(deltas))
		for _, delta := range deltas {
			if crossesThreshold(delta, pct) {
				crossed = append(crossed, delta)
			}
		}
		if len(crossed) == 0 {
			continue
		}

		body := renderRateBody(crossed)
		for _, token := range tokensByUser[pref.UserID] {
			messages = append(messages, push.Message{
				Token: token,
				Title: "Movimiento del mercado",
				Body:  body,
				Data:  map[string]string{"type": "rates"},
			})
		}
	}
	return messages, nil
}

// crossesThreshold applies the per-indicator rule: an explicit absolute
// threshold takes precedence; otherwise the percentage threshold applies.
// The percentage threshold is a fraction of the baseline (0.01 = 1%). A
// zero baseline makes any nonzero change an infinite relative move.
func crossesThreshold(delta indicatorDelta, pct decimal.Decimal) bool {
	abs := delta.New.Sub(delta.Old).Abs()

	if delta.Absolute != nil {
		return abs.Cmp(*delta.Absolute) >= 0
	}

	if delta.Old.IsZero() {
		return !abs.IsZero()
	}

	return abs.Div(delta.Old).Cmp(pct) >= 0
}

func renderRateBody(crossed []indicatorDelta) string {
	parts := make([]string, 0, len(crossed))
	for _, delta := range crossed {
		parts = append(parts, fmt.Sprintf("%s %s -> %s (%s)",
			delta.Label,
			delta.Old.StringFixed(2),
			delta.New.StringFixed(2),
			renderPctChange(delta.Old, delta.New),
		))
	}
	return strings.Join(parts, "; ")
}

func renderPctChange(old, current decimal.Decimal) string {
	if old.IsZero() {
		return "n/a"
	}
	change := current.Sub(old).Div(old).Mul(dec100)
	sign := ""
	if change.Sign() > 0 {
		sign = "+"
	}
	return sign + change.StringFixed(2) + "%"
}

// inQuietHours reports whether now falls inside the subscriber's local quiet
// window. An equal start and end disables quiet hours; end at or before
// start spans midnight.
func inQuietHours(pref storage.AlertPreference, now time.Time) bool {
	start, ok := parseClock(pref.QuietStart)
	if !ok {
		return false
	}
	end, ok := parseClock(pref.QuietEnd)
	if !ok {
		return false
	}
	if start == end {
		return false
	}

	loc := time.UTC
	if pref.Timezone != "" {
		if parsed, err := time.LoadLocation(pref.Timezone); err == nil {
			loc = parsed
		}
	}

	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()

	if end > start {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

// parseClock converts "HH:MM" into minutes from midnight.
func parseClock(v string) (int, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	var hours, minutes int
	if _, err := fmt.Sscanf(v, "%d:%d", &hours, &minutes); err != nil {
		return 0, false
	}
	if hours < 0 || hours > 23 || minutes < 0 || minutes > 59 {
		return 0, false
	}
	return hours*60 + minutes, true
}

func (s *Service) persist(ctx context.Context, quote indicators.Quote, notifiedAt *time.Time) error {
	snapshot := storage.QuoteSnapshot{
		USD:        quote.USD,
		EUR:        quote.EUR,
		UF:         quote.UF,
		CapturedAt: quote.CapturedAt,
	}
	if err := s.stores.Quotes.InsertQuote(ctx, snapshot); err != nil {
		s.logger.Error().Err(err).Msg("failed to insert quote snapshot")
	}

	state := storage.IndicatorState{
		USD:        quote.USD,
		EUR:        quote.EUR,
		UF:         quote.UF,
		NotifiedAt: notifiedAt,
	}
	if err := s.stores.State.SetIndicatorState(ctx, state); err != nil {
		// next tick evaluates against a stale baseline; acceptable staleness
		s.logger.Error().Err(err).Msg("failed to update indicator state")
	}
	return nil
}
