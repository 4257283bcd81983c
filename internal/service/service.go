package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fx-alerts/internal/config"
	"fx-alerts/internal/indicators"
	"fx-alerts/internal/news"
	"fx-alerts/internal/push"
	"fx-alerts/internal/storage"
)

// Dispatcher delivers notification messages best-effort.
type Dispatcher interface {
	Dispatch(ctx context.Context, messages []push.Message) push.Summary
}

// Stores bundles the persistence interfaces the cycles depend on.
type Stores struct {
	Quotes      storage.QuoteStore
	State       storage.StateStore
	Seen        storage.SeenArticleStore
	Preferences storage.PreferenceStore
	Tokens      storage.TokenStore
}

// Service runs the rate-detection and news-dedup cycles.
type Service struct {
	quotes     indicators.QuoteFetcher
	feed       news.FeedFetcher
	stores     Stores
	dispatcher Dispatcher
	logger     zerolog.Logger

	defaultPct decimal.Decimal
	cooldown   time.Duration
	now        func() time.Time
}

// New constructs the service.
func New(cfg *config.Config, quotes indicators.QuoteFetcher, feed news.FeedFetcher, stores Stores, dispatcher Dispatcher, logger zerolog.Logger) *Service {
	// The percentage threshold is a fraction of the baseline; 0.01 is 1%.
	defaultPct := decimal.NewFromFloat(cfg.Alerting.DefaultPctThreshold)
	if !defaultPct.IsPositive() {
		defaultPct = decimal.NewFromFloat(0.01)
	}

	cooldown := cfg.Alerting.Cooldown
	if cooldown < 0 {
		cooldown = 0
	}

	return &Service{
		quotes:     quotes,
		feed:       feed,
		stores:     stores,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "service").Logger(),
		defaultPct: defaultPct,
		cooldown:   cooldown,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) activeTokensByUser(ctx context.Context) (map[string][]string, []string, error) {
	tokens, err := s.stores.Tokens.ListActiveTokens(ctx)
	if err != nil {
		return nil, nil, err
	}

	byUser := make(map[string][]string, len(tokens))
	all := make([]string, 0, len(tokens))
	for _, token := range tokens {
		byUser[token.UserID] = append(byUser[token.UserID], token.Token)
		all = append(all, token.Token)
	}
	return byUser, all, nil
}
