package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fx-alerts/internal/config"
	"fx-alerts/internal/indicators"
	"fx-alerts/internal/news"
	"fx-alerts/internal/push"
	"fx-alerts/internal/storage"
)

type fakeQuoteStore struct {
	inserted []storage.QuoteSnapshot
}

func (f *fakeQuoteStore) InsertQuote(ctx context.Context, s storage.QuoteSnapshot) error {
	f.inserted = append(f.inserted, s)
	return nil
}
func (f *fakeQuoteStore) LatestQuote(ctx context.Context) (*storage.QuoteSnapshot, error) {
	if len(f.inserted) == 0 {
		return nil, nil
	}
	last := f.inserted[len(f.inserted)-1]
	return &last, nil
}
func (f *fakeQuoteStore) ListQuotesBetween(ctx context.Context, from, to time.Time) ([]storage.QuoteSnapshot, error) {
	return f.inserted, nil
}
func (f *fakeQuoteStore) ListRecentQuotes(ctx context.Context, limit int) ([]storage.QuoteSnapshot, error) {
	return f.inserted, nil
}
func (f *fakeQuoteStore) CountQuotes(ctx context.Context) (int64, error) {
	return int64(len(f.inserted)), nil
}

type fakeStateStore struct {
	state    *storage.IndicatorState
	setCalls []storage.IndicatorState
}

func (f *fakeStateStore) GetIndicatorState(ctx context.Context) (*storage.IndicatorState, error) {
	return f.state, nil
}
func (f *fakeStateStore) SetIndicatorState(ctx context.Context, state storage.IndicatorState) error {
	f.setCalls = append(f.setCalls, state)
	copied := state
	f.state = &copied
	return nil
}

type fakeSeenStore struct {
	seen    map[string]storage.SeenArticle
	inserts int
}

func (f *fakeSeenStore) MarkArticleSeen(ctx context.Context, article storage.SeenArticle) (bool, error) {
	if f.seen == nil {
		f.seen = make(map[string]storage.SeenArticle)
	}
	f.inserts++
	if _, ok := f.seen[article.Identity]; ok {
		return false, nil
	}
	f.seen[article.Identity] = article
	return true, nil
}
func (f *fakeSeenStore) ListRecentArticles(ctx context.Context, limit int) ([]storage.SeenArticle, error) {
	return nil, nil
}

type fakePrefStore struct {
	prefs []storage.AlertPreference
}

func (f *fakePrefStore) ListPreferences(ctx context.Context) ([]storage.AlertPreference, error) {
	return f.prefs, nil
}

type fakeTokenStore struct {
	tokens      []storage.PushToken
	deactivated []string
}

func (f *fakeTokenStore) ListActiveTokens(ctx context.Context) ([]storage.PushToken, error) {
	return f.tokens, nil
}
func (f *fakeTokenStore) DeactivateToken(ctx context.Context, token string) error {
	f.deactivated = append(f.deactivated, token)
	return nil
}

type fakeDispatcher struct {
	batches [][]push.Message
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, messages []push.Message) push.Summary {
	f.batches = append(f.batches, messages)
	return push.Summary{Sent: len(messages)}
}

func (f *fakeDispatcher) total() int {
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

type staticQuoteFetcher struct {
	quote indicators.Quote
}

func (s *staticQuoteFetcher) FetchQuote(ctx context.Context) (indicators.Quote, error) {
	return s.quote, nil
}

type staticFeedFetcher struct {
	articles []news.Article
}

func (s *staticFeedFetcher) FetchArticles(ctx context.Context) ([]news.Article, error) {
	return s.articles, nil
}

type harness struct {
	svc        *Service
	quotes     *fakeQuoteStore
	state      *fakeStateStore
	seen       *fakeSeenStore
	prefs      *fakePrefStore
	tokens     *fakeTokenStore
	dispatcher *fakeDispatcher
}

func newHarness(t *testing.T, quote indicators.Quote, articles []news.Article) *harness {
	t.Helper()

	h := &harness{
		quotes:     &fakeQuoteStore{},
		state:      &fakeStateStore{},
		seen:       &fakeSeenStore{},
		prefs:      &fakePrefStore{},
		tokens:     &fakeTokenStore{},
		dispatcher: &fakeDispatcher{},
	}

	cfg := &config.Config{}
	cfg.Alerting.DefaultPctThreshold = 0.01
	cfg.Alerting.Cooldown = 30 * time.Minute

	stores := Stores{
		Quotes:      h.quotes,
		State:       h.state,
		Seen:        h.seen,
		Preferences: h.prefs,
		Tokens:      h.tokens,
	}

	h.svc = New(cfg, &staticQuoteFetcher{quote: quote}, &staticFeedFetcher{articles: articles}, stores, h.dispatcher, zerolog.Nop())
	return h
}

func quoteOf(usd, eur, uf string) indicators.Quote {
	return indicators.Quote{
		USD:        decimal.RequireFromString(usd),
		EUR:        decimal.RequireFromString(eur),
		UF:         decimal.RequireFromString(uf),
		CapturedAt: time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC),
	}
}

func baseline(usd, eur, uf string) *storage.IndicatorState {
	return &storage.IndicatorState{
		USD: decimal.RequireFromString(usd),
		EUR: decimal.RequireFromString(eur),
		UF:  decimal.RequireFromString(uf),
	}
}

func subscriber(userID string) storage.AlertPreference {
	return storage.AlertPreference{UserID: userID, Timezone: "UTC"}
}

func token(userID, value string) storage.PushToken {
	return storage.PushToken{UserID: userID, Token: value, Platform: "ios"}
}

func fixedNoon(h *harness) {
	h.svc.now = func() time.Time {
		return time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	}
}

func TestFirstRunSeedsStateWithoutNotifying(t *testing.T) {
	h := newHarness(t, quoteOf("900", "1000", "37000"), nil)
	h.prefs.prefs = []storage.AlertPreference{subscriber("u1")}
	h.tokens.tokens = []storage.PushToken{token("u1", "ExponentPushToken[a]")}

	if err := h.svc.RunRatesCycle(context.Background()); err != nil {
		t.Fatalf("cycle should succeed: %v", err)
	}

	if h.dispatcher.total() != 0 {
		t.Fatal("first run must never notify")
	}
	if len(h.quotes.inserted) != 1 {
		t.Fatalf("first run must store the snapshot, got %d", len(h.quotes.inserted))
	}
	if h.state.state == nil || h.state.state.NotifiedAt != nil {
		t.Fatalf("seeded state should have nil NotifiedAt: %+v", h.state.state)
	}
}

func TestPercentageThresholdCrossing(t *testing.T) {
	// 900 -> 909 is exactly 1.0%; crosses the default threshold.
	h := newHarness(t, quoteOf("909", "1000", "37000"), nil)
	h.state.state = baseline("900", "1000", "37000")
	h.prefs.prefs = []storage.AlertPreference{subscriber("u1")}
	h.tokens.tokens = []storage.PushToken{token("u1", "ExponentPushToken[a]")}
	fixedNoon(h)

	if err := h.svc.RunRatesCycle(context.Background()); err != nil {
		t.Fatalf("cycle should succeed: %v", err)
	}
	if h.dispatcher.total() != 1 {
		t.Fatalf("1.0%% change should notify once, got %d", h.dispatcher.total())
	}
	if h.state.state.NotifiedAt == nil {
		t.Fatal("a dispatching cycle must advance NotifiedAt")
	}
}

func TestPercentageThresholdNotCrossed(t *testing.T) {
	// 900 -> 908 is 0.89%; below the 1% default.
	h := newHarness(t, quoteOf("908", "1000", "37000"), nil)
	h.state.state = baseline("900", "1000", "37000")
	h.prefs.prefs = []storage.AlertPreference{subscriber("u1")}
	h.tokens.tokens = []storage.PushToken{token("u1", "ExponentPushToken[a]")}
	fixedNoon(h)

	if err := h.svc.RunRatesCycle(context.Background()); err != nil {
		t.Fatalf("cycle should succeed: %v", err)
	}
	if h.dispatcher.total() != 0 {
		t.Fatal("0.89% change must not notify")
	}
	if h.state.state.NotifiedAt != nil {
		t.Fatal("a non-dispatching cycle must not advance NotifiedAt")
	}
	if len(h.quotes.inserted) != 1 {
		t.Fatal("the snapshot is stored regardless of crossings")
	}
	if h.state.state.USD.Cmp(decimal.RequireFromString("908")) != 0 {
		t.Fatal("baseline values must update unconditionally")
	}
}

func TestAbsoluteThresholdTakesPrecedence(t *testing.T) {
	// delta 4 against an explicit absolute threshold of 5: no crossing,
	// and the percentage rule is not consulted for that indicator.
	abs := decimal.NewFromInt(5)
	pref := subscriber("u1")
	pref.USDThreshold = &abs

	h := newHarness(t, quoteOf("904", "1000", "37000"), nil)
	h.state.state = baseline("900", "1000", "37000")
	h.prefs.prefs = []storage.AlertPreference{pref}
	h.tokens.tokens = []storage.PushToken{token("u1", "ExponentPushToken[a]")}
	fixedNoon(h)

	if err := h.svc.RunRatesCycle(context.Background()); err != nil {
		t.Fatalf("cycle should succeed: %v", err)
	}
	if h.dispatcher.total() != 0 {
		t.Fatal("delta 4 must not cross an absolute threshold of 5")
	}
}

func TestAbsoluteThresholdCrossing(t *testing.T) {
	abs := decimal.NewFromInt(5)
	pref := subscriber("u1")
	pref.USDThreshold = &abs

	h := newHarness(t, quoteOf("906", "1000", "37000"), nil)
	h.state.state = baseline("900", "1000", "37000")
	h.prefs.prefs = []storage.AlertPreference{pref}
	h.tokens.tokens = []storage.PushToken{token("u1", "ExponentPushToken[a]")}
	fixedNoon(h)

	if err := h.svc.RunRatesCycle(context.Background()); err != nil {
		t.Fatalf("cycle should succeed: %v", err)
	}
	if h.dispatcher.total() != 1 {
		t.Fatalf("delta 6 must cross an absolute threshold of 5, got %d", h.dispatcher.total())
	}
}

func TestSubscriberPctThresholdIsFraction(t *testing.T) {
	// A stored 0.01 means 1% of the baseline, not 0.01%.
	frac := decimal.RequireFromString("0.01")
	pref := subscriber("u1")
	pref.PctThreshold = &frac

	h := newHarness(t, quoteOf("908", "1000", "37000"), nil)
	h.state.state = baseline("900", "1000", "37000")
	h.prefs.prefs = []storage.AlertPreference{pref}
	h.tokens.tokens = []storage.PushToken{token("u1", "ExponentPushToken[a]")}
	fixedNoon(h)

	if err := h.svc.RunRatesCycle(context.Background()); err != nil {
		t.Fatalf("cycle should succeed: %v", err)
	}
	if h.dispatcher.total() != 0 {
		t.Fatal("0.89% change must not cross a 0.01 fraction threshold")
	}

	h = newHarness(t, quoteOf("909", "1000", "37000"), nil)
	h.state.state = baseline("900", "1000", "37000")
	h.prefs.prefs = []storage.AlertPreference{pref}
	h.tokens.tokens = []storage.PushToken{token("u1", "ExponentPushToken[a]")}
	fixedNoon(h)

	if err := h.svc.RunRatesCycle(context.Background()); err != nil {
		t.Fatalf("cycle should succeed: %v", err)
	}
	if h.dispatcher.total() != 1 {
		t.Fatalf("1.0%% change must cross a 0.01 fraction threshold, got %d", h.dispatcher.total())
	}
}

func TestZeroBaselineAlwaysCrosses(t *testing.T) {
	h := newHarness(t, quoteOf("1", "1000", "37000"), nil)
	h.state.state = baseline("0", "1000", "37000")
	h.prefs.prefs = []storage.AlertPreference{subscriber("u1")}
	h.tokens.tokens = []storage.PushToken{token("u1", "ExponentPushToken[a]")}
	fixedNoon(h)

	if err := h.svc.RunRatesCycle(context.Background()); err != nil {
		t.Fatalf("zero baseline must not error: %v", err)
	}
	if h.dispatcher.total() != 1 {
		t.Fatal("any nonzero change over a zero baseline must cross")
	}
}

func TestQuietHoursSuppression(t *testing.T) {
	pref := subscriber("u1")
	pref.QuietStart = "22:00"
	pref.QuietEnd = "07:00"

	h := newHarness(t, quoteOf("950", "1000", "37000"), nil)
	h.state.state = baseline("900", "1000", "37000")
	h.prefs.prefs = []storage.AlertPreference{pref}
	h.tokens.tokens = []storage.PushToken{token("u1", "ExponentPushToken[a]")}

	// 23:00 local: inside the overnight window.
	h.svc.now = func() time.Time {
		return time.Date(2026, 8, 27, 23, 0, 0, 0, time.UTC)
	}
	if err := h.svc.RunRatesCycle(context.Background()); err != nil {
		t.Fatalf("cycle should succeed: %v", err)
	}
	if h.dispatcher.total() != 0 {
		t.Fatal("a crossing at 23:00 inside quiet hours must be suppressed")
	}

	// Same crossing at noon notifies.
	fixedNoon(h)
	h.state.state = baseline("900", "1000", "37000")
	if err := h.svc.RunRatesCycle(context.Background()); err != nil {
		t.Fatalf("cycle should succeed: %v", err)
	}
	if h.dispatcher.total() != 1 {
		t.Fatalf("the same crossing at 12:00 must notify, got %d", h.dispatcher.total())
	}
}

func TestQuietHoursDisabledWhenStartEqualsEnd(t *testing.T) {
	pref := subscriber("u1")
	pref.QuietStart = "08:00"
	pref.QuietEnd = "08:00"

	if inQuietHours(pref, time.Date(2026, 8, 27, 8, 30, 0, 0, time.UTC)) {
		t.Fatal("equal start and end must disable quiet hours")
	}
}

func TestCooldownSuppressesSecondCrossing(t *testing.T) {
	h := newHarness(t, quoteOf("950", "1000", "37000"), nil)
	state := baseline("900", "1000", "37000")
	fiveAgo := time.Date(2026, 8, 27, 11, 55, 0, 0, time.UTC)
	state.NotifiedAt = &fiveAgo
	h.state.state = state
	h.prefs.prefs = []storage.AlertPreference{subscriber("u1")}
	h.tokens.tokens = []storage.PushToken{token("u1", "ExponentPushToken[a]")}
	fixedNoon(h)

	if err := h.svc.RunRatesCycle(context.Background()); err != nil {
		t.Fatalf("cycle should succeed: %v", err)
	}
	if h.dispatcher.total() != 0 {
		t.Fatal("a crossing 5 minutes after a notify must be suppressed by the 30m cooldown")
	}
	if len(h.quotes.inserted) != 1 {
		t.Fatal("the snapshot is still stored during cooldown")
	}
	if h.state.state.NotifiedAt == nil || !h.state.state.NotifiedAt.Equal(fiveAgo) {
		t.Fatal("cooldown must preserve the previous NotifiedAt")
	}
}

func TestCombinedMessagePerSubscriber(t *testing.T) {
	// Two indicators cross: still one message per token.
	h := newHarness(t, quoteOf("950", "1100", "37000"), nil)
	h.state.state = baseline("900", "1000", "37000")
	h.prefs.prefs = []storage.AlertPreference{subscriber("u1")}
	h.tokens.tokens = []storage.PushToken{
		token("u1", "ExponentPushToken[a]"),
		token("u1", "ExponentPushToken[b]"),
	}
	fixedNoon(h)

	if err := h.svc.RunRatesCycle(context.Background()); err != nil {
		t.Fatalf("cycle should succeed: %v", err)
	}
	if h.dispatcher.total() != 2 {
		t.Fatalf("expected one combined message per token, got %d", h.dispatcher.total())
	}
	body := h.dispatcher.batches[0][0].Body
	if !containsAll(body, "USD", "EUR") {
		t.Fatalf("body should summarise both crossings: %q", body)
	}
	if containsAll(body, "UF") {
		t.Fatalf("uncrossed indicator should not appear: %q", body)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}

func TestParseClock(t *testing.T) {
	if m, ok := parseClock("22:30"); !ok || m != 22*60+30 {
		t.Fatalf("parseClock(22:30) = %d, %v", m, ok)
	}
	if _, ok := parseClock("25:00"); ok {
		t.Fatal("hour 25 should be rejected")
	}
	if _, ok := parseClock(""); ok {
		t.Fatal("empty clock should be rejected")
	}
}
