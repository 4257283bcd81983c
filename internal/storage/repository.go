package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertQuoteSQL = `INSERT INTO quote_snapshots (
        usd_clp,
        eur_clp,
        uf_clp,
        captured_at
    ) VALUES ($1,$2,$3,$4);`

	latestQuoteSQL = `SELECT
        id, usd_clp, eur_clp, uf_clp, captured_at, created_at
    FROM quote_snapshots
    ORDER BY captured_at DESC
    LIMIT 1;`

	listQuotesBetweenSQL = `SELECT
        id, usd_clp, eur_clp, uf_clp, captured_at, created_at
    FROM quote_snapshots
    WHERE captured_at >= $1
      AND captured_at < $2
    ORDER BY captured_at;`

	listRecentQuotesSQL = `SELECT
        id, usd_clp, eur_clp, uf_clp, captured_at, created_at
    FROM quote_snapshots
    ORDER BY captured_at DESC
    LIMIT $1;`

	countQuotesSQL = `SELECT COUNT(*) FROM quote_snapshots;`

	getIndicatorStateSQL = `SELECT
        usd_clp, eur_clp, uf_clp, notified_at, updated_at
    FROM indicator_state
    WHERE id = 1;`

	setIndicatorStateSQL = `INSERT INTO indicator_state (
        id, usd_clp, eur_clp, uf_clp, notified_at, updated_at
    ) VALUES (
        1, $1, $2, $3, $4, NOW()
    )
    ON CONFLICT (id) DO UPDATE
    SET usd_clp     = EXCLUDED.usd_clp,
        eur_clp     = EXCLUDED.eur_clp,
        uf_clp      = EXCLUDED.uf_clp,
        notified_at = EXCLUDED.notified_at,
        updated_at  = NOW();`

	markArticleSeenSQL = `INSERT INTO seen_articles (
        identity, title, url, source, published_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (identity) DO NOTHING;`

	listRecentArticlesSQL = `SELECT
        identity, title, url, source, published_at, created_at
    FROM seen_articles
    ORDER BY created_at DESC
    LIMIT $1;`

	listPreferencesSQL = `SELECT
        user_id,
        usd_threshold,
        eur_threshold,
        uf_threshold,
        pct_threshold,
        quiet_start,
        quiet_end,
        timezone
    FROM alert_preferences;`

	listActiveTokensSQL = `SELECT user_id, token, platform
    FROM push_tokens
    WHERE active = TRUE;`

	deactivateTokenSQL = `UPDATE push_tokens
    SET active = FALSE
    WHERE token = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// QuoteStore defines persistence for the append-only quote snapshot log.
type QuoteStore interface {
	InsertQuote(ctx context.Context, snapshot QuoteSnapshot) error
	LatestQuote(ctx context.Context) (*QuoteSnapshot, error)
	ListQuotesBetween(ctx context.Context, from, to time.Time) ([]QuoteSnapshot, error)
	ListRecentQuotes(ctx context.Context, limit int) ([]QuoteSnapshot, error)
	CountQuotes(ctx context.Context) (int64, error)
}

// StateStore holds the singleton change-detection baseline. The single-row
// constraint lives here, not in the callers.
type StateStore interface {
	GetIndicatorState(ctx context.Context) (*IndicatorState, error)
	SetIndicatorState(ctx context.Context, state IndicatorState) error
}

// SeenArticleStore is the news deduplication gate.
type SeenArticleStore interface {
	MarkArticleSeen(ctx context.Context, article SeenArticle) (wasNew bool, err error)
	ListRecentArticles(ctx context.Context, limit int) ([]SeenArticle, error)
}

// PreferenceStore reads subscriber alert preferences. Read-only here; the
// settings surface owns writes.
type PreferenceStore interface {
	ListPreferences(ctx context.Context) ([]AlertPreference, error)
}

// TokenStore reads active device tokens and deactivates dead ones.
type TokenStore interface {
	ListActiveTokens(ctx context.Context) ([]PushToken, error)
	DeactivateToken(ctx context.Context, token string) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to all poller persistence.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ QuoteStore       = (*Store)(nil)
	_ StateStore       = (*Store)(nil)
	_ SeenArticleStore = (*Store)(nil)
	_ PreferenceStore  = (*Store)(nil)
	_ TokenStore       = (*Store)(nil)
	_ AdvisoryLocker   = (*Store)(nil)
)

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

// InsertQuote appends a quote snapshot.
func (s *Store) InsertQuote(ctx context.Context, snapshot QuoteSnapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertQuoteSQL,
		snapshot.USD.String(),
		snapshot.EUR.String(),
		snapshot.UF.String(),
		snapshot.CapturedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert quote snapshot: %w", execErr)
	}
	return nil
}

// LatestQuote returns the most recent snapshot by capture time, or nil when
// the log is empty.
func (s *Store) LatestQuote(ctx context.Context) (*QuoteSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, latestQuoteSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("latest quote: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	snapshot, scanErr := scanQuoteSnapshot(rows)
	if scanErr != nil {
		return nil, scanErr
	}
	return &snapshot, rows.Err()
}

// ListQuotesBetween lists snapshots within a time window.
func (s *Store) ListQuotesBetween(ctx context.Context, from, to time.Time) ([]QuoteSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listQuotesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list quotes between: %w", queryErr)
	}
	defer rows.Close()

	snapshots := make([]QuoteSnapshot, 0)
	for rows.Next() {
		snapshot, scanErr := scanQuoteSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snapshots = append(snapshots, snapshot)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

// ListRecentQuotes lists the most recent snapshots ordered by descending capture time.
func (s *Store) ListRecentQuotes(ctx context.Context, limit int) ([]QuoteSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentQuotesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent quotes: %w", queryErr)
	}
	defer rows.Close()

	snapshots := make([]QuoteSnapshot, 0, limit)
	for rows.Next() {
		snapshot, scanErr := scanQuoteSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snapshots = append(snapshots, snapshot)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

// CountQuotes counts stored snapshots.
func (s *Store) CountQuotes(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countQuotesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count quotes: %w", scanErr)
	}
	return count, nil
}

// GetIndicatorState loads the singleton baseline record, or nil on first run.
func (s *Store) GetIndicatorState(ctx context.Context) (*IndicatorState, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var (
		usdStr, eurStr, ufStr string
		notifiedAt            sql.NullTime
		updatedAt             time.Time
	)
	row := pool.QueryRow(ctx, getIndicatorStateSQL)
	if scanErr := row.Scan(&usdStr, &eurStr, &ufStr, &notifiedAt, &updatedAt); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get indicator state: %w", scanErr)
	}

	state := IndicatorState{UpdatedAt: updatedAt}
	var convErr error
	if state.USD, convErr = decimal.NewFromString(usdStr); convErr != nil {
		return nil, fmt.Errorf("parse state usd: %w", convErr)
	}
	if state.EUR, convErr = decimal.NewFromString(eurStr); convErr != nil {
		return nil, fmt.Errorf("parse state eur: %w", convErr)
	}
	if state.UF, convErr = decimal.NewFromString(ufStr); convErr != nil {
		return nil, fmt.Errorf("parse state uf: %w", convErr)
	}
	if notifiedAt.Valid {
		t := notifiedAt.Time
		state.NotifiedAt = &t
	}
	return &state, nil
}

// SetIndicatorState upserts the singleton baseline record (row id fixed to 1).
func (s *Store) SetIndicatorState(ctx context.Context, state IndicatorState) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var notifiedAt interface{}
	if state.NotifiedAt != nil {
		notifiedAt = *state.NotifiedAt
	}

	if _, execErr := pool.Exec(ctx, setIndicatorStateSQL,
		state.USD.String(),
		state.EUR.String(),
		state.UF.String(),
		notifiedAt,
	); execErr != nil {
		return fmt.Errorf("set indicator state: %w", execErr)
	}
	return nil
}

// MarkArticleSeen inserts the article identity; a uniqueness conflict means
// the article was already processed and reports wasNew=false, not an error.
func (s *Store) MarkArticleSeen(ctx context.Context, article SeenArticle) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	var publishedAt interface{}
	if article.PublishedAt != nil {
		publishedAt = *article.PublishedAt
	}

	cmdTag, execErr := pool.Exec(ctx, markArticleSeenSQL,
		article.Identity,
		article.Title,
		article.URL,
		article.Source,
		publishedAt,
	)
	if execErr != nil {
		return false, fmt.Errorf("mark article seen: %w", execErr)
	}
	return cmdTag.RowsAffected() > 0, nil
}

// ListRecentArticles lists the most recently recorded articles.
func (s *Store) ListRecentArticles(ctx context.Context, limit int) ([]SeenArticle, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentArticlesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent articles: %w", queryErr)
	}
	defer rows.Close()

	articles := make([]SeenArticle, 0, limit)
	for rows.Next() {
		var (
			article     SeenArticle
			publishedAt sql.NullTime
		)
		if err := rows.Scan(
			&article.Identity,
			&article.Title,
			&article.URL,
			&article.Source,
			&publishedAt,
			&article.CreatedAt,
		); err != nil {
			return nil, err
		}
		if publishedAt.Valid {
			t := publishedAt.Time
			article.PublishedAt = &t
		}
		articles = append(articles, article)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return articles, nil
}

// ListPreferences loads all subscriber alert preferences.
func (s *Store) ListPreferences(ctx context.Context) ([]AlertPreference, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPreferencesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list preferences: %w", queryErr)
	}
	defer rows.Close()

	prefs := make([]AlertPreference, 0)
	for rows.Next() {
		var (
			pref                       AlertPreference
			usdStr, eurStr, ufStr      sql.NullString
			pctStr                     sql.NullString
			quietStart, quietEnd, zone sql.NullString
		)
		if err := rows.Scan(
			&pref.UserID,
			&usdStr,
			&eurStr,
			&ufStr,
			&pctStr,
			&quietStart,
			&quietEnd,
			&zone,
		); err != nil {
			return nil, err
		}

		var convErr error
		if pref.USDThreshold, convErr = nullDecimal(usdStr); convErr != nil {
			return nil, fmt.Errorf("parse usd threshold: %w", convErr)
		}
		if pref.EURThreshold, convErr = nullDecimal(eurStr); convErr != nil {
			return nil, fmt.Errorf("parse eur threshold: %w", convErr)
		}
		if pref.UFThreshold, convErr = nullDecimal(ufStr); convErr != nil {
			return nil, fmt.Errorf("parse uf threshold: %w", convErr)
		}
		if pref.PctThreshold, convErr = nullDecimal(pctStr); convErr != nil {
			return nil, fmt.Errorf("parse pct threshold: %w", convErr)
		}
		pref.QuietStart = quietStart.String
		pref.QuietEnd = quietEnd.String
		pref.Timezone = zone.String

		prefs = append(prefs, pref)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return prefs, nil
}

// ListActiveTokens lists device tokens eligible for broadcast.
func (s *Store) ListActiveTokens(ctx context.Context) ([]PushToken, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveTokensSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active tokens: %w", queryErr)
	}
	defer rows.Close()

	tokens := make([]PushToken, 0)
	for rows.Next() {
		var token PushToken
		if err := rows.Scan(&token.UserID, &token.Token, &token.Platform); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return tokens, nil
}

// DeactivateToken flags a token as permanently invalid.
func (s *Store) DeactivateToken(ctx context.Context, token string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deactivateTokenSQL, token); execErr != nil {
		return fmt.Errorf("deactivate token: %w", execErr)
	}
	return nil
}

func nullDecimal(v sql.NullString) (*decimal.Decimal, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func scanQuoteSnapshot(rows pgx.Rows) (QuoteSnapshot, error) {
	var (
		id                    int64
		usdStr, eurStr, ufStr string
		capturedAt            time.Time
		createdAt             time.Time
	)

	if err := rows.Scan(&id, &usdStr, &eurStr, &ufStr, &capturedAt, &createdAt); err != nil {
		return QuoteSnapshot{}, err
	}

	usd, err := decimal.NewFromString(usdStr)
	if err != nil {
		return QuoteSnapshot{}, fmt.Errorf("parse usd: %w", err)
	}
	eur, err := decimal.NewFromString(eurStr)
	if err != nil {
		return QuoteSnapshot{}, fmt.Errorf("parse eur: %w", err)
	}
	uf, err := decimal.NewFromString(ufStr)
	if err != nil {
		return QuoteSnapshot{}, fmt.Errorf("parse uf: %w", err)
	}

	return QuoteSnapshot{
		ID:         id,
		USD:        usd,
		EUR:        eur,
		UF:         uf,
		CapturedAt: capturedAt,
		CreatedAt:  createdAt,
	}, nil
}
