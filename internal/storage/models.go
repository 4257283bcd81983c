package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuoteSnapshot is one persisted indicator reading (append-only log).
type QuoteSnapshot struct {
	ID         int64
	USD        decimal.Decimal
	EUR        decimal.Decimal
	UF         decimal.Decimal
	CapturedAt time.Time
	CreatedAt  time.Time
}

// IndicatorState is the singleton baseline record used for change detection
// and cooldown gating. NotifiedAt is nil until the first dispatching cycle.
type IndicatorState struct {
	USD        decimal.Decimal
	EUR        decimal.Decimal
	UF         decimal.Decimal
	NotifiedAt *time.Time
	UpdatedAt  time.Time
}

// AlertPreference is per-user change-detection configuration. Absolute
// thresholds are optional per indicator; when absent, PctThreshold (or the
// service default) applies. PctThreshold is a fraction of the baseline
// (0.01 = 1%). Quiet hours are local to Timezone.
type AlertPreference struct {
	UserID       string
	USDThreshold *decimal.Decimal
	EURThreshold *decimal.Decimal
	UFThreshold  *decimal.Decimal
	PctThreshold *decimal.Decimal
	QuietStart   string
	QuietEnd     string
	Timezone     string
}

// SeenArticle is a persisted article identity; its uniqueness constraint is
// the news deduplication gate.
type SeenArticle struct {
	Identity    string
	Title       string
	URL         string
	Source      string
	PublishedAt *time.Time
	CreatedAt   time.Time
}

// PushToken is an active device registration for one user.
type PushToken struct {
	UserID   string
	Token    string
	Platform string
}
