package news

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Article is one feed item with a stable identity suitable for the seen-set.
type Article struct {
	Identity    string
	Title       string
	URL         string
	Source      string
	PublishedAt *time.Time
}

// FeedFetcher retrieves the most recent articles from the news feed.
type FeedFetcher interface {
	FetchArticles(ctx context.Context) ([]Article, error)
}

// FeedOptions parameterise the feed client.
type FeedOptions struct {
	FeedURL     string
	SourceLabel string
	MaxItems    int
	Timeout     time.Duration
	UserAgent   string
}

// Feed fetches and parses an RSS finance news feed.
type Feed struct {
	opts   FeedOptions
	logger zerolog.Logger
	client *http.Client
}

// NewFeed constructs a feed client.
func NewFeed(opts FeedOptions, logger zerolog.Logger) *Feed {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = 15
	}

	return &Feed{
		opts:   opts,
		logger: logger.With().Str("component", "news_feed").Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

// FetchArticles downloads the feed and returns up to MaxItems articles in
// feed order (newest first as provided by the source). Items without a link
// are discarded before identity computation.
func (f *Feed) FetchArticles(ctx context.Context) ([]Article, error) {
	if f.opts.FeedURL == "" {
		return nil, fmt.Errorf("news feed url not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.opts.FeedURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/rss+xml, application/xml, text/xml")
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed error (%d)", resp.StatusCode)
	}

	items, err := parseFeed(payload)
	if err != nil {
		return nil, err
	}

	articles := make([]Article, 0, f.opts.MaxItems)
	for _, item := range items {
		if len(articles) >= f.opts.MaxItems {
			break
		}

		link := strings.TrimSpace(item.Link)
		if link == "" {
			continue
		}

		article := Article{
			Identity: deriveIdentity(item),
			Title:    strings.TrimSpace(item.Title),
			URL:      link,
			Source:   f.sourceLabel(item),
		}
		if published, ok := parsePublished(item.PubDate); ok {
			article.PublishedAt = &published
		}
		articles = append(articles, article)
	}

	return articles, nil
}

func (f *Feed) sourceLabel(item rssItem) string {
	if creator := strings.TrimSpace(item.Creator); creator != "" {
		return creator
	}
	if f.opts.SourceLabel != "" {
		return f.opts.SourceLabel
	}
	return "Mercados"
}

// rssItem mirrors the subset of RSS 2.0 the feed source emits.
type rssItem struct {
	GUID    string `xml:"guid"`
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	PubDate string `xml:"pubDate"`
	Creator string `xml:"creator"`
}

type rssDocument struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

func parseFeed(payload []byte) ([]rssItem, error) {
	var doc rssDocument
	if err := xml.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	return doc.Channel.Items, nil
}

// deriveIdentity prefers the provider guid, falls back to the link, and as a
// last resort hashes date+title so the identity stays stable across polls.
func deriveIdentity(item rssItem) string {
	if guid := strings.TrimSpace(item.GUID); guid != "" {
		return guid
	}
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	sum := sha1.Sum([]byte(item.PubDate + "|" + item.Title))
	return hex.EncodeToString(sum[:])
}

func parsePublished(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

var _ FeedFetcher = (*Feed)(nil)
