package indicators

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ClientOptions parameterise the indicator source client.
type ClientOptions struct {
	BaseURL   string
	USDCode   string
	EURCode   string
	UFCode    string
	Timeout   time.Duration
	UserAgent string
}

// Client fetches indicator series from the external HTTP source.
type Client struct {
	opts    ClientOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewClient constructs an indicator source client.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://mindicador.cl/api"
	}

	if opts.USDCode == "" {
		opts.USDCode = "dolar"
	}
	if opts.EURCode == "" {
		opts.EURCode = "euro"
	}
	if opts.UFCode == "" {
		opts.UFCode = "uf"
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "indicator_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchQuote issues the three indicator requests in parallel and assembles an
// atomic Quote from the newest entry of each series. Any missing, zero, or
// non-numeric value fails the whole fetch; a partial quote is never returned.
func (c *Client) FetchQuote(ctx context.Context) (Quote, error) {
	codes := []string{c.opts.USDCode, c.opts.EURCode, c.opts.UFCode}
	values := make([]decimal.Decimal, len(codes))
	errs := make([]error, len(codes))

	var wg sync.WaitGroup
	for i, code := range codes {
		wg.Add(1)
		go func(i int, code string) {
			defer wg.Done()
			points, err := c.FetchSeries(ctx, code)
			if err != nil {
				errs[i] = err
				return
			}
			if len(points) == 0 {
				errs[i] = fmt.Errorf("indicator %s: empty series", code)
				return
			}
			values[i] = points[0].Value
		}(i, code)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return Quote{}, fmt.Errorf("fetch %s: %w", codes[i], err)
		}
		if !values[i].IsPositive() {
			return Quote{}, fmt.Errorf("indicator %s: non-positive value %s", codes[i], values[i])
		}
	}

	return Quote{
		USD:        values[0],
		EUR:        values[1],
		UF:         values[2],
		CapturedAt: time.Now().UTC(),
	}, nil
}

// FetchSeries retrieves the time series for one indicator code, newest first
// as provided by the source.
func (c *Client) FetchSeries(ctx context.Context, code string) ([]Point, error) {
	if code == "" {
		return nil, errors.New("indicator code required")
	}

	endpoint := c.baseURL + "/" + code
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "fxwatcher/1.0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("indicator api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	return parseSeries(payload)
}

// seriesResponse mirrors the external schema; nothing outside this file
// depends on its shape.
type seriesResponse struct {
	Code   string `json:"codigo"`
	Name   string `json:"nombre"`
	Unit   string `json:"unidad_medida"`
	Series []struct {
		Date  string      `json:"fecha"`
		Value json.Number `json:"valor"`
	} `json:"serie"`
}

func parseSeries(payload []byte) ([]Point, error) {
	var res seriesResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode series: %w", err)
	}

	points := make([]Point, 0, len(res.Series))
	for _, entry := range res.Series {
		value, err := decimal.NewFromString(entry.Value.String())
		if err != nil {
			return nil, fmt.Errorf("parse series value %q: %w", entry.Value, err)
		}
		date, err := time.Parse(time.RFC3339, entry.Date)
		if err != nil {
			return nil, fmt.Errorf("parse series date %q: %w", entry.Date, err)
		}
		points = append(points, Point{Date: date, Value: value})
	}

	return points, nil
}

var _ QuoteFetcher = (*Client)(nil)
var _ SeriesFetcher = (*Client)(nil)
