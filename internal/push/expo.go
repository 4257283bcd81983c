package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	sendPath     = "/push/send"
	receiptsPath = "/push/getReceipts"
)

// ExpoOptions parameterise the Expo push client.
type ExpoOptions struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
}

// ExpoClient talks to the Expo push HTTP API.
type ExpoClient struct {
	opts    ExpoOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewExpoClient constructs an Expo push gateway client.
func NewExpoClient(opts ExpoOptions, logger zerolog.Logger) *ExpoClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://exp.host/--/api/v2"
	}

	return &ExpoClient{
		opts:    opts,
		logger:  logger.With().Str("component", "expo_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// ValidateToken reports whether a token matches the Expo push token format.
func (e *ExpoClient) ValidateToken(token string) bool {
	if !strings.HasSuffix(token, "]") {
		return false
	}
	return strings.HasPrefix(token, "ExponentPushToken[") || strings.HasPrefix(token, "ExpoPushToken[")
}

type expoMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title,omitempty"`
	Body  string            `json:"body,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
	Sound string            `json:"sound,omitempty"`
}

type expoTicket struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Details struct {
		Error string `json:"error"`
	} `json:"details"`
}

type sendResponse struct {
	Data []expoTicket `json:"data"`
}

// Send pushes one batch of messages and returns a ticket per message, in
// message order.
func (e *ExpoClient) Send(ctx context.Context, messages []Message) ([]Ticket, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	payload := make([]expoMessage, 0, len(messages))
	for _, msg := range messages {
		payload = append(payload, expoMessage{
			To:    msg.Token,
			Title: msg.Title,
			Body:  msg.Body,
			Data:  msg.Data,
			Sound: "default",
		})
	}

	var res sendResponse
	if err := e.post(ctx, sendPath, payload, &res); err != nil {
		return nil, err
	}

	if len(res.Data) != len(messages) {
		return nil, fmt.Errorf("expo returned %d tickets for %d messages", len(res.Data), len(messages))
	}

	tickets := make([]Ticket, 0, len(res.Data))
	for _, t := range res.Data {
		detail := t.Details.Error
		if detail == "" && t.Status != StatusOK {
			detail = t.Message
		}
		tickets = append(tickets, Ticket{ID: t.ID, Status: t.Status, Detail: detail})
	}
	return tickets, nil
}

type receiptsRequest struct {
	IDs []string `json:"ids"`
}

type receiptsResponse struct {
	Data map[string]expoTicket `json:"data"`
}

// Receipts queries delivery receipts for previously returned ticket ids.
// Receipts not yet available are simply absent from the result.
func (e *ExpoClient) Receipts(ctx context.Context, ids []string) (map[string]Receipt, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var res receiptsResponse
	if err := e.post(ctx, receiptsPath, receiptsRequest{IDs: ids}, &res); err != nil {
		return nil, err
	}

	receipts := make(map[string]Receipt, len(res.Data))
	for id, r := range res.Data {
		detail := r.Details.Error
		if detail == "" && r.Status != StatusOK {
			detail = r.Message
		}
		receipts[id] = Receipt{Status: r.Status, Detail: detail}
	}
	return receipts, nil
}

func (e *ExpoClient) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if e.opts.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+e.opts.AccessToken)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("send push request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("expo api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode expo response: %w", err)
	}
	return nil
}

var _ Gateway = (*ExpoClient)(nil)
