// Package registry asks the registry service to fetch message bodies.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	enqueuePath     = "/api/fedresurs/enqueue/message-tables"
	callbackPath    = "/api/efrsb-message/callback"
	defaultTimeout  = 30 * time.Second
	maxErrorBodyLen = 2048
)

var (
	// ErrNotConfigured reports a missing base URL or API key.
	ErrNotConfigured = errors.New("registry client is not configured")
	// ErrNoMessages reports an empty batch.
	ErrNoMessages = errors.New("no messages to request")
	// ErrRejected reports a response that did not confirm the batch.
	ErrRejected = errors.New("registry rejected the request")
)

// Message identifies a registry message whose body is requested.
type Message struct {
	MessageID   int64  `json:"message_id"`
	MessageUUID string `json:"message_uuid"`
}

// Result is the decoded response of an accepted batch.
type Result struct {
	Success bool           `json:"success"`
	Fields  map[string]any `json:"-"`
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("registry: status %d: %s", e.Status, e.Body)
}

// Config holds the client's endpoints and credentials.
type Config struct {
	BaseURL string
	APIKey  string
	// AppURL is this service's public URL used to build the callback address.
	AppURL  string
	Timeout time.Duration
}

// Client posts batch body requests authenticated with a bearer key.
type Client struct {
	http        *http.Client
	endpoint    string
	callbackURL string
	configured  bool
}

type enqueueRequest struct {
	Messages             []Message `json:"messages"`
	MeetingApplicationID int64     `json:"meeting_application_id,omitempty"`
	CallbackURL          string    `json:"callback_url,omitempty"`
}

// NewClient builds a client. base may be nil.
func NewClient(ctx context.Context, cfg Config, base *http.Client) *Client {
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIKey, TokenType: "Bearer"})
	httpClient := oauth2.NewClient(ctx, src)
	httpClient.Timeout = cfg.Timeout
	if httpClient.Timeout <= 0 {
		httpClient.Timeout = defaultTimeout
	}

	c := &Client{
		http:       httpClient,
		configured: strings.TrimSpace(cfg.BaseURL) != "" && strings.TrimSpace(cfg.APIKey) != "",
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + enqueuePath,
	}
	if appURL := strings.TrimRight(strings.TrimSpace(cfg.AppURL), "/"); appURL != "" {
		c.callbackURL = appURL + callbackPath
	}
	return c
}

// RequestBodies sends one batch. The registry calls back per message once
// the body is stored or fails.
func (c *Client) RequestBodies(ctx context.Context, messages []Message, applicationID int64) (Result, error) {
	if len(messages) == 0 {
		return Result{}, ErrNoMessages
	}
	if !c.configured {
		return Result{}, ErrNotConfigured
	}

	payload := enqueueRequest{Messages: messages}
	if applicationID > 0 {
		payload.MeetingApplicationID = applicationID
		payload.CallbackURL = c.callbackURL
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("post message tables: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		text := string(raw)
		if len(text) > maxErrorBodyLen {
			text = text[:maxErrorBodyLen]
		}
		return Result{}, &StatusError{Status: resp.StatusCode, Body: text}
	}

	var res Result
	if err := json.Unmarshal(raw, &res.Fields); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	res.Success, _ = res.Fields["success"].(bool)
	if !res.Success {
		return res, ErrRejected
	}
	return res, nil
}
