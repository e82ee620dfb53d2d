package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the device client configuration
type Config struct {
	BaseURL    string
	FeedPath   string
	Timeout    time.Duration
	HTTPClient *http.Client // optional, overrides Timeout
}

// Client talks to the lockbox HTTP service. It is safe for concurrent use.
type Client struct {
	baseURL  string
	feedPath string
	http     *http.Client
	logger   zerolog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewClient creates a new device client
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	feedPath := cfg.FeedPath
	if feedPath == "" {
		feedPath = "/ws"
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		feedPath: feedPath,
		http:     hc,
		logger:   logger.With().Str("component", "device").Logger(),
		inflight: make(map[string]struct{}),
	}
}

// commandResponse is the generic {success, message} envelope the device
// answers command endpoints with.
type commandResponse struct {
	Success bool   `json:"success"`
	Penalty int    `json:"penalty"`
	Message string `json:"message"`
}

// FetchStatusRaw returns the undecoded /api/status body.
func (c *Client) FetchStatusRaw(ctx context.Context) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/status", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status request failed: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read status body: %w", err)
	}
	return body, nil
}

// FetchStatus fetches and decodes the current device status.
func (c *Client) FetchStatus(ctx context.Context) (Status, error) {
	issued := time.Now()
	body, err := c.FetchStatusRaw(ctx)
	if err != nil {
		return Status{}, err
	}
	return ParseStatus(body, issued)
}

// IssueOverride requests an emergency override for sessionID. A nil penalty
// leaves the penalty to the device. A second call for the same session while
// the first is outstanding fails immediately with ReasonDuplicate.
func (c *Client) IssueOverride(ctx context.Context, sessionID string, penalty *int) (OverrideResult, error) {
	const op = "issue override"

	c.mu.Lock()
	if _, busy := c.inflight[sessionID]; busy {
		c.mu.Unlock()
		c.logger.Warn().Str("session", sessionID).Msg("Rejected duplicate override submission")
		return OverrideResult{}, &CommandError{Op: op, Reason: ReasonDuplicate}
	}
	c.inflight[sessionID] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, sessionID)
		c.mu.Unlock()
	}()

	payload := struct {
		SessionID string `json:"sessionId"`
		Penalty   *int   `json:"penalty,omitempty"`
	}{sessionID, penalty}

	var out commandResponse
	if err := c.command(ctx, op, "/api/emergency", payload, &out); err != nil {
		return OverrideResult{}, err
	}

	c.logger.Info().
		Str("session", sessionID).
		Int("penalty", out.Penalty).
		Msg("Override granted")

	return OverrideResult{PenaltyMinutes: out.Penalty, Message: out.Message}, nil
}

// Unlock issues a plain unlock.
func (c *Client) Unlock(ctx context.Context) (string, error) {
	var out commandResponse
	if err := c.command(ctx, "unlock", "/api/unlock", nil, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// OverrideSettings reads the device-held override settings.
func (c *Client) OverrideSettings(ctx context.Context) (OverrideSettings, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/ai/config", nil)
	if err != nil {
		return OverrideSettings{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return OverrideSettings{}, fmt.Errorf("settings request failed: %s", resp.Status)
	}

	var settings OverrideSettings
	if err := json.NewDecoder(resp.Body).Decode(&settings); err != nil {
		return OverrideSettings{}, fmt.Errorf("decode settings: %w", err)
	}
	return settings, nil
}

// SaveOverrideSettings writes the device-held override settings.
func (c *Client) SaveOverrideSettings(ctx context.Context, settings OverrideSettings) error {
	var out commandResponse
	return c.command(ctx, "save settings", "/api/ai/config", settings, &out)
}

// command POSTs body to path and maps the reply onto a CommandError.
func (c *Client) command(ctx context.Context, op, path string, body any, out *commandResponse) error {
	resp, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return &CommandError{Op: op, Reason: ReasonTransport, Err: err}
	}
	defer resp.Body.Close()

	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(out)

	switch {
	case resp.StatusCode >= 500:
		return &CommandError{Op: op, Reason: ReasonTransport, Message: resp.Status}
	case resp.StatusCode == http.StatusForbidden:
		return &CommandError{Op: op, Reason: ReasonNetworkBlocked, Message: out.Message}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &CommandError{Op: op, Reason: ReasonLimitReached, Message: out.Message}
	case resp.StatusCode >= 300:
		return &CommandError{Op: op, Reason: ReasonRejected, Message: resp.Status}
	}

	if decodeErr != nil {
		return &CommandError{Op: op, Reason: ReasonTransport, Err: fmt.Errorf("decode response: %w", decodeErr)}
	}
	if !out.Success {
		return &CommandError{Op: op, Reason: classifyRejection(out.Message), Message: out.Message}
	}
	return nil
}

// classifyRejection maps the device's refusal message onto a reason. The
// firmware answers refusals with HTTP 200 and success=false.
func classifyRejection(message string) Reason {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "limit"):
		return ReasonLimitReached
	case strings.Contains(lower, "network"):
		return ReasonNetworkBlocked
	default:
		return ReasonRejected
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}
