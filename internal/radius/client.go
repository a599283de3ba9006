package radius

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/config"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
)

const maxResponseBytes = 64 << 10

// Result is what the subscriber-management API answered. A transport
// failure produces an error and no Result.
type Result struct {
	StatusCode  int    `json:"status_code"`
	Message     string `json:"message"`
	RawResponse string `json:"raw_response,omitempty"`
}

func (r *Result) Success() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Retryable classifies an outcome. Timeouts, connection errors, 5xx and 429
// are worth another attempt; any other non-2xx is a rejection.
func Retryable(res *Result, err error) bool {
	if err != nil || res == nil {
		return true
	}
	return res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient builds a client over httpClient, which carries the timeout and
// the mTLS transport (see mtls.Config.HTTPClient).
func NewClient(cfg config.RadiusConfig, httpClient *http.Client, log *logger.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     log,
	}
}

type changeProfileRequest struct {
	ProfileID  string    `json:"profile_id"`
	Expiration time.Time `json:"expiration"`
}

// ChangeSubscriberProfile moves a subscriber to profileRef until expiry. The
// call sets absolute values, so repeating it after an uncertain outcome is
// safe.
func (c *Client) ChangeSubscriberProfile(ctx context.Context, subscriberRef, profileRef string, expiry time.Time) (*Result, error) {
	body, err := json.Marshal(changeProfileRequest{ProfileID: profileRef, Expiration: expiry.UTC()})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/subscribers/%s/profile", c.baseURL, url.PathEscape(subscriberRef))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("subscriber management API error: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	result := &Result{
		StatusCode:  resp.StatusCode,
		Message:     messageFrom(raw, resp.StatusCode),
		RawResponse: string(raw),
	}
	if !result.Success() {
		c.logger.Warnf("Profile change for %s returned %d: %s", subscriberRef, result.StatusCode, result.Message)
	}
	return result, nil
}

func messageFrom(raw []byte, status int) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return http.StatusText(status)
}
