// Package arm provides a client for the management endpoint of a function
// app: reading and writing app settings, syncing triggers and fetching the
// host master key.
package arm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/artpar/fnpublish/internal/core/domain"
	"github.com/artpar/fnpublish/internal/shell/kudu"
)

// DefaultAPIVersion is the management API version sent with every request.
const DefaultAPIVersion = "2022-03-01"

// Client provides methods for interacting with the management endpoint.
type Client struct {
	baseURL    string
	apiVersion string
	token      string
	userAgent  string
	httpClient *retryablehttp.Client
	logger     *slog.Logger
}

// Config holds management client configuration.
type Config struct {
	BaseURL    string // e.g. "https://management.azure.com"
	APIVersion string
	Token      string // bearer token
	UserAgent  string
	Timeout    time.Duration

	// RetryMax is the number of transport-level retries for connection
	// errors, 429 and 5xx responses. Negative disables them.
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// NewClient creates a new management client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "arm")

	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "fnpublish"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 100 * time.Second
	}
	if cfg.RetryMax == 0 {
		cfg.RetryMax = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryWaitMin == 0 {
		cfg.RetryWaitMin = 500 * time.Millisecond
	}
	if cfg.RetryWaitMax == 0 {
		cfg.RetryWaitMax = 5 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = logger

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion: cfg.APIVersion,
		token:      cfg.Token,
		userAgent:  cfg.UserAgent,
		httpClient: rc,
		logger:     logger,
	}
}

// =============================================================================
// App Settings
// =============================================================================

type settingsEnvelope struct {
	Properties map[string]string `json:"properties"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"Message"`
}

// ListAppSettings reads the stored app settings of a site.
func (c *Client) ListAppSettings(ctx context.Context, siteID string) (domain.Settings, error) {
	var env settingsEnvelope
	if _, err := c.do(ctx, http.MethodPost, c.siteURL(siteID, "/config/appsettings/list"), nil, "list app settings", &env); err != nil {
		return nil, err
	}
	if env.Properties == nil {
		return domain.Settings{}, nil
	}
	return domain.Settings(env.Properties), nil
}

// UpdateAppSettings replaces the stored app settings of a site. Failures are
// returned as *domain.SettingsUpdateError carrying the server's message.
func (c *Client) UpdateAppSettings(ctx context.Context, siteID string, settings domain.Settings) error {
	body, err := json.Marshal(settingsEnvelope{Properties: settings})
	if err != nil {
		return fmt.Errorf("marshal app settings: %w", err)
	}

	c.logger.Debug("updating app settings", "site", siteID, "count", len(settings))
	_, err = c.do(ctx, http.MethodPut, c.siteURL(siteID, "/config/appsettings"), body, "update app settings", nil)
	if err == nil {
		return nil
	}

	serr := &domain.SettingsUpdateError{Op: "update app settings", Err: err}
	if terr, ok := err.(*domain.TransportError); ok {
		serr.Message = errorMessage(terr.Body)
	}
	return serr
}

func errorMessage(body string) string {
	var env errorEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return body
	}
	if env.Error.Message != "" {
		return env.Error.Message
	}
	if env.Message != "" {
		return env.Message
	}
	return body
}

// =============================================================================
// Host Operations
// =============================================================================

// SyncTriggers asks the platform to re-read the trigger definitions of a
// site. Failures carry the correlation id of the management request.
func (c *Client) SyncTriggers(ctx context.Context, siteID string) error {
	_, err := c.do(ctx, http.MethodPost, c.siteURL(siteID, "/host/default/sync"), nil, "sync triggers", nil)
	return err
}

// MasterKey returns the host master key of a site.
func (c *Client) MasterKey(ctx context.Context, siteID string) (string, error) {
	var keys struct {
		MasterKey string `json:"masterKey"`
	}
	if _, err := c.do(ctx, http.MethodPost, c.siteURL(siteID, "/host/default/listkeys"), nil, "list host keys", &keys); err != nil {
		return "", err
	}
	if keys.MasterKey == "" {
		return "", fmt.Errorf("list host keys: master key missing from response")
	}
	return keys.MasterKey, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (c *Client) siteURL(siteID, suffix string) string {
	return fmt.Sprintf("%s/%s%s?api-version=%s", c.baseURL, strings.TrimLeft(siteID, "/"), suffix, c.apiVersion)
}

// do sends a request and decodes a JSON response into out. Non-2xx responses
// become *domain.TransportError.
func (c *Client) do(ctx context.Context, method, url string, body []byte, op string, out any) (*http.Response, error) {
	var raw any
	if body != nil {
		raw = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, raw)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, &domain.TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, &domain.TransportError{
			Op:            op,
			StatusCode:    resp.StatusCode,
			CorrelationID: kudu.CorrelationID(resp.Header),
			Body:          strings.TrimSpace(string(data)),
		}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp, fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	return resp, nil
}
