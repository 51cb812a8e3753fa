package workers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/fnpublish/internal/core/domain"
	"github.com/artpar/fnpublish/internal/shell/kudu"
	"github.com/artpar/fnpublish/internal/shell/retry"
)

// HealthCheckerConfig configures the host health checker.
type HealthCheckerConfig struct {
	// Attempts is the number of host status requests before giving up.
	// Default: 15.
	Attempts int

	// Delay is the time between attempts.
	// Default: 5 seconds.
	Delay time.Duration

	// RequestTimeout bounds a single host status request.
	// Default: 30 seconds.
	RequestTimeout time.Duration
}

// DefaultHealthCheckerConfig returns the default configuration.
func DefaultHealthCheckerConfig() HealthCheckerConfig {
	return HealthCheckerConfig{
		Attempts:       15,
		Delay:          5 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// KeySource returns the host master key of a site.
type KeySource interface {
	MasterKey(ctx context.Context, siteID string) (string, error)
}

// HealthChecker asks a freshly deployed app's host whether it is running.
type HealthChecker struct {
	keys       KeySource
	httpClient *http.Client
	config     HealthCheckerConfig
	logger     *slog.Logger
}

// NewHealthChecker creates a new host health checker.
func NewHealthChecker(keys KeySource, config HealthCheckerConfig, logger *slog.Logger) *HealthChecker {
	defaults := DefaultHealthCheckerConfig()
	if config.Attempts == 0 {
		config.Attempts = defaults.Attempts
	}
	if config.Delay == 0 {
		config.Delay = defaults.Delay
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &HealthChecker{
		keys:       keys,
		httpClient: &http.Client{Timeout: config.RequestTimeout},
		config:     config,
		logger:     logger.With("component", "health_checker"),
	}
}

// Check returns nil once the host status endpoint answers 2xx, retrying up
// to the configured number of attempts.
func (h *HealthChecker) Check(ctx context.Context, target *domain.Target) error {
	key, err := h.keys.MasterKey(ctx, target.SiteID)
	if err != nil {
		return fmt.Errorf("get master key: %w", err)
	}

	logger := h.logger.With("target", target.Name)
	endpoint := target.HostBaseURL() + "/admin/host/status?code=" + url.QueryEscape(key)

	policy := retry.Policy{MaxAttempts: h.config.Attempts, Delay: h.config.Delay}
	err = retry.Run(ctx, policy, logger, func(ctx context.Context) error {
		return h.pingHost(ctx, endpoint)
	})
	if err != nil {
		return err
	}
	logger.Debug("host is running")
	return nil
}

// pingHost performs one host status request.
func (h *HealthChecker) pingHost(ctx context.Context, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	requestID := uuid.New().String()
	req.Header.Set("x-ms-request-id", requestID)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return &domain.TransportError{Op: "host status", CorrelationID: requestID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		correlation := kudu.CorrelationID(resp.Header)
		if correlation == "" {
			correlation = requestID
		}
		return &domain.TransportError{
			Op:            "host status",
			StatusCode:    resp.StatusCode,
			CorrelationID: correlation,
			Body:          strings.TrimSpace(string(body)),
		}
	}
	return nil
}
