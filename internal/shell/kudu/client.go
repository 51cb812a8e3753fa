// Package kudu provides a client for a target's deployment-control endpoint:
// artifact upload, deployment status, deployment logs and the settings view
// the running site actually sees.
package kudu

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/artpar/fnpublish/internal/core/deployment"
	"github.com/artpar/fnpublish/internal/core/domain"
)

// Client talks to one deployment-control endpoint.
type Client struct {
	baseURL     string
	credentials domain.Credentials
	basicAuth   bool
	userAgent   string
	httpClient  *http.Client
	logger      *slog.Logger
}

// Config holds deployment-control client configuration.
type Config struct {
	BaseURL     string // e.g. "https://app.scm.azurewebsites.net"
	Credentials domain.Credentials

	// BasicAuth sends the username/password pair instead of the bearer token.
	BasicAuth bool

	UserAgent string

	// Timeout bounds each request. Zero leaves requests bounded only by their
	// context, which uploads of large artifacts need.
	Timeout time.Duration
}

// NewClient creates a new deployment-control client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "fnpublish"
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		credentials: cfg.Credentials,
		basicAuth:   cfg.BasicAuth,
		userAgent:   userAgent,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.With("component", "kudu"),
	}
}

// ForTarget creates a client for the target's deployment-control endpoint.
// Container-orchestrated targets authenticate with basic auth, every other
// hosting mode with the bearer token.
func ForTarget(t *domain.Target, userAgent string, timeout time.Duration, logger *slog.Logger) *Client {
	return NewClient(Config{
		BaseURL:     t.ScmBaseURL(),
		Credentials: t.Credentials,
		BasicAuth:   t.Hosting == domain.HostingContainerOrchestrated,
		UserAgent:   userAgent,
		Timeout:     timeout,
	}, logger)
}

// BaseURL returns the endpoint the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// Artifact Upload
// =============================================================================

// ZipDeployOptions select the zip deploy variant.
type ZipDeployOptions struct {
	// Async returns as soon as the artifact is accepted; completion is then
	// observed through the deployments endpoint.
	Async bool

	// Author tags the deployment record.
	Author string

	// ContentType defaults to application/zip.
	ContentType string
}

// ZipDeploy posts an artifact to the zip deploy endpoint. The request carries
// If-Match: * so the endpoint does not reject it on an ETag mismatch.
func (c *Client) ZipDeploy(ctx context.Context, body io.Reader, opts ZipDeployOptions) (string, error) {
	query := url.Values{}
	if opts.Async {
		query.Set("isAsync", "true")
		if opts.Author != "" {
			query.Set("author", opts.Author)
		}
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/zip"
	}

	endpoint := c.endpoint("/api/zipdeploy", query)
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("If-Match", "*")

	c.logger.Debug("posting artifact", "endpoint", endpoint, "async", opts.Async)
	if err := c.send(req, "zip deploy", nil); err != nil {
		return "", err
	}
	return endpoint, nil
}

// PublishOptions are the Flex publish parameters.
type PublishOptions struct {
	RemoteBuild bool
	Author      string
	Deployer    string
}

// Publish posts an artifact to the Flex publish endpoint. Like ZipDeploy it
// sends If-Match: *.
func (c *Client) Publish(ctx context.Context, body io.Reader, opts PublishOptions) (string, error) {
	deployer := opts.Deployer
	if deployer == "" {
		deployer = "fnpublish"
	}
	query := url.Values{}
	query.Set("isAsync", "true")
	query.Set("Deployer", deployer)
	query.Set("RemoteBuild", boolParam(opts.RemoteBuild))
	if opts.Author != "" {
		query.Set("author", opts.Author)
	}

	endpoint := c.endpoint("/api/publish", query)
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/zip")
	req.Header.Set("If-Match", "*")

	c.logger.Debug("publishing artifact", "endpoint", endpoint, "remote_build", opts.RemoteBuild)
	if err := c.send(req, "publish", nil); err != nil {
		return "", err
	}
	return endpoint, nil
}

// =============================================================================
// Settings View
// =============================================================================

// Settings returns the configuration as seen by the deployment-control
// endpoint. Keys are returned exactly as stored.
func (c *Client) Settings(ctx context.Context) (map[string]string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.endpoint("/api/settings", nil), nil)
	if err != nil {
		return nil, err
	}
	settings := map[string]string{}
	if err := c.send(req, "read settings", &settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// =============================================================================
// Deployments
// =============================================================================

func deploymentsPath(dialect deployment.StatusDialect) string {
	if dialect == deployment.DialectFlex {
		return "/api/deployments"
	}
	return "/deployments"
}

// LatestDeploymentID returns the newest deployment the remote side picked up.
// It returns domain.ErrNoDeployment while none is registered yet.
func (c *Client) LatestDeploymentID(ctx context.Context, dialect deployment.StatusDialect) (string, error) {
	body, err := c.getRaw(ctx, c.endpoint(deploymentsPath(dialect), nil), "list deployments")
	if err != nil {
		return "", err
	}
	records, err := deployment.ParseRecords(dialect, body)
	if err != nil {
		return "", err
	}
	id := deployment.LatestStarted(records)
	if id == "" {
		return "", domain.ErrNoDeployment
	}
	return id, nil
}

// Deployment returns the current record of one deployment.
func (c *Client) Deployment(ctx context.Context, dialect deployment.StatusDialect, id string) (deployment.Record, error) {
	body, err := c.getRaw(ctx, c.endpoint(deploymentsPath(dialect)+"/"+url.PathEscape(id), nil), "read deployment")
	if err != nil {
		return deployment.Record{}, err
	}
	return deployment.ParseRecord(dialect, body)
}

// DeploymentLog returns the log of one deployment.
func (c *Client) DeploymentLog(ctx context.Context, dialect deployment.StatusDialect, id string) ([]deployment.LogEntry, error) {
	return c.LogAt(ctx, c.endpoint(deploymentsPath(dialect)+"/"+url.PathEscape(id)+"/log", nil))
}

// LogAt returns the log entries served at an absolute details URL.
func (c *Client) LogAt(ctx context.Context, logURL string) ([]deployment.LogEntry, error) {
	body, err := c.getRaw(ctx, logURL, "read deployment log")
	if err != nil {
		return nil, err
	}
	return deployment.ParseLogEntries(body)
}

// =============================================================================
// Helpers
// =============================================================================

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	return req, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if c.basicAuth {
		req.SetBasicAuth(c.credentials.Username, c.credentials.Password)
		return
	}
	if c.credentials.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.credentials.BearerToken)
	}
}

func (c *Client) getRaw(ctx context.Context, endpoint, op string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := c.send(req, op, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// send executes req. Non-2xx responses become *domain.TransportError carrying
// the status, the correlation id and the response body.
func (c *Client) send(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &domain.TransportError{
			Op:            op,
			StatusCode:    resp.StatusCode,
			CorrelationID: CorrelationID(resp.Header),
			Body:          strings.TrimSpace(string(body)),
		}
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = body
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// CorrelationID returns the request correlation id of a response, if any.
func CorrelationID(h http.Header) string {
	for _, name := range []string{"x-ms-correlation-request-id", "x-ms-request-id", "Request-Id"} {
		if v := h.Get(name); v != "" {
			return v
		}
	}
	return ""
}

func boolParam(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
