package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/fnpublish/internal/core/domain"
	"github.com/artpar/fnpublish/internal/shell/publish"
	"github.com/artpar/fnpublish/internal/shell/sitetest"
)

// =============================================================================
// Run Tests
// =============================================================================

func writeRunFiles(t *testing.T, site *sitetest.Site, osClass, hosting string) (configPath, targetPath string) {
	t.Helper()
	dir := t.TempDir()

	configPath = filepath.Join(dir, "config.yaml")
	config := `
http:
  retry_max: -1
publish:
  status_interval: 2ms
  status_timeout: 1s
  convergence_interval: 2ms
  sync_triggers_delay: 1ms
  remote_build_settle_delay: 1ms
  settings_removal_delay: 1ms
`
	require.NoError(t, writeFile(configPath, config))

	targetPath = filepath.Join(dir, "target.yaml")
	target := fmt.Sprintf(`
name: app
site_id: %s
os: %s
hosting: %s
management_url: %s
scm_host: %s
host_name: %s
credentials:
  bearer_token: token
  username: $app
  password: secret
`, sitetest.SiteID, osClass, hosting, site.URL, site.URL, site.URL)
	require.NoError(t, writeFile(targetPath, target))
	return configPath, targetPath
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}

func TestRun_PublishesProject(t *testing.T) {
	clearEnv(t)
	site := sitetest.New(t)
	configPath, targetPath := writeRunFiles(t, site, "windows", "dedicated")
	project := writeProject(t)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"-config", configPath,
		"-target", targetPath,
		"-dir", project,
		"-publish-local-settings",
	}, &stdout, &stderr)

	require.Equal(t, ExitSuccess, code, "stdout: %s\nstderr: %s", stdout.String(), stderr.String())

	uploads := site.Find(http.MethodPost, "/api/zipdeploy")
	require.Len(t, uploads, 1)
	names := zipNames(t, uploads[0].Body)
	assert.Contains(t, names, "host.json")

	assert.Equal(t, "1", site.Stored()["A"])
	assert.Equal(t, 1, site.Count(http.MethodPost, "/host/default/sync"))
	assert.Contains(t, stdout.String(), "Deployment completed successfully.")
}

func TestRun_SettingsOnly(t *testing.T) {
	clearEnv(t)
	site := sitetest.New(t)
	site.SetSettings(map[string]string{"A": "remote"})
	configPath, targetPath := writeRunFiles(t, site, "linux", "elastic-premium")
	project := writeProject(t)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"-config", configPath,
		"-target", targetPath,
		"-dir", project,
		"-settings-only",
		"-overwrite-settings",
	}, &stdout, &stderr)

	require.Equal(t, ExitSuccess, code, stderr.String())
	assert.Equal(t, "1", site.Stored()["A"])
	assert.Zero(t, site.Count(http.MethodPost, "/api/zipdeploy"))
}

func TestRun_FailedDeploymentExitCode(t *testing.T) {
	clearEnv(t)
	site := sitetest.New(t)
	site.ScriptStatus(sitetest.State(3))
	configPath, targetPath := writeRunFiles(t, site, "linux", "dedicated")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"-config", configPath,
		"-target", targetPath,
		"-dir", writeProject(t),
		"-build", "remote",
	}, &stdout, &stderr)

	assert.Equal(t, ExitDeploymentFailed, code)
	assert.Contains(t, stdout.String(), "failed")
}

func TestRun_UploadFailureExitCode(t *testing.T) {
	clearEnv(t)
	site := sitetest.New(t)
	site.FailUploads(5, http.StatusBadGateway)
	configPath, targetPath := writeRunFiles(t, site, "windows", "dedicated")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"-config", configPath,
		"-target", targetPath,
		"-dir", writeProject(t),
	}, &stdout, &stderr)

	assert.Equal(t, ExitTransportError, code)
	assert.Contains(t, stdout.String(), "upload-failure")
}

func TestRun_ArgumentErrors(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		args []string
	}{
		{"missing target", []string{}},
		{"bad build option", []string{"-target", "t.yaml", "-build", "cloud"}},
		{"unknown flag", []string{"-bogus"}},
		{"settings only without local settings", []string{"-target", "t.yaml", "-dir", "/nonexistent", "-settings-only"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			assert.Equal(t, ExitConfigError, run(context.Background(), tt.args, &stdout, &stderr))
		})
	}
}

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"-version"}, &stdout, &stderr)

	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout.String(), "fnpublish dev")
}

// =============================================================================
// Exit Code Tests
// =============================================================================

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"validation", &domain.ValidationError{Reason: "x"}, ExitValidationError},
		{"remote build unsupported", fmt.Errorf("wrapped: %w", domain.ErrRemoteBuildUnsupported), ExitValidationError},
		{"transport", &domain.TransportError{Op: "zip deploy", StatusCode: 500}, ExitTransportError},
		{"integrity", &domain.IntegrityError{Blob: "b"}, ExitTransportError},
		{"missing storage", domain.ErrMissingStorage, ExitTransportError},
		{"failed", &domain.DeploymentFailedError{ID: "1"}, ExitDeploymentFailed},
		{"conflict", &domain.DeploymentConflictError{ID: "1"}, ExitDeploymentFailed},
		{"unhealthy wins over transport", &domain.UnhealthyAfterDeployError{Err: &domain.TransportError{Op: "host status"}}, ExitUnhealthy},
		{"convergence timeout", &domain.ConvergenceTimeoutError{Timeout: time.Second}, ExitTimeout},
		{"step wrapped", &publish.StepError{Step: publish.StepStatus, Err: &domain.DeploymentFailedError{ID: "1"}}, ExitDeploymentFailed},
		{"unknown", errors.New("boom"), ExitConfigError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}
