package kudu

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/fnpublish/internal/core/deployment"
	"github.com/artpar/fnpublish/internal/core/domain"
	"github.com/artpar/fnpublish/internal/shell/sitetest"
)

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(Config{BaseURL: "https://app.scm.example.net/"}, nil)

	assert.Equal(t, "https://app.scm.example.net", client.BaseURL())
	assert.Equal(t, "fnpublish", client.userAgent)
	assert.NotNil(t, client.logger)
}

// =============================================================================
// Authentication Tests
// =============================================================================

func TestForTarget_BearerAuth(t *testing.T) {
	site := sitetest.New(t)
	client := ForTarget(site.Target(domain.OSLinux, domain.HostingDedicated), "", 0, nil)

	_, err := client.Settings(context.Background())
	require.NoError(t, err)

	reqs := site.Find(http.MethodGet, "/api/settings")
	require.Len(t, reqs, 1)
	assert.Equal(t, "Bearer token", reqs[0].Header.Get("Authorization"))
}

func TestForTarget_BasicAuthForContainerOrchestrated(t *testing.T) {
	site := sitetest.New(t)
	client := ForTarget(site.Target(domain.OSLinux, domain.HostingContainerOrchestrated), "", 0, nil)

	_, err := client.Settings(context.Background())
	require.NoError(t, err)

	reqs := site.Find(http.MethodGet, "/api/settings")
	require.Len(t, reqs, 1)
	assert.True(t, strings.HasPrefix(reqs[0].Header.Get("Authorization"), "Basic "))
}

// =============================================================================
// Upload Tests
// =============================================================================

func TestClient_ZipDeploy(t *testing.T) {
	site := sitetest.New(t)
	client := ForTarget(site.Target(domain.OSLinux, domain.HostingDedicated), "", 0, nil)

	endpoint, err := client.ZipDeploy(context.Background(), strings.NewReader("PK-artifact"), ZipDeployOptions{})

	require.NoError(t, err)
	assert.Equal(t, site.URL+"/api/zipdeploy", endpoint)

	reqs := site.Find(http.MethodPost, "/api/zipdeploy")
	require.Len(t, reqs, 1)
	assert.Equal(t, "application/zip", reqs[0].Header.Get("Content-Type"))
	assert.Equal(t, "*", reqs[0].Header.Get("If-Match"))
	assert.Equal(t, "PK-artifact", string(reqs[0].Body))
	assert.Empty(t, reqs[0].Query)
}

func TestClient_ZipDeployAsync(t *testing.T) {
	site := sitetest.New(t)
	client := ForTarget(site.Target(domain.OSLinux, domain.HostingDedicated), "", 0, nil)

	_, err := client.ZipDeploy(context.Background(), strings.NewReader("x"), ZipDeployOptions{Async: true, Author: "dev@example.com"})
	require.NoError(t, err)

	reqs := site.Find(http.MethodPost, "/api/zipdeploy")
	require.Len(t, reqs, 1)
	assert.Equal(t, "true", reqs[0].Query.Get("isAsync"))
	assert.Equal(t, "dev@example.com", reqs[0].Query.Get("author"))
}

func TestClient_ZipDeployFailureCarriesStatusAndCorrelation(t *testing.T) {
	site := sitetest.New(t)
	site.FailUploads(1, http.StatusConflict)
	client := ForTarget(site.Target(domain.OSLinux, domain.HostingDedicated), "", 0, nil)

	_, err := client.ZipDeploy(context.Background(), strings.NewReader("x"), ZipDeployOptions{})

	var terr *domain.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusConflict, terr.StatusCode)
	assert.Equal(t, "upload-failure", terr.CorrelationID)
	assert.Contains(t, terr.Body, "upload rejected")
}

func TestClient_Publish(t *testing.T) {
	site := sitetest.New(t)
	client := ForTarget(site.Target(domain.OSLinux, domain.HostingFlexConsumption), "", 0, nil)

	_, err := client.Publish(context.Background(), strings.NewReader("x"), PublishOptions{RemoteBuild: true, Author: "me"})
	require.NoError(t, err)

	reqs := site.Find(http.MethodPost, "/api/publish")
	require.Len(t, reqs, 1)
	assert.Equal(t, "True", reqs[0].Query.Get("RemoteBuild"))
	assert.Equal(t, "true", reqs[0].Query.Get("isAsync"))
	assert.Equal(t, "fnpublish", reqs[0].Query.Get("Deployer"))
	assert.Equal(t, "me", reqs[0].Query.Get("author"))
	assert.Equal(t, "*", reqs[0].Header.Get("If-Match"))
}

func TestClient_ConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()
	client := NewClient(Config{BaseURL: server.URL}, nil)

	_, err := client.Settings(context.Background())

	var terr *domain.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Zero(t, terr.StatusCode)
}

// =============================================================================
// Deployment Tests
// =============================================================================

func TestClient_LatestDeploymentID(t *testing.T) {
	site := sitetest.New(t)
	client := ForTarget(site.Target(domain.OSLinux, domain.HostingDedicated), "", 0, nil)

	_, err := client.LatestDeploymentID(context.Background(), deployment.DialectKudu)
	assert.ErrorIs(t, err, domain.ErrNoDeployment)

	_, err = client.ZipDeploy(context.Background(), strings.NewReader("x"), ZipDeployOptions{Async: true})
	require.NoError(t, err)

	id, err := client.LatestDeploymentID(context.Background(), deployment.DialectKudu)
	require.NoError(t, err)
	assert.Equal(t, sitetest.DeploymentID, id)
	assert.Equal(t, 2, site.Count(http.MethodGet, "/deployments"))
}

func TestClient_DeploymentDialectPaths(t *testing.T) {
	site := sitetest.New(t)
	site.ScriptStatus(sitetest.Named("Success"))
	client := ForTarget(site.Target(domain.OSLinux, domain.HostingFlexConsumption), "", 0, nil)

	rec, err := client.Deployment(context.Background(), deployment.DialectFlex, "abc")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, rec.Status)

	reqs := site.Find(http.MethodGet, "/api/deployments/abc")
	assert.Len(t, reqs, 1)
}

func TestClient_DeploymentLog(t *testing.T) {
	site := sitetest.New(t)
	site.SetLog(sitetest.DeploymentID, `[{"log_time":"t","message":"Build succeeded","details_url":""}]`)
	client := ForTarget(site.Target(domain.OSLinux, domain.HostingDedicated), "", 0, nil)

	entries, err := client.DeploymentLog(context.Background(), deployment.DialectKudu, sitetest.DeploymentID)

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Build succeeded", entries[0].Message)
}

// =============================================================================
// Settings Tests
// =============================================================================

func TestClient_SettingsKeepsKeySpelling(t *testing.T) {
	site := sitetest.New(t)
	site.SetSettings(map[string]string{"Scm_Do_Build_During_Deployment": "true"})
	client := ForTarget(site.Target(domain.OSLinux, domain.HostingDedicated), "", 0, nil)

	settings, err := client.Settings(context.Background())

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Scm_Do_Build_During_Deployment": "true"}, settings)
}

func TestCorrelationID(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, "", CorrelationID(h))
	h.Set("x-ms-request-id", "req")
	assert.Equal(t, "req", CorrelationID(h))
	h.Set("x-ms-correlation-request-id", "corr")
	assert.Equal(t, "corr", CorrelationID(h))
}
