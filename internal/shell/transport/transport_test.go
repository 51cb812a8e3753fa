package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/fnpublish/internal/core/deployment"
	"github.com/artpar/fnpublish/internal/core/domain"
	"github.com/artpar/fnpublish/internal/shell/arm"
	"github.com/artpar/fnpublish/internal/shell/blobstore"
	"github.com/artpar/fnpublish/internal/shell/sitetest"
	"github.com/artpar/fnpublish/internal/shell/workers"
)

type fixture struct {
	site      *sitetest.Site
	store     *blobstore.MemoryStore
	transport *Transport
	opens     int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	site := sitetest.New(t)
	store := blobstore.NewMemoryStore()

	mgmt := arm.NewClient(arm.Config{BaseURL: site.URL, Token: "token", RetryMax: -1}, nil)
	poller := workers.NewConvergencePoller(workers.ConvergenceConfig{Interval: 5 * time.Millisecond}, nil)
	opener := func(string) (blobstore.Store, error) { return store, nil }

	tr := New(Config{Author: "dev@example.com", BlobDelay: time.Millisecond}, mgmt, poller, opener, nil)
	tr.now = func() time.Time { return time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC) }
	tr.newID = func() string { return "fixed-id" }

	return &fixture{site: site, store: store, transport: tr}
}

// artifact counts how often the factory is opened.
func (f *fixture) artifact(content string) ArtifactFactory {
	return func() (io.ReadCloser, error) {
		f.opens++
		return io.NopCloser(strings.NewReader(content)), nil
	}
}

func plan(strategy domain.Strategy) deployment.Plan {
	return deployment.Plan{Strategy: strategy, ArtifactFormat: deployment.FormatZip}
}

// =============================================================================
// Zip Deploy Tests
// =============================================================================

func TestSend_ZipDeployStreaming(t *testing.T) {
	f := newFixture(t)
	target := f.site.Target(domain.OSLinux, domain.HostingDedicated)

	res, err := f.transport.Send(context.Background(), target, plan(domain.StrategyZipDeployStreaming), f.artifact("PKzip"))

	require.NoError(t, err)
	assert.Equal(t, f.site.URL+"/api/zipdeploy", res.Endpoint)
	assert.False(t, res.AcceptedAt.IsZero())

	reqs := f.site.Find(http.MethodPost, "/api/zipdeploy")
	require.Len(t, reqs, 1)
	assert.Equal(t, "PKzip", string(reqs[0].Body))
	assert.Empty(t, reqs[0].Query.Get("isAsync"))
}

func TestSend_ZipDeployRetriesWithFreshStream(t *testing.T) {
	f := newFixture(t)
	f.site.FailUploads(1, http.StatusInternalServerError)
	target := f.site.Target(domain.OSLinux, domain.HostingDedicated)

	_, err := f.transport.Send(context.Background(), target, plan(domain.StrategyZipDeployStreaming), f.artifact("PKzip"))

	require.NoError(t, err)
	assert.Equal(t, 2, f.opens)
	reqs := f.site.Find(http.MethodPost, "/api/zipdeploy")
	require.Len(t, reqs, 2)
	assert.Equal(t, "PKzip", string(reqs[1].Body))
}

func TestSend_ZipDeployGivesUpAfterTwoAttempts(t *testing.T) {
	f := newFixture(t)
	f.site.FailUploads(5, http.StatusBadGateway)
	target := f.site.Target(domain.OSLinux, domain.HostingDedicated)

	_, err := f.transport.Send(context.Background(), target, plan(domain.StrategyZipDeployStreaming), f.artifact("x"))

	var terr *domain.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusBadGateway, terr.StatusCode)
	assert.Equal(t, 2, f.site.Count(http.MethodPost, "/api/zipdeploy"))
}

func TestSend_ServerSideBuildIsAsyncWithAuthor(t *testing.T) {
	f := newFixture(t)
	target := f.site.Target(domain.OSLinux, domain.HostingElasticPremium)

	_, err := f.transport.Send(context.Background(), target, plan(domain.StrategyServerSideBuildZipDeploy), f.artifact("x"))

	require.NoError(t, err)
	reqs := f.site.Find(http.MethodPost, "/api/zipdeploy")
	require.Len(t, reqs, 1)
	assert.Equal(t, "true", reqs[0].Query.Get("isAsync"))
	assert.Equal(t, "dev@example.com", reqs[0].Query.Get("author"))
}

func TestSend_FlexPublish(t *testing.T) {
	f := newFixture(t)
	target := f.site.Target(domain.OSLinux, domain.HostingFlexConsumption)
	p := plan(domain.StrategyFlexPublish)
	p.RemoteBuild = true

	_, err := f.transport.Send(context.Background(), target, p, f.artifact("x"))

	require.NoError(t, err)
	reqs := f.site.Find(http.MethodPost, "/api/publish")
	require.Len(t, reqs, 1)
	assert.Equal(t, "True", reqs[0].Query.Get("RemoteBuild"))
	assert.Equal(t, "*", reqs[0].Header.Get("If-Match"))
}

func TestSend_FlexPublishIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.site.FailUploads(1, http.StatusInternalServerError)
	target := f.site.Target(domain.OSLinux, domain.HostingFlexConsumption)

	_, err := f.transport.Send(context.Background(), target, plan(domain.StrategyFlexPublish), f.artifact("x"))

	assert.Error(t, err)
	assert.Equal(t, 1, f.site.Count(http.MethodPost, "/api/publish"))
}

// =============================================================================
// Blob Staging Tests
// =============================================================================

func TestSend_BlobStaged(t *testing.T) {
	f := newFixture(t)
	f.site.SetSettings(map[string]string{
		"AzureWebJobsStorage":  "UseDevelopmentStorage=true",
		"WEBSITE_RUN_FROM_ZIP": "1",
	})
	target := f.site.Target(domain.OSLinux, domain.HostingDynamicConsumption)

	res, err := f.transport.Send(context.Background(), target, plan(domain.StrategyRunFromPackageBlobStaged), f.artifact("0123456789"))

	require.NoError(t, err)
	assert.Equal(t, "function-releases/20240304050607-fixed-id.zip", res.Endpoint)

	blobs := f.store.Blobs()
	require.Len(t, blobs, 1)
	assert.Equal(t, "0123456789", string(blobs[0].Data))
	assert.Equal(t, "application/zip", blobs[0].ContentType)

	url, ok := target.Settings.Lookup("WEBSITE_RUN_FROM_PACKAGE")
	require.True(t, ok)
	assert.Contains(t, url, "sp=r")
	assert.Contains(t, url, "st=2024-03-04T05:01:07Z")
	assert.Contains(t, url, "se=2034-03-04T05:06:07Z")
	assert.False(t, target.Settings.Has("WEBSITE_RUN_FROM_ZIP"))
	assert.Equal(t, "1", target.Settings["WEBSITE_MOUNT_ENABLED"])

	stored := f.site.Stored()
	assert.Equal(t, url, stored["WEBSITE_RUN_FROM_PACKAGE"])
	assert.NotContains(t, stored, "WEBSITE_RUN_FROM_ZIP")
}

func TestSend_BlobStagedSquashfs(t *testing.T) {
	f := newFixture(t)
	f.site.SetSettings(map[string]string{"AzureWebJobsStorage": "conn"})
	target := f.site.Target(domain.OSLinux, domain.HostingDynamicConsumption)
	p := plan(domain.StrategyRunFromPackageBlobStaged)
	p.ArtifactFormat = deployment.FormatSquashfs

	res, err := f.transport.Send(context.Background(), target, p, f.artifact("hsqs"))

	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.Endpoint, ".squashfs"))
	assert.Equal(t, "application/octet-stream", f.store.Blobs()[0].ContentType)
}

func TestSend_BlobStagedIntegrityFailureIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.store.Corrupt = true
	f.site.SetSettings(map[string]string{"AzureWebJobsStorage": "conn"})
	target := f.site.Target(domain.OSLinux, domain.HostingDynamicConsumption)

	_, err := f.transport.Send(context.Background(), target, plan(domain.StrategyRunFromPackageBlobStaged), f.artifact("0123456789"))

	var ierr *domain.IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, 1, f.store.Uploads())
	assert.False(t, target.Settings.Has("WEBSITE_RUN_FROM_PACKAGE"))
	assert.Zero(t, f.site.Count(http.MethodPut, "/config/appsettings"))
}

func TestSend_BlobStagedRetriesUploadFailures(t *testing.T) {
	f := newFixture(t)
	f.store.FailUploads = 2
	f.site.SetSettings(map[string]string{"AzureWebJobsStorage": "conn"})
	target := f.site.Target(domain.OSLinux, domain.HostingDynamicConsumption)

	_, err := f.transport.Send(context.Background(), target, plan(domain.StrategyRunFromPackageBlobStaged), f.artifact("x"))

	require.NoError(t, err)
	assert.Equal(t, 3, f.store.Uploads())
	assert.Equal(t, 3, f.opens)
}

func TestSend_BlobStagedMissingStorage(t *testing.T) {
	f := newFixture(t)
	target := f.site.Target(domain.OSLinux, domain.HostingDynamicConsumption)

	_, err := f.transport.Send(context.Background(), target, plan(domain.StrategyRunFromPackageBlobStaged), f.artifact("x"))

	assert.ErrorIs(t, err, domain.ErrMissingStorage)
}

// =============================================================================
// Local Marker and Deferred Tests
// =============================================================================

func TestSend_LocalMarkerWaitsThenZipDeploys(t *testing.T) {
	f := newFixture(t)
	f.site.SetSettingsLag(2)
	target := f.site.Target(domain.OSWindows, domain.HostingDedicated)

	_, err := f.transport.Send(context.Background(), target, plan(domain.StrategyRunFromPackageLocalMarker), f.artifact("x"))

	require.NoError(t, err)
	assert.Equal(t, "1", f.site.Stored()["WEBSITE_RUN_FROM_PACKAGE"])
	assert.Equal(t, 3, f.site.Count(http.MethodGet, "/api/settings"))
	assert.Equal(t, 1, f.site.Count(http.MethodPost, "/api/zipdeploy"))

	var order []string
	for _, r := range f.site.Requests() {
		order = append(order, r.Method+" "+r.Path[strings.LastIndex(r.Path, "/")+1:])
	}
	assert.Equal(t, []string{"PUT appsettings", "GET settings", "GET settings", "GET settings", "POST zipdeploy"}, order)
}

func TestSend_DeferredDoesNothing(t *testing.T) {
	f := newFixture(t)
	target := f.site.Target(domain.OSLinux, domain.HostingContainerOrchestrated)

	res, err := f.transport.Send(context.Background(), target, plan(domain.StrategyDeferredZipDeploy), f.artifact("x"))

	require.NoError(t, err)
	assert.True(t, res.Deferred)
	assert.Empty(t, f.site.Requests())
	assert.Zero(t, f.opens)

	_, err = f.transport.ZipDeploy(context.Background(), target, f.artifact("x"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.site.Count(http.MethodPost, "/api/zipdeploy"))
}

func TestSend_UnknownStrategy(t *testing.T) {
	f := newFixture(t)
	target := f.site.Target(domain.OSLinux, domain.HostingDedicated)

	_, err := f.transport.Send(context.Background(), target, plan("carrier_pigeon"), f.artifact("x"))

	var perr *domain.PlanningError
	assert.True(t, errors.As(err, &perr))
}

// =============================================================================
// Artifact Factory Tests
// =============================================================================

func TestBytesArtifact_FreshStreamEachCall(t *testing.T) {
	factory := BytesArtifact([]byte("abc"))

	for i := 0; i < 2; i++ {
		rc, err := factory()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "abc", string(b))
	}
}
