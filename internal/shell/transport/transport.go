// Package transport moves an artifact to a target using the strategy chosen
// by the planner.
//
// Every call site takes an ArtifactFactory rather than a stream: a retried
// attempt must read the artifact from the start, never resume a stream an
// earlier attempt partially consumed.
package transport

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/fnpublish/internal/core/deployment"
	"github.com/artpar/fnpublish/internal/core/domain"
	"github.com/artpar/fnpublish/internal/shell/blobstore"
	"github.com/artpar/fnpublish/internal/shell/kudu"
	"github.com/artpar/fnpublish/internal/shell/retry"
)

// ArtifactFactory opens a fresh stream over the artifact on every call.
type ArtifactFactory func() (io.ReadCloser, error)

// BytesArtifact returns a factory serving b.
func BytesArtifact(b []byte) ArtifactFactory {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
}

// FileArtifact returns a factory opening the file at path.
func FileArtifact(path string) ArtifactFactory {
	return func() (io.ReadCloser, error) {
		return os.Open(path)
	}
}

// Result describes where the artifact went.
type Result struct {
	Strategy   domain.Strategy
	Endpoint   string
	AcceptedAt time.Time

	// Deferred is set when the strategy postpones the upload; the caller
	// issues it later with ZipDeploy.
	Deferred bool
}

// SettingsWriter persists a target's settings through the management endpoint.
type SettingsWriter interface {
	UpdateAppSettings(ctx context.Context, siteID string, settings domain.Settings) error
}

// Converger waits for written settings to become visible.
type Converger interface {
	WaitForConvergence(ctx context.Context, target *domain.Target, delta deployment.ConfigurationDelta, timeout time.Duration) error
}

// Config configures the transport.
type Config struct {
	// Author tags asynchronous deployments.
	Author string

	UserAgent string

	// ZipDeployAttempts bounds zip deploy posts. Default: 2.
	ZipDeployAttempts int

	// BlobAttempts and BlobDelay bound blob staging. Default: 3 and 1 second.
	BlobAttempts int
	BlobDelay    time.Duration

	// ConvergenceTimeout bounds the wait for the run-from-package marker.
	// Zero uses the converger's default.
	ConvergenceTimeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ZipDeployAttempts: 2,
		BlobAttempts:      3,
		BlobDelay:         time.Second,
	}
}

// Transport sends artifacts.
type Transport struct {
	config    Config
	settings  SettingsWriter
	converger Converger
	stores    blobstore.Opener
	logger    *slog.Logger

	now   func() time.Time
	newID func() string
}

// New creates a transport.
func New(config Config, settings SettingsWriter, converger Converger, stores blobstore.Opener, logger *slog.Logger) *Transport {
	defaults := DefaultConfig()
	if config.ZipDeployAttempts == 0 {
		config.ZipDeployAttempts = defaults.ZipDeployAttempts
	}
	if config.BlobAttempts == 0 {
		config.BlobAttempts = defaults.BlobAttempts
	}
	if config.BlobDelay == 0 {
		config.BlobDelay = defaults.BlobDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		config:    config,
		settings:  settings,
		converger: converger,
		stores:    stores,
		logger:    logger.With("component", "transport"),
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Send delivers the artifact according to plan. Blob-staged and local-marker
// strategies rewrite target.Settings and persist them.
func (t *Transport) Send(ctx context.Context, target *domain.Target, plan deployment.Plan, artifact ArtifactFactory) (Result, error) {
	logger := t.logger.With("target", target.Name, "strategy", plan.Strategy)
	logger.Debug("sending artifact")

	var (
		endpoint string
		err      error
	)
	switch plan.Strategy {
	case domain.StrategyZipDeployStreaming:
		endpoint, err = t.zipDeploy(ctx, target, artifact, kudu.ZipDeployOptions{})

	case domain.StrategyServerSideBuildZipDeploy:
		endpoint, err = t.zipDeploy(ctx, target, artifact, kudu.ZipDeployOptions{Async: true, Author: t.config.Author})

	case domain.StrategyFlexPublish:
		endpoint, err = t.flexPublish(ctx, target, plan, artifact)

	case domain.StrategyRunFromPackageBlobStaged:
		endpoint, err = t.stageBlob(ctx, target, plan, artifact, logger)

	case domain.StrategyRunFromPackageLocalMarker:
		endpoint, err = t.localMarker(ctx, target, artifact, logger)

	case domain.StrategyDeferredZipDeploy:
		return Result{Strategy: plan.Strategy, Deferred: true}, nil

	default:
		return Result{}, &domain.PlanningError{Strategy: plan.Strategy, Message: "no transport for strategy"}
	}
	if err != nil {
		return Result{}, err
	}

	return Result{Strategy: plan.Strategy, Endpoint: endpoint, AcceptedAt: t.now()}, nil
}

// ZipDeploy posts the artifact to the zip deploy endpoint. It is the deferred
// step of container-orchestrated targets.
func (t *Transport) ZipDeploy(ctx context.Context, target *domain.Target, artifact ArtifactFactory) (Result, error) {
	endpoint, err := t.zipDeploy(ctx, target, artifact, kudu.ZipDeployOptions{})
	if err != nil {
		return Result{}, err
	}
	return Result{Strategy: domain.StrategyZipDeployStreaming, Endpoint: endpoint, AcceptedAt: t.now()}, nil
}

// =============================================================================
// Strategies
// =============================================================================

func (t *Transport) zipDeploy(ctx context.Context, target *domain.Target, artifact ArtifactFactory, opts kudu.ZipDeployOptions) (string, error) {
	client := kudu.ForTarget(target, t.config.UserAgent, 0, t.logger)
	policy := retry.Policy{MaxAttempts: t.config.ZipDeployAttempts}

	return retry.Do(ctx, policy, t.logger, func(ctx context.Context) (string, error) {
		body, err := artifact()
		if err != nil {
			return "", fmt.Errorf("open artifact: %w", err)
		}
		defer body.Close()
		return client.ZipDeploy(ctx, body, opts)
	})
}

func (t *Transport) flexPublish(ctx context.Context, target *domain.Target, plan deployment.Plan, artifact ArtifactFactory) (string, error) {
	client := kudu.ForTarget(target, t.config.UserAgent, 0, t.logger)

	body, err := artifact()
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer body.Close()

	return client.Publish(ctx, body, kudu.PublishOptions{RemoteBuild: plan.RemoteBuild, Author: t.config.Author})
}

// stageBlob uploads the artifact to blob storage, verifies its hash, and
// points the run-from-package setting at a read-only URL for it.
func (t *Transport) stageBlob(ctx context.Context, target *domain.Target, plan deployment.Plan, artifact ArtifactFactory, logger *slog.Logger) (string, error) {
	conn, ok := target.Settings.Lookup(domain.SettingWebJobsStorage)
	if !ok || conn == "" {
		return "", domain.ErrMissingStorage
	}
	store, err := t.stores(conn)
	if err != nil {
		return "", err
	}

	name := deployment.BlobName(t.now(), t.newID(), plan.ArtifactFormat)
	policy := retry.Policy{MaxAttempts: t.config.BlobAttempts, Delay: t.config.BlobDelay, DisplayFailures: true}

	err = retry.Run(ctx, policy, logger, func(ctx context.Context) error {
		return t.uploadVerified(ctx, store, name, plan.ArtifactFormat, artifact)
	})
	if err != nil {
		return "", err
	}

	start, expiry := deployment.SASWindow(t.now())
	url, err := store.ReadURL(ctx, deployment.ReleasesContainer, name, start, expiry)
	if err != nil {
		return "", err
	}

	target.Settings.Set(domain.SettingRunFromPackage, url)
	if err := t.writeRunFromPackage(ctx, target); err != nil {
		return "", err
	}
	logger.Debug("artifact staged", "blob", name)
	return deployment.ReleasesContainer + "/" + name, nil
}

// uploadVerified is one staging attempt. A hash mismatch is an
// *domain.IntegrityError, which the retry loop does not retry.
func (t *Transport) uploadVerified(ctx context.Context, store blobstore.Store, name string, format deployment.ArtifactFormat, artifact ArtifactFactory) error {
	spool, local, err := spoolArtifact(artifact)
	if err != nil {
		return err
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	remote, err := store.Upload(ctx, deployment.ReleasesContainer, name, spool, format.ContentType(), local)
	if err != nil {
		return err
	}
	if !bytes.Equal(local, remote) {
		return &domain.IntegrityError{Blob: name, LocalMD5: local, RemoteMD5: remote}
	}
	return nil
}

// spoolArtifact copies the artifact to a temp file while hashing it, and
// returns the file rewound to the start.
func spoolArtifact(artifact ArtifactFactory) (*os.File, []byte, error) {
	src, err := artifact()
	if err != nil {
		return nil, nil, fmt.Errorf("open artifact: %w", err)
	}
	defer src.Close()

	f, err := os.CreateTemp("", "fnpublish-*.pkg")
	if err != nil {
		return nil, nil, fmt.Errorf("create spool file: %w", err)
	}

	h := md5.New()
	if _, err := io.Copy(io.MultiWriter(f, h), src); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, nil, fmt.Errorf("spool artifact: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, nil, fmt.Errorf("rewind spool file: %w", err)
	}
	return f, h.Sum(nil), nil
}

// writeRunFromPackage drops the legacy run-from-zip key, enables mounting on
// Linux consumption targets, and persists the settings.
func (t *Transport) writeRunFromPackage(ctx context.Context, target *domain.Target) error {
	target.Settings.Delete(domain.SettingRunFromZip)
	if target.IsLinux() && target.Hosting == domain.HostingDynamicConsumption && !target.Settings.Has(domain.SettingMountEnabled) {
		target.Settings.Set(domain.SettingMountEnabled, "1")
	}
	return t.settings.UpdateAppSettings(ctx, target.SiteID, target.Settings)
}

// localMarker switches the target to run from its local package, waits for
// the marker to be visible, then zip deploys.
func (t *Transport) localMarker(ctx context.Context, target *domain.Target, artifact ArtifactFactory, logger *slog.Logger) (string, error) {
	target.Settings.Set(domain.SettingRunFromPackage, "1")
	if err := t.writeRunFromPackage(ctx, target); err != nil {
		return "", err
	}

	delta := deployment.ConfigurationDelta{MustHave: map[string]string{domain.SettingRunFromPackage: "1"}}
	if err := t.converger.WaitForConvergence(ctx, target, delta, t.config.ConvergenceTimeout); err != nil {
		return "", err
	}
	logger.Debug("run-from-package marker visible")

	return t.zipDeploy(ctx, target, artifact, kudu.ZipDeployOptions{})
}
