package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/artpar/fnpublish/internal/core/deployment"
	"github.com/artpar/fnpublish/internal/core/domain"
	"github.com/artpar/fnpublish/internal/shell/arm"
	"github.com/artpar/fnpublish/internal/shell/blobstore"
	"github.com/artpar/fnpublish/internal/shell/console"
	"github.com/artpar/fnpublish/internal/shell/publish"
	"github.com/artpar/fnpublish/internal/shell/transport"
	"github.com/artpar/fnpublish/internal/shell/workers"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess          = 0
	ExitConfigError      = 1
	ExitValidationError  = 2
	ExitTransportError   = 3
	ExitDeploymentFailed = 4
	ExitUnhealthy        = 5
	ExitTimeout          = 6
)

// =============================================================================
// Publisher
// =============================================================================

// Request is one invocation of the tool.
type Request struct {
	TargetPath string
	Package    string
	Build      domain.BuildOption
	Flags      deployment.Flags
	Force      bool

	PublishLocalSettings bool
	SettingsOnly         bool
	LocalSettings        map[string]string
	OverwriteSettings    bool
	WorkerRuntime        string
}

// Publisher wires the publish components for a target.
type Publisher struct {
	config  *Config
	printer *console.Printer
	stores  blobstore.Opener
	logger  *slog.Logger
}

// NewPublisher creates a publisher.
func NewPublisher(cfg *Config, printer *console.Printer, logger *slog.Logger) *Publisher {
	return &Publisher{
		config:  cfg,
		printer: printer,
		stores:  blobstore.AzureOpener(logger),
		logger:  logger,
	}
}

// LoadTarget reads the target descriptor and fills in the live settings from
// the management endpoint.
func (p *Publisher) LoadTarget(ctx context.Context, path string) (*domain.Target, *arm.Client, error) {
	target, err := ReadTargetFile(path)
	if err != nil {
		return nil, nil, err
	}
	if target.ManagementURL == "" {
		target.ManagementURL = p.config.Management.URL
	}
	if target.Credentials.BearerToken == "" {
		target.Credentials.BearerToken = p.config.Auth.AccessToken
	}

	mgmt := arm.NewClient(arm.Config{
		BaseURL:    target.ManagementURL,
		APIVersion: p.config.Management.APIVersion,
		Token:      target.Credentials.BearerToken,
		UserAgent:  p.config.HTTP.UserAgent,
		Timeout:    p.config.HTTP.Timeout,
		RetryMax:   p.config.HTTP.RetryMax,
	}, p.logger)

	p.printer.Verbose("Getting site settings for %s...", target.Name)
	settings, err := mgmt.ListAppSettings(ctx, target.SiteID)
	if err != nil {
		return nil, nil, err
	}
	target.Settings = settings
	return target, mgmt, nil
}

// Run publishes according to req.
func (p *Publisher) Run(ctx context.Context, req Request) error {
	target, mgmt, err := p.LoadTarget(ctx, req.TargetPath)
	if err != nil {
		return err
	}
	orch := p.orchestrator(mgmt)

	resolver := publish.KeepRemoteResolver
	if req.OverwriteSettings {
		resolver = publish.OverwriteResolver
	}

	if req.SettingsOnly {
		_, err := orch.PublishSettingsOnly(ctx, target, req.LocalSettings, resolver)
		return err
	}

	artifact, cleanup, err := PackageArtifact(req.Package)
	if err != nil {
		return err
	}
	defer cleanup()

	_, err = orch.Publish(ctx, target, req.Build, artifact, publish.Options{
		Flags:                req.Flags,
		WorkerRuntime:        req.WorkerRuntime,
		Force:                req.Force,
		PublishLocalSettings: req.PublishLocalSettings,
		LocalSettings:        req.LocalSettings,
		Resolver:             resolver,
	})
	return err
}

func (p *Publisher) orchestrator(mgmt *arm.Client) *publish.Orchestrator {
	cfg := p.config.Publish
	userAgent := p.config.HTTP.UserAgent

	poller := workers.NewConvergencePoller(workers.ConvergenceConfig{
		Interval:  cfg.ConvergenceInterval,
		Timeout:   cfg.ConvergenceTimeout,
		UserAgent: userAgent,
	}, p.logger)

	health := workers.NewHealthChecker(mgmt, workers.HealthCheckerConfig{
		Attempts: cfg.HealthAttempts,
		Delay:    cfg.HealthDelay,
	}, p.logger)

	tracker := workers.NewStatusTracker(health, p.printer.DeploymentLog, workers.StatusTrackerConfig{
		Interval:        cfg.StatusInterval,
		Timeout:         cfg.StatusTimeout,
		FlexHealthDelay: cfg.FlexHealthDelay,
		UserAgent:       userAgent,
	}, p.logger)

	sender := transport.New(transport.Config{
		Author:             cfg.Author,
		UserAgent:          userAgent,
		ConvergenceTimeout: cfg.ConvergenceTimeout,
	}, mgmt, poller, p.stores, p.logger)

	return publish.New(publish.Config{
		SyncTriggersDelay:      cfg.SyncTriggersDelay,
		RemoteBuildSettleDelay: cfg.RemoteBuildSettleDelay,
		SettingsRemovalDelay:   cfg.SettingsRemovalDelay,
		ConvergenceTimeout:     cfg.ConvergenceTimeout,
		UserAgent:              userAgent,
	}, mgmt, sender, tracker, poller, p.printer, p.logger)
}

// =============================================================================
// Exit Code Mapping
// =============================================================================

// ExitCode maps a run error onto the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var (
		unhealthy   *domain.UnhealthyAfterDeployError
		failed      *domain.DeploymentFailedError
		conflict    *domain.DeploymentConflictError
		validation  *domain.ValidationError
		convergence *domain.ConvergenceTimeoutError
		status      *domain.StatusTimeoutError
		transportE  *domain.TransportError
		integrity   *domain.IntegrityError
		settings    *domain.SettingsUpdateError
	)
	switch {
	case errors.As(err, &unhealthy):
		return ExitUnhealthy
	case errors.As(err, &failed), errors.As(err, &conflict):
		return ExitDeploymentFailed
	case errors.As(err, &validation), errors.Is(err, domain.ErrRemoteBuildUnsupported):
		return ExitValidationError
	case errors.As(err, &convergence), errors.As(err, &status),
		errors.Is(err, context.DeadlineExceeded):
		return ExitTimeout
	case errors.As(err, &transportE), errors.As(err, &integrity), errors.As(err, &settings),
		errors.Is(err, domain.ErrMissingStorage):
		return ExitTransportError
	}
	return ExitConfigError
}
