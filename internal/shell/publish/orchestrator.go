// Package publish runs a complete publish of a built artifact to a function
// app target: validation, planning, settings preparation, transport, status
// tracking, settings publish and trigger sync, in that order.
//
// A Target's settings map is owned by the run. Steps read and write it in
// sequence and never concurrently.
package publish

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/artpar/fnpublish/internal/core/deployment"
	"github.com/artpar/fnpublish/internal/core/domain"
	"github.com/artpar/fnpublish/internal/shell/console"
	"github.com/artpar/fnpublish/internal/shell/retry"
	"github.com/artpar/fnpublish/internal/shell/transport"
)

// =============================================================================
// Collaborators
// =============================================================================

// Management is the part of the management API a publish run uses.
type Management interface {
	ListAppSettings(ctx context.Context, siteID string) (domain.Settings, error)
	UpdateAppSettings(ctx context.Context, siteID string, settings domain.Settings) error
	SyncTriggers(ctx context.Context, siteID string) error
}

// Sender moves the artifact.
type Sender interface {
	Send(ctx context.Context, target *domain.Target, plan deployment.Plan, artifact transport.ArtifactFactory) (transport.Result, error)
	ZipDeploy(ctx context.Context, target *domain.Target, artifact transport.ArtifactFactory) (transport.Result, error)
}

// Tracker follows a deployment to a terminal state.
type Tracker interface {
	Track(ctx context.Context, target *domain.Target, dialect deployment.StatusDialect) (domain.DeploymentStatus, error)
}

// Notifier receives the user-facing lines of a run.
type Notifier interface {
	Info(format string, args ...any)
	Success(format string, args ...any)
	Warning(format string, args ...any)
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds the fixed delays and retry budgets of a publish run.
type Config struct {
	// SyncTriggersDelay is waited before syncing triggers. Default: 5 seconds.
	SyncTriggersDelay time.Duration

	// SyncAttempts and SyncRetryDelay bound trigger sync. Default: 5 and 2 seconds.
	SyncAttempts   int
	SyncRetryDelay time.Duration

	// RemoteBuildSettleDelay is waited after enabling remote build on a
	// Windows target. Default: 15 seconds.
	RemoteBuildSettleDelay time.Duration

	// SettingsRemovalDelay is waited after removing settings that would
	// shadow a remotely built package. Default: 5 seconds.
	SettingsRemovalDelay time.Duration

	// ConvergenceTimeout bounds settings convergence waits. Zero uses the
	// converger's default.
	ConvergenceTimeout time.Duration

	UserAgent string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		SyncTriggersDelay:      5 * time.Second,
		SyncAttempts:           5,
		SyncRetryDelay:         2 * time.Second,
		RemoteBuildSettleDelay: 15 * time.Second,
		SettingsRemovalDelay:   5 * time.Second,
	}
}

// Options are the caller's choices for one run.
type Options struct {
	Flags deployment.Flags

	// WorkerRuntime is the local project's runtime. Empty skips the check.
	WorkerRuntime string

	// Force turns fixable setting mismatches into setting updates.
	Force bool

	// PublishLocalSettings merges LocalSettings into the target after deploy.
	PublishLocalSettings bool
	LocalSettings        map[string]string

	// Resolver decides setting conflicts. Nil keeps the remote value.
	Resolver deployment.ConflictResolver
}

// Result is the outcome of a run.
type Result struct {
	Strategy       domain.Strategy
	FinalStatus    domain.DeploymentStatus
	SyncedTriggers bool

	// Warnings are non-fatal problems reported during the run.
	Warnings []error
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator runs publishes.
type Orchestrator struct {
	config    Config
	mgmt      Management
	sender    Sender
	tracker   Tracker
	converger transport.Converger
	out       Notifier
	logger    *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an orchestrator. out may be nil.
func New(config Config, mgmt Management, sender Sender, tracker Tracker, converger transport.Converger, out Notifier, logger *slog.Logger) *Orchestrator {
	defaults := DefaultConfig()
	if config.SyncTriggersDelay == 0 {
		config.SyncTriggersDelay = defaults.SyncTriggersDelay
	}
	if config.SyncAttempts == 0 {
		config.SyncAttempts = defaults.SyncAttempts
	}
	if config.SyncRetryDelay == 0 {
		config.SyncRetryDelay = defaults.SyncRetryDelay
	}
	if config.RemoteBuildSettleDelay == 0 {
		config.RemoteBuildSettleDelay = defaults.RemoteBuildSettleDelay
	}
	if config.SettingsRemovalDelay == 0 {
		config.SettingsRemovalDelay = defaults.SettingsRemovalDelay
	}

	if out == nil {
		out = console.New(io.Discard, false)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		config:    config,
		mgmt:      mgmt,
		sender:    sender,
		tracker:   tracker,
		converger: converger,
		out:       out,
		logger:    logger.With("component", "publish"),
		sleep:     sleepCtx,
	}
}

// Publish deploys the artifact to target.
//
// Fatal errors are returned as *StepError naming the step that failed. A
// status timeout and a partial success are warnings: the run continues and
// they are listed in Result.Warnings. A failed or conflicting deployment, or
// an unhealthy app after a Flex deploy, stops the run before settings are
// published.
func (o *Orchestrator) Publish(ctx context.Context, target *domain.Target, build domain.BuildOption, artifact transport.ArtifactFactory, opts Options) (Result, error) {
	if err := target.Validate(); err != nil {
		return Result{}, &StepError{Step: StepValidate, Err: err}
	}
	additional, err := deployment.ValidatePublish(target, build, deployment.ValidationOptions{
		WorkerRuntime: opts.WorkerRuntime,
		Force:         opts.Force,
	})
	if err != nil {
		return Result{}, &StepError{Step: StepValidate, Err: err}
	}

	plan := deployment.PlanDeployment(target, build, opts.Flags)
	logger := o.logger.With("target", target.Name, "strategy", plan.Strategy)
	logger.Info("deployment planned",
		"hosting", target.Hosting,
		"os", target.OS,
		"build", build,
		"pre_transport", plan.PreTransport,
		"sync_triggers", plan.SyncTriggers,
	)

	result := Result{Strategy: plan.Strategy, FinalStatus: domain.StatusUnknown}

	if err := o.prepare(ctx, target, plan, opts.Flags, &result); err != nil {
		return result, &StepError{Step: StepPreTransport, Err: err}
	}

	if plan.Strategy != domain.StrategyDeferredZipDeploy {
		o.out.Info("Uploading package...")
	}
	sent, err := o.sender.Send(ctx, target, plan, artifact)
	if err != nil {
		return result, &StepError{Step: StepTransport, Err: err}
	}
	if !sent.Deferred {
		o.out.Info("Upload completed successfully.")
	}
	result.FinalStatus = domain.StatusSuccess

	if plan.TracksStatus() {
		status, err := o.trackStatus(ctx, target, plan, &result)
		result.FinalStatus = status
		if err != nil {
			return result, &StepError{Step: StepStatus, Err: err}
		}
	}

	if opts.PublishLocalSettings || len(additional) > 0 {
		var local map[string]string
		if opts.PublishLocalSettings {
			local = opts.LocalSettings
		}
		if _, err := o.publishSettings(ctx, target, local, additional, opts.Resolver); err != nil {
			o.warn(&result, &StepError{Step: StepSettings, Err: err})
		}
	}

	if sent.Deferred {
		o.out.Info("Deploying package...")
		if _, err := o.sender.ZipDeploy(ctx, target, artifact); err != nil {
			return result, &StepError{Step: StepDeferredDeploy, Err: err}
		}
	}

	if plan.SyncTriggers {
		if err := o.syncTriggers(ctx, target, logger); err != nil {
			return result, &StepError{Step: StepSyncTriggers, Err: err}
		}
		result.SyncedTriggers = true
	}

	switch result.FinalStatus {
	case domain.StatusSuccess:
		o.out.Success("Deployment completed successfully.")
	case domain.StatusPartialSuccess:
		o.out.Warning("Deployment completed with warnings.")
	default:
		o.out.Warning("Deployment finished with unknown status, please check %s", target.DeploymentsURL())
	}
	logger.Info("publish finished", "status", result.FinalStatus, "synced_triggers", result.SyncedTriggers, "warnings", len(result.Warnings))
	return result, nil
}

// trackStatus waits for the deployment. A status timeout comes back as a
// warning with StatusUnknown; every other tracker error is fatal.
func (o *Orchestrator) trackStatus(ctx context.Context, target *domain.Target, plan deployment.Plan, result *Result) (domain.DeploymentStatus, error) {
	status, err := o.tracker.Track(ctx, target, plan.Dialect)

	var timeout *domain.StatusTimeoutError
	if errors.As(err, &timeout) {
		o.warn(result, err)
		return domain.StatusUnknown, nil
	}
	if err != nil {
		return status, err
	}

	if status == domain.StatusPartialSuccess {
		o.warn(result, errors.New("deployment partially succeeded, the package is live but some steps reported errors"))
	}
	return status, nil
}

func (o *Orchestrator) syncTriggers(ctx context.Context, target *domain.Target, logger *slog.Logger) error {
	if err := o.sleep(ctx, o.config.SyncTriggersDelay); err != nil {
		return err
	}
	policy := retry.Policy{MaxAttempts: o.config.SyncAttempts, Delay: o.config.SyncRetryDelay, DisplayFailures: true}
	return retry.Run(ctx, policy, logger, func(ctx context.Context) error {
		o.out.Info("Syncing triggers...")
		return o.mgmt.SyncTriggers(ctx, target.SiteID)
	})
}

func (o *Orchestrator) warn(result *Result, err error) {
	result.Warnings = append(result.Warnings, err)
	o.out.Warning("%v", err)
	o.logger.Warn("publish warning", "error", err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
