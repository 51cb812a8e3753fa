package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/artpar/fnpublish/internal/core/deployment"
	"github.com/artpar/fnpublish/internal/core/domain"
	"github.com/artpar/fnpublish/internal/shell/kudu"
)

// =============================================================================
// Pre-transport Settings
// =============================================================================

// prepare applies the settings change the plan requires before transport.
func (o *Orchestrator) prepare(ctx context.Context, target *domain.Target, plan deployment.Plan, flags deployment.Flags, result *Result) error {
	switch plan.PreTransport {
	case deployment.PreNone:
		return nil

	case deployment.PreRemoteBuildSettings:
		return o.enableRemoteBuild(ctx, target, domain.RemoteBuildSettings(), 0)

	case deployment.PreWindowsRemoteBuildSettings:
		return o.enableRemoteBuild(ctx, target, map[string]string{domain.SettingScmDoBuild: "true"}, o.config.RemoteBuildSettleDelay)

	case deployment.PreClearRemoteBuildSettings:
		if err := o.clearRemoteBuild(ctx, target, flags.RunFromPackage); err != nil {
			o.warn(result, fmt.Errorf("could not remove remote build settings: %w", err))
		}
		return nil

	case deployment.PreConsumptionRemoteBuild:
		return o.prepareConsumptionRemoteBuild(ctx, target)
	}
	return &domain.PlanningError{Strategy: plan.Strategy, Message: fmt.Sprintf("unknown pre-transport step %q", plan.PreTransport)}
}

// enableRemoteBuild drops the run-from-package setting, merges the build
// settings, and waits until the deployment-control endpoint sees them.
func (o *Orchestrator) enableRemoteBuild(ctx context.Context, target *domain.Target, settings map[string]string, settle time.Duration) error {
	changed := target.Settings.Delete(domain.SettingRunFromPackage)
	if target.Settings.SafeLeftMerge(settings) {
		changed = true
	}
	if !changed {
		return nil
	}

	o.out.Info("Updating Application Settings for Remote build...")
	if err := o.mgmt.UpdateAppSettings(ctx, target.SiteID, target.Settings); err != nil {
		return err
	}
	delta := deployment.ConfigurationDelta{
		MustHave:    target.Settings.Clone(),
		MustNotHave: map[string]string{domain.SettingRunFromPackage: "1"},
	}
	if err := o.converger.WaitForConvergence(ctx, target, delta, o.config.ConvergenceTimeout); err != nil {
		return err
	}
	return o.sleep(ctx, settle)
}

// clearRemoteBuild removes server-side build settings left by an earlier
// remote build, so a locally built package is not rebuilt.
func (o *Orchestrator) clearRemoteBuild(ctx context.Context, target *domain.Target, runFromPackage bool) error {
	remove := domain.RemoteBuildSettings()
	if !runFromPackage {
		remove[domain.SettingRunFromPackage] = "1"
	}
	if !target.Settings.RemoveIfValue(remove) {
		return nil
	}

	if err := o.mgmt.UpdateAppSettings(ctx, target.SiteID, target.Settings); err != nil {
		return err
	}
	delta := deployment.ConfigurationDelta{
		MustHave:    target.Settings.Clone(),
		MustNotHave: remove,
	}
	return o.converger.WaitForConvergence(ctx, target, delta, o.config.ConvergenceTimeout)
}

// prepareConsumptionRemoteBuild checks that a consumption target can build
// remotely and removes the settings that would shadow the built package.
func (o *Orchestrator) prepareConsumptionRemoteBuild(ctx context.Context, target *domain.Target) error {
	if target.ScmHost == "" {
		return fmt.Errorf("%w: %s has no deployment endpoint", domain.ErrRemoteBuildUnsupported, target.Name)
	}
	scm, err := kudu.ForTarget(target, o.config.UserAgent, 0, o.logger).Settings(ctx)
	if err != nil {
		return err
	}
	if _, ok := scm[domain.SettingScmRunFromPackage]; !ok {
		return fmt.Errorf("%w: %s was created before remote build support, use a local build instead",
			domain.ErrRemoteBuildUnsupported, target.Name)
	}

	removed := false
	for _, key := range []string{
		domain.SettingRunFromPackage,
		domain.SettingContentFileConnection,
		domain.SettingContentShare,
	} {
		if target.Settings.Delete(key) {
			o.out.Warning("Removing %s app setting.", key)
			removed = true
		}
	}
	if !removed {
		return nil
	}

	if err := o.mgmt.UpdateAppSettings(ctx, target.SiteID, target.Settings); err != nil {
		return err
	}
	return o.sleep(ctx, o.config.SettingsRemovalDelay)
}
