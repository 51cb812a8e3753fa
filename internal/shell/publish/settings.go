package publish

import (
	"context"

	"github.com/artpar/fnpublish/internal/core/deployment"
	"github.com/artpar/fnpublish/internal/core/domain"
)

// =============================================================================
// Settings Publish
// =============================================================================

// OverwriteResolver lets every local value replace a differing remote one.
func OverwriteResolver(key, remoteValue, localValue string) bool { return true }

// KeepRemoteResolver keeps every remote value.
func KeepRemoteResolver(key, remoteValue, localValue string) bool { return false }

// flexManagedSettings are configured on Flex targets through the site
// configuration, never as app settings.
var flexManagedSettings = []string{
	domain.SettingFunctionsWorkerRuntime,
	domain.SettingWorkerRuntimeVersion,
}

// PublishSettingsOnly merges local settings into target without deploying.
func (o *Orchestrator) PublishSettingsOnly(ctx context.Context, target *domain.Target, local map[string]string, resolve deployment.ConflictResolver) (deployment.MergeReport, error) {
	if err := target.Validate(); err != nil {
		return deployment.MergeReport{}, &StepError{Step: StepValidate, Err: err}
	}
	report, err := o.publishSettings(ctx, target, local, nil, resolve)
	if err != nil {
		return report, &StepError{Step: StepSettings, Err: err}
	}
	o.out.Success("App settings published.")
	return report, nil
}

// publishSettings reads the current remote settings, merges local and
// additional into them, and writes the result back.
func (o *Orchestrator) publishSettings(ctx context.Context, target *domain.Target, local, additional map[string]string, resolve deployment.ConflictResolver) (deployment.MergeReport, error) {
	if target.Hosting == domain.HostingFlexConsumption {
		local = withoutKeys(local, flexManagedSettings)
	}
	if resolve == nil {
		resolve = KeepRemoteResolver
	}

	o.out.Info("Setting app settings...")
	remote, err := o.mgmt.ListAppSettings(ctx, target.SiteID)
	if err != nil {
		return deployment.MergeReport{}, err
	}

	merged, report := deployment.MergeSettings(remote, local, additional, resolve)
	if err := o.mgmt.UpdateAppSettings(ctx, target.SiteID, merged); err != nil {
		return report, err
	}
	target.Settings = merged

	for _, k := range report.Kept {
		o.out.Warning("App setting %s differs from the local value, keeping the remote value.", k)
	}
	o.logger.Debug("settings published",
		"target", target.Name,
		"set", len(report.Set),
		"overwritten", len(report.Overwritten),
		"kept", len(report.Kept),
		"removed", len(report.Removed),
	)
	return report, nil
}

func withoutKeys(m map[string]string, keys []string) map[string]string {
	out := domain.Settings(m).Clone()
	for _, k := range keys {
		out.Delete(k)
	}
	return out
}
