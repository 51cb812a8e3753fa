package deployment

import (
	"fmt"
	"strings"

	"github.com/artpar/fnpublish/internal/core/domain"
)

// =============================================================================
// Publish Validation
// =============================================================================

// ValidationOptions carry the local facts validation compares against.
type ValidationOptions struct {
	// WorkerRuntime is the runtime of the local project, e.g. "python".
	// Empty skips the runtime check.
	WorkerRuntime string

	// Force turns fixable mismatches into additional settings instead of errors.
	Force bool
}

var knownRuntimes = map[string]string{
	"dotnet":          "dotnet",
	"dotnet-isolated": "dotnet-isolated",
	"dotnetisolated":  "dotnet-isolated",
	"node":            "node",
	"javascript":      "node",
	"typescript":      "node",
	"python":          "python",
	"java":            "java",
	"powershell":      "powershell",
	"custom":          "custom",
}

// NormalizeRuntime maps a runtime name or alias onto its canonical name.
func NormalizeRuntime(name string) (string, bool) {
	rt, ok := knownRuntimes[strings.ToLower(strings.TrimSpace(name))]
	return rt, ok
}

// ValidatePublish checks the target against the requested build before
// anything is sent. With Force, fixable mismatches are returned as settings
// to add to the target instead of failing.
func ValidatePublish(target *domain.Target, build domain.BuildOption, opts ValidationOptions) (map[string]string, error) {
	additional := make(map[string]string)

	if target.IsWindows() {
		if build == domain.BuildContainer {
			return nil, &domain.ValidationError{Reason: "build option container is not supported for windows targets"}
		}
		if build == domain.BuildRemote && target.Hosting == domain.HostingElasticPremium {
			return nil, &domain.ValidationError{Reason: "remote build is not supported for windows elastic premium targets"}
		}
		if err := checkExtensionVersion(target.Settings, opts.Force, additional); err != nil {
			return nil, err
		}
	}

	if opts.WorkerRuntime != "" && target.Hosting != domain.HostingFlexConsumption {
		if err := checkWorkerRuntime(target.Settings, opts, additional); err != nil {
			return nil, err
		}
	}

	if target.IsLinux() && target.Hosting == domain.HostingDynamicConsumption && !target.Settings.Has(domain.SettingWebJobsStorage) {
		return nil, &domain.ValidationError{Reason: fmt.Sprintf(
			"%s is missing from the target settings, it is required to publish to linux consumption targets",
			domain.SettingWebJobsStorage)}
	}

	return additional, nil
}

func checkExtensionVersion(settings domain.Settings, force bool, additional map[string]string) error {
	v, ok := settings.Lookup(domain.SettingFunctionsExtension)
	if !ok || v == "~4" || strings.HasPrefix(v, "4.") {
		return nil
	}
	if force {
		additional[domain.SettingFunctionsExtension] = "~4"
		return nil
	}
	return &domain.ValidationError{Reason: fmt.Sprintf(
		"%s is set to %q on the target, only ~4 is supported (use force to update it)",
		domain.SettingFunctionsExtension, v)}
}

func checkWorkerRuntime(settings domain.Settings, opts ValidationOptions, additional map[string]string) error {
	local, ok := NormalizeRuntime(opts.WorkerRuntime)
	if !ok {
		return &domain.ValidationError{Reason: fmt.Sprintf("unknown local worker runtime %q", opts.WorkerRuntime)}
	}

	remoteRaw, present := settings.Lookup(domain.SettingFunctionsWorkerRuntime)
	if !present {
		additional[domain.SettingFunctionsWorkerRuntime] = local
		return nil
	}

	remote, known := NormalizeRuntime(remoteRaw)
	if known && remote == local {
		return nil
	}
	if opts.Force {
		additional[domain.SettingFunctionsWorkerRuntime] = local
		return nil
	}
	return &domain.ValidationError{Reason: fmt.Sprintf(
		"the target is configured for worker runtime %q but the local project uses %q (use force to update it)",
		remoteRaw, local)}
}
