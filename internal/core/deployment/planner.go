package deployment

import "github.com/artpar/fnpublish/internal/core/domain"

// =============================================================================
// Plan Types
// =============================================================================

// PreTransportStep is a settings change applied before the artifact moves.
type PreTransportStep string

const (
	PreNone PreTransportStep = ""

	// PreRemoteBuildSettings turns on server-side build for Linux app-service
	// targets and waits for the change to converge.
	PreRemoteBuildSettings PreTransportStep = "remote_build_settings"

	// PreWindowsRemoteBuildSettings is the Windows variant: only the
	// build-during-deployment switch, followed by a settle delay.
	PreWindowsRemoteBuildSettings PreTransportStep = "windows_remote_build_settings"

	// PreClearRemoteBuildSettings removes stale server-side build settings
	// before a local-build deployment. Best effort.
	PreClearRemoteBuildSettings PreTransportStep = "clear_remote_build_settings"

	// PreConsumptionRemoteBuild verifies remote build support on a consumption
	// target and drops the settings that would shadow the built package.
	PreConsumptionRemoteBuild PreTransportStep = "consumption_remote_build"
)

// ArtifactFormat is the container format of the artifact bytes.
type ArtifactFormat string

const (
	FormatZip      ArtifactFormat = "zip"
	FormatSquashfs ArtifactFormat = "squashfs"
)

// ContentType returns the media type used when staging the artifact.
func (f ArtifactFormat) ContentType() string {
	if f == FormatSquashfs {
		return "application/octet-stream"
	}
	return "application/zip"
}

// Flags are caller choices that influence planning.
type Flags struct {
	// RunFromPackage requests the local run-from-package marker mode on
	// targets that support it.
	RunFromPackage bool

	// NativeDependencies reports that a native-dependency post-process turned
	// the artifact into a squashfs image.
	NativeDependencies bool
}

// Plan is the outcome of strategy selection for one publish run.
type Plan struct {
	Strategy       domain.Strategy
	SyncTriggers   bool
	PreTransport   PreTransportStep
	Dialect        StatusDialect
	ArtifactFormat ArtifactFormat

	// RemoteBuild is forwarded to the Flex publish endpoint.
	RemoteBuild bool
}

// =============================================================================
// Planning
// =============================================================================

// PlanDeployment selects the deployment strategy for a target. It is a pure, total
// function: every classification lands on a strategy, and unmatched
// combinations fall through to a streaming zip deploy with trigger sync.
//
// Decision order (first match wins):
//   - container-orchestrated → deferred zip deploy, no trigger sync
//   - Linux dynamic consumption → server-side build (remote) or blob staged
//   - flex consumption → flex publish
//   - Linux elastic premium → server-side build (remote) or blob staged
//   - Linux dedicated → server-side build (remote), local marker or zip deploy
//   - Windows dedicated/dynamic → remote-build zip deploy, local marker or zip deploy
func PlanDeployment(target *domain.Target, build domain.BuildOption, flags Flags) Plan {
	p := Plan{ArtifactFormat: FormatZip}
	remote := build == domain.BuildRemote

	switch {
	case target.Hosting == domain.HostingContainerOrchestrated:
		// Trigger sync happens as a side effect of the deferred zip deploy.
		p.Strategy = domain.StrategyDeferredZipDeploy
		p.SyncTriggers = false

	case target.Hosting == domain.HostingDynamicConsumption && target.IsLinux():
		switch {
		case remote:
			p.Strategy = domain.StrategyServerSideBuildZipDeploy
			p.PreTransport = PreConsumptionRemoteBuild
			p.Dialect = DialectKudu
		default:
			p.Strategy = domain.StrategyRunFromPackageBlobStaged
			p.SyncTriggers = true
			if build == domain.BuildContainer && flags.NativeDependencies {
				p.ArtifactFormat = FormatSquashfs
			}
		}

	case target.Hosting == domain.HostingFlexConsumption:
		p.Strategy = domain.StrategyFlexPublish
		p.Dialect = DialectFlex
		p.RemoteBuild = remote

	case target.Hosting == domain.HostingElasticPremium && target.IsLinux():
		if remote {
			p.Strategy = domain.StrategyServerSideBuildZipDeploy
			p.PreTransport = PreRemoteBuildSettings
			p.Dialect = DialectKudu
			break
		}
		p.Strategy = domain.StrategyRunFromPackageBlobStaged
		p.PreTransport = PreClearRemoteBuildSettings
		p.SyncTriggers = true

	case target.Hosting == domain.HostingDedicated && target.IsLinux():
		if remote {
			p.Strategy = domain.StrategyServerSideBuildZipDeploy
			p.PreTransport = PreRemoteBuildSettings
			p.Dialect = DialectKudu
			break
		}
		p.PreTransport = PreClearRemoteBuildSettings
		p.SyncTriggers = true
		p.Strategy = localStrategy(flags)

	case target.IsWindows() && (target.Hosting == domain.HostingDedicated || target.Hosting == domain.HostingDynamicConsumption):
		if remote {
			p.Strategy = domain.StrategyZipDeployStreaming
			p.PreTransport = PreWindowsRemoteBuildSettings
			break
		}
		p.SyncTriggers = true
		p.Strategy = localStrategy(flags)

	default:
		p.Strategy = domain.StrategyZipDeployStreaming
		p.SyncTriggers = true
	}

	return p
}

func localStrategy(flags Flags) domain.Strategy {
	if flags.RunFromPackage {
		return domain.StrategyRunFromPackageLocalMarker
	}
	return domain.StrategyZipDeployStreaming
}

// TracksStatus reports whether the plan waits on the status endpoint after
// the artifact is accepted.
func (p Plan) TracksStatus() bool {
	return p.Dialect != DialectNone
}
