package domain

// =============================================================================
// Deployment Status
// =============================================================================

// DeploymentStatus is the closed set of outcomes a status poll maps onto.
type DeploymentStatus string

const (
	StatusUnknown        DeploymentStatus = "unknown"
	StatusPending        DeploymentStatus = "pending"
	StatusSuccess        DeploymentStatus = "success"
	StatusFailed         DeploymentStatus = "failed"
	StatusConflict       DeploymentStatus = "conflict"
	StatusPartialSuccess DeploymentStatus = "partial_success"
)

// IsTerminal reports whether polling stops at this status.
func (s DeploymentStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusConflict, StatusPartialSuccess:
		return true
	}
	return false
}

// IsFatal reports whether the remote side rejected the deployment.
func (s DeploymentStatus) IsFatal() bool {
	return s == StatusFailed || s == StatusConflict
}

// =============================================================================
// Deployment Strategy
// =============================================================================

// Strategy is how an artifact reaches a target. One is chosen per run.
type Strategy string

const (
	StrategyZipDeployStreaming        Strategy = "zip_deploy_streaming"
	StrategyRunFromPackageBlobStaged  Strategy = "run_from_package_blob_staged"
	StrategyRunFromPackageLocalMarker Strategy = "run_from_package_local_marker"
	StrategyServerSideBuildZipDeploy  Strategy = "server_side_build_zip_deploy"
	StrategyFlexPublish               Strategy = "flex_publish"
	StrategyDeferredZipDeploy         Strategy = "deferred_zip_deploy"
)

// AllStrategies lists every strategy.
func AllStrategies() []Strategy {
	return []Strategy{
		StrategyZipDeployStreaming,
		StrategyRunFromPackageBlobStaged,
		StrategyRunFromPackageLocalMarker,
		StrategyServerSideBuildZipDeploy,
		StrategyFlexPublish,
		StrategyDeferredZipDeploy,
	}
}

// Valid reports whether s is one of the known strategies.
func (s Strategy) Valid() bool {
	for _, known := range AllStrategies() {
		if s == known {
			return true
		}
	}
	return false
}
