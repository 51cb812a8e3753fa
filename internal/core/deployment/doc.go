// Package deployment provides pure functions for publish planning.
//
// This package contains the functional core logic for choosing how an artifact
// reaches a target and for interpreting what the target reports back. All
// functions are pure (no I/O, no side effects).
//
// # Functions
//
//   - Planning: Choose strategy, pre-transport step and status dialect (PlanDeployment)
//   - Validation: Check a target against the requested build (ValidatePublish)
//   - Settings: Convergence contracts and settings merge (ConfigurationDelta, MergeSettings)
//   - Status: Parse deployment-control payloads (ParseRecord, ParseRecords, ParseLogEntries)
//   - Naming: Staged blob names and token windows (BlobName, SASWindow)
//   - Variables: Expand placeholders in local setting values (ExpandSettings)
//
// # Usage
//
// The imperative shell (internal/shell/publish) uses these pure functions
// to plan a run, then executes the plan against the remote endpoints.
//
//	additional, err := deployment.ValidatePublish(target, build, opts)
//	plan := deployment.PlanDeployment(target, build, flags)
//	rec, err := deployment.ParseRecord(plan.Dialect, body)
package deployment
