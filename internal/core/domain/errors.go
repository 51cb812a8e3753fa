package domain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrRemoteBuildUnsupported is returned when a consumption target predates
	// server-side build support.
	ErrRemoteBuildUnsupported = errors.New("remote build is not supported by this function app")

	// ErrMissingStorage is returned when blob staging has no storage connection.
	ErrMissingStorage = errors.New("storage connection setting is missing")

	// ErrNoDeployment is returned while the deployment-control endpoint has not
	// yet registered the deployment that was just accepted.
	ErrNoDeployment = errors.New("no deployment registered yet")
)

// =============================================================================
// Error Types
// =============================================================================

// PlanningError signals a defect in strategy selection. Planning is total, so
// seeing one at runtime is a bug.
type PlanningError struct {
	Strategy Strategy
	Message  string
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning: %s (strategy %q)", e.Message, e.Strategy)
}

// ValidationError is a precondition failure detected before anything is sent.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// TransportError is a non-2xx response or connection failure while talking to
// the deploy, publish or management endpoints.
type TransportError struct {
	Op            string // e.g. "zip deploy", "sync triggers"
	StatusCode    int    // 0 when the request never got a response
	CorrelationID string
	Body          string
	Err           error
}

func (e *TransportError) Error() string {
	msg := e.Op
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: unexpected status %d", msg, e.StatusCode)
	}
	if e.CorrelationID != "" {
		msg = fmt.Sprintf("%s (request id %s)", msg, e.CorrelationID)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s\nserver response: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IntegrityError means the staged blob does not hash to what was uploaded.
// It is never retried.
type IntegrityError struct {
	Blob      string
	LocalMD5  []byte
	RemoteMD5 []byte
}

func (e *IntegrityError) Error() string {
	if len(e.RemoteMD5) == 0 {
		return fmt.Sprintf("upload failed: integrity error: storage service rejected %s, received bytes do not match MD5 %s",
			e.Blob, hex.EncodeToString(e.LocalMD5))
	}
	return fmt.Sprintf("upload failed: integrity error: MD5 mismatch for %s (local %s, remote %s)",
		e.Blob, hex.EncodeToString(e.LocalMD5), hex.EncodeToString(e.RemoteMD5))
}

// Permanent marks the error as not retryable.
func (e *IntegrityError) Permanent() bool { return true }

// StatusTimeoutError means status polling ran out of time. The deployment may
// still have succeeded, so callers report it as a warning.
type StatusTimeoutError struct {
	Timeout        time.Duration
	DeploymentsURL string
}

func (e *StatusTimeoutError) Error() string {
	return fmt.Sprintf("failed to retrieve deployment status within %s, please visit %s", e.Timeout, e.DeploymentsURL)
}

// ConvergenceTimeoutError means requested settings never became visible on
// the deployment-control endpoint.
type ConvergenceTimeoutError struct {
	Timeout time.Duration
	Pending []string
}

func (e *ConvergenceTimeoutError) Error() string {
	if len(e.Pending) == 0 {
		return fmt.Sprintf("timed out after %s waiting for settings to update", e.Timeout)
	}
	return fmt.Sprintf("timed out after %s waiting for settings to update (pending: %v)", e.Timeout, e.Pending)
}

// DeploymentFailedError is a terminal failure reported by the remote side.
type DeploymentFailedError struct {
	ID             string
	DeploymentsURL string
}

func (e *DeploymentFailedError) Error() string {
	if e.DeploymentsURL == "" {
		return fmt.Sprintf("deployment %s failed", e.ID)
	}
	return fmt.Sprintf("deployment %s failed, see %s", e.ID, e.DeploymentsURL)
}

// Permanent marks the error as not retryable.
func (e *DeploymentFailedError) Permanent() bool { return true }

// DeploymentConflictError means another deployment is already running against
// the same target. Retrying would race it.
type DeploymentConflictError struct {
	ID string
}

func (e *DeploymentConflictError) Error() string {
	return fmt.Sprintf("deployment %s was cancelled, another deployment is in progress", e.ID)
}

// Permanent marks the error as not retryable.
func (e *DeploymentConflictError) Permanent() bool { return true }

// UnhealthyAfterDeployError means the artifact is live but the app failed its
// health check.
type UnhealthyAfterDeployError struct {
	Err error
}

func (e *UnhealthyAfterDeployError) Error() string {
	return fmt.Sprintf("deployment was successful but the app appears to be unhealthy, please check the app logs: %v", e.Err)
}

func (e *UnhealthyAfterDeployError) Unwrap() error {
	return e.Err
}

// SettingsUpdateError means the management endpoint refused a settings write.
type SettingsUpdateError struct {
	Op      string
	Message string
	Err     error
}

func (e *SettingsUpdateError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: unable to update app settings: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: unable to update app settings: %v", e.Op, e.Err)
}

func (e *SettingsUpdateError) Unwrap() error {
	return e.Err
}
