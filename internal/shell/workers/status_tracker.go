package workers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/artpar/fnpublish/internal/core/deployment"
	"github.com/artpar/fnpublish/internal/core/domain"
	"github.com/artpar/fnpublish/internal/shell/kudu"
)

// StatusTrackerConfig configures the deployment status tracker.
type StatusTrackerConfig struct {
	// Interval is the time between status polls.
	// Default: 3 seconds.
	Interval time.Duration

	// Timeout bounds the whole wait, including finding the deployment.
	// Default: 30 minutes.
	Timeout time.Duration

	// FlexHealthDelay is waited after a Flex deployment succeeds and before the
	// host health check, so trigger sync can catch up server side.
	// Default: 60 seconds.
	FlexHealthDelay time.Duration

	// UserAgent is sent to the deployment-control endpoint.
	UserAgent string
}

// DefaultStatusTrackerConfig returns the default configuration.
func DefaultStatusTrackerConfig() StatusTrackerConfig {
	return StatusTrackerConfig{
		Interval:        3 * time.Second,
		Timeout:         30 * time.Minute,
		FlexHealthDelay: 60 * time.Second,
	}
}

// HostChecker verifies a deployed app is running.
type HostChecker interface {
	Check(ctx context.Context, target *domain.Target) error
}

// LogSink receives deployment log lines as they appear.
type LogSink func(entry deployment.LogEntry)

// StatusTracker polls the deployment-control endpoint until the deployment
// that was just accepted reaches a terminal state.
type StatusTracker struct {
	health HostChecker
	sink   LogSink
	config StatusTrackerConfig
	logger *slog.Logger
}

// NewStatusTracker creates a new status tracker. health is only used for
// Flex targets; sink may be nil.
func NewStatusTracker(health HostChecker, sink LogSink, config StatusTrackerConfig, logger *slog.Logger) *StatusTracker {
	defaults := DefaultStatusTrackerConfig()
	if config.Interval == 0 {
		config.Interval = defaults.Interval
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.FlexHealthDelay == 0 {
		config.FlexHealthDelay = defaults.FlexHealthDelay
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &StatusTracker{
		health: health,
		sink:   sink,
		config: config,
		logger: logger.With("component", "status_tracker"),
	}
}

// Track waits for the latest deployment of target to finish.
//
// The status starts Unknown and stays Unknown while the endpoint is
// unreachable or its payload cannot be parsed. When the timeout elapses
// before a terminal state, Track returns StatusUnknown with a
// *domain.StatusTimeoutError, which callers report as a warning: the
// deployment may still have succeeded.
//
// Failed and Conflict return *domain.DeploymentFailedError and
// *domain.DeploymentConflictError. A Flex success is followed by the health
// delay and a host check; a failing check returns StatusSuccess with
// *domain.UnhealthyAfterDeployError.
func (s *StatusTracker) Track(ctx context.Context, target *domain.Target, dialect deployment.StatusDialect) (domain.DeploymentStatus, error) {
	client := kudu.ForTarget(target, s.config.UserAgent, requestTimeout, s.logger)
	logger := s.logger.With("target", target.Name, "dialect", dialect)
	deadline := time.Now().Add(s.config.Timeout)
	timeout := &domain.StatusTimeoutError{Timeout: s.config.Timeout, DeploymentsURL: target.DeploymentsURL()}

	id, err := s.findDeployment(ctx, client, dialect, deadline, logger)
	if err != nil {
		if errors.Is(err, domain.ErrNoDeployment) {
			return domain.StatusUnknown, timeout
		}
		return domain.StatusUnknown, err
	}
	logger = logger.With("deployment_id", id)

	// Flex targets do not serve per-deployment logs.
	sink := s.sink
	if dialect == deployment.DialectFlex {
		sink = nil
	}
	logs := newLogFollower(client, dialect, id, sink, logger)
	status := domain.StatusUnknown
	for {
		rec, err := client.Deployment(ctx, dialect, id)
		switch {
		case err != nil:
			logger.Debug("status poll failed", "error", err)
		case rec.Status != status:
			logger.Debug("deployment status changed", "from", status, "to", rec.Status)
			status = rec.Status
		}
		if err == nil {
			logs.follow(ctx)
		}

		if status.IsTerminal() {
			return s.finish(ctx, target, dialect, id, status)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return domain.StatusUnknown, timeout
		}
		if err := sleepCtx(ctx, min(s.config.Interval, remaining)); err != nil {
			return domain.StatusUnknown, err
		}
	}
}

// findDeployment polls the deployment listing until the remote side has
// picked up a deployment.
func (s *StatusTracker) findDeployment(ctx context.Context, client *kudu.Client, dialect deployment.StatusDialect, deadline time.Time, logger *slog.Logger) (string, error) {
	for {
		id, err := client.LatestDeploymentID(ctx, dialect)
		if err == nil {
			return id, nil
		}
		logger.Debug("deployment not registered yet", "error", err)

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", domain.ErrNoDeployment
		}
		if err := sleepCtx(ctx, min(s.config.Interval, remaining)); err != nil {
			return "", err
		}
	}
}

func (s *StatusTracker) finish(ctx context.Context, target *domain.Target, dialect deployment.StatusDialect, id string, status domain.DeploymentStatus) (domain.DeploymentStatus, error) {
	switch status {
	case domain.StatusFailed:
		return status, &domain.DeploymentFailedError{ID: id, DeploymentsURL: target.DeploymentsURL()}
	case domain.StatusConflict:
		return status, &domain.DeploymentConflictError{ID: id}
	case domain.StatusSuccess:
		if dialect != deployment.DialectFlex || s.health == nil {
			return status, nil
		}
		s.logger.Debug("waiting before host health check", "delay", s.config.FlexHealthDelay)
		if err := sleepCtx(ctx, s.config.FlexHealthDelay); err != nil {
			return status, err
		}
		if err := s.health.Check(ctx, target); err != nil {
			return status, &domain.UnhealthyAfterDeployError{Err: err}
		}
	}
	return status, nil
}

// =============================================================================
// Deployment Log Following
// =============================================================================

// maxLogDepth bounds how far details URLs are followed.
const maxLogDepth = 3

// logFollower forwards deployment log entries to a sink, each one once.
type logFollower struct {
	client  *kudu.Client
	dialect deployment.StatusDialect
	id      string
	sink    LogSink
	seen    map[string]bool
	logger  *slog.Logger
}

func newLogFollower(client *kudu.Client, dialect deployment.StatusDialect, id string, sink LogSink, logger *slog.Logger) *logFollower {
	return &logFollower{
		client:  client,
		dialect: dialect,
		id:      id,
		sink:    sink,
		seen:    map[string]bool{},
		logger:  logger,
	}
}

// follow fetches the log and emits unseen entries. Best effort.
func (f *logFollower) follow(ctx context.Context) {
	if f.sink == nil {
		return
	}
	entries, err := f.client.DeploymentLog(ctx, f.dialect, f.id)
	if err != nil {
		f.logger.Debug("deployment log unavailable", "error", err)
		return
	}
	f.emit(ctx, entries, 1)
}

func (f *logFollower) emit(ctx context.Context, entries []deployment.LogEntry, depth int) {
	for _, e := range entries {
		key := e.Time + "\x00" + e.Message
		if !f.seen[key] {
			f.seen[key] = true
			f.sink(e)
		}
		if e.DetailsURL == "" || depth >= maxLogDepth {
			continue
		}
		nested, err := f.client.LogAt(ctx, e.DetailsURL)
		if err != nil {
			f.logger.Debug("deployment log details unavailable", "url", e.DetailsURL, "error", err)
			continue
		}
		f.emit(ctx, nested, depth+1)
	}
}
