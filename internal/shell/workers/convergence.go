// Package workers contains the pollers a publish run blocks on: settings
// convergence, deployment status and host health.
package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/artpar/fnpublish/internal/core/deployment"
	"github.com/artpar/fnpublish/internal/core/domain"
	"github.com/artpar/fnpublish/internal/shell/kudu"
)

// requestTimeout bounds a single poll request.
const requestTimeout = 30 * time.Second

// ConvergenceConfig configures the settings convergence poller.
type ConvergenceConfig struct {
	// Interval is the time between reads of the settings view.
	// Default: 5 seconds.
	Interval time.Duration

	// Timeout is used when WaitForConvergence is called without one.
	// Default: 300 seconds.
	Timeout time.Duration

	// UserAgent is sent to the deployment-control endpoint.
	UserAgent string
}

// DefaultConvergenceConfig returns the default configuration.
func DefaultConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Interval: 5 * time.Second,
		Timeout:  300 * time.Second,
	}
}

// ConvergencePoller waits until settings written through the management
// endpoint are visible on the deployment-control endpoint. Writes propagate
// asynchronously, and the next transport step reads them from there.
type ConvergencePoller struct {
	config ConvergenceConfig
	logger *slog.Logger
}

// NewConvergencePoller creates a new convergence poller.
func NewConvergencePoller(config ConvergenceConfig, logger *slog.Logger) *ConvergencePoller {
	defaults := DefaultConvergenceConfig()
	if config.Interval == 0 {
		config.Interval = defaults.Interval
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &ConvergencePoller{
		config: config,
		logger: logger.With("component", "convergence_poller"),
	}
}

// WaitForConvergence polls the target's settings view until delta is
// satisfied. It returns *domain.ConvergenceTimeoutError when timeout elapses
// first; a zero timeout uses the configured default. Read failures are
// logged and polled through.
func (p *ConvergencePoller) WaitForConvergence(ctx context.Context, target *domain.Target, delta deployment.ConfigurationDelta, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = p.config.Timeout
	}
	client := kudu.ForTarget(target, p.config.UserAgent, requestTimeout, p.logger)
	logger := p.logger.With("target", target.Name)

	deadline := time.Now().Add(timeout)
	pending := delta.Pending(nil)
	for polls := 1; ; polls++ {
		view, err := client.Settings(ctx)
		if err != nil {
			logger.Debug("settings read failed", "poll", polls, "error", err)
		} else {
			pending = delta.Pending(view)
			if len(pending) == 0 {
				logger.Debug("settings converged", "polls", polls)
				return nil
			}
			logger.Debug("waiting for settings", "poll", polls, "pending", pending)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &domain.ConvergenceTimeoutError{Timeout: timeout, Pending: pending}
		}
		if err := sleepCtx(ctx, min(p.config.Interval, remaining)); err != nil {
			return err
		}
	}
}

// sleepCtx waits for d or until ctx ends.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
