package workers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/fnpublish/internal/core/domain"
	"github.com/artpar/fnpublish/internal/shell/sitetest"
)

type staticKeys struct {
	key string
	err error
}

func (k staticKeys) MasterKey(context.Context, string) (string, error) {
	return k.key, k.err
}

// =============================================================================
// Test Configuration
// =============================================================================

func TestDefaultHealthCheckerConfig(t *testing.T) {
	config := DefaultHealthCheckerConfig()

	assert.Equal(t, 15, config.Attempts)
	assert.Equal(t, 5*time.Second, config.Delay)
	assert.Equal(t, 30*time.Second, config.RequestTimeout)
}

func TestNewHealthChecker_DefaultConfig(t *testing.T) {
	hc := NewHealthChecker(staticKeys{}, HealthCheckerConfig{}, nil)

	assert.NotNil(t, hc)
	assert.Equal(t, 15, hc.config.Attempts)
	assert.Equal(t, 5*time.Second, hc.config.Delay)
	assert.NotNil(t, hc.logger)
}

func TestNewHealthChecker_CustomConfig(t *testing.T) {
	config := HealthCheckerConfig{
		Attempts: 3,
		Delay:    time.Millisecond,
	}
	hc := NewHealthChecker(staticKeys{}, config, slog.Default())

	assert.Equal(t, 3, hc.config.Attempts)
	assert.Equal(t, time.Millisecond, hc.config.Delay)
	assert.Equal(t, 30*time.Second, hc.config.RequestTimeout)
}

// =============================================================================
// Test Check
// =============================================================================

func TestHealthChecker_Healthy(t *testing.T) {
	site := sitetest.New(t)
	hc := NewHealthChecker(staticKeys{key: sitetest.MasterKey}, HealthCheckerConfig{Attempts: 2, Delay: time.Millisecond}, nil)

	err := hc.Check(context.Background(), site.Target(domain.OSLinux, domain.HostingFlexConsumption))

	require.NoError(t, err)
	reqs := site.Find(http.MethodGet, "/admin/host/status")
	require.Len(t, reqs, 1)
	assert.Equal(t, sitetest.MasterKey, reqs[0].Query.Get("code"))
	assert.NotEmpty(t, reqs[0].Header.Get("x-ms-request-id"))
}

func TestHealthChecker_UnhealthyAfterAllAttempts(t *testing.T) {
	site := sitetest.New(t)
	site.SetHostStatus(http.StatusServiceUnavailable)
	hc := NewHealthChecker(staticKeys{key: sitetest.MasterKey}, HealthCheckerConfig{Attempts: 3, Delay: time.Millisecond}, nil)

	err := hc.Check(context.Background(), site.Target(domain.OSLinux, domain.HostingFlexConsumption))

	var terr *domain.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusServiceUnavailable, terr.StatusCode)
	assert.Equal(t, 3, site.Count(http.MethodGet, "/admin/host/status"))
}

func TestHealthChecker_MasterKeyFailure(t *testing.T) {
	site := sitetest.New(t)
	hc := NewHealthChecker(staticKeys{err: errors.New("forbidden")}, HealthCheckerConfig{}, nil)

	err := hc.Check(context.Background(), site.Target(domain.OSLinux, domain.HostingFlexConsumption))

	assert.ErrorContains(t, err, "get master key")
	assert.Zero(t, site.Count(http.MethodGet, "/admin/host/status"))
}
