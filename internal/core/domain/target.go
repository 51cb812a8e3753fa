// Package domain holds the value types shared by the publish engine: the
// deployment target, its live settings, build options, deployment status and
// the typed errors surfaced to callers.
// This is part of the Functional Core - nothing here performs I/O.
package domain

import (
	"fmt"
	"strings"
)

// =============================================================================
// Target Classification
// =============================================================================

// OSClass is the operating system family a target runs on.
type OSClass string

const (
	OSWindows OSClass = "windows"
	OSLinux   OSClass = "linux"
)

// HostingMode is the pricing/hosting model of a target.
// Planning switches over it exhaustively, so adding a mode means revisiting
// deployment.PlanDeployment.
type HostingMode string

const (
	HostingDedicated             HostingMode = "dedicated"
	HostingDynamicConsumption    HostingMode = "dynamic-consumption"
	HostingElasticPremium        HostingMode = "elastic-premium"
	HostingFlexConsumption       HostingMode = "flex-consumption"
	HostingContainerOrchestrated HostingMode = "container-orchestrated"
)

// ParseOSClass parses an OS class name case-insensitively.
func ParseOSClass(s string) (OSClass, error) {
	switch OSClass(strings.ToLower(strings.TrimSpace(s))) {
	case OSWindows:
		return OSWindows, nil
	case OSLinux:
		return OSLinux, nil
	}
	return "", fmt.Errorf("unknown os class %q", s)
}

// ParseHostingMode parses a hosting mode name case-insensitively.
func ParseHostingMode(s string) (HostingMode, error) {
	switch m := HostingMode(strings.ToLower(strings.TrimSpace(s))); m {
	case HostingDedicated, HostingDynamicConsumption, HostingElasticPremium,
		HostingFlexConsumption, HostingContainerOrchestrated:
		return m, nil
	}
	return "", fmt.Errorf("unknown hosting mode %q", s)
}

// =============================================================================
// Credentials
// =============================================================================

// Credentials authenticate calls against the target. Management calls always
// use the bearer token; the deployment-control endpoint of a
// container-orchestrated target uses the basic pair instead.
type Credentials struct {
	BearerToken string `yaml:"bearer_token,omitempty"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
}

// HasBasic reports whether a basic auth pair is present.
func (c Credentials) HasBasic() bool {
	return c.Username != "" && c.Password != ""
}

// =============================================================================
// Target
// =============================================================================

// Target is the deployment destination. It is a view over remote state: the
// Settings map is read and rewritten in place during a publish run and can go
// stale, so components that need precise values re-read them remotely.
type Target struct {
	// Name is the logical app name.
	Name string

	// SiteID is the management resource id, e.g.
	// "/subscriptions/.../resourceGroups/.../providers/Microsoft.Web/sites/app".
	SiteID string

	OS      OSClass
	Hosting HostingMode

	// ManagementURL is the base management endpoint, without a trailing slash.
	ManagementURL string

	// ScmHost is the deployment-control host, e.g. "app.scm.azurewebsites.net".
	ScmHost string

	// HostName is the public host of the app, used by the health check.
	HostName string

	// Settings is the live configuration map.
	Settings Settings

	Credentials Credentials
}

// IsLinux reports whether the target runs Linux.
func (t *Target) IsLinux() bool { return t.OS == OSLinux }

// IsWindows reports whether the target runs Windows.
func (t *Target) IsWindows() bool { return t.OS == OSWindows }

// ScmBaseURL returns the deployment-control base URL.
func (t *Target) ScmBaseURL() string {
	return baseURL(t.ScmHost)
}

// HostBaseURL returns the base URL of the running app.
func (t *Target) HostBaseURL() string {
	return baseURL(t.HostName)
}

// baseURL defaults host to https unless it already names a scheme.
func baseURL(host string) string {
	host = strings.TrimRight(host, "/")
	if strings.Contains(host, "://") {
		return host
	}
	return "https://" + host
}

// DeploymentsURL is the link users are pointed at when the outcome of a
// deployment could not be determined.
func (t *Target) DeploymentsURL() string {
	return t.ScmBaseURL() + "/api/deployments"
}

// Validate checks the fields every publish run depends on.
func (t *Target) Validate() error {
	if t.Name == "" {
		return &ValidationError{Reason: "target name is required"}
	}
	if t.OS == "" {
		return &ValidationError{Reason: "target os class is required"}
	}
	if t.Hosting == "" {
		return &ValidationError{Reason: "target hosting mode is required"}
	}
	if t.Settings == nil {
		t.Settings = Settings{}
	}
	return nil
}

// =============================================================================
// Build Option
// =============================================================================

// BuildOption says where (or whether) the artifact is built.
// BuildDefault is the zero value and means "nothing was requested".
type BuildOption string

const (
	BuildDefault   BuildOption = ""
	BuildNone      BuildOption = "none"
	BuildLocal     BuildOption = "local"
	BuildRemote    BuildOption = "remote"
	BuildContainer BuildOption = "container"
)

// ParseBuildOption parses a build option name; "" and "default" yield BuildDefault.
func ParseBuildOption(s string) (BuildOption, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "", "default":
		return BuildDefault, nil
	case string(BuildNone), string(BuildLocal), string(BuildRemote), string(BuildContainer):
		return BuildOption(v), nil
	}
	return BuildDefault, fmt.Errorf("unknown build option %q (accepts: none, local, remote, container)", s)
}

// ResolveBuildOption applies the precedence of the build flags:
// no-build wins over native dependencies, which win over the requested option.
func ResolveBuildOption(requested BuildOption, nativeDeps, noBuild bool) BuildOption {
	if noBuild {
		return BuildNone
	}
	if nativeDeps {
		return BuildContainer
	}
	return requested
}
