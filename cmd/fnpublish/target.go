package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/artpar/fnpublish/internal/core/domain"
)

// =============================================================================
// Target Descriptor
// =============================================================================

// targetFile is the on-disk description of a publish target.
//
//	name: myapp
//	site_id: /subscriptions/<sub>/resourceGroups/<rg>/providers/Microsoft.Web/sites/myapp
//	os: linux
//	hosting: dynamic-consumption
type targetFile struct {
	Name          string             `yaml:"name"`
	SiteID        string             `yaml:"site_id"`
	OS            string             `yaml:"os"`
	Hosting       string             `yaml:"hosting"`
	ManagementURL string             `yaml:"management_url,omitempty"`
	ScmHost       string             `yaml:"scm_host,omitempty"`
	HostName      string             `yaml:"host_name,omitempty"`
	Credentials   domain.Credentials `yaml:"credentials,omitempty"`
}

// ReadTargetFile loads a target descriptor. Hosts default to the public
// naming scheme of the app.
func ReadTargetFile(path string) (*domain.Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read target file: %w", err)
	}
	return parseTarget(data)
}

func parseTarget(data []byte) (*domain.Target, error) {
	var raw targetFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse target file: %w", err)
	}

	osClass, err := domain.ParseOSClass(raw.OS)
	if err != nil {
		return nil, &domain.ValidationError{Reason: err.Error()}
	}
	hosting, err := domain.ParseHostingMode(raw.Hosting)
	if err != nil {
		return nil, &domain.ValidationError{Reason: err.Error()}
	}
	if raw.SiteID == "" {
		return nil, &domain.ValidationError{Reason: "target site_id is required"}
	}

	name := strings.TrimSpace(raw.Name)
	if name == "" {
		name = raw.SiteID[strings.LastIndex(raw.SiteID, "/")+1:]
	}
	if raw.ScmHost == "" && hosting != domain.HostingContainerOrchestrated {
		raw.ScmHost = name + ".scm.azurewebsites.net"
	}
	if raw.HostName == "" {
		raw.HostName = name + ".azurewebsites.net"
	}

	return &domain.Target{
		Name:          name,
		SiteID:        raw.SiteID,
		OS:            osClass,
		Hosting:       hosting,
		ManagementURL: strings.TrimRight(raw.ManagementURL, "/"),
		ScmHost:       raw.ScmHost,
		HostName:      raw.HostName,
		Settings:      domain.Settings{},
		Credentials:   raw.Credentials,
	}, nil
}
