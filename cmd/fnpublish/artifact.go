package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archiver"

	"github.com/artpar/fnpublish/internal/shell/transport"
)

// skippedEntries never go into a package.
var skippedEntries = map[string]bool{
	".git":                   true,
	".vscode":                true,
	".funcignore":            true,
	DefaultLocalSettingsFile: true,
}

// PackageArtifact returns a factory over the package at path. A .zip or
// .squashfs file is used as is; a directory is zipped once into a temporary
// file, removed by the returned cleanup.
func PackageArtifact(path string) (transport.ArtifactFactory, func(), error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("package %s: %w", path, err)
	}
	if !info.IsDir() {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".zip", ".squashfs":
			return transport.FileArtifact(path), func() {}, nil
		}
		return nil, nil, fmt.Errorf("package %s: expected a directory, .zip or .squashfs file", path)
	}

	sources, err := packageSources(path)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.CreateTemp("", "fnpublish-*.zip")
	if err != nil {
		return nil, nil, fmt.Errorf("create package file: %w", err)
	}
	cleanup := func() { os.Remove(f.Name()) }

	if err := archiver.Zip.Write(f, sources); err != nil {
		f.Close()
		cleanup()
		return nil, nil, fmt.Errorf("zip %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("zip %s: %w", path, err)
	}
	return transport.FileArtifact(f.Name()), cleanup, nil
}

// packageSources lists the top-level entries of dir, so the zip root is the
// directory content rather than the directory itself.
func packageSources(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var sources []string
	for _, e := range entries {
		if skippedEntries[e.Name()] {
			continue
		}
		sources = append(sources, filepath.Join(dir, e.Name()))
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("nothing to publish in %s", dir)
	}
	return sources, nil
}
