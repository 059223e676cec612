package cargo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
)

// Metadata is the part of `cargo metadata --format-version 1` needed to
// assemble a source distribution.
type Metadata struct {
	Packages      []Package `json:"packages"`
	WorkspaceRoot string    `json:"workspace_root"`
	TargetDir     string    `json:"target_directory"`
}

// Package is one crate of the dependency graph.
type Package struct {
	Name         string       `json:"name"`
	Version      string       `json:"version"`
	ID           string       `json:"id"`
	ManifestPath string       `json:"manifest_path"`
	Dependencies []Dependency `json:"dependencies"`
}

// Dependency is a declared dependency. Path is set only for local path
// dependencies.
type Dependency struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	Path string `json:"path"`
}

// PackageByManifest finds the package declared by the given Cargo.toml.
func (m *Metadata) PackageByManifest(manifestPath string) (*Package, bool) {
	want, err := filepath.Abs(manifestPath)
	if err != nil {
		want = manifestPath
	}
	for i := range m.Packages {
		if filepath.Clean(m.Packages[i].ManifestPath) == filepath.Clean(want) {
			return &m.Packages[i], true
		}
	}
	return nil, false
}

// PathDependencies maps dependency names to the directories of the local
// path dependencies of pkg.
func (p *Package) PathDependencies() map[string]string {
	deps := map[string]string{}
	for _, dep := range p.Dependencies {
		if dep.Path != "" {
			deps[dep.Name] = dep.Path
		}
	}
	return deps
}

// Metadata runs `cargo metadata` for the manifest.
func (d *Driver) Metadata(manifestPath string) (*Metadata, error) {
	cmd := exec.Command(d.cargoPath(), "metadata", "--format-version", "1", "--manifest-path", manifestPath)
	cmd.Env = d.baseEnv()
	cmd.Stderr = d.stderr()
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("cargo metadata failed: %w", err)
		}
		return nil, fmt.Errorf("%w: %v (do you have cargo in your PATH?)", ErrLaunch, err)
	}
	var meta Metadata
	if err := json.Unmarshal(out, &meta); err != nil {
		return nil, fmt.Errorf("invalid output of cargo metadata: %w", err)
	}
	d.Log.Debug("cargo", "query", "success", "Read cargo metadata", "packages", len(meta.Packages))
	return &meta, nil
}
