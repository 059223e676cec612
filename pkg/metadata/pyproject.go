package metadata

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// PyProject is the subset of pyproject.toml that overrides or extends what
// Cargo.toml says.
type PyProject struct {
	BuildSystem struct {
		Requires     []string `toml:"requires"`
		BuildBackend string   `toml:"build-backend"`
	} `toml:"build-system"`
	Project   *Project `toml:"project"`
	ToolTable struct {
		Wheelsmith *ToolConfig `toml:"wheelsmith"`
	} `toml:"tool"`
}

// Project is the PEP 621 [project] table.
type Project struct {
	Name           string            `toml:"name"`
	Version        string            `toml:"version"`
	Description    string            `toml:"description"`
	RequiresPython string            `toml:"requires-python"`
	Dependencies   []string          `toml:"dependencies"`
	Classifiers    []string          `toml:"classifiers"`
	Keywords       []string          `toml:"keywords"`
	URLs           map[string]string `toml:"urls"`
	Scripts        map[string]string `toml:"scripts"`
	Authors        []Person          `toml:"authors"`
	Maintainers    []Person          `toml:"maintainers"`
	License        *struct {
		Text string `toml:"text"`
	} `toml:"license"`
	OptionalDependencies map[string][]string `toml:"optional-dependencies"`
}

type Person struct {
	Name  string `toml:"name"`
	Email string `toml:"email"`
}

// ToolConfig is [tool.wheelsmith], the defaults for command line flags.
type ToolConfig struct {
	Bindings      string   `toml:"bindings"`
	Compatibility string   `toml:"compatibility"`
	Strip         bool     `toml:"strip"`
	SdistInclude  []string `toml:"sdist-include"`
	CargoArgs     []string `toml:"cargo-extra-args"`
}

// ReadPyProject parses pyproject.toml in dir. A missing file is not an
// error and yields nil.
func ReadPyProject(dir string) (*PyProject, error) {
	path := filepath.Join(dir, "pyproject.toml")
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var project PyProject
	if _, err := toml.Decode(string(data), &project); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &project, nil
}

// Tool returns [tool.wheelsmith], or an empty config.
func (p *PyProject) Tool() ToolConfig {
	if p == nil || p.ToolTable.Wheelsmith == nil {
		return ToolConfig{}
	}
	return *p.ToolTable.Wheelsmith
}
