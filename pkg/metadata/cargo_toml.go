package metadata

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// CargoToml is the subset of a crate manifest that feeds python metadata
// and bridge detection.
type CargoToml struct {
	Package      CargoPackage   `toml:"package"`
	Lib          *CargoLib      `toml:"lib"`
	Bin          []CargoBin     `toml:"bin"`
	Dependencies map[string]any `toml:"dependencies"`
}

type CargoPackage struct {
	Name          string      `toml:"name"`
	Version       string      `toml:"version"`
	Authors       []string    `toml:"authors"`
	Description   string      `toml:"description"`
	Documentation string      `toml:"documentation"`
	Homepage      string      `toml:"homepage"`
	Repository    string      `toml:"repository"`
	Readme        string      `toml:"readme"`
	Keywords      []string    `toml:"keywords"`
	License       string      `toml:"license"`
	Include       []string    `toml:"include"`
	Exclude       []string    `toml:"exclude"`
	Metadata      CargoExtras `toml:"metadata"`
}

type CargoLib struct {
	Name      string   `toml:"name"`
	CrateType []string `toml:"crate-type"`
}

type CargoBin struct {
	Name string `toml:"name"`
}

type CargoExtras struct {
	Maturin *RemainingMetadata `toml:"maturin"`
}

// RemainingMetadata holds the python fields cargo has no place for, from
// [package.metadata.maturin].
type RemainingMetadata struct {
	Classifier      []string          `toml:"classifier"`
	RequiresDist    []string          `toml:"requires-dist"`
	RequiresPython  string            `toml:"requires-python"`
	RequiresExt     []string          `toml:"requires-external"`
	ProvidesExtra   []string          `toml:"provides-extra"`
	Maintainer      string            `toml:"maintainer"`
	MaintainerEmail string            `toml:"maintainer-email"`
	ProjectURL      map[string]string `toml:"project-url"`
	Scripts         map[string]string `toml:"scripts"`
	Summary         string            `toml:"summary"`
}

// ReadCargoToml parses a Cargo.toml.
func ReadCargoToml(path string) (*CargoToml, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var manifest CargoToml
	if _, err := toml.Decode(string(data), &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if manifest.Package.Name == "" {
		return nil, fmt.Errorf("%s has no [package] name", path)
	}
	return &manifest, nil
}

// LibName is the name of the library target, which defaults to the package
// name with dashes replaced.
func (c *CargoToml) LibName() string {
	if c.Lib != nil && c.Lib.Name != "" {
		return c.Lib.Name
	}
	return underscored(c.Package.Name)
}

// Dependency reports whether the crate depends on name, and the features
// it enables on it.
func (c *CargoToml) Dependency(name string) (bool, []string) {
	dep, ok := c.Dependencies[name]
	if !ok {
		return false, nil
	}
	table, ok := dep.(map[string]any)
	if !ok {
		return true, nil
	}
	raw, _ := table["features"].([]any)
	var features []string
	for _, f := range raw {
		if s, ok := f.(string); ok {
			features = append(features, s)
		}
	}
	return true, features
}
