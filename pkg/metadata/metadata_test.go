package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cargoToml = `[package]
name = "hello-world"
version = "0.1.0-alpha.1"
authors = ["konstin <konstin@mailbox.org>", "Someone Else"]
description = "A test crate"
readme = "Readme.md"
license = "MIT"
repository = "https://example.com/hello"
keywords = ["ffi", "python"]

[lib]
crate-type = ["cdylib"]

[dependencies]
pyo3 = { version = "0.13", features = ["extension-module", "abi3-py37"] }
libc = "0.2"

[package.metadata.maturin]
classifier = ["Programming Language :: Python"]
requires-dist = ["flask~=1.1.0"]
requires-python = ">=3.7"

[package.metadata.maturin.scripts]
hello = "hello_world:main"
`

func writeProject(t *testing.T, pyproject string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte(cargoToml), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Readme.md"), []byte("# Hello\n\nWorld"), 0644))
	if pyproject != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "pyproject.toml"), []byte(pyproject), 0644))
	}
	return dir
}

func TestLoadFromCargoToml(t *testing.T) {
	dir := writeProject(t, "")
	manifest, project, m, err := Load(filepath.Join(dir, "Cargo.toml"))
	require.NoError(t, err)
	assert.Nil(t, project)

	assert.Equal(t, "hello_world", manifest.LibName())
	ok, features := manifest.Dependency("pyo3")
	assert.True(t, ok)
	assert.Equal(t, []string{"extension-module", "abi3-py37"}, features)
	ok, features = manifest.Dependency("libc")
	assert.True(t, ok)
	assert.Empty(t, features)
	ok, _ = manifest.Dependency("cpython")
	assert.False(t, ok)

	assert.Equal(t, "hello-world", m.Name)
	assert.Equal(t, "konstin, Someone Else", m.Author)
	assert.Equal(t, "konstin@mailbox.org", m.AuthorEmail)
	assert.Equal(t, "hello_world-0.1.0_alpha.1.dist-info", m.DistInfoDir())
	assert.Equal(t, "hello_world", m.ModuleName())
	assert.Equal(t, "[console_scripts]\nhello=hello_world:main\n", m.EntryPoints())

	expected := `Metadata-Version: 2.1
Name: hello-world
Version: 0.1.0-alpha.1
Classifier: Programming Language :: Python
Requires-Dist: flask~=1.1.0
Summary: A test crate
Keywords: ffi,python
Author: konstin, Someone Else
Author-email: konstin@mailbox.org
License: MIT
Requires-Python: >=3.7
Description-Content-Type: text/markdown; charset=UTF-8; variant=GFM
Project-URL: Source Code, https://example.com/hello

# Hello

World
`
	assert.Equal(t, expected, m.ToFileContents())
}

func TestPyProjectOverrides(t *testing.T) {
	dir := writeProject(t, `[build-system]
requires = ["wheelsmith"]
build-backend = "wheelsmith"

[project]
name = "hello"
version = "1.0.0"
dependencies = ["attrs"]
authors = [{ name = "Ann", email = "ann@example.com" }]

[project.optional-dependencies]
test = ["pytest"]

[tool.wheelsmith]
bindings = "cffi"
compatibility = "linux"
`)
	_, project, m, err := Load(filepath.Join(dir, "Cargo.toml"))
	require.NoError(t, err)
	require.NotNil(t, project)
	assert.Equal(t, "cffi", project.Tool().Bindings)
	assert.Equal(t, "linux", project.Tool().Compatibility)

	assert.Equal(t, "hello", m.Name)
	assert.Equal(t, "1.0.0", m.Version)
	assert.Equal(t, []string{"attrs", `pytest; extra == "test"`}, m.RequiresDist)
	assert.Equal(t, []string{"test"}, m.ProvidesExtra)
	assert.Equal(t, "", m.Author)
	assert.Equal(t, "Ann <ann@example.com>", m.AuthorEmail)
	assert.Equal(t, "hello-1.0.0.dist-info", m.DistInfoDir())
}

func TestWheelFile(t *testing.T) {
	assert.Equal(t,
		"Wheel-Version: 1.0\nGenerator: wheelsmith (1.0)\nRoot-Is-Purelib: false\nTag: cp310-cp310-linux_x86_64\n",
		Wheel("wheelsmith (1.0)", false, []string{"cp310-cp310-linux_x86_64"}))
}

func TestReadCargoTomlErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadCargoToml(filepath.Join(dir, "Cargo.toml"))
	assert.Error(t, err)

	path := filepath.Join(dir, "Cargo.toml")
	require.NoError(t, os.WriteFile(path, []byte("[package\n"), 0644))
	_, err = ReadCargoToml(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("[workspace]\nmembers = []\n"), 0644))
	_, err = ReadCargoToml(path)
	assert.ErrorContains(t, err, "no [package] name")
}
