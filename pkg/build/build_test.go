package build

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wheelsmith-tools/go/pkg/cargo"
	"wheelsmith-tools/go/pkg/interpreter"
	"wheelsmith-tools/go/pkg/logbowl"
	"wheelsmith-tools/go/pkg/metadata"
	"wheelsmith-tools/go/pkg/sysconfig"
	"wheelsmith-tools/go/pkg/target"
)

func manifestWith(deps string, lib string) *metadata.CargoToml {
	m := &metadata.CargoToml{Package: metadata.CargoPackage{Name: "hello-world", Version: "0.1.0"}}
	if deps != "" {
		found := map[string]any{}
		for _, d := range strings.Split(deps, ",") {
			name, features, _ := strings.Cut(d, ":")
			if features == "" {
				found[name] = "0.13"
				continue
			}
			var fs []any
			for _, f := range strings.Split(features, "+") {
				fs = append(fs, f)
			}
			found[name] = map[string]any{"version": "0.13", "features": fs}
		}
		m.Dependencies = found
	}
	if lib != "" {
		m.Lib = &metadata.CargoLib{CrateType: []string{lib}}
	}
	return m
}

func TestFindBridge(t *testing.T) {
	for _, tc := range []struct {
		name     string
		manifest *metadata.CargoToml
		bindings string
		want     BridgeModel
	}{
		{"pyo3", manifestWith("pyo3", "cdylib"), "", BridgeModel{Kind: Bindings, Crate: "pyo3"}},
		{"cpython", manifestWith("cpython", "cdylib"), "", BridgeModel{Kind: Bindings, Crate: "cpython"}},
		{"explicit rust-cpython", manifestWith("pyo3,cpython", "cdylib"), "rust-cpython", BridgeModel{Kind: Bindings, Crate: "cpython"}},
		{"abi3 minimum", manifestWith("pyo3:extension-module+abi3-py36+abi3-py38", "cdylib"), "", BridgeModel{Kind: Abi3, Crate: "pyo3", Major: 3, Minor: 8}},
		{"bare abi3", manifestWith("pyo3:abi3", "cdylib"), "", BridgeModel{Kind: Abi3, Crate: "pyo3", Major: 3, Minor: 7}},
		{"abi3 then abi3-py36", manifestWith("pyo3:abi3+abi3-py36", "cdylib"), "", BridgeModel{Kind: Abi3, Crate: "pyo3", Major: 3, Minor: 6}},
		{"abi3-py36 then abi3", manifestWith("pyo3:abi3-py36+abi3", "cdylib"), "", BridgeModel{Kind: Abi3, Crate: "pyo3", Major: 3, Minor: 6}},
		{"cffi from crate type", manifestWith("libc", "cdylib"), "", BridgeModel{Kind: Cffi}},
		{"bin without lib", manifestWith("", ""), "", BridgeModel{Kind: Bin}},
		{"explicit bin", manifestWith("pyo3", "cdylib"), "bin", BridgeModel{Kind: Bin}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FindBridge(tc.manifest, tc.bindings)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := FindBridge(manifestWith("libc", "cdylib"), "pyo3")
	assert.ErrorContains(t, err, "pyo3 was not found")
}

func cpython(t *testing.T, minor int) *interpreter.PythonInterpreter {
	t.Helper()
	row, ok := sysconfig.Lookup(target.Linux, target.X86_64, 3, minor)
	require.True(t, ok)
	return interpreter.FromConfig(target.Target{Os: target.Linux, Arch: target.X86_64}, row)
}

func TestContextTags(t *testing.T) {
	linux := target.Target{Os: target.Linux, Arch: target.X86_64}
	ctx := &Context{Target: linux, Bridge: BridgeModel{Kind: Bindings, Crate: "pyo3"}}
	tags, err := ctx.Tags(cpython(t, 10), target.PlatformLinux)
	require.NoError(t, err)
	assert.Equal(t, []string{"cp310-cp310-linux_x86_64"}, tags)
	_, err = ctx.Tags(nil, target.PlatformLinux)
	assert.Error(t, err)

	ctx.Bridge = BridgeModel{Kind: Abi3, Crate: "pyo3", Major: 3, Minor: 7}
	// the abi3 tag does not depend on the interpreter
	tags, err = ctx.Tags(cpython(t, 12), target.PlatformManylinux2014)
	require.NoError(t, err)
	assert.Equal(t, []string{"cp37-abi3-manylinux2014_x86_64"}, tags)

	ctx.Bridge = BridgeModel{Kind: Cffi}
	tags, err = ctx.Tags(nil, target.PlatformManylinux2010)
	require.NoError(t, err)
	assert.Equal(t, []string{"py3-none-manylinux2010_x86_64"}, tags)

	ctx = &Context{Target: target.Target{Os: target.Macos, Arch: target.Aarch64}, Bridge: BridgeModel{Kind: Bin}, Universal2: true}
	tags, err = ctx.Tags(nil, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"py3-none-macosx_10_9_universal2"}, tags)
}

const fakeCargo = `#!/bin/sh
for arg in "$@"; do
  if [ "$arg" = "--build-plan" ]; then
    echo '{"invocations":[{}],"inputs":[]}'
    exit 0
  fi
done
echo "$*" >> "$FAKE_LOG"
printf '{"reason":"compiler-artifact","package_id":"hello-world 0.1.0 (path+file:///src)","target":{"name":"%s","kind":["%s"],"crate_types":["%s"]},"filenames":["%s"]}\n' "$FAKE_NAME" "$FAKE_KIND" "$FAKE_KIND" "$FAKE_ARTIFACT"
`

type project struct {
	dir string
	log string
	ctx *Context
}

func newProject(t *testing.T, bridge BridgeModel, module, kind string) *project {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake cargo is a shell script")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "cargo")
	require.NoError(t, os.WriteFile(script, []byte(fakeCargo), 0755))
	artifact := filepath.Join(dir, "libhello.so")
	require.NoError(t, os.WriteFile(artifact, []byte("native code"), 0755))
	manifest := filepath.Join(dir, "Cargo.toml")
	require.NoError(t, os.WriteFile(manifest, []byte("[package]\nname = \"hello-world\"\nversion = \"0.1.0\"\n"), 0644))

	p := &project{dir: dir, log: filepath.Join(dir, "cargo.log")}
	p.ctx = &Context{
		Log:          logbowl.Discard(),
		Target:       target.Target{Os: target.Linux, Arch: target.X86_64},
		Bridge:       bridge,
		ManifestPath: manifest,
		ModuleName:   module,
		Metadata:     &metadata.Metadata21{Name: "hello-world", Version: "0.1.0"},
		OutDir:       filepath.Join(dir, "wheels"),
		Release:      true,
		PlatformTag:  target.PlatformManylinux2014,
		Driver: &cargo.Driver{
			Log:    logbowl.Discard(),
			Cargo:  script,
			Stderr: &strings.Builder{},
			Env: append(os.Environ(),
				"FAKE_LOG="+p.log,
				"FAKE_NAME="+module,
				"FAKE_KIND="+kind,
				"FAKE_ARTIFACT="+artifact,
			),
		},
	}
	return p
}

func (p *project) builds(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(p.log)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func wheelEntries(t *testing.T, wheelPath string) []string {
	t.Helper()
	zr, err := zip.OpenReader(wheelPath)
	require.NoError(t, err)
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func TestBuildWheelsPerInterpreter(t *testing.T) {
	p := newProject(t, BridgeModel{Kind: Bindings, Crate: "pyo3"}, "hello_world", "cdylib")
	p.ctx.Interpreters = []*interpreter.PythonInterpreter{cpython(t, 9), cpython(t, 10)}

	wheels, err := p.ctx.BuildWheels()
	require.NoError(t, err)
	require.Len(t, wheels, 2)
	assert.Equal(t, "cp39-cp39-manylinux2014_x86_64", wheels[0].Tag)
	assert.Equal(t, "cp310-cp310-manylinux2014_x86_64", wheels[1].Tag)
	assert.Equal(t, filepath.Join(p.dir, "wheels", "hello_world-0.1.0-cp310-cp310-manylinux2014_x86_64.whl"), wheels[1].Path)

	builds := p.builds(t)
	require.Len(t, builds, 2)
	assert.Contains(t, builds[0], "--features pyo3/python3")
	assert.Contains(t, builds[0], "--release")
	assert.Contains(t, wheelEntries(t, wheels[1].Path), "hello_world.cpython-310-x86_64-linux-gnu.so")
}

func TestBuildWheelsAbi3BuildsOnce(t *testing.T) {
	p := newProject(t, BridgeModel{Kind: Abi3, Crate: "pyo3", Major: 3, Minor: 7}, "hello_world", "cdylib")
	p.ctx.Interpreters = []*interpreter.PythonInterpreter{cpython(t, 7)}

	wheels, err := p.ctx.BuildWheels()
	require.NoError(t, err)
	require.Len(t, wheels, 1)
	assert.Equal(t, "cp37-abi3-manylinux2014_x86_64", wheels[0].Tag)
	assert.Len(t, p.builds(t), 1)
	assert.Contains(t, wheelEntries(t, wheels[0].Path), "hello_world.abi3.so")
}

func TestBuildWheelsMixedProject(t *testing.T) {
	p := newProject(t, BridgeModel{Kind: Bindings, Crate: "pyo3"}, "hello_world", "cdylib")
	p.ctx.Interpreters = []*interpreter.PythonInterpreter{cpython(t, 10)}
	pkg := filepath.Join(p.dir, "hello_world")
	require.NoError(t, os.MkdirAll(filepath.Join(pkg, "__pycache__"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(pkg, "__init__.py"), []byte("from .hello_world import *\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(pkg, "__pycache__", "x.pyc"), []byte("cache"), 0644))

	wheels, err := p.ctx.BuildWheels()
	require.NoError(t, err)
	entries := wheelEntries(t, wheels[0].Path)
	assert.Contains(t, entries, "hello_world/__init__.py")
	assert.Contains(t, entries, "hello_world/hello_world.cpython-310-x86_64-linux-gnu.so")
	assert.NotContains(t, entries, "hello_world/__pycache__/x.pyc")
}

func TestBuildWheelsCffiAndBin(t *testing.T) {
	p := newProject(t, BridgeModel{Kind: Cffi}, "hello_world", "cdylib")
	wheels, err := p.ctx.BuildWheels()
	require.NoError(t, err)
	require.Len(t, wheels, 1)
	assert.Equal(t, "py3-none-manylinux2014_x86_64", wheels[0].Tag)
	entries := wheelEntries(t, wheels[0].Path)
	assert.Contains(t, entries, "hello_world/native.so")
	assert.Contains(t, entries, "hello_world/__init__.py")
	assert.NotContains(t, p.builds(t)[0], "--features")

	p = newProject(t, BridgeModel{Kind: Bin}, "hello", "bin")
	wheels, err = p.ctx.BuildWheels()
	require.NoError(t, err)
	assert.Contains(t, wheelEntries(t, wheels[0].Path), "hello_world-0.1.0.data/scripts/hello")
	assert.NotContains(t, p.builds(t)[0], "--lib")
}

func TestBuildWheelsWithoutInterpreters(t *testing.T) {
	p := newProject(t, BridgeModel{Kind: Bindings, Crate: "pyo3"}, "hello_world", "cdylib")
	_, err := p.ctx.BuildWheels()
	assert.Error(t, err)
	assert.NoFileExists(t, p.log)
}

func TestIntoBuildContext(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "Cargo.toml")
	require.NoError(t, os.WriteFile(manifest, []byte(`[package]
name = "hello-world"
version = "0.1.0"

[lib]
crate-type = ["cdylib"]

[dependencies]
pyo3 = { version = "0.13", features = ["abi3-py38"] }
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pyproject.toml"), []byte(`[tool.wheelsmith]
compatibility = "linux"
cargo-extra-args = ["--locked"]
`), 0644))

	opts := &Options{ManifestPath: manifest, Target: "s390x-unknown-linux-gnu", CargoExtraArgs: []string{"--offline"}}
	ctx, err := opts.IntoBuildContext(logbowl.Discard(), true, false, false)
	require.NoError(t, err)
	assert.Equal(t, BridgeModel{Kind: Abi3, Crate: "pyo3", Major: 3, Minor: 8}, ctx.Bridge)
	assert.Equal(t, "hello_world", ctx.ModuleName)
	assert.Equal(t, target.PlatformLinux, ctx.PlatformTag)
	assert.Equal(t, []string{"--locked", "--offline"}, ctx.CargoExtraArgs)
	assert.Equal(t, filepath.Join(dir, "target", "wheels"), ctx.OutDir)
	require.Len(t, ctx.Interpreters, 1)
	assert.True(t, ctx.Interpreters[0].IsCross())
	assert.Equal(t, 8, ctx.Interpreters[0].Minor)

	tags, err := ctx.Tags(ctx.Interpreters[0], ctx.PlatformTag)
	require.NoError(t, err)
	assert.Equal(t, []string{"cp38-abi3-linux_s390x"}, tags)

	opts.Bindings = "bin"
	opts.Target = ""
	ctx, err = opts.IntoBuildContext(logbowl.Discard(), false, false, false)
	require.NoError(t, err)
	assert.Equal(t, Bin, ctx.Bridge.Kind)
	assert.Equal(t, "hello-world", ctx.ModuleName)
	assert.Empty(t, ctx.Interpreters)

	opts.Universal2 = true
	opts.Target = "x86_64-unknown-linux-gnu"
	_, err = opts.IntoBuildContext(logbowl.Discard(), false, false, false)
	assert.ErrorContains(t, err, "universal2")
}
