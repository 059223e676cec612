// Package build turns a crate into wheels: it resolves the build context
// from flags and project files, drives cargo once per needed interpreter
// and packs the artifacts with the right compatibility tags.
package build

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"wheelsmith-tools/go/pkg/archive"
	"wheelsmith-tools/go/pkg/cargo"
	"wheelsmith-tools/go/pkg/interpreter"
	"wheelsmith-tools/go/pkg/logbowl"
	"wheelsmith-tools/go/pkg/metadata"
	"wheelsmith-tools/go/pkg/target"
)

// Context is the read-only configuration of one invocation.
type Context struct {
	Log          logbowl.Logger
	Target       target.Target
	Bridge       BridgeModel
	ManifestPath string
	// ModuleName is the importable name, the lib (or bin) target name.
	ModuleName     string
	Metadata       *metadata.Metadata21
	Interpreters   []*interpreter.PythonInterpreter
	OutDir         string
	Release        bool
	Strip          bool
	Editable       bool
	Universal2     bool
	PlatformTag    target.PlatformTag
	CargoExtraArgs []string
	Driver         *cargo.Driver
}

// BuiltWheel is a finished wheel and the tag in its file name.
type BuiltWheel struct {
	Path string
	Tag  string
}

// Tags returns the compatibility tags of the wheel built for python under
// platformTag. python is ignored by bridges that don't link a specific
// interpreter.
func (c *Context) Tags(python *interpreter.PythonInterpreter, platformTag target.PlatformTag) ([]string, error) {
	switch c.Bridge.Kind {
	case Bindings:
		if python == nil {
			return nil, fmt.Errorf("the %s bridge needs an interpreter to compute tags", c.Bridge)
		}
		tag, err := python.Tag(platformTag, c.Universal2)
		if err != nil {
			return nil, err
		}
		return []string{tag}, nil
	case Abi3:
		platform, err := c.Target.PlatformTagFor(platformTag, c.Universal2)
		if err != nil {
			return nil, err
		}
		return []string{fmt.Sprintf("cp%d%d-abi3-%s", c.Bridge.Major, c.Bridge.Minor, platform)}, nil
	}
	_, tags, err := c.Target.UniversalTags(platformTag, c.Universal2)
	return tags, err
}

func (c *Context) request() cargo.Request {
	return cargo.Request{
		LibName:        c.ModuleName,
		ManifestPath:   c.ManifestPath,
		BindingCrate:   c.Bridge.Crate,
		VersionFeature: c.Bridge.NeedsInterpreter(),
		Debug:          !c.Release,
		Binary:         c.Bridge.Kind == Bin,
		TargetTriple:   c.Target.Triple,
		ExtraArgs:      c.CargoExtraArgs,
	}
}

// BuildWheels builds every wheel of the context: one per interpreter for
// Bindings, a single one otherwise.
func (c *Context) BuildWheels() ([]BuiltWheel, error) {
	if c.Strip {
		c.Log.Info("builder", "build", "info", "Stripping is not applied by this build; the artifact is packed as cargo produced it")
	}
	if c.Editable {
		c.Log.Info("builder", "build", "info", "Editable wheels are built like regular wheels")
	}

	switch c.Bridge.Kind {
	case Bindings:
		if len(c.Interpreters) == 0 {
			return nil, fmt.Errorf("no python interpreters to build for")
		}
		var wheels []BuiltWheel
		for _, python := range c.Interpreters {
			wheel, err := c.buildBindingsWheel(python)
			if err != nil {
				return nil, err
			}
			wheels = append(wheels, wheel)
		}
		return wheels, nil
	case Abi3:
		if len(c.Interpreters) == 0 {
			return nil, fmt.Errorf("no python interpreter to build the abi3 wheel with")
		}
		wheel, err := c.buildBindingsWheel(c.Interpreters[0])
		if err != nil {
			return nil, err
		}
		return []BuiltWheel{wheel}, nil
	case Cffi:
		wheel, err := c.buildCffiWheel()
		if err != nil {
			return nil, err
		}
		return []BuiltWheel{wheel}, nil
	}
	wheel, err := c.buildBinWheel()
	if err != nil {
		return nil, err
	}
	return []BuiltWheel{wheel}, nil
}

func (c *Context) newWheel(tags []string) (*archive.WheelWriter, error) {
	return archive.NewWheelWriter(c.Log, c.OutDir, c.Metadata, tags)
}

// extensionName is the file name python imports the native module from.
func (c *Context) extensionName(python *interpreter.PythonInterpreter) string {
	if c.Bridge.Kind == Abi3 {
		if c.Target.Os == target.Windows {
			return c.ModuleName + ".pyd"
		}
		return c.ModuleName + ".abi3.so"
	}
	return python.LibraryName(c.ModuleName)
}

func (c *Context) buildBindingsWheel(python *interpreter.PythonInterpreter) (BuiltWheel, error) {
	artifact, err := c.Driver.BuildRust(c.request(), python)
	if err != nil {
		return BuiltWheel{}, fmt.Errorf("failed to build a native library through cargo: %w", err)
	}
	tags, err := c.Tags(python, c.PlatformTag)
	if err != nil {
		return BuiltWheel{}, err
	}
	w, err := c.newWheel(tags)
	if err != nil {
		return BuiltWheel{}, err
	}
	if err := c.writeModule(w, artifact, c.extensionName(python)); err != nil {
		return BuiltWheel{}, err
	}
	wheelPath, err := w.Finish()
	if err != nil {
		return BuiltWheel{}, err
	}
	return BuiltWheel{Path: wheelPath, Tag: tags[0]}, nil
}

// cffiInit loads the library next to it; the C functions are called
// through the returned handle.
const cffiInit = `import ctypes
import os

lib = ctypes.CDLL(os.path.join(os.path.dirname(__file__), %q))
`

func (c *Context) buildCffiWheel() (BuiltWheel, error) {
	artifact, err := c.Driver.BuildRust(c.request(), nil)
	if err != nil {
		return BuiltWheel{}, fmt.Errorf("failed to build a native library through cargo: %w", err)
	}
	tags, err := c.Tags(nil, c.PlatformTag)
	if err != nil {
		return BuiltWheel{}, err
	}
	w, err := c.newWheel(tags)
	if err != nil {
		return BuiltWheel{}, err
	}
	libName := "native" + c.Target.SharedLibraryExtension()
	if err := w.AddFile(path.Join(c.ModuleName, libName), artifact); err != nil {
		return BuiltWheel{}, err
	}
	if err := w.AddBytes(path.Join(c.ModuleName, "__init__.py"), []byte(fmt.Sprintf(cffiInit, libName)), false); err != nil {
		return BuiltWheel{}, err
	}
	wheelPath, err := w.Finish()
	if err != nil {
		return BuiltWheel{}, err
	}
	return BuiltWheel{Path: wheelPath, Tag: tags[0]}, nil
}

func (c *Context) buildBinWheel() (BuiltWheel, error) {
	artifact, err := c.Driver.BuildRust(c.request(), nil)
	if err != nil {
		return BuiltWheel{}, fmt.Errorf("failed to build a native binary through cargo: %w", err)
	}
	tags, err := c.Tags(nil, c.PlatformTag)
	if err != nil {
		return BuiltWheel{}, err
	}
	w, err := c.newWheel(tags)
	if err != nil {
		return BuiltWheel{}, err
	}
	script := path.Join(c.Metadata.DataDir(), "scripts", c.ModuleName+c.Target.ExecutableSuffix())
	data, err := os.ReadFile(artifact)
	if err != nil {
		return BuiltWheel{}, err
	}
	if err := w.AddBytes(script, data, true); err != nil {
		return BuiltWheel{}, err
	}
	wheelPath, err := w.Finish()
	if err != nil {
		return BuiltWheel{}, err
	}
	return BuiltWheel{Path: wheelPath, Tag: tags[0]}, nil
}

// writeModule places the native module. A python package with the module's
// name beside Cargo.toml makes a mixed project: its sources are packed and
// the native module goes inside it.
func (c *Context) writeModule(w archive.ModuleWriter, artifact, extName string) error {
	pkgDir := filepath.Join(filepath.Dir(c.ManifestPath), c.ModuleName)
	if _, err := os.Stat(filepath.Join(pkgDir, "__init__.py")); err != nil {
		return w.AddFile(extName, artifact)
	}
	c.Log.Debug("wheel", "write", "info", "Found a mixed python/rust project", "package", pkgDir)
	err := filepath.WalkDir(pkgDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "__pycache__" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(p, ".pyc") || d.Name() == extName {
			return nil
		}
		rel, err := filepath.Rel(filepath.Dir(pkgDir), p)
		if err != nil {
			return err
		}
		return w.AddFile(filepath.ToSlash(rel), p)
	})
	if err != nil {
		return fmt.Errorf("packing python sources: %w", err)
	}
	return w.AddFile(path.Join(c.ModuleName, extName), artifact)
}
