package build

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"wheelsmith-tools/go/pkg/cargo"
	"wheelsmith-tools/go/pkg/interpreter"
	"wheelsmith-tools/go/pkg/logbowl"
	"wheelsmith-tools/go/pkg/metadata"
	"wheelsmith-tools/go/pkg/sysconfig"
	"wheelsmith-tools/go/pkg/target"
)

// Options are the command line flags shared by every command that builds.
type Options struct {
	Interpreter    []string
	Bindings       string
	ManifestPath   string
	Out            string
	Compatibility  string
	Target         string
	CargoExtraArgs []string
	Universal2     bool
	SaveMessages   string
}

// AddFlags registers the options on a command's flag set.
func (o *Options) AddFlags(flags *pflag.FlagSet) {
	flags.StringSliceVarP(&o.Interpreter, "interpreter", "i", nil, "The python versions to build wheels for, given as the names of the interpreters. Uses a built-in list if not explicitly set.")
	flags.StringVarP(&o.Bindings, "bindings", "b", "", "Which kind of bindings to use. Possible values are pyo3, rust-cpython, cffi and bin")
	flags.StringVarP(&o.ManifestPath, "manifest-path", "m", "Cargo.toml", "The path to the Cargo.toml")
	flags.StringVarP(&o.Out, "out", "o", "", "The directory to store the built wheels in. Defaults to a new \"wheels\" directory in the project's target directory")
	flags.StringVar(&o.Compatibility, "compatibility", "", "Control the platform tag on linux: manylinux2014 (default), manylinux2010 or linux (\"off\" is an alias for linux)")
	flags.StringVar(&o.Target, "target", "", "The --target option for cargo")
	flags.StringArrayVar(&o.CargoExtraArgs, "cargo-extra-args", nil, "Extra arguments that will be passed to cargo as `cargo build <...> [arg1] [arg2] --message-format json`")
	flags.BoolVar(&o.Universal2, "universal2", false, "Tag macOS wheels as universal2 (x86_64 and arm64)")
	flags.StringVar(&o.SaveMessages, "save-messages", "", "Record cargo's json messages, zstd compressed, in this file")
}

// IntoBuildContext resolves the options into everything a build needs:
// project metadata, the binding strategy, the target and the interpreters.
func (o *Options) IntoBuildContext(log logbowl.Logger, release, strip, editable bool) (*Context, error) {
	manifestPath := o.ManifestPath
	if manifestPath == "" {
		manifestPath = "Cargo.toml"
	}
	manifestPath, err := filepath.Abs(manifestPath)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(manifestPath); err != nil {
		return nil, fmt.Errorf("can't find %s (use --manifest-path to point at the Cargo.toml): %w", manifestPath, err)
	}

	manifest, project, meta, err := metadata.Load(manifestPath)
	if err != nil {
		return nil, err
	}
	tool := project.Tool()

	bindings := o.Bindings
	if bindings == "" {
		bindings = tool.Bindings
	}
	bridge, err := FindBridge(manifest, bindings)
	if err != nil {
		return nil, err
	}
	log.Info("builder", "resolve", "success", "Found binding strategy", "bridge", bridge.String())

	t, err := target.FromTriple(o.Target)
	if err != nil {
		return nil, err
	}
	if o.Universal2 && t.Os != target.Macos {
		return nil, fmt.Errorf("--universal2 is only supported for macOS targets, not %s", t)
	}

	compatibility := o.Compatibility
	if compatibility == "" {
		compatibility = tool.Compatibility
	}
	platformTag := target.PlatformManylinux2014
	if compatibility != "" {
		platformTag, err = target.ParsePlatformTag(compatibility)
		if err != nil {
			return nil, err
		}
	}

	finder := &interpreter.Finder{Log: log, Target: t}
	interpreters, err := findInterpreters(finder, bridge, o.Interpreter)
	if err != nil {
		return nil, err
	}

	outDir := o.Out
	if outDir == "" {
		outDir = filepath.Join(filepath.Dir(manifestPath), "target", "wheels")
	}

	moduleName := manifest.LibName()
	if bridge.Kind == Bin {
		moduleName = manifest.Package.Name
		if len(manifest.Bin) > 0 && manifest.Bin[0].Name != "" {
			moduleName = manifest.Bin[0].Name
		}
	}

	return &Context{
		Log:            log,
		Target:         t,
		Bridge:         bridge,
		ManifestPath:   manifestPath,
		ModuleName:     moduleName,
		Metadata:       meta,
		Interpreters:   interpreters,
		OutDir:         outDir,
		Release:        release,
		Strip:          strip || tool.Strip,
		Editable:       editable,
		Universal2:     o.Universal2,
		PlatformTag:    platformTag,
		CargoExtraArgs: append(append([]string(nil), tool.CargoArgs...), o.CargoExtraArgs...),
		Driver: &cargo.Driver{
			Log:            log.Named("cargo"),
			TranscriptPath: o.SaveMessages,
		},
	}, nil
}

func findInterpreters(finder *interpreter.Finder, bridge BridgeModel, names []string) ([]*interpreter.PythonInterpreter, error) {
	switch bridge.Kind {
	case Bindings:
		return finder.Find(names)
	case Abi3:
		if len(names) == 0 && finder.Target.IsCross() {
			// any interpreter of the target works, take the minimum version
			row, ok := sysconfig.Lookup(finder.Target.Os, finder.Target.Arch, bridge.Major, bridge.Minor)
			if !ok {
				return nil, fmt.Errorf("no well-known sysconfig for python %d.%d on %s", bridge.Major, bridge.Minor, finder.Target)
			}
			return []*interpreter.PythonInterpreter{interpreter.FromConfig(finder.Target, row)}, nil
		}
		found, err := finder.Find(names)
		if err != nil {
			return nil, err
		}
		return found[:1], nil
	}
	if len(names) > 0 {
		finder.Log.Debug("python", "resolve", "skip", "Interpreters are not used by this binding strategy", "bridge", bridge.String())
	}
	return nil, nil
}
