// Package cargo drives `cargo build` to compile a crate into a native python
// module and finds the one file that matters among everything cargo builds.
//
// Every build runs cargo twice. The first run only asks for the build plan,
// whose length sizes the progress bar. The second run compiles with
// `--message-format json` and the json lines on stdout are scanned for two
// messages: the build script report of the binding crate and the artifact
// of the requested library.
package cargo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"wheelsmith-tools/go/pkg/interpreter"
	"wheelsmith-tools/go/pkg/logbowl"
)

// Crate types cargo reports for the targets we care about.
const (
	CrateTypeCdylib = "cdylib"
	CrateTypeBin    = "bin"
)

// Environment variables that tell the binding crate's build script which
// python to link against.
const (
	EnvPyO3Python     = "PYO3_PYTHON"
	EnvPythonSysExe   = "PYTHON_SYS_EXECUTABLE"
	EnvPyO3ConfigFile = "PYO3_CONFIG_FILE"
)

// Request is the per-build part of the build context that cargo needs.
type Request struct {
	// LibName is the target name whose artifact is returned.
	LibName      string
	ManifestPath string
	// BindingCrate is the crate whose build script reports the linked
	// python, e.g. "pyo3". Empty for bridges without one.
	BindingCrate string
	// VersionFeature enables `<BindingCrate>/python<major>`.
	VersionFeature bool
	Debug          bool
	// Binary builds the bin target instead of the cdylib.
	Binary bool
	// TargetTriple is passed as --target when cross compiling.
	TargetTriple string
	ExtraArgs    []string
}

// Driver runs cargo. The zero value uses $CARGO (or cargo on PATH), the
// process environment, and os.Stderr.
type Driver struct {
	Log   logbowl.Logger
	Cargo string
	// Stderr receives cargo's diagnostics as they are printed.
	Stderr io.Writer
	// Env is the base environment of the cargo processes.
	Env []string
	// NewProgress creates the progress indicator for a build.
	NewProgress func(total int) Progress
	// TranscriptPath, when set, records the json stream of the last build.
	TranscriptPath string
}

func (d *Driver) cargoPath() string {
	if d.Cargo != "" {
		return d.Cargo
	}
	if cargoPath := os.Getenv("CARGO"); cargoPath != "" {
		return cargoPath
	}
	return "cargo"
}

func (d *Driver) stderr() io.Writer {
	if d.Stderr != nil {
		return d.Stderr
	}
	return os.Stderr
}

func (d *Driver) baseEnv() []string {
	if d.Env != nil {
		return append([]string(nil), d.Env...)
	}
	return os.Environ()
}

func (d *Driver) newProgress(total int) Progress {
	if d.NewProgress != nil {
		return d.NewProgress(total)
	}
	return DefaultProgress(d.stderr())(total)
}

// sharedArgs are used for both the build plan and the real build.
func sharedArgs(req Request, python *interpreter.PythonInterpreter) []string {
	args := []string{}
	if !req.Binary {
		// the lib is built without the flag too, but then the json lacks
		// the artifact message we need
		args = append(args, "--lib")
	}
	args = append(args, "--quiet", "--manifest-path", req.ManifestPath)
	if req.VersionFeature && req.BindingCrate != "" && python != nil {
		args = append(args, "--features", fmt.Sprintf("%s/python%d", req.BindingCrate, python.Major))
	}
	if !req.Debug {
		args = append(args, "--release")
	}
	if req.TargetTriple != "" {
		args = append(args, "--target", req.TargetTriple)
	}
	return append(args, req.ExtraArgs...)
}

// BuildRust compiles the crate for one interpreter and returns the path of
// the cdylib (or binary). python may be nil for bridges that do not link
// against a specific interpreter.
func (d *Driver) BuildRust(req Request, python *interpreter.PythonInterpreter) (string, error) {
	if python != nil {
		d.Log.Info("cargo", "build", "progress", "Building the crate", "interpreter", python.String())
	} else {
		d.Log.Info("cargo", "build", "progress", "Building the crate", "manifest", req.ManifestPath)
	}

	args := sharedArgs(req, python)
	tasks, err := d.buildPlan(args)
	if err != nil {
		return "", err
	}
	d.Log.Debug("cargo", "plan", "success", "Received build plan", "invocations", tasks, "command", d.CommandLine(req, python))

	env := d.baseEnv()
	if python != nil {
		if python.IsCross() {
			configPath, err := writeConfigFile(python)
			if err != nil {
				return "", err
			}
			defer os.Remove(configPath)
			env = append(env, EnvPyO3ConfigFile+"="+configPath)
			d.Log.Debug("cargo", "build", "info", "Using bundled interpreter config", "path", configPath)
		} else {
			env = append(env,
				EnvPyO3Python+"="+python.Executable,
				EnvPythonSysExe+"="+python.Executable,
			)
		}
	}

	buildArgs := append([]string{"build"}, args...)
	buildArgs = append(buildArgs, "--message-format", "json")
	cmd := exec.Command(d.cargoPath(), buildArgs...)
	cmd.Env = env
	cmd.Stderr = d.stderr()
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	var record *transcript
	if d.TranscriptPath != "" {
		record, err = createTranscript(d.TranscriptPath)
		if err != nil {
			d.Log.Warn("cargo", "write", "warning", "Not recording cargo messages", "error", err)
		}
	}

	bar := d.newProgress(tasks)
	res, scanErr := scanMessages(stdout, req.BindingCrate, req.LibName, func(line []byte) {
		bar.Inc()
		if record != nil {
			if err := record.writeLine(line); err != nil {
				d.Log.Warn("cargo", "write", "warning", "Stopped recording cargo messages", "error", err)
				record.Close()
				record = nil
			}
		}
	})
	bar.Finish()
	if record != nil {
		if err := record.Close(); err != nil {
			d.Log.Warn("cargo", "write", "warning", "Failed to finish message transcript", "error", err)
		}
	}
	if scanErr != nil {
		// drain so cargo is not blocked on a full pipe before we wait
		io.Copy(io.Discard, stdout)
	}

	if err := cmd.Wait(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBuildFailed, err)
	}
	if scanErr != nil {
		return "", scanErr
	}

	// A single linked library is the python the binding crate picked. It
	// is not compared against the requested interpreter yet: cargo does not
	// expose enough of the build script's environment for that check.
	if res.bindingLib != nil && len(res.bindingLib.LinkedLibs) == 1 {
		d.Log.Debug("cargo", "observe", "info", "Binding crate linked", "library", res.bindingLib.LinkedLibs[0])
	}

	crateType := CrateTypeCdylib
	if req.Binary {
		crateType = CrateTypeBin
	}
	artifact, err := resolveArtifact(res.artifact, req.LibName, crateType)
	if err != nil {
		return "", err
	}
	d.Log.Debug("cargo", "build", "success", "Built artifact", "path", artifact, "lines", res.lines)
	return artifact, nil
}

func (d *Driver) buildPlan(args []string) (int, error) {
	planArgs := append([]string{"build"}, args...)
	planArgs = append(planArgs, "-Z", "unstable-options", "--build-plan")
	cmd := exec.Command(d.cargoPath(), planArgs...)
	cmd.Env = d.baseEnv()
	cmd.Stderr = d.stderr()
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return 0, fmt.Errorf("%w: %v", ErrBuildPlan, err)
		}
		return 0, fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	var plan buildPlan
	if err := json.Unmarshal(out, &plan); err != nil {
		return 0, fmt.Errorf("%w: the build plan has an invalid format: %v", ErrBuildPlan, err)
	}
	return len(plan.Invocations), nil
}

// writeConfigFile renders the interpreter's knowledge base row for the
// binding crate's build script.
func writeConfigFile(python *interpreter.PythonInterpreter) (string, error) {
	f, err := os.CreateTemp("", "wheelsmith-pyo3-config-*.txt")
	if err != nil {
		return "", fmt.Errorf("creating interpreter config file: %w", err)
	}
	if _, err := f.WriteString(python.RuntimeConfig().PyO3Config()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("writing interpreter config file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// CommandLine formats the cargo invocation for logs.
func (d *Driver) CommandLine(req Request, python *interpreter.PythonInterpreter) string {
	return d.cargoPath() + " build " + strings.Join(sharedArgs(req, python), " ")
}
