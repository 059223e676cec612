// Package interpreter describes the python interpreters a crate is built
// for. Host interpreters are asked about themselves; cross-compilation
// targets are filled in from the sysconfig knowledge base.
package interpreter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"wheelsmith-tools/go/pkg/logbowl"
	"wheelsmith-tools/go/pkg/sysconfig"
	"wheelsmith-tools/go/pkg/target"
)

// PythonInterpreter is one concrete runtime to build a native module for.
type PythonInterpreter struct {
	Major int
	Minor int
	Kind  sysconfig.InterpreterKind
	// ABIFlags, ExtSuffix and ABITag carry the sysconfig values; ABITag is
	// empty on windows.
	ABIFlags     string
	ExtSuffix    string
	ABITag       string
	PointerWidth int
	// Executable is the absolute interpreter path, empty when the
	// interpreter only exists on the target (cross compilation).
	Executable string
	Target     target.Target
}

// FromConfig builds an interpreter for a target that cannot be executed
// locally.
func FromConfig(t target.Target, row sysconfig.RuntimeConfig) *PythonInterpreter {
	abiTag := ""
	if row.ABITag != nil {
		abiTag = *row.ABITag
	}
	return &PythonInterpreter{
		Major:        row.Major,
		Minor:        row.Minor,
		Kind:         row.Interpreter,
		ABIFlags:     row.ABIFlags,
		ExtSuffix:    row.ExtSuffix,
		ABITag:       abiTag,
		PointerWidth: row.PointerWidth,
		Target:       t,
	}
}

// IsCross reports whether there is no local executable for this interpreter.
func (p *PythonInterpreter) IsCross() bool {
	return p.Executable == ""
}

// RuntimeConfig converts back into a knowledge base row.
func (p *PythonInterpreter) RuntimeConfig() sysconfig.RuntimeConfig {
	var abiTag *string
	if p.ABITag != "" {
		tag := p.ABITag
		abiTag = &tag
	}
	pointerWidth := p.PointerWidth
	if pointerWidth == 0 {
		pointerWidth = p.Target.PointerWidth()
	}
	return sysconfig.RuntimeConfig{
		Major:        p.Major,
		Minor:        p.Minor,
		Interpreter:  p.Kind,
		ABIFlags:     p.ABIFlags,
		ExtSuffix:    p.ExtSuffix,
		ABITag:       abiTag,
		PointerWidth: pointerWidth,
	}
}

// Tag returns the wheel compatibility tag for a module built against this
// interpreter, e.g. cp310-cp310-manylinux2014_x86_64.
func (p *PythonInterpreter) Tag(platformTag target.PlatformTag, universal2 bool) (string, error) {
	platform, err := p.Target.PlatformTagFor(platformTag, universal2)
	if err != nil {
		return "", err
	}
	switch p.Kind {
	case sysconfig.PyPy:
		if p.ABITag == "" {
			return "", fmt.Errorf("%s has no abi tag", p)
		}
		return fmt.Sprintf("pp%d%d-pypy%d%d_%s-%s", p.Major, p.Minor, p.Major, p.Minor, p.ABITag, platform), nil
	default:
		return fmt.Sprintf("cp%d%d-cp%d%d%s-%s", p.Major, p.Minor, p.Major, p.Minor, p.ABIFlags, platform), nil
	}
}

// LibraryName is the file name python imports the module `base` from.
func (p *PythonInterpreter) LibraryName(base string) string {
	return base + p.ExtSuffix
}

// String implements fmt.Stringer.
func (p *PythonInterpreter) String() string {
	where := "at " + p.Executable
	if p.IsCross() {
		where = "for " + p.Target.String() + " (cross)"
	}
	return fmt.Sprintf("%s %d.%d%s %s", p.Kind.Name(), p.Major, p.Minor, p.ABIFlags, where)
}

var versionPattern = regexp.MustCompile(`^(python|pypy)?(\d+)\.(\d+)$`)

// ParseVersion understands "3.10", "python3.10" and "pypy3.9".
func ParseVersion(name string) (sysconfig.InterpreterKind, int, int, error) {
	m := versionPattern.FindStringSubmatch(strings.TrimSuffix(strings.ToLower(name), ".exe"))
	if m == nil {
		return "", 0, 0, fmt.Errorf("can't parse a python version from %q (expected e.g. python3.10 or pypy3.9)", name)
	}
	kind := sysconfig.CPython
	if m[1] == "pypy" {
		kind = sysconfig.PyPy
	}
	major, _ := strconv.Atoi(m[2])
	minor, _ := strconv.Atoi(m[3])
	return kind, major, minor, nil
}

// introspectScript prints the sysconfig values as one json line, in the
// same shape as the rows of the embedded dataset.
const introspectScript = `import json, platform, struct, sys, sysconfig
soabi = sysconfig.get_config_var("SOABI")
print(json.dumps({
    "major": sys.version_info.major,
    "minor": sys.version_info.minor,
    "interpreter": platform.python_implementation().lower(),
    "abiflags": getattr(sys, "abiflags", ""),
    "ext_suffix": sysconfig.get_config_var("EXT_SUFFIX") or ".pyd",
    "abi_tag": soabi.split("-")[1] if soabi and "-" in soabi else None,
    "pointer_width": struct.calcsize("P") * 8,
}))
`

// Finder resolves interpreter names into descriptors.
type Finder struct {
	Log    logbowl.Logger
	Target target.Target
	// LookPath and Run default to exec.LookPath and running the command
	// for its stdout.
	LookPath func(file string) (string, error)
	Run      func(name string, args ...string) ([]byte, error)
	// Sysconfig defaults to the embedded knowledge base.
	Sysconfig *sysconfig.Database
}

// defaultCandidates are probed when no interpreter is given explicitly.
var defaultCandidates = []string{
	"python3.7", "python3.8", "python3.9", "python3.10", "python3.11", "python3.12", "python3.13",
	"pypy3.7", "pypy3.8", "pypy3.9", "pypy3.10",
}

func (f *Finder) lookPath(file string) (string, error) {
	if f.LookPath != nil {
		return f.LookPath(file)
	}
	return exec.LookPath(file)
}

func (f *Finder) run(name string, args ...string) ([]byte, error) {
	if f.Run != nil {
		return f.Run(name, args...)
	}
	var stderr bytes.Buffer
	cmd := exec.Command(name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

func (f *Finder) db() *sysconfig.Database {
	if f.Sysconfig != nil {
		return f.Sysconfig
	}
	return sysconfig.WellKnown()
}

// Find resolves names into interpreters. For the host target each name must
// be an executable on PATH (or a path); for cross targets the names are only
// versions and the knowledge base supplies the rest. With no names the host
// PATH is probed, which is not possible when cross compiling.
func (f *Finder) Find(names []string) ([]*PythonInterpreter, error) {
	if f.Target.IsCross() {
		return f.findCross(names)
	}
	if len(names) == 0 {
		var found []*PythonInterpreter
		for _, candidate := range defaultCandidates {
			executable, err := f.lookPath(candidate)
			if err != nil {
				continue
			}
			interp, err := f.Introspect(executable)
			if err != nil {
				f.Log.Debug("python", "query", "skip", "Ignoring interpreter that failed introspection", "path", executable, "error", err)
				continue
			}
			found = append(found, interp)
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("couldn't find any python interpreters, please specify at least one with -i")
		}
		return found, nil
	}

	var found []*PythonInterpreter
	for _, name := range names {
		executable, err := f.lookPath(name)
		if err != nil {
			return nil, fmt.Errorf("python interpreter %q not found: %w", name, err)
		}
		interp, err := f.Introspect(executable)
		if err != nil {
			return nil, err
		}
		found = append(found, interp)
	}
	return found, nil
}

func (f *Finder) findCross(names []string) ([]*PythonInterpreter, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("cross compiling for %s requires explicit python versions (-i)", f.Target)
	}
	var found []*PythonInterpreter
	for _, name := range names {
		kind, major, minor, err := ParseVersion(name)
		if err != nil {
			return nil, err
		}
		row, ok := f.db().LookupImplementation(kind, f.Target.Os, f.Target.Arch, major, minor)
		if !ok {
			return nil, fmt.Errorf("no well-known sysconfig for %s %d.%d on %s", kind.Name(), major, minor, f.Target)
		}
		interp := FromConfig(f.Target, row)
		f.Log.Debug("python", "resolve", "cached", "Using bundled sysconfig for cross target", "interpreter", interp.String())
		found = append(found, interp)
	}
	return found, nil
}

// Introspect runs the interpreter to learn its configuration.
func (f *Finder) Introspect(executable string) (*PythonInterpreter, error) {
	out, err := f.run(executable, "-c", introspectScript)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", executable, err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	var row sysconfig.RuntimeConfig
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &row); err != nil {
		return nil, fmt.Errorf("invalid interpreter metadata from %s: %w", executable, err)
	}
	if row.Major != 3 {
		return nil, fmt.Errorf("%s is python %d.%d, only python 3 is supported", executable, row.Major, row.Minor)
	}
	interp := FromConfig(f.Target, row)
	interp.Executable = executable
	f.Log.Debug("python", "query", "success", "Found interpreter", "interpreter", interp.String())
	return interp, nil
}
