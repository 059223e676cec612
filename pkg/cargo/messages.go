package cargo

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// buildPlan is the abbreviated output of `cargo build --build-plan`.
type buildPlan struct {
	Invocations []json.RawMessage `json:"invocations"`
	Inputs      []string          `json:"inputs"`
}

// BuildScriptOutput is printed by `cargo build --message-format json` after
// a build script ran. The binding crate uses it to report what it linked.
//
// Example with python3.6 on ubuntu 18.04:
//
//	{"reason": "build-script-executed", "package_id": "pyo3 0.2.5 (path+file:///home/user/pyo3)",
//	 "linked_libs": ["python3.6m"], "linked_paths": ["native=/usr/lib"],
//	 "cfgs": ["Py_3_5", "Py_3_6", "Py_3", "py_sys_config=\"WITH_THREAD\""], "env": []}
type BuildScriptOutput struct {
	Reason      string          `json:"reason"`
	PackageID   string          `json:"package_id"`
	LinkedLibs  []string        `json:"linked_libs"`
	LinkedPaths []string        `json:"linked_paths"`
	Cfgs        []string        `json:"cfgs"`
	Env         json.RawMessage `json:"env"`
}

// CompilerArtifact is printed for every compiled target, such as the .so
// or .dll of the crate being built.
type CompilerArtifact struct {
	Reason    string         `json:"reason"`
	PackageID string         `json:"package_id"`
	Target    ArtifactTarget `json:"target"`
	Filenames []string       `json:"filenames"`
}

// ArtifactTarget names the compiled target and its crate types. CrateTypes
// and Filenames are parallel lists.
type ArtifactTarget struct {
	Name       string   `json:"name"`
	Kind       []string `json:"kind"`
	CrateTypes []string `json:"crate_types"`
}

// Message is one of *BuildScriptOutput or *CompilerArtifact.
type Message interface {
	reason() string
}

func (m *BuildScriptOutput) reason() string { return m.Reason }
func (m *CompilerArtifact) reason() string  { return m.Reason }

type messageParser func(line []byte) (Message, bool)

// messageParsers are tried in order on every line; each one either
// recognizes its shape or passes.
var messageParsers = []messageParser{
	parseBuildScriptOutput,
	parseCompilerArtifact,
}

func parseBuildScriptOutput(line []byte) (Message, bool) {
	var msg BuildScriptOutput
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, false
	}
	if msg.Reason != "build-script-executed" || msg.PackageID == "" {
		return nil, false
	}
	return &msg, true
}

func parseCompilerArtifact(line []byte) (Message, bool) {
	var msg CompilerArtifact
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, false
	}
	if msg.Reason != "compiler-artifact" || msg.Target.Name == "" {
		return nil, false
	}
	return &msg, true
}

// ParseMessage runs every parser over one line of cargo output and returns
// the shapes it matched. Lines that are not json, or json of another
// shape, yield nothing.
func ParseMessage(line []byte) []Message {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return nil
	}
	var out []Message
	for _, parse := range messageParsers {
		if msg, ok := parse(line); ok {
			out = append(out, msg)
		}
	}
	return out
}

// packageName extracts the crate name from a package id. Cargo used
// "name version (source)" before 1.77 and "source#name@version" since.
func packageName(id string) string {
	if i := strings.LastIndex(id, "#"); i >= 0 {
		spec := id[i+1:]
		if at := strings.Index(spec, "@"); at >= 0 {
			return spec[:at]
		}
		// path dependencies may omit the name: ".../pyo3#0.20.0"
		source := strings.TrimRight(id[:i], "/")
		return source[strings.LastIndex(source, "/")+1:]
	}
	if sp := strings.Index(id, " "); sp >= 0 {
		return id[:sp]
	}
	return id
}

func fromBindingCrate(id, bindingCrate string) bool {
	if bindingCrate == "" {
		return false
	}
	return strings.HasPrefix(id, bindingCrate) || strings.HasPrefix(packageName(id), bindingCrate)
}

// streamResult is what survives a pass over cargo's json output.
type streamResult struct {
	bindingLib *BuildScriptOutput
	artifact   *CompilerArtifact
	lines      int
}

// scanMessages reads cargo's stdout until it closes. The last build script
// message of the binding crate and the last artifact named libName win.
// onLine runs once per line, whatever the line contained.
func scanMessages(r io.Reader, bindingCrate, libName string, onLine func(line []byte)) (streamResult, error) {
	var res streamResult
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		res.lines++
		if onLine != nil {
			onLine(line)
		}
		for _, msg := range ParseMessage(line) {
			switch m := msg.(type) {
			case *BuildScriptOutput:
				if fromBindingCrate(m.PackageID, bindingCrate) {
					res.bindingLib = m
				}
			case *CompilerArtifact:
				if m.Target.Name == libName {
					res.artifact = m
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("reading cargo output: %w", err)
	}
	return res, nil
}

// resolveArtifact picks the file of the requested crate type.
func resolveArtifact(artifact *CompilerArtifact, libName, crateType string) (string, error) {
	if artifact == nil {
		return "", fmt.Errorf("%w (no artifact named %q)", ErrArtifactMissing, libName)
	}
	for pos, kind := range artifact.Target.CrateTypes {
		if kind != crateType {
			continue
		}
		if pos >= len(artifact.Filenames) {
			return "", fmt.Errorf("%w: cargo listed a %s for %q without a file name", ErrArtifactMissing, crateType, libName)
		}
		return artifact.Filenames[pos], nil
	}
	if crateType == CrateTypeCdylib {
		return "", fmt.Errorf("%w: cargo didn't build a cdylib (did you miss crate-type = [\"cdylib\"] in the lib section of your Cargo.toml?)", ErrArtifactKindMissing)
	}
	return "", fmt.Errorf("%w: cargo didn't build a %s for %q", ErrArtifactKindMissing, crateType, libName)
}
