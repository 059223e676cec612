// Package sysconfig is the bundled knowledge base of well-known python
// interpreter configurations, keyed by operating system, architecture and
// python version.
//
// It exists for cross compilation: when the target interpreter cannot be run
// on the build host, the row for (os, arch, major, minor) stands in for
// asking the interpreter about itself, and PyO3Config renders it into the
// file the binding crate's build script reads instead.
//
// The dataset is embedded, decoded on first use and never modified, so
// concurrent lookups need no locking.
package sysconfig

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"wheelsmith-tools/go/pkg/target"
)

//go:embed sysconfig.json
var wellKnownJSON []byte

// InterpreterKind distinguishes python implementations.
type InterpreterKind string

const (
	CPython InterpreterKind = "cpython"
	PyPy    InterpreterKind = "pypy"
)

// Name is the implementation name as PyO3 spells it.
func (k InterpreterKind) Name() string {
	switch k {
	case PyPy:
		return "PyPy"
	}
	return "CPython"
}

// ParseInterpreterKind accepts "cpython" and "pypy" in any case.
func ParseInterpreterKind(s string) (InterpreterKind, error) {
	switch InterpreterKind(strings.ToLower(s)) {
	case CPython:
		return CPython, nil
	case PyPy:
		return PyPy, nil
	}
	return "", fmt.Errorf("unknown python implementation %q", s)
}

// RuntimeConfig is the subset of an interpreter's sysconfig data we care about.
type RuntimeConfig struct {
	Major       int             `json:"major"`
	Minor       int             `json:"minor"`
	Interpreter InterpreterKind `json:"interpreter"`
	// ABIFlags is e.g. "m" for python3.7m; empty since python 3.8 and
	// always empty on windows.
	ABIFlags  string `json:"abiflags"`
	ExtSuffix string `json:"ext_suffix"`
	// ABITag is the {major}{minor}{abiflags} part of SOABI, nil on windows.
	ABITag       *string `json:"abi_tag"`
	PointerWidth int     `json:"pointer_width"`
}

type version struct{ major, minor int }

// Database is the decoded dataset: kind -> os -> arch -> version -> row.
type Database struct {
	rows map[InterpreterKind]map[target.Os]map[target.Arch]map[version]RuntimeConfig
}

var wellKnown = sync.OnceValue(func() *Database {
	db, err := Parse(wellKnownJSON)
	if err != nil {
		panic(fmt.Sprintf("invalid embedded sysconfig.json: %v", err))
	}
	return db
})

// WellKnown returns the embedded database, decoding it on first use.
func WellKnown() *Database {
	return wellKnown()
}

// Parse decodes a dataset of the shape {"linux": {"x86_64": [row, ...]}}.
// A second row for the same kind, os, arch and version is an error.
func Parse(data []byte) (*Database, error) {
	var raw map[target.Os]map[target.Arch][]RuntimeConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	db := &Database{rows: map[InterpreterKind]map[target.Os]map[target.Arch]map[version]RuntimeConfig{}}
	for os, arches := range raw {
		for arch, rows := range arches {
			for _, row := range rows {
				if row.Interpreter == "" {
					row.Interpreter = CPython
				}
				byOs, ok := db.rows[row.Interpreter]
				if !ok {
					byOs = map[target.Os]map[target.Arch]map[version]RuntimeConfig{}
					db.rows[row.Interpreter] = byOs
				}
				byArch, ok := byOs[os]
				if !ok {
					byArch = map[target.Arch]map[version]RuntimeConfig{}
					byOs[os] = byArch
				}
				byVersion, ok := byArch[arch]
				if !ok {
					byVersion = map[version]RuntimeConfig{}
					byArch[arch] = byVersion
				}
				key := version{row.Major, row.Minor}
				if _, dup := byVersion[key]; dup {
					return nil, fmt.Errorf("duplicate %s %d.%d entry for %s/%s", row.Interpreter, row.Major, row.Minor, os, arch)
				}
				byVersion[key] = row
			}
		}
	}
	return db, nil
}

// Lookup finds the CPython configuration for (os, arch, major.minor).
func (db *Database) Lookup(os target.Os, arch target.Arch, major, minor int) (RuntimeConfig, bool) {
	return db.LookupImplementation(CPython, os, arch, major, minor)
}

// LookupImplementation is Lookup for an explicit python implementation.
// An unknown key returns false, never a default row.
func (db *Database) LookupImplementation(kind InterpreterKind, os target.Os, arch target.Arch, major, minor int) (RuntimeConfig, bool) {
	byVersion, ok := db.rows[kind][os][arch]
	if !ok {
		return RuntimeConfig{}, false
	}
	row, ok := byVersion[version{major, minor}]
	return row, ok
}

// Versions lists the known (kind, version) rows for a platform, sorted.
func (db *Database) Versions(os target.Os, arch target.Arch) []RuntimeConfig {
	var out []RuntimeConfig
	for _, byOs := range db.rows {
		for _, row := range byOs[os][arch] {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Interpreter != out[j].Interpreter {
			return out[i].Interpreter < out[j].Interpreter
		}
		if out[i].Major != out[j].Major {
			return out[i].Major < out[j].Major
		}
		return out[i].Minor < out[j].Minor
	})
	return out
}

// Lookup queries the embedded database.
func Lookup(os target.Os, arch target.Arch, major, minor int) (RuntimeConfig, bool) {
	return WellKnown().Lookup(os, arch, major, minor)
}

// LookupImplementation queries the embedded database.
func LookupImplementation(kind InterpreterKind, os target.Os, arch target.Arch, major, minor int) (RuntimeConfig, bool) {
	return WellKnown().LookupImplementation(kind, os, arch, major, minor)
}

// PyO3Config renders the config file PyO3's build script reads through
// PYO3_CONFIG_FILE instead of running the interpreter. The keys and their
// order are parsed literally on the other side.
func (c RuntimeConfig) PyO3Config() string {
	var b strings.Builder
	fmt.Fprintf(&b, "implementation=%s\n", c.Interpreter.Name())
	fmt.Fprintf(&b, "version=%d.%d\n", c.Major, c.Minor)
	b.WriteString("shared=true\n")
	b.WriteString("abi3=false\n")
	fmt.Fprintf(&b, "pointer_width=%d\n", c.PointerWidth)
	b.WriteString("build_flags=WITH_THREAD\n")
	b.WriteString("suppress_build_script_link_lines=false\n")
	return b.String()
}
