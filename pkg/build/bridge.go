package build

import (
	"fmt"
	"regexp"
	"strconv"

	"wheelsmith-tools/go/pkg/metadata"
)

// BridgeKind is how the compiled crate is exposed to python.
type BridgeKind int

const (
	// Bin ships an executable in the wheel's scripts.
	Bin BridgeKind = iota
	// Cffi ships a plain shared library loaded over the C ABI.
	Cffi
	// Bindings links against one interpreter version; one wheel per
	// interpreter.
	Bindings
	// Abi3 targets the stable ABI from a minimum version on; one wheel for
	// all of them.
	Abi3
)

// BridgeModel is the binding strategy of a crate.
type BridgeModel struct {
	Kind BridgeKind
	// Crate is the binding crate for Bindings and Abi3, e.g. "pyo3".
	Crate string
	// Major and Minor are the minimum version for Abi3.
	Major, Minor int
}

func (b BridgeModel) String() string {
	switch b.Kind {
	case Bin:
		return "bin"
	case Cffi:
		return "cffi"
	case Abi3:
		return fmt.Sprintf("%s (abi3, python >= %d.%d)", b.Crate, b.Major, b.Minor)
	}
	return b.Crate
}

// PerInterpreter reports whether every interpreter gets its own build.
func (b BridgeModel) PerInterpreter() bool {
	return b.Kind == Bindings
}

// NeedsInterpreter reports whether the build links against python.
func (b BridgeModel) NeedsInterpreter() bool {
	return b.Kind == Bindings || b.Kind == Abi3
}

var abi3Feature = regexp.MustCompile(`^abi3-py(\d)(\d+)$`)

// bindingCrates are recognized in [dependencies], in order of preference.
var bindingCrates = []string{"pyo3", "cpython"}

// FindBridge decides the binding strategy. An explicit bindings value
// ("pyo3", "rust-cpython", "cffi", "bin") wins over detection from the
// manifest's dependencies.
func FindBridge(manifest *metadata.CargoToml, bindings string) (BridgeModel, error) {
	switch bindings {
	case "bin":
		return BridgeModel{Kind: Bin}, nil
	case "cffi":
		return BridgeModel{Kind: Cffi}, nil
	case "rust-cpython":
		bindings = "cpython"
	}

	if bindings != "" {
		found, features := manifest.Dependency(bindings)
		if !found {
			return BridgeModel{}, fmt.Errorf("the bindings crate %s was not found in the dependencies of %s", bindings, manifest.Package.Name)
		}
		return bindingsBridge(bindings, features), nil
	}

	for _, crate := range bindingCrates {
		if found, features := manifest.Dependency(crate); found {
			return bindingsBridge(crate, features), nil
		}
	}
	if manifest.Lib != nil {
		for _, crateType := range manifest.Lib.CrateType {
			if crateType == "cdylib" {
				return BridgeModel{Kind: Cffi}, nil
			}
		}
	}
	return BridgeModel{Kind: Bin}, nil
}

func bindingsBridge(crate string, features []string) BridgeModel {
	bridge := BridgeModel{Kind: Bindings, Crate: crate}
	plainAbi3 := false
	for _, feature := range features {
		if feature == "abi3" {
			plainAbi3 = true
			continue
		}
		m := abi3Feature.FindStringSubmatch(feature)
		if m == nil {
			continue
		}
		major, _ := strconv.Atoi(m[1])
		minor, _ := strconv.Atoi(m[2])
		// the highest abi3-pyXY feature is the effective minimum
		if bridge.Kind != Abi3 || major > bridge.Major || (major == bridge.Major && minor > bridge.Minor) {
			bridge = BridgeModel{Kind: Abi3, Crate: crate, Major: major, Minor: minor}
		}
	}
	if plainAbi3 && bridge.Kind != Abi3 {
		bridge = BridgeModel{Kind: Abi3, Crate: crate, Major: 3, Minor: 7}
	}
	return bridge
}
