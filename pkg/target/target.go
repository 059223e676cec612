// Package target models the operating system and CPU architecture a crate is
// compiled for, and derives the platform part of wheel compatibility tags.
package target

import (
	"fmt"
	"runtime"
	"strings"
)

// Os is an operating system as named in the sysconfig dataset.
type Os string

const (
	Linux   Os = "linux"
	Macos   Os = "macos"
	Windows Os = "windows"
	FreeBSD Os = "freebsd"
)

// Arch is a CPU architecture as named in the sysconfig dataset.
type Arch string

const (
	X86_64      Arch = "x86_64"
	X86         Arch = "i686"
	Aarch64     Arch = "aarch64"
	Armv7L      Arch = "armv7l"
	Powerpc64Le Arch = "ppc64le"
	S390X       Arch = "s390x"
)

// PlatformTag selects the linux platform policy a wheel is tagged with.
type PlatformTag string

const (
	// PlatformLinux is the plain `linux_<arch>` tag, not accepted by PyPI.
	PlatformLinux         PlatformTag = "linux"
	PlatformManylinux2010 PlatformTag = "manylinux2010"
	PlatformManylinux2014 PlatformTag = "manylinux2014"
)

// ParsePlatformTag accepts the values of the --compatibility flag.
func ParsePlatformTag(s string) (PlatformTag, error) {
	switch PlatformTag(s) {
	case PlatformLinux, PlatformManylinux2010, PlatformManylinux2014:
		return PlatformTag(s), nil
	case "off":
		return PlatformLinux, nil
	}
	return "", fmt.Errorf("unknown platform compatibility %q (expected linux, manylinux2010 or manylinux2014)", s)
}

// Target is the (OS, architecture) pair a build produces binaries for.
type Target struct {
	Os     Os
	Arch   Arch
	Triple string // rust target triple, empty for the host
}

// Host returns the target describing the running machine.
func Host() (Target, error) {
	os, err := osFromGo(runtime.GOOS)
	if err != nil {
		return Target{}, err
	}
	arch, err := archFromGo(runtime.GOARCH)
	if err != nil {
		return Target{}, err
	}
	return Target{Os: os, Arch: arch}, nil
}

// FromTriple parses a rust target triple such as x86_64-unknown-linux-gnu.
// An empty triple means the host.
func FromTriple(triple string) (Target, error) {
	if triple == "" {
		return Host()
	}
	parts := strings.Split(triple, "-")
	if len(parts) < 3 {
		return Target{}, fmt.Errorf("invalid target triple %q", triple)
	}
	var arch Arch
	switch parts[0] {
	case "x86_64":
		arch = X86_64
	case "i686", "i586", "i386":
		arch = X86
	case "aarch64", "arm64":
		arch = Aarch64
	case "armv7", "armv7l":
		arch = Armv7L
	case "powerpc64le":
		arch = Powerpc64Le
	case "s390x":
		arch = S390X
	default:
		return Target{}, fmt.Errorf("unsupported architecture %q in target triple %q", parts[0], triple)
	}

	var os Os
	switch {
	case strings.Contains(triple, "-linux"):
		os = Linux
	case strings.Contains(triple, "-apple-darwin"):
		os = Macos
	case strings.Contains(triple, "-windows"):
		os = Windows
	case strings.Contains(triple, "-freebsd"):
		os = FreeBSD
	default:
		return Target{}, fmt.Errorf("unsupported operating system in target triple %q", triple)
	}
	return Target{Os: os, Arch: arch, Triple: triple}, nil
}

func osFromGo(goos string) (Os, error) {
	switch goos {
	case "linux":
		return Linux, nil
	case "darwin":
		return Macos, nil
	case "windows":
		return Windows, nil
	case "freebsd":
		return FreeBSD, nil
	}
	return "", fmt.Errorf("unsupported operating system %q", goos)
}

func archFromGo(goarch string) (Arch, error) {
	switch goarch {
	case "amd64":
		return X86_64, nil
	case "386":
		return X86, nil
	case "arm64":
		return Aarch64, nil
	case "arm":
		return Armv7L, nil
	case "ppc64le":
		return Powerpc64Le, nil
	case "s390x":
		return S390X, nil
	}
	return "", fmt.Errorf("unsupported architecture %q", goarch)
}

// IsCross reports whether binaries for t cannot be executed on the host.
func (t Target) IsCross() bool {
	host, err := Host()
	if err != nil {
		return true
	}
	return host.Os != t.Os || host.Arch != t.Arch
}

// PointerWidth is the size of a pointer in bits.
func (t Target) PointerWidth() int {
	switch t.Arch {
	case X86, Armv7L:
		return 32
	}
	return 64
}

// String implements fmt.Stringer.
func (t Target) String() string {
	return fmt.Sprintf("%s-%s", t.Os, t.Arch)
}

// PlatformTagFor returns the platform component of a wheel tag, e.g.
// manylinux2014_x86_64, macosx_10_7_x86_64 or win_amd64.
func (t Target) PlatformTagFor(tag PlatformTag, universal2 bool) (string, error) {
	switch t.Os {
	case Linux:
		if tag == "" {
			tag = PlatformManylinux2014
		}
		if tag == PlatformManylinux2010 && t.Arch != X86_64 && t.Arch != X86 {
			return "", fmt.Errorf("manylinux2010 is only defined for x86_64 and i686, not %s", t.Arch)
		}
		return fmt.Sprintf("%s_%s", tag, t.Arch), nil
	case Macos:
		if universal2 {
			return "macosx_10_9_universal2", nil
		}
		switch t.Arch {
		case X86_64:
			return "macosx_10_7_x86_64", nil
		case Aarch64:
			return "macosx_11_0_arm64", nil
		}
	case Windows:
		switch t.Arch {
		case X86_64:
			return "win_amd64", nil
		case X86:
			return "win32", nil
		case Aarch64:
			return "win_arm64", nil
		}
	case FreeBSD:
		if t.Arch == X86_64 {
			return "freebsd_x86_64", nil
		}
	}
	return "", fmt.Errorf("no platform tag is defined for %s", t)
}

// UniversalTags returns the tag of a wheel that works with any python 3 on
// this platform, used for the bin and cffi bridges.
func (t Target) UniversalTags(tag PlatformTag, universal2 bool) (string, []string, error) {
	platform, err := t.PlatformTagFor(tag, universal2)
	if err != nil {
		return "", nil, err
	}
	tagStr := "py3-none-" + platform
	return tagStr, []string{tagStr}, nil
}

// SharedLibraryExtension is the file extension of a dynamic library.
func (t Target) SharedLibraryExtension() string {
	switch t.Os {
	case Windows:
		return ".pyd"
	}
	return ".so"
}

// ExecutableSuffix is ".exe" on windows and empty elsewhere.
func (t Target) ExecutableSuffix() string {
	if t.Os == Windows {
		return ".exe"
	}
	return ""
}
