package platform

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

var ErrUnknownPlatform = errors.New("unknown platform")

// Platform is a conda subdir that a lock can be generated
// for (e.g. linux-64).
type Platform string

const (
	Linux64          Platform = "linux-64"
	Linux32          Platform = "linux-32"
	LinuxAarch64     Platform = "linux-aarch64"
	LinuxPpc64le     Platform = "linux-ppc64le"
	LinuxS390x       Platform = "linux-s390x"
	LinuxArmv6l      Platform = "linux-armv6l"
	LinuxArmv7l      Platform = "linux-armv7l"
	Osx64            Platform = "osx-64"
	OsxArm64         Platform = "osx-arm64"
	Win64            Platform = "win-64"
	Win32            Platform = "win-32"
	WinArm64         Platform = "win-arm64"
	EmscriptenWasm32 Platform = "emscripten-wasm32"
	WasiWasm32       Platform = "wasi-wasm32"
	ZosZ             Platform = "zos-z"

	// NoArch is never a target, but every target also
	// reads the noarch subdir.
	NoArch = "noarch"
)

var known = []Platform{
	Linux64,
	Linux32,
	LinuxAarch64,
	LinuxPpc64le,
	LinuxS390x,
	LinuxArmv6l,
	LinuxArmv7l,
	Osx64,
	OsxArm64,
	Win64,
	Win32,
	WinArm64,
	EmscriptenWasm32,
	WasiWasm32,
	ZosZ,
}

// Parse validates a platform tag.
func Parse(s string) (Platform, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for _, p := range known {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, s)
}

// Host returns the platform of the running machine.
func Host() Platform {
	var os string
	switch runtime.GOOS {
	case "darwin":
		os = "osx"
	case "windows":
		os = "win"
	default:
		os = "linux"
	}
	var arch string
	switch runtime.GOARCH {
	case "arm64":
		if os == "linux" {
			arch = "aarch64"
		} else {
			arch = "arm64"
		}
	case "386":
		arch = "32"
	case "ppc64le", "s390x":
		arch = runtime.GOARCH
	default:
		arch = "64"
	}
	return Platform(os + "-" + arch)
}

func (p Platform) String() string {
	return string(p)
}

// OS returns the operating system half of the tag using
// conda naming (linux, osx, win, ...).
func (p Platform) OS() string {
	os, _, _ := strings.Cut(string(p), "-")
	return os
}

// Arch returns the architecture half of the tag.
func (p Platform) Arch() string {
	_, arch, _ := strings.Cut(string(p), "-")
	return arch
}

// Unix returns true for platforms that conda considers unix.
func (p Platform) Unix() bool {
	switch p.OS() {
	case "linux", "osx", "emscripten", "wasi":
		return true
	}
	return false
}

// Subdirs returns the repodata subdirectories that must be
// consulted when resolving for this platform.
func (p Platform) Subdirs() []string {
	return []string{string(p), NoArch}
}

// Machine returns the value of Python's platform.machine()
// on this platform.
func (p Platform) Machine() string {
	switch p {
	case Linux64, Osx64:
		return "x86_64"
	case Win64:
		return "AMD64"
	case Linux32, Win32:
		return "x86"
	case LinuxAarch64:
		return "aarch64"
	case OsxArm64, WinArm64:
		return "arm64"
	case LinuxPpc64le:
		return "ppc64le"
	case LinuxS390x:
		return "s390x"
	case LinuxArmv6l:
		return "armv6l"
	case LinuxArmv7l:
		return "armv7l"
	}
	return p.Arch()
}
