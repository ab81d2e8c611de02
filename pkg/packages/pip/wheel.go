package pip

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/djcass44/envlock/pkg/platform"
)

var (
	regexpManylinux = regexp.MustCompile(`^manylinux_(\d+)_(\d+)_(.+)$`)
	regexpMacOS     = regexp.MustCompile(`^macosx_(\d+)_(\d+)_(.+)$`)
)

// legacy manylinux tags and the glibc they require
var legacyManylinux = map[string]string{
	"manylinux1":    "2.5",
	"manylinux2010": "2.12",
	"manylinux2014": "2.17",
}

// wheelTags are the parsed tags of a wheel file name.
type wheelTags struct {
	python   []string
	abi      []string
	platform []string
}

// parseWheel splits name-version(-build)?-python-abi-platform.whl
func parseWheel(filename string) (wheelTags, error) {
	stem := strings.TrimSuffix(filename, ".whl")
	parts := strings.Split(stem, "-")
	if len(parts) != 5 && len(parts) != 6 {
		return wheelTags{}, fmt.Errorf("invalid wheel filename: %s", filename)
	}
	n := len(parts)
	return wheelTags{
		python:   strings.Split(parts[n-3], "."),
		abi:      strings.Split(parts[n-2], "."),
		platform: strings.Split(parts[n-1], "."),
	}, nil
}

// Target is the interpreter and system that wheels must
// support.
type Target struct {
	Platform platform.Platform
	// Python is the full interpreter version, e.g. 3.11.4
	Python string
	// Glibc and MacOS are the versions of the matching virtual
	// packages, if any.
	Glibc string
	MacOS string
}

func (t Target) pythonMinor() (int, int) {
	bits := strings.Split(t.Python, ".")
	major, minor := 3, 0
	if len(bits) > 0 {
		major, _ = strconv.Atoi(bits[0])
	}
	if len(bits) > 1 {
		minor, _ = strconv.Atoi(bits[1])
	}
	return major, minor
}

// Score returns how well a wheel fits the target. Zero means
// the wheel cannot be installed; higher is better.
func (t Target) Score(filename string) int {
	tags, err := parseWheel(filename)
	if err != nil {
		return 0
	}
	python := t.scorePython(tags.python, tags.abi)
	if python == 0 {
		return 0
	}
	plat := t.scorePlatform(tags.platform)
	if plat == 0 {
		return 0
	}
	return plat*10 + python
}

func (t Target) scorePython(python, abi []string) int {
	major, minor := t.pythonMinor()
	cp := fmt.Sprintf("cp%d%d", major, minor)
	best := 0
	for _, py := range python {
		for _, a := range abi {
			var score int
			switch {
			case py == cp && (a == cp || a == cp+"m"):
				score = 4
			case strings.HasPrefix(py, "cp") && a == "abi3":
				// abi3 wheels work on any later interpreter
				v, err := strconv.Atoi(strings.TrimPrefix(py, fmt.Sprintf("cp%d", major)))
				if err == nil && strings.HasPrefix(py, fmt.Sprintf("cp%d", major)) && v <= minor {
					score = 3
				}
			case a == "none" && (py == fmt.Sprintf("py%d%d", major, minor) || py == cp):
				score = 2
			case a == "none" && py == fmt.Sprintf("py%d", major):
				score = 1
			}
			if score > best {
				best = score
			}
		}
	}
	return best
}

func (t Target) scorePlatform(tags []string) int {
	best := 0
	for _, tag := range tags {
		var score int
		switch {
		case tag == "any":
			score = 1
		case t.Platform.OS() == "linux":
			score = t.scoreLinux(tag)
		case t.Platform.OS() == "osx":
			score = t.scoreMacOS(tag)
		case t.Platform.OS() == "win":
			if tag == windowsTag(t.Platform) {
				score = 2
			}
		}
		if score > best {
			best = score
		}
	}
	return best
}

func windowsTag(p platform.Platform) string {
	switch p {
	case platform.Win64:
		return "win_amd64"
	case platform.Win32:
		return "win32"
	case platform.WinArm64:
		return "win_arm64"
	}
	return ""
}

func (t Target) scoreLinux(tag string) int {
	arch := t.Platform.Machine()
	if arch == "x86" {
		arch = "i686"
	}
	if glibc, ok := legacyManylinux[strings.TrimSuffix(tag, "_"+arch)]; ok && strings.HasSuffix(tag, "_"+arch) {
		if versionAtMost(glibc, t.glibc()) {
			return 2
		}
		return 0
	}
	if m := regexpManylinux.FindStringSubmatch(tag); m != nil && m[3] == arch {
		if versionAtMost(m[1]+"."+m[2], t.glibc()) {
			return 2
		}
	}
	return 0
}

func (t Target) glibc() string {
	if t.Glibc == "" {
		return "2.17"
	}
	return t.Glibc
}

func (t Target) scoreMacOS(tag string) int {
	m := regexpMacOS.FindStringSubmatch(tag)
	if m == nil {
		return 0
	}
	arch := t.Platform.Machine()
	switch m[3] {
	case arch, "universal2":
	case "intel", "universal":
		if arch != "x86_64" {
			return 0
		}
	default:
		return 0
	}
	if t.MacOS != "" && !versionAtMost(m[1]+"."+m[2], t.MacOS) {
		return 0
	}
	return 2
}

// versionAtMost compares dotted numeric versions.
func versionAtMost(a, b string) bool {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var x, y int
		if i < len(as) {
			x, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			y, _ = strconv.Atoi(bs[i])
		}
		if x != y {
			return x < y
		}
	}
	return true
}
