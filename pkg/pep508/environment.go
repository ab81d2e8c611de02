package pep508

import (
	"strings"

	"github.com/djcass44/envlock/pkg/platform"
)

// Environment returns the marker variables for a target
// platform and Python version (e.g. "3.11.6").
func Environment(p platform.Platform, python string) map[string]string {
	env := map[string]string{
		"platform_machine":               p.Machine(),
		"platform_python_implementation": "CPython",
		"implementation_name":            "cpython",
		"platform_release":               "",
		"platform_version":               "",
		"extra":                          "",
	}
	switch p.OS() {
	case "win":
		env["os_name"] = "nt"
		env["sys_platform"] = "win32"
		env["platform_system"] = "Windows"
	case "osx":
		env["os_name"] = "posix"
		env["sys_platform"] = "darwin"
		env["platform_system"] = "Darwin"
	case "emscripten":
		env["os_name"] = "posix"
		env["sys_platform"] = "emscripten"
		env["platform_system"] = "Emscripten"
	case "wasi":
		env["os_name"] = "posix"
		env["sys_platform"] = "wasi"
		env["platform_system"] = ""
	default:
		env["os_name"] = "posix"
		env["sys_platform"] = "linux"
		env["platform_system"] = "Linux"
	}
	if python != "" {
		bits := strings.SplitN(python, ".", 3)
		short := bits[0]
		if len(bits) > 1 {
			short += "." + bits[1]
		}
		env["python_version"] = short
		env["python_full_version"] = python
		env["implementation_version"] = python
	}
	return env
}

// WithExtra returns a copy of env with the extra variable set.
func WithExtra(env map[string]string, extra string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	out["extra"] = extra
	return out
}
