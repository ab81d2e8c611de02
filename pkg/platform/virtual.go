package platform

import "sort"

// VirtualPackage describes the host system to the solver.
// Virtual packages satisfy dependencies but are never locked.
type VirtualPackage struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Build   string `json:"build"`
}

const (
	defaultGlibc    = "2.17"
	defaultOsx64    = "10.15"
	defaultOsxArm64 = "11.0"
)

// VirtualPackages returns the virtual packages that are
// assumed to exist on the platform. Overrides replace or add
// entries by name; an override with an empty version removes
// the package.
func VirtualPackages(p Platform, overrides map[string]string) []VirtualPackage {
	pkgs := map[string]VirtualPackage{}
	add := func(name, version string) {
		pkgs[name] = VirtualPackage{Name: name, Version: version, Build: "0"}
	}

	if p.Unix() {
		add("__unix", "0")
	}
	switch p.OS() {
	case "linux":
		add("__linux", "5.10")
		add("__glibc", defaultGlibc)
	case "osx":
		if p == OsxArm64 {
			add("__osx", defaultOsxArm64)
		} else {
			add("__osx", defaultOsx64)
		}
	case "win":
		add("__win", "0")
	}
	if arch := p.Machine(); arch != "" {
		pkgs["__archspec"] = VirtualPackage{Name: "__archspec", Version: "1", Build: arch}
	}

	for name, version := range overrides {
		if version == "" {
			delete(pkgs, name)
			continue
		}
		add(name, version)
	}

	out := make([]VirtualPackage, 0, len(pkgs))
	for _, v := range pkgs {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}
