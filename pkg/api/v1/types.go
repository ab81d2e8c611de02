package v1

type PackageType string

const (
	PackageConda PackageType = "Conda"
	PackagePip   PackageType = "Pip"
	PackageFile  PackageType = "File"
	PackageDir   PackageType = "Dir"
)

// ChannelNoDefaults is the marker that disables the
// implicit defaults channels.
const ChannelNoDefaults = "nodefaults"

// Environment is the decoded form of an environment.yml
// manifest.
type Environment struct {
	Name         string            `json:"name"`
	Channels     []string          `json:"channels,omitempty"`
	Dependencies []Dependency      `json:"dependencies,omitempty"`
	Pip          []Dependency      `json:"pip,omitempty"`
	Platforms    []string          `json:"platforms,omitempty"`
	Variables    map[string]string `json:"variables,omitempty"`
}

// Dependency is a single entry in either the conda or
// the pip section of the manifest.
type Dependency struct {
	// Spec is the text as written, e.g. "numpy>=1.24"
	Spec string `json:"spec"`
	// Selector is the expression inside a trailing
	// "# [expr]" comment.
	Selector string `json:"selector,omitempty"`
	Line     int    `json:"-"`
}

// NoDefaults returns true if the manifest opts out of the
// implicit defaults channels.
func (e *Environment) NoDefaults() bool {
	for _, c := range e.Channels {
		if c == ChannelNoDefaults {
			return true
		}
	}
	return false
}

// SourceChannels returns the channels that are consulted
// during resolution, in priority order.
func (e *Environment) SourceChannels() []string {
	out := make([]string, 0, len(e.Channels))
	for _, c := range e.Channels {
		if c == ChannelNoDefaults {
			continue
		}
		out = append(out, c)
	}
	return out
}
