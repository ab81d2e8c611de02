package lockfile

import (
	"errors"

	v1 "github.com/djcass44/envlock/pkg/api/v1"
	"github.com/djcass44/envlock/pkg/conda/channel"
)

const Version = 1

var ErrLockMismatch = errors.New("lockfile does not match manifest")

type Lock struct {
	Name            string              `json:"name"`
	LockfileVersion int                 `json:"lockfileVersion"`
	Channels        []channel.Channel   `json:"channels"`
	Variables       map[string]string   `json:"variables,omitempty"`
	Platforms       map[string]Platform `json:"platforms"`
}

// Platform is the resolution of a single platform.
type Platform struct {
	// ContentHash is the hash of everything that went into
	// the resolution.
	ContentHash string    `json:"contentHash"`
	Packages    []Package `json:"packages"`
}

type Package struct {
	Name      string         `json:"name"`
	Type      v1.PackageType `json:"type"`
	Version   string         `json:"version"`
	Build     string         `json:"build,omitempty"`
	Channel   string         `json:"channel,omitempty"`
	Subdir    string         `json:"subdir,omitempty"`
	Resolved  string         `json:"resolved"`
	Integrity string         `json:"integrity"`
	MD5       string         `json:"md5,omitempty"`
	// Dependencies are the names of the packages this one
	// depends on.
	Dependencies []string `json:"dependencies,omitempty"`
	// Direct is set for packages named in the manifest.
	Direct bool `json:"direct,omitempty"`
}

// Ref identifies a package within a manifest section.
type Ref struct {
	Name string
	Pip  bool
}

func (p Package) Ref() Ref {
	return Ref{Name: p.Name, Pip: p.Type != v1.PackageConda}
}

func (r Ref) String() string {
	if r.Pip {
		return "pip:" + r.Name
	}
	return r.Name
}
