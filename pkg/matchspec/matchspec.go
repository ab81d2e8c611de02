package matchspec

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
)

var ErrInvalidMatchSpec = errors.New("invalid match spec")

var (
	regexpName = regexp.MustCompile(`^[a-z0-9_][a-z0-9_.\-]*$`)
	// collapses ">= 1.2" into ">=1.2"
	regexpOperatorSpace = regexp.MustCompile(`(==|!=|<=|>=|~=|<|>)\s+`)
	regexpJoinSpace     = regexp.MustCompile(`\s*([,|])\s*`)
)

// MatchSpec is a conda package query such as
// "conda-forge::numpy>=1.24" or "python 3.11.* *_cpython".
type MatchSpec struct {
	Name        string
	Channel     string
	Subdir      string
	Version     VersionSpec
	Build       string
	BuildNumber *int

	raw string
}

// Parse parses any of the match spec forms used in manifests
// and in repodata dependency lists.
func Parse(s string) (*MatchSpec, error) {
	raw := s
	if i := strings.Index(s, "#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidMatchSpec)
	}
	m := &MatchSpec{raw: strings.TrimSpace(raw)}

	// bracket options: numpy[version='>=1.2',build=py*]
	var brackets map[string]string
	if i := strings.Index(s, "["); i >= 0 {
		if !strings.HasSuffix(s, "]") {
			return nil, fmt.Errorf("%w: %q has an unterminated '['", ErrInvalidMatchSpec, raw)
		}
		var err error
		brackets, err = parseBrackets(s[i+1 : len(s)-1])
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %s", ErrInvalidMatchSpec, raw, err)
		}
		s = strings.TrimSpace(s[:i])
	}

	// channel prefix: conda-forge::numpy or conda-forge/linux-64::numpy
	if channel, rest, ok := strings.Cut(s, "::"); ok {
		m.Channel = channel
		if base, subdir, ok := cutSubdir(channel); ok {
			m.Channel = base
			m.Subdir = subdir
		}
		s = rest
	}

	name, rest := splitName(s)
	m.Name = strings.ToLower(name)
	if !regexpName.MatchString(m.Name) {
		return nil, fmt.Errorf("%w: %q has an invalid package name %q", ErrInvalidMatchSpec, raw, name)
	}

	versionText, build, err := splitVersionBuild(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %s", ErrInvalidMatchSpec, raw, err)
	}
	for k, v := range brackets {
		switch k {
		case "version":
			versionText = v
		case "build":
			build = v
		case "channel":
			m.Channel = v
		case "subdir":
			m.Subdir = v
		case "build_number":
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %q has a non-numeric build_number", ErrInvalidMatchSpec, raw)
			}
			m.BuildNumber = &n
		case "md5", "sha256", "fn", "url", "license", "features", "track_features":
			// informational only
		default:
			return nil, fmt.Errorf("%w: %q has an unknown key %q", ErrInvalidMatchSpec, raw, k)
		}
	}

	m.Version, err = ParseVersionSpec(versionText)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %s", ErrInvalidMatchSpec, raw, err)
	}
	if build == "*" {
		build = ""
	}
	m.Build = build
	return m, nil
}

// MustParse is Parse for known-good input.
func MustParse(s string) *MatchSpec {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

func splitName(s string) (string, string) {
	for i, r := range s {
		switch r {
		case ' ', '\t', '=', '<', '>', '!', '~':
			return s[:i], strings.TrimSpace(s[i:])
		}
	}
	return s, ""
}

// splitVersionBuild handles the three ways that a version and
// build can follow a name: "=1.2=build", "==1.2" / ">=1.2" and
// the space separated "1.2 build".
func splitVersionBuild(s string) (string, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", nil
	}
	s = regexpOperatorSpace.ReplaceAllString(s, "$1")
	s = regexpJoinSpace.ReplaceAllString(s, "$1")

	// name=1.2 or name=1.2=build
	if strings.HasPrefix(s, "=") && !strings.HasPrefix(s, "==") {
		bits := strings.Split(s[1:], "=")
		if len(bits) > 2 {
			return "", "", errors.New("too many '=' separators")
		}
		version := strings.TrimSpace(bits[0])
		if len(bits) == 2 {
			// an explicit build pins the version exactly
			return version, strings.TrimSpace(bits[1]), nil
		}
		if version != "" && !strings.ContainsAny(version, "*,|<>!") {
			version += ".*"
		}
		return version, "", nil
	}

	// name==1.2=build
	if strings.HasPrefix(s, "==") {
		if version, build, ok := strings.Cut(s[2:], "="); ok {
			return "==" + version, build, nil
		}
	}

	fields := strings.Fields(s)
	switch len(fields) {
	case 1:
		return fields[0], "", nil
	case 2:
		return fields[0], fields[1], nil
	}
	return "", "", fmt.Errorf("unexpected trailing text %q", strings.Join(fields[2:], " "))
}

func parseBrackets(s string) (map[string]string, error) {
	out := map[string]string{}
	for len(strings.TrimSpace(s)) > 0 {
		s = strings.TrimLeft(s, " ,")
		key, rest, ok := strings.Cut(s, "=")
		if !ok {
			return nil, fmt.Errorf("expected key=value in %q", s)
		}
		key = strings.TrimSpace(key)
		rest = strings.TrimSpace(rest)
		var value string
		if len(rest) > 0 && (rest[0] == '\'' || rest[0] == '"') {
			end := strings.IndexByte(rest[1:], rest[0])
			if end < 0 {
				return nil, fmt.Errorf("unterminated quote for %q", key)
			}
			value = rest[1 : end+1]
			s = rest[end+2:]
		} else {
			value, s, _ = strings.Cut(rest, ",")
			value = strings.TrimSpace(value)
		}
		out[key] = value
	}
	return out, nil
}

func cutSubdir(channel string) (string, string, bool) {
	i := strings.LastIndex(channel, "/")
	if i < 0 {
		return "", "", false
	}
	subdir := channel[i+1:]
	if subdir != "noarch" && !strings.Contains(subdir, "-") {
		return "", "", false
	}
	// only treat it as a subdir if it looks like os-arch
	os, _, _ := strings.Cut(subdir, "-")
	switch os {
	case "noarch", "linux", "osx", "win", "emscripten", "wasi", "zos":
		return channel[:i], subdir, true
	}
	return "", "", false
}

// Match returns true if a package record satisfies the spec.
func (m *MatchSpec) Match(name string, version Version, build string, buildNumber int) bool {
	if m.Name != name {
		return false
	}
	if m.Version != nil && !m.Version.Match(version) {
		return false
	}
	if m.Build != "" && !matchBuild(m.Build, build) {
		return false
	}
	if m.BuildNumber != nil && *m.BuildNumber != buildNumber {
		return false
	}
	return true
}

// MatchVersion checks only the version constraint.
func (m *MatchSpec) MatchVersion(v Version) bool {
	return m.Version == nil || m.Version.Match(v)
}

func matchBuild(pattern, build string) bool {
	if !strings.ContainsAny(pattern, "*?[") {
		return pattern == build
	}
	ok, err := path.Match(pattern, build)
	return err == nil && ok
}

// IsVirtual returns true for virtual packages (e.g. __glibc).
func (m *MatchSpec) IsVirtual() bool {
	return strings.HasPrefix(m.Name, "__")
}

// Raw returns the spec as it was written.
func (m *MatchSpec) Raw() string {
	return m.raw
}

// String returns a normalised representation of the spec.
func (m *MatchSpec) String() string {
	var sb strings.Builder
	if m.Channel != "" {
		sb.WriteString(m.Channel)
		if m.Subdir != "" {
			sb.WriteString("/" + m.Subdir)
		}
		sb.WriteString("::")
	}
	sb.WriteString(m.Name)
	version := "*"
	if m.Version != nil {
		version = m.Version.String()
	}
	if version != "*" || m.Build != "" {
		sb.WriteString(" " + version)
	}
	if m.Build != "" {
		sb.WriteString(" " + m.Build)
	}
	return sb.String()
}
