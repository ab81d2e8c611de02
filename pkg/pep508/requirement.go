package pep508

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var ErrInvalidRequirement = errors.New("invalid requirement")

var (
	regexpName      = regexp.MustCompile(`^([A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?)`)
	regexpNormalise = regexp.MustCompile(`[-_.]+`)
	regexpEgg       = regexp.MustCompile(`(?:^|&)egg=([A-Za-z0-9._-]+)`)
)

// Requirement is a parsed PEP 508 dependency specifier.
type Requirement struct {
	Name       string
	Extras     []string
	Specifiers SpecifierSet
	// URL is set for direct references ("name @ url") and
	// for bare URLs or paths.
	URL    string
	Marker *Marker

	raw string
}

// NormaliseName implements PEP 503 name normalisation.
func NormaliseName(s string) string {
	return strings.ToLower(regexpNormalise.ReplaceAllString(s, "-"))
}

// Parse parses a single requirement line.
func Parse(s string) (*Requirement, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty requirement", ErrInvalidRequirement)
	}
	if strings.HasPrefix(raw, "-") {
		return nil, fmt.Errorf("%w: %q is an option, not a requirement", ErrInvalidRequirement, raw)
	}
	if isDirectReference(raw) {
		return parseBareURL(raw)
	}

	r := &Requirement{raw: raw}
	body := raw

	match := regexpName.FindString(body)
	if match == "" {
		return nil, fmt.Errorf("%w: %q does not start with a package name", ErrInvalidRequirement, raw)
	}
	r.Name = NormaliseName(match)
	body = strings.TrimSpace(body[len(match):])

	if strings.HasPrefix(body, "[") {
		end := strings.Index(body, "]")
		if end < 0 {
			return nil, fmt.Errorf("%w: %q has an unterminated extras list", ErrInvalidRequirement, raw)
		}
		for _, e := range strings.Split(body[1:end], ",") {
			e = strings.TrimSpace(e)
			if e == "" {
				continue
			}
			if !regexpName.MatchString(e) || regexpName.FindString(e) != e {
				return nil, fmt.Errorf("%w: %q has an invalid extra %q", ErrInvalidRequirement, raw, e)
			}
			r.Extras = append(r.Extras, NormaliseName(e))
		}
		body = strings.TrimSpace(body[end+1:])
	}

	if strings.HasPrefix(body, "@") {
		body = strings.TrimSpace(body[1:])
		// a URL must be separated from its marker by whitespace
		u, marker, _ := strings.Cut(body, " ;")
		u = strings.TrimSpace(u)
		if _, err := url.Parse(u); err != nil || u == "" || !strings.Contains(u, ":") {
			return nil, fmt.Errorf("%w: %q has an invalid URL", ErrInvalidRequirement, raw)
		}
		r.URL = u
		return r, r.parseMarker(marker)
	}

	spec, marker, _ := strings.Cut(body, ";")
	spec = strings.TrimSpace(spec)
	if strings.HasPrefix(spec, "(") {
		if !strings.HasSuffix(spec, ")") {
			return nil, fmt.Errorf("%w: %q has an unterminated '('", ErrInvalidRequirement, raw)
		}
		spec = spec[1 : len(spec)-1]
	}
	specifiers, err := ParseSpecifierSet(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %s", ErrInvalidRequirement, raw, err)
	}
	r.Specifiers = specifiers
	return r, r.parseMarker(marker)
}

func (r *Requirement) parseMarker(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	m, err := ParseMarker(s)
	if err != nil {
		return fmt.Errorf("%w: %q: %s", ErrInvalidRequirement, r.raw, err)
	}
	r.Marker = m
	return nil
}

func isDirectReference(s string) bool {
	for _, prefix := range []string{"http://", "https://", "file://", "git+", "hg+", "svn+", "bzr+", "./", "../", "/"} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

// parseBareURL derives a name for requirements that are only a
// URL or path, using the #egg= fragment or the archive name.
func parseBareURL(s string) (*Requirement, error) {
	r := &Requirement{raw: s, URL: s}
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %s", ErrInvalidRequirement, s, err)
	}
	if m := regexpEgg.FindStringSubmatch(u.Fragment); m != nil {
		r.Name = NormaliseName(m[1])
		return r, nil
	}
	base := path.Base(u.Path)
	switch {
	case strings.HasSuffix(base, ".whl"):
		// name-version-pytag-abitag-platform.whl
		r.Name = NormaliseName(strings.SplitN(base, "-", 2)[0])
	case strings.HasSuffix(base, ".tar.gz"), strings.HasSuffix(base, ".zip"):
		stem := strings.TrimSuffix(strings.TrimSuffix(base, ".tar.gz"), ".zip")
		if i := strings.LastIndex(stem, "-"); i > 0 {
			stem = stem[:i]
		}
		r.Name = NormaliseName(stem)
	default:
		r.Name = NormaliseName(strings.TrimSuffix(base, ".git"))
	}
	if r.Name == "" || regexpName.FindString(r.Name) != r.Name {
		return nil, fmt.Errorf("%w: unable to determine a package name for %q, add #egg=name", ErrInvalidRequirement, s)
	}
	return r, nil
}

func (r *Requirement) String() string {
	return r.raw
}

// IsLocal returns true for requirements that point at the
// local filesystem.
func (r *Requirement) IsLocal() bool {
	return r.URL != "" && (strings.HasPrefix(r.URL, "/") || strings.HasPrefix(r.URL, ".") || strings.HasPrefix(r.URL, "file://"))
}

// Lockable returns true if the requirement can be pinned to a
// digest: an index requirement, a local path or an http(s) URL.
// Version control references are not.
func (r *Requirement) Lockable() bool {
	return r.URL == "" || r.IsLocal() || strings.HasPrefix(r.URL, "http://") || strings.HasPrefix(r.URL, "https://")
}

// Applies evaluates the marker for the given environment.
// Requirements without a marker always apply.
func (r *Requirement) Applies(env map[string]string) (bool, error) {
	if r.Marker == nil {
		return true, nil
	}
	return r.Marker.Evaluate(env)
}
