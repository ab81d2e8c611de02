package pep508

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var ErrInvalidVersion = errors.New("invalid version")

// https://packaging.python.org/en/latest/specifications/version-specifiers/#appendix-parsing-version-strings-with-regular-expressions
var regexpVersion = regexp.MustCompile(`(?i)^\s*v?` +
	`(?:(?P<epoch>[0-9]+)!)?` +
	`(?P<release>[0-9]+(?:\.[0-9]+)*)` +
	`(?P<pre>[-_.]?(?P<pre_l>alpha|beta|preview|pre|rc|a|b|c)[-_.]?(?P<pre_n>[0-9]+)?)?` +
	`(?P<post>(?:-(?P<post_n1>[0-9]+))|(?:[-_.]?(?P<post_l>post|rev|r)[-_.]?(?P<post_n2>[0-9]+)?))?` +
	`(?P<dev>[-_.]?(?P<dev_l>dev)[-_.]?(?P<dev_n>[0-9]+)?)?` +
	`(?:\+(?P<local>[a-z0-9]+(?:[-_.][a-z0-9]+)*))?\s*$`)

// Version is a PEP 440 version.
type Version struct {
	Epoch   int
	Release []int
	// PreLabel is one of a, b, rc; empty when there is no
	// pre-release segment
	PreLabel string
	Pre      int
	Post     *int
	Dev      *int
	Local    []string

	raw string
}

func ParseVersion(s string) (Version, error) {
	m := regexpVersion.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	group := func(name string) string {
		return m[regexpVersion.SubexpIndex(name)]
	}
	v := Version{raw: strings.TrimSpace(s)}
	if e := group("epoch"); e != "" {
		v.Epoch, _ = strconv.Atoi(e)
	}
	for _, r := range strings.Split(group("release"), ".") {
		n, err := strconv.Atoi(r)
		if err != nil {
			return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
		}
		v.Release = append(v.Release, n)
	}
	if group("pre") != "" {
		switch strings.ToLower(group("pre_l")) {
		case "a", "alpha":
			v.PreLabel = "a"
		case "b", "beta":
			v.PreLabel = "b"
		default:
			v.PreLabel = "rc"
		}
		v.Pre, _ = strconv.Atoi(group("pre_n"))
	}
	if group("post") != "" {
		n := group("post_n1")
		if n == "" {
			n = group("post_n2")
		}
		post, _ := strconv.Atoi(n)
		v.Post = &post
	}
	if group("dev") != "" {
		dev, _ := strconv.Atoi(group("dev_n"))
		v.Dev = &dev
	}
	if l := group("local"); l != "" {
		v.Local = strings.FieldsFunc(strings.ToLower(l), func(r rune) bool {
			return r == '.' || r == '-' || r == '_'
		})
	}
	return v, nil
}

func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// IsPrerelease returns true for alpha, beta, rc and dev releases.
func (v Version) IsPrerelease() bool {
	return v.PreLabel != "" || v.Dev != nil
}

func (v Version) IsPostRelease() bool {
	return v.Post != nil
}

// Public returns the version without its local segment.
func (v Version) Public() Version {
	out := v
	out.Local = nil
	return out
}

func (v Version) String() string {
	return v.raw
}

// Compare orders versions following PEP 440.
func (v Version) Compare(o Version) int {
	if c := cmpInt(v.Epoch, o.Epoch); c != 0 {
		return c
	}
	n := max(len(v.Release), len(o.Release))
	for i := 0; i < n; i++ {
		var a, b int
		if i < len(v.Release) {
			a = v.Release[i]
		}
		if i < len(o.Release) {
			b = o.Release[i]
		}
		if c := cmpInt(a, b); c != 0 {
			return c
		}
	}
	if c := cmpInt(v.preKey(), o.preKey()); c != 0 {
		return c
	}
	if v.PreLabel != "" && o.PreLabel != "" {
		if c := cmpInt(v.Pre, o.Pre); c != 0 {
			return c
		}
	}
	if c := cmpOptional(v.Post, o.Post, -1); c != 0 {
		return c
	}
	if c := cmpOptional(v.Dev, o.Dev, 1); c != 0 {
		return c
	}
	return compareLocal(v.Local, o.Local)
}

// preKey ranks the pre-release label. A dev release with no
// pre or post segment sorts before every pre-release.
func (v Version) preKey() int {
	switch v.PreLabel {
	case "a":
		return 1
	case "b":
		return 2
	case "rc":
		return 3
	}
	if v.Post == nil && v.Dev != nil {
		return 0
	}
	return 4
}

// cmpOptional compares optional numbers, treating a missing
// value as -inf (missing < 0) or +inf (missing > 0).
func cmpOptional(a, b *int, missing int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return missing
	case b == nil:
		return -missing
	}
	return cmpInt(*a, *b)
}

func compareLocal(a, b []string) int {
	switch {
	case len(a) == 0 && len(b) == 0:
		return 0
	case len(a) == 0:
		return -1
	case len(b) == 0:
		return 1
	}
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		an, aerr := strconv.Atoi(a[i])
		bn, berr := strconv.Atoi(b[i])
		switch {
		case aerr == nil && berr == nil:
			if c := cmpInt(an, bn); c != 0 {
				return c
			}
		case aerr == nil:
			// numeric segments sort after alphanumeric ones
			return 1
		case berr == nil:
			return -1
		default:
			if c := strings.Compare(a[i], b[i]); c != 0 {
				return c
			}
		}
	}
	return cmpInt(len(a), len(b))
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
