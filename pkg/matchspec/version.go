package matchspec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

var ErrInvalidVersion = errors.New("invalid version")

type partKind int

// order matters: dev < string < number < post
const (
	kindDev partKind = iota
	kindString
	kindNumber
	kindPost
)

type part struct {
	kind partKind
	num  uint64
	str  string
}

func (p part) compare(o part) int {
	if p.kind != o.kind {
		if p.kind < o.kind {
			return -1
		}
		return 1
	}
	switch p.kind {
	case kindNumber:
		switch {
		case p.num < o.num:
			return -1
		case p.num > o.num:
			return 1
		}
	case kindString:
		return strings.Compare(p.str, o.str)
	}
	return 0
}

var zero = part{kind: kindNumber}

type component []part

// Version is a conda package version with conda ordering
// semantics.
type Version struct {
	raw     string
	epoch   uint64
	version []component
	local   []component
}

// ParseVersion parses a conda version string such as
// "1.2.3", "2!1.0", "1.1rc1" or "1.0+cuda12".
func ParseVersion(s string) (Version, error) {
	raw := s
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Version{}, fmt.Errorf("%w: empty version", ErrInvalidVersion)
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !strings.ContainsRune("._-+!", r) {
			return Version{}, fmt.Errorf("%w: %q contains %q", ErrInvalidVersion, raw, r)
		}
	}

	v := Version{raw: raw}
	if e, rest, ok := strings.Cut(s, "!"); ok {
		epoch, err := strconv.ParseUint(e, 10, 64)
		if err != nil {
			return Version{}, fmt.Errorf("%w: %q has a non-numeric epoch", ErrInvalidVersion, raw)
		}
		v.epoch = epoch
		s = rest
	}
	main, local, hasLocal := strings.Cut(s, "+")
	if strings.Contains(local, "+") {
		return Version{}, fmt.Errorf("%w: %q has more than one local part", ErrInvalidVersion, raw)
	}

	var err error
	if v.version, err = parseComponents(main); err != nil {
		return Version{}, fmt.Errorf("%w: %q: %s", ErrInvalidVersion, raw, err)
	}
	if hasLocal {
		if v.local, err = parseComponents(local); err != nil {
			return Version{}, fmt.Errorf("%w: %q: %s", ErrInvalidVersion, raw, err)
		}
	}
	return v, nil
}

// MustParseVersion is ParseVersion for known-good input.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func parseComponents(s string) ([]component, error) {
	if s == "" {
		return nil, errors.New("empty version part")
	}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
	if len(fields) == 0 {
		return nil, errors.New("empty version part")
	}
	out := make([]component, len(fields))
	for i, f := range fields {
		out[i] = splitComponent(f)
	}
	return out, nil
}

func splitComponent(s string) component {
	var c component
	for len(s) > 0 {
		digits := unicode.IsDigit(rune(s[0]))
		end := 1
		for end < len(s) && unicode.IsDigit(rune(s[end])) == digits {
			end++
		}
		tok := s[:end]
		s = s[end:]
		if digits {
			n, err := strconv.ParseUint(tok, 10, 64)
			if err != nil {
				// larger than uint64, compare as the
				// largest possible number
				n = ^uint64(0)
			}
			c = append(c, part{kind: kindNumber, num: n})
			continue
		}
		switch tok {
		case "dev":
			c = append(c, part{kind: kindDev, str: tok})
		case "post":
			c = append(c, part{kind: kindPost, str: tok})
		default:
			c = append(c, part{kind: kindString, str: tok})
		}
	}
	// components that begin with a string are treated as
	// if they began with 0 so that 1.1a1 < 1.1
	if len(c) > 0 && c[0].kind != kindNumber {
		c = append(component{zero}, c...)
	}
	return c
}

func compareComponent(a, b component) int {
	n := max(len(a), len(b))
	for i := 0; i < n; i++ {
		pa, pb := zero, zero
		if i < len(a) {
			pa = a[i]
		}
		if i < len(b) {
			pb = b[i]
		}
		if c := pa.compare(pb); c != 0 {
			return c
		}
	}
	return 0
}

func compareComponents(a, b []component) int {
	n := max(len(a), len(b))
	for i := 0; i < n; i++ {
		ca, cb := component{zero}, component{zero}
		if i < len(a) {
			ca = a[i]
		}
		if i < len(b) {
			cb = b[i]
		}
		if c := compareComponent(ca, cb); c != 0 {
			return c
		}
	}
	return 0
}

// Compare returns -1, 0 or 1 depending on whether v sorts
// before, equal to or after o.
func (v Version) Compare(o Version) int {
	switch {
	case v.epoch < o.epoch:
		return -1
	case v.epoch > o.epoch:
		return 1
	}
	if c := compareComponents(v.version, o.version); c != 0 {
		return c
	}
	return compareComponents(v.local, o.local)
}

func (v Version) Equal(o Version) bool {
	return v.Compare(o) == 0
}

func (v Version) LessThan(o Version) bool {
	return v.Compare(o) < 0
}

// StartsWith returns true if the version lies within the
// prefix, i.e. it would match "prefix.*".
func (v Version) StartsWith(prefix Version) bool {
	if v.epoch != prefix.epoch {
		return false
	}
	if len(prefix.version) == 0 {
		return true
	}
	last := len(prefix.version) - 1
	for i := 0; i < last; i++ {
		c := component{zero}
		if i < len(v.version) {
			c = v.version[i]
		}
		if compareComponent(c, prefix.version[i]) != 0 {
			return false
		}
	}
	c := component{zero}
	if last < len(v.version) {
		c = v.version[last]
	}
	for i, p := range prefix.version[last] {
		have := zero
		if i < len(c) {
			have = c[i]
		}
		if have.compare(p) != 0 {
			return false
		}
	}
	return true
}

// truncate drops the final component, used by the
// compatible release operator.
func (v Version) truncate() (Version, bool) {
	if len(v.version) < 2 {
		return Version{}, false
	}
	out := v
	out.version = v.version[:len(v.version)-1]
	out.local = nil
	return out, true
}

func (v Version) String() string {
	return v.raw
}
