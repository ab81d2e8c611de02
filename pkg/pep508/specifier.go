package pep508

import (
	"fmt"
	"strings"
)

// Specifier is a single version clause such as ">=1.2".
type Specifier struct {
	Operator string
	Version  string

	parsed   Version
	wildcard bool
}

// SpecifierSet is a comma separated list of specifiers that
// must all hold.
type SpecifierSet []Specifier

var specifierOperators = []string{"===", "~=", "==", "!=", "<=", ">=", "<", ">"}

func ParseSpecifier(s string) (Specifier, error) {
	s = strings.TrimSpace(s)
	for _, op := range specifierOperators {
		if !strings.HasPrefix(s, op) {
			continue
		}
		sp := Specifier{Operator: op, Version: strings.TrimSpace(s[len(op):])}
		if sp.Version == "" {
			return Specifier{}, fmt.Errorf("%w: %q is missing a version", ErrInvalidRequirement, s)
		}
		if op == "===" {
			return sp, nil
		}
		text := sp.Version
		if strings.HasSuffix(text, ".*") {
			if op != "==" && op != "!=" {
				return Specifier{}, fmt.Errorf("%w: %q: wildcards are only valid with == and !=", ErrInvalidRequirement, s)
			}
			sp.wildcard = true
			text = strings.TrimSuffix(text, ".*")
		}
		v, err := ParseVersion(text)
		if err != nil {
			return Specifier{}, fmt.Errorf("%w: %q: %s", ErrInvalidRequirement, s, err)
		}
		if op == "~=" && len(v.Release) < 2 {
			return Specifier{}, fmt.Errorf("%w: %q: ~= needs at least two release segments", ErrInvalidRequirement, s)
		}
		sp.parsed = v
		return sp, nil
	}
	return Specifier{}, fmt.Errorf("%w: %q has no comparison operator", ErrInvalidRequirement, s)
}

func ParseSpecifierSet(s string) (SpecifierSet, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out SpecifierSet
	for _, clause := range strings.Split(s, ",") {
		sp, err := ParseSpecifier(clause)
		if err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, nil
}

func (s Specifier) String() string {
	return s.Operator + s.Version
}

func (s SpecifierSet) String() string {
	parts := make([]string, len(s))
	for i := range s {
		parts[i] = s[i].String()
	}
	return strings.Join(parts, ",")
}

// AllowsPrereleases returns true if any specifier explicitly
// names a pre-release.
func (s SpecifierSet) AllowsPrereleases() bool {
	for _, sp := range s {
		if sp.Operator != "!=" && sp.Operator != "===" && sp.parsed.IsPrerelease() {
			return true
		}
	}
	return false
}

// Contains returns true if every specifier holds for v.
// Pre-releases only match when prereleases is set or a
// specifier names a pre-release.
func (s SpecifierSet) Contains(v Version, prereleases bool) bool {
	if v.IsPrerelease() && !prereleases && !s.AllowsPrereleases() {
		return false
	}
	for _, sp := range s {
		if !sp.Contains(v) {
			return false
		}
	}
	return true
}

func (s Specifier) Contains(v Version) bool {
	switch s.Operator {
	case "===":
		return strings.EqualFold(v.String(), s.Version)
	case "==":
		return s.equal(v)
	case "!=":
		return !s.equal(v)
	case "<=":
		return v.Public().Compare(s.parsed) <= 0
	case ">=":
		return v.Public().Compare(s.parsed) >= 0
	case "<":
		if v.Public().Compare(s.parsed) >= 0 {
			return false
		}
		// <3.0 excludes 3.0rc1 unless the spec itself is a
		// pre-release
		if !s.parsed.IsPrerelease() && v.IsPrerelease() && sameRelease(v, s.parsed) {
			return false
		}
		return true
	case ">":
		if v.Public().Compare(s.parsed) <= 0 {
			return false
		}
		if !s.parsed.IsPostRelease() && v.IsPostRelease() && sameRelease(v, s.parsed) {
			return false
		}
		return len(v.Local) == 0 || v.Public().Compare(s.parsed) != 0
	case "~=":
		prefix := Specifier{Operator: "==", wildcard: true, parsed: Version{
			Epoch:   s.parsed.Epoch,
			Release: s.parsed.Release[:len(s.parsed.Release)-1],
		}}
		return v.Public().Compare(s.parsed) >= 0 && prefix.equal(v)
	}
	return false
}

func (s Specifier) equal(v Version) bool {
	if s.wildcard {
		if v.Epoch != s.parsed.Epoch {
			return false
		}
		for i, r := range s.parsed.Release {
			var have int
			if i < len(v.Release) {
				have = v.Release[i]
			}
			if have != r {
				return false
			}
		}
		return true
	}
	if len(s.parsed.Local) == 0 {
		v = v.Public()
	}
	return v.Compare(s.parsed) == 0
}

func sameRelease(a, b Version) bool {
	ra := Version{Epoch: a.Epoch, Release: a.Release}
	rb := Version{Epoch: b.Epoch, Release: b.Release}
	return ra.Compare(rb) == 0
}
