package matchspec

import (
	"fmt"
	"strings"
)

// VersionSpec is a boolean constraint over versions.
type VersionSpec interface {
	Match(v Version) bool
	String() string
}

type anyVersion struct{}

func (anyVersion) Match(Version) bool { return true }
func (anyVersion) String() string     { return "*" }

type operator string

const (
	opEQ         operator = "=="
	opNE         operator = "!="
	opLT         operator = "<"
	opLE         operator = "<="
	opGT         operator = ">"
	opGE         operator = ">="
	opCompatible operator = "~="
	opStartsWith operator = "=*"
	opNotStarts  operator = "!=*"
)

type constraint struct {
	op      operator
	version Version
	text    string
}

func (c *constraint) Match(v Version) bool {
	switch c.op {
	case opEQ:
		return v.Equal(c.version)
	case opNE:
		return !v.Equal(c.version)
	case opLT:
		return v.Compare(c.version) < 0
	case opLE:
		return v.Compare(c.version) <= 0
	case opGT:
		return v.Compare(c.version) > 0
	case opGE:
		return v.Compare(c.version) >= 0
	case opStartsWith:
		return v.StartsWith(c.version)
	case opNotStarts:
		return !v.StartsWith(c.version)
	case opCompatible:
		prefix, ok := c.version.truncate()
		if !ok {
			return false
		}
		return v.Compare(c.version) >= 0 && v.StartsWith(prefix)
	}
	return false
}

func (c *constraint) String() string {
	return c.text
}

type allOf []VersionSpec

func (a allOf) Match(v Version) bool {
	for _, s := range a {
		if !s.Match(v) {
			return false
		}
	}
	return true
}

func (a allOf) String() string {
	parts := make([]string, len(a))
	for i := range a {
		parts[i] = a[i].String()
	}
	return strings.Join(parts, ",")
}

type anyOf []VersionSpec

func (a anyOf) Match(v Version) bool {
	for _, s := range a {
		if s.Match(v) {
			return true
		}
	}
	return false
}

func (a anyOf) String() string {
	parts := make([]string, len(a))
	for i := range a {
		parts[i] = a[i].String()
	}
	return strings.Join(parts, "|")
}

type group struct {
	VersionSpec
}

func (g group) String() string {
	return "(" + g.VersionSpec.String() + ")"
}

// ParseVersionSpec parses a conda version constraint such as
// ">=1.2,<2", "1.2.*", "3.9|3.10" or "~=1.4.2".
func ParseVersionSpec(s string) (VersionSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" || s == "*.*" {
		return anyVersion{}, nil
	}
	p := &specParser{tokens: tokeniseSpec(s)}
	spec, err := p.or()
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %s", ErrInvalidVersion, s, err)
	}
	if p.pos != len(p.tokens) {
		return nil, fmt.Errorf("%w: %q: unexpected %q", ErrInvalidVersion, s, p.tokens[p.pos])
	}
	return spec, nil
}

func tokeniseSpec(s string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if t := strings.TrimSpace(cur.String()); t != "" {
			tokens = append(tokens, t)
		}
		cur.Reset()
	}
	for _, r := range s {
		switch r {
		case '|', ',', '(', ')':
			flush()
			tokens = append(tokens, string(r))
		case ' ', '\t':
			// spaces are insignificant
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

type specParser struct {
	tokens []string
	pos    int
}

func (p *specParser) peek() string {
	if p.pos >= len(p.tokens) {
		return ""
	}
	return p.tokens[p.pos]
}

func (p *specParser) or() (VersionSpec, error) {
	var out anyOf
	for {
		s, err := p.and()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
		if p.peek() != "|" {
			break
		}
		p.pos++
	}
	if len(out) == 1 {
		return out[0], nil
	}
	return out, nil
}

func (p *specParser) and() (VersionSpec, error) {
	var out allOf
	for {
		s, err := p.term()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
		if p.peek() != "," {
			break
		}
		p.pos++
	}
	if len(out) == 1 {
		return out[0], nil
	}
	return out, nil
}

func (p *specParser) term() (VersionSpec, error) {
	tok := p.peek()
	switch tok {
	case "":
		return nil, fmt.Errorf("unexpected end of expression")
	case "|", ",", ")":
		return nil, fmt.Errorf("unexpected %q", tok)
	case "(":
		p.pos++
		s, err := p.or()
		if err != nil {
			return nil, err
		}
		if p.peek() != ")" {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return group{s}, nil
	}
	p.pos++
	return parseConstraint(tok)
}

var operators = []operator{opEQ, opNE, opLE, opGE, opCompatible, opLT, opGT}

func parseConstraint(s string) (VersionSpec, error) {
	text := s
	if s == "*" {
		return anyVersion{}, nil
	}
	op := operator("")
	for _, o := range operators {
		if strings.HasPrefix(s, string(o)) {
			op = o
			s = s[len(o):]
			break
		}
	}
	// a single '=' means "starts with"
	if op == "" && strings.HasPrefix(s, "=") {
		op = opStartsWith
		s = s[1:]
	}

	wildcard := false
	if strings.HasSuffix(s, "*") {
		wildcard = true
		s = strings.TrimSuffix(strings.TrimSuffix(s, "*"), ".")
	}
	if s == "" {
		if wildcard && (op == "" || op == opStartsWith || op == opEQ || op == opGE) {
			return anyVersion{}, nil
		}
		return nil, fmt.Errorf("operator %q requires a version", op)
	}

	v, err := ParseVersion(s)
	if err != nil {
		return nil, err
	}

	switch op {
	case "":
		if wildcard {
			op = opStartsWith
		} else {
			op = opEQ
		}
	case opEQ:
		if wildcard {
			op = opStartsWith
		}
	case opNE:
		if wildcard {
			op = opNotStarts
		}
	case opCompatible:
		if _, ok := v.truncate(); !ok {
			return nil, fmt.Errorf("%q needs at least two components", text)
		}
	}
	return &constraint{op: op, version: v, text: text}, nil
}
