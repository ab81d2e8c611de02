package pep508

import (
	"fmt"
	"strings"
	"unicode"
)

var markerVariables = map[string]bool{
	"python_version":                 true,
	"python_full_version":            true,
	"os_name":                        true,
	"sys_platform":                   true,
	"platform_release":               true,
	"platform_system":                true,
	"platform_version":               true,
	"platform_machine":               true,
	"platform_python_implementation": true,
	"implementation_name":            true,
	"implementation_version":         true,
	"extra":                          true,
}

// Marker is a parsed environment marker expression.
type Marker struct {
	root markerNode
	raw  string
}

type markerNode interface {
	eval(env map[string]string) (bool, error)
}

type markerOr []markerNode

func (m markerOr) eval(env map[string]string) (bool, error) {
	for _, n := range m {
		ok, err := n.eval(env)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

type markerAnd []markerNode

func (m markerAnd) eval(env map[string]string) (bool, error) {
	for _, n := range m {
		ok, err := n.eval(env)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

type markerValue struct {
	variable string
	literal  string
}

func (v markerValue) resolve(env map[string]string) string {
	if v.variable != "" {
		return env[v.variable]
	}
	return v.literal
}

type markerCompare struct {
	left  markerValue
	op    string
	right markerValue
}

func (m markerCompare) eval(env map[string]string) (bool, error) {
	l, r := m.left.resolve(env), m.right.resolve(env)
	if m.left.variable == "extra" || m.right.variable == "extra" {
		l, r = NormaliseName(l), NormaliseName(r)
	}
	switch m.op {
	case "in":
		return strings.Contains(r, l), nil
	case "not in":
		return !strings.Contains(r, l), nil
	}
	// versions compare as versions when both sides parse
	if spec, err := ParseSpecifier(m.op + r); err == nil {
		if v, err := ParseVersion(l); err == nil {
			return spec.Contains(v), nil
		}
	}
	switch m.op {
	case "==", "===":
		return l == r, nil
	case "!=":
		return l != r, nil
	}
	return false, fmt.Errorf("cannot compare %q %s %q", l, m.op, r)
}

// ParseMarker parses the text after ';' in a requirement.
func ParseMarker(s string) (*Marker, error) {
	tokens, err := tokeniseMarker(s)
	if err != nil {
		return nil, err
	}
	p := &markerParser{tokens: tokens}
	root, err := p.or()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, fmt.Errorf("unexpected %q in marker", p.tokens[p.pos].text)
	}
	return &Marker{root: root, raw: strings.TrimSpace(s)}, nil
}

func (m *Marker) Evaluate(env map[string]string) (bool, error) {
	return m.root.eval(env)
}

func (m *Marker) String() string {
	return m.raw
}

type markerToken struct {
	text   string
	quoted bool
}

func tokeniseMarker(s string) ([]markerToken, error) {
	var tokens []markerToken
	rs := []rune(s)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(' || r == ')':
			tokens = append(tokens, markerToken{text: string(r)})
			i++
		case r == '\'' || r == '"':
			end := i + 1
			for end < len(rs) && rs[end] != r {
				end++
			}
			if end >= len(rs) {
				return nil, fmt.Errorf("unterminated string in marker")
			}
			tokens = append(tokens, markerToken{text: string(rs[i+1 : end]), quoted: true})
			i = end + 1
		case strings.ContainsRune("<>=!~", r):
			end := i
			for end < len(rs) && strings.ContainsRune("<>=!~", rs[end]) {
				end++
			}
			tokens = append(tokens, markerToken{text: string(rs[i:end])})
			i = end
		case unicode.IsLetter(r) || r == '_':
			end := i
			for end < len(rs) && (unicode.IsLetter(rs[end]) || unicode.IsDigit(rs[end]) || rs[end] == '_' || rs[end] == '.') {
				end++
			}
			tokens = append(tokens, markerToken{text: string(rs[i:end])})
			i = end
		default:
			return nil, fmt.Errorf("unexpected character %q in marker", r)
		}
	}
	return tokens, nil
}

type markerParser struct {
	tokens []markerToken
	pos    int
}

func (p *markerParser) peek() (markerToken, bool) {
	if p.pos >= len(p.tokens) {
		return markerToken{}, false
	}
	return p.tokens[p.pos], true
}

func (p *markerParser) keyword(kw string) bool {
	t, ok := p.peek()
	return ok && !t.quoted && t.text == kw
}

func (p *markerParser) or() (markerNode, error) {
	var out markerOr
	for {
		n, err := p.and()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
		if !p.keyword("or") {
			break
		}
		p.pos++
	}
	if len(out) == 1 {
		return out[0], nil
	}
	return out, nil
}

func (p *markerParser) and() (markerNode, error) {
	var out markerAnd
	for {
		n, err := p.expr()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
		if !p.keyword("and") {
			break
		}
		p.pos++
	}
	if len(out) == 1 {
		return out[0], nil
	}
	return out, nil
}

func (p *markerParser) expr() (markerNode, error) {
	if p.keyword("(") {
		p.pos++
		n, err := p.or()
		if err != nil {
			return nil, err
		}
		if !p.keyword(")") {
			return nil, fmt.Errorf("missing ')' in marker")
		}
		p.pos++
		return n, nil
	}
	left, err := p.value()
	if err != nil {
		return nil, err
	}
	op, err := p.operator()
	if err != nil {
		return nil, err
	}
	right, err := p.value()
	if err != nil {
		return nil, err
	}
	return markerCompare{left: left, op: op, right: right}, nil
}

func (p *markerParser) value() (markerValue, error) {
	t, ok := p.peek()
	if !ok {
		return markerValue{}, fmt.Errorf("unexpected end of marker")
	}
	p.pos++
	if t.quoted {
		return markerValue{literal: t.text}, nil
	}
	if !markerVariables[t.text] {
		return markerValue{}, fmt.Errorf("unknown marker variable %q", t.text)
	}
	return markerValue{variable: t.text}, nil
}

func (p *markerParser) operator() (string, error) {
	t, ok := p.peek()
	if !ok || t.quoted {
		return "", fmt.Errorf("expected a comparison operator in marker")
	}
	p.pos++
	switch t.text {
	case "<", "<=", "==", "!=", ">=", ">", "~=", "===", "in":
		return t.text, nil
	case "not":
		if p.keyword("in") {
			p.pos++
			return "not in", nil
		}
	}
	return "", fmt.Errorf("invalid marker operator %q", t.text)
}
