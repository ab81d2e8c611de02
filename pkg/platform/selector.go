package platform

import (
	"fmt"
	"strings"
	"unicode"
)

// Identifiers returns the selector names that evaluate
// to true on this platform.
func (p Platform) Identifiers() map[string]bool {
	ids := map[string]bool{
		string(p): true,
		p.OS():    true,
	}
	if p.Unix() {
		ids["unix"] = true
	}
	switch p.Arch() {
	case "64":
		ids[p.OS()+"64"] = true
		ids["x86_64"] = true
		ids["x86"] = true
	case "32":
		ids[p.OS()+"32"] = true
		ids["x86"] = true
	default:
		ids[p.Arch()] = true
	}
	// osx-arm64 and linux-aarch64 are the same hardware
	// family
	if p.Arch() == "arm64" || p.Arch() == "aarch64" {
		ids["arm64"] = true
		ids["aarch64"] = true
	}
	return ids
}

// Matches evaluates a selector expression such as
// "linux and not aarch64" against the platform.
//
// An empty selector is always true.
func (p Platform) Matches(selector string) (bool, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return true, nil
	}
	tokens, err := tokenise(selector)
	if err != nil {
		return false, err
	}
	ev := &selectorParser{tokens: tokens, ids: p.Identifiers()}
	ok, err := ev.or()
	if err != nil {
		return false, fmt.Errorf("parsing selector %q: %w", selector, err)
	}
	if ev.pos != len(ev.tokens) {
		return false, fmt.Errorf("parsing selector %q: unexpected token %q", selector, ev.tokens[ev.pos])
	}
	return ok, nil
}

// ParseSelector extracts the selector expression from a
// trailing YAML comment. Comments without brackets return
// an empty string.
func ParseSelector(comment string) string {
	comment = strings.TrimSpace(comment)
	comment = strings.TrimLeft(comment, "#")
	comment = strings.TrimSpace(comment)
	if !strings.HasPrefix(comment, "[") {
		return ""
	}
	end := strings.Index(comment, "]")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(comment[1:end])
}

func tokenise(s string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			flush()
		case r == '(' || r == ')':
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-':
			cur.WriteRune(unicode.ToLower(r))
		default:
			return nil, fmt.Errorf("invalid character %q in selector", r)
		}
	}
	flush()
	return tokens, nil
}

type selectorParser struct {
	tokens []string
	pos    int
	ids    map[string]bool
}

func (s *selectorParser) peek() string {
	if s.pos >= len(s.tokens) {
		return ""
	}
	return s.tokens[s.pos]
}

func (s *selectorParser) or() (bool, error) {
	left, err := s.and()
	if err != nil {
		return false, err
	}
	for s.peek() == "or" {
		s.pos++
		right, err := s.and()
		if err != nil {
			return false, err
		}
		left = left || right
	}
	return left, nil
}

func (s *selectorParser) and() (bool, error) {
	left, err := s.not()
	if err != nil {
		return false, err
	}
	for s.peek() == "and" {
		s.pos++
		right, err := s.not()
		if err != nil {
			return false, err
		}
		left = left && right
	}
	return left, nil
}

func (s *selectorParser) not() (bool, error) {
	if s.peek() == "not" {
		s.pos++
		v, err := s.not()
		return !v, err
	}
	return s.atom()
}

func (s *selectorParser) atom() (bool, error) {
	tok := s.peek()
	switch tok {
	case "":
		return false, fmt.Errorf("unexpected end of expression")
	case "(":
		s.pos++
		v, err := s.or()
		if err != nil {
			return false, err
		}
		if s.peek() != ")" {
			return false, fmt.Errorf("missing closing parenthesis")
		}
		s.pos++
		return v, nil
	case ")", "and", "or":
		return false, fmt.Errorf("unexpected token %q", tok)
	}
	s.pos++
	return s.ids[tok], nil
}
