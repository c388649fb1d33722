package selection

import (
	"fmt"
	"strings"
	"unicode"
)

// Matcher reports whether an item satisfies a marker expression.
type Matcher func(Item) bool

// ParseExpr compiles a marker expression. Names match marker names;
// "and", "or", "not" and parentheses combine them with the usual
// precedence.
func ParseExpr(expr string) (Matcher, error) {
	p := &exprParser{tokens: tokenize(expr)}
	m, err := p.or()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		return nil, fmt.Errorf("unexpected %q at token %d", p.tokens[p.pos], p.pos+1)
	}
	return m, nil
}

func tokenize(s string) []string {
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
		case r == '(' || r == ')':
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsSpace(r):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

type exprParser struct {
	tokens []string
	pos    int
}

func (p *exprParser) peek() string {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return ""
}

func (p *exprParser) or() (Matcher, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.peek() == "or" {
		p.pos++
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		l := left
		left = func(it Item) bool { return l(it) || right(it) }
	}
	return left, nil
}

func (p *exprParser) and() (Matcher, error) {
	left, err := p.not()
	if err != nil {
		return nil, err
	}
	for p.peek() == "and" {
		p.pos++
		right, err := p.not()
		if err != nil {
			return nil, err
		}
		l := left
		left = func(it Item) bool { return l(it) && right(it) }
	}
	return left, nil
}

func (p *exprParser) not() (Matcher, error) {
	if p.peek() == "not" {
		p.pos++
		inner, err := p.not()
		if err != nil {
			return nil, err
		}
		return func(it Item) bool { return !inner(it) }, nil
	}
	return p.atom()
}

func (p *exprParser) atom() (Matcher, error) {
	tok := p.peek()
	switch tok {
	case "":
		return nil, fmt.Errorf("unexpected end of expression")
	case "(":
		p.pos++
		m, err := p.or()
		if err != nil {
			return nil, err
		}
		if p.peek() != ")" {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return m, nil
	case ")", "and", "or":
		return nil, fmt.Errorf("unexpected %q", tok)
	}
	p.pos++
	name := tok
	return func(it Item) bool { return it.HasMarker(name) }, nil
}
