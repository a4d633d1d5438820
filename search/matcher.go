package search

import (
	"strconv"
	"strings"
)

// Predicate reports whether a line satisfies a compiled keyword expression.
type Predicate func(line string) bool

// Never is the predicate used for empty or malformed expressions.
func Never(string) bool { return false }

// Expr is the raw form of a keyword expression as entered by the user.
type Expr struct {
	Raw     string `json:"raw"`
	Logical bool   `json:"logical"`
}

// IsZero reports whether the expression is blank.
func (e Expr) IsZero() bool {
	return strings.TrimSpace(e.Raw) == ""
}

// Compile turns a raw expression into a predicate. It never fails: malformed
// logical expressions compile to Never.
func Compile(raw string, logical bool) Predicate {
	p, _ := CompileStrict(raw, logical)
	return p
}

// CompileStrict behaves like Compile but also returns the parse error, if any,
// so callers can warn about an expression that will never match.
func CompileStrict(raw string, logical bool) (Predicate, error) {
	if !logical {
		if raw == "" {
			return Never, nil
		}
		return func(line string) bool { return strings.Contains(line, raw) }, nil
	}

	node, err := Parse(raw)
	if err != nil {
		return Never, err
	}
	return node.Eval, nil
}

// Node is one element of a parsed logical expression.
type Node interface {
	Eval(line string) bool
	String() string
}

type literalNode struct{ text string }

func (n literalNode) Eval(line string) bool { return strings.Contains(line, n.text) }
func (n literalNode) String() string        { return "\"" + n.text + "\"" }

type notNode struct{ x Node }

func (n notNode) Eval(line string) bool { return !n.x.Eval(line) }
func (n notNode) String() string        { return "not(" + n.x.String() + ")" }

type andNode struct{ l, r Node }

func (n andNode) Eval(line string) bool { return n.l.Eval(line) && n.r.Eval(line) }
func (n andNode) String() string        { return "(" + n.l.String() + " and " + n.r.String() + ")" }

type orNode struct{ l, r Node }

func (n orNode) Eval(line string) bool { return n.l.Eval(line) || n.r.Eval(line) }
func (n orNode) String() string        { return "(" + n.l.String() + " or " + n.r.String() + ")" }

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokString
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lexer splits a logical expression into tokens. Quoted literals have no
// escape sequences, so a literal can never contain its own quote character.
type lexer struct {
	src string
	pos int
}

func (lx *lexer) next() (token, error) {
	for lx.pos < len(lx.src) && isSpace(lx.src[lx.pos]) {
		lx.pos++
	}
	start := lx.pos
	if lx.pos >= len(lx.src) {
		return token{kind: tokEOF, pos: start}, nil
	}

	c := lx.src[lx.pos]
	switch c {
	case '(':
		lx.pos++
		return token{kind: tokLParen, pos: start}, nil
	case ')':
		lx.pos++
		return token{kind: tokRParen, pos: start}, nil
	case '&':
		lx.pos++
		return token{kind: tokAnd, pos: start}, nil
	case '|':
		lx.pos++
		return token{kind: tokOr, pos: start}, nil
	case '!':
		lx.pos++
		return token{kind: tokNot, pos: start}, nil
	case '"', '\'':
		end := strings.IndexByte(lx.src[lx.pos+1:], c)
		if end < 0 {
			return token{}, lx.errAt(start, "unterminated string literal")
		}
		text := lx.src[lx.pos+1 : lx.pos+1+end]
		lx.pos += end + 2
		return token{kind: tokString, text: text, pos: start}, nil
	}

	if isWordByte(c) {
		for lx.pos < len(lx.src) && isWordByte(lx.src[lx.pos]) {
			lx.pos++
		}
		word := lx.src[start:lx.pos]
		switch strings.ToLower(word) {
		case "and":
			return token{kind: tokAnd, text: word, pos: start}, nil
		case "or":
			return token{kind: tokOr, text: word, pos: start}, nil
		case "not":
			return token{kind: tokNot, text: word, pos: start}, nil
		}
		return token{}, lx.errAt(start, "unknown word "+strconv.Quote(word))
	}
	return token{}, lx.errAt(start, "unexpected character "+strconv.Quote(string(c)))
}

func (lx *lexer) errAt(pos int, reason string) error {
	return &CompileError{Expr: lx.src, Pos: pos, Reason: reason}
}

// Parse builds the expression tree for a logical expression:
//
//	or   := and { ("or" | "|") and }
//	and  := not { ("and" | "&") not }
//	not  := ("not" | "!") not | atom
//	atom := STRING | "(" or ")"
func Parse(raw string) (Node, error) {
	p := &parser{lx: lexer{src: raw}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.tok.kind == tokEOF {
		return nil, p.lx.errAt(0, "empty expression")
	}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, p.lx.errAt(p.tok.pos, "unexpected trailing input")
	}
	return node, nil
}

type parser struct {
	lx  lexer
	tok token
}

func (p *parser) advance() error {
	t, err := p.lx.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokAnd {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = andNode{l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Node, error) {
	if p.tok.kind != tokNot {
		return p.parseAtom()
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	x, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	return notNode{x: x}, nil
}

func (p *parser) parseAtom() (Node, error) {
	switch p.tok.kind {
	case tokString:
		n := literalNode{text: p.tok.text}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return n, nil
	case tokLParen:
		open := p.tok.pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, p.lx.errAt(open, "unbalanced parenthesis")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return inner, nil
	case tokEOF:
		return nil, p.lx.errAt(p.tok.pos, "unexpected end of expression")
	default:
		return nil, p.lx.errAt(p.tok.pos, "expected string literal or '('")
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

// Terms returns the literals whose presence can make the expression match,
// in order of appearance. Negated literals are left out. It is used for
// highlighting and returns nil for malformed expressions.
func Terms(raw string, logical bool) []string {
	if !logical {
		if raw == "" {
			return nil
		}
		return []string{raw}
	}
	node, err := Parse(raw)
	if err != nil {
		return nil
	}
	var out []string
	collectTerms(node, false, &out)
	return out
}

func collectTerms(n Node, negated bool, out *[]string) {
	switch n := n.(type) {
	case literalNode:
		if !negated && n.text != "" {
			*out = append(*out, n.text)
		}
	case notNode:
		collectTerms(n.x, !negated, out)
	case andNode:
		collectTerms(n.l, negated, out)
		collectTerms(n.r, negated, out)
	case orNode:
		collectTerms(n.l, negated, out)
		collectTerms(n.r, negated, out)
	}
}
