package scanner

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Scan expressions are parsed into a small AST: literals, identifiers,
// arithmetic/comparison/logical operators and calls to the fixed indicator
// set. There is no host access of any kind.

type exprNode interface{ exprNode() }

type numberLit float64
type stringLit string
type boolLit bool
type identExpr string

type unaryExpr struct {
	op string
	x  exprNode
}

type binaryExpr struct {
	op   string
	x, y exprNode
}

type callExpr struct {
	name string
	args []exprNode
}

func (numberLit) exprNode()  {}
func (stringLit) exprNode()  {}
func (boolLit) exprNode()    {}
func (identExpr) exprNode()  {}
func (unaryExpr) exprNode()  {}
func (binaryExpr) exprNode() {}
func (callExpr) exprNode()   {}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	src string
	pos int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && unicode.IsSpace(rune(l.src[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}
	start := l.pos
	ch := l.src[l.pos]

	switch {
	case ch >= '0' && ch <= '9' || ch == '.':
		for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '.' ||
			l.src[l.pos] == 'e' || l.src[l.pos] == 'E' ||
			((l.src[l.pos] == '+' || l.src[l.pos] == '-') && (l.src[l.pos-1] == 'e' || l.src[l.pos-1] == 'E'))) {
			l.pos++
		}
		return token{kind: tokNumber, text: l.src[start:l.pos], pos: start}, nil

	case isIdentStart(ch):
		for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
			l.pos++
		}
		return token{kind: tokIdent, text: l.src[start:l.pos], pos: start}, nil

	case ch == '\'' || ch == '"':
		quote := ch
		l.pos++
		for l.pos < len(l.src) && l.src[l.pos] != quote {
			l.pos++
		}
		if l.pos >= len(l.src) {
			return token{}, fmt.Errorf("unterminated string at position %d", start)
		}
		text := l.src[start+1 : l.pos]
		l.pos++
		return token{kind: tokString, text: text, pos: start}, nil

	case ch == '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case ch == ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case ch == ',':
		l.pos++
		return token{kind: tokComma, text: ",", pos: start}, nil
	}

	for _, op := range []string{">=", "<=", "==", "!="} {
		if strings.HasPrefix(l.src[l.pos:], op) {
			l.pos += 2
			return token{kind: tokOp, text: op, pos: start}, nil
		}
	}
	if strings.ContainsRune("+-*/%<>&|~", rune(ch)) {
		l.pos++
		return token{kind: tokOp, text: string(ch), pos: start}, nil
	}
	return token{}, fmt.Errorf("unexpected character %q at position %d", ch, start)
}

func isDigit(b byte) bool      { return b >= '0' && b <= '9' }
func isIdentStart(b byte) bool { return b == '_' || unicode.IsLetter(rune(b)) }
func isIdentPart(b byte) bool  { return isIdentStart(b) || isDigit(b) }

// parser is a recursive-descent parser with Python-like precedence:
// or < and < not < comparison < additive < multiplicative < unary.
// The & and | symbols are synonyms for and/or.
type parser struct {
	lex *lexer
	tok token
}

// parseExpression parses a full scan expression
func parseExpression(src string) (exprNode, error) {
	p := &parser{lex: &lexer{src: src}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at position %d", p.tok.text, p.tok.pos)
	}
	return node, nil
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) parseOr() (exprNode, error) {
	x, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isOp("|") || p.isKeyword("or") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		y, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		x = binaryExpr{op: "or", x: x, y: y}
	}
	return x, nil
}

func (p *parser) parseAnd() (exprNode, error) {
	x, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isOp("&") || p.isKeyword("and") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		y, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		x = binaryExpr{op: "and", x: x, y: y}
	}
	return x, nil
}

func (p *parser) parseNot() (exprNode, error) {
	if p.isOp("~") || p.isKeyword("not") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return unaryExpr{op: "not", x: x}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (exprNode, error) {
	x, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.isAnyOp(">", ">=", "<", "<=", "==", "!=") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		y, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		x = binaryExpr{op: op, x: x, y: y}
	}
	return x, nil
}

func (p *parser) parseAdditive() (exprNode, error) {
	x, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isAnyOp("+", "-") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		y, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		x = binaryExpr{op: op, x: x, y: y}
	}
	return x, nil
}

func (p *parser) parseMultiplicative() (exprNode, error) {
	x, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isAnyOp("*", "/", "%") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		y, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		x = binaryExpr{op: op, x: x, y: y}
	}
	return x, nil
}

func (p *parser) parseUnary() (exprNode, error) {
	if p.isAnyOp("-", "+") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if op == "+" {
			return x, nil
		}
		return unaryExpr{op: "-", x: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (exprNode, error) {
	switch p.tok.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(p.tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at position %d", p.tok.text, p.tok.pos)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return numberLit(f), nil

	case tokString:
		s := stringLit(p.tok.text)
		if err := p.advance(); err != nil {
			return nil, err
		}
		return s, nil

	case tokIdent:
		name := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		switch name {
		case "True", "true":
			return boolLit(true), nil
		case "False", "false":
			return boolLit(false), nil
		}
		if p.tok.kind == tokLParen {
			return p.parseCall(name)
		}
		return identExpr(name), nil

	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		x, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, fmt.Errorf("expected ) at position %d", p.tok.pos)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return x, nil
	}
	return nil, fmt.Errorf("unexpected %q at position %d", p.tok.text, p.tok.pos)
}

func (p *parser) parseCall(name string) (exprNode, error) {
	// Consume (
	if err := p.advance(); err != nil {
		return nil, err
	}
	var args []exprNode
	if p.tok.kind != tokRParen {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.tok.kind != tokComma {
				break
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if p.tok.kind != tokRParen {
		return nil, fmt.Errorf("expected ) at position %d", p.tok.pos)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return callExpr{name: name, args: args}, nil
}

func (p *parser) isOp(op string) bool {
	return p.tok.kind == tokOp && p.tok.text == op
}

func (p *parser) isAnyOp(ops ...string) bool {
	if p.tok.kind != tokOp {
		return false
	}
	for _, op := range ops {
		if p.tok.text == op {
			return true
		}
	}
	return false
}

func (p *parser) isKeyword(kw string) bool {
	return p.tok.kind == tokIdent && p.tok.text == kw
}
