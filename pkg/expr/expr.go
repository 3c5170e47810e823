// Package expr evaluates the integer expressions used in image descriptions
// and patch tables.
//
// The grammar covers integer literals (decimal, 0x, 0o and 0b prefixes),
// identifiers resolved through a Symbols table, parentheses, the unary
// operators - + ~ and the binary operators | ^ & << >> + - * / // %.
// Operator precedence and floor semantics for / // % follow the usual
// rules for arbitrary integers.
package expr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Symbols resolves identifiers to values.
type Symbols interface {
	Lookup(name string) (int64, bool)
}

// Map is a Symbols implementation backed by a map.
type Map map[string]int64

// Lookup implements Symbols.
func (m Map) Lookup(name string) (int64, bool) {
	v, ok := m[name]
	return v, ok
}

type chain []Symbols

func (c chain) Lookup(name string) (int64, bool) {
	for _, s := range c {
		if s == nil {
			continue
		}
		if v, ok := s.Lookup(name); ok {
			return v, true
		}
	}
	return 0, false
}

// Chain returns a Symbols that consults each table in order.
func Chain(tables ...Symbols) Symbols {
	return chain(tables)
}

// ErrDivisionByZero is returned for x/0, x//0 and x%0.
var ErrDivisionByZero = errors.New("Division by zero")

// Eval parses and evaluates s.
func Eval(s string, syms Symbols) (int64, error) {
	p := parser{src: s, syms: syms}
	if err := p.next(); err != nil {
		return 0, err
	}
	v, err := p.or()
	if err != nil {
		return 0, fmt.Errorf("Invalid expression %q: %w", s, err)
	}
	if p.tok.kind != tokEOF {
		return 0, fmt.Errorf("Invalid expression %q: unexpected %q", s, p.tok.text)
	}
	return v, nil
}

// EvalRange evaluates s and checks that the result lies within [min, max].
func EvalRange(s string, syms Symbols, min, max int64) (int64, error) {
	v, err := Eval(s, syms)
	if err != nil {
		return 0, err
	}
	if v < min || v > max {
		return 0, fmt.Errorf("The value %d of %q is out of range [%d, %d]", v, s, min, max)
	}
	return v, nil
}

// EvalU32 evaluates s as an unsigned 32 bit value.
func EvalU32(s string, syms Symbols) (uint32, error) {
	v, err := EvalRange(s, syms, 0, 0xffffffff)
	return uint32(v), err
}

// EvalList evaluates a comma separated list of expressions.
func EvalList(s string, syms Symbols) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(s, ",") {
		v, err := Eval(strings.TrimSpace(part), syms)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokNum
	tokIdent
	tokOp
)

type token struct {
	kind tokKind
	text string
	val  int64
}

type parser struct {
	src  string
	pos  int
	tok  token
	syms Symbols
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func (p *parser) next() error {
	for p.pos < len(p.src) && strings.IndexByte(" \t\r\n", p.src[p.pos]) >= 0 {
		p.pos++
	}
	if p.pos >= len(p.src) {
		p.tok = token{kind: tokEOF}
		return nil
	}
	start := p.pos
	c := p.src[p.pos]
	switch {
	case isDigit(c):
		for p.pos < len(p.src) && (isDigit(p.src[p.pos]) || isIdentStart(p.src[p.pos])) {
			p.pos++
		}
		text := p.src[start:p.pos]
		v, err := parseLiteral(text)
		if err != nil {
			return err
		}
		p.tok = token{kind: tokNum, text: text, val: v}
	case isIdentStart(c):
		for p.pos < len(p.src) && (isDigit(p.src[p.pos]) || isIdentStart(p.src[p.pos])) {
			p.pos++
		}
		p.tok = token{kind: tokIdent, text: p.src[start:p.pos]}
	default:
		two := ""
		if p.pos+1 < len(p.src) {
			two = p.src[p.pos : p.pos+2]
		}
		switch two {
		case "<<", ">>", "//":
			p.pos += 2
			p.tok = token{kind: tokOp, text: two}
			return nil
		}
		if strings.IndexByte("|^&+-*/%~()", c) < 0 {
			return fmt.Errorf("Unexpected character %q", c)
		}
		p.pos++
		p.tok = token{kind: tokOp, text: string(c)}
	}
	return nil
}

func parseLiteral(text string) (int64, error) {
	clean := strings.ReplaceAll(text, "_", "")
	lower := strings.ToLower(clean)
	base := 10
	digits := clean
	switch {
	case strings.HasPrefix(lower, "0x"):
		base, digits = 16, clean[2:]
	case strings.HasPrefix(lower, "0o"):
		base, digits = 8, clean[2:]
	case strings.HasPrefix(lower, "0b"):
		base, digits = 2, clean[2:]
	}
	v, err := strconv.ParseInt(digits, base, 64)
	if errors.Is(err, strconv.ErrRange) {
		return 0, fmt.Errorf("The number %q overflows 64 bits", text)
	}
	if err != nil {
		return 0, fmt.Errorf("Invalid number %q", text)
	}
	return v, nil
}

func (p *parser) isOp(ops ...string) (string, bool) {
	if p.tok.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if p.tok.text == op {
			return op, true
		}
	}
	return "", false
}

// binary parses a left associative level of operators.
func (p *parser) binary(sub func() (int64, error), apply func(op string, a, b int64) (int64, error), ops ...string) (int64, error) {
	lhs, err := sub()
	if err != nil {
		return 0, err
	}
	for {
		op, ok := p.isOp(ops...)
		if !ok {
			return lhs, nil
		}
		if err := p.next(); err != nil {
			return 0, err
		}
		rhs, err := sub()
		if err != nil {
			return 0, err
		}
		if lhs, err = apply(op, lhs, rhs); err != nil {
			return 0, err
		}
	}
}

func (p *parser) or() (int64, error) {
	return p.binary(p.xor, func(_ string, a, b int64) (int64, error) { return a | b, nil }, "|")
}

func (p *parser) xor() (int64, error) {
	return p.binary(p.and, func(_ string, a, b int64) (int64, error) { return a ^ b, nil }, "^")
}

func (p *parser) and() (int64, error) {
	return p.binary(p.shift, func(_ string, a, b int64) (int64, error) { return a & b, nil }, "&")
}

func (p *parser) shift() (int64, error) {
	return p.binary(p.sum, func(op string, a, b int64) (int64, error) {
		if b < 0 {
			return 0, errors.New("Negative shift count")
		}
		if b > 63 {
			if op == ">>" && a < 0 {
				return -1, nil
			}
			return 0, nil
		}
		if op == "<<" {
			return a << uint(b), nil
		}
		return a >> uint(b), nil
	}, "<<", ">>")
}

func (p *parser) sum() (int64, error) {
	return p.binary(p.product, func(op string, a, b int64) (int64, error) {
		if op == "+" {
			return a + b, nil
		}
		return a - b, nil
	}, "+", "-")
}

func (p *parser) product() (int64, error) {
	return p.binary(p.unary, func(op string, a, b int64) (int64, error) {
		switch op {
		case "*":
			return a * b, nil
		case "%":
			if b == 0 {
				return 0, ErrDivisionByZero
			}
			return floorMod(a, b), nil
		default:
			if b == 0 {
				return 0, ErrDivisionByZero
			}
			return floorDiv(a, b), nil
		}
	}, "*", "/", "//", "%")
}

func (p *parser) unary() (int64, error) {
	op, ok := p.isOp("-", "+", "~")
	if !ok {
		return p.atom()
	}
	if err := p.next(); err != nil {
		return 0, err
	}
	v, err := p.unary()
	if err != nil {
		return 0, err
	}
	switch op {
	case "-":
		return -v, nil
	case "~":
		return ^v, nil
	}
	return v, nil
}

func (p *parser) atom() (int64, error) {
	tok := p.tok
	switch tok.kind {
	case tokNum:
		return tok.val, p.next()
	case tokIdent:
		var v int64
		found := false
		if p.syms != nil {
			v, found = p.syms.Lookup(tok.text)
		}
		if !found {
			return 0, fmt.Errorf("Unknown constant %s", tok.text)
		}
		return v, p.next()
	case tokOp:
		if tok.text == "(" {
			if err := p.next(); err != nil {
				return 0, err
			}
			v, err := p.or()
			if err != nil {
				return 0, err
			}
			if _, ok := p.isOp(")"); !ok {
				return 0, errors.New("Missing closing parenthesis")
			}
			return v, p.next()
		}
		return 0, fmt.Errorf("Unexpected operator %q", tok.text)
	}
	return 0, errors.New("Unexpected end of expression")
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	m := a % b
	if m != 0 && ((m < 0) != (b < 0)) {
		m += b
	}
	return m
}
