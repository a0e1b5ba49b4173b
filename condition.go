package armada

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Condition is a boolean predicate over a flow context. Two construction
// forms exist: Simple (variable, operator, literal) and Expr (a restricted
// boolean expression). Neither form can execute code; evaluation is pure
// context lookup plus comparison.
type Condition struct {
	variable string
	operator string
	literal  any
	expr     *exprNode // non-nil for Expr conditions
	source   string
}

// Simple builds a comparator condition: context[variable] op literal.
// op must be one of >, <, >=, <=, ==, !=.
func Simple(variable, op string, literal any) (*Condition, error) {
	switch op {
	case ">", "<", ">=", "<=", "==", "!=":
	default:
		return nil, fmt.Errorf("unsupported operator %q", op)
	}
	variable = Sanitize(variable)
	if variable == "" {
		return nil, &ErrInput{Field: "condition.variable", Reason: "must not be empty"}
	}
	return &Condition{variable: variable, operator: op, literal: literal}, nil
}

// MustSimple is like Simple but panics on error. For static conditions.
func MustSimple(variable, op string, literal any) *Condition {
	c, err := Simple(variable, op, literal)
	if err != nil {
		panic(err)
	}
	return c
}

// Expr builds a condition from a restricted boolean expression over context
// variables: comparators, AND/OR/NOT (or &&/||/!), parentheses, and
// number/string/bool/null literals. Parsing happens once, at construction.
func Expr(src string) (*Condition, error) {
	p := &exprParser{src: src}
	node, err := p.parse()
	if err != nil {
		return nil, fmt.Errorf("parse condition %q: %w", src, err)
	}
	return &Condition{expr: node, source: src}, nil
}

// MustExpr is like Expr but panics on error.
func MustExpr(src string) *Condition {
	c, err := Expr(src)
	if err != nil {
		panic(err)
	}
	return c
}

// String returns a human-readable form for diagnostics.
func (c *Condition) String() string {
	if c.expr != nil {
		return c.source
	}
	return fmt.Sprintf("%s %s %v", c.variable, c.operator, c.literal)
}

// Evaluate resolves the condition against ctx. Missing variables evaluate
// as nil (equal only to nil, ordered before nothing).
func (c *Condition) Evaluate(ctx map[string]any) (bool, error) {
	if c.expr != nil {
		v, err := c.expr.eval(ctx)
		if err != nil {
			return false, err
		}
		return truthy(v), nil
	}
	return compare(ctx[c.variable], c.operator, c.literal)
}

// compare applies op to two operands: numeric comparison when both coerce
// to float64, lexical for two strings, strict equality otherwise.
func compare(left any, op string, right any) (bool, error) {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if lok && rok {
		switch op {
		case ">":
			return lf > rf, nil
		case "<":
			return lf < rf, nil
		case ">=":
			return lf >= rf, nil
		case "<=":
			return lf <= rf, nil
		case "==":
			return lf == rf, nil
		case "!=":
			return lf != rf, nil
		}
	}
	ls, lsok := left.(string)
	rs, rsok := right.(string)
	if lsok && rsok {
		switch op {
		case ">":
			return ls > rs, nil
		case "<":
			return ls < rs, nil
		case ">=":
			return ls >= rs, nil
		case "<=":
			return ls <= rs, nil
		case "==":
			return ls == rs, nil
		case "!=":
			return ls != rs, nil
		}
	}
	switch op {
	case "==":
		return left == right, nil
	case "!=":
		return left != right, nil
	}
	return false, fmt.Errorf("cannot order %T against %T", left, right)
}

// toFloat coerces numeric types to float64. Numeric strings are not
// coerced; "2" stays a string.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// truthy converts an evaluated expression value to bool: bools pass through,
// numbers are non-zero, strings are non-empty, nil is false.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case nil:
		return false
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return true
}

// --- expression parser ---

// exprNode is a node in the parsed expression tree.
// kind is one of "or", "and", "not", "cmp", "lit", "var".
type exprNode struct {
	kind     string
	children []*exprNode
	op       string // comparator for "cmp"
	value    any    // literal for "lit"
	name     string // identifier for "var"
}

func (n *exprNode) eval(ctx map[string]any) (any, error) {
	switch n.kind {
	case "or":
		for _, c := range n.children {
			v, err := c.eval(ctx)
			if err != nil {
				return nil, err
			}
			if truthy(v) {
				return true, nil
			}
		}
		return false, nil
	case "and":
		for _, c := range n.children {
			v, err := c.eval(ctx)
			if err != nil {
				return nil, err
			}
			if !truthy(v) {
				return false, nil
			}
		}
		return true, nil
	case "not":
		v, err := n.children[0].eval(ctx)
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	case "cmp":
		left, err := n.children[0].eval(ctx)
		if err != nil {
			return nil, err
		}
		right, err := n.children[1].eval(ctx)
		if err != nil {
			return nil, err
		}
		return compare(left, n.op, right)
	case "lit":
		return n.value, nil
	case "var":
		return ctx[n.name], nil
	}
	return nil, fmt.Errorf("unknown node kind %q", n.kind)
}

// exprParser is a recursive-descent parser for the condition grammar:
//
//	expr    := and ( ("OR"|"||") and )*
//	and     := unary ( ("AND"|"&&") unary )*
//	unary   := ("NOT"|"!") unary | cmp
//	cmp     := operand ( (">"|"<"|">="|"<="|"=="|"!=") operand )?
//	operand := number | string | "true" | "false" | "null" | ident | "(" expr ")"
type exprParser struct {
	src string
	pos int
}

func (p *exprParser) parse() (*exprNode, error) {
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return nil, fmt.Errorf("unexpected %q at offset %d", p.src[p.pos:], p.pos)
	}
	return node, nil
}

func (p *exprParser) parseOr() (*exprNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	children := []*exprNode{left}
	for p.acceptKeyword("OR") || p.accept("||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return left, nil
	}
	return &exprNode{kind: "or", children: children}, nil
}

func (p *exprParser) parseAnd() (*exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	children := []*exprNode{left}
	for p.acceptKeyword("AND") || p.accept("&&") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return left, nil
	}
	return &exprNode{kind: "and", children: children}, nil
}

func (p *exprParser) parseUnary() (*exprNode, error) {
	if p.acceptKeyword("NOT") || p.accept("!") {
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &exprNode{kind: "not", children: []*exprNode{child}}, nil
	}
	return p.parseCmp()
}

func (p *exprParser) parseCmp() (*exprNode, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	// Two-char operators first so ">=" is not read as ">".
	for _, op := range []string{">=", "<=", "==", "!=", ">", "<"} {
		if p.accept(op) {
			right, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			return &exprNode{kind: "cmp", op: op, children: []*exprNode{left, right}}, nil
		}
	}
	return left, nil
}

func (p *exprParser) parseOperand() (*exprNode, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	ch := p.src[p.pos]

	if ch == '(' {
		p.pos++
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if !p.accept(")") {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return node, nil
	}

	if ch == '\'' || ch == '"' {
		return p.parseString(ch)
	}

	if ch == '-' || unicode.IsDigit(rune(ch)) {
		return p.parseNumber()
	}

	if isIdentStart(ch) {
		word := p.readIdent()
		switch strings.ToLower(word) {
		case "true":
			return &exprNode{kind: "lit", value: true}, nil
		case "false":
			return &exprNode{kind: "lit", value: false}, nil
		case "null":
			return &exprNode{kind: "lit", value: nil}, nil
		}
		return &exprNode{kind: "var", name: word}, nil
	}

	return nil, fmt.Errorf("unexpected character %q at offset %d", ch, p.pos)
}

func (p *exprParser) parseString(quote byte) (*exprNode, error) {
	p.pos++ // opening quote
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] != quote {
		p.pos++
	}
	if p.pos >= len(p.src) {
		return nil, fmt.Errorf("unterminated string literal")
	}
	val := p.src[start:p.pos]
	p.pos++ // closing quote
	return &exprNode{kind: "lit", value: val}, nil
}

func (p *exprParser) parseNumber() (*exprNode, error) {
	start := p.pos
	if p.src[p.pos] == '-' {
		p.pos++
	}
	for p.pos < len(p.src) && (unicode.IsDigit(rune(p.src[p.pos])) || p.src[p.pos] == '.') {
		p.pos++
	}
	text := p.src[start:p.pos]
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, fmt.Errorf("bad number %q", text)
	}
	return &exprNode{kind: "lit", value: f}, nil
}

// accept consumes tok at the current position (after whitespace) and
// reports whether it matched.
func (p *exprParser) accept(tok string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.src[p.pos:], tok) {
		p.pos += len(tok)
		return true
	}
	return false
}

// acceptKeyword consumes a word-boundary keyword (case-insensitive).
func (p *exprParser) acceptKeyword(kw string) bool {
	p.skipSpace()
	end := p.pos + len(kw)
	if end > len(p.src) {
		return false
	}
	if !strings.EqualFold(p.src[p.pos:end], kw) {
		return false
	}
	if end < len(p.src) && isIdentByte(p.src[end]) {
		return false
	}
	p.pos = end
	return true
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *exprParser) readIdent() string {
	start := p.pos
	for p.pos < len(p.src) && isIdentByte(p.src[p.pos]) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentByte(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9') || ch == '.'
}
