package tools

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidExpression is returned when an expression contains anything other
// than digits, arithmetic operators, dots, parentheses and spaces.
var ErrInvalidExpression = errors.New("invalid expression")

const (
	allowedExpressionChars = "0123456789+-*/.() "
	maxExpressionDepth     = 64
)

// ValidExpression reports whether expr uses only the permitted characters.
func ValidExpression(expr string) bool {
	if strings.TrimSpace(expr) == "" {
		return false
	}
	for _, r := range expr {
		if !strings.ContainsRune(allowedExpressionChars, r) {
			return false
		}
	}
	return true
}

// Calculate evaluates a plain arithmetic expression. Nothing outside the
// character whitelist is ever interpreted.
func Calculate(expr string) (string, error) {
	if !ValidExpression(expr) {
		return "", ErrInvalidExpression
	}
	p := &exprParser{src: expr}
	v, err := p.parseSum(0)
	if err != nil {
		return "", err
	}
	p.skipSpaces()
	if p.pos < len(p.src) {
		return "", fmt.Errorf("unexpected %q at position %d", p.src[p.pos], p.pos)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return "", fmt.Errorf("result out of range")
	}
	return formatNumber(v), nil
}

func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type exprParser struct {
	src string
	pos int
}

func (p *exprParser) skipSpaces() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	p.skipSpaces()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *exprParser) parseSum(depth int) (float64, error) {
	left, err := p.parseProduct(depth)
	if err != nil {
		return 0, err
	}
	for {
		op := p.peek()
		if op != '+' && op != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.parseProduct(depth)
		if err != nil {
			return 0, err
		}
		if op == '+' {
			left += right
		} else {
			left -= right
		}
	}
}

func (p *exprParser) parseProduct(depth int) (float64, error) {
	left, err := p.parseUnary(depth)
	if err != nil {
		return 0, err
	}
	for {
		op := p.peek()
		if op != '*' && op != '/' {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary(depth)
		if err != nil {
			return 0, err
		}
		if op == '*' {
			left *= right
			continue
		}
		if right == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		left /= right
	}
}

func (p *exprParser) parseUnary(depth int) (float64, error) {
	if depth > maxExpressionDepth {
		return 0, fmt.Errorf("expression nested too deeply")
	}
	switch p.peek() {
	case '-':
		p.pos++
		v, err := p.parseUnary(depth + 1)
		return -v, err
	case '+':
		p.pos++
		return p.parseUnary(depth + 1)
	}
	return p.parsePrimary(depth)
}

func (p *exprParser) parsePrimary(depth int) (float64, error) {
	c := p.peek()
	if c == '(' {
		p.pos++
		v, err := p.parseSum(depth + 1)
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	}
	start := p.pos
	for p.pos < len(p.src) && (p.src[p.pos] >= '0' && p.src[p.pos] <= '9' || p.src[p.pos] == '.') {
		p.pos++
	}
	if start == p.pos {
		if p.pos >= len(p.src) {
			return 0, fmt.Errorf("unexpected end of expression")
		}
		return 0, fmt.Errorf("unexpected %q at position %d", p.src[p.pos], p.pos)
	}
	v, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", p.src[start:p.pos])
	}
	return v, nil
}
