package tools

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// RegisterCalculator adds the calculate tool: a safe arithmetic
// evaluator supporting + - * / and parentheses. No names, no calls,
// no side effects — the expression never reaches an interpreter.
func RegisterCalculator(reg *Registry) {
	reg.Register(&Tool{
		Name:        "calculate",
		Description: "Evaluate an arithmetic expression. Supports +, -, *, / and parentheses.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"expression": map[string]any{
					"type":        "string",
					"description": "The arithmetic expression to evaluate, e.g. \"(2+3)*4\"",
				},
			},
			"required": []string{"expression"},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			expr, _ := args["expression"].(string)
			if expr == "" {
				return "", fmt.Errorf("expression is required")
			}

			value, err := evalExpression(expr)
			if err != nil {
				return "", fmt.Errorf("cannot evaluate %q: %w", expr, err)
			}

			// Whole results render as integers: (2+3)*4 is 20, not 20.0.
			var result any = value
			if value == math.Trunc(value) && math.Abs(value) < 1e15 {
				result = int64(value)
			}
			return SuccessEnvelope(map[string]any{"result": result}), nil
		},
	})
}

// evalExpression parses and evaluates an arithmetic expression.
func evalExpression(expr string) (float64, error) {
	p := &exprParser{input: expr}
	value, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return 0, fmt.Errorf("unexpected %q at position %d", p.input[p.pos], p.pos)
	}
	return value, nil
}

// exprParser is a recursive-descent parser over the grammar
// expr := term (('+'|'-') term)* ; term := unary (('*'|'/') unary)* ;
// unary := '-' unary | number | '(' expr ')'.
type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *exprParser) parseExpr() (float64, error) {
	value, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			rhs, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			value += rhs
		case '-':
			p.pos++
			rhs, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			value -= rhs
		default:
			return value, nil
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	value, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			rhs, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			value *= rhs
		case '/':
			p.pos++
			rhs, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if rhs == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			value /= rhs
		default:
			return value, nil
		}
	}
}

func (p *exprParser) parseUnary() (float64, error) {
	switch p.peek() {
	case '-':
		p.pos++
		value, err := p.parseUnary()
		return -value, err
	case '(':
		p.pos++
		value, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return value, nil
	default:
		return p.parseNumber()
	}
}

func (p *exprParser) parseNumber() (float64, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if (c >= '0' && c <= '9') || c == '.' {
			p.pos++
		} else {
			break
		}
	}
	if start == p.pos {
		if p.pos < len(p.input) {
			return 0, fmt.Errorf("unexpected %q at position %d", p.input[p.pos], p.pos)
		}
		return 0, fmt.Errorf("unexpected end of expression")
	}
	token := strings.TrimSpace(p.input[start:p.pos])
	value, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", token)
	}
	return value, nil
}
