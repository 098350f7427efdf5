package mlwatch

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// EvalThreshold evaluates a threshold expression over the summary statistics
// of a metric's history. The grammar is deliberately tiny: the identifiers
// v_mean and v_stddev, numeric literals, the operators + - * /, unary minus,
// and parentheses. Any other token fails with ErrInvalidExpression; the
// expression text is never handed to a general-purpose evaluator.
func EvalThreshold(expr string, mean, stddev float64) (float64, error) {
	p := &exprParser{
		input: expr,
		vars:  map[string]float64{"v_mean": mean, "v_stddev": stddev},
	}
	value, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return 0, fmt.Errorf("unexpected %q at offset %d: %w", p.input[p.pos:], p.pos, ErrInvalidExpression)
	}
	return value, nil
}

// exprParser is a recursive-descent parser over the threshold grammar:
//
//	expr   = term { ("+" | "-") term }
//	term   = factor { ("*" | "/") factor }
//	factor = number | ident | "-" factor | "(" expr ")"
type exprParser struct {
	input string
	pos   int
	vars  map[string]float64
}

func (p *exprParser) parseExpr() (float64, error) {
	value, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		switch {
		case p.consume('+'):
			rhs, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			value += rhs
		case p.consume('-'):
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
	value, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		switch {
		case p.consume('*'):
			rhs, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			value *= rhs
		case p.consume('/'):
			rhs, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			if rhs == 0 {
				return 0, fmt.Errorf("division by zero: %w", ErrInvalidExpression)
			}
			value /= rhs
		default:
			return value, nil
		}
	}
}

func (p *exprParser) parseFactor() (float64, error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0, fmt.Errorf("unexpected end of expression: %w", ErrInvalidExpression)
	}

	if p.consume('-') {
		value, err := p.parseFactor()
		return -value, err
	}

	if p.consume('(') {
		value, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if !p.consume(')') {
			return 0, fmt.Errorf("missing closing parenthesis: %w", ErrInvalidExpression)
		}
		return value, nil
	}

	c := p.input[p.pos]
	switch {
	case c >= '0' && c <= '9' || c == '.':
		return p.parseNumber()
	case unicode.IsLetter(rune(c)) || c == '_':
		return p.parseIdent()
	default:
		return 0, fmt.Errorf("unexpected character %q: %w", c, ErrInvalidExpression)
	}
}

func (p *exprParser) parseNumber() (float64, error) {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c >= '0' && c <= '9' || c == '.' || c == 'e' || c == 'E' {
			p.pos++
			continue
		}
		// Signs are only part of the literal directly after an exponent.
		if (c == '+' || c == '-') && p.pos > start &&
			(p.input[p.pos-1] == 'e' || p.input[p.pos-1] == 'E') {
			p.pos++
			continue
		}
		break
	}
	value, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("bad numeric literal %q: %w", p.input[start:p.pos], ErrInvalidExpression)
	}
	return value, nil
}

func (p *exprParser) parseIdent() (float64, error) {
	start := p.pos
	for p.pos < len(p.input) {
		c := rune(p.input[p.pos])
		if unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' {
			p.pos++
			continue
		}
		break
	}
	name := p.input[start:p.pos]
	value, ok := p.vars[name]
	if !ok {
		return 0, fmt.Errorf("unknown identifier %q (allowed: %s): %w",
			name, strings.Join([]string{"v_mean", "v_stddev"}, ", "), ErrInvalidExpression)
	}
	return value, nil
}

func (p *exprParser) consume(c byte) bool {
	if p.pos < len(p.input) && p.input[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}
