// Package models provides conditional expression evaluation for condition nodes
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmespath/go-jmespath"
)

// Evaluator decides whether a branch expression holds for a set of variables.
type Evaluator interface {
	Evaluate(expression string, variables map[string]any) (bool, error)
}

// ExpressionEvaluator evaluates comparisons whose left side is a JMESPath
// query over the session variables:
//
//	x == 1
//	customer.tier != "gold" && attempts < 3
//	!opted_out
//
// The right side is a JSON literal, a quoted string, a variable query, or a
// bare word compared as a string. An empty expression is true.
type ExpressionEvaluator struct{}

var comparisonOperators = []string{"==", "!=", "<=", ">=", "<", ">"}

func (e ExpressionEvaluator) Evaluate(expression string, variables map[string]any) (bool, error) {
	expr := strings.TrimSpace(expression)
	if expr == "" {
		return true, nil
	}

	if parts := splitTopLevel(expr, "||"); len(parts) > 1 {
		for _, part := range parts {
			ok, err := e.Evaluate(part, variables)
			if err != nil {
				return false, err
			}

			if ok {
				return true, nil
			}
		}

		return false, nil
	}

	if parts := splitTopLevel(expr, "&&"); len(parts) > 1 {
		for _, part := range parts {
			ok, err := e.Evaluate(part, variables)
			if err != nil {
				return false, err
			}

			if !ok {
				return false, nil
			}
		}

		return true, nil
	}

	if inner, ok := unwrapParens(expr); ok {
		return e.Evaluate(inner, variables)
	}

	if strings.HasPrefix(expr, "!") && !strings.HasPrefix(expr, "!=") {
		ok, err := e.Evaluate(expr[1:], variables)

		return !ok, err
	}

	if b, err := strconv.ParseBool(expr); err == nil {
		return b, nil
	}

	for _, op := range comparisonOperators {
		idx := indexTopLevel(expr, op)
		if idx < 0 {
			continue
		}

		lhs, err := lookup(strings.TrimSpace(expr[:idx]), variables)
		if err != nil {
			return false, err
		}

		rhs, err := literal(strings.TrimSpace(expr[idx+len(op):]), variables)
		if err != nil {
			return false, err
		}

		return compare(lhs, rhs, op)
	}

	value, err := lookup(expr, variables)
	if err != nil {
		return false, err
	}

	return truthy(value), nil
}

func lookup(query string, variables map[string]any) (any, error) {
	if query == "" {
		return nil, fmt.Errorf("missing operand")
	}

	if variables == nil {
		variables = map[string]any{}
	}

	value, err := jmespath.Search(query, variables)
	if err != nil {
		return nil, fmt.Errorf("cannot evaluate %q: %w", query, err)
	}

	return value, nil
}

func literal(token string, variables map[string]any) (any, error) {
	if token == "" {
		return nil, fmt.Errorf("missing operand")
	}

	if len(token) >= 2 {
		first, last := token[0], token[len(token)-1]
		if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
			return token[1 : len(token)-1], nil
		}
	}

	var v any
	if err := json.Unmarshal([]byte(token), &v); err == nil {
		return v, nil
	}

	if value, err := jmespath.Search(token, variables); err == nil && value != nil {
		return value, nil
	}

	return token, nil
}

func compare(lhs, rhs any, op string) (bool, error) {
	if l, ok := toNumber(lhs); ok {
		if r, ok := toNumber(rhs); ok {
			switch op {
			case "==":
				return l == r, nil
			case "!=":
				return l != r, nil
			case "<":
				return l < r, nil
			case "<=":
				return l <= r, nil
			case ">":
				return l > r, nil
			case ">=":
				return l >= r, nil
			}
		}
	}

	l, r := stringify(lhs), stringify(rhs)

	switch op {
	case "==":
		return l == r, nil
	case "!=":
		return l != r, nil
	case "<":
		return l < r, nil
	case "<=":
		return l <= r, nil
	case ">":
		return l > r, nil
	case ">=":
		return l >= r, nil
	default:
		return false, fmt.Errorf("unsupported operator %q", op)
	}
}

func toNumber(v any) (float64, bool) {
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
	case json.Number:
		f, err := n.Float64()

		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)

		return f, err == nil
	default:
		return 0, false
	}
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}

		return v != ""
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		if n, ok := toNumber(v); ok {
			return n != 0
		}

		return true
	}
}

// splitTopLevel splits s on sep outside quotes and parentheses.
func splitTopLevel(s, sep string) []string {
	var (
		parts []string
		depth int
		quote byte
		start int
	)

	for i := 0; i < len(s); i++ {
		c := s[i]

		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
		case depth == 0 && strings.HasPrefix(s[i:], sep):
			parts = append(parts, s[start:i])
			start = i + len(sep)
			i += len(sep) - 1
		}
	}

	return append(parts, s[start:])
}

// indexTopLevel finds op outside quotes and parentheses. A single-character
// operator never matches the first half of a two-character one.
func indexTopLevel(s, op string) int {
	var (
		depth int
		quote byte
	)

	for i := 0; i < len(s); i++ {
		c := s[i]

		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
		case depth == 0 && strings.HasPrefix(s[i:], op):
			if len(op) == 1 && i+1 < len(s) && s[i+1] == '=' {
				continue
			}

			return i
		}
	}

	return -1
}

func unwrapParens(s string) (string, bool) {
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return "", false
	}

	depth := 0

	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 && i != len(s)-1 {
				return "", false
			}
		}
	}

	return s[1 : len(s)-1], true
}
