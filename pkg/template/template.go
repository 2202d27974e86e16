// Package template interpolates session variables into node text, API requests
// and variable assignments.
package template

import (
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"github.com/dukex/callflow/pkg/models"
)

// bareRef matches shorthand placeholders such as {{ customer_name }} or
// {{customer.tier}} that omit the leading dot.
var bareRef = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z0-9_]+)*)\s*\}\}`)

var funcs = template.FuncMap{
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"default": func(fallback, value any) any {
		if value == nil || value == "" {
			return fallback
		}

		return value
	},
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)

		return string(b), err
	},
}

// NeedsTemplating reports whether input contains a placeholder.
func NeedsTemplating(input string) bool {
	return strings.Contains(input, "{{")
}

// SessionData builds the template data for a session: every variable at the top
// level, the same map under "vars", and session identity under "session".
func SessionData(session *models.Session) map[string]any {
	data := make(map[string]any, len(session.Variables)+2)
	maps.Copy(data, session.Variables)

	data["vars"] = session.Variables
	data["session"] = map[string]any{
		"id":           session.ID,
		"flow_id":      session.FlowID,
		"flow_version": session.FlowVersion,
	}

	return data
}

// RenderWithSession renders input against a session and coerces the result.
func RenderWithSession(input string, session *models.Session) (any, error) {
	return Render(input, SessionData(session))
}

// InterpolateWithSession renders input against a session as plain text.
func InterpolateWithSession(input string, session *models.Session) (string, error) {
	return Interpolate(input, SessionData(session))
}

// Interpolate renders templateStr as plain text. Missing values render empty.
func Interpolate(templateStr string, data any) (string, error) {
	if !NeedsTemplating(templateStr) {
		return templateStr, nil
	}

	tmpl, err := template.
		New("interpolate").
		Funcs(funcs).
		Option("missingkey=zero").
		Parse(expandBareRefs(templateStr))
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

// Render renders templateStr and converts the output into a JSON value, a
// number, or a boolean when it parses as one. Anything else, including text
// that only looks like JSON, stays a string.
func Render(templateStr string, data any) (any, error) {
	result, err := Interpolate(templateStr, data)
	if err != nil {
		return nil, err
	}

	result = strings.TrimSpace(result)
	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any
		if err := json.Unmarshal([]byte(result), &jsonResult); err == nil {
			return jsonResult, nil
		}

		return result, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

func expandBareRefs(s string) string {
	return bareRef.ReplaceAllStringFunc(s, func(m string) string {
		name := bareRef.FindStringSubmatch(m)[1]

		root, _, _ := strings.Cut(name, ".")
		if _, isFunc := funcs[root]; isFunc || isKeyword(root) {
			return m
		}

		return "{{ ." + name + " }}"
	})
}

func isKeyword(s string) bool {
	switch s {
	case "end", "else", "nil", "true", "false", "break", "continue":
		return true
	default:
		return false
	}
}
