// internal/service/template_service.go
package service

import (
	"strings"
)

const (
	openTag  = "{{"
	closeTag = "}}"
)

// RenderTemplate replaces {{key}} with vars[key] in a single left-to-right
// pass. Keys missing from vars, and braces that do not form a placeholder, are
// copied through unchanged. Substituted values are never scanned again.
func RenderTemplate(template string, vars map[string]string) string {
	var b strings.Builder
	b.Grow(len(template))

	rest := template
	for {
		start := strings.Index(rest, openTag)
		if start < 0 {
			b.WriteString(rest)
			return b.String()
		}
		b.WriteString(rest[:start])

		inner := rest[start+len(openTag):]
		end := strings.Index(inner, closeTag)
		if end < 0 {
			b.WriteString(rest[start:])
			return b.String()
		}

		key := inner[:end]
		if strings.Contains(key, "{") {
			// "{{{{name}}": the real placeholder starts later.
			b.WriteByte(rest[start])
			rest = rest[start+1:]
			continue
		}

		if value, ok := vars[key]; ok {
			b.WriteString(value)
		} else {
			b.WriteString(rest[start : start+len(openTag)+end+len(closeTag)])
		}
		rest = inner[end+len(closeTag):]
	}
}

// Placeholders lists the distinct keys referenced by template, in order of
// first appearance.
func Placeholders(template string) []string {
	keys := []string{}
	seen := map[string]bool{}

	rest := template
	for {
		start := strings.Index(rest, openTag)
		if start < 0 {
			return keys
		}
		inner := rest[start+len(openTag):]
		end := strings.Index(inner, closeTag)
		if end < 0 {
			return keys
		}
		key := inner[:end]
		if strings.Contains(key, "{") {
			rest = rest[start+1:]
			continue
		}
		if key != "" && !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
		rest = inner[end+len(closeTag):]
	}
}
