package service

import (
	"fmt"
	"io"
	"strings"

	"github.com/valyala/fasttemplate"
)

// RenderTemplate substitutes {key} placeholders in one pass. Keys missing from
// vars (or nil) render as an empty string; brace content that is not an
// identifier is copied through untouched, and substituted values are never
// expanded again.
func RenderTemplate(body string, vars map[string]any) string {
	return fasttemplate.ExecuteFuncString(body, "{", "}", func(w io.Writer, tag string) (int, error) {
		if !isIdentifier(tag) {
			return io.WriteString(w, "{"+tag+"}")
		}

		value, ok := vars[tag]
		if !ok || value == nil {
			return 0, nil
		}

		return io.WriteString(w, fmt.Sprint(value))
	})
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// NormalizePhone keeps only the digits of a phone number.
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
