package config

import (
	"strings"

	pkgerrors "github.com/DavidLandup0/mitsuki/pkg/errors"
)

// maxSubstitutionDepth bounds recursive placeholder expansion.
const maxSubstitutionDepth = 10

// Substitute resolves ${key} and ${key:default} placeholders in template
// against the store. Placeholders may resolve to values that themselves
// contain placeholders; expansion recurses to a bounded depth and detects
// cycles.
func (s *Store) Substitute(template string) (string, error) {
	return s.substitute(template, 0, make(map[string]bool))
}

func (s *Store) substitute(template string, depth int, resolving map[string]bool) (string, error) {
	if depth > maxSubstitutionDepth {
		return "", pkgerrors.Newf(pkgerrors.KindConfiguration,
			"placeholder substitution exceeded depth %d in %q", maxSubstitutionDepth, template)
	}

	var out strings.Builder
	rest := template
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			out.WriteString(rest)
			break
		}
		out.WriteString(rest[:start])

		end := matchingBrace(rest[start:])
		if end < 0 {
			return "", pkgerrors.Newf(pkgerrors.KindConfiguration,
				"unterminated placeholder in %q", template)
		}
		expr := rest[start+2 : start+end]
		rest = rest[start+end+1:]

		key, def, hasDefault := strings.Cut(expr, ":")
		key = strings.TrimSpace(key)

		if resolving[key] {
			return "", pkgerrors.Newf(pkgerrors.KindConfiguration,
				"circular placeholder substitution involving %q", key).
				WithDetail("key", key)
		}

		raw, ok := s.values[key]
		var value string
		switch {
		case ok:
			value = toString(raw.value)
		case hasDefault:
			value = def
		default:
			return "", pkgerrors.Newf(pkgerrors.KindConfiguration,
				"placeholder ${%s} has no value and no default", key).
				WithDetail("key", key)
		}

		if strings.Contains(value, "${") {
			resolving[key] = true
			resolved, err := s.substitute(value, depth+1, resolving)
			delete(resolving, key)
			if err != nil {
				return "", err
			}
			value = resolved
		}
		out.WriteString(value)
	}

	return out.String(), nil
}

// matchingBrace returns the index of the brace closing the "${" that s
// starts with, or -1. Nested placeholders inside a default are honored.
func matchingBrace(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch {
		case strings.HasPrefix(s[i:], "${"):
			depth++
			i++
		case s[i] == '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
