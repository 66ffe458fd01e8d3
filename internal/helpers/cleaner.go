package helpers

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// ExtractJSON finds and returns the first JSON object or array in s.
// Model responses frequently wrap JSON in Markdown code fences or prose;
// this unwraps a leading fence if present, then scans for a balanced
// {...} or [...] while ignoring braces/brackets inside strings.
func ExtractJSON(s string) (string, error) {
	s = trimBOM(strings.TrimSpace(s))

	if inner, ok := stripLeadingFence(s); ok {
		s = strings.TrimSpace(inner)
	}

	if len(s) > 0 && (s[0] == '{' || s[0] == '[') {
		if out, ok := balancedJSONAt(s, 0); ok {
			return out, nil
		}
	}

	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			if out, ok := balancedJSONAt(s, i); ok {
				return out, nil
			}
		}
	}

	return "", errors.New("no balanced JSON object/array found")
}

// UnwrapMarkdown returns the body of a model response that may or may not be
// wrapped in a fenced code block. If the response opens with ``` or ~~~ the
// fenced content is returned; otherwise the trimmed response itself is.
// An empty result is an error either way.
func UnwrapMarkdown(s string) (string, error) {
	s = trimBOM(strings.TrimSpace(s))
	if inner, ok := stripLeadingFence(s); ok {
		s = strings.TrimSpace(inner)
	}
	if s == "" {
		return "", errors.New("empty markdown body")
	}
	return s, nil
}

// stripLeadingFence removes the first fenced code block if s starts with
// ``` or ~~~, tolerating an optional language tag (e.g. ```json).
func stripLeadingFence(s string) (inner string, ok bool) {
	trim := strings.TrimLeft(s, "\n\r\t ")
	fence := ""
	switch {
	case strings.HasPrefix(trim, "```"):
		fence = "```"
	case strings.HasPrefix(trim, "~~~"):
		fence = "~~~"
	default:
		return "", false
	}
	rest := trim[len(fence):]
	idx := strings.IndexByte(rest, '\n')
	if idx == -1 {
		return "", false
	}
	rest = rest[idx+1:]
	if end := strings.Index(rest, fence); end != -1 {
		return rest[:end], true
	}
	return "", false
}

// balancedJSONAt attempts to extract a balanced JSON value starting at start.
// Strings and escape sequences are honored so braces inside values do not
// confuse the scan.
func balancedJSONAt(s string, start int) (string, bool) {
	if start < 0 || start >= len(s) {
		return "", false
	}
	opener := s[start]
	if opener != '{' && opener != '[' {
		return "", false
	}

	var (
		stack    []byte
		inString bool
		escape   bool
	)
	stack = append(stack, opener)

	for i := start + 1; i < len(s); i++ {
		c := s[i]

		if inString {
			if escape {
				escape = false
				continue
			}
			switch c {
			case '\\':
				escape = true
			case '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				return "", false
			}
			top := stack[len(stack)-1]
			if (top == '{' && c != '}') || (top == '[' && c != ']') {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[start : i+1], true
			}
		}
	}

	return "", false
}

// trimBOM removes an optional UTF-8 BOM.
func trimBOM(s string) string {
	if strings.HasPrefix(s, "﻿") {
		return strings.TrimPrefix(s, "﻿")
	}
	if len(s) >= 3 && s[0] == 0xEF && s[1] == 0xBB && s[2] == 0xBF && utf8.ValidString(s[3:]) {
		return s[3:]
	}
	return s
}
