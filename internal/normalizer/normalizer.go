// Package normalizer recovers structured data and HTML documents out of raw
// model output. Models wrap their answers in prose, markdown fences, or
// truncate mid-object; normalizer tries a fixed chain of extraction
// strategies before giving up.
package normalizer

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoHTMLFound is returned when none of the HTML extraction strategies matched.
var ErrNoHTMLFound = errors.New("normalizer: no html document found in response")

// ErrNoJSONFound is returned when none of the JSON extraction strategies produced valid JSON.
var ErrNoJSONFound = errors.New("normalizer: no parseable json object found in response")

var (
	htmlFenceRe = regexp.MustCompile("(?is)```(?:html)?\\s*(<!DOCTYPE[\\s\\S]*?|<html[\\s\\S]*?)```")
	jsonFenceRe = regexp.MustCompile("(?is)```(?:json)?\\s*(\\{[\\s\\S]*?\\})\\s*```")
	doctypeRe   = regexp.MustCompile(`(?is)<!DOCTYPE\s+html[\s\S]*`)
	htmlTagRe   = regexp.MustCompile(`(?is)<html[\s\S]*`)
	closeHTMLRe = regexp.MustCompile(`(?is)([\s\S]*</html\s*>)`)
)

// ExtractHTML tries, in order: the raw response as-is (if it already looks
// like a full document), a fenced ```html block, a substring starting at
// <!DOCTYPE or <html and trimmed at the last </html>, and finally the raw
// trimmed response as a last-resort fallback so a bare document without a
// DOCTYPE or html tag is still recoverable.
func ExtractHTML(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if looksLikeHTMLDocument(trimmed) {
		return trimmed, nil
	}

	if m := htmlFenceRe.FindStringSubmatch(raw); len(m) == 2 {
		return strings.TrimSpace(m[1]), nil
	}

	if loc := doctypeRe.FindString(raw); loc != "" {
		return trimToClosingHTML(loc), nil
	}
	if loc := htmlTagRe.FindString(raw); loc != "" {
		return trimToClosingHTML(loc), nil
	}

	if trimmed != "" {
		return trimmed, nil
	}

	return "", ErrNoHTMLFound
}

func looksLikeHTMLDocument(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "<!doctype") || strings.HasPrefix(lower, "<html")
}

func trimToClosingHTML(s string) string {
	if m := closeHTMLRe.FindStringSubmatch(s); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(s)
}

// ExtractJSON tries, in order: parsing raw as JSON directly, extracting a
// fenced ```json block, and taking the substring between the first '{' and
// the last '}'. Each candidate is retried through Repair before being given
// up on, so trailing commas, unquoted keys, single-quoted strings, and
// truncated objects across any of the three stages still have a chance to
// parse.
func ExtractJSON(raw string, out interface{}) error {
	candidates := jsonCandidates(raw)
	var lastErr error
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if err := json.Unmarshal([]byte(c), out); err == nil {
			return nil
		}
		repaired := Repair(c)
		if err := json.Unmarshal([]byte(repaired), out); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	if lastErr != nil {
		return errors.Join(ErrNoJSONFound, lastErr)
	}
	return ErrNoJSONFound
}

func jsonCandidates(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	candidates := []string{trimmed}

	if m := jsonFenceRe.FindStringSubmatch(raw); len(m) == 2 {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}

	if start := strings.IndexByte(raw, '{'); start >= 0 {
		if end := strings.LastIndexByte(raw, '}'); end > start {
			candidates = append(candidates, raw[start:end+1])
		}
	}

	return candidates
}

// Repair applies a small set of permissive, best-effort textual fixes to
// near-miss JSON: it strips trailing commas before a closing bracket,
// quotes bare identifier keys, converts single-quoted strings to
// double-quoted ones, and closes an unbalanced tail of braces/brackets left
// by a truncated response. It does not attempt to fix every malformed
// document, only the shapes models are observed to produce.
func Repair(s string) string {
	out := s

	out = trailingCommaRe.ReplaceAllString(out, "$1")
	out = bareKeyRe.ReplaceAllString(out, `$1"$2"$3`)
	out = singleQuotedStringRe.ReplaceAllStringFunc(out, func(m string) string {
		inner := m[1 : len(m)-1]
		inner = strings.ReplaceAll(inner, `"`, `\"`)
		return `"` + inner + `"`
	})

	out = closeUnbalanced(out)
	return out
}

var (
	trailingCommaRe     = regexp.MustCompile(`,(\s*[}\]])`)
	bareKeyRe           = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*:)`)
	singleQuotedStringRe = regexp.MustCompile(`'(?:[^'\\]|\\.)*'`)
)

// closeUnbalanced appends closing brackets/braces for any that were opened
// but never closed, handling a response truncated mid-object. It ignores
// bracket characters that appear inside string literals.
func closeUnbalanced(s string) string {
	var stack []byte
	inString := false
	var quote byte
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == quote {
				inString = false
			}
			continue
		}
		switch c {
		case '"', '\'':
			inString = true
			quote = c
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if len(stack) == 0 {
		return s
	}

	var closer strings.Builder
	closer.WriteString(s)
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			closer.WriteByte('}')
		} else {
			closer.WriteByte(']')
		}
	}
	return closer.String()
}
