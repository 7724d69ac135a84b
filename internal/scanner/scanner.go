// Package scanner implements the deterministic security gate that stands
// between generated HTML and the smoke harness. It never calls a model: the
// same input always produces the same verdict.
package scanner

import (
	"fmt"
	"regexp"
	"strings"
)

// Violation is one banned construct found in a document: its canonical name
// from the banned-pattern vocabulary, the fix hint pointing at the
// sanctioned alternative, how many times it occurred, and a short snippet
// for logs.
type Violation struct {
	Name    string `json:"name"`
	FixHint string `json:"fix_hint,omitempty"`
	Count   int    `json:"count"`
	Snippet string `json:"snippet,omitempty"`
}

// Result is the outcome of scanning one HTML document.
type Result struct {
	Passed             bool        `json:"passed"`
	SecurityViolations []Violation `json:"security_violations,omitempty"`
	StructureErrors    []string    `json:"structure_errors,omitempty"`
	Summary            string      `json:"summary"`
}

// ViolationNames returns the canonical names of r's violations, in the
// order they were found. FailureMemory keeps these, not the full Violation
// tuples, since the fix hint can always be looked back up from the name.
func (r Result) ViolationNames() []string {
	if len(r.SecurityViolations) == 0 {
		return nil
	}
	names := make([]string, len(r.SecurityViolations))
	for i, v := range r.SecurityViolations {
		names[i] = v.Name
	}
	return names
}

// fixHints is the canonical {name -> fix hint} lookup table both this
// package's violation reporting and the prompt builders' re-plan/patch
// text render from, so a banned pattern always comes with an actionable
// instruction instead of a bare prohibition.
var fixHints = map[string]string{
	"fetch()":        "Use window.geaRuntimeLLM() for AI calls",
	"axios":          "Use window.geaRuntimeLLM() for AI calls instead of an HTTP client library",
	"axios()":        "Use window.geaRuntimeLLM() for AI calls instead of an HTTP client library",
	"XMLHttpRequest": "Use window.geaRuntimeLLM() for AI calls",
	"$.ajax()":       "Use window.geaRuntimeLLM() for AI calls",
	"jQuery.ajax()":  "Use window.geaRuntimeLLM() for AI calls",
	"eval()":         "Avoid dynamic code execution; write the logic directly",
	"new Function()": "Avoid dynamic code execution; write the logic directly",
	"<iframe>":       "Render the content inline instead of embedding another page",
	"<embed>":        "Render the content inline instead of embedding external media",
	"<object>":       "Render the content inline instead of embedding an external object",
}

// FixHint returns the remediation text for a canonical banned-pattern name,
// or "" if name isn't part of the vocabulary.
func FixHint(name string) string {
	return fixHints[name]
}

var bannedTagPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"<iframe>", regexp.MustCompile(`(?is)<iframe[\s>]`)},
	{"<embed>", regexp.MustCompile(`(?is)<embed[\s>]`)},
	{"<object>", regexp.MustCompile(`(?is)<object[\s>]`)},
}

// bannedCalls are JS call patterns that reach outside the sandboxed page.
var bannedCalls = []struct {
	name string
	re   *regexp.Regexp
}{
	{"fetch()", regexp.MustCompile(`\bfetch\s*\(`)},
	{"axios()", regexp.MustCompile(`\baxios\s*\(`)},
	{"axios", regexp.MustCompile(`\baxios\s*\.`)},
	{"XMLHttpRequest", regexp.MustCompile(`\bXMLHttpRequest\b`)},
	{"$.ajax()", regexp.MustCompile(`\$\s*\.\s*ajax\s*\(`)},
	{"jQuery.ajax()", regexp.MustCompile(`\bjQuery\s*\.\s*ajax\s*\(`)},
	{"eval()", regexp.MustCompile(`\beval\s*\(`)},
	{"new Function()", regexp.MustCompile(`\bnew\s+Function\s*\(`)},
}

// lenientCalls names get the empty-argument leniency check: an LLM habit
// of stubbing a call with an empty string literal, e.g. fetch(""), which
// never reaches the network and isn't treated as a violation.
var lenientCalls = map[string]bool{"fetch()": true, "axios()": true, "axios": true}

var emptyLiteralRe = regexp.MustCompile(`""|''|` + "``")

var scriptBodyRe = regexp.MustCompile(`(?is)<script\b[^>]*>([\s\S]*?)</script>`)
var eventHandlerRe = regexp.MustCompile(`(?is)\bon[a-z]+\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s>]+))`)

// bridgeScriptIDRe recognizes the host-injected runtime bridge script by its
// stable marker id, so the scanner never treats the orchestrator's own
// trusted fetch() calls to /api/runtime/* as a model-introduced violation.
var bridgeScriptIDRe = regexp.MustCompile(`(?is)<script\b[^>]*\bid=["']gea-runtime-bridge["'][^>]*>[\s\S]*?</script>`)

// extractExecutableText concatenates every <script> body and every inline
// event-handler attribute value in html, excluding the injected runtime
// bridge script, since those are the only places generated JavaScript can
// actually run. A scan restricted to this text can't be tripped up by a
// banned-looking word sitting in plain page copy.
func extractExecutableText(html string) string {
	withoutBridge := bridgeScriptIDRe.ReplaceAllString(html, "")

	var b strings.Builder
	for _, m := range scriptBodyRe.FindAllStringSubmatch(withoutBridge, -1) {
		b.WriteString(m[1])
		b.WriteString("\n")
	}
	for _, m := range eventHandlerRe.FindAllStringSubmatch(withoutBridge, -1) {
		b.WriteString(firstNonEmpty(m[1], m[2], m[3]))
		b.WriteString("\n")
	}
	return b.String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Scan extracts the executable text of html (script bodies and inline
// event-handler attributes, minus the trusted runtime bridge), strips its
// comments and string literals, and runs the banned-call checks against
// it: a banned call must appear in code that would actually run, not in a
// comment, a doc string, or plain visible page text. The banned-tag checks
// run against the whole raw document instead.
func Scan(html string) Result {
	executable := extractExecutableText(html)
	commentsStripped := stripComments(executable)
	fullyStripped := stripStrings(commentsStripped)

	var violations []Violation
	for _, bt := range bannedTagPatterns {
		locs := bt.re.FindAllStringIndex(html, -1)
		if len(locs) == 0 {
			continue
		}
		violations = append(violations, Violation{
			Name:    bt.name,
			FixHint: FixHint(bt.name),
			Count:   len(locs),
			Snippet: snippet(html, locs[0]),
		})
	}

	for _, bc := range bannedCalls {
		locs := bc.re.FindAllStringIndex(fullyStripped, -1)
		if len(locs) == 0 {
			continue
		}
		if lenientCalls[bc.name] {
			rawLocs := bc.re.FindAllStringIndex(commentsStripped, -1)
			if len(rawLocs) > 0 && allEmptyStubs(commentsStripped, rawLocs) {
				continue
			}
		}
		violations = append(violations, Violation{
			Name:    bc.name,
			FixHint: FixHint(bc.name),
			Count:   len(locs),
			Snippet: snippet(fullyStripped, locs[0]),
		})
	}

	structureErrors := checkStructure(html)
	passed := len(violations) == 0 && len(structureErrors) == 0

	return Result{
		Passed:             passed,
		SecurityViolations: violations,
		StructureErrors:    structureErrors,
		Summary:            summarize(passed, violations, structureErrors),
	}
}

// allEmptyStubs reports whether every call occurrence in text is followed,
// within about 20 characters, by an empty string literal - the footprint a
// stripped-out empty URL argument leaves behind.
func allEmptyStubs(text string, locs [][]int) bool {
	for _, loc := range locs {
		end := loc[1] + 20
		if end > len(text) {
			end = len(text)
		}
		if !emptyLiteralRe.MatchString(text[loc[1]:end]) {
			return false
		}
	}
	return true
}

func checkStructure(html string) []string {
	var errs []string
	lower := strings.ToLower(html)
	if !strings.Contains(lower, "<!doctype") && !strings.Contains(lower, "<html") {
		errs = append(errs, "document is missing a <!DOCTYPE or <html> declaration")
	}
	if !strings.Contains(lower, "</html>") {
		errs = append(errs, "document is missing a closing </html> tag")
	}
	return errs
}

func summarize(passed bool, violations []Violation, structureErrors []string) string {
	if passed {
		return "clean"
	}
	return fmt.Sprintf("%d security violation(s), %d structure error(s)", len(violations), len(structureErrors))
}

func snippet(text string, loc []int) string {
	start := loc[0] - 15
	if start < 0 {
		start = 0
	}
	end := loc[1] + 15
	if end > len(text) {
		end = len(text)
	}
	s := strings.TrimSpace(text[start:end])
	return strings.Join(strings.Fields(s), " ")
}

// stripComments removes HTML comments and JS block/line comments from s,
// leaving string literals intact.
func stripComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	runes := []rune(s)
	n := len(runes)
	i := 0
	for i < n {
		if i+3 < n && runes[i] == '<' && runes[i+1] == '!' && runes[i+2] == '-' && runes[i+3] == '-' {
			end := indexFrom(runes, "-->", i+4)
			if end < 0 {
				break
			}
			i = end + 3
			continue
		}
		if i+1 < n && runes[i] == '/' && runes[i+1] == '/' {
			end := indexFrom(runes, "\n", i+2)
			if end < 0 {
				i = n
				break
			}
			i = end
			continue
		}
		if i+1 < n && runes[i] == '/' && runes[i+1] == '*' {
			end := indexFrom(runes, "*/", i+2)
			if end < 0 {
				i = n
				break
			}
			i = end + 2
			continue
		}
		if runes[i] == '"' || runes[i] == '\'' || runes[i] == '`' {
			quote := runes[i]
			j := i + 1
			b.WriteRune(runes[i])
			for j < n {
				b.WriteRune(runes[j])
				if runes[j] == '\\' && j+1 < n {
					j++
					b.WriteRune(runes[j])
					j++
					continue
				}
				if runes[j] == quote {
					j++
					break
				}
				j++
			}
			i = j
			continue
		}
		b.WriteRune(runes[i])
		i++
	}
	return b.String()
}

// stripStrings removes quoted string literals (single, double, backtick,
// backslash-escape aware) from s, so a banned call token that only appears
// as text inside a string doesn't trip the scan.
func stripStrings(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	runes := []rune(s)
	n := len(runes)
	i := 0
	for i < n {
		if runes[i] == '"' || runes[i] == '\'' || runes[i] == '`' {
			quote := runes[i]
			j := i + 1
			for j < n {
				if runes[j] == '\\' {
					j += 2
					continue
				}
				if runes[j] == quote {
					j++
					break
				}
				j++
			}
			i = j
			continue
		}
		b.WriteRune(runes[i])
		i++
	}
	return b.String()
}

func indexFrom(runes []rune, sub string, from int) int {
	subRunes := []rune(sub)
	n, m := len(runes), len(subRunes)
	for i := from; i+m <= n; i++ {
		match := true
		for j := 0; j < m; j++ {
			if runes[i+j] != subRunes[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
