// Package prompts builds the text sent to each model role. Every builder
// here is a pure function of its inputs: no I/O, no state, so the exact
// prompt sent on any iteration can be reconstructed and written to the
// artifact store alongside the response it produced.
package prompts

import (
	"fmt"
	"strings"

	"github.com/bizmatters/dsstar-orchestrator/internal/harness"
	"github.com/bizmatters/dsstar-orchestrator/internal/scanner"
)

// FailureMemorySnapshot is the read-only view of accumulated failure
// memory a prompt builder renders into its output.
type FailureMemorySnapshot struct {
	SecurityErrors     []string
	PlanCritiqueIssues []string
	CodeCritiqueIssues []string
}

// capabilitiesBlock is the acceptable-capability enumeration every builder
// that produces or edits app code includes: the app may only reach outside
// the page through these two sanctioned entry points.
const capabilitiesBlock = "The only sanctioned ways to reach outside the page are window.geaRuntimeLLM() " +
	"for AI calls and window.geaRuntimeStore.get()/set() for persistence. Never plan or write a real " +
	"network call, fetch(), XMLHttpRequest, or any other banned primitive.\n"

func renderList(title string, items []string) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(&b, "- %s\n", item)
	}
	return b.String()
}

// lastN returns the trailing n items of items, or all of them if there
// are fewer than n. Failure memory lists only ever grow, so capping what
// reaches the prompt keeps it from being dominated by early, possibly
// stale, issues as a run runs long.
func lastN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

// renderAttemptHistory renders a chronological, one-line-per-iteration
// summary of what happened on prior attempts, oldest first, so the model
// patching the document can see the trajectory rather than just the most
// recent failure.
func renderAttemptHistory(attempts []string) string {
	if len(attempts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nAttempt history so far:\n")
	for _, a := range attempts {
		fmt.Fprintf(&b, "- %s\n", a)
	}
	return b.String()
}

// renderSecurityErrors renders each accumulated security violation name as
// a "IS BANNED -> fix hint" line via the canonical scanner lookup table, so
// the model sees an actionable instruction rather than a bare prohibition.
func renderSecurityErrors(names []string) string {
	if len(names) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nBanned patterns triggered in previous attempts (do not repeat):\n")
	for _, name := range names {
		if hint := scanner.FixHint(name); hint != "" {
			fmt.Fprintf(&b, "\u274c %s IS BANNED \u2192 %s\n", name, hint)
		} else {
			fmt.Fprintf(&b, "\u274c %s IS BANNED\n", name)
		}
	}
	return b.String()
}

// Planner builds the prompt for the initial or refined Plan.
func Planner(userRequest string, mem FailureMemorySnapshot) string {
	var b strings.Builder
	b.WriteString("You are the planning stage of a code-generation pipeline. ")
	b.WriteString("Produce a JSON plan describing a single self-contained HTML application ")
	b.WriteString("that satisfies the request below.\n\n")
	fmt.Fprintf(&b, "Request:\n%s\n\n", userRequest)
	b.WriteString(capabilitiesBlock)
	b.WriteString(renderList("Known plan critique issues from previous attempts", mem.PlanCritiqueIssues))
	b.WriteString(renderSecurityErrors(mem.SecurityErrors))
	b.WriteString("\nReply with a single JSON object with fields: title, description, pages, ")
	b.WriteString("ui_components, interactions, acceptance_criteria, state, data_bindings, libraries. ")
	b.WriteString("No prose outside the JSON object.\n")
	return b.String()
}

// PlanCritic builds the prompt for the blocking plan review.
func PlanCritic(planJSON string, userRequest string) string {
	var b strings.Builder
	b.WriteString("You are reviewing a generated plan against the original request before any code is written.\n\n")
	fmt.Fprintf(&b, "Original request:\n%s\n\n", userRequest)
	fmt.Fprintf(&b, "Plan:\n%s\n\n", planJSON)
	b.WriteString("Reply with a single JSON object: {\"approved\": bool, \"issues\": [string, ...]}. ")
	b.WriteString("Approve only if the plan is complete, internally consistent, and answers the request. ")
	b.WriteString("No prose outside the JSON object.\n")
	return b.String()
}

// Coder builds the prompt asking for the HTML implementation of an approved
// plan. libraryCatalog is an opaque, caller-formatted block describing what
// third-party libraries (if any) the plan is allowed to load from a CDN;
// the builder only interpolates it verbatim.
func Coder(planJSON string, libraryCatalog string, mem FailureMemorySnapshot) string {
	var b strings.Builder
	b.WriteString("You are the code generation stage. Implement the plan below as a single, ")
	b.WriteString("self-contained HTML document (inline CSS and JavaScript, plus any CDN libraries ")
	b.WriteString("listed in the catalog below, and nothing else external).\n\n")
	fmt.Fprintf(&b, "Plan:\n%s\n", planJSON)
	fmt.Fprintf(&b, "\nLibrary catalog:\n%s\n", libraryCatalog)
	b.WriteString("\nHard constraints:\n")
	b.WriteString("- Do not use <iframe>, <embed>, or <object> tags.\n")
	b.WriteString("- Do not call fetch(), axios, XMLHttpRequest, $.ajax, jQuery.ajax, eval(), or new Function().\n")
	b.WriteString("- " + capabilitiesBlock)
	b.WriteString("\nRuntime bridge usage:\n")
	b.WriteString("  const answer = await window.geaRuntimeLLM(\"summarize: \" + text);\n")
	b.WriteString("  await window.geaRuntimeStore.set(\"items\", items);\n")
	b.WriteString("  const items = await window.geaRuntimeStore.get(\"items\");\n")
	b.WriteString(renderSecurityErrors(mem.SecurityErrors))
	b.WriteString(renderList("Code critique issues flagged in previous attempts", lastN(mem.CodeCritiqueIssues, 5)))
	b.WriteString("\nReply with the HTML document only, no explanation.\n")
	return b.String()
}

// CodeCritic builds the prompt for the advisory code review.
func CodeCritic(html string, planJSON string) string {
	var b strings.Builder
	b.WriteString("You are reviewing generated HTML/JS against its plan. This review is advisory: ")
	b.WriteString("your issues are recorded for the next iteration but do not block release on their own.\n\n")
	fmt.Fprintf(&b, "Plan:\n%s\n\n", planJSON)
	fmt.Fprintf(&b, "HTML:\n%s\n\n", html)
	b.WriteString("Reply with a single JSON object: {\"approved\": bool, \"issues\": [string, ...]}. ")
	b.WriteString("No prose outside the JSON object.\n")
	return b.String()
}

// renderStructuredErrors renders a smoke test's structured findings as
// "• [SEVERITY] TYPE: message" bullet lines, in the order the harness
// reported them.
func renderStructuredErrors(errs []harness.StructuredError) string {
	if len(errs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Smoke test findings:\n")
	for _, e := range errs {
		fmt.Fprintf(&b, "\u2022 [%s] %s: %s\n", strings.ToUpper(string(e.Severity)), e.Type, e.Message)
		if e.SuggestedFix != "" {
			fmt.Fprintf(&b, "  fix: %s\n", e.SuggestedFix)
		}
	}
	b.WriteString("\n")
	return b.String()
}

// Patch builds the prompt asking the coder to fix a specific class of
// failure (a failed smoke test) without regenerating the whole document
// from scratch conceptually, though the reply is still a full document.
// attempts is the chronological, oldest-first summary of what happened on
// prior iterations of this run.
func Patch(html string, smoke harness.Result, mem FailureMemorySnapshot, attempts []string) string {
	var b strings.Builder
	b.WriteString("The following HTML application failed a behavioral smoke test. ")
	b.WriteString("Fix the specific problems below and return the complete corrected document.\n\n")
	b.WriteString(renderAttemptHistory(attempts))
	b.WriteString(renderStructuredErrors(smoke.StructuredErrors))
	if smoke.FailureReason != "" {
		fmt.Fprintf(&b, "Failure summary:\n%s\n\n", smoke.FailureReason)
	}
	if len(smoke.ConsoleErrors) > 0 {
		fmt.Fprintf(&b, "Console errors captured during the last run:\n- %s\n\n", strings.Join(smoke.ConsoleErrors, "\n- "))
	}
	fmt.Fprintf(&b, "Current HTML:\n%s\n", html)
	b.WriteString("\n" + capabilitiesBlock)
	b.WriteString(renderSecurityErrors(mem.SecurityErrors))
	b.WriteString(renderList("Code critique issues flagged in previous attempts", lastN(mem.CodeCritiqueIssues, 5)))
	b.WriteString("\nReply with the complete corrected HTML document only, no explanation.\n")
	return b.String()
}
