// Package harness runs a generated HTML document in a real, headless
// Chrome tab and reports whether it behaves: no critical console errors,
// the runtime bridge is live, and the UI components the Plan called for are
// present and clickable.
package harness

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// Severity classifies a StructuredError. Critical findings fail the smoke
// test; medium findings are recorded but don't block on their own.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMedium   Severity = "medium"
)

// StructuredError is one machine-readable finding surfaced during a run, in
// addition to the plain-text ConsoleErrors/FailureReason fields kept for
// logs and the patch prompt's free-text section.
type StructuredError struct {
	Type         string   `json:"type"`
	Message      string   `json:"message"`
	Severity     Severity `json:"severity"`
	SuggestedFix string   `json:"suggested_fix,omitempty"`
}

// Result is the outcome of one smoke pass over a rendered document.
type Result struct {
	Passed           bool              `json:"passed"`
	Skipped          bool              `json:"skipped,omitempty"`
	ConsoleErrors    []string          `json:"console_errors,omitempty"`
	Interacted       []string          `json:"interacted,omitempty"`
	StructuredErrors []StructuredError `json:"structured_errors,omitempty"`
	FailureReason    string            `json:"failure_reason,omitempty"`
}

// criticality values, per the selector/criticality mapping.
const (
	critical    = "critical"
	nonCritical = "non-critical"
)

// selectorRule maps a UI component keyword onto the CSS selector strategy
// used to find it and whether its absence is fatal or merely advisory.
type selectorRule struct {
	keyword     string
	selector    string
	criticality string
}

var selectorRules = []selectorRule{
	{"button", "button, [role=button], input[type=submit], input[type=button]", critical},
	{"submit", "button, [role=button], input[type=submit], input[type=button]", critical},
	{"table", "table, [role=grid]", critical},
	{"grid", "table, [role=grid]", critical},
	{"form", "form", critical},
	{"input", "input:not([type=hidden])", critical},
	{"chart", "canvas, svg", critical},
	{"graph", "canvas, svg", critical},
	{"visual", "canvas, svg", critical},
	{"search", "input[type=search], [role=search]", critical},
	{"dropdown", "select", critical},
	{"select", "select", critical},
	{"modal", "[role=dialog], .modal", nonCritical},
	{"dialog", "[role=dialog], .modal", nonCritical},
	{"popup", "[role=dialog], .modal", nonCritical},
	{"tab", "[role=tab], .tab", nonCritical},
	{"card", ".card, [class*=card]", nonCritical},
	{"list", "ul, ol", nonCritical},
	{"nav", "nav, [role=navigation]", nonCritical},
}

// maxMissingSelectors is the total (critical + non-critical) count of
// missing selectors a document is allowed before it fails regardless of
// criticality, so a plan with dozens of loosely-worded components doesn't
// pass purely because none of the individual misses were critical.
const maxMissingSelectors = 3

// PlanContext carries the plan fields that influence selector derivation
// beyond ui_components: a title implies a critical header selector, more
// than one page implies a critical nav selector, and any data binding
// implies a non-critical container selector.
type PlanContext struct {
	Title           string
	PageCount       int
	HasDataBindings bool
}

// deriveSelectors maps a Plan's ui_components list, plus the implied rules
// from PlanContext, onto concrete CSS selectors to probe for. Duplicate
// selectors (e.g. two keywords mapping to the same rule) are collapsed to
// one entry.
func deriveSelectors(components []string, plan PlanContext) []selectorRule {
	var rules []selectorRule
	seen := make(map[string]bool)
	add := func(r selectorRule) {
		if seen[r.selector] {
			return
		}
		seen[r.selector] = true
		rules = append(rules, r)
	}

	for _, c := range components {
		lower := strings.ToLower(c)
		for _, rule := range selectorRules {
			if strings.Contains(lower, rule.keyword) {
				add(rule)
				break
			}
		}
	}

	if plan.Title != "" {
		add(selectorRule{"title", "h1, header, [role=heading]", critical})
	}
	if plan.PageCount > 1 {
		add(selectorRule{"pages", "nav, [role=navigation]", critical})
	}
	if plan.HasDataBindings {
		add(selectorRule{"data_bindings", "main, [role=main], .container, #app", nonCritical})
	}

	return rules
}

const maxButtonsClicked = 5
const maxInputsFilled = 3

// harmlessConsolePattern flags a subset of benign browser console noise
// (favicon 404s, source maps, socket.io reconnects, ResizeObserver's
// notoriously spurious loop warning, and non-Error promise rejections) that
// would otherwise fail every run.
var harmlessConsolePattern = regexp.MustCompile(`(?i)favicon\.ico|\.map$|socket\.io|resizeobserver loop|non-error promise rejection`)

// criticalConsolePattern flags the console messages severe enough to fail
// a smoke test outright: undefined references, null dereferences, and the
// common JS runtime exception types.
var criticalConsolePattern = regexp.MustCompile(`(?i)undefined is not a function|is not defined|cannot read propert|null|SyntaxError|TypeError|ReferenceError`)

// browserUnavailablePattern recognizes the class of chromedp/exec errors
// that mean no headless browser could be started at all, as opposed to the
// document itself failing to load - the case §4.6 requires reporting as a
// skip rather than a failure.
var browserUnavailablePattern = regexp.MustCompile(`(?i)executable file not found|no such file or directory|failed to start|could not find|chrome not found|context deadline exceeded`)

func isBrowserUnavailable(err error) bool {
	return err != nil && browserUnavailablePattern.MatchString(err.Error())
}

// classifyConsoleError buckets a captured console message into a severity
// and, for critical messages, a short suggested fix.
func classifyConsoleError(msg string) (Severity, string) {
	if !criticalConsolePattern.MatchString(msg) {
		return SeverityMedium, ""
	}
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "is not defined"):
		return SeverityCritical, "define the missing identifier before it is used"
	case strings.Contains(lower, "cannot read propert"), strings.Contains(lower, "null"):
		return SeverityCritical, "guard the value or selector lookup before accessing its properties"
	case strings.Contains(lower, "is not a function"):
		return SeverityCritical, "check that the function exists and is spelled correctly before calling it"
	default:
		return SeverityCritical, "inspect the stack trace for the failing statement"
	}
}

// Run loads html into a fresh headless tab, waits for it to settle,
// verifies the runtime bridge, and probes each derived selector. For each
// selector that matches, only its first matching element is exercised: a
// <select> gets its second option chosen, a button is clicked, an input
// receives a probe value; other buttons, inputs and selects on the page
// are not exercised. maxButtonsClicked and maxInputsFilled cap those
// clicks and fills across all selectors. Run reports console errors plus
// which components from the Plan were found. If the underlying
// browser automation is unavailable in this environment, Run reports a
// skip rather than a failure so the orchestrator isn't blocked in a
// browser-less dev environment. The tab is allocated from a fresh browser
// context per call and released unconditionally, including on a panic
// recovered inside Run, so a crash in chromedp never leaks a browser
// process.
func Run(parent context.Context, html string, uiComponents []string, plan PlanContext) (result Result, err error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, 30*time.Second)
	defer cancelTimeout()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("harness: recovered panic: %v", r)
		}
	}()

	var consoleErrors []string
	var structuredErrors []StructuredError
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if msg, ok := exceptionThrownText(ev); ok {
			if harmlessConsolePattern.MatchString(msg) {
				return
			}
			consoleErrors = append(consoleErrors, msg)
			structuredErrors = append(structuredErrors, StructuredError{
				Type:         "UNCAUGHT_EXCEPTION",
				Message:      msg,
				Severity:     SeverityCritical,
				SuggestedFix: "inspect the stack trace for the failing statement",
			})
			return
		}

		msg, ok := consoleErrorText(ev)
		if !ok || harmlessConsolePattern.MatchString(msg) {
			return
		}
		consoleErrors = append(consoleErrors, msg)
		severity, fix := classifyConsoleError(msg)
		structuredErrors = append(structuredErrors, StructuredError{
			Type: "CONSOLE_ERROR", Message: msg, Severity: severity, SuggestedFix: fix,
		})
	})

	dataURL := "data:text/html;charset=utf-8," + urlEscape(html)

	if navErr := chromedp.Run(tabCtx, chromedp.Navigate(dataURL), chromedp.Sleep(1500*time.Millisecond)); navErr != nil {
		if isBrowserUnavailable(navErr) {
			return Result{Passed: true, Skipped: true, FailureReason: fmt.Sprintf("browser automation unavailable: %v", navErr)}, nil
		}
		return Result{Passed: false, FailureReason: fmt.Sprintf("navigation failed: %v", navErr)}, nil
	}

	var bridgeOK bool
	chromedp.Run(tabCtx, chromedp.EvaluateAsDevTools(
		`typeof window.geaRuntimeLLM === 'function' && typeof window.geaRuntimeStore === 'object' && `+
			`typeof window.geaRuntimeStore.get === 'function' && typeof window.geaRuntimeStore.set === 'function'`,
		&bridgeOK,
	))
	if !bridgeOK {
		structuredErrors = append(structuredErrors, StructuredError{
			Type:         "MISSING_BRIDGE",
			Message:      "window.geaRuntimeLLM/geaRuntimeStore are not visible on the global scope",
			Severity:     SeverityCritical,
			SuggestedFix: "do not overwrite or delete window.geaRuntimeLLM or window.geaRuntimeStore",
		})
	}

	rules := deriveSelectors(uiComponents, plan)
	var interacted []string
	var missingCritical []string
	var missingCount int

	buttonsClicked, inputsFilled := 0, 0
	for _, rule := range rules {
		var count int
		if evalErr := chromedp.Run(tabCtx, chromedp.EvaluateAsDevTools(
			fmt.Sprintf("document.querySelectorAll(%q).length", rule.selector), &count,
		)); evalErr != nil || count == 0 {
			missingCount++
			if rule.criticality == critical {
				missingCritical = append(missingCritical, rule.keyword)
				structuredErrors = append(structuredErrors, StructuredError{
					Type:         "MISSING_ELEMENT",
					Message:      fmt.Sprintf("required critical component not found: %s (selector %s)", rule.keyword, rule.selector),
					Severity:     SeverityCritical,
					SuggestedFix: fmt.Sprintf("render an element matching %s for the %s component", rule.selector, rule.keyword),
				})
			}
			continue
		}

		switch {
		case strings.Contains(rule.selector, "select"):
			if interactWithSelect(tabCtx, rule.selector) {
				interacted = append(interacted, rule.keyword)
			}
		case strings.Contains(rule.selector, "button") && buttonsClicked < maxButtonsClicked:
			if clickErr := chromedp.Run(tabCtx, chromedp.Click(rule.selector, chromedp.ByQuery)); clickErr == nil {
				interacted = append(interacted, rule.keyword)
				buttonsClicked++
			}
		case strings.Contains(rule.selector, "input") && inputsFilled < maxInputsFilled:
			if fillErr := chromedp.Run(tabCtx, chromedp.SendKeys(rule.selector, "smoke-test", chromedp.ByQuery)); fillErr == nil {
				interacted = append(interacted, rule.keyword)
				inputsFilled++
			}
		default:
			interacted = append(interacted, rule.keyword)
		}
	}

	// A settle wait after interaction catches errors triggered by the
	// clicks and keystrokes above rather than by the initial page load.
	chromedp.Run(tabCtx, chromedp.Sleep(500*time.Millisecond))

	hasCriticalConsoleError := false
	for _, se := range structuredErrors {
		if (se.Type == "CONSOLE_ERROR" || se.Type == "UNCAUGHT_EXCEPTION") && se.Severity == SeverityCritical {
			hasCriticalConsoleError = true
			break
		}
	}

	switch {
	case len(missingCritical) > 0:
		return Result{
			Passed:           false,
			ConsoleErrors:    consoleErrors,
			Interacted:       interacted,
			StructuredErrors: structuredErrors,
			FailureReason:    fmt.Sprintf("required components not found: %s", strings.Join(missingCritical, ", ")),
		}, nil
	case !bridgeOK:
		return Result{
			Passed:           false,
			ConsoleErrors:    consoleErrors,
			Interacted:       interacted,
			StructuredErrors: structuredErrors,
			FailureReason:    "runtime bridge not visible on window",
		}, nil
	case missingCount > maxMissingSelectors:
		return Result{
			Passed:           false,
			ConsoleErrors:    consoleErrors,
			Interacted:       interacted,
			StructuredErrors: structuredErrors,
			FailureReason:    fmt.Sprintf("%d expected components not found", missingCount),
		}, nil
	case hasCriticalConsoleError:
		return Result{
			Passed:           false,
			ConsoleErrors:    consoleErrors,
			Interacted:       interacted,
			StructuredErrors: structuredErrors,
			FailureReason:    "critical console errors during interaction",
		}, nil
	}

	return Result{Passed: true, ConsoleErrors: consoleErrors, Interacted: interacted, StructuredErrors: structuredErrors}, nil
}

// interactWithSelect exercises a <select> element by choosing its second
// option, if one exists, so state-change handlers wired to it fire.
func interactWithSelect(ctx context.Context, selector string) bool {
	var optionCount int
	if err := chromedp.Run(ctx, chromedp.EvaluateAsDevTools(
		fmt.Sprintf("(document.querySelector(%q) || {options: []}).options.length", selector), &optionCount,
	)); err != nil || optionCount < 2 {
		return false
	}
	var secondValue string
	if err := chromedp.Run(ctx, chromedp.EvaluateAsDevTools(
		fmt.Sprintf("document.querySelector(%q).options[1].value", selector), &secondValue,
	)); err != nil {
		return false
	}
	return chromedp.Run(ctx, chromedp.SetValue(selector, secondValue, chromedp.ByQuery)) == nil
}

func urlEscape(html string) string {
	replacer := strings.NewReplacer(
		"%", "%25",
		"#", "%23",
		"\"", "%22",
	)
	return replacer.Replace(html)
}

// consoleErrorText extracts the message text from a console.error call, if
// ev is a runtime.EventConsoleAPICalled event of that type.
func consoleErrorText(ev interface{}) (string, bool) {
	e, ok := ev.(*runtime.EventConsoleAPICalled)
	if !ok || e.Type != runtime.APITypeError {
		return "", false
	}
	var parts []string
	for _, arg := range e.Args {
		if arg.Value != nil {
			parts = append(parts, string(arg.Value))
		} else if arg.Description != "" {
			parts = append(parts, arg.Description)
		}
	}
	if len(parts) == 0 {
		return "console.error", true
	}
	return strings.Join(parts, " "), true
}

// exceptionThrownText extracts a message from an uncaught JS exception, if
// ev is a runtime.EventExceptionThrown. This is CDP's separate stream from
// console.error calls: it fires for exceptions that unwind past any
// try/catch, which a page can otherwise suppress from the console entirely.
func exceptionThrownText(ev interface{}) (string, bool) {
	e, ok := ev.(*runtime.EventExceptionThrown)
	if !ok {
		return "", false
	}
	details := e.ExceptionDetails
	if details == nil {
		return "uncaught exception", true
	}
	if details.Exception != nil {
		if details.Exception.Description != "" {
			return details.Exception.Description, true
		}
		if len(details.Exception.Value) > 0 {
			return string(details.Exception.Value), true
		}
	}
	if details.Text != "" {
		return details.Text, true
	}
	return "uncaught exception", true
}
