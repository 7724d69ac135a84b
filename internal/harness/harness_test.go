package harness

import (
	"testing"

	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"
)

func TestDeriveSelectors_MapsKnownKeywords(t *testing.T) {
	rules := deriveSelectors([]string{"Submit Button", "Login Form", "Data Table"}, PlanContext{})
	assert.Len(t, rules, 3)
	assert.Equal(t, critical, rules[0].criticality)
	assert.Equal(t, critical, rules[1].criticality)
	assert.Equal(t, critical, rules[2].criticality)
}

func TestDeriveSelectors_NonCriticalKeyword(t *testing.T) {
	rules := deriveSelectors([]string{"Settings modal"}, PlanContext{})
	assert.Len(t, rules, 1)
	assert.Equal(t, nonCritical, rules[0].criticality)
}

func TestDeriveSelectors_SkipsUnknownKeywords(t *testing.T) {
	rules := deriveSelectors([]string{"quantum flux capacitor"}, PlanContext{})
	assert.Empty(t, rules)
}

func TestDeriveSelectors_FirstMatchWins(t *testing.T) {
	rules := deriveSelectors([]string{"input form field"}, PlanContext{})
	assert.Len(t, rules, 1)
	assert.Equal(t, "form", rules[0].keyword)
}

func TestDeriveSelectors_TitleImpliesCriticalHeaderSelector(t *testing.T) {
	rules := deriveSelectors(nil, PlanContext{Title: "Todo App"})
	assert.Len(t, rules, 1)
	assert.Equal(t, critical, rules[0].criticality)
}

func TestDeriveSelectors_MultiplePagesImpliesCriticalNavSelector(t *testing.T) {
	rules := deriveSelectors(nil, PlanContext{PageCount: 2})
	assert.Len(t, rules, 1)
	assert.Equal(t, critical, rules[0].criticality)
}

func TestDeriveSelectors_SinglePageDoesNotImplyNavSelector(t *testing.T) {
	rules := deriveSelectors(nil, PlanContext{PageCount: 1})
	assert.Empty(t, rules)
}

func TestDeriveSelectors_DataBindingsImpliesNonCriticalContainerSelector(t *testing.T) {
	rules := deriveSelectors(nil, PlanContext{HasDataBindings: true})
	assert.Len(t, rules, 1)
	assert.Equal(t, nonCritical, rules[0].criticality)
}

func TestDeriveSelectors_DeduplicatesBySelector(t *testing.T) {
	rules := deriveSelectors([]string{"dropdown", "select box"}, PlanContext{})
	assert.Len(t, rules, 1)
}

func TestUrlEscape_EscapesReservedCharacters(t *testing.T) {
	out := urlEscape(`<div id="x">100% done #done</div>`)
	assert.NotContains(t, out, `"`)
	assert.Contains(t, out, "%22")
	assert.Contains(t, out, "%25")
	assert.Contains(t, out, "%23")
}

func TestConsoleErrorText_IgnoresNonErrorLevels(t *testing.T) {
	ev := &runtime.EventConsoleAPICalled{Type: runtime.APITypeLog}
	_, ok := consoleErrorText(ev)
	assert.False(t, ok)
}

func TestConsoleErrorText_IgnoresNonConsoleEvents(t *testing.T) {
	_, ok := consoleErrorText("not a console event")
	assert.False(t, ok)
}

func TestConsoleErrorText_DefaultsWhenNoArgs(t *testing.T) {
	ev := &runtime.EventConsoleAPICalled{Type: runtime.APITypeError}
	text, ok := consoleErrorText(ev)
	assert.True(t, ok)
	assert.Equal(t, "console.error", text)
}

func TestExceptionThrownText_UsesExceptionDescription(t *testing.T) {
	ev := &runtime.EventExceptionThrown{
		ExceptionDetails: &runtime.ExceptionDetails{
			Exception: &runtime.RemoteObject{Description: "ReferenceError: foo is not defined"},
		},
	}
	text, ok := exceptionThrownText(ev)
	assert.True(t, ok)
	assert.Equal(t, "ReferenceError: foo is not defined", text)
}

func TestExceptionThrownText_FallsBackToDetailsText(t *testing.T) {
	ev := &runtime.EventExceptionThrown{
		ExceptionDetails: &runtime.ExceptionDetails{Text: "Uncaught"},
	}
	text, ok := exceptionThrownText(ev)
	assert.True(t, ok)
	assert.Equal(t, "Uncaught", text)
}

func TestExceptionThrownText_IgnoresNonExceptionEvents(t *testing.T) {
	_, ok := exceptionThrownText(&runtime.EventConsoleAPICalled{Type: runtime.APITypeError})
	assert.False(t, ok)
}

func TestClassifyConsoleError_TypeErrorIsCritical(t *testing.T) {
	severity, fix := classifyConsoleError("TypeError: x is not a function")
	assert.Equal(t, SeverityCritical, severity)
	assert.NotEmpty(t, fix)
}

func TestClassifyConsoleError_UnrecognizedMessageIsMedium(t *testing.T) {
	severity, _ := classifyConsoleError("just a warning about something")
	assert.Equal(t, SeverityMedium, severity)
}

func TestIsBrowserUnavailable_DetectsMissingExecutable(t *testing.T) {
	assert.True(t, isBrowserUnavailable(assertError{`exec: "chromium": executable file not found in $PATH`}))
}

func TestIsBrowserUnavailable_FalseForOtherErrors(t *testing.T) {
	assert.False(t, isBrowserUnavailable(assertError{"navigation timed out waiting for selector"}))
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
