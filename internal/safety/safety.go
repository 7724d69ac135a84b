// Package safety applies the transformations every generated document goes
// through before it is served or smoke-tested: a restrictive CSP meta tag
// and the runtime bridge script the generated JavaScript talks to instead
// of the network. Both are injected idempotently: running Apply twice on
// its own output makes no further change.
package safety

import (
	"fmt"
	"regexp"
	"strings"
)

// cspMarkerID and bridgeMarkerID are stable ids stamped onto the injected
// elements so a re-run of Apply can find and skip past them, and so a later
// RebindAppID call can locate the bridge script to rewrite.
const cspMarkerID = "gea-csp-policy"
const bridgeMarkerID = "gea-runtime-bridge"

var cspRe = regexp.MustCompile(`(?is)<meta[^>]*id=["']` + cspMarkerID + `["'][^>]*>`)
var bridgeRe = regexp.MustCompile(`(?is)<script[^>]*id=["']` + bridgeMarkerID + `["'][^>]*>[\s\S]*?</script>`)
var headOpenRe = regexp.MustCompile(`(?is)<head[^>]*>`)
var htmlOpenRe = regexp.MustCompile(`(?is)<html[^>]*>`)
var bodyCloseRe = regexp.MustCompile(`(?is)</body\s*>`)
var htmlCloseRe = regexp.MustCompile(`(?is)</html\s*>`)

// cspContent allows inline script/style (the generated document is a
// single inline file), a curated CDN allowlist for style/script/font so
// Plan.Libraries can actually load, and a connect-src restricted to
// same-origin plus localhost loopbacks and a small map-tile allowlist for
// the runtime bridge and any mapping library the plan pulls in.
const cspContent = "default-src 'self'; " +
	"script-src 'self' 'unsafe-inline' https://cdn.jsdelivr.net https://cdnjs.cloudflare.com https://unpkg.com; " +
	"style-src 'self' 'unsafe-inline' https://cdn.jsdelivr.net https://cdnjs.cloudflare.com https://fonts.googleapis.com; " +
	"font-src 'self' data: https://fonts.gstatic.com https://cdnjs.cloudflare.com; " +
	"img-src 'self' data: https:; " +
	"connect-src 'self' http://localhost:* http://127.0.0.1:* https://*.tile.openstreetmap.org;"

// Apply injects the CSP meta tag and the runtime bridge script into html
// for appID, skipping either injection if a marker for it is already
// present so repeated calls stay idempotent.
func Apply(html, appID string) string {
	out := html
	if !cspRe.MatchString(out) {
		out = injectIntoHead(out, cspMetaTag())
	}
	if !bridgeRe.MatchString(out) {
		out = injectBeforeBodyClose(out, bridgeScriptTag(appID))
	} else {
		out = RebindAppID(out, appID)
	}
	return out
}

func cspMetaTag() string {
	return fmt.Sprintf(`<meta id="%s" http-equiv="Content-Security-Policy" content="%s">`, cspMarkerID, cspContent)
}

// bridgeScriptTag renders the runtime bridge the generated document calls
// instead of the network. geaRuntimeLLM posts to /api/runtime/llm and
// rejects on an empty prompt or a non-OK response; geaRuntimeStore exposes
// get/set backed by /api/runtime/store/<key>, both namespaced by appID via
// the X-App-Id header so RebindAppID can retarget them without touching the
// rest of the script.
func bridgeScriptTag(appID string) string {
	return fmt.Sprintf(`<script id="%s" data-app-id="%s">
(function() {
  var APP_ID = "%s";

  window.geaRuntimeLLM = function(prompt, options) {
    options = options || {};
    if (!prompt) {
      return Promise.reject(new Error("geaRuntimeLLM: prompt is required"));
    }
    return fetch("/api/runtime/llm", {
      method: "POST",
      headers: { "Content-Type": "application/json", "X-App-Id": APP_ID },
      body: JSON.stringify({ prompt: prompt, model: options.model }),
      signal: options.signal
    }).then(function(res) {
      if (!res.ok) {
        throw new Error("geaRuntimeLLM: request failed with status " + res.status);
      }
      return res.json();
    }).then(function(data) {
      return data.response;
    });
  };

  window.geaRuntimeStore = {
    get: function(key) {
      return fetch("/api/runtime/store/" + encodeURIComponent(key), {
        headers: { "X-App-Id": APP_ID }
      }).then(function(res) {
        if (!res.ok) {
          throw new Error("geaRuntimeStore.get: request failed with status " + res.status);
        }
        return res.json();
      }).then(function(data) {
        return data.value;
      });
    },
    set: function(key, value) {
      return fetch("/api/runtime/store/" + encodeURIComponent(key), {
        method: "POST",
        headers: { "Content-Type": "application/json", "X-App-Id": APP_ID },
        body: JSON.stringify({ value: value })
      }).then(function(res) {
        if (!res.ok) {
          throw new Error("geaRuntimeStore.set: request failed with status " + res.status);
        }
        return true;
      });
    }
  };
})();
</script>`, bridgeMarkerID, appID, appID)
}

// RebindAppID rewrites the data-app-id attribute and the mirrored inline
// APP_ID literal on an already-injected bridge script to appID, leaving
// everything else in html untouched. If no bridge script is present, html
// is returned unchanged.
func RebindAppID(html, appID string) string {
	return bridgeRe.ReplaceAllStringFunc(html, func(tag string) string {
		tag = dataAppIDRe.ReplaceAllString(tag, fmt.Sprintf(`data-app-id="%s"`, appID))
		tag = appIDLiteralRe.ReplaceAllString(tag, fmt.Sprintf(`var APP_ID = "%s"`, appID))
		return tag
	})
}

var dataAppIDRe = regexp.MustCompile(`data-app-id="[^"]*"`)
var appIDLiteralRe = regexp.MustCompile(`var APP_ID = "[^"]*"`)

// injectIntoHead inserts fragment immediately after the opening <head> tag,
// falling back to immediately after <html> and finally to prepending the
// document when neither tag is present.
func injectIntoHead(html, fragment string) string {
	if loc := headOpenRe.FindStringIndex(html); loc != nil {
		return html[:loc[1]] + "\n" + fragment + html[loc[1]:]
	}
	if loc := htmlOpenRe.FindStringIndex(html); loc != nil {
		return html[:loc[1]] + "\n" + fragment + html[loc[1]:]
	}
	return fragment + "\n" + html
}

// injectBeforeBodyClose inserts fragment immediately before the closing
// </body> tag, falling back to before </html> and finally to appending to
// the document when neither tag is present. The bridge script only defines
// window globals, so it runs correctly wherever in the document it lands,
// but placing it at the body's tail keeps it out of the way of whatever the
// generated document's own <head> does.
func injectBeforeBodyClose(html, fragment string) string {
	if loc := bodyCloseRe.FindStringIndex(html); loc != nil {
		return html[:loc[0]] + fragment + "\n" + html[loc[0]:]
	}
	if loc := htmlCloseRe.FindStringIndex(html); loc != nil {
		return html[:loc[0]] + fragment + "\n" + html[loc[0]:]
	}
	return html + "\n" + fragment
}

// HasBridge reports whether html already carries the injected runtime bridge.
func HasBridge(html string) bool {
	return bridgeRe.MatchString(html)
}

// HasCSP reports whether html already carries the injected CSP meta tag.
func HasCSP(html string) bool {
	return cspRe.MatchString(html)
}

// StripForDisplay removes leading/trailing whitespace noise a model
// sometimes wraps its document in outside of the actual <html> element.
func StripForDisplay(html string) string {
	return strings.TrimSpace(html)
}
