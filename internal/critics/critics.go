// Package critics implements the two LLM-backed review gates: the
// blocking Plan-Critic and the advisory-only Code-Critic. Both send a
// prompt through an agent.Client, normalize the reply into a Verdict, and
// fall back to a conservative default if the model reply can't be
// recovered even after one retry.
package critics

import (
	"context"
	"log"

	"github.com/bizmatters/dsstar-orchestrator/internal/agent"
	"github.com/bizmatters/dsstar-orchestrator/internal/normalizer"
)

// Verdict is the normalized outcome of one critic pass.
type Verdict struct {
	Approved  bool     `json:"approved"`
	Issues    []string `json:"issues,omitempty"`
	Advisory  bool     `json:"-"`
	Defaulted bool     `json:"-"`

	// RawText holds the model's unparseable reply when a defaulted verdict
	// came from a JSON-normalization failure rather than a call failure, so
	// the raw text is still visible in the written artifact even though no
	// verdict could be extracted from it.
	RawText string `json:"raw_text,omitempty"`
}

// rawVerdict is the wire shape a critic is asked to reply in.
type rawVerdict struct {
	Approved bool     `json:"approved"`
	Issues   []string `json:"issues"`
}

// criticUnavailableNote is the low-severity issue recorded on a defaulted
// verdict when the model call itself failed on both attempts, as opposed
// to replying with something that couldn't be parsed.
const criticUnavailableNote = "critic unavailable: model call failed, review was skipped for this iteration"

// stricterRetryPrefix is prepended to the prompt on the second attempt, so
// a retry after a parse failure isn't just asking the same question again.
const stricterRetryPrefix = "Your previous reply could not be parsed as JSON. Reply with ONLY a single " +
	"JSON object matching {\"approved\": bool, \"issues\": [string, ...]}, no prose, no markdown fences.\n\n"

// Review sends prompt to modelID through client, extracts a JSON verdict
// from the reply, and retries once (with a stricter instruction prepended)
// on extraction failure. If the retry also fails to produce a parseable
// verdict, Review returns a defaulted verdict with Approved=true so a
// normalizer glitch never wedges the loop, and Defaulted is set so the
// caller can record that in failure memory.
//
// advisory controls only the Advisory field on the returned Verdict; it is
// the caller's responsibility to treat an advisory verdict as non-blocking.
func Review(ctx context.Context, client agent.Client, modelID, prompt string, advisory bool) Verdict {
	first := attempt(ctx, client, modelID, prompt)
	if first.ok {
		first.verdict.Advisory = advisory
		return first.verdict
	}

	second := attempt(ctx, client, modelID, stricterRetryPrefix+prompt)
	if second.ok {
		second.verdict.Advisory = advisory
		return second.verdict
	}

	log.Printf("WARN: critic reply could not be normalized after retry, defaulting to approved=true")
	verdict := Verdict{Approved: true, Advisory: advisory, Defaulted: true}
	if second.callFailed {
		verdict.Issues = []string{criticUnavailableNote}
	} else {
		verdict.RawText = second.rawText
	}
	return verdict
}

// attemptResult is attempt's outcome, distinguishing a failed model call
// from a reply that came back but couldn't be normalized into a verdict.
type attemptResult struct {
	verdict    Verdict
	ok         bool
	callFailed bool
	rawText    string
}

func attempt(ctx context.Context, client agent.Client, modelID, prompt string) attemptResult {
	reply, err := client.Call(ctx, modelID, prompt)
	if err != nil {
		log.Printf("WARN: critic call failed: %v", err)
		return attemptResult{callFailed: true}
	}

	var raw rawVerdict
	if err := normalizer.ExtractJSON(reply, &raw); err != nil {
		log.Printf("WARN: critic reply normalization failed: %v", err)
		return attemptResult{rawText: reply}
	}

	return attemptResult{verdict: Verdict{Approved: raw.Approved, Issues: raw.Issues}, ok: true}
}
