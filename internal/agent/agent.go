// Package agent provides the pluggable model-adapter boundary the
// orchestrator calls through: a single Call method hiding whichever LLM
// provider and transport is behind it.
package agent

import "context"

// Client is the model adapter every orchestrator role (planner, coder,
// plan-critic, code-critic) calls through. Implementations own retries,
// auth, and provider-specific request shaping; Call must return the raw
// text response so the caller can run it through the normalizer.
type Client interface {
	Call(ctx context.Context, modelID, prompt string) (string, error)
}
