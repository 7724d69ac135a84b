package orchestration

import (
	"encoding/json"
	"time"
)

// EventType discriminates the shape of Event's additional fields. A
// WebSocket subscriber (or the event-history replay path) drives its UI off
// this field rather than inferring shape from which others are present.
type EventType string

const (
	EventStart     EventType = "start"
	EventIteration EventType = "iteration"
	EventSuccess   EventType = "success"
	EventComplete  EventType = "complete"
	EventError     EventType = "error"
)

// EventModels names the model ID resolved for each role at the start of the
// run. Every event carries the same block so a subscriber that attaches
// mid-run, or replays the run's recorded event history, always knows which models
// produced the events it's looking at without cross-referencing the start
// event.
type EventModels struct {
	Planner string `json:"planner,omitempty"`
	Coder   string `json:"coder,omitempty"`
	Critic  string `json:"critic,omitempty"`
	Runtime string `json:"runtime,omitempty"`
}

// Event is one progress notification emitted as a run advances. It is the
// unit the gateway's WebSocket layer buffers and forwards to subscribers.
type Event struct {
	Type      EventType   `json:"type"`
	Models    EventModels `json:"models"`
	RunID     string      `json:"run_id,omitempty"`
	MaxIters  int         `json:"max_iters,omitempty"`
	Iteration int         `json:"iteration,omitempty"`
	Phase     Phase       `json:"phase,omitempty"`
	Status    Status      `json:"status,omitempty"`
	Detail    string      `json:"detail,omitempty"`
	Fallback  bool        `json:"fallback,omitempty"`
	Summary   *RunSummary `json:"summary,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// mustJSON marshals v, panicking only if v cannot possibly be marshaled
// (a bug, not a runtime condition), matching the assumption that Plan
// values always originate from a successful ExtractJSON call.
func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
