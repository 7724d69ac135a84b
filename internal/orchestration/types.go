package orchestration

import (
	"encoding/json"
	"time"

	"github.com/bizmatters/dsstar-orchestrator/internal/critics"
	"github.com/bizmatters/dsstar-orchestrator/internal/harness"
	"github.com/bizmatters/dsstar-orchestrator/internal/scanner"
)

// Request describes one caller-initiated synthesis run.
type Request struct {
	Prompt       string `json:"prompt"`
	MaxIters     int    `json:"max_iters"`
	PlannerModel string `json:"planner_model"`
	CoderModel   string `json:"coder_model"`
	CriticModel  string `json:"critic_model"`
	RuntimeModel string `json:"runtime_model"`

	// RunID, if set, is used as the run's identifier instead of a
	// freshly generated one. Callers that need to know the run's ID
	// before it starts (e.g. an HTTP handler returning 202 Accepted with
	// a Location header) set this themselves.
	RunID string `json:"-"`
}

// DefaultMaxIters is used when the caller does not specify one.
const DefaultMaxIters = 8

// MaxAllowedIters is the hard ceiling on the per-run iteration budget.
const MaxAllowedIters = 10

// normalizeMaxIters clamps a caller-supplied iteration budget into [1, MaxAllowedIters].
func normalizeMaxIters(n int) int {
	if n <= 0 {
		return DefaultMaxIters
	}
	if n > MaxAllowedIters {
		return MaxAllowedIters
	}
	return n
}

// Plan is the Planner's structured description of the app to build.
//
// It is modeled as an open record: Extra carries any top-level field the
// Planner emitted that isn't one of the named ones below, so a reimplemented
// or model-specific field still survives a decode/encode round trip and
// still reaches the Coder prompt.
type Plan struct {
	Title              string                 `json:"title"`
	Pages              []PageDescriptor       `json:"pages"`
	UIComponents       []string               `json:"ui_components"`
	Description        string                 `json:"description,omitempty"`
	State              map[string]interface{} `json:"state,omitempty"`
	Interactions       []string               `json:"interactions,omitempty"`
	AcceptanceCriteria []string               `json:"acceptance_criteria,omitempty"`
	Libraries          []string               `json:"libraries,omitempty"`
	DataBindings       []string               `json:"data_bindings,omitempty"`
	RecommendedModels  map[string]string      `json:"recommended_models,omitempty"`

	// Extra holds any top-level field the Planner emitted that isn't one of
	// the named ones above. UnmarshalJSON/MarshalJSON keep it in sync with
	// the wire representation so an unrecognized field survives a
	// decode/re-encode round trip instead of being silently dropped.
	Extra map[string]interface{} `json:"-"`
}

// planFields lists the JSON keys Plan already binds to a named field, so
// UnmarshalJSON knows which top-level keys to route into Extra instead.
var planFields = map[string]struct{}{
	"title": {}, "pages": {}, "ui_components": {}, "description": {},
	"state": {}, "interactions": {}, "acceptance_criteria": {},
	"libraries": {}, "data_bindings": {}, "recommended_models": {},
}

// planAlias has Plan's named fields without its custom (Un)MarshalJSON, so
// the two can delegate to encoding/json's default struct handling without
// recursing into themselves.
type planAlias Plan

// UnmarshalJSON decodes the named fields normally, then routes any
// remaining top-level key into Extra.
func (p *Plan) UnmarshalJSON(data []byte) error {
	var alias planAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	extra := make(map[string]interface{})
	for key, value := range raw {
		if _, known := planFields[key]; known {
			continue
		}
		var v interface{}
		if err := json.Unmarshal(value, &v); err != nil {
			continue
		}
		extra[key] = v
	}
	if len(extra) > 0 {
		alias.Extra = extra
	}

	*p = Plan(alias)
	return nil
}

// MarshalJSON encodes the named fields normally, then merges Extra's keys
// back in at the top level so a round trip preserves whatever the Planner
// sent that this type doesn't otherwise model.
func (p Plan) MarshalJSON() ([]byte, error) {
	named, err := json.Marshal(planAlias(p))
	if err != nil {
		return nil, err
	}
	if len(p.Extra) == 0 {
		return named, nil
	}

	merged := make(map[string]json.RawMessage)
	if err := json.Unmarshal(named, &merged); err != nil {
		return nil, err
	}
	for key, value := range p.Extra {
		if _, known := planFields[key]; known {
			continue
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		merged[key] = encoded
	}
	return json.Marshal(merged)
}

// PageDescriptor names one page/view in a Plan.
type PageDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Validate enforces the required-field subset of the Plan schema.
func (p *Plan) Validate() error {
	if p == nil {
		return errPlanNil
	}
	if p.Title == "" {
		return errPlanTitleRequired
	}
	if len(p.Pages) == 0 {
		return errPlanPagesRequired
	}
	if len(p.UIComponents) == 0 {
		return errPlanComponentsRequired
	}
	return nil
}

// PhaseOutcome records the terminal state of one orchestrator phase within an iteration.
type PhaseOutcome struct {
	Phase    Phase  `json:"phase"`
	Status   Status `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
}

// IterationRecord is the immutable tuple sealed at the end of one loop turn.
type IterationRecord struct {
	IterationIndex int               `json:"iteration_index"`
	PhaseOutcomes  []PhaseOutcome    `json:"phase_outcomes"`
	Plan           *Plan             `json:"plan,omitempty"`
	PlanCritique   *critics.Verdict  `json:"plan_critique,omitempty"`
	HTML           string            `json:"html,omitempty"`
	SecurityScan   scanner.Result    `json:"security_scan"`
	CodeCritique   *critics.Verdict  `json:"code_critique,omitempty"`
	SmokeResult    *harness.Result   `json:"smoke_result,omitempty"`
	StartTS        time.Time         `json:"start_ts"`
	EndTS          time.Time         `json:"end_ts"`
	Success        bool              `json:"success"`
}

// RunSummary is the terminal report of one run, written last to the artifact store.
type RunSummary struct {
	RunID                    string    `json:"run_id"`
	Success                  bool      `json:"success"`
	Fallback                 bool      `json:"fallback"`
	TotalIterations          int       `json:"total_iterations"`
	PlanApprovedAt           int       `json:"plan_approved_at,omitempty"`
	CodeApprovedAt           int       `json:"code_approved_at,omitempty"`
	TestsPassedAt            int       `json:"tests_passed_at,omitempty"`
	LastFailure              string    `json:"last_failure,omitempty"`
	AccumulatedSecurityErrors []string `json:"accumulated_security_errors"`
	FailureReports           []string  `json:"failure_reports"`
	Timestamp                time.Time `json:"timestamp"`
}

// Phase enumerates the states an iteration passes through.
type Phase string

const (
	PhaseStart        Phase = "start"
	PhasePlan         Phase = "plan"
	PhasePlanCritique Phase = "plan_critique"
	PhaseCode         Phase = "code"
	PhaseSecurityScan Phase = "security_scan"
	PhaseCodeCritique Phase = "code_critique"
	PhaseTests        Phase = "tests"
)

// Status enumerates the outcome recognized on a phase transition.
type Status string

const (
	StatusWorking         Status = "working"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusAdvisoryIssues  Status = "advisory_issues"
	StatusSecurityFailed  Status = "security_failed"
	StatusFailed          Status = "failed"
	StatusPassed          Status = "passed"
)

// RunResult is what run() returns to its caller (§6.1).
type RunResult struct {
	RunID          string            `json:"run_id"`
	Success        bool              `json:"success"`
	FinalPlan      *Plan             `json:"final_plan,omitempty"`
	FinalHTMLPath  string            `json:"final_html_path"`
	Summary        RunSummary        `json:"summary"`
	History        []IterationRecord `json:"history"`
	FailureReports []string          `json:"failure_reports"`
	SecurityErrors []string          `json:"security_errors"`
}
