package orchestration

import "github.com/bizmatters/dsstar-orchestrator/internal/prompts"

// FailureMemory accumulates three append-only, monotone-non-decreasing
// lists of past failures across the life of a run. Entries are never
// removed or reordered: a violation flagged in iteration 1 still shows up
// in the prompt built for iteration 8, so a model that reintroduces an old
// mistake is reminded of it again.
type FailureMemory struct {
	SecurityErrors     []string
	PlanCritiqueIssues []string
	CodeCritiqueIssues []string
}

// NewFailureMemory returns an empty FailureMemory.
func NewFailureMemory() *FailureMemory {
	return &FailureMemory{}
}

// AddSecurityErrors appends new violations, skipping any already recorded.
func (m *FailureMemory) AddSecurityErrors(violations []string) {
	m.SecurityErrors = appendUnique(m.SecurityErrors, violations)
}

// AddPlanCritiqueIssues appends new issues, skipping any already recorded.
func (m *FailureMemory) AddPlanCritiqueIssues(issues []string) {
	m.PlanCritiqueIssues = appendUnique(m.PlanCritiqueIssues, issues)
}

// AddCodeCritiqueIssues appends new issues, skipping any already recorded.
func (m *FailureMemory) AddCodeCritiqueIssues(issues []string) {
	m.CodeCritiqueIssues = appendUnique(m.CodeCritiqueIssues, issues)
}

func appendUnique(existing, additions []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[e] = true
	}
	out := existing
	for _, a := range additions {
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

// Snapshot renders the current memory contents into the shape prompt
// builders consume.
func (m *FailureMemory) Snapshot() prompts.FailureMemorySnapshot {
	return prompts.FailureMemorySnapshot{
		SecurityErrors:     m.SecurityErrors,
		PlanCritiqueIssues: m.PlanCritiqueIssues,
		CodeCritiqueIssues: m.CodeCritiqueIssues,
	}
}
