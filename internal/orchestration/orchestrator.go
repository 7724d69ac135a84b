package orchestration

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bizmatters/dsstar-orchestrator/internal/agent"
	"github.com/bizmatters/dsstar-orchestrator/internal/critics"
	"github.com/bizmatters/dsstar-orchestrator/internal/harness"
	"github.com/bizmatters/dsstar-orchestrator/internal/metrics"
	"github.com/bizmatters/dsstar-orchestrator/internal/normalizer"
	"github.com/bizmatters/dsstar-orchestrator/internal/prompts"
	"github.com/bizmatters/dsstar-orchestrator/internal/safety"
	"github.com/bizmatters/dsstar-orchestrator/internal/scanner"
	"github.com/bizmatters/dsstar-orchestrator/internal/store"
)

// Agents groups the three model roles the orchestrator calls through. All
// three may point at the same underlying agent.Client with different model
// IDs, or at entirely different clients.
type Agents struct {
	Planner agent.Client
	Coder   agent.Client
	Critic  agent.Client
}

// Orchestrator runs the plan/code/critique/scan/test loop for one request
// at a time. It holds no state between runs; each Run call is independent.
type Orchestrator struct {
	agents  Agents
	artRoot string
	metrics *metrics.RunMetrics
	now     func() time.Time
}

// New builds an Orchestrator that writes artifacts under artifactRoot.
func New(agents Agents, artifactRoot string, m *metrics.RunMetrics) *Orchestrator {
	return &Orchestrator{
		agents:  agents,
		artRoot: artifactRoot,
		metrics: m,
		now:     time.Now,
	}
}

// ProgressFunc receives one progress event as the run advances. It must not
// block: a slow subscriber should buffer or drop, not stall the loop.
type ProgressFunc func(Event)

// Run executes the full DS-Star loop for req and returns a RunResult. A run
// that exhausts its iteration budget with a security-clean document is a
// fallback success and returns no error. One that exhausts it with no
// usable document returns a RunResult with Success=false together with
// errMaxIterationsExhausted. Any other non-nil error means the run could not
// be attempted at all (bad request, artifact store failure).
func (o *Orchestrator) Run(ctx context.Context, req Request, onProgress ProgressFunc) (RunResult, error) {
	if req.Prompt == "" {
		return RunResult{}, fmt.Errorf("orchestration: request prompt is required")
	}
	if o.agents.Planner == nil || o.agents.Coder == nil || o.agents.Critic == nil {
		return RunResult{}, errNoAgent
	}
	if onProgress == nil {
		onProgress = func(Event) {}
	}

	maxIters := normalizeMaxIters(req.MaxIters)
	runID := req.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	models := EventModels{Planner: req.PlannerModel, Coder: req.CoderModel, Critic: req.CriticModel, Runtime: req.RuntimeModel}

	st, err := store.New(o.artRoot, runID, o.now())
	if err != nil {
		onProgress(Event{Type: EventError, Models: models, RunID: runID, Error: err.Error(), Timestamp: o.now()})
		return RunResult{}, err
	}

	if o.metrics != nil {
		o.metrics.RecordRunStarted(ctx)
	}
	started := o.now()

	mem := NewFailureMemory()
	var history []IterationRecord
	var currentPlan *Plan
	planApproved := false
	var lastRawHTML string
	var lastHTML string
	var lastScan scanner.Result
	var lastSmoke *harness.Result
	fallback := false

	summary := RunSummary{RunID: runID, Timestamp: started}

	emit := func(iter int, phase Phase, status Status, detail string) {
		onProgress(Event{Type: EventIteration, Models: models, RunID: runID, MaxIters: maxIters, Iteration: iter, Phase: phase, Status: status, Detail: detail, Timestamp: o.now()})
	}

	onProgress(Event{Type: EventStart, Models: models, RunID: runID, MaxIters: maxIters, Timestamp: o.now()})

	for iter := 1; iter <= maxIters; iter++ {
		record := IterationRecord{IterationIndex: iter, StartTS: o.now()}

		if !planApproved {
			emit(iter, PhasePlan, StatusWorking, "generating plan")
			plan, planPrompt, err := o.generatePlan(ctx, req, mem)
			if err != nil {
				record.PhaseOutcomes = append(record.PhaseOutcomes, PhaseOutcome{Phase: PhasePlan, Status: StatusFailed, Detail: err.Error()})
				emit(iter, PhasePlan, StatusFailed, err.Error())
				record.EndTS = o.now()
				history = append(history, record)
				continue
			}
			currentPlan = plan
			record.Plan = plan
			record.PhaseOutcomes = append(record.PhaseOutcomes, PhaseOutcome{Phase: PhasePlan, Status: StatusApproved})
			if err := store.WriteAll(
				func() error { return st.WriteIterationJSON(iter, "plan.json", plan) },
				func() error { return st.WriteIterationText(iter, "prompt.txt", planPrompt) },
			); err != nil {
				log.Printf("WARN: failed writing plan artifacts for iteration %d: %v", iter, err)
			}

			emit(iter, PhasePlanCritique, StatusWorking, "reviewing plan")
			verdict := critics.Review(ctx, o.agents.Critic, req.CriticModel, prompts.PlanCritic(mustJSON(plan), req.Prompt), false)
			record.PlanCritique = &verdict
			st.WriteIterationJSON(iter, "plan_critique.json", verdict)

			if !verdict.Approved {
				mem.AddPlanCritiqueIssues(verdict.Issues)
				record.PhaseOutcomes = append(record.PhaseOutcomes, PhaseOutcome{Phase: PhasePlanCritique, Status: StatusRejected})
				emit(iter, PhasePlanCritique, StatusRejected, fmt.Sprintf("%d issues", len(verdict.Issues)))
				record.EndTS = o.now()
				history = append(history, record)
				continue
			}
			planApproved = true
			summary.PlanApprovedAt = iter
			record.PhaseOutcomes = append(record.PhaseOutcomes, PhaseOutcome{Phase: PhasePlanCritique, Status: StatusApproved})
			emit(iter, PhasePlanCritique, StatusApproved, "plan approved")
		} else {
			record.Plan = currentPlan
		}

		emit(iter, PhaseCode, StatusWorking, "generating code")
		rawHTML, err := o.generateCode(ctx, req, currentPlan, mem, lastRawHTML, lastSmoke, history)
		if err != nil {
			record.PhaseOutcomes = append(record.PhaseOutcomes, PhaseOutcome{Phase: PhaseCode, Status: StatusFailed, Detail: err.Error()})
			emit(iter, PhaseCode, StatusFailed, err.Error())
			record.EndTS = o.now()
			history = append(history, record)
			continue
		}
		lastRawHTML = rawHTML

		emit(iter, PhaseSecurityScan, StatusWorking, "scanning")
		scanResult := scanner.Scan(rawHTML)
		record.SecurityScan = scanResult
		lastScan = scanResult

		if !scanResult.Passed {
			if err := st.WriteIterationJSON(iter, "meta.json", scanResult); err != nil {
				log.Printf("WARN: failed writing scan artifact for iteration %d: %v", iter, err)
			}
			mem.AddSecurityErrors(scanResult.ViolationNames())
			detail := fmt.Sprintf("%d violations", len(scanResult.SecurityViolations)+len(scanResult.StructureErrors))
			record.PhaseOutcomes = append(record.PhaseOutcomes, PhaseOutcome{Phase: PhaseSecurityScan, Status: StatusSecurityFailed, Detail: detail})
			emit(iter, PhaseSecurityScan, StatusSecurityFailed, detail)
			record.EndTS = o.now()
			history = append(history, record)

			// A security-hard failure invalidates the approved plan: the
			// model needs to re-plan with the violation baked into its
			// failure memory, not keep patching a document built from a
			// plan that led it to write banned calls in the first place.
			planApproved = false
			currentPlan = nil
			summary.PlanApprovedAt = 0
			lastRawHTML = ""
			lastHTML = ""
			lastScan = scanner.Result{}
			lastSmoke = nil
			continue
		}
		record.PhaseOutcomes = append(record.PhaseOutcomes, PhaseOutcome{Phase: PhaseSecurityScan, Status: StatusPassed})
		emit(iter, PhaseSecurityScan, StatusPassed, "no violations")

		html := safety.Apply(rawHTML, runID)
		lastHTML = html
		record.HTML = html
		if err := store.WriteAll(
			func() error { return st.WriteIterationJSON(iter, "meta.json", scanResult) },
			func() error { return st.WriteIterationText(iter, "html.html", html) },
		); err != nil {
			log.Printf("WARN: failed writing scan/html artifacts for iteration %d: %v", iter, err)
		}

		emit(iter, PhaseCodeCritique, StatusWorking, "reviewing code")
		codeVerdict := critics.Review(ctx, o.agents.Critic, req.CriticModel, prompts.CodeCritic(html, mustJSON(currentPlan)), true)
		record.CodeCritique = &codeVerdict
		if !codeVerdict.Approved {
			mem.AddCodeCritiqueIssues(codeVerdict.Issues)
			record.PhaseOutcomes = append(record.PhaseOutcomes, PhaseOutcome{Phase: PhaseCodeCritique, Status: StatusAdvisoryIssues})
			emit(iter, PhaseCodeCritique, StatusAdvisoryIssues, fmt.Sprintf("%d issues (advisory)", len(codeVerdict.Issues)))
		} else {
			record.PhaseOutcomes = append(record.PhaseOutcomes, PhaseOutcome{Phase: PhaseCodeCritique, Status: StatusApproved})
			emit(iter, PhaseCodeCritique, StatusApproved, "no issues")
		}
		summary.CodeApprovedAt = iter

		emit(iter, PhaseTests, StatusWorking, "smoke testing")
		planCtx := harness.PlanContext{
			Title:           currentPlan.Title,
			PageCount:       len(currentPlan.Pages),
			HasDataBindings: len(currentPlan.DataBindings) > 0,
		}
		smokeResult, err := harness.Run(ctx, html, currentPlan.UIComponents, planCtx)
		if err != nil {
			log.Printf("WARN: smoke harness error on iteration %d: %v", iter, err)
			smokeResult = harness.Result{Passed: false, FailureReason: err.Error()}
		}
		record.SmokeResult = &smokeResult
		lastSmoke = &smokeResult
		if err := store.WriteAll(
			func() error { return st.WriteIterationJSON(iter, "code_critique.json", codeVerdict) },
			func() error { return st.WriteIterationJSON(iter, "smoke_test.json", smokeResult) },
		); err != nil {
			log.Printf("WARN: failed writing critique/smoke artifacts for iteration %d: %v", iter, err)
		}

		if !smokeResult.Passed {
			record.PhaseOutcomes = append(record.PhaseOutcomes, PhaseOutcome{Phase: PhaseTests, Status: StatusFailed, Detail: smokeResult.FailureReason})
			emit(iter, PhaseTests, StatusFailed, smokeResult.FailureReason)
			record.EndTS = o.now()
			history = append(history, record)
			continue
		}

		record.PhaseOutcomes = append(record.PhaseOutcomes, PhaseOutcome{Phase: PhaseTests, Status: StatusPassed})
		record.Success = true
		record.EndTS = o.now()
		history = append(history, record)
		summary.TestsPassedAt = iter
		summary.Success = true
		summary.TotalIterations = iter

		emit(iter, PhaseTests, StatusPassed, "smoke test passed")
		return o.seal(ctx, st, runID, models, currentPlan, html, summary, mem, history, fallback, started, onProgress)
	}

	// Iteration budget exhausted. Fall back to the best available document:
	// the most recent one that passed the security scan, even if it never
	// passed a smoke test.
	fallback = true
	summary.Fallback = true
	summary.TotalIterations = maxIters
	summary.LastFailure = lastFailureDetail(history)
	if lastScan.Passed && lastHTML != "" {
		summary.Success = true
		emit(maxIters, PhaseTests, StatusWorking, "iteration budget exhausted, using last security-clean document")
		return o.seal(ctx, st, runID, models, currentPlan, lastHTML, summary, mem, history, fallback, started, onProgress)
	}

	summary.Success = false
	emit(maxIters, PhaseTests, StatusFailed, "iteration budget exhausted without a usable document")
	summary.AccumulatedSecurityErrors = mem.SecurityErrors
	summary.FailureReports = append(append([]string{}, mem.PlanCritiqueIssues...), mem.CodeCritiqueIssues...)
	if err := st.WriteSummary(summary); err != nil {
		log.Printf("WARN: failed to write run summary: %v", err)
	}
	if o.metrics != nil {
		o.metrics.RecordRunFinished(ctx, false, o.now().Sub(started))
	}
	onProgress(Event{Type: EventComplete, Models: models, RunID: runID, Summary: &summary, Timestamp: o.now()})
	return RunResult{
		RunID:          runID,
		Success:        false,
		FinalPlan:      currentPlan,
		Summary:        summary,
		History:        history,
		FailureReports: summary.FailureReports,
		SecurityErrors: mem.SecurityErrors,
	}, errMaxIterationsExhausted
}

func (o *Orchestrator) seal(ctx context.Context, st *store.Store, runID string, models EventModels, plan *Plan, html string, summary RunSummary, mem *FailureMemory, history []IterationRecord, fallback bool, started time.Time, onProgress ProgressFunc) (RunResult, error) {
	summary.AccumulatedSecurityErrors = mem.SecurityErrors
	summary.FailureReports = append(append([]string{}, mem.PlanCritiqueIssues...), mem.CodeCritiqueIssues...)

	if err := st.WriteFinalPlan(plan); err != nil {
		log.Printf("WARN: failed to write final plan: %v", err)
	}
	finalPath, err := st.WriteFinalHTML(html)
	if err != nil {
		log.Printf("WARN: failed to write final html: %v", err)
	}
	if err := st.WriteSummary(summary); err != nil {
		log.Printf("WARN: failed to write run summary: %v", err)
	}

	if o.metrics != nil {
		o.metrics.RecordRunFinished(ctx, true, o.now().Sub(started))
		if fallback {
			o.metrics.RecordFallback(ctx)
		}
	}

	if summary.Success {
		onProgress(Event{Type: EventSuccess, Models: models, RunID: runID, Iteration: summary.TotalIterations, Fallback: fallback, Timestamp: o.now()})
	}
	onProgress(Event{Type: EventComplete, Models: models, RunID: runID, Summary: &summary, Timestamp: o.now()})

	return RunResult{
		RunID:          runID,
		Success:        summary.Success,
		FinalPlan:      plan,
		FinalHTMLPath:  finalPath,
		Summary:        summary,
		History:        history,
		FailureReports: summary.FailureReports,
		SecurityErrors: mem.SecurityErrors,
	}, nil
}

func (o *Orchestrator) generatePlan(ctx context.Context, req Request, mem *FailureMemory) (*Plan, string, error) {
	prompt := prompts.Planner(req.Prompt, mem.Snapshot())
	reply, err := o.agents.Planner.Call(ctx, req.PlannerModel, prompt)
	if err != nil {
		return nil, "", fmt.Errorf("orchestration: planner call failed: %w", err)
	}
	var plan Plan
	if err := normalizer.ExtractJSON(reply, &plan); err != nil {
		return nil, "", fmt.Errorf("orchestration: could not normalize plan response: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return nil, "", fmt.Errorf("orchestration: plan failed validation: %w", err)
	}
	return &plan, prompt, nil
}

func (o *Orchestrator) generateCode(ctx context.Context, req Request, plan *Plan, mem *FailureMemory, lastRawHTML string, lastSmoke *harness.Result, history []IterationRecord) (string, error) {
	var prompt string
	if lastSmoke != nil && !lastSmoke.Passed && lastRawHTML != "" {
		prompt = prompts.Patch(lastRawHTML, *lastSmoke, mem.Snapshot(), attemptSummaries(history))
	} else {
		prompt = prompts.Coder(mustJSON(plan), libraryCatalogText(plan), mem.Snapshot())
	}

	reply, err := o.agents.Coder.Call(ctx, req.CoderModel, prompt)
	if err != nil {
		return "", fmt.Errorf("orchestration: coder call failed: %w", err)
	}
	html, err := normalizer.ExtractHTML(reply)
	if err != nil {
		return "", fmt.Errorf("orchestration: could not normalize html response: %w", err)
	}
	return html, nil
}

// libraryCatalogText renders the plan's requested third-party libraries as
// the opaque catalog block the Coder prompt interpolates verbatim.
func libraryCatalogText(plan *Plan) string {
	if plan == nil || len(plan.Libraries) == 0 {
		return "No third-party libraries requested; use vanilla JS/CSS."
	}
	return "Requested libraries: " + strings.Join(plan.Libraries, ", ")
}

// attemptSummaries renders each sealed iteration as a single chronological
// line for the Patch prompt: what phase it ended on, and why.
func attemptSummaries(history []IterationRecord) []string {
	out := make([]string, 0, len(history))
	for _, rec := range history {
		if len(rec.PhaseOutcomes) == 0 {
			continue
		}
		last := rec.PhaseOutcomes[len(rec.PhaseOutcomes)-1]
		detail := last.Detail
		if detail == "" {
			detail = string(last.Status)
		}
		out = append(out, fmt.Sprintf("iteration %d: %s %s (%s)", rec.IterationIndex, last.Phase, last.Status, detail))
	}
	return out
}

func lastFailureDetail(history []IterationRecord) string {
	if len(history) == 0 {
		return ""
	}
	last := history[len(history)-1]
	if len(last.PhaseOutcomes) == 0 {
		return ""
	}
	return string(last.PhaseOutcomes[len(last.PhaseOutcomes)-1].Status)
}
