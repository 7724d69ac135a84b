package orchestration

import "errors"

var (
	errPlanNil                = errors.New("orchestration: plan is nil")
	errPlanTitleRequired      = errors.New("orchestration: plan.title is required")
	errPlanPagesRequired      = errors.New("orchestration: plan.pages must be non-empty")
	errPlanComponentsRequired = errors.New("orchestration: plan.ui_components must be non-empty")
	errNoAgent                = errors.New("orchestration: no agent configured for role")
	errMaxIterationsExhausted = errors.New("orchestration: max iterations exhausted without a passing run")
)
