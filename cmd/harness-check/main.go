// Command harness-check runs the smoke-test harness against a saved HTML
// document and plan outside of a full orchestration run, for debugging
// selector derivation and console-error capture against a real browser.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/bizmatters/dsstar-orchestrator/internal/harness"
	"github.com/bizmatters/dsstar-orchestrator/internal/orchestration"
)

func main() {
	htmlPath := flag.String("html", "", "path to the HTML document to smoke test (required)")
	planPath := flag.String("plan", "", "path to a plan.json whose ui_components drive selector derivation")
	timeout := flag.Duration("timeout", 30*time.Second, "smoke test timeout")
	flag.Parse()

	if *htmlPath == "" {
		log.Fatal("-html is required")
	}

	htmlBytes, err := os.ReadFile(*htmlPath)
	if err != nil {
		log.Fatalf("failed to read html file: %v", err)
	}

	var uiComponents []string
	var planCtx harness.PlanContext
	if *planPath != "" {
		planBytes, err := os.ReadFile(*planPath)
		if err != nil {
			log.Fatalf("failed to read plan file: %v", err)
		}
		var plan orchestration.Plan
		if err := json.Unmarshal(planBytes, &plan); err != nil {
			log.Fatalf("failed to parse plan file: %v", err)
		}
		uiComponents = plan.UIComponents
		planCtx = harness.PlanContext{
			Title:           plan.Title,
			PageCount:       len(plan.Pages),
			HasDataBindings: len(plan.DataBindings) > 0,
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := harness.Run(ctx, string(htmlBytes), uiComponents, planCtx)
	if err != nil {
		log.Fatalf("harness run failed: %v", err)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))

	if !result.Passed {
		os.Exit(1)
	}
}
