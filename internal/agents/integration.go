package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"devorchestra/internal/ai"
)

const integrationSnippetLimit = 2000

// IntegrationReport is the compatibility verdict between generated frontend
// and backend code.
type IntegrationReport struct {
	Compatible         bool     `json:"compatible"`
	CompatibilityScore int      `json:"compatibility_score"`
	Mismatches         []string `json:"mismatches"`
	IntegrationPlan    string   `json:"integration_plan,omitempty"`
}

// IntegrationAgent verifies frontend/backend compatibility with one
// completion call over truncated code snippets.
type IntegrationAgent struct {
	ai  *ai.Client
	log *zap.Logger
}

// NewIntegrationAgent creates the integration checker.
func NewIntegrationAgent(client *ai.Client, log *zap.Logger) *IntegrationAgent {
	return &IntegrationAgent{ai: client, log: log}
}

// Execute returns the compatibility verdict. Any failure, including quota
// fallback and undecodable output, yields compatible=false with score 0 and
// the reason as the sole mismatch. This agent never fails the pipeline.
func (a *IntegrationAgent) Execute(ctx context.Context, frontendCode, backendCode string) *IntegrationReport {
	prompt := fmt.Sprintf(`Analyze the integration between this Frontend and Backend.

FRONTEND CODE:
%s

BACKEND CODE:
%s

VERIFY:
1. Do API endpoints match? (e.g., fetch('/api/login') vs @app.post('/api/login'))
2. Do HTTP methods match? (GET vs POST)
3. Do request bodies match expected schemas?
4. Are response formats handled correctly?

OUTPUT JSON:
{
    "compatible": <boolean>,
    "compatibility_score": <0-100>,
    "mismatches": ["list", "of", "route/data", "mismatches"],
    "integration_plan": "Short summary of how they connect"
}`, truncate(frontendCode, integrationSnippetLimit), truncate(backendCode, integrationSnippetLimit))

	env, err := a.ai.Complete(ctx, prompt, ai.RoleIntegration)
	if err != nil {
		return integrationFailure("Analysis failed: " + err.Error())
	}
	if env.Fallback {
		return integrationFailure("Analysis failed: completion unavailable (quota fallback)")
	}

	var report IntegrationReport
	if err := json.Unmarshal([]byte(env.Text), &report); err != nil {
		a.log.Warn("integration verdict decode failed", zap.Error(err))
		return integrationFailure("Analysis failed: " + err.Error())
	}
	if report.Mismatches == nil {
		report.Mismatches = []string{}
	}
	return &report
}

func integrationFailure(reason string) *IntegrationReport {
	return &IntegrationReport{
		Compatible:         false,
		CompatibilityScore: 0,
		Mismatches:         []string{reason},
	}
}

// truncate limits a snippet to n bytes for prompt budgets.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... (truncated)"
}
