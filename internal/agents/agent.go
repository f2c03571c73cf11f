// Package agents contains the generation agents: independent units that each
// build one prompt, invoke the completion client and decode a structured
// result. Parse failures are recovered locally with a synthesized minimal
// payload; an agent only reports failure for a hard completion error.
package agents

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"devorchestra/internal/ai"
)

// Request is the input contract to a generation agent.
type Request struct {
	TaskID       string
	Requirements string
}

// Result is the tagged outcome of one agent invocation.
type Result struct {
	Status string         `json:"status"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Success wraps a payload into a successful result.
func Success(payload map[string]any) Result {
	return Result{Status: "success", Result: payload}
}

// Failed wraps a reason into a failed result.
func Failed(reason string) Result {
	return Result{Status: "failed", Error: reason}
}

// Raw returns the result as the nested document shape used in final payloads.
func (r Result) Raw() map[string]any {
	out := map[string]any{"status": r.Status}
	if r.Result != nil {
		out["result"] = r.Result
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	return out
}

// StatusPublisher receives best-effort agent status notifications.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, taskID, agentID, status string, details map[string]any)
}

// Agent executes one generation role against the completion client.
type Agent struct {
	role ai.Role
	spec roleSpec
	ai   *ai.Client
	bus  StatusPublisher
	log  *zap.Logger
}

// New creates an agent for a generation role. Panics on an unknown role so a
// wiring mistake fails at startup, not mid-pipeline.
func New(role ai.Role, client *ai.Client, bus StatusPublisher, log *zap.Logger) *Agent {
	spec, ok := roleTable[role]
	if !ok {
		panic(fmt.Sprintf("agents: no role spec for %q", role))
	}
	return &Agent{role: role, spec: spec, ai: client, bus: bus, log: log}
}

// Role returns the agent's role.
func (a *Agent) Role() ai.Role { return a.role }

// Execute runs the agent: build prompt, complete, decode. Quota exhaustion
// surfaces as success with fallback content (the client guarantees that);
// decode failures are replaced with a synthesized minimal payload. Only
// ErrModelUnavailable or cancellation produce a failed result.
func (a *Agent) Execute(ctx context.Context, req Request) Result {
	a.publish(ctx, req.TaskID, "starting", nil)

	env, err := a.ai.Complete(ctx, a.spec.prompt(req.Requirements), a.role)
	if err != nil {
		a.publish(ctx, req.TaskID, "failed", map[string]any{"error": err.Error()})
		return Failed(err.Error())
	}

	payload, decodeErr := a.spec.decode(env, req.Requirements)
	if decodeErr != nil {
		a.log.Warn("agent decode failed, synthesizing payload",
			zap.String("agent", a.spec.agentID), zap.Error(decodeErr))
		payload = a.spec.synthesize(req.Requirements)
	}

	a.publish(ctx, req.TaskID, "completed", nil)
	return Success(payload)
}

// publish sends a best-effort status notification; a nil bus is allowed.
func (a *Agent) publish(ctx context.Context, taskID, status string, details map[string]any) {
	if a.bus == nil {
		return
	}
	a.bus.PublishStatus(ctx, taskID, a.spec.agentID, status, details)
}
