// Package orchestrator drives the generation pipeline: parse the user story,
// fan it through the generation agents, verify integration, generate tests
// and persist the assembled result. A run always reaches exactly one terminal
// state; individual agent failures degrade to fallback payloads instead of
// aborting the pipeline.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"devorchestra/internal/agents"
	"devorchestra/internal/ai"
	"devorchestra/internal/config"
	"devorchestra/internal/legacy"
	"devorchestra/internal/metrics"
	"devorchestra/pkg/models"
)

// Pipeline modes, resolved in precedence order legacy > parallel > standard.
const (
	ModeStandard = "standard"
	ModeParallel = "parallel"
	ModeLegacy   = "legacy"
)

// ModeLegacyIntegration is the mode label legacy runs carry in their result
// document; the request flag stays ModeLegacy.
const ModeLegacyIntegration = "legacy_integration"

const maxParallelFeatures = 2

// Request is an accepted generation request.
type Request struct {
	UserStory  string `json:"user_story" binding:"required"`
	Mode       string `json:"mode"`
	LegacyCode string `json:"legacy_code"`
}

// FinalResult is the assembled pipeline output persisted with the task.
type FinalResult struct {
	TaskID               string                    `json:"task_id"`
	Mode                 string                    `json:"mode"`
	UserStory            string                    `json:"user_story"`
	Requirements         map[string]any            `json:"requirements,omitempty"`
	GeneratedCode        map[string]map[string]any `json:"generated_code,omitempty"`
	IntegrationReport    *agents.IntegrationReport `json:"integration_report,omitempty"`
	TestingReport        *agents.TestingReport     `json:"testing_report,omitempty"`
	LegacyAnalysis       map[string]any            `json:"legacy_analysis,omitempty"`
	BackwardCompatible   *bool                     `json:"backward_compatible,omitempty"`
	Features             []*FinalResult            `json:"features,omitempty"`
	ParallelSpeedup      string                    `json:"parallel_speedup,omitempty"`
	ExecutionTimeSeconds float64                   `json:"execution_time_seconds"`
	SpeedupVsManual      string                    `json:"speedup_vs_manual"`
	Status               string                    `json:"status"`
}

// TaskRecorder persists task lifecycle transitions.
type TaskRecorder interface {
	Add(id, userStory string, status models.TaskStatus) error
	Update(id string, status models.TaskStatus, result string) error
}

// ProgressSink receives live progress events for a task. Implementations
// must be non-blocking; the websocket hub drops on slow consumers.
type ProgressSink interface {
	Publish(taskID string, event map[string]any)
}

// Orchestrator owns the full pipeline wiring.
type Orchestrator struct {
	cfg         *config.Config
	store       TaskRecorder
	sink        ProgressSink
	generation  map[ai.Role]*agents.Agent
	integration *agents.IntegrationAgent
	testing     *agents.TestingAgent
	legacy      *legacy.Analyzer
	log         *zap.Logger
}

// New wires the orchestrator. store and sink may be nil; both degrade to
// no-ops so the pipeline itself stays testable in isolation.
func New(cfg *config.Config, recorder TaskRecorder, sink ProgressSink, client *ai.Client, bus agents.StatusPublisher, log *zap.Logger) *Orchestrator {
	generation := map[ai.Role]*agents.Agent{}
	for _, role := range []ai.Role{ai.RoleParser, ai.RoleFrontend, ai.RoleBackend, ai.RoleDatabase} {
		generation[role] = agents.New(role, client, bus, log)
	}
	return &Orchestrator{
		cfg:         cfg,
		store:       recorder,
		sink:        sink,
		generation:  generation,
		integration: agents.NewIntegrationAgent(client, log),
		testing:     agents.NewTestingAgent(client, bus, cfg.ExecuteTests, cfg.TestTimeout, log),
		legacy:      legacy.NewAnalyzer(client, log),
		log:         log,
	}
}

// Start accepts a request: records a pending task and launches the pipeline
// in the background. Returns the new task id.
func (o *Orchestrator) Start(req Request) (string, error) {
	taskID := uuid.New().String()
	if err := o.addRecord(taskID, req.UserStory); err != nil {
		return "", err
	}
	go o.Run(context.Background(), taskID, req)
	return taskID, nil
}

// Run executes the pipeline for an already-recorded task. It never panics
// outward and always leaves the task in exactly one terminal state.
func (o *Orchestrator) Run(ctx context.Context, taskID string, req Request) {
	start := time.Now()
	mode := resolveMode(req)
	log := o.log.With(zap.String("task_id", taskID), zap.String("mode", mode))

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panic recovered", zap.Any("panic", r))
			o.finishFailed(taskID, mode, fmt.Sprintf("internal error: %v", r), start)
		}
	}()

	o.updateRecord(taskID, models.TaskRunning, "")
	log.Info("pipeline started", zap.String("story", truncateStory(req.UserStory)))

	var (
		result *FinalResult
		err    error
	)
	switch mode {
	case ModeLegacy:
		result, err = o.runLegacy(ctx, taskID, req)
	case ModeParallel:
		result, err = o.runParallel(ctx, taskID, req)
	default:
		result, err = o.runStandard(ctx, taskID, req.UserStory, o.progressReporter(taskID))
	}
	if err != nil {
		log.Warn("pipeline failed", zap.Error(err))
		o.finishFailed(taskID, mode, err.Error(), start)
		return
	}

	elapsed := time.Since(start)
	result.TaskID = taskID
	result.Mode = reportedMode(mode)
	result.Status = "completed"
	result.ExecutionTimeSeconds = elapsed.Seconds()
	result.SpeedupVsManual = fmt.Sprintf("%.1fx", o.cfg.ManualBaseline.Seconds()/elapsed.Seconds())

	o.updateRecord(taskID, models.TaskCompleted, marshalResult(result))
	o.publish(taskID, map[string]any{
		"type":     "complete",
		"progress": 100,
		"message":  "Pipeline completed",
		"result":   result,
	})
	metrics.PipelineRuns.WithLabelValues(mode, "completed").Inc()
	metrics.PipelineDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	log.Info("pipeline completed", zap.Duration("elapsed", elapsed))
}

// resolveMode applies the mode precedence. Legacy code present always wins;
// an explicit parallel request comes next; everything else is standard.
func resolveMode(req Request) string {
	if req.LegacyCode != "" || req.Mode == ModeLegacy {
		return ModeLegacy
	}
	if req.Mode == ModeParallel {
		return ModeParallel
	}
	return ModeStandard
}

// reportedMode maps a resolved mode to the label written into result
// documents.
func reportedMode(mode string) string {
	if mode == ModeLegacy {
		return ModeLegacyIntegration
	}
	return mode
}

// progressFunc reports one checkpoint.
type progressFunc func(progress int, message, agentID string)

func (o *Orchestrator) progressReporter(taskID string) progressFunc {
	return func(progress int, message, agentID string) {
		event := map[string]any{
			"type":     "progress",
			"progress": progress,
			"message":  message,
		}
		if agentID != "" {
			event["agent"] = agentID
		}
		o.publish(taskID, event)
	}
}

// runStandard is the sequential five-stage pipeline. Generation stages never
// abort the run: a failed agent result is replaced with its fallback payload
// so every downstream stage receives usable input.
func (o *Orchestrator) runStandard(ctx context.Context, taskID, userStory string, report progressFunc) (*FinalResult, error) {
	report(10, "Analyzing user story", agents.AgentID(ai.RoleParser))
	parsed, err := o.runStage(ctx, ai.RoleParser, taskID, userStory)
	if err != nil {
		return nil, err
	}
	requirements := parsed.Result
	report(30, "Requirements parsed", agents.AgentID(ai.RoleParser))

	if err := o.pause(ctx); err != nil {
		return nil, err
	}
	report(35, "Generating frontend", agents.AgentID(ai.RoleFrontend))
	frontend, err := o.runStage(ctx, ai.RoleFrontend, taskID,
		requirementText(requirements, "frontend_requirements", userStory))
	if err != nil {
		return nil, err
	}

	if err := o.pause(ctx); err != nil {
		return nil, err
	}
	report(55, "Generating backend", agents.AgentID(ai.RoleBackend))
	backend, err := o.runStage(ctx, ai.RoleBackend, taskID,
		requirementText(requirements, "backend_requirements", userStory))
	if err != nil {
		return nil, err
	}

	if err := o.pause(ctx); err != nil {
		return nil, err
	}
	report(70, "Generating database schema", agents.AgentID(ai.RoleDatabase))
	database, err := o.runStage(ctx, ai.RoleDatabase, taskID,
		requirementText(requirements, "database_requirements", userStory))
	if err != nil {
		return nil, err
	}

	frontendCode := ExtractCode(frontend.Result, "component_code")
	backendCode := ExtractCode(backend.Result, "api_code")

	report(80, "Verifying integration", "integration_agent")
	integrationReport := o.integration.Execute(ctx, frontendCode, backendCode)

	report(85, "Generating tests", "testing_agent")
	testingReport := o.testing.Execute(ctx, taskID, backendCode, frontendCode)

	return &FinalResult{
		UserStory:    userStory,
		Requirements: requirements,
		GeneratedCode: map[string]map[string]any{
			"frontend": frontend.Raw(),
			"backend":  backend.Raw(),
			"database": database.Raw(),
		},
		IntegrationReport: integrationReport,
		TestingReport:     testingReport,
	}, nil
}

// runStage executes one generation agent with the degradation guard: a
// failed result is substituted with a successful result carrying the role's
// fallback payload unless the run itself was cancelled.
func (o *Orchestrator) runStage(ctx context.Context, role ai.Role, taskID, requirements string) (agents.Result, error) {
	if err := ctx.Err(); err != nil {
		return agents.Result{}, fmt.Errorf("pipeline cancelled: %w", err)
	}

	result := o.generation[role].Execute(ctx, agents.Request{TaskID: taskID, Requirements: requirements})
	if result.Status == "success" {
		return result, nil
	}

	if err := ctx.Err(); err != nil {
		return agents.Result{}, fmt.Errorf("pipeline cancelled: %w", err)
	}
	o.log.Warn("stage failed, substituting fallback payload",
		zap.String("agent", agents.AgentID(role)), zap.String("error", result.Error))
	return agents.Success(agents.FallbackPayload(role, requirements)), nil
}

// runParallel splits the story into independent features and runs the
// standard pipeline per feature. Features execute one after another because
// the completion quota is process-wide; the split still yields separately
// tracked sub-tasks and per-feature results.
func (o *Orchestrator) runParallel(ctx context.Context, taskID string, req Request) (*FinalResult, error) {
	features := SplitFeatures(req.UserStory)
	if len(features) < 2 {
		return o.runStandard(ctx, taskID, req.UserStory, o.progressReporter(taskID))
	}

	report := o.progressReporter(taskID)
	report(10, fmt.Sprintf("Split into %d features", len(features)), "")

	results := make([]*FinalResult, 0, len(features))
	for i, feature := range features {
		subID := fmt.Sprintf("%s_f%d", taskID, i)
		if err := o.addRecord(subID, feature); err != nil {
			o.log.Warn("failed to record sub-task", zap.String("sub_task_id", subID), zap.Error(err))
		}

		base := 20 + 40*i
		report(base, fmt.Sprintf("Building feature %d: %s", i+1, truncateStory(feature)), "")

		subStart := time.Now()
		sub, err := o.runStandard(ctx, subID, feature, func(progress int, message, agentID string) {
			// Map the sub-run's 0-100 into this feature's slot.
			report(base+progress*40/100, message, agentID)
		})
		if err != nil {
			o.updateRecord(subID, models.TaskFailed, "")
			return nil, err
		}
		subElapsed := time.Since(subStart)
		sub.TaskID = subID
		sub.Mode = ModeStandard
		sub.Status = "completed"
		sub.ExecutionTimeSeconds = subElapsed.Seconds()
		sub.SpeedupVsManual = fmt.Sprintf("%.1fx", o.cfg.ManualBaseline.Seconds()/subElapsed.Seconds())
		o.updateRecord(subID, models.TaskCompleted, marshalResult(sub))
		results = append(results, sub)
	}

	return &FinalResult{
		UserStory:       req.UserStory,
		Features:        results,
		ParallelSpeedup: fmt.Sprintf("%.1fx", float64(len(features))),
	}, nil
}

// runLegacy integrates a new feature into an existing codebase.
func (o *Orchestrator) runLegacy(ctx context.Context, taskID string, req Request) (*FinalResult, error) {
	if strings.TrimSpace(req.LegacyCode) == "" {
		return nil, fmt.Errorf("legacy mode requires legacy_code")
	}

	report := o.progressReporter(taskID)
	report(10, "Analyzing legacy codebase", "legacy_agent")

	analysis := o.legacy.Analyze(ctx, req.LegacyCode, req.UserStory)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("pipeline cancelled: %w", err)
	}
	report(90, "Legacy integration complete", "legacy_agent")

	compatible := analysis.BackwardCompatible
	modified := agents.Success(map[string]any{
		"api_code":     analysis.Phase4Modifications.ModifiedCode,
		"changes_made": analysis.Phase4Modifications.ChangesMade,
	})
	return &FinalResult{
		UserStory: req.UserStory,
		GeneratedCode: map[string]map[string]any{
			"modified_backend": modified.Raw(),
		},
		LegacyAnalysis:     legacy.MarshalReport(analysis),
		BackwardCompatible: &compatible,
	}, nil
}

// SplitFeatures divides a user story into independent features on the "and"
// conjunction, capped at two features.
func SplitFeatures(userStory string) []string {
	parts := strings.Split(userStory, " and ")
	features := make([]string, 0, maxParallelFeatures)
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			features = append(features, trimmed)
		}
		if len(features) == maxParallelFeatures {
			break
		}
	}
	return features
}

// pause applies the inter-phase delay, aborting early on cancellation.
func (o *Orchestrator) pause(ctx context.Context) error {
	if o.cfg.InterPhaseDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(o.cfg.InterPhaseDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pipeline cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// finishFailed records the single failed terminal transition.
func (o *Orchestrator) finishFailed(taskID, mode, reason string, start time.Time) {
	o.updateRecord(taskID, models.TaskFailed, marshalResult(map[string]any{
		"task_id": taskID,
		"status":  "failed",
		"error":   reason,
	}))
	o.publish(taskID, map[string]any{
		"type":    "error",
		"message": reason,
	})
	metrics.PipelineRuns.WithLabelValues(mode, "failed").Inc()
	metrics.PipelineDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}

func (o *Orchestrator) addRecord(taskID, userStory string) error {
	if o.store == nil {
		return nil
	}
	return o.store.Add(taskID, userStory, models.TaskPending)
}

func (o *Orchestrator) updateRecord(taskID string, status models.TaskStatus, result string) {
	if o.store == nil {
		return
	}
	if err := o.store.Update(taskID, status, result); err != nil {
		o.log.Warn("failed to update task record",
			zap.String("task_id", taskID), zap.Error(err))
	}
}

func (o *Orchestrator) publish(taskID string, event map[string]any) {
	if o.sink == nil {
		return
	}
	o.sink.Publish(taskID, event)
}

func marshalResult(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return `{"error":"result serialization failed"}`
	}
	return string(raw)
}

func truncateStory(s string) string {
	if len(s) <= 80 {
		return s
	}
	return s[:80] + "..."
}
