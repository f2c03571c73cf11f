package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"devorchestra/internal/ai"
	"devorchestra/internal/config"
	"devorchestra/pkg/models"
)

// memoryRecorder is an in-memory TaskRecorder that tracks every transition.
type memoryRecorder struct {
	mu          sync.Mutex
	records     map[string]models.Task
	transitions map[string][]models.TaskStatus
}

func newMemoryRecorder() *memoryRecorder {
	return &memoryRecorder{
		records:     map[string]models.Task{},
		transitions: map[string][]models.TaskStatus{},
	}
}

func (m *memoryRecorder) Add(id, userStory string, status models.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id] = models.Task{ID: id, UserStory: userStory, Status: status}
	m.transitions[id] = append(m.transitions[id], status)
	return nil
}

func (m *memoryRecorder) Update(id string, status models.TaskStatus, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task := m.records[id]
	task.ID = id
	task.Status = status
	if result != "" {
		task.Result = result
	}
	m.records[id] = task
	m.transitions[id] = append(m.transitions[id], status)
	return nil
}

func (m *memoryRecorder) task(id string) models.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id]
}

func (m *memoryRecorder) terminalCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.transitions[id] {
		if s.Terminal() {
			n++
		}
	}
	return n
}

// memorySink records published progress events.
type memorySink struct {
	mu     sync.Mutex
	events []map[string]any
}

func (m *memorySink) Publish(taskID string, event map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *memorySink) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		if t, ok := e["type"].(string); ok {
			out = append(out, t)
		}
	}
	return out
}

// routedProvider answers by prompt content so one stub serves every stage.
type routedProvider struct{}

func (routedProvider) Name() string { return "routed" }

func (routedProvider) Generate(ctx context.Context, prompt string) (string, error) {
	switch {
	case strings.Contains(prompt, "Analyze this user story"):
		return `{"frontend_requirements": "a form", "backend_requirements": "an items api", "database_requirements": "an items table"}`, nil
	case strings.Contains(prompt, "React developer"):
		return "export default function App() { return <div/>; }", nil
	case strings.Contains(prompt, "FastAPI developer"):
		return "@app.get(\"/items\")\ndef get_items():\n    return []\n", nil
	case strings.Contains(prompt, "database architect"):
		return "CREATE TABLE items (id SERIAL PRIMARY KEY);", nil
	case strings.Contains(prompt, "Analyze the integration"):
		return `{"compatible": true, "compatibility_score": 90, "mismatches": [], "integration_plan": "direct fetch"}`, nil
	case strings.Contains(prompt, "Playwright"):
		return "from playwright.sync_api import Page\n\ndef test_flow(page: Page):\n    pass\n", nil
	default:
		return "import pytest\n\ndef test_items():\n    pass\n", nil
	}
}

// stagePayload unwraps one generated_code entry, requiring the nested
// {status, result} document shape.
func stagePayload(t *testing.T, entry map[string]any) map[string]any {
	t.Helper()
	require.Equal(t, "success", entry["status"])
	inner, ok := entry["result"].(map[string]any)
	require.True(t, ok, "entry missing nested result: %v", entry)
	return inner
}

func testConfig() *config.Config {
	return &config.Config{
		InterPhaseDelay: 0,
		ManualBaseline:  4 * time.Hour,
		ExecuteTests:    false,
		TestTimeout:     time.Second,
	}
}

func newTestOrchestrator(recorder TaskRecorder, sink ProgressSink, provider ai.Provider) *Orchestrator {
	client := ai.NewClient(provider, ai.NewThrottle(time.Nanosecond), ai.ClientConfig{
		MaxAttempts:       3,
		DefaultRetryDelay: time.Millisecond,
	}, zap.NewNop())
	return New(testConfig(), recorder, sink, client, nil, zap.NewNop())
}

func TestRunStandardCompletes(t *testing.T) {
	recorder := newMemoryRecorder()
	sink := &memorySink{}
	orch := newTestOrchestrator(recorder, sink, routedProvider{})

	require.NoError(t, recorder.Add("task-1", "track my expenses", models.TaskPending))
	orch.Run(context.Background(), "task-1", Request{UserStory: "track my expenses"})

	task := recorder.task("task-1")
	require.Equal(t, models.TaskCompleted, task.Status)
	assert.Equal(t, 1, recorder.terminalCount("task-1"))

	var result FinalResult
	require.NoError(t, json.Unmarshal([]byte(task.Result), &result))
	assert.Equal(t, ModeStandard, result.Mode)
	assert.Equal(t, "completed", result.Status)
	assert.NotEmpty(t, stagePayload(t, result.GeneratedCode["backend"])["api_code"])
	assert.NotEmpty(t, stagePayload(t, result.GeneratedCode["frontend"])["component_code"])
	assert.NotEmpty(t, stagePayload(t, result.GeneratedCode["database"])["schema_sql"])
	require.NotNil(t, result.IntegrationReport)
	assert.True(t, result.IntegrationReport.Compatible)
	require.NotNil(t, result.TestingReport)
	assert.True(t, strings.HasSuffix(result.SpeedupVsManual, "x"))

	types := sink.types()
	require.NotEmpty(t, types)
	assert.Equal(t, "complete", types[len(types)-1])
	assert.NotContains(t, types, "error")
}

func TestRunWithoutProviderDegradesToFallbacks(t *testing.T) {
	recorder := newMemoryRecorder()
	orch := newTestOrchestrator(recorder, &memorySink{}, nil)

	require.NoError(t, recorder.Add("task-2", "a todo list", models.TaskPending))
	orch.Run(context.Background(), "task-2", Request{UserStory: "a todo list"})

	task := recorder.task("task-2")
	require.Equal(t, models.TaskCompleted, task.Status,
		"no provider means fallback content, not failure")

	var result FinalResult
	require.NoError(t, json.Unmarshal([]byte(task.Result), &result))
	assert.NotEmpty(t, stagePayload(t, result.GeneratedCode["backend"])["api_code"])
}

func TestRunParallelSplitsFeatures(t *testing.T) {
	recorder := newMemoryRecorder()
	orch := newTestOrchestrator(recorder, &memorySink{}, routedProvider{})

	require.NoError(t, recorder.Add("task-3", "a blog and a chat", models.TaskPending))
	orch.Run(context.Background(), "task-3", Request{UserStory: "a blog and a chat", Mode: ModeParallel})

	task := recorder.task("task-3")
	require.Equal(t, models.TaskCompleted, task.Status)

	var result FinalResult
	require.NoError(t, json.Unmarshal([]byte(task.Result), &result))
	assert.Equal(t, ModeParallel, result.Mode)
	require.Len(t, result.Features, 2)
	assert.Equal(t, "task-3_f0", result.Features[0].TaskID)
	assert.Equal(t, "task-3_f1", result.Features[1].TaskID)
	assert.Equal(t, "2.0x", result.ParallelSpeedup)
	for _, sub := range result.Features {
		assert.Greater(t, sub.ExecutionTimeSeconds, 0.0)
		assert.True(t, strings.HasSuffix(sub.SpeedupVsManual, "x"))
	}

	assert.Equal(t, models.TaskCompleted, recorder.task("task-3_f0").Status)
	assert.Equal(t, models.TaskCompleted, recorder.task("task-3_f1").Status)
}

func TestRunParallelSingleFeatureFallsBackToStandard(t *testing.T) {
	recorder := newMemoryRecorder()
	orch := newTestOrchestrator(recorder, &memorySink{}, routedProvider{})

	require.NoError(t, recorder.Add("task-4", "just one feature", models.TaskPending))
	orch.Run(context.Background(), "task-4", Request{UserStory: "just one feature", Mode: ModeParallel})

	var result FinalResult
	require.NoError(t, json.Unmarshal([]byte(recorder.task("task-4").Result), &result))
	assert.Empty(t, result.Features)
	assert.NotEmpty(t, result.GeneratedCode)
}

func TestRunCancelledReachesFailedState(t *testing.T) {
	recorder := newMemoryRecorder()
	sink := &memorySink{}
	orch := newTestOrchestrator(recorder, sink, routedProvider{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, recorder.Add("task-5", "anything", models.TaskPending))
	orch.Run(ctx, "task-5", Request{UserStory: "anything"})

	task := recorder.task("task-5")
	require.Equal(t, models.TaskFailed, task.Status)
	assert.Equal(t, 1, recorder.terminalCount("task-5"))
	assert.Contains(t, sink.types(), "error")
}

func TestRunLegacyMode(t *testing.T) {
	recorder := newMemoryRecorder()
	orch := newTestOrchestrator(recorder, &memorySink{}, routedProvider{})

	legacyCode := "@app.get('/old')\ndef old_endpoint():\n    return []\n"
	require.NoError(t, recorder.Add("task-6", "add export", models.TaskPending))
	orch.Run(context.Background(), "task-6", Request{UserStory: "add export", LegacyCode: legacyCode})

	task := recorder.task("task-6")
	require.Equal(t, models.TaskCompleted, task.Status)

	var result FinalResult
	require.NoError(t, json.Unmarshal([]byte(task.Result), &result))
	assert.Equal(t, ModeLegacyIntegration, result.Mode)
	require.NotNil(t, result.BackwardCompatible)
	assert.NotNil(t, result.LegacyAnalysis)
	assert.NotEmpty(t, stagePayload(t, result.GeneratedCode["modified_backend"])["api_code"])
}

func TestResolveModePrecedence(t *testing.T) {
	cases := []struct {
		req  Request
		want string
	}{
		{Request{Mode: ModeParallel, LegacyCode: "x"}, ModeLegacy},
		{Request{Mode: ModeLegacy}, ModeLegacy},
		{Request{Mode: ModeParallel}, ModeParallel},
		{Request{Mode: "weird"}, ModeStandard},
		{Request{}, ModeStandard},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, resolveMode(tc.req), "req: %+v", tc.req)
	}
}

func TestSplitFeatures(t *testing.T) {
	assert.Equal(t, []string{"a blog", "a chat"}, SplitFeatures("a blog and a chat"))
	assert.Equal(t, []string{"a", "b"}, SplitFeatures("a and b and c"), "capped at two features")
	assert.Equal(t, []string{"solo"}, SplitFeatures("solo"))
	assert.Equal(t, []string{"x"}, SplitFeatures("x and "))
}

func TestExtractCodeShapes(t *testing.T) {
	assert.Equal(t, "print(1)", ExtractCode(map[string]any{"api_code": "print(1)"}, "api_code"))

	nested := map[string]any{"result": map[string]any{"api_code": "```python\nprint(2)\n```"}}
	assert.Equal(t, "print(2)", ExtractCode(nested, "api_code"))

	structured := map[string]any{"api_code": map[string]any{"main.py": "print(3)"}}
	got := ExtractCode(structured, "api_code")
	assert.Contains(t, got, `"main.py"`)
	assert.Contains(t, got, "print(3)")

	assert.Empty(t, ExtractCode(nil, "api_code"))

	// Nothing matching: the whole payload is surfaced, not dropped.
	unmatched := ExtractCode(map[string]any{"other": "data"}, "api_code")
	assert.Contains(t, unmatched, `"other"`)
}
