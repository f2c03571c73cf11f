package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"devorchestra/internal/ai"
	"devorchestra/internal/bus"
	"devorchestra/internal/config"
	"devorchestra/internal/orchestrator"
	"devorchestra/internal/store"
	"devorchestra/internal/ws"
	"devorchestra/pkg/models"
)

func newTestRouter(t *testing.T) (*gin.Engine, *store.TaskStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()

	taskStore, err := store.New(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { taskStore.Close() })

	statusBus := bus.New("", log)
	hub := ws.NewHub(log)
	go hub.Run()
	t.Cleanup(hub.Shutdown)

	cfg := &config.Config{
		InterPhaseDelay: 0,
		ManualBaseline:  4 * time.Hour,
		ExecuteTests:    false,
		TestTimeout:     time.Second,
	}
	// No provider: the pipeline still completes on fallback content.
	client := ai.NewClient(nil, ai.NewThrottle(time.Nanosecond), ai.DefaultClientConfig(), log)
	orch := orchestrator.New(cfg, taskStore, hub, client, statusBus, log)

	router := gin.New()
	New(orch, taskStore, statusBus, hub, log).Register(router)
	return router, taskStore
}

func postJSON(router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func getPath(router *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGenerateAcceptsStory(t *testing.T) {
	router, taskStore := newTestRouter(t)

	w := postJSON(router, "/api/generate", gin.H{"user_story": "track my books"})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.TaskID)
	assert.Equal(t, "pending", resp.Status)

	// The record exists immediately, before the pipeline finishes.
	task, err := taskStore.Get(resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "track my books", task.UserStory)

	// The background run reaches a terminal state.
	require.Eventually(t, func() bool {
		task, err := taskStore.Get(resp.TaskID)
		return err == nil && task.Status.Terminal()
	}, 5*time.Second, 20*time.Millisecond)
}

func TestGenerateRejectsMissingStory(t *testing.T) {
	router, _ := newTestRouter(t)

	assert.Equal(t, http.StatusBadRequest, postJSON(router, "/api/generate", gin.H{}).Code)
	assert.Equal(t, http.StatusBadRequest, postJSON(router, "/api/generate", gin.H{"user_story": "   "}).Code)
}

func TestGenerateRejectsOversizedStory(t *testing.T) {
	router, _ := newTestRouter(t)

	huge := make([]byte, maxStoryLength+1)
	for i := range huge {
		huge[i] = 'a'
	}
	w := postJSON(router, "/api/generate", gin.H{"user_story": string(huge)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTask(t *testing.T) {
	router, taskStore := newTestRouter(t)
	require.NoError(t, taskStore.Add("t1", "a story", models.TaskPending))

	w := getPath(router, "/api/tasks/t1")
	require.Equal(t, http.StatusOK, w.Code)

	var task models.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &task))
	assert.Equal(t, "a story", task.UserStory)

	assert.Equal(t, http.StatusNotFound, getPath(router, "/api/tasks/missing").Code)
}

func TestLatestTask(t *testing.T) {
	router, taskStore := newTestRouter(t)

	assert.Equal(t, http.StatusNotFound, getPath(router, "/api/tasks/latest").Code)

	require.NoError(t, taskStore.Add("t1", "a story", models.TaskCompleted))
	w := getPath(router, "/api/tasks/latest")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestTaskHistoryWithDisabledBus(t *testing.T) {
	router, _ := newTestRouter(t)

	w := getPath(router, "/api/tasks/t1/history")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		History []bus.StatusMessage `json:"history"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.History)
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)

	w := getPath(router, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "ok", resp["database"])
	assert.Equal(t, "disabled", resp["redis"])
}
