package controlplane

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vibesurf-ai/VibeSurf-sub003/internal/credentials"
	"github.com/vibesurf-ai/VibeSurf-sub003/internal/engine/localexec"
	"github.com/vibesurf-ai/VibeSurf-sub003/internal/lifecycle"
	"github.com/vibesurf-ai/VibeSurf-sub003/internal/models"
	"github.com/vibesurf-ai/VibeSurf-sub003/internal/render"
	"github.com/vibesurf-ai/VibeSurf-sub003/internal/schedule"
	"github.com/vibesurf-ai/VibeSurf-sub003/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if _, err := st.CreateProfile(&models.Profile{
		Type:      models.ProfileTypeLLM,
		Name:      "default",
		IsActive:  true,
		IsDefault: true,
	}); err != nil {
		t.Fatalf("Failed to create default profile: %v", err)
	}

	workDir, _ := os.Getwd()
	mgr := lifecycle.New(st, localexec.New(workDir), credentials.Plaintext{}, 0)
	sched := schedule.New(st, mgr, 0)
	service := NewService(st, mgr, sched)
	server := NewServer(service, st, "127.0.0.1:0")

	t.Cleanup(func() {
		mgr.Close()
		st.Close()
	})
	return server, st
}

func TestHealthEndpoint_OK(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.handleHealth(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !health.OK {
		t.Error("Expected health.OK to be true")
	}
	if health.DB != "ok" {
		t.Errorf("Expected DB status 'ok', got '%s'", health.DB)
	}
	if health.Version == "" {
		t.Error("Expected version to be set")
	}
}

func TestHealthEndpoint_MethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	w := httptest.NewRecorder()
	s.handleHealth(w, req)

	if w.Result().StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Result().StatusCode)
	}
}

func TestSubmitTask(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"description":"echo hello"}`
	req := httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.handleTasks(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", resp.StatusCode, w.Body.String())
	}

	var task models.Task
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if task.ID == "" || task.SessionID == "" {
		t.Errorf("Task missing identifiers: %#v", task)
	}
	if task.Status != models.TaskStatusPending {
		t.Errorf("Expected pending, got %s", task.Status)
	}
	if task.StartedAt != nil {
		t.Error("started_at must be null right after submission")
	}
}

func TestSubmitTaskValidation(t *testing.T) {
	s, _ := newTestServer(t)

	for name, body := range map[string]string{
		"empty description": `{"description":"  "}`,
		"bad profile ref":   `{"description":"x","profile_ref":"nonsense"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader(body))
		w := httptest.NewRecorder()
		s.handleTasks(w, req)

		if w.Result().StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", name, w.Result().StatusCode)
		}
	}
}

func TestSubmitTaskUnknownProfile(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"description":"x","profile_ref":"llm/ghost"}`
	req := httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.handleTasks(w, req)

	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Result().StatusCode)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/tasks/no-such-id", nil)
	w := httptest.NewRecorder()
	s.handleTaskByID(w, req)

	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Result().StatusCode)
	}
}

func TestPauseNonRunningTaskConflicts(t *testing.T) {
	s, st := newTestServer(t)

	// Created directly in the store, so no worker picks it up.
	task, err := st.CreateTask("sess-1", "idle", "llm/default", nil)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/tasks/"+task.ID+"/pause", nil)
	w := httptest.NewRecorder()
	s.handleTaskByID(w, req)

	if w.Result().StatusCode != http.StatusConflict {
		t.Errorf("Expected status 409, got %d: %s", w.Result().StatusCode, w.Body.String())
	}
}

func TestStopTask(t *testing.T) {
	s, st := newTestServer(t)

	task, err := st.CreateTask("sess-1", "idle", "llm/default", nil)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/tasks/"+task.ID+"/stop", nil)
	w := httptest.NewRecorder()
	s.handleTaskByID(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, w.Body.String())
	}

	var stopped models.Task
	json.NewDecoder(resp.Body).Decode(&stopped)
	if stopped.Status != models.TaskStatusStopped {
		t.Errorf("Expected stopped, got %s", stopped.Status)
	}

	// A second stop hits a terminal task.
	w = httptest.NewRecorder()
	s.handleTaskByID(w, httptest.NewRequest(http.MethodPost, "/tasks/"+task.ID+"/stop", nil))
	if w.Result().StatusCode != http.StatusConflict {
		t.Errorf("Expected status 409 on repeated stop, got %d", w.Result().StatusCode)
	}
}

func TestTaskResultClassification(t *testing.T) {
	s, st := newTestServer(t)

	task, _ := st.CreateTask("sess-1", "idle", "llm/default", nil)
	st.TransitionTask(task.ID, models.TaskStatusPending, models.TaskStatusRunning, store.TransitionUpdate{})
	st.TransitionTask(task.ID, models.TaskStatusRunning, models.TaskStatusCompleted, store.TransitionUpdate{
		Result: json.RawMessage(`{"type":"text","data":"hello"}`),
	})

	req := httptest.NewRequest(http.MethodGet, "/tasks/"+task.ID+"/result", nil)
	w := httptest.NewRecorder()
	s.handleTaskByID(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, w.Body.String())
	}

	var result TaskResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if result.Status != models.TaskStatusCompleted {
		t.Errorf("Expected completed, got %s", result.Status)
	}
	if result.Render.Kind != render.KindText || result.Render.Text != "hello" {
		t.Errorf("Unexpected render: %#v", result.Render)
	}
}

func TestTaskResultForFailedTask(t *testing.T) {
	s, st := newTestServer(t)

	task, _ := st.CreateTask("sess-1", "idle", "llm/default", nil)
	st.TransitionTask(task.ID, models.TaskStatusPending, models.TaskStatusFailed, store.TransitionUpdate{
		ErrorMessage: "engine exploded",
	})

	req := httptest.NewRequest(http.MethodGet, "/tasks/"+task.ID+"/result", nil)
	w := httptest.NewRecorder()
	s.handleTaskByID(w, req)

	var result TaskResult
	json.NewDecoder(w.Result().Body).Decode(&result)
	if result.Render.Kind != render.KindError || result.Render.Message != "engine exploded" {
		t.Errorf("Unexpected render: %#v", result.Render)
	}
}

func TestTaskHistoryEndpoint(t *testing.T) {
	s, st := newTestServer(t)

	task, _ := st.CreateTask("sess-1", "idle", "llm/default", nil)
	st.TransitionTask(task.ID, models.TaskStatusPending, models.TaskStatusRunning, store.TransitionUpdate{})

	req := httptest.NewRequest(http.MethodGet, "/tasks/"+task.ID+"/history", nil)
	w := httptest.NewRecorder()
	s.handleTaskByID(w, req)

	var history []models.TaskTransition
	if err := json.NewDecoder(w.Result().Body).Decode(&history); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(history) != 1 || history[0].ToStatus != models.TaskStatusRunning {
		t.Errorf("Unexpected history: %#v", history)
	}
}

func TestScheduleEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"flow_ref":"flow-1","cron_expression":"0 * * * *"}`
	req := httptest.NewRequest(http.MethodPost, "/schedules", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.handleSchedules(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", resp.StatusCode, w.Body.String())
	}

	var sched models.Schedule
	json.NewDecoder(resp.Body).Decode(&sched)
	if sched.NextExecutionAt == nil {
		t.Error("next_execution_at must be set on creation")
	}

	// Duplicate flow binding.
	w = httptest.NewRecorder()
	s.handleSchedules(w, httptest.NewRequest(http.MethodPost, "/schedules", strings.NewReader(body)))
	if w.Result().StatusCode != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Result().StatusCode)
	}

	// Invalid cron.
	w = httptest.NewRecorder()
	s.handleSchedules(w, httptest.NewRequest(http.MethodPost, "/schedules", strings.NewReader(`{"flow_ref":"flow-2","cron_expression":"bogus"}`)))
	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Result().StatusCode)
	}

	// Disable clears the next fire time.
	w = httptest.NewRecorder()
	s.handleScheduleByID(w, httptest.NewRequest(http.MethodPost, "/schedules/"+sched.ID+"/disable", nil))
	var disabled models.Schedule
	json.NewDecoder(w.Result().Body).Decode(&disabled)
	if disabled.IsEnabled || disabled.NextExecutionAt != nil {
		t.Errorf("Unexpected disabled schedule: %#v", disabled)
	}

	// Delete, then 404.
	w = httptest.NewRecorder()
	s.handleScheduleByID(w, httptest.NewRequest(http.MethodDelete, "/schedules/"+sched.ID, nil))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Result().StatusCode)
	}
	w = httptest.NewRecorder()
	s.handleScheduleByID(w, httptest.NewRequest(http.MethodGet, "/schedules/"+sched.ID, nil))
	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Result().StatusCode)
	}
}

func TestProfileEndpointsNeverLeakSecrets(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"type":"llm","name":"openai","config":{"model":"gpt-4o"},"encrypted_secret":"opaque-blob"}`
	req := httptest.NewRequest(http.MethodPost, "/profiles", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.handleProfiles(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", resp.StatusCode, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "opaque-blob") {
		t.Error("Create response leaked the encrypted secret")
	}

	w = httptest.NewRecorder()
	s.handleProfileByRef(w, httptest.NewRequest(http.MethodGet, "/profiles/llm/openai", nil))
	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Result().StatusCode)
	}
	if strings.Contains(w.Body.String(), "opaque-blob") {
		t.Error("Get response leaked the encrypted secret")
	}

	w = httptest.NewRecorder()
	s.handleProfiles(w, httptest.NewRequest(http.MethodGet, "/profiles?type=llm", nil))
	if strings.Contains(w.Body.String(), "opaque-blob") {
		t.Error("List response leaked the encrypted secret")
	}
}

func TestProfileCreateValidation(t *testing.T) {
	s, _ := newTestServer(t)

	for name, body := range map[string]string{
		"unknown type": `{"type":"browser","name":"x"}`,
		"empty name":   `{"type":"llm","name":" "}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/profiles", strings.NewReader(body))
		w := httptest.NewRecorder()
		s.handleProfiles(w, req)

		if w.Result().StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", name, w.Result().StatusCode)
		}
	}
}

func TestProfileDuplicateConflicts(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"type":"llm","name":"openai"}`
	w := httptest.NewRecorder()
	s.handleProfiles(w, httptest.NewRequest(http.MethodPost, "/profiles", strings.NewReader(body)))
	if w.Result().StatusCode != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Result().StatusCode)
	}

	w = httptest.NewRecorder()
	s.handleProfiles(w, httptest.NewRequest(http.MethodPost, "/profiles", strings.NewReader(body)))
	if w.Result().StatusCode != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Result().StatusCode)
	}
}

func TestSetDefaultProfileEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"type":"llm","name":"openai"}`
	w := httptest.NewRecorder()
	s.handleProfiles(w, httptest.NewRequest(http.MethodPost, "/profiles", strings.NewReader(body)))

	w = httptest.NewRecorder()
	s.handleProfileByRef(w, httptest.NewRequest(http.MethodPost, "/profiles/llm/openai/default", nil))
	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Result().StatusCode, w.Body.String())
	}

	var p models.Profile
	json.NewDecoder(w.Result().Body).Decode(&p)
	if !p.IsDefault {
		t.Error("Profile should be default after promotion")
	}

	// Promoting a missing profile is a 404.
	w = httptest.NewRecorder()
	s.handleProfileByRef(w, httptest.NewRequest(http.MethodPost, "/profiles/llm/ghost/default", nil))
	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Result().StatusCode)
	}
}
