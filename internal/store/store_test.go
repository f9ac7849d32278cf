package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vibesurf-ai/VibeSurf-sub003/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestTaskCreateAndGet(t *testing.T) {
	s := newTestStore(t)

	task, err := s.CreateTask("sess-1", "visit example.com", "llm/default", map[string]string{"origin": "cli"})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if task.ID == "" {
		t.Error("Task ID should not be empty")
	}
	if task.Status != models.TaskStatusPending {
		t.Errorf("Expected pending, got %s", task.Status)
	}

	got, err := s.GetTask(task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Description != "visit example.com" {
		t.Errorf("Unexpected description: %s", got.Description)
	}
	if got.Metadata["origin"] != "cli" {
		t.Errorf("Metadata not round-tripped: %#v", got.Metadata)
	}
	if got.StartedAt != nil || got.CompletedAt != nil {
		t.Error("Timestamps must be null on a pending task")
	}

	missing, err := s.GetTask("no-such-id")
	if err != nil {
		t.Fatalf("GetTask for missing id errored: %v", err)
	}
	if missing != nil {
		t.Error("Expected nil for missing task")
	}
}

func TestListTasksFilters(t *testing.T) {
	s := newTestStore(t)

	a, _ := s.CreateTask("sess-1", "a", "", nil)
	s.CreateTask("sess-2", "b", "", nil)

	all, err := s.ListTasks("", "")
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected 2 tasks, got %d", len(all))
	}

	bySession, _ := s.ListTasks("", "sess-1")
	if len(bySession) != 1 || bySession[0].ID != a.ID {
		t.Errorf("Session filter wrong: %#v", bySession)
	}

	if _, err := s.TransitionTask(a.ID, models.TaskStatusPending, models.TaskStatusRunning, TransitionUpdate{}); err != nil {
		t.Fatalf("TransitionTask failed: %v", err)
	}
	running, _ := s.ListTasks("running", "")
	if len(running) != 1 {
		t.Errorf("Expected 1 running task, got %d", len(running))
	}
}

func TestTransitionStampsTimestamps(t *testing.T) {
	s := newTestStore(t)

	task, _ := s.CreateTask("sess-1", "work", "", nil)

	running, err := s.TransitionTask(task.ID, models.TaskStatusPending, models.TaskStatusRunning, TransitionUpdate{Detail: "dispatched"})
	if err != nil {
		t.Fatalf("TransitionTask failed: %v", err)
	}
	if running.StartedAt == nil {
		t.Error("started_at must be set when leaving pending")
	}
	if running.CompletedAt != nil {
		t.Error("completed_at must stay null while running")
	}

	result := json.RawMessage(`{"type":"text","data":"done"}`)
	done, err := s.TransitionTask(task.ID, models.TaskStatusRunning, models.TaskStatusCompleted, TransitionUpdate{Result: result})
	if err != nil {
		t.Fatalf("TransitionTask failed: %v", err)
	}
	if done.CompletedAt == nil {
		t.Error("completed_at must be set on terminal transition")
	}
	if string(done.Result) != string(result) {
		t.Errorf("Result not persisted: %s", done.Result)
	}
}

func TestTransitionIsCompareAndSet(t *testing.T) {
	s := newTestStore(t)

	task, _ := s.CreateTask("sess-1", "work", "", nil)

	if _, err := s.TransitionTask(task.ID, models.TaskStatusRunning, models.TaskStatusPaused, TransitionUpdate{}); !errors.Is(err, ErrStaleStatus) {
		t.Errorf("Expected ErrStaleStatus for wrong expected status, got %v", err)
	}

	// The failed attempt must leave no history behind.
	history, err := s.GetTaskHistory(task.ID)
	if err != nil {
		t.Fatalf("GetTaskHistory failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("Failed transition leaked history: %#v", history)
	}
}

func TestHistoryIsAppendOnly(t *testing.T) {
	s := newTestStore(t)

	task, _ := s.CreateTask("sess-1", "work", "", nil)
	s.TransitionTask(task.ID, models.TaskStatusPending, models.TaskStatusRunning, TransitionUpdate{Detail: "dispatched"})
	s.TransitionTask(task.ID, models.TaskStatusRunning, models.TaskStatusPaused, TransitionUpdate{})
	s.TransitionTask(task.ID, models.TaskStatusPaused, models.TaskStatusRunning, TransitionUpdate{})
	s.TransitionTask(task.ID, models.TaskStatusRunning, models.TaskStatusCompleted, TransitionUpdate{})

	history, err := s.GetTaskHistory(task.ID)
	if err != nil {
		t.Fatalf("GetTaskHistory failed: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("Expected 4 entries, got %d", len(history))
	}
	if history[0].FromStatus != models.TaskStatusPending || history[3].ToStatus != models.TaskStatusCompleted {
		t.Errorf("History out of order: %#v", history)
	}
}

func TestSessionQueries(t *testing.T) {
	s := newTestStore(t)

	first, _ := s.CreateTask("sess-1", "first", "", nil)
	second, _ := s.CreateTask("sess-1", "second", "", nil)

	active, err := s.ActiveTaskForSession("sess-1")
	if err != nil {
		t.Fatalf("ActiveTaskForSession failed: %v", err)
	}
	if active != nil {
		t.Error("No task is running yet")
	}

	next, err := s.NextPendingForSession("sess-1")
	if err != nil {
		t.Fatalf("NextPendingForSession failed: %v", err)
	}
	if next == nil || next.ID != first.ID {
		t.Errorf("Expected oldest pending task %s, got %#v", first.ID, next)
	}

	s.TransitionTask(first.ID, models.TaskStatusPending, models.TaskStatusRunning, TransitionUpdate{})

	active, _ = s.ActiveTaskForSession("sess-1")
	if active == nil || active.ID != first.ID {
		t.Errorf("Expected %s active, got %#v", first.ID, active)
	}

	next, _ = s.NextPendingForSession("sess-1")
	if next == nil || next.ID != second.ID {
		t.Errorf("Expected %s queued, got %#v", second.ID, next)
	}

	open, err := s.HasOpenTaskForSession("sess-1")
	if err != nil {
		t.Fatalf("HasOpenTaskForSession failed: %v", err)
	}
	if !open {
		t.Error("Session has open tasks")
	}

	sessions, err := s.PendingSessions()
	if err != nil {
		t.Fatalf("PendingSessions failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0] != "sess-1" {
		t.Errorf("Unexpected pending sessions: %v", sessions)
	}
}

func TestScheduleCRUD(t *testing.T) {
	s := newTestStore(t)

	next := time.Now().Add(time.Minute).UTC()
	sched, err := s.CreateSchedule("flow-1", "* * * * *", true, &next)
	if err != nil {
		t.Fatalf("CreateSchedule failed: %v", err)
	}

	if _, err := s.CreateSchedule("flow-1", "0 * * * *", true, &next); !errors.Is(err, ErrDuplicateFlow) {
		t.Errorf("Expected ErrDuplicateFlow, got %v", err)
	}

	got, err := s.GetScheduleByFlow("flow-1")
	if err != nil {
		t.Fatalf("GetScheduleByFlow failed: %v", err)
	}
	if got == nil || got.ID != sched.ID {
		t.Errorf("Unexpected schedule: %#v", got)
	}

	due, err := s.DueSchedules(time.Now().Add(2 * time.Minute))
	if err != nil {
		t.Fatalf("DueSchedules failed: %v", err)
	}
	if len(due) != 1 {
		t.Errorf("Expected 1 due schedule, got %d", len(due))
	}

	due, _ = s.DueSchedules(time.Now())
	if len(due) != 0 {
		t.Errorf("Expected no due schedules yet, got %d", len(due))
	}

	if err := s.DeleteSchedule(sched.ID); err != nil {
		t.Fatalf("DeleteSchedule failed: %v", err)
	}
	gone, _ := s.GetSchedule(sched.ID)
	if gone != nil {
		t.Error("Schedule should be deleted")
	}
}

func TestMarkScheduleFiredAndSkipped(t *testing.T) {
	s := newTestStore(t)

	next := time.Now().UTC()
	sched, _ := s.CreateSchedule("flow-1", "* * * * *", true, &next)

	firedAt := time.Now().UTC()
	later := firedAt.Add(time.Minute)
	if err := s.MarkScheduleFired(sched.ID, firedAt, later); err != nil {
		t.Fatalf("MarkScheduleFired failed: %v", err)
	}

	got, _ := s.GetSchedule(sched.ID)
	if got.ExecutionCount != 1 {
		t.Errorf("Expected count 1, got %d", got.ExecutionCount)
	}
	if got.LastExecutionAt == nil {
		t.Error("last_execution_at must be set")
	}

	if err := s.MarkScheduleSkipped(sched.ID, later.Add(time.Minute), "prior run still active"); err != nil {
		t.Fatalf("MarkScheduleSkipped failed: %v", err)
	}
	got, _ = s.GetSchedule(sched.ID)
	if got.ExecutionCount != 1 {
		t.Errorf("Skip must not change count, got %d", got.ExecutionCount)
	}
	if got.LastError != "prior run still active" {
		t.Errorf("Unexpected last_error: %q", got.LastError)
	}

	// A later successful fire clears the recorded cause.
	if err := s.MarkScheduleFired(sched.ID, later, later.Add(2*time.Minute)); err != nil {
		t.Fatalf("MarkScheduleFired failed: %v", err)
	}
	got, _ = s.GetSchedule(sched.ID)
	if got.LastError != "" {
		t.Errorf("Fire must clear last_error, got %q", got.LastError)
	}
}

func TestScheduleEnableDisable(t *testing.T) {
	s := newTestStore(t)

	next := time.Now().Add(time.Minute).UTC()
	sched, _ := s.CreateSchedule("flow-1", "* * * * *", true, &next)

	if err := s.SetScheduleEnabled(sched.ID, false, nil); err != nil {
		t.Fatalf("SetScheduleEnabled failed: %v", err)
	}
	got, _ := s.GetSchedule(sched.ID)
	if got.IsEnabled || got.NextExecutionAt != nil {
		t.Errorf("Disable must clear next_execution_at: %#v", got)
	}

	fresh := time.Now().Add(time.Hour).UTC()
	if err := s.SetScheduleEnabled(sched.ID, true, &fresh); err != nil {
		t.Fatalf("SetScheduleEnabled failed: %v", err)
	}
	got, _ = s.GetSchedule(sched.ID)
	if !got.IsEnabled || got.NextExecutionAt == nil {
		t.Errorf("Enable must restore next_execution_at: %#v", got)
	}
}

func TestProfileCRUD(t *testing.T) {
	s := newTestStore(t)

	p, err := s.CreateProfile(&models.Profile{
		Type:     models.ProfileTypeLLM,
		Name:     "openai",
		Config:   json.RawMessage(`{"model":"gpt-4o"}`),
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("CreateProfile failed: %v", err)
	}

	if _, err := s.CreateProfile(&models.Profile{Type: models.ProfileTypeLLM, Name: "openai"}); !errors.Is(err, ErrProfileExists) {
		t.Errorf("Expected ErrProfileExists, got %v", err)
	}

	// Same name under a different type is fine.
	if _, err := s.CreateProfile(&models.Profile{Type: models.ProfileTypeVoice, Name: "openai", IsActive: true}); err != nil {
		t.Errorf("Same name, different type should succeed: %v", err)
	}

	got, err := s.GetProfile(models.ProfileTypeLLM, "openai")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if got.ID != p.ID || string(got.Config) != `{"model":"gpt-4o"}` {
		t.Errorf("Unexpected profile: %#v", got)
	}

	updated, err := s.UpdateProfile(models.ProfileTypeLLM, "openai", json.RawMessage(`{"model":"gpt-5"}`), "blob", false)
	if err != nil {
		t.Fatalf("UpdateProfile failed: %v", err)
	}
	if updated.IsActive || string(updated.Config) != `{"model":"gpt-5"}` || updated.EncryptedSecret != "blob" {
		t.Errorf("Update not applied: %#v", updated)
	}

	missing, err := s.UpdateProfile(models.ProfileTypeLLM, "ghost", nil, "", true)
	if err != nil {
		t.Fatalf("UpdateProfile for missing profile errored: %v", err)
	}
	if missing != nil {
		t.Error("Expected nil for missing profile")
	}

	if err := s.DeleteProfile(models.ProfileTypeLLM, "openai"); err != nil {
		t.Fatalf("DeleteProfile failed: %v", err)
	}
	gone, _ := s.GetProfile(models.ProfileTypeLLM, "openai")
	if gone != nil {
		t.Error("Profile should be deleted")
	}
}

// Promoting a new default must atomically demote the previous one: exactly
// one default per type survives.
func TestSetDefaultProfileIsExclusive(t *testing.T) {
	s := newTestStore(t)

	s.CreateProfile(&models.Profile{Type: models.ProfileTypeLLM, Name: "a", IsActive: true, IsDefault: true})
	s.CreateProfile(&models.Profile{Type: models.ProfileTypeLLM, Name: "b", IsActive: true})
	s.CreateProfile(&models.Profile{Type: models.ProfileTypeVoice, Name: "v", IsActive: true, IsDefault: true})

	promoted, err := s.SetDefaultProfile(models.ProfileTypeLLM, "b")
	if err != nil {
		t.Fatalf("SetDefaultProfile failed: %v", err)
	}
	if promoted == nil || !promoted.IsDefault {
		t.Fatalf("Expected b promoted, got %#v", promoted)
	}

	profiles, _ := s.ListProfiles(models.ProfileTypeLLM, false)
	defaults := 0
	for _, p := range profiles {
		if p.IsDefault {
			defaults++
			if p.Name != "b" {
				t.Errorf("Wrong default: %s", p.Name)
			}
		}
	}
	if defaults != 1 {
		t.Errorf("Expected exactly one default, got %d", defaults)
	}

	// Other types are untouched.
	voice, _ := s.GetDefaultProfile(models.ProfileTypeVoice)
	if voice == nil || voice.Name != "v" {
		t.Errorf("Voice default disturbed: %#v", voice)
	}
}

// Promoting a missing or inactive profile must leave the old default alone.
func TestSetDefaultProfileRollsBackOnMiss(t *testing.T) {
	s := newTestStore(t)

	s.CreateProfile(&models.Profile{Type: models.ProfileTypeLLM, Name: "a", IsActive: true, IsDefault: true})
	s.CreateProfile(&models.Profile{Type: models.ProfileTypeLLM, Name: "inactive", IsActive: false})

	for _, name := range []string{"ghost", "inactive"} {
		promoted, err := s.SetDefaultProfile(models.ProfileTypeLLM, name)
		if err != nil {
			t.Fatalf("SetDefaultProfile(%s) errored: %v", name, err)
		}
		if promoted != nil {
			t.Errorf("SetDefaultProfile(%s) should not promote", name)
		}
		def, _ := s.GetDefaultProfile(models.ProfileTypeLLM)
		if def == nil || def.Name != "a" {
			t.Errorf("Old default lost after failed promotion of %s: %#v", name, def)
		}
	}
}

func TestCreateProfileAsDefaultDemotesOthers(t *testing.T) {
	s := newTestStore(t)

	s.CreateProfile(&models.Profile{Type: models.ProfileTypeLLM, Name: "a", IsActive: true, IsDefault: true})
	s.CreateProfile(&models.Profile{Type: models.ProfileTypeLLM, Name: "b", IsActive: true, IsDefault: true})

	profiles, _ := s.ListProfiles(models.ProfileTypeLLM, false)
	defaults := 0
	for _, p := range profiles {
		if p.IsDefault {
			defaults++
		}
	}
	if defaults != 1 {
		t.Errorf("Expected exactly one default after create, got %d", defaults)
	}
}

func TestTouchProfileUsed(t *testing.T) {
	s := newTestStore(t)

	p, _ := s.CreateProfile(&models.Profile{Type: models.ProfileTypeLLM, Name: "a", IsActive: true})
	if p.LastUsedAt != nil {
		t.Error("last_used_at should start null")
	}

	if err := s.TouchProfileUsed(p.ID); err != nil {
		t.Fatalf("TouchProfileUsed failed: %v", err)
	}
	got, _ := s.GetProfile(models.ProfileTypeLLM, "a")
	if got.LastUsedAt == nil {
		t.Error("last_used_at must be stamped on use")
	}
}

func TestListProfilesFilters(t *testing.T) {
	s := newTestStore(t)

	s.CreateProfile(&models.Profile{Type: models.ProfileTypeLLM, Name: "a", IsActive: true})
	s.CreateProfile(&models.Profile{Type: models.ProfileTypeLLM, Name: "b", IsActive: false})
	s.CreateProfile(&models.Profile{Type: models.ProfileTypeMCP, Name: "m", IsActive: true})

	all, _ := s.ListProfiles("", false)
	if len(all) != 3 {
		t.Errorf("Expected 3 profiles, got %d", len(all))
	}

	llm, _ := s.ListProfiles(models.ProfileTypeLLM, false)
	if len(llm) != 2 {
		t.Errorf("Expected 2 llm profiles, got %d", len(llm))
	}

	activeLLM, _ := s.ListProfiles(models.ProfileTypeLLM, true)
	if len(activeLLM) != 1 || activeLLM[0].Name != "a" {
		t.Errorf("Unexpected active llm profiles: %#v", activeLLM)
	}
}
