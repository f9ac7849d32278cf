// Package lifecycle owns the task state machine.
//
// States: pending -> running -> {paused <-> running} -> {completed, failed,
// stopped}. Every non-terminal state may move directly to stopped or failed.
// Terminal states admit no further transitions; attempts surface as
// ErrTaskAlreadyTerminal rather than being silently ignored.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vibesurf-ai/VibeSurf-sub003/internal/audit"
	"github.com/vibesurf-ai/VibeSurf-sub003/internal/credentials"
	"github.com/vibesurf-ai/VibeSurf-sub003/internal/engine"
	"github.com/vibesurf-ai/VibeSurf-sub003/internal/models"
	"github.com/vibesurf-ai/VibeSurf-sub003/internal/store"
)

// DefaultMaxActive caps concurrently executing tasks across all sessions.
const DefaultMaxActive = 10

// Manager accepts task submissions, drives the state machine, and runs one
// worker goroutine per executing task. At most one task per session is
// running or paused at a time; later submissions for the same session queue
// in pending order.
type Manager struct {
	store     *store.Store
	engine    engine.Engine
	decryptor credentials.Decryptor
	maxActive int

	// mu guards controls and serializes session-slot acquisition; it is the
	// only cross-task lock.
	mu       sync.Mutex
	controls map[string]*taskControl

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type taskControl struct {
	cancel  context.CancelFunc
	control *engine.Control
}

// New creates a lifecycle manager. maxActive <= 0 selects DefaultMaxActive.
func New(s *store.Store, eng engine.Engine, dec credentials.Decryptor, maxActive int) *Manager {
	if maxActive <= 0 {
		maxActive = DefaultMaxActive
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:     s,
		engine:    eng,
		decryptor: dec,
		maxActive: maxActive,
		controls:  make(map[string]*taskControl),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Recover restores persisted state after a restart: tasks left running or
// paused by a crashed process are failed (their workers are gone), then
// queued sessions are dispatched.
func (m *Manager) Recover() {
	for _, status := range []models.TaskStatus{models.TaskStatusRunning, models.TaskStatusPaused} {
		orphans, err := m.store.ListTasks(string(status), "")
		if err != nil {
			log.Printf("Lifecycle recovery: list %s tasks: %v", status, err)
			continue
		}
		for i := range orphans {
			task := &orphans[i]
			_, err := m.store.TransitionTask(task.ID, task.Status, models.TaskStatusFailed, store.TransitionUpdate{
				ErrorMessage: "interrupted by orchestrator restart",
				Detail:       "recovery",
			})
			if err != nil {
				log.Printf("Lifecycle recovery: fail task %s: %v", task.ID, err)
			}
		}
	}

	sessions, err := m.store.PendingSessions()
	if err != nil {
		log.Printf("Lifecycle recovery: list pending sessions: %v", err)
		return
	}
	for _, session := range sessions {
		m.dispatchSession(session)
	}
	log.Println("Lifecycle manager started")
}

// Close cancels all workers and waits for them to exit. Task rows keep
// whatever status they reached; recovery handles them on next start.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
	log.Println("Lifecycle manager stopped")
}

// Submit validates the submission, creates the task in pending status, and
// dispatches it unless its session already has an active task (QUEUE
// policy: the task stays pending until the session slot frees up).
func (m *Manager) Submit(sessionID, description, profileRef string, metadata map[string]string) (*models.Task, error) {
	if strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("%w: description is required", ErrValidation)
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	profile, err := m.resolveProfile(profileRef)
	if err != nil {
		return nil, err
	}

	task, err := m.store.CreateTask(sessionID, description, profile.Ref(), metadata)
	if err != nil {
		return nil, err
	}

	// Dispatch asynchronously: the caller observes the task in pending until
	// a worker picks it up.
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.dispatchSession(sessionID)
	}()
	return task, nil
}

// resolveProfile maps a "type/name" reference to an active profile. An
// empty reference selects the default LLM profile.
func (m *Manager) resolveProfile(ref string) (*models.Profile, error) {
	if ref == "" {
		p, err := m.store.GetDefaultProfile(models.ProfileTypeLLM)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("%w: no default llm profile", ErrProfileNotFound)
		}
		return p, nil
	}

	ptype, name, ok := strings.Cut(ref, "/")
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: profile ref must be type/name", ErrValidation)
	}
	if !models.ValidProfileType(models.ProfileType(ptype)) {
		return nil, fmt.Errorf("%w: unknown profile type %q", ErrValidation, ptype)
	}

	p, err := m.store.GetProfile(models.ProfileType(ptype), name)
	if err != nil {
		return nil, err
	}
	if p == nil || !p.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, ref)
	}
	return p, nil
}

// GetStatus returns the task row.
func (m *Manager) GetStatus(taskID string) (*models.Task, error) {
	task, err := m.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// History returns the append-only transition history.
func (m *Manager) History(taskID string) ([]models.TaskTransition, error) {
	task, err := m.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	return m.store.GetTaskHistory(taskID)
}

// Start transitions a pending task to running and launches its worker. It
// fails when the task is not pending or its session slot is taken.
func (m *Manager) Start(taskID string) (*models.Task, error) {
	task, err := m.GetStatus(taskID)
	if err != nil {
		return nil, err
	}
	if task.Status.Terminal() {
		return nil, fmt.Errorf("%w: task is %s", ErrTaskAlreadyTerminal, task.Status)
	}
	if task.Status != models.TaskStatusPending {
		return nil, fmt.Errorf("%w: %s -> running", ErrInvalidTransition, task.Status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	active, err := m.store.ActiveTaskForSession(task.SessionID)
	if err != nil {
		return nil, err
	}
	if active != nil && active.ID != taskID {
		return nil, fmt.Errorf("%w: session %s already has an active task", ErrInvalidTransition, task.SessionID)
	}
	return m.startLocked(task)
}

// Pause suspends a running task. The task keeps its session slot.
func (m *Manager) Pause(taskID string) (*models.Task, error) {
	task, err := m.transition(taskID, models.TaskStatusPaused, store.TransitionUpdate{
		Detail:     "paused by caller",
		InputsHash: audit.HashInputs(taskID),
	}, models.TaskStatusRunning)
	if err != nil {
		return nil, err
	}
	if tc := m.lookupControl(taskID); tc != nil {
		tc.control.Pause()
	}
	return task, nil
}

// Resume returns a paused task to running.
func (m *Manager) Resume(taskID string) (*models.Task, error) {
	task, err := m.transition(taskID, models.TaskStatusRunning, store.TransitionUpdate{
		Detail:     "resumed by caller",
		InputsHash: audit.HashInputs(taskID),
	}, models.TaskStatusPaused)
	if err != nil {
		return nil, err
	}
	if tc := m.lookupControl(taskID); tc != nil {
		tc.control.Resume()
	}
	return task, nil
}

// Complete records a successful terminal result. A second terminal call
// fails with ErrTaskAlreadyTerminal; history is never rewritten.
func (m *Manager) Complete(taskID string, result json.RawMessage) (*models.Task, error) {
	task, err := m.transition(taskID, models.TaskStatusCompleted, store.TransitionUpdate{
		Result:     result,
		Detail:     "completed",
		InputsHash: audit.HashInputs(result),
	}, models.TaskStatusRunning)
	if err != nil {
		return nil, err
	}
	m.releaseTask(taskID, task.SessionID)
	return task, nil
}

// Fail records an unrecoverable error on the task.
func (m *Manager) Fail(taskID, errorMessage string) (*models.Task, error) {
	task, err := m.transition(taskID, models.TaskStatusFailed, store.TransitionUpdate{
		ErrorMessage: errorMessage,
		Detail:       "failed",
		InputsHash:   audit.HashInputs(errorMessage),
	}, models.TaskStatusPending, models.TaskStatusRunning, models.TaskStatusPaused)
	if err != nil {
		return nil, err
	}
	m.releaseTask(taskID, task.SessionID)
	return task, nil
}

// Stop cancels a task. The terminal state is recorded immediately; the
// underlying work is cancelled cooperatively and may take a moment to halt.
func (m *Manager) Stop(taskID string) (*models.Task, error) {
	task, err := m.transition(taskID, models.TaskStatusStopped, store.TransitionUpdate{
		Detail:     "stopped by caller",
		InputsHash: audit.HashInputs(taskID),
	}, models.TaskStatusPending, models.TaskStatusRunning, models.TaskStatusPaused)
	if err != nil {
		return nil, err
	}
	m.releaseTask(taskID, task.SessionID)
	return task, nil
}

// transition applies a compare-and-set status change, mapping store-level
// staleness to the error taxonomy. Retries when the row moved between the
// read and the update.
func (m *Manager) transition(taskID string, to models.TaskStatus, upd store.TransitionUpdate, allowed ...models.TaskStatus) (*models.Task, error) {
	for attempt := 0; attempt < 3; attempt++ {
		task, err := m.store.GetTask(taskID)
		if err != nil {
			return nil, err
		}
		if task == nil {
			return nil, ErrTaskNotFound
		}
		if task.Status.Terminal() {
			return nil, fmt.Errorf("%w: task is %s", ErrTaskAlreadyTerminal, task.Status)
		}
		if !statusIn(task.Status, allowed) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, task.Status, to)
		}

		updated, err := m.store.TransitionTask(taskID, task.Status, to, upd)
		if errors.Is(err, store.ErrStaleStatus) {
			continue
		}
		return updated, err
	}
	return nil, fmt.Errorf("%w: task changed concurrently", ErrInvalidTransition)
}

// releaseTask tears down the worker control after a terminal transition and
// hands the session slot to the next queued task.
func (m *Manager) releaseTask(taskID, sessionID string) {
	m.mu.Lock()
	if tc, ok := m.controls[taskID]; ok {
		delete(m.controls, taskID)
		tc.control.Resume() // unblock a paused worker so it can observe cancel
		tc.cancel()
	}
	m.mu.Unlock()

	m.dispatchSession(sessionID)
}

// dispatchSession starts the oldest pending task of a session when the
// session has no active task and global capacity allows.
func (m *Manager) dispatchSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.controls) >= m.maxActive {
		return
	}

	active, err := m.store.ActiveTaskForSession(sessionID)
	if err != nil {
		log.Printf("Dispatch session %s: %v", sessionID, err)
		return
	}
	if active != nil {
		return
	}

	next, err := m.store.NextPendingForSession(sessionID)
	if err != nil {
		log.Printf("Dispatch session %s: %v", sessionID, err)
		return
	}
	if next == nil {
		return
	}

	if _, err := m.startLocked(next); err != nil {
		log.Printf("Dispatch task %s: %v", next.ID, err)
	}
}

// startLocked moves a pending task to running and launches its worker.
// Caller holds m.mu.
func (m *Manager) startLocked(task *models.Task) (*models.Task, error) {
	profile, err := m.resolveProfile(task.ProfileRef)
	if err != nil {
		// The profile vanished or was deactivated between submit and
		// dispatch. Record the failure on the row.
		updated, ferr := m.store.TransitionTask(task.ID, models.TaskStatusPending, models.TaskStatusFailed, store.TransitionUpdate{
			ErrorMessage: err.Error(),
			Detail:       "dispatch",
		})
		if ferr != nil {
			return nil, ferr
		}
		return updated, nil
	}

	secret, err := credentials.Open(m.decryptor, profile.EncryptedSecret)
	if err != nil {
		// Redacted by credentials.Open; never the blob or plaintext.
		updated, ferr := m.store.TransitionTask(task.ID, models.TaskStatusPending, models.TaskStatusFailed, store.TransitionUpdate{
			ErrorMessage: err.Error(),
			Detail:       "dispatch",
		})
		if ferr != nil {
			return nil, ferr
		}
		return updated, nil
	}

	running, err := m.store.TransitionTask(task.ID, models.TaskStatusPending, models.TaskStatusRunning, store.TransitionUpdate{
		Detail:     "dispatched",
		InputsHash: audit.HashInputs(map[string]string{"task": task.ID, "profile": profile.Ref()}),
	})
	if errors.Is(err, store.ErrStaleStatus) {
		return nil, fmt.Errorf("%w: task left pending concurrently", ErrInvalidTransition)
	}
	if err != nil {
		return nil, err
	}

	if err := m.store.TouchProfileUsed(profile.ID); err != nil {
		log.Printf("Touch profile %s: %v", profile.Ref(), err)
	}

	runCtx, cancel := context.WithCancel(m.ctx)
	control := engine.NewControl()
	m.controls[task.ID] = &taskControl{cancel: cancel, control: control}

	spec := engine.RunSpec{
		TaskID:      task.ID,
		SessionID:   task.SessionID,
		Description: task.Description,
		Profile:     profile,
		Secret:      secret,
		Control:     control,
	}

	m.wg.Add(1)
	go m.runWorker(runCtx, spec)

	return running, nil
}

// runWorker executes one task through the engine and records the outcome.
// If the task reached a terminal state while the engine was running (Stop,
// external Complete/Fail), the engine's outcome is dropped: execution
// history is never rewritten.
func (m *Manager) runWorker(ctx context.Context, spec engine.RunSpec) {
	defer m.wg.Done()

	raw, err := m.engine.Run(ctx, spec)

	if ctx.Err() != nil {
		// Cancelled: the terminal row was already recorded by Stop or
		// shutdown recovery will handle it.
		log.Printf("Worker for task %s cancelled", spec.TaskID)
		return
	}

	if err != nil {
		if _, ferr := m.Fail(spec.TaskID, err.Error()); ferr != nil && !errors.Is(ferr, ErrTaskAlreadyTerminal) {
			log.Printf("Record failure for task %s: %v", spec.TaskID, ferr)
		}
		return
	}

	if _, cerr := m.completeFromWorker(spec.TaskID, raw); cerr != nil && !errors.Is(cerr, ErrTaskAlreadyTerminal) {
		log.Printf("Record result for task %s: %v", spec.TaskID, cerr)
	}
}

// completeFromWorker completes a task on behalf of its worker. A task paused
// after the engine already finished is resumed first so the path through the
// state machine stays valid.
func (m *Manager) completeFromWorker(taskID string, raw json.RawMessage) (*models.Task, error) {
	task, err := m.Complete(taskID, raw)
	if err == nil || !errors.Is(err, ErrInvalidTransition) {
		return task, err
	}

	current, gerr := m.store.GetTask(taskID)
	if gerr != nil || current == nil || current.Status != models.TaskStatusPaused {
		return nil, err
	}
	if _, rerr := m.store.TransitionTask(taskID, models.TaskStatusPaused, models.TaskStatusRunning, store.TransitionUpdate{
		Detail: "auto-resume on completion",
	}); rerr != nil {
		return nil, err
	}
	return m.Complete(taskID, raw)
}

func (m *Manager) lookupControl(taskID string) *taskControl {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.controls[taskID]
}

// ActiveCount returns the number of tasks with live workers.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.controls)
}

func statusIn(s models.TaskStatus, set []models.TaskStatus) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}
