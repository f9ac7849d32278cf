// Package controlplane provides the HTTP API and service layer over the
// orchestration core.
package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vibesurf-ai/VibeSurf-sub003/internal/lifecycle"
	"github.com/vibesurf-ai/VibeSurf-sub003/internal/models"
	"github.com/vibesurf-ai/VibeSurf-sub003/internal/render"
	"github.com/vibesurf-ai/VibeSurf-sub003/internal/schedule"
	"github.com/vibesurf-ai/VibeSurf-sub003/internal/store"
)

// Service is the control plane business logic. Task lifecycle calls go
// through the manager, schedule calls through the schedule engine; profile
// CRUD talks to the store directly.
type Service struct {
	store      *store.Store
	manager    *lifecycle.Manager
	schedules  *schedule.Engine
	classifier *render.Classifier
}

// NewService creates a new control plane service.
func NewService(st *store.Store, mgr *lifecycle.Manager, sched *schedule.Engine) *Service {
	return &Service{
		store:      st,
		manager:    mgr,
		schedules:  sched,
		classifier: render.New(),
	}
}

// Health checks the datastore connection.
func (s *Service) Health(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// --- Task Operations ---

// SubmitTask submits a task for execution.
func (s *Service) SubmitTask(sessionID, description, profileRef string, metadata map[string]string) (*models.Task, error) {
	return s.manager.Submit(sessionID, description, profileRef, metadata)
}

// GetTask retrieves a task by ID.
func (s *Service) GetTask(id string) (*models.Task, error) {
	return s.manager.GetStatus(id)
}

// ListTasks returns tasks filtered by status and session.
func (s *Service) ListTasks(status, sessionID string) ([]models.Task, error) {
	return s.store.ListTasks(status, sessionID)
}

// TaskHistory returns the transition history for a task.
func (s *Service) TaskHistory(id string) ([]models.TaskTransition, error) {
	return s.manager.History(id)
}

// StartTask dispatches a pending task immediately.
func (s *Service) StartTask(id string) (*models.Task, error) {
	return s.manager.Start(id)
}

// PauseTask suspends a running task.
func (s *Service) PauseTask(id string) (*models.Task, error) {
	return s.manager.Pause(id)
}

// ResumeTask returns a paused task to running.
func (s *Service) ResumeTask(id string) (*models.Task, error) {
	return s.manager.Resume(id)
}

// StopTask cancels a task.
func (s *Service) StopTask(id string) (*models.Task, error) {
	return s.manager.Stop(id)
}

// TaskResult carries a task's classified execution result.
type TaskResult struct {
	TaskID string            `json:"task_id"`
	Status models.TaskStatus `json:"status"`
	Render render.RenderKind `json:"render"`
}

// GetTaskResult classifies the persisted result of a task for display. A
// failed task with no structured result renders as an error; a task with
// nothing persisted yet renders as none.
func (s *Service) GetTaskResult(id string) (*TaskResult, error) {
	task, err := s.manager.GetStatus(id)
	if err != nil {
		return nil, err
	}

	var rk render.RenderKind
	switch {
	case task.Result != nil:
		rk = s.classifier.Classify(task.Result)
	case task.ErrorMessage != "":
		rk = render.RenderKind{Kind: render.KindError, Message: task.ErrorMessage}
	default:
		rk = s.classifier.Classify(nil)
	}

	return &TaskResult{TaskID: task.ID, Status: task.Status, Render: rk}, nil
}

// --- Schedule Operations ---

// CreateSchedule binds a cron expression to a flow.
func (s *Service) CreateSchedule(flowRef, cronExpr string) (*models.Schedule, error) {
	return s.schedules.Create(flowRef, cronExpr)
}

// GetSchedule retrieves a schedule by ID.
func (s *Service) GetSchedule(id string) (*models.Schedule, error) {
	return s.schedules.Get(id)
}

// ListSchedules returns all schedules.
func (s *Service) ListSchedules() ([]models.Schedule, error) {
	return s.schedules.List()
}

// EnableSchedule turns a schedule on.
func (s *Service) EnableSchedule(id string) (*models.Schedule, error) {
	return s.schedules.Enable(id)
}

// DisableSchedule turns a schedule off.
func (s *Service) DisableSchedule(id string) (*models.Schedule, error) {
	return s.schedules.Disable(id)
}

// DeleteSchedule removes a schedule.
func (s *Service) DeleteSchedule(id string) error {
	return s.schedules.Delete(id)
}

// --- Profile Operations ---

// CreateProfile registers a named configuration bundle. The secret arrives
// already encrypted; it is stored opaque and never returned to callers.
func (s *Service) CreateProfile(ptype models.ProfileType, name string, config json.RawMessage, encryptedSecret string, isDefault bool) (*models.Profile, error) {
	if !models.ValidProfileType(ptype) {
		return nil, fmt.Errorf("%w: unknown profile type %q", ErrValidation, ptype)
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: profile name is required", ErrValidation)
	}

	p, err := s.store.CreateProfile(&models.Profile{
		Type:            ptype,
		Name:            name,
		Config:          config,
		EncryptedSecret: encryptedSecret,
		IsActive:        true,
		IsDefault:       isDefault,
	})
	if err != nil {
		return nil, err
	}
	return sanitizeProfile(p), nil
}

// GetProfile retrieves a profile by type and name.
func (s *Service) GetProfile(ptype models.ProfileType, name string) (*models.Profile, error) {
	p, err := s.store.GetProfile(ptype, name)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: profile %s/%s", ErrNotFound, ptype, name)
	}
	return sanitizeProfile(p), nil
}

// ListProfiles returns profiles filtered by type and activity.
func (s *Service) ListProfiles(ptype models.ProfileType, activeOnly bool) ([]models.Profile, error) {
	if ptype != "" && !models.ValidProfileType(ptype) {
		return nil, fmt.Errorf("%w: unknown profile type %q", ErrValidation, ptype)
	}
	profiles, err := s.store.ListProfiles(ptype, activeOnly)
	if err != nil {
		return nil, err
	}
	for i := range profiles {
		profiles[i].EncryptedSecret = ""
	}
	return profiles, nil
}

// UpdateProfile replaces the mutable fields of a profile. An empty secret
// keeps the stored one; there is no way to read a secret back out.
func (s *Service) UpdateProfile(ptype models.ProfileType, name string, config json.RawMessage, encryptedSecret string, isActive bool) (*models.Profile, error) {
	existing, err := s.store.GetProfile(ptype, name)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: profile %s/%s", ErrNotFound, ptype, name)
	}
	if encryptedSecret == "" {
		encryptedSecret = existing.EncryptedSecret
	}

	p, err := s.store.UpdateProfile(ptype, name, config, encryptedSecret, isActive)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: profile %s/%s", ErrNotFound, ptype, name)
	}
	return sanitizeProfile(p), nil
}

// SetDefaultProfile promotes an active profile to the default for its type.
func (s *Service) SetDefaultProfile(ptype models.ProfileType, name string) (*models.Profile, error) {
	p, err := s.store.SetDefaultProfile(ptype, name)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: no active profile %s/%s", ErrNotFound, ptype, name)
	}
	return sanitizeProfile(p), nil
}

// DeleteProfile removes a profile.
func (s *Service) DeleteProfile(ptype models.ProfileType, name string) error {
	existing, err := s.store.GetProfile(ptype, name)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: profile %s/%s", ErrNotFound, ptype, name)
	}
	return s.store.DeleteProfile(ptype, name)
}

// sanitizeProfile strips the encrypted secret before a profile leaves the
// service boundary.
func sanitizeProfile(p *models.Profile) *models.Profile {
	out := *p
	out.EncryptedSecret = ""
	return &out
}
