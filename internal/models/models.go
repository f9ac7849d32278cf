// Package models defines the core domain types for the orchestration layer.
package models

import (
	"encoding/json"
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusPaused    TaskStatus = "paused"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusStopped   TaskStatus = "stopped"
)

// Terminal reports whether a status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusStopped:
		return true
	}
	return false
}

// Task represents one automation run with a lifecycle status.
// Rows are created on submission, mutated only via state transitions,
// and never deleted.
type Task struct {
	ID           string            `json:"id"`
	SessionID    string            `json:"session_id"`
	Description  string            `json:"description"`
	Status       TaskStatus        `json:"status"`
	ProfileRef   string            `json:"profile_ref,omitempty"`
	Result       json.RawMessage   `json:"result,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// TaskTransition is one append-only status history entry.
type TaskTransition struct {
	ID         string     `json:"id"`
	TaskID     string     `json:"task_id"`
	FromStatus TaskStatus `json:"from_status"`
	ToStatus   TaskStatus `json:"to_status"`
	Detail     string     `json:"detail,omitempty"`
	InputsHash string     `json:"inputs_hash,omitempty"`
	RecordedAt time.Time  `json:"recorded_at"`
}

// Schedule is a cron-bound recurring trigger for a flow. Each flow has at
// most one schedule (flow_ref is unique).
type Schedule struct {
	ID              string     `json:"id"`
	FlowRef         string     `json:"flow_ref"`
	CronExpression  string     `json:"cron_expression"`
	IsEnabled       bool       `json:"is_enabled"`
	LastExecutionAt *time.Time `json:"last_execution_at,omitempty"`
	NextExecutionAt *time.Time `json:"next_execution_at,omitempty"`
	ExecutionCount  int        `json:"execution_count"`
	LastError       string     `json:"last_error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ProfileType discriminates the profile variants.
type ProfileType string

const (
	ProfileTypeLLM     ProfileType = "llm"
	ProfileTypeMCP     ProfileType = "mcp"
	ProfileTypeVoice   ProfileType = "voice"
	ProfileTypeToolkit ProfileType = "toolkit"
)

// ValidProfileType reports whether t names a known profile variant.
func ValidProfileType(t ProfileType) bool {
	switch t {
	case ProfileTypeLLM, ProfileTypeMCP, ProfileTypeVoice, ProfileTypeToolkit:
		return true
	}
	return false
}

// Profile is a named configuration bundle. Names are unique within a type;
// at most one active profile per type carries IsDefault. EncryptedSecret is
// an opaque blob; the store never decrypts it.
type Profile struct {
	ID              string          `json:"id"`
	Type            ProfileType     `json:"type"`
	Name            string          `json:"name"`
	Config          json.RawMessage `json:"config,omitempty"`
	EncryptedSecret string          `json:"encrypted_secret,omitempty"`
	IsActive        bool            `json:"is_active"`
	IsDefault       bool            `json:"is_default"`
	LastUsedAt      *time.Time      `json:"last_used_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Ref returns the "type/name" reference used to resolve a profile at
// task submission.
func (p *Profile) Ref() string {
	return string(p.Type) + "/" + p.Name
}
