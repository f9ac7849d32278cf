// Package engine defines the boundary to the external automation engine.
//
// The orchestration core never executes flows itself; it hands a RunSpec to
// an Engine and receives one raw result payload back. Payload shape is the
// engine's business and is classified downstream by internal/render.
package engine

import (
	"context"
	"encoding/json"

	"github.com/vibesurf-ai/VibeSurf-sub003/internal/models"
)

// RunSpec carries everything an engine needs to execute one task.
type RunSpec struct {
	TaskID      string
	SessionID   string
	Description string
	Profile     *models.Profile
	// Secret is the decrypted credential material, if any. Engines must not
	// echo it into results or logs.
	Secret string
	// Control exposes the cooperative pause gate and cancellation for this
	// task. Engines should call Control.Wait between units of work.
	Control *Control
}

// Engine executes one task and returns its raw result payload.
type Engine interface {
	// Name returns the engine identifier.
	Name() string

	// Run executes the task until completion, cancellation, or error.
	// The returned payload is opaque to the caller.
	Run(ctx context.Context, spec RunSpec) (json.RawMessage, error)
}
