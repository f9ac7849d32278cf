package controlplane

import (
	"errors"
	"net/http"

	"github.com/vibesurf-ai/VibeSurf-sub003/internal/credentials"
	"github.com/vibesurf-ai/VibeSurf-sub003/internal/lifecycle"
	"github.com/vibesurf-ai/VibeSurf-sub003/internal/schedule"
	"github.com/vibesurf-ai/VibeSurf-sub003/internal/store"
)

// Sentinel errors for control plane operations.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrValidation = errors.New("invalid request")
)

// httpStatus maps domain sentinels onto HTTP status codes. Unknown errors
// are treated as internal.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, lifecycle.ErrValidation),
		errors.Is(err, schedule.ErrValidation),
		errors.Is(err, schedule.ErrInvalidCron):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound),
		errors.Is(err, lifecycle.ErrTaskNotFound),
		errors.Is(err, lifecycle.ErrProfileNotFound),
		errors.Is(err, schedule.ErrScheduleNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrTaskAlreadyTerminal),
		errors.Is(err, schedule.ErrDuplicateFlow),
		errors.Is(err, store.ErrProfileExists),
		errors.Is(err, store.ErrStaleStatus):
		return http.StatusConflict
	case errors.Is(err, credentials.ErrCredential):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
