package lifecycle

import "errors"

// Sentinel errors for lifecycle operations.
var (
	ErrTaskNotFound        = errors.New("task not found")
	ErrInvalidTransition   = errors.New("invalid task transition")
	ErrTaskAlreadyTerminal = errors.New("task already terminal")
	ErrProfileNotFound     = errors.New("profile not found or inactive")
	ErrValidation          = errors.New("invalid submission")
)
