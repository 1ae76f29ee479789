package session

import "errors"

var (
	// Returned when configuration values are missing, malformed, or
	// inconsistent with each other.
	ErrConfiguration = errors.New("invalid configuration")

	// Returned when a provisioning step would overwrite an existing
	// destination without being asked to.
	ErrAlreadyExists = errors.New("already exists")

	// Returned when a provisioning step's action fails. The wrapped
	// error names the step and its group.
	ErrStepFailed = errors.New("setup step failed")
)
