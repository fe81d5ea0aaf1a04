package session

import "errors"

// Account store errors.
var (
	// ErrAccountExists is returned when creating an account whose user
	// ID is already taken.
	ErrAccountExists = errors.New("account already exists")

	// ErrAccountNotFound is returned when an account lookup misses.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidActivationCode is returned when an activation attempt
	// presents the wrong code.
	ErrInvalidActivationCode = errors.New("invalid activation code")

	// ErrAccountActivated is returned when an activation operation
	// targets an already-activated account.
	ErrAccountActivated = errors.New("account already activated")
)
