package core

import "errors"

// Sentinel error kinds. Callers match them with errors.Is.
var (
	// ErrNoRules means a class has no progression chain. It is a
	// configuration error: computation for that class is refused.
	ErrNoRules = errors.New("no rules defined for class")

	ErrDogNotFound  = errors.New("dog not found")
	ErrRunNotFound  = errors.New("run not found")
	ErrInvalidRun   = errors.New("invalid run")
	ErrInvalidDog   = errors.New("invalid dog")
	ErrDuplicateDog = errors.New("dog already exists")
)
