package domain

import "errors"

// Error kinds. Wrap them with fmt.Errorf("...: %w", ErrX) and test with errors.Is.
var (
	ErrNotInitialized      = errors.New("not initialized: run `gba init` first")
	ErrAlreadyInitialized  = errors.New("already initialized: .gba exists")
	ErrFeatureNotFound     = errors.New("feature not found")
	ErrInvalidSpec         = errors.New("feature spec missing or invalid")
	ErrCollaborator        = errors.New("agent error")
	ErrVersionControl      = errors.New("git operation failed")
	ErrCheckCycleExhausted = errors.New("checks failed after exhausting retries")
)
