package storage

import "errors"

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrIncompleteArtifacts is returned when a stored model lacks one of its artifacts.
	ErrIncompleteArtifacts = errors.New("incomplete artifact set")
)
