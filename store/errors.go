package store

import "errors"

var (
	// ErrNotFound is returned when a document doesn't exist.
	ErrNotFound = errors.New("grove: document not found")

	// ErrDuplicateKey is returned when an insert or replace violates the
	// identifier or a unique index.
	ErrDuplicateKey = errors.New("grove: duplicate key")

	// ErrInvalidIndex is returned for malformed index definitions.
	ErrInvalidIndex = errors.New("grove: invalid index")

	// ErrIndexNotFound is returned when dropping an unknown index.
	ErrIndexNotFound = errors.New("grove: index not found")

	// ErrInvalidDocument is returned for documents without a usable identifier.
	ErrInvalidDocument = errors.New("grove: invalid document")

	// ErrInvalidFilter is returned when a filter document cannot be evaluated.
	ErrInvalidFilter = errors.New("grove: invalid filter")
)
