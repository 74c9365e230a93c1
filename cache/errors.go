package cache

import "errors"

var (
	// ErrPoolNotExist is returned when a named pool has not been created.
	ErrPoolNotExist = errors.New("grove: cache pool does not exist")

	// ErrPoolExists is returned by Manager.Create for a name already in use.
	ErrPoolExists = errors.New("grove: cache pool already exists")

	// ErrNotList is returned when a list operation targets a plain value.
	ErrNotList = errors.New("grove: cache key does not hold a list")
)
