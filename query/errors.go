package query

import "errors"

var (
	// ErrInvalidOperator is returned for unknown comparison operators.
	ErrInvalidOperator = errors.New("grove: invalid comparison operator")

	// ErrInvalidLogic is returned for logical operators other than and/or.
	ErrInvalidLogic = errors.New("grove: invalid logical operator")

	// ErrInvalidArgument is returned when an argument cannot be used with its operator.
	ErrInvalidArgument = errors.New("grove: invalid query argument")
)
