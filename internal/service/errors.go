package service

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks request validation failures.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidTransition is returned for a status change the current status
	// does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
