package errors

import (
	stderr "errors"
	"fmt"
)

// SpawnError indicates that the backend executable could not be launched for a session.
// It fails the single connection attempt and never the whole service.
type SpawnError struct {
	Command string
	Err     error
}

// Error is an implementation of the error interface.
func (s *SpawnError) Error() string {
	return fmt.Sprintf("spawning backend %q: %v", s.Command, s.Err)
}

// Unwrap supports errors.Is/As against the underlying launch failure.
func (s *SpawnError) Unwrap() error {
	return s.Err
}

// IsSpawnError reports whether the error chain contains a SpawnError.
func IsSpawnError(e error) bool {
	var se *SpawnError
	return stderr.As(e, &se)
}
