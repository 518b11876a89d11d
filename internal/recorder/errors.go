package recorder

import (
	"fmt"
	"strings"
)

// ValidationError lists required submission keys that were absent.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "recorder: missing required fields: " + strings.Join(e.Missing, ", ")
}

// PersistenceError reports that a valid submission could not be appended.
// The cause is for logs only and must not reach the caller.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("recorder: persist command result: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
