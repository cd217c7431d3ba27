package loadtest

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSetupFailed    = errors.New("loadtest: setup failed")
	ErrTeardownFailed = errors.New("loadtest: teardown failed")
)

// AbortError halts a run. Statistics are discarded and validation is skipped.
type AbortError struct {
	Cause error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("loadtest: evaluation aborted: %v", e.Cause)
}

func (e *AbortError) Unwrap() error { return e.Cause }

// RequirementsNotMetError names every requirement a completed run missed.
type RequirementsNotMetError struct {
	Evaluation string
	Failures   []string
}

func (e *RequirementsNotMetError) Error() string {
	return fmt.Sprintf("loadtest: evaluation %q failed: %s", e.Evaluation, strings.Join(e.Failures, ", "))
}
