package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound             = errors.New("entity not found")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrSubmission           = errors.New("generation submission rejected")
	ErrNoGenerationID       = errors.New("no id returned")
	ErrJobFailed            = errors.New("generation failed")
	ErrDuplicateSubmission  = errors.New("submission already in flight")
	ErrCategoryFull         = errors.New("upload category is full")
	ErrUnknownCategory      = errors.New("unknown upload category")
	ErrUploadTooLarge       = errors.New("upload exceeds size limit")
	ErrUploadNotRetryable   = errors.New("upload item cannot be retried")
	ErrMissingIdentity      = errors.New("missing pass identity")
	ErrInsufficientCredits  = errors.New("insufficient credits")
	ErrStorageNotConfigured = errors.New("asset storage not configured")
)

// SubmissionError is returned when the remote service rejects a job creation
// request or acknowledges it without a generation id. It is user-visible and
// never retried automatically.
type SubmissionError struct {
	Endpoint   string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *SubmissionError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("submit %s: status %d: %s", e.Endpoint, e.StatusCode, msg)
	}
	return fmt.Sprintf("submit %s: %s", e.Endpoint, msg)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

func (e *SubmissionError) Is(target error) bool { return target == ErrSubmission }

// JobTerminalError carries the error payload of a generation whose terminal
// status is a failure. Code and Message are surfaced verbatim.
type JobTerminalError struct {
	GenerationID string
	Status       string
	Code         string
	Message      string
}

func (e *JobTerminalError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("generation %s %s: %s (%s)", e.GenerationID, e.Status, e.Message, e.Code)
	case e.Message != "":
		return fmt.Sprintf("generation %s %s: %s", e.GenerationID, e.Status, e.Message)
	case e.Code != "":
		return fmt.Sprintf("generation %s %s: %s", e.GenerationID, e.Status, e.Code)
	}
	return fmt.Sprintf("generation %s %s", e.GenerationID, e.Status)
}

func (e *JobTerminalError) Is(target error) bool { return target == ErrJobFailed }
