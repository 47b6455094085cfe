package backend

import (
	"context"
	"errors"
	"fmt"
	osexec "os/exec"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sashabaranov/go-openai"
)

// ErrBackendUnavailable is returned when no backend serves a model preference.
var ErrBackendUnavailable = errors.New("backend unavailable")

// ErrorKind classifies an execution failure.
type ErrorKind int

const (
	// Transient failures are retried.
	Transient ErrorKind = iota
	// Fatal failures are reported immediately and fail the agent.
	Fatal
)

// String returns a human-readable representation of the kind.
func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// TaskExecutionError is a classified execution failure.
type TaskExecutionError struct {
	Kind ErrorKind
	Err  error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task execution failed (%s): %v", e.Kind, e.Err)
}

func (e *TaskExecutionError) Unwrap() error {
	return e.Err
}

// NewTransient marks err as retryable.
func NewTransient(err error) error {
	return &TaskExecutionError{Kind: Transient, Err: err}
}

// NewFatal marks err as unrecoverable.
func NewFatal(err error) error {
	return &TaskExecutionError{Kind: Fatal, Err: err}
}

// tempFailExitCode is EX_TEMPFAIL from sysexits.h.
const tempFailExitCode = 75

// Classify sorts an error into transient or fatal. Timeouts, network errors,
// rate limits and server errors are transient; client errors are fatal.
// Anything unrecognized is treated as transient so the retry budget decides.
func Classify(err error) ErrorKind {
	var te *TaskExecutionError
	if errors.As(err, &te) {
		return te.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	if errors.Is(err, ErrBackendUnavailable) {
		return Fatal
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return classifyStatus(anthropicErr.StatusCode)
	}
	var openaiErr *openai.APIError
	if errors.As(err, &openaiErr) {
		return classifyStatus(openaiErr.HTTPStatusCode)
	}
	var openaiReqErr *openai.RequestError
	if errors.As(err, &openaiReqErr) {
		return classifyStatus(openaiReqErr.HTTPStatusCode)
	}

	var exitErr *osexec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() == tempFailExitCode {
			return Transient
		}
		return Fatal
	}

	return Transient
}

func classifyStatus(code int) ErrorKind {
	switch {
	case code == 408 || code == 409 || code == 429:
		return Transient
	case code >= 500:
		return Transient
	case code >= 400:
		return Fatal
	default:
		return Transient
	}
}
