package service

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorType int

const (
	// ErrValidation: malformed submission, rejected before a job exists.
	ErrValidation ErrorType = iota
	// ErrConfig: unknown backend, missing external tool or runtime dependency.
	ErrConfig
	// ErrExecution: external process failure, missing artifact, resource
	// exhaustion during generation.
	ErrExecution
	// ErrInfra: result file missing after a job already succeeded.
	ErrInfra
	ErrNotFound
	ErrNotReady
	ErrUnknown
)

type AvatarError struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *AvatarError {
	return &AvatarError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(errorType ErrorType, message string, cause error) *AvatarError {
	return &AvatarError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func (e *AvatarError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))

	if len(e.Context) > 0 {
		var ctxParts []string
		for k, v := range e.Context {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *AvatarError) Unwrap() error {
	return e.Cause
}

func (e *AvatarError) WithContext(key string, value any) *AvatarError {
	e.Context[key] = value
	return e
}

func (t ErrorType) String() string {
	switch t {
	case ErrValidation:
		return "Validation"
	case ErrConfig:
		return "Config"
	case ErrExecution:
		return "Execution"
	case ErrInfra:
		return "Infra"
	case ErrNotFound:
		return "NotFound"
	case ErrNotReady:
		return "NotReady"
	default:
		return "Unknown"
	}
}

func IsErrorType(err error, errorType ErrorType) bool {
	var avatarErr *AvatarError
	if errors.As(err, &avatarErr) {
		return avatarErr.Type == errorType
	}
	return false
}

func WrapError(err error, errorType ErrorType, message string) *AvatarError {
	return NewErrorWithCause(errorType, message, err)
}
