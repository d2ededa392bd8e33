// Package errors provides the error taxonomy shared by the pipeline, the
// conversation layer and the job workers.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeInputInvalid        ErrorCode = "INPUT_INVALID"
	ErrCodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrCodeUpstreamTimeout     ErrorCode = "UPSTREAM_TIMEOUT"
	ErrCodeMalformedOutput     ErrorCode = "MALFORMED_OUTPUT"
	ErrCodeSessionNotFound     ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeCacheCorrupt        ErrorCode = "CACHE_CORRUPT"

	ErrCodeRetrievalUnavailable     ErrorCode = "RETRIEVAL_UNAVAILABLE"
	ErrCodeDecompositionUnavailable ErrorCode = "DECOMPOSITION_UNAVAILABLE"
	ErrCodeSynthesisUnavailable     ErrorCode = "SYNTHESIS_UNAVAILABLE"
	ErrCodePipelineFailed           ErrorCode = "PIPELINE_FAILED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata returns e after merging the given key/value into Metadata.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// PipelineFailure is the single failure shape a caller sees for a run that
// could not produce an answer. It never carries partial results.
type PipelineFailure struct {
	Cause   ErrorCode `json:"cause"`
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (f *PipelineFailure) Error() string {
	if f.Stage != "" {
		return fmt.Sprintf("PipelineFailure[%s] at %s: %s", f.Cause, f.Stage, f.Message)
	}
	return fmt.Sprintf("PipelineFailure[%s]: %s", f.Cause, f.Message)
}

func (f *PipelineFailure) Unwrap() error {
	return f.Err
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewInputError creates a non-retryable caller input error.
func NewInputError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInputInvalid,
		Message:   "Invalid question",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewUpstreamUnavailableError creates a retryable error for an unreachable or rate-limited collaborator.
func NewUpstreamUnavailableError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeUpstreamUnavailable,
		Message:   fmt.Sprintf("Upstream service '%s' unavailable", service),
		Details:   errDetails(err),
		Retryable: true,
		Metadata:  map[string]interface{}{"service": service},
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewUpstreamTimeoutError creates a retryable error for a collaborator call that exceeded its deadline.
func NewUpstreamTimeoutError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeUpstreamTimeout,
		Message:   fmt.Sprintf("Upstream service '%s' timeout", service),
		Details:   errDetails(err),
		Retryable: true,
		Metadata:  map[string]interface{}{"service": service},
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewMalformedOutputError creates an error for completion output that failed structural validation.
func NewMalformedOutputError(stage, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMalformedOutput,
		Message:   fmt.Sprintf("Malformed %s output", stage),
		Details:   details,
		Retryable: true,
		Metadata:  map[string]interface{}{"stage": stage},
		Timestamp: time.Now().UTC(),
	}
}

// NewSessionNotFoundError creates a non-retryable missing session error.
func NewSessionNotFoundError(sessionID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionNotFound,
		Message:   "Conversation session not found",
		Details:   fmt.Sprintf("sessionId: %s", sessionID),
		Retryable: false,
		Metadata:  map[string]interface{}{"sessionId": sessionID},
		Timestamp: time.Now().UTC(),
	}
}

// NewCacheCorruptError describes a cache entry no decoder could reconstruct.
func NewCacheCorruptError(key string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCacheCorrupt,
		Message:   "Cache entry could not be decoded",
		Details:   fmt.Sprintf("key: %s, error: %s", key, errDetails(err)),
		Retryable: false,
		Metadata:  map[string]interface{}{"key": key},
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewInternalError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   errDetails(err),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewPipelineFailure wraps err as a failure of the given stage.
func NewPipelineFailure(cause ErrorCode, stage string, err error) *PipelineFailure {
	return &PipelineFailure{
		Cause:   cause,
		Stage:   stage,
		Message: errDetails(err),
		Err:     err,
	}
}

func errDetails(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ==========================
// 4. Inspection
// ==========================

// CodeOf returns the most specific code attached to err, or "" when none.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var pf *PipelineFailure
	if stderrors.As(err, &pf) {
		return pf.Cause
	}
	var se *StandardError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ""
}

// HasCode reports whether any error in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		switch e := err.(type) {
		case *StandardError:
			if e.Code == code {
				return true
			}
		case *PipelineFailure:
			if e.Cause == code {
				return true
			}
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// IsUpstream reports an unreachable, rate-limited or timed-out collaborator.
func IsUpstream(err error) bool {
	return HasCode(err, ErrCodeUpstreamUnavailable) || HasCode(err, ErrCodeUpstreamTimeout)
}

func IsMalformed(err error) bool {
	return HasCode(err, ErrCodeMalformedOutput)
}

// IsCallerActionable reports errors surfaced to callers verbatim.
func IsCallerActionable(err error) bool {
	return HasCode(err, ErrCodeInputInvalid) || HasCode(err, ErrCodeSessionNotFound)
}

// ==========================
// 5. Error Conversion to BPMN
// ==========================

// GetRetryCount returns the job retry budget for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeUpstreamUnavailable,
		ErrCodeRetrievalUnavailable,
		ErrCodeDecompositionUnavailable,
		ErrCodeSynthesisUnavailable,
		ErrCodePipelineFailed:
		return 3

	case ErrCodeUpstreamTimeout:
		return 2

	case ErrCodeMalformedOutput:
		return 1

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           string(stdErr.Code),
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// FromPipelineFailure converts a PipelineFailure to a retryable StandardError.
func FromPipelineFailure(pf *PipelineFailure) *StandardError {
	return &StandardError{
		Code:      pf.Cause,
		Message:   "Legal research pipeline failed",
		Details:   pf.Message,
		Retryable: GetRetryCount(pf.Cause) > 0,
		Metadata:  map[string]interface{}{"stage": pf.Stage},
		Timestamp: time.Now().UTC(),
		cause:     pf,
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INPUT"):
		return "VALIDATION"
	case strings.HasPrefix(codeStr, "UPSTREAM"), strings.HasSuffix(codeStr, "_UNAVAILABLE"):
		return "UPSTREAM"
	case code == ErrCodeMalformedOutput:
		return "AI"
	case strings.HasPrefix(codeStr, "SESSION"):
		return "CONVERSATION"
	case strings.HasPrefix(codeStr, "CACHE"):
		return "CACHE"
	default:
		return "OTHER"
	}
}
