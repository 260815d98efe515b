// Package engine runs the reason/act loop that drives a task to completion.
// This file holds the error taxonomy and retry classification.

package engine

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ChamsBouzaiene/forge/internal/budget"
)

// Error taxonomy. Every failure that leaves the engine can be matched with errors.Is.
var (
	ErrSchemaViolation   = errors.New("schema violation")
	ErrToolExecution     = errors.New("tool execution failed")
	ErrToolTimeout       = errors.New("timeout")
	ErrVerification      = errors.New("verification failed")
	ErrOracleUnavailable = errors.New("oracle unavailable")
	ErrMaxIterations     = errors.New("max iterations reached")
	ErrBudgetExceeded    = budget.ErrBudgetExceeded
)

// RetryClass indicates whether an error should be retried.
type RetryClass string

const (
	RetryClassRetryable    RetryClass = "retryable"     // Definitely retry
	RetryClassMaybe        RetryClass = "maybe"         // Retry with caution (limited attempts)
	RetryClassNonRetryable RetryClass = "non_retryable" // Never retry
)

// EngineError wraps errors with classification metadata.
type EngineError struct {
	Err         error
	Class       RetryClass
	HTTPStatus  int
	RetryAfter  string // Retry-After header value if present
	IsRateLimit bool
	IsAuth      bool
	IsQuota     bool
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("engine error: %s", e.Class)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

type errorPattern struct {
	class   RetryClass
	needles []string
}

// Order matters: the first matching row wins.
var llmErrorPatterns = []errorPattern{
	{RetryClassRetryable, []string{"429", "rate limit", "too many requests"}},
	{RetryClassRetryable, []string{"500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable", "gateway timeout", "overloaded"}},
	{RetryClassMaybe, []string{"context deadline exceeded", "deadline exceeded"}},
	{RetryClassRetryable, []string{"timeout", "connection reset", "connection refused", "no such host", "network", "dns", "temporary failure", "eof"}},
	{RetryClassNonRetryable, []string{"401", "403", "unauthorized", "forbidden", "invalid api key", "authentication failed"}},
	{RetryClassNonRetryable, []string{"400", "bad request", "invalid request", "malformed", "context length", "maximum context length"}},
	{RetryClassNonRetryable, []string{"402", "quota", "billing", "payment required"}},
	{RetryClassNonRetryable, []string{"content filter", "safety", "guardrail", "policy violation"}},
}

var toolErrorPatterns = []errorPattern{
	{RetryClassRetryable, []string{"connection reset", "connection refused", "network", "temporary failure"}},
	{RetryClassRetryable, []string{"500", "502", "503", "504", "internal server error", "service unavailable"}},
	{RetryClassRetryable, []string{"file locked", "resource temporarily unavailable", "database is locked", "deadlock"}},
	{RetryClassNonRetryable, []string{"file not found", "no such file", "invalid input", "permission denied", "not found"}},
}

func classifyByPatterns(err error, patterns []errorPattern) RetryClass {
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		for _, n := range p.needles {
			if strings.Contains(msg, n) {
				return p.class
			}
		}
	}
	return RetryClassNonRetryable
}

// ClassifyLLMError classifies an error from an oracle call.
func ClassifyLLMError(err error) RetryClass {
	if err == nil || errors.Is(err, ErrBudgetExceeded) {
		return RetryClassNonRetryable
	}
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Class
	}
	return classifyByPatterns(err, llmErrorPatterns)
}

// ClassifyToolError classifies an error from a tool execution.
// Timeouts are final: the hard timeout already bounded the attempt.
func ClassifyToolError(err error, toolRetryable bool) RetryClass {
	if err == nil || !toolRetryable {
		return RetryClassNonRetryable
	}
	if errors.Is(err, ErrToolTimeout) || errors.Is(err, ErrSchemaViolation) || errors.Is(err, ErrBudgetExceeded) {
		return RetryClassNonRetryable
	}
	return classifyByPatterns(err, toolErrorPatterns)
}

// ExtractRetryAfter extracts the Retry-After value from an error.
// Returns 0 if not found or invalid.
func ExtractRetryAfter(err error) time.Duration {
	var engineErr *EngineError
	if errors.As(err, &engineErr) && engineErr.RetryAfter != "" {
		var seconds int
		if _, err := fmt.Sscanf(engineErr.RetryAfter, "%d", &seconds); err == nil {
			return time.Duration(seconds) * time.Second
		}
		if t, err := time.Parse(time.RFC1123, engineErr.RetryAfter); err == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
		}
	}
	msg := strings.ToLower(err.Error())
	if i := strings.Index(msg, "retry after"); i >= 0 {
		var seconds int
		if _, err := fmt.Sscanf(msg[i:], "retry after %d", &seconds); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

// WrapLLMError wraps a provider error with classification metadata.
func WrapLLMError(err error, httpStatus int, retryAfter string) error {
	if err == nil {
		return nil
	}
	class := ClassifyLLMError(err)
	switch {
	case httpStatus == http.StatusTooManyRequests || httpStatus >= 500:
		class = RetryClassRetryable
	case httpStatus >= 400:
		class = RetryClassNonRetryable
	}
	return &EngineError{
		Err:         err,
		Class:       class,
		HTTPStatus:  httpStatus,
		RetryAfter:  retryAfter,
		IsRateLimit: httpStatus == http.StatusTooManyRequests,
		IsAuth:      httpStatus == http.StatusUnauthorized || httpStatus == http.StatusForbidden,
		IsQuota:     httpStatus == http.StatusPaymentRequired,
	}
}

// RetryExhaustedError indicates that all retry attempts have been exhausted.
type RetryExhaustedError struct {
	Err         error
	Attempts    int
	MaxAttempts int
	IsGuarded   bool // True if this was a "maybe" class error with limited retries
}

func (e *RetryExhaustedError) Error() string {
	if e.IsGuarded {
		return fmt.Sprintf("guarded retries exhausted after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// IsRetryExhausted checks if an error is a RetryExhaustedError.
func IsRetryExhausted(err error) bool {
	var retryExhausted *RetryExhaustedError
	return errors.As(err, &retryExhausted)
}

// SchemaViolationError reports tool arguments that do not match the declared schema.
type SchemaViolationError struct {
	ToolName string
	Errors   []string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("schema violation: tool %s: %s", e.ToolName, strings.Join(e.Errors, "; "))
}

func (e *SchemaViolationError) Is(target error) bool {
	return target == ErrSchemaViolation
}

// ToolFailureError is the terminal error of a loop that hit the repeated-failure bound.
type ToolFailureError struct {
	ToolName string
	Failures int
	Last     string
}

func (e *ToolFailureError) Error() string {
	return fmt.Sprintf("tool %s failed %d times: %s", e.ToolName, e.Failures, e.Last)
}

func (e *ToolFailureError) Is(target error) bool {
	return target == ErrToolExecution
}

// OracleError marks a reasoning call that could not be completed.
type OracleError struct {
	Err error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("oracle unavailable: %v", e.Err)
}

func (e *OracleError) Unwrap() error { return e.Err }

func (e *OracleError) Is(target error) bool {
	return target == ErrOracleUnavailable
}

// EngineContextError wraps errors with execution context.
type EngineContextError struct {
	Err       error
	Iteration int
	Status    LoopStatus
	ToolName  string
	Operation string // "llm_call", "tool_execution", ...
}

func (e *EngineContextError) Error() string {
	if e.ToolName != "" {
		return fmt.Sprintf("[iter=%d status=%s op=%s tool=%s] %v",
			e.Iteration, e.Status, e.Operation, e.ToolName, e.Err)
	}
	return fmt.Sprintf("[iter=%d status=%s op=%s] %v",
		e.Iteration, e.Status, e.Operation, e.Err)
}

func (e *EngineContextError) Unwrap() error {
	return e.Err
}

// WrapWithContext wraps an error with execution context for debugging.
func WrapWithContext(err error, st *State, operation string, toolName string) error {
	if err == nil {
		return nil
	}
	return &EngineContextError{
		Err:       err,
		Iteration: st.Iteration,
		Status:    st.Status,
		ToolName:  toolName,
		Operation: operation,
	}
}
