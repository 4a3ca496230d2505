package errdefs

import (
	"errors"
	"fmt"
)

// Kind groups errors by the subsystem that produced them.
type Kind int

const (
	KindDataSource Kind = iota
	KindDataProcessing
	KindAnalysis
	KindQuery
	KindLLM
	KindVerification
	KindSystem
	KindUser
)

// String returns the kind's snake_case name.
func (k Kind) String() string {
	switch k {
	case KindDataSource:
		return "data_source"
	case KindDataProcessing:
		return "data_processing"
	case KindAnalysis:
		return "analysis"
	case KindQuery:
		return "query"
	case KindLLM:
		return "llm"
	case KindVerification:
		return "verification"
	case KindSystem:
		return "system"
	case KindUser:
		return "user"
	default:
		return "unknown"
	}
}

// Code is a stable, machine-readable error identifier. Codes never change
// meaning once released; collaborating agents switch on them.
type Code string

const (
	// Data source errors
	CodeDataSourceUnavailable     Code = "DATA_SOURCE_UNAVAILABLE"
	CodeDataSourceTimeout         Code = "DATA_SOURCE_TIMEOUT"
	CodeDataSourceRateLimited     Code = "DATA_SOURCE_RATE_LIMITED"
	CodeDataSourceAuthFailed      Code = "DATA_SOURCE_AUTH_FAILED"
	CodeDataSourceInvalidResponse Code = "DATA_SOURCE_INVALID_RESPONSE"

	// Data processing errors
	CodeInsufficientData     Code = "INSUFFICIENT_DATA"
	CodeInvalidDataFormat    Code = "INVALID_DATA_FORMAT"
	CodeDataValidationFailed Code = "DATA_VALIDATION_FAILED"

	// Analysis errors
	CodeAnalysisFailed               Code = "ANALYSIS_FAILED"
	CodeCorrelationCalculationFailed Code = "CORRELATION_CALCULATION_FAILED"
	CodeAnomalyDetectionFailed       Code = "ANOMALY_DETECTION_FAILED"
	CodePatternRecognitionFailed     Code = "PATTERN_RECOGNITION_FAILED"

	// Query errors
	CodeInvalidQuery         Code = "INVALID_QUERY"
	CodeQueryParsingFailed   Code = "QUERY_PARSING_FAILED"
	CodeAmbiguousQuery       Code = "AMBIGUOUS_QUERY"
	CodeUnsupportedQueryType Code = "UNSUPPORTED_QUERY_TYPE"

	// LLM errors
	CodeLLMAPIError        Code = "LLM_API_ERROR"
	CodeLLMRateLimited     Code = "LLM_RATE_LIMITED"
	CodeLLMTimeout         Code = "LLM_TIMEOUT"
	CodeLLMInvalidResponse Code = "LLM_INVALID_RESPONSE"

	// Verification errors
	CodeVerificationFailed    Code = "VERIFICATION_FAILED"
	CodeClaimExtractionFailed Code = "CLAIM_EXTRACTION_FAILED"
	CodeConflictDetected      Code = "CONFLICT_DETECTED"

	// System errors
	CodeInternalServerError Code = "INTERNAL_SERVER_ERROR"
	CodeDatabaseError       Code = "DATABASE_ERROR"
	CodeCacheError          Code = "CACHE_ERROR"
	CodeMessageBusError     Code = "MESSAGE_BUS_ERROR"
	CodeConfigurationError  Code = "CONFIGURATION_ERROR"

	// User errors
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeForbidden         Code = "FORBIDDEN"
	CodeRateLimitExceeded Code = "RATE_LIMIT_EXCEEDED"
	CodeQuotaExceeded     Code = "QUOTA_EXCEEDED"
	CodeInvalidInput      Code = "INVALID_INPUT"
)

// Error is the platform's domain error. Every error produced by an agent or
// core component carries a kind, a stable code, a retryable flag and
// optional structured details.
type Error struct {
	Kind            Kind
	Code            Code
	Message         string
	Retryable       bool
	Details         map[string]any
	SuggestedAction string

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// WithCode overrides the error code. The retryable flag is unchanged.
func (e *Error) WithCode(code Code) *Error {
	e.Code = code
	return e
}

// WithRetryable overrides the retryable flag.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithDetail attaches a structured detail to the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any, 1)
	}
	e.Details[key] = value
	return e
}

// WithSuggestedAction overrides the suggested-action hint.
func (e *Error) WithSuggestedAction(action string) *Error {
	e.SuggestedAction = action
	return e
}

// WithCause records the underlying error for errors.Is/As chains.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// NewDataSource returns an error for a failing external data source.
// Data source failures are retryable by default.
func NewDataSource(source, message string) *Error {
	return &Error{
		Kind:            KindDataSource,
		Code:            CodeDataSourceUnavailable,
		Message:         message,
		Retryable:       true,
		Details:         map[string]any{"source": source},
		SuggestedAction: "Check data source connectivity and try again",
	}
}

// NewDataProcessing returns an error for data validation or transformation
// failures. Not retryable by default: the same input fails the same way.
func NewDataProcessing(message string) *Error {
	return &Error{
		Kind:            KindDataProcessing,
		Code:            CodeInvalidDataFormat,
		Message:         message,
		SuggestedAction: "Verify data format and schema",
	}
}

// NewAnalysis returns an error for analysis pipeline failures.
func NewAnalysis(message string) *Error {
	return &Error{
		Kind:            KindAnalysis,
		Code:            CodeAnalysisFailed,
		Message:         message,
		SuggestedAction: "Check data quality and analysis parameters",
	}
}

// NewQuery returns an error for unparseable or unsupported queries.
func NewQuery(message string) *Error {
	return &Error{
		Kind:            KindQuery,
		Code:            CodeInvalidQuery,
		Message:         message,
		SuggestedAction: "Rephrase your query or provide more context",
	}
}

// NewLLM returns an error for model API failures. Retryable by default:
// rate limits and transient API failures dominate.
func NewLLM(message string) *Error {
	return &Error{
		Kind:            KindLLM,
		Code:            CodeLLMAPIError,
		Message:         message,
		Retryable:       true,
		SuggestedAction: "Wait a moment and try again",
	}
}

// NewVerification returns an error for fact-checking failures.
func NewVerification(message string) *Error {
	return &Error{
		Kind:            KindVerification,
		Code:            CodeVerificationFailed,
		Message:         message,
		SuggestedAction: "Review the conflicting data sources",
	}
}

// NewSystem returns an error for infrastructure failures (bus, cache,
// storage). Retryable by default.
func NewSystem(message string) *Error {
	return &Error{
		Kind:            KindSystem,
		Code:            CodeInternalServerError,
		Message:         message,
		Retryable:       true,
		SuggestedAction: "Contact system administrator if problem persists",
	}
}

// NewUser returns an error for invalid user actions.
func NewUser(message string) *Error {
	return &Error{
		Kind:            KindUser,
		Code:            CodeInvalidInput,
		Message:         message,
		SuggestedAction: "Check your input and try again",
	}
}

// As unwraps err to a domain *Error if one is in the chain.
func As(err error) (*Error, bool) {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr, true
	}
	return nil, false
}

// IsRetryable reports whether an operation that failed with err may be
// retried. Domain errors carry the flag explicitly; unknown errors are
// treated as transient and retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if domainErr, ok := As(err); ok {
		return domainErr.Retryable
	}
	return true
}
