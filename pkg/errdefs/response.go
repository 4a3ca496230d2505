package errdefs

import "time"

// ErrorBody is the inner error record of the standardized envelope.
type ErrorBody struct {
	Code            Code           `json:"code"`
	Message         string         `json:"message"`
	Retryable       bool           `json:"retryable"`
	Details         map[string]any `json:"details,omitempty"`
	SuggestedAction string         `json:"suggested_action,omitempty"`
}

// ErrorResponse is the only error shape external callers receive. It is
// published on error routing keys and returned by HTTP surfaces.
type ErrorResponse struct {
	Error     ErrorBody `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// NewErrorResponse renders err as a standardized envelope. Non-domain errors
// are reported as internal system errors. The timestamp is milliseconds
// since epoch.
func NewErrorResponse(err error, requestID string) ErrorResponse {
	domainErr, ok := As(err)
	if !ok {
		domainErr = NewSystem(err.Error())
	}

	return ErrorResponse{
		Error: ErrorBody{
			Code:            domainErr.Code,
			Message:         domainErr.Message,
			Retryable:       domainErr.Retryable,
			Details:         domainErr.Details,
			SuggestedAction: domainErr.SuggestedAction,
		},
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
	}
}
