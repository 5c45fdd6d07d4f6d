package logging

import "fmt"

// OperationError annotates an error with operation metadata. UpstreamStatus is
// set on transport failures so the upstream HTTP status survives into logs and
// diagnostics.
type OperationError struct {
	Operation      string
	RequestID      string
	UpstreamStatus int
	Err            error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	msg := e.Operation
	if e.RequestID != "" {
		msg = fmt.Sprintf("%s (request_id=%s)", msg, e.RequestID)
	}
	if e.UpstreamStatus != 0 {
		msg = fmt.Sprintf("%s (upstream_status=%d)", msg, e.UpstreamStatus)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps an error with structured context about where it occurred.
func NewOperationError(operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Err: err}
}

// NewTransportError wraps an upstream transport failure, preserving the HTTP
// status code the upstream answered with (0 when the call never completed).
func NewTransportError(operation, requestID string, status int, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, UpstreamStatus: status, Err: err}
}
