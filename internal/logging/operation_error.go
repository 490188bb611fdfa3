package logging

import (
	"errors"
	"fmt"
	"strings"
)

// OperationError annotates an error with the operation and identifiers of the
// request and session it belongs to.
type OperationError struct {
	Operation string
	RequestID string
	SessionID string
	Err       error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	var ids []string
	if e.RequestID != "" {
		ids = append(ids, "request_id="+e.RequestID)
	}
	if e.SessionID != "" {
		ids = append(ids, "session_id="+e.SessionID)
	}
	if len(ids) > 0 {
		return fmt.Sprintf("%s (%s): %v", e.Operation, strings.Join(ids, " "), e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
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

// NewSessionError is NewOperationError with a session identifier attached.
func NewSessionError(operation, requestID, sessionID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, SessionID: sessionID, Err: err}
}

// OperationOf returns the innermost operation name recorded on err, if any.
func OperationOf(err error) string {
	var op string
	for err != nil {
		var opErr *OperationError
		if !errors.As(err, &opErr) {
			break
		}
		op = opErr.Operation
		err = opErr.Err
	}
	return op
}
