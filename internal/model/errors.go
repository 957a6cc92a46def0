package model

import (
	"errors"
	"fmt"
)

// ErrAlreadyInDesiredState is reported by the activation mechanism when an
// interface is already up (or already gone). The lifecycle manager absorbs it.
var ErrAlreadyInDesiredState = errors.New("interface already in desired state")

// ValidationError reports a missing or invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ExternalToolError is a genuine failure of the activation mechanism.
type ExternalToolError struct {
	Op        string
	Interface string
	Detail    string
	Err       error
}

func (e *ExternalToolError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Op, e.Interface)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExternalToolError) Unwrap() error { return e.Err }

// RemoteCoordinationError means the peer API was unreachable or answered
// with an error body.
type RemoteCoordinationError struct {
	Op         string
	URL        string
	StatusCode int
	Detail     string
	Err        error
}

func (e *RemoteCoordinationError) Error() string {
	msg := fmt.Sprintf("remote %s (%s)", e.Op, e.URL)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteCoordinationError) Unwrap() error { return e.Err }

// CryptoHelperError covers a missing, failing or misbehaving secret helper.
type CryptoHelperError struct {
	Helper string
	Detail string
	Err    error
}

func (e *CryptoHelperError) Error() string {
	msg := "secret helper"
	if e.Helper != "" {
		msg += " " + e.Helper
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CryptoHelperError) Unwrap() error { return e.Err }

// Details returns the diagnostic text attached to err, if any.
func Details(err error) string {
	var toolErr *ExternalToolError
	if errors.As(err, &toolErr) {
		return toolErr.Detail
	}
	var remoteErr *RemoteCoordinationError
	if errors.As(err, &remoteErr) {
		return remoteErr.Detail
	}
	var helperErr *CryptoHelperError
	if errors.As(err, &helperErr) {
		return helperErr.Detail
	}
	return ""
}
