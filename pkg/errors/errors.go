// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides the error taxonomy shared by the engine and the proxy.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMalformedRequest indicates a request line that is not "METHOD PATH VERSION".
	ErrMalformedRequest = errors.New("malformed request line")

	// ErrMissingHost indicates a proxied request without a Host header.
	ErrMissingHost = errors.New("missing host header")

	// ErrUnauthorized indicates a missing, invalid or expired session.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound indicates that neither a route nor a static file matched.
	ErrNotFound = errors.New("not found")

	// ErrHandlerFault indicates an error raised while running a matched handler.
	ErrHandlerFault = errors.New("handler fault")

	// ErrBackendUnavailable indicates the proxy could not reach a backend.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrRequestTooLarge indicates the inbound message exceeded the configured size.
	ErrRequestTooLarge = errors.New("request too large")
)

// ConnError wraps an error with the connection it happened on.
type ConnError struct {
	Op         string // Operation that failed
	Component  string // backend or proxy
	ConnID     string // Connection identifier
	RemoteAddr string // Client address
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *ConnError) Error() string {
	if e.ConnID != "" {
		return fmt.Sprintf("%s %s [%s] %s: %v", e.Component, e.Op, e.ConnID, e.RemoteAddr, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Component, e.Op, e.RemoteAddr, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnError) Unwrap() error {
	return e.Err
}

// New creates a new ConnError.
func New(op, component, connID, remoteAddr string, err error) error {
	if err == nil {
		return nil
	}
	return &ConnError{
		Op:         op,
		Component:  component,
		ConnID:     connID,
		RemoteAddr: remoteAddr,
		Err:        err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// StatusCode maps err to the HTTP status the client sees. Transport faults
// map to 404 because that is what the proxy answers when a backend is down.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMalformedRequest), errors.Is(err, ErrMissingHost), errors.Is(err, ErrRequestTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrBackendUnavailable):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Is, As and Join re-export the standard helpers so callers need a single import.
var (
	Is   = errors.Is
	As   = errors.As
	Join = errors.Join
)
