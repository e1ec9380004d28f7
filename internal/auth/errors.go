// Package auth holds the error taxonomy shared by every hop of the sign-in
// chain. The msa, xbox and minecraft subpackages report failures with these
// types so callers can tell a dead network apart from a malformed response or
// a session that genuinely needs a fresh interactive login.
package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// transportErrorBodyLimit bounds how much of an error response body is kept
// on a TransportError. Xbox error pages can be large HTML blobs.
const transportErrorBodyLimit = 2048

// TransportError represents a failed HTTP exchange with one of the identity
// services: a non-success status, an unreachable host, or a response body
// that could not be decoded.
type TransportError struct {
	// Hop names the chain step that failed, e.g. "device_auth" or "sisu_authorize".
	Hop string
	// StatusCode is the HTTP status of the response, or 0 when no response arrived.
	StatusCode int
	// Body holds the (truncated) response body when one was read.
	Body string
	// Err is the underlying error, if any.
	Err error
}

// Error returns a string representation of the transport error.
func (e *TransportError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %v", e.Hop, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Hop, e.Err)
	default:
		return fmt.Sprintf("%s: unexpected status %d", e.Hop, e.StatusCode)
	}
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError creates a transport error for the given hop, clipping the
// body to a sane size.
func NewTransportError(hop string, statusCode int, body []byte, err error) *TransportError {
	if len(body) > transportErrorBodyLimit {
		body = body[:transportErrorBodyLimit]
	}
	return &TransportError{Hop: hop, StatusCode: statusCode, Body: string(body), Err: err}
}

// ProtocolError reports a response that arrived with a success status but is
// missing a field the chain cannot continue without.
type ProtocolError struct {
	// Hop names the chain step whose response was malformed.
	Hop string
	// Field is the missing or empty field, e.g. "X-SessionId" or "xui[0].uhs".
	Field string
}

// Error returns a string representation of the protocol error.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: response missing %s", e.Hop, e.Field)
}

// OAuthError represents an error returned by the Microsoft consumer OAuth
// endpoints, either on the redirect or in a token response body.
type OAuthError struct {
	// Code is the OAuth error code.
	Code string `json:"error"`
	// Description is a human-readable description of the error.
	Description string `json:"error_description,omitempty"`
	// StatusCode is the HTTP status code associated with the error.
	StatusCode int `json:"-"`
}

// Error returns a string representation of the OAuth error.
func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("OAuth error %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("OAuth error: %s", e.Code)
}

// AuthenticationError represents authentication-flow errors that are not tied
// to a single network exchange: state mismatches, callback timeouts, cancelled
// logins.
type AuthenticationError struct {
	// Type is the type of authentication error.
	Type string `json:"type"`
	// Message is a human-readable message describing the error.
	Message string `json:"message"`
	// Code is the HTTP status code associated with the error.
	Code int `json:"code"`
	// Cause is the underlying error that caused this authentication error.
	Cause error `json:"-"`
}

// Error returns a string representation of the authentication error.
func (e *AuthenticationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause.
func (e *AuthenticationError) Unwrap() error { return e.Cause }

// Common authentication error values.
var (
	// ErrStateMismatch reports a callback whose state parameter does not match
	// the one minted for the attempt. The code is never redeemed and the
	// attempt fails.
	ErrStateMismatch = &AuthenticationError{
		Type:    "state_mismatch",
		Message: "OAuth state parameter does not match this login attempt",
		Code:    http.StatusBadRequest,
	}

	// ErrLoginTimeout reports that the interactive login window elapsed with
	// no usable callback.
	ErrLoginTimeout = &AuthenticationError{
		Type:    "login_timeout",
		Message: "Timed out waiting for the sign-in to complete",
		Code:    http.StatusRequestTimeout,
	}

	// ErrLoginCancelled reports that a newer login attempt superseded this
	// one, or that the caller cancelled it.
	ErrLoginCancelled = &AuthenticationError{
		Type:    "login_cancelled",
		Message: "Login attempt was cancelled",
		Code:    http.StatusConflict,
	}

	// ErrServerStartFailed reports that the local callback listener could not
	// be started, usually because the port is taken.
	ErrServerStartFailed = &AuthenticationError{
		Type:    "server_start_failed",
		Message: "Failed to start the local sign-in callback listener",
		Code:    http.StatusInternalServerError,
	}

	// ErrReauthRequired reports that the stored credentials can no longer be
	// refreshed and the account needs a fresh interactive login.
	ErrReauthRequired = &AuthenticationError{
		Type:    "reauth_required",
		Message: "Stored credentials are no longer valid, please sign in again",
		Code:    http.StatusUnauthorized,
	}
)

// WrapAuthenticationError attaches a cause to one of the base error values
// without mutating it.
func WrapAuthenticationError(base *AuthenticationError, cause error) *AuthenticationError {
	return &AuthenticationError{
		Type:    base.Type,
		Message: base.Message,
		Code:    base.Code,
		Cause:   cause,
	}
}

// IsReauthRequired reports whether err means the account must go through the
// interactive flow again.
func IsReauthRequired(err error) bool {
	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		return authErr.Type == ErrReauthRequired.Type
	}
	return false
}

// GetUserFriendlyMessage returns a message suitable for showing to the player
// based on the error type.
func GetUserFriendlyMessage(err error) string {
	var (
		authErr      *AuthenticationError
		oauthErr     *OAuthError
		transportErr *TransportError
		protocolErr  *ProtocolError
	)
	switch {
	case errors.As(err, &authErr):
		switch authErr.Type {
		case "reauth_required":
			return "Your session has expired. Please sign in again."
		case "login_timeout":
			return "Sign-in timed out. Please try again."
		case "login_cancelled":
			return "Sign-in was cancelled."
		case "server_start_failed":
			return "Could not open the local sign-in port. Close any application using it and try again."
		case "state_mismatch":
			return "The sign-in response could not be verified. Please try again."
		default:
			return "Sign-in failed. Please try again."
		}
	case errors.As(err, &oauthErr):
		switch oauthErr.Code {
		case "access_denied":
			return "Sign-in was cancelled or denied."
		case "invalid_grant":
			return "Your session has expired. Please sign in again."
		default:
			return fmt.Sprintf("Sign-in failed: %s", oauthErr.Description)
		}
	case errors.As(err, &transportErr):
		return "Could not reach the sign-in service. Check your connection and try again."
	case errors.As(err, &protocolErr):
		return "The sign-in service sent an unexpected response. Please try again."
	default:
		return "An unexpected error occurred. Please try again."
	}
}
