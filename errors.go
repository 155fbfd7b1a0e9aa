// Copyright (C) 2026 The middleauth Authors.  All rights reserved.
//
// middleauth is licensed under the Apache License Version 2.0.

package middleauth

import "errors"

// Code is an OAuth 2 protocol error code as defined by draft-ietf-oauth-v2-10
type Code error

// Protocol error codes. These are the stable wire tokens clients may key on.
var (
	ErrInvalidRequest          Code = errors.New("invalid_request")
	ErrInvalidClient           Code = errors.New("invalid_client")
	ErrRedirectURIMismatch     Code = errors.New("redirect_uri_mismatch")
	ErrUnsupportedResponseType Code = errors.New("unsupported_response_type")
	ErrInvalidScope            Code = errors.New("invalid_scope")
	ErrInvalidGrant            Code = errors.New("invalid_grant")
	ErrUnsupportedGrantType    Code = errors.New("unsupported_grant_type")
	ErrInvalidToken            Code = errors.New("invalid_token")
	ErrExpiredToken            Code = errors.New("expired_token")
	ErrInsufficientScope       Code = errors.New("insufficient_scope")
	ErrAccessDenied            Code = errors.New("access_denied")
	ErrMethodNotAllowed        Code = errors.New("method_not_allowed")
	ErrTooManyRequests         Code = errors.New("too_many_requests")
)

// OAuthError is a structured protocol error carrying the wire code and a
// human readable description
type OAuthError struct {
	ErrorCode string
	Message   string
}

// ErrorResponse is the JSON shape of an error emitted by the token endpoint
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// NewOAuthError creates an OAuthError from a protocol code and a message
func NewOAuthError(code Code, message string) OAuthError {
	return OAuthError{
		ErrorCode: code.Error(),
		Message:   message,
	}
}

// ToResponse converts the error into its JSON response shape
func (o OAuthError) ToResponse() *ErrorResponse {
	return &ErrorResponse{
		Error:            o.ErrorCode,
		ErrorDescription: o.Message,
	}
}

// Error implements the error interface
func (o OAuthError) Error() string {
	return o.ErrorCode
}
