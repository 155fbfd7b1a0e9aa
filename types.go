// Copyright (C) 2026 The middleauth Authors.  All rights reserved.
//
// middleauth is licensed under the Apache License Version 2.0.

package middleauth

import (
	"regexp"
	"strings"
	"time"
)

// Response types accepted at the authorization endpoint
const (
	ResponseTypeCode  = "code"
	ResponseTypeToken = "token"
)

// Grant types accepted at the token endpoint
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypePassword          = "password"
)

// Client is a registered third-party application
type Client struct {
	// ID is the stable opaque client identifier
	ID string

	// Secret is the shared secret, compared byte for byte
	Secret string

	// RedirectURI is the optional pre-registered absolute redirect URI.
	// When empty, any well formed absolute URI is accepted at request time.
	RedirectURI string

	// DisplayName is the human readable name shown on the consent view
	DisplayName string

	// Revoked clients are treated as if they did not exist
	Revoked bool
}

// AuthRequestStatus tracks an authorization attempt through consent
type AuthRequestStatus string

// AuthRequest lifecycle states. Terminal transitions are irreversible.
const (
	StatusPending AuthRequestStatus = "pending"
	StatusGranted AuthRequestStatus = "granted"
	StatusDenied  AuthRequestStatus = "denied"
)

// AuthRequest is a durable record of an in-flight authorization attempt.
// It is created by the authorization endpoint before consent and consumed
// by a later exchange once the host application reports the user's decision.
type AuthRequest struct {
	// ID is the opaque consent correlation handle
	ID string

	ClientID     string
	Scope        string
	RedirectURI  string
	ResponseType string

	// State is an opaque client supplied value echoed back unchanged.
	// May be empty.
	State string

	// GrantCode is populated on grant when ResponseType is "code"
	GrantCode string

	// AccessToken is populated on grant when ResponseType is "token"
	AccessToken string

	Status AuthRequestStatus

	// ExpiresAt bounds the consent window. Zero means the store decides.
	ExpiresAt time.Time
}

// Expired reports whether the consent window has closed
func (a *AuthRequest) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}

// AccessGrant is a one-shot authorization code. It is created when the user
// grants a code-type authorization and redeemed exactly once at the token
// endpoint.
type AccessGrant struct {
	// Code is an opaque 32 hex character identifier
	Code string

	ClientID    string
	Scope       string
	RedirectURI string

	// Resource identifies the end user the eventual token acts on behalf of
	Resource string
}

// AccessToken is a bearer credential naming (resource, client, scope)
type AccessToken struct {
	// Token is an opaque 32 hex character identifier
	Token string

	// Resource is the opaque identifier of the end user
	Resource string

	ClientID string
	Scope    string

	// ExpiresAt is the absolute expiry instant. Zero means non-expiring.
	ExpiresAt time.Time

	Revoked bool
}

// Expired reports whether the token is past its expiry instant
func (t *AccessToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// opaqueID is the grammar shared by authorization codes and access tokens:
// 32 lowercase hex characters, 128 bits of entropy.
var opaqueID = regexp.MustCompile(`^[0-9a-f]{32}$`)

// NormalizeOpaqueID lowercases a code or token for lookup and reports
// whether it matches the opaque identifier grammar. Identifiers that fail
// the grammar are treated as not found by the stores.
func NormalizeOpaqueID(s string) (string, bool) {
	s = strings.ToLower(s)
	return s, opaqueID.MatchString(s)
}
