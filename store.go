// Copyright (C) 2026 The middleauth Authors.  All rights reserved.
//
// middleauth is licensed under the Apache License Version 2.0.

package middleauth

import "context"

// ClientStore reads registered clients. A missing or malformed identifier
// yields (nil, nil); errors are reserved for storage failures.
type ClientStore interface {
	// GetClient returns the client registered under id, or nil when unknown
	GetClient(ctx context.Context, id string) (*Client, error)
}

// AuthRequestStore persists in-flight authorization attempts and performs
// their terminal transitions.
//
// GrantAuthRequest and DenyAuthRequest must be atomic: the transition only
// applies while the record is pending, and the first terminal transition
// wins. Called on an already terminal record they return it unchanged, so
// concurrent finalizations are observably idempotent and never double-issue
// grants or tokens.
type AuthRequestStore interface {
	// CreateAuthRequest persists a pending record and assigns its ID
	CreateAuthRequest(ctx context.Context, req *AuthRequest) error

	// GetAuthRequest returns the record, or nil when unknown or expired
	GetAuthRequest(ctx context.Context, id string) (*AuthRequest, error)

	// GrantAuthRequest transitions pending to granted, allocating an
	// AccessGrant or AccessToken according to the record's response type.
	// resource names the end user who granted access.
	GrantAuthRequest(ctx context.Context, id, resource string) (*AuthRequest, error)

	// DenyAuthRequest transitions pending to denied
	DenyAuthRequest(ctx context.Context, id string) (*AuthRequest, error)
}

// GrantStore resolves and redeems one-shot authorization codes. Codes are
// compared case-insensitively.
type GrantStore interface {
	// GetGrant returns the grant for code, or nil when unknown or spent
	GetGrant(ctx context.Context, code string) (*AccessGrant, error)

	// RedeemGrant consumes the grant exactly once and materializes the
	// access token it stands for. A second redemption of the same code
	// returns (nil, nil).
	RedeemGrant(ctx context.Context, code string) (*AccessToken, error)
}

// TokenStore reads and issues bearer tokens. Issuance is idempotent in
// (resource, clientID, scope): at most one live token exists per triple.
type TokenStore interface {
	// GetToken returns the token record, or nil when unknown
	GetToken(ctx context.Context, token string) (*AccessToken, error)

	// TokensForResource lists tokens issued on behalf of resource
	TokensForResource(ctx context.Context, resource string) ([]*AccessToken, error)

	// TokenFor returns the live token for the triple, creating it if needed
	TokenFor(ctx context.Context, resource, clientID, scope string) (*AccessToken, error)
}

// Store is the complete storage contract the middleware depends on. The
// middleware owns no persistent state of its own; all entities live behind
// this interface and each call is assumed linearizable per entity.
type Store interface {
	ClientStore
	AuthRequestStore
	GrantStore
	TokenStore
}
