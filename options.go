// Copyright (C) 2026 The middleauth Authors.  All rights reserved.
//
// middleauth is licensed under the Apache License Version 2.0.

package middleauth

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Default endpoint paths
const (
	DefaultAuthorizePath = "/oauth/authorize"
	DefaultTokenPath     = "/oauth/access_token"
)

// Authenticator verifies resource owner credentials for the password grant.
// It returns the opaque identifier of the authenticated end user. An empty
// resource or an error means the credentials were rejected.
type Authenticator func(ctx context.Context, username, password string) (resource string, err error)

// Options configures the middleware
type Options struct {
	// Store is the storage backend for clients, authorization requests,
	// grants and tokens. Required.
	Store Store

	// AuthorizePath is the HTTP path of the authorization endpoint.
	// Defaults to /oauth/authorize.
	AuthorizePath string

	// TokenPath is the HTTP path of the token endpoint.
	// Defaults to /oauth/access_token.
	TokenPath string

	// AuthorizationTypes is the subset of {"code", "token"} the
	// authorization endpoint accepts. Both are enabled by default.
	AuthorizationTypes []string

	// Authenticator enables the password grant when set
	Authenticator Authenticator

	// Realm is used in WWW-Authenticate challenges.
	// Defaults to the request host.
	Realm string

	// Scopes is an optional allow-list of scope names. When set, any
	// requested scope outside it fails with invalid_scope.
	Scopes []string

	// AuthRequestTTL bounds the consent window of an authorization
	// request. Zero leaves expiry to the store.
	AuthRequestTTL time.Duration

	// Logger receives structured protocol logs. Defaults to a nop logger.
	Logger *zap.Logger

	// AuthorizeRateLimit throttles the authorization endpoint when set
	AuthorizeRateLimit *rate.Limiter

	// TokenRateLimit throttles the token endpoint when set
	TokenRateLimit *rate.Limiter
}

// setDefaults fills in the documented default values
func (o *Options) setDefaults() {
	if o.AuthorizePath == "" {
		o.AuthorizePath = DefaultAuthorizePath
	}
	if o.TokenPath == "" {
		o.TokenPath = DefaultTokenPath
	}
	if len(o.AuthorizationTypes) == 0 {
		o.AuthorizationTypes = []string{ResponseTypeCode, ResponseTypeToken}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// realm picks the configured realm or falls back to the request host
func (o *Options) realm(host string) string {
	if o.Realm != "" {
		return o.Realm
	}
	return host
}

// allowsResponseType reports whether the authorization endpoint accepts
// the given response_type value.
func (o *Options) allowsResponseType(t string) bool {
	for _, allowed := range o.AuthorizationTypes {
		if t == allowed {
			return true
		}
	}
	return false
}
