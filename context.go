// Copyright (C) 2026 The middleauth Authors.  All rights reserved.
//
// middleauth is licensed under the Apache License Version 2.0.

package middleauth

import (
	"context"
	"net/http"
	"strings"
)

// Sentinel response headers the host application uses to talk back to the
// middleware. They are stripped before the response reaches the network.
const (
	// HeaderAuthorization names the in-flight authorization the host app
	// decided on. Response status 401 denies; anything else grants, and a
	// non-empty body names the authenticated resource.
	HeaderAuthorization = "oauth.authorization"

	// HeaderNoAccess asks the middleware to answer with a bare 401 challenge
	HeaderNoAccess = "oauth.no_access"

	// HeaderNoScope, combined with a 403 status, asks for an
	// insufficient_scope challenge naming the scopes the resource needs
	HeaderNoScope = "oauth.no_scope"
)

// Context keys follow the unexported-struct convention so no other package
// can collide with them.
type authorizationIDKey struct{}
type consentViewKey struct{}
type accessTokenKey struct{}
type resourceKey struct{}

// Consent is what the host application shows the end user before asking
// for their decision.
type Consent struct {
	// Client is the requesting client's display name
	Client string

	// Scope lists the permission names being requested
	Scope []string
}

// AuthorizationID returns the id of the in-flight authorization attached to
// a consent request.
func AuthorizationID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(authorizationIDKey{}).(string)
	return id, ok
}

// ConsentView returns the consent view attached to a consent request
func ConsentView(ctx context.Context) (Consent, bool) {
	c, ok := ctx.Value(consentViewKey{}).(Consent)
	return c, ok
}

// RequestToken returns the bearer token an authenticated resource request
// presented.
func RequestToken(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(accessTokenKey{}).(string)
	return t, ok
}

// RequestResource returns the end user identifier the presented token acts
// on behalf of.
func RequestResource(ctx context.Context) (string, bool) {
	r, ok := ctx.Value(resourceKey{}).(string)
	return r, ok
}

// MarkAuthorization records the host application's consent decision on a
// response. Write status 401 to deny; any other status grants, and the
// response body may name the authenticated resource.
func MarkAuthorization(h http.Header, id string) {
	h.Set(HeaderAuthorization, id)
}

// MarkNoAccess asks the middleware to convert the response into an
// unauthenticated challenge.
func MarkNoAccess(h http.Header) {
	h.Set(HeaderNoAccess, "true")
}

// MarkInsufficientScope asks the middleware to convert a 403 response into
// an insufficient_scope challenge carrying the named scopes.
func MarkInsufficientScope(h http.Header, scopes ...string) {
	h.Set(HeaderNoScope, strings.Join(scopes, " "))
}

// sentinelHeaders lists everything stripped from host app responses
var sentinelHeaders = []string{HeaderAuthorization, HeaderNoAccess, HeaderNoScope}
