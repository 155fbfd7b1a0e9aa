// Copyright (C) 2026 The middleauth Authors.  All rights reserved.
//
// middleauth is licensed under the Apache License Version 2.0.

package middleauth

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// resource is the gate in front of every non-protocol path. Requests
// carrying a bearer token are authenticated before they reach the host
// application; requests without one pass through, and the host application
// decides by sentinel whether to demand access, finalize a pending
// authorization, or serve the response as is.
func (s *server) resource(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		s.passthrough(w, r)
		return
	}

	authInfo, oerr := s.verifyToken(r.Context(), token)
	if oerr != nil {
		s.unauthorized(w, r, oerr)
		return
	}

	ctx := context.WithValue(r.Context(), accessTokenKey{}, authInfo.Token)
	ctx = context.WithValue(ctx, resourceKey{}, authInfo.Resource)

	buf := newResponseBuffer()
	s.next.ServeHTTP(buf, r.WithContext(ctx))

	// A 403 flagged with oauth.no_scope becomes a proper challenge naming
	// the scopes the resource requires.
	if scopes, ok := buf.sentinel(HeaderNoScope); ok && buf.statusCode() == http.StatusForbidden {
		oerr := NewOAuthError(ErrInsufficientScope, "the request requires higher privileges than provided by the access token")
		s.metrics.protocolError(ctx, oerr.ErrorCode)
		w.Header().Set("WWW-Authenticate", challenge{
			Realm: s.opts.realm(r.Host),
			Err:   &oerr,
			Scope: ScopeList(scopes),
		}.String())
		w.WriteHeader(http.StatusForbidden)
		return
	}
	buf.flush(w)
}

// passthrough delegates an unauthenticated request and honors the host
// application's sentinel answer.
func (s *server) passthrough(w http.ResponseWriter, r *http.Request) {
	buf := newResponseBuffer()
	s.next.ServeHTTP(buf, r)

	if id, ok := buf.sentinel(HeaderAuthorization); ok {
		s.metrics.request(r.Context(), roleConsent)
		s.finalize(w, r, id, buf)
		return
	}
	if _, ok := buf.sentinel(HeaderNoAccess); ok {
		s.unauthorized(w, r, nil)
		return
	}
	buf.flush(w)
}

// bearerToken finds the access token a request presents: the Authorization
// header wins, then the oauth_token parameter in query or form body.
func bearerToken(r *http.Request) string {
	if creds := decodeCredentials(r); creds.Kind == CredentialBearer {
		return creds.Token
	}
	if t := r.URL.Query().Get("oauth_token"); t != "" {
		return t
	}
	return r.PostFormValue("oauth_token")
}

// authInfo is what a verified token contributes to the request context
type authInfo struct {
	Token    string
	Resource string
}

// verifyToken checks that a presented token exists, is not revoked and is
// not expired. Storage failures deliberately map to a nil error detail so
// the challenge leaks nothing.
func (s *server) verifyToken(ctx context.Context, token string) (authInfo, *OAuthError) {
	fail := func(code Code, msg string) (authInfo, *OAuthError) {
		e := NewOAuthError(code, msg)
		return authInfo{}, &e
	}

	id, ok := NormalizeOpaqueID(token)
	if !ok {
		return fail(ErrInvalidToken, "the access token is not recognized")
	}
	record, err := s.opts.Store.GetToken(ctx, id)
	if err != nil {
		s.log.Error("token lookup failed", zap.Error(err))
		return authInfo{}, &OAuthError{} // bare challenge, no detail
	}
	if record == nil || record.Revoked {
		return fail(ErrInvalidToken, "the access token is not recognized or was revoked")
	}
	if record.Expired(time.Now()) {
		return fail(ErrExpiredToken, "the access token has expired")
	}
	return authInfo{Token: record.Token, Resource: record.Resource}, nil
}

// unauthorized answers 401 with a WWW-Authenticate challenge. A nil or
// empty error yields the bare realm-only form.
func (s *server) unauthorized(w http.ResponseWriter, r *http.Request, oerr *OAuthError) {
	c := challenge{Realm: s.opts.realm(r.Host)}
	if oerr != nil && oerr.ErrorCode != "" {
		s.metrics.protocolError(r.Context(), oerr.ErrorCode)
		c.Err = oerr
	}
	w.Header().Set("WWW-Authenticate", c.String())
	w.WriteHeader(http.StatusUnauthorized)
}
