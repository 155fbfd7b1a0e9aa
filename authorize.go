// Copyright (C) 2026 The middleauth Authors.  All rights reserved.
//
// middleauth is licensed under the Apache License Version 2.0.

package middleauth

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// authorize runs Phase A of the authorization flow: validate the request,
// persist a pending AuthRequest and hand the user over to the host
// application for consent. When the host application answers within the
// same exchange, the buffered response carries the decision sentinel and
// finalization happens immediately; otherwise the consent page is forwarded
// and the decision arrives on a later request.
//
// Every parameter is read from the query string, even on POST, because the
// user agent may arrive here through a redirect chain.
func (s *server) authorize(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, s.opts.AuthorizeRateLimit) {
		return
	}
	ctx := r.Context()
	q := r.URL.Query()

	// The redirect URI is validated before anything else. Until it parses,
	// the redirect target is untrusted and errors must not be redirected:
	// this is the only authorize-time failure answered with plain 400.
	redirectURI, err := parseRedirectURI(q.Get("redirect_uri"))
	if err != nil {
		s.writePlainError(w, r, http.StatusBadRequest, err.(OAuthError))
		return
	}
	state := q.Get("state")

	client, err := resolveClient(ctx, s.opts.Store, r)
	if err != nil {
		oerr, ok := err.(OAuthError)
		if !ok {
			s.log.Error("client lookup failed", zap.Error(err))
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		s.redirectError(w, r, redirectURI, oerr, state)
		return
	}

	if client.RedirectURI != "" && client.RedirectURI != redirectURI.String() {
		s.redirectError(w, r, redirectURI,
			NewOAuthError(ErrRedirectURIMismatch, "redirect_uri does not match the one registered for this client"), state)
		return
	}

	scope := NormalizeScope(q.Get("scope"))
	if name, ok := validateScope(scope, s.opts.Scopes); !ok {
		s.redirectError(w, r, redirectURI,
			NewOAuthError(ErrInvalidScope, "unknown scope: "+name), state)
		return
	}

	responseType := q.Get("response_type")
	if !s.opts.allowsResponseType(responseType) {
		s.redirectError(w, r, redirectURI,
			NewOAuthError(ErrUnsupportedResponseType, "response_type must be one of the enabled authorization types"), state)
		return
	}

	authReq := &AuthRequest{
		ClientID:     client.ID,
		Scope:        scope,
		RedirectURI:  redirectURI.String(),
		ResponseType: responseType,
		State:        state,
		Status:       StatusPending,
	}
	if s.opts.AuthRequestTTL > 0 {
		authReq.ExpiresAt = time.Now().Add(s.opts.AuthRequestTTL)
	}
	if err := s.opts.Store.CreateAuthRequest(ctx, authReq); err != nil {
		s.log.Error("authorization request not persisted", zap.Error(err), zap.String("client_id", client.ID))
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	s.log.Info("authorization pending",
		zap.String("auth_id", authReq.ID),
		zap.String("client_id", client.ID),
		zap.String("response_type", responseType),
		zap.String("scope", scope))

	ctx = context.WithValue(ctx, authorizationIDKey{}, authReq.ID)
	ctx = context.WithValue(ctx, consentViewKey{}, Consent{
		Client: client.DisplayName,
		Scope:  ScopeList(scope),
	})

	buf := newResponseBuffer()
	s.next.ServeHTTP(buf, r.WithContext(ctx))

	if id, ok := buf.sentinel(HeaderAuthorization); ok {
		s.metrics.request(ctx, roleConsent)
		s.finalize(w, r, id, buf)
		return
	}
	buf.flush(w)
}

// finalize is Phase C: the host application reported the user's decision on
// the authorization named by id. Load the record, apply the terminal
// transition and send the user agent back to the client. The store keeps
// the first transition and returns the terminal record unchanged on any
// repeat, so duplicate decisions redirect consistently without reissuing
// anything.
func (s *server) finalize(w http.ResponseWriter, r *http.Request, id string, decision *responseBuffer) {
	ctx := r.Context()

	authReq, err := s.opts.Store.GetAuthRequest(ctx, id)
	if err != nil {
		s.log.Error("authorization lookup failed", zap.Error(err), zap.String("auth_id", id))
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if authReq == nil {
		// Unknown or expired handle: there is no redirect URI to recover
		s.writePlainError(w, r, http.StatusBadRequest,
			NewOAuthError(ErrInvalidRequest, "unknown authorization request"))
		return
	}

	denied := decision.statusCode() == http.StatusUnauthorized
	if authReq.Expired(time.Now()) {
		denied = true
	}

	if denied {
		authReq, err = s.opts.Store.DenyAuthRequest(ctx, id)
	} else {
		resource := decision.bodyText()
		authReq, err = s.opts.Store.GrantAuthRequest(ctx, id, resource)
	}
	if err != nil {
		s.log.Error("authorization transition failed", zap.Error(err), zap.String("auth_id", id))
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if authReq == nil {
		s.writePlainError(w, r, http.StatusBadRequest,
			NewOAuthError(ErrInvalidRequest, "unknown authorization request"))
		return
	}

	s.log.Info("authorization decided",
		zap.String("auth_id", authReq.ID),
		zap.String("client_id", authReq.ClientID),
		zap.String("status", string(authReq.Status)))
	s.redirectDecision(w, r, authReq)
}

// redirectDecision emits the 302 that closes the flow, shaped by the
// record's terminal state. Code grants travel in the query component,
// implicit tokens in the fragment, denials as error=access_denied.
func (s *server) redirectDecision(w http.ResponseWriter, r *http.Request, authReq *AuthRequest) {
	target, err := url.Parse(authReq.RedirectURI)
	if err != nil {
		// The URI was validated in Phase A; a failure here means the record
		// was corrupted in storage.
		s.log.Error("stored redirect URI unparseable", zap.String("auth_id", authReq.ID))
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	if authReq.Status == StatusGranted && authReq.ResponseType == ResponseTypeToken {
		frag := url.Values{}
		frag.Set("access_token", authReq.AccessToken)
		frag.Set("scope", authReq.Scope)
		if authReq.State != "" {
			frag.Set("state", authReq.State)
		}
		http.Redirect(w, r, target.String()+"#"+frag.Encode(), http.StatusFound)
		return
	}

	query := target.Query()
	if authReq.Status == StatusGranted {
		query.Set("code", authReq.GrantCode)
		query.Set("scope", authReq.Scope)
	} else {
		query.Set("error", ErrAccessDenied.Error())
	}
	if authReq.State != "" {
		query.Set("state", authReq.State)
	}
	target.RawQuery = query.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// redirectError reports a redirect-safe validation failure to the client by
// appending error, error_description and the untouched state to the query
// component of the redirect URI.
func (s *server) redirectError(w http.ResponseWriter, r *http.Request, target *url.URL, oerr OAuthError, state string) {
	s.metrics.protocolError(r.Context(), oerr.ErrorCode)

	u := *target
	query := u.Query()
	query.Set("error", oerr.ErrorCode)
	if oerr.Message != "" {
		query.Set("error_description", oerr.Message)
	}
	if state != "" {
		query.Set("state", state)
	}
	u.RawQuery = query.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}
