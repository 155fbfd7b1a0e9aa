// Copyright (C) 2026 The middleauth Authors.  All rights reserved.
//
// middleauth is licensed under the Apache License Version 2.0.

package middleauth

import (
	"net/http"

	"go.uber.org/zap"
)

// tokenResponse is the success body of the token endpoint. Scope is omitted
// when empty.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Scope       string `json:"scope,omitempty"`
}

// codeGrantRequest carries the authorization_code grant parameters
type codeGrantRequest struct {
	Code        string `validate:"required"`
	RedirectURI string
}

// passwordGrantRequest carries the resource owner password credentials
type passwordGrantRequest struct {
	Username string `validate:"required"`
	Password string `validate:"required"`
}

// token implements the token endpoint. Every response, success or failure,
// is JSON with Cache-Control: no-store.
func (s *server) token(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		s.writeJSON(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	if !s.allow(w, r, s.opts.TokenRateLimit) {
		return
	}
	if err := r.ParseForm(); err != nil {
		s.writeError(w, r, http.StatusBadRequest,
			NewOAuthError(ErrInvalidGrant, "request body is not form encoded"))
		return
	}

	ctx := r.Context()
	client, err := resolveClient(ctx, s.opts.Store, r)
	if err != nil {
		oerr, ok := err.(OAuthError)
		if !ok {
			s.log.Error("client lookup failed", zap.Error(err))
			s.writeError(w, r, http.StatusInternalServerError,
				NewOAuthError(ErrInvalidClient, "client authentication failed"))
			return
		}
		// A client that attempted Basic authentication gets the HTTP-level
		// 401 challenge; everyone else gets the protocol-level 400.
		if decodeCredentials(r).Kind == CredentialBasic {
			w.Header().Set("WWW-Authenticate", challenge{
				Realm: s.opts.realm(r.Host),
				Err:   &oerr,
			}.String())
			s.writeError(w, r, http.StatusUnauthorized, oerr)
			return
		}
		s.writeError(w, r, http.StatusBadRequest, oerr)
		return
	}

	var token *AccessToken
	var oerr *OAuthError
	grantType := r.PostFormValue("grant_type")
	switch grantType {
	case GrantTypeAuthorizationCode:
		token, oerr = s.exchangeCode(r, client)
	case GrantTypePassword:
		token, oerr = s.passwordGrant(r, client)
	default:
		e := NewOAuthError(ErrUnsupportedGrantType, "grant_type is not supported by this authorization server")
		oerr = &e
	}
	if oerr != nil {
		s.writeError(w, r, http.StatusBadRequest, *oerr)
		return
	}

	s.log.Info("access token issued",
		zap.String("client_id", client.ID),
		zap.String("grant_type", grantType),
		zap.String("scope", token.Scope))
	s.writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token.Token,
		Scope:       token.Scope,
	})
}

// exchangeCode redeems a one-shot authorization code for an access token.
// The grant must belong to the authenticated client, and when the grant
// recorded a redirect URI the caller must repeat it verbatim.
func (s *server) exchangeCode(r *http.Request, client *Client) (*AccessToken, *OAuthError) {
	invalidGrant := func(msg string) (*AccessToken, *OAuthError) {
		e := NewOAuthError(ErrInvalidGrant, msg)
		return nil, &e
	}

	req := codeGrantRequest{
		Code:        r.PostFormValue("code"),
		RedirectURI: r.PostFormValue("redirect_uri"),
	}
	if err := s.validate.Struct(req); err != nil {
		return invalidGrant("code is required")
	}

	ctx := r.Context()
	grant, err := s.opts.Store.GetGrant(ctx, req.Code)
	if err != nil {
		return invalidGrant("authorization code could not be resolved")
	}
	if grant == nil || grant.ClientID != client.ID {
		return invalidGrant("authorization code is invalid, expired or was issued to another client")
	}
	if grant.RedirectURI != "" {
		supplied, err := parseRedirectURI(req.RedirectURI)
		if err != nil || supplied.String() != grant.RedirectURI {
			return invalidGrant("redirect_uri does not match the authorization request")
		}
	}

	token, err := s.opts.Store.RedeemGrant(ctx, req.Code)
	if err != nil {
		s.log.Error("grant redemption failed", zap.Error(err), zap.String("client_id", client.ID))
		return invalidGrant("authorization code could not be redeemed")
	}
	if token == nil {
		// Lost the race with a concurrent redemption: single use means the
		// first caller wins and everyone else is turned away.
		return invalidGrant("authorization code has already been used")
	}
	return token, nil
}

// passwordGrant implements the resource owner password credentials grant.
// It is only available when the host supplied an Authenticator.
func (s *server) passwordGrant(r *http.Request, client *Client) (*AccessToken, *OAuthError) {
	fail := func(code Code, msg string) (*AccessToken, *OAuthError) {
		e := NewOAuthError(code, msg)
		return nil, &e
	}
	if s.opts.Authenticator == nil {
		return fail(ErrUnsupportedGrantType, "the password grant is not enabled")
	}

	req := passwordGrantRequest{
		Username: r.PostFormValue("username"),
		Password: r.PostFormValue("password"),
	}
	if err := s.validate.Struct(req); err != nil {
		return fail(ErrInvalidGrant, "username and password are required")
	}

	scope := NormalizeScope(r.PostFormValue("scope"))
	if name, ok := validateScope(scope, s.opts.Scopes); !ok {
		return fail(ErrInvalidScope, "unknown scope: "+name)
	}

	ctx := r.Context()
	resource, err := s.opts.Authenticator(ctx, req.Username, req.Password)
	if err != nil || resource == "" {
		return fail(ErrInvalidGrant, "username or password are incorrect")
	}

	token, err := s.opts.Store.TokenFor(ctx, resource, client.ID, scope)
	if err != nil {
		s.log.Error("token issuance failed", zap.Error(err),
			zap.String("client_id", client.ID), zap.String("resource", resource))
		return fail(ErrInvalidGrant, "access token could not be issued")
	}
	return token, nil
}
