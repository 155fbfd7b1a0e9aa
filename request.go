// Copyright (C) 2026 The middleauth Authors.  All rights reserved.
//
// middleauth is licensed under the Apache License Version 2.0.

package middleauth

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
)

// CredentialKind names the carrier a request used for its credentials
type CredentialKind string

const (
	CredentialNone   CredentialKind = "none"
	CredentialBasic  CredentialKind = "basic"
	CredentialBearer CredentialKind = "bearer"
)

// Credentials are the values decoded from an Authorization style header.
// Missing or malformed fields decode to empty strings; downstream
// components translate those into invalid_client or invalid_token.
type Credentials struct {
	Kind     CredentialKind
	Username string
	Password string
	Token    string
}

// authHeaderNames is the Authorization header plus the two proxy variants
// some frontends rewrite it into.
var authHeaderNames = []string{"Authorization", "X-Http-Authorization", "X-Authorization"}

// decodeCredentials extracts client or bearer credentials from the request
// headers. It never fails: anything unrecognized decodes as CredentialNone.
func decodeCredentials(r *http.Request) Credentials {
	var raw string
	for _, name := range authHeaderNames {
		if v := r.Header.Get(name); v != "" {
			raw = v
			break
		}
	}
	if raw == "" {
		return Credentials{Kind: CredentialNone}
	}

	scheme, rest, _ := strings.Cut(raw, " ")
	rest = strings.TrimSpace(rest)
	switch strings.ToLower(scheme) {
	case "basic":
		creds := Credentials{Kind: CredentialBasic}
		if decoded, err := base64.StdEncoding.DecodeString(rest); err == nil {
			creds.Username, creds.Password, _ = strings.Cut(string(decoded), ":")
		}
		return creds
	case "oauth", "bearer":
		return Credentials{Kind: CredentialBearer, Token: rest}
	}
	return Credentials{Kind: CredentialNone}
}

// formClient reads client credentials from a form encoded request body
func formClient(r *http.Request) (id, secret string) {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(strings.ToLower(ct), "application/x-www-form-urlencoded") {
		return "", ""
	}
	return r.PostFormValue("client_id"), r.PostFormValue("client_secret")
}

// queryClient reads client credentials from the query string
func queryClient(r *http.Request) (id, secret string) {
	q := r.URL.Query()
	return q.Get("client_id"), q.Get("client_secret")
}

// parseRedirectURI validates a client supplied redirect URI. The URI must
// be present, absolute and carry a hierarchical authority; a fragment is an
// error because the server appends its own parameters later.
func parseRedirectURI(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, NewOAuthError(ErrInvalidRequest, "redirect_uri is required")
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, NewOAuthError(ErrInvalidRequest, "redirect_uri is not a valid absolute URI")
	}
	if u.Fragment != "" || u.RawFragment != "" {
		return nil, NewOAuthError(ErrInvalidRequest, "redirect_uri must not contain a fragment")
	}
	return u, nil
}

// resolveClient authenticates the requesting client. Credential sources are
// tried in order: Basic header, form body, query string. Every failure mode
// collapses into the same invalid_client error so the response never reveals
// whether the id, the secret or a revocation was at fault.
func resolveClient(ctx context.Context, clients ClientStore, r *http.Request) (*Client, error) {
	invalid := NewOAuthError(ErrInvalidClient, "client authentication failed")

	var id, secret string
	if creds := decodeCredentials(r); creds.Kind == CredentialBasic {
		id, secret = creds.Username, creds.Password
	} else if id, secret = formClient(r); id == "" {
		id, secret = queryClient(r)
	}
	if id == "" {
		return nil, invalid
	}

	client, err := clients.GetClient(ctx, id)
	if err != nil {
		return nil, err
	}
	if client == nil || client.Secret != secret || client.Revoked {
		return nil, invalid
	}
	return client, nil
}
