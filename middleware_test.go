// Copyright (C) 2026 The middleauth Authors.  All rights reserved.
//
// middleauth is licensed under the Apache License Version 2.0.

package middleauth_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/middleauth/middleauth"
	"github.com/middleauth/middleauth/memstore"
)

// Fixtures shared by the end-to-end tests. UberClient is registered with a
// redirect URI; LooseClient with none.
const (
	uberClientID  = "UberClient"
	uberSecret    = "over 9000"
	uberRedirect  = "http://uberclient.dot/callback"
	looseClientID = "LooseClient"
	testState     = "bring this back"
	testScope     = "read write"
)

// testEnv wires a memstore, a configurable host app and the middleware
// into one httptest-ready handler.
type testEnv struct {
	store   *memstore.Store
	handler http.Handler

	// host is swapped per test to script the host application
	host func(w http.ResponseWriter, r *http.Request)
}

func newTestEnv(t *testing.T, mutate func(*middleauth.Options)) *testEnv {
	t.Helper()

	env := &testEnv{store: memstore.New()}
	env.store.AddClient(middleauth.Client{
		ID:          uberClientID,
		Secret:      uberSecret,
		RedirectURI: uberRedirect,
		DisplayName: "UberClient",
	})
	env.store.AddClient(middleauth.Client{
		ID:          looseClientID,
		Secret:      uberSecret,
		DisplayName: "LooseClient",
	})

	opts := middleauth.Options{
		Store:  env.store,
		Realm:  "test.example",
		Scopes: []string{"read", "write"},
	}
	if mutate != nil {
		mutate(&opts)
	}
	env.handler = middleauth.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if env.host != nil {
			env.host(w, r)
			return
		}
		fmt.Fprint(w, "host app")
	}), opts)
	return env
}

// grantingHost scripts a host app that immediately grants every consent
// request on behalf of resource.
func (e *testEnv) grantingHost(resource string) {
	e.host = func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleauth.AuthorizationID(r.Context())
		if !ok {
			http.NotFound(w, r)
			return
		}
		middleauth.MarkAuthorization(w.Header(), id)
		fmt.Fprint(w, resource)
	}
}

// denyingHost scripts a host app that denies every consent request
func (e *testEnv) denyingHost() {
	e.host = func(w http.ResponseWriter, r *http.Request) {
		id, ok := middleauth.AuthorizationID(r.Context())
		if !ok {
			http.NotFound(w, r)
			return
		}
		middleauth.MarkAuthorization(w.Header(), id)
		w.WriteHeader(http.StatusUnauthorized)
	}
}

// authorizeURL builds an authorization request URL from the fixture values,
// with overrides applied on top.
func authorizeURL(overrides map[string]string) string {
	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", uberClientID)
	params.Set("client_secret", uberSecret)
	params.Set("redirect_uri", uberRedirect)
	params.Set("scope", testScope)
	params.Set("state", testState)
	for k, v := range overrides {
		if v == "" {
			params.Del(k)
			continue
		}
		params.Set(k, v)
	}
	return "/oauth/authorize?" + params.Encode()
}

func (e *testEnv) do(r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, r)
	return rec
}

// location parses the redirect target of a 302 response
func location(t *testing.T, rec *httptest.ResponseRecorder) *url.URL {
	t.Helper()
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	u, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	return u
}

func decodeOAuthError(t *testing.T, rec *httptest.ResponseRecorder) middleauth.ErrorResponse {
	t.Helper()
	var resp middleauth.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// exchangeCode drives a full code flow up to the token response
func (e *testEnv) exchangeCode(t *testing.T, code string) *httptest.ResponseRecorder {
	t.Helper()
	body := url.Values{}
	body.Set("grant_type", "authorization_code")
	body.Set("client_id", uberClientID)
	body.Set("client_secret", uberSecret)
	body.Set("code", code)
	body.Set("redirect_uri", uberRedirect)
	r := httptest.NewRequest("POST", "/oauth/access_token", strings.NewReader(body.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(r)
}

// obtainCode runs the authorize flow with a granting host and returns the
// issued authorization code.
func (e *testEnv) obtainCode(t *testing.T) string {
	t.Helper()
	e.grantingHost("user:alice")
	rec := e.do(httptest.NewRequest("GET", authorizeURL(nil), nil))
	code := location(t, rec).Query().Get("code")
	require.Len(t, code, 32)
	return code
}

func TestDispatcherRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("unknown path reaches host app", func(t *testing.T) {
		rec := env.do(httptest.NewRequest("GET", "/anything", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "host app", rec.Body.String())
	})

	t.Run("token endpoint rejects GET", func(t *testing.T) {
		rec := env.do(httptest.NewRequest("GET", "/oauth/access_token", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
		assert.JSONEq(t, `"POST only"`, rec.Body.String())
	})
}

func TestCustomEndpointPaths(t *testing.T) {
	env := newTestEnv(t, func(o *middleauth.Options) {
		o.AuthorizePath = "/auth"
		o.TokenPath = "/token"
	})
	env.grantingHost("user:alice")

	rec := env.do(httptest.NewRequest("GET", "/auth?"+strings.TrimPrefix(authorizeURL(nil), "/oauth/authorize?"), nil))
	assert.Equal(t, http.StatusFound, rec.Code)

	// The default paths now fall through to the resource gate
	rec = env.do(httptest.NewRequest("GET", "/oauth/access_token", nil))
	assert.NotEqual(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAuthorizeRateLimit(t *testing.T) {
	env := newTestEnv(t, func(o *middleauth.Options) {
		o.AuthorizeRateLimit = rate.NewLimiter(rate.Limit(0), 1)
	})
	env.grantingHost("user:alice")

	first := env.do(httptest.NewRequest("GET", authorizeURL(nil), nil))
	assert.Equal(t, http.StatusFound, first.Code)

	second := env.do(httptest.NewRequest("GET", authorizeURL(nil), nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "too_many_requests", decodeOAuthError(t, second).Error)
}

func TestHandlerPanicsWithoutStore(t *testing.T) {
	assert.Panics(t, func() {
		middleauth.Handler(http.NewServeMux(), middleauth.Options{})
	})
	assert.Panics(t, func() {
		middleauth.Handler(nil, middleauth.Options{Store: memstore.New()})
	})
}

// Guards against the middleware swallowing the host context
func TestHostContextPropagates(t *testing.T) {
	env := newTestEnv(t, nil)
	type ctxKey struct{}
	env.host = func(w http.ResponseWriter, r *http.Request) {
		v, _ := r.Context().Value(ctxKey{}).(string)
		fmt.Fprint(w, v)
	}
	r := httptest.NewRequest("GET", "/res", nil)
	r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, "carried"))
	rec := env.do(r)
	assert.Equal(t, "carried", rec.Body.String())
}
