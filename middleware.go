// Copyright (C) 2026 The middleauth Authors.  All rights reserved.
//
// middleauth is licensed under the Apache License Version 2.0.

package middleauth

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// server is the dispatcher. It classifies every inbound request into one of
// the protocol roles and drives the matching flow; everything that is not a
// protocol endpoint goes through the resource gate.
type server struct {
	next     http.Handler
	opts     Options
	log      *zap.Logger
	validate *validator.Validate
	metrics  *metrics
}

// Handler wraps a host application with the OAuth 2 authorization server.
// The two protocol endpoints are intercepted; every other path is guarded
// by bearer token verification before it reaches next.
func Handler(next http.Handler, opts Options) http.Handler {
	if next == nil {
		panic("middleauth: a host application handler is required")
	}
	if opts.Store == nil {
		panic("middleauth: an implementation of the middleauth.Store interface is required")
	}
	opts.setDefaults()

	return &server{
		next:     next,
		opts:     opts,
		log:      opts.Logger,
		validate: validator.New(),
		metrics:  newMetrics(),
	}
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case s.opts.AuthorizePath:
		s.metrics.request(r.Context(), roleAuthorize)
		s.authorize(w, r)
	case s.opts.TokenPath:
		s.metrics.request(r.Context(), roleToken)
		s.token(w, r)
	default:
		s.metrics.request(r.Context(), roleResource)
		s.resource(w, r)
	}
}

// allow enforces an optional endpoint rate limit, answering with the OAuth
// style 429 body when the limiter rejects the request.
func (s *server) allow(w http.ResponseWriter, r *http.Request, limiter *rate.Limiter) bool {
	if limiter == nil || limiter.Allow() {
		return true
	}
	s.writeError(w, r, http.StatusTooManyRequests,
		NewOAuthError(ErrTooManyRequests, "rate limit exceeded, try again later"))
	return false
}

// writeJSON writes a JSON response body with the given status
func (s *server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("response encoding failed", zap.Error(err))
	}
}

// writeError writes a JSON OAuth error body and counts it
func (s *server) writeError(w http.ResponseWriter, r *http.Request, status int, oerr OAuthError) {
	s.metrics.protocolError(r.Context(), oerr.ErrorCode)
	s.writeJSON(w, status, oerr.ToResponse())
}

// writePlainError writes a plain text error for failures that must not be
// redirected and have no JSON surface, such as an untrusted redirect URI.
func (s *server) writePlainError(w http.ResponseWriter, r *http.Request, status int, oerr OAuthError) {
	s.metrics.protocolError(r.Context(), oerr.ErrorCode)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(oerr.Message))
}
