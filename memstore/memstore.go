// Copyright (C) 2026 The middleauth Authors.  All rights reserved.
//
// middleauth is licensed under the Apache License Version 2.0.

// Package memstore provides an in-memory middleauth.Store. It keeps every
// entity in mutex guarded maps and is meant for tests, examples and small
// single-process deployments; nothing survives a restart.
package memstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/middleauth/middleauth"
)

// Store is an in-memory implementation of middleauth.Store. The zero value
// is not usable; call New.
type Store struct {
	mu sync.Mutex

	clients  map[string]*middleauth.Client
	requests map[string]*middleauth.AuthRequest
	grants   map[string]*middleauth.AccessGrant
	tokens   map[string]*middleauth.AccessToken

	// byTriple indexes live tokens by (resource, clientID, scope) so token
	// issuance stays idempotent per triple.
	byTriple map[tripleKey]string

	// byResource indexes token identifiers by resource
	byResource map[string]map[string]struct{}

	// TokenTTL bounds the lifetime of newly issued tokens. Zero means
	// tokens never expire.
	TokenTTL time.Duration
}

type tripleKey struct {
	resource string
	clientID string
	scope    string
}

// New creates an empty store
func New() *Store {
	return &Store{
		clients:    make(map[string]*middleauth.Client),
		requests:   make(map[string]*middleauth.AuthRequest),
		grants:     make(map[string]*middleauth.AccessGrant),
		tokens:     make(map[string]*middleauth.AccessToken),
		byTriple:   make(map[tripleKey]string),
		byResource: make(map[string]map[string]struct{}),
	}
}

// AddClient registers a client, replacing any previous registration under
// the same id.
func (s *Store) AddClient(c middleauth.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ID] = &c
}

// RevokeClient marks a client revoked. Unknown ids are ignored.
func (s *Store) RevokeClient(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[id]; ok {
		c.Revoked = true
	}
}

// GetClient implements middleauth.ClientStore
func (s *Store) GetClient(_ context.Context, id string) (*middleauth.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok || c.Revoked {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// CreateAuthRequest implements middleauth.AuthRequestStore
func (s *Store) CreateAuthRequest(_ context.Context, req *middleauth.AuthRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req.ID = uuid.NewString()
	req.Status = middleauth.StatusPending
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

// GetAuthRequest implements middleauth.AuthRequestStore
func (s *Store) GetAuthRequest(_ context.Context, id string) (*middleauth.AuthRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, nil
	}
	cp := *req
	return &cp, nil
}

// GrantAuthRequest implements middleauth.AuthRequestStore. The first
// terminal transition wins; a record that is already granted or denied is
// returned unchanged.
func (s *Store) GrantAuthRequest(_ context.Context, id, resource string) (*middleauth.AuthRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, nil
	}
	if req.Status != middleauth.StatusPending {
		cp := *req
		return &cp, nil
	}
	if req.Expired(time.Now()) {
		req.Status = middleauth.StatusDenied
		cp := *req
		return &cp, nil
	}

	switch req.ResponseType {
	case middleauth.ResponseTypeToken:
		tok, err := s.tokenForLocked(resource, req.ClientID, req.Scope)
		if err != nil {
			return nil, err
		}
		req.AccessToken = tok.Token
	default:
		code, err := opaque()
		if err != nil {
			return nil, err
		}
		s.grants[code] = &middleauth.AccessGrant{
			Code:        code,
			ClientID:    req.ClientID,
			Scope:       req.Scope,
			RedirectURI: req.RedirectURI,
			Resource:    resource,
		}
		req.GrantCode = code
	}
	req.Status = middleauth.StatusGranted
	cp := *req
	return &cp, nil
}

// DenyAuthRequest implements middleauth.AuthRequestStore
func (s *Store) DenyAuthRequest(_ context.Context, id string) (*middleauth.AuthRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, nil
	}
	if req.Status == middleauth.StatusPending {
		req.Status = middleauth.StatusDenied
	}
	cp := *req
	return &cp, nil
}

// GetGrant implements middleauth.GrantStore
func (s *Store) GetGrant(_ context.Context, code string) (*middleauth.AccessGrant, error) {
	id, ok := middleauth.NormalizeOpaqueID(code)
	if !ok {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	grant, ok := s.grants[id]
	if !ok {
		return nil, nil
	}
	cp := *grant
	return &cp, nil
}

// RedeemGrant implements middleauth.GrantStore. The grant is deleted under
// the lock, so exactly one caller receives the token.
func (s *Store) RedeemGrant(_ context.Context, code string) (*middleauth.AccessToken, error) {
	id, ok := middleauth.NormalizeOpaqueID(code)
	if !ok {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	grant, ok := s.grants[id]
	if !ok {
		return nil, nil
	}
	delete(s.grants, id)
	tok, err := s.tokenForLocked(grant.Resource, grant.ClientID, grant.Scope)
	if err != nil {
		return nil, err
	}
	cp := *tok
	return &cp, nil
}

// GetToken implements middleauth.TokenStore
func (s *Store) GetToken(_ context.Context, token string) (*middleauth.AccessToken, error) {
	id, ok := middleauth.NormalizeOpaqueID(token)
	if !ok {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return nil, nil
	}
	cp := *tok
	return &cp, nil
}

// TokensForResource implements middleauth.TokenStore
func (s *Store) TokensForResource(_ context.Context, resource string) ([]*middleauth.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*middleauth.AccessToken
	for id := range s.byResource[resource] {
		if tok, ok := s.tokens[id]; ok {
			cp := *tok
			out = append(out, &cp)
		}
	}
	return out, nil
}

// TokenFor implements middleauth.TokenStore
func (s *Store) TokenFor(_ context.Context, resource, clientID, scope string) (*middleauth.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, err := s.tokenForLocked(resource, clientID, scope)
	if err != nil {
		return nil, err
	}
	cp := *tok
	return &cp, nil
}

// RevokeToken marks a token revoked and drops it from the triple index so a
// later TokenFor mints a fresh one.
func (s *Store) RevokeToken(token string) {
	id, ok := middleauth.NormalizeOpaqueID(token)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return
	}
	tok.Revoked = true
	delete(s.byTriple, tripleKey{tok.Resource, tok.ClientID, tok.Scope})
}

// tokenForLocked returns the live token for the triple, minting one when
// needed. Callers must hold s.mu.
func (s *Store) tokenForLocked(resource, clientID, scope string) (*middleauth.AccessToken, error) {
	key := tripleKey{resource, clientID, scope}
	if id, ok := s.byTriple[key]; ok {
		if tok, ok := s.tokens[id]; ok && !tok.Revoked && !tok.Expired(time.Now()) {
			return tok, nil
		}
	}

	id, err := opaque()
	if err != nil {
		return nil, err
	}
	tok := &middleauth.AccessToken{
		Token:    id,
		Resource: resource,
		ClientID: clientID,
		Scope:    scope,
	}
	if s.TokenTTL > 0 {
		tok.ExpiresAt = time.Now().Add(s.TokenTTL)
	}
	s.tokens[id] = tok
	s.byTriple[key] = id
	if s.byResource[resource] == nil {
		s.byResource[resource] = make(map[string]struct{})
	}
	s.byResource[resource][id] = struct{}{}
	return tok, nil
}

// opaque mints a 32 hex character identifier from 128 bits of randomness
func opaque() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("memstore: reading randomness: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}
