// Copyright (C) 2026 The middleauth Authors.  All rights reserved.
//
// middleauth is licensed under the Apache License Version 2.0.

package memstore

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/middleauth/middleauth"
)

func newPending(t *testing.T, s *Store, responseType string) *middleauth.AuthRequest {
	t.Helper()
	req := &middleauth.AuthRequest{
		ClientID:     "UberClient",
		Scope:        "read write",
		RedirectURI:  "http://uberclient.dot/callback",
		ResponseType: responseType,
		State:        "bring this back",
	}
	require.NoError(t, s.CreateAuthRequest(context.Background(), req))
	require.NotEmpty(t, req.ID)
	return req
}

func TestClientLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	c, err := s.GetClient(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, c)

	s.AddClient(middleauth.Client{ID: "UberClient", Secret: "s3cret"})
	c, err = s.GetClient(ctx, "UberClient")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "s3cret", c.Secret)

	// Returned records are copies, not views into the store
	c.Secret = "tampered"
	again, _ := s.GetClient(ctx, "UberClient")
	assert.Equal(t, "s3cret", again.Secret)

	s.RevokeClient("UberClient")
	c, err = s.GetClient(ctx, "UberClient")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestGrantAuthRequestCode(t *testing.T) {
	s := New()
	ctx := context.Background()
	req := newPending(t, s, middleauth.ResponseTypeCode)

	granted, err := s.GrantAuthRequest(ctx, req.ID, "user:alice")
	require.NoError(t, err)
	require.NotNil(t, granted)
	assert.Equal(t, middleauth.StatusGranted, granted.Status)
	assert.Regexp(t, `^[0-9a-f]{32}$`, granted.GrantCode)
	assert.Empty(t, granted.AccessToken)

	grant, err := s.GetGrant(ctx, granted.GrantCode)
	require.NoError(t, err)
	require.NotNil(t, grant)
	assert.Equal(t, "UberClient", grant.ClientID)
	assert.Equal(t, "user:alice", grant.Resource)
	assert.Equal(t, req.RedirectURI, grant.RedirectURI)
}

func TestGrantAuthRequestToken(t *testing.T) {
	s := New()
	ctx := context.Background()
	req := newPending(t, s, middleauth.ResponseTypeToken)

	granted, err := s.GrantAuthRequest(ctx, req.ID, "user:alice")
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f]{32}$`, granted.AccessToken)
	assert.Empty(t, granted.GrantCode)

	tok, err := s.GetToken(ctx, granted.AccessToken)
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "user:alice", tok.Resource)
	assert.Equal(t, "read write", tok.Scope)
}

func TestFirstTerminalTransitionWins(t *testing.T) {
	s := New()
	ctx := context.Background()
	req := newPending(t, s, middleauth.ResponseTypeCode)

	granted, err := s.GrantAuthRequest(ctx, req.ID, "user:alice")
	require.NoError(t, err)
	require.Equal(t, middleauth.StatusGranted, granted.Status)

	// A deny after the grant observes the granted record unchanged
	denied, err := s.DenyAuthRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, middleauth.StatusGranted, denied.Status)
	assert.Equal(t, granted.GrantCode, denied.GrantCode)

	// A repeated grant does not mint a second code
	again, err := s.GrantAuthRequest(ctx, req.ID, "user:bob")
	require.NoError(t, err)
	assert.Equal(t, granted.GrantCode, again.GrantCode)
}

func TestGrantExpiredRequestDenies(t *testing.T) {
	s := New()
	ctx := context.Background()
	req := &middleauth.AuthRequest{
		ClientID:     "UberClient",
		ResponseType: middleauth.ResponseTypeCode,
		ExpiresAt:    time.Now().Add(-time.Minute),
	}
	require.NoError(t, s.CreateAuthRequest(ctx, req))

	granted, err := s.GrantAuthRequest(ctx, req.ID, "user:alice")
	require.NoError(t, err)
	assert.Equal(t, middleauth.StatusDenied, granted.Status)
	assert.Empty(t, granted.GrantCode)
}

func TestUnknownAuthRequest(t *testing.T) {
	s := New()
	ctx := context.Background()

	got, err := s.GetAuthRequest(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.GrantAuthRequest(ctx, "missing", "user:alice")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.DenyAuthRequest(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedeemGrantOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	req := newPending(t, s, middleauth.ResponseTypeCode)
	granted, err := s.GrantAuthRequest(ctx, req.ID, "user:alice")
	require.NoError(t, err)

	tok, err := s.RedeemGrant(ctx, granted.GrantCode)
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "user:alice", tok.Resource)
	assert.Equal(t, "UberClient", tok.ClientID)

	// Second redemption finds nothing
	tok, err = s.RedeemGrant(ctx, granted.GrantCode)
	require.NoError(t, err)
	assert.Nil(t, tok)

	grant, err := s.GetGrant(ctx, granted.GrantCode)
	require.NoError(t, err)
	assert.Nil(t, grant)
}

func TestRedeemGrantUppercaseCode(t *testing.T) {
	s := New()
	ctx := context.Background()
	req := newPending(t, s, middleauth.ResponseTypeCode)
	granted, err := s.GrantAuthRequest(ctx, req.ID, "user:alice")
	require.NoError(t, err)

	tok, err := s.RedeemGrant(ctx, strings.ToUpper(granted.GrantCode))
	require.NoError(t, err)
	assert.NotNil(t, tok)
}

func TestConcurrentRedemptionSingleWinner(t *testing.T) {
	s := New()
	ctx := context.Background()
	req := newPending(t, s, middleauth.ResponseTypeCode)
	granted, err := s.GrantAuthRequest(ctx, req.ID, "user:alice")
	require.NoError(t, err)

	const callers = 32
	var wg sync.WaitGroup
	results := make(chan *middleauth.AccessToken, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := s.RedeemGrant(ctx, granted.GrantCode)
			assert.NoError(t, err)
			results <- tok
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for tok := range results {
		if tok != nil {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestTokenForIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.TokenFor(ctx, "user:alice", "UberClient", "read")
	require.NoError(t, err)
	second, err := s.TokenFor(ctx, "user:alice", "UberClient", "read")
	require.NoError(t, err)
	assert.Equal(t, first.Token, second.Token)

	// Any change to the triple yields a different token
	otherScope, _ := s.TokenFor(ctx, "user:alice", "UberClient", "write")
	otherClient, _ := s.TokenFor(ctx, "user:alice", "Other", "read")
	otherUser, _ := s.TokenFor(ctx, "user:bob", "UberClient", "read")
	for _, tok := range []*middleauth.AccessToken{otherScope, otherClient, otherUser} {
		assert.NotEqual(t, first.Token, tok.Token)
	}
}

func TestRevokeTokenUnbindsTriple(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.TokenFor(ctx, "user:alice", "UberClient", "read")
	require.NoError(t, err)
	s.RevokeToken(first.Token)

	got, err := s.GetToken(ctx, first.Token)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Revoked)

	fresh, err := s.TokenFor(ctx, "user:alice", "UberClient", "read")
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, fresh.Token)
}

func TestTokensForResource(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.TokenFor(ctx, "user:alice", "UberClient", "read")
	s.TokenFor(ctx, "user:alice", "UberClient", "write")
	s.TokenFor(ctx, "user:bob", "UberClient", "read")

	toks, err := s.TokensForResource(ctx, "user:alice")
	require.NoError(t, err)
	assert.Len(t, toks, 2)
	for _, tok := range toks {
		assert.Equal(t, "user:alice", tok.Resource)
	}

	none, err := s.TokensForResource(ctx, "user:nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestExpiredTokenReplaced(t *testing.T) {
	s := New()
	s.TokenTTL = -time.Minute
	ctx := context.Background()

	stale, err := s.TokenFor(ctx, "user:alice", "UberClient", "read")
	require.NoError(t, err)

	s.TokenTTL = 0
	fresh, err := s.TokenFor(ctx, "user:alice", "UberClient", "read")
	require.NoError(t, err)
	assert.NotEqual(t, stale.Token, fresh.Token)
}
