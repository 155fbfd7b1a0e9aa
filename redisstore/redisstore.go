// Copyright (C) 2026 The middleauth Authors.  All rights reserved.
//
// middleauth is licensed under the Apache License Version 2.0.

// Package redisstore provides a Redis-backed middleauth.Store for
// deployments that run more than one process. Entities are stored as JSON
// under prefixed keys; terminal transitions and code redemption use
// optimistic WATCH transactions so the single-use and first-wins contracts
// hold across processes.
package redisstore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/middleauth/middleauth"
)

// DefaultKeyPrefix namespaces every key the store writes
const DefaultKeyPrefix = "middleauth:"

// transitionRetries bounds how often a WATCH transaction is retried when a
// concurrent writer invalidates it.
const transitionRetries = 3

// Options configures a Store
type Options struct {
	// Client is the Redis connection. Required.
	Client redis.UniversalClient

	// KeyPrefix defaults to DefaultKeyPrefix
	KeyPrefix string

	// AuthRequestTTL bounds how long an undecided authorization is kept.
	// Zero keeps pending records for an hour.
	AuthRequestTTL time.Duration

	// TokenTTL bounds the lifetime of issued tokens. Zero means tokens
	// never expire.
	TokenTTL time.Duration
}

// Store is a Redis-backed implementation of middleauth.Store
type Store struct {
	client redis.UniversalClient
	opts   Options
}

// New creates a Store and verifies the connection
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("redisstore: a redis client is required")
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.AuthRequestTTL == 0 {
		opts.AuthRequestTTL = time.Hour
	}
	if err := opts.Client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redisstore: connecting to redis: %w", err)
	}
	return &Store{client: opts.Client, opts: opts}, nil
}

func (s *Store) clientKey(id string) string  { return s.opts.KeyPrefix + "client:" + id }
func (s *Store) requestKey(id string) string { return s.opts.KeyPrefix + "request:" + id }
func (s *Store) grantKey(code string) string { return s.opts.KeyPrefix + "grant:" + code }
func (s *Store) tokenKey(id string) string   { return s.opts.KeyPrefix + "token:" + id }

func (s *Store) tripleKey(resource, clientID, scope string) string {
	return fmt.Sprintf("%striple:%s\x00%s\x00%s", s.opts.KeyPrefix, resource, clientID, scope)
}

func (s *Store) resourceKey(resource string) string {
	return s.opts.KeyPrefix + "resource:" + resource
}

// AddClient registers a client, replacing any previous registration under
// the same id.
func (s *Store) AddClient(ctx context.Context, c middleauth.Client) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("redisstore: encoding client: %w", err)
	}
	return s.client.Set(ctx, s.clientKey(c.ID), data, 0).Err()
}

// RevokeClient marks a client revoked. Unknown ids are ignored.
func (s *Store) RevokeClient(ctx context.Context, id string) error {
	key := s.clientKey(id)
	return s.watch(ctx, key, func(tx *redis.Tx) error {
		var c middleauth.Client
		found, err := getJSON(ctx, tx, key, &c)
		if err != nil || !found {
			return err
		}
		c.Revoked = true
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			return nil
		})
		return err
	})
}

// GetClient implements middleauth.ClientStore
func (s *Store) GetClient(ctx context.Context, id string) (*middleauth.Client, error) {
	var c middleauth.Client
	found, err := getJSON(ctx, s.client, s.clientKey(id), &c)
	if err != nil || !found {
		return nil, err
	}
	if c.Revoked {
		return nil, nil
	}
	return &c, nil
}

// CreateAuthRequest implements middleauth.AuthRequestStore
func (s *Store) CreateAuthRequest(ctx context.Context, req *middleauth.AuthRequest) error {
	req.ID = uuid.NewString()
	req.Status = middleauth.StatusPending
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("redisstore: encoding auth request: %w", err)
	}
	ttl := s.opts.AuthRequestTTL
	if !req.ExpiresAt.IsZero() {
		// Keep terminal records around a little past the consent window so
		// duplicate finalizations still find them.
		ttl = time.Until(req.ExpiresAt) + time.Minute
	}
	return s.client.Set(ctx, s.requestKey(req.ID), data, ttl).Err()
}

// GetAuthRequest implements middleauth.AuthRequestStore
func (s *Store) GetAuthRequest(ctx context.Context, id string) (*middleauth.AuthRequest, error) {
	var req middleauth.AuthRequest
	found, err := getJSON(ctx, s.client, s.requestKey(id), &req)
	if err != nil || !found {
		return nil, err
	}
	return &req, nil
}

// GrantAuthRequest implements middleauth.AuthRequestStore. The WATCH on the
// record key makes the pending-to-granted transition first-wins: a
// concurrent transition aborts this transaction and the retry observes the
// terminal record.
func (s *Store) GrantAuthRequest(ctx context.Context, id, resource string) (*middleauth.AuthRequest, error) {
	return s.transition(ctx, id, func(tx *redis.Tx, req *middleauth.AuthRequest) (func(redis.Pipeliner) error, error) {
		if req.Expired(time.Now()) {
			req.Status = middleauth.StatusDenied
			return nil, nil
		}

		switch req.ResponseType {
		case middleauth.ResponseTypeToken:
			tok, queue, err := s.resolveToken(ctx, tx, resource, req.ClientID, req.Scope)
			if err != nil {
				return nil, err
			}
			req.AccessToken = tok.Token
			req.Status = middleauth.StatusGranted
			return queue, nil
		default:
			code := newOpaqueID()
			grant := middleauth.AccessGrant{
				Code:        code,
				ClientID:    req.ClientID,
				Scope:       req.Scope,
				RedirectURI: req.RedirectURI,
				Resource:    resource,
			}
			data, err := json.Marshal(grant)
			if err != nil {
				return nil, err
			}
			req.GrantCode = code
			req.Status = middleauth.StatusGranted
			return func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, s.grantKey(code), data, s.opts.AuthRequestTTL)
				return nil
			}, nil
		}
	})
}

// DenyAuthRequest implements middleauth.AuthRequestStore
func (s *Store) DenyAuthRequest(ctx context.Context, id string) (*middleauth.AuthRequest, error) {
	return s.transition(ctx, id, func(_ *redis.Tx, req *middleauth.AuthRequest) (func(redis.Pipeliner) error, error) {
		req.Status = middleauth.StatusDenied
		return nil, nil
	})
}

// transition loads the record under WATCH and applies fn only while it is
// still pending. Terminal records are returned unchanged. fn mutates the
// record and may return extra writes; the record update and the extra
// writes land in a single MULTI/EXEC guarded by the WATCH.
func (s *Store) transition(ctx context.Context, id string, fn func(*redis.Tx, *middleauth.AuthRequest) (func(redis.Pipeliner) error, error)) (*middleauth.AuthRequest, error) {
	key := s.requestKey(id)
	var result *middleauth.AuthRequest

	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		result = nil
		var req middleauth.AuthRequest
		found, err := getJSON(ctx, tx, key, &req)
		if err != nil || !found {
			return err
		}
		if req.Status != middleauth.StatusPending {
			result = &req
			return nil
		}

		extra, err := fn(tx, &req)
		if err != nil {
			return err
		}
		data, err := json.Marshal(&req)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			if extra != nil {
				return extra(pipe)
			}
			return nil
		})
		if err != nil {
			return err
		}
		result = &req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetGrant implements middleauth.GrantStore
func (s *Store) GetGrant(ctx context.Context, code string) (*middleauth.AccessGrant, error) {
	id, ok := middleauth.NormalizeOpaqueID(code)
	if !ok {
		return nil, nil
	}
	var grant middleauth.AccessGrant
	found, err := getJSON(ctx, s.client, s.grantKey(id), &grant)
	if err != nil || !found {
		return nil, err
	}
	return &grant, nil
}

// RedeemGrant implements middleauth.GrantStore. GETDEL removes the grant in
// the same command that reads it, so of any number of concurrent
// redemptions exactly one receives the record.
func (s *Store) RedeemGrant(ctx context.Context, code string) (*middleauth.AccessToken, error) {
	id, ok := middleauth.NormalizeOpaqueID(code)
	if !ok {
		return nil, nil
	}
	data, err := s.client.GetDel(ctx, s.grantKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: redeeming grant: %w", err)
	}
	var grant middleauth.AccessGrant
	if err := json.Unmarshal(data, &grant); err != nil {
		return nil, fmt.Errorf("redisstore: decoding grant: %w", err)
	}
	return s.TokenFor(ctx, grant.Resource, grant.ClientID, grant.Scope)
}

// GetToken implements middleauth.TokenStore
func (s *Store) GetToken(ctx context.Context, token string) (*middleauth.AccessToken, error) {
	id, ok := middleauth.NormalizeOpaqueID(token)
	if !ok {
		return nil, nil
	}
	var tok middleauth.AccessToken
	found, err := getJSON(ctx, s.client, s.tokenKey(id), &tok)
	if err != nil || !found {
		return nil, err
	}
	return &tok, nil
}

// TokensForResource implements middleauth.TokenStore
func (s *Store) TokensForResource(ctx context.Context, resource string) ([]*middleauth.AccessToken, error) {
	ids, err := s.client.SMembers(ctx, s.resourceKey(resource)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: listing resource tokens: %w", err)
	}
	var out []*middleauth.AccessToken
	for _, id := range ids {
		tok, err := s.GetToken(ctx, id)
		if err != nil {
			return nil, err
		}
		if tok != nil {
			out = append(out, tok)
		}
	}
	return out, nil
}

// TokenFor implements middleauth.TokenStore
func (s *Store) TokenFor(ctx context.Context, resource, clientID, scope string) (*middleauth.AccessToken, error) {
	key := s.tripleKey(resource, clientID, scope)
	var result *middleauth.AccessToken

	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		tok, queue, err := s.resolveToken(ctx, tx, resource, clientID, scope)
		if err != nil {
			return err
		}
		if queue != nil {
			if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				return queue(pipe)
			}); err != nil {
				return err
			}
		}
		result = tok
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RevokeToken marks a token revoked and unbinds its triple so a later
// TokenFor mints a fresh one. Unknown tokens are ignored.
func (s *Store) RevokeToken(ctx context.Context, token string) error {
	id, ok := middleauth.NormalizeOpaqueID(token)
	if !ok {
		return nil
	}
	key := s.tokenKey(id)
	return s.watch(ctx, key, func(tx *redis.Tx) error {
		var tok middleauth.AccessToken
		found, err := getJSON(ctx, tx, key, &tok)
		if err != nil || !found {
			return err
		}
		tok.Revoked = true
		data, err := json.Marshal(tok)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			pipe.Del(ctx, s.tripleKey(tok.Resource, tok.ClientID, tok.Scope))
			return nil
		})
		return err
	})
}

// resolveToken finds the live token for a triple on tx, or prepares a fresh
// one. When a mint is needed the returned queue function records the writes
// for the caller's MULTI/EXEC; it is nil when the existing token was reused.
func (s *Store) resolveToken(ctx context.Context, tx *redis.Tx, resource, clientID, scope string) (*middleauth.AccessToken, func(redis.Pipeliner) error, error) {
	tripleKey := s.tripleKey(resource, clientID, scope)

	id, err := tx.Get(ctx, tripleKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, err
	}
	if err == nil {
		var tok middleauth.AccessToken
		found, err := getJSON(ctx, tx, s.tokenKey(id), &tok)
		if err != nil {
			return nil, nil, err
		}
		if found && !tok.Revoked && !tok.Expired(time.Now()) {
			return &tok, nil, nil
		}
	}

	tok := &middleauth.AccessToken{
		Token:    newOpaqueID(),
		Resource: resource,
		ClientID: clientID,
		Scope:    scope,
	}
	if s.opts.TokenTTL > 0 {
		tok.ExpiresAt = time.Now().Add(s.opts.TokenTTL)
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return nil, nil, err
	}
	queue := func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.tokenKey(tok.Token), data, 0)
		if !tok.ExpiresAt.IsZero() {
			pipe.ExpireAt(ctx, s.tokenKey(tok.Token), tok.ExpiresAt)
		}
		pipe.Set(ctx, tripleKey, tok.Token, s.opts.TokenTTL)
		pipe.SAdd(ctx, s.resourceKey(resource), tok.Token)
		return nil
	}
	return tok, queue, nil
}

// watch runs fn under an optimistic WATCH on key, retrying a bounded number
// of times when a concurrent writer invalidates the transaction.
func (s *Store) watch(ctx context.Context, key string, fn func(*redis.Tx) error) error {
	var err error
	for i := 0; i < transitionRetries; i++ {
		err = s.client.Watch(ctx, fn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("redisstore: transaction kept failing: %w", err)
}

// getJSON loads and decodes one record. redis.Nil maps to (false, nil).
func getJSON(ctx context.Context, c redis.Cmdable, key string, out any) (bool, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redisstore: reading %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("redisstore: decoding %s: %w", key, err)
	}
	return true, nil
}

// newOpaqueID mints a 32 hex character identifier. uuid.New reads from
// crypto/rand and panics only when the platform randomness source fails.
func newOpaqueID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
