// Copyright (C) 2026 The middleauth Authors.  All rights reserved.
//
// middleauth is licensed under the Apache License Version 2.0.

// Package middleauth turns any net/http application into an OAuth 2
// authorization server and protected resource, following
// draft-ietf-oauth-v2-10.
//
// The middleware intercepts two endpoints, /oauth/authorize and
// /oauth/access_token by default, and guards every other path with bearer
// token verification. The host application stays in charge of
// authentication and consent: the middleware hands it a consent view
// through the request context, and the host answers through sentinel
// response headers (see MarkAuthorization, MarkNoAccess,
// MarkInsufficientScope) which are stripped before the response reaches
// the network.
//
// Supported flows are the authorization code grant, the implicit token
// flow and, when an Authenticator is configured, the resource owner
// password credentials grant.
//
// All state lives behind the Store interface. The memstore package
// provides a single-process in-memory implementation; redisstore provides
// a Redis-backed one for multi-process deployments.
package middleauth
