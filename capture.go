// Copyright (C) 2026 The middleauth Authors.  All rights reserved.
//
// middleauth is licensed under the Apache License Version 2.0.

package middleauth

import (
	"bytes"
	"net/http"
	"net/textproto"
	"strings"
)

// responseBuffer is an http.ResponseWriter that holds the host application's
// response in memory so the dispatcher can inspect sentinel headers before
// deciding whether to forward it, rewrite it, or finalize an authorization
// instead.
type responseBuffer struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseBuffer() *responseBuffer {
	return &responseBuffer{header: make(http.Header)}
}

func (b *responseBuffer) Header() http.Header {
	return b.header
}

func (b *responseBuffer) WriteHeader(code int) {
	if b.status == 0 {
		b.status = code
	}
}

func (b *responseBuffer) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

// statusCode returns the buffered status, defaulting to 200 like net/http
func (b *responseBuffer) statusCode() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

// bodyText returns the trimmed buffered body. Grant responses use it to
// name the authenticated resource.
func (b *responseBuffer) bodyText() string {
	return strings.TrimSpace(b.body.String())
}

// sentinel reads one of the oauth.* sentinel headers. Every value set under
// the header is collected, space-joined, so hosts may pass a scope list as
// either one value or several.
func (b *responseBuffer) sentinel(name string) (string, bool) {
	values := b.header.Values(name)
	if len(values) == 0 {
		return "", false
	}
	return strings.Join(values, " "), true
}

// flush forwards the buffered response verbatim, minus sentinel headers
func (b *responseBuffer) flush(w http.ResponseWriter) {
	dst := w.Header()
	for k, vs := range b.header {
		if isSentinel(k) {
			continue
		}
		dst[k] = vs
	}
	w.WriteHeader(b.statusCode())
	if b.body.Len() > 0 {
		w.Write(b.body.Bytes())
	}
}

func isSentinel(key string) bool {
	for _, s := range sentinelHeaders {
		if textproto.CanonicalMIMEHeaderKey(s) == key || strings.EqualFold(s, key) {
			return true
		}
	}
	return false
}
