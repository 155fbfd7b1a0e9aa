// Copyright (C) 2026 The middleauth Authors.  All rights reserved.
//
// middleauth is licensed under the Apache License Version 2.0.

package middleauth

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instrumentation name registered with the global meter provider
const meterName = "github.com/middleauth/middleauth"

// Request roles as counted by the dispatcher
const (
	roleAuthorize = "authorize"
	roleToken     = "token"
	roleResource  = "resource"
	roleConsent   = "consent"
)

// metrics counts protocol requests by role and protocol errors by wire code.
// Instrument creation failures are ignored; the otel API returns usable nop
// instruments alongside the error.
type metrics struct {
	requests metric.Int64Counter
	errors   metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter(meterName)
	requests, _ := meter.Int64Counter("middleauth.requests",
		metric.WithDescription("Protocol requests handled, by role"))
	errors, _ := meter.Int64Counter("middleauth.errors",
		metric.WithDescription("Protocol errors emitted, by wire code"))
	return &metrics{requests: requests, errors: errors}
}

func (m *metrics) request(ctx context.Context, role string) {
	m.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

func (m *metrics) protocolError(ctx context.Context, code string) {
	m.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}
