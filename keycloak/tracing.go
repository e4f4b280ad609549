// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package keycloak

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/hashicorp/cap-keycloak/keycloak"

// span names, one per operation that talks to the provider
const (
	spanDiscovery  = "keycloak.Discovery"
	spanExchange   = "keycloak.Exchange"
	spanRefresh    = "keycloak.Refresh"
	spanIntrospect = "keycloak.Introspect"
	spanRevoke     = "keycloak.Revoke"
	spanUserInfo   = "keycloak.UserInfo"
)

func (c *Config) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return c.tracer().Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("oidc.issuer", c.Issuer),
			attribute.String("oidc.client_id", c.ClientID),
		),
	)
}

// endSpan records err (if any) on the span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
