// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package keycloak

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestClient_spans(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	p := StartTestProvider(t)
	c := testNewClient(t, p, WithTracerProvider(tp))
	tk := testLogin(t, p, c)
	_, err := c.Refresh(ctx, tk.RefreshToken())
	require.NoError(err)
	_, err = c.Introspect(ctx, string(tk.AccessToken()))
	require.NoError(err)
	require.NoError(c.UserInfo(ctx, tk.AccessToken(), &testUserInfoClaims{}))
	require.NoError(c.Revoke(ctx, string(tk.RefreshToken())))
	_, err = c.Refresh(ctx, tk.RefreshToken())
	require.Error(err)

	spans := sr.Ended()
	var names []string
	for _, s := range spans {
		names = append(names, s.Name())
		assert.Equal(trace.SpanKindClient, s.SpanKind())
		assert.Contains(s.Attributes(), attribute.String("oidc.issuer", p.Issuer()))
		assert.Contains(s.Attributes(), attribute.String("oidc.client_id", TestClientID))
	}
	assert.Equal([]string{
		spanDiscovery,
		spanExchange,
		spanRefresh,
		spanIntrospect,
		spanUserInfo,
		spanRevoke,
		spanRefresh,
	}, names)

	failed := spans[len(spans)-1]
	assert.Equal(codes.Error, failed.Status().Code)
	assert.Len(failed.Events(), 1, "the error is recorded")
	assert.Equal(codes.Ok, spans[0].Status().Code)
}
