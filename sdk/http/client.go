// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// Package http builds the http clients used to talk to an identity provider.
package http

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
)

// ErrInvalidCertificatePem is returned when a CA PEM contains no usable
// certificates.
var ErrInvalidCertificatePem = errors.New("invalid certificate PEM")

// NewClient creates a new http client on a pooled cleanhttp transport. If
// caPEM is provided it becomes the only trusted root, otherwise the installed
// system CA chain is used.
func NewClient(caPEM string) (*http.Client, error) {
	tr := cleanhttp.DefaultPooledTransport()

	if caPEM != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(caPEM)); !ok {
			return nil, ErrInvalidCertificatePem
		}
		tr.TLSClientConfig = &tls.Config{
			RootCAs:    certPool,
			MinVersion: tls.VersionTLS12,
		}
	}

	return &http.Client{
		Transport: tr,
	}, nil
}

// WrapTransport returns a shallow copy of client whose transport is
// wrap(client.Transport). The original client is left untouched, so callers
// can decorate a shared client for a single request.
func WrapTransport(client *http.Client, wrap func(http.RoundTripper) http.RoundTripper) *http.Client {
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c := *client
	c.Transport = wrap(base)
	return &c
}

// ClientContext returns a new Context that carries the provided HTTP client.
// It sets the same context key used by the github.com/coreos/go-oidc and
// golang.org/x/oauth2 packages, so the returned context works for both.
func ClientContext(ctx context.Context, client *http.Client) context.Context {
	return oidc.ClientContext(ctx, client)
}
