// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package keycloak

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	ErrInvalidParameter          = errors.New("invalid parameter")
	ErrNilParameter              = errors.New("nil parameter")
	ErrInvalidCACert             = errors.New("invalid CA certificate")
	ErrInvalidIssuer             = errors.New("invalid issuer")
	ErrIDGeneratorFailed         = errors.New("id generation failed")
	ErrResponseStateInvalid      = errors.New("invalid response state")
	ErrMissingIDToken            = errors.New("id_token is missing")
	ErrMissingAccessToken        = errors.New("access_token is missing")
	ErrIDTokenVerificationFailed = errors.New("id_token verification failed")
	ErrInvalidAudience           = errors.New("invalid audience")
	ErrInvalidNonce              = errors.New("invalid nonce")
	ErrUnsupportedAlg            = errors.New("unsupported signing algorithm")
	ErrUnsupportedEndpoint       = errors.New("endpoint not advertised by provider")
	ErrUnauthorizedRedirectURI   = errors.New("unauthorized redirect_uri")
	ErrInvalidSubject            = errors.New("invalid subject")
	ErrResponseTooLarge          = errors.New("response too large")

	// ErrNotConfigured is returned by every operation invoked before a
	// successful Configure (or on a zero Client).
	ErrNotConfigured = errors.New("keycloak client is not configured")

	// ErrDiscovery is returned when the issuer's discovery metadata cannot be
	// fetched or parsed.
	ErrDiscovery = errors.New("issuer discovery failed")

	ErrTokenExchange = errors.New("authorization code exchange failed")
	ErrRefresh       = errors.New("token refresh failed")
	ErrIntrospection = errors.New("token introspection failed")
	ErrRevocation    = errors.New("token revocation failed")
	ErrUserInfo      = errors.New("user info request failed")
	ErrDPoP          = errors.New("unable to create DPoP proof")

	// ErrNetwork is added to any of the errors above when the failure came
	// from the transport rather than an identity provider response.
	ErrNetwork = errors.New("network error")
)

// wrapProviderErr tags err with kind, and with ErrNetwork when the failure
// happened in the transport. The original err stays in the chain so callers
// can still errors.As it into an *oauth2.RetrieveError.
func wrapProviderErr(kind, err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %w: %w", kind, ErrNetwork, err)
	}
	return fmt.Errorf("%w: %w", kind, err)
}
