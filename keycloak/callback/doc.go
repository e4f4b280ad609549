// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

/*
callback is a package that provides http handlers for both legs of a
browser based authorization code flow (with PKCE) against a Keycloak realm:
Login redirects the user agent to the provider and AuthCode handles the
provider's redirect back to the application.

The state, nonce and PKCE verifier of an authentication attempt are kept in a
short lived, encrypted and authenticated cookie (see NewSecureCookie), so the
handlers need no server side storage.
*/
package callback
