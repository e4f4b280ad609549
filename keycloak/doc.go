// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

/*
keycloak is a package for writing clients that integrate with a Keycloak
realm (or any OIDC provider) using the OIDC authorization code flow.

Primary types provided by the package:

* Keycloak: a reconfigurable, concurrency safe front for a Client. It has
one operation per step of a web login: AuthURL, Exchange, Refresh,
Introspect, Revoke, UserInfo and SignOutURL.

* Client: a relying party bound to one discovered issuer.

* Config: the client configuration, see NewConfig and KeycloakIssuer.

* Token and Tk: the token set returned by Exchange and Refresh. Tokens are
redacted when printed or marshaled to JSON.

* DPoPKey: a key pair for sender constrained (DPoP, RFC 9449) access tokens.

* TestProvider: an in-process OIDC provider for tests, see
StartTestProvider.

The keycloak/callback package provides http handlers for the login and the
redirect (callback) side of the flow.
*/
package keycloak
