// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/securecookie"
	"github.com/hashicorp/cap-keycloak/keycloak"
	"golang.org/x/oauth2"
)

// AuthURLer creates authorization URLs. It is satisfied by *keycloak.Keycloak
// and *keycloak.Client.
type AuthURLer interface {
	AuthURL(ctx context.Context, opt ...keycloak.Option) (string, error)
}

// Login creates a handler which starts an authentication attempt: it
// generates a state, a nonce and a PKCE verifier, stores them in an attempt
// cookie and redirects the user agent to the provider.
//
// The opt are passed to AuthURL after the generated ones (for example
// keycloak.WithPrompts or keycloak.WithAuthParam).
func Login(a AuthURLer, sc *securecookie.SecureCookie, opt ...keycloak.Option) (http.HandlerFunc, error) {
	const op = "callback.Login"
	switch {
	case a == nil:
		return nil, fmt.Errorf("%s: auth URLer is nil: %w", op, keycloak.ErrNilParameter)
	case sc == nil:
		return nil, fmt.Errorf("%s: secure cookie is nil: %w", op, keycloak.ErrNilParameter)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		state, err := keycloak.NewID("st")
		if err != nil {
			http.Error(w, "unable to start authentication", http.StatusInternalServerError)
			return
		}
		nonce, err := keycloak.NewID("n")
		if err != nil {
			http.Error(w, "unable to start authentication", http.StatusInternalServerError)
			return
		}
		verifier := oauth2.GenerateVerifier()

		opts := append([]keycloak.Option{
			keycloak.WithState(state),
			keycloak.WithNonce(nonce),
			keycloak.WithPKCE(verifier),
		}, opt...)
		authURL, err := a.AuthURL(req.Context(), opts...)
		if err != nil {
			http.Error(w, "unable to start authentication", http.StatusInternalServerError)
			return
		}
		if err := writeAttempt(w, req, sc, &attempt{State: state, Nonce: nonce, Verifier: verifier}); err != nil {
			http.Error(w, "unable to start authentication", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, req, authURL, http.StatusFound)
	}, nil
}
