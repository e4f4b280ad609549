// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/securecookie"
	"github.com/hashicorp/cap-keycloak/keycloak"
)

// Exchanger exchanges authorization codes for tokens. It is satisfied by
// *keycloak.Keycloak and *keycloak.Client.
type Exchanger interface {
	Exchange(ctx context.Context, params keycloak.CallbackParams, opt ...keycloak.Option) (*keycloak.Tk, error)
}

// AuthCode creates an authorization code callback handler. It reads the
// attempt cookie written by Login, exchanges the code using the attempt's
// state, nonce and PKCE verifier, and deletes the cookie.
//
// The SuccessResponseFunc is used to create a response when callback is
// successful. The ErrorResponseFunc is to create a response when the callback
// fails. The opt are passed to Exchange (for example keycloak.WithRedirectURL,
// which must match the one given to Login).
func AuthCode(e Exchanger, sc *securecookie.SecureCookie, sFn SuccessResponseFunc, eFn ErrorResponseFunc, opt ...keycloak.Option) (http.HandlerFunc, error) {
	const op = "callback.AuthCode"
	switch {
	case e == nil:
		return nil, fmt.Errorf("%s: exchanger is nil: %w", op, keycloak.ErrNilParameter)
	case sc == nil:
		return nil, fmt.Errorf("%s: secure cookie is nil: %w", op, keycloak.ErrNilParameter)
	case sFn == nil:
		return nil, fmt.Errorf("%s: success response func is nil: %w", op, keycloak.ErrNilParameter)
	case eFn == nil:
		return nil, fmt.Errorf("%s: error response func is nil: %w", op, keycloak.ErrNilParameter)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		// get parameters from either the body or query parameters.
		// FormValue prioritizes body values, if found
		reqState := req.FormValue("state")

		a, attemptErr := readAttempt(req, sc)
		deleteAttempt(w, req)

		if err := req.FormValue("error"); err != "" {
			reqError := &AuthenErrorResponse{
				Error:       err,
				Description: req.FormValue("error_description"),
				Uri:         req.FormValue("error_uri"),
			}
			eFn(reqState, reqError, nil, w, req)
			return
		}
		if attemptErr != nil {
			eFn(reqState, nil, fmt.Errorf("%s: %w", op, attemptErr), w, req)
			return
		}

		params := keycloak.CallbackParams{
			Code:         req.FormValue("code"),
			SessionState: req.FormValue("session_state"),
			State:        reqState,
			Issuer:       req.FormValue("iss"),
		}
		opts := append([]keycloak.Option{
			keycloak.WithState(a.State),
			keycloak.WithNonce(a.Nonce),
			keycloak.WithPKCE(a.Verifier),
		}, opt...)
		t, err := e.Exchange(req.Context(), params, opts...)
		if err != nil {
			eFn(reqState, nil, fmt.Errorf("%s: unable to exchange authorization code: %w", op, err), w, req)
			return
		}
		sFn(reqState, t, w, req)
	}, nil
}
