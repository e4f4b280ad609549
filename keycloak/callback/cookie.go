// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

const (
	attemptCookieName = "kc_attempt"

	// AttemptTTL is how long a user has to complete an authentication
	// attempt started by Login.
	AttemptTTL = 10 * time.Minute
)

// ErrAttemptNotFound is returned when the callback request carries no valid
// authentication attempt cookie (it is missing, expired or tampered with).
var ErrAttemptNotFound = errors.New("authentication attempt not found")

// attempt is the per-login data needed to complete the code exchange.
type attempt struct {
	State    string
	Nonce    string
	Verifier string
}

// NewSecureCookie returns a codec for attempt cookies with random hash and
// block keys. Cookies it encodes cannot be decoded by another process, so
// applications with more than one instance must create their codec with
// securecookie.New and shared keys.
func NewSecureCookie() *securecookie.SecureCookie {
	sc := securecookie.New(securecookie.GenerateRandomKey(64), securecookie.GenerateRandomKey(32))
	return sc.MaxAge(int(AttemptTTL.Seconds()))
}

func writeAttempt(w http.ResponseWriter, req *http.Request, sc *securecookie.SecureCookie, a *attempt) error {
	encoded, err := sc.Encode(attemptCookieName, a)
	if err != nil {
		return fmt.Errorf("unable to encode attempt cookie: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     attemptCookieName,
		Value:    encoded,
		Path:     "/",
		Expires:  time.Now().Add(AttemptTTL),
		MaxAge:   int(AttemptTTL.Seconds()),
		Secure:   req.TLS != nil,
		HttpOnly: true,
		// the provider redirects back with a top level GET
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func readAttempt(req *http.Request, sc *securecookie.SecureCookie) (*attempt, error) {
	c, err := req.Cookie(attemptCookieName)
	if err != nil {
		return nil, ErrAttemptNotFound
	}
	var a attempt
	if err := sc.Decode(attemptCookieName, c.Value, &a); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAttemptNotFound, err)
	}
	return &a, nil
}

func deleteAttempt(w http.ResponseWriter, req *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     attemptCookieName,
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		Secure:   req.TLS != nil,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
