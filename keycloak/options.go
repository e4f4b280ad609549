// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package keycloak

import (
	"time"

	"golang.org/x/text/language"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// WithNow provides an optional func for determining what the current time it
// is, for: Config and Tk.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if now == nil {
			return
		}
		switch v := o.(type) {
		case *configOptions:
			v.withNowFunc = now
		case *tokenOptions:
			v.withNowFunc = now
		}
	}
}

// WithScopes provides an optional list of scopes, for: Config (the scopes
// requested by default) and AuthURL (scopes added to a single request).
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withScopes = append(v.withScopes, scopes...)
		case *authURLOptions:
			v.withScopes = append(v.withScopes, scopes...)
		}
	}
}

// WithAudiences provides an optional list of audiences, for: Config and
// Exchange. At least one of them must be in an id_token's "aud" claim.
func WithAudiences(auds ...string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withAudiences = append(v.withAudiences, auds...)
		case *exchangeOptions:
			v.withAudiences = append(v.withAudiences, auds...)
		}
	}
}

// WithRedirectURL overrides the configured login redirect URL, for: AuthURL
// and Exchange. Exchange must use the same redirect URL that AuthURL used to
// obtain the code, and it must be one of the config's allowed redirects.
func WithRedirectURL(redirectURL string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *authURLOptions:
			v.withRedirectURL = redirectURL
		case *exchangeOptions:
			v.withRedirectURL = redirectURL
		}
	}
}

// WithState provides a state value, for: AuthURL (sent as "state"),
// Exchange (the value the callback's state must equal) and SignOutURL (sent
// as "state").
func WithState(state string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *authURLOptions:
			v.withState = state
		case *exchangeOptions:
			v.withState = state
		case *signOutOptions:
			v.withState = state
		}
	}
}

// WithNonce provides a nonce, for: AuthURL (sent as "nonce") and Exchange
// (the value the id_token's nonce claim must equal).
func WithNonce(nonce string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *authURLOptions:
			v.withNonce = nonce
		case *exchangeOptions:
			v.withNonce = nonce
		}
	}
}

// WithPKCE provides a PKCE code verifier, for: AuthURL (an S256
// code_challenge is derived and sent) and Exchange (the verifier is sent).
// See oauth2.GenerateVerifier.
func WithPKCE(verifier string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *authURLOptions:
			v.withVerifier = verifier
		case *exchangeOptions:
			v.withVerifier = verifier
		}
	}
}

// WithMaxAge provides the optional max_age auth request parameter, for:
// AuthURL. The value is in seconds.
func WithMaxAge(seconds uint) Option {
	return func(o interface{}) {
		if v, ok := o.(*authURLOptions); ok {
			v.withMaxAge = &seconds
		}
	}
}

// Prompt is a value for the OIDC "prompt" auth request parameter.
type Prompt string

const (
	None          Prompt = "none"
	Login         Prompt = "login"
	Consent       Prompt = "consent"
	SelectAccount Prompt = "select_account"
)

// WithPrompts provides the optional "prompt" auth request parameter, for:
// AuthURL.
func WithPrompts(prompts ...Prompt) Option {
	return func(o interface{}) {
		if v, ok := o.(*authURLOptions); ok {
			v.withPrompts = append(v.withPrompts, prompts...)
		}
	}
}

// WithUILocales provides the optional "ui_locales" auth request parameter,
// for: AuthURL. Keycloak uses it to pick the login page language.
func WithUILocales(locales ...language.Tag) Option {
	return func(o interface{}) {
		if v, ok := o.(*authURLOptions); ok {
			v.withUILocales = append(v.withUILocales, locales...)
		}
	}
}

// WithResponseType overrides the configured response_type, for: AuthURL.
func WithResponseType(rt ResponseType) Option {
	return func(o interface{}) {
		if v, ok := o.(*authURLOptions); ok {
			v.withResponseType = rt
		}
	}
}

// WithAuthParam adds an arbitrary auth request parameter, for: AuthURL (for
// example Keycloak's "kc_idp_hint" or "login_hint"). Parameters AuthURL sets
// itself (redirect_uri, state, scope, ...) are rejected.
func WithAuthParam(key, value string) Option {
	return func(o interface{}) {
		if v, ok := o.(*authURLOptions); ok {
			if v.withParams == nil {
				v.withParams = map[string]string{}
			}
			v.withParams[key] = value
		}
	}
}

// WithRefreshParam adds a form parameter to the refresh_token grant, for:
// Refresh (for example "scope" to narrow the new access token). The grant's
// own parameters are rejected.
func WithRefreshParam(key, value string) Option {
	return func(o interface{}) {
		if v, ok := o.(*exchangeOptions); ok {
			if v.withRefreshParams == nil {
				v.withRefreshParams = map[string]string{}
			}
			v.withRefreshParams[key] = value
		}
	}
}

// WithPostLogoutRedirectURL provides the post logout redirect URL, for:
// Config (the default) and SignOutURL (per call override).
func WithPostLogoutRedirectURL(u string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withPostLogoutRedirectURL = u
		case *signOutOptions:
			v.withPostLogoutRedirectURL = u
		}
	}
}

// WithTokenTypeHint provides the optional token_type_hint, for: Introspect
// and Revoke.
func WithTokenTypeHint(hint TokenTypeHint) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *introspectOptions:
			v.withTokenTypeHint = hint
		}
	}
}
