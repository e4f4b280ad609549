// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gorilla/securecookie"
	"github.com/hashicorp/cap-keycloak/keycloak"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testResult struct {
	state   string
	token   keycloak.Token
	respErr *AuthenErrorResponse
	err     error
}

func testResponseFuncs(r *testResult) (SuccessResponseFunc, ErrorResponseFunc) {
	sFn := func(state string, t keycloak.Token, w http.ResponseWriter, req *http.Request) {
		r.state, r.token = state, t
		w.WriteHeader(http.StatusOK)
	}
	eFn := func(state string, respErr *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
		r.state, r.respErr, r.err = state, respErr, e
		w.WriteHeader(http.StatusUnauthorized)
	}
	return sFn, eFn
}

// testStartLogin runs the Login handler and returns the provider redirect and
// the attempt cookie.
func testStartLogin(t *testing.T, a AuthURLer, sc *securecookie.SecureCookie, opt ...keycloak.Option) (string, *http.Cookie) {
	t.Helper()
	require := require.New(t)
	h, err := Login(a, sc, opt...)
	require.NoError(err)
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "https://app.example.com/login", nil))
	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(http.StatusFound, resp.StatusCode)
	var attemptCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == attemptCookieName {
			attemptCookie = c
		}
	}
	require.NotNil(attemptCookie)
	return resp.Header.Get("Location"), attemptCookie
}

func testCallbackRequest(params url.Values, cookies ...*http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, keycloak.TestRedirectURL+"?"+params.Encode(), nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func testCallbackValues(p keycloak.CallbackParams) url.Values {
	v := url.Values{}
	v.Set("code", p.Code)
	v.Set("state", p.State)
	v.Set("session_state", p.SessionState)
	if p.Issuer != "" {
		v.Set("iss", p.Issuer)
	}
	return v
}

func TestLogin(t *testing.T) {
	t.Parallel()
	p := keycloak.StartTestProvider(t)
	c, err := keycloak.NewClient(context.Background(), p.NewTestConfig(t))
	require.NoError(t, err)
	sc := NewSecureCookie()

	t.Run("nil-params", func(t *testing.T) {
		t.Parallel()
		_, err := Login(nil, sc)
		assert.ErrorIs(t, err, keycloak.ErrNilParameter)
		_, err = Login(c, nil)
		assert.ErrorIs(t, err, keycloak.ErrNilParameter)
	})
	t.Run("redirect", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		loc, cookie := testStartLogin(t, c, sc, keycloak.WithPrompts(keycloak.Login))

		u, err := url.Parse(loc)
		require.NoError(err)
		q := u.Query()
		assert.Equal(c.DiscoveryInfo().AuthURL, u.Scheme+"://"+u.Host+u.Path)
		assert.Equal("S256", q.Get("code_challenge_method"))
		assert.Equal("login", q.Get("prompt"))

		var a attempt
		require.NoError(sc.Decode(attemptCookieName, cookie.Value, &a))
		assert.Equal(a.State, q.Get("state"))
		assert.Equal(a.Nonce, q.Get("nonce"))
		assert.NotEmpty(a.Verifier)
		assert.True(cookie.HttpOnly)
		assert.Equal("/", cookie.Path)
	})
	t.Run("auth-url-error", func(t *testing.T) {
		t.Parallel()
		h, err := Login(c, sc, keycloak.WithRedirectURL("https://evil.example.com/cb"))
		require.NoError(t, err)
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodGet, "https://app.example.com/login", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Empty(t, w.Result().Cookies())
	})
}

func TestAuthCode(t *testing.T) {
	t.Parallel()
	p := keycloak.StartTestProvider(t)
	kc := keycloak.New()
	require.NoError(t, kc.Configure(context.Background(), p.NewTestConfig(t)))
	sc := NewSecureCookie()

	t.Run("nil-params", func(t *testing.T) {
		t.Parallel()
		var r testResult
		sFn, eFn := testResponseFuncs(&r)
		tests := []struct {
			name string
			e    Exchanger
			sc   *securecookie.SecureCookie
			sFn  SuccessResponseFunc
			eFn  ErrorResponseFunc
		}{
			{"exchanger", nil, sc, sFn, eFn},
			{"cookie", kc, nil, sFn, eFn},
			{"success-func", kc, sc, nil, eFn},
			{"error-func", kc, sc, sFn, nil},
		}
		for _, tt := range tests {
			_, err := AuthCode(tt.e, tt.sc, tt.sFn, tt.eFn)
			assert.ErrorIsf(t, err, keycloak.ErrNilParameter, "%s", tt.name)
		}
	})
	t.Run("success", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		loc, cookie := testStartLogin(t, kc, sc)
		params, err := p.Authorize(loc)
		require.NoError(err)

		var r testResult
		sFn, eFn := testResponseFuncs(&r)
		h, err := AuthCode(kc, sc, sFn, eFn)
		require.NoError(err)
		w := httptest.NewRecorder()
		h(w, testCallbackRequest(testCallbackValues(params), cookie))

		require.NoError(r.err)
		assert.Equal(http.StatusOK, w.Code)
		assert.Equal(params.State, r.state)
		require.NotNil(r.token)
		assert.NotEmpty(r.token.AccessToken())
		assert.NotEmpty(r.token.RefreshToken())
		assert.NotEmpty(r.token.IDToken())

		var deleted bool
		for _, c := range w.Result().Cookies() {
			if c.Name == attemptCookieName && c.MaxAge < 0 {
				deleted = true
			}
		}
		assert.True(deleted)
	})
	t.Run("provider-error", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		_, cookie := testStartLogin(t, kc, sc)
		var r testResult
		sFn, eFn := testResponseFuncs(&r)
		h, err := AuthCode(kc, sc, sFn, eFn)
		require.NoError(t, err)

		v := url.Values{}
		v.Set("state", "st_abc")
		v.Set("error", "access_denied")
		v.Set("error_description", "user cancelled")
		w := httptest.NewRecorder()
		h(w, testCallbackRequest(v, cookie))

		assert.Equal(http.StatusUnauthorized, w.Code)
		assert.NoError(r.err)
		assert.Equal("st_abc", r.state)
		assert.Equal(&AuthenErrorResponse{Error: "access_denied", Description: "user cancelled"}, r.respErr)
		assert.Nil(r.token)
	})
	t.Run("missing-cookie", func(t *testing.T) {
		t.Parallel()
		loc, _ := testStartLogin(t, kc, sc)
		params, err := p.Authorize(loc)
		require.NoError(t, err)
		var r testResult
		sFn, eFn := testResponseFuncs(&r)
		h, err := AuthCode(kc, sc, sFn, eFn)
		require.NoError(t, err)
		w := httptest.NewRecorder()
		h(w, testCallbackRequest(testCallbackValues(params)))
		assert.ErrorIs(t, r.err, ErrAttemptNotFound)
		assert.Nil(t, r.token)
	})
	t.Run("foreign-cookie", func(t *testing.T) {
		t.Parallel()
		loc, cookie := testStartLogin(t, kc, NewSecureCookie())
		params, err := p.Authorize(loc)
		require.NoError(t, err)
		var r testResult
		sFn, eFn := testResponseFuncs(&r)
		h, err := AuthCode(kc, sc, sFn, eFn)
		require.NoError(t, err)
		w := httptest.NewRecorder()
		h(w, testCallbackRequest(testCallbackValues(params), cookie))
		assert.ErrorIs(t, r.err, ErrAttemptNotFound)
	})
	t.Run("state-mismatch", func(t *testing.T) {
		t.Parallel()
		loc, cookie := testStartLogin(t, kc, sc)
		params, err := p.Authorize(loc)
		require.NoError(t, err)
		params.State = "st_forged"
		var r testResult
		sFn, eFn := testResponseFuncs(&r)
		h, err := AuthCode(kc, sc, sFn, eFn)
		require.NoError(t, err)
		w := httptest.NewRecorder()
		h(w, testCallbackRequest(testCallbackValues(params), cookie))
		assert.ErrorIs(t, r.err, keycloak.ErrResponseStateInvalid)
		assert.Equal(t, "st_forged", r.state)
	})
	t.Run("code-reuse", func(t *testing.T) {
		t.Parallel()
		loc, cookie := testStartLogin(t, kc, sc)
		params, err := p.Authorize(loc)
		require.NoError(t, err)
		var r testResult
		sFn, eFn := testResponseFuncs(&r)
		h, err := AuthCode(kc, sc, sFn, eFn)
		require.NoError(t, err)
		h(httptest.NewRecorder(), testCallbackRequest(testCallbackValues(params), cookie))
		require.NoError(t, r.err)

		r = testResult{}
		h(httptest.NewRecorder(), testCallbackRequest(testCallbackValues(params), cookie))
		assert.ErrorIs(t, r.err, keycloak.ErrTokenExchange)
	})
}
