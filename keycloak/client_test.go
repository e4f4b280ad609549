// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package keycloak

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/text/language"
)

// testNewClient returns a Client for the provider's realm.
func testNewClient(t *testing.T, p *TestProvider, opt ...Option) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), p.NewTestConfig(t, opt...))
	require.NoError(t, err)
	return c
}

// testLogin runs the authorization code flow and returns the token set.
func testLogin(t *testing.T, p *TestProvider, c *Client, opt ...Option) *Tk {
	t.Helper()
	require := require.New(t)
	ctx := context.Background()
	authURL, err := c.AuthURL(ctx, opt...)
	require.NoError(err)
	params, err := p.Authorize(authURL)
	require.NoError(err)
	tk, err := c.Exchange(ctx, params, opt...)
	require.NoError(err)
	return tk
}

func TestNewClient(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := StartTestProvider(t)

	stopped := StartTestProvider(t)
	stoppedConfig := stopped.NewTestConfig(t)
	stopped.Stop()

	wrongRealm := p.NewTestConfig(t)
	wrongRealm.Issuer = KeycloakIssuer(p.Addr(), "missing")

	wrongIssuer := p.NewTestConfig(t)
	wrongIssuer.Issuer = p.Issuer() + "/"

	tests := []struct {
		name        string
		config      *Config
		wantErr     bool
		wantIsErr   error
		wantNetwork bool
	}{
		{
			name:   "valid",
			config: p.NewTestConfig(t),
		},
		{
			name:      "nil-config",
			wantErr:   true,
			wantIsErr: ErrNilParameter,
		},
		{
			name:      "invalid-config",
			config:    &Config{Issuer: p.Issuer()},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "unknown-realm",
			config:    wrongRealm,
			wantErr:   true,
			wantIsErr: ErrDiscovery,
		},
		{
			name:      "issuer-mismatch",
			config:    wrongIssuer,
			wantErr:   true,
			wantIsErr: ErrDiscovery,
		},
		{
			name:        "unreachable",
			config:      stoppedConfig,
			wantErr:     true,
			wantIsErr:   ErrDiscovery,
			wantNetwork: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewClient(ctx, tt.config)
			if tt.wantErr {
				require.Error(err)
				assert.Nil(got)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				assert.Equal(tt.wantNetwork, errors.Is(err, ErrNetwork))
				return
			}
			require.NoError(err)
			assert.Equal(p.Issuer(), got.Issuer())
			info := got.DiscoveryInfo()
			assert.Equal(p.Issuer()+"/protocol/openid-connect/token", info.TokenURL)
			assert.Equal(p.Issuer()+"/protocol/openid-connect/logout", info.EndSessionURL)
			assert.Equal(p.Issuer()+"/protocol/openid-connect/token/introspect", info.IntrospectionURL)
			assert.True(info.IssParameterSupported)
			assert.Same(tt.config, got.Config())
			hc, err := got.HTTPClient()
			require.NoError(err)
			assert.NotNil(hc)
		})
	}
}

func TestClient_notConfigured(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for _, c := range []*Client{nil, {}} {
		assert := assert.New(t)
		_, err := c.AuthURL(ctx)
		assert.ErrorIs(err, ErrNotConfigured)
		_, err = c.Exchange(ctx, CallbackParams{Code: "code"})
		assert.ErrorIs(err, ErrNotConfigured)
		_, err = c.Refresh(ctx, "rt")
		assert.ErrorIs(err, ErrNotConfigured)
		_, err = c.Introspect(ctx, "at")
		assert.ErrorIs(err, ErrNotConfigured)
		assert.ErrorIs(c.Revoke(ctx, "rt"), ErrNotConfigured)
		assert.ErrorIs(c.UserInfo(ctx, "at", &map[string]interface{}{}), ErrNotConfigured)
		_, err = c.SignOutURL(ctx, "")
		assert.ErrorIs(err, ErrNotConfigured)
		assert.ErrorIs(c.VerifyIDToken(ctx, "a.b.c"), ErrNotConfigured)
		_, err = c.HTTPClient()
		assert.ErrorIs(err, ErrNotConfigured)
		assert.Empty(c.Issuer())
	}
}

func TestClient_AuthURL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := StartTestProvider(t)
	const otherRedirect = "https://app.example.com/other"
	c := testNewClient(t, p, WithAllowedRedirects(otherRedirect), WithScopes("email"))
	verifier := oauth2.GenerateVerifier()

	tests := []struct {
		name      string
		opt       []Option
		want      url.Values
		wantErr   bool
		wantIsErr error
	}{
		{
			name: "defaults",
			want: url.Values{
				"client_id":     {TestClientID},
				"redirect_uri":  {TestRedirectURL},
				"response_type": {"code"},
				"scope":         {"openid email"},
			},
		},
		{
			name: "all-options",
			opt: []Option{
				WithRedirectURL(otherRedirect),
				WithState("test-state"),
				WithNonce("test-nonce"),
				WithPKCE(verifier),
				WithScopes("profile", "email"),
				WithMaxAge(300),
				WithPrompts(Login, Consent),
				WithUILocales(language.German, language.AmericanEnglish),
				WithAuthParam("kc_idp_hint", "github"),
			},
			want: url.Values{
				"client_id":             {TestClientID},
				"redirect_uri":          {otherRedirect},
				"response_type":         {"code"},
				"scope":                 {"openid email profile"},
				"state":                 {"test-state"},
				"nonce":                 {"test-nonce"},
				"code_challenge":        {testS256(verifier)},
				"code_challenge_method": {"S256"},
				"max_age":               {"300"},
				"prompt":                {"login consent"},
				"ui_locales":            {"de en-US"},
				"kc_idp_hint":           {"github"},
			},
		},
		{
			name: "hybrid-response-type",
			opt:  []Option{WithResponseType(CodeIDTokenResponseType), WithNonce("test-nonce")},
			want: url.Values{
				"client_id":     {TestClientID},
				"redirect_uri":  {TestRedirectURL},
				"response_type": {"code id_token"},
				"scope":         {"openid email"},
				"nonce":         {"test-nonce"},
			},
		},
		{
			name:      "hybrid-without-nonce",
			opt:       []Option{WithResponseType(CodeIDTokenResponseType)},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "unsupported-response-type",
			opt:       []Option{WithResponseType("token")},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "unauthorized-redirect",
			opt:       []Option{WithRedirectURL("https://evil.example.com/callback")},
			wantErr:   true,
			wantIsErr: ErrUnauthorizedRedirectURI,
		},
		{
			name:      "equal-state-and-nonce",
			opt:       []Option{WithState("same"), WithNonce("same")},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "prompt-none-with-others",
			opt:       []Option{WithPrompts(None, Login)},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "auth-param-redirect-uri",
			opt:       []Option{WithAuthParam("redirect_uri", "https://evil.example.com/callback")},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "auth-param-state",
			opt:       []Option{WithState("test-state"), WithAuthParam("state", "other")},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "auth-param-client-id",
			opt:       []Option{WithAuthParam("client_id", "other-client")},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := c.AuthURL(ctx, tt.opt...)
			if tt.wantErr {
				require.Error(err)
				assert.Empty(got)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			u, err := url.Parse(got)
			require.NoError(err)
			assert.Equal(p.Issuer()+"/protocol/openid-connect/auth", u.Scheme+"://"+u.Host+u.Path)
			assert.Equal(tt.want, u.Query())

			again, err := c.AuthURL(ctx, tt.opt...)
			require.NoError(err)
			assert.Equal(got, again, "identical options must give identical URLs")
		})
	}
}

func TestClient_Exchange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		c := testNewClient(t, p)
		verifier := oauth2.GenerateVerifier()
		opts := []Option{WithState("test-state"), WithNonce("test-nonce"), WithPKCE(verifier)}

		authURL, err := c.AuthURL(ctx, opts...)
		require.NoError(err)
		params, err := p.Authorize(authURL)
		require.NoError(err)
		assert.Equal("test-state", params.State)
		assert.Equal(p.Issuer(), params.Issuer)

		tk, err := c.Exchange(ctx, params, opts...)
		require.NoError(err)
		assert.NotEmpty(tk.AccessToken())
		assert.NotEmpty(tk.RefreshToken())
		assert.NotEmpty(tk.IDToken())
		assert.Equal("Bearer", tk.TokenType())
		assert.Equal(params.SessionState, tk.SessionState())
		assert.True(tk.Valid())

		var claims struct {
			Nonce string `json:"nonce"`
			Sub   string `json:"sub"`
			Sid   string `json:"sid"`
		}
		require.NoError(tk.IDToken().Claims(&claims))
		assert.Equal("test-nonce", claims.Nonce)
		assert.Equal(testDefaultSub, claims.Sub)
		assert.Equal(params.SessionState, claims.Sid)
	})

	t.Run("public-client-with-pkce", func(t *testing.T) {
		assert := assert.New(t)
		p := StartTestProvider(t)
		p.SetClientCreds("public-client", "")
		c := testNewClient(t, p)
		tk := testLogin(t, p, c, WithPKCE(oauth2.GenerateVerifier()))
		assert.NotEmpty(tk.AccessToken())
	})

	t.Run("code-is-single-use", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		c := testNewClient(t, p)
		authURL, err := c.AuthURL(ctx)
		require.NoError(err)
		params, err := p.Authorize(authURL)
		require.NoError(err)
		_, err = c.Exchange(ctx, params)
		require.NoError(err)

		tk, err := c.Exchange(ctx, params)
		require.Error(err)
		assert.Nil(tk)
		assert.Truef(errors.Is(err, ErrTokenExchange), "wanted \"%s\" but got \"%s\"", ErrTokenExchange, err)
		assert.False(errors.Is(err, ErrNetwork))
		var retrieveErr *oauth2.RetrieveError
		require.True(errors.As(err, &retrieveErr))
		assert.Equal("invalid_grant", retrieveErr.ErrorCode)
	})

	t.Run("expired-code", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		c := testNewClient(t, p)
		authURL, err := c.AuthURL(ctx)
		require.NoError(err)
		params, err := p.Authorize(authURL)
		require.NoError(err)
		p.ExpireAuthCodes()

		tk, err := c.Exchange(ctx, params)
		require.Error(err)
		assert.Nil(tk)
		assert.Truef(errors.Is(err, ErrTokenExchange), "wanted \"%s\" but got \"%s\"", ErrTokenExchange, err)
	})

	t.Run("missing-id-token", func(t *testing.T) {
		require := require.New(t)
		p := StartTestProvider(t)
		p.OmitIDTokens()
		c := testNewClient(t, p)
		authURL, err := c.AuthURL(ctx)
		require.NoError(err)
		params, err := p.Authorize(authURL)
		require.NoError(err)
		_, err = c.Exchange(ctx, params)
		require.ErrorIs(err, ErrTokenExchange)
		require.ErrorIs(err, ErrMissingIDToken)
	})

	t.Run("wrong-audience", func(t *testing.T) {
		require := require.New(t)
		p := StartTestProvider(t)
		p.SetCustomAudience("another-client")
		c := testNewClient(t, p)
		authURL, err := c.AuthURL(ctx)
		require.NoError(err)
		params, err := p.Authorize(authURL)
		require.NoError(err)
		_, err = c.Exchange(ctx, params)
		require.ErrorIs(err, ErrIDTokenVerificationFailed)
	})

	t.Run("network-error", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		c := testNewClient(t, p)
		authURL, err := c.AuthURL(ctx)
		require.NoError(err)
		params, err := p.Authorize(authURL)
		require.NoError(err)
		p.Stop()

		_, err = c.Exchange(ctx, params)
		require.Error(err)
		assert.ErrorIs(err, ErrTokenExchange)
		assert.ErrorIs(err, ErrNetwork)
	})

	p := StartTestProvider(t)
	c := testNewClient(t, p)
	verifier := oauth2.GenerateVerifier()

	tests := []struct {
		name        string
		authOpts    []Option
		params      func(CallbackParams) CallbackParams
		exchOpts    []Option
		wantIsErr   error
		wantNoToken bool
	}{
		{
			name:      "empty-code",
			params:    func(CallbackParams) CallbackParams { return CallbackParams{} },
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "state-mismatch",
			authOpts:  []Option{WithState("test-state")},
			exchOpts:  []Option{WithState("other-state")},
			wantIsErr: ErrResponseStateInvalid,
		},
		{
			name:     "issuer-mismatch",
			authOpts: []Option{},
			params: func(cp CallbackParams) CallbackParams {
				cp.Issuer = "https://evil.example.com/realms/test"
				return cp
			},
			wantIsErr: ErrInvalidIssuer,
		},
		{
			name:      "nonce-mismatch",
			authOpts:  []Option{WithNonce("test-nonce")},
			exchOpts:  []Option{WithNonce("other-nonce")},
			wantIsErr: ErrInvalidNonce,
		},
		{
			name:      "missing-pkce-verifier",
			authOpts:  []Option{WithPKCE(verifier)},
			wantIsErr: ErrTokenExchange,
		},
		{
			name:      "wrong-pkce-verifier",
			authOpts:  []Option{WithPKCE(verifier)},
			exchOpts:  []Option{WithPKCE(oauth2.GenerateVerifier())},
			wantIsErr: ErrTokenExchange,
		},
		{
			name:      "unauthorized-redirect",
			exchOpts:  []Option{WithRedirectURL("https://evil.example.com/callback")},
			wantIsErr: ErrUnauthorizedRedirectURI,
		},
		{
			name:      "audience-not-found",
			exchOpts:  []Option{WithAudiences("not-an-audience")},
			wantIsErr: ErrInvalidAudience,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			authURL, err := c.AuthURL(ctx, tt.authOpts...)
			require.NoError(err)
			params, err := p.Authorize(authURL)
			require.NoError(err)
			if tt.params != nil {
				params = tt.params(params)
			}
			tk, err := c.Exchange(ctx, params, tt.exchOpts...)
			require.Error(err)
			assert.Nil(tk)
			assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
		})
	}
}

func TestClient_Refresh(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		c := testNewClient(t, p)
		tk := testLogin(t, p, c)

		refreshed, err := c.Refresh(ctx, tk.RefreshToken())
		require.NoError(err)
		assert.NotEmpty(refreshed.AccessToken())
		assert.NotEqual(tk.AccessToken(), refreshed.AccessToken())
		assert.NotEmpty(refreshed.IDToken())
		// not rotated, so the old refresh token is kept
		assert.Equal(tk.RefreshToken(), refreshed.RefreshToken())
		assert.Equal(tk.SessionState(), refreshed.SessionState())
		assert.True(refreshed.Valid())
	})

	t.Run("rotated", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		p.SetRotateRefreshTokens(true)
		c := testNewClient(t, p)
		tk := testLogin(t, p, c)

		refreshed, err := c.Refresh(ctx, tk.RefreshToken())
		require.NoError(err)
		assert.NotEqual(tk.RefreshToken(), refreshed.RefreshToken())

		_, err = c.Refresh(ctx, tk.RefreshToken())
		require.Error(err)
		assert.ErrorIs(err, ErrRefresh)
	})

	t.Run("without-id-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		p.OmitRefreshIDTokens()
		c := testNewClient(t, p)
		tk := testLogin(t, p, c)

		refreshed, err := c.Refresh(ctx, tk.RefreshToken())
		require.NoError(err)
		assert.Empty(refreshed.IDToken())
		assert.NotEmpty(refreshed.AccessToken())
	})

	t.Run("revoked", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		c := testNewClient(t, p)
		tk := testLogin(t, p, c)
		require.NoError(c.Revoke(ctx, string(tk.RefreshToken()), WithTokenTypeHint(RefreshTokenHint)))

		refreshed, err := c.Refresh(ctx, tk.RefreshToken())
		require.Error(err)
		assert.Nil(refreshed)
		assert.Truef(errors.Is(err, ErrRefresh), "wanted \"%s\" but got \"%s\"", ErrRefresh, err)
		var retrieveErr *oauth2.RetrieveError
		require.True(errors.As(err, &retrieveErr))
		assert.Equal("invalid_grant", retrieveErr.ErrorCode)
	})

	t.Run("empty", func(t *testing.T) {
		p := StartTestProvider(t)
		c := testNewClient(t, p)
		_, err := c.Refresh(ctx, "")
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})

	t.Run("network-error", func(t *testing.T) {
		assert := assert.New(t)
		p := StartTestProvider(t)
		c := testNewClient(t, p)
		tk := testLogin(t, p, c)
		p.Stop()
		_, err := c.Refresh(ctx, tk.RefreshToken())
		assert.ErrorIs(err, ErrRefresh)
		assert.ErrorIs(err, ErrNetwork)
	})
}

func TestClient_VerifyIDToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := StartTestProvider(t)
	c := testNewClient(t, p)
	tk := testLogin(t, p, c, WithNonce("test-nonce"))
	_, priv := p.SigningKeys()

	expired := testClaims(-time.Minute)
	expired.Issuer = p.Issuer()
	expired.NotBefore = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	otherIssuer := testClaims(time.Minute)

	tests := []struct {
		name      string
		token     IDToken
		opt       []Option
		wantIsErr error
	}{
		{name: "valid", token: tk.IDToken()},
		{name: "valid-with-nonce", token: tk.IDToken(), opt: []Option{WithNonce("test-nonce")}},
		{name: "wrong-nonce", token: tk.IDToken(), opt: []Option{WithNonce("other")}, wantIsErr: ErrInvalidNonce},
		{name: "audience", token: tk.IDToken(), opt: []Option{WithAudiences(TestClientID)}},
		{name: "wrong-audience", token: tk.IDToken(), opt: []Option{WithAudiences("other")}, wantIsErr: ErrInvalidAudience},
		{name: "expired", token: IDToken(TestSignJWT(t, priv, expired, nil)), wantIsErr: ErrIDTokenVerificationFailed},
		{name: "other-issuer", token: IDToken(TestSignJWT(t, priv, otherIssuer, nil)), wantIsErr: ErrIDTokenVerificationFailed},
		{name: "garbage", token: "a.b.c", wantIsErr: ErrIDTokenVerificationFailed},
		{name: "empty", wantIsErr: ErrInvalidParameter},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			err := c.VerifyIDToken(ctx, tt.token, tt.opt...)
			if tt.wantIsErr == nil {
				require.NoError(err)
				return
			}
			require.Error(err)
			assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
		})
	}
}

func TestClient_SignOutURL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := StartTestProvider(t)
	const postLogout = "https://app.example.com/"
	c := testNewClient(t, p, WithPostLogoutRedirectURL(postLogout))
	noDefault := testNewClient(t, p)

	tests := []struct {
		name      string
		client    *Client
		hint      IDToken
		opt       []Option
		want      url.Values
		wantIsErr error
	}{
		{
			name:   "configured-post-logout",
			client: c,
			hint:   "test-id-token",
			want: url.Values{
				"client_id":                {TestClientID},
				"id_token_hint":            {"test-id-token"},
				"post_logout_redirect_uri": {postLogout},
			},
		},
		{
			name:   "override-and-state",
			client: c,
			hint:   "test-id-token",
			opt:    []Option{WithPostLogoutRedirectURL("https://app.example.com/bye"), WithState("test-state")},
			want: url.Values{
				"client_id":                {TestClientID},
				"id_token_hint":            {"test-id-token"},
				"post_logout_redirect_uri": {"https://app.example.com/bye"},
				"state":                    {"test-state"},
			},
		},
		{
			name:   "no-hint-no-redirect",
			client: noDefault,
			want: url.Values{
				"client_id": {TestClientID},
			},
		},
		{
			name:      "invalid-override",
			client:    c,
			opt:       []Option{WithPostLogoutRedirectURL("not a url")},
			wantIsErr: ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := tt.client.SignOutURL(ctx, tt.hint, tt.opt...)
			if tt.wantIsErr != nil {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			u, err := url.Parse(got)
			require.NoError(err)
			assert.Equal(p.Issuer()+"/protocol/openid-connect/logout", u.Scheme+"://"+u.Host+u.Path)
			assert.Equal(tt.want, u.Query())
		})
	}

	t.Run("no-network", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		c := testNewClient(t, p)
		p.Stop()
		got, err := c.SignOutURL(ctx, "test-id-token", WithPostLogoutRedirectURL(postLogout))
		require.NoError(err)
		assert.Contains(got, "id_token_hint=test-id-token")
		assert.Equal(0, p.Logouts())
	})

	t.Run("unsupported", func(t *testing.T) {
		p := StartTestProvider(t)
		p.DisableEndSession()
		c := testNewClient(t, p)
		_, err := c.SignOutURL(ctx, "test-id-token")
		assert.ErrorIs(t, err, ErrUnsupportedEndpoint)
	})
}

func TestClient_literalConfig(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	p := StartTestProvider(t)

	c, err := NewClient(ctx, &Config{
		Issuer:       p.Issuer(),
		ClientID:     TestClientID,
		ClientSecret: TestClientSecret,
		RedirectURL:  TestRedirectURL,
		ProviderCA:   p.CACert(),
	})
	require.NoError(err)

	authURL, err := c.AuthURL(ctx, WithState("test-state"))
	require.NoError(err)
	u, err := url.Parse(authURL)
	require.NoError(err)
	assert.Equal("openid", u.Query().Get("scope"))

	params, err := p.Authorize(authURL)
	require.NoError(err)
	tk, err := c.Exchange(ctx, params, WithState("test-state"))
	require.NoError(err)
	assert.NotEmpty(tk.IDToken())

	refreshed, err := c.Refresh(ctx, tk.RefreshToken())
	require.NoError(err)
	assert.NotEmpty(refreshed.AccessToken())
}

func TestClient_Refresh_params(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("sent-with-grant", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		c := testNewClient(t, p)
		tk := testLogin(t, p, c)

		refreshed, err := c.Refresh(ctx, tk.RefreshToken(), WithRefreshParam("scope", "openid email"))
		require.NoError(err)
		form := p.LastTokenRequest()
		assert.Equal("refresh_token", form.Get("grant_type"))
		assert.Equal(string(tk.RefreshToken()), form.Get("refresh_token"))
		assert.Equal("openid email", form.Get("scope"))

		assert.NotEmpty(refreshed.AccessToken())
		assert.NotEqual(tk.AccessToken(), refreshed.AccessToken())
		assert.NotEmpty(refreshed.IDToken())
		assert.Equal(tk.RefreshToken(), refreshed.RefreshToken())
		assert.Equal(tk.SessionState(), refreshed.SessionState())
		assert.Equal("Bearer", refreshed.TokenType())
		assert.True(refreshed.Valid())
	})

	t.Run("rotated", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		p.SetRotateRefreshTokens(true)
		c := testNewClient(t, p)
		tk := testLogin(t, p, c)

		refreshed, err := c.Refresh(ctx, tk.RefreshToken(), WithRefreshParam("scope", "openid"))
		require.NoError(err)
		assert.NotEmpty(refreshed.RefreshToken())
		assert.NotEqual(tk.RefreshToken(), refreshed.RefreshToken())
	})

	t.Run("invalid-grant", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		c := testNewClient(t, p)

		_, err := c.Refresh(ctx, "rt_unknown", WithRefreshParam("scope", "openid"))
		require.Error(err)
		assert.ErrorIs(err, ErrRefresh)
		var respErr *ResponseError
		require.True(errors.As(err, &respErr))
		assert.Equal("invalid_grant", respErr.ErrorCode)
	})

	t.Run("reserved", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := StartTestProvider(t)
		c := testNewClient(t, p)
		tk := testLogin(t, p, c)

		for _, name := range []string{"grant_type", "refresh_token", "client_id", "client_secret"} {
			_, err := c.Refresh(ctx, tk.RefreshToken(), WithRefreshParam(name, "x"))
			require.Errorf(err, "%s", name)
			assert.ErrorIsf(err, ErrRefresh, "%s", name)
			assert.ErrorIsf(err, ErrInvalidParameter, "%s", name)
		}
	})
}
