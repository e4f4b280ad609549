// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/cap-keycloak/keycloak/internal/strutils"
	sdkHttp "github.com/hashicorp/cap-keycloak/sdk/http"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
	"golang.org/x/text/language"
)

// Client is an OIDC relying party bound to one discovered issuer. It provides
// the authorization code flow operations: generating an auth URL, exchanging
// codes for tokens, refreshing tokens, introspecting and revoking tokens,
// making user info requests and generating sign-out URLs.
//
// A Client is immutable once created and safe for concurrent use.
type Client struct {
	config   *Config
	provider *oidc.Provider
	client   *http.Client
	info     DiscoveryInfo
	logger   hclog.Logger
}

// DiscoveryInfo is the subset of the issuer's discovery document used by the
// Client.
//
// See: https://openid.net/specs/openid-connect-discovery-1_0.html#ProviderMetadata
type DiscoveryInfo struct {
	Issuer                        string   `json:"issuer"`
	AuthURL                       string   `json:"authorization_endpoint"`
	TokenURL                      string   `json:"token_endpoint"`
	JWKSURL                       string   `json:"jwks_uri"`
	UserInfoURL                   string   `json:"userinfo_endpoint,omitempty"`
	IntrospectionURL              string   `json:"introspection_endpoint,omitempty"`
	RevocationURL                 string   `json:"revocation_endpoint,omitempty"`
	EndSessionURL                 string   `json:"end_session_endpoint,omitempty"`
	ResponseTypesSupported        []string `json:"response_types_supported,omitempty"`
	IDTokenSigningAlgsSupported   []string `json:"id_token_signing_alg_values_supported,omitempty"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
	DPoPSigningAlgsSupported      []string `json:"dpop_signing_alg_values_supported,omitempty"`
	IssParameterSupported         bool     `json:"authorization_response_iss_parameter_supported,omitempty"`
}

// NewClient creates and initializes a Client. Initializing the client
// includes making an http request to the issuer's discovery endpoint.
func NewClient(ctx context.Context, c *Config) (_ *Client, retErr error) {
	const op = "NewClient"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}
	client, err := c.HTTPClient()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}

	ctx, span := c.startSpan(ctx, spanDiscovery)
	defer func() { endSpan(span, retErr) }()

	logger := c.logger()
	logger.Debug("discovering issuer", "issuer", c.Issuer)

	// makes http req to issuer for discovery
	provider, err := oidc.NewProvider(sdkHttp.ClientContext(ctx, client), c.Issuer)
	if err != nil {
		logger.Warn("issuer discovery failed", "issuer", c.Issuer, "error", err)
		return nil, fmt.Errorf("%s: unable to create provider: %w", op, wrapProviderErr(ErrDiscovery, err))
	}
	var info DiscoveryInfo
	if err := provider.Claims(&info); err != nil {
		return nil, fmt.Errorf("%s: unable to read discovery document: %w: %w", op, ErrDiscovery, err)
	}
	return &Client{
		config:   c,
		provider: provider,
		client:   client,
		info:     info,
		logger:   logger,
	}, nil
}

// configured returns ErrNotConfigured for a nil or zero Client.
func (c *Client) configured() error {
	if c == nil || c.config == nil || c.provider == nil || c.client == nil {
		return ErrNotConfigured
	}
	return nil
}

// Config returns the client's config.
func (c *Client) Config() *Config {
	if c == nil {
		return nil
	}
	return c.config
}

// Issuer returns the issuer the client discovered.
func (c *Client) Issuer() string {
	if c == nil {
		return ""
	}
	return c.info.Issuer
}

// DiscoveryInfo returns the endpoints and capabilities read from the
// issuer's discovery document.
func (c *Client) DiscoveryInfo() DiscoveryInfo {
	if c == nil {
		return DiscoveryInfo{}
	}
	return c.info
}

// HTTPClient returns the http client used to talk to the provider.
func (c *Client) HTTPClient() (*http.Client, error) {
	const op = "Client.HTTPClient"
	if err := c.configured(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c.client, nil
}

func (c *Client) clientContext(ctx context.Context) context.Context {
	return sdkHttp.ClientContext(ctx, c.client)
}

// oauth2Config returns an OpenID Connect aware oauth2.Config. Confidential
// clients authenticate with HTTP basic auth, public clients send their
// client_id as a form parameter.
func (c *Client) oauth2Config(redirectURL string, scopes []string) *oauth2.Config {
	endpoint := c.provider.Endpoint()
	endpoint.AuthStyle = oauth2.AuthStyleInHeader
	if c.config.ClientSecret == "" {
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}
	return &oauth2.Config{
		ClientID:     c.config.ClientID,
		ClientSecret: string(c.config.ClientSecret),
		RedirectURL:  redirectURL,
		Endpoint:     endpoint,
		Scopes:       scopes,
	}
}

// scopes returns the config's scopes plus extra, always including openid.
func (c *Client) scopes(extra ...string) []string {
	scopes := append([]string{oidc.ScopeOpenID}, c.config.Scopes...)
	return strutils.RemoveDuplicatesStable(append(scopes, extra...), false)
}

// reservedAuthParams are set by AuthURL itself and cannot be provided with
// WithAuthParam.
var reservedAuthParams = map[string]bool{
	"client_id":             true,
	"redirect_uri":          true,
	"response_type":         true,
	"scope":                 true,
	"state":                 true,
	"nonce":                 true,
	"code_challenge":        true,
	"code_challenge_method": true,
	"max_age":               true,
	"prompt":                true,
	"ui_locales":            true,
}

// redirectURL resolves the redirect URL for a request. An override must be
// one of the config's allowed redirect URLs.
func (c *Client) redirectURL(override string) (string, error) {
	if override == "" {
		if c.config.RedirectURL == "" {
			return "", fmt.Errorf("redirect URL is empty: %w", ErrInvalidParameter)
		}
		return c.config.RedirectURL, nil
	}
	if !strutils.StrListContains(c.config.AllowedRedirectURLs, override) {
		return "", fmt.Errorf("%q is not an allowed redirect: %w", override, ErrUnauthorizedRedirectURI)
	}
	return override, nil
}

// AuthURL will generate a URL the caller can use to kick off an OIDC
// authorization code flow with the provider. No request is made to the
// provider.
//
// The redirect_uri is the config's RedirectURL unless WithRedirectURL is
// used. Identical options produce identical URLs: a state or nonce is only
// included when provided with WithState and WithNonce (see NewID).
//
// Supported options: WithRedirectURL, WithState, WithNonce, WithPKCE,
// WithScopes, WithMaxAge, WithPrompts, WithUILocales, WithResponseType,
// WithAuthParam.
func (c *Client) AuthURL(ctx context.Context, opt ...Option) (string, error) {
	const op = "Client.AuthURL"
	if err := c.configured(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	opts := getAuthURLOpts(opt...)

	redirect, err := c.redirectURL(opts.withRedirectURL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if opts.withState != "" && opts.withState == opts.withNonce {
		return "", fmt.Errorf("%s: state and nonce cannot be equal: %w", op, ErrInvalidParameter)
	}

	responseType := CodeResponseType
	if len(c.config.ResponseTypes) > 0 {
		responseType = c.config.ResponseTypes[0]
	}
	if opts.withResponseType != "" {
		responseType = opts.withResponseType
	}
	if !supportedResponseTypes[responseType] {
		return "", fmt.Errorf("%s: unsupported response type %q: %w", op, responseType, ErrInvalidParameter)
	}
	if strings.Contains(string(responseType), string(IDTokenResponseType)) && opts.withNonce == "" {
		return "", fmt.Errorf("%s: nonce is required for response type %q: %w", op, responseType, ErrInvalidParameter)
	}

	var authCodeOpts []oauth2.AuthCodeOption
	if responseType != CodeResponseType {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("response_type", string(responseType)))
	}
	if opts.withNonce != "" {
		authCodeOpts = append(authCodeOpts, oidc.Nonce(opts.withNonce))
	}
	if opts.withVerifier != "" {
		authCodeOpts = append(authCodeOpts, oauth2.S256ChallengeOption(opts.withVerifier))
	}
	if opts.withMaxAge != nil {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("max_age", strconv.FormatUint(uint64(*opts.withMaxAge), 10)))
	}
	if len(opts.withPrompts) > 0 {
		prompts := make([]string, 0, len(opts.withPrompts))
		for _, p := range opts.withPrompts {
			prompts = append(prompts, string(p))
		}
		prompts = strutils.RemoveDuplicatesStable(prompts, false)
		if strutils.StrListContains(prompts, string(None)) && len(prompts) > 1 {
			return "", fmt.Errorf("%s: prompts (%s) includes %q with other values: %w", op, prompts, None, ErrInvalidParameter)
		}
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("prompt", strings.Join(prompts, " ")))
	}
	if len(opts.withUILocales) > 0 {
		locales := make([]string, 0, len(opts.withUILocales))
		for _, l := range opts.withUILocales {
			locales = append(locales, l.String())
		}
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("ui_locales", strings.Join(locales, " ")))
	}
	for k, v := range opts.withParams {
		if reservedAuthParams[k] {
			return "", fmt.Errorf("%s: %q cannot be set with an auth param: %w", op, k, ErrInvalidParameter)
		}
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam(k, v))
	}

	return c.oauth2Config(redirect, c.scopes(opts.withScopes...)).AuthCodeURL(opts.withState, authCodeOpts...), nil
}

// CallbackParams are the parameters of the provider's authentication
// response, as received by the redirect URL handler.
type CallbackParams struct {
	// Code is the authorization code.
	Code string

	// SessionState is Keycloak's session_state.
	SessionState string

	// State is the state returned by the provider.
	State string

	// Issuer is the optional RFC 9207 "iss" response parameter.
	Issuer string
}

// Exchange will request a token from the provider's token endpoint, using the
// authorization code it received in an earlier successful authentication
// response. The redirect URL must be the same one used by AuthURL.
//
// When WithState is provided, the params State must equal it. When the
// params carry an Issuer it must equal the client's issuer. The returned
// id_token is verified (signature, issuer, audience, expiry) and, when
// WithNonce is provided, its nonce is checked.
//
// Supported options: WithRedirectURL, WithState, WithNonce, WithPKCE,
// WithAudiences.
func (c *Client) Exchange(ctx context.Context, params CallbackParams, opt ...Option) (_ *Tk, retErr error) {
	const op = "Client.Exchange"
	if err := c.configured(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if params.Code == "" {
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	}
	opts := getExchangeOpts(opt...)
	if opts.withState != "" && params.State != opts.withState {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrTokenExchange, ErrResponseStateInvalid)
	}
	if params.Issuer != "" && params.Issuer != c.info.Issuer {
		return nil, fmt.Errorf("%s: response issuer %q: %w: %w", op, params.Issuer, ErrTokenExchange, ErrInvalidIssuer)
	}
	redirect, err := c.redirectURL(opts.withRedirectURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ctx, span := c.config.startSpan(ctx, spanExchange)
	defer func() { endSpan(span, retErr) }()

	var exchangeOpts []oauth2.AuthCodeOption
	if opts.withVerifier != "" {
		exchangeOpts = append(exchangeOpts, oauth2.VerifierOption(opts.withVerifier))
	}
	oauth2Token, err := c.oauth2Config(redirect, c.scopes()).Exchange(c.clientContext(ctx), params.Code, exchangeOpts...)
	if err != nil {
		c.logger.Warn("authorization code exchange failed", "error", err)
		return nil, fmt.Errorf("%s: unable to exchange auth code with provider: %w", op, wrapProviderErr(ErrTokenExchange, err))
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrTokenExchange, ErrMissingIDToken)
	}
	if err := c.verifyIDToken(ctx, IDToken(rawIDToken), oauth2Token.AccessToken, opts.withNonce, opts.withAudiences); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrTokenExchange, err)
	}
	t, err := NewToken(IDToken(rawIDToken), oauth2Token, WithNow(c.config.NowFunc))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrTokenExchange, err)
	}
	c.logger.Debug("exchanged authorization code", "session_state", params.SessionState)
	return t, nil
}

// Refresh exchanges the refresh token for a new token set. If the provider
// does not rotate refresh tokens, the returned token keeps the refresh token
// provided. An id_token in the response is verified.
//
// Supported options: WithAudiences, WithRefreshParam.
func (c *Client) Refresh(ctx context.Context, rt RefreshToken, opt ...Option) (_ *Tk, retErr error) {
	const op = "Client.Refresh"
	if err := c.configured(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if rt == "" {
		return nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}
	opts := getExchangeOpts(opt...)

	ctx, span := c.config.startSpan(ctx, spanRefresh)
	defer func() { endSpan(span, retErr) }()

	var oauth2Token *oauth2.Token
	var err error
	if len(opts.withRefreshParams) > 0 {
		oauth2Token, err = c.refreshWithParams(ctx, rt, opts.withRefreshParams)
	} else {
		ts := c.oauth2Config(c.config.RedirectURL, c.scopes()).TokenSource(c.clientContext(ctx), &oauth2.Token{RefreshToken: string(rt)})
		oauth2Token, err = ts.Token()
	}
	if err != nil {
		c.logger.Warn("token refresh failed", "error", err)
		return nil, fmt.Errorf("%s: unable to refresh token with provider: %w", op, wrapProviderErr(ErrRefresh, err))
	}

	var idToken IDToken
	if raw, ok := oauth2Token.Extra("id_token").(string); ok && raw != "" {
		if err := c.verifyIDToken(ctx, IDToken(raw), oauth2Token.AccessToken, "", opts.withAudiences); err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrRefresh, err)
		}
		idToken = IDToken(raw)
	}
	t, err := NewToken(idToken, oauth2Token, WithNow(c.config.NowFunc))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrRefresh, err)
	}
	c.logger.Debug("refreshed token")
	return t, nil
}

// reservedRefreshParams are set by Refresh itself.
var reservedRefreshParams = map[string]bool{
	"grant_type":    true,
	"refresh_token": true,
	"client_id":     true,
	"client_secret": true,
}

// refreshWithParams sends the refresh_token grant directly, since an
// oauth2.TokenSource cannot add form parameters to the request.
func (c *Client) refreshWithParams(ctx context.Context, rt RefreshToken, params map[string]string) (*oauth2.Token, error) {
	form := url.Values{}
	for k, v := range params {
		if reservedRefreshParams[k] {
			return nil, fmt.Errorf("%q cannot be set with a refresh param: %w", k, ErrInvalidParameter)
		}
		form.Set(k, v)
	}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", string(rt))

	body, err := c.postForm(ctx, c.client, c.info.TokenURL, form)
	if err != nil {
		return nil, err
	}
	var resp struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unable to decode token response: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, ErrMissingAccessToken
	}
	raw := map[string]interface{}{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("unable to decode token response: %w", err)
	}
	t := &oauth2.Token{
		AccessToken:  resp.AccessToken,
		TokenType:    resp.TokenType,
		RefreshToken: resp.RefreshToken,
	}
	if t.RefreshToken == "" {
		t.RefreshToken = string(rt)
	}
	if resp.ExpiresIn > 0 {
		t.Expiry = c.config.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return t.WithExtra(raw), nil
}

// VerifyIDToken will verify the inbound IDToken. It verifies it's been signed
// by the provider, validates the issuer, the client ID audience, the expiry
// and, when provided, the nonce (WithNonce) and additional audiences
// (WithAudiences).
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#IDTokenValidation
func (c *Client) VerifyIDToken(ctx context.Context, t IDToken, opt ...Option) error {
	const op = "Client.VerifyIDToken"
	if err := c.configured(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if t == "" {
		return fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	opts := getExchangeOpts(opt...)
	if err := c.verifyIDToken(ctx, t, "", opts.withNonce, opts.withAudiences); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Client) verifyIDToken(ctx context.Context, t IDToken, accessToken string, nonce string, audiences []string) error {
	algs := make([]string, 0, len(c.config.SupportedSigningAlgs))
	for _, a := range c.config.SupportedSigningAlgs {
		algs = append(algs, string(a))
	}
	verifier := c.provider.Verifier(&oidc.Config{
		ClientID:             c.config.ClientID,
		SupportedSigningAlgs: algs,
		Now:                  c.config.Now,
	})
	oidcIDToken, err := verifier.Verify(c.clientContext(ctx), string(t))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIDTokenVerificationFailed, err)
	}
	if nonce != "" && oidcIDToken.Nonce != nonce {
		return fmt.Errorf("%w: %w", ErrIDTokenVerificationFailed, ErrInvalidNonce)
	}
	if accessToken != "" && oidcIDToken.AccessTokenHash != "" {
		if err := oidcIDToken.VerifyAccessToken(accessToken); err != nil {
			return fmt.Errorf("%w: %w", ErrIDTokenVerificationFailed, err)
		}
	}
	if len(audiences) == 0 {
		audiences = c.config.Audiences
	}
	if len(audiences) > 0 {
		for _, v := range audiences {
			if strutils.StrListContains(oidcIDToken.Audience, v) {
				return nil
			}
		}
		return fmt.Errorf("%w: %w", ErrIDTokenVerificationFailed, ErrInvalidAudience)
	}
	return nil
}

// SignOutURL builds the provider's end session (RP-initiated logout) URL. No
// request is made to the provider. The idTokenHint is optional but Keycloak
// asks the user to confirm the logout without it. The post_logout_redirect_uri
// is the config's PostLogoutRedirectURL unless WithPostLogoutRedirectURL is
// used.
//
// Supported options: WithPostLogoutRedirectURL, WithState.
//
// See: https://openid.net/specs/openid-connect-rpinitiated-1_0.html
func (c *Client) SignOutURL(ctx context.Context, idTokenHint IDToken, opt ...Option) (string, error) {
	const op = "Client.SignOutURL"
	if err := c.configured(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if c.info.EndSessionURL == "" {
		return "", fmt.Errorf("%s: end_session_endpoint: %w", op, ErrUnsupportedEndpoint)
	}
	opts := getSignOutOpts(opt...)

	u, err := url.Parse(c.info.EndSessionURL)
	if err != nil {
		return "", fmt.Errorf("%s: invalid end_session_endpoint: %w", op, err)
	}
	q := u.Query()
	q.Set("client_id", c.config.ClientID)
	if idTokenHint != "" {
		q.Set("id_token_hint", string(idTokenHint))
	}
	postLogout := c.config.PostLogoutRedirectURL
	if opts.withPostLogoutRedirectURL != "" {
		if err := validateURL(opts.withPostLogoutRedirectURL); err != nil {
			return "", fmt.Errorf("%s: post logout redirect URL: %w", op, err)
		}
		postLogout = opts.withPostLogoutRedirectURL
	}
	if postLogout != "" {
		q.Set("post_logout_redirect_uri", postLogout)
	}
	if opts.withState != "" {
		q.Set("state", opts.withState)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// authURLOptions is the set of available options for AuthURL
type authURLOptions struct {
	withRedirectURL  string
	withState        string
	withNonce        string
	withVerifier     string
	withScopes       []string
	withMaxAge       *uint
	withPrompts      []Prompt
	withUILocales    []language.Tag
	withResponseType ResponseType
	withParams       map[string]string
}

func getAuthURLOpts(opt ...Option) authURLOptions {
	opts := authURLOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

// exchangeOptions is the set of available options for Exchange, Refresh and
// VerifyIDToken
type exchangeOptions struct {
	withRedirectURL string
	withState       string
	withNonce       string
	withVerifier    string
	withAudiences   []string

	withRefreshParams map[string]string
}

func getExchangeOpts(opt ...Option) exchangeOptions {
	opts := exchangeOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

// signOutOptions is the set of available options for SignOutURL
type signOutOptions struct {
	withPostLogoutRedirectURL string
	withState                 string
}

func getSignOutOpts(opt ...Option) signOutOptions {
	opts := signOutOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}
