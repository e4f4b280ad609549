// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package keycloak

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/cap-keycloak/keycloak/internal/strutils"
	"github.com/lestrrat-go/jwx/v3/jwa"
	jwxjws "github.com/lestrrat-go/jwx/v3/jws"
	jwxjwt "github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/stretchr/testify/require"
)

const (
	// TestRealm is the realm served by a TestProvider.
	TestRealm = "test"

	// TestClientID and TestClientSecret are the default client credentials
	// accepted by a TestProvider.
	TestClientID     = "test-client"
	TestClientSecret = "test-secret"

	// TestRedirectURL is the default redirect URL allowed by a TestProvider.
	TestRedirectURL = "https://app.example.com/callback"

	testAuthCodeTTL   = time.Minute
	testDPoPMaxAge    = time.Minute
	testDefaultSub    = "f2b2a1ab-8a37-4d5e-9d5e-1fb29e5e4c30"
	testSigningKeyID  = "test-key"
	testOIDCPathStart = "/protocol/openid-connect"
)

// TestProvider is a local server that mimics a Keycloak realm's OIDC
// endpoints, which makes writing tests much easier. It supports discovery,
// the authorization code flow (with PKCE), the refresh_token grant, JWKS,
// user info (including DPoP bound tokens), token introspection, token
// revocation and RP-initiated logout. Tokens are signed with ES256.
//
// Issued codes are single use and expire, refresh tokens stay valid until
// revoked.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	jwks            *jose.JSONWebKeySet
	signingKey      *ecdsa.PrivateKey
	ecdsaPublicKey  string
	ecdsaPrivateKey string

	mu                   sync.Mutex
	clientID             string
	clientSecret         string
	allowedRedirectURIs  []string
	subject              string
	replyUserinfo        map[string]interface{}
	customClaims         map[string]interface{}
	customAudience       []string
	omitIDToken          bool
	omitRefreshIDToken   bool
	rotateRefreshTokens  bool
	tokenTTL             time.Duration
	disableUserInfo      bool
	disableIntrospection bool
	disableRevocation    bool
	disableEndSession    bool
	lastDPoPThumbprint   string
	lastTokenRequest     url.Values
	lastUserInfoRequest  url.Values
	logouts              int

	codes         map[string]*testAuthCode
	accessTokens  map[string]*testGrant
	refreshTokens map[string]*testGrant
}

type testAuthCode struct {
	nonce         string
	redirectURI   string
	codeChallenge string
	scope         string
	sessionID     string
	expiresAt     time.Time
}

type testGrant struct {
	sessionID string
	scope     string
	expiresAt time.Time
	issuedAt  time.Time
	jti       string
}

// StartTestProvider creates and starts a disposable TestProvider. It is
// stopped when the test completes.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		clientID:            TestClientID,
		clientSecret:        TestClientSecret,
		allowedRedirectURIs: []string{TestRedirectURL},
		subject:             testDefaultSub,
		replyUserinfo: map[string]interface{}{
			"preferred_username": "alice",
			"email":              "alice@example.com",
			"email_verified":     true,
			"name":               "Alice Doe",
		},
		tokenTTL:      5 * time.Minute,
		codes:         map[string]*testAuthCode{},
		accessTokens:  map[string]*testGrant{},
		refreshTokens: map[string]*testGrant{},
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	var err error
	p.signingKey, err = parseECPrivateKey(p.ecdsaPrivateKey)
	require.NoError(err)
	p.jwks = &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       p.signingKey.Public(),
				KeyID:     testSigningKeyID,
				Algorithm: string(jose.ES256),
				Use:       "sig",
			},
		},
	}

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err = pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the base URL of the test provider's running webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// Issuer returns the issuer URL of the test realm.
func (p *TestProvider) Issuer() string { return KeycloakIssuer(p.Addr(), TestRealm) }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// SigningKeys returns the test provider's pem-encoded keys used to sign JWTs.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

// HTTPClient returns a client that trusts the provider's certificate and
// does not follow redirects.
func (p *TestProvider) HTTPClient() *http.Client {
	c := *p.httpServer.Client()
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &c
}

// NewTestConfig returns a Config for the provider's realm and client, which
// trusts the provider's CA and its ES256 signatures. Options are applied
// after the defaults.
func (p *TestProvider) NewTestConfig(t *testing.T, opt ...Option) *Config {
	t.Helper()
	p.mu.Lock()
	clientID, clientSecret := p.clientID, p.clientSecret
	p.mu.Unlock()
	opts := append([]Option{WithProviderCA(p.CACert()), WithSupportedSigningAlgs(ES256)}, opt...)
	c, err := NewConfig(p.Issuer(), clientID, ClientSecret(clientSecret), TestRedirectURL, opts...)
	require.NoError(t, err)
	return c
}

// SetClientCreds is for configuring the client information required for the
// OIDC workflows. An empty secret makes the client public.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetAllowedRedirectURIs allows you to configure the allowed redirect URIs
// for the OIDC workflow. If not configured TestRedirectURL is used.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetSubject configures the "sub" of the tokens and user info replies.
func (p *TestProvider) SetSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subject = sub
}

// SetUserInfoReply sets the claims returned from the user info endpoint
// (in addition to "sub").
func (p *TestProvider) SetUserInfoReply(resp map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyUserinfo = resp
}

// SetCustomClaims lets you set claims to return in the id_tokens and access
// tokens issued by the provider.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetCustomAudience configures the audience of issued id_tokens. It defaults
// to the client ID.
func (p *TestProvider) SetCustomAudience(customAudience ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = customAudience
}

// SetTokenTTL sets the lifetime of issued tokens.
func (p *TestProvider) SetTokenTTL(ttl time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenTTL = ttl
}

// SetRotateRefreshTokens makes the refresh_token grant issue a new refresh
// token (and invalidate the old one).
func (p *TestProvider) SetRotateRefreshTokens(rotate bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotateRefreshTokens = rotate
}

// OmitIDTokens forces an error state where the token endpoint does not
// return an id_token for the authorization_code grant.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// OmitRefreshIDTokens makes the refresh_token grant reply without an
// id_token.
func (p *TestProvider) OmitRefreshIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitRefreshIDToken = true
}

// DisableUserInfo makes the userinfo endpoint return 404 and omits it from
// the discovery document.
func (p *TestProvider) DisableUserInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = true
}

// DisableIntrospection omits the introspection endpoint from discovery.
func (p *TestProvider) DisableIntrospection() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableIntrospection = true
}

// DisableRevocation omits the revocation endpoint from discovery.
func (p *TestProvider) DisableRevocation() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableRevocation = true
}

// DisableEndSession omits the end session endpoint from discovery.
func (p *TestProvider) DisableEndSession() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableEndSession = true
}

// ExpireAuthCodes expires every outstanding authorization code.
func (p *TestProvider) ExpireAuthCodes() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.codes {
		c.expiresAt = time.Now().Add(-time.Second)
	}
}

// LastDPoPThumbprint returns the JWK thumbprint of the last valid DPoP proof
// the user info endpoint accepted.
func (p *TestProvider) LastDPoPThumbprint() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastDPoPThumbprint
}

// LastTokenRequest returns the form of the last request to the token
// endpoint.
func (p *TestProvider) LastTokenRequest() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTokenRequest
}

// LastUserInfoRequest returns the query and form parameters of the last
// request to the user info endpoint.
func (p *TestProvider) LastUserInfoRequest() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUserInfoRequest
}

// Logouts returns the number of requests made to the end session endpoint.
func (p *TestProvider) Logouts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logouts
}

// Authorize sends the user agent's request to authURL and returns the
// parameters of the redirect back to the client. An error response from the
// provider is returned as an error.
func (p *TestProvider) Authorize(authURL string) (CallbackParams, error) {
	const op = "TestProvider.Authorize"
	resp, err := p.HTTPClient().Get(authURL)
	if err != nil {
		return CallbackParams{}, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		return CallbackParams{}, fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
	}
	loc, err := resp.Location()
	if err != nil {
		return CallbackParams{}, fmt.Errorf("%s: %w", op, err)
	}
	q := loc.Query()
	if e := q.Get("error"); e != "" {
		return CallbackParams{}, fmt.Errorf("%s: %s: %s", op, e, q.Get("error_description"))
	}
	return CallbackParams{
		Code:         q.Get("code"),
		SessionState: q.Get("session_state"),
		State:        q.Get("state"),
		Issuer:       q.Get("iss"),
	}, nil
}

func (p *TestProvider) endpoint(name string) string {
	return p.Issuer() + testOIDCPathStart + name
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)

	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}

	w.WriteHeader(statusCode)
	_ = p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	realmPath := "/realms/" + TestRealm
	if !strings.HasPrefix(req.URL.Path, realmPath+"/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch strings.TrimPrefix(req.URL.Path, realmPath) {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		reply := DiscoveryInfo{
			Issuer:                        p.Issuer(),
			AuthURL:                       p.endpoint("/auth"),
			TokenURL:                      p.endpoint("/token"),
			JWKSURL:                       p.endpoint("/certs"),
			UserInfoURL:                   p.endpoint("/userinfo"),
			IntrospectionURL:              p.endpoint("/token/introspect"),
			RevocationURL:                 p.endpoint("/revoke"),
			EndSessionURL:                 p.endpoint("/logout"),
			ResponseTypesSupported:        []string{"code", "id_token", "code id_token", "none"},
			IDTokenSigningAlgsSupported:   []string{string(ES256)},
			CodeChallengeMethodsSupported: []string{"S256"},
			DPoPSigningAlgsSupported:      []string{"ES256", "ES384", "ES512", "RS256", "EdDSA"},
			IssParameterSupported:         true,
		}
		if p.disableUserInfo {
			reply.UserInfoURL = ""
		}
		if p.disableIntrospection {
			reply.IntrospectionURL = ""
		}
		if p.disableRevocation {
			reply.RevocationURL = ""
		}
		if p.disableEndSession {
			reply.EndSessionURL = ""
		}
		_ = p.writeJSON(w, &reply)

	case testOIDCPathStart + "/auth":
		p.handleAuth(w, req)

	case testOIDCPathStart + "/certs":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, p.jwks)

	case testOIDCPathStart + "/token":
		p.handleToken(w, req)

	case testOIDCPathStart + "/userinfo":
		p.handleUserInfo(w, req)

	case testOIDCPathStart + "/token/introspect":
		p.handleIntrospect(w, req)

	case testOIDCPathStart + "/revoke":
		p.handleRevoke(w, req)

	case testOIDCPathStart + "/logout":
		p.logouts++
		qv := req.URL.Query()
		if r := qv.Get("post_logout_redirect_uri"); r != "" {
			if s := qv.Get("state"); s != "" {
				r += "?state=" + url.QueryEscape(s)
			}
			http.Redirect(w, req, r, http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) handleAuth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri")
	if !strutils.StrListContains(p.allowedRedirectURIs, redirectURI) {
		// never redirect to an unknown uri
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid redirect_uri")
		return
	}
	if qv.Get("client_id") != p.clientID {
		p.writeAuthErrorResponse(w, req, "unauthorized_client", "")
		return
	}
	if qv.Get("response_type") != "code" {
		p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
		return
	}
	scope := qv.Get("scope")
	if !strutils.StrListContains(strings.Fields(scope), "openid") {
		p.writeAuthErrorResponse(w, req, "invalid_scope", "")
		return
	}
	challenge := qv.Get("code_challenge")
	if challenge != "" && qv.Get("code_challenge_method") != "S256" {
		p.writeAuthErrorResponse(w, req, "invalid_request", "unsupported code_challenge_method")
		return
	}

	code, err := NewID("code")
	if err != nil {
		p.writeAuthErrorResponse(w, req, "server_error", err.Error())
		return
	}
	sessionID, err := NewID("sid")
	if err != nil {
		p.writeAuthErrorResponse(w, req, "server_error", err.Error())
		return
	}
	p.codes[code] = &testAuthCode{
		nonce:         qv.Get("nonce"),
		redirectURI:   redirectURI,
		codeChallenge: challenge,
		scope:         scope,
		sessionID:     sessionID,
		expiresAt:     time.Now().Add(testAuthCodeTTL),
	}

	u, err := url.Parse(redirectURI)
	if err != nil {
		p.writeAuthErrorResponse(w, req, "invalid_request", err.Error())
		return
	}
	rq := u.Query()
	if state := qv.Get("state"); state != "" {
		rq.Set("state", state)
	}
	rq.Set("code", code)
	rq.Set("session_state", sessionID)
	rq.Set("iss", p.Issuer())
	u.RawQuery = rq.Encode()

	http.Redirect(w, req, u.String(), http.StatusFound)
}

// authenticateClient checks the client credentials of a back channel
// request: HTTP basic auth (form-urlencoded per RFC 6749 2.3.1) or form
// parameters.
func (p *TestProvider) authenticateClient(req *http.Request) bool {
	id, secret, ok := req.BasicAuth()
	if ok {
		var err error
		if id, err = url.QueryUnescape(id); err != nil {
			return false
		}
		if secret, err = url.QueryUnescape(secret); err != nil {
			return false
		}
	} else {
		id = req.PostFormValue("client_id")
		secret = req.PostFormValue("client_secret")
	}
	return id == p.clientID && secret == p.clientSecret
}

func (p *TestProvider) handleToken(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := req.ParseForm(); err != nil {
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if !p.authenticateClient(req) {
		p.writeTokenErrorResponse(w, http.StatusUnauthorized, "unauthorized_client", "invalid client credentials")
		return
	}
	p.lastTokenRequest = req.PostForm

	switch req.PostFormValue("grant_type") {
	case "authorization_code":
		code := req.PostFormValue("code")
		authCode, ok := p.codes[code]
		if !ok {
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "Code not valid")
			return
		}
		// codes are single use, even when the exchange fails
		delete(p.codes, code)
		switch {
		case time.Now().After(authCode.expiresAt):
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "Code not valid")
			return
		case req.PostFormValue("redirect_uri") != authCode.redirectURI:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "Incorrect redirect_uri")
			return
		case authCode.codeChallenge != "" && testS256(req.PostFormValue("code_verifier")) != authCode.codeChallenge:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
			return
		case authCode.codeChallenge == "" && req.PostFormValue("code_verifier") != "":
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
			return
		}
		p.issueTokens(w, authCode.sessionID, authCode.scope, authCode.nonce, "", !p.omitIDToken)

	case "refresh_token":
		rt := req.PostFormValue("refresh_token")
		grant, ok := p.refreshTokens[rt]
		if !ok {
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "Invalid refresh token")
			return
		}
		keep := rt
		if p.rotateRefreshTokens {
			delete(p.refreshTokens, rt)
			keep = ""
		}
		p.issueTokens(w, grant.sessionID, grant.scope, "", keep, !p.omitRefreshIDToken)

	default:
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "")
	}
}

// issueTokens writes a token response. When keepRefreshToken is set the
// response omits refresh_token, so the client keeps the one it has.
func (p *TestProvider) issueTokens(w http.ResponseWriter, sessionID, scope, nonce, keepRefreshToken string, withIDToken bool) {
	now := time.Now()
	expiry := now.Add(p.tokenTTL)
	jti, err := NewID("at")
	if err != nil {
		p.writeTokenErrorResponse(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	privateClaims := map[string]interface{}{
		"azp":   p.clientID,
		"scope": scope,
		"sid":   sessionID,
		"typ":   "Bearer",
	}
	for k, v := range p.customClaims {
		privateClaims[k] = v
	}
	accessToken, err := signJWT(p.signingKey, testSigningKeyID, jwt.Claims{
		ID:        jti,
		Subject:   p.subject,
		Issuer:    p.Issuer(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		Expiry:    jwt.NewNumericDate(expiry),
		Audience:  jwt.Audience{"account"},
	}, privateClaims)
	if err != nil {
		p.writeTokenErrorResponse(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	grant := &testGrant{sessionID: sessionID, scope: scope, expiresAt: expiry, issuedAt: now, jti: jti}
	p.accessTokens[accessToken] = grant

	reply := struct {
		AccessToken      string `json:"access_token"`
		TokenType        string `json:"token_type"`
		ExpiresIn        int    `json:"expires_in"`
		RefreshToken     string `json:"refresh_token,omitempty"`
		RefreshExpiresIn int    `json:"refresh_expires_in,omitempty"`
		IDToken          string `json:"id_token,omitempty"`
		SessionState     string `json:"session_state"`
		Scope            string `json:"scope"`
	}{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(p.tokenTTL.Seconds()),
		SessionState: sessionID,
		Scope:        scope,
	}

	if keepRefreshToken == "" {
		rt, err := NewID("rt")
		if err != nil {
			p.writeTokenErrorResponse(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		p.refreshTokens[rt] = &testGrant{sessionID: sessionID, scope: scope, issuedAt: now, jti: rt}
		reply.RefreshToken = rt
		reply.RefreshExpiresIn = 1800
	}

	if withIDToken {
		aud := jwt.Audience{p.clientID}
		if len(p.customAudience) > 0 {
			aud = jwt.Audience(p.customAudience)
		}
		sum := sha256.Sum256([]byte(accessToken))
		idClaims := map[string]interface{}{
			"azp":     p.clientID,
			"sid":     sessionID,
			"typ":     "ID",
			"at_hash": base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2]),
		}
		if nonce != "" {
			idClaims["nonce"] = nonce
		}
		for k, v := range p.customClaims {
			idClaims[k] = v
		}
		reply.IDToken, err = signJWT(p.signingKey, testSigningKeyID, jwt.Claims{
			Subject:   p.subject,
			Issuer:    p.Issuer(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
			Expiry:    jwt.NewNumericDate(expiry),
			Audience:  aud,
		}, idClaims)
		if err != nil {
			p.writeTokenErrorResponse(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
	}
	_ = p.writeJSON(w, &reply)
}

func (p *TestProvider) handleUserInfo(w http.ResponseWriter, req *http.Request) {
	if p.disableUserInfo {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if req.Method != http.MethodGet && req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := req.ParseForm(); err != nil {
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	p.lastUserInfoRequest = req.Form

	var scheme, token string
	if authz := req.Header.Get("Authorization"); authz != "" {
		var ok bool
		scheme, token, ok = strings.Cut(authz, " ")
		if !ok {
			p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_request", "malformed Authorization header")
			return
		}
	} else if req.Method == http.MethodPost {
		token = req.PostFormValue("access_token")
		scheme = "Bearer"
	}
	grant, ok := p.accessTokens[token]
	if !ok || time.Now().After(grant.expiresAt) {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_token", "Token verification failed")
		return
	}

	switch {
	case strings.EqualFold(scheme, DPoPTokenType):
		thumbprint, err := verifyTestDPoPProof(req.Header.Get(DPoPHeaderName), req.Method, p.endpoint("/userinfo"), token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `DPoP error="invalid_dpop_proof"`)
			p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_dpop_proof", err.Error())
			return
		}
		p.lastDPoPThumbprint = thumbprint
	case strings.EqualFold(scheme, "Bearer"):
	default:
		p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_request", "unsupported authorization scheme")
		return
	}

	reply := map[string]interface{}{}
	for k, v := range p.replyUserinfo {
		reply[k] = v
	}
	reply["sub"] = p.subject
	_ = p.writeJSON(w, reply)
}

func (p *TestProvider) handleIntrospect(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	// Keycloak only lets confidential clients introspect
	if p.clientSecret == "" || !p.authenticateClient(req) {
		p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "Authentication failed")
		return
	}
	token := req.PostFormValue("token")
	if token == "" {
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "token is missing")
		return
	}

	reply := map[string]interface{}{"active": false}
	now := time.Now()
	if grant, ok := p.accessTokens[token]; ok && now.Before(grant.expiresAt) {
		reply = p.introspectionReply(grant, "Bearer")
	} else if grant, ok := p.refreshTokens[token]; ok {
		reply = p.introspectionReply(grant, "Refresh")
	}
	_ = p.writeJSON(w, reply)
}

func (p *TestProvider) introspectionReply(grant *testGrant, tokenType string) map[string]interface{} {
	reply := map[string]interface{}{
		"active":     true,
		"scope":      grant.scope,
		"client_id":  p.clientID,
		"username":   p.replyUserinfo["preferred_username"],
		"token_type": tokenType,
		"iat":        grant.issuedAt.Unix(),
		"sub":        p.subject,
		"aud":        "account",
		"iss":        p.Issuer(),
		"jti":        grant.jti,
		"sid":        grant.sessionID,
		"realm_access": map[string]interface{}{
			"roles": []string{"offline_access", "default-roles-" + TestRealm},
		},
	}
	if !grant.expiresAt.IsZero() {
		reply["exp"] = grant.expiresAt.Unix()
	}
	return reply
}

func (p *TestProvider) handleRevoke(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !p.authenticateClient(req) {
		p.writeTokenErrorResponse(w, http.StatusUnauthorized, "unauthorized_client", "invalid client credentials")
		return
	}
	token := req.PostFormValue("token")
	if token == "" {
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "token is missing")
		return
	}
	if grant, ok := p.refreshTokens[token]; ok {
		// revoking a refresh token ends its session
		for k, g := range p.refreshTokens {
			if g.sessionID == grant.sessionID {
				delete(p.refreshTokens, k)
			}
		}
		for k, g := range p.accessTokens {
			if g.sessionID == grant.sessionID {
				delete(p.accessTokens, k)
			}
		}
	}
	delete(p.accessTokens, token)
	// RFC 7009: unknown tokens are not an error
	w.WriteHeader(http.StatusOK)
}

func testS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// verifyTestDPoPProof verifies an ES256 DPoP proof for a request and returns
// the JWK thumbprint of its key.
func verifyTestDPoPProof(proof, method, htu, accessToken string) (string, error) {
	if proof == "" {
		return "", errors.New("missing DPoP proof")
	}
	msg, err := jwxjws.Parse([]byte(proof))
	if err != nil {
		return "", fmt.Errorf("unable to parse proof: %w", err)
	}
	if len(msg.Signatures()) == 0 {
		return "", errors.New("no signatures found")
	}
	headers := msg.Signatures()[0].ProtectedHeaders()
	if headers == nil {
		return "", errors.New("no protected headers found")
	}
	if typ, ok := headers.Type(); !ok || typ != DPoPJwtType {
		return "", fmt.Errorf("invalid token type: %s", typ)
	}
	key, ok := headers.JWK()
	if !ok {
		return "", errors.New("no JWK found in protected headers")
	}
	verified, err := jwxjwt.Parse([]byte(proof), jwxjwt.WithKey(jwa.ES256(), key))
	if err != nil {
		return "", fmt.Errorf("unable to verify proof: %w", err)
	}

	var gotHTM, gotHTU, gotATH string
	if err := verified.Get("htm", &gotHTM); err != nil {
		return "", err
	}
	if err := verified.Get("htu", &gotHTU); err != nil {
		return "", err
	}
	if err := verified.Get("ath", &gotATH); err != nil {
		return "", err
	}
	if _, ok := verified.JwtID(); !ok {
		return "", errors.New("claim jti is required")
	}
	iat, ok := verified.IssuedAt()
	if !ok || time.Since(iat) > testDPoPMaxAge || time.Until(iat) > testDPoPMaxAge {
		return "", errors.New("claim iat is missing or out of range")
	}
	switch {
	case gotHTM != method:
		return "", fmt.Errorf("htm %q does not match %q", gotHTM, method)
	case gotHTU != htu:
		return "", fmt.Errorf("htu %q does not match %q", gotHTU, htu)
	case gotATH != AccessTokenHash(AccessToken(accessToken)):
		return "", errors.New("ath does not match the access token")
	}

	thumbprint, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(thumbprint), nil
}
