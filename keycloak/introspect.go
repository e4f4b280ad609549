// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package keycloak

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// maxResponseSize bounds the body read from responses to requests the
// Client sends directly (introspection, revocation, user info, refresh).
const maxResponseSize = 64 * 1024

// TokenTypeHint is the optional RFC 7662/7009 token_type_hint.
type TokenTypeHint string

const (
	AccessTokenHint  TokenTypeHint = "access_token"
	RefreshTokenHint TokenTypeHint = "refresh_token"
)

// Audience is an "aud" claim, which providers send as either a string or a
// list of strings.
type Audience []string

// UnmarshalJSON accepts both the string and the list forms.
func (a *Audience) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*a = Audience{s}
		return nil
	}
	var l []string
	if err := json.Unmarshal(b, &l); err != nil {
		return err
	}
	*a = l
	return nil
}

// Introspection is an RFC 7662 token introspection response.
//
// See: https://www.rfc-editor.org/rfc/rfc7662#section-2.2
type Introspection struct {
	Active    bool     `json:"active"`
	Scope     string   `json:"scope,omitempty"`
	ClientID  string   `json:"client_id,omitempty"`
	Username  string   `json:"username,omitempty"`
	TokenType string   `json:"token_type,omitempty"`
	Expiry    int64    `json:"exp,omitempty"`
	IssuedAt  int64    `json:"iat,omitempty"`
	NotBefore int64    `json:"nbf,omitempty"`
	Subject   string   `json:"sub,omitempty"`
	Audience  Audience `json:"aud,omitempty"`
	Issuer    string   `json:"iss,omitempty"`
	JWTID     string   `json:"jti,omitempty"`

	raw json.RawMessage
}

// Claims unmarshals the full introspection response (including provider
// specific members like Keycloak's "realm_access") into claims.
func (i *Introspection) Claims(claims interface{}) error {
	const op = "Introspection.Claims"
	if claims == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	if len(i.raw) == 0 {
		return fmt.Errorf("%s: no introspection response: %w", op, ErrInvalidParameter)
	}
	return json.Unmarshal(i.raw, claims)
}

// ResponseError is returned when a provider endpoint answers a request made
// directly by the Client (introspection, revocation, user info via POST) with
// a non-2xx status.
type ResponseError struct {
	StatusCode       int    `json:"-"`
	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Body             []byte `json:"-"`
}

func (e *ResponseError) Error() string {
	if e.ErrorCode != "" {
		s := fmt.Sprintf("provider responded %d: %s", e.StatusCode, e.ErrorCode)
		if e.ErrorDescription != "" {
			s += ": " + e.ErrorDescription
		}
		return s
	}
	return fmt.Sprintf("provider responded %d: %s", e.StatusCode, e.Body)
}

// Introspect asks the provider's introspection endpoint about token. Keycloak
// requires a confidential client for introspection. An inactive token is not
// an error: the returned Introspection has Active set to false.
//
// Supported options: WithTokenTypeHint.
func (c *Client) Introspect(ctx context.Context, token string, opt ...Option) (_ *Introspection, retErr error) {
	const op = "Client.Introspect"
	if err := c.configured(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if token == "" {
		return nil, fmt.Errorf("%s: token is empty: %w", op, ErrInvalidParameter)
	}
	if c.info.IntrospectionURL == "" {
		return nil, fmt.Errorf("%s: %w: introspection_endpoint: %w", op, ErrIntrospection, ErrUnsupportedEndpoint)
	}
	opts := getIntrospectOpts(opt...)

	ctx, span := c.config.startSpan(ctx, spanIntrospect)
	defer func() { endSpan(span, retErr) }()

	form := url.Values{"token": {token}}
	if opts.withTokenTypeHint != "" {
		form.Set("token_type_hint", string(opts.withTokenTypeHint))
	}
	body, err := c.postForm(ctx, c.client, c.info.IntrospectionURL, form)
	if err != nil {
		c.logger.Warn("token introspection failed", "error", err)
		return nil, fmt.Errorf("%s: %w", op, wrapProviderErr(ErrIntrospection, err))
	}
	var resp Introspection
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%s: unable to decode response: %w: %w", op, ErrIntrospection, err)
	}
	resp.raw = body
	return &resp, nil
}

// Revoke asks the provider's revocation endpoint to revoke token (RFC 7009).
// Revoking a refresh token ends the Keycloak session it belongs to.
//
// Supported options: WithTokenTypeHint.
func (c *Client) Revoke(ctx context.Context, token string, opt ...Option) (retErr error) {
	const op = "Client.Revoke"
	if err := c.configured(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if token == "" {
		return fmt.Errorf("%s: token is empty: %w", op, ErrInvalidParameter)
	}
	if c.info.RevocationURL == "" {
		return fmt.Errorf("%s: %w: revocation_endpoint: %w", op, ErrRevocation, ErrUnsupportedEndpoint)
	}
	opts := getIntrospectOpts(opt...)

	ctx, span := c.config.startSpan(ctx, spanRevoke)
	defer func() { endSpan(span, retErr) }()

	form := url.Values{"token": {token}}
	if opts.withTokenTypeHint != "" {
		form.Set("token_type_hint", string(opts.withTokenTypeHint))
	}
	if _, err := c.postForm(ctx, c.client, c.info.RevocationURL, form); err != nil {
		c.logger.Warn("token revocation failed", "error", err)
		return fmt.Errorf("%s: %w", op, wrapProviderErr(ErrRevocation, err))
	}
	return nil
}

// postForm sends an authenticated form POST to endpoint and returns the
// response body of a 2xx response. Confidential clients use HTTP basic auth
// (RFC 6749 2.3.1 encoding), public clients send client_id in the form.
func (c *Client) postForm(ctx context.Context, client *http.Client, endpoint string, form url.Values) ([]byte, error) {
	if c.config.ClientSecret == "" {
		form.Set("client_id", c.config.ClientID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("unable to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.config.ClientSecret != "" {
		req.SetBasicAuth(url.QueryEscape(c.config.ClientID), url.QueryEscape(string(c.config.ClientSecret)))
	}
	return doRequest(client, req)
}

func doRequest(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("unable to read response: %w", err)
	}
	if len(body) > maxResponseSize {
		return nil, fmt.Errorf("response is larger than %d bytes: %w", maxResponseSize, ErrResponseTooLarge)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respErr := &ResponseError{StatusCode: resp.StatusCode, Body: body}
		_ = json.Unmarshal(body, respErr)
		return nil, respErr
	}
	return body, nil
}

// introspectOptions is the set of available options for Introspect and
// Revoke
type introspectOptions struct {
	withTokenTypeHint TokenTypeHint
}

func getIntrospectOpts(opt ...Option) introspectOptions {
	opts := introspectOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}
