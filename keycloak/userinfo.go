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

	sdkHttp "github.com/hashicorp/cap-keycloak/sdk/http"
	"golang.org/x/oauth2"
)

// UserInfoVia is where the access token is put in a user info request.
type UserInfoVia string

const (
	// ViaHeader sends the token in the Authorization header.
	ViaHeader UserInfoVia = "header"

	// ViaBody sends the token as the "access_token" form parameter. It
	// requires the POST method.
	ViaBody UserInfoVia = "body"
)

// UserInfo gets the UserInfo claims from the provider using the access
// token, and unmarshals them into the claims parameter. By default the
// request is a GET with a Bearer Authorization header. A DPoP bound token
// (WithDPoP) is sent with the DPoP scheme and a proof.
//
// Supported options: WithUserInfoMethod, WithUserInfoVia, WithTokenType,
// WithDPoP, WithSubject, WithUserInfoParam.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#UserInfo
func (c *Client) UserInfo(ctx context.Context, at AccessToken, claims interface{}, opt ...Option) (retErr error) {
	const op = "Client.UserInfo"
	if err := c.configured(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if at == "" {
		return fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	}
	if claims == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	if c.info.UserInfoURL == "" {
		return fmt.Errorf("%s: %w: userinfo_endpoint: %w", op, ErrUserInfo, ErrUnsupportedEndpoint)
	}
	opts := getUserInfoOpts(opt...)
	switch opts.withMethod {
	case http.MethodGet, http.MethodPost:
	default:
		return fmt.Errorf("%s: unsupported method %q: %w", op, opts.withMethod, ErrInvalidParameter)
	}
	switch opts.withVia {
	case ViaHeader:
	case ViaBody:
		if opts.withMethod != http.MethodPost {
			return fmt.Errorf("%s: the token can only be sent in the body with POST: %w", op, ErrInvalidParameter)
		}
		if opts.withDPoP != nil {
			return fmt.Errorf("%s: DPoP tokens must be sent in the header: %w", op, ErrInvalidParameter)
		}
	default:
		return fmt.Errorf("%s: unsupported token location %q: %w", op, opts.withVia, ErrInvalidParameter)
	}
	if _, ok := opts.withParams["access_token"]; ok {
		return fmt.Errorf("%s: access_token cannot be set with a user info param: %w", op, ErrInvalidParameter)
	}
	tokenType := opts.withTokenType
	if tokenType == "" {
		tokenType = "Bearer"
		if opts.withDPoP != nil {
			tokenType = DPoPTokenType
		}
	}

	client := c.client
	if opts.withDPoP != nil {
		client = sdkHttp.WrapTransport(c.client, func(base http.RoundTripper) http.RoundTripper {
			return &dpopTransport{base: base, key: opts.withDPoP, accessToken: at, now: c.config.Now}
		})
	}

	ctx, span := c.config.startSpan(ctx, spanUserInfo)
	defer func() { endSpan(span, retErr) }()

	var raw json.RawMessage
	if opts.withMethod == http.MethodGet && len(opts.withParams) == 0 {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: string(at), TokenType: tokenType})
		userinfo, err := c.provider.UserInfo(sdkHttp.ClientContext(ctx, client), ts)
		if err != nil {
			c.logger.Warn("user info request failed", "error", err)
			return fmt.Errorf("%s: provider UserInfo request failed: %w", op, wrapProviderErr(ErrUserInfo, err))
		}
		if err := userinfo.Claims(&raw); err != nil {
			return fmt.Errorf("%s: failed to get UserInfo claims: %w: %w", op, ErrUserInfo, err)
		}
	} else {
		params := url.Values{}
		for k, v := range opts.withParams {
			params.Set(k, v)
		}
		endpoint := c.info.UserInfoURL
		var reqBody io.Reader
		if opts.withMethod == http.MethodGet {
			u, err := url.Parse(endpoint)
			if err != nil {
				return fmt.Errorf("%s: invalid userinfo_endpoint: %w", op, err)
			}
			q := u.Query()
			for k, vs := range params {
				q[k] = vs
			}
			u.RawQuery = q.Encode()
			endpoint = u.String()
		} else {
			if opts.withVia == ViaBody {
				params.Set("access_token", string(at))
			}
			reqBody = strings.NewReader(params.Encode())
		}
		req, err := http.NewRequestWithContext(ctx, opts.withMethod, endpoint, reqBody)
		if err != nil {
			return fmt.Errorf("%s: unable to create request: %w", op, err)
		}
		if opts.withMethod == http.MethodPost {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
		req.Header.Set("Accept", "application/json")
		if opts.withVia == ViaHeader {
			req.Header.Set("Authorization", tokenType+" "+string(at))
		}
		body, err := doRequest(client, req)
		if err != nil {
			c.logger.Warn("user info request failed", "error", err)
			return fmt.Errorf("%s: provider UserInfo request failed: %w", op, wrapProviderErr(ErrUserInfo, err))
		}
		raw = body
	}

	var sub struct {
		Subject string `json:"sub"`
	}
	if err := json.Unmarshal(raw, &sub); err != nil {
		return fmt.Errorf("%s: unable to decode UserInfo response: %w: %w", op, ErrUserInfo, err)
	}
	// sub must match the id_token's sub when the caller knows it.
	// See: https://openid.net/specs/openid-connect-core-1_0.html#UserInfoResponse
	if opts.withSubject != "" && sub.Subject != opts.withSubject {
		return fmt.Errorf("%s: %w: %w", op, ErrUserInfo, ErrInvalidSubject)
	}
	if err := json.Unmarshal(raw, claims); err != nil {
		return fmt.Errorf("%s: failed to unmarshal UserInfo claims: %w: %w", op, ErrUserInfo, err)
	}
	return nil
}

// userInfoOptions is the set of available options for UserInfo
type userInfoOptions struct {
	withMethod    string
	withVia       UserInfoVia
	withTokenType string
	withDPoP      *DPoPKey
	withSubject   string
	withParams    map[string]string
}

func userInfoDefaults() userInfoOptions {
	return userInfoOptions{
		withMethod: http.MethodGet,
		withVia:    ViaHeader,
	}
}

func getUserInfoOpts(opt ...Option) userInfoOptions {
	opts := userInfoDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithUserInfoMethod sets the http method of a user info request (GET or
// POST), for: UserInfo.
func WithUserInfoMethod(method string) Option {
	return func(o interface{}) {
		if v, ok := o.(*userInfoOptions); ok {
			v.withMethod = strings.ToUpper(method)
		}
	}
}

// WithUserInfoVia sets where the access token is sent, for: UserInfo.
func WithUserInfoVia(via UserInfoVia) Option {
	return func(o interface{}) {
		if v, ok := o.(*userInfoOptions); ok {
			v.withVia = via
		}
	}
}

// WithTokenType overrides the Authorization scheme, for: UserInfo.
func WithTokenType(tokenType string) Option {
	return func(o interface{}) {
		if v, ok := o.(*userInfoOptions); ok {
			v.withTokenType = tokenType
		}
	}
}

// WithDPoP provides the key a DPoP bound access token is bound to, for:
// UserInfo.
func WithDPoP(k *DPoPKey) Option {
	return func(o interface{}) {
		if v, ok := o.(*userInfoOptions); ok {
			v.withDPoP = k
		}
	}
}

// WithUserInfoParam adds a request parameter, for: UserInfo. It is sent in
// the query of a GET and in the form of a POST.
func WithUserInfoParam(key, value string) Option {
	return func(o interface{}) {
		if v, ok := o.(*userInfoOptions); ok {
			if v.withParams == nil {
				v.withParams = map[string]string{}
			}
			v.withParams[key] = value
		}
	}
}

// WithSubject provides the expected "sub" (usually the id_token's), for:
// UserInfo.
func WithSubject(sub string) Option {
	return func(o interface{}) {
		if v, ok := o.(*userInfoOptions); ok {
			v.withSubject = sub
		}
	}
}
